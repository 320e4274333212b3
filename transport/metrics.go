package transport

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK            = "ok"
	resultError         = "error"
	resultUnknownAction = "unknown_action"
	resultRejected      = "rejected_execution"
	resultPanic         = "panic"
)

// Metrics holds the framework-level request accounting.
type Metrics struct {
	requests *prometheus.CounterVec
}

// NewMetrics registers the transport collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transport",
			Name:      "requests_total",
			Help:      "Inbound transport requests by action and result.",
		}, []string{"action", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests)
	}
	return m
}

// Requests exposes the counter, mostly for tests.
func (m *Metrics) Requests() *prometheus.CounterVec {
	return m.requests
}

func (m *Metrics) observe(action string, err error) {
	m.requests.WithLabelValues(action, resultLabel(err)).Inc()
}

// codedError is implemented by errors carrying a machine-readable code.
type codedError interface {
	ErrorCode() string
}

func resultLabel(err error) string {
	if err == nil {
		return resultOK
	}
	var coded codedError
	switch {
	case errors.As(err, &coded):
		return coded.ErrorCode()
	case errors.Is(err, ErrUnknownAction):
		return resultUnknownAction
	case errors.Is(err, ErrRejectedExecution):
		return resultRejected
	case errors.Is(err, ErrHandlerPanic):
		return resultPanic
	default:
		return resultError
	}
}
