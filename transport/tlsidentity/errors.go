package tlsidentity

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Code is the machine-readable reason an inbound request was rejected.
type Code string

const (
	// CodeNoTLSSession means the channel carries no TLS session and is not exempt.
	CodeNoTLSSession Code = "NO_TLS_SESSION"
	// CodeNoClientCertificate means the session exists but no usable X.509 client certificate was presented.
	// A chain with an X.509 leaf is still rejected when any later element is not X.509.
	CodeNoClientCertificate Code = "NO_CLIENT_CERTIFICATE"
	// CodePeerUnverified means the session layer could not establish the peer identity.
	CodePeerUnverified Code = "PEER_UNVERIFIED"
)

var messages = map[Code]string{
	CodeNoTLSSession:        "no TLS session found on channel",
	CodeNoClientCertificate: "no X.509 client certificate found on TLS session",
	CodePeerUnverified:      "cannot verify TLS peer",
}

// Sentinels for errors.Is; matching compares codes only.
var (
	ErrNoTLSSession        = &AuthenticationError{Code: CodeNoTLSSession, Message: messages[CodeNoTLSSession]}
	ErrNoClientCertificate = &AuthenticationError{Code: CodeNoClientCertificate, Message: messages[CodeNoClientCertificate]}
	ErrPeerUnverified      = &AuthenticationError{Code: CodePeerUnverified, Message: messages[CodePeerUnverified]}
)

// AuthenticationError is raised by the interceptor itself; the wrapped handler never ran.
type AuthenticationError struct {
	Code    Code
	Action  string
	Message string

	cause error
}

func newAuthenticationError(code Code, action string, cause error) *AuthenticationError {
	return &AuthenticationError{
		Code:    code,
		Action:  action,
		Message: messages[code],
		cause:   cause,
	}
}

func (e *AuthenticationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Action != "" {
		msg += fmt.Sprintf(" (action %s)", e.Action)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// ErrorCode returns the code as sent to the caller.
func (e *AuthenticationError) ErrorCode() string {
	return string(e.Code)
}

func (e *AuthenticationError) Unwrap() error {
	return e.cause
}

// Is matches any AuthenticationError with the same code.
func (e *AuthenticationError) Is(target error) bool {
	t, ok := target.(*AuthenticationError)
	return ok && t.Code == e.Code
}

// CodeOf returns the rejection code carried by err, if any.
func CodeOf(err error) (Code, bool) {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return authErr.Code, true
	}
	return "", false
}
