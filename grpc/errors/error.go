package errors

import (
	"context"

	cerrors "github.com/cockroachdb/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alien4cloud/search-guard-ssl/transport"
	"github.com/alien4cloud/search-guard-ssl/transport/tlsidentity"
)

// Domain is the ErrorInfo domain of errors raised by the transport layer.
const Domain = "transport.tls"

// ServiceErrorOption customizes the ErrorInfo attached to a status.
type ServiceErrorOption func(*errdetails.ErrorInfo)

// WithMetadata adds metadata to the ErrorInfo.
func WithMetadata(metadata map[string]string) ServiceErrorOption {
	return func(info *errdetails.ErrorInfo) {
		if info.Metadata == nil {
			info.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			info.Metadata[k] = v
		}
	}
}

// WithDomain overrides the ErrorInfo domain.
func WithDomain(domain string) ServiceErrorOption {
	return func(info *errdetails.ErrorInfo) {
		info.Domain = domain
	}
}

// NewServiceError wraps an error in a gRPC status, with a google.rpc.ErrorInfo detail.
//
// - code: the gRPC code of the status (e.g. codes.Unauthenticated).
// - reason: the machine-readable cause, e.g. NO_CLIENT_CERTIFICATE.
// - message: the human readable status message.
func NewServiceError(code codes.Code, reason, message string, opts ...ServiceErrorOption) error {
	info := &errdetails.ErrorInfo{
		Reason: reason,
		Domain: Domain,
	}
	for _, opt := range opts {
		opt(info)
	}

	st, err := status.New(code, message).WithDetails(info)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to attach error details: %v", err)
	}
	return st.Err()
}

type codedError interface {
	ErrorCode() string
}

// FromError converts err to a gRPC status error. Statuses pass through unchanged, coded errors
// become Unauthenticated with their code as ErrorInfo reason and anything else keeps its message.
func FromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var authErr *tlsidentity.AuthenticationError
	if cerrors.As(err, &authErr) {
		return NewServiceError(codes.Unauthenticated, authErr.ErrorCode(), authErr.Message,
			WithMetadata(map[string]string{"action": authErr.Action}))
	}

	var coded codedError
	if cerrors.As(err, &coded) {
		return NewServiceError(codes.Unauthenticated, coded.ErrorCode(), err.Error())
	}

	switch {
	case cerrors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case cerrors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case cerrors.Is(err, transport.ErrUnknownAction):
		return status.Error(codes.Unimplemented, err.Error())
	case cerrors.Is(err, transport.ErrRejectedExecution):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ReasonFromError returns the ErrorInfo reason carried by a gRPC status error.
func ReasonFromError(err error) (string, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return "", false
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			return info.GetReason(), true
		}
	}
	return "", false
}
