package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// grpcCode maps an error code to its gRPC status code.
func grpcCode(code errors.ErrorCode) codes.Code {
	switch code {
	case errors.ErrCodeNotFound:
		return codes.NotFound
	case errors.ErrCodeInvalidInput:
		return codes.InvalidArgument
	case errors.ErrCodeInvalidState, errors.ErrCodeRoutingFailure:
		return codes.FailedPrecondition
	case errors.ErrCodePermissionDenied:
		return codes.PermissionDenied
	case errors.ErrCodeConcurrentModification:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// mapErrorToGRPC converts a service error into a gRPC status error. Errors
// that already carry a status pass through.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := grpcCode(errors.CodeOf(err))
	message := err.Error()
	var e *errors.Error
	if errors.As(err, &e) {
		message = e.Message
	}
	if code == codes.Internal {
		message = "internal error"
	}
	return status.Error(code, message)
}

// UnaryErrorInterceptor maps service errors to gRPC status codes.
func UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		return resp, mapErrorToGRPC(err)
	}
}

// UnaryLoggingInterceptor logs one line per call with its status code.
func UnaryLoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		level := zerolog.InfoLevel
		if err != nil {
			level = zerolog.WarnLevel
		}
		log.WithLevel(level).Err(err).
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}
