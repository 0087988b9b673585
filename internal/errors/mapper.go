// internal/errors/mapper.go
package errors

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// Map converts service/repo/infra errors into gRPC status errors.
func Map(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var e *Error
	if errors.As(err, &e) {
		return status.Error(grpcCode(e.Kind), e.Error())
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return status.Error(codes.NotFound, "record not found")

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request was canceled")

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// QuotaTrailer builds the metadata sent with ResourceExhausted responses.
func QuotaTrailer(err error) (metadata.MD, bool) {
	remaining, reset, ok := Quota(err)
	if !ok {
		return nil, false
	}
	return metadata.Pairs(
		"x-ratelimit-remaining", strconv.FormatInt(remaining, 10),
		"x-ratelimit-reset-ms", strconv.FormatInt(reset.Milliseconds(), 10),
	), true
}

func grpcCode(k Kind) codes.Code {
	switch k {
	case KindValidation:
		return codes.InvalidArgument
	case KindQuotaExceeded:
		return codes.ResourceExhausted
	case KindNotFound:
		return codes.NotFound
	case KindTransient:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// HTTPStatus picks the response status for err on the HTTP surface.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// InvalidArgument creates a gRPC InvalidArgument error.
func InvalidArgument(msg string) error {
	return status.Error(codes.InvalidArgument, msg)
}
