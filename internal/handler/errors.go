package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/learnhub/internal/domain/auth"
	"github.com/xenking/learnhub/internal/domain/checkout"
	"github.com/xenking/learnhub/internal/domain/coupon"
	"github.com/xenking/learnhub/internal/domain/course"
	"github.com/xenking/learnhub/internal/domain/enrollment"
	"github.com/xenking/learnhub/internal/domain/instructor"
)

// Kind is the stable, client-facing error class.
type Kind string

const (
	KindInvalidCoupon         Kind = "InvalidCoupon"
	KindAlreadyEnrolled       Kind = "AlreadyEnrolled"
	KindAlreadyApplied        Kind = "AlreadyApplied"
	KindInvalidProgress       Kind = "InvalidProgress"
	KindInvalidTransition     Kind = "InvalidTransition"
	KindForbidden             Kind = "Forbidden"
	KindUnauthorized          Kind = "Unauthorized"
	KindNotFound              Kind = "NotFound"
	KindConflict              Kind = "Conflict"
	KindPaymentProcessorError Kind = "PaymentProcessorError"
	KindBadRequest            Kind = "BadRequest"
	KindInternal              Kind = "Internal"
)

// errBadRequest marks malformed requests rejected by the HTTP layer itself.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return errors.Wrapf(errBadRequest, format, args...)
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Code      int    `json:"code"`
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// mapError translates domain errors to API errors.
func mapError(err error) ErrorResponse {
	var (
		status    int
		kind      Kind
		retryable bool
	)
	switch {
	case errors.Is(err, coupon.ErrInvalidCoupon):
		status, kind = http.StatusUnprocessableEntity, KindInvalidCoupon
	case errors.Is(err, enrollment.ErrAlreadyEnrolled):
		status, kind = http.StatusConflict, KindAlreadyEnrolled
	case errors.Is(err, instructor.ErrAlreadyApplied):
		status, kind = http.StatusConflict, KindAlreadyApplied
	case errors.Is(err, enrollment.ErrInvalidProgress):
		status, kind = http.StatusUnprocessableEntity, KindInvalidProgress
	case errors.Is(err, instructor.ErrInvalidTransition):
		status, kind = http.StatusConflict, KindInvalidTransition
	case errors.Is(err, enrollment.ErrContention):
		status, kind, retryable = http.StatusConflict, KindConflict, true
	case errors.Is(err, coupon.ErrCodeTaken),
		errors.Is(err, coupon.ErrLocked):
		status, kind = http.StatusConflict, KindConflict
	case errors.Is(err, auth.ErrForbidden):
		status, kind = http.StatusForbidden, KindForbidden
	case errors.Is(err, auth.ErrUnauthenticated):
		status, kind = http.StatusUnauthorized, KindUnauthorized
	case errors.Is(err, course.ErrNotFound),
		errors.Is(err, enrollment.ErrNotFound),
		errors.Is(err, enrollment.ErrUnknownUnit),
		errors.Is(err, instructor.ErrNotFound),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, checkout.ErrPaymentNotFound):
		status, kind = http.StatusNotFound, KindNotFound
	case errors.Is(err, checkout.ErrProcessor):
		status, kind, retryable = http.StatusBadGateway, KindPaymentProcessorError, true
		var pe *checkout.ProcessorError
		if errors.As(err, &pe) {
			retryable = pe.Retryable
		}
		return ErrorResponse{Code: status, Kind: kind, Message: "payment processor unavailable", Retryable: retryable}
	case errors.Is(err, errBadRequest),
		errors.Is(err, course.ErrInvalidPrice),
		errors.Is(err, course.ErrInvalidStatus),
		errors.Is(err, course.ErrTitleRequired),
		errors.Is(err, coupon.ErrInvalidTerms),
		errors.Is(err, instructor.ErrInvalidOutcome),
		errors.Is(err, checkout.ErrInvalidOutcome):
		status, kind = http.StatusBadRequest, KindBadRequest
	default:
		return ErrorResponse{
			Code:    http.StatusInternalServerError,
			Kind:    KindInternal,
			Message: "internal server error",
		}
	}
	return ErrorResponse{Code: status, Kind: kind, Message: err.Error(), Retryable: retryable}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := mapError(err)
	lg := zctx.From(r.Context())
	if resp.Code >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err), zap.String("kind", string(resp.Kind)))
	} else {
		lg.Debug("Request rejected", zap.Error(err), zap.String("kind", string(resp.Kind)))
	}
	writeJSON(w, resp.Code, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
