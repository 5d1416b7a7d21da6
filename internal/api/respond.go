package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/storefront/checkout-api/internal/logging"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/payment"
	"github.com/storefront/checkout-api/internal/services"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Message string                `json:"message"`
	Errors  []services.FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return services.Invalid("body", "request body is required")
		}
		return services.Invalid("body", "invalid JSON")
	}
	return nil
}

// writeError maps a service error onto a status code. Internal failures are
// logged and replaced with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *services.ValidationError
		perr *payment.Error
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "validation failed", Errors: verr.Fields})
	case errors.Is(err, services.ErrUnauthenticated),
		errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInactiveAccount):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Message: rootMessage(err)})
	case errors.Is(err, services.ErrForbidden):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Message: "forbidden"})
	case errors.Is(err, services.ErrCheckoutInProgress),
		errors.Is(err, services.ErrOrderBusy),
		errors.Is(err, services.ErrEmailTaken),
		errors.Is(err, services.ErrAmountMismatch):
		writeJSON(w, http.StatusConflict, ErrorResponse{Message: rootMessage(err)})
	case services.IsBusiness(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: rootMessage(err)})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "not found"})
	case errors.As(err, &perr):
		logging.FromCtx(r.Context()).Warn("payment gateway error", "op", perr.Op, "code", perr.Code, "error", perr.Err)
		writeJSON(w, http.StatusPaymentRequired, ErrorResponse{Message: perr.Message})
	default:
		logging.FromCtx(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
	}
}

// rootMessage drops the wrapping context so clients see only the rule that
// was violated
func rootMessage(err error) string {
	var (
		stock *services.InsufficientStockError
		gone  *services.ProductUnavailableError
		tr    *services.TransitionError
	)
	switch {
	case errors.As(err, &stock):
		return stock.Error()
	case errors.As(err, &gone):
		return gone.Error()
	case errors.As(err, &tr):
		return tr.Error()
	}
	for _, s := range []error{
		services.ErrEmptyCart,
		services.ErrPaymentNotCompleted,
		services.ErrNotCancellable,
		services.ErrUnauthenticated,
		services.ErrInvalidCredentials,
		services.ErrInactiveAccount,
		services.ErrCheckoutInProgress,
		services.ErrOrderBusy,
		services.ErrEmailTaken,
		services.ErrOwnAccount,
		services.ErrAmountMismatch,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}

// pageFromQuery reads page and limit; the services clamp the values
func pageFromQuery(r *http.Request) models.Page {
	q := r.URL.Query()
	p := models.Page{}
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		p.Limit = v
	}
	return p
}
