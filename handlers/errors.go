package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"ticket-reserve/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// apiError maps service errors onto HTTP responses. Rate limit rejections
// additionally carry a Retry-After header.
func apiError(e *core.RequestEvent, err error) error {
	var rateErr *status.RateLimitError
	if errors.As(err, &rateErr) {
		e.Response.Header().Set("Retry-After", fmt.Sprintf("%d", int(rateErr.RetryAfter.Seconds())))
		return apis.NewApiError(http.StatusTooManyRequests, rateErr.Error(), nil)
	}

	var extErr *status.ExternalServiceError
	if errors.As(err, &extErr) {
		return apis.NewApiError(http.StatusBadGateway, "Upstream service unavailable", nil)
	}

	switch {
	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError("Record not found", nil)
	case errors.Is(err, status.ErrStateConflict):
		return apis.NewApiError(http.StatusConflict, status.ErrStateConflict.Error(), nil)
	case errors.Is(err, status.ErrUnauthorized):
		return apis.NewForbiddenError("Not allowed", nil)
	case errors.Is(err, status.ErrEventInactive):
		return apis.NewApiError(http.StatusConflict, status.ErrEventInactive.Error(), nil)
	case errors.Is(err, status.ErrValidation):
		return apis.NewBadRequestError(err.Error(), nil)
	default:
		return apis.NewInternalServerError("Something went wrong", err)
	}
}
