package handlers

import (
	"net/http"
	"time"

	"ticket-reserve/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type QueueHandler struct {
	reservation *services.ReservationService
	ledger      *services.Ledger
}

func NewQueueHandler(reservation *services.ReservationService, ledger *services.Ledger) *QueueHandler {
	return &QueueHandler{reservation: reservation, ledger: ledger}
}

type joinRequest struct {
	EventID      string `json:"event_id"`
	TicketTypeID string `json:"ticket_type_id"`
	Count        int    `json:"count"`
	PromoCodeID  string `json:"promo_code_id"`
}

// JoinQueue handles POST /api/queue/join for the authenticated user.
func (h *QueueHandler) JoinQueue(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Authentication required", nil)
	}

	var req joinRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	result, err := h.reservation.JoinQueue(
		e.Request.Context(),
		req.EventID,
		e.Auth.Id,
		req.TicketTypeID,
		req.Count,
		req.PromoCodeID,
	)
	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, result)
}

// GetPosition handles GET /api/queue/position?event_id=..&ticket_type_id=..
func (h *QueueHandler) GetPosition(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Authentication required", nil)
	}

	eventID := e.Request.URL.Query().Get("event_id")
	ticketTypeID := e.Request.URL.Query().Get("ticket_type_id")
	if eventID == "" || ticketTypeID == "" {
		return apis.NewBadRequestError("event_id and ticket_type_id are required", nil)
	}

	pos, err := h.reservation.GetQueuePosition(e.Request.Context(), eventID, e.Auth.Id, ticketTypeID)
	if err != nil {
		return apiError(e, err)
	}
	if pos == nil {
		return apis.NewNotFoundError("No queue entry for this ticket type", nil)
	}

	return e.JSON(http.StatusOK, pos)
}

// GetAvailability handles GET /api/events/{eventId}/availability/{ticketTypeId}.
// Availability is public; no auth required.
func (h *QueueHandler) GetAvailability(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	ticketTypeID := e.Request.PathValue("ticketTypeId")

	availability, err := h.ledger.GetAvailability(eventID, ticketTypeID, time.Now())
	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, availability)
}
