package handlers

import (
	"net/http"

	"ticket-reserve/services"
	"ticket-reserve/store"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// AdminHandler exposes operator controls. Routes are registered behind
// superuser auth middleware.
type AdminHandler struct {
	store       store.Store
	reservation *services.ReservationService
	expirer     *services.Expirer
}

func NewAdminHandler(st store.Store, reservation *services.ReservationService, expirer *services.Expirer) *AdminHandler {
	return &AdminHandler{store: st, reservation: reservation, expirer: expirer}
}

// ProcessQueue handles POST /api/admin/queue/process. Used after manually
// raising a ticket type's capacity so waiters get promoted immediately.
func (h *AdminHandler) ProcessQueue(e *core.RequestEvent) error {
	var req struct {
		EventID      string `json:"event_id"`
		TicketTypeID string `json:"ticket_type_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if req.EventID == "" || req.TicketTypeID == "" {
		return apis.NewBadRequestError("event_id and ticket_type_id are required", nil)
	}

	if err := h.reservation.ProcessQueue(e.Request.Context(), req.EventID, req.TicketTypeID); err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]any{"success": true})
}

// ReleaseOffer handles POST /api/admin/offers/{entryId}/release. It expires
// an open offer ahead of its deadline and promotes the next waiter.
func (h *AdminHandler) ReleaseOffer(e *core.RequestEvent) error {
	entryID := e.Request.PathValue("entryId")
	if entryID == "" {
		return apis.NewBadRequestError("entry id is required", nil)
	}

	if err := h.expirer.ReleaseOffer(e.Request.Context(), entryID); err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]any{"success": true})
}

// Dashboard handles GET /api/admin/queue/dashboard with current
// waiting-list depths per event and ticket type.
func (h *AdminHandler) Dashboard(e *core.RequestEvent) error {
	depths, err := h.store.WaitingDepths()
	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]any{"queues": depths})
}
