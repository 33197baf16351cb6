package handlers

import (
	"io"
	"net/http"

	"ticket-reserve/payments"
	"ticket-reserve/services"
	"ticket-reserve/store"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// PaymentHandler receives the gateway's settlement webhook. The realtime
// feed delivers the same confirmations; purchase finalization is idempotent
// on the payment reference, so duplicate delivery across the two paths is
// harmless.
type PaymentHandler struct {
	store    store.Store
	purchase *services.PurchaseService

	hmacKey []byte
	keyHash []byte
}

func NewPaymentHandler(st store.Store, purchase *services.PurchaseService, hmacKey, keyHash string) *PaymentHandler {
	return &PaymentHandler{
		store:    st,
		purchase: purchase,
		hmacKey:  []byte(hmacKey),
		keyHash:  []byte(keyHash),
	}
}

// ConfirmPayment handles POST /api/payments/confirm. The gateway signs the
// raw body with the shared HMAC key and authenticates with its API key.
func (h *PaymentHandler) ConfirmPayment(e *core.RequestEvent) error {
	apiKey := e.Request.Header.Get("X-Api-Key")
	if len(h.keyHash) == 0 || !payments.CompareKeyHash(h.keyHash, []byte(apiKey)) {
		return apis.NewUnauthorizedError("Invalid API key", nil)
	}

	body, err := io.ReadAll(e.Request.Body)
	if err != nil {
		return apis.NewBadRequestError("Unreadable request body", err)
	}

	signature := e.Request.Header.Get("X-Signature")
	if !payments.VerifySignature(body, h.hmacKey, signature) {
		return apis.NewUnauthorizedError("Invalid signature", nil)
	}

	conf, err := payments.ParseConfirmation(body)
	if err != nil {
		return apis.NewBadRequestError("Invalid confirmation payload", err)
	}

	entry, err := h.store.FindEntry(conf.BillNumber)
	if err != nil {
		return apiError(e, err)
	}

	ticket, err := h.purchase.PurchaseTicket(
		e.Request.Context(),
		entry.EventID,
		entry.UserID,
		entry.ID,
		services.PaymentInfo{Amount: conf.Amount, Reference: conf.Reference},
	)
	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"ticket_id": ticket.ID,
	})
}
