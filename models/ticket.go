package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketStatus is the closed set of sold ticket states.
type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketRefunded  TicketStatus = "refunded"
	TicketCancelled TicketStatus = "cancelled"
)

// CountsAgainstCapacity reports whether a ticket in this status still
// consumes inventory. Refunded and cancelled tickets release their units.
func (s TicketStatus) CountsAgainstCapacity() bool {
	return s == TicketValid || s == TicketUsed
}

// Ticket is a completed sale. Created once by the purchase finalizer,
// mutated later only by refund/check-in flows, never deleted.
type Ticket struct {
	ID               string          `json:"id"`
	EventID          string          `json:"event_id"`
	TicketTypeID     string          `json:"ticket_type_id"`
	UserID           string          `json:"user_id"`
	Count            int             `json:"count"`
	Status           TicketStatus    `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	PromoCodeID      string          `json:"promo_code_id,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// TicketType is a fixed-capacity sale bucket within an event. Owned by the
// event management collaborator; read-only from the reservation engine.
type TicketType struct {
	ID           string          `json:"id"`
	EventID      string          `json:"event_id"`
	Name         string          `json:"name"`
	TotalTickets int             `json:"total_tickets"`
	Price        decimal.Decimal `json:"price"`
}
