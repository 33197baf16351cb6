package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus is the closed set of waiting list entry states.
type EntryStatus string

const (
	EntryWaiting   EntryStatus = "waiting"
	EntryOffered   EntryStatus = "offered"
	EntryPurchased EntryStatus = "purchased"
	EntryExpired   EntryStatus = "expired"
)

// entryTransitions lists the legal edges of the entry state machine.
// purchased and expired are terminal; there is no way back into waiting.
var entryTransitions = map[EntryStatus][]EntryStatus{
	EntryWaiting: {EntryOffered},
	EntryOffered: {EntryPurchased, EntryExpired},
}

// CanTransition reports whether from -> to is a legal entry status change.
func CanTransition(from, to EntryStatus) bool {
	for _, allowed := range entryTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidEntryStatus reports whether s is one of the four known states.
func ValidEntryStatus(s EntryStatus) bool {
	switch s {
	case EntryWaiting, EntryOffered, EntryPurchased, EntryExpired:
		return true
	}
	return false
}

// WaitingListEntry tracks one buyer's claim on a ticket type.
type WaitingListEntry struct {
	ID                string          `json:"id"`
	EventID           string          `json:"event_id"`
	TicketTypeID      string          `json:"ticket_type_id"`
	UserID            string          `json:"user_id"`
	Count             int             `json:"count"`
	Status            EntryStatus     `json:"status"`
	OfferExpiresAt    *time.Time      `json:"offer_expires_at,omitempty"`
	PromoCodeID       string          `json:"promo_code_id,omitempty"`
	PromoCodeDiscount decimal.Decimal `json:"promo_code_discount"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Active reports whether the entry still blocks the user from joining
// another queue for the same event.
func (e *WaitingListEntry) Active() bool {
	return e.Status == EntryWaiting || e.Status == EntryOffered || e.Status == EntryPurchased
}

// OfferExpired reports whether an offered entry's purchase window has passed.
func (e *WaitingListEntry) OfferExpired(now time.Time) bool {
	return e.Status == EntryOffered && e.OfferExpiresAt != nil && !e.OfferExpiresAt.After(now)
}
