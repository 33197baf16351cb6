package services

import (
	"fmt"
	"time"

	"ticket-reserve/models"
	"ticket-reserve/status"
	"ticket-reserve/store"
)

// Ledger computes how many units of a ticket type are still obtainable from
// the raw ticket and offer records. It holds no state of its own; callers
// that pair the read with a write must call Snapshot on their transaction.
type Ledger struct {
	store store.Store
}

func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// GetAvailability returns a point-in-time availability snapshot. The result
// is advisory outside a transaction; JoinQueue and ProcessQueue recompute it
// inside their own transaction before writing.
func (l *Ledger) GetAvailability(eventID, ticketTypeID string, now time.Time) (models.Availability, error) {
	ticketType, err := l.store.FindTicketType(ticketTypeID)
	if err != nil {
		return models.Availability{}, err
	}
	if ticketType.EventID != eventID {
		return models.Availability{}, fmt.Errorf("ticket type %s does not belong to event %s: %w", ticketTypeID, eventID, status.ErrNotFound)
	}
	return l.Snapshot(l.store, ticketType, now)
}

// Snapshot computes availability against the given store, which may be a
// transaction. purchasedCount sums valid and used tickets; activeOffers sums
// offered entries whose purchase window has not yet passed.
func (l *Ledger) Snapshot(st store.Store, ticketType *models.TicketType, now time.Time) (models.Availability, error) {
	purchased, err := st.SumSoldTickets(ticketType.EventID, ticketType.ID)
	if err != nil {
		return models.Availability{}, fmt.Errorf("sum sold tickets: %w", err)
	}
	offers, err := st.SumActiveOffers(ticketType.EventID, ticketType.ID, now)
	if err != nil {
		return models.Availability{}, fmt.Errorf("sum active offers: %w", err)
	}
	return models.NewAvailability(ticketType.EventID, ticketType.ID, ticketType.TotalTickets, purchased, offers), nil
}
