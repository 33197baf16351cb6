// Package store persists the reservation engine's records. The engine only
// sees the Store interface; the PocketBase implementation lives alongside it
// and an in-memory fake backs the service tests.
package store

import (
	"time"

	"ticket-reserve/models"
)

// WaitingDepth is the waiting-list length of one (event, ticket type) queue.
type WaitingDepth struct {
	EventID      string `db:"event" json:"event_id"`
	TicketTypeID string `db:"ticket_type" json:"ticket_type_id"`
	Waiting      int    `db:"waiting" json:"waiting"`
}

// Store is the durable record access used by the reservation engine.
// RunInTransaction hands the callback a Store bound to the transaction;
// every ledger read paired with a decision write must happen inside one.
type Store interface {
	RunInTransaction(fn func(tx Store) error) error

	// Waiting list entries.
	FindEntry(id string) (*models.WaitingListEntry, error)
	FindActiveEntryForUser(eventID, userID string) (*models.WaitingListEntry, error)
	FindLatestEntryForUser(eventID, userID, ticketTypeID string) (*models.WaitingListEntry, error)
	FindOldestWaiting(eventID, ticketTypeID string) (*models.WaitingListEntry, error)
	FindDueOffers(now time.Time, limit int) ([]*models.WaitingListEntry, error)
	FindOfferedEntries() ([]*models.WaitingListEntry, error)
	CreateEntry(e *models.WaitingListEntry) error
	TransitionEntry(id string, from, to models.EntryStatus, offerExpiresAt *time.Time) error

	// Tickets and ledger aggregates.
	CreateTicket(t *models.Ticket) error
	FindTicketByReference(reference string) (*models.Ticket, error)
	SumSoldTickets(eventID, ticketTypeID string) (int, error)
	SumActiveOffers(eventID, ticketTypeID string, now time.Time) (int, error)
	CountWaitingAhead(eventID, ticketTypeID string, createdBefore time.Time) (int, error)

	// WaitingDepths reports the current waiting count per queue, for metrics.
	WaitingDepths() ([]WaitingDepth, error)

	// External collaborator records, read-only from the engine.
	FindEvent(id string) (*models.Event, error)
	FindTicketType(id string) (*models.TicketType, error)
	FindPromoCode(id string) (*models.PromoCode, error)
}
