package services

import (
	"context"
	"fmt"
	"time"

	"ticket-reserve/models"
	"ticket-reserve/monitoring"
	"ticket-reserve/status"
	"ticket-reserve/store"

	"github.com/shopspring/decimal"
)

// PaymentInfo is the confirmed payment delivered by the gateway
// collaborator. The engine never initiates gateway calls itself.
type PaymentInfo struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// PurchaseService converts a still-valid offer into a permanent ticket once
// payment is confirmed, then re-evaluates the queue.
type PurchaseService struct {
	store     store.Store
	locks     Locker
	queue     QueueProcessor
	scheduler Scheduler
	notifier  Notifier
	monitor   *monitoring.Monitor
	now       func() time.Time
}

func NewPurchaseService(
	st store.Store,
	locks Locker,
	queue QueueProcessor,
	scheduler Scheduler,
	notifier Notifier,
	monitor *monitoring.Monitor,
) *PurchaseService {
	return &PurchaseService{
		store:     st,
		locks:     locks,
		queue:     queue,
		scheduler: scheduler,
		notifier:  notifier,
		monitor:   monitor,
		now:       time.Now,
	}
}

// PurchaseTicket finalizes the purchase for an offered entry. The ticket
// insert and the entry patch commit in one transaction, and the entry's
// offered-state check makes replays of the same confirmation fail with
// ErrStateConflict instead of minting a second ticket.
func (s *PurchaseService) PurchaseTicket(ctx context.Context, eventID, userID, entryID string, payment PaymentInfo) (*models.Ticket, error) {
	if eventID == "" || userID == "" || entryID == "" {
		return nil, fmt.Errorf("event, user and entry are required: %w", status.ErrValidation)
	}

	// Pre-read outside the lock to learn the ticket type key.
	probe, err := s.store.FindEntry(entryID)
	if err != nil {
		return nil, err
	}

	var ticket *models.Ticket

	err = s.locks.WithLock(ctx, reserveLockKey(eventID, probe.TicketTypeID), func() error {
		return s.store.RunInTransaction(func(tx store.Store) error {
			entry, err := tx.FindEntry(entryID)
			if err != nil {
				return err
			}
			if entry.Status != models.EntryOffered {
				return status.ErrStateConflict
			}
			if entry.UserID != userID {
				return status.ErrUnauthorized
			}
			if entry.EventID != eventID {
				return fmt.Errorf("entry %s does not belong to event %s: %w", entryID, eventID, status.ErrNotFound)
			}

			event, err := tx.FindEvent(eventID)
			if err != nil {
				return err
			}
			if event.IsCancelled {
				return status.ErrEventInactive
			}

			// A replayed confirmation can race the entry check when the
			// first attempt failed after the ticket insert; the reference
			// lookup closes that gap.
			if existing, err := tx.FindTicketByReference(payment.Reference); err != nil {
				return err
			} else if existing != nil {
				return status.ErrStateConflict
			}

			if entry.OfferExpired(s.now()) {
				return status.ErrStateConflict
			}

			ticket = &models.Ticket{
				EventID:          entry.EventID,
				TicketTypeID:     entry.TicketTypeID,
				UserID:           entry.UserID,
				Count:            entry.Count,
				Status:           models.TicketValid,
				Amount:           payment.Amount,
				PromoCodeID:      entry.PromoCodeID,
				PaymentReference: payment.Reference,
			}
			if err := tx.CreateTicket(ticket); err != nil {
				return err
			}

			return tx.TransitionEntry(entryID, models.EntryOffered, models.EntryPurchased, nil)
		})
	})
	if err != nil {
		return nil, err
	}

	if s.scheduler != nil {
		s.scheduler.Cancel(entryID)
	}
	s.monitor.TrackPurchase(eventID, ticket.Count)
	s.notifier.PurchaseCompleted(ticket.UserID, eventID, ticket.ID)

	// Normally a no-op since a purchase frees no capacity, but it picks up
	// slots freed by a concurrent capacity increase.
	if err := s.queue.ProcessQueue(ctx, eventID, probe.TicketTypeID); err != nil {
		s.monitor.TrackError("process_queue_after_purchase")
	}

	return ticket, nil
}
