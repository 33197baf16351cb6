package services

import (
	"context"
	"fmt"
	"time"

	"ticket-reserve/models"
	"ticket-reserve/monitoring"
	"ticket-reserve/security"
	"ticket-reserve/status"
	"ticket-reserve/store"

	"github.com/shopspring/decimal"
)

// Locker serializes the availability-read plus decision-write section per
// (event, ticket type) key across all service instances.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// Scheduler registers the durable expiration of an offered entry.
type Scheduler interface {
	Schedule(entryID string, at time.Time)
	Cancel(entryID string)
}

// JoinLimiter throttles join attempts per user. Check rejects without
// consuming budget; Record consumes one unit.
type JoinLimiter interface {
	Check(ctx context.Context, userID, action string) error
	Record(ctx context.Context, userID, action string) error
}

// JoinResult is the outcome of a JoinQueue request. Capacity rejections are
// results rather than errors; only preconditions (rate limit, validation,
// missing records) surface as errors.
type JoinResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

// QueuePosition describes a user's most recent entry for a ticket type.
// Position is 1-based among waiting entries and 0 for any other state.
type QueuePosition struct {
	Entry    *models.WaitingListEntry `json:"entry"`
	Position int                      `json:"position,omitempty"`
}

// ReservationService turns buyer requests into time-limited offers or
// waiting-list entries and promotes waiters as capacity frees up.
type ReservationService struct {
	store     store.Store
	ledger    *Ledger
	limiter   JoinLimiter
	locks     Locker
	notifier  Notifier
	monitor   *monitoring.Monitor
	scheduler Scheduler

	offerDuration time.Duration
	now           func() time.Time
}

func NewReservationService(
	st store.Store,
	ledger *Ledger,
	limiter JoinLimiter,
	locks Locker,
	notifier Notifier,
	monitor *monitoring.Monitor,
	offerDuration time.Duration,
) *ReservationService {
	return &ReservationService{
		store:         st,
		ledger:        ledger,
		limiter:       limiter,
		locks:         locks,
		notifier:      notifier,
		monitor:       monitor,
		offerDuration: offerDuration,
		now:           time.Now,
	}
}

// SetScheduler wires the offer expirer after construction; the expirer in
// turn calls back into ProcessQueue, so the two are linked at startup.
func (s *ReservationService) SetScheduler(sched Scheduler) {
	s.scheduler = sched
}

// JoinQueue places a buyer's claim on a ticket type. With enough remaining
// capacity the claim becomes a time-limited offer; a single-unit claim
// against exhausted capacity queues; anything else is rejected with the
// remaining count.
func (s *ReservationService) JoinQueue(ctx context.Context, eventID, userID, ticketTypeID string, count int, promoCodeID string) (JoinResult, error) {
	if eventID == "" || userID == "" || ticketTypeID == "" {
		return JoinResult{}, fmt.Errorf("event, user and ticket type are required: %w", status.ErrValidation)
	}
	if count < 1 {
		return JoinResult{}, fmt.Errorf("count must be at least 1: %w", status.ErrValidation)
	}

	if err := s.limiter.Check(ctx, userID, security.ActionQueueJoin); err != nil {
		return JoinResult{}, err
	}

	var (
		result  JoinResult
		created *models.WaitingListEntry
	)

	err := s.locks.WithLock(ctx, reserveLockKey(eventID, ticketTypeID), func() error {
		return s.store.RunInTransaction(func(tx store.Store) error {
			existing, err := tx.FindActiveEntryForUser(eventID, userID)
			if err != nil {
				return err
			}
			if existing != nil {
				result = JoinResult{Success: false, Message: status.ErrAlreadyQueued.Error()}
				return nil
			}

			ticketType, err := tx.FindTicketType(ticketTypeID)
			if err != nil {
				return err
			}
			if ticketType.EventID != eventID {
				return fmt.Errorf("ticket type %s does not belong to event %s: %w", ticketTypeID, eventID, status.ErrNotFound)
			}

			event, err := tx.FindEvent(eventID)
			if err != nil {
				return err
			}
			if event.IsCancelled {
				return status.ErrEventInactive
			}

			now := s.now()
			availability, err := s.ledger.Snapshot(tx, ticketType, now)
			if err != nil {
				return err
			}
			remaining := availability.RemainingTickets

			switch {
			case remaining >= count:
				discount, err := s.resolveDiscount(tx, promoCodeID)
				if err != nil {
					return err
				}
				expires := now.Add(s.offerDuration)
				entry := &models.WaitingListEntry{
					EventID:           eventID,
					TicketTypeID:      ticketTypeID,
					UserID:            userID,
					Count:             count,
					Status:            models.EntryOffered,
					OfferExpiresAt:    &expires,
					PromoCodeID:       promoCodeID,
					PromoCodeDiscount: discount,
				}
				if err := tx.CreateEntry(entry); err != nil {
					return err
				}
				created = entry
				result = JoinResult{
					Success: true,
					Status:  string(models.EntryOffered),
					Message: fmt.Sprintf("Ticket offered - you have %d minutes to purchase", int(s.offerDuration.Minutes())),
				}

			case count == 1:
				discount, err := s.resolveDiscount(tx, promoCodeID)
				if err != nil {
					return err
				}
				entry := &models.WaitingListEntry{
					EventID:           eventID,
					TicketTypeID:      ticketTypeID,
					UserID:            userID,
					Count:             count,
					Status:            models.EntryWaiting,
					PromoCodeID:       promoCodeID,
					PromoCodeDiscount: discount,
				}
				if err := tx.CreateEntry(entry); err != nil {
					return err
				}
				created = entry
				result = JoinResult{
					Success: true,
					Status:  string(models.EntryWaiting),
					Message: "Added to the waiting list - you will be notified when a ticket frees up",
				}

			default:
				result = JoinResult{
					Success: false,
					Message: (&status.CapacityError{Remaining: remaining}).Error(),
				}
			}

			return nil
		})
	})
	if err != nil {
		return JoinResult{}, err
	}

	if created != nil {
		// Budget is consumed only by joins that actually created an entry.
		if err := s.limiter.Record(ctx, userID, security.ActionQueueJoin); err != nil {
			s.monitor.TrackError("rate_limit_record")
		}
		s.monitor.TrackJoin(eventID, string(created.Status))

		if created.Status == models.EntryOffered && created.OfferExpiresAt != nil {
			if s.scheduler != nil {
				s.scheduler.Schedule(created.ID, *created.OfferExpiresAt)
			}
			s.notifier.OfferIssued(userID, eventID, *created.OfferExpiresAt)
		} else {
			s.notifier.AddedToWaitlist(userID, eventID)
		}
	}

	return result, nil
}

// ProcessQueue promotes the single oldest waiting entry that fits into the
// currently remaining capacity. Promotion is strictly FIFO: a head entry
// that does not fit blocks the queue until more capacity frees up. Invoked
// after every expiry and purchase, so each freed slot re-runs the scan.
func (s *ReservationService) ProcessQueue(ctx context.Context, eventID, ticketTypeID string) error {
	var promoted *models.WaitingListEntry

	err := s.locks.WithLock(ctx, reserveLockKey(eventID, ticketTypeID), func() error {
		return s.store.RunInTransaction(func(tx store.Store) error {
			ticketType, err := tx.FindTicketType(ticketTypeID)
			if err != nil {
				return err
			}

			now := s.now()
			availability, err := s.ledger.Snapshot(tx, ticketType, now)
			if err != nil {
				return err
			}
			if availability.RemainingTickets <= 0 {
				return nil
			}

			head, err := tx.FindOldestWaiting(eventID, ticketTypeID)
			if err != nil {
				return err
			}
			if head == nil || head.Count > availability.RemainingTickets {
				return nil
			}

			expires := now.Add(s.offerDuration)
			if err := tx.TransitionEntry(head.ID, models.EntryWaiting, models.EntryOffered, &expires); err != nil {
				return err
			}
			head.Status = models.EntryOffered
			head.OfferExpiresAt = &expires
			promoted = head
			return nil
		})
	})
	if err != nil {
		return err
	}

	if promoted != nil {
		if s.scheduler != nil {
			s.scheduler.Schedule(promoted.ID, *promoted.OfferExpiresAt)
		}
		s.monitor.TrackPromotion(eventID)
		s.notifier.OfferIssued(promoted.UserID, eventID, *promoted.OfferExpiresAt)
	}

	return nil
}

// GetQueuePosition returns the user's most recent entry for the ticket type,
// or nil when the user never joined. Waiting entries additionally carry a
// 1-based FIFO position.
func (s *ReservationService) GetQueuePosition(ctx context.Context, eventID, userID, ticketTypeID string) (*QueuePosition, error) {
	entry, err := s.store.FindLatestEntryForUser(eventID, userID, ticketTypeID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	pos := &QueuePosition{Entry: entry}
	if entry.Status == models.EntryWaiting {
		ahead, err := s.store.CountWaitingAhead(eventID, ticketTypeID, entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		pos.Position = ahead + 1
	}
	return pos, nil
}

func (s *ReservationService) resolveDiscount(tx store.Store, promoCodeID string) (decimal.Decimal, error) {
	if promoCodeID == "" {
		return decimal.Zero, nil
	}
	promo, err := tx.FindPromoCode(promoCodeID)
	if err != nil {
		return decimal.Zero, err
	}
	if !promo.Active {
		return decimal.Zero, nil
	}
	return promo.DiscountPercent, nil
}

func reserveLockKey(eventID, ticketTypeID string) string {
	return fmt.Sprintf("reserve:lock:%s:%s", eventID, ticketTypeID)
}
