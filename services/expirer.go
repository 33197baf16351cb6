package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ticket-reserve/models"
	"ticket-reserve/monitoring"
	"ticket-reserve/status"
	"ticket-reserve/store"
)

// QueueProcessor re-evaluates a queue after capacity changed.
type QueueProcessor interface {
	ProcessQueue(ctx context.Context, eventID, ticketTypeID string) error
}

const sweepBatchSize = 200

// Expirer expires stale offers and triggers promotion of the next waiter.
// Offer deadlines live in the waiting_list records, so the mechanism is
// durable: on boot every open offer gets its timer re-armed from the store,
// and a periodic sweep catches anything a timer missed. ExpireOffer is
// idempotent, which makes the at-least-once delivery of both paths safe.
type Expirer struct {
	store    store.Store
	queue    QueueProcessor
	notifier Notifier
	monitor  *monitoring.Monitor
	locks    Locker

	sweepEvery time.Duration
	now        func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewExpirer(st store.Store, queue QueueProcessor, notifier Notifier, monitor *monitoring.Monitor, locks Locker, sweepEvery time.Duration) *Expirer {
	return &Expirer{
		store:      st,
		queue:      queue,
		notifier:   notifier,
		monitor:    monitor,
		locks:      locks,
		sweepEvery: sweepEvery,
		now:        time.Now,
		timers:     make(map[string]*time.Timer),
		stopChan:   make(chan struct{}),
	}
}

// Start restores timers for every open offer and begins the backstop sweep.
func (x *Expirer) Start(ctx context.Context) error {
	entries, err := x.store.FindOfferedEntries()
	if err != nil {
		return err
	}

	restored := 0
	for _, entry := range entries {
		if entry.OfferExpiresAt == nil {
			continue
		}
		x.Schedule(entry.ID, *entry.OfferExpiresAt)
		restored++
	}
	if restored > 0 {
		slog.Info("restored offer expiration timers", "count", restored)
	}

	x.wg.Add(1)
	go x.sweepLoop(ctx)

	return nil
}

// Stop halts the sweep and drops pending timers. Deadlines stay in the
// store, so the next Start re-arms everything.
func (x *Expirer) Stop() {
	x.stopOnce.Do(func() { close(x.stopChan) })

	x.mu.Lock()
	for id, timer := range x.timers {
		timer.Stop()
		delete(x.timers, id)
	}
	x.mu.Unlock()

	done := make(chan struct{})
	go func() {
		x.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		slog.Warn("timed out waiting for expirer sweep to stop")
	}
}

// Schedule arms a fire-once timer for the entry's deadline. Re-scheduling
// the same entry replaces the previous timer.
func (x *Expirer) Schedule(entryID string, at time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if timer, ok := x.timers[entryID]; ok {
		timer.Stop()
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	x.timers[entryID] = time.AfterFunc(delay, func() {
		x.mu.Lock()
		delete(x.timers, entryID)
		x.mu.Unlock()

		if err := x.ExpireOffer(context.Background(), entryID); err != nil {
			slog.Error("offer expiration failed", "entry", entryID, "error", err)
		}
	})
}

// Cancel drops the timer for an entry that no longer needs expiring,
// typically because it was just purchased. Missing timers are fine; the
// status check in ExpireOffer is the actual guard.
func (x *Expirer) Cancel(entryID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if timer, ok := x.timers[entryID]; ok {
		timer.Stop()
		delete(x.timers, entryID)
	}
}

// ExpireOffer transitions an offered entry to expired and re-evaluates the
// queue. Running it again after the entry already transitioned is a no-op,
// so the sweep and a late timer can both fire for the same entry.
//
// The status re-check and the transition happen under the queue's lock and
// inside one transaction. A purchase that committed between the timer firing
// and the lock being acquired wins; the entry stays purchased.
func (x *Expirer) ExpireOffer(ctx context.Context, entryID string) error {
	entry, err := x.store.FindEntry(entryID)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			return nil
		}
		return err
	}
	if entry.Status != models.EntryOffered {
		return nil
	}

	expired := false
	err = x.locks.WithLock(ctx, reserveLockKey(entry.EventID, entry.TicketTypeID), func() error {
		return x.store.RunInTransaction(func(tx store.Store) error {
			current, err := tx.FindEntry(entryID)
			if err != nil {
				if errors.Is(err, status.ErrNotFound) {
					return nil
				}
				return err
			}
			if current.Status != models.EntryOffered {
				// Lost the race against a purchase or another expirer run.
				return nil
			}
			if err := tx.TransitionEntry(entryID, models.EntryOffered, models.EntryExpired, nil); err != nil {
				if errors.Is(err, status.ErrStateConflict) {
					return nil
				}
				return err
			}
			expired = true
			return nil
		})
	})
	if err != nil {
		return err
	}
	if !expired {
		return nil
	}

	x.monitor.TrackExpiry(entry.EventID)
	x.notifier.OfferExpired(entry.UserID, entry.EventID)

	return x.queue.ProcessQueue(ctx, entry.EventID, entry.TicketTypeID)
}

// ReleaseOffer is the explicit early-release path used by administrative
// flows. It rides the same check-then-patch discipline as natural expiry.
func (x *Expirer) ReleaseOffer(ctx context.Context, entryID string) error {
	x.Cancel(entryID)
	return x.ExpireOffer(ctx, entryID)
}

func (x *Expirer) sweepLoop(ctx context.Context) {
	defer x.wg.Done()

	ticker := time.NewTicker(x.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			x.sweepDueOffers(ctx)
		case <-x.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (x *Expirer) sweepDueOffers(ctx context.Context) {
	due, err := x.store.FindDueOffers(x.now(), sweepBatchSize)
	if err != nil {
		slog.Error("due offer sweep failed", "error", err)
		return
	}

	for _, entry := range due {
		x.Cancel(entry.ID)
		if err := x.ExpireOffer(ctx, entry.ID); err != nil {
			slog.Error("sweep expiration failed", "entry", entry.ID, "error", err)
		}
	}
	if len(due) > 0 {
		slog.Info("swept stale offers", "count", len(due))
	}
}
