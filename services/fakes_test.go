package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ticket-reserve/models"
	"ticket-reserve/status"
	"ticket-reserve/store"
)

// memStore is an in-memory Store for service tests. Single transaction
// level, no rollback; the tests only exercise committed outcomes.
type memStore struct {
	mu          sync.Mutex
	seq         int
	entries     map[string]*models.WaitingListEntry
	tickets     map[string]*models.Ticket
	events      map[string]*models.Event
	ticketTypes map[string]*models.TicketType
	promoCodes  map[string]*models.PromoCode
	clock       func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		entries:     make(map[string]*models.WaitingListEntry),
		tickets:     make(map[string]*models.Ticket),
		events:      make(map[string]*models.Event),
		ticketTypes: make(map[string]*models.TicketType),
		promoCodes:  make(map[string]*models.PromoCode),
		clock:       time.Now,
	}
}

func (s *memStore) addEvent(e *models.Event)           { s.events[e.ID] = e }
func (s *memStore) addTicketType(t *models.TicketType) { s.ticketTypes[t.ID] = t }
func (s *memStore) addPromoCode(p *models.PromoCode)   { s.promoCodes[p.ID] = p }

func (s *memStore) RunInTransaction(fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *memStore) FindEntry(id string) (*models.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *memStore) FindActiveEntryForUser(eventID, userID string) (*models.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.EventID == eventID && entry.UserID == userID && entry.Active() {
			cp := *entry
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindLatestEntryForUser(eventID, userID, ticketTypeID string) (*models.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.WaitingListEntry
	for _, entry := range s.entries {
		if entry.EventID != eventID || entry.UserID != userID || entry.TicketTypeID != ticketTypeID {
			continue
		}
		if latest == nil || entry.CreatedAt.After(latest.CreatedAt) {
			latest = entry
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *memStore) FindOldestWaiting(eventID, ticketTypeID string) (*models.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.WaitingListEntry
	for _, entry := range s.entries {
		if entry.EventID != eventID || entry.TicketTypeID != ticketTypeID || entry.Status != models.EntryWaiting {
			continue
		}
		if oldest == nil || entry.CreatedAt.Before(oldest.CreatedAt) {
			oldest = entry
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	return &cp, nil
}

func (s *memStore) FindDueOffers(now time.Time, limit int) ([]*models.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.WaitingListEntry
	for _, entry := range s.entries {
		if entry.Status == models.EntryOffered && entry.OfferExpiresAt != nil && !entry.OfferExpiresAt.After(now) {
			cp := *entry
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].OfferExpiresAt.Before(*due[j].OfferExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) FindOfferedEntries() ([]*models.WaitingListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var offered []*models.WaitingListEntry
	for _, entry := range s.entries {
		if entry.Status == models.EntryOffered {
			cp := *entry
			offered = append(offered, &cp)
		}
	}
	return offered, nil
}

func (s *memStore) CreateEntry(e *models.WaitingListEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.ID = fmt.Sprintf("entry%d", s.seq)
	// Distinct timestamps so FIFO ordering is deterministic.
	e.CreatedAt = s.clock().Add(time.Duration(s.seq) * time.Millisecond)
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

func (s *memStore) TransitionEntry(id string, from, to models.EntryStatus, offerExpiresAt *time.Time) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s: %w", from, to, status.ErrStateConflict)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return status.ErrNotFound
	}
	if entry.Status != from {
		return status.ErrStateConflict
	}
	entry.Status = to
	if offerExpiresAt != nil {
		t := *offerExpiresAt
		entry.OfferExpiresAt = &t
	}
	return nil
}

func (s *memStore) CreateTicket(t *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t.ID = fmt.Sprintf("ticket%d", s.seq)
	t.CreatedAt = s.clock()
	cp := *t
	s.tickets[t.ID] = &cp
	return nil
}

func (s *memStore) FindTicketByReference(reference string) (*models.Ticket, error) {
	if reference == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.PaymentReference == reference {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) SumSoldTickets(eventID, ticketTypeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, t := range s.tickets {
		if t.EventID == eventID && t.TicketTypeID == ticketTypeID && t.Status.CountsAgainstCapacity() {
			total += t.Count
		}
	}
	return total, nil
}

func (s *memStore) SumActiveOffers(eventID, ticketTypeID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, entry := range s.entries {
		if entry.EventID == eventID && entry.TicketTypeID == ticketTypeID &&
			entry.Status == models.EntryOffered &&
			entry.OfferExpiresAt != nil && entry.OfferExpiresAt.After(now) {
			total += entry.Count
		}
	}
	return total, nil
}

func (s *memStore) CountWaitingAhead(eventID, ticketTypeID string, createdBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, entry := range s.entries {
		if entry.EventID == eventID && entry.TicketTypeID == ticketTypeID &&
			entry.Status == models.EntryWaiting && entry.CreatedAt.Before(createdBefore) {
			total++
		}
	}
	return total, nil
}

func (s *memStore) WaitingDepths() ([]store.WaitingDepth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byQueue := make(map[[2]string]int)
	for _, entry := range s.entries {
		if entry.Status == models.EntryWaiting {
			byQueue[[2]string{entry.EventID, entry.TicketTypeID}]++
		}
	}
	var depths []store.WaitingDepth
	for key, count := range byQueue {
		depths = append(depths, store.WaitingDepth{EventID: key[0], TicketTypeID: key[1], Waiting: count})
	}
	return depths, nil
}

func (s *memStore) FindEvent(id string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	cp := *event
	return &cp, nil
}

func (s *memStore) FindTicketType(id string) (*models.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt, ok := s.ticketTypes[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	cp := *tt
	return &cp, nil
}

func (s *memStore) FindPromoCode(id string) (*models.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	promo, ok := s.promoCodes[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	cp := *promo
	return &cp, nil
}

// nopLocker runs the critical section inline.
type nopLocker struct{}

func (nopLocker) WithLock(_ context.Context, _ string, fn func() error) error {
	return fn()
}

// keyedLocker is an in-process stand-in for the Redis mutex: one sync.Mutex
// per key, so sections for the same queue actually exclude each other.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *keyedLocker) WithLock(_ context.Context, key string, fn func() error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn()
}

// fakeLimiter records calls and optionally denies.
type fakeLimiter struct {
	mu       sync.Mutex
	denyWith error
	checks   int
	records  int
}

func (l *fakeLimiter) Check(context.Context, string, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks++
	return l.denyWith
}

func (l *fakeLimiter) Record(context.Context, string, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records++
	return nil
}

// fakeScheduler captures scheduled and cancelled entry timers.
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	cancelled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[string]time.Time)}
}

func (f *fakeScheduler) Schedule(entryID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[entryID] = at
}

func (f *fakeScheduler) Cancel(entryID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, entryID)
}

// recordingNotifier captures notification calls by kind.
type recordingNotifier struct {
	mu        sync.Mutex
	offered   []string
	waitlist  []string
	expired   []string
	purchased []string
}

func (n *recordingNotifier) OfferIssued(userID, _ string, _ time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offered = append(n.offered, userID)
}

func (n *recordingNotifier) AddedToWaitlist(userID, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waitlist = append(n.waitlist, userID)
}

func (n *recordingNotifier) OfferExpired(userID, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired = append(n.expired, userID)
}

func (n *recordingNotifier) PurchaseCompleted(userID, _, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.purchased = append(n.purchased, userID)
}
