package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"ticket-reserve/models"
	"ticket-reserve/monitoring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	mu    sync.Mutex
	calls [][2]string
}

func (q *recordingQueue) ProcessQueue(_ context.Context, eventID, ticketTypeID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, [2]string{eventID, ticketTypeID})
	return nil
}

func (q *recordingQueue) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

func seedOfferedEntry(t *testing.T, st *memStore, userID string, expiresAt time.Time) *models.WaitingListEntry {
	t.Helper()
	entry := &models.WaitingListEntry{
		EventID: "evt1", TicketTypeID: "tt1", UserID: userID,
		Count: 1, Status: models.EntryOffered, OfferExpiresAt: &expiresAt,
	}
	require.NoError(t, st.CreateEntry(entry))
	return entry
}

func TestExpireOffer_TransitionsAndReprocessesQueue(t *testing.T) {
	st := newMemStore()
	queue := &recordingQueue{}
	notifier := &recordingNotifier{}
	x := NewExpirer(st, queue, notifier, monitoring.New(), nopLocker{}, time.Hour)

	entry := seedOfferedEntry(t, st, "alice", time.Now().Add(-time.Minute))

	require.NoError(t, x.ExpireOffer(context.Background(), entry.ID))

	got, err := st.FindEntry(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryExpired, got.Status)
	assert.Equal(t, [][2]string{{"evt1", "tt1"}}, queue.calls)
	assert.Equal(t, []string{"alice"}, notifier.expired)
}

func TestExpireOffer_Idempotent(t *testing.T) {
	st := newMemStore()
	queue := &recordingQueue{}
	x := NewExpirer(st, queue, &recordingNotifier{}, monitoring.New(), nopLocker{}, time.Hour)

	entry := seedOfferedEntry(t, st, "alice", time.Now().Add(-time.Minute))

	require.NoError(t, x.ExpireOffer(context.Background(), entry.ID))
	require.NoError(t, x.ExpireOffer(context.Background(), entry.ID))

	// The second run found a non-offered entry and stopped.
	assert.Equal(t, 1, queue.callCount())
}

func TestExpireOffer_SkipsPurchasedEntry(t *testing.T) {
	st := newMemStore()
	queue := &recordingQueue{}
	x := NewExpirer(st, queue, &recordingNotifier{}, monitoring.New(), nopLocker{}, time.Hour)

	entry := seedOfferedEntry(t, st, "alice", time.Now().Add(-time.Minute))
	require.NoError(t, st.TransitionEntry(entry.ID, models.EntryOffered, models.EntryPurchased, nil))

	require.NoError(t, x.ExpireOffer(context.Background(), entry.ID))

	got, err := st.FindEntry(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryPurchased, got.Status)
	assert.Equal(t, 0, queue.callCount())
}

// gateLocker parks WithLock callers until gate closes. waiting is closed
// once a caller has arrived, so the test can interleave work before the
// lock is granted.
type gateLocker struct {
	gate    chan struct{}
	waiting chan struct{}
}

func (l *gateLocker) WithLock(_ context.Context, _ string, fn func() error) error {
	close(l.waiting)
	<-l.gate
	return fn()
}

func TestExpireOffer_PurchaseCommittedBeforeLockWins(t *testing.T) {
	st := newMemStore()
	queue := &recordingQueue{}
	notifier := &recordingNotifier{}
	locker := &gateLocker{gate: make(chan struct{}), waiting: make(chan struct{})}
	x := NewExpirer(st, queue, notifier, monitoring.New(), locker, time.Hour)

	entry := seedOfferedEntry(t, st, "alice", time.Now().Add(-time.Minute))

	done := make(chan error, 1)
	go func() { done <- x.ExpireOffer(context.Background(), entry.ID) }()

	// The expirer saw an offered entry, but the purchase commits before it
	// gets the queue lock. The re-check under the lock must back off.
	<-locker.waiting
	require.NoError(t, st.TransitionEntry(entry.ID, models.EntryOffered, models.EntryPurchased, nil))
	close(locker.gate)

	require.NoError(t, <-done)

	got, err := st.FindEntry(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryPurchased, got.Status)
	assert.Equal(t, 0, queue.callCount())
	assert.Empty(t, notifier.expired)
}

func TestExpireOffer_MissingEntryIsNoop(t *testing.T) {
	st := newMemStore()
	x := NewExpirer(st, &recordingQueue{}, &recordingNotifier{}, monitoring.New(), nopLocker{}, time.Hour)

	assert.NoError(t, x.ExpireOffer(context.Background(), "nope"))
}

func TestSchedule_FiresAtDeadline(t *testing.T) {
	st := newMemStore()
	queue := &recordingQueue{}
	x := NewExpirer(st, queue, &recordingNotifier{}, monitoring.New(), nopLocker{}, time.Hour)

	entry := seedOfferedEntry(t, st, "alice", time.Now().Add(20*time.Millisecond))
	x.Schedule(entry.ID, *entry.OfferExpiresAt)

	assert.Eventually(t, func() bool {
		got, err := st.FindEntry(entry.ID)
		return err == nil && got.Status == models.EntryExpired
	}, time.Second, 10*time.Millisecond)
}

func TestCancel_StopsPendingTimer(t *testing.T) {
	st := newMemStore()
	queue := &recordingQueue{}
	x := NewExpirer(st, queue, &recordingNotifier{}, monitoring.New(), nopLocker{}, time.Hour)

	entry := seedOfferedEntry(t, st, "alice", time.Now().Add(30*time.Millisecond))
	x.Schedule(entry.ID, *entry.OfferExpiresAt)
	x.Cancel(entry.ID)

	time.Sleep(80 * time.Millisecond)

	got, err := st.FindEntry(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryOffered, got.Status)
}

func TestStart_RestoresTimersFromStore(t *testing.T) {
	st := newMemStore()
	queue := &recordingQueue{}
	x := NewExpirer(st, queue, &recordingNotifier{}, monitoring.New(), nopLocker{}, time.Hour)

	// Deadline already in the past, as after a restart.
	entry := seedOfferedEntry(t, st, "alice", time.Now().Add(-time.Minute))

	require.NoError(t, x.Start(context.Background()))
	defer x.Stop()

	assert.Eventually(t, func() bool {
		got, err := st.FindEntry(entry.ID)
		return err == nil && got.Status == models.EntryExpired
	}, time.Second, 10*time.Millisecond)
}

func TestSweepDueOffers_ExpiresOnlyDue(t *testing.T) {
	st := newMemStore()
	queue := &recordingQueue{}
	x := NewExpirer(st, queue, &recordingNotifier{}, monitoring.New(), nopLocker{}, time.Hour)

	due := seedOfferedEntry(t, st, "alice", time.Now().Add(-time.Minute))
	fresh := seedOfferedEntry(t, st, "bob", time.Now().Add(time.Hour))

	x.sweepDueOffers(context.Background())

	gotDue, err := st.FindEntry(due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryExpired, gotDue.Status)

	gotFresh, err := st.FindEntry(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryOffered, gotFresh.Status)
}

// End-to-end: expiry frees the unit and the next waiter gets a fresh offer.
func TestExpiry_PromotesNextWaiter(t *testing.T) {
	f := newReservationFixture(t, 1)
	ctx := context.Background()

	_, err := f.svc.JoinQueue(ctx, "evt1", "alice", "tt1", 1, "")
	require.NoError(t, err)
	_, err = f.svc.JoinQueue(ctx, "evt1", "bob", "tt1", 1, "")
	require.NoError(t, err)

	x := NewExpirer(f.store, f.svc, f.notifier, monitoring.New(), nopLocker{}, time.Hour)
	f.svc.SetScheduler(x)

	alice, err := f.store.FindActiveEntryForUser("evt1", "alice")
	require.NoError(t, err)
	require.NoError(t, x.ExpireOffer(ctx, alice.ID))

	bob, err := f.store.FindActiveEntryForUser("evt1", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.EntryOffered, bob.Status)
	require.NotNil(t, bob.OfferExpiresAt)
	assert.True(t, bob.OfferExpiresAt.After(time.Now()))
}
