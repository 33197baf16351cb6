package monitoring

import (
	"log/slog"
	"time"

	"ticket-reserve/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_queue_joins_total",
			Help: "Queue join requests that created an entry, by resulting status",
		},
		[]string{"event_id", "status"},
	)

	promotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_promotions_total",
			Help: "Waiting entries promoted to offered",
		},
		[]string{"event_id"},
	)

	expirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_offer_expirations_total",
			Help: "Offers expired without purchase",
		},
		[]string{"event_id"},
	)

	ticketsSold = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_tickets_sold_total",
			Help: "Tickets sold through finalized purchases",
		},
		[]string{"event_id"},
	)

	internalErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_internal_errors_total",
			Help: "Non-fatal internal errors by kind",
		},
		[]string{"kind"},
	)

	waitingDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reservation_waiting_depth",
			Help: "Current waiting-list depth per event and ticket type",
		},
		[]string{"event_id", "ticket_type_id"},
	)
)

// DepthSource reports current waiting-list depths for the gauge collector.
type DepthSource interface {
	WaitingDepths() ([]store.WaitingDepth, error)
}

type Monitor struct {
	depths DepthSource
}

func New() *Monitor {
	return &Monitor{}
}

// StartDepthCollector polls waiting-list depths into the gauge. Gauges for
// drained queues are reset to zero rather than deleted so dashboards keep
// their series.
func (m *Monitor) StartDepthCollector(depths DepthSource, every time.Duration) {
	m.depths = depths

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for range ticker.C {
			m.collectDepths()
		}
	}()
}

func (m *Monitor) collectDepths() {
	rows, err := m.depths.WaitingDepths()
	if err != nil {
		slog.Warn("waiting depth collection failed", "error", err)
		return
	}

	waitingDepth.Reset()
	for _, row := range rows {
		waitingDepth.WithLabelValues(row.EventID, row.TicketTypeID).Set(float64(row.Waiting))
	}
}

func (m *Monitor) TrackJoin(eventID, entryStatus string) {
	queueJoins.WithLabelValues(eventID, entryStatus).Inc()
}

func (m *Monitor) TrackPromotion(eventID string) {
	promotions.WithLabelValues(eventID).Inc()
}

func (m *Monitor) TrackExpiry(eventID string) {
	expirations.WithLabelValues(eventID).Inc()
}

func (m *Monitor) TrackPurchase(eventID string, count int) {
	ticketsSold.WithLabelValues(eventID).Add(float64(count))
}

func (m *Monitor) TrackError(kind string) {
	internalErrors.WithLabelValues(kind).Inc()
}
