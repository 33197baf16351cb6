package models

// Availability is the ledger snapshot for one (event, ticket type).
type Availability struct {
	EventID          string `json:"event_id"`
	TicketTypeID     string `json:"ticket_type_id"`
	TotalTickets     int    `json:"total_tickets"`
	PurchasedCount   int    `json:"purchased_count"`
	ActiveOffers     int    `json:"active_offers"`
	RemainingTickets int    `json:"remaining_tickets"`
	IsSoldOut        bool   `json:"is_sold_out"`
}

// NewAvailability derives the remaining capacity from the raw aggregates.
// Remaining is floored at zero so oversold snapshots never go negative.
func NewAvailability(eventID, ticketTypeID string, total, purchased, activeOffers int) Availability {
	remaining := total - (purchased + activeOffers)
	if remaining < 0 {
		remaining = 0
	}
	return Availability{
		EventID:          eventID,
		TicketTypeID:     ticketTypeID,
		TotalTickets:     total,
		PurchasedCount:   purchased,
		ActiveOffers:     activeOffers,
		RemainingTickets: remaining,
		IsSoldOut:        remaining <= 0,
	}
}
