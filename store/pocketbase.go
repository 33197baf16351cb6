package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticket-reserve/models"
	"ticket-reserve/status"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

const (
	collEvents      = "events"
	collTicketTypes = "ticket_types"
	collTickets     = "tickets"
	collWaitingList = "waiting_list"
	collPromoCodes  = "promo_codes"
)

// PocketBase implements Store on top of a PocketBase app (or transaction).
type PocketBase struct {
	app core.App
}

func NewPocketBase(app core.App) *PocketBase {
	return &PocketBase{app: app}
}

func (s *PocketBase) RunInTransaction(fn func(tx Store) error) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		return fn(&PocketBase{app: txApp})
	})
}

func (s *PocketBase) FindEntry(id string) (*models.WaitingListEntry, error) {
	record, err := s.app.FindRecordById(collWaitingList, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return entryFromRecord(record), nil
}

func (s *PocketBase) FindActiveEntryForUser(eventID, userID string) (*models.WaitingListEntry, error) {
	records, err := s.app.FindRecordsByFilter(
		collWaitingList,
		"event = {:event} && user = {:user} && status != 'expired'",
		"created", 1, 0,
		dbx.Params{"event": eventID, "user": userID},
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return entryFromRecord(records[0]), nil
}

func (s *PocketBase) FindLatestEntryForUser(eventID, userID, ticketTypeID string) (*models.WaitingListEntry, error) {
	records, err := s.app.FindRecordsByFilter(
		collWaitingList,
		"event = {:event} && user = {:user} && ticket_type = {:tt}",
		"-created", 1, 0,
		dbx.Params{"event": eventID, "user": userID, "tt": ticketTypeID},
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return entryFromRecord(records[0]), nil
}

func (s *PocketBase) FindOldestWaiting(eventID, ticketTypeID string) (*models.WaitingListEntry, error) {
	records, err := s.app.FindRecordsByFilter(
		collWaitingList,
		"event = {:event} && ticket_type = {:tt} && status = 'waiting'",
		"created", 1, 0,
		dbx.Params{"event": eventID, "tt": ticketTypeID},
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return entryFromRecord(records[0]), nil
}

func (s *PocketBase) FindDueOffers(now time.Time, limit int) ([]*models.WaitingListEntry, error) {
	dt, err := types.ParseDateTime(now.UTC())
	if err != nil {
		return nil, err
	}
	records, err := s.app.FindRecordsByFilter(
		collWaitingList,
		"status = 'offered' && offer_expires_at <= {:now}",
		"offer_expires_at", limit, 0,
		dbx.Params{"now": dt.String()},
	)
	if err != nil {
		return nil, err
	}
	return entriesFromRecords(records), nil
}

func (s *PocketBase) FindOfferedEntries() ([]*models.WaitingListEntry, error) {
	records, err := s.app.FindRecordsByFilter(
		collWaitingList,
		"status = 'offered'",
		"offer_expires_at", 0, 0,
	)
	if err != nil {
		return nil, err
	}
	return entriesFromRecords(records), nil
}

func (s *PocketBase) CreateEntry(e *models.WaitingListEntry) error {
	collection, err := s.app.FindCollectionByNameOrId(collWaitingList)
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Set("event", e.EventID)
	record.Set("ticket_type", e.TicketTypeID)
	record.Set("user", e.UserID)
	record.Set("count", e.Count)
	record.Set("status", string(e.Status))
	record.Set("promo_code", e.PromoCodeID)
	record.Set("promo_code_discount", e.PromoCodeDiscount.InexactFloat64())
	if e.OfferExpiresAt != nil {
		dt, err := types.ParseDateTime(e.OfferExpiresAt.UTC())
		if err != nil {
			return err
		}
		record.Set("offer_expires_at", dt)
	}

	if err := s.app.Save(record); err != nil {
		return err
	}

	e.ID = record.Id
	e.CreatedAt = record.GetDateTime("created").Time()
	return nil
}

// TransitionEntry patches an entry's status after checking both the state
// machine and the entry's current stored state. A mismatch between the
// stored state and from yields ErrStateConflict, which makes retries of
// expiry and purchase safe no-ops for the caller to detect.
func (s *PocketBase) TransitionEntry(id string, from, to models.EntryStatus, offerExpiresAt *time.Time) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s: %w", from, to, status.ErrStateConflict)
	}

	record, err := s.app.FindRecordById(collWaitingList, id)
	if err != nil {
		return mapNotFound(err)
	}
	if models.EntryStatus(record.GetString("status")) != from {
		return status.ErrStateConflict
	}

	record.Set("status", string(to))
	if offerExpiresAt != nil {
		dt, err := types.ParseDateTime(offerExpiresAt.UTC())
		if err != nil {
			return err
		}
		record.Set("offer_expires_at", dt)
	}

	return s.app.Save(record)
}

func (s *PocketBase) CreateTicket(t *models.Ticket) error {
	collection, err := s.app.FindCollectionByNameOrId(collTickets)
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Set("event", t.EventID)
	record.Set("ticket_type", t.TicketTypeID)
	record.Set("user", t.UserID)
	record.Set("count", t.Count)
	record.Set("status", string(t.Status))
	record.Set("amount", t.Amount.InexactFloat64())
	record.Set("promo_code", t.PromoCodeID)
	record.Set("payment_reference", t.PaymentReference)

	if err := s.app.Save(record); err != nil {
		return err
	}

	t.ID = record.Id
	t.CreatedAt = record.GetDateTime("created").Time()
	return nil
}

func (s *PocketBase) FindTicketByReference(reference string) (*models.Ticket, error) {
	if reference == "" {
		return nil, nil
	}
	records, err := s.app.FindRecordsByFilter(
		collTickets,
		"payment_reference = {:ref}",
		"created", 1, 0,
		dbx.Params{"ref": reference},
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return ticketFromRecord(records[0]), nil
}

func (s *PocketBase) SumSoldTickets(eventID, ticketTypeID string) (int, error) {
	var total int
	err := s.app.DB().
		NewQuery("SELECT COALESCE(SUM([[count]]), 0) FROM {{tickets}} WHERE [[event]] = {:event} AND [[ticket_type]] = {:tt} AND [[status]] IN ('valid', 'used')").
		Bind(dbx.Params{"event": eventID, "tt": ticketTypeID}).
		Row(&total)
	return total, err
}

func (s *PocketBase) SumActiveOffers(eventID, ticketTypeID string, now time.Time) (int, error) {
	dt, err := types.ParseDateTime(now.UTC())
	if err != nil {
		return 0, err
	}
	var total int
	err = s.app.DB().
		NewQuery("SELECT COALESCE(SUM([[count]]), 0) FROM {{waiting_list}} WHERE [[event]] = {:event} AND [[ticket_type]] = {:tt} AND [[status]] = 'offered' AND [[offer_expires_at]] > {:now}").
		Bind(dbx.Params{"event": eventID, "tt": ticketTypeID, "now": dt.String()}).
		Row(&total)
	return total, err
}

func (s *PocketBase) CountWaitingAhead(eventID, ticketTypeID string, createdBefore time.Time) (int, error) {
	dt, err := types.ParseDateTime(createdBefore.UTC())
	if err != nil {
		return 0, err
	}
	var total int
	err = s.app.DB().
		NewQuery("SELECT COUNT(*) FROM {{waiting_list}} WHERE [[event]] = {:event} AND [[ticket_type]] = {:tt} AND [[status]] = 'waiting' AND [[created]] < {:before}").
		Bind(dbx.Params{"event": eventID, "tt": ticketTypeID, "before": dt.String()}).
		Row(&total)
	return total, err
}

func (s *PocketBase) WaitingDepths() ([]WaitingDepth, error) {
	var depths []WaitingDepth
	err := s.app.DB().
		NewQuery("SELECT [[event]], [[ticket_type]], COUNT(*) AS [[waiting]] FROM {{waiting_list}} WHERE [[status]] = 'waiting' GROUP BY [[event]], [[ticket_type]]").
		All(&depths)
	return depths, err
}

func (s *PocketBase) FindEvent(id string) (*models.Event, error) {
	record, err := s.app.FindRecordById(collEvents, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &models.Event{
		ID:          record.Id,
		Name:        record.GetString("name"),
		Venue:       record.GetString("venue"),
		StartTime:   record.GetDateTime("start_time").Time(),
		IsCancelled: record.GetBool("is_cancelled"),
	}, nil
}

func (s *PocketBase) FindTicketType(id string) (*models.TicketType, error) {
	record, err := s.app.FindRecordById(collTicketTypes, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &models.TicketType{
		ID:           record.Id,
		EventID:      record.GetString("event"),
		Name:         record.GetString("name"),
		TotalTickets: record.GetInt("total_tickets"),
		Price:        decimal.NewFromFloat(record.GetFloat("price")),
	}, nil
}

func (s *PocketBase) FindPromoCode(id string) (*models.PromoCode, error) {
	record, err := s.app.FindRecordById(collPromoCodes, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &models.PromoCode{
		ID:              record.Id,
		Code:            record.GetString("code"),
		DiscountPercent: decimal.NewFromFloat(record.GetFloat("discount_percent")),
		Active:          record.GetBool("active"),
	}, nil
}

func entryFromRecord(record *core.Record) *models.WaitingListEntry {
	entry := &models.WaitingListEntry{
		ID:                record.Id,
		EventID:           record.GetString("event"),
		TicketTypeID:      record.GetString("ticket_type"),
		UserID:            record.GetString("user"),
		Count:             record.GetInt("count"),
		Status:            models.EntryStatus(record.GetString("status")),
		PromoCodeID:       record.GetString("promo_code"),
		PromoCodeDiscount: decimal.NewFromFloat(record.GetFloat("promo_code_discount")),
		CreatedAt:         record.GetDateTime("created").Time(),
	}
	if expires := record.GetDateTime("offer_expires_at"); !expires.IsZero() {
		t := expires.Time()
		entry.OfferExpiresAt = &t
	}
	return entry
}

func entriesFromRecords(records []*core.Record) []*models.WaitingListEntry {
	entries := make([]*models.WaitingListEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, entryFromRecord(record))
	}
	return entries
}

func ticketFromRecord(record *core.Record) *models.Ticket {
	return &models.Ticket{
		ID:               record.Id,
		EventID:          record.GetString("event"),
		TicketTypeID:     record.GetString("ticket_type"),
		UserID:           record.GetString("user"),
		Count:            record.GetInt("count"),
		Status:           models.TicketStatus(record.GetString("status")),
		Amount:           decimal.NewFromFloat(record.GetFloat("amount")),
		PromoCodeID:      record.GetString("promo_code"),
		PaymentReference: record.GetString("payment_reference"),
		CreatedAt:        record.GetDateTime("created").Time(),
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return status.ErrNotFound
	}
	return err
}
