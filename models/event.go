package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is owned by the event management collaborator. The engine only reads
// the cancellation flag before issuing offers or finalizing purchases.
type Event struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Venue       string    `json:"venue"`
	StartTime   time.Time `json:"start_time"`
	IsCancelled bool      `json:"is_cancelled"`
}

// PromoCode is owned by the promo administration collaborator. The discount
// percentage is resolved once at offer time and frozen into the entry, so
// later edits never change an already issued price.
type PromoCode struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Active          bool            `json:"active"`
}
