package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ticket-reserve/utils"

	pubnub "github.com/pubnub/go"
)

// Notifier pushes realtime reservation updates to the affected user.
// Notification failures are never allowed to fail the engine operation that
// triggered them.
type Notifier interface {
	OfferIssued(userID, eventID string, expiresAt time.Time)
	AddedToWaitlist(userID, eventID string)
	OfferExpired(userID, eventID string)
	PurchaseCompleted(userID, eventID, ticketID string)
}

// NopNotifier drops every notification. Used in tests and when PubNub is
// not configured.
type NopNotifier struct{}

func (NopNotifier) OfferIssued(string, string, time.Time)    {}
func (NopNotifier) AddedToWaitlist(string, string)           {}
func (NopNotifier) OfferExpired(string, string)              {}
func (NopNotifier) PurchaseCompleted(string, string, string) {}

// PubNubNotifier publishes to the per-user channel. A circuit breaker keeps
// a PubNub outage from slowing down every reservation with doomed publishes.
type PubNubNotifier struct {
	pn      *pubnub.PubNub
	breaker *utils.CircuitBreaker
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{
		pn: pn,
		breaker: utils.NewCircuitBreakerWithSettings("pubnub-notify", utils.BreakerSettings{
			MaxRequests: 20,
			Timeout:     30 * time.Second,
		}),
	}
}

func (n *PubNubNotifier) OfferIssued(userID, eventID string, expiresAt time.Time) {
	n.publish(userID, map[string]any{
		"type":             "offer_issued",
		"event_id":         eventID,
		"offer_expires_at": expiresAt.UTC().Format(time.RFC3339),
		"message":          "A ticket is reserved for you - complete your purchase before it expires",
	})
}

func (n *PubNubNotifier) AddedToWaitlist(userID, eventID string) {
	n.publish(userID, map[string]any{
		"type":     "waitlist_joined",
		"event_id": eventID,
		"message":  "You are on the waiting list - we will notify you when a ticket frees up",
	})
}

func (n *PubNubNotifier) OfferExpired(userID, eventID string) {
	n.publish(userID, map[string]any{
		"type":     "offer_expired",
		"event_id": eventID,
		"message":  "Your ticket offer expired. You can rejoin the queue.",
	})
}

func (n *PubNubNotifier) PurchaseCompleted(userID, eventID, ticketID string) {
	n.publish(userID, map[string]any{
		"type":      "purchase_completed",
		"event_id":  eventID,
		"ticket_id": ticketID,
		"message":   "Payment received - your ticket is confirmed",
	})
}

func (n *PubNubNotifier) publish(userID string, message map[string]any) {
	channel := fmt.Sprintf("user-%s", userID)

	go func() {
		err := n.breaker.Do(context.Background(), func() error {
			_, _, err := n.pn.Publish().
				Channel(channel).
				Message(message).
				Execute()
			return err
		})
		if err != nil {
			slog.Warn("notification publish failed", "channel", channel, "error", err)
		}
	}()
}
