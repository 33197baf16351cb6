package payments

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	pubnub "github.com/pubnub/go/v7"
	"github.com/shopspring/decimal"
)

type FeedConfig struct {
	SubscribeKey string
	SecretKey    string
	CipherKey    string
	UserID       string
	Channel      string
}

// Confirmation is a settled payment pushed by the gateway. BillNumber
// carries the waiting-list entry the payment was initiated for.
type Confirmation struct {
	Reference  string
	BillNumber string
	Amount     decimal.Decimal
	PaidAt     time.Time
}

type feedPayload struct {
	RefID      string          `json:"refNo"`
	BillNumber string          `json:"billNumber"`
	Amount     decimal.Decimal `json:"txnAmount"`
	CreatedAt  string          `json:"txnDateTime"`
}

// Feed subscribes to the gateway's PubNub channel and decodes settled
// payments. The gateway pushes each settlement at least once; downstream
// purchase finalization is idempotent on the payment reference.
type Feed struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener
	channel  string
	out      chan *Confirmation
}

func NewFeed(cfg FeedConfig) *Feed {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey
	pnCfg.CipherKey = cfg.CipherKey

	return &Feed{
		pn:       pubnub.NewPubNub(pnCfg),
		listener: pubnub.NewListener(),
		channel:  cfg.Channel,
		out:      make(chan *Confirmation, 64),
	}
}

// Confirmations is the stream of decoded settlements.
func (f *Feed) Confirmations() <-chan *Confirmation {
	return f.out
}

// Start attaches the listener and subscribes. Runs until ctx is cancelled.
func (f *Feed) Start(ctx context.Context) {
	f.pn.AddListener(f.listener)
	f.pn.Subscribe().Channels([]string{f.channel}).Execute()

	go f.processSubscription(ctx)
}

func (f *Feed) processSubscription(ctx context.Context) {
	for {
		select {
		case st := <-f.listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				slog.Info("payment feed connected", "channel", f.channel)
			case pubnub.PNReconnectedCategory:
				slog.Info("payment feed reconnected", "channel", f.channel)
			case pubnub.PNDisconnectedCategory:
				slog.Warn("payment feed disconnected", "channel", f.channel)
			case pubnub.PNAccessDeniedCategory:
				slog.Error("payment feed access denied", "channel", f.channel)
			default:
				slog.Debug("payment feed status", "category", int(st.Category))
			}

		case message := <-f.listener.Message:
			conf, err := decodeConfirmation(message.Message)
			if err != nil {
				slog.Error("undecodable payment message", "error", err)
				continue
			}
			select {
			case f.out <- conf:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			f.pn.Unsubscribe().Channels([]string{f.channel}).Execute()
			return
		}
	}
}

// ParseConfirmation decodes a webhook body. The gateway sends the same
// payload shape over the webhook and the realtime feed.
func ParseConfirmation(body []byte) (*Confirmation, error) {
	var p feedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return p.toConfirmation()
}

func decodeConfirmation(raw interface{}) (*Confirmation, error) {
	var p feedPayload

	switch msg := raw.(type) {
	case string:
		if err := json.NewDecoder(strings.NewReader(msg)).Decode(&p); err != nil {
			return nil, err
		}
	default:
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
	}

	return p.toConfirmation()
}

func (p *feedPayload) toConfirmation() (*Confirmation, error) {
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", p.CreatedAt, time.Local)
	if err != nil {
		return nil, err
	}

	return &Confirmation{
		Reference:  p.RefID,
		BillNumber: p.BillNumber,
		Amount:     p.Amount,
		PaidAt:     ts,
	}, nil
}
