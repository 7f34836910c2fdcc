// Package notify moves committed outbox rows onto the notification channel.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"casedesk/channel"
	"casedesk/db"
)

var ErrUnknownTopic = errors.New("notify: unknown topic")

// Publisher is the server side of the notification channel.
type Publisher interface {
	Publish(destination string, body []byte) int
	PublishPersonal(recipients []int64, body []byte) int
}

type payload struct {
	CaseID     int64   `json:"caseId"`
	Title      string  `json:"title"`
	Category   string  `json:"category"`
	Recipients []int64 `json:"recipients"`
}

// Delivery is an outbox row translated to a channel publish. Broadcast
// deliveries go to the shared topic; the rest go to personal topics of
// Recipients, nil meaning every connected professional.
type Delivery struct {
	Broadcast  bool
	Recipients []int64
	Body       []byte
}

// Translate maps an outbox row onto the frame body it produces.
func Translate(m Message) (Delivery, error) {
	var p payload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return Delivery{}, fmt.Errorf("notify: decode %s payload: %w", m.Topic, err)
	}
	if p.CaseID <= 0 {
		return Delivery{}, fmt.Errorf("notify: %s payload without caseId", m.Topic)
	}

	switch m.Topic {
	case db.TopicCasePublished:
		body := channel.EncodeBroadcast(channel.NewCaseBroadcast{CaseID: p.CaseID, Title: p.Title, Category: p.Category})
		return Delivery{Broadcast: true, Body: body}, nil
	case db.TopicCaseAssigned:
		return Delivery{Recipients: p.Recipients, Body: channel.EncodeUpdate(channel.TypeCaseAssigned, p.CaseID)}, nil
	case db.TopicCaseDeleted:
		return Delivery{Recipients: p.Recipients, Body: channel.EncodeUpdate(channel.TypeCaseDeleted, p.CaseID)}, nil
	case db.TopicCaseUpdated:
		return Delivery{Recipients: p.Recipients, Body: channel.EncodeUpdate(channel.TypeCaseUpdated, p.CaseID)}, nil
	default:
		return Delivery{}, fmt.Errorf("%w: %s", ErrUnknownTopic, m.Topic)
	}
}

type Relay struct {
	store    Store
	pub      Publisher
	interval time.Duration
	batch    int
	logger   *log.Logger
}

func NewRelay(store Store, pub Publisher, interval time.Duration, batch int, logger *log.Logger) *Relay {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if batch <= 0 {
		batch = 50
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{store: store, pub: pub, interval: interval, batch: batch, logger: logger}
}

// Once relays a single batch and returns the number of rows delivered.
func (r *Relay) Once(ctx context.Context) (int, error) {
	return r.store.Process(ctx, r.batch, func(m Message) error {
		d, err := Translate(m)
		if err != nil {
			r.logger.Printf("notify: drop outbox %s: %v", m.ID, err)
			return err
		}
		if d.Broadcast {
			r.pub.Publish(channel.BroadcastTopic, d.Body)
			return nil
		}
		r.pub.PublishPersonal(d.Recipients, d.Body)
		return nil
	})
}

// Run relays until ctx is cancelled. A full batch is followed immediately by
// another one.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		n, err := r.Once(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Printf("notify: relay batch: %v", err)
		}
		if n >= r.batch {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
