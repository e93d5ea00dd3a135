package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrFeedClosed is returned when the underlying subscription ends while a
// client is still connected.
var ErrFeedClosed = errors.New("event feed closed")

// Relay fans events from the shared channel out to live client connections.
// Each connection gets its own subscription, so every connected client sees
// every published event.
type Relay struct {
	store   Store
	channel string
}

// NewRelay creates a relay over the scan event channel.
func NewRelay(store Store) *Relay {
	return &Relay{store: store, channel: EventChannel}
}

// Feed is one client's subscription. An empty scan filter forwards
// everything; otherwise events of other scans are dropped. Broadcasts
// without a scan pass every filter.
type Feed struct {
	sub    Subscription
	scanID string
}

// Open subscribes on behalf of one client. Events published after Open
// returns are delivered to the feed.
func (r *Relay) Open(ctx context.Context, scanID string) (*Feed, error) {
	sub, err := r.store.Subscribe(ctx, r.channel)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	return &Feed{sub: sub, scanID: scanID}, nil
}

// Forward delivers events to send in publish order until ctx is done, send
// fails or the subscription ends. Undecodable payloads are logged and
// skipped. Returns nil when ctx is done.
func (f *Feed) Forward(ctx context.Context, send func(Event) error) error {
	msgs := f.sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-msgs:
			if !ok {
				return ErrFeedClosed
			}
			ev, err := DecodeEvent(payload)
			if err != nil {
				log.Warn().Err(err).Msg("Skipping undecodable event")
				continue
			}
			if !f.wants(ev) {
				continue
			}
			if err := send(ev); err != nil {
				return err
			}
		}
	}
}

func (f *Feed) wants(ev Event) bool {
	if f.scanID == "" {
		return true
	}
	scan := ev.Scan()
	return scan == "" || scan == f.scanID
}

// Close releases the subscription.
func (f *Feed) Close() error {
	return f.sub.Close()
}

// Stream is Open, Forward and Close in one call.
func (r *Relay) Stream(ctx context.Context, scanID string, send func(Event) error) error {
	feed, err := r.Open(ctx, scanID)
	if err != nil {
		return err
	}
	defer func() {
		if err := feed.Close(); err != nil {
			log.Debug().Err(err).Msg("Closing event feed")
		}
	}()
	return feed.Forward(ctx, send)
}
