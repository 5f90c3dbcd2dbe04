// Package outbox relays committed ledger events to sinks. Delivery is at
// least once: an entry is marked published only after every sink accepted it.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"credrep/internal/events"
	"credrep/internal/ledger"
)

const (
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 100
)

// Sink receives a batch of events in commit order.
type Sink interface {
	Publish(ctx context.Context, batch []events.Event) error
}

type Relay struct {
	outbox   ledger.Outbox
	sinks    []Sink
	interval time.Duration
	batch    int
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Relay)

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

func New(outbox ledger.Outbox, sinks []Sink, opts ...Option) (*Relay, error) {
	if outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if len(sinks) == 0 {
		return nil, errors.New("at least one sink is required")
	}
	r := &Relay{
		outbox:   outbox,
		sinks:    sinks,
		interval: DefaultPollInterval,
		batch:    DefaultBatchSize,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run drains the outbox every poll interval until ctx is cancelled. Sink
// failures are logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				n, err := r.RelayOnce(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					r.logger.WarnContext(ctx, "outbox relay failed", "error", err)
					break
				}
				if n < r.batch {
					break
				}
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many entries it marked.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	entries, err := r.outbox.FetchUnpublished(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	batch := make([]events.Event, len(entries))
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		batch[i] = e.Event
		ids[i] = e.Event.ID
	}
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, batch); err != nil {
			return 0, err
		}
	}
	if err := r.outbox.MarkPublished(ctx, ids, r.now()); err != nil {
		return 0, err
	}
	return len(entries), nil
}
