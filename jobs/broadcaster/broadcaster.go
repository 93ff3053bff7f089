package broadcaster

import (
	"context"
	"strconv"
	"time"

	"dex/infra/kafka"
	"dex/infra/outbox"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Broadcaster drains the outbox into Kafka.
//
// Delivery is at-least-once: an entry is marked SENT before publishing and
// only ACKED after the broker confirmed it, so a crash in between republishes.
type Broadcaster struct {
	outbox    *outbox.Outbox
	publisher kafka.Publisher
	interval  time.Duration
	log       *zap.Logger
	published *prometheus.CounterVec
}

type Option func(*Broadcaster)

// WithPublishCounter counts publish attempts by result ("acked", "failed").
func WithPublishCounter(c *prometheus.CounterVec) Option {
	return func(b *Broadcaster) { b.published = c }
}

func New(
	box *outbox.Outbox,
	publisher kafka.Publisher,
	interval time.Duration,
	log *zap.Logger,
	opts ...Option,
) *Broadcaster {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	b := &Broadcaster{
		outbox:    box,
		publisher: publisher,
		interval:  interval,
		log:       log.Named("broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broadcaster) count(result string) {
	if b.published != nil {
		b.published.WithLabelValues(result).Inc()
	}
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

// Run blocks until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("started", zap.Duration("interval", b.interval))
	defer b.log.Info("stopped")

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.Flush(ctx); err != nil {
				b.log.Warn("flush failed", zap.Error(err))
			}
		}
	}
}

// ------------------------------------------------
// FLUSH
// ------------------------------------------------

// Flush publishes every pending entry once and reports how many were acked.
func (b *Broadcaster) Flush(ctx context.Context) (int, error) {
	var pending []outbox.Record
	if err := b.outbox.Pending(func(rec outbox.Record) error {
		pending = append(pending, rec)
		return nil
	}); err != nil {
		return 0, err
	}

	acked := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			return acked, ctx.Err()
		}
		if err := b.outbox.UpdateState(rec.Seq, outbox.StateSent, rec.Retries); err != nil {
			return acked, err
		}

		key := []byte(strconv.FormatUint(rec.Seq, 10))
		if err := b.publisher.Publish(ctx, key, rec.Payload); err != nil {
			b.log.Warn("publish failed",
				zap.Uint64("seq", rec.Seq),
				zap.Uint32("retries", rec.Retries+1),
				zap.Error(err))
			b.count("failed")
			if err := b.outbox.UpdateState(rec.Seq, outbox.StateFailed, rec.Retries+1); err != nil {
				return acked, err
			}
			continue
		}

		if err := b.outbox.UpdateState(rec.Seq, outbox.StateAcked, rec.Retries); err != nil {
			return acked, err
		}
		b.count("acked")
		acked++
	}
	return acked, nil
}
