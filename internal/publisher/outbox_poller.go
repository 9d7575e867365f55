package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/go_store/internal/metrics"
	"github.com/fjod/go_store/internal/storage"
	"github.com/fjod/go_store/pkg/circuitbreaker"
)

// OutboxPoller moves committed events from the outbox to a Sink. Delivery is
// at least once: an event is marked sent only after the sink accepted it.
type OutboxPoller struct {
	outbox    storage.OutboxReader
	sink      Sink
	breaker   *circuitbreaker.Breaker
	log       *slog.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
}

func NewOutboxPoller(outbox storage.OutboxReader, sink Sink, log *slog.Logger, m *metrics.Metrics) *OutboxPoller {
	return &OutboxPoller{
		outbox:    outbox,
		sink:      sink,
		breaker:   circuitbreaker.New(circuitbreaker.DefaultSettings("outbox-sink"), log),
		log:       log,
		metrics:   m,
		interval:  time.Second,
		batchSize: 100,
	}
}

func (p *OutboxPoller) WithInterval(d time.Duration) *OutboxPoller {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *OutboxPoller) WithBatchSize(n int) *OutboxPoller {
	if n > 0 {
		p.batchSize = n
	}
	return p
}

func (p *OutboxPoller) WithBreaker(b *circuitbreaker.Breaker) *OutboxPoller {
	p.breaker = b
	return p
}

// Run polls until ctx is canceled.
func (p *OutboxPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processPending(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// processPending publishes one batch and returns how many events were sent.
// It stops at the first failure so later events never overtake earlier ones.
func (p *OutboxPoller) processPending(ctx context.Context) int {
	records, err := p.outbox.FetchPending(ctx, p.batchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", slog.String("error", err.Error()))
		return 0
	}

	sent := 0
	for _, rec := range records {
		err := p.breaker.Do(func() error {
			return p.sink.Publish(ctx, rec.Event)
		})
		p.metrics.OutboxResult(err)
		if err != nil {
			if circuitbreaker.IsOpen(err) {
				p.log.WarnContext(ctx, "event sink unavailable, delaying outbox batch",
					slog.Int("pending", len(records)-sent))
			} else {
				p.log.ErrorContext(ctx, "failed to publish event",
					slog.Int64("outbox_id", rec.ID),
					slog.String("event_type", rec.Event.Type),
					slog.String("error", err.Error()))
			}
			return sent
		}

		if err := p.outbox.MarkSent(ctx, rec.ID); err != nil {
			p.log.ErrorContext(ctx, "failed to mark event as sent",
				slog.Int64("outbox_id", rec.ID),
				slog.String("error", err.Error()))
			return sent
		}
		sent++
	}
	return sent
}
