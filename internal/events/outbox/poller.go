package outbox

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
)

const (
	defaultInterval  = time.Second
	defaultBatchSize = 100
	publishTimeout   = 5 * time.Second
)

// Poller relays activity rows that have not been published yet to the event
// publisher. Delivery is at least once: a row is marked only after a
// successful publish.
type Poller struct {
	outbox    interfaces.ActivityOutbox
	publisher interfaces.EventPublisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewPoller(outbox interfaces.ActivityOutbox, publisher interfaces.EventPublisher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: defaultBatchSize,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublished(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// processUnpublished returns how many rows were published.
func (p *Poller) processUnpublished(ctx context.Context) int {
	activities, err := p.outbox.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("failed to fetch unpublished activity", "error", err)
		return 0
	}

	published := 0
	for _, activity := range activities {
		if err := p.publish(ctx, activity); err != nil {
			p.logger.Warn("failed to publish activity",
				"activity_id", activity.ID, "event_id", activity.EventID, "error", err)
			// later rows for the same account must not overtake this one
			break
		}

		if err := p.outbox.MarkPublished(ctx, activity.ID); err != nil {
			p.logger.Error("failed to mark activity as published",
				"activity_id", activity.ID, "error", err)
			continue
		}
		published++
	}
	return published
}

func (p *Poller) publish(ctx context.Context, activity models.Activity) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := strconv.FormatInt(activity.AccountID, 10)
	if len(activity.Payload) > 0 {
		return p.publisher.Publish(ctx, key, activity.Payload)
	}
	return p.publisher.Publish(ctx, key, activity)
}
