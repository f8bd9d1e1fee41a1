package reaper

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/orderintake/config"
	"example.com/orderintake/internal/models"
	"example.com/orderintake/internal/notify"
)

// CartSource finds carts eligible for abandonment.
type CartSource interface {
	FindStaleCarts(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Order, error)
}

// Expirer transitions a cart to its abandoned terminal status.
type Expirer interface {
	Expire(ctx context.Context, orderID uuid.UUID) error
}

// Reaper periodically expires carts that have been idle past the
// configured threshold. Each cart is expired in its own transaction so one
// failure never aborts the rest of the sweep.
type Reaper struct {
	carts     CartSource
	lifecycle Expirer
	sink      notify.Sink
	cfg       config.ReaperConfig
}

// NewReaper creates a new abandonment reaper
func NewReaper(carts CartSource, lifecycle Expirer, sink notify.Sink, cfg config.ReaperConfig) *Reaper {
	return &Reaper{
		carts:     carts,
		lifecycle: lifecycle,
		sink:      sink,
		cfg:       cfg,
	}
}

// Run starts the sweep on its interval and blocks until ctx is cancelled,
// then shuts the scheduler down.
func (r *Reaper) Run(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(r.cfg.Interval),
		gocron.NewTask(func() {
			if err := r.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Abandonment sweep failed")
			}
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to schedule abandonment sweep")
	}

	log.Info().
		Dur("interval", r.cfg.Interval).
		Dur("idle_threshold", r.cfg.IdleThreshold).
		Msg("Starting abandonment reaper")

	scheduler.Start()

	<-ctx.Done()

	return scheduler.Shutdown()
}

// Sweep expires every cart idle past the threshold. Only the stale-cart
// query can fail the sweep as a whole; per-cart failures are logged and
// skipped.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.cfg.IdleThreshold)

	carts, err := r.carts.FindStaleCarts(ctx, cutoff, r.cfg.SweepLimit)
	if err != nil {
		return errors.Wrap(err, "failed to query stale carts")
	}
	if len(carts) == 0 {
		return nil
	}

	log.Info().Int("count", len(carts)).Msg("Expiring idle carts")

	for i := range carts {
		cart := &carts[i]
		if err := r.lifecycle.Expire(ctx, cart.ID); err != nil {
			// A live conversation may have just mutated or confirmed this
			// cart; losing the transition guard here is expected.
			log.Warn().Err(err).Str("order_id", cart.ID.String()).Msg("Failed to expire cart, continuing sweep")
			continue
		}

		if err := r.sink.Publish(ctx, notify.Event{
			Type:       notify.EventCartAbandoned,
			OrderID:    cart.ID,
			BusinessID: cart.BusinessID,
			Customer:   cart.CustomerKey,
			OccurredAt: time.Now().UTC(),
		}); err != nil {
			log.Warn().Err(err).Str("order_id", cart.ID.String()).Msg("Failed to notify cart abandonment")
		}
	}

	return nil
}
