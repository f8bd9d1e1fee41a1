package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/orderintake/internal/models"
	"example.com/orderintake/internal/repositories"
	"example.com/orderintake/internal/scheduling"
)

// transitions is the allowed source→target map of the order state machine.
var transitions = map[models.Status][]models.Status{
	models.StatusCart:     {models.StatusAccepted, models.StatusRejected, models.StatusIncomplete},
	models.StatusAccepted: {models.StatusOngoing, models.StatusRejected},
	models.StatusOngoing:  {models.StatusCompleted, models.StatusRejected},
}

func canTransition(from, to models.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// LifecycleStore is the draft-store surface the lifecycle controller needs.
type LifecycleStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to models.Status, actor models.Actor) error
	GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error)
}

// LifecycleService drives orders through the status state machine. Every
// transition is atomic with its history append through the store primitive;
// the history therefore always reflects committed transitions in order.
type LifecycleService struct {
	orders    LifecycleStore
	catalog   CatalogStore
	validator ScheduleValidator
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(orders LifecycleStore, catalog CatalogStore, validator ScheduleValidator) *LifecycleService {
	return &LifecycleService{
		orders:    orders,
		catalog:   catalog,
		validator: validator,
	}
}

// Confirm finalizes a cart into an accepted order. Partial data is never
// silently accepted: the cart must have at least one line item, a delivery
// mode, an address when the mode is delivery, and a validated schedule when
// any line item is schedule-only. A stored booking time is validated again
// here, since items added after the slot was booked have never been checked
// against it.
func (s *LifecycleService) Confirm(ctx context.Context, orderID uuid.UUID, actor models.Actor) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load order")
	}
	if order.Status != models.StatusCart {
		return nil, errors.Wrapf(repositories.ErrIllegalTransition,
			"cannot confirm order in status %q", order.Status)
	}

	if len(order.Items) == 0 {
		return nil, Rejectionf("the cart is empty; add at least one item before confirming")
	}
	if order.DeliveryMode == nil {
		return nil, Rejectionf("choose pickup, delivery or on-site before confirming")
	}
	if *order.DeliveryMode == models.DeliveryModeDelivery &&
		(order.DeliveryAddress == nil || *order.DeliveryAddress == "") {
		return nil, Rejectionf("a delivery address is required for delivery orders")
	}

	var lines []scheduling.LineBooking
	for i := range order.Items {
		item, err := s.catalog.GetItem(ctx, order.Items[i].CatalogItemID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve catalog item")
		}
		if item.ScheduleOnly && order.ScheduledFor == nil {
			return nil, Rejectionf("%s requires a booked time; schedule the order before confirming", item.Name)
		}
		if !item.Schedulable {
			continue
		}
		var tier *models.DurationTier
		if order.Items[i].DurationTierID != nil {
			tier, err = s.catalog.GetDurationTier(ctx, *order.Items[i].DurationTierID)
			if err != nil {
				return nil, errors.Wrap(err, "failed to resolve duration tier")
			}
		}
		lines = append(lines, scheduling.LineBooking{
			Item:     item,
			Tier:     tier,
			Quantity: order.Items[i].Quantity,
		})
	}

	if order.ScheduledFor != nil && len(lines) > 0 {
		if _, err := s.validator.Validate(ctx, order.Scope(), order.ID, *order.ScheduledFor, lines); err != nil {
			return nil, err
		}
	}

	if err := s.transition(ctx, orderID, models.StatusCart, models.StatusAccepted, actor); err != nil {
		return nil, err
	}
	order.Status = models.StatusAccepted
	return order, nil
}

// Start marks an accepted order as in fulfillment.
func (s *LifecycleService) Start(ctx context.Context, orderID uuid.UUID, actor models.Actor) error {
	return s.transition(ctx, orderID, models.StatusAccepted, models.StatusOngoing, actor)
}

// Complete marks an ongoing order as fulfilled and stamps the completion
// timestamp.
func (s *LifecycleService) Complete(ctx context.Context, orderID uuid.UUID, actor models.Actor) error {
	return s.transition(ctx, orderID, models.StatusOngoing, models.StatusCompleted, actor)
}

// Cancel rejects an order from any non-terminal status and stamps the
// cancellation timestamp.
func (s *LifecycleService) Cancel(ctx context.Context, orderID uuid.UUID, actor models.Actor) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "failed to load order")
	}
	if order.Status.IsTerminal() {
		return errors.Wrapf(repositories.ErrIllegalTransition,
			"cannot cancel order in terminal status %q", order.Status)
	}
	return s.transition(ctx, orderID, order.Status, models.StatusRejected, actor)
}

// Expire abandons an idle cart. It is driven exclusively by the abandonment
// sweep, never by the conversational flow.
func (s *LifecycleService) Expire(ctx context.Context, orderID uuid.UUID) error {
	return s.transition(ctx, orderID, models.StatusCart, models.StatusIncomplete, models.ActorSystem)
}

// History returns the order's transition log in chronological order.
func (s *LifecycleService) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error) {
	return s.orders.GetStatusHistory(ctx, orderID)
}

func (s *LifecycleService) transition(ctx context.Context, orderID uuid.UUID, from, to models.Status, actor models.Actor) error {
	if !canTransition(from, to) {
		return errors.Wrapf(repositories.ErrIllegalTransition, "%q -> %q", from, to)
	}

	if err := s.orders.TransitionStatus(ctx, orderID, from, to, actor); err != nil {
		return err
	}

	log.Info().
		Str("order_id", orderID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", string(actor)).
		Msg("Order status transitioned")

	return nil
}
