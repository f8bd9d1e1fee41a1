package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/orderintake/internal/models"
)

// ErrIllegalTransition is returned when a status transition is attempted
// from a state that does not allow it. It signals a logic error, not a
// business-rule rejection.
var ErrIllegalTransition = errors.New("illegal status transition")

// OrderRepository is the single source of truth for cart and order state.
type OrderRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB, readOnlyDB *gorm.DB) *OrderRepository {
	return &OrderRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetOpenCart returns the open cart for the (scope, customer) pair, or nil
// when none exists. If concurrent creation left more than one open cart the
// duplicates are collapsed into a single survivor inside one transaction:
// the cart with items wins (newest on a tie), loser items move across,
// delivery attributes the survivor lacks are merged in, and losers are
// terminated as rejected with a history row.
func (r *OrderRepository) GetOpenCart(ctx context.Context, scope models.Scope, customerKey string) (*models.Order, error) {
	var carts []models.Order
	q := r.db.WithContext(ctx).
		Preload("Items").
		Where("business_id = ? AND customer_key = ? AND status = ?",
			scope.BusinessID, customerKey, models.StatusCart)
	if scope.BranchID != nil {
		q = q.Where("branch_id = ?", *scope.BranchID)
	} else {
		q = q.Where("branch_id IS NULL")
	}
	if err := q.Order("created_at ASC").Find(&carts).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query open carts")
	}

	switch len(carts) {
	case 0:
		return nil, nil
	case 1:
		return &carts[0], nil
	}

	return r.collapseDuplicates(ctx, carts)
}

func (r *OrderRepository) collapseDuplicates(ctx context.Context, carts []models.Order) (*models.Order, error) {
	survivor := pickSurvivor(carts)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range carts {
			loser := &carts[i]
			if loser.ID == survivor.ID {
				continue
			}

			if len(loser.Items) > 0 {
				if err := tx.Model(&models.OrderItem{}).
					Where("order_id = ?", loser.ID).
					Update("order_id", survivor.ID).Error; err != nil {
					return errors.Wrap(err, "failed to move line items to survivor")
				}
				survivor.Items = append(survivor.Items, loser.Items...)
			}

			mergeDraftAttributes(survivor, loser)

			now := time.Now()
			res := tx.Model(&models.Order{}).
				Where("id = ? AND status = ?", loser.ID, models.StatusCart).
				Updates(map[string]interface{}{
					"status":       models.StatusRejected,
					"cancelled_at": &now,
				})
			if res.Error != nil {
				return errors.Wrap(res.Error, "failed to terminate duplicate cart")
			}
			if err := tx.Create(&models.OrderStatusLog{
				ID:      uuid.New(),
				OrderID: loser.ID,
				Status:  models.StatusRejected,
				Actor:   models.ActorSystem,
			}).Error; err != nil {
				return errors.Wrap(err, "failed to log duplicate cart termination")
			}
		}

		survivor.RecalculateTotals()
		if err := tx.Model(&models.Order{}).Where("id = ?", survivor.ID).
			Updates(map[string]interface{}{
				"delivery_mode":    survivor.DeliveryMode,
				"delivery_address": survivor.DeliveryAddress,
				"delivery_fee":     survivor.DeliveryFee,
				"scheduled_for":    survivor.ScheduledFor,
				"subtotal":         survivor.Subtotal,
				"total":            survivor.Total,
			}).Error; err != nil {
			return errors.Wrap(err, "failed to update surviving cart")
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return survivor, nil
}

// mergeDraftAttributes copies draft attributes the survivor lacks from a
// duplicate cart. The delivery fee travels with the delivery mode so a
// merged delivery cart keeps the fee in its totals.
func mergeDraftAttributes(survivor, loser *models.Order) {
	if survivor.DeliveryMode == nil && loser.DeliveryMode != nil {
		survivor.DeliveryMode = loser.DeliveryMode
		survivor.DeliveryFee = loser.DeliveryFee
	}
	if survivor.DeliveryAddress == nil && loser.DeliveryAddress != nil {
		survivor.DeliveryAddress = loser.DeliveryAddress
	}
	if survivor.ScheduledFor == nil && loser.ScheduledFor != nil {
		survivor.ScheduledFor = loser.ScheduledFor
	}
}

// pickSurvivor prefers the cart that already has items; on a tie the newest
// cart wins.
func pickSurvivor(carts []models.Order) *models.Order {
	survivor := &carts[0]
	for i := 1; i < len(carts); i++ {
		c := &carts[i]
		switch {
		case len(c.Items) > 0 && len(survivor.Items) == 0:
			survivor = c
		case len(c.Items) > 0 == (len(survivor.Items) > 0) && c.CreatedAt.After(survivor.CreatedAt):
			survivor = c
		}
	}
	return survivor
}

// CreateCart persists a new cart.
func (r *OrderRepository) CreateCart(ctx context.Context, cart *models.Order) error {
	if cart.ID == uuid.Nil {
		cart.ID = uuid.New()
	}
	cart.Status = models.StatusCart
	if err := r.db.WithContext(ctx).Create(cart).Error; err != nil {
		return errors.Wrap(err, "failed to create cart")
	}
	return nil
}

// GetByID loads an order with its line items.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.readOnlyDB.WithContext(ctx).Preload("Items").First(&order, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get order by ID")
	}
	return &order, nil
}

// SaveCart persists the cart's mutable draft fields and recomputed totals.
// Line items are managed through the dedicated item operations.
func (r *OrderRepository) SaveCart(ctx context.Context, cart *models.Order) error {
	cart.RecalculateTotals()
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", cart.ID, models.StatusCart).
		Updates(map[string]interface{}{
			"delivery_mode":    cart.DeliveryMode,
			"delivery_address": cart.DeliveryAddress,
			"scheduled_for":    cart.ScheduledFor,
			"notes":            cart.Notes,
			"delivery_fee":     cart.DeliveryFee,
			"subtotal":         cart.Subtotal,
			"total":            cart.Total,
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to save cart")
	}
	return nil
}

// AppendLineItem inserts a line item and recomputes the cart totals in one
// transaction.
func (r *OrderRepository) AppendLineItem(ctx context.Context, orderID uuid.UUID, item *models.OrderItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.OrderID = orderID

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(item).Error; err != nil {
			return errors.Wrap(err, "failed to insert line item")
		}
		return recomputeTotals(tx, orderID)
	})
}

// RemoveLineItem deletes a line item and recomputes the cart totals.
func (r *OrderRepository) RemoveLineItem(ctx context.Context, orderID, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND order_id = ?", itemID, orderID).Delete(&models.OrderItem{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to delete line item")
		}
		if res.RowsAffected == 0 {
			return errors.New("line item not found")
		}
		return recomputeTotals(tx, orderID)
	})
}

// UpdateLineItemQuantity sets a line item's quantity and recomputes totals.
func (r *OrderRepository) UpdateLineItemQuantity(ctx context.Context, orderID, itemID uuid.UUID, quantity int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.OrderItem{}).
			Where("id = ? AND order_id = ?", itemID, orderID).
			Update("quantity", quantity)
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to update line item quantity")
		}
		if res.RowsAffected == 0 {
			return errors.New("line item not found")
		}
		return recomputeTotals(tx, orderID)
	})
}

// ListLineItems returns the cart's line items.
func (r *OrderRepository) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.readOnlyDB.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list line items")
	}
	return items, nil
}

// recomputeTotals reloads the order with items inside tx and persists the
// derived subtotal and total.
func recomputeTotals(tx *gorm.DB, orderID uuid.UUID) error {
	var order models.Order
	if err := tx.Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
		return errors.Wrap(err, "failed to reload order for totals")
	}
	order.RecalculateTotals()
	if err := tx.Model(&models.Order{}).Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"subtotal": order.Subtotal,
			"total":    order.Total,
		}).Error; err != nil {
		return errors.Wrap(err, "failed to persist totals")
	}
	return nil
}

// TransitionStatus moves an order from one status to another and appends the
// audit row in the same transaction. The update is guarded on the expected
// source status so that concurrent transitions cannot both win; losing the
// guard surfaces ErrIllegalTransition. The history row is only written when
// the guarded update committed, so the log always reflects transitions that
// durably happened, in order.
func (r *OrderRepository) TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to models.Status, actor models.Actor) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": to}
		now := time.Now()
		switch to {
		case models.StatusCompleted:
			updates["completed_at"] = &now
		case models.StatusRejected, models.StatusIncomplete:
			updates["cancelled_at"] = &now
		}

		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", orderID, from).
			Updates(updates)
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to update order status")
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(ErrIllegalTransition, "order %s is not in status %q", orderID, from)
		}

		if err := tx.Create(&models.OrderStatusLog{
			ID:      uuid.New(),
			OrderID: orderID,
			Status:  to,
			Actor:   actor,
		}).Error; err != nil {
			return errors.Wrap(err, "failed to append status log")
		}

		return nil
	})
}

// GetStatusHistory returns the append-only transition log for an order in
// chronological order.
func (r *OrderRepository) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error) {
	var logs []models.OrderStatusLog
	err := r.readOnlyDB.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query status history")
	}
	return logs, nil
}

// FindStaleCarts returns open carts whose last update is older than the
// given cutoff, for the abandonment sweep.
func (r *OrderRepository) FindStaleCarts(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Order, error) {
	var carts []models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusCart, updatedBefore).
		Limit(limit).
		Find(&carts).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query stale carts")
	}
	return carts, nil
}

// BookingReservation is one existing booking of a catalog item whose
// occupied interval overlaps a queried window.
type BookingReservation struct {
	OrderID         uuid.UUID
	Quantity        int
	ScheduledFor    time.Time
	DurationMinutes int
}

// FindOverlappingBookings returns non-terminal bookings of the item whose
// occupied interval [scheduled_for, scheduled_for + duration) overlaps
// [start, end). Rejected and abandoned orders do not hold capacity. The
// order identified by excludeOrderID is skipped so a cart being validated
// does not count against itself.
func (r *OrderRepository) FindOverlappingBookings(ctx context.Context, itemID uuid.UUID, start, end time.Time, excludeOrderID uuid.UUID) ([]BookingReservation, error) {
	var reservations []BookingReservation
	err := r.readOnlyDB.WithContext(ctx).Raw(`
		SELECT o.id AS order_id,
		       oi.quantity,
		       o.scheduled_for,
		       COALESCE(dt.duration_minutes, ci.duration_minutes) AS duration_minutes
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		JOIN catalog_items ci ON ci.id = oi.catalog_item_id
		LEFT JOIN duration_tiers dt ON dt.id = oi.duration_tier_id
		WHERE oi.catalog_item_id = ?
		  AND o.id <> ?
		  AND o.status NOT IN (?, ?)
		  AND o.deleted_at IS NULL
		  AND o.scheduled_for IS NOT NULL
		  AND o.scheduled_for < ?
		  AND o.scheduled_for + make_interval(mins => COALESCE(dt.duration_minutes, ci.duration_minutes)) > ?
	`, itemID, excludeOrderID, models.StatusRejected, models.StatusIncomplete, end, start).
		Scan(&reservations).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query overlapping bookings")
	}
	return reservations, nil
}
