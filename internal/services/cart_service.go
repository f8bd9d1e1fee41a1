package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"example.com/orderintake/internal/models"
	"example.com/orderintake/internal/scheduling"
)

// PreconditionError is a business-rule rejection of a cart or lifecycle
// operation. It is meant for the customer and is never logged as an error.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// Rejectionf builds a PreconditionError.
func Rejectionf(format string, args ...interface{}) *PreconditionError {
	return &PreconditionError{Reason: errors.Errorf(format, args...).Error()}
}

// IsRejection reports whether err is a user-facing business-rule rejection
// (a cart/lifecycle precondition failure or a scheduling rejection) rather
// than an infrastructure or logic error.
func IsRejection(err error) bool {
	var pre *PreconditionError
	var sched *scheduling.Rejection
	return errors.As(err, &pre) || errors.As(err, &sched)
}

// OrderStore is the draft-store surface the cart manager needs.
type OrderStore interface {
	GetOpenCart(ctx context.Context, scope models.Scope, customerKey string) (*models.Order, error)
	CreateCart(ctx context.Context, cart *models.Order) error
	SaveCart(ctx context.Context, cart *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	AppendLineItem(ctx context.Context, orderID uuid.UUID, item *models.OrderItem) error
	RemoveLineItem(ctx context.Context, orderID, itemID uuid.UUID) error
	UpdateLineItemQuantity(ctx context.Context, orderID, itemID uuid.UUID, quantity int) error
	ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
}

// CatalogStore is the read-only catalog surface the cart manager needs.
type CatalogStore interface {
	GetItem(ctx context.Context, id uuid.UUID) (*models.CatalogItem, error)
	FindItemByName(ctx context.Context, businessID uuid.UUID, name string) (*models.CatalogItem, error)
	GetDurationTier(ctx context.Context, id uuid.UUID) (*models.DurationTier, error)
	GetBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error)
}

// ScheduleValidator validates a candidate booking time for a cart.
type ScheduleValidator interface {
	Validate(ctx context.Context, scope models.Scope, orderID uuid.UUID, candidate time.Time, lines []scheduling.LineBooking) (time.Time, error)
}

// CartService mutates the draft order during a conversation and enforces
// cart-level invariants. All catalog prices are snapshotted onto line items
// at add time.
type CartService struct {
	orders    OrderStore
	catalog   CatalogStore
	validator ScheduleValidator
}

// NewCartService creates a new cart service
func NewCartService(orders OrderStore, catalog CatalogStore, validator ScheduleValidator) *CartService {
	return &CartService{
		orders:    orders,
		catalog:   catalog,
		validator: validator,
	}
}

// OpenCart returns the customer's open cart, creating one on first touch.
func (s *CartService) OpenCart(ctx context.Context, scope models.Scope, customerKey, channel string) (*models.Order, error) {
	cart, err := s.orders.GetOpenCart(ctx, scope, customerKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load open cart")
	}
	if cart != nil {
		return cart, nil
	}

	cart = &models.Order{
		ID:          uuid.New(),
		BusinessID:  scope.BusinessID,
		BranchID:    scope.BranchID,
		CustomerKey: customerKey,
		Channel:     channel,
		Status:      models.StatusCart,
		Subtotal:    decimal.Zero,
		DeliveryFee: decimal.Zero,
		Total:       decimal.Zero,
	}
	if err := s.orders.CreateCart(ctx, cart); err != nil {
		return nil, errors.Wrap(err, "failed to create cart")
	}

	log.Info().
		Str("order_id", cart.ID.String()).
		Str("customer", customerKey).
		Msg("Opened new cart")

	return cart, nil
}

// AddItem appends a catalog item to the cart, snapshotting its name and
// price. When tierID is set the duration tier's price is used instead of
// the item's base price.
func (s *CartService) AddItem(ctx context.Context, cart *models.Order, itemID uuid.UUID, quantity int, tierID *uuid.UUID) (*models.OrderItem, error) {
	if quantity < 1 {
		return nil, Rejectionf("quantity must be at least 1")
	}

	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load catalog item")
	}
	if !item.Available {
		return nil, Rejectionf("%s is currently unavailable", item.Name)
	}

	price := item.Price
	if tierID != nil {
		tier, err := s.catalog.GetDurationTier(ctx, *tierID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load duration tier")
		}
		if tier.CatalogItemID != item.ID {
			return nil, Rejectionf("the selected duration does not belong to %s", item.Name)
		}
		price = tier.Price
	}

	line := &models.OrderItem{
		ID:             uuid.New(),
		OrderID:        cart.ID,
		CatalogItemID:  item.ID,
		DurationTierID: tierID,
		Name:           item.Name,
		UnitPrice:      price,
		Quantity:       quantity,
	}
	if err := s.orders.AppendLineItem(ctx, cart.ID, line); err != nil {
		return nil, errors.Wrap(err, "failed to append line item")
	}

	cart.Items = append(cart.Items, *line)
	cart.RecalculateTotals()

	return line, nil
}

// AddItemByName resolves a catalog item by name and appends it to the cart.
func (s *CartService) AddItemByName(ctx context.Context, cart *models.Order, name string, quantity int) (*models.OrderItem, error) {
	item, err := s.catalog.FindItemByName(ctx, cart.BusinessID, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Rejectionf("we don't have %q on the menu", name)
		}
		return nil, errors.Wrap(err, "failed to look up catalog item")
	}
	return s.AddItem(ctx, cart, item.ID, quantity, nil)
}

// RemoveItem removes a line item from the cart.
func (s *CartService) RemoveItem(ctx context.Context, cart *models.Order, lineID uuid.UUID) error {
	if err := s.orders.RemoveLineItem(ctx, cart.ID, lineID); err != nil {
		return errors.Wrap(err, "failed to remove line item")
	}
	for i := range cart.Items {
		if cart.Items[i].ID == lineID {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			break
		}
	}
	cart.RecalculateTotals()
	return nil
}

// UpdateQuantity sets a line item's quantity; zero or less removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, cart *models.Order, lineID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, cart, lineID)
	}
	if err := s.orders.UpdateLineItemQuantity(ctx, cart.ID, lineID, quantity); err != nil {
		return errors.Wrap(err, "failed to update quantity")
	}
	for i := range cart.Items {
		if cart.Items[i].ID == lineID {
			cart.Items[i].Quantity = quantity
			break
		}
	}
	cart.RecalculateTotals()
	return nil
}

// SetDeliveryMode sets how the order will be fulfilled and applies the
// business's delivery fee when the mode is delivery.
func (s *CartService) SetDeliveryMode(ctx context.Context, cart *models.Order, mode models.DeliveryMode) error {
	switch mode {
	case models.DeliveryModePickup, models.DeliveryModeDelivery, models.DeliveryModeOnSite:
	default:
		return Rejectionf("unknown delivery mode %q", mode)
	}

	fee := decimal.Zero
	if mode == models.DeliveryModeDelivery {
		business, err := s.catalog.GetBusiness(ctx, cart.BusinessID)
		if err != nil {
			return errors.Wrap(err, "failed to load business")
		}
		fee = business.DeliveryFee
	}

	cart.DeliveryMode = &mode
	cart.DeliveryFee = fee
	cart.RecalculateTotals()
	return errors.Wrap(s.orders.SaveCart(ctx, cart), "failed to save cart")
}

// SetAddress sets the delivery address text.
func (s *CartService) SetAddress(ctx context.Context, cart *models.Order, address string) error {
	if address == "" {
		return Rejectionf("delivery address cannot be empty")
	}
	cart.DeliveryAddress = &address
	return errors.Wrap(s.orders.SaveCart(ctx, cart), "failed to save cart")
}

// SetNotes sets the free-text order notes.
func (s *CartService) SetNotes(ctx context.Context, cart *models.Order, notes string) error {
	cart.Notes = notes
	return errors.Wrap(s.orders.SaveCart(ctx, cart), "failed to save cart")
}

// SetSchedule validates the candidate time against the cart's schedulable
// items and persists the normalized accepted time. A *scheduling.Rejection
// is returned unwrapped so callers can relay the reason.
func (s *CartService) SetSchedule(ctx context.Context, cart *models.Order, candidate time.Time) error {
	accepted, err := s.CheckAvailability(ctx, cart, candidate)
	if err != nil {
		return err
	}
	cart.ScheduledFor = &accepted
	return errors.Wrap(s.orders.SaveCart(ctx, cart), "failed to save cart")
}

// CheckAvailability runs scheduling validation for the cart without
// mutating anything.
func (s *CartService) CheckAvailability(ctx context.Context, cart *models.Order, candidate time.Time) (time.Time, error) {
	lines, err := s.bookingLines(ctx, cart)
	if err != nil {
		return time.Time{}, err
	}
	return s.validator.Validate(ctx, cart.Scope(), cart.ID, candidate, lines)
}

// bookingLines resolves the cart's line items against the catalog, keeping
// only schedulable ones.
func (s *CartService) bookingLines(ctx context.Context, cart *models.Order) ([]scheduling.LineBooking, error) {
	var lines []scheduling.LineBooking
	for i := range cart.Items {
		item, err := s.catalog.GetItem(ctx, cart.Items[i].CatalogItemID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve catalog item")
		}
		if !item.Schedulable {
			continue
		}
		var tier *models.DurationTier
		if cart.Items[i].DurationTierID != nil {
			tier, err = s.catalog.GetDurationTier(ctx, *cart.Items[i].DurationTierID)
			if err != nil {
				return nil, errors.Wrap(err, "failed to resolve duration tier")
			}
		}
		lines = append(lines, scheduling.LineBooking{
			Item:     item,
			Tier:     tier,
			Quantity: cart.Items[i].Quantity,
		})
	}
	return lines, nil
}

// Snapshot reloads the cart with its current line items.
func (s *CartService) Snapshot(ctx context.Context, cartID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, cartID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to snapshot cart")
	}
	return order, nil
}
