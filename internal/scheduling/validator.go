package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/orderintake/internal/models"
	"example.com/orderintake/internal/repositories"
)

// Rule names the check that rejected a candidate booking time.
type Rule string

const (
	RuleLeadTime Rule = "lead_time"
	RuleWindow   Rule = "window"
	RuleCapacity Rule = "capacity"
)

// Rejection is a structured refusal of a candidate booking time. It is a
// business-rule outcome meant for the customer, not an infrastructure error.
// WindowFrom/WindowTo carry the bounds that were checked so a caller can
// compute the nearest valid alternative.
type Rejection struct {
	Rule      Rule
	ItemName  string
	Reason    string
	Requested time.Time
	// Shortfall is how far the candidate falls short of the minimum lead
	// time; only set for lead-time rejections.
	Shortfall time.Duration
	// WindowFrom/WindowTo bound the bookable window on the requested day;
	// only set for window rejections.
	WindowFrom *time.Time
	WindowTo   *time.Time
	// Capacity and Reserved describe the conflict for capacity rejections.
	Capacity int
	Reserved int
}

func (r *Rejection) Error() string {
	return r.Reason
}

// Catalog is the read-only catalog access the validator needs. The business
// row supplies the timezone in which windows and opening hours are defined.
type Catalog interface {
	GetBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error)
	GetOperatingHours(ctx context.Context, scope models.Scope, weekday int) (*models.OperatingHours, error)
}

// Bookings looks up existing reservations overlapping a time window.
type Bookings interface {
	FindOverlappingBookings(ctx context.Context, itemID uuid.UUID, start, end time.Time, excludeOrderID uuid.UUID) ([]repositories.BookingReservation, error)
}

// LineBooking is one schedulable line item of the cart under validation.
type LineBooking struct {
	Item     *models.CatalogItem
	Tier     *models.DurationTier
	Quantity int
}

// Duration returns the occupied duration, preferring the duration tier.
func (l LineBooking) Duration() time.Duration {
	minutes := l.Item.DurationMinutes
	if l.Tier != nil {
		minutes = l.Tier.DurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Validator decides whether a candidate booking time is acceptable for the
// schedulable items of a cart. Checks run in a fixed order per item and the
// first failing check wins, so the customer always gets the most actionable
// reason: lead time, then availability window, then capacity.
type Validator struct {
	catalog              Catalog
	bookings             Bookings
	lastOrderLeadMinutes int
	now                  func() time.Time
}

// NewValidator creates a new scheduling validator. lastOrderLeadMinutes is
// how long before closing time the last booking may start.
func NewValidator(catalog Catalog, bookings Bookings, lastOrderLeadMinutes int) *Validator {
	return &Validator{
		catalog:              catalog,
		bookings:             bookings,
		lastOrderLeadMinutes: lastOrderLeadMinutes,
		now:                  time.Now,
	}
}

// WithClock overrides the validator's time source.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate checks the candidate time against every schedulable line and
// returns the normalized accepted time, a *Rejection for the first failing
// rule, or an infrastructure error. The accepted time is normalized to UTC
// for storage; wall-clock window rules are evaluated in the business's
// timezone. orderID identifies the cart being
// validated so its own persisted booking does not count against itself.
// Validation performs no writes: the same candidate against the same store
// state always yields the same outcome.
func (v *Validator) Validate(ctx context.Context, scope models.Scope, orderID uuid.UUID, candidate time.Time, lines []LineBooking) (time.Time, error) {
	normalized := candidate.UTC().Truncate(time.Minute)

	for _, line := range lines {
		if !line.Item.Schedulable {
			continue
		}
		if err := v.checkLeadTime(normalized, line); err != nil {
			return time.Time{}, err
		}
		if err := v.checkWindow(ctx, scope, normalized, line); err != nil {
			return time.Time{}, err
		}
		if err := v.checkCapacity(ctx, orderID, normalized, line); err != nil {
			return time.Time{}, err
		}
	}

	return normalized, nil
}

func (v *Validator) checkLeadTime(candidate time.Time, line LineBooking) error {
	if line.Item.MinLeadHours <= 0 {
		return nil
	}
	earliest := v.now().Add(time.Duration(line.Item.MinLeadHours) * time.Hour)
	if candidate.Before(earliest) {
		shortfall := earliest.Sub(candidate).Round(time.Minute)
		return &Rejection{
			Rule:      RuleLeadTime,
			ItemName:  line.Item.Name,
			Requested: candidate,
			Shortfall: shortfall,
			Reason: fmt.Sprintf("%s must be booked at least %dh in advance; the requested time is %s too soon",
				line.Item.Name, line.Item.MinLeadHours, shortfall),
		}
	}
	return nil
}

// checkWindow evaluates availability windows, weekday masks and opening
// hours on the business's own clock: item windows and operating hours are
// stored as local minutes-of-day, so the candidate is converted into the
// business timezone before any wall-clock comparison.
func (v *Validator) checkWindow(ctx context.Context, scope models.Scope, candidate time.Time, line LineBooking) error {
	item := line.Item

	local, err := v.localize(ctx, scope, candidate)
	if err != nil {
		return err
	}
	weekday := local.Weekday()
	minuteOfDay := local.Hour()*60 + local.Minute()

	if !item.WeekdayAllowed(weekday) {
		return &Rejection{
			Rule:      RuleWindow,
			ItemName:  item.Name,
			Requested: candidate,
			Reason:    fmt.Sprintf("%s is not available on %s", item.Name, weekday),
		}
	}

	windowFrom, windowTo := dayBounds(local)
	if item.AvailableFrom != nil {
		windowFrom = atMinute(local, *item.AvailableFrom)
	}
	if item.AvailableTo != nil {
		windowTo = atMinute(local, *item.AvailableTo)
	}
	if (item.AvailableFrom != nil && minuteOfDay < *item.AvailableFrom) ||
		(item.AvailableTo != nil && minuteOfDay > *item.AvailableTo) {
		return &Rejection{
			Rule:       RuleWindow,
			ItemName:   item.Name,
			Requested:  candidate,
			WindowFrom: &windowFrom,
			WindowTo:   &windowTo,
			Reason: fmt.Sprintf("%s can only be booked between %s and %s",
				item.Name, windowFrom.Format("15:04"), windowTo.Format("15:04")),
		}
	}

	hours, err := v.catalog.GetOperatingHours(ctx, scope, int(weekday))
	if err != nil {
		return errors.Wrap(err, "failed to load operating hours")
	}
	if hours == nil {
		return nil
	}
	if hours.Closed {
		return &Rejection{
			Rule:      RuleWindow,
			ItemName:  item.Name,
			Requested: candidate,
			Reason:    fmt.Sprintf("we are closed on %s", weekday),
		}
	}

	openAt := atMinute(local, hours.OpenMinute)
	lastOrderAt := atMinute(local, hours.CloseMinute-v.lastOrderLeadMinutes)
	if minuteOfDay < hours.OpenMinute || minuteOfDay > hours.CloseMinute-v.lastOrderLeadMinutes {
		return &Rejection{
			Rule:       RuleWindow,
			ItemName:   item.Name,
			Requested:  candidate,
			WindowFrom: &openAt,
			WindowTo:   &lastOrderAt,
			Reason: fmt.Sprintf("orders on %s are taken between %s and %s",
				weekday, openAt.Format("15:04"), lastOrderAt.Format("15:04")),
		}
	}

	return nil
}

func (v *Validator) checkCapacity(ctx context.Context, orderID uuid.UUID, candidate time.Time, line LineBooking) error {
	item := line.Item
	start := candidate
	end := candidate.Add(line.Duration())

	overlapping, err := v.bookings.FindOverlappingBookings(ctx, item.ID, start, end, orderID)
	if err != nil {
		return errors.Wrap(err, "failed to query overlapping bookings")
	}

	if item.Capacity == nil {
		// Unlimited items never count reservations. The only conflict an
		// unlimited item can have is an exclusive single-instance resource
		// already booked for an overlapping interval.
		if item.Exclusive && len(overlapping) > 0 {
			return &Rejection{
				Rule:      RuleCapacity,
				ItemName:  item.Name,
				Requested: candidate,
				Capacity:  1,
				Reserved:  len(overlapping),
				Reason:    fmt.Sprintf("%s is already booked for an overlapping time", item.Name),
			}
		}
		return nil
	}

	reserved := line.Quantity
	for _, b := range overlapping {
		reserved += b.Quantity
	}
	if reserved > *item.Capacity {
		return &Rejection{
			Rule:      RuleCapacity,
			ItemName:  item.Name,
			Requested: candidate,
			Capacity:  *item.Capacity,
			Reserved:  reserved,
			Reason: fmt.Sprintf("%s has capacity for %d at that time; %d would be needed, %d over the limit",
				item.Name, *item.Capacity, reserved, reserved-*item.Capacity),
		}
	}

	return nil
}

// localize converts an instant into the business's configured timezone. An
// empty timezone resolves to UTC.
func (v *Validator) localize(ctx context.Context, scope models.Scope, t time.Time) (time.Time, error) {
	business, err := v.catalog.GetBusiness(ctx, scope.BusinessID)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to load business")
	}
	loc, err := time.LoadLocation(business.Timezone)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid business timezone %q", business.Timezone)
	}
	return t.In(loc), nil
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	return atMinute(t, 0), atMinute(t, 24*60-1)
}

func atMinute(t time.Time, minuteOfDay int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), minuteOfDay/60, minuteOfDay%60, 0, 0, t.Location())
}
