package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	require.False(t, StatusCart.IsTerminal())
	require.False(t, StatusAccepted.IsTerminal())
	require.False(t, StatusOngoing.IsTerminal())
	require.True(t, StatusCompleted.IsTerminal())
	require.True(t, StatusRejected.IsTerminal())
	require.True(t, StatusIncomplete.IsTerminal())
}

func TestRecalculateTotals(t *testing.T) {
	order := &Order{
		DeliveryFee: decimal.RequireFromString("5.00"),
		Items: []OrderItem{
			{Name: "Margherita Pizza", UnitPrice: decimal.RequireFromString("12.99"), Quantity: 2},
			{Name: "Soda", UnitPrice: decimal.RequireFromString("4.99"), Quantity: 1},
		},
	}
	order.RecalculateTotals()

	require.True(t, order.Subtotal.Equal(decimal.RequireFromString("30.97")))
	require.True(t, order.Total.Equal(decimal.RequireFromString("35.97")))
}

func TestRecalculateTotalsEmptyCart(t *testing.T) {
	order := &Order{DeliveryFee: decimal.Zero}
	order.RecalculateTotals()
	require.True(t, order.Subtotal.IsZero())
	require.True(t, order.Total.IsZero())
}

func TestWeekdayAllowed(t *testing.T) {
	item := &CatalogItem{}
	// Zero mask means every weekday.
	require.True(t, item.WeekdayAllowed(time.Monday))
	require.True(t, item.WeekdayAllowed(time.Sunday))

	item.AvailableWeekdays = 1<<uint(time.Saturday) | 1<<uint(time.Sunday)
	require.True(t, item.WeekdayAllowed(time.Saturday))
	require.True(t, item.WeekdayAllowed(time.Sunday))
	require.False(t, item.WeekdayAllowed(time.Wednesday))
}
