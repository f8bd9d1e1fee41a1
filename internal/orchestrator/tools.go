package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"example.com/orderintake/internal/models"
)

// Argument structs for the declared operations. Validation tags are the
// schema actually enforced; the JSON schemas below are what the reasoning
// engine sees.

type addItemArgs struct {
	Item     string `json:"item" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1"`
}

type removeItemArgs struct {
	Item string `json:"item" validate:"required"`
}

type updateQuantityArgs struct {
	Item     string `json:"item" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=0"`
}

type setDeliveryModeArgs struct {
	Mode string `json:"mode" validate:"required,oneof=pickup delivery on_site"`
}

type setAddressArgs struct {
	Address string `json:"address" validate:"required"`
}

type setNotesArgs struct {
	Notes string `json:"notes"`
}

type scheduleArgs struct {
	Time string `json:"time" validate:"required"`
}

func (o *Orchestrator) registerTools() {
	r := o.registry

	r.Register("add_item",
		"Add a menu item to the customer's cart by name.",
		json.RawMessage(`{"type":"object","properties":{"item":{"type":"string"},"quantity":{"type":"integer","minimum":1}},"required":["item","quantity"]}`),
		o.handleAddItem)
	r.Register("remove_item",
		"Remove an item from the cart by name.",
		json.RawMessage(`{"type":"object","properties":{"item":{"type":"string"}},"required":["item"]}`),
		o.handleRemoveItem)
	r.Register("update_quantity",
		"Change the quantity of a cart item; 0 removes it.",
		json.RawMessage(`{"type":"object","properties":{"item":{"type":"string"},"quantity":{"type":"integer","minimum":0}},"required":["item","quantity"]}`),
		o.handleUpdateQuantity)
	r.Register("set_delivery_mode",
		"Set how the order is fulfilled: pickup, delivery or on_site.",
		json.RawMessage(`{"type":"object","properties":{"mode":{"type":"string","enum":["pickup","delivery","on_site"]}},"required":["mode"]}`),
		o.handleSetDeliveryMode)
	r.Register("set_address",
		"Set the delivery address.",
		json.RawMessage(`{"type":"object","properties":{"address":{"type":"string"}},"required":["address"]}`),
		o.handleSetAddress)
	r.Register("set_notes",
		"Attach free-text notes to the order.",
		json.RawMessage(`{"type":"object","properties":{"notes":{"type":"string"}}}`),
		o.handleSetNotes)
	r.Register("check_availability",
		"Check whether a time slot is bookable for the cart's items without reserving it. Time is RFC 3339.",
		json.RawMessage(`{"type":"object","properties":{"time":{"type":"string","format":"date-time"}},"required":["time"]}`),
		o.handleCheckAvailability)
	r.Register("schedule_order",
		"Book a validated time slot for the order. Time is RFC 3339.",
		json.RawMessage(`{"type":"object","properties":{"time":{"type":"string","format":"date-time"}},"required":["time"]}`),
		o.handleScheduleOrder)
	r.Register("confirm_order",
		"Finalize the cart into a confirmed order.",
		json.RawMessage(`{"type":"object","properties":{}}`),
		o.handleConfirmOrder)
	r.Register("cancel_order",
		"Cancel the current order at the customer's request.",
		json.RawMessage(`{"type":"object","properties":{}}`),
		o.handleCancelOrder)
	r.Register("get_cart",
		"Get the current cart contents and totals.",
		json.RawMessage(`{"type":"object","properties":{}}`),
		o.handleGetCart)
	r.Register("send_menu",
		"Send the menu document to the customer.",
		json.RawMessage(`{"type":"object","properties":{}}`),
		o.handleSendMenu)
}

func (o *Orchestrator) handleAddItem(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	var args addItemArgs
	if err := decodeArgs(raw, &args); err != nil {
		return resultFor("add_item", err, "")
	}

	line, err := o.cart.AddItemByName(ctx, turn.Cart, args.Item, args.Quantity)
	if err != nil {
		res := resultFor("add_item", err, "")
		// Collapse repeated "not on the menu / unavailable" notices so the
		// engine doesn't apologize for the same item twice in a row.
		if !res.OK && o.log.SuppressNotice(ctx, turn.ConversationKey, "unavailable:"+strings.ToLower(args.Item), o.noticeTTL) {
			res.Message = fmt.Sprintf("%s (customer was already told)", res.Message)
		}
		return res
	}

	return ToolResult{
		Name: "add_item",
		OK:   true,
		Message: fmt.Sprintf("added %d x %s at %s each; subtotal is now %s",
			line.Quantity, line.Name, line.UnitPrice.StringFixed(2), turn.Cart.Subtotal.StringFixed(2)),
	}
}

func (o *Orchestrator) handleRemoveItem(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	var args removeItemArgs
	if err := decodeArgs(raw, &args); err != nil {
		return resultFor("remove_item", err, "")
	}

	line := findLine(turn.Cart, args.Item)
	if line == nil {
		return ToolResult{Name: "remove_item", OK: false, Message: fmt.Sprintf("%q is not in the cart", args.Item)}
	}

	err := o.cart.RemoveItem(ctx, turn.Cart, line.ID)
	return resultFor("remove_item", err,
		fmt.Sprintf("removed %s; subtotal is now %s", line.Name, turn.Cart.Subtotal.StringFixed(2)))
}

func (o *Orchestrator) handleUpdateQuantity(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	var args updateQuantityArgs
	if err := decodeArgs(raw, &args); err != nil {
		return resultFor("update_quantity", err, "")
	}

	line := findLine(turn.Cart, args.Item)
	if line == nil {
		return ToolResult{Name: "update_quantity", OK: false, Message: fmt.Sprintf("%q is not in the cart", args.Item)}
	}

	err := o.cart.UpdateQuantity(ctx, turn.Cart, line.ID, args.Quantity)
	return resultFor("update_quantity", err,
		fmt.Sprintf("%s quantity is now %d; subtotal is %s", line.Name, args.Quantity, turn.Cart.Subtotal.StringFixed(2)))
}

func (o *Orchestrator) handleSetDeliveryMode(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	var args setDeliveryModeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return resultFor("set_delivery_mode", err, "")
	}

	err := o.cart.SetDeliveryMode(ctx, turn.Cart, models.DeliveryMode(args.Mode))
	return resultFor("set_delivery_mode", err,
		fmt.Sprintf("delivery mode set to %s; total is %s", args.Mode, turn.Cart.Total.StringFixed(2)))
}

func (o *Orchestrator) handleSetAddress(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	var args setAddressArgs
	if err := decodeArgs(raw, &args); err != nil {
		return resultFor("set_address", err, "")
	}

	err := o.cart.SetAddress(ctx, turn.Cart, args.Address)
	return resultFor("set_address", err, "delivery address saved")
}

func (o *Orchestrator) handleSetNotes(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	var args setNotesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return resultFor("set_notes", err, "")
	}

	err := o.cart.SetNotes(ctx, turn.Cart, args.Notes)
	return resultFor("set_notes", err, "notes saved")
}

func (o *Orchestrator) handleCheckAvailability(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	var args scheduleArgs
	if err := decodeArgs(raw, &args); err != nil {
		return resultFor("check_availability", err, "")
	}

	candidate, err := time.Parse(time.RFC3339, args.Time)
	if err != nil {
		return ToolResult{Name: "check_availability", OK: false, Message: "time must be RFC 3339"}
	}

	accepted, err := o.cart.CheckAvailability(ctx, turn.Cart, candidate)
	return resultFor("check_availability", err,
		fmt.Sprintf("%s is available", accepted.Format(time.RFC3339)))
}

func (o *Orchestrator) handleScheduleOrder(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	var args scheduleArgs
	if err := decodeArgs(raw, &args); err != nil {
		return resultFor("schedule_order", err, "")
	}

	candidate, err := time.Parse(time.RFC3339, args.Time)
	if err != nil {
		return ToolResult{Name: "schedule_order", OK: false, Message: "time must be RFC 3339"}
	}

	err = o.cart.SetSchedule(ctx, turn.Cart, candidate)
	okMsg := ""
	if turn.Cart.ScheduledFor != nil {
		okMsg = fmt.Sprintf("order scheduled for %s", turn.Cart.ScheduledFor.Format(time.RFC3339))
	}
	return resultFor("schedule_order", err, okMsg)
}

func (o *Orchestrator) handleConfirmOrder(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	order, err := o.lifecycle.Confirm(ctx, turn.Cart.ID, models.ActorCustomer)
	if err != nil {
		return resultFor("confirm_order", err, "")
	}
	turn.Cart = order
	return ToolResult{
		Name: "confirm_order",
		OK:   true,
		Message: fmt.Sprintf("order confirmed; total %s", order.Total.StringFixed(2)),
	}
}

func (o *Orchestrator) handleCancelOrder(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	err := o.lifecycle.Cancel(ctx, turn.Cart.ID, models.ActorCustomer)
	if err == nil {
		turn.Cart.Status = models.StatusRejected
	}
	return resultFor("cancel_order", err, "order cancelled")
}

func (o *Orchestrator) handleGetCart(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	return ToolResult{
		Name:    "get_cart",
		OK:      true,
		Message: describeCart(turn.Cart),
	}
}

func (o *Orchestrator) handleSendMenu(ctx context.Context, turn *Turn, raw json.RawMessage) ToolResult {
	business, err := o.catalog.GetBusiness(ctx, turn.Scope.BusinessID)
	if err != nil {
		return resultFor("send_menu", err, "")
	}
	if business.MenuURL == "" {
		return ToolResult{Name: "send_menu", OK: false, Message: "no menu document is configured"}
	}
	turn.Documents = append(turn.Documents, business.MenuURL)
	return ToolResult{
		Name:      "send_menu",
		OK:        true,
		Message:   "menu will be delivered to the customer as a document",
		Documents: []string{business.MenuURL},
	}
}

// findLine matches a cart line by its snapshotted name, case-insensitively.
func findLine(cart *models.Order, name string) *models.OrderItem {
	for i := range cart.Items {
		if strings.EqualFold(cart.Items[i].Name, name) {
			return &cart.Items[i]
		}
	}
	return nil
}

// describeCart renders a compact cart summary for the engine.
func describeCart(cart *models.Order) string {
	if len(cart.Items) == 0 {
		return "the cart is empty"
	}

	var b strings.Builder
	for i := range cart.Items {
		item := &cart.Items[i]
		fmt.Fprintf(&b, "%d x %s @ %s; ", item.Quantity, item.Name, item.UnitPrice.StringFixed(2))
	}
	fmt.Fprintf(&b, "subtotal %s", cart.Subtotal.StringFixed(2))
	if cart.DeliveryFee.IsPositive() {
		fmt.Fprintf(&b, ", delivery fee %s", cart.DeliveryFee.StringFixed(2))
	}
	fmt.Fprintf(&b, ", total %s", cart.Total.StringFixed(2))
	if cart.DeliveryMode != nil {
		fmt.Fprintf(&b, ", %s", *cart.DeliveryMode)
	}
	if cart.ScheduledFor != nil {
		fmt.Fprintf(&b, ", scheduled for %s", cart.ScheduledFor.Format(time.RFC3339))
	}
	return b.String()
}
