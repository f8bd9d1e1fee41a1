package channels

import (
	"fmt"

	"example.com/orderintake/internal/models"
)

// Channel identifies a messaging surface. The core is agnostic to the
// channel beyond using it in the conversation key; the adapters themselves
// live outside this service.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelTelegram  Channel = "telegram"
	ChannelInstagram Channel = "instagram"
	ChannelWebChat   Channel = "webchat"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelTelegram, ChannelInstagram, ChannelWebChat:
		return true
	}
	return false
}

// CustomerKey qualifies a raw customer identifier with its channel.
func (c Channel) CustomerKey(customerID string) string {
	return fmt.Sprintf("%s:%s", c, customerID)
}

// InboundMessage is one customer message delivered by a channel adapter.
type InboundMessage struct {
	Channel    Channel
	CustomerID string
	MessageID  string
	Text       string
}

// OutboundMessage is the turn's reply: one text plus optional media
// references delivered as separate messages by the adapter.
type OutboundMessage struct {
	Text      string
	Images    []string
	Documents []string
}

// ConversationKey is the serialization and storage key for one customer
// conversation within a scope.
func ConversationKey(scope models.Scope, customerKey string) string {
	if scope.BranchID != nil {
		return fmt.Sprintf("%s:%s:%s", scope.BusinessID, scope.BranchID, customerKey)
	}
	return fmt.Sprintf("%s:%s", scope.BusinessID, customerKey)
}

// Sender delivers outbound messages on a channel. Implementations are the
// channel adapters, external to this core.
type Sender interface {
	Send(customerID string, msg OutboundMessage) error
}
