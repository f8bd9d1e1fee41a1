package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/orderintake/config"
)

// Event is a business-facing notification.
type Event struct {
	Type       string    `json:"type"`
	OrderID    uuid.UUID `json:"order_id"`
	BusinessID uuid.UUID `json:"business_id"`
	Customer   string    `json:"customer"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventCartAbandoned is emitted when the abandonment sweep expires a cart.
const EventCartAbandoned = "cart_abandoned"

// Sink delivers business notifications. Delivery is best effort; a failing
// sink must never block the operation that produced the event.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// serviceBusSink implements Sink over an Azure Service Bus queue.
type serviceBusSink struct {
	client *azservicebus.Client
	sender *azservicebus.Sender
}

// NewServiceBusSink creates a new notification sink over Azure Service Bus
func NewServiceBusSink(cfg config.ServiceBusConfig) (Sink, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &serviceBusSink{
		client: client,
		sender: sender,
	}, nil
}

// Publish sends the event to the notification queue.
func (s *serviceBusSink) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification event")
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"type": event.Type,
			"time": time.Now().UTC().Format(time.RFC3339),
		},
	}

	return s.sender.SendMessage(ctx, msg, nil)
}

// Close closes the Service Bus sender and client.
func (s *serviceBusSink) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}

// NopSink discards notifications; used when no queue is configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
func (NopSink) Close() error                         { return nil }
