package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/orderintake/config"
	"example.com/orderintake/internal/channels"
	"example.com/orderintake/internal/history"
	"example.com/orderintake/internal/models"
	"example.com/orderintake/internal/reasoning"
	"example.com/orderintake/internal/services"
	"example.com/orderintake/internal/tracing"
)

const (
	// retryReply is sent when the reasoning engine or the store fails
	// mid-turn. Mutations already applied in completed rounds stay applied;
	// only the unfinished round is abandoned.
	retryReply = "Sorry, something went wrong on our side. Please send that again in a moment."
	// fallbackReply is sent when the engine keeps requesting tool calls
	// past the round bound.
	fallbackReply = "Sorry, I couldn't finish processing that. Could you rephrase your request?"
)

// ConversationLog is the history-store surface the orchestrator needs.
type ConversationLog interface {
	Append(ctx context.Context, conversationKey string, turn history.Turn)
	Recent(ctx context.Context, conversationKey string, n int) []history.Turn
	SuppressNotice(ctx context.Context, conversationKey, notice string, ttl time.Duration) bool
}

// Turn is the per-message state handlers operate on: the cart under
// mutation and the side-channel payloads accumulated so far. Payloads are
// accumulated rather than sent eagerly so a failed downstream step can
// still be communicated coherently in the same reply.
type Turn struct {
	Scope           models.Scope
	ConversationKey string
	Cart            *models.Order
	Images          []string
	Documents       []string
}

// Orchestrator turns one inbound customer message into zero or more state
// mutations and one outbound reply, by looping with the reasoning engine
// over a declared set of operations.
type Orchestrator struct {
	cart      *services.CartService
	lifecycle *services.LifecycleService
	catalog   services.CatalogStore
	engine    reasoning.Engine
	log       ConversationLog
	tracer    tracing.Tracer
	registry  *Registry
	locks     *conversationLocks

	maxRounds     int
	historyWindow int
	noticeTTL     time.Duration
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	cart *services.CartService,
	lifecycle *services.LifecycleService,
	catalog services.CatalogStore,
	engine reasoning.Engine,
	conversationLog ConversationLog,
	tracer tracing.Tracer,
	engineCfg config.EngineConfig,
	ordersCfg config.OrdersConfig,
) *Orchestrator {
	o := &Orchestrator{
		cart:          cart,
		lifecycle:     lifecycle,
		catalog:       catalog,
		engine:        engine,
		log:           conversationLog,
		tracer:        tracer,
		registry:      NewRegistry(),
		locks:         newConversationLocks(),
		maxRounds:     engineCfg.MaxRounds,
		historyWindow: ordersCfg.HistoryWindow,
		noticeTTL:     ordersCfg.NoticeTTL,
	}
	o.registerTools()
	return o
}

// HandleMessage processes one inbound customer message and returns the
// reply to deliver. Turns for the same conversation are serialized; the
// reply is always well-formed, with failures mapped to generic apologies
// per the error taxonomy.
func (o *Orchestrator) HandleMessage(ctx context.Context, scope models.Scope, msg channels.InboundMessage) channels.OutboundMessage {
	txn := o.tracer.StartTransaction("orchestrate-turn")
	defer o.tracer.EndTransaction(txn)

	customerKey := msg.Channel.CustomerKey(msg.CustomerID)
	convKey := channels.ConversationKey(scope, customerKey)

	release := o.locks.Acquire(convKey)
	defer release()

	o.log.Append(ctx, convKey, history.Turn{
		Role:      "customer",
		Text:      msg.Text,
		MessageID: msg.MessageID,
		At:        time.Now(),
	})

	cart, err := o.cart.OpenCart(ctx, scope, customerKey, string(msg.Channel))
	if err != nil {
		log.Error().Err(err).Str("conversation", convKey).Msg("Failed to open cart for turn")
		o.tracer.RecordError(txn, err)
		return o.reply(ctx, convKey, channels.OutboundMessage{Text: retryReply})
	}

	turn := &Turn{
		Scope:           scope,
		ConversationKey: convKey,
		Cart:            cart,
	}

	messages := o.buildMessages(ctx, convKey, msg.Text)
	system := o.buildSystemContext(ctx, turn, msg.Channel)

	for round := 1; round <= o.maxRounds; round++ {
		span := o.tracer.StartSpan("engine-round", txn)
		resp, err := o.engine.Complete(ctx, reasoning.Request{
			System:   system,
			Messages: messages,
			Tools:    o.registry.Definitions(),
		})
		span.End()

		if err != nil {
			// Completed tool calls stay applied; only this round is lost.
			log.Error().Err(err).Str("conversation", convKey).Int("round", round).
				Msg("Reasoning engine round failed")
			o.tracer.RecordError(txn, err)
			return o.reply(ctx, convKey, channels.OutboundMessage{Text: retryReply})
		}

		if len(resp.ToolCalls) == 0 {
			return o.reply(ctx, convKey, channels.OutboundMessage{
				Text:      resp.Text,
				Images:    turn.Images,
				Documents: turn.Documents,
			})
		}

		messages = append(messages, reasoning.Message{
			Role:      reasoning.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			result := o.registry.Execute(ctx, turn, call)
			payload, err := json.Marshal(result)
			if err != nil {
				payload = []byte(`{"ok":false,"message":"internal error"}`)
			}
			messages = append(messages, reasoning.Message{
				Role:       reasoning.RoleTool,
				ToolCallID: call.ID,
				Content:    string(payload),
			})
		}
	}

	log.Error().Str("conversation", convKey).Int("max_rounds", o.maxRounds).
		Msg("Tool-calling loop exceeded round bound")
	return o.reply(ctx, convKey, channels.OutboundMessage{
		Text:      fallbackReply,
		Images:    turn.Images,
		Documents: turn.Documents,
	})
}

// buildMessages assembles the bounded history window plus the inbound text.
func (o *Orchestrator) buildMessages(ctx context.Context, convKey, text string) []reasoning.Message {
	var messages []reasoning.Message
	for _, turn := range o.log.Recent(ctx, convKey, o.historyWindow) {
		role := reasoning.RoleUser
		if turn.Role == "assistant" {
			role = reasoning.RoleAssistant
		}
		messages = append(messages, reasoning.Message{Role: role, Content: turn.Text})
	}
	return append(messages, reasoning.Message{Role: reasoning.RoleUser, Content: text})
}

// buildSystemContext renders the business metadata and cart snapshot the
// engine reasons over.
func (o *Orchestrator) buildSystemContext(ctx context.Context, turn *Turn, channel channels.Channel) string {
	businessName := "the business"
	if business, err := o.catalog.GetBusiness(ctx, turn.Scope.BusinessID); err == nil {
		businessName = business.Name
	}

	return fmt.Sprintf(
		"You are the order-taking assistant for %s, talking to a customer on %s. "+
			"Use the provided tools to manage the customer's cart and bookings. "+
			"Current cart: %s. Order status: %s.",
		businessName, channel, describeCart(turn.Cart), turn.Cart.Status)
}

// reply records the outbound text and returns it.
func (o *Orchestrator) reply(ctx context.Context, convKey string, out channels.OutboundMessage) channels.OutboundMessage {
	o.log.Append(ctx, convKey, history.Turn{
		Role: "assistant",
		Text: out.Text,
		At:   time.Now(),
	})
	return out
}
