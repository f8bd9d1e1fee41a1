package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/orderintake/config"
	"example.com/orderintake/internal/channels"
	"example.com/orderintake/internal/history"
	"example.com/orderintake/internal/models"
	"example.com/orderintake/internal/reasoning"
	"example.com/orderintake/internal/scheduling"
	"example.com/orderintake/internal/services"
	"example.com/orderintake/internal/tracing"
)

// Mock order store implementing both the cart and lifecycle surfaces
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetOpenCart(ctx context.Context, scope models.Scope, customerKey string) (*models.Order, error) {
	args := m.Called(ctx, scope, customerKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockStore) CreateCart(ctx context.Context, cart *models.Order) error {
	args := m.Called(ctx, cart)
	return args.Error(0)
}

func (m *MockStore) SaveCart(ctx context.Context, cart *models.Order) error {
	args := m.Called(ctx, cart)
	return args.Error(0)
}

func (m *MockStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockStore) AppendLineItem(ctx context.Context, orderID uuid.UUID, item *models.OrderItem) error {
	args := m.Called(ctx, orderID, item)
	return args.Error(0)
}

func (m *MockStore) RemoveLineItem(ctx context.Context, orderID, itemID uuid.UUID) error {
	args := m.Called(ctx, orderID, itemID)
	return args.Error(0)
}

func (m *MockStore) UpdateLineItemQuantity(ctx context.Context, orderID, itemID uuid.UUID, quantity int) error {
	args := m.Called(ctx, orderID, itemID, quantity)
	return args.Error(0)
}

func (m *MockStore) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.OrderItem), args.Error(1)
}

func (m *MockStore) TransitionStatus(ctx context.Context, orderID uuid.UUID, from, to models.Status, actor models.Actor) error {
	args := m.Called(ctx, orderID, from, to, actor)
	return args.Error(0)
}

func (m *MockStore) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.OrderStatusLog), args.Error(1)
}

// Mock catalog store for testing
type MockCatalogStore struct {
	mock.Mock
}

func (m *MockCatalogStore) GetItem(ctx context.Context, id uuid.UUID) (*models.CatalogItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CatalogItem), args.Error(1)
}

func (m *MockCatalogStore) FindItemByName(ctx context.Context, businessID uuid.UUID, name string) (*models.CatalogItem, error) {
	args := m.Called(ctx, businessID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CatalogItem), args.Error(1)
}

func (m *MockCatalogStore) GetDurationTier(ctx context.Context, id uuid.UUID) (*models.DurationTier, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DurationTier), args.Error(1)
}

func (m *MockCatalogStore) GetBusiness(ctx context.Context, id uuid.UUID) (*models.Business, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Business), args.Error(1)
}

// Mock reasoning engine for testing
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Complete(ctx context.Context, req reasoning.Request) (reasoning.Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(reasoning.Response), args.Error(1)
}

// memoryLog is an in-memory ConversationLog.
type memoryLog struct {
	turns    map[string][]history.Turn
	suppress bool
}

func newMemoryLog() *memoryLog {
	return &memoryLog{turns: make(map[string][]history.Turn)}
}

func (l *memoryLog) Append(ctx context.Context, conversationKey string, turn history.Turn) {
	l.turns[conversationKey] = append(l.turns[conversationKey], turn)
}

func (l *memoryLog) Recent(ctx context.Context, conversationKey string, n int) []history.Turn {
	turns := l.turns[conversationKey]
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

func (l *memoryLog) SuppressNotice(ctx context.Context, conversationKey, notice string, ttl time.Duration) bool {
	return l.suppress
}

type fixture struct {
	orch    *Orchestrator
	store   *MockStore
	catalog *MockCatalogStore
	engine  *MockEngine
	log     *memoryLog
	scope   models.Scope
	cart    *models.Order
}

func newFixture(t *testing.T, maxRounds int) *fixture {
	t.Helper()

	store := new(MockStore)
	catalog := new(MockCatalogStore)
	engine := new(MockEngine)
	log := newMemoryLog()

	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	cartService := services.NewCartService(store, catalog, new(stubValidator))
	lifecycleService := services.NewLifecycleService(store, catalog, new(stubValidator))

	orch := NewOrchestrator(
		cartService, lifecycleService, catalog,
		engine, log, tracer,
		config.EngineConfig{MaxRounds: maxRounds},
		config.OrdersConfig{HistoryWindow: 20, NoticeTTL: time.Minute},
	)

	scope := models.Scope{BusinessID: uuid.New()}
	cart := &models.Order{
		ID:          uuid.New(),
		BusinessID:  scope.BusinessID,
		CustomerKey: "whatsapp:+15551234567",
		Channel:     "whatsapp",
		Status:      models.StatusCart,
	}
	store.On("GetOpenCart", mock.Anything, scope, cart.CustomerKey).Return(cart, nil).Maybe()

	return &fixture{orch: orch, store: store, catalog: catalog, engine: engine, log: log, scope: scope, cart: cart}
}

// stubValidator accepts every candidate unchanged.
type stubValidator struct{}

func (stubValidator) Validate(ctx context.Context, scope models.Scope, orderID uuid.UUID, candidate time.Time, lines []scheduling.LineBooking) (time.Time, error) {
	return candidate, nil
}

func inbound(text string) channels.InboundMessage {
	return channels.InboundMessage{
		Channel:    channels.ChannelWhatsApp,
		CustomerID: "+15551234567",
		MessageID:  "wamid.1",
		Text:       text,
	}
}

func TestHandleMessageDirectReply(t *testing.T) {
	f := newFixture(t, 3)

	f.catalog.On("GetBusiness", mock.Anything, f.scope.BusinessID).
		Return(&models.Business{ID: f.scope.BusinessID, Name: "Mama's Pizza"}, nil).Maybe()

	f.engine.On("Complete", mock.Anything, mock.Anything).
		Return(reasoning.Response{Text: "Hi! What can I get you today?"}, nil).Once()

	out := f.orch.HandleMessage(context.Background(), f.scope, inbound("hello"))
	require.Equal(t, "Hi! What can I get you today?", out.Text)

	convKey := channels.ConversationKey(f.scope, f.cart.CustomerKey)
	turns := f.log.turns[convKey]
	require.Len(t, turns, 2)
	require.Equal(t, "customer", turns[0].Role)
	require.Equal(t, "hello", turns[0].Text)
	require.Equal(t, "assistant", turns[1].Role)
}

func TestHandleMessageEngineFailure(t *testing.T) {
	f := newFixture(t, 3)

	f.catalog.On("GetBusiness", mock.Anything, f.scope.BusinessID).
		Return(&models.Business{ID: f.scope.BusinessID, Name: "Mama's Pizza"}, nil).Maybe()

	f.engine.On("Complete", mock.Anything, mock.Anything).
		Return(reasoning.Response{}, errors.New("upstream timeout"))

	out := f.orch.HandleMessage(context.Background(), f.scope, inbound("hello"))
	require.Equal(t, retryReply, out.Text)
}

func TestHandleMessageOpenCartFailure(t *testing.T) {
	f := newFixture(t, 3)

	scope := models.Scope{BusinessID: uuid.New()}
	f.store.On("GetOpenCart", mock.Anything, scope, mock.Anything).
		Return(nil, errors.New("connection refused"))

	out := f.orch.HandleMessage(context.Background(), scope, inbound("hello"))
	require.Equal(t, retryReply, out.Text)
	f.engine.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestHandleMessageExecutesToolThenReplies(t *testing.T) {
	f := newFixture(t, 3)

	f.catalog.On("GetBusiness", mock.Anything, f.scope.BusinessID).
		Return(&models.Business{ID: f.scope.BusinessID, Name: "Mama's Pizza"}, nil).Maybe()

	item := &models.CatalogItem{
		ID:         uuid.New(),
		BusinessID: f.scope.BusinessID,
		Name:       "Margherita Pizza",
		Price:      decimal.RequireFromString("12.99"),
		Available:  true,
	}
	f.catalog.On("FindItemByName", mock.Anything, f.scope.BusinessID, "Margherita Pizza").Return(item, nil)
	f.catalog.On("GetItem", mock.Anything, item.ID).Return(item, nil)
	f.store.On("AppendLineItem", mock.Anything, f.cart.ID, mock.AnythingOfType("*models.OrderItem")).Return(nil)

	f.engine.On("Complete", mock.Anything, mock.Anything).
		Return(reasoning.Response{ToolCalls: []reasoning.ToolCall{{
			ID:        "call_1",
			Name:      "add_item",
			Arguments: json.RawMessage(`{"item":"Margherita Pizza","quantity":2}`),
		}}}, nil).Once()
	f.engine.On("Complete", mock.Anything, mock.MatchedBy(func(req reasoning.Request) bool {
		// The second round must carry the tool result back to the engine.
		last := req.Messages[len(req.Messages)-1]
		return last.Role == reasoning.RoleTool && last.ToolCallID == "call_1"
	})).Return(reasoning.Response{Text: "Added two Margheritas!"}, nil).Once()

	out := f.orch.HandleMessage(context.Background(), f.scope, inbound("two margheritas please"))
	require.Equal(t, "Added two Margheritas!", out.Text)
	require.Len(t, f.cart.Items, 1)
	require.Equal(t, 2, f.cart.Items[0].Quantity)
	f.store.AssertExpectations(t)
	f.engine.AssertExpectations(t)
}

func TestHandleMessageRoundBound(t *testing.T) {
	f := newFixture(t, 3)

	f.catalog.On("GetBusiness", mock.Anything, f.scope.BusinessID).
		Return(&models.Business{ID: f.scope.BusinessID, Name: "Mama's Pizza"}, nil).Maybe()

	// The engine never stops asking for tools; the loop must give up after
	// the configured number of rounds with the fallback apology.
	f.engine.On("Complete", mock.Anything, mock.Anything).
		Return(reasoning.Response{ToolCalls: []reasoning.ToolCall{{
			ID:        "call_loop",
			Name:      "get_cart",
			Arguments: json.RawMessage(`{}`),
		}}}, nil)

	out := f.orch.HandleMessage(context.Background(), f.scope, inbound("hmm"))
	require.Equal(t, fallbackReply, out.Text)
	f.engine.AssertNumberOfCalls(t, "Complete", 3)
}

func TestHandleMessageAccumulatesDocuments(t *testing.T) {
	f := newFixture(t, 3)

	f.catalog.On("GetBusiness", mock.Anything, f.scope.BusinessID).
		Return(&models.Business{ID: f.scope.BusinessID, Name: "Mama's Pizza", MenuURL: "https://cdn.example.com/menu.pdf"}, nil)

	f.engine.On("Complete", mock.Anything, mock.Anything).
		Return(reasoning.Response{ToolCalls: []reasoning.ToolCall{{
			ID:        "call_menu",
			Name:      "send_menu",
			Arguments: json.RawMessage(`{}`),
		}}}, nil).Once()
	f.engine.On("Complete", mock.Anything, mock.Anything).
		Return(reasoning.Response{Text: "Here is our menu!"}, nil).Once()

	out := f.orch.HandleMessage(context.Background(), f.scope, inbound("can I see the menu?"))
	require.Equal(t, "Here is our menu!", out.Text)
	require.Equal(t, []string{"https://cdn.example.com/menu.pdf"}, out.Documents)
}

func TestHandleMessageSuppressedNotice(t *testing.T) {
	f := newFixture(t, 3)
	f.log.suppress = true

	f.catalog.On("GetBusiness", mock.Anything, f.scope.BusinessID).
		Return(&models.Business{ID: f.scope.BusinessID, Name: "Mama's Pizza"}, nil).Maybe()

	f.catalog.On("FindItemByName", mock.Anything, f.scope.BusinessID, "unicorn steak").
		Return(nil, errors.New("record not found"))

	f.engine.On("Complete", mock.Anything, mock.Anything).
		Return(reasoning.Response{ToolCalls: []reasoning.ToolCall{{
			ID:        "call_add",
			Name:      "add_item",
			Arguments: json.RawMessage(`{"item":"unicorn steak","quantity":1}`),
		}}}, nil).Once()
	f.engine.On("Complete", mock.Anything, mock.MatchedBy(func(req reasoning.Request) bool {
		last := req.Messages[len(req.Messages)-1]
		var result ToolResult
		if err := json.Unmarshal([]byte(last.Content), &result); err != nil {
			return false
		}
		return !result.OK && len(result.Message) > 0
	})).Return(reasoning.Response{Text: "Sorry, we don't have that."}, nil).Once()

	out := f.orch.HandleMessage(context.Background(), f.scope, inbound("unicorn steak"))
	require.Equal(t, "Sorry, we don't have that.", out.Text)
	f.engine.AssertExpectations(t)
}
