package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/orderintake/internal/reasoning"
	"example.com/orderintake/internal/services"
)

// ToolResult is the structured outcome of one executed tool call, fed back
// to the reasoning engine. Media references accumulate on the turn and are
// delivered as separate messages once the turn completes.
type ToolResult struct {
	Name      string   `json:"name"`
	OK        bool     `json:"ok"`
	Message   string   `json:"message"`
	Images    []string `json:"images,omitempty"`
	Documents []string `json:"documents,omitempty"`
}

// Handler executes one tool call against the turn's cart.
type Handler func(ctx context.Context, turn *Turn, args json.RawMessage) ToolResult

// tool couples a declared schema with its handler.
type tool struct {
	def     reasoning.ToolDef
	handler Handler
}

// Registry maps operation names to strongly-typed handlers. Unknown names
// and malformed arguments resolve to failure results fed back to the
// engine; they never crash a turn.
type Registry struct {
	tools map[string]tool
	order []string
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool)}
}

// Register adds a tool. The parameters schema is what gets declared to the
// reasoning engine.
func (r *Registry) Register(name, description string, parameters json.RawMessage, handler Handler) {
	r.tools[name] = tool{
		def: reasoning.ToolDef{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
		handler: handler,
	}
	r.order = append(r.order, name)
}

// Definitions returns the declared tool schemas in registration order.
func (r *Registry) Definitions() []reasoning.ToolDef {
	defs := make([]reasoning.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Execute dispatches one tool call. The engine may request anything,
// including operations that don't exist; those come back as unsupported-
// operation failures.
func (r *Registry) Execute(ctx context.Context, turn *Turn, call reasoning.ToolCall) ToolResult {
	t, ok := r.tools[call.Name]
	if !ok {
		log.Warn().Str("tool", call.Name).Msg("Engine requested unsupported operation")
		return ToolResult{
			Name:    call.Name,
			OK:      false,
			Message: "unsupported operation",
		}
	}
	return t.handler(ctx, turn, call.Arguments)
}

var validate = validator.New()

// decodeArgs unmarshals and validates tool-call arguments into dst.
// A failure here is the engine's fault, not the customer's; it is reported
// back as a malformed-arguments result.
func decodeArgs(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrap(err, "malformed arguments")
	}
	if err := validate.Struct(dst); err != nil {
		return errors.Wrap(err, "invalid arguments")
	}
	return nil
}

// resultFor maps an operation outcome to a ToolResult following the error
// taxonomy: business-rule rejections carry their reason to the engine
// verbatim; infrastructure and logic errors are logged and come back as a
// generic failure.
func resultFor(name string, err error, okMessage string) ToolResult {
	if err == nil {
		return ToolResult{Name: name, OK: true, Message: okMessage}
	}
	if services.IsRejection(err) {
		return ToolResult{Name: name, OK: false, Message: err.Error()}
	}
	log.Error().Err(err).Str("tool", name).Msg("Tool execution failed")
	return ToolResult{Name: name, OK: false, Message: "the operation could not be completed"}
}
