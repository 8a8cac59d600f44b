package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/OvrisHQ/rove/internal/infra"
	"github.com/OvrisHQ/rove/internal/security"
	"github.com/OvrisHQ/rove/internal/tools/policy"
)

var (
	// ErrInvalidToolArguments is returned when a call's arguments fail
	// schema validation; it is rejected before any gate runs and never
	// consumes a rate-limit slot.
	ErrInvalidToolArguments = errors.New("invalid tool arguments")
	// ErrUnknownTool indicates the tool name has no registered entry.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrConfirmationRequired indicates a T2 call needs explicit user
	// confirmation and none was available (e.g. remote origin with no
	// confirmation channel).
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrRateLimited mirrors the rate limiter's refusal.
	ErrRateLimited = errors.New("rate limited")
)

// DefaultConfirmationDelay is the T1 countdown window before a call proceeds
// automatically unless cancelled.
const DefaultConfirmationDelay = 10 * time.Second

// Runtime is the narrow interface both the WASM and native extension
// runtimes satisfy for dispatch purposes.
type Runtime interface {
	Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Entry registers one tool's backing runtime, risk floor, and schema.
type Entry struct {
	Name      string
	RiskFloor security.Tier
	Schema    *jsonschema.Schema
	Runtime   Runtime
}

// Confirmer asks for explicit approval of a T2 (or delayed T1) call.
// Returning false means the call is refused.
type Confirmer interface {
	Confirm(ctx context.Context, toolName string, args json.RawMessage, tier security.Tier) bool
}

// Registry dispatches tool calls through the canonicalize -> validate ->
// classify -> rate-limit -> confirm -> invoke pipeline.
type Registry struct {
	entries   map[string]*Entry
	limiter   *infra.TieredLimiter
	confirmer Confirmer
}

// NewRegistry creates an empty registry bound to a rate limiter and
// confirmation strategy.
func NewRegistry(limiter *infra.TieredLimiter, confirmer Confirmer) *Registry {
	return &Registry{
		entries:   make(map[string]*Entry),
		limiter:   limiter,
		confirmer: confirmer,
	}
}

// Register adds or replaces a tool entry, canonicalizing its name.
func (r *Registry) Register(entry *Entry) {
	name := policy.NormalizeTool(entry.Name)
	entry.Name = name
	r.entries[name] = entry
}

// Dispatch runs the full pipeline for one tool call.
func (r *Registry) Dispatch(ctx context.Context, source string, toolName string, rawArgs json.RawMessage, remoteOrigin bool, injectionMatches []security.InjectionMatch) (json.RawMessage, error) {
	name := policy.NormalizeTool(toolName)
	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	canonical, err := canonicalizeArgs(rawArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToolArguments, err)
	}
	if entry.Schema != nil {
		var decoded any
		if err := json.Unmarshal(canonical, &decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToolArguments, err)
		}
		if err := entry.Schema.Validate(decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToolArguments, err)
		}
	}

	argStrings := flattenArgStrings(canonical)
	assessment := security.AssessRisk(name, argStrings, remoteOrigin, injectionMatches)
	tier := assessment.Tier
	if entry.RiskFloor > tier {
		tier = entry.RiskFloor
	}

	decision := r.limiter.Admit(source, tier == security.T2)
	if !decision.Allowed {
		return nil, fmt.Errorf("%w: retry after %s", ErrRateLimited, decision.RetryAfter)
	}

	if err := r.confirmIfNeeded(ctx, name, canonical, tier, remoteOrigin); err != nil {
		return nil, err
	}

	return entry.Runtime.Handle(ctx, canonical)
}

func (r *Registry) confirmIfNeeded(ctx context.Context, name string, args json.RawMessage, tier security.Tier, remoteOrigin bool) error {
	switch tier {
	case security.T1:
		if r.confirmer == nil {
			return nil
		}
		if !r.confirmer.Confirm(ctx, name, args, tier) {
			return fmt.Errorf("%w: %s", ErrConfirmationRequired, name)
		}
		return nil
	case security.T2:
		if remoteOrigin && r.confirmer == nil {
			return fmt.Errorf("%w: %s (remote origin, no confirmation channel)", ErrConfirmationRequired, name)
		}
		if r.confirmer == nil || !r.confirmer.Confirm(ctx, name, args, tier) {
			return fmt.Errorf("%w: %s", ErrConfirmationRequired, name)
		}
		return nil
	default:
		return nil
	}
}

// canonicalizeArgs re-marshals the arguments through a generic map so key
// ordering is stable regardless of the caller's original encoding.
func canonicalizeArgs(raw json.RawMessage) (json.RawMessage, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return json.Marshal(decoded)
}

// flattenArgStrings extracts top-level string values for dangerous-flag
// scanning by the risk assessor.
func flattenArgStrings(raw json.RawMessage) []string {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	var out []string
	for _, v := range decoded {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}
