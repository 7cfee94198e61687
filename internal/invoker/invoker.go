// ABOUTME: AgentInvoker executes one prompt against one agent profile and records the exchange
// ABOUTME: Side effects are strictly ordered: network call, audit-log write, telemetry emission

package invoker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/baylahnm/nbcon-core/internal/agents"
	"github.com/baylahnm/nbcon-core/internal/auth"
	"github.com/baylahnm/nbcon-core/internal/backend"
	"github.com/baylahnm/nbcon-core/internal/store"
	"github.com/baylahnm/nbcon-core/internal/telemetry"
)

// ModelRunner defines what the invoker needs from the backend client.
type ModelRunner interface {
	RunAgent(ctx context.Context, req backend.RunRequest) (*backend.RunResult, error)
}

// AuditStore defines the durable exchange log operations the invoker uses.
type AuditStore interface {
	InsertExchange(ctx context.Context, ex *store.Exchange) error
	InsertVersion(ctx context.Context, ex *store.Exchange) error
}

// Options carries per-call overrides and context for one invocation.
type Options struct {
	ConversationID string
	Context        string // extra context appended to the agent's system message

	// Sampling overrides; nil means "use the profile default"
	Temperature *float64
	MaxTokens   *int

	// RegenerateLogID, when set, records the exchange as the next version of
	// an existing log row instead of a new one.
	RegenerateLogID string
}

// Result is what the caller gets back from a successful invocation.
// LogID is empty and Version zero when the audit write failed: the answer
// is still delivered, it just has no durable log reference.
type Result struct {
	Output  string
	Tokens  int
	LogID   string
	Version int
}

// Invoker executes prompts against named agent profiles.
type Invoker struct {
	registry  *agents.Registry
	runner    ModelRunner
	audit     AuditStore
	tokens    auth.TokenSource
	telemetry *telemetry.Emitter
	logger    *slog.Logger
}

// New creates an Invoker. telemetry may be nil.
func New(registry *agents.Registry, runner ModelRunner, audit AuditStore, tokens auth.TokenSource, emitter *telemetry.Emitter, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		registry:  registry,
		runner:    runner,
		audit:     audit,
		tokens:    tokens,
		telemetry: emitter,
		logger:    logger.With("component", "invoker"),
	}
}

// Invoke runs one prompt against the named agent and durably records the
// exchange. Quota is a caller-level gate, not checked here: the backend is
// the true source of truth and enforces it server-side as well.
func (v *Invoker) Invoke(ctx context.Context, agentKey, prompt string, opts Options) (*Result, error) {
	// Unknown agent keys fail fast, before any network call.
	profile, err := v.registry.Resolve(agentKey)
	if err != nil {
		return nil, err
	}

	identity, err := v.tokens.Identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrAuthRequired, err)
	}

	req := buildRequest(profile, prompt, opts)

	result, err := v.runner.RunAgent(ctx, req)
	if err != nil {
		v.telemetry.Emit("agent_error", map[string]any{
			"agent":    agentKey,
			"model":    profile.Model,
			"actor_id": identity.ActorID,
			"error":    err.Error(),
		})
		return nil, err
	}

	// Audit-log write comes second. A failure here is logged but does not
	// retroactively fail a response the user already received.
	ex := &store.Exchange{
		LogID:          opts.RegenerateLogID,
		ConversationID: opts.ConversationID,
		AgentKey:       agentKey,
		ActorID:        identity.ActorID,
		Prompt:         prompt,
		Output:         result.Output,
		Tokens:         result.Tokens,
	}
	logged := true
	if opts.RegenerateLogID != "" {
		err = v.audit.InsertVersion(ctx, ex)
	} else {
		err = v.audit.InsertExchange(ctx, ex)
	}
	if err != nil {
		logged = false
		v.logger.Error("failed to record exchange",
			"error", err,
			"agent", agentKey,
			"conversation_id", opts.ConversationID)
	}

	// Telemetry last, off the critical path.
	v.telemetry.Emit("agent_request", map[string]any{
		"agent":           agentKey,
		"model":           profile.Model,
		"actor_id":        identity.ActorID,
		"conversation_id": opts.ConversationID,
		"temperature":     req.Temperature,
		"max_tokens":      req.MaxTokens,
		"tokens":          result.Tokens,
		"regenerated":     opts.RegenerateLogID != "",
	})
	v.telemetry.Emit("token_usage", map[string]any{
		"actor_id": identity.ActorID,
		"model":    profile.Model,
		"tokens":   result.Tokens,
	})

	res := &Result{
		Output: result.Output,
		Tokens: result.Tokens,
	}
	if logged {
		res.LogID = ex.LogID
		res.Version = ex.Version
	}
	return res, nil
}

// buildRequest assembles the chat request from the profile, prompt, and
// per-call overrides.
func buildRequest(profile *agents.Profile, prompt string, opts Options) backend.RunRequest {
	system := profile.Description
	if opts.Context != "" {
		system += "\n\nContext:\n" + opts.Context
	}

	temperature := profile.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := profile.MaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	return backend.RunRequest{
		Model: profile.Model,
		Messages: []backend.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}
