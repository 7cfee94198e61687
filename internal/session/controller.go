// ABOUTME: SessionController is the per-surface state machine binding loader, gate, and invoker
// ABOUTME: Owns the single active load attempt; newer targets win and cancelled attempts stay silent

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/baylahnm/nbcon-core/internal/backend"
	"github.com/baylahnm/nbcon-core/internal/invoker"
)

// ErrBusy is returned when a submission arrives while a load or another
// submission is still in flight.
var ErrBusy = errors.New("session is busy")

// ErrNoCredits is returned when the credit gate rejects a submission.
// No agent call is made in this case.
var ErrNoCredits = errors.New("daily credit limit reached")

// ErrEmptyPrompt is returned for blank submissions.
var ErrEmptyPrompt = errors.New("prompt is empty")

// ErrNoSuchMessage is returned when a regeneration targets a log id that is
// not present in the materialized message list.
var ErrNoSuchMessage = errors.New("no message with that log id")

// maxTitleLen is how much of the first prompt becomes the conversation title.
const maxTitleLen = 50

// LoadSource defines what the controller needs from the conversation loader.
type LoadSource interface {
	Load(ctx context.Context, targetID string) (*LoadResult, error)
}

// ConversationWriter defines the conversation mutations the controller performs.
type ConversationWriter interface {
	CreateConversation(ctx context.Context, title string) (*backend.Conversation, error)
	UpdateTitle(ctx context.Context, id, title string) error
}

// AgentCaller defines what the controller needs from the agent invoker.
type AgentCaller interface {
	Invoke(ctx context.Context, agentKey, prompt string, opts invoker.Options) (*invoker.Result, error)
}

// CreditChecker defines the quota gate consulted before each submission.
type CreditChecker interface {
	CanUse(ctx context.Context) (bool, error)
}

// loadAttempt tracks the single in-flight conversation load. At most one
// exists per controller; a newer target cancels and replaces it.
type loadAttempt struct {
	targetID string
	ctx      context.Context
	cancel   context.CancelFunc
}

// Options configures a Controller.
type Options struct {
	// AgentKey names the agent profile submissions run against.
	AgentKey string

	// Navigate is invoked when a load resolves NotFound and the host should
	// move the surface to a neutral route. May be nil.
	Navigate func()

	// OnChange is invoked after every observable state change. May be nil.
	OnChange func()

	Logger *slog.Logger
}

// Controller binds one UI surface to the conversation session pipeline.
// All exported methods are safe for concurrent use; the in-flight-load
// tracking fields are owned exclusively by this instance.
type Controller struct {
	loader  LoadSource
	writer  ConversationWriter
	agent   AgentCaller
	gate    CreditChecker
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	conv     *Conversation
	messages []Message
	lastErr  error
	attempt  *loadAttempt
	awaiting bool
	closed   bool

	// epoch increments whenever the materialized list is cleared or
	// replaced; a submission finishing against a stale epoch appends nothing.
	epoch uint64
}

// NewController creates a session controller in the Idle state.
func NewController(loader LoadSource, writer ConversationWriter, agent AgentCaller, gate CreditChecker, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		loader: loader,
		writer: writer,
		agent:  agent,
		gate:   gate,
		opts:   opts,
		logger: logger.With("component", "session"),
		state:  StateIdle,
	}
}

// SetConversation routes an active-identifier change into the loader.
//
// Rules:
//   - empty target: cancel any in-flight load, clear the list, go Idle.
//   - same target as the in-flight load: no second fetch is issued.
//   - target already materialized with at least one message: no refetch.
//   - otherwise: cancel the in-flight load, clear the list synchronously
//     (switching must never show the previous conversation's messages,
//     even transiently), and start a new load attempt.
func (c *Controller) SetConversation(targetID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if targetID == "" {
		c.cancelAttemptLocked()
		c.clearLocked()
		c.conv = nil
		c.state = StateIdle
		c.lastErr = nil
		c.mu.Unlock()
		c.notify()
		return
	}

	// Dedup: a load for this target is already in flight.
	if c.attempt != nil && c.attempt.targetID == targetID {
		c.mu.Unlock()
		return
	}

	// NoOp: once loaded, a conversation is not silently refetched just
	// because the surface re-rendered.
	if c.conv != nil && c.conv.ID == targetID && len(c.messages) > 0 {
		c.mu.Unlock()
		return
	}

	c.cancelAttemptLocked()
	c.clearLocked()
	c.conv = nil
	c.lastErr = nil
	c.state = StateLoading

	ctx, cancel := context.WithCancel(context.Background())
	attempt := &loadAttempt{targetID: targetID, ctx: ctx, cancel: cancel}
	c.attempt = attempt
	c.mu.Unlock()
	c.notify()

	go c.runLoad(attempt)
}

// runLoad performs one load attempt and applies its outcome. The attempt
// may only write state if it is still the active attempt and its token is
// unfired at the moment the response is available; otherwise the whole
// attempt is a no-op, including error suppression.
func (c *Controller) runLoad(attempt *loadAttempt) {
	defer attempt.cancel()

	result, err := c.loader.Load(attempt.ctx, attempt.targetID)

	c.mu.Lock()
	if c.attempt != attempt || attempt.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.attempt = nil

	var navigate bool
	switch {
	case errors.Is(err, context.Canceled):
		// Cancellation raced the response; stay silent.
		c.mu.Unlock()
		return
	case err == nil:
		conv := result.Conversation
		c.conv = &conv
		c.messages = result.Messages
		c.epoch++
		c.state = StateReady
		c.logger.Debug("session ready",
			"conversation_id", conv.ID,
			"messages", len(c.messages))
	case errors.Is(err, backend.ErrNotFound):
		// Expected condition: clear the identifier and ask the host to
		// move to a neutral route.
		c.conv = nil
		c.state = StateIdle
		c.lastErr = err
		navigate = true
	default:
		c.state = StateIdle
		c.lastErr = err
		c.logger.Error("conversation load failed",
			"target_id", attempt.targetID,
			"error", err)
	}
	c.mu.Unlock()

	if navigate && c.opts.Navigate != nil {
		c.opts.Navigate()
	}
	c.notify()
}

// Submit sends one prompt through the credit gate and the agent invoker.
// Exactly one user message is appended synchronously before the agent call,
// regardless of the eventual outcome. On success the assistant message is
// appended with its log reference; on failure the user message stays and
// the error is surfaced without an assistant message.
func (c *Controller) Submit(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}

	c.mu.Lock()
	if c.closed || c.state == StateLoading || c.awaiting {
		c.mu.Unlock()
		return ErrBusy
	}
	epoch := c.epoch
	c.mu.Unlock()

	// Quota gate. The server is the final arbiter; this is a conservative,
	// possibly-stale pre-check that must reject before any agent call.
	allowed, err := c.gate.CanUse(ctx)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNoCredits
	}

	if err := c.ensureConversation(ctx, prompt, epoch); err != nil {
		return err
	}

	c.mu.Lock()
	// The gate and conversation calls ran outside the lock; the surface may
	// have switched or torn down in the meantime. The user turn belongs to
	// the conversation that was active at submission time only.
	if c.closed || c.state == StateLoading || c.awaiting || c.conv == nil || c.epoch != epoch {
		c.mu.Unlock()
		return ErrBusy
	}
	c.messages = append(c.messages, Message{
		Role:      RoleUser,
		Content:   prompt,
		Timestamp: time.Now(),
	})
	c.awaiting = true
	c.state = StateAwaitingAgent
	conversationID := c.conv.ID
	c.mu.Unlock()
	c.notify()

	result, err := c.agent.Invoke(ctx, c.opts.AgentKey, prompt, invoker.Options{
		ConversationID: conversationID,
	})

	c.mu.Lock()
	c.awaiting = false
	if c.state == StateAwaitingAgent {
		c.state = StateReady
	}
	if err != nil {
		if c.epoch == epoch {
			c.lastErr = err
		}
		c.mu.Unlock()
		c.notify()
		return err
	}
	if c.epoch == epoch {
		c.messages = append(c.messages, Message{
			Role:      RoleAssistant,
			Content:   result.Output,
			Timestamp: time.Now(),
			LogID:     result.LogID,
			Version:   result.Version,
		})
		c.lastErr = nil
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// Regenerate re-invokes the agent for an existing assistant message and, on
// success, replaces that message's content and version in place by matching
// log id. No other message in the ordered list is touched.
func (c *Controller) Regenerate(ctx context.Context, logID string) error {
	c.mu.Lock()
	if c.closed || c.state == StateLoading || c.awaiting {
		c.mu.Unlock()
		return ErrBusy
	}

	idx := c.indexByLogIDLocked(logID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNoSuchMessage, logID)
	}

	// The underlying prompt is the nearest preceding user turn.
	prompt := ""
	for i := idx - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleUser {
			prompt = c.messages[i].Content
			break
		}
	}
	if prompt == "" {
		c.mu.Unlock()
		return fmt.Errorf("%w: no user turn precedes %q", ErrNoSuchMessage, logID)
	}

	c.awaiting = true
	c.state = StateAwaitingAgent
	epoch := c.epoch
	conversationID := c.conv.ID
	c.mu.Unlock()
	c.notify()

	allowed, err := c.gate.CanUse(ctx)
	if err == nil && !allowed {
		err = ErrNoCredits
	}

	var result *invoker.Result
	if err == nil {
		result, err = c.agent.Invoke(ctx, c.opts.AgentKey, prompt, invoker.Options{
			ConversationID:  conversationID,
			RegenerateLogID: logID,
		})
	}

	c.mu.Lock()
	c.awaiting = false
	if c.state == StateAwaitingAgent {
		c.state = StateReady
	}
	if err != nil {
		if c.epoch == epoch {
			c.lastErr = err
		}
		c.mu.Unlock()
		c.notify()
		return err
	}
	if c.epoch == epoch {
		if i := c.indexByLogIDLocked(logID); i >= 0 {
			c.messages[i].Content = result.Output
			// A failed audit write leaves the result without a version;
			// the message keeps its prior one rather than regressing to zero.
			if result.Version > 0 {
				c.messages[i].Version = result.Version
			}
		}
		c.lastErr = nil
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// ensureConversation creates the conversation on first submission, or sets
// the title when the first message goes into a pre-existing empty one.
// The title comes from the prompt at creation time, so no PATCH follows a
// create. A surface that switched or tore down since the epoch was captured
// gets ErrBusy instead of a conversation it no longer wants.
func (c *Controller) ensureConversation(ctx context.Context, prompt string, epoch uint64) error {
	c.mu.Lock()
	if c.closed || c.state == StateLoading || c.epoch != epoch {
		c.mu.Unlock()
		return ErrBusy
	}
	needCreate := c.conv == nil
	needTitle := c.conv != nil && len(c.messages) == 0
	var conversationID string
	if c.conv != nil {
		conversationID = c.conv.ID
	}
	c.mu.Unlock()

	title := titleFromPrompt(prompt)

	if needCreate {
		created, err := c.writer.CreateConversation(ctx, title)
		if err != nil {
			return fmt.Errorf("creating conversation: %w", err)
		}
		c.mu.Lock()
		if c.closed || c.state == StateLoading || c.epoch != epoch {
			c.mu.Unlock()
			return ErrBusy
		}
		if c.conv == nil {
			c.conv = &Conversation{
				ID:        created.ID,
				Title:     created.Title,
				CreatedAt: created.CreatedAt,
			}
			c.state = StateReady
		}
		c.mu.Unlock()
		c.notify()
		return nil
	}

	if needTitle {
		if err := c.writer.UpdateTitle(ctx, conversationID, title); err != nil {
			// Title is cosmetic; the submission proceeds.
			c.logger.Warn("failed to set conversation title",
				"conversation_id", conversationID,
				"error", err)
			return nil
		}
		c.mu.Lock()
		if c.conv != nil && c.conv.ID == conversationID {
			c.conv.Title = title
		}
		c.mu.Unlock()
		c.notify()
	}
	return nil
}

// Close cancels any in-flight load and detaches the controller from its
// surface. Later calls are no-ops.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cancelAttemptLocked()
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Conversation returns a copy of the active conversation, or nil.
func (c *Controller) Conversation() *Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil {
		return nil
	}
	conv := *c.conv
	return &conv
}

// Messages returns a copy of the materialized message list.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// LastError returns the most recent surfaced error, or nil. Cancelled
// attempts never set it.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// cancelAttemptLocked fires the active attempt's token, if any.
// Must be called with mu held.
func (c *Controller) cancelAttemptLocked() {
	if c.attempt != nil {
		c.attempt.cancel()
		c.attempt = nil
	}
}

// clearLocked empties the materialized list and advances the epoch so any
// in-flight submission finishing later appends nothing.
// Must be called with mu held.
func (c *Controller) clearLocked() {
	c.messages = nil
	c.epoch++
}

// indexByLogIDLocked finds the assistant message carrying logID.
// Must be called with mu held.
func (c *Controller) indexByLogIDLocked(logID string) int {
	if logID == "" {
		return -1
	}
	for i, m := range c.messages {
		if m.Role == RoleAssistant && m.LogID == logID {
			return i
		}
	}
	return -1
}

// notify fires the change hook outside the lock.
func (c *Controller) notify() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}

// titleFromPrompt derives a conversation title from the first prompt:
// the first 50 characters, ellipsized.
func titleFromPrompt(prompt string) string {
	runes := []rune(strings.TrimSpace(prompt))
	if len(runes) <= maxTitleLen {
		return string(runes)
	}
	return string(runes[:maxTitleLen]) + "…"
}
