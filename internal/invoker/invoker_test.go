// ABOUTME: Tests for the agent invoker
// ABOUTME: Verifies ordered side effects, non-fatal audit failures, and telemetry emission

package invoker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baylahnm/nbcon-core/internal/agents"
	"github.com/baylahnm/nbcon-core/internal/auth"
	"github.com/baylahnm/nbcon-core/internal/backend"
	"github.com/baylahnm/nbcon-core/internal/store"
	"github.com/baylahnm/nbcon-core/internal/telemetry"
)

// mockRunner implements ModelRunner for testing
type mockRunner struct {
	result  *backend.RunResult
	err     error
	calls   int
	lastReq backend.RunRequest
}

func (m *mockRunner) RunAgent(_ context.Context, req backend.RunRequest) (*backend.RunResult, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// mockAudit implements AuditStore for testing
type mockAudit struct {
	insertErr    error
	inserts      []*store.Exchange
	versionCalls []*store.Exchange
}

func (m *mockAudit) InsertExchange(_ context.Context, ex *store.Exchange) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	ex.LogID = "log-1"
	ex.Version = 1
	m.inserts = append(m.inserts, ex)
	return nil
}

func (m *mockAudit) InsertVersion(_ context.Context, ex *store.Exchange) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	ex.Version = 2
	m.versionCalls = append(m.versionCalls, ex)
	return nil
}

// staticTokens implements auth.TokenSource
type staticTokens struct {
	identity *auth.Identity
	err      error
}

func (s *staticTokens) Identity(_ context.Context) (*auth.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.identity, nil
}

// collectSink records telemetry events
type collectSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *collectSink) Write(event telemetry.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *collectSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.events))
	for i, e := range s.events {
		names[i] = e.Name
	}
	return names
}

func testRegistry() *agents.Registry {
	return agents.NewRegistry(map[string]agents.Profile{
		"assistant": {
			Model:       "gpt-4o-mini",
			Description: "You are a helpful assistant.",
			Temperature: 0.7,
			MaxTokens:   1024,
		},
	})
}

func testTokens() *staticTokens {
	return &staticTokens{identity: &auth.Identity{ActorID: "actor-1", Token: "tok"}}
}

func TestInvoke_Success(t *testing.T) {
	runner := &mockRunner{result: &backend.RunResult{Output: "answer", Tokens: 42}}
	audit := &mockAudit{}
	sink := &collectSink{}
	emitter := telemetry.New(sink, 16, nil)

	inv := New(testRegistry(), runner, audit, testTokens(), emitter, nil)

	result, err := inv.Invoke(context.Background(), "assistant", "explain beams", Options{
		ConversationID: "conv-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "answer", result.Output)
	assert.Equal(t, 42, result.Tokens)
	assert.Equal(t, "log-1", result.LogID)
	assert.Equal(t, 1, result.Version)

	// Request shape: system message from profile description, user message = prompt
	require.Len(t, runner.lastReq.Messages, 2)
	assert.Equal(t, "system", runner.lastReq.Messages[0].Role)
	assert.Equal(t, "You are a helpful assistant.", runner.lastReq.Messages[0].Content)
	assert.Equal(t, "user", runner.lastReq.Messages[1].Role)
	assert.Equal(t, "explain beams", runner.lastReq.Messages[1].Content)
	assert.Equal(t, 0.7, runner.lastReq.Temperature)
	assert.Equal(t, 1024, runner.lastReq.MaxTokens)

	// Audit row carries the full exchange
	require.Len(t, audit.inserts, 1)
	ex := audit.inserts[0]
	assert.Equal(t, "conv-1", ex.ConversationID)
	assert.Equal(t, "assistant", ex.AgentKey)
	assert.Equal(t, "actor-1", ex.ActorID)
	assert.Equal(t, "explain beams", ex.Prompt)
	assert.Equal(t, "answer", ex.Output)
	assert.Equal(t, 42, ex.Tokens)

	emitter.Close()
	assert.Equal(t, []string{"agent_request", "token_usage"}, sink.names())
}

func TestInvoke_UnknownAgent_FailsBeforeNetwork(t *testing.T) {
	runner := &mockRunner{result: &backend.RunResult{}}
	inv := New(testRegistry(), runner, &mockAudit{}, testTokens(), nil, nil)

	_, err := inv.Invoke(context.Background(), "nope", "hi", Options{})
	assert.ErrorIs(t, err, agents.ErrUnknownAgent)
	assert.Equal(t, 0, runner.calls, "unknown agent must fail before any network call")
}

func TestInvoke_NoActor_FailsBeforeNetwork(t *testing.T) {
	runner := &mockRunner{result: &backend.RunResult{}}
	tokens := &staticTokens{err: auth.ErrNoActor}
	inv := New(testRegistry(), runner, &mockAudit{}, tokens, nil, nil)

	_, err := inv.Invoke(context.Background(), "assistant", "hi", Options{})
	assert.ErrorIs(t, err, backend.ErrAuthRequired)
	assert.Equal(t, 0, runner.calls)
}

func TestInvoke_Overrides(t *testing.T) {
	runner := &mockRunner{result: &backend.RunResult{Output: "x"}}
	inv := New(testRegistry(), runner, &mockAudit{}, testTokens(), nil, nil)

	temp := 0.2
	maxTokens := 64
	_, err := inv.Invoke(context.Background(), "assistant", "hi", Options{
		Context:     "Project: bridge retrofit",
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	require.NoError(t, err)

	assert.Equal(t, 0.2, runner.lastReq.Temperature)
	assert.Equal(t, 64, runner.lastReq.MaxTokens)
	assert.Contains(t, runner.lastReq.Messages[0].Content, "Context:\nProject: bridge retrofit")
}

func TestInvoke_RunnerError_EmitsAgentError(t *testing.T) {
	runner := &mockRunner{err: backend.ErrUnavailable}
	audit := &mockAudit{}
	sink := &collectSink{}
	emitter := telemetry.New(sink, 16, nil)

	inv := New(testRegistry(), runner, audit, testTokens(), emitter, nil)

	_, err := inv.Invoke(context.Background(), "assistant", "hi", Options{})
	require.ErrorIs(t, err, backend.ErrUnavailable)

	// No partial state: the audit log has no row for a failed call
	assert.Empty(t, audit.inserts)

	emitter.Close()
	assert.Equal(t, []string{"agent_error"}, sink.names())
}

func TestInvoke_AuditFailureIsNonFatal(t *testing.T) {
	runner := &mockRunner{result: &backend.RunResult{Output: "answer", Tokens: 7}}
	audit := &mockAudit{insertErr: errors.New("disk full")}

	inv := New(testRegistry(), runner, audit, testTokens(), nil, nil)

	result, err := inv.Invoke(context.Background(), "assistant", "hi", Options{})
	require.NoError(t, err, "the user still gets the answer when the durability write fails")

	assert.Equal(t, "answer", result.Output)
	assert.Empty(t, result.LogID, "no durable log reference exists")
	assert.Zero(t, result.Version)
}

func TestInvoke_Regenerate_AppendsVersion(t *testing.T) {
	runner := &mockRunner{result: &backend.RunResult{Output: "better answer", Tokens: 9}}
	audit := &mockAudit{}

	inv := New(testRegistry(), runner, audit, testTokens(), nil, nil)

	result, err := inv.Invoke(context.Background(), "assistant", "hi", Options{
		RegenerateLogID: "log-1",
	})
	require.NoError(t, err)

	assert.Empty(t, audit.inserts)
	require.Len(t, audit.versionCalls, 1)
	assert.Equal(t, "log-1", audit.versionCalls[0].LogID)
	assert.Equal(t, "log-1", result.LogID)
	assert.Equal(t, 2, result.Version)
}
