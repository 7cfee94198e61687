// ABOUTME: Read-only credit gate answering "may the actor spend one more agent run today"
// ABOUTME: Deduction is server-side; the gate is a conservative, possibly-stale check

package credits

import (
	"context"
	"fmt"
	"log/slog"
)

// Balance is the actor's daily agent-usage quota as reported by the backing
// store. Read-mostly; only the server mutates it.
type Balance struct {
	Used      int
	Limit     int
	Unlimited bool
}

// Remaining returns how many runs are left today. Unlimited plans report -1.
func (b Balance) Remaining() int {
	if b.Unlimited {
		return -1
	}
	if b.Used >= b.Limit {
		return 0
	}
	return b.Limit - b.Used
}

// Source supplies the current balance. The gate re-reads on every check
// rather than caching: two surfaces may both read an allowing balance and
// both submit, and the server remains the final arbiter.
type Source interface {
	Balance(ctx context.Context) (Balance, error)
}

// Gate decides whether one more agent run may be submitted.
type Gate struct {
	source Source
	logger *slog.Logger
}

// NewGate creates a credit gate over the given balance source.
func NewGate(source Source, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		source: source,
		logger: logger.With("component", "credits"),
	}
}

// CanUse reports whether the actor may spend one more unit of agent usage.
// It never performs the deduction itself.
func (g *Gate) CanUse(ctx context.Context) (bool, error) {
	balance, err := g.source.Balance(ctx)
	if err != nil {
		return false, fmt.Errorf("reading credit balance: %w", err)
	}

	if balance.Unlimited {
		return true, nil
	}

	allowed := balance.Used < balance.Limit
	if !allowed {
		g.logger.Debug("credit limit reached",
			"used", balance.Used,
			"limit", balance.Limit)
	}
	return allowed, nil
}

// Balance returns the current balance for display purposes.
func (g *Gate) Balance(ctx context.Context) (Balance, error) {
	return g.source.Balance(ctx)
}
