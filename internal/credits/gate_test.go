// ABOUTME: Tests for the read-only credit gate
// ABOUTME: Verifies unlimited plans, limit comparison, and source error propagation

package credits

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSource implements Source for testing
type mockSource struct {
	balance Balance
	err     error
	calls   int
}

func (m *mockSource) Balance(_ context.Context) (Balance, error) {
	m.calls++
	return m.balance, m.err
}

func TestGate_CanUse(t *testing.T) {
	tests := []struct {
		name    string
		balance Balance
		want    bool
	}{
		{name: "under limit", balance: Balance{Used: 3, Limit: 10}, want: true},
		{name: "at limit", balance: Balance{Used: 10, Limit: 10}, want: false},
		{name: "over limit", balance: Balance{Used: 12, Limit: 10}, want: false},
		{name: "unlimited plan over limit", balance: Balance{Used: 99, Limit: 10, Unlimited: true}, want: true},
		{name: "zero limit", balance: Balance{Used: 0, Limit: 0}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewGate(&mockSource{balance: tt.balance}, nil)

			got, err := gate.CanUse(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGate_CanUse_SourceError(t *testing.T) {
	srcErr := errors.New("balance fetch failed")
	gate := NewGate(&mockSource{err: srcErr}, nil)

	ok, err := gate.CanUse(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, srcErr)
}

func TestGate_RereadsEveryCheck(t *testing.T) {
	src := &mockSource{balance: Balance{Used: 0, Limit: 1}}
	gate := NewGate(src, nil)

	for i := 0; i < 3; i++ {
		_, err := gate.CanUse(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.calls, "the gate must re-read rather than cache the balance")
}

func TestBalance_Remaining(t *testing.T) {
	assert.Equal(t, 7, Balance{Used: 3, Limit: 10}.Remaining())
	assert.Equal(t, 0, Balance{Used: 12, Limit: 10}.Remaining())
	assert.Equal(t, -1, Balance{Unlimited: true}.Remaining())
}
