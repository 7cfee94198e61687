// ABOUTME: Actor identity and bearer token supply for outbound backend calls
// ABOUTME: Extracts the actor id from JWT access tokens and exposes the subscription plan

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoActor is returned when no authenticated actor is available.
// Callers treat it as "please sign in" and never attempt a network call.
var ErrNoActor = errors.New("no authenticated actor")

// Subscription plan names as they appear in access token claims.
const (
	PlanFree      = "free"
	PlanPro       = "pro"
	PlanUnlimited = "unlimited"
)

// Identity describes the authenticated actor behind a session surface.
type Identity struct {
	ActorID string
	Token   string
	Plan    string
}

// Unlimited reports whether the actor's plan is exempt from daily credit limits.
func (i Identity) Unlimited() bool {
	return i.Plan == PlanUnlimited
}

// TokenSource supplies the current actor identity. Implementations may
// refresh tokens behind the scenes; callers must not cache the result
// across calls.
type TokenSource interface {
	Identity(ctx context.Context) (*Identity, error)
}

// StaticTokenSource returns a fixed identity derived from one access token.
// Suitable for CLI clients where the token is supplied by the environment.
type StaticTokenSource struct {
	identity Identity
}

// NewStaticTokenSource builds a StaticTokenSource from a raw bearer token.
// The actor id is taken from the token's subject claim and the plan from
// the "plan" claim when present.
func NewStaticTokenSource(token string) (*StaticTokenSource, error) {
	if token == "" {
		return nil, ErrNoActor
	}

	actorID, plan, err := claimsFromToken(token)
	if err != nil {
		return nil, err
	}

	return &StaticTokenSource{
		identity: Identity{
			ActorID: actorID,
			Token:   token,
			Plan:    plan,
		},
	}, nil
}

// Identity implements TokenSource.
func (s *StaticTokenSource) Identity(_ context.Context) (*Identity, error) {
	id := s.identity
	return &id, nil
}

// claimsFromToken extracts the subject and plan claims from a JWT access token.
// The signature is not verified here: the backend is the authority on token
// validity and rejects bad tokens server-side; the client only needs the
// claims for attribution and plan display.
func claimsFromToken(token string) (actorID, plan string, err error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", "", fmt.Errorf("parsing access token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", "", fmt.Errorf("access token has no subject claim: %w", ErrNoActor)
	}

	if p, ok := claims["plan"].(string); ok {
		plan = p
	} else {
		plan = PlanFree
	}

	return sub, plan, nil
}
