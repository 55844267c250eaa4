package core

import (
	"context"

	"github.com/venrik/meetwire/internal/domain"
)

// AuthResult is what a successful authentication hands back. Token may be
// empty on deployments that admit anonymous participants.
type AuthResult struct {
	UserID      string
	DisplayName string
	Token       string
}

// Authenticator validates that the caller may join the room. The
// orchestrator runs it off its own goroutine and never blocks on it; token
// validity policy (reuse on reconnect) belongs to the implementation.
type Authenticator interface {
	Authenticate(ctx context.Context, serverURL string, room domain.RoomName, displayName string) (AuthResult, error)
}
