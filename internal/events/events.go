// Package events publishes user lifecycle events for other services
// (notifications, analytics) to consume. Publishing is best effort: the auth
// flows never fail because the broker is unavailable.
package events

import (
	"context"
	"time"
)

// Routing keys on the auth exchange.
const (
	KeyUserRegistered  = "user.registered"
	KeyUserVerified    = "user.verified"
	KeyUserRoleChanged = "user.role_changed"
)

// Publisher sends an event under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
	Close() error
}

// UserRegistered is published under KeyUserRegistered.
type UserRegistered struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// UserVerified is published under KeyUserVerified when is_verified flips to true.
type UserVerified struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}

// UserRoleChanged is published under KeyUserRoleChanged.
type UserRoleChanged struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Noop drops every event. It is used when no broker is configured.
type Noop struct{}

// NewNoop returns a Publisher that drops events.
func NewNoop() Publisher { return Noop{} }

func (Noop) Publish(ctx context.Context, key string, event any) error { return nil }
func (Noop) Close() error                                             { return nil }
