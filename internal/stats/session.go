package stats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is one isolated report: a named registry with its own key space and
// lock set. Sessions are activated and deactivated through a Manager.
type Session struct {
	id       uuid.UUID
	name     string
	created  time.Time
	registry *Registry
}

func newSession(ctx context.Context, name string, logger *zap.Logger) *Session {
	id := uuid.New()
	return &Session{
		id:       id,
		name:     name,
		created:  time.Now().UTC(),
		registry: NewRegistry(ctx, logger.With(zap.String("session", name), zap.Stringer("session_id", id))),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Name returns the human readable session name.
func (s *Session) Name() string { return s.name }

// Created returns when the session was opened.
func (s *Session) Created() time.Time { return s.created }

// Registry exposes the session's statistic registry.
func (s *Session) Registry() *Registry { return s.registry }

// Register is shorthand for s.Registry().Register.
func (s *Session) Register(ctx context.Context, key string, initial any) error {
	return s.registry.Register(ctx, key, initial)
}
