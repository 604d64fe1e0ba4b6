// Package publisher defines how run notifications leave the process. The
// memory and pubsub sub-packages provide implementations.
package publisher

import "context"

// Publisher sends one payload to a topic and returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Noop discards every payload.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, any) (string, error) { return "", nil }
