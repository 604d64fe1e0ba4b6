// Package queue defines the contract of the shard queue shared by workers.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by Pop when nothing arrived within the wait.
	ErrEmpty = errors.New("queue empty")
	// ErrClosed is returned once a closed queue has been drained.
	ErrClosed = errors.New("queue closed")
)

// Popper hands out shard ids. Pop waits at most wait for an id; running dry
// is reported as ErrEmpty or ErrClosed, both of which end a worker normally.
type Popper interface {
	Pop(ctx context.Context, wait time.Duration) (int, error)
}

// Exhausted reports whether err means the queue has nothing left to give.
func Exhausted(err error) bool {
	return errors.Is(err, ErrEmpty) || errors.Is(err, ErrClosed)
}
