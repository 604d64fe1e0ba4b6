package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/copystructure"
	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/proc"
)

type opKind int

const (
	opRegister opKind = iota
	opGet
	opSet
	opLockFor
	opKeys
)

type request struct {
	op     opKind
	key    string
	value  any
	caller proc.ID
	reply  chan response
}

type response struct {
	value any
	lock  *Lock
	keys  []string
	err   error
}

// Registry holds named statistic values and one lock per name. A single
// coordinator goroutine owns the maps; every caller talks to it through a
// request channel, whichever execution context it runs in. Values are deep
// copied whenever they cross that boundary.
type Registry struct {
	owner     proc.ID
	requests  chan request
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger

	values map[string]any
	locks  map[string]*Lock
}

// NewRegistry starts a registry coordinator owned by the execution context of
// ctx. The coordinator runs until Close.
func NewRegistry(ctx context.Context, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		owner:    proc.From(ctx),
		requests: make(chan request),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger,
		values:   make(map[string]any),
		locks:    make(map[string]*Lock),
	}
	go r.run()
	return r
}

// Owner returns the execution context allowed to register keys.
func (r *Registry) Owner() proc.ID {
	return r.owner
}

// Register stores a deep copy of initial under key and creates the key's
// lock. It fails for duplicate keys and for callers outside the owner.
func (r *Registry) Register(ctx context.Context, key string, initial any) error {
	value, err := clone(initial)
	if err != nil {
		return fmt.Errorf("register %q: %w", key, err)
	}
	if _, err := r.call(ctx, request{op: opRegister, key: key, value: value}); err != nil {
		return fmt.Errorf("register %q: %w", key, err)
	}
	r.logger.Debug("statistic registered", zap.String("key", key))
	return nil
}

// LockFor returns the lock guarding key. Hold it across Get and Set to make a
// read-modify-write sequence atomic.
func (r *Registry) LockFor(ctx context.Context, key string) (*Lock, error) {
	resp, err := r.call(ctx, request{op: opLockFor, key: key})
	if err != nil {
		return nil, fmt.Errorf("lock for %q: %w", key, err)
	}
	return resp.lock, nil
}

// Get returns a copy of the value stored under key, read under its lock.
func (r *Registry) Get(ctx context.Context, key string) (any, error) {
	lock, err := r.LockFor(ctx, key)
	if err != nil {
		return nil, err
	}
	ctx, err = lock.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock(ctx)

	resp, err := r.call(ctx, request{op: opGet, key: key})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	value, err := clone(resp.value)
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Set replaces the value stored under key with a copy of value, under its lock.
func (r *Registry) Set(ctx context.Context, key string, value any) error {
	lock, err := r.LockFor(ctx, key)
	if err != nil {
		return err
	}
	ctx, err = lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer lock.Unlock(ctx)

	copied, err := clone(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	if _, err := r.call(ctx, request{op: opSet, key: key, value: copied}); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Update performs a locked read-modify-write of key.
func (r *Registry) Update(ctx context.Context, key string, fn func(old any) (any, error)) error {
	lock, err := r.LockFor(ctx, key)
	if err != nil {
		return err
	}
	ctx, err = lock.Lock(ctx)
	if err != nil {
		return err
	}
	defer lock.Unlock(ctx)

	old, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	next, err := fn(old)
	if err != nil {
		return fmt.Errorf("update %q: %w", key, err)
	}
	return r.Set(ctx, key, next)
}

// Has reports whether key is registered.
func (r *Registry) Has(ctx context.Context, key string) (bool, error) {
	_, err := r.LockFor(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUnknownKey):
		return false, nil
	default:
		return false, err
	}
}

// Keys lists the registered keys in sorted order.
func (r *Registry) Keys(ctx context.Context) ([]string, error) {
	resp, err := r.call(ctx, request{op: opKeys})
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	return resp.keys, nil
}

// Snapshot reads every key under its lock and returns the copies.
func (r *Registry) Snapshot(ctx context.Context) (map[string]any, error) {
	keys, err := r.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		value, err := r.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

// Close stops the coordinator. Calls made afterwards return ErrClosed.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() { close(r.stop) })
	<-r.done
	return nil
}

func (r *Registry) call(ctx context.Context, req request) (response, error) {
	req.caller = proc.From(ctx)
	req.reply = make(chan response, 1)
	select {
	case r.requests <- req:
	case <-r.stop:
		return response{}, ErrClosed
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	resp := <-req.reply
	return resp, resp.err
}

func (r *Registry) run() {
	defer close(r.done)
	for {
		select {
		case req := <-r.requests:
			req.reply <- r.handle(req)
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) handle(req request) response {
	switch req.op {
	case opRegister:
		if req.caller != r.owner {
			return response{err: ErrNotOwner}
		}
		if _, ok := r.values[req.key]; ok {
			return response{err: ErrDuplicateKey}
		}
		r.values[req.key] = req.value
		r.locks[req.key] = newLock(req.key)
		return response{}
	case opGet:
		value, ok := r.values[req.key]
		if !ok {
			return response{err: ErrUnknownKey}
		}
		return response{value: value}
	case opSet:
		if _, ok := r.values[req.key]; !ok {
			return response{err: ErrUnknownKey}
		}
		r.values[req.key] = req.value
		return response{}
	case opLockFor:
		lock, ok := r.locks[req.key]
		if !ok {
			return response{err: ErrUnknownKey}
		}
		return response{lock: lock}
	case opKeys:
		keys := make([]string, 0, len(r.values))
		for key := range r.values {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return response{keys: keys}
	default:
		return response{err: fmt.Errorf("unknown registry op %d", req.op)}
	}
}

// GetAs is Get with a type assertion on the stored value.
func GetAs[T any](ctx context.Context, r *Registry, key string) (T, error) {
	var zero T
	value, err := r.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("get %q: stored %T, want %T", key, value, zero)
	}
	return typed, nil
}

func clone(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	copied, err := copystructure.Copy(v)
	if err != nil {
		return nil, fmt.Errorf("copy value: %w", err)
	}
	return copied, nil
}
