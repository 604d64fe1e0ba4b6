// Package shard describes item sources that can be consumed shard by shard.
package shard

import (
	"fmt"
	"iter"
)

// Source is a collection partitioned into independently iterable shards.
// ShardItems yields (local index, item) pairs in source order.
type Source[T any] interface {
	ShardCount() int
	ShardItems(shard int) iter.Seq2[int, T]
}

// Sized is implemented by sources that know their total item count.
type Sized interface {
	Len() int
}

// Slices is a Source over caller-provided shards. The slices are referenced,
// not copied.
type Slices[T any] [][]T

// FromShards wraps pre-partitioned items.
func FromShards[T any](shards ...[]T) Slices[T] {
	return Slices[T](shards)
}

// ShardCount implements Source.
func (s Slices[T]) ShardCount() int { return len(s) }

// ShardItems implements Source. An out of range id yields nothing.
func (s Slices[T]) ShardItems(shard int) iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		if shard < 0 || shard >= len(s) {
			return
		}
		for i, item := range s[shard] {
			if !yield(i, item) {
				return
			}
		}
	}
}

// Len implements Sized.
func (s Slices[T]) Len() int {
	n := 0
	for _, part := range s {
		n += len(part)
	}
	return n
}

// EvenSplit partitions items into at most n contiguous shards whose sizes
// differ by at most one; the first len(items)%n shards carry the extra item.
// The shard count is capped at len(items), so no shard is empty.
func EvenSplit[T any](items []T, n int) (Slices[T], error) {
	if n <= 0 {
		return nil, fmt.Errorf("even split: shard count must be positive, got %d", n)
	}
	if n > len(items) {
		n = len(items)
	}
	out := make(Slices[T], 0, n)
	size, extra := 0, 0
	if n > 0 {
		size, extra = len(items)/n, len(items)%n
	}
	start := 0
	for i := range n {
		end := start + size
		if i < extra {
			end++
		}
		out = append(out, items[start:end:end])
		start = end
	}
	return out, nil
}

// Total returns the number of items in src, iterating it when src does not
// implement Sized.
func Total[T any](src Source[T]) int {
	if sized, ok := src.(Sized); ok {
		return sized.Len()
	}
	n := 0
	for s := range src.ShardCount() {
		for range src.ShardItems(s) {
			n++
		}
	}
	return n
}
