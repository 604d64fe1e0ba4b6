package progress

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event is one progress delta sent by a worker.
type Event struct {
	// RunID identifies the consume run. The aggregator stamps it.
	RunID [16]byte
	// Worker is the index of the sending worker.
	Worker int
	// Shard is the shard the delta belongs to.
	Shard int
	// ShardComplete marks the last delta of a shard.
	ShardComplete bool
	// Delta counts items consumed since the worker's previous event.
	Delta int64
	// TS is the UTC time the worker sent the event.
	TS time.Time
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Worker < 0 {
		return errors.New("worker must be >= 0")
	}
	if e.Shard < 0 {
		return errors.New("shard must be >= 0")
	}
	if e.Delta < 0 {
		return errors.New("delta must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Snapshot is a point-in-time view of an aggregator.
type Snapshot struct {
	RunID           uuid.UUID     `json:"run_id"`
	Total           int64         `json:"total"`
	Expected        int64         `json:"expected,omitempty"`
	ShardsCompleted int64         `json:"shards_completed"`
	WorkersOpen     int           `json:"workers_open"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	Throughput      float64       `json:"items_per_second"`
	Done            bool          `json:"done"`
}
