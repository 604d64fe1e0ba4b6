// Package linestats is the bundled consumer: it measures the lines of a JSONL
// input, writes one output object per worker and records line statistics in
// every active session.
package linestats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/hash/sha256"
	"github.com/JakeFAU/shardkit/internal/proc"
	"github.com/JakeFAU/shardkit/internal/shard"
	"github.com/JakeFAU/shardkit/internal/storage"
	"github.com/JakeFAU/shardkit/internal/worker"
)

// Config controls where a Consumer writes.
type Config struct {
	RunID       uuid.UUID
	Prefix      string
	ContentType string
}

// Record is the output line written for every consumed input line.
type Record struct {
	Shard  int `json:"shard"`
	Index  int `json:"index"`
	Line   int `json:"line"`
	Length int `json:"length"`
	Tokens int `json:"tokens"`
}

// Object describes one uploaded object.
type Object struct {
	URI string `json:"uri"`
	sha256.Digest
}

// Header is the object worker 0 writes when it starts.
type Header struct {
	RunID   uuid.UUID `json:"run_id"`
	Created time.Time `json:"created"`
	Fields  []string  `json:"fields"`
}

// Consumer implements worker.Hooks for shard.Line items. One Consumer serves
// a single run.
type Consumer struct {
	cfg    Config
	stats  *Statistics
	blobs  storage.BlobStore
	gate   *proc.Gate
	logger *zap.Logger

	mu      sync.Mutex
	buffers map[int]*bytes.Buffer
	objects []Object
}

var _ worker.Hooks[shard.Line] = (*Consumer)(nil)

// NewConsumer builds a consumer that records into st and uploads through
// blobs. Uploads go through gate.
func NewConsumer(cfg Config, st *Statistics, blobs storage.BlobStore, gate *proc.Gate, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/x-ndjson"
	}
	return &Consumer{
		cfg:     cfg,
		stats:   st,
		blobs:   blobs,
		gate:    gate,
		logger:  logger,
		buffers: make(map[int]*bytes.Buffer),
	}
}

// Objects returns the objects written so far, in upload order.
func (c *Consumer) Objects() []Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Object(nil), c.objects...)
}

// InitializeWorker opens the worker's output buffer.
func (c *Consumer) InitializeWorker(ctx context.Context, w int) error {
	c.mu.Lock()
	c.buffers[w] = &bytes.Buffer{}
	c.mu.Unlock()

	if w != 0 {
		return nil
	}
	header, err := json.Marshal(Header{
		RunID:   c.cfg.RunID,
		Created: time.Now().UTC(),
		Fields:  []string{"shard", "index", "line", "length", "tokens"},
	})
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	_, err = c.upload(ctx, "header.json", "application/json", header)
	return err
}

// ConsumeExample measures one line, appends its record to the worker's
// buffer and broadcasts the measurements.
func (c *Consumer) ConsumeExample(ctx context.Context, shardID, index int, line shard.Line) error {
	w, ok := worker.IndexFrom(ctx)
	if !ok {
		return fmt.Errorf("line %d: no worker index in context", line.Number)
	}
	c.mu.Lock()
	buf := c.buffers[w]
	c.mu.Unlock()
	if buf == nil {
		return fmt.Errorf("worker %d: output buffer not initialized", w)
	}

	rec := Record{
		Shard:  shardID,
		Index:  index,
		Line:   line.Number,
		Length: len(line.Text),
		Tokens: len(strings.Fields(line.Text)),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	buf.Write(raw)
	buf.WriteByte('\n')

	return c.stats.Record(ctx, rec)
}

// FinalizeWorker uploads the worker's buffer as one object.
func (c *Consumer) FinalizeWorker(ctx context.Context, w int) error {
	c.mu.Lock()
	buf := c.buffers[w]
	delete(c.buffers, w)
	c.mu.Unlock()
	if buf == nil {
		return nil
	}
	_, err := c.upload(ctx, fmt.Sprintf("worker-%05d.jsonl", w), c.cfg.ContentType, buf.Bytes())
	return err
}

func (c *Consumer) upload(ctx context.Context, name, contentType string, body []byte) (Object, error) {
	path := storage.ObjectPath(storage.ObjectPath(c.cfg.Prefix, c.cfg.RunID.String()), name)
	out, err := c.gate.Execute(ctx, func(ctx context.Context) (any, error) {
		r := sha256.NewReader(bytes.NewReader(body))
		uri, err := c.blobs.PutObject(ctx, path, contentType, r)
		if err != nil {
			return nil, err
		}
		return Object{URI: uri, Digest: r.Digest()}, nil
	}, true)
	if err != nil {
		return Object{}, fmt.Errorf("upload %s: %w", path, err)
	}
	obj, _ := out.(Object)
	if obj.Bytes != int64(len(body)) {
		return obj, fmt.Errorf("upload %s: store consumed %d of %d bytes", path, obj.Bytes, len(body))
	}
	c.mu.Lock()
	c.objects = append(c.objects, obj)
	c.mu.Unlock()
	c.logger.Debug("object uploaded",
		zap.String("uri", obj.URI),
		zap.String("sha256", obj.SHA256),
		zap.Int64("bytes", obj.Bytes),
	)
	return obj, nil
}
