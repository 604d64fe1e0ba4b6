package sinks

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/shardkit/internal/progress"
)

// BarOptions are the progress display options passed through from
// configuration.
type BarOptions struct {
	// Enabled turns the bar on; a disabled BarSink ignores every event.
	Enabled bool
	// Description prefixes the bar.
	Description string
	// Total is the expected item count; non-positive renders a spinner.
	Total int64
	// Width of the bar in characters.
	Width int
	// Throttle limits redraws.
	Throttle time.Duration
	// Writer receives the rendering (default os.Stderr).
	Writer io.Writer
}

// BarSink renders item throughput on a terminal progress bar.
type BarSink struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewBarSink builds the bar described by opts.
func NewBarSink(opts BarOptions) *BarSink {
	if !opts.Enabled {
		return &BarSink{}
	}
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}
	if opts.Width <= 0 {
		opts.Width = 40
	}
	total := opts.Total
	if total <= 0 {
		total = -1
	}
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(opts.Description),
		progressbar.OptionSetWriter(opts.Writer),
		progressbar.OptionSetWidth(opts.Width),
		progressbar.OptionThrottle(opts.Throttle),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(opts.Writer)
		}),
	)
	return &BarSink{bar: bar}
}

// Consume advances the bar by the batch's deltas.
func (s *BarSink) Consume(_ context.Context, batch []progress.Event) error {
	if s.bar == nil {
		return nil
	}
	var delta int64
	for _, evt := range batch {
		delta += evt.Delta
	}
	if delta == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bar.Add64(delta); err != nil {
		return fmt.Errorf("advance progress bar: %w", err)
	}
	return nil
}

// Current reports the number of items the bar has counted.
func (s *BarSink) Current() int64 {
	if s.bar == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bar.State().CurrentNum
}

// Close finishes the bar.
func (s *BarSink) Close(context.Context) error {
	if s.bar == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bar.Finish(); err != nil {
		return fmt.Errorf("finish progress bar: %w", err)
	}
	return nil
}
