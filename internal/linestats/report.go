package linestats

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/proc"
	"github.com/JakeFAU/shardkit/internal/stats"
	"github.com/JakeFAU/shardkit/internal/stats/accum"
)

// Statistic keys.
const (
	KeyItems           = "items"
	KeyLineLength      = "line_length"
	KeyLengthHistogram = "length_histogram"
	KeyTokenCounts     = "token_counts"
)

// Session names.
const (
	OverallSession = "overall"
	ReportSession  = "shard_report"
)

// Statistics bundles the producers the consumer writes through.
type Statistics struct {
	items      *accum.Counter
	lineLength *accum.MeanStd
	histogram  *accum.Histogram
	tokens     *accum.Distribution
}

// NewStatistics creates the line statistics. bounds are the line length
// histogram buckets; reservoir caps the token count sample.
func NewStatistics(m *stats.Manager, bounds []float64, reservoir int) *Statistics {
	return &Statistics{
		items:      accum.NewCounter(m, KeyItems),
		lineLength: accum.NewMeanStd(m, KeyLineLength),
		histogram:  accum.NewHistogram(m, KeyLengthHistogram, bounds),
		tokens:     accum.NewDistribution(m, KeyTokenCounts, reservoir),
	}
}

// Producers lists every statistic for registration.
func (s *Statistics) Producers() []accum.Producer {
	return []accum.Producer{s.items, s.lineLength, s.histogram, s.tokens}
}

// Record broadcasts the measurements of one line.
func (s *Statistics) Record(ctx context.Context, rec Record) error {
	if _, err := s.items.Add(ctx, 1); err != nil {
		return fmt.Errorf("record %s: %w", KeyItems, err)
	}
	if _, err := s.lineLength.Observe(ctx, float64(rec.Length)); err != nil {
		return fmt.Errorf("record %s: %w", KeyLineLength, err)
	}
	if _, err := s.histogram.Observe(ctx, float64(rec.Length)); err != nil {
		return fmt.Errorf("record %s: %w", KeyLengthHistogram, err)
	}
	if _, err := s.tokens.Observe(ctx, float64(rec.Tokens)); err != nil {
		return fmt.Errorf("record %s: %w", KeyTokenCounts, err)
	}
	return nil
}

// Summary is the readable form of one session's line statistics.
type Summary struct {
	Session    string               `json:"session"`
	Items      int64                `json:"items"`
	MeanLength float64              `json:"mean_length"`
	StdLength  float64              `json:"std_length"`
	Histogram  accum.HistogramValue `json:"length_histogram"`
	Tokens     accum.Summary        `json:"token_counts"`
}

// Summarize reads the statistics stored in session.
func Summarize(ctx context.Context, session *stats.Session) (Summary, error) {
	reg := session.Registry()
	out := Summary{Session: session.Name()}
	var err error
	if out.Items, err = stats.GetAs[int64](ctx, reg, KeyItems); err != nil {
		return out, err
	}
	ms, err := stats.GetAs[accum.MeanStdValue](ctx, reg, KeyLineLength)
	if err != nil {
		return out, err
	}
	out.MeanLength, out.StdLength = ms.Mean, ms.StdDev()
	if out.Histogram, err = stats.GetAs[accum.HistogramValue](ctx, reg, KeyLengthHistogram); err != nil {
		return out, err
	}
	dist, err := stats.GetAs[accum.DistributionValue](ctx, reg, KeyTokenCounts)
	if err != nil {
		return out, err
	}
	if out.Tokens, err = dist.Summarize(); err != nil {
		return out, fmt.Errorf("summarize %s: %w", KeyTokenCounts, err)
	}
	return out, nil
}

// Reports keeps the process-wide overall session active and opens a
// shard_report session for each run. Both receive every write made while a
// run is in progress.
type Reports struct {
	manager *stats.Manager
	stats   *Statistics
	gate    *proc.Gate
	logger  *zap.Logger
	overall *stats.Session
	exit    func()
}

// NewReports opens and activates the overall session. ctx must belong to the
// routine that owns the manager's sessions.
func NewReports(ctx context.Context, m *stats.Manager, st *Statistics, gate *proc.Gate, logger *zap.Logger) (*Reports, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	overall, err := m.NewSession(ctx, OverallSession)
	if err != nil {
		return nil, fmt.Errorf("open %s session: %w", OverallSession, err)
	}
	if err := accum.RegisterAll(ctx, st.Producers(), overall); err != nil {
		return nil, fmt.Errorf("register %s statistics: %w", OverallSession, err)
	}
	return &Reports{
		manager: m,
		stats:   st,
		gate:    gate,
		logger:  logger,
		overall: overall,
		exit:    m.Enter(overall),
	}, nil
}

// Statistics returns the producers shared by every session.
func (r *Reports) Statistics() *Statistics { return r.stats }

// Overall returns the process-wide session.
func (r *Reports) Overall() *stats.Session { return r.overall }

// Run opens a shard_report session for runID, keeps it active while fn runs
// and returns its summary. The session is removed once the summary is read.
// The summary is returned even when fn fails.
func (r *Reports) Run(ctx context.Context, runID uuid.UUID, fn func(ctx context.Context) error) (Summary, error) {
	report, err := r.manager.NewSession(ctx, ReportSession)
	if err != nil {
		return Summary{}, fmt.Errorf("open %s session: %w", ReportSession, err)
	}
	if err := accum.RegisterAll(ctx, r.stats.Producers(), report); err != nil {
		return Summary{}, fmt.Errorf("register %s statistics: %w", ReportSession, err)
	}
	r.logger.Info("report session opened",
		zap.Stringer("run_id", runID),
		zap.Stringer("session_id", report.ID()),
	)

	runErr := r.manager.Scope(ctx, report, fn)
	summary, sumErr := r.Summary(ctx, report)
	rmErr := r.manager.Remove(report)
	return summary, errors.Join(runErr, sumErr, rmErr)
}

// Summary reads session's statistics in a child of the gate's home routine.
func (r *Reports) Summary(ctx context.Context, session *stats.Session) (Summary, error) {
	out, err := r.gate.Execute(ctx, func(ctx context.Context) (any, error) {
		return Summarize(ctx, session)
	}, true)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize %s: %w", session.Name(), err)
	}
	return out.(Summary), nil
}

// Close deactivates the overall session.
func (r *Reports) Close() {
	r.exit()
}
