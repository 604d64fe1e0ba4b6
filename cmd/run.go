package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/app"
	"github.com/JakeFAU/shardkit/internal/config"
	"github.com/JakeFAU/shardkit/internal/dispatcher"
	"github.com/JakeFAU/shardkit/internal/linestats"
	"github.com/JakeFAU/shardkit/internal/policy/ratelimit"
	"github.com/JakeFAU/shardkit/internal/shard"
)

// runOutput is the summary printed when a run finishes.
type runOutput struct {
	Result       dispatcher.Result  `json:"result"`
	Report       linestats.Summary  `json:"report"`
	Objects      []linestats.Object `json:"objects"`
	SkippedLines int                `json:"skipped_lines"`
}

// newRunCmd creates the 'run' subcommand, which consumes a JSONL file with
// the bundled line statistics consumer.
func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume a JSONL file and report line statistics",
		Long: `Reads a JSONL file (or stdin with --input -), splits it into shards,
consumes every line with a pool of workers, writes one output object per
worker to the configured storage backend and prints a JSON summary.`,
		Args: cobra.NoArgs,
		RunE: runRunCommand,
	}

	flags := cmd.Flags()
	flags.String("input", "", "JSONL input file, - for stdin")
	flags.Int("shard-size", 0, "lines per shard (default: split evenly across workers)")
	flags.Bool("skip-invalid", false, "drop lines that are not valid JSON instead of failing")
	flags.Bool("progress", true, "render a progress bar on stderr")
	flags.Float64("max-rate", 0, "maximum items consumed per second across all workers (0: unlimited)")
	flags.Bool("serve", false, "serve the HTTP API while the run is in progress")
	flags.String("backend", "", "output storage backend (memory, local, gcs)")
	flags.String("out", "", "output directory for the local backend")
	bind(v, flags.Lookup("input"), "input.path")
	bind(v, flags.Lookup("shard-size"), "input.shard_size")
	bind(v, flags.Lookup("skip-invalid"), "input.skip_invalid")
	bind(v, flags.Lookup("progress"), "progress.bar")
	bind(v, flags.Lookup("max-rate"), "consume.max_items_per_second")
	bind(v, flags.Lookup("serve"), "server.enabled")
	bind(v, flags.Lookup("backend"), "storage.backend")
	bind(v, flags.Lookup("out"), "storage.local_dir")
	return cmd
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := resolveConfig(ctx)
	if err != nil {
		return err
	}

	lines, skipped, err := readInput(cmd, cfg.Input)
	if err != nil {
		return err
	}
	src, err := buildSource(lines, cfg)
	if err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg,
		app.WithExpectedItems(int64(len(lines))),
		app.WithBarWriter(cmd.ErrOrStderr()),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close(context.WithoutCancel(ctx))
	logger := a.Logger()

	if cfg.Server.Enabled {
		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := a.Serve(serveCtx); err != nil {
				logger.Error("http server failed", zap.Error(err))
			}
		}()
	}

	st := linestats.NewStatistics(a.Sessions(), cfg.Stats.HistogramBounds, cfg.Stats.ReservoirSize)
	reports, err := linestats.NewReports(ctx, a.Sessions(), st, a.Gate(), logger.Named("reports"))
	if err != nil {
		return err
	}
	defer reports.Close()

	runID, err := a.NewRunID()
	if err != nil {
		return fmt.Errorf("allocate run id: %w", err)
	}
	consumer := linestats.NewConsumer(linestats.Config{
		RunID:       runID,
		Prefix:      cfg.Storage.Prefix,
		ContentType: cfg.Storage.ContentType,
	}, st, a.Blobs(), a.Gate(), logger.Named("linestats"))
	hooks := ratelimit.Wrap[shard.Line](consumer, a.Limiter(), ratelimit.Global)

	logger.Info("run starting",
		zap.Stringer("run_id", runID),
		zap.Int("lines", len(lines)),
		zap.Int("skipped_lines", skipped),
		zap.Int("shards", src.ShardCount()),
	)

	var res dispatcher.Result
	summary, runErr := reports.Run(ctx, runID, func(ctx context.Context) error {
		var err error
		res, err = a.Track(ctx, runID, src.ShardCount(), func(ctx context.Context, id uuid.UUID) (dispatcher.Result, error) {
			return dispatcher.Consume[shard.Line](ctx, a.Pool(), src, hooks, dispatcher.WithRunID(id))
		})
		return err
	})
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("run cancelled", zap.Stringer("run_id", runID), zap.Int64("items", res.Items))
		}
		return fmt.Errorf("run %s: %w", runID, runErr)
	}

	logger.Info("run finished",
		zap.Stringer("run_id", runID),
		zap.Int64("items", res.Items),
		zap.Duration("elapsed", res.Elapsed),
		zap.Float64("items_per_second", res.Throughput),
	)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(runOutput{
		Result:       res,
		Report:       summary,
		Objects:      consumer.Objects(),
		SkippedLines: skipped,
	}); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func readInput(cmd *cobra.Command, in config.InputConfig) ([]shard.Line, int, error) {
	var r io.Reader
	switch in.Path {
	case "":
		return nil, 0, errors.New("no input: set --input or input.path")
	case "-":
		r = cmd.InOrStdin()
	default:
		f, err := os.Open(in.Path)
		if err != nil {
			return nil, 0, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	lines, skipped, err := shard.ReadLines(r, in.SkipInvalid)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", in.Path, err)
	}
	return lines, skipped, nil
}

func buildSource(lines []shard.Line, cfg config.Config) (shard.Slices[shard.Line], error) {
	if cfg.Input.ShardSize > 0 {
		return shard.Chunk(lines, cfg.Input.ShardSize)
	}
	return shard.EvenSplit(lines, cfg.Consume.NumProc)
}
