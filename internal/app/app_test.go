package app_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/shardkit/internal/app"
	"github.com/JakeFAU/shardkit/internal/config"
	"github.com/JakeFAU/shardkit/internal/dispatcher"
	"github.com/JakeFAU/shardkit/internal/proc"
	"github.com/JakeFAU/shardkit/internal/publisher/memory"
	"github.com/JakeFAU/shardkit/internal/shard"
	memorystorage "github.com/JakeFAU/shardkit/internal/storage/memory"
	"github.com/JakeFAU/shardkit/internal/store"
	"github.com/JakeFAU/shardkit/internal/worker"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Consume.NumProc = 2
	cfg.Progress.Bar = false
	cfg.PubSub.ProjectID = ""
	cfg.DB.DSN = ""
	cfg.Storage.Backend = config.BackendMemory
	cfg.Tracing.Enabled = false
	cfg.PubSub.ShardTopic = "shard-progress"
	return cfg
}

func build(t *testing.T, cfg config.Config, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithLogger(zap.NewNop()),
		app.WithRegistry(prometheus.NewRegistry()),
		app.WithBarWriter(io.Discard),
	}, opts...)
	a, err := app.Build(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func TestBuildDefaultsToInMemoryBackends(t *testing.T) {
	a := build(t, testConfig(t))

	assert.IsType(t, &memorystorage.BlobStore{}, a.Blobs())
	assert.IsType(t, &memorystorage.ProgressStore{}, a.Runs())
	assert.IsType(t, &memory.Publisher{}, a.Publisher())
	assert.Equal(t, 2, a.Pool().Config().NumProc)
	assert.NotNil(t, a.Sessions())
	assert.NotNil(t, a.Metrics())
	assert.Equal(t, proc.From(context.Background()), a.Gate().Home())
}

func TestBuildLocalBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.LocalDir = t.TempDir()

	a := build(t, cfg)
	uri, err := a.Blobs().PutObject(context.Background(), "runs/x.txt", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	assert.Contains(t, uri, filepath.Join(cfg.Storage.LocalDir, "runs", "x.txt"))
}

func TestTrackRecordsRunAndPublishes(t *testing.T) {
	pub := memory.New()
	cfg := testConfig(t)
	a := build(t, cfg, app.WithPublisher(pub), app.WithExpectedItems(10))
	ctx := context.Background()

	runID, err := a.NewRunID()
	require.NoError(t, err)
	src, err := shard.EvenSplit([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 3)
	require.NoError(t, err)

	res, err := a.Track(ctx, runID, src.ShardCount(), func(ctx context.Context, id uuid.UUID) (dispatcher.Result, error) {
		return dispatcher.Consume[int](ctx, a.Pool(), src, worker.HookFuncs[int]{}, dispatcher.WithRunID(id))
	})
	require.NoError(t, err)
	assert.EqualValues(t, 10, res.Items)
	assert.Equal(t, runID, res.RunID)

	run, err := a.Runs().GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, run.Status)
	assert.EqualValues(t, 10, run.Items)

	msgs := pub.Topic(cfg.PubSub.TopicName)
	require.Len(t, msgs, 1)
	done, ok := msgs[0].(app.RunCompleted)
	require.True(t, ok)
	assert.Equal(t, runID, done.RunID)
	assert.Equal(t, store.RunSuccess, done.Status)
	assert.Empty(t, done.Error)
}

func TestTrackRecordsFailure(t *testing.T) {
	pub := memory.New()
	cfg := testConfig(t)
	a := build(t, cfg, app.WithPublisher(pub))
	ctx := context.Background()
	runID := uuid.New()

	boom := errors.New("boom")
	_, err := a.Track(ctx, runID, 1, func(context.Context, uuid.UUID) (dispatcher.Result, error) {
		return dispatcher.Result{RunID: runID}, boom
	})
	require.ErrorIs(t, err, boom)

	run, err := a.Runs().GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunError, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "boom", *run.ErrorMessage)

	msgs := pub.Topic(cfg.PubSub.TopicName)
	require.Len(t, msgs, 1)
	assert.Equal(t, "boom", msgs[0].(app.RunCompleted).Error)
}

func TestHandlerServesHealth(t *testing.T) {
	a := build(t, testConfig(t))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = 0
	a := build(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()
	cancel()
	require.NoError(t, <-errCh)
}
