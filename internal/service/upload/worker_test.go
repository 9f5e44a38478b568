package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/metrics"
)

type testItem struct {
	id string
}

func (i testItem) Record() models.UtteranceRecord {
	return models.UtteranceRecord{SessionID: i.id, CallID: "call-1", Speaker: models.RoleUser}
}

// recorder collects upload calls and callback invocations.
type recorder struct {
	mu        sync.Mutex
	uploaded  []string
	successes []string
	failures  []string
}

func (r *recorder) upload(ctx context.Context, rec models.UtteranceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploaded = append(r.uploaded, rec.SessionID)
	return nil
}

func (r *recorder) onSuccess(item Uploadable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, item.Record().SessionID)
}

func (r *recorder) onFailure(item Uploadable, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, item.Record().SessionID)
}

func (r *recorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.uploaded), len(r.successes), len(r.failures)
}

func testMetrics() Option {
	m, _ := metrics.NewUnregistered()
	return WithMetrics(m)
}

func fastConfig() Config {
	return Config{
		MaxQueueSize:    10,
		ShutdownTimeout: 2 * time.Second,
		PollInterval:    10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxQueueSize != 100 {
		t.Errorf("expected default max queue size 100, got %d", cfg.MaxQueueSize)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("expected default poll interval 1s, got %v", cfg.PollInterval)
	}
}

func TestWorker_EnqueueNotRunning(t *testing.T) {
	rec := &recorder{}
	w := New(rec.upload, fastConfig(), testMetrics())

	err := w.Enqueue(context.Background(), testItem{"a"})
	assert.ErrorIs(t, err, ErrNotRunning)

	ok, err := w.TryEnqueue(testItem{"b"})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestWorker_StartTwice(t *testing.T) {
	rec := &recorder{}
	w := New(rec.upload, fastConfig(), testMetrics())

	w.Start()
	w.Start()
	require.True(t, w.IsRunning())

	require.NoError(t, w.Enqueue(context.Background(), testItem{"a"}))
	w.Stop()

	uploaded, _, _ := rec.counts()
	assert.Equal(t, 1, uploaded, "a second Start must not spawn a second consumer")
	assert.False(t, w.IsRunning())
}

func TestWorker_StopNotRunning(t *testing.T) {
	w := New((&recorder{}).upload, fastConfig(), testMetrics())
	// Should log and return without blocking
	w.Stop()
	assert.False(t, w.IsRunning())
}

func TestWorker_SuccessAndFailureCallbacks(t *testing.T) {
	rec := &recorder{}
	failing := errors.New("sink down")
	upload := func(ctx context.Context, r models.UtteranceRecord) error {
		rec.upload(ctx, r)
		if r.SessionID == "bad" {
			return failing
		}
		return nil
	}

	var gotErr atomic.Value
	w := New(upload, fastConfig(), testMetrics(),
		WithOnSuccess(rec.onSuccess),
		WithOnFailure(func(item Uploadable, err error) {
			gotErr.Store(err)
			rec.onFailure(item, err)
		}),
	)
	w.Start()

	require.NoError(t, w.Enqueue(context.Background(), testItem{"good"}))
	require.NoError(t, w.Enqueue(context.Background(), testItem{"bad"}))
	w.Stop()

	uploaded, successes, failures := rec.counts()
	assert.Equal(t, 2, uploaded)
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)
	assert.ErrorIs(t, gotErr.Load().(error), failing)
}

func TestWorker_PanickingUploadIsFailure(t *testing.T) {
	rec := &recorder{}
	upload := func(ctx context.Context, r models.UtteranceRecord) error {
		panic("boom")
	}
	w := New(upload, fastConfig(), testMetrics(),
		WithOnSuccess(rec.onSuccess),
		WithOnFailure(rec.onFailure),
	)
	w.Start()

	require.NoError(t, w.Enqueue(context.Background(), testItem{"p"}))
	w.Stop()

	_, successes, failures := rec.counts()
	assert.Equal(t, 0, successes)
	assert.Equal(t, 1, failures)
}

func TestWorker_PanickingCallbackDoesNotKillLoop(t *testing.T) {
	rec := &recorder{}
	w := New(rec.upload, fastConfig(), testMetrics(),
		WithOnSuccess(func(Uploadable) { panic("callback boom") }),
	)
	w.Start()

	require.NoError(t, w.Enqueue(context.Background(), testItem{"1"}))
	require.NoError(t, w.Enqueue(context.Background(), testItem{"2"}))
	w.Stop()

	uploaded, _, _ := rec.counts()
	assert.Equal(t, 2, uploaded)
}

func TestWorker_EnqueueBlocksWhenFull(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32
	upload := func(ctx context.Context, r models.UtteranceRecord) error {
		calls.Add(1)
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil
	}

	cfg := fastConfig()
	cfg.MaxQueueSize = 1
	w := New(upload, cfg, testMetrics())
	w.Start()
	defer func() {
		w.Stop()
	}()

	ctx := context.Background()
	require.NoError(t, w.Enqueue(ctx, testItem{"in-flight"}))
	waitFor(t, func() bool { return calls.Load() == 1 })

	// Fills the single queue slot
	require.NoError(t, w.Enqueue(ctx, testItem{"queued"}))
	assert.Equal(t, 1, w.Pending())

	returned := make(chan error, 1)
	go func() {
		returned <- w.Enqueue(ctx, testItem{"blocked"})
	}()

	select {
	case err := <-returned:
		t.Fatalf("enqueue on a full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, w.Pending(), "queue must not grow past its bound")

	close(gate)

	select {
	case err := <-returned:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not resume after a slot freed")
	}
}

func TestWorker_EnqueueHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	upload := func(ctx context.Context, r models.UtteranceRecord) error {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil
	}

	cfg := fastConfig()
	cfg.MaxQueueSize = 1
	cfg.ShutdownTimeout = 20 * time.Millisecond
	w := New(upload, cfg, testMetrics())
	w.Start()
	defer w.Stop()

	require.NoError(t, w.Enqueue(context.Background(), testItem{"1"}))
	waitFor(t, func() bool { return w.Pending() == 0 })
	require.NoError(t, w.Enqueue(context.Background(), testItem{"2"}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := w.Enqueue(ctx, testItem{"3"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorker_TryEnqueueDropsWhenFull(t *testing.T) {
	gate := make(chan struct{})
	upload := func(ctx context.Context, r models.UtteranceRecord) error {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil
	}

	cfg := fastConfig()
	cfg.MaxQueueSize = 2
	w := New(upload, cfg, testMetrics())
	w.Start()
	defer func() {
		close(gate)
		w.Stop()
	}()

	ok, err := w.TryEnqueue(testItem{"in-flight"})
	require.NoError(t, err)
	require.True(t, ok)
	waitFor(t, func() bool { return w.Pending() == 0 })

	for i := 0; i < 2; i++ {
		ok, err := w.TryEnqueue(testItem{fmt.Sprintf("q%d", i)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err = w.TryEnqueue(testItem{"overflow"})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, w.Pending())
}

func TestWorker_StopDrainsQueue(t *testing.T) {
	rec := &recorder{}
	upload := func(ctx context.Context, r models.UtteranceRecord) error {
		time.Sleep(5 * time.Millisecond)
		return rec.upload(ctx, r)
	}

	w := New(upload, fastConfig(), testMetrics())
	w.Start()

	const n = 8
	for i := 0; i < n; i++ {
		require.NoError(t, w.Enqueue(context.Background(), testItem{fmt.Sprintf("item-%d", i)}))
	}
	w.Stop()

	uploaded, _, _ := rec.counts()
	assert.Equal(t, n, uploaded, "every queued item must be uploaded before Stop returns")
	assert.Equal(t, 0, w.Pending())
	assert.False(t, w.IsRunning())
}

func TestWorker_StopTimeoutLeavesQueue(t *testing.T) {
	upload := func(ctx context.Context, r models.UtteranceRecord) error {
		<-ctx.Done()
		return ctx.Err()
	}

	cfg := fastConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond
	w := New(upload, cfg, testMetrics())
	w.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Enqueue(context.Background(), testItem{fmt.Sprintf("slow-%d", i)}))
	}

	start := time.Now()
	w.Stop()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.False(t, w.IsRunning())
	assert.Greater(t, w.Pending(), 0, "undrained items remain queued after the timeout")
}

func TestWorker_BlockedProducerReleasedOnForcedStop(t *testing.T) {
	upload := func(ctx context.Context, r models.UtteranceRecord) error {
		<-ctx.Done()
		return ctx.Err()
	}

	cfg := fastConfig()
	cfg.MaxQueueSize = 1
	cfg.ShutdownTimeout = 30 * time.Millisecond
	w := New(upload, cfg, testMetrics())
	w.Start()

	require.NoError(t, w.Enqueue(context.Background(), testItem{"1"}))
	waitFor(t, func() bool { return w.Pending() == 0 })
	require.NoError(t, w.Enqueue(context.Background(), testItem{"2"}))

	returned := make(chan error, 1)
	go func() {
		returned <- w.Enqueue(context.Background(), testItem{"3"})
	}()

	w.Stop()

	select {
	case err := <-returned:
		assert.ErrorIs(t, err, ErrNotRunning)
	case <-time.After(time.Second):
		t.Fatal("blocked producer was not released by Stop")
	}
}

func TestWorker_EnqueueRejectedWhileStopping(t *testing.T) {
	release := make(chan struct{})
	rec := &recorder{}
	upload := func(ctx context.Context, r models.UtteranceRecord) error {
		<-release
		return rec.upload(ctx, r)
	}

	w := New(upload, fastConfig(), testMetrics())
	w.Start()
	require.NoError(t, w.Enqueue(context.Background(), testItem{"in-flight"}))

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	waitFor(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.shutdown
	})

	err := w.Enqueue(context.Background(), testItem{"during-stop"})
	assert.ErrorIs(t, err, ErrNotRunning)
	ok, err := w.TryEnqueue(testItem{"during-stop-nowait"})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotRunning)

	close(release)
	<-stopped

	assert.Equal(t, 0, w.Pending())
	uploaded, _, _ := rec.counts()
	assert.Equal(t, 1, uploaded)
}

func TestWorker_RestartProcessesLeftovers(t *testing.T) {
	var block atomic.Bool
	block.Store(true)
	rec := &recorder{}
	upload := func(ctx context.Context, r models.UtteranceRecord) error {
		if block.Load() {
			<-ctx.Done()
			return ctx.Err()
		}
		return rec.upload(ctx, r)
	}

	cfg := fastConfig()
	cfg.ShutdownTimeout = 30 * time.Millisecond
	w := New(upload, cfg, testMetrics())
	w.Start()
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Enqueue(context.Background(), testItem{fmt.Sprintf("r%d", i)}))
	}
	w.Stop()
	left := w.Pending()
	require.Greater(t, left, 0)

	block.Store(false)
	w.Start()
	w.Stop()

	uploaded, _, _ := rec.counts()
	assert.Equal(t, left, uploaded)
}

func TestWorker_Stats(t *testing.T) {
	w := New((&recorder{}).upload, Config{MaxQueueSize: 7}, testMetrics())

	stats := w.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 7, stats.MaxQueueSize)
	assert.True(t, stats.Idle)

	w.Start()
	assert.True(t, w.Stats().Running)
	w.Stop()
}
