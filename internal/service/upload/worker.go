// Package upload provides a single-consumer bounded-queue worker that drains
// completed items through an upload function off the caller's critical path.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/logging"
	"ai-voice-transcript-service/internal/observability/metrics"
)

// ErrNotRunning is returned when enqueueing on a worker that is not running.
var ErrNotRunning = errors.New("upload worker is not running")

// Uploadable is an item that can be serialized to an upload record.
type Uploadable interface {
	Record() models.UtteranceRecord
}

// UploadFunc sends one record. A non-nil error (or a panic) marks the upload
// as failed.
type UploadFunc func(ctx context.Context, rec models.UtteranceRecord) error

// Config tunes the worker.
type Config struct {
	MaxQueueSize    int           // Backpressure threshold
	ShutdownTimeout time.Duration // Max time Stop waits for the queue to drain
	PollInterval    time.Duration // How often the idle loop checks for shutdown
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:    100,
		ShutdownTimeout: 30 * time.Second,
		PollInterval:    time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Option configures optional worker hooks.
type Option func(*Worker)

// WithOnSuccess sets the callback invoked after a successful upload.
func WithOnSuccess(fn func(Uploadable)) Option {
	return func(w *Worker) { w.onSuccess = fn }
}

// WithOnFailure sets the callback invoked after a failed upload.
func WithOnFailure(fn func(Uploadable, error)) Option {
	return func(w *Worker) { w.onFailure = fn }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// Stats is a read-only snapshot of the worker.
type Stats struct {
	Running      bool `json:"is_running"`
	Pending      int  `json:"pending_count"`
	MaxQueueSize int  `json:"max_queue_size"`
	Idle         bool `json:"is_idle"`
}

// Worker drains a bounded queue through an UploadFunc with one goroutine.
//
// Every accepted item counts as unfinished until it has been processed;
// Stop waits for that count to reach zero, bounded by ShutdownTimeout.
type Worker struct {
	upload    UploadFunc
	cfg       Config
	onSuccess func(Uploadable)
	onFailure func(Uploadable, error)
	metrics   *metrics.Metrics
	log       zerolog.Logger

	queue chan Uploadable

	mu         sync.Mutex
	running    bool
	shutdown   bool
	unfinished int
	drained    chan struct{} // closed while unfinished == 0
	cancel     context.CancelFunc
	loopDone   chan struct{}
}

// New creates a worker. It does not start consuming until Start is called.
func New(upload UploadFunc, cfg Config, opts ...Option) *Worker {
	cfg = cfg.withDefaults()
	drained := make(chan struct{})
	close(drained)

	w := &Worker{
		upload:  upload,
		cfg:     cfg,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("upload-worker"),
		queue:   make(chan Uploadable, cfg.MaxQueueSize),
		drained: drained,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsRunning reports whether the consumption loop is running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Pending returns the number of items waiting in the queue.
func (w *Worker) Pending() int {
	return len(w.queue)
}

// Start spawns the consumption loop. Calling Start on a running worker logs
// a warning and does nothing.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		w.log.Warn().Msg("Upload worker already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.loopDone = make(chan struct{})
	w.shutdown = false
	w.running = true

	go w.loop(ctx, w.loopDone)

	w.log.Info().
		Int("maxQueueSize", w.cfg.MaxQueueSize).
		Dur("shutdownTimeout", w.cfg.ShutdownTimeout).
		Msg("Upload worker started")
}

// Stop sets the shutdown flag, waits up to ShutdownTimeout for the queue to
// drain, then cancels the loop and waits for it to exit. Items still queued
// after the timeout are left in the queue and reported as lost.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.log.Warn().Msg("Upload worker not running")
		return
	}
	w.shutdown = true
	drained := w.drained
	cancel := w.cancel
	loopDone := w.loopDone
	w.mu.Unlock()

	w.log.Info().Int("pending", w.Pending()).Msg("Stopping upload worker")

	timer := time.NewTimer(w.cfg.ShutdownTimeout)
	select {
	case <-drained:
		w.log.Info().Msg("All pending uploads completed")
	case <-timer.C:
		w.log.Warn().
			Dur("shutdownTimeout", w.cfg.ShutdownTimeout).
			Int("lost", w.Pending()).
			Msg("Shutdown timeout reached, pending uploads will be lost")
	}
	timer.Stop()

	cancel()
	<-loopDone

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.metrics.SetQueueDepth(w.Pending())
	w.log.Info().Msg("Upload worker stopped")
}

// Enqueue adds an item, blocking while the queue is full. It fails with
// ErrNotRunning if the worker is not running, is stopping, or is force-stopped
// while the caller waits, and with ctx.Err() if the caller gives up first.
func (w *Worker) Enqueue(ctx context.Context, item Uploadable) error {
	loopDone, err := w.acquire()
	if err != nil {
		return err
	}

	select {
	case w.queue <- item:
	default:
		select {
		case w.queue <- item:
		case <-ctx.Done():
			w.taskDone()
			return ctx.Err()
		case <-loopDone:
			w.taskDone()
			return ErrNotRunning
		}
	}

	w.metrics.SetQueueDepth(w.Pending())
	w.log.Debug().Int("queueSize", w.Pending()).Msg("Enqueued item")
	return nil
}

// TryEnqueue adds an item without blocking. It returns false, dropping the
// item, if the queue is full.
func (w *Worker) TryEnqueue(item Uploadable) (bool, error) {
	if _, err := w.acquire(); err != nil {
		return false, err
	}

	select {
	case w.queue <- item:
		w.metrics.SetQueueDepth(w.Pending())
		w.log.Debug().Int("queueSize", w.Pending()).Msg("Enqueued item")
		return true, nil
	default:
		w.taskDone()
		w.metrics.RecordEnqueueDropped()
		w.log.Warn().Int("maxQueueSize", w.cfg.MaxQueueSize).Msg("Upload queue is full, item dropped")
		return false, nil
	}
}

// acquire registers one unfinished item on a running worker. Once Stop has
// begun, the loop may exit at any moment, so new items are refused.
func (w *Worker) acquire() (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil, fmt.Errorf("cannot enqueue: %w", ErrNotRunning)
	}
	if w.shutdown {
		return nil, fmt.Errorf("cannot enqueue, worker is stopping: %w", ErrNotRunning)
	}
	if w.unfinished == 0 {
		w.drained = make(chan struct{})
	}
	w.unfinished++
	return w.loopDone, nil
}

// taskDone releases one unfinished item.
func (w *Worker) taskDone() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.unfinished--
	if w.unfinished == 0 {
		close(w.drained)
	}
}

// finished reports whether shutdown was requested and no accepted item is
// still outstanding.
func (w *Worker) finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shutdown && w.unfinished == 0
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	w.log.Debug().Msg("Worker loop started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			w.log.Debug().Msg("Worker loop cancelled")
			return
		}
		select {
		case <-ctx.Done():
			w.log.Debug().Msg("Worker loop cancelled")
			return
		case item := <-w.queue:
			w.process(ctx, item)
		case <-ticker.C:
			if w.finished() {
				w.log.Debug().Msg("Worker loop ended")
				return
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, item Uploadable) {
	defer w.taskDone()
	w.metrics.SetQueueDepth(w.Pending())

	rec := item.Record()
	start := time.Now()
	err := w.safeUpload(ctx, rec)
	w.metrics.RecordUpload(string(rec.Speaker), err, time.Since(start).Seconds())

	if err != nil {
		w.log.Error().
			Err(err).
			Str("sessionId", rec.SessionID).
			Str("callId", rec.CallID).
			Msg("Upload failed")
		if w.onFailure != nil {
			w.callback("on_failure", func() { w.onFailure(item, err) })
		}
		return
	}

	w.log.Debug().Str("sessionId", rec.SessionID).Msg("Upload successful")
	if w.onSuccess != nil {
		w.callback("on_success", func() { w.onSuccess(item) })
	}
}

func (w *Worker) safeUpload(ctx context.Context, rec models.UtteranceRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("upload panicked: %v", r)
		}
	}()
	return w.upload(ctx, rec)
}

func (w *Worker) callback(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("callback", name).Msg("Upload callback error")
		}
	}()
	fn()
}

// Stats returns a snapshot of the worker state.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	pending := w.Pending()
	return Stats{
		Running:      running,
		Pending:      pending,
		MaxQueueSize: w.cfg.MaxQueueSize,
		Idle:         pending == 0,
	}
}
