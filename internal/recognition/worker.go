// Package recognition runs text recognition off the frame loop. Requests are
// queued on a small bounded channel and dropped when it is full, so the
// caller never waits on the recognizer. Completed results accumulate in an
// unbounded queue that the caller drains once per frame.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/recognizer"
	"github.com/MeKo-Tech/rakescan/internal/wagonid"
)

// Defaults for Config.
const (
	DefaultQueueSize       = 10
	DefaultConfidenceFloor = 0.3
	DefaultSeparator       = " "
)

// ErrStopped is returned by Stop when the worker has already stopped.
var ErrStopped = errors.New("recognition: worker stopped")

// Request asks for the text on one crop. A request with Shutdown set is the
// sentinel that ends the worker loop.
type Request struct {
	TrackID     int
	Crop        image.Image
	SubmittedAt time.Time
	Shutdown    bool
}

// ShutdownRequest returns the sentinel request.
func ShutdownRequest() Request { return Request{Shutdown: true} }

// Result is the outcome of one request. RawText is nil when nothing legible
// was found or recognition failed.
type Result struct {
	TrackID    int                 `json:"track_id"`
	RawText    *string             `json:"raw_text"`
	Decoded    *wagonid.Identifier `json:"decoded,omitempty"`
	Confidence float64             `json:"confidence"`
	Latency    time.Duration       `json:"latency"`
	Error      string              `json:"error,omitempty"`
}

// Config holds worker settings.
type Config struct {
	QueueSize       int     // Capacity of the request channel
	ConfidenceFloor float64 // Fragments must score strictly above this
	Separator       string  // Joins surviving fragments
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:       DefaultQueueSize,
		ConfidenceFloor: DefaultConfidenceFloor,
		Separator:       DefaultSeparator,
	}
}

// ReaderFactory creates the text reader. It runs once, inside the worker
// goroutine.
type ReaderFactory func() (recognizer.TextReader, error)

// Stats counts worker activity.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Worker owns one text reader and processes requests sequentially.
type Worker struct {
	config   Config
	factory  ReaderFactory
	requests chan Request
	done     chan struct{}

	mu      sync.Mutex
	results []Result

	started atomic.Bool
	stopped atomic.Bool

	submitted atomic.Uint64
	dropped   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewWorker creates a worker. Call Start to launch it.
func NewWorker(config Config, factory ReaderFactory) *Worker {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Separator == "" {
		config.Separator = DefaultSeparator
	}
	return &Worker{
		config:   config,
		factory:  factory,
		requests: make(chan Request, config.QueueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine. Calling it again has no effect.
func (w *Worker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.loop()
}

func (w *Worker) loop() {
	defer close(w.done)

	reader, err := w.openReader()
	if err != nil {
		slog.Warn("Recognizer unavailable, requests will yield no text", "error", err)
	}
	defer func() {
		if reader != nil {
			if err := reader.Close(); err != nil {
				slog.Warn("Error closing recognizer", "error", err)
			}
		}
	}()

	for req := range w.requests {
		if req.Shutdown {
			slog.Debug("Recognition worker received shutdown")
			return
		}
		res := w.process(reader, req)
		w.mu.Lock()
		w.results = append(w.results, res)
		w.mu.Unlock()
	}
}

func (w *Worker) openReader() (reader recognizer.TextReader, err error) {
	if w.factory == nil {
		return nil, errors.New("no recognizer configured")
	}
	defer func() {
		if r := recover(); r != nil {
			reader, err = nil, fmt.Errorf("recognizer init panicked: %v", r)
		}
	}()
	return w.factory()
}

// process never panics; a failing reader yields a result without text.
func (w *Worker) process(reader recognizer.TextReader, req Request) (res Result) {
	start := time.Now()
	res = Result{TrackID: req.TrackID}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recognition panicked", "track_id", req.TrackID, "panic", r)
			res = Result{TrackID: req.TrackID, Error: fmt.Sprintf("panic: %v", r)}
		}
		res.Latency = time.Since(start)
		if res.RawText == nil {
			w.failed.Add(1)
		}
		w.completed.Add(1)
	}()

	if reader == nil {
		res.Error = "recognizer unavailable"
		return res
	}

	frags, err := reader.ReadText(req.Crop)
	if err != nil {
		slog.Debug("Recognition failed", "track_id", req.TrackID, "error", err)
		res.Error = err.Error()
		return res
	}

	text, conf, ok := JoinFragments(frags, w.config.ConfidenceFloor, w.config.Separator)
	if !ok {
		return res
	}
	res.RawText = &text
	res.Confidence = conf
	res.Decoded = wagonid.Decode(text)
	return res
}

// JoinFragments keeps fragments scoring above floor with non-blank text and
// joins them with sep. It reports the mean confidence of the survivors and
// whether any survived.
func JoinFragments(frags []recognizer.Fragment, floor float64, sep string) (string, float64, bool) {
	var (
		parts []string
		sum   float64
	)
	for _, f := range frags {
		text := strings.TrimSpace(f.Text)
		if f.Confidence <= floor || text == "" {
			continue
		}
		parts = append(parts, text)
		sum += f.Confidence
	}
	if len(parts) == 0 {
		return "", 0, false
	}
	return strings.Join(parts, sep), sum / float64(len(parts)), true
}

// Submit enqueues req without blocking. It reports false when the queue is
// full or the worker has stopped; the request is then dropped.
func (w *Worker) Submit(req Request) bool {
	if req.Shutdown || w.stopped.Load() {
		return false
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}
	select {
	case w.requests <- req:
		w.submitted.Add(1)
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Drain returns the results completed since the previous call without
// blocking.
func (w *Worker) Drain() []Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.results) == 0 {
		return nil
	}
	out := w.results
	w.results = nil
	return out
}

// Pending returns the number of queued requests not yet picked up.
func (w *Worker) Pending() int { return len(w.requests) }

// Stop sends the shutdown sentinel after any queued requests and waits for
// the worker to exit or ctx to end. Results produced before shutdown remain
// available to Drain.
func (w *Worker) Stop(ctx context.Context) error {
	if !w.stopped.CompareAndSwap(false, true) {
		return ErrStopped
	}
	if !w.started.Load() {
		return nil
	}

	select {
	case w.requests <- ShutdownRequest():
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue shutdown: %w", ctx.Err())
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for worker: %w", ctx.Err())
	}
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Submitted: w.submitted.Load(),
		Dropped:   w.dropped.Load(),
		Completed: w.completed.Load(),
		Failed:    w.failed.Load(),
	}
}
