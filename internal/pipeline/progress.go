package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives inspection progress from the frame loop. Calls
// are made from the frame loop goroutine.
type ProgressCallback interface {
	// OnStart is called once before the first frame. totalFrames is 0 when
	// the source length is unknown.
	OnStart(runID string, totalFrames int)

	// OnFrame is called after each frame with the running counts.
	OnFrame(frame, totalFrames, wagons int)

	// OnResult is called when a wagon record receives its recognition result.
	OnResult(rec WagonRecord)

	// OnComplete is called with the final report.
	OnComplete(report *InspectionReport)
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(string, int)          {}
func (NoOpProgressCallback) OnFrame(int, int, int)        {}
func (NoOpProgressCallback) OnResult(WagonRecord)         {}
func (NoOpProgressCallback) OnComplete(*InspectionReport) {}

// ConsoleProgressCallback draws a progress bar, or a frame counter when the
// total is unknown.
type ConsoleProgressCallback struct {
	writer         io.Writer
	prefix         string
	width          int
	updateInterval time.Duration
	lastUpdate     time.Time
	startTime      time.Time
	mutex          sync.Mutex
}

// NewConsoleProgressCallback creates a console progress reporter writing to
// writer (stderr when nil).
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer:         writer,
		prefix:         prefix,
		width:          40,
		updateInterval: 100 * time.Millisecond,
	}
}

// WithWidth sets the progress bar width.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	c.width = width
	return c
}

// WithUpdateInterval sets how frequently the progress line is redrawn.
func (c *ConsoleProgressCallback) WithUpdateInterval(interval time.Duration) *ConsoleProgressCallback {
	c.updateInterval = interval
	return c
}

func (c *ConsoleProgressCallback) OnStart(runID string, totalFrames int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	_, _ = fmt.Fprintf(c.writer, "%sInspection %s started\n", c.prefix, runID)
}

func (c *ConsoleProgressCallback) OnFrame(frame, totalFrames, wagons int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && (totalFrames == 0 || frame < totalFrames) {
		return
	}
	c.lastUpdate = now
	_, _ = fmt.Fprint(c.writer, c.statusLine(frame, totalFrames, wagons, now))
}

func (c *ConsoleProgressCallback) statusLine(frame, total, wagons int, now time.Time) string {
	var status string
	if total > 0 {
		if frame > total {
			frame = total
		}
		filled := c.width * frame / total
		bar := strings.Repeat("\u2588", filled) + strings.Repeat("\u2591", c.width-filled)
		status = fmt.Sprintf("\r%s[%s] %d/%d frames", c.prefix, bar, frame, total)
	} else {
		status = fmt.Sprintf("\r%s%d frames", c.prefix, frame)
	}
	status += fmt.Sprintf(" | wagons: %d", wagons)
	if elapsed := now.Sub(c.startTime); elapsed > 0 && frame > 0 {
		status += fmt.Sprintf(" | %.1f fps", float64(frame)/elapsed.Seconds())
	}
	return status
}

func (c *ConsoleProgressCallback) OnResult(rec WagonRecord) {}

func (c *ConsoleProgressCallback) OnComplete(report *InspectionReport) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	elapsed := time.Since(c.startTime)
	_, _ = fmt.Fprintf(c.writer, "\n%sCompleted in %v: %d wagons, %d read\n",
		c.prefix, elapsed.Round(time.Millisecond), report.TotalWagons(), report.Stats.WithText)
}

// LogProgressCallback logs progress with slog.
type LogProgressCallback struct {
	logger   *slog.Logger
	level    slog.Level
	interval int // Log every N frames
}

// NewLogProgressCallback creates a log-based progress reporter.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, interval: 100}
}

// WithInterval sets how frequently to log frame progress.
func (l *LogProgressCallback) WithInterval(interval int) *LogProgressCallback {
	if interval > 0 {
		l.interval = interval
	}
	return l
}

func (l *LogProgressCallback) OnStart(runID string, totalFrames int) {
	l.logger.Log(context.Background(), l.level, "Inspection started", "run_id", runID, "total_frames", totalFrames)
}

func (l *LogProgressCallback) OnFrame(frame, totalFrames, wagons int) {
	if frame%l.interval != 0 && frame != totalFrames {
		return
	}
	l.logger.Log(context.Background(), l.level, "Inspection progress",
		"frame", frame, "total_frames", totalFrames, "wagons", wagons)
}

func (l *LogProgressCallback) OnResult(rec WagonRecord) {
	attrs := []any{"track_id", rec.TrackID, "confidence", rec.Confidence}
	if rec.RawText != nil {
		attrs = append(attrs, "raw_text", *rec.RawText)
	}
	if rec.Decoded != nil {
		attrs = append(attrs, "identifier", rec.Decoded.Formatted())
	}
	l.logger.Log(context.Background(), l.level, "Wagon recognized", attrs...)
}

func (l *LogProgressCallback) OnComplete(report *InspectionReport) {
	l.logger.Log(context.Background(), l.level, "Inspection completed",
		"run_id", report.RunID,
		"wagons", report.TotalWagons(),
		"frames", report.FrameCount,
		"elapsed", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
}

// MultiProgressCallback fans out to several callbacks.
type MultiProgressCallback struct {
	callbacks []ProgressCallback
}

// NewMultiProgressCallback creates a callback that reports to all of callbacks.
func NewMultiProgressCallback(callbacks ...ProgressCallback) *MultiProgressCallback {
	return &MultiProgressCallback{callbacks: callbacks}
}

// Add appends another callback.
func (m *MultiProgressCallback) Add(callback ProgressCallback) {
	m.callbacks = append(m.callbacks, callback)
}

func (m *MultiProgressCallback) OnStart(runID string, totalFrames int) {
	for _, cb := range m.callbacks {
		cb.OnStart(runID, totalFrames)
	}
}

func (m *MultiProgressCallback) OnFrame(frame, totalFrames, wagons int) {
	for _, cb := range m.callbacks {
		cb.OnFrame(frame, totalFrames, wagons)
	}
}

func (m *MultiProgressCallback) OnResult(rec WagonRecord) {
	for _, cb := range m.callbacks {
		cb.OnResult(rec)
	}
}

func (m *MultiProgressCallback) OnComplete(report *InspectionReport) {
	for _, cb := range m.callbacks {
		cb.OnComplete(report)
	}
}
