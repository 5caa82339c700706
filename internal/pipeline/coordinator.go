// Package pipeline drives an inspection: it pulls frames, tracks wagons,
// decides when a wagon is sent for recognition and merges the results into
// the final inventory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/perception"
	"github.com/MeKo-Tech/rakescan/internal/quality"
	"github.com/MeKo-Tech/rakescan/internal/recognition"
	"github.com/MeKo-Tech/rakescan/internal/utils"
	"github.com/google/uuid"
)

// ErrFinalized is returned when a finalized coordinator is used again.
var ErrFinalized = errors.New("pipeline: coordinator already finalized")

// FrameSource yields frames until it returns io.EOF.
type FrameSource interface {
	Read() (image.Image, error)
}

// Tracker is the primary perception stage.
type Tracker interface {
	Track(frame image.Image) ([]perception.TrackedObject, error)
}

// Localizer is the secondary perception stage.
type Localizer interface {
	Enabled() bool
	Localize(crop image.Image) ([]perception.Candidate, error)
}

// Restorer sharpens blurry crops.
type Restorer interface {
	Enabled() bool
	Restore(img image.Image) image.Image
}

// RecognitionWorker runs recognition off the frame loop. Drain may return
// results in any order. *recognition.Worker implements it.
type RecognitionWorker interface {
	Start()
	Submit(req recognition.Request) bool
	Drain() []recognition.Result
	Stop(ctx context.Context) error
}

// Enhancer brightens low-light images.
type Enhancer interface {
	Enabled() bool
	Enhance(img image.Image) image.Image
}

// EvidenceSink stores evidence images and returns where they went.
type EvidenceSink interface {
	Save(trackID int, kind string, img image.Image) (string, error)
}

// Evidence kinds passed to EvidenceSink.
const (
	EvidenceOriginal  = "original"
	EvidenceDeblurred = "deblurred"
	EvidenceNumber    = "number"
)

// Components are the stages a Coordinator drives. Primary and Worker are
// required; the rest may be nil.
type Components struct {
	Primary   Tracker
	Secondary Localizer
	Restorer  Restorer
	Enhancer  Enhancer
	Worker    RecognitionWorker
	Evidence  EvidenceSink
	Closers   []io.Closer // Released by Finalize after the worker has stopped
}

// Coordinator owns all per-run state. It is not safe for concurrent use; the
// frame loop is its only caller.
type Coordinator struct {
	policy   Policy
	parts    Components
	gate     quality.Gate
	progress ProgressCallback

	state       *state
	runID       string
	videoName   string
	totalFrames int
	maxFrames   int
	startedAt   time.Time
	started     bool
	finalized   bool
	now         func() time.Time
}

// NewCoordinator validates policy and wires the components.
func NewCoordinator(policy Policy, parts Components) (*Coordinator, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if parts.Primary == nil {
		return nil, errors.New("primary tracker is required")
	}
	if parts.Worker == nil {
		return nil, errors.New("recognition worker is required")
	}
	return &Coordinator{
		policy:   policy,
		parts:    parts,
		gate:     quality.NewGate(policy.BlurThreshold),
		progress: NoOpProgressCallback{},
		state:    newState(),
		runID:    uuid.NewString(),
		now:      time.Now,
	}, nil
}

// SetProgressCallback installs a progress reporter. Nil restores the no-op.
func (c *Coordinator) SetProgressCallback(cb ProgressCallback) {
	if cb == nil {
		cb = NoOpProgressCallback{}
	}
	c.progress = cb
}

// SetVideoName records the name of the inspected video in the report.
func (c *Coordinator) SetVideoName(name string) { c.videoName = name }

// SetMaxFrames stops Run after n frames. Zero means no limit.
func (c *Coordinator) SetMaxFrames(n int) { c.maxFrames = n }

// SetRunID replaces the generated run identifier. It must be called before
// the first frame.
func (c *Coordinator) SetRunID(id string) {
	if id != "" && !c.started {
		c.runID = id
	}
}

// RunID returns the identifier of this inspection.
func (c *Coordinator) RunID() string { return c.runID }

// Policy returns the dispatch policy.
func (c *Coordinator) Policy() Policy { return c.policy }

// DispatchState returns the recognition state of a track.
func (c *Coordinator) DispatchState(trackID int) DispatchState {
	return c.state.dispatchState(trackID)
}

// UniqueTrackIDs returns every track id observed so far in first-seen order.
func (c *Coordinator) UniqueTrackIDs() []int {
	return append([]int(nil), c.state.order...)
}

// FrameCount returns the number of frames processed.
func (c *Coordinator) FrameCount() int { return c.state.frames }

// Dropped returns how many dispatches were dropped on a full queue.
func (c *Coordinator) Dropped() int { return c.state.drops }

func (c *Coordinator) start() {
	if c.started {
		return
	}
	c.started = true
	c.startedAt = c.now()
	c.parts.Worker.Start()
	c.progress.OnStart(c.runID, c.totalFrames)
	slog.Info("Inspection started", "run_id", c.runID, "video", c.videoName, "mode", string(c.policy.Mode))
}

// ProcessFrame runs one tick of the frame loop: track, dispatch, then merge
// whatever recognition results are ready. A detector failure is returned
// after the results have been merged; the frame still counts.
func (c *Coordinator) ProcessFrame(frame image.Image) error {
	if c.finalized {
		return ErrFinalized
	}
	if utils.IsEmpty(frame) {
		return errors.New("empty frame")
	}
	c.start()

	t0 := time.Now()
	index := c.state.frames
	enhanced := false
	if c.policy.Enhance == EnhanceAlways && c.enhancing() {
		frame = c.parts.Enhancer.Enhance(frame)
		enhanced = true
		enhancementsTotal.Inc()
	}
	objs, trackErr := c.parts.Primary.Track(frame)
	if trackErr == nil {
		var plates []perception.TrackedObject
		for _, obj := range objs {
			if c.policy.plate(obj.Class) {
				plates = append(plates, obj)
			}
		}
		for _, obj := range objs {
			if !c.policy.counted(obj.Class) {
				continue
			}
			if c.state.observe(obj.TrackID, obj.Class, obj.Box, index, c.now()) {
				tracksSeen.Inc()
				slog.Debug("New track", "track_id", obj.TrackID, "frame", index, "class", obj.Class)
			}
			c.dispatch(frame, obj, plates, index, enhanced)
		}
	}

	c.collect()
	c.state.frames++
	framesProcessed.Inc()
	frameDuration.Observe(time.Since(t0).Seconds())
	c.progress.OnFrame(c.state.frames, c.totalFrames, len(c.state.order))

	if trackErr != nil {
		return fmt.Errorf("frame %d: %w", index, trackErr)
	}
	return nil
}

// dispatch applies the policy to one tracked wagon and submits a request
// when it fires. plates are the number plates the primary stage saw in the
// same frame.
func (c *Coordinator) dispatch(frame image.Image, obj perception.TrackedObject, plates []perception.TrackedObject, index int, enhanced bool) {
	if c.state.dispatchState(obj.TrackID) != NotRequested || !c.policy.sampled(index) {
		return
	}

	var wagon image.Image = utils.Crop(frame, obj.Box)
	if utils.IsEmpty(wagon) {
		return
	}
	night := quality.IsNight(wagon, c.policy.NightLuma)
	if night && c.policy.Enhance == EnhanceNight && c.enhancing() {
		wagon = c.parts.Enhancer.Enhance(wagon)
		enhanced = true
		enhancementsTotal.Inc()
	}
	number, ok := c.numberCrop(obj, wagon, plates)
	if !ok {
		return
	}

	verdict := c.gate.Evaluate(number)
	payload := number
	var restored image.Image
	if !verdict.Sharp && c.parts.Restorer != nil && c.parts.Restorer.Enabled() {
		restored = c.parts.Restorer.Restore(number)
		payload = restored
		restorationsTotal.Inc()
	}

	requestedAt := c.now()
	if !c.parts.Worker.Submit(recognition.Request{TrackID: obj.TrackID, Crop: payload, SubmittedAt: requestedAt}) {
		c.state.drops++
		dispatchTotal.WithLabelValues("dropped").Inc()
		slog.Debug("Recognition queue full, dispatch dropped", "track_id", obj.TrackID, "frame", index)
		return
	}
	dispatchTotal.WithLabelValues("submitted").Inc()

	rec := &WagonRecord{
		TrackID:     obj.TrackID,
		RequestedAt: requestedAt,
		Sharpness:   verdict.Score,
		Restored:    restored != nil,
		IsNight:     night,
		Enhanced:    enhanced,
	}
	rec.Images = c.saveEvidence(obj.TrackID, wagon, restored, number)
	c.state.markRequested(obj.TrackID, rec)
	slog.Debug("Dispatched for recognition", "track_id", obj.TrackID, "frame", index,
		"sharpness", verdict.Score, "restored", rec.Restored)
}

func (c *Coordinator) enhancing() bool {
	return c.parts.Enhancer != nil && c.parts.Enhancer.Enabled()
}

// numberCrop selects the crop to recognize for obj according to the mode.
// In number_region mode a plate found by the primary stage inside the wagon
// takes precedence over the secondary localizer.
func (c *Coordinator) numberCrop(obj perception.TrackedObject, wagon image.Image, plates []perception.TrackedObject) (image.Image, bool) {
	if !c.policy.largeEnough(obj.Box.Width()) {
		return nil, false
	}
	if c.policy.Mode == ModeWagonBox {
		return wagon, true
	}

	if plate, ok := plateWithin(obj.Box, plates, c.policy.ConfidenceFloor); ok {
		rel := plate.Box.Offset(-obj.Box.MinX, -obj.Box.MinY)
		if crop := utils.Crop(wagon, rel); !utils.IsEmpty(crop) {
			return crop, true
		}
	}

	if c.parts.Secondary == nil || !c.parts.Secondary.Enabled() {
		return nil, false
	}
	cands, err := c.parts.Secondary.Localize(wagon)
	if err != nil {
		slog.Debug("Number localization failed", "track_id", obj.TrackID, "error", err)
		return nil, false
	}
	for _, cand := range cands {
		if cand.Confidence < c.policy.ConfidenceFloor {
			continue
		}
		if crop := utils.Crop(wagon, cand.Box); !utils.IsEmpty(crop) {
			return crop, true
		}
	}
	return nil, false
}

// plateWithin returns the most confident plate whose centre lies inside box.
func plateWithin(box utils.Box, plates []perception.TrackedObject, floor float64) (perception.TrackedObject, bool) {
	var best perception.TrackedObject
	found := false
	for _, p := range plates {
		cx := (p.Box.MinX + p.Box.MaxX) / 2
		cy := (p.Box.MinY + p.Box.MaxY) / 2
		if cx < box.MinX || cx > box.MaxX || cy < box.MinY || cy > box.MaxY {
			continue
		}
		if p.Confidence < floor {
			continue
		}
		if !found || p.Confidence > best.Confidence {
			best, found = p, true
		}
	}
	return best, found
}

func (c *Coordinator) saveEvidence(trackID int, wagon, restored, number image.Image) Evidence {
	var ev Evidence
	if c.parts.Evidence == nil {
		return ev
	}
	save := func(kind string, img image.Image) string {
		path, err := c.parts.Evidence.Save(trackID, kind, img)
		if err != nil {
			slog.Warn("Failed to save evidence", "track_id", trackID, "kind", kind, "error", err)
			return ""
		}
		return path
	}
	ev.Original = save(EvidenceOriginal, wagon)
	if restored != nil {
		ev.Deblurred = save(EvidenceDeblurred, restored)
	}
	ev.Number = save(EvidenceNumber, number)
	return ev
}

// collect merges every completed recognition result. Results are keyed by
// track id, so arrival order does not matter.
func (c *Coordinator) collect() {
	for _, res := range c.parts.Worker.Drain() {
		resolvedAt := c.now()
		applied := c.state.resolve(res.TrackID, func(rec *WagonRecord) {
			rec.RawText = res.RawText
			rec.Decoded = res.Decoded
			rec.Confidence = res.Confidence
			rec.Latency = res.Latency
			rec.Error = res.Error
			rec.ResolvedAt = &resolvedAt
		})
		if !applied {
			slog.Debug("Ignoring result for track that is not awaiting one", "track_id", res.TrackID)
			continue
		}

		recognitionLatency.Observe(res.Latency.Seconds())
		switch {
		case res.Decoded != nil:
			recognitionResults.WithLabelValues("decoded").Inc()
		case res.RawText != nil:
			recognitionResults.WithLabelValues("undecoded").Inc()
		default:
			recognitionResults.WithLabelValues("no_text").Inc()
		}

		rec := c.state.records[res.TrackID]
		slog.Info("Wagon resolved", "track_id", res.TrackID, "identifier", DisplayIdentifier(res.TrackID, rec),
			"confidence", res.Confidence, "latency", res.Latency)
		c.progress.OnResult(*rec)
	}
}

// Run reads frames from src until io.EOF, the frame limit, or ctx ends.
// Per-frame detector failures are logged and skipped. Call Finalize
// afterwards for the report.
func (c *Coordinator) Run(ctx context.Context, src FrameSource) error {
	if c.finalized {
		return ErrFinalized
	}
	if counter, ok := src.(interface{ FrameCount() int }); ok {
		c.totalFrames = counter.FrameCount()
	}
	c.start()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if c.maxFrames > 0 && c.state.frames >= c.maxFrames {
			return nil
		}

		frame, err := src.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame %d: %w", c.state.frames, err)
		}
		if err := c.ProcessFrame(frame); err != nil {
			slog.Warn("Frame processing failed", "frame", c.state.frames-1, "error", err)
		}
	}
}

// Finalize stops the recognition worker, merges its last results, releases
// the components and returns the report. The report is always returned; the
// error reports a worker that did not stop within ctx, whose outstanding
// tracks stay pending.
func (c *Coordinator) Finalize(ctx context.Context) (*InspectionReport, error) {
	if c.finalized {
		return nil, ErrFinalized
	}
	c.start()
	c.finalized = true

	stopErr := c.parts.Worker.Stop(ctx)
	if errors.Is(stopErr, recognition.ErrStopped) {
		stopErr = nil
	}
	if stopErr != nil {
		slog.Warn("Recognition worker did not stop cleanly", "error", stopErr)
	}
	c.collect()

	for _, cl := range c.parts.Closers {
		if err := cl.Close(); err != nil {
			slog.Warn("Error releasing component", "error", err)
		}
	}

	report := c.state.snapshot(c.runID, c.videoName, c.startedAt, c.now())
	c.progress.OnComplete(report)
	slog.Info("Inspection finished", "run_id", c.runID, "wagons", report.TotalWagons(),
		"frames", report.FrameCount, "dispatched", report.Stats.Dispatched,
		"resolved", report.Stats.Resolved, "pending", report.Stats.Pending,
		"dropped", report.Stats.Dropped)
	return report, stopErr
}
