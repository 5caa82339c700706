package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/perception"
	"github.com/MeKo-Tech/rakescan/internal/recognition"
	"github.com/MeKo-Tech/rakescan/internal/recognizer"
	"github.com/MeKo-Tech/rakescan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTracker returns one prepared slice of objects per frame.
type scriptedTracker struct {
	frames [][]perception.TrackedObject
	errAt  map[int]error
	calls  int
}

func (s *scriptedTracker) Track(image.Image) ([]perception.TrackedObject, error) {
	i := s.calls
	s.calls++
	if err := s.errAt[i]; err != nil {
		return nil, err
	}
	if i >= len(s.frames) {
		return nil, nil
	}
	return s.frames[i], nil
}

type stubLocalizer struct {
	enabled bool
	cands   []perception.Candidate
	calls   int
}

func (l *stubLocalizer) Enabled() bool { return l.enabled }

func (l *stubLocalizer) Localize(image.Image) ([]perception.Candidate, error) {
	l.calls++
	return l.cands, nil
}

type countingRestorer struct{ calls int }

func (r *countingRestorer) Enabled() bool { return true }

func (r *countingRestorer) Restore(img image.Image) image.Image {
	r.calls++
	return img
}

// brighteningEnhancer counts calls and returns a copy one step brighter.
type brighteningEnhancer struct{ calls int }

func (e *brighteningEnhancer) Enabled() bool { return true }

func (e *brighteningEnhancer) Enhance(img image.Image) image.Image {
	e.calls++
	out := utils.Crop(img, utils.NewBox(0, 0, float64(img.Bounds().Dx()), float64(img.Bounds().Dy())))
	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i] = uint8(min(255, int(out.Pix[i])+100))
	}
	return out
}

type staticReader struct{ frags []recognizer.Fragment }

func (r staticReader) ReadText(image.Image) ([]recognizer.Fragment, error) { return r.frags, nil }
func (r staticReader) Close() error                                        { return nil }

type memorySink struct {
	mu    sync.Mutex
	saved []string
}

func (m *memorySink) Save(trackID int, kind string, _ image.Image) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := fmt.Sprintf("track_%d_%s.jpg", trackID, kind)
	m.saved = append(m.saved, path)
	return path, nil
}

type recordingProgress struct {
	starts, frames, results, completes int
}

func (p *recordingProgress) OnStart(string, int)          { p.starts++ }
func (p *recordingProgress) OnFrame(int, int, int)        { p.frames++ }
func (p *recordingProgress) OnResult(WagonRecord)         { p.results++ }
func (p *recordingProgress) OnComplete(*InspectionReport) { p.completes++ }

// sliceSource yields a fixed number of frames.
type sliceSource struct {
	frames []image.Image
	err    error
	reads  int
}

func (s *sliceSource) Read() (image.Image, error) {
	if s.reads >= len(s.frames) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f := s.frames[s.reads]
	s.reads++
	return f, nil
}

func (s *sliceSource) FrameCount() int { return len(s.frames) }

func flatFrame(v uint8) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func checkerFrame() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	for y := range 480 {
		for x := range 640 {
			c := color.NRGBA{A: 255}
			if (x/2+y/2)%2 == 0 {
				c.R, c.G, c.B = 255, 255, 255
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func wagon(id int, width float64) perception.TrackedObject {
	return perception.TrackedObject{TrackID: id, Box: utils.NewBox(10, 10, 10+width, 210), Class: 0, Confidence: 0.9}
}

func repeat(n int, objs ...perception.TrackedObject) [][]perception.TrackedObject {
	out := make([][]perception.TrackedObject, n)
	for i := range out {
		out[i] = objs
	}
	return out
}

func readerWorker(queue int, text string) *recognition.Worker {
	frags := []recognizer.Fragment{{Text: text, Confidence: 0.9}}
	return recognition.NewWorker(recognition.Config{QueueSize: queue, ConfidenceFloor: 0.3},
		func() (recognizer.TextReader, error) { return staticReader{frags: frags}, nil })
}

// gatedWorker does not consume requests until release is closed.
func gatedWorker(t *testing.T, queue int, text string) (*recognition.Worker, func()) {
	t.Helper()
	release := make(chan struct{})
	var once sync.Once
	open := func() { once.Do(func() { close(release) }) }
	t.Cleanup(open)
	frags := []recognizer.Fragment{{Text: text, Confidence: 0.9}}
	w := recognition.NewWorker(recognition.Config{QueueSize: queue, ConfidenceFloor: 0.3},
		func() (recognizer.TextReader, error) {
			<-release
			return staticReader{frags: frags}, nil
		})
	return w, open
}

func finalize(t *testing.T, c *Coordinator) *InspectionReport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rep, err := c.Finalize(ctx)
	require.NoError(t, err)
	require.NotNil(t, rep)
	return rep
}

func numberLocalizer() *stubLocalizer {
	return &stubLocalizer{enabled: true, cands: []perception.Candidate{
		{Box: utils.NewBox(20, 20, 120, 60), Confidence: 0.8},
	}}
}

func TestCoordinatorDispatchesOnceAndResolves(t *testing.T) {
	loc := numberLocalizer()
	rest := &countingRestorer{}
	sink := &memorySink{}
	progress := &recordingProgress{}

	c, err := NewCoordinator(DefaultPolicy(), Components{
		Primary:   &scriptedTracker{frames: repeat(9, wagon(1, 300))},
		Secondary: loc,
		Restorer:  rest,
		Worker:    readerWorker(10, "3001 4567891"),
		Evidence:  sink,
	})
	require.NoError(t, err)
	c.SetProgressCallback(progress)
	c.SetVideoName("rake.mp4")

	for range 9 {
		require.NoError(t, c.ProcessFrame(flatFrame(200)))
	}
	assert.Equal(t, 1, loc.calls)
	assert.Equal(t, 1, rest.calls)

	rep := finalize(t, c)
	assert.Equal(t, "rake.mp4", rep.VideoName)
	assert.Equal(t, 9, rep.FrameCount)
	assert.Equal(t, []int{1}, rep.UniqueTrackIDs)
	require.Len(t, rep.Entries, 1)

	entry := rep.Entries[0]
	assert.Equal(t, StatusResolved, entry.Status)
	assert.Equal(t, "30 01 45 6789 1", entry.Identifier)
	require.NotNil(t, entry.Record)
	assert.True(t, entry.Record.Restored)
	assert.False(t, entry.Record.IsNight)
	assert.Equal(t, "track_1_original.jpg", entry.Record.Images.Original)
	assert.Equal(t, "track_1_deblurred.jpg", entry.Record.Images.Deblurred)
	assert.Equal(t, "track_1_number.jpg", entry.Record.Images.Number)
	assert.Len(t, sink.saved, 3)

	assert.Equal(t, 1, rep.Stats.Dispatched)
	assert.Equal(t, 1, rep.Stats.Decoded)
	assert.InDelta(t, 0.9, rep.Stats.MeanConfidence, 1e-9)

	assert.Equal(t, 1, progress.starts)
	assert.Equal(t, 9, progress.frames)
	assert.Equal(t, 1, progress.results)
	assert.Equal(t, 1, progress.completes)
}

func TestCoordinatorSamplesEveryNthFrame(t *testing.T) {
	w, release := gatedWorker(t, 10, "x")
	frames := [][]perception.TrackedObject{nil, {wagon(4, 300)}, {wagon(4, 300)}, {wagon(4, 300)}}
	c, err := NewCoordinator(DefaultPolicy(), Components{
		Primary:   &scriptedTracker{frames: frames},
		Secondary: numberLocalizer(),
		Worker:    w,
	})
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, c.ProcessFrame(flatFrame(200)))
		assert.Equal(t, NotRequested, c.DispatchState(4), "frame %d", i)
	}
	require.NoError(t, c.ProcessFrame(flatFrame(200)))
	assert.Equal(t, Requested, c.DispatchState(4))

	release()
	rep := finalize(t, c)
	assert.Equal(t, Resolved, c.DispatchState(4))
	assert.Equal(t, StatusResolved, rep.Entries[0].Status)
	assert.Equal(t, 1, rep.Entries[0].Record.FirstFrame)
}

func TestCoordinatorQueueFullKeepsTrackEligible(t *testing.T) {
	w, release := gatedWorker(t, 1, "30014567891")
	c, err := NewCoordinator(DefaultPolicy(), Components{
		Primary:   &scriptedTracker{frames: repeat(4, wagon(1, 300), wagon(2, 300))},
		Secondary: numberLocalizer(),
		Worker:    w,
	})
	require.NoError(t, err)

	require.NoError(t, c.ProcessFrame(flatFrame(200)))
	assert.Equal(t, Requested, c.DispatchState(1))
	assert.Equal(t, NotRequested, c.DispatchState(2))
	assert.Equal(t, 1, c.Dropped())

	for range 3 {
		require.NoError(t, c.ProcessFrame(flatFrame(200)))
	}
	assert.Equal(t, NotRequested, c.DispatchState(2))
	assert.Equal(t, 2, c.Dropped())

	release()
	rep := finalize(t, c)
	require.Len(t, rep.Entries, 2)
	assert.Equal(t, StatusResolved, rep.Entries[0].Status)
	assert.Equal(t, StatusNotDispatched, rep.Entries[1].Status)
	assert.Equal(t, "Track-2", rep.Entries[1].Identifier)
	assert.Nil(t, rep.Entries[1].Record)
	assert.Equal(t, 2, rep.Stats.Dropped)
}

func TestCoordinatorWagonBoxMode(t *testing.T) {
	p := DefaultPolicy()
	p.Mode = ModeWagonBox
	p.SampleEveryNFrames = 1
	loc := numberLocalizer()
	w, release := gatedWorker(t, 10, "x")

	c, err := NewCoordinator(p, Components{
		Primary:   &scriptedTracker{frames: repeat(1, wagon(1, 200), wagon(2, 201))},
		Secondary: loc,
		Worker:    w,
	})
	require.NoError(t, err)
	require.NoError(t, c.ProcessFrame(flatFrame(200)))

	assert.Equal(t, NotRequested, c.DispatchState(1))
	assert.Equal(t, Requested, c.DispatchState(2))
	assert.Zero(t, loc.calls)
	release()
	finalize(t, c)
}

func TestCoordinatorNumberRegionSizeAndLocalizer(t *testing.T) {
	tests := []struct {
		name      string
		width     float64
		localizer *stubLocalizer
		want      DispatchState
	}{
		{"at min size", 200, numberLocalizer(), Requested},
		{"too small", 199, numberLocalizer(), NotRequested},
		{"localizer disabled", 300, &stubLocalizer{}, NotRequested},
		{"no candidates", 300, &stubLocalizer{enabled: true}, NotRequested},
		{"candidate below floor", 300, &stubLocalizer{enabled: true, cands: []perception.Candidate{
			{Box: utils.NewBox(0, 0, 50, 20), Confidence: 0.1},
		}}, NotRequested},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, release := gatedWorker(t, 10, "x")
			c, err := NewCoordinator(DefaultPolicy(), Components{
				Primary:   &scriptedTracker{frames: repeat(1, wagon(1, tt.width))},
				Secondary: tt.localizer,
				Worker:    w,
			})
			require.NoError(t, err)
			require.NoError(t, c.ProcessFrame(flatFrame(200)))
			assert.Equal(t, tt.want, c.DispatchState(1))
			release()

			rep := finalize(t, c)
			require.Len(t, rep.Entries, 1)
			if tt.want == NotRequested {
				assert.Equal(t, StatusNotDispatched, rep.Entries[0].Status)
				assert.Equal(t, "Track-1", rep.Entries[0].Identifier)
			}
		})
	}
}

func TestCoordinatorPlateTracksAreNotCounted(t *testing.T) {
	for _, mode := range []Mode{ModeNumberRegion, ModeWagonBox} {
		t.Run(string(mode), func(t *testing.T) {
			p := DefaultPolicy()
			p.Mode = mode
			p.NumberClass = 1
			plate := perception.TrackedObject{TrackID: 2, Box: utils.NewBox(100, 100, 160, 130), Class: 1, Confidence: 0.8}

			c, err := NewCoordinator(p, Components{
				Primary: &scriptedTracker{frames: repeat(3, wagon(1, 300), plate)},
				Worker:  readerWorker(10, "x"),
			})
			require.NoError(t, err)
			for range 3 {
				require.NoError(t, c.ProcessFrame(flatFrame(200)))
			}
			assert.Equal(t, []int{1}, c.UniqueTrackIDs())
			assert.Equal(t, NotRequested, c.DispatchState(2))

			rep := finalize(t, c)
			assert.Equal(t, 1, rep.TotalWagons())
			assert.Equal(t, []int{1}, rep.UniqueTrackIDs)
			assert.Equal(t, 1, rep.Stats.Dispatched)
		})
	}
}

func TestCoordinatorPlateReplacesLocalizer(t *testing.T) {
	p := DefaultPolicy()
	p.NumberClass = 1
	inside := perception.TrackedObject{TrackID: 2, Box: utils.NewBox(100, 100, 160, 130), Class: 1, Confidence: 0.8}
	outside := perception.TrackedObject{TrackID: 3, Box: utils.NewBox(400, 300, 460, 330), Class: 1, Confidence: 0.9}
	loc := &stubLocalizer{}
	sink := &memorySink{}

	c, err := NewCoordinator(p, Components{
		Primary:   &scriptedTracker{frames: repeat(1, wagon(1, 300), outside, inside)},
		Secondary: loc,
		Worker:    readerWorker(10, "x"),
		Evidence:  sink,
	})
	require.NoError(t, err)
	require.NoError(t, c.ProcessFrame(flatFrame(200)))
	assert.Equal(t, Requested, c.DispatchState(1))
	assert.Zero(t, loc.calls)
	finalize(t, c)
}

func TestPlateWithin(t *testing.T) {
	box := utils.NewBox(0, 0, 100, 100)
	plates := []perception.TrackedObject{
		{TrackID: 1, Box: utils.NewBox(10, 10, 30, 20), Confidence: 0.5},
		{TrackID: 2, Box: utils.NewBox(40, 40, 60, 50), Confidence: 0.7},
		{TrackID: 3, Box: utils.NewBox(150, 10, 170, 20), Confidence: 0.99},
		{TrackID: 4, Box: utils.NewBox(70, 70, 90, 80), Confidence: 0.1},
	}
	got, ok := plateWithin(box, plates, 0.25)
	require.True(t, ok)
	assert.Equal(t, 2, got.TrackID)

	_, ok = plateWithin(box, plates[2:], 0.25)
	assert.False(t, ok)
}

// reversingWorker holds every result until released, then hands them back
// newest first.
type reversingWorker struct {
	submitted []recognition.Request
	released  bool
	drained   int
}

func (w *reversingWorker) Start() {}

func (w *reversingWorker) Submit(req recognition.Request) bool {
	w.submitted = append(w.submitted, req)
	return true
}

func (w *reversingWorker) Drain() []recognition.Result {
	if !w.released {
		return nil
	}
	var out []recognition.Result
	for i := len(w.submitted) - 1; i >= w.drained; i-- {
		text := fmt.Sprintf("text-%d", w.submitted[i].TrackID)
		out = append(out, recognition.Result{TrackID: w.submitted[i].TrackID, RawText: &text, Confidence: 0.8})
	}
	w.drained = len(w.submitted)
	return out
}

func (w *reversingWorker) Stop(context.Context) error { return nil }

func TestCoordinatorMergesResultsOutOfOrder(t *testing.T) {
	p := DefaultPolicy()
	p.Mode = ModeWagonBox
	w := &reversingWorker{}
	c, err := NewCoordinator(p, Components{
		Primary: &scriptedTracker{frames: [][]perception.TrackedObject{
			{wagon(1, 300)},
			{wagon(1, 300)},
			{wagon(1, 300)},
			{wagon(1, 300), wagon(2, 300)},
			{wagon(2, 300)},
		}},
		Worker: w,
	})
	require.NoError(t, err)

	for range 4 {
		require.NoError(t, c.ProcessFrame(flatFrame(200)))
	}
	require.Len(t, w.submitted, 2)
	assert.Equal(t, 1, w.submitted[0].TrackID)
	assert.Equal(t, 2, w.submitted[1].TrackID)
	assert.Equal(t, Requested, c.DispatchState(1))
	assert.Equal(t, Requested, c.DispatchState(2))

	w.released = true
	require.NoError(t, c.ProcessFrame(flatFrame(200)))
	assert.Equal(t, Resolved, c.DispatchState(1))
	assert.Equal(t, Resolved, c.DispatchState(2))

	rep := finalize(t, c)
	require.Len(t, rep.Entries, 2)
	assert.Equal(t, 1, rep.Entries[0].TrackID)
	assert.Equal(t, 2, rep.Entries[1].TrackID)
	for _, id := range []int{1, 2} {
		rec := rep.Records[id]
		require.NotNil(t, rec)
		require.NotNil(t, rec.RawText)
		assert.Equal(t, fmt.Sprintf("text-%d", id), *rec.RawText)
	}
}

func TestCoordinatorEnhancement(t *testing.T) {
	tests := []struct {
		name      string
		mode      EnhanceMode
		luma      uint8
		wantCalls int
		enhanced  bool
		night     bool
	}{
		{"off", EnhanceOff, 20, 0, false, true},
		{"night on dark wagon", EnhanceNight, 20, 1, true, true},
		{"night on bright wagon", EnhanceNight, 200, 0, false, false},
		{"always", EnhanceAlways, 200, 3, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			p.Mode = ModeWagonBox
			p.Enhance = tt.mode
			enh := &brighteningEnhancer{}
			c, err := NewCoordinator(p, Components{
				Primary:  &scriptedTracker{frames: repeat(3, wagon(1, 300))},
				Enhancer: enh,
				Worker:   readerWorker(10, "x"),
			})
			require.NoError(t, err)
			for range 3 {
				require.NoError(t, c.ProcessFrame(flatFrame(tt.luma)))
			}
			assert.Equal(t, tt.wantCalls, enh.calls)

			rec := finalize(t, c).Records[1]
			require.NotNil(t, rec)
			assert.Equal(t, tt.enhanced, rec.Enhanced)
			assert.Equal(t, tt.night, rec.IsNight)
		})
	}
}

func TestCoordinatorIgnoresUncountedClasses(t *testing.T) {
	part := perception.TrackedObject{TrackID: 5, Box: utils.NewBox(0, 0, 300, 100), Class: 3}
	c, err := NewCoordinator(DefaultPolicy(), Components{
		Primary: &scriptedTracker{frames: [][]perception.TrackedObject{
			{wagon(2, 50), part},
			{wagon(1, 50)},
			{wagon(2, 50)},
		}},
		Worker: readerWorker(10, "x"),
	})
	require.NoError(t, err)

	var seen [][]int
	for range 3 {
		require.NoError(t, c.ProcessFrame(flatFrame(200)))
		seen = append(seen, c.UniqueTrackIDs())
	}
	assert.Equal(t, [][]int{{2}, {2, 1}, {2, 1}}, seen)

	rep := finalize(t, c)
	assert.Equal(t, []int{1, 2}, rep.UniqueTrackIDs)
	assert.Equal(t, 2, rep.Entries[0].TrackID)
	assert.Equal(t, 1, rep.Entries[1].TrackID)
}

func TestCoordinatorSharpCropSkipsRestorer(t *testing.T) {
	p := DefaultPolicy()
	p.Mode = ModeWagonBox
	rest := &countingRestorer{}
	c, err := NewCoordinator(p, Components{
		Primary:  &scriptedTracker{frames: repeat(1, wagon(1, 300))},
		Restorer: rest,
		Worker:   readerWorker(10, "x"),
	})
	require.NoError(t, err)
	require.NoError(t, c.ProcessFrame(checkerFrame()))
	assert.Zero(t, rest.calls)

	rep := finalize(t, c)
	rec := rep.Records[1]
	require.NotNil(t, rec)
	assert.False(t, rec.Restored)
	assert.Greater(t, rec.Sharpness, DefaultPolicy().BlurThreshold)
}

func TestCoordinatorNoTextAndUndecodedResults(t *testing.T) {
	p := DefaultPolicy()
	p.Mode = ModeWagonBox
	p.SampleEveryNFrames = 1

	t.Run("no text", func(t *testing.T) {
		w := recognition.NewWorker(recognition.DefaultConfig(), func() (recognizer.TextReader, error) {
			return staticReader{frags: []recognizer.Fragment{{Text: "3001", Confidence: 0.1}}}, nil
		})
		c, err := NewCoordinator(p, Components{Primary: &scriptedTracker{frames: repeat(1, wagon(1, 300))}, Worker: w})
		require.NoError(t, err)
		require.NoError(t, c.ProcessFrame(flatFrame(30)))

		rep := finalize(t, c)
		e := rep.Entries[0]
		assert.Equal(t, StatusResolved, e.Status)
		assert.Equal(t, "Track-1", e.Identifier)
		assert.Nil(t, e.Record.RawText)
		assert.True(t, e.Record.IsNight)
		assert.Equal(t, 1, rep.Stats.NightWagons)
		assert.Zero(t, rep.Stats.WithText)
	})

	t.Run("undecoded", func(t *testing.T) {
		c, err := NewCoordinator(p, Components{
			Primary: &scriptedTracker{frames: repeat(1, wagon(1, 300))},
			Worker:  readerWorker(10, "A2 01 23 4567 8"),
		})
		require.NoError(t, err)
		require.NoError(t, c.ProcessFrame(flatFrame(200)))

		rep := finalize(t, c)
		e := rep.Entries[0]
		assert.Equal(t, "A2 01 23 4567 8", e.Identifier)
		assert.Nil(t, e.Record.Decoded)
		assert.Equal(t, 1, rep.Stats.WithText)
		assert.Zero(t, rep.Stats.Decoded)
	})
}

func TestCoordinatorPendingWhenWorkerStalls(t *testing.T) {
	p := DefaultPolicy()
	p.Mode = ModeWagonBox
	w, _ := gatedWorker(t, 10, "x")
	c, err := NewCoordinator(p, Components{Primary: &scriptedTracker{frames: repeat(1, wagon(1, 300))}, Worker: w})
	require.NoError(t, err)
	require.NoError(t, c.ProcessFrame(flatFrame(200)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rep, err := c.Finalize(ctx)
	require.Error(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, StatusPending, rep.Entries[0].Status)
	assert.Equal(t, "Track-1", rep.Entries[0].Identifier)
	assert.Equal(t, 1, rep.Stats.Pending)
}

func TestCoordinatorRun(t *testing.T) {
	t.Run("until end of stream", func(t *testing.T) {
		tr := &scriptedTracker{frames: repeat(5, wagon(1, 50)), errAt: map[int]error{2: errors.New("inference failed")}}
		c, err := NewCoordinator(DefaultPolicy(), Components{Primary: tr, Worker: readerWorker(10, "x")})
		require.NoError(t, err)

		src := &sliceSource{frames: []image.Image{flatFrame(1), flatFrame(1), flatFrame(1), flatFrame(1), flatFrame(1)}}
		require.NoError(t, c.Run(context.Background(), src))
		assert.Equal(t, 5, c.FrameCount())
		assert.Equal(t, 5, c.totalFrames)
		finalize(t, c)
	})

	t.Run("frame limit", func(t *testing.T) {
		c, err := NewCoordinator(DefaultPolicy(), Components{Primary: &scriptedTracker{}, Worker: readerWorker(10, "x")})
		require.NoError(t, err)
		c.SetMaxFrames(2)
		src := &sliceSource{frames: []image.Image{flatFrame(1), flatFrame(1), flatFrame(1)}}
		require.NoError(t, c.Run(context.Background(), src))
		assert.Equal(t, 2, c.FrameCount())
		finalize(t, c)
	})

	t.Run("source error", func(t *testing.T) {
		c, err := NewCoordinator(DefaultPolicy(), Components{Primary: &scriptedTracker{}, Worker: readerWorker(10, "x")})
		require.NoError(t, err)
		src := &sliceSource{frames: []image.Image{flatFrame(1)}, err: errors.New("decoder died")}
		require.Error(t, c.Run(context.Background(), src))
		assert.Equal(t, 1, c.FrameCount())
		finalize(t, c)
	})

	t.Run("cancelled", func(t *testing.T) {
		c, err := NewCoordinator(DefaultPolicy(), Components{Primary: &scriptedTracker{}, Worker: readerWorker(10, "x")})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, c.Run(ctx, &sliceSource{frames: []image.Image{flatFrame(1)}}), context.Canceled)
		assert.Zero(t, c.FrameCount())
		finalize(t, c)
	})
}

func TestCoordinatorLifecycle(t *testing.T) {
	_, err := NewCoordinator(DefaultPolicy(), Components{Worker: readerWorker(1, "x")})
	require.Error(t, err)
	_, err = NewCoordinator(DefaultPolicy(), Components{Primary: &scriptedTracker{}})
	require.Error(t, err)
	bad := DefaultPolicy()
	bad.SampleEveryNFrames = 0
	_, err = NewCoordinator(bad, Components{Primary: &scriptedTracker{}, Worker: readerWorker(1, "x")})
	require.Error(t, err)

	c, err := NewCoordinator(DefaultPolicy(), Components{Primary: &scriptedTracker{}, Worker: readerWorker(1, "x")})
	require.NoError(t, err)
	require.Error(t, c.ProcessFrame(nil))
	assert.NotEmpty(t, c.RunID())

	rep := finalize(t, c)
	assert.Empty(t, rep.Entries)
	assert.Empty(t, rep.UniqueTrackIDs)

	_, err = c.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrFinalized)
	assert.ErrorIs(t, c.ProcessFrame(flatFrame(1)), ErrFinalized)
	assert.ErrorIs(t, c.Run(context.Background(), &sliceSource{}), ErrFinalized)
}

func TestStateIgnoresUnexpectedResults(t *testing.T) {
	s := newState()
	s.observe(1, 0, utils.Box{}, 0, time.Now())
	assert.False(t, s.resolve(1, func(*WagonRecord) {}))
	assert.False(t, s.resolve(42, func(*WagonRecord) {}))

	s.markRequested(1, &WagonRecord{TrackID: 1})
	text := "first"
	assert.True(t, s.resolve(1, func(r *WagonRecord) { r.RawText = &text }))
	assert.False(t, s.resolve(1, func(r *WagonRecord) { r.RawText = nil }))
	require.NotNil(t, s.records[1].RawText)
	assert.Equal(t, "first", *s.records[1].RawText)
	assert.Equal(t, 3, s.ignored)
}
