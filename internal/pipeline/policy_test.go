package pipeline

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/rakescan/internal/recognizer"
	"github.com/MeKo-Tech/rakescan/internal/restore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeNumberRegion, m)

	m, err = ParseMode("wagon_box")
	require.NoError(t, err)
	assert.Equal(t, ModeWagonBox, m)

	_, err = ParseMode("both")
	require.Error(t, err)
}

func TestParseEnhanceMode(t *testing.T) {
	m, err := ParseEnhanceMode("")
	require.NoError(t, err)
	assert.Equal(t, EnhanceOff, m)

	for _, want := range []EnhanceMode{EnhanceOff, EnhanceNight, EnhanceAlways} {
		m, err = ParseEnhanceMode(string(want))
		require.NoError(t, err)
		assert.Equal(t, want, m)
	}

	_, err = ParseEnhanceMode("dark")
	require.Error(t, err)
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	tests := map[string]func(*Policy){
		"mode":        func(p *Policy) { p.Mode = "any" },
		"box size":    func(p *Policy) { p.MinBoxSize = -1 },
		"sampling":    func(p *Policy) { p.SampleEveryNFrames = 0 },
		"floor":       func(p *Policy) { p.ConfidenceFloor = 1.5 },
		"wagon class": func(p *Policy) { p.WagonClass = -1 },
		"same class":  func(p *Policy) { p.NumberClass = p.WagonClass },
		"blur":        func(p *Policy) { p.BlurThreshold = -5 },
		"enhance":     func(p *Policy) { p.Enhance = "sometimes" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := DefaultPolicy()
			mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestPolicyRules(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.sampled(0))
	assert.False(t, p.sampled(1))
	assert.True(t, p.sampled(6))

	assert.True(t, p.largeEnough(200))
	p.Mode = ModeWagonBox
	assert.False(t, p.largeEnough(200))
	assert.True(t, p.largeEnough(200.5))

	assert.True(t, p.counted(0))
	assert.False(t, p.counted(1))
	assert.False(t, p.plate(1))
	p.NumberClass = 1
	assert.False(t, p.counted(1))
	assert.True(t, p.plate(1))
}

func TestDispatchStateString(t *testing.T) {
	assert.Equal(t, "not_requested", NotRequested.String())
	assert.Equal(t, "requested", Requested.String())
	assert.Equal(t, "resolved", Resolved.String())
}

func TestDisplayIdentifier(t *testing.T) {
	raw := "30 01 45 6789 1"
	assert.Equal(t, "Track-3", DisplayIdentifier(3, nil))
	assert.Equal(t, "Track-3", DisplayIdentifier(3, &WagonRecord{}))
	assert.Equal(t, raw, DisplayIdentifier(3, &WagonRecord{RawText: &raw}))
}

func TestProgressCallbacks(t *testing.T) {
	rep := &InspectionReport{RunID: "run", UniqueTrackIDs: []int{1, 2}}
	rep.Stats.WithText = 1

	var buf bytes.Buffer
	console := NewConsoleProgressCallback(&buf, "> ").WithWidth(10).WithUpdateInterval(0)
	console.OnStart("run", 4)
	console.OnFrame(2, 4, 1)
	console.OnComplete(rep)
	out := buf.String()
	assert.Contains(t, out, "Inspection run started")
	assert.Contains(t, out, "2/4 frames")
	assert.Contains(t, out, strings.Repeat("\u2588", 5))
	assert.Contains(t, out, "2 wagons, 1 read")

	buf.Reset()
	console.OnFrame(7, 0, 3)
	assert.Contains(t, buf.String(), "7 frames | wagons: 3")

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	text := "3001"
	lp := NewLogProgressCallback(logger, slog.LevelInfo).WithInterval(2)
	multi := NewMultiProgressCallback(lp)
	multi.Add(NoOpProgressCallback{})
	multi.OnStart("run", 0)
	multi.OnFrame(1, 0, 0)
	multi.OnFrame(2, 0, 0)
	multi.OnResult(WagonRecord{TrackID: 1, RawText: &text})
	multi.OnComplete(rep)

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], `"frame":2`)
	assert.Contains(t, lines[2], `"raw_text":"3001"`)
}

func TestBuilderConfiguration(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder().
		WithModelsDir(dir).
		WithRestorerVariant(restore.VariantWidth64).
		WithMode(ModeWagonBox).
		WithQueueSize(4).
		WithThreads(2).
		WithGPU(true).
		WithTTA(false).
		WithEnhanceMode(EnhanceNight).
		WithBackend(recognizer.BackendTesseract)

	cfg := b.Config()
	assert.Equal(t, dir, cfg.ModelsDir)
	assert.True(t, strings.HasPrefix(cfg.Detector.ModelPath, dir))
	assert.True(t, strings.HasPrefix(cfg.Localizer.ModelPath, dir))
	assert.Equal(t, ModeWagonBox, cfg.Policy.Mode)
	assert.Equal(t, 4, cfg.Worker.QueueSize)
	assert.Equal(t, 2, cfg.Recognizer.NumThreads)
	assert.True(t, cfg.Restorer.GPU.UseGPU)
	assert.False(t, cfg.Restorer.TTA)
	assert.Equal(t, recognizer.BackendTesseract, cfg.Backend)
	assert.Equal(t, filepath.Join(dir, "nafnet_width64.onnx"), cfg.Restorer.ModelPath)
	assert.Equal(t, EnhanceNight, cfg.Policy.Enhance)
	assert.Equal(t, filepath.Join(dir, "zero_dce.onnx"), cfg.Enhancer.ModelPath)
	assert.Equal(t, 2, cfg.Enhancer.NumThreads)
	assert.True(t, cfg.Enhancer.GPU.UseGPU)
	assert.Equal(t, "/w/dce.onnx", b.WithEnhancerModelPath("/w/dce.onnx").Config().Enhancer.ModelPath)

	p := DefaultPolicy()
	p.ConfidenceFloor = 0.4
	assert.InDelta(t, 0.4, b.WithPolicy(p).Config().Localizer.ConfThreshold, 1e-9)
}

func TestBuilderValidate(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder().WithModelsDir(dir)
	err := b.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detector model not found")

	weights := filepath.Join(dir, "wagons.onnx")
	require.NoError(t, os.WriteFile(weights, []byte("x"), 0o600))
	b.WithDetectorModelPath(weights)
	require.NoError(t, b.Validate())

	require.Error(t, NewBuilder().WithDetectorModelPath(weights).WithBackend("paddle").Validate())
	require.Error(t, NewBuilder().WithDetectorModelPath(weights).WithRestorerVariant("width16").Validate())

	_, err = NewBuilder().WithModelsDir(dir).Build()
	require.Error(t, err)
}
