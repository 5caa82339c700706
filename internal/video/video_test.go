package video

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFrames(t *testing.T, dir string, names ...string) {
	t.Helper()
	for i, name := range names {
		img := imaging.New(32, 24, color.NRGBA{R: uint8(i * 40), A: 255})
		require.NoError(t, imaging.Save(img, filepath.Join(dir, name)))
	}
}

func TestImageSequenceSource(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, "frame_002.png", "frame_001.png", "frame_003.jpg")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	src, err := Open(dir, DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	seq, ok := src.(*ImageSequenceSource)
	require.True(t, ok)
	assert.Equal(t, 3, seq.FrameCount())
	assert.Equal(t, "frame_001.png", filepath.Base(seq.paths[0]))

	n := 0
	for {
		img, err := src.Read()
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
		n++
	}
	assert.Equal(t, 3, n)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open("", DefaultConfig())
	require.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing.mp4"), DefaultConfig())
	require.Error(t, err)

	_, err = OpenImageSequence(t.TempDir())
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "rake.mp4")
	require.NoError(t, os.WriteFile(file, []byte("not a video"), 0o600))
	_, err = Open(file, Config{Backend: "vlc"})
	require.Error(t, err)
}

func TestParseProbe(t *testing.T) {
	info, err := parseProbe([]byte(`{"streams":[{"codec_type":"video","width":1280,"height":720,
		"avg_frame_rate":"30000/1001","r_frame_rate":"30/1","nb_frames":"450"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1280, info.Width)
	assert.Equal(t, 720, info.Height)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, 450, info.Frames)

	info, err = parseProbe([]byte(`{"streams":[{"codec_type":"audio"},{"codec_type":"video","width":64,"height":48,"avg_frame_rate":"0/0","r_frame_rate":"25/1"}]}`))
	require.NoError(t, err)
	assert.InDelta(t, 25, info.FPS, 1e-9)
	assert.Zero(t, info.Frames)

	_, err = parseProbe([]byte(`{"streams":[]}`))
	require.Error(t, err)
	_, err = parseProbe([]byte(`{"streams":[{"codec_type":"video","width":0,"height":0}]}`))
	require.Error(t, err)
	_, err = parseProbe([]byte(`not json`))
	require.Error(t, err)
}

func TestParseRate(t *testing.T) {
	assert.InDelta(t, 25.0, parseRate("25/1"), 1e-9)
	assert.InDelta(t, 12.5, parseRate("12.5"), 1e-9)
	assert.Zero(t, parseRate("1/0"))
	assert.Zero(t, parseRate("x/y"))
}

func TestRGB24ToImage(t *testing.T) {
	img := rgb24ToImage([]byte{1, 2, 3, 4, 5, 6}, 2, 1)
	assert.Equal(t, color.NRGBA{1, 2, 3, 255}, img.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{4, 5, 6, 255}, img.NRGBAAt(1, 0))
}

func TestFFmpegSource(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	path := filepath.Join(t.TempDir(), "test.mp4")
	gen := exec.CommandContext(context.Background(), "ffmpeg", "-v", "error", "-f", "lavfi",
		"-i", "testsrc=size=64x48:rate=10:duration=1", "-pix_fmt", "yuv420p", path)
	require.NoError(t, gen.Run())

	src, err := OpenFFmpeg(path, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 64, src.Info().Width)
	assert.Equal(t, 48, src.Info().Height)

	frames := 0
	for {
		img, err := src.Read()
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 64, img.Bounds().Dx())
		frames++
	}
	assert.Equal(t, 10, frames)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
}

func TestFFmpegSourceCloseEarly(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	path := filepath.Join(t.TempDir(), "long.mp4")
	gen := exec.CommandContext(context.Background(), "ffmpeg", "-v", "error", "-f", "lavfi",
		"-i", "testsrc=size=320x240:rate=25:duration=5", "-pix_fmt", "yuv420p", path)
	require.NoError(t, gen.Run())

	src, err := OpenFFmpeg(path, DefaultConfig())
	require.NoError(t, err)
	_, err = src.Read()
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = src.Read()
	assert.ErrorIs(t, err, ErrEndOfStream)
}
