package video

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// probeOutput is the subset of `ffprobe -print_format json -show_streams`
// that is needed.
type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
}

// parseProbe extracts the first video stream from ffprobe JSON output.
func parseProbe(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	for _, s := range out.Streams {
		if s.CodecType != "" && s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return Info{}, fmt.Errorf("video stream has invalid size %dx%d", s.Width, s.Height)
		}
		info := Info{Width: s.Width, Height: s.Height}
		info.FPS = parseRate(s.AvgFrameRate)
		if info.FPS == 0 {
			info.FPS = parseRate(s.RFrameRate)
		}
		if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
			info.Frames = n
		}
		return info, nil
	}
	return Info{}, errors.New("no video stream found")
}

// parseRate converts an ffprobe rational like "30000/1001" to a float.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// Probe runs ffprobe on path.
func Probe(ctx context.Context, ffprobe, path string) (Info, error) {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, ffprobe, //nolint:gosec // G204: binary and input come from configuration
		"-v", "error",
		"-select_streams", "v:0",
		"-show_streams",
		"-print_format", "json",
		path)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Info{}, fmt.Errorf("ffprobe %s: %s", path, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Info{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(out)
}

// stderrTail keeps the last lines ffmpeg wrote for error reporting.
type stderrTail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func (t *stderrTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

// FFmpegSource decodes a video by piping raw rgb24 frames out of ffmpeg.
type FFmpegSource struct {
	info   Info
	cmd    *exec.Cmd
	reader *bufio.Reader
	tail   *stderrTail
	buf    []byte
	cancel context.CancelFunc
	closed bool
	frames int
}

// OpenFFmpeg probes path and starts the decoder process.
func OpenFFmpeg(path string, cfg Config) (*FFmpegSource, error) {
	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ctx, cancel := context.WithCancel(context.Background())

	info, err := Probe(ctx, cfg.FFprobePath, path)
	if err != nil {
		cancel()
		return nil, err
	}

	cmd := exec.CommandContext(ctx, ffmpeg, //nolint:gosec // G204: binary and input come from configuration
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	tail := &stderrTail{max: 20}
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			tail.add(sc.Text())
		}
	}()

	slog.Debug("Opened video", "path", path, "width", info.Width, "height", info.Height,
		"fps", info.FPS, "frames", info.Frames)
	return &FFmpegSource{
		info:   info,
		cmd:    cmd,
		reader: bufio.NewReaderSize(stdout, info.Width*info.Height*3),
		tail:   tail,
		buf:    make([]byte, info.Width*info.Height*3),
		cancel: cancel,
	}, nil
}

// Info returns the probed stream properties.
func (s *FFmpegSource) Info() Info { return s.info }

// FrameCount returns the container's frame count, or 0 when unknown.
func (s *FFmpegSource) FrameCount() int { return s.info.Frames }

// Read returns the next frame.
func (s *FFmpegSource) Read() (image.Image, error) {
	if s.closed {
		return nil, ErrEndOfStream
	}
	_, err := io.ReadFull(s.reader, s.buf)
	if errors.Is(err, io.EOF) {
		return nil, ErrEndOfStream
	}
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			slog.Warn("Truncated final frame", "frame", s.frames, "stderr", s.tail.String())
			return nil, ErrEndOfStream
		}
		return nil, fmt.Errorf("read frame %d: %w", s.frames, err)
	}
	s.frames++
	return rgb24ToImage(s.buf, s.info.Width, s.info.Height), nil
}

// Close stops the decoder.
func (s *FFmpegSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	if err := s.cmd.Wait(); err != nil && !isKilled(err) {
		return fmt.Errorf("ffmpeg: %w: %s", err, s.tail.String())
	}
	return nil
}

func isKilled(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return errors.Is(err, context.Canceled)
	}
	return !exitErr.Exited()
}

// rgb24ToImage copies packed RGB bytes into a new NRGBA image.
func rgb24ToImage(buf []byte, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i+2 < len(buf) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
