package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common frame dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common test frame sizes.
	SmallSize  = ImageSize{320, 240}
	MediumSize = ImageSize{640, 480}
	HDSize     = ImageSize{1280, 720}
)

// FlatFrame returns a frame of a single grey level. Its Laplacian variance
// is zero.
func FlatFrame(size ImageSize, level uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = level, level, level, 0xff
	}
	return img
}

// CheckerFrame returns a black and white checkerboard with square cells of
// the given size. Small cells give a very sharp frame.
func CheckerFrame(size ImageSize, cell int) *image.NRGBA {
	if cell < 1 {
		cell = 1
	}
	img := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			v := uint8(0)
			if (x/cell+y/cell)%2 == 0 {
				v = 0xff
			}
			img.SetNRGBA(x, y, color.NRGBA{v, v, v, 0xff})
		}
	}
	return img
}

// PlateConfig describes a synthetic painted wagon number.
type PlateConfig struct {
	Text       string
	Size       ImageSize
	Background color.Color
	Foreground color.Color
	Scale      int // Glyph magnification; basicfont is 7x13
}

// DefaultPlateConfig returns white digits on a dark brown plate.
func DefaultPlateConfig() PlateConfig {
	return PlateConfig{
		Text:       "30 01 45 6789 1",
		Size:       ImageSize{320, 64},
		Background: color.RGBA{70, 40, 30, 255},
		Foreground: color.White,
		Scale:      2,
	}
}

// GeneratePlate draws the text centred on a plate.
func GeneratePlate(cfg PlateConfig) *image.NRGBA {
	if cfg.Scale < 1 {
		cfg.Scale = 1
	}
	face := basicfont.Face7x13
	w := font.MeasureString(face, cfg.Text).Ceil()
	h := face.Metrics().Height.Ceil()

	glyphs := image.NewRGBA(image.Rect(0, 0, w+2, h+2))
	draw.Draw(glyphs, glyphs.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: glyphs, Src: &image.Uniform{cfg.Foreground}, Face: face,
		Dot: fixed.P(1, face.Metrics().Ascent.Ceil()+1)}
	d.DrawString(cfg.Text)
	big := imaging.Resize(glyphs, glyphs.Bounds().Dx()*cfg.Scale, 0, imaging.NearestNeighbor)

	plate := imaging.New(cfg.Size.Width, cfg.Size.Height, cfg.Background)
	return imaging.PasteCenter(plate, big)
}

// WagonFrame returns a dark track scene with a light wagon body at box and
// its number plate painted near the lower left of the body.
func WagonFrame(size ImageSize, box image.Rectangle, number string) *image.NRGBA {
	frame := FlatFrame(size, 40)
	body := imaging.New(box.Dx(), box.Dy(), color.NRGBA{150, 90, 60, 255})
	frame = imaging.Paste(frame, body, box.Min)

	if number != "" {
		cfg := DefaultPlateConfig()
		cfg.Text = number
		cfg.Size = ImageSize{box.Dx() * 2 / 3, box.Dy() / 4}
		if cfg.Size.Width > 0 && cfg.Size.Height > 0 {
			plate := GeneratePlate(cfg)
			at := image.Pt(box.Min.X+box.Dx()/12, box.Max.Y-box.Dy()/3)
			frame = imaging.Paste(frame, plate, at)
		}
	}
	return frame
}

// Blurred returns a Gaussian blurred copy, simulating motion smear.
func Blurred(img image.Image, sigma float64) *image.NRGBA {
	return imaging.Blur(img, sigma)
}

// Darkened scales every channel by factor, simulating a night capture.
func Darkened(img image.Image, factor float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		scale := func(v uint8) uint8 { return uint8(math.Round(float64(v) * factor)) }
		return color.NRGBA{scale(c.R), scale(c.G), scale(c.B), c.A}
	})
}

// WriteFrameSequence saves frames as frame_00000.png, frame_00001.png, ... in
// dir, the layout video.OpenImageSequence replays.
func WriteFrameSequence(t *testing.T, dir string, frames []image.Image) []string {
	t.Helper()
	require.NoError(t, EnsureDir(dir))
	paths := make([]string, 0, len(frames))
	for i, f := range frames {
		p := filepath.Join(dir, fmt.Sprintf("frame_%05d.png", i))
		require.NoError(t, imaging.Save(f, p), "Failed to save frame %s", p)
		paths = append(paths, p)
	}
	return paths
}

// CompareImages reports whether two images differ by at most tolerance,
// measured as mean per-pixel distance relative to the maximum.
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	b := img1.Bounds()
	if b.Size() != img2.Bounds().Size() {
		return false
	}
	o := img2.Bounds().Min.Sub(b.Min)

	var total float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r1, g1, b1, _ := img1.At(x, y).RGBA()
			r2, g2, b2, _ := img2.At(x+o.X, y+o.Y).RGBA()
			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(b1) - float64(b2)
			total += math.Sqrt(dr*dr + dg*dg + db*db)
		}
	}
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return true
	}
	return total/n/math.Sqrt(3*65535*65535) <= tolerance
}
