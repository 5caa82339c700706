// Package restore deblurs low-quality crops with a NAFNet model. A restorer
// without a usable model passes images through unchanged.
package restore

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/MeKo-Tech/rakescan/internal/mempool"
	"github.com/MeKo-Tech/rakescan/internal/onnx"
	"github.com/MeKo-Tech/rakescan/internal/utils"
	"github.com/disintegration/imaging"
)

// Alignment is the multiple both padded dimensions must reach. NAFNet
// downsamples four times, so inputs must divide by 2^4 at least; 32 leaves
// margin for the larger variants.
const Alignment = 32

// Variant selects the NAFNet width the weights were trained with.
type Variant string

const (
	VariantWidth32 Variant = "width32"
	VariantWidth64 Variant = "width64"
)

// Valid reports whether v names a known variant.
func (v Variant) Valid() bool {
	return v == VariantWidth32 || v == VariantWidth64
}

// Width returns the channel width of the variant.
func (v Variant) Width() int {
	if v == VariantWidth64 {
		return 64
	}
	return 32
}

// MetadataWidthKey is the custom metadata entry an export may use to record
// its NAFNet width, either as "32" or as "width32".
const MetadataWidthKey = "nafnet_width"

// CheckWidth compares the width recorded in model metadata with v.
func (v Variant) CheckWidth(recorded string) error {
	recorded = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(recorded)), "width")
	width, err := strconv.Atoi(recorded)
	if err != nil {
		return fmt.Errorf("unreadable width %q in model metadata", recorded)
	}
	if width != v.Width() {
		return fmt.Errorf("model was exported with width %d but variant %s expects %d", width, v, v.Width())
	}
	return nil
}

// Config holds restorer settings.
type Config struct {
	ModelPath  string         // Path to the NAFNet ONNX export; empty disables restoration
	Variant    Variant        // Width the weights were trained with
	TTA        bool           // Average with a horizontally mirrored pass
	NumThreads int            // Intra-op threads (0 = runtime default)
	GPU        onnx.GPUConfig // GPU acceleration configuration
}

// DefaultConfig returns a width32 restorer with test-time augmentation on.
func DefaultConfig() Config {
	return Config{
		Variant: VariantWidth32,
		TTA:     true,
		GPU:     onnx.DefaultGPUConfig(),
	}
}

// model is the subset of onnx.Session the restorer needs.
type model interface {
	Run(input onnx.Tensor) (onnx.Tensor, error)
	Close() error
}

// Restorer deblurs crops. It is safe for concurrent use.
type Restorer struct {
	config Config
	model  model
	mu     sync.RWMutex
}

// New loads the model described by config. Loading never fails: when the
// weights are missing or unusable the restorer runs in identity mode and the
// reason is logged.
func New(config Config) *Restorer {
	r := &Restorer{config: config}

	if !config.Variant.Valid() {
		slog.Warn("Unknown restorer variant, using width32", "variant", config.Variant)
		r.config.Variant = VariantWidth32
	}
	if config.ModelPath == "" {
		slog.Warn("No restorer weights configured, restoration disabled")
		return r
	}

	session, err := onnx.NewSession(onnx.SessionConfig{
		ModelPath:  config.ModelPath,
		NumThreads: config.NumThreads,
		GPU:        config.GPU,
	})
	if err != nil {
		slog.Warn("Restorer weights unavailable, restoration disabled",
			"model_path", config.ModelPath, "error", err)
		return r
	}

	if width, ok, err := onnx.CustomMetadata(config.ModelPath, MetadataWidthKey); err != nil {
		slog.Debug("Restorer metadata unreadable", "model_path", config.ModelPath, "error", err)
	} else if ok {
		if err := r.config.Variant.CheckWidth(width); err != nil {
			slog.Warn("Restorer variant does not match the weights", "model_path", config.ModelPath, "error", err)
		}
	}

	r.model = session
	slog.Info("Restorer loaded",
		"model_path", config.ModelPath,
		"variant", r.config.Variant,
		"tta", config.TTA)
	return r
}

// NewWithModel builds a restorer around an already loaded model.
func NewWithModel(config Config, m model) *Restorer {
	if !config.Variant.Valid() {
		config.Variant = VariantWidth32
	}
	return &Restorer{config: config, model: m}
}

// Enabled reports whether a model is loaded.
func (r *Restorer) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model != nil
}

// Restore returns a deblurred copy of img with the same dimensions. If the
// restorer is disabled or inference fails, img is returned unchanged.
func (r *Restorer) Restore(img image.Image) image.Image {
	if utils.IsEmpty(img) {
		return img
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.model == nil {
		return img
	}

	out, err := r.restore(img)
	if err != nil {
		slog.Warn("Restoration failed, using original crop", "error", err)
		return img
	}
	return out
}

func (r *Restorer) restore(img image.Image) (image.Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	padded := PadReflect(img, Alignment)

	primary, err := r.infer(padded)
	if err != nil {
		return nil, err
	}

	if r.config.TTA {
		mirrored, err := r.infer(imaging.FlipH(padded))
		if err != nil {
			return nil, fmt.Errorf("mirrored pass: %w", err)
		}
		primary = average(primary, imaging.FlipH(mirrored))
	}

	return imaging.Crop(primary, image.Rect(0, 0, w, h)), nil
}

func (r *Restorer) infer(img *image.NRGBA) (*image.NRGBA, error) {
	data, w, h, err := utils.NormalizeImage(img)
	if err != nil {
		return nil, err
	}
	defer mempool.PutFloat32(data)
	tensor, err := onnx.NewImageTensor(data, 3, h, w)
	if err != nil {
		return nil, err
	}

	out, err := r.model.Run(tensor)
	if err != nil {
		return nil, err
	}
	if err := onnx.ValidateNCHW(out.Shape); err != nil {
		return nil, fmt.Errorf("unexpected output shape: %w", err)
	}
	if out.Shape[1] != 3 || int(out.Shape[2]) != h || int(out.Shape[3]) != w {
		return nil, fmt.Errorf("output shape %v does not match input %dx%d", out.Shape, w, h)
	}
	return utils.DenormalizeImage(out.Data, w, h)
}

// average returns the per-pixel mean of two equally sized images.
func average(a, b *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(a.Rect)
	for i := range out.Pix {
		out.Pix[i] = uint8((int(a.Pix[i]) + int(b.Pix[i]) + 1) / 2)
	}
	return out
}

// Info returns restorer metadata for logging and diagnostics.
func (r *Restorer) Info() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]interface{}{
		"enabled":    r.model != nil,
		"model_path": r.config.ModelPath,
		"variant":    string(r.config.Variant),
		"width":      r.config.Variant.Width(),
		"tta":        r.config.TTA,
		"alignment":  Alignment,
	}
}

// Close releases the model.
func (r *Restorer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	return err
}

// ErrInvalidVariant is returned by ParseVariant for unknown names.
var ErrInvalidVariant = errors.New("restore: variant must be width32 or width64")

// ParseVariant converts a config string into a Variant.
func ParseVariant(s string) (Variant, error) {
	v := Variant(s)
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVariant, s)
	}
	return v, nil
}
