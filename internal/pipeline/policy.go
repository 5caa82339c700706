package pipeline

import (
	"errors"
	"fmt"
)

// Mode selects which primary tracks trigger recognition and which crop is
// sent.
type Mode string

const (
	// ModeNumberRegion runs the secondary localizer on each large enough
	// wagon crop and dispatches the best number-region candidate.
	ModeNumberRegion Mode = "number_region"
	// ModeWagonBox dispatches the whole wagon crop once its box is wider
	// than MinBoxSize.
	ModeWagonBox Mode = "wagon_box"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeNumberRegion || m == ModeWagonBox
}

// ParseMode converts a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if s == "" {
		return ModeNumberRegion, nil
	}
	if !m.Valid() {
		return "", fmt.Errorf("unknown dispatch mode %q (want %s or %s)", s, ModeNumberRegion, ModeWagonBox)
	}
	return m, nil
}

// EnhanceMode selects when low-light enhancement runs.
type EnhanceMode string

const (
	// EnhanceOff never enhances.
	EnhanceOff EnhanceMode = "off"
	// EnhanceNight enhances the wagon crop of dark wagons before the number
	// crop is taken.
	EnhanceNight EnhanceMode = "night"
	// EnhanceAlways enhances every frame before tracking.
	EnhanceAlways EnhanceMode = "always"
)

// Valid reports whether m is a known enhancement mode.
func (m EnhanceMode) Valid() bool {
	return m == EnhanceOff || m == EnhanceNight || m == EnhanceAlways
}

// ParseEnhanceMode converts a config string to an EnhanceMode. Empty means off.
func ParseEnhanceMode(s string) (EnhanceMode, error) {
	if s == "" {
		return EnhanceOff, nil
	}
	m := EnhanceMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown enhancement mode %q (want %s, %s or %s)", s, EnhanceOff, EnhanceNight, EnhanceAlways)
	}
	return m, nil
}

// NoClass disables a class id in Policy.
const NoClass = -1

// Policy decides when a track is dispatched for recognition.
type Policy struct {
	Mode               Mode    // Dispatch trigger
	MinBoxSize         float64 // Minimum wagon box width in pixels
	SampleEveryNFrames int     // Dispatch is only attempted on frames divisible by this
	ConfidenceFloor    float64 // Secondary localizer candidate floor
	WagonClass         int     // Primary class id of a wagon
	NumberClass        int     // Primary class id of a number plate, or NoClass; plates are never counted
	BlurThreshold      float64 // Crops scoring below this are restored
	NightLuma          float64 // Wagons with mean luma below this are flagged as night captures
	Enhance            EnhanceMode
}

// DefaultPolicy returns the cascaded dispatch policy.
func DefaultPolicy() Policy {
	return Policy{
		Mode:               ModeNumberRegion,
		MinBoxSize:         200,
		SampleEveryNFrames: 3,
		ConfidenceFloor:    0.25,
		WagonClass:         0,
		NumberClass:        NoClass,
		BlurThreshold:      100,
		NightLuma:          60,
		Enhance:            EnhanceOff,
	}
}

// Validate checks the policy for impossible values.
func (p Policy) Validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("unknown dispatch mode %q", p.Mode)
	}
	if p.MinBoxSize < 0 {
		return errors.New("min_box_size must be non-negative")
	}
	if p.SampleEveryNFrames < 1 {
		return fmt.Errorf("sample_every_n_frames must be >= 1, got %d", p.SampleEveryNFrames)
	}
	if p.ConfidenceFloor < 0 || p.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be in [0,1], got %f", p.ConfidenceFloor)
	}
	if p.WagonClass < 0 {
		return errors.New("wagon_class must be non-negative")
	}
	if p.NumberClass == p.WagonClass {
		return errors.New("number_class must differ from wagon_class")
	}
	if p.BlurThreshold < 0 {
		return errors.New("blur_threshold must be non-negative")
	}
	if p.Enhance != "" && !p.Enhance.Valid() {
		return fmt.Errorf("unknown enhancement mode %q", p.Enhance)
	}
	return nil
}

// sampled reports whether dispatch may be attempted on frame.
func (p Policy) sampled(frame int) bool {
	return frame%p.SampleEveryNFrames == 0
}

// largeEnough applies the mode's size rule to a wagon box width.
func (p Policy) largeEnough(width float64) bool {
	if p.Mode == ModeWagonBox {
		return width > p.MinBoxSize
	}
	return width >= p.MinBoxSize
}

// counted reports whether tracks of class belong in the inventory. Only
// wagons are counted; a plate belongs to the wagon that contains it.
func (p Policy) counted(class int) bool {
	return class == p.WagonClass
}

// plate reports whether class is the primary number plate class.
func (p Policy) plate(class int) bool {
	return p.NumberClass != NoClass && class == p.NumberClass
}
