package utils

import (
	"image"
	"math"
)

// Box represents an axis-aligned bounding box in float pixel coordinates.
type Box struct {
	MinX float64 `json:"x1" yaml:"x1"`
	MinY float64 `json:"y1" yaml:"y1"`
	MaxX float64 `json:"x2" yaml:"x2"`
	MaxY float64 `json:"y2" yaml:"y2"`
}

// NewBox constructs a Box from corner coordinates ensuring ordering.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{MinX: x1, MinY: y1, MaxX: x2, MaxY: y2}
}

// BoxFromCenter builds a Box from a center point and size (YOLO's cx, cy, w, h).
func BoxFromCenter(cx, cy, w, h float64) Box {
	return NewBox(cx-w/2, cy-h/2, cx+w/2, cy+h/2)
}

// Width returns the box width.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height returns the box height.
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool { return b.Area() == 0 }

// Offset returns the box translated by dx, dy.
func (b Box) Offset(dx, dy float64) Box {
	return Box{MinX: b.MinX + dx, MinY: b.MinY + dy, MaxX: b.MaxX + dx, MaxY: b.MaxY + dy}
}

// Scale returns the box with all coordinates multiplied by s.
func (b Box) Scale(s float64) Box {
	return Box{MinX: b.MinX * s, MinY: b.MinY * s, MaxX: b.MaxX * s, MaxY: b.MaxY * s}
}

// IoU computes intersection over union of two boxes.
func IoU(a, b Box) float64 {
	ix1 := math.Max(a.MinX, b.MinX)
	iy1 := math.Max(a.MinY, b.MinY)
	ix2 := math.Min(a.MaxX, b.MaxX)
	iy2 := math.Min(a.MaxY, b.MaxY)
	inter := Box{MinX: ix1, MinY: iy1, MaxX: ix2, MaxY: iy2}.Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ToRect converts a Box to an image.Rectangle, clamped to bounds.
func (b Box) ToRect(bounds image.Rectangle) image.Rectangle {
	x1 := clampInt(int(math.Floor(b.MinX)), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(math.Floor(b.MinY)), bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(math.Ceil(b.MaxX)), bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(math.Ceil(b.MaxY)), bounds.Min.Y, bounds.Max.Y)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return image.Rect(x1, y1, x2, y2)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
