package geometry

import (
	"fmt"
	"math"
)

// BoundsConvention names how a room extent is turned into a search box.
// The rig scripts used both, so it is configuration rather than a fixed choice.
type BoundsConvention string

const (
	// OriginConvention spans [0, w] x [0, l].
	OriginConvention BoundsConvention = "origin"
	// CenteredConvention spans [-w/2, w/2] x [-l/2, l/2].
	CenteredConvention BoundsConvention = "centered"
)

// Bounds is an axis-aligned search box on the localization plane.
type Bounds struct {
	Min Point2
	Max Point2
}

// BoundsFor builds the search box for a room of the given width and length.
func BoundsFor(convention BoundsConvention, width, length float64) (Bounds, error) {
	var b Bounds
	switch convention {
	case OriginConvention:
		b = Bounds{Max: Point2{X: width, Y: length}}
	case CenteredConvention:
		b = Bounds{
			Min: Point2{X: -width / 2, Y: -length / 2},
			Max: Point2{X: width / 2, Y: length / 2},
		}
	default:
		return Bounds{}, fmt.Errorf("%w: unknown convention %q", ErrInvalidBounds, string(convention))
	}
	return b, b.Validate()
}

// Validate checks that the box is finite and non-empty.
func (b Bounds) Validate() error {
	for _, v := range []float64{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite limit", ErrInvalidBounds)
		}
	}
	if b.Max.X <= b.Min.X || b.Max.Y <= b.Min.Y {
		return fmt.Errorf("%w: min %v must be below max %v", ErrInvalidBounds, b.Min, b.Max)
	}
	return nil
}

// Contains reports whether p lies inside the box, edges included.
func (b Bounds) Contains(p Point2) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// Clamp projects p onto the box.
func (b Bounds) Clamp(p Point2) Point2 {
	return Point2{
		X: math.Min(math.Max(p.X, b.Min.X), b.Max.X),
		Y: math.Min(math.Max(p.Y, b.Min.Y), b.Max.Y),
	}
}

// Center returns the middle of the box.
func (b Bounds) Center() Point2 {
	return Point2{X: (b.Min.X + b.Max.X) / 2, Y: (b.Min.Y + b.Max.Y) / 2}
}

// Width returns the X extent.
func (b Bounds) Width() float64 { return b.Max.X - b.Min.X }

// Length returns the Y extent.
func (b Bounds) Length() float64 { return b.Max.Y - b.Min.Y }
