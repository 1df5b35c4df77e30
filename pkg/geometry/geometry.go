// Package geometry describes the microphone array and the search region used for
// TDOA localization.
//
// All coordinates share one length unit (meters or centimeters). The speed of sound
// must be given in the same unit per second so that delays convert to range
// differences without hidden scale factors.
package geometry

import (
	"fmt"
	"math"
)

// MinMicrophones is the smallest array that yields a 2D fix.
const MinMicrophones = 3

// coincidentEpsilon is the distance below which two microphones are treated as one.
const coincidentEpsilon = 1e-9

// Point is a position in 3D space.
type Point struct {
	X, Y, Z float64
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// Norm returns the Euclidean length of p.
func (p Point) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return p.Sub(q).Norm()
}

// XY drops the height component.
func (p Point) XY() Point2 {
	return Point2{X: p.X, Y: p.Y}
}

// Point2 is a position on the localization plane.
type Point2 struct {
	X, Y float64
}

// Distance returns the Euclidean distance between p and q.
func (p Point2) Distance(q Point2) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// At lifts p to 3D at height z.
func (p Point2) At(z float64) Point {
	return Point{X: p.X, Y: p.Y, Z: z}
}

// String formats the point with two decimals.
func (p Point2) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", p.X, p.Y)
}

// Pair identifies an unordered microphone pair by index, with I < J.
type Pair struct {
	I, J int
}

// String formats the pair as "i-j".
func (p Pair) String() string {
	return fmt.Sprintf("%d-%d", p.I, p.J)
}

// PairCount returns N*(N-1)/2.
func PairCount(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

// Array is an immutable, ordered set of microphone positions.
type Array struct {
	mics  []Point
	units Units
	pairs []Pair
}

// New validates the positions and builds an Array.
// Fewer than three microphones is a configuration error.
func New(positions []Point, units Units) (*Array, error) {
	if len(positions) < MinMicrophones {
		return nil, fmt.Errorf("%w: got %d microphones, need at least %d",
			ErrDegenerateGeometry, len(positions), MinMicrophones)
	}
	if err := units.Validate(); err != nil {
		return nil, err
	}

	mics := make([]Point, len(positions))
	copy(mics, positions)

	pairs := make([]Pair, 0, PairCount(len(mics)))
	for i := 0; i < len(mics); i++ {
		for j := i + 1; j < len(mics); j++ {
			if mics[i].Distance(mics[j]) < coincidentEpsilon {
				return nil, fmt.Errorf("%w: microphones %d and %d", ErrCoincidentMicrophones, i, j)
			}
			pairs = append(pairs, Pair{I: i, J: j})
		}
	}

	return &Array{mics: mics, units: units, pairs: pairs}, nil
}

// MustNew is New that panics on error. Intended for tests and fixed presets.
func MustNew(positions []Point, units Units) *Array {
	a, err := New(positions, units)
	if err != nil {
		panic(err)
	}
	return a
}

// Len returns the number of microphones.
func (a *Array) Len() int {
	return len(a.mics)
}

// At returns the position of microphone i.
func (a *Array) At(i int) Point {
	return a.mics[i]
}

// Positions returns a copy of all microphone positions.
func (a *Array) Positions() []Point {
	out := make([]Point, len(a.mics))
	copy(out, a.mics)
	return out
}

// Units returns the length unit of the array.
func (a *Array) Units() Units {
	return a.units
}

// Pairs returns every unordered pair (i, j) with i < j, in lexical order.
// The returned slice must not be modified.
func (a *Array) Pairs() []Pair {
	return a.pairs
}

// MaxPairwiseDistance returns the largest distance between any two microphones.
func (a *Array) MaxPairwiseDistance() float64 {
	var maxDist float64
	for _, p := range a.pairs {
		if d := a.mics[p.I].Distance(a.mics[p.J]); d > maxDist {
			maxDist = d
		}
	}
	return maxDist
}

// MaxTau returns the largest physically admissible lag in samples:
// floor(max_pairwise_distance * sample_rate / speed_of_sound).
func (a *Array) MaxTau(sampleRate int, speedOfSound float64) int {
	if sampleRate <= 0 || speedOfSound <= 0 {
		return 0
	}
	return int(math.Floor(a.MaxPairwiseDistance() * float64(sampleRate) / speedOfSound))
}

// Centroid returns the mean microphone position.
func (a *Array) Centroid() Point {
	var c Point
	for _, m := range a.mics {
		c.X += m.X
		c.Y += m.Y
		c.Z += m.Z
	}
	n := float64(len(a.mics))
	return Point{X: c.X / n, Y: c.Y / n, Z: c.Z / n}
}

// DelaySamples returns the exact (fractional) TDOA in samples for a source at src
// between microphones i and j. Positive means the sound reaches i after j.
func (a *Array) DelaySamples(src Point, i, j, sampleRate int, speedOfSound float64) float64 {
	di := src.Distance(a.mics[i])
	dj := src.Distance(a.mics[j])
	return (di - dj) / speedOfSound * float64(sampleRate)
}
