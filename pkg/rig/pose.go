package rig

import (
	"math"

	"github.com/teslashibe/go-soundloc/pkg/geometry"
)

// Pose is the robot's position and heading. Heading is in degrees, 0 facing +X,
// increasing counter-clockwise.
type Pose struct {
	Position geometry.Point2 `yaml:"position"`
	Heading  float64         `yaml:"heading"`
}

// Forward moves d along the heading.
func (p Pose) Forward(d float64) Pose {
	rad := p.Heading * math.Pi / 180
	p.Position.X += d * math.Cos(rad)
	p.Position.Y += d * math.Sin(rad)
	return p
}

// Rotate turns by deg, keeping the heading in [0, 360).
func (p Pose) Rotate(deg float64) Pose {
	p.Heading = math.Mod(p.Heading+deg, 360)
	if p.Heading < 0 {
		p.Heading += 360
	}
	return p
}
