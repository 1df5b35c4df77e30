// Package rig describes the robot action sequences played during an experiment and
// turns them into a planned ground-truth trajectory by dead reckoning.
//
// Actions are a closed set of typed variants (Move, Wait, Turn). Each may carry a
// beep frequency: the robot's speaker plays that tone while the action runs, which
// is the sound the localizer tracks.
package rig

import (
	"fmt"
	"time"
)

// Kind names an action variant as written in sequence files.
type Kind string

const (
	KindMove      Kind = "move"
	KindWait      Kind = "wait"
	KindTurnLeft  Kind = "turn_left"
	KindTurnRight Kind = "turn_right"
)

// Motion holds the robot's nominal speeds, used when an action has no explicit duration.
type Motion struct {
	// Speed in centimeters per second.
	Speed float64 `yaml:"speed"`
	// TurnRate in degrees per second.
	TurnRate float64 `yaml:"turn_rate"`
}

// DefaultMotion is the rig robot: 5 cm/s and 90°/s.
func DefaultMotion() Motion {
	return Motion{Speed: 5, TurnRate: 90}
}

// Action is one step of a sequence. The concrete types are Move, Wait and Turn.
type Action interface {
	Kind() Kind

	// Duration returns how long the action takes under m.
	Duration(m Motion) time.Duration

	// Beep returns the tone frequency in Hz, or 0 when the action is silent.
	Beep() int

	// apply advances pose by fraction f in [0, 1] of the action.
	apply(p Pose, f float64) Pose

	// fields returns the CSV row after the kind column.
	fields() []string
}

// Move drives straight along the current heading.
type Move struct {
	Distance float64       // centimeters
	Hz       int           // beep frequency, 0 for none
	Time     time.Duration // 0 derives the duration from Motion.Speed
}

func (Move) Kind() Kind { return KindMove }
func (a Move) Beep() int { return a.Hz }

func (a Move) Duration(m Motion) time.Duration {
	if a.Time > 0 || m.Speed <= 0 {
		return a.Time
	}
	return seconds(a.Distance / m.Speed)
}

func (a Move) apply(p Pose, f float64) Pose {
	return p.Forward(a.Distance * f)
}

func (a Move) fields() []string {
	if a.Hz == 0 && a.Time == 0 {
		return []string{formatFloat(a.Distance)}
	}
	return []string{formatFloat(a.Distance), fmt.Sprint(a.Hz), formatFloat(a.Time.Seconds())}
}

// Wait holds position.
type Wait struct {
	Time time.Duration
	Hz   int
}

func (Wait) Kind() Kind { return KindWait }
func (a Wait) Beep() int { return a.Hz }
func (a Wait) Duration(Motion) time.Duration { return a.Time }
func (a Wait) apply(p Pose, _ float64) Pose { return p }

func (a Wait) fields() []string {
	if a.Hz == 0 {
		return []string{formatFloat(a.Time.Seconds())}
	}
	return []string{formatFloat(a.Time.Seconds()), fmt.Sprint(a.Hz)}
}

// Turn rotates in place. Positive degrees turn left (counter-clockwise).
type Turn struct {
	Degrees float64
	Hz      int
	Time    time.Duration // 0 derives the duration from Motion.TurnRate
}

func (a Turn) Kind() Kind {
	if a.Degrees < 0 {
		return KindTurnRight
	}
	return KindTurnLeft
}

func (a Turn) Beep() int { return a.Hz }

func (a Turn) Duration(m Motion) time.Duration {
	if a.Time > 0 || m.TurnRate <= 0 {
		return a.Time
	}
	deg := a.Degrees
	if deg < 0 {
		deg = -deg
	}
	return seconds(deg / m.TurnRate)
}

func (a Turn) apply(p Pose, f float64) Pose {
	return p.Rotate(a.Degrees * f)
}

func (a Turn) fields() []string {
	deg := a.Degrees
	if deg < 0 {
		deg = -deg
	}
	if a.Hz == 0 && a.Time == 0 {
		return []string{formatFloat(deg)}
	}
	return []string{formatFloat(deg), fmt.Sprint(a.Hz), formatFloat(a.Time.Seconds())}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
