package rig

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-soundloc/pkg/accuracy"
)

// ErrUnknownAction is returned for a row or entry whose kind is not move, wait,
// turn_left or turn_right.
var ErrUnknownAction = errors.New("rig: unknown action")

// Sequence is an ordered list of actions.
type Sequence []Action

// Duration returns the total time of the sequence under m.
func (s Sequence) Duration(m Motion) time.Duration {
	var total time.Duration
	for _, a := range s {
		total += a.Duration(m)
	}
	return total
}

// PoseAt dead-reckons the pose at offset t from start. Moves and turns are
// interpolated linearly over their duration.
func (s Sequence) PoseAt(start Pose, m Motion, t time.Duration) Pose {
	p := start
	if t <= 0 {
		return p
	}
	var elapsed time.Duration
	for _, a := range s {
		d := a.Duration(m)
		if t < elapsed+d {
			return a.apply(p, float64(t-elapsed)/float64(d))
		}
		p = a.apply(p, 1)
		elapsed += d
	}
	return p
}

// BeepAt returns the frequency playing at offset t, or 0 when the robot is silent.
func (s Sequence) BeepAt(m Motion, t time.Duration) int {
	var elapsed time.Duration
	for _, a := range s {
		d := a.Duration(m)
		if t >= elapsed && t < elapsed+d {
			return a.Beep()
		}
		elapsed += d
	}
	return 0
}

// Trajectory samples the planned path every step, including both ends.
func (s Sequence) Trajectory(start Pose, m Motion, step time.Duration) accuracy.Trajectory {
	if step <= 0 {
		step = 100 * time.Millisecond
	}
	total := s.Duration(m)
	samples := make([]accuracy.Sample, 0, int(total/step)+2)
	for t := time.Duration(0); t < total; t += step {
		samples = append(samples, accuracy.Sample{Time: t, Position: s.PoseAt(start, m, t).Position})
	}
	samples = append(samples, accuracy.Sample{Time: total, Position: s.PoseAt(start, m, total).Position})
	return accuracy.NewTrajectory(samples)
}

// ParseSequence reads the rig's headerless action CSV:
//
//	move,<cm>[,<hz>,<seconds>]
//	wait,<seconds>[,<hz>]
//	turn_left|turn_right,<degrees>[,<hz>,<seconds>]
func ParseSequence(r io.Reader) (Sequence, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var seq Sequence
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return seq, nil
		}
		if err != nil {
			return nil, fmt.Errorf("rig: line %d: %w", line, err)
		}
		a, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("rig: line %d: %w", line, err)
		}
		seq = append(seq, a)
	}
}

func parseRow(rec []string) (Action, error) {
	if len(rec) < 2 {
		return nil, fmt.Errorf("row %v: need at least 2 fields", rec)
	}
	kind := Kind(strings.TrimSpace(rec[0]))
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	if err != nil {
		return nil, err
	}

	var hz int
	if len(rec) > 2 {
		if hz, err = strconv.Atoi(strings.TrimSpace(rec[2])); err != nil {
			return nil, err
		}
	}
	var dur time.Duration
	if len(rec) > 3 {
		secs, err := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64)
		if err != nil {
			return nil, err
		}
		dur = seconds(secs)
	}

	switch kind {
	case KindMove:
		return Move{Distance: v, Hz: hz, Time: dur}, nil
	case KindWait:
		return Wait{Time: seconds(v), Hz: hz}, nil
	case KindTurnLeft:
		return Turn{Degrees: v, Hz: hz, Time: dur}, nil
	case KindTurnRight:
		return Turn{Degrees: -v, Hz: hz, Time: dur}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, string(kind))
	}
}

// WriteCSV writes s in the format ParseSequence reads.
func (s Sequence) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	for _, a := range s {
		if err := cw.Write(append([]string{string(a.Kind())}, a.fields()...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Plan is a sequence with the robot's start pose and speeds.
type Plan struct {
	Motion  Motion
	Start   Pose
	Actions Sequence
}

// Trajectory samples the plan every step.
func (p Plan) Trajectory(step time.Duration) accuracy.Trajectory {
	return p.Actions.Trajectory(p.Start, p.Motion, step)
}

type planFile struct {
	Motion  *Motion      `yaml:"motion"`
	Start   Pose         `yaml:"start"`
	Actions []actionSpec `yaml:"actions"`
}

type actionSpec struct {
	Action   Kind          `yaml:"action"`
	Distance float64       `yaml:"distance"`
	Degrees  float64       `yaml:"degrees"`
	Duration time.Duration `yaml:"duration"`
	Beep     int           `yaml:"beep"`
}

func (a actionSpec) action() (Action, error) {
	switch a.Action {
	case KindMove:
		return Move{Distance: a.Distance, Hz: a.Beep, Time: a.Duration}, nil
	case KindWait:
		return Wait{Time: a.Duration, Hz: a.Beep}, nil
	case KindTurnLeft:
		return Turn{Degrees: a.Degrees, Hz: a.Beep, Time: a.Duration}, nil
	case KindTurnRight:
		return Turn{Degrees: -a.Degrees, Hz: a.Beep, Time: a.Duration}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, string(a.Action))
	}
}

// LoadYAML reads a plan:
//
//	motion: {speed: 5, turn_rate: 90}
//	start: {position: {x: 0, y: 0}, heading: 0}
//	actions:
//	  - {action: wait, duration: 200ms, beep: 880}
//	  - {action: move, distance: 20}
//	  - {action: turn_left, degrees: 90, beep: 440}
func LoadYAML(r io.Reader) (Plan, error) {
	var f planFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return Plan{}, fmt.Errorf("rig: decode plan: %w", err)
	}

	plan := Plan{Motion: DefaultMotion(), Start: f.Start}
	if f.Motion != nil {
		plan.Motion = *f.Motion
	}
	for i, spec := range f.Actions {
		a, err := spec.action()
		if err != nil {
			return Plan{}, fmt.Errorf("rig: action %d: %w", i, err)
		}
		plan.Actions = append(plan.Actions, a)
	}
	return plan, nil
}

// LoadFile reads a plan from path: YAML for .yaml/.yml, otherwise the action CSV
// with default motion and a start at the origin.
func LoadFile(path string) (Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return Plan{}, fmt.Errorf("rig: %w", err)
	}
	defer f.Close()

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return LoadYAML(f)
	}
	seq, err := ParseSequence(f)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Motion: DefaultMotion(), Actions: seq}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
