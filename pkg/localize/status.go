package localize

import "fmt"

// State is the session lifecycle state.
type State int

const (
	Idle State = iota
	Streaming
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FrameStatus classifies the outcome of one frame.
type FrameStatus int

const (
	// Silent frames failed the energy gate and were not localized.
	Silent FrameStatus = iota
	// Solved frames produced a trusted position.
	Solved
	// Skipped frames lacked a delay for at least one pair; the solver was not called.
	Skipped
	// Failed frames did not converge. The best-effort position is kept but flagged.
	Failed
)

func (s FrameStatus) String() string {
	switch s {
	case Silent:
		return "silent"
	case Solved:
		return "solved"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s FrameStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *FrameStatus) UnmarshalText(b []byte) error {
	st, err := ParseFrameStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseFrameStatus is the inverse of FrameStatus.String.
func ParseFrameStatus(v string) (FrameStatus, error) {
	for _, s := range []FrameStatus{Silent, Solved, Skipped, Failed} {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("localize: unknown frame status %q", v)
}
