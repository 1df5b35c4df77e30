package protocol

import (
	"fmt"

	"github.com/teslashibe/go-soundloc/pkg/localize"
)

// =============================================================================
// Conversions from localization results
// =============================================================================

// Estimate converts a position estimate.
func Estimate(sessionID string, e localize.PositionEstimate) EstimateData {
	return EstimateData{
		SessionID: sessionID,
		Frame:     e.Frame,
		Time:      e.Time.Seconds(),
		X:         e.Position.X,
		Y:         e.Position.Y,
		Residual:  e.Residual,
		Status:    e.Status.String(),
	}
}

// Frame converts a frame result.
func Frame(sessionID string, r localize.FrameResult) FrameData {
	return FrameData{
		SessionID: sessionID,
		Index:     r.Index,
		Time:      r.Time.Seconds(),
		Status:    r.Status.String(),
		Reason:    r.Reason,
		RMS:       r.RMS,
	}
}

// Session converts a finished report.
func Session(r *localize.Report) SessionData {
	s := SessionData{
		ID:      r.SessionID,
		State:   localize.Done.String(),
		Frames:  r.Frames,
		Silent:  r.Silent,
		Solved:  r.Solved,
		Skipped: r.Skipped,
		Failed:  r.Failed,
		Stopped: r.Stopped,
	}
	if r.Accuracy != nil && r.Accuracy.Count > 0 {
		rmse := r.Accuracy.RMSE
		s.RMSE = &rmse
	}
	return s
}

// Count adds one frame outcome to the running counts.
func (s *SessionData) Count(status localize.FrameStatus) {
	s.Frames++
	switch status {
	case localize.Silent:
		s.Silent++
	case localize.Solved:
		s.Solved++
	case localize.Skipped:
		s.Skipped++
	case localize.Failed:
		s.Failed++
	}
}

// NewEstimateMessage creates an estimate message
func NewEstimateMessage(sessionID string, e localize.PositionEstimate) (*Message, error) {
	return NewMessage(TypeEstimate, Estimate(sessionID, e))
}

// NewFrameMessage creates a frame message
func NewFrameMessage(sessionID string, r localize.FrameResult) (*Message, error) {
	return NewMessage(TypeFrame, Frame(sessionID, r))
}

// NewSessionMessage creates a session message
func NewSessionMessage(s SessionData) (*Message, error) {
	return NewMessage(TypeSession, s)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id})
}

// NewPongMessage creates a pong message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{ID: id, PingTS: pingTS, PongTS: pongTS})
}

// =============================================================================
// Typed accessors
// =============================================================================

func (m *Message) expect(t MessageType) error {
	if m.Type != t {
		return fmt.Errorf("expected %s message, got %s", t, m.Type)
	}
	return nil
}

// GetEstimateData extracts estimate data from a message
func (m *Message) GetEstimateData() (*EstimateData, error) {
	if err := m.expect(TypeEstimate); err != nil {
		return nil, err
	}
	var data EstimateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	if err := m.expect(TypeFrame); err != nil {
		return nil, err
	}
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSessionData extracts session data from a message
func (m *Message) GetSessionData() (*SessionData, error) {
	if err := m.expect(TypeSession); err != nil {
		return nil, err
	}
	var data SessionData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	if err := m.expect(TypePing); err != nil {
		return nil, err
	}
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
