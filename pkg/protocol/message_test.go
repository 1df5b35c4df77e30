package protocol

import (
	"testing"
	"time"

	"github.com/teslashibe/go-soundloc/pkg/accuracy"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/localize"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
	}{
		{"estimate message", TypeEstimate, EstimateData{Frame: 3, X: 1, Y: 2}},
		{"session message", TypeSession, SessionData{ID: "abc", State: "streaming"}},
		{"nil data", TypePing, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if err != nil {
				t.Fatalf("NewMessage() error = %v", err)
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestEstimateMessageRoundTrip(t *testing.T) {
	e := localize.PositionEstimate{
		Frame:    7,
		Time:     1500 * time.Millisecond,
		Position: geometry.Point2{X: -12.5, Y: 40},
		Residual: 0.25,
		Status:   localize.Solved,
	}
	msg, err := NewEstimateMessage("sess-1", e)
	if err != nil {
		t.Fatal(err)
	}
	b, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	data, err := parsed.GetEstimateData()
	if err != nil {
		t.Fatal(err)
	}
	want := EstimateData{SessionID: "sess-1", Frame: 7, Time: 1.5, X: -12.5, Y: 40, Residual: 0.25, Status: "solved"}
	if *data != want {
		t.Errorf("got %+v, want %+v", *data, want)
	}

	if _, err := parsed.GetFrameData(); err == nil {
		t.Error("GetFrameData on an estimate message should fail")
	}
}

func TestSessionDataCount(t *testing.T) {
	var s SessionData
	for _, st := range []localize.FrameStatus{localize.Silent, localize.Solved, localize.Solved, localize.Skipped, localize.Failed} {
		s.Count(st)
	}
	if s.Frames != 5 || s.Silent != 1 || s.Solved != 2 || s.Skipped != 1 || s.Failed != 1 {
		t.Errorf("counts %+v", s)
	}
}

func TestSessionFromReport(t *testing.T) {
	r := &localize.Report{SessionID: "x", Frames: 4, Solved: 3, Silent: 1, Accuracy: &accuracy.Summary{Count: 3, RMSE: 1.25}}
	s := Session(r)
	if s.State != "done" || s.RMSE == nil || *s.RMSE != 1.25 || s.Solved != 3 {
		t.Errorf("session %+v", s)
	}

	s = Session(&localize.Report{SessionID: "y"})
	if s.RMSE != nil {
		t.Error("RMSE should be omitted without ground truth")
	}
}

func TestParseMessageInvalid(t *testing.T) {
	if _, err := ParseMessage([]byte("{not json")); err == nil {
		t.Error("expected error")
	}
}
