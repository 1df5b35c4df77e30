package web

import (
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/localize"
	"github.com/teslashibe/go-soundloc/pkg/protocol"
)

func estimate(frame int, x, y float64) localize.PositionEstimate {
	return localize.PositionEstimate{
		Frame:    frame,
		Time:     time.Duration(frame) * 100 * time.Millisecond,
		Position: geometry.Point2{X: x, Y: y},
		Status:   localize.Solved,
	}
}

func getJSON(t *testing.T, s *Server, path string, v any) int {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest("GET", path, nil))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if v != nil && resp.StatusCode == 200 {
		if err := json.Unmarshal(body, v); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, body)
		}
	}
	return resp.StatusCode
}

func TestHealthAndSession(t *testing.T) {
	s := NewServer(":0")

	var health map[string]any
	if code := getJSON(t, s, "/health", &health); code != 200 || health["status"] != "ok" {
		t.Fatalf("health %d %v", code, health)
	}

	var sess protocol.SessionData
	getJSON(t, s, "/api/session", &sess)
	if sess.State != "idle" {
		t.Errorf("initial state %q, want idle", sess.State)
	}

	s.BeginSession("run-1")
	s.PublishFrame(localize.FrameResult{Index: 0, Status: localize.Silent})
	s.PublishFrame(localize.FrameResult{Index: 1, Status: localize.Solved})
	getJSON(t, s, "/api/session", &sess)
	if sess.ID != "run-1" || sess.State != "streaming" || sess.Frames != 2 || sess.Solved != 1 || sess.Silent != 1 {
		t.Errorf("session %+v", sess)
	}

	s.EndSession(&localize.Report{SessionID: "run-1", Frames: 2, Solved: 1, Silent: 1})
	getJSON(t, s, "/api/session", &sess)
	if sess.State != "done" {
		t.Errorf("state after end %q", sess.State)
	}
}

func TestEstimatesSinceAndHistory(t *testing.T) {
	s := NewServer(":0", WithHistory(3))
	s.BeginSession("run")
	for i := range 5 {
		s.PublishEstimate(estimate(i, float64(i), 0))
	}

	var all []protocol.EstimateData
	getJSON(t, s, "/api/estimates", &all)
	if len(all) != 3 || all[0].Frame != 2 || all[2].Frame != 4 {
		t.Fatalf("history %+v", all)
	}

	var later []protocol.EstimateData
	getJSON(t, s, "/api/estimates?since=3", &later)
	if len(later) != 1 || later[0].Frame != 4 || later[0].SessionID != "run" {
		t.Errorf("since=3 %+v", later)
	}
}

func TestStop(t *testing.T) {
	s := NewServer(":0")
	resp, err := s.App().Test(httptest.NewRequest("POST", "/api/session/stop", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 501 {
		t.Errorf("unconfigured stop status %d", resp.StatusCode)
	}

	stopped := false
	s.SetOnStop(func() { stopped = true })
	resp, err = s.App().Test(httptest.NewRequest("POST", "/api/session/stop", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 202 || !stopped {
		t.Errorf("stop status %d, called %v", resp.StatusCode, stopped)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := NewServer(":0")
	if code := getJSON(t, s, "/ws/estimates", nil); code != 426 {
		t.Errorf("plain GET on websocket route: %d, want 426", code)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.ParseMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestWebSocketSnapshotThenLive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(ln.Addr().String())
	go s.Serve(ln)
	defer s.Shutdown()

	s.BeginSession("live")
	s.PublishEstimate(estimate(0, 10, 20))

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/estimates", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sess, err := readMessage(t, conn).GetSessionData()
	if err != nil || sess.ID != "live" {
		t.Fatalf("first message should be the session snapshot: %+v %v", sess, err)
	}
	first, err := readMessage(t, conn).GetEstimateData()
	if err != nil || first.Frame != 0 || first.X != 10 {
		t.Fatalf("replayed estimate %+v %v", first, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.estimateHub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.PublishEstimate(estimate(1, 11, 21))
	live, err := readMessage(t, conn).GetEstimateData()
	if err != nil || live.Frame != 1 || live.Y != 21 {
		t.Fatalf("live estimate %+v %v", live, err)
	}
}

func TestWebSocketJoinDuringPublishMissesNothing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(ln.Addr().String())
	go s.Serve(ln)
	defer s.Shutdown()

	s.BeginSession("race")

	const total = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range total {
			s.PublishEstimate(estimate(i, float64(i), 0))
		}
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/estimates", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	<-done

	seen := make(map[int]bool)
	for len(seen) < total {
		msg := readMessage(t, conn)
		if msg.Type != protocol.TypeEstimate {
			continue
		}
		e, err := msg.GetEstimateData()
		if err != nil {
			t.Fatal(err)
		}
		seen[e.Frame] = true
	}

	var health map[string]any
	getJSON(t, s, "/health", &health)
	if health["hub_running"] != true {
		t.Errorf("health %v", health)
	}
}
