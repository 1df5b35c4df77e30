package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-soundloc/internal/httpc"
	"github.com/teslashibe/go-soundloc/pkg/protocol"
)

// stopSession asks the server at base to stop and prints the final snapshot.
func stopSession(ctx context.Context, base string) error {
	base = strings.TrimRight(base, "/")
	if err := httpc.PostJSON(ctx, base+"/api/session/stop", nil, nil); err != nil {
		return err
	}
	var s protocol.SessionData
	if err := httpc.GetJSON(ctx, base+"/api/session", &s); err != nil {
		return err
	}
	fmt.Printf("⏹️  Stop requested for session %s (%s, %d frames so far)\n", s.ID, s.State, s.Frames)
	return nil
}

// followStream prints every message from a live view until ctx is done or the
// server closes the stream.
func followStream(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	fmt.Printf("📡 Following %s\n", url)

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			fmt.Printf("⚠️  %v\n", err)
			continue
		}
		printMessage(msg)
	}
}

func printMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeEstimate:
		e, err := msg.GetEstimateData()
		if err != nil {
			return
		}
		mark := "📍"
		if e.Status != "solved" {
			mark = "❓"
		}
		fmt.Printf("%s frame %5d  t=%7.3fs  x=%9.3f  y=%9.3f  residual=%.3g\n", mark, e.Frame, e.Time, e.X, e.Y, e.Residual)
	case protocol.TypeSession:
		s, err := msg.GetSessionData()
		if err != nil {
			return
		}
		fmt.Printf("🎯 session %s %s: %d frames, %d solved, %d silent, %d skipped, %d failed\n",
			s.ID, s.State, s.Frames, s.Solved, s.Silent, s.Skipped, s.Failed)
		if s.RMSE != nil {
			fmt.Printf("📏 RMSE %.3f\n", *s.RMSE)
		}
	case protocol.TypeFrame:
		// Frame outcomes are summarized by the session message.
	}
}
