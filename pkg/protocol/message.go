// Package protocol defines the JSON messages streamed to live localization viewers.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	TypeEstimate MessageType = "estimate" // One position estimate
	TypeFrame    MessageType = "frame"    // One frame outcome
	TypeSession  MessageType = "session"  // Session lifecycle and counts

	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the envelope for every WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into v
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// EstimateData is one position estimate. Lengths use the array's units.
type EstimateData struct {
	SessionID string  `json:"session_id"`
	Frame     int     `json:"frame"`
	Time      float64 `json:"t"` // Seconds from recording start
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Residual  float64 `json:"residual"`
	Status    string  `json:"status"` // "solved" or "failed"
}

// FrameData is the outcome of one frame.
type FrameData struct {
	SessionID string    `json:"session_id"`
	Index     int       `json:"index"`
	Time      float64   `json:"t"`
	Status    string    `json:"status"` // silent, solved, skipped, failed
	Reason    string    `json:"reason,omitempty"`
	RMS       []float64 `json:"rms,omitempty"`
}

// SessionData describes a session and its frame counts so far.
type SessionData struct {
	ID      string   `json:"id"`
	State   string   `json:"state"` // idle, streaming, done
	Frames  int      `json:"frames"`
	Silent  int      `json:"silent"`
	Solved  int      `json:"solved"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Stopped bool     `json:"stopped,omitempty"`
	RMSE    *float64 `json:"rmse,omitempty"`
}

// PingData carries a ping ID.
type PingData struct {
	ID string `json:"id"`
}

// PongData echoes a ping with both timestamps.
type PongData struct {
	ID     string `json:"id"`
	PingTS int64  `json:"ping_ts"`
	PongTS int64  `json:"pong_ts"`
}
