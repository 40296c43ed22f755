// Package protocol defines the WebSocket message types for
// browser-engine communication. This package is shared between the
// talkmode engine and the web client driving the browser's speech
// recognition and synthesis.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Engine → Browser messages
	TypeCaptureStart MessageType = "capture.start" // Open a recognition session
	TypeCaptureStop  MessageType = "capture.stop"  // Stop, flushing pending results
	TypeCaptureAbort MessageType = "capture.abort" // Stop, discarding pending results
	TypeSpeakStart   MessageType = "speak.start"   // Synthesize an utterance
	TypeSpeakCancel  MessageType = "speak.cancel"  // Cancel the utterance
	TypeSpeakPause   MessageType = "speak.pause"   // Pause the utterance
	TypeSpeakResume  MessageType = "speak.resume"  // Resume the utterance
	TypeState        MessageType = "state"         // Engine state for the UI
	TypeTurn         MessageType = "turn"          // New transcript turn
	TypeNotice       MessageType = "notice"        // User-facing notification

	// Browser → Engine messages
	TypeCaptureBegan  MessageType = "capture.began"  // Recognition is receiving audio
	TypeCaptureResult MessageType = "capture.result" // Interim or final fragment
	TypeCaptureError  MessageType = "capture.error"  // Recognition error
	TypeCaptureEnded  MessageType = "capture.ended"  // Recognition session ended
	TypeSpeakEvent    MessageType = "speak.event"    // Synthesis lifecycle event
	TypeVoices        MessageType = "voices"         // Voice catalog
	TypeAudio         MessageType = "audio"          // Microphone audio frame
	TypeSubmit        MessageType = "submit"         // Typed text from the page
	TypeCommand       MessageType = "command"        // UI button press

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
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

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
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

// =============================================================================
// Engine → Browser Message Types
// =============================================================================

// CaptureStartData opens a recognition session in the browser
type CaptureStartData struct {
	SessionID      string `json:"session_id"`
	Language       string `json:"language"`
	InterimResults bool   `json:"interim_results"`
	Continuous     bool   `json:"continuous"`
}

// CaptureStopData stops a recognition session, letting pending finals flush
type CaptureStopData struct {
	SessionID string `json:"session_id"`
}

// SpeakStartData asks the browser to synthesize an utterance
type SpeakStartData struct {
	RequestID string  `json:"request_id"`
	Text      string  `json:"text"`
	Rate      float64 `json:"rate"`
	Pitch     float64 `json:"pitch"`
	Volume    float64 `json:"volume"`
	Voice     string  `json:"voice,omitempty"`
	Language  string  `json:"language,omitempty"`
}

// SpeakControlData targets a live utterance for cancel, pause or resume
type SpeakControlData struct {
	RequestID string `json:"request_id"`
}

// StateData is the engine state pushed to UIs
type StateData struct {
	Mode           string `json:"mode"` // "idle", "listening", "processing", "speaking"
	TalkModeActive bool   `json:"talk_mode_active"`
	Listening      bool   `json:"listening"`
	Speaking       bool   `json:"speaking"`
	Interim        string `json:"interim,omitempty"`
	Error          string `json:"error,omitempty"`
}

// NoticeData is a user-facing notification
type NoticeData struct {
	Level string `json:"level"` // "info", "warn", "error"
	Text  string `json:"text"`
}

// =============================================================================
// Browser → Engine Message Types
// =============================================================================

// CaptureBeganData confirms recognition is actually receiving audio
type CaptureBeganData struct {
	SessionID string `json:"session_id"`
}

// CaptureResultData carries one recognition fragment
type CaptureResultData struct {
	SessionID  string  `json:"session_id"`
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"` // 0.0 to 1.0
}

// CaptureErrorData carries a recognition error
type CaptureErrorData struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"` // "not-allowed", "no-speech", "network", ...
	Message   string `json:"message,omitempty"`
}

// CaptureEndedData signals the recognition session is over
type CaptureEndedData struct {
	SessionID string `json:"session_id"`
}

// Speak lifecycle event names carried by SpeakEventData.Event
const (
	SpeakStarted = "started"
	SpeakEnded   = "ended"
	SpeakPaused  = "paused"
	SpeakResumed = "resumed"
	SpeakFailed  = "failed"
)

// SpeakEventData reports a synthesis lifecycle event
type SpeakEventData struct {
	RequestID string `json:"request_id"`
	Event     string `json:"event"`
	Error     string `json:"error,omitempty"`
}

// VoiceInfo describes one synthesis voice
type VoiceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Local    bool   `json:"local"`
	Default  bool   `json:"default"`
}

// VoicesData carries the voice catalog
type VoicesData struct {
	Voices []VoiceInfo `json:"voices"`
}

// AudioData contains a microphone audio frame for server-side recognition
type AudioData struct {
	Format     string `json:"format"`      // "pcm16", "opus", "webm"
	SampleRate int    `json:"sample_rate"` // e.g., 16000
	Channels   int    `json:"channels"`    // 1 for mono
	Data       string `json:"data"`        // base64 encoded
}

// SubmitData carries typed text from the page
type SubmitData struct {
	Text string `json:"text"`
}

// CommandData carries a UI button press
type CommandData struct {
	Action string `json:"action"` // "start", "stop"
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
