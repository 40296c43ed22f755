package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "capture result message",
			msgType: TypeCaptureResult,
			data:    CaptureResultData{SessionID: "s1", Text: "hello", Final: true, Confidence: 0.9},
			wantErr: false,
		},
		{
			name:    "speak start message",
			msgType: TypeSpeakStart,
			data:    SpeakStartData{RequestID: "r1", Text: "hi", Rate: 1, Pitch: 1, Volume: 1},
			wantErr: false,
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if msg == nil && !tt.wantErr {
				t.Error("NewMessage() returned nil message")
				return
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

func TestMessageRoundTrip(t *testing.T) {
	original := CaptureResultData{
		SessionID:  "session-42",
		Text:       "how do I rotate an API key",
		Final:      true,
		Confidence: 0.87,
	}

	msg, err := NewCaptureResultMessage(original.SessionID, original.Text, original.Final, original.Confidence)
	if err != nil {
		t.Fatalf("NewCaptureResultMessage() error = %v", err)
	}

	bytes, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(bytes)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	if parsed.Type != TypeCaptureResult {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeCaptureResult)
	}

	result, err := parsed.GetCaptureResultData()
	if err != nil {
		t.Fatalf("GetCaptureResultData() error = %v", err)
	}

	if result.SessionID != original.SessionID {
		t.Errorf("SessionID = %v, want %v", result.SessionID, original.SessionID)
	}
	if result.Text != original.Text {
		t.Errorf("Text = %v, want %v", result.Text, original.Text)
	}
	if !result.Final {
		t.Error("Final should be true")
	}
	if result.Confidence != original.Confidence {
		t.Errorf("Confidence = %v, want %v", result.Confidence, original.Confidence)
	}
}

func TestCaptureStartMessage(t *testing.T) {
	msg, err := NewCaptureStartMessage("s1", "en-US", true, true)
	if err != nil {
		t.Fatalf("NewCaptureStartMessage() error = %v", err)
	}

	if msg.Type != TypeCaptureStart {
		t.Errorf("Type = %v, want %v", msg.Type, TypeCaptureStart)
	}

	data, err := msg.GetCaptureStartData()
	if err != nil {
		t.Fatalf("GetCaptureStartData() error = %v", err)
	}

	if data.SessionID != "s1" {
		t.Errorf("SessionID = %v, want s1", data.SessionID)
	}
	if data.Language != "en-US" {
		t.Errorf("Language = %v, want en-US", data.Language)
	}
	if !data.InterimResults || !data.Continuous {
		t.Error("InterimResults and Continuous should be true")
	}
}

func TestSpeakMessages(t *testing.T) {
	msg, err := NewSpeakStartMessage("req-1", "Webhooks live under Integrations.", 1.1, 1.0, 0.9, "en-voice", "en-US")
	if err != nil {
		t.Fatalf("NewSpeakStartMessage() error = %v", err)
	}

	data, err := msg.GetSpeakStartData()
	if err != nil {
		t.Fatalf("GetSpeakStartData() error = %v", err)
	}
	if data.RequestID != "req-1" {
		t.Errorf("RequestID = %v, want req-1", data.RequestID)
	}
	if data.Rate != 1.1 {
		t.Errorf("Rate = %v, want 1.1", data.Rate)
	}
	if data.Voice != "en-voice" {
		t.Errorf("Voice = %v, want en-voice", data.Voice)
	}

	cancel, err := NewSpeakControlMessage(TypeSpeakCancel, "req-1")
	if err != nil {
		t.Fatalf("NewSpeakControlMessage() error = %v", err)
	}
	if cancel.Type != TypeSpeakCancel {
		t.Errorf("Type = %v, want %v", cancel.Type, TypeSpeakCancel)
	}

	event, err := NewSpeakEventMessage("req-1", SpeakEnded, "")
	if err != nil {
		t.Fatalf("NewSpeakEventMessage() error = %v", err)
	}
	ev, err := event.GetSpeakEventData()
	if err != nil {
		t.Fatalf("GetSpeakEventData() error = %v", err)
	}
	if ev.Event != SpeakEnded {
		t.Errorf("Event = %v, want %v", ev.Event, SpeakEnded)
	}
}

func TestAudioMessage(t *testing.T) {
	pcmData := make([]byte, 1024)
	for i := range pcmData {
		pcmData[i] = byte(i % 256)
	}

	msg, err := NewAudioMessage(pcmData, "pcm16", 16000)
	if err != nil {
		t.Fatalf("NewAudioMessage() error = %v", err)
	}

	if msg.Type != TypeAudio {
		t.Errorf("Type = %v, want %v", msg.Type, TypeAudio)
	}

	audio, err := msg.GetAudioData()
	if err != nil {
		t.Fatalf("GetAudioData() error = %v", err)
	}

	if audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %v, want 16000", audio.SampleRate)
	}
	if audio.Format != "pcm16" {
		t.Errorf("Format = %v, want pcm16", audio.Format)
	}

	decoded, err := audio.DecodeAudioData()
	if err != nil {
		t.Fatalf("DecodeAudioData() error = %v", err)
	}

	if len(decoded) != len(pcmData) {
		t.Errorf("Decoded length = %v, want %v", len(decoded), len(pcmData))
	}
}

func TestStateMessage(t *testing.T) {
	msg, err := NewStateMessage(StateData{
		Mode:           "listening",
		TalkModeActive: true,
		Listening:      true,
		Interim:        "how do",
	})
	if err != nil {
		t.Fatalf("NewStateMessage() error = %v", err)
	}

	if msg.Type != TypeState {
		t.Errorf("Type = %v, want %v", msg.Type, TypeState)
	}

	state, err := msg.GetStateData()
	if err != nil {
		t.Fatalf("GetStateData() error = %v", err)
	}

	if state.Mode != "listening" {
		t.Errorf("Mode = %v, want listening", state.Mode)
	}
	if !state.TalkModeActive {
		t.Error("TalkModeActive should be true")
	}
	if state.Interim != "how do" {
		t.Errorf("Interim = %v, want 'how do'", state.Interim)
	}
}

func TestPingPongMessage(t *testing.T) {
	pingMsg, err := NewPingMessage("test-123")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}

	if pingMsg.Type != TypePing {
		t.Errorf("Type = %v, want %v", pingMsg.Type, TypePing)
	}

	pingData, err := pingMsg.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}

	if pingData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pingData.ID)
	}

	// Create pong response
	now := time.Now().UnixMilli()
	pongMsg, err := NewPongMessage("test-123", pingMsg.Timestamp, now)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}

	if pongMsg.Type != TypePong {
		t.Errorf("Type = %v, want %v", pongMsg.Type, TypePong)
	}

	pongData, err := pongMsg.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}

	if pongData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pongData.ID)
	}
	if pongData.LatencyMs < 0 {
		t.Errorf("LatencyMs = %v, should be >= 0", pongData.LatencyMs)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "invalid json",
			input:   "not json",
			wantErr: true,
		},
		{
			name:    "empty json",
			input:   "{}",
			wantErr: false, // Empty is valid, just no type
		},
		{
			name:    "valid message",
			input:   `{"type":"ping","ts":1234567890}`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageJSON(t *testing.T) {
	// Verify JSON structure matches what the web client expects
	msg, _ := NewSpeakStartMessage("req-9", "hello", 1, 1, 1, "", "en-US")

	bytes, _ := msg.Bytes()

	var parsed map[string]interface{}
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		t.Fatalf("Failed to unmarshal as map: %v", err)
	}

	if parsed["type"] != "speak.start" {
		t.Errorf("type = %v, want speak.start", parsed["type"])
	}

	if _, ok := parsed["ts"]; !ok {
		t.Error("ts field should be present")
	}

	if _, ok := parsed["data"]; !ok {
		t.Error("data field should be present")
	}

	data := parsed["data"].(map[string]interface{})
	if data["request_id"] != "req-9" {
		t.Errorf("request_id = %v, want req-9", data["request_id"])
	}
}

func BenchmarkNewAudioMessage(b *testing.B) {
	pcmData := make([]byte, 32*1024) // One audio frame

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewAudioMessage(pcmData, "pcm16", 16000)
	}
}

func BenchmarkParseMessage(b *testing.B) {
	msg, _ := NewAudioMessage(make([]byte, 32*1024), "pcm16", 16000)
	bytes, _ := msg.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseMessage(bytes)
	}
}
