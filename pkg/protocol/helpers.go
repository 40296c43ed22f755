package protocol

import (
	"encoding/base64"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewCaptureStartMessage asks the browser to open a recognition session
func NewCaptureStartMessage(sessionID, language string, interimResults, continuous bool) (*Message, error) {
	return NewMessage(TypeCaptureStart, CaptureStartData{
		SessionID:      sessionID,
		Language:       language,
		InterimResults: interimResults,
		Continuous:     continuous,
	})
}

// NewCaptureStopMessage stops a recognition session, flushing pending finals
func NewCaptureStopMessage(sessionID string) (*Message, error) {
	return NewMessage(TypeCaptureStop, CaptureStopData{SessionID: sessionID})
}

// NewCaptureAbortMessage stops a recognition session, discarding pending results
func NewCaptureAbortMessage(sessionID string) (*Message, error) {
	return NewMessage(TypeCaptureAbort, CaptureStopData{SessionID: sessionID})
}

// NewCaptureResultMessage carries one recognition fragment
func NewCaptureResultMessage(sessionID, text string, final bool, confidence float64) (*Message, error) {
	return NewMessage(TypeCaptureResult, CaptureResultData{
		SessionID:  sessionID,
		Text:       text,
		Final:      final,
		Confidence: confidence,
	})
}

// NewCaptureErrorMessage carries a recognition error
func NewCaptureErrorMessage(sessionID, code, message string) (*Message, error) {
	return NewMessage(TypeCaptureError, CaptureErrorData{
		SessionID: sessionID,
		Code:      code,
		Message:   message,
	})
}

// NewSpeakStartMessage asks the browser to synthesize an utterance
func NewSpeakStartMessage(requestID, text string, rate, pitch, volume float64, voice, language string) (*Message, error) {
	return NewMessage(TypeSpeakStart, SpeakStartData{
		RequestID: requestID,
		Text:      text,
		Rate:      rate,
		Pitch:     pitch,
		Volume:    volume,
		Voice:     voice,
		Language:  language,
	})
}

// NewSpeakControlMessage targets a live utterance for cancel, pause or resume
func NewSpeakControlMessage(msgType MessageType, requestID string) (*Message, error) {
	return NewMessage(msgType, SpeakControlData{RequestID: requestID})
}

// NewSpeakEventMessage reports a synthesis lifecycle event
func NewSpeakEventMessage(requestID, event, errText string) (*Message, error) {
	return NewMessage(TypeSpeakEvent, SpeakEventData{
		RequestID: requestID,
		Event:     event,
		Error:     errText,
	})
}

// NewAudioMessage creates a microphone audio frame message
func NewAudioMessage(audio []byte, format string, sampleRate int) (*Message, error) {
	return NewMessage(TypeAudio, AudioData{
		Format:     format,
		SampleRate: sampleRate,
		Channels:   1,
		Data:       base64.StdEncoding.EncodeToString(audio),
	})
}

// NewStateMessage creates an engine state message
func NewStateMessage(state StateData) (*Message, error) {
	return NewMessage(TypeState, state)
}

// NewNoticeMessage creates a user-facing notification
func NewNoticeMessage(level, text string) (*Message, error) {
	return NewMessage(TypeNotice, NoticeData{Level: level, Text: text})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: 0, // Will be set by NewMessage
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetCaptureStartData extracts capture start data from a message
func (m *Message) GetCaptureStartData() (*CaptureStartData, error) {
	var data CaptureStartData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCaptureResultData extracts a recognition fragment from a message
func (m *Message) GetCaptureResultData() (*CaptureResultData, error) {
	var data CaptureResultData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCaptureErrorData extracts a recognition error from a message
func (m *Message) GetCaptureErrorData() (*CaptureErrorData, error) {
	var data CaptureErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSpeakStartData extracts speak start data from a message
func (m *Message) GetSpeakStartData() (*SpeakStartData, error) {
	var data SpeakStartData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSpeakEventData extracts a synthesis lifecycle event from a message
func (m *Message) GetSpeakEventData() (*SpeakEventData, error) {
	var data SpeakEventData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetVoicesData extracts the voice catalog from a message
func (m *Message) GetVoicesData() (*VoicesData, error) {
	var data VoicesData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAudioData extracts a microphone audio frame from a message
func (m *Message) GetAudioData() (*AudioData, error) {
	var data AudioData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeAudioData decodes the base64 audio data
func (a *AudioData) DecodeAudioData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Data)
}

// GetStateData extracts engine state from a message
func (m *Message) GetStateData() (*StateData, error) {
	var data StateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSubmitData extracts typed text from a message
func (m *Message) GetSubmitData() (*SubmitData, error) {
	var data SubmitData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCommandData extracts a UI command from a message
func (m *Message) GetCommandData() (*CommandData, error) {
	var data CommandData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
