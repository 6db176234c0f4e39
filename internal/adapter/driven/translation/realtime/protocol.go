package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/Wyydra/parley/internal/core/domain"
)

// Wire shapes of the realtime protocol. Only the fields this client reads or
// writes are modelled.

type clientEvent struct {
	Type    string         `json:"type"`
	Session *sessionConfig `json:"session,omitempty"`
	Audio   string         `json:"audio,omitempty"`
}

type sessionConfig struct {
	TurnDetection           *turnDetection           `json:"turn_detection,omitempty"`
	InputAudioTranscription *inputAudioTranscription `json:"input_audio_transcription,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type inputAudioTranscription struct {
	Model string `json:"model"`
}

type serverEvent struct {
	Type         string       `json:"type"`
	EventID      string       `json:"event_id,omitempty"`
	ResponseID   string       `json:"response_id,omitempty"`
	ItemID       string       `json:"item_id,omitempty"`
	Delta        string       `json:"delta,omitempty"`
	Transcript   string       `json:"transcript,omitempty"`
	AudioStartMS int          `json:"audio_start_ms,omitempty"`
	Session      *wireSession `json:"session,omitempty"`
	Response     *wireResp    `json:"response,omitempty"`
	Error        *wireError   `json:"error,omitempty"`
}

type wireSession struct {
	ID string `json:"id"`
}

type wireResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// EncodeClientMessage renders msg as a realtime protocol frame.
func EncodeClientMessage(msg domain.ClientMessage) ([]byte, error) {
	var ev clientEvent
	switch m := msg.(type) {
	case domain.SessionUpdate:
		ev = clientEvent{
			Type: domain.KindSessionUpdate,
			Session: &sessionConfig{
				Instructions: m.Session.Instructions,
				Voice:        m.Session.Voice,
			},
		}
		if m.Session.TurnDetection != "" {
			ev.Session.TurnDetection = &turnDetection{Type: m.Session.TurnDetection}
		}
		if m.Session.TranscriptionModel != "" {
			ev.Session.InputAudioTranscription = &inputAudioTranscription{Model: m.Session.TranscriptionModel}
		}
	case domain.InputAudioAppend:
		ev = clientEvent{Type: domain.KindInputAudioBufferAppend, Audio: m.Audio}
	default:
		return nil, fmt.Errorf("unsupported client message %T", msg)
	}
	return json.Marshal(ev)
}

// DecodeServerEvent parses one frame. Kinds without a dedicated variant come
// back as domain.UnknownEvent carrying the raw frame.
func DecodeServerEvent(data []byte) (domain.ServerEvent, error) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode server event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("decode server event: missing type")
	}

	switch ev.Type {
	case domain.KindSessionCreated:
		out := domain.SessionCreated{}
		if ev.Session != nil {
			out.SessionID = ev.Session.ID
		}
		return out, nil
	case domain.KindTranscriptDelta:
		return domain.TranscriptDelta{ResponseID: ev.ResponseID, ItemID: ev.ItemID, Delta: ev.Delta}, nil
	case domain.KindAudioDelta:
		return domain.AudioDelta{ResponseID: ev.ResponseID, ItemID: ev.ItemID, Delta: ev.Delta}, nil
	case domain.KindSpeechStarted:
		return domain.SpeechStarted{ItemID: ev.ItemID, AudioStartMS: ev.AudioStartMS}, nil
	case domain.KindInputTranscriptCompleted:
		return domain.InputTranscriptCompleted{ItemID: ev.ItemID, Transcript: ev.Transcript}, nil
	case domain.KindResponseDone:
		out := domain.ResponseDone{}
		if ev.Response != nil {
			out.ResponseID = ev.Response.ID
			out.Status = ev.Response.Status
		}
		return out, nil
	case domain.KindError:
		out := domain.ErrorEvent{}
		if ev.Error != nil {
			out = domain.ErrorEvent{Type: ev.Error.Type, Code: ev.Error.Code, Message: ev.Error.Message}
		}
		return out, nil
	default:
		return domain.UnknownEvent{Type: ev.Type, Raw: data}, nil
	}
}
