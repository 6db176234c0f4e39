package domain

import "fmt"

// Event kinds exchanged with the translation endpoint.
const (
	KindSessionUpdate            = "session.update"
	KindInputAudioBufferAppend   = "input_audio_buffer.append"
	KindSessionCreated           = "session.created"
	KindTranscriptDelta          = "response.audio_transcript.delta"
	KindAudioDelta               = "response.audio.delta"
	KindSpeechStarted            = "input_audio_buffer.speech_started"
	KindInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	KindResponseDone             = "response.done"
	KindError                    = "error"
)

const (
	TurnDetectionServerVAD    = "server_vad"
	DefaultTranscriptionModel = "whisper-1"

	// Translation endpoints speak 24 kHz mono PCM16.
	RealtimeSampleRate = 24000
)

// SessionConfig is the single configuration message sent before audio.
type SessionConfig struct {
	TurnDetection      string
	TranscriptionModel string
	Instructions       string
	Voice              string
}

// NewSessionConfig builds the configuration for translating from my language
// into the peer's.
func NewSessionConfig(myLanguage, peerLanguage, voice, transcriptionModel string) SessionConfig {
	if transcriptionModel == "" {
		transcriptionModel = DefaultTranscriptionModel
	}
	return SessionConfig{
		TurnDetection:      TurnDetectionServerVAD,
		TranscriptionModel: transcriptionModel,
		Instructions:       BuildInstructions(myLanguage, peerLanguage),
		Voice:              voice,
	}
}

func BuildInstructions(from, to string) string {
	return fmt.Sprintf("You are a translation machine. Your sole function is to translate the input text from %s to %s.\n"+
		"Do not add, omit, or alter any information.\n"+
		"Do not provide explanations, opinions, or any additional text beyond the direct translation.\n"+
		"You are not aware of any other facts, knowledge, or context beyond translation between %s and %s.\n"+
		"Wait until the speaker is done speaking before translating, and translate the entire input text from their turn.",
		from, to, from, to)
}

// ClientMessage is anything sent to the translation endpoint.
type ClientMessage interface {
	Kind() string
	clientMessage()
}

type SessionUpdate struct {
	Session SessionConfig
}

// InputAudioAppend carries one base64 encoded PCM16 block.
type InputAudioAppend struct {
	Audio string
}

func (SessionUpdate) Kind() string { return KindSessionUpdate }
func (InputAudioAppend) Kind() string { return KindInputAudioBufferAppend }
func (SessionUpdate) clientMessage() {}
func (InputAudioAppend) clientMessage() {}

// ServerEvent is one message received from the translation endpoint. The set
// is closed: adding a variant means adding a method to EventHandler, so every
// handler has to be updated before the build passes.
type ServerEvent interface {
	Kind() string
	Accept(h EventHandler) error
}

type EventHandler interface {
	SessionCreated(SessionCreated) error
	TranscriptDelta(TranscriptDelta) error
	AudioDelta(AudioDelta) error
	SpeechStarted(SpeechStarted) error
	InputTranscriptCompleted(InputTranscriptCompleted) error
	ResponseDone(ResponseDone) error
	ServerError(ErrorEvent) error
	Unknown(UnknownEvent) error
}

type SessionCreated struct {
	SessionID string
}

type TranscriptDelta struct {
	ResponseID string
	ItemID     string
	Delta      string
}

// AudioDelta carries base64 encoded PCM16 LE audio.
type AudioDelta struct {
	ResponseID string
	ItemID     string
	Delta      string
}

type SpeechStarted struct {
	ItemID       string
	AudioStartMS int
}

type InputTranscriptCompleted struct {
	ItemID     string
	Transcript string
}

type ResponseDone struct {
	ResponseID string
	Status     string
}

type ErrorEvent struct {
	Type    string
	Code    string
	Message string
}

// UnknownEvent keeps the raw frame of a kind this core does not handle.
type UnknownEvent struct {
	Type string
	Raw  []byte
}

func (SessionCreated) Kind() string { return KindSessionCreated }
func (TranscriptDelta) Kind() string { return KindTranscriptDelta }
func (AudioDelta) Kind() string { return KindAudioDelta }
func (SpeechStarted) Kind() string { return KindSpeechStarted }
func (InputTranscriptCompleted) Kind() string { return KindInputTranscriptCompleted }
func (ResponseDone) Kind() string { return KindResponseDone }
func (ErrorEvent) Kind() string { return KindError }
func (e UnknownEvent) Kind() string { return e.Type }

func (e SessionCreated) Accept(h EventHandler) error { return h.SessionCreated(e) }
func (e TranscriptDelta) Accept(h EventHandler) error { return h.TranscriptDelta(e) }
func (e AudioDelta) Accept(h EventHandler) error { return h.AudioDelta(e) }
func (e SpeechStarted) Accept(h EventHandler) error { return h.SpeechStarted(e) }
func (e InputTranscriptCompleted) Accept(h EventHandler) error { return h.InputTranscriptCompleted(e) }
func (e ResponseDone) Accept(h EventHandler) error { return h.ResponseDone(e) }
func (e ErrorEvent) Accept(h EventHandler) error { return h.ServerError(e) }
func (e UnknownEvent) Accept(h EventHandler) error { return h.Unknown(e) }
