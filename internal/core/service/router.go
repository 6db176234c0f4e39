package service

import (
	"context"
	"errors"
	"io"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	sessionStartedMarker = "<< Session Started >>"
	speechStartedMarker  = "<< Speech Started >>"
	userTranscriptPrefix = " User: "
)

// MessageRouter renders translation events into the conversation log and the
// audio player, in the order the link delivers them.
type MessageRouter struct {
	log       *domain.ConversationLog
	player    *AudioPlayer
	telemetry port.Telemetry
	logger    zerolog.Logger

	// block that receives the transcript of the speech that just started
	speechBlock int
}

var _ domain.EventHandler = (*MessageRouter)(nil)

func NewMessageRouter(conv *domain.ConversationLog, player *AudioPlayer, telemetry port.Telemetry) *MessageRouter {
	if telemetry == nil {
		telemetry = port.NopTelemetry{}
	}
	return &MessageRouter{
		log:         conv,
		player:      player,
		telemetry:   telemetry,
		logger:      log.With().Str("component", "router").Logger(),
		speechBlock: -1,
	}
}

// Run dispatches events until the link reports end of stream or ctx is done.
func (r *MessageRouter) Run(ctx context.Context, link port.TranslationLink) error {
	for {
		ev, err := link.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Info().Msg("Translation stream closed")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := r.Dispatch(ev); err != nil {
			r.logger.Warn().Err(err).Str("kind", ev.Kind()).Msg("Failed to handle event")
		}
	}
}

func (r *MessageRouter) Dispatch(ev domain.ServerEvent) error {
	r.telemetry.EventReceived(ev.Kind())
	return ev.Accept(r)
}

func (r *MessageRouter) SessionCreated(ev domain.SessionCreated) error {
	r.logger.Info().Str("session_id", ev.SessionID).Msg("Translation session created")
	r.log.Marker(sessionStartedMarker)
	r.log.OpenBlock()
	return nil
}

func (r *MessageRouter) TranscriptDelta(ev domain.TranscriptDelta) error {
	r.log.AppendToOpen(ev.Delta)
	return nil
}

func (r *MessageRouter) AudioDelta(ev domain.AudioDelta) error {
	samples, err := DecodePCM16(ev.Delta)
	if err != nil {
		r.telemetry.DecodeError(ev.Kind())
		r.logger.Warn().Err(err).Str("item_id", ev.ItemID).Msg("Skipping malformed audio delta")
		return nil
	}
	r.player.Play(samples)
	return nil
}

func (r *MessageRouter) SpeechStarted(ev domain.SpeechStarted) error {
	r.speechBlock = r.log.Marker(speechStartedMarker)
	r.log.OpenBlock()
	r.player.Clear()
	return nil
}

func (r *MessageRouter) InputTranscriptCompleted(ev domain.InputTranscriptCompleted) error {
	if r.speechBlock < 0 {
		r.logger.Warn().Str("item_id", ev.ItemID).Msg("Transcript without speech start")
		r.speechBlock = r.log.Marker("")
	}
	return r.log.AppendTo(r.speechBlock, userTranscriptPrefix+ev.Transcript)
}

func (r *MessageRouter) ResponseDone(ev domain.ResponseDone) error {
	r.log.Separator()
	return nil
}

func (r *MessageRouter) ServerError(ev domain.ErrorEvent) error {
	r.logger.Error().Str("type", ev.Type).Str("code", ev.Code).Msg(ev.Message)
	return nil
}

func (r *MessageRouter) Unknown(ev domain.UnknownEvent) error {
	r.logger.Debug().Str("kind", ev.Type).Bytes("event", ev.Raw).Msg("Unhandled event")
	return nil
}
