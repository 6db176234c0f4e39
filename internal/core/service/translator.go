package service

import (
	"context"
	"fmt"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const connectionErrorText = "[Connection error]: Unable to send initial config message. Please check your endpoint and authentication details."

// Translator runs the translation relay of a call once both peers are connected.
type Translator struct {
	dialer             port.TranslationDialer
	capture            port.AudioCapture
	sink               port.PlaybackSink
	transcriptionModel string
	telemetry          port.Telemetry
}

func NewTranslator(dialer port.TranslationDialer, capture port.AudioCapture, sink port.PlaybackSink, transcriptionModel string, telemetry port.Telemetry) *Translator {
	if telemetry == nil {
		telemetry = port.NopTelemetry{}
	}
	return &Translator{
		dialer:             dialer,
		capture:            capture,
		sink:               sink,
		transcriptionModel: transcriptionModel,
		telemetry:          telemetry,
	}
}

// Start configures a translation session and relays audio until the endpoint
// closes the stream, a loop fails or ctx is done. Capture and playback are
// always torn down together before it returns.
func (t *Translator) Start(ctx context.Context, session *CallSession, peerLanguage string) error {
	l := log.With().Str("call_id", session.CallID().String()).Logger()

	link, err := t.dialer.Dial(ctx)
	if err != nil {
		session.Log.ErrorBlock(connectionErrorText)
		t.telemetry.SessionStarted(err)
		return fmt.Errorf("%w: dial: %w", domain.ErrSessionConfig, err)
	}
	defer link.Close()

	cfg := domain.NewSessionConfig(session.MyLanguage, peerLanguage, session.Voice, t.transcriptionModel)
	l.Info().Str("from", session.MyLanguage).Str("to", peerLanguage).Str("voice", cfg.Voice).Msg("Sending session config")
	if err := link.Send(ctx, domain.SessionUpdate{Session: cfg}); err != nil {
		session.Log.ErrorBlock(connectionErrorText)
		t.telemetry.SessionStarted(err)
		return fmt.Errorf("%w: %w", domain.ErrSessionConfig, err)
	}
	t.telemetry.SessionStarted(nil)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	player := NewAudioPlayer(t.sink, domain.RealtimeSampleRate, t.telemetry)
	uplink := NewAudioUplink(session, t.telemetry)
	router := NewMessageRouter(session.Log, player, t.telemetry)

	if err := player.Init(runCtx); err != nil {
		l.Warn().Err(err).Msg("Continuing without playback")
	}
	if err := t.capture.Start(runCtx, func(frame []byte) { uplink.Feed(runCtx, frame) }); err != nil {
		l.Error().Err(err).Msg("Failed to start audio capture")
	} else {
		session.SetRecording(true)
	}
	// playback is released first so a slow capture stop cannot hold it
	defer func() {
		session.SetRecording(false)
		player.Stop()
		if err := t.capture.Stop(); err != nil {
			l.Warn().Err(err).Msg("Failed to stop audio capture")
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return uplink.Run(gctx, link)
	})
	g.Go(func() error {
		// the stream ending stops the uplink too
		defer cancel()
		return router.Run(gctx, link)
	})

	err = g.Wait()
	if err != nil {
		l.Error().Err(err).Msg("Translation relay stopped")
	} else {
		l.Info().Int("dropped_bytes", uplink.Pending()).Msg("Translation relay finished")
	}
	return err
}
