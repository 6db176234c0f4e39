package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/parley/internal/adapter/driven/media/pcm"
	"github.com/Wyydra/parley/internal/adapter/driven/media/pion"
	"github.com/Wyydra/parley/internal/adapter/driven/metrics"
	"github.com/Wyydra/parley/internal/adapter/driven/signaling/redis"
	"github.com/Wyydra/parley/internal/adapter/driven/signaling/remote"
	"github.com/Wyydra/parley/internal/adapter/driven/translation/realtime"
	"github.com/Wyydra/parley/internal/config"
	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/Wyydra/parley/internal/core/service"
	"github.com/Wyydra/parley/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var opts struct {
	configPath  string
	language    string
	input       string
	output      string
	metricsAddr string
	unpaced     bool
}

// agent holds everything one call participant needs.
type agent struct {
	ctx    context.Context
	stop   context.CancelFunc
	logger zerolog.Logger

	peer    *service.PeerSession
	session *service.CallSession

	closers []func() error
}

func newAgent(cmd *cobra.Command) (*agent, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	l := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &agent{ctx: ctx, stop: stop, logger: l}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	store, err := a.openStore(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	if opts.metricsAddr != "" {
		a.serveMetrics(m)
	}

	in, err := a.openInput()
	if err != nil {
		return nil, err
	}
	out, err := a.openOutput()
	if err != nil {
		return nil, err
	}

	peer, err := pion.NewPeer(pion.Config{STUNServers: cfg.Peer.STUNServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	a.closers = append(a.closers, peer.Close)

	dialer := realtime.NewDialer(realtime.Config{
		Endpoint:   cfg.Translation.Endpoint,
		APIKey:     cfg.Translation.APIKey,
		Model:      cfg.Translation.Model,
		APIVersion: cfg.Translation.APIVersion,
	})
	capture := pcm.NewReaderCapture(in, domain.RealtimeSampleRate, !opts.unpaced)
	// our translated speech goes to the peer; the peer's arrives on out
	translator := service.NewTranslator(dialer, capture, peer.AudioSink(), cfg.Translation.TranscriptionModel, m)

	speaker := pcm.NewStreamSink(out, false)
	if err := speaker.Load(ctx, pion.RemoteAudioRate); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, speaker.Close)
	peer.OnRemoteAudio(func(samples []int16) {
		if err := speaker.Post(samples); err != nil {
			a.logger.Debug().Err(err).Msg("Dropping remote audio")
		}
	})

	a.session = service.NewCallSession(opts.language, cfg.Translation.Voice)
	errOut := cmd.ErrOrStderr()
	a.session.Log.Watch(func(index int, b domain.TranscriptBlock) {
		// transcript blocks grow delta by delta; print only finished lines
		if b.Kind != domain.BlockTranscript {
			fmt.Fprintln(errOut, b.String())
		}
	})

	a.peer = service.NewPeerSession(store, peer, translator, a.session,
		service.WithTelemetry(m),
		service.WithLanguageWait(cfg.Language.PollInterval, cfg.Language.Timeout),
	)
	ok = true
	return a, nil
}

func (a *agent) openStore(cfg *config.Config) (port.SignalingStore, error) {
	switch cfg.Signaling.Backend {
	case config.BackendRemote:
		return remote.NewClient(cfg.Signaling.URL)
	case config.BackendRedis:
		rs, err := redis.NewStoreFromURL(cfg.Signaling.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		return rs, nil
	default:
		return nil, errors.New("the agent needs a shared signaling backend: set SIGNALING_BACKEND to remote or redis")
	}
}

func (a *agent) openInput() (io.Reader, error) {
	if opts.input == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(opts.input)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	a.closers = append(a.closers, f.Close)
	return f, nil
}

func (a *agent) openOutput() (io.Writer, error) {
	switch opts.output {
	case "":
		return io.Discard, nil
	case "-":
		return os.Stdout, nil
	}
	f, err := os.Create(opts.output)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}
	a.closers = append(a.closers, f.Close)
	return f, nil
}

func (a *agent) serveMetrics(m *metrics.Metrics) {
	srv := &http.Server{
		Addr:              opts.metricsAddr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info().Str("addr", opts.metricsAddr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// wait blocks until the user interrupts or the call drops, then hangs up and
// prints the conversation.
func (a *agent) wait(cmd *cobra.Command) error {
	select {
	case <-a.ctx.Done():
		a.logger.Info().Msg("Interrupted, hanging up")
	case <-a.peer.Done():
		a.logger.Info().Msg("Call ended")
	}

	transcript := a.session.Log.String()
	if err := a.peer.HangUp(); err != nil {
		a.logger.Warn().Err(err).Msg("Hang up failed")
	}
	if transcript != "" {
		fmt.Fprint(cmd.ErrOrStderr(), "\n--- Conversation ---\n"+transcript)
	}
	return nil
}

func (a *agent) close() {
	a.stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug().Err(err).Msg("Close failed")
		}
	}
}
