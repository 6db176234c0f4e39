package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultLanguagePollInterval = 250 * time.Millisecond
	DefaultLanguageTimeout      = 2 * time.Minute
)

// StartFunc starts the translation session once the call is ready.
type StartFunc func(ctx context.Context, peerLanguage string)

// LanguageNegotiator waits for the peer's declared language and starts the
// translation session exactly once, when the language is known and the peer
// connection is up.
type LanguageNegotiator struct {
	store        port.SignalingStore
	session      *CallSession
	start        StartFunc
	pollInterval time.Duration
	timeout      time.Duration
	telemetry    port.Telemetry
	logger       zerolog.Logger

	group singleflight.Group

	mu    sync.Mutex
	state domain.PeerConnectionState
}

func NewLanguageNegotiator(store port.SignalingStore, session *CallSession, start StartFunc, pollInterval, timeout time.Duration, telemetry port.Telemetry) *LanguageNegotiator {
	if pollInterval <= 0 {
		pollInterval = DefaultLanguagePollInterval
	}
	if timeout <= 0 {
		timeout = DefaultLanguageTimeout
	}
	if telemetry == nil {
		telemetry = port.NopTelemetry{}
	}
	return &LanguageNegotiator{
		store:        store,
		session:      session,
		start:        start,
		pollInterval: pollInterval,
		timeout:      timeout,
		telemetry:    telemetry,
		logger:       log.With().Str("component", "negotiator").Str("call_id", session.CallID().String()).Logger(),
		state:        domain.PeerStateNew,
	}
}

// OnCandidate reacts to a remote candidate notification. Resolution runs in
// the background so the candidate feed is never held up.
func (n *LanguageNegotiator) OnCandidate(ctx context.Context) {
	go func() {
		if _, err := n.Resolve(ctx); err != nil {
			if ctx.Err() == nil {
				n.logger.Error().Err(err).Msg("Could not resolve peer language")
			}
			return
		}
		n.tryStart(ctx)
	}()
}

func (n *LanguageNegotiator) OnConnectionState(ctx context.Context, state domain.PeerConnectionState) {
	n.mu.Lock()
	n.state = state
	n.mu.Unlock()
	n.tryStart(ctx)
}

// Resolve returns the peer's language, polling the call record until the peer
// wrote it. Concurrent callers share one poll.
func (n *LanguageNegotiator) Resolve(ctx context.Context) (string, error) {
	if lang := n.session.PeerLanguage(); lang != "" {
		return lang, nil
	}
	v, err, _ := n.group.Do("peer-language", func() (any, error) {
		return n.poll(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (n *LanguageNegotiator) poll(ctx context.Context) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	id := n.session.CallID()
	role := n.session.Role()
	begin := time.Now()
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	for {
		rec, err := n.store.GetCall(waitCtx, id)
		switch {
		case errors.Is(err, domain.ErrCallNotFound):
			return "", err
		case err != nil:
			if waitCtx.Err() == nil {
				n.logger.Warn().Err(err).Msg("Failed to read call record")
			}
		default:
			if lang := role.PeerLanguage(rec); lang != "" {
				n.session.SetPeerLanguage(lang)
				n.telemetry.LanguageResolved(time.Since(begin))
				n.logger.Info().Str("peer_language", lang).Msg("Peer language resolved")
				return lang, nil
			}
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", domain.ErrLanguageTimeout
		case <-ticker.C:
		}
	}
}

func (n *LanguageNegotiator) tryStart(ctx context.Context) {
	n.mu.Lock()
	state := n.state
	n.mu.Unlock()

	lang := n.session.PeerLanguage()
	if lang == "" || state != domain.PeerStateConnected {
		return
	}
	if !n.session.TryStart() {
		return
	}
	n.logger.Info().Str("peer_language", lang).Msg("Starting translation session")
	go n.start(ctx, lang)
}
