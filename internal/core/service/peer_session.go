package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrCallInProgress = errors.New("peer session already has a call")

// SessionStarter runs the translation relay for a connected call.
type SessionStarter interface {
	Start(ctx context.Context, session *CallSession, peerLanguage string) error
}

type PeerSessionOption func(*PeerSession)

func WithTelemetry(t port.Telemetry) PeerSessionOption {
	return func(s *PeerSession) {
		if t != nil {
			s.telemetry = t
		}
	}
}

// WithLanguageWait sets how often and how long the peer language is polled for.
func WithLanguageWait(pollInterval, timeout time.Duration) PeerSessionOption {
	return func(s *PeerSession) {
		s.pollInterval = pollInterval
		s.languageTimeout = timeout
	}
}

// PeerSession drives the offer/answer/ICE exchange of one call through the
// signaling store and owns the call's CallSession.
type PeerSession struct {
	store      port.SignalingStore
	peer       port.PeerConnection
	translator SessionStarter
	session    *CallSession
	telemetry  port.Telemetry

	pollInterval    time.Duration
	languageTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu         sync.Mutex // serializes remote description and candidate application
	pending    []domain.IceCandidate
	negotiator *LanguageNegotiator
	endCall    func()
}

func NewPeerSession(store port.SignalingStore, peer port.PeerConnection, translator SessionStarter, session *CallSession, opts ...PeerSessionOption) *PeerSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &PeerSession{
		store:      store,
		peer:       peer,
		translator: translator,
		session:    session,
		telemetry:  port.NopTelemetry{},
		ctx:        ctx,
		cancel:     cancel,
		logger:     log.With().Str("component", "peer_session").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	peer.OnConnectionStateChange(s.onConnectionState)
	return s
}

func (s *PeerSession) Session() *CallSession {
	return s.session
}

// Done is closed once the call is over.
func (s *PeerSession) Done() <-chan struct{} {
	return s.ctx.Done()
}

// CreateCall creates a call record, publishes the offer and the caller's
// language, and starts listening for the answer. ctx bounds the whole call.
// On failure the session is left unbound and may try again.
func (s *PeerSession) CreateCall(ctx context.Context) (domain.CallID, error) {
	if s.session.CallID() != "" {
		return "", ErrCallInProgress
	}

	id, err := s.store.CreateCall(ctx)
	if err != nil {
		return "", fmt.Errorf("create call record: %w", err)
	}
	callCtx := s.begin(ctx, domain.RoleHost, id)
	if err := s.offer(ctx, callCtx, id); err != nil {
		s.abandon()
		return "", err
	}

	s.telemetry.CallCreated()
	s.logger.Info().Str("language", s.session.MyLanguage).Msg("Call created")
	return id, nil
}

func (s *PeerSession) offer(ctx, callCtx context.Context, id domain.CallID) error {
	// Candidates are published as they are gathered, so the handler must be
	// in place before the local description triggers gathering.
	s.publishCandidates(callCtx, id, domain.RoleHost.LocalCandidates())

	offer, err := s.peer.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.peer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	update := domain.RoleHost.LanguageUpdate(s.session.MyLanguage)
	update.Offer = &offer
	if err := s.store.UpdateCall(ctx, id, update); err != nil {
		return fmt.Errorf("publish offer: %w", err)
	}

	records, err := s.store.WatchCall(callCtx, id)
	if err != nil {
		return fmt.Errorf("watch call: %w", err)
	}
	go s.consumeAnswers(records)

	return s.watchRemoteCandidates(callCtx, id, domain.RoleHost.RemoteCandidates())
}

// JoinCall answers the call with the given id. A missing record is reported
// as *domain.CallNotFoundError before the peer connection is touched. On
// failure the session is left unbound and may try again.
func (s *PeerSession) JoinCall(ctx context.Context, id domain.CallID) error {
	if s.session.CallID() != "" {
		return ErrCallInProgress
	}

	rec, err := s.store.GetCall(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrCallNotFound) {
			return err
		}
		return fmt.Errorf("load call: %w", err)
	}
	if rec.Offer == nil {
		return fmt.Errorf("%w: %s", domain.ErrNoOffer, id)
	}
	callCtx := s.begin(ctx, domain.RoleGuest, id)
	if err := s.answer(ctx, callCtx, id, *rec.Offer); err != nil {
		s.abandon()
		return err
	}

	s.telemetry.CallJoined()
	s.logger.Info().Str("language", s.session.MyLanguage).Msg("Call joined")
	return nil
}

func (s *PeerSession) answer(ctx, callCtx context.Context, id domain.CallID, offer domain.SessionDescription) error {
	s.publishCandidates(callCtx, id, domain.RoleGuest.LocalCandidates())

	if _, err := s.applyRemoteDescription(offer); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}

	answer, err := s.peer.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.peer.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	update := domain.RoleGuest.LanguageUpdate(s.session.MyLanguage)
	update.Answer = &answer
	if err := s.store.UpdateCall(ctx, id, update); err != nil {
		return fmt.Errorf("publish answer: %w", err)
	}

	return s.watchRemoteCandidates(callCtx, id, domain.RoleGuest.RemoteCandidates())
}

// HangUp closes the peer connection and resets all call state. In-flight
// audio is abandoned.
func (s *PeerSession) HangUp() error {
	s.logger.Info().Msg("Hanging up")
	err := s.peer.Close()
	s.cancel()

	s.mu.Lock()
	s.pending = nil
	s.endCall = nil
	s.mu.Unlock()
	s.session.Reset()
	return err
}

// begin binds the session to a call and returns the context its watches and
// candidate publishing run under.
func (s *PeerSession) begin(ctx context.Context, role domain.Role, id domain.CallID) context.Context {
	s.session.bind(role, id)
	callCtx, cancelCall := context.WithCancel(s.ctx)
	stopBound := context.AfterFunc(ctx, s.cancel)

	s.logger = log.With().
		Str("component", "peer_session").
		Str("call_id", id.String()).
		Str("role", string(role)).
		Logger()

	negotiator := NewLanguageNegotiator(s.store, s.session, s.startTranslation, s.pollInterval, s.languageTimeout, s.telemetry)
	s.mu.Lock()
	s.negotiator = negotiator
	s.endCall = func() {
		stopBound()
		cancelCall()
	}
	s.mu.Unlock()
	return callCtx
}

// abandon undoes begin after a failed create or join.
func (s *PeerSession) abandon() {
	s.mu.Lock()
	end := s.endCall
	s.endCall = nil
	s.negotiator = nil
	s.pending = nil
	s.mu.Unlock()

	if end != nil {
		end()
	}
	s.session.Reset()
}

// publishCandidates registers a handler that stops publishing once callCtx
// ends, so handlers left by an abandoned attempt stay silent.
func (s *PeerSession) publishCandidates(callCtx context.Context, id domain.CallID, coll domain.CandidateCollection) {
	s.peer.OnICECandidate(func(c domain.IceCandidate) {
		if callCtx.Err() != nil {
			return
		}
		if err := s.store.AddCandidate(callCtx, id, coll, c); err != nil {
			if callCtx.Err() == nil {
				s.logger.Error().Err(err).Str("collection", coll.String()).Msg("Failed to publish ICE candidate")
			}
			return
		}
		s.telemetry.CandidateSent(coll)
		s.logger.Debug().Str("collection", coll.String()).Msg("ICE candidate published")
	})
}

func (s *PeerSession) watchRemoteCandidates(callCtx context.Context, id domain.CallID, coll domain.CandidateCollection) error {
	candidates, err := s.store.WatchCandidates(callCtx, id, coll)
	if err != nil {
		return fmt.Errorf("watch %s: %w", coll, err)
	}
	go s.consumeCandidates(callCtx, coll, candidates)
	return nil
}

func (s *PeerSession) consumeAnswers(records <-chan domain.CallRecord) {
	for rec := range records {
		if rec.Answer == nil {
			continue
		}
		applied, err := s.applyRemoteDescription(*rec.Answer)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to apply answer")
			continue
		}
		if applied {
			s.logger.Info().Msg("Answer applied")
		}
	}
}

func (s *PeerSession) consumeCandidates(callCtx context.Context, coll domain.CandidateCollection, candidates <-chan domain.IceCandidate) {
	for c := range candidates {
		s.addRemoteCandidate(coll, c)

		s.mu.Lock()
		negotiator := s.negotiator
		s.mu.Unlock()
		if negotiator != nil {
			negotiator.OnCandidate(callCtx)
		}
	}
}

// applyRemoteDescription sets desc unless a remote description is already
// set, then applies candidates that arrived too early. It reports whether
// desc was applied.
func (s *PeerSession) applyRemoteDescription(desc domain.SessionDescription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peer.HasRemoteDescription() {
		return false, nil
	}
	if err := s.peer.SetRemoteDescription(desc); err != nil {
		return false, err
	}

	pending := s.pending
	s.pending = nil
	coll := s.session.Role().RemoteCandidates()
	for _, c := range pending {
		s.applyCandidateLocked(coll, c)
	}
	return true, nil
}

func (s *PeerSession) addRemoteCandidate(coll domain.CandidateCollection, c domain.IceCandidate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.peer.HasRemoteDescription() {
		s.pending = append(s.pending, c)
		return
	}
	s.applyCandidateLocked(coll, c)
}

func (s *PeerSession) applyCandidateLocked(coll domain.CandidateCollection, c domain.IceCandidate) {
	err := s.peer.AddICECandidate(c)
	s.telemetry.CandidateApplied(coll, err)
	if err != nil {
		s.logger.Warn().Err(err).Str("collection", coll.String()).Msg("Skipping ICE candidate")
	}
}

func (s *PeerSession) onConnectionState(state domain.PeerConnectionState) {
	s.logger.Info().Str("state", state.String()).Msg("Peer connection state changed")
	s.telemetry.PeerState(state)

	s.mu.Lock()
	negotiator := s.negotiator
	s.mu.Unlock()
	if negotiator != nil {
		negotiator.OnConnectionState(s.ctx, state)
	}

	if state.Terminal() {
		s.cancel()
	}
}

func (s *PeerSession) startTranslation(ctx context.Context, peerLanguage string) {
	if err := s.translator.Start(ctx, s.session, peerLanguage); err != nil {
		s.logger.Error().Err(err).Msg("Translation session ended with error")
	}
}
