package service

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
)

var errNoRemoteDescription = errors.New("remote description not set")

type fakePeer struct {
	name string

	mu           sync.Mutex
	local        *domain.SessionDescription
	remote       *domain.SessionDescription
	remoteSets   int
	added        []domain.IceCandidate
	earlyAdds    int
	mutations    int
	state        domain.PeerConnectionState
	closed       bool
	candidateFns []func(domain.IceCandidate)
	stateFns     []func(domain.PeerConnectionState)
}

var _ port.PeerConnection = (*fakePeer)(nil)

func newFakePeer(name string) *fakePeer {
	return &fakePeer{name: name, state: domain.PeerStateNew}
}

func (p *fakePeer) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutations++
	return domain.SessionDescription{Type: "offer", SDP: "sdp-" + p.name}, nil
}

func (p *fakePeer) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutations++
	if p.remote == nil {
		return domain.SessionDescription{}, errNoRemoteDescription
	}
	return domain.SessionDescription{Type: "answer", SDP: "sdp-" + p.name}, nil
}

func (p *fakePeer) SetLocalDescription(desc domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutations++
	p.local = &desc
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutations++
	p.remoteSets++
	p.remote = &desc
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote != nil
}

func (p *fakePeer) AddICECandidate(c domain.IceCandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutations++
	if p.remote == nil {
		p.earlyAdds++
		return errNoRemoteDescription
	}
	p.added = append(p.added, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(domain.IceCandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mutations++
	p.candidateFns = append(p.candidateFns, fn)
}

func (p *fakePeer) OnConnectionStateChange(fn func(domain.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateFns = append(p.stateFns, fn)
}

func (p *fakePeer) ConnectionState() domain.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.setState(domain.PeerStateClosed)
	return nil
}

// gather plays the role of ICE gathering producing a local candidate.
func (p *fakePeer) gather(c domain.IceCandidate) {
	p.mu.Lock()
	fns := append([]func(domain.IceCandidate){}, p.candidateFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (p *fakePeer) setState(s domain.PeerConnectionState) {
	p.mu.Lock()
	p.state = s
	fns := append([]func(domain.PeerConnectionState){}, p.stateFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (p *fakePeer) snapshot() (remote *domain.SessionDescription, remoteSets int, added []domain.IceCandidate, earlyAdds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote, p.remoteSets, append([]domain.IceCandidate(nil), p.added...), p.earlyAdds
}

func (p *fakePeer) mutationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mutations
}

type fakeLink struct {
	mu      sync.Mutex
	sent    []domain.ClientMessage
	sendErr error
	closed  bool

	events chan domain.ServerEvent
}

var _ port.TranslationLink = (*fakeLink)(nil)

func newFakeLink() *fakeLink {
	return &fakeLink{events: make(chan domain.ServerEvent, 64)}
}

func (l *fakeLink) Send(ctx context.Context, msg domain.ClientMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, msg)
	return nil
}

func (l *fakeLink) Receive(ctx context.Context) (domain.ServerEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-l.events:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	}
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) messages() []domain.ClientMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ClientMessage(nil), l.sent...)
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeDialer struct {
	link *fakeLink
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context) (port.TranslationLink, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.link, nil
}

type fakeSink struct {
	mu      sync.Mutex
	loads   int
	loadErr error
	posts   [][]int16
	closed  bool
}

var _ port.PlaybackSink = (*fakeSink)(nil)

func (s *fakeSink) Load(ctx context.Context, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return s.loadErr
	}
	s.loads++
	return nil
}

func (s *fakeSink) Post(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, samples)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) snapshot() (posts [][]int16, loads int, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]int16(nil), s.posts...), s.loads, s.closed
}

type fakeCapture struct {
	mu       sync.Mutex
	onFrame  func([]byte)
	startErr error
	stopped  bool
}

var _ port.AudioCapture = (*fakeCapture)(nil)

func (c *fakeCapture) Start(ctx context.Context, onFrame func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.onFrame = onFrame
	return nil
}

func (c *fakeCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

func (c *fakeCapture) started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onFrame != nil
}

func (c *fakeCapture) emit(frame []byte) {
	c.mu.Lock()
	fn := c.onFrame
	c.mu.Unlock()
	fn(frame)
}

func (c *fakeCapture) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

type startCall struct {
	role         domain.Role
	peerLanguage string
}

// recordingStarter stands in for the translator.
type recordingStarter struct {
	mu    sync.Mutex
	calls []startCall
}

func (r *recordingStarter) Start(ctx context.Context, session *CallSession, peerLanguage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, startCall{role: session.Role(), peerLanguage: peerLanguage})
	return nil
}

func (r *recordingStarter) starts() []startCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]startCall(nil), r.calls...)
}
