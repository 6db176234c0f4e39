package pion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultCandidatePoolSize = 10
	pliInterval              = 3 * time.Second

	// RemoteAudioRate is the rate of samples handed to OnRemoteAudio.
	RemoteAudioRate = domain.RealtimeSampleRate
)

var DefaultSTUNServers = []string{
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

type Config struct {
	STUNServers       []string
	CandidatePoolSize uint8
}

// Peer wraps a pion PeerConnection carrying one audio and one video
// transceiver. It implements port.PeerConnection. The outgoing audio track
// is fed through AudioSink and incoming mu-law audio is decoded for
// OnRemoteAudio.
type Peer struct {
	pc     *webrtc.PeerConnection
	sink   *TrackSink
	logger zerolog.Logger

	mu           sync.Mutex
	candidateFns []func(domain.IceCandidate)
	stateFns     []func(domain.PeerConnectionState)
	audioFns     []func([]int16)

	closeOnce sync.Once
	done      chan struct{}
}

var _ port.PeerConnection = (*Peer)(nil)

func NewPeer(cfg Config) (*Peer, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	servers := cfg.STUNServers
	if servers == nil {
		servers = DefaultSTUNServers
	}
	pool := cfg.CandidatePoolSize
	if pool == 0 {
		pool = defaultCandidatePoolSize
	}

	rtcCfg := webrtc.Configuration{ICECandidatePoolSize: pool}
	if len(servers) > 0 {
		rtcCfg.ICEServers = []webrtc.ICEServer{{URLs: servers}}
	}

	pc, err := api.NewPeerConnection(rtcCfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &Peer{
		pc:     pc,
		logger: log.With().Str("component", "pion_peer").Logger(),
		done:   make(chan struct{}),
	}

	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypePCMU,
		ClockRate: g711Rate,
		Channels:  1,
	}, "audio", "parley")
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("new audio track: %w", err)
	}
	tr, err := pc.AddTransceiverFromTrack(audio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}
	go drainRTCP(tr.Sender())
	p.sink = newTrackSink(audio, p.logger)

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add video transceiver: %w", err)
	}

	pc.OnICECandidate(p.handleCandidate)
	pc.OnConnectionStateChange(p.handleState)
	pc.OnTrack(p.handleTrack)
	return p, nil
}

func (p *Peer) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return toDomain(offer), nil
}

func (p *Peer) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return toDomain(answer), nil
}

func (p *Peer) SetLocalDescription(desc domain.SessionDescription) error {
	return p.pc.SetLocalDescription(fromDomain(desc))
}

func (p *Peer) SetRemoteDescription(desc domain.SessionDescription) error {
	return p.pc.SetRemoteDescription(fromDomain(desc))
}

func (p *Peer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *Peer) AddICECandidate(c domain.IceCandidate) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(c), &candidate); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return p.pc.AddICECandidate(candidate)
}

func (p *Peer) OnICECandidate(fn func(domain.IceCandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidateFns = append(p.candidateFns, fn)
}

func (p *Peer) OnConnectionStateChange(fn func(domain.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateFns = append(p.stateFns, fn)
}

// AudioSink plays audio to the remote peer over the outgoing audio track.
func (p *Peer) AudioSink() *TrackSink {
	return p.sink
}

// OnRemoteAudio registers fn for decoded audio of the remote audio track,
// RemoteAudioRate mono PCM16. fn runs on the track reader goroutine.
func (p *Peer) OnRemoteAudio(fn func(samples []int16)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audioFns = append(p.audioFns, fn)
}

func (p *Peer) ConnectionState() domain.PeerConnectionState {
	return domain.PeerConnectionState(p.pc.ConnectionState().String())
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.sink.Close()
		err = p.pc.Close()
	})
	return err
}

func (p *Peer) handleCandidate(c *webrtc.ICECandidate) {
	// nil marks the end of gathering.
	if c == nil {
		return
	}
	data, err := json.Marshal(c.ToJSON())
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to marshal candidate")
		return
	}

	p.mu.Lock()
	fns := append([]func(domain.IceCandidate){}, p.candidateFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(domain.IceCandidate(data))
	}
}

func (p *Peer) handleState(s webrtc.PeerConnectionState) {
	state := domain.PeerConnectionState(s.String())

	p.mu.Lock()
	fns := append([]func(domain.PeerConnectionState){}, p.stateFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}

// handleTrack reads the remote track. Mu-law audio is decoded and handed to
// OnRemoteAudio; other media is drained to keep the interceptors fed, and
// video gets periodic keyframe requests.
func (p *Peer) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	l := p.logger.With().
		Str("kind", track.Kind().String()).
		Str("track_id", track.ID()).
		Str("codec", track.Codec().MimeType).
		Logger()
	l.Debug().Msg("Received remote track")

	if track.Kind() == webrtc.RTPCodecTypeAudio {
		go p.readAudio(track, l)
		return
	}

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()

	if track.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	go func() {
		sendPLI := func() error {
			return p.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
		}
		if err := sendPLI(); err != nil {
			l.Debug().Err(err).Msg("PLI failed")
		}

		ticker := time.NewTicker(pliInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				if err := sendPLI(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
					l.Debug().Err(err).Msg("PLI failed")
				}
			}
		}
	}()
}

func (p *Peer) readAudio(track *webrtc.TrackRemote, l zerolog.Logger) {
	decode := strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypePCMU)
	if !decode {
		l.Warn().Msg("Remote audio codec not supported, audio will not be rendered")
	}
	factor := RemoteAudioRate / g711Rate

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.Debug().Err(err).Msg("Remote audio ended")
			}
			return
		}
		if !decode || len(pkt.Payload) == 0 {
			continue
		}
		samples := decodeULaw(pkt.Payload, factor)

		p.mu.Lock()
		fns := append([]func([]int16){}, p.audioFns...)
		p.mu.Unlock()
		for _, fn := range fns {
			fn(samples)
		}
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func toDomain(d webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func fromDomain(d domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}
