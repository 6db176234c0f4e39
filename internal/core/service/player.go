package service

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/parley/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrOddPCMLength = errors.New("pcm16 payload has odd length")

// DecodePCM16 turns a base64 payload of little-endian 16-bit samples into samples.
func DecodePCM16(payload string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddPCMLength, len(raw))
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return samples, nil
}

// AudioPlayer feeds decoded translation audio into a playback sink.
type AudioPlayer struct {
	sink       port.PlaybackSink
	sampleRate int
	telemetry  port.Telemetry
	logger     zerolog.Logger

	mu     sync.Mutex
	loaded bool
}

func NewAudioPlayer(sink port.PlaybackSink, sampleRate int, telemetry port.Telemetry) *AudioPlayer {
	if telemetry == nil {
		telemetry = port.NopTelemetry{}
	}
	return &AudioPlayer{
		sink:       sink,
		sampleRate: sampleRate,
		telemetry:  telemetry,
		logger:     log.With().Str("component", "player").Logger(),
	}
}

// Init loads the sink. Calls after the first successful one do nothing.
func (p *AudioPlayer) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return nil
	}
	if err := p.sink.Load(ctx, p.sampleRate); err != nil {
		p.logger.Error().Err(err).Msg("Failed to load playback sink")
		return err
	}
	p.loaded = true
	p.logger.Debug().Int("sample_rate", p.sampleRate).Msg("Playback sink loaded")
	return nil
}

// Play queues samples for rendering. Before Init it drops them.
func (p *AudioPlayer) Play(samples []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		p.logger.Debug().Int("samples", len(samples)).Msg("Playback sink not loaded, dropping audio")
		return
	}
	// Post(nil) means clear.
	if len(samples) == 0 {
		return
	}
	if err := p.sink.Post(samples); err != nil {
		p.logger.Warn().Err(err).Msg("Playback sink rejected audio")
		return
	}
	p.telemetry.DownlinkSamples(len(samples))
}

// Clear discards everything queued in the sink.
func (p *AudioPlayer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return
	}
	if err := p.sink.Post(nil); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to clear playback sink")
	}
}

func (p *AudioPlayer) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

func (p *AudioPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return
	}
	if err := p.sink.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to close playback sink")
	}
	p.loaded = false
}
