package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// UplinkBlockSize is the exact size of every audio block sent upstream
	// (100 ms of 24 kHz mono PCM16).
	UplinkBlockSize = 4800

	uplinkFrameBuffer = 64
)

// Accumulator slices a byte stream into fixed-size blocks, keeping the
// remainder for the next push. It is not safe for concurrent use.
type Accumulator struct {
	size int
	buf  []byte
}

func NewAccumulator(size int) *Accumulator {
	return &Accumulator{size: size}
}

// Push appends frame and returns every complete block, oldest first.
func (a *Accumulator) Push(frame []byte) [][]byte {
	a.buf = append(a.buf, frame...)

	var blocks [][]byte
	for len(a.buf) >= a.size {
		block := make([]byte, a.size)
		copy(block, a.buf[:a.size])
		a.buf = a.buf[a.size:]
		blocks = append(blocks, block)
	}
	if len(blocks) > 0 {
		rest := make([]byte, len(a.buf))
		copy(rest, a.buf)
		a.buf = rest
	}
	return blocks
}

func (a *Accumulator) Pending() int {
	return len(a.buf)
}

func (a *Accumulator) Reset() {
	a.buf = nil
}

// AudioUplink forwards captured audio to the translation link in
// UplinkBlockSize blocks.
type AudioUplink struct {
	session   *CallSession
	telemetry port.Telemetry
	logger    zerolog.Logger
	frames    chan []byte

	mu  sync.Mutex
	acc *Accumulator
}

func NewAudioUplink(session *CallSession, telemetry port.Telemetry) *AudioUplink {
	if telemetry == nil {
		telemetry = port.NopTelemetry{}
	}
	return &AudioUplink{
		session:   session,
		telemetry: telemetry,
		logger:    log.With().Str("component", "uplink").Str("call_id", session.CallID().String()).Logger(),
		frames:    make(chan []byte, uplinkFrameBuffer),
		acc:       NewAccumulator(UplinkBlockSize),
	}
}

// Feed queues one capture frame. It blocks while the queue is full and gives
// up once ctx is done.
func (u *AudioUplink) Feed(ctx context.Context, frame []byte) {
	if len(frame) == 0 {
		return
	}
	f := make([]byte, len(frame))
	copy(f, frame)

	select {
	case u.frames <- f:
	case <-ctx.Done():
	}
}

// Run drains queued frames until ctx is done or the link refuses a block.
// Bytes short of a full block are dropped when Run returns.
func (u *AudioUplink) Run(ctx context.Context, link port.TranslationLink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-u.frames:
			if err := u.push(ctx, link, frame); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (u *AudioUplink) push(ctx context.Context, link port.TranslationLink, frame []byte) error {
	u.mu.Lock()
	blocks := u.acc.Push(frame)
	u.mu.Unlock()

	for _, block := range blocks {
		if !u.session.Recording() {
			u.telemetry.UplinkBlock(false)
			continue
		}
		msg := domain.InputAudioAppend{Audio: base64.StdEncoding.EncodeToString(block)}
		if err := link.Send(ctx, msg); err != nil {
			u.logger.Error().Err(err).Msg("Failed to send audio block")
			return fmt.Errorf("uplink send: %w", err)
		}
		u.telemetry.UplinkBlock(true)
	}
	return nil
}

// Pending returns how many bytes are waiting for a full block.
func (u *AudioUplink) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.acc.Pending()
}
