package pcm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/rs/zerolog/log"
)

var ErrSinkClosed = errors.New("sink closed")

// StreamSink writes queued samples to w as PCM16 LE. Paced sinks release one
// FrameDuration of audio per tick, so a clear drops whatever has not been
// played yet. Unpaced sinks write as soon as samples arrive.
type StreamSink struct {
	w     io.Writer
	paced bool

	mu       sync.Mutex
	queue    []int16
	frameLen int
	loaded   bool
	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ port.PlaybackSink = (*StreamSink)(nil)

func NewStreamSink(w io.Writer, paced bool) *StreamSink {
	return &StreamSink{w: w, paced: paced}
}

func (s *StreamSink) Load(ctx context.Context, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.frameLen = FrameBytes(sampleRate) / bytesPerSample
	s.wake = make(chan struct{}, 1)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.loaded = true
	go s.run(ctx, s.done)
	return nil
}

// Post queues samples. A nil slice discards everything queued.
func (s *StreamSink) Post(samples []int16) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return domain.ErrSinkNotLoaded
	}
	if samples == nil {
		s.queue = s.queue[:0]
		s.mu.Unlock()
		return nil
	}
	s.queue = append(s.queue, samples...)
	wake := s.wake
	s.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
	return nil
}

// Queued reports how many samples are waiting to be written.
func (s *StreamSink) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *StreamSink) Close() error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.loaded = false
	s.queue = nil
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (s *StreamSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if s.paced {
		ticker := time.NewTicker(FrameDuration)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.mu.Lock()
	wake := s.wake
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-wake:
			if s.paced {
				continue
			}
		}

		chunk := s.take()
		if len(chunk) == 0 {
			continue
		}
		if err := s.write(chunk); err != nil {
			log.Warn().Err(err).Msg("Playback write failed")
			return
		}
	}
}

func (s *StreamSink) take() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queue)
	if s.paced && n > s.frameLen {
		n = s.frameLen
	}
	chunk := make([]int16, n)
	copy(chunk, s.queue[:n])
	s.queue = s.queue[:copy(s.queue, s.queue[n:])]
	return chunk
}

func (s *StreamSink) write(samples []int16) error {
	buf := make([]byte, len(samples)*bytesPerSample)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(buf[i*bytesPerSample:], uint16(v))
	}
	_, err := s.w.Write(buf)
	return err
}
