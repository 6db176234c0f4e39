package pion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

const trackFrame = 20 * time.Millisecond

type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// TrackSink plays PCM16 audio into the outgoing audio track, so the remote
// peer hears it. Audio leaves in real time, one 20 ms packet per tick; a
// clear drops whatever has not been sent.
type TrackSink struct {
	track  sampleWriter
	logger zerolog.Logger

	mu       sync.Mutex
	queue    []int16
	factor   int
	frameLen int
	loaded   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ port.PlaybackSink = (*TrackSink)(nil)

func newTrackSink(track sampleWriter, logger zerolog.Logger) *TrackSink {
	return &TrackSink{track: track, logger: logger}
}

func (s *TrackSink) Load(ctx context.Context, sampleRate int) error {
	if sampleRate <= 0 || sampleRate%g711Rate != 0 {
		return fmt.Errorf("sample rate %d is not a multiple of %d", sampleRate, g711Rate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.factor = sampleRate / g711Rate
	s.frameLen = sampleRate * int(trackFrame/time.Millisecond) / 1000
	s.cancel = cancel
	s.done = make(chan struct{})
	s.loaded = true
	go s.run(ctx, s.done)
	return nil
}

// Post queues samples. A nil slice discards everything queued.
func (s *TrackSink) Post(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return domain.ErrSinkNotLoaded
	}
	if samples == nil {
		s.queue = s.queue[:0]
		return nil
	}
	s.queue = append(s.queue, samples...)
	return nil
}

func (s *TrackSink) Close() error {
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

func (s *TrackSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(trackFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		payload := s.take()
		if len(payload) == 0 {
			continue
		}
		err := s.track.WriteSample(media.Sample{
			Data:     payload,
			Duration: time.Duration(len(payload)) * time.Second / g711Rate,
		})
		// the connection is gone; Close follows
		if errors.Is(err, io.ErrClosedPipe) {
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to write translated audio to track")
		}
	}
}

func (s *TrackSink) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := min(len(s.queue), s.frameLen)
	n -= n % s.factor
	if n == 0 {
		return nil
	}
	payload := encodeULaw(s.queue[:n], s.factor)
	s.queue = s.queue[:copy(s.queue, s.queue[n:])]
	return payload
}
