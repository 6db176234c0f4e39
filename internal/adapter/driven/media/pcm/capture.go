// Package pcm moves raw PCM16 LE audio between the call core and plain
// byte streams such as files, pipes and sound tool output.
package pcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Wyydra/parley/internal/core/port"
	"github.com/rs/zerolog/log"
)

const (
	// FrameDuration matches what an audio worklet delivers per callback.
	FrameDuration  = 20 * time.Millisecond
	bytesPerSample = 2
)

var ErrAlreadyStarted = errors.New("capture already started")

// FrameBytes is the size of one FrameDuration frame at sampleRate.
func FrameBytes(sampleRate int) int {
	return sampleRate * int(FrameDuration/time.Millisecond) / 1000 * bytesPerSample
}

// ReaderCapture turns an io.Reader of PCM16 mono audio into frames. When
// paced, frames are emitted at real-time speed.
//
// Reads happen on a goroutine of their own that lives as long as the input,
// so Stop never waits on a read blocked on an idle source. A frame read
// while stopped is delivered after the next Start.
type ReaderCapture struct {
	r          io.Reader
	frameBytes int
	paced      bool

	mu     sync.Mutex
	reads  chan readResult
	cancel context.CancelFunc
	done   chan struct{}
}

type readResult struct {
	frame []byte
	err   error
}

var _ port.AudioCapture = (*ReaderCapture)(nil)

func NewReaderCapture(r io.Reader, sampleRate int, paced bool) *ReaderCapture {
	return &ReaderCapture{r: r, frameBytes: FrameBytes(sampleRate), paced: paced}
}

func (c *ReaderCapture) Start(ctx context.Context, onFrame func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrAlreadyStarted
	}
	if c.reads == nil {
		c.reads = make(chan readResult)
		go c.read(c.reads)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, onFrame, c.reads, c.done)
	return nil
}

func (c *ReaderCapture) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (c *ReaderCapture) read(out chan<- readResult) {
	defer close(out)
	for {
		frame := make([]byte, c.frameBytes)
		n, err := io.ReadFull(c.r, frame)
		if n -= n % bytesPerSample; n > 0 {
			out <- readResult{frame: frame[:n]}
		}
		if err != nil {
			out <- readResult{err: err}
			return
		}
	}
}

func (c *ReaderCapture) run(ctx context.Context, onFrame func([]byte), reads <-chan readResult, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if c.paced {
		ticker := time.NewTicker(FrameDuration)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		}

		select {
		case <-ctx.Done():
			return
		case res, ok := <-reads:
			if !ok {
				return
			}
			if res.err == nil {
				onFrame(res.frame)
				continue
			}
			if !errors.Is(res.err, io.EOF) && !errors.Is(res.err, io.ErrUnexpectedEOF) {
				log.Warn().Err(fmt.Errorf("read capture: %w", res.err)).Msg("Audio capture stopped")
			} else {
				log.Debug().Msg("Audio capture reached end of input")
			}
			return
		}
	}
}
