package pion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTrack struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (r *recordingTrack) WriteSample(s media.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	return nil
}

func (r *recordingTrack) written() []media.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.Sample(nil), r.samples...)
}

func TestTrackSink_PostBeforeLoad(t *testing.T) {
	sink := newTrackSink(&recordingTrack{}, zerolog.Nop())
	assert.ErrorIs(t, sink.Post([]int16{1}), domain.ErrSinkNotLoaded)
	assert.NoError(t, sink.Close())
}

func TestTrackSink_RejectsOddRate(t *testing.T) {
	sink := newTrackSink(&recordingTrack{}, zerolog.Nop())
	assert.Error(t, sink.Load(context.Background(), 22050))
}

func TestTrackSink_WritesFramedMuLaw(t *testing.T) {
	track := &recordingTrack{}
	sink := newTrackSink(track, zerolog.Nop())
	require.NoError(t, sink.Load(context.Background(), domain.RealtimeSampleRate))
	defer sink.Close()

	// 30 ms at 24 kHz: one full 20 ms packet then a 10 ms one.
	require.NoError(t, sink.Post(make([]int16, 720)))
	require.Eventually(t, func() bool { return len(track.written()) == 2 }, time.Second, 5*time.Millisecond)

	got := track.written()
	assert.Len(t, got[0].Data, 160)
	assert.Equal(t, 20*time.Millisecond, got[0].Duration)
	assert.Len(t, got[1].Data, 80)
	assert.Equal(t, 10*time.Millisecond, got[1].Duration)
	assert.Equal(t, byte(0xff), got[0].Data[0])
}

func TestTrackSink_ClearDropsQueued(t *testing.T) {
	track := &recordingTrack{}
	sink := newTrackSink(track, zerolog.Nop())
	require.NoError(t, sink.Load(context.Background(), domain.RealtimeSampleRate))

	require.NoError(t, sink.Post(make([]int16, 240000)))
	require.NoError(t, sink.Post(nil))
	time.Sleep(3 * trackFrame)
	require.NoError(t, sink.Close())

	assert.LessOrEqual(t, len(track.written()), 2)
}
