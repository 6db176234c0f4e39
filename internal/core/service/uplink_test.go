package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestAccumulator_Chunkings(t *testing.T) {
	tests := []struct {
		name   string
		chunks []int
	}{
		{"three small frames", []int{2000, 2000, 2000}},
		{"exact block", []int{4800}},
		{"one large frame", []int{15000}},
		{"worklet frames", []int{256, 256, 256, 256, 256, 256, 256, 256, 256, 256, 256, 256, 256, 256, 256, 256, 256, 256, 256, 256}},
		{"uneven", []int{1, 4799, 4800, 3, 9597}},
		{"empty frames", []int{0, 0, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := 0
			for _, n := range tt.chunks {
				total += n
			}
			input := pattern(total)

			acc := NewAccumulator(UplinkBlockSize)
			var out []byte
			blocks := 0
			offset := 0
			for _, n := range tt.chunks {
				for _, block := range acc.Push(input[offset : offset+n]) {
					require.Len(t, block, UplinkBlockSize)
					out = append(out, block...)
					blocks++
				}
				offset += n
			}

			assert.Equal(t, total/UplinkBlockSize, blocks)
			assert.Equal(t, total%UplinkBlockSize, acc.Pending())
			assert.True(t, bytes.Equal(input[:len(out)], out), "blocks must preserve byte order")
		})
	}
}

func TestAccumulator_ThreeFramesOfTwoThousand(t *testing.T) {
	acc := NewAccumulator(UplinkBlockSize)

	assert.Empty(t, acc.Push(make([]byte, 2000)))
	assert.Empty(t, acc.Push(make([]byte, 2000)))
	blocks := acc.Push(make([]byte, 2000))

	assert.Len(t, blocks, 1)
	assert.Equal(t, 1200, acc.Pending())

	acc.Reset()
	assert.Zero(t, acc.Pending())
}

func TestAccumulator_BlocksDoNotAliasInput(t *testing.T) {
	acc := NewAccumulator(4)
	frame := []byte{1, 2, 3, 4, 5}
	blocks := acc.Push(frame)
	frame[0] = 9

	require.Len(t, blocks, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, blocks[0])
}

func runUplink(t *testing.T, session *CallSession, link *fakeLink, frames ...[]byte) *AudioUplink {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	up := NewAudioUplink(session, nil)
	done := make(chan error, 1)
	go func() { done <- up.Run(ctx, link) }()

	for _, f := range frames {
		up.Feed(ctx, f)
	}
	// Frames are drained in order; wait for the queue to empty.
	assert.Eventually(t, func() bool { return len(up.frames) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	return up
}

func TestAudioUplink_SendsBase64BlocksWhileRecording(t *testing.T) {
	session := NewCallSession("en", "")
	session.SetRecording(true)
	link := newFakeLink()
	input := pattern(2*UplinkBlockSize + 100)

	up := runUplink(t, session, link, input[:3000], input[3000:])

	msgs := link.messages()
	require.Len(t, msgs, 2)
	for i, msg := range msgs {
		appendMsg, ok := msg.(domain.InputAudioAppend)
		require.True(t, ok)
		raw, err := base64.StdEncoding.DecodeString(appendMsg.Audio)
		require.NoError(t, err)
		assert.Equal(t, input[i*UplinkBlockSize:(i+1)*UplinkBlockSize], raw)
	}
	assert.Equal(t, 100, up.Pending())
}

func TestAudioUplink_DiscardsBlocksWhenNotRecording(t *testing.T) {
	session := NewCallSession("en", "")
	link := newFakeLink()

	up := runUplink(t, session, link, make([]byte, UplinkBlockSize*3))

	assert.Empty(t, link.messages())
	assert.Zero(t, up.Pending())
}

func TestAudioUplink_SendErrorStopsRun(t *testing.T) {
	session := NewCallSession("en", "")
	session.SetRecording(true)
	link := newFakeLink()
	link.sendErr = errors.New("broken pipe")

	up := NewAudioUplink(session, nil)
	ctx := context.Background()
	up.Feed(ctx, make([]byte, UplinkBlockSize))

	err := up.Run(ctx, link)
	require.Error(t, err)
	assert.ErrorIs(t, err, link.sendErr)
}

func TestAudioUplink_FeedGivesUpOnCancel(t *testing.T) {
	up := NewAudioUplink(NewCallSession("en", ""), nil)
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < uplinkFrameBuffer; i++ {
		up.Feed(ctx, []byte{1})
	}
	cancel()

	done := make(chan struct{})
	go func() {
		up.Feed(ctx, []byte{1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Feed blocked after cancel")
	}
}
