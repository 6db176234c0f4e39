package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationLog_OpenBlockCursor(t *testing.T) {
	l := NewConversationLog()
	assert.Equal(t, -1, l.OpenIndex())

	l.Marker("<< Session Started >>")
	open := l.OpenBlock()
	assert.Equal(t, 1, open)
	assert.Equal(t, open, l.OpenIndex())

	assert.Equal(t, open, l.AppendToOpen("Bon"))
	assert.Equal(t, open, l.AppendToOpen("jour"))

	l.Separator()
	assert.Equal(t, -1, l.OpenIndex())

	// a delta after the turn ended opens a fresh block
	next := l.AppendToOpen("late")
	assert.Equal(t, 3, next)

	assert.Equal(t, "<< Session Started >>\nBonjour\n----\nlate\n", l.String())
}

func TestConversationLog_MarkerClosesOpenBlock(t *testing.T) {
	l := NewConversationLog()
	l.OpenBlock()
	l.Marker("m")
	assert.Equal(t, -1, l.OpenIndex())

	l.OpenBlock()
	l.ErrorBlock("boom")
	assert.Equal(t, -1, l.OpenIndex())
	assert.Equal(t, BlockError, l.Blocks()[3].Kind)
}

func TestConversationLog_AppendTo(t *testing.T) {
	l := NewConversationLog()
	idx := l.Marker("<< Speech Started >>")
	l.OpenBlock()

	require.NoError(t, l.AppendTo(idx, " User: hi"))
	assert.Equal(t, "<< Speech Started >> User: hi", l.Blocks()[idx].Text)
	assert.Error(t, l.AppendTo(5, "x"))
	assert.Error(t, l.AppendTo(-1, "x"))
}

func TestConversationLog_WatchersSeeEveryChange(t *testing.T) {
	l := NewConversationLog()
	type change struct {
		index int
		text  string
	}
	var seen []change
	l.Watch(func(index int, b TranscriptBlock) {
		seen = append(seen, change{index, b.String()})
	})

	l.Marker("m")
	l.AppendToOpen("a")
	l.AppendToOpen("b")
	require.NoError(t, l.AppendTo(0, "!"))

	assert.Equal(t, []change{{0, "m"}, {1, "a"}, {1, "ab"}, {0, "m!"}}, seen)
}

func TestConversationLog_BlocksIsACopy(t *testing.T) {
	l := NewConversationLog()
	l.Marker("m")
	blocks := l.Blocks()
	blocks[0].Text = "changed"
	assert.Equal(t, "m", l.Blocks()[0].Text)

	l.Reset()
	assert.Zero(t, l.Len())
	assert.Equal(t, -1, l.OpenIndex())
}
