package domain

import (
	"fmt"
	"strings"
	"sync"
)

type BlockKind string

const (
	BlockMarker     BlockKind = "marker"
	BlockTranscript BlockKind = "transcript"
	BlockSeparator  BlockKind = "separator"
	BlockError      BlockKind = "error"
)

// TranscriptBlock is one rendered unit of the conversation.
type TranscriptBlock struct {
	Kind BlockKind
	Text string
}

func (b TranscriptBlock) String() string {
	if b.Kind == BlockSeparator {
		return "----"
	}
	return b.Text
}

// ConversationLog is the ordered list of blocks shown to the user, with a
// cursor on the block currently receiving transcript deltas.
type ConversationLog struct {
	mu       sync.Mutex
	blocks   []TranscriptBlock
	open     int
	watchers []func(index int, block TranscriptBlock)
}

func NewConversationLog() *ConversationLog {
	return &ConversationLog{open: -1}
}

// Watch registers fn to be called after every block change.
func (l *ConversationLog) Watch(fn func(index int, block TranscriptBlock)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
}

// Marker appends a marker block and closes the open transcript block.
func (l *ConversationLog) Marker(text string) int {
	return l.push(TranscriptBlock{Kind: BlockMarker, Text: text}, false)
}

// OpenBlock appends an empty transcript block and makes it the open one.
func (l *ConversationLog) OpenBlock() int {
	return l.push(TranscriptBlock{Kind: BlockTranscript}, true)
}

// Separator ends the current turn.
func (l *ConversationLog) Separator() int {
	return l.push(TranscriptBlock{Kind: BlockSeparator}, false)
}

func (l *ConversationLog) ErrorBlock(text string) int {
	return l.push(TranscriptBlock{Kind: BlockError, Text: text}, false)
}

// AppendToOpen appends text to the open block, opening one if needed.
func (l *ConversationLog) AppendToOpen(text string) int {
	l.mu.Lock()
	if l.open < 0 {
		l.blocks = append(l.blocks, TranscriptBlock{Kind: BlockTranscript})
		l.open = len(l.blocks) - 1
	}
	idx := l.open
	l.blocks[idx].Text += text
	block := l.blocks[idx]
	watchers := l.watchers
	l.mu.Unlock()

	notify(watchers, idx, block)
	return idx
}

// AppendTo appends text to the block at index.
func (l *ConversationLog) AppendTo(index int, text string) error {
	l.mu.Lock()
	if index < 0 || index >= len(l.blocks) {
		l.mu.Unlock()
		return fmt.Errorf("block %d out of range [0,%d)", index, len(l.blocks))
	}
	l.blocks[index].Text += text
	block := l.blocks[index]
	watchers := l.watchers
	l.mu.Unlock()

	notify(watchers, index, block)
	return nil
}

// OpenIndex returns the index of the open block, or -1.
func (l *ConversationLog) OpenIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *ConversationLog) Blocks() []TranscriptBlock {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TranscriptBlock, len(l.blocks))
	copy(out, l.blocks)
	return out
}

func (l *ConversationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

func (l *ConversationLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks = nil
	l.open = -1
}

func (l *ConversationLog) String() string {
	var sb strings.Builder
	for _, b := range l.Blocks() {
		sb.WriteString(b.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// push appends b and either makes it the open block or closes the open one.
func (l *ConversationLog) push(b TranscriptBlock, open bool) int {
	l.mu.Lock()
	l.blocks = append(l.blocks, b)
	idx := len(l.blocks) - 1
	l.open = -1
	if open {
		l.open = idx
	}
	watchers := l.watchers
	l.mu.Unlock()

	notify(watchers, idx, b)
	return idx
}

func notify(watchers []func(int, TranscriptBlock), idx int, b TranscriptBlock) {
	for _, fn := range watchers {
		fn(idx, b)
	}
}
