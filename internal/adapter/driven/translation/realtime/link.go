package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const inboundBuffer = 64

var errLinkClosed = errors.New("realtime link closed")

// Link is one realtime websocket session. A single reader goroutine decodes
// frames; malformed frames are logged and dropped.
type Link struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	events  chan domain.ServerEvent
	readErr error // set before events is closed

	closeOnce sync.Once
	done      chan struct{}
}

var _ port.TranslationLink = (*Link)(nil)

func newLink(conn *websocket.Conn) *Link {
	conn.SetReadLimit(maxMessageSize)
	l := &Link{
		conn:   conn,
		logger: log.With().Str("component", "realtime_link").Logger(),
		events: make(chan domain.ServerEvent, inboundBuffer),
		done:   make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *Link) Send(ctx context.Context, msg domain.ClientMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeClientMessage(msg)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	select {
	case <-l.done:
		return errLinkClosed
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Kind(), err)
	}
	return nil
}

func (l *Link) Receive(ctx context.Context) (domain.ServerEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-l.events:
		if !ok {
			return nil, l.readErr
		}
		return ev, nil
	}
}

func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)

		l.writeMu.Lock()
		_ = l.conn.SetWriteDeadline(time.Now().Add(closeGracePeriod))
		_ = l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.writeMu.Unlock()

		err = l.conn.Close()
	})
	return err
}

func (l *Link) readLoop() {
	defer close(l.events)

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.readErr = l.classify(err)
			return
		}

		ev, err := DecodeServerEvent(data)
		if err != nil {
			l.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping malformed realtime frame")
			continue
		}

		select {
		case l.events <- ev:
		case <-l.done:
			l.readErr = io.EOF
			return
		}
	}
}

// classify maps a read error to io.EOF when the session ended normally.
func (l *Link) classify(err error) error {
	select {
	case <-l.done:
		return io.EOF
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	l.logger.Warn().Err(err).Msg("Realtime read failed")
	return fmt.Errorf("realtime read: %w", err)
}
