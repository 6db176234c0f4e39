package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const watchWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Agents are not browsers; origin checks do not apply.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient is one watch stream. Writes are serialized because the forward
// loop and Close can race.
type WSClient struct {
	id     string
	callID domain.CallID
	conn   *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *WSClient) ID() string {
	return c.id
}

func (c *WSClient) CallID() domain.CallID {
	return c.callID
}

func (c *WSClient) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
	return c.conn.WriteJSON(v)
}

// Close sends a normal closure and drops the connection.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// WatchCall streams record snapshots of the call.
func (h *Handler) WatchCall(w http.ResponseWriter, r *http.Request) {
	id, ok := callID(w, r)
	if !ok {
		return
	}
	// Resolve before upgrading so unknown calls get a plain 404.
	if _, err := h.Store.GetCall(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	serveWatch(h, w, r, id, func(ctx context.Context) (<-chan domain.CallRecord, error) {
		return h.Store.WatchCall(ctx, id)
	}, func(rec domain.CallRecord) any {
		return rec
	})
}

// WatchCandidates streams one candidate collection, existing entries first.
func (h *Handler) WatchCandidates(w http.ResponseWriter, r *http.Request) {
	id, ok := callID(w, r)
	if !ok {
		return
	}
	coll, ok := collection(w, r)
	if !ok {
		return
	}
	if _, err := h.Store.GetCall(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	serveWatch(h, w, r, id, func(ctx context.Context) (<-chan domain.IceCandidate, error) {
		return h.Store.WatchCandidates(ctx, id, coll)
	}, func(c domain.IceCandidate) any {
		return candidateDTO{Candidate: string(c)}
	})
}

func serveWatch[T any](h *Handler, w http.ResponseWriter, r *http.Request, id domain.CallID, open func(context.Context) (<-chan T, error), encode func(T) any) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:     uuid.NewString(),
		callID: id,
		conn:   conn,
	}
	l := log.With().Str("client_id", client.id).Str("call_id", id.String()).Str("path", r.URL.Path).Logger()

	// The request context is not tied to the hijacked connection.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if h.Hub != nil {
		if !h.Hub.Register(client) {
			client.Close()
			return
		}
		defer h.Hub.Unregister(client)
	} else {
		defer client.Close()
	}
	l.Info().Msg("Watcher connected")

	// Drain the read side so peer close frames and dead connections end
	// the watch.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					l.Warn().Err(err).Msg("Unexpected close error")
				}
				return
			}
		}
	}()

	items, err := open(ctx)
	if err != nil {
		l.Error().Err(err).Msg("Failed to open watch")
		return
	}

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("Watcher disconnected")
			return
		case item, ok := <-items:
			if !ok {
				l.Info().Msg("Watch ended")
				return
			}
			if err := client.Send(encode(item)); err != nil {
				l.Warn().Err(err).Msg("Failed to forward watch update")
				return
			}
		}
	}
}
