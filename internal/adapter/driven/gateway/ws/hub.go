package ws

import (
	"sync"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Hub tracks open watch streams so they can be closed when their call is
// deleted or the server stops.
type Hub struct {
	mu         sync.Mutex
	clients    map[Client]bool
	register   chan Client
	unregister chan Client
	closeCall  chan domain.CallID
	quit       chan struct{}
	stopOnce   sync.Once

	// OnChange is called with the number of open clients after each change.
	OnChange func(open int)
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		register:   make(chan Client),
		unregister: make(chan Client),
		closeCall:  make(chan domain.CallID),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.changed()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.changed()
			log.Debug().Str("client_id", client.ID()).Str("call_id", client.CallID().String()).Msg("Watcher registered")

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			delete(h.clients, client)
			h.mu.Unlock()
			if ok {
				client.Close()
				h.changed()
				log.Debug().Str("client_id", client.ID()).Msg("Watcher unregistered")
			}

		case id := <-h.closeCall:
			h.mu.Lock()
			for client := range h.clients {
				if client.CallID() == id {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
			h.changed()
		}
	}
}

// Register returns false once the hub is stopped; the caller then owns c.
func (h *Hub) Register(c Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// CloseCall closes every watcher of the call.
func (h *Hub) CloseCall(id domain.CallID) {
	select {
	case h.closeCall <- id:
	case <-h.quit:
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) changed() {
	if h.OnChange != nil {
		h.OnChange(h.Len())
	}
}
