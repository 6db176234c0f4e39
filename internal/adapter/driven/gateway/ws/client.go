package ws

import "github.com/Wyydra/parley/internal/core/domain"

// Client is one open watch stream.
type Client interface {
	ID() string
	CallID() domain.CallID
	Send(v any) error
	Close() error
}
