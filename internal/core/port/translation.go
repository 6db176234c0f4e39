package port

import (
	"context"

	"github.com/Wyydra/parley/internal/core/domain"
)

// TranslationLink is one streaming session with the translation endpoint.
type TranslationLink interface {
	Send(ctx context.Context, msg domain.ClientMessage) error
	// Receive blocks for the next event. It returns io.EOF once the endpoint
	// closed the session.
	Receive(ctx context.Context) (domain.ServerEvent, error)
	Close() error
}

type TranslationDialer interface {
	Dial(ctx context.Context) (TranslationLink, error)
}
