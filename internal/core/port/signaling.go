package port

import (
	"context"

	"github.com/Wyydra/parley/internal/core/domain"
)

// WatchBuffer is the capacity of the channels returned by SignalingStore watches.
const WatchBuffer = 64

// SignalingStore is the document store both peers use to exchange call state.
//
// Watches first deliver the state that already exists, then every later
// change, in order. The returned channels are closed when ctx is done or the
// store gives up on the subscription.
type SignalingStore interface {
	CreateCall(ctx context.Context) (domain.CallID, error)
	GetCall(ctx context.Context, id domain.CallID) (domain.CallRecord, error)
	UpdateCall(ctx context.Context, id domain.CallID, update domain.CallUpdate) error
	WatchCall(ctx context.Context, id domain.CallID) (<-chan domain.CallRecord, error)

	AddCandidate(ctx context.Context, id domain.CallID, coll domain.CandidateCollection, c domain.IceCandidate) error
	WatchCandidates(ctx context.Context, id domain.CallID, coll domain.CandidateCollection) (<-chan domain.IceCandidate, error)
}
