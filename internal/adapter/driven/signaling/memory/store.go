package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
)

type call struct {
	record     domain.CallRecord
	version    uint64
	candidates map[domain.CandidateCollection][]domain.IceCandidate
	// closed and replaced on every change
	changed chan struct{}
}

// Store keeps call records in process memory. It is what the signaling
// server uses when no Redis is configured, and what tests run against.
type Store struct {
	mu    sync.Mutex
	calls map[domain.CallID]*call
}

var _ port.SignalingStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		calls: make(map[domain.CallID]*call),
	}
}

func (s *Store) CreateCall(ctx context.Context) (domain.CallID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := domain.NewCallID()
	s.calls[id] = &call{
		record:     domain.CallRecord{ID: id},
		candidates: make(map[domain.CandidateCollection][]domain.IceCandidate),
		changed:    make(chan struct{}),
	}
	return id, nil
}

func (s *Store) GetCall(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return domain.CallRecord{}, &domain.CallNotFoundError{ID: id}
	}
	return c.record, nil
}

func (s *Store) UpdateCall(ctx context.Context, id domain.CallID, update domain.CallUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return &domain.CallNotFoundError{ID: id}
	}
	c.record.Apply(update)
	c.version++
	c.notifyLocked()
	return nil
}

func (s *Store) AddCandidate(ctx context.Context, id domain.CallID, coll domain.CandidateCollection, cand domain.IceCandidate) error {
	if !coll.Valid() {
		return fmt.Errorf("unknown candidate collection %q", coll)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return &domain.CallNotFoundError{ID: id}
	}
	c.candidates[coll] = append(c.candidates[coll], cand)
	c.notifyLocked()
	return nil
}

// WatchCall sends the current record, then the record after every update.
// Intermediate versions may be skipped when the reader is slow.
func (s *Store) WatchCall(ctx context.Context, id domain.CallID) (<-chan domain.CallRecord, error) {
	if _, err := s.GetCall(ctx, id); err != nil {
		return nil, err
	}

	out := make(chan domain.CallRecord, port.WatchBuffer)
	go func() {
		defer close(out)
		var seen uint64
		first := true
		for {
			s.mu.Lock()
			c, ok := s.calls[id]
			if !ok {
				s.mu.Unlock()
				return
			}
			rec, version, wait := c.record, c.version, c.changed
			s.mu.Unlock()

			if first || version != seen {
				first = false
				seen = version
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WatchCandidates sends every candidate of coll, existing ones first, in
// insertion order.
func (s *Store) WatchCandidates(ctx context.Context, id domain.CallID, coll domain.CandidateCollection) (<-chan domain.IceCandidate, error) {
	if !coll.Valid() {
		return nil, fmt.Errorf("unknown candidate collection %q", coll)
	}
	if _, err := s.GetCall(ctx, id); err != nil {
		return nil, err
	}

	out := make(chan domain.IceCandidate, port.WatchBuffer)
	go func() {
		defer close(out)
		cursor := 0
		for {
			s.mu.Lock()
			c, ok := s.calls[id]
			if !ok {
				s.mu.Unlock()
				return
			}
			added := c.candidates[coll][cursor:]
			wait := c.changed
			s.mu.Unlock()

			for _, cand := range added {
				select {
				case out <- cand:
				case <-ctx.Done():
					return
				}
			}
			cursor += len(added)

			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Delete removes a call and ends its watches. The call core never deletes
// records; the server exposes it for cleanup.
func (s *Store) Delete(ctx context.Context, id domain.CallID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return &domain.CallNotFoundError{ID: id}
	}
	delete(s.calls, id)
	c.notifyLocked()
	return nil
}

func (c *call) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
