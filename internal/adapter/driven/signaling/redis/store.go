package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultTTL    = 24 * time.Hour
	defaultPrefix = "parley"

	eventRecord  = "record"
	eventDeleted = "deleted"

	fieldID            = "id"
	fieldOffer         = "offer"
	fieldAnswer        = "answer"
	fieldHostLanguage  = "hostLanguage"
	fieldGuestLanguage = "guestLanguage"
)

// Store keeps call records in Redis so peers on different hosts share them.
// A record is a hash, each candidate collection a list, and every change is
// announced on a per-call pub/sub channel.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ port.SignalingStore = (*Store)(nil)

type Option func(*Store)

// WithTTL sets how long call keys live. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func NewStore(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStoreFromURL connects to a redis:// URL.
func NewStoreFromURL(url string, opts ...Option) (*Store, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewStore(redis.NewClient(o), opts...), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) CreateCall(ctx context.Context) (domain.CallID, error) {
	id := domain.NewCallID()
	key := s.callKey(id)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fieldID, id.String())
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis create call: %w", err)
	}
	return id, nil
}

func (s *Store) GetCall(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.callKey(id)).Result()
	if err != nil {
		return domain.CallRecord{}, fmt.Errorf("redis get call: %w", err)
	}
	if len(fields) == 0 {
		return domain.CallRecord{}, &domain.CallNotFoundError{ID: id}
	}

	rec := domain.CallRecord{
		ID:            id,
		HostLanguage:  fields[fieldHostLanguage],
		GuestLanguage: fields[fieldGuestLanguage],
	}
	if rec.Offer, err = decodeDescription(fields[fieldOffer]); err != nil {
		return domain.CallRecord{}, fmt.Errorf("decode offer: %w", err)
	}
	if rec.Answer, err = decodeDescription(fields[fieldAnswer]); err != nil {
		return domain.CallRecord{}, fmt.Errorf("decode answer: %w", err)
	}
	return rec, nil
}

// UpdateCall writes only the fields set in update.
func (s *Store) UpdateCall(ctx context.Context, id domain.CallID, update domain.CallUpdate) error {
	key := s.callKey(id)

	values := make([]any, 0, 8)
	if update.Offer != nil {
		data, err := json.Marshal(update.Offer)
		if err != nil {
			return fmt.Errorf("encode offer: %w", err)
		}
		values = append(values, fieldOffer, string(data))
	}
	if update.Answer != nil {
		data, err := json.Marshal(update.Answer)
		if err != nil {
			return fmt.Errorf("encode answer: %w", err)
		}
		values = append(values, fieldAnswer, string(data))
	}
	if update.HostLanguage != nil {
		values = append(values, fieldHostLanguage, *update.HostLanguage)
	}
	if update.GuestLanguage != nil {
		values = append(values, fieldGuestLanguage, *update.GuestLanguage)
	}

	if err := s.mustExist(ctx, id); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, values...)
	pipe.Publish(ctx, s.eventsChannel(id), eventRecord)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis update call: %w", err)
	}
	return nil
}

func (s *Store) AddCandidate(ctx context.Context, id domain.CallID, coll domain.CandidateCollection, c domain.IceCandidate) error {
	if !coll.Valid() {
		return fmt.Errorf("unknown candidate collection %q", coll)
	}
	if err := s.mustExist(ctx, id); err != nil {
		return err
	}

	key := s.candidatesKey(id, coll)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, string(c))
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	pipe.Publish(ctx, s.eventsChannel(id), coll.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis add candidate: %w", err)
	}
	return nil
}

// Delete removes the call and its candidates and ends open watches.
func (s *Store) Delete(ctx context.Context, id domain.CallID) error {
	n, err := s.client.Del(ctx,
		s.callKey(id),
		s.candidatesKey(id, domain.OfferCandidates),
		s.candidatesKey(id, domain.AnswerCandidates),
	).Result()
	if err != nil {
		return fmt.Errorf("redis delete call: %w", err)
	}
	if n == 0 {
		return &domain.CallNotFoundError{ID: id}
	}
	return s.client.Publish(ctx, s.eventsChannel(id), eventDeleted).Err()
}

func (s *Store) WatchCall(ctx context.Context, id domain.CallID) (<-chan domain.CallRecord, error) {
	sub, err := s.subscribe(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.CallRecord, port.WatchBuffer)
	l := log.With().Str("call_id", id.String()).Logger()
	go func() {
		defer close(out)
		defer sub.Close()

		send := func() bool {
			rec, err := s.GetCall(ctx, id)
			if err != nil {
				if ctx.Err() == nil {
					l.Warn().Err(err).Msg("Call watch stopped")
				}
				return false
			}
			select {
			case out <- rec:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok || m.Payload == eventDeleted {
					return
				}
				if m.Payload == eventRecord && !send() {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) WatchCandidates(ctx context.Context, id domain.CallID, coll domain.CandidateCollection) (<-chan domain.IceCandidate, error) {
	if !coll.Valid() {
		return nil, fmt.Errorf("unknown candidate collection %q", coll)
	}
	sub, err := s.subscribe(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.IceCandidate, port.WatchBuffer)
	key := s.candidatesKey(id, coll)
	l := log.With().Str("call_id", id.String()).Str("collection", coll.String()).Logger()
	go func() {
		defer close(out)
		defer sub.Close()

		var cursor int64
		drain := func() bool {
			items, err := s.client.LRange(ctx, key, cursor, -1).Result()
			if err != nil {
				if ctx.Err() == nil {
					l.Warn().Err(err).Msg("Candidate watch stopped")
				}
				return false
			}
			for _, item := range items {
				select {
				case out <- domain.IceCandidate(item):
				case <-ctx.Done():
					return false
				}
			}
			cursor += int64(len(items))
			return true
		}

		if !drain() {
			return
		}
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok || m.Payload == eventDeleted {
					return
				}
				if m.Payload == coll.String() && !drain() {
					return
				}
			}
		}
	}()
	return out, nil
}

// subscribe confirms the subscription before returning, so no change made
// after the initial read can be missed.
func (s *Store) subscribe(ctx context.Context, id domain.CallID) (*redis.PubSub, error) {
	if err := s.mustExist(ctx, id); err != nil {
		return nil, err
	}
	sub := s.client.Subscribe(ctx, s.eventsChannel(id))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	return sub, nil
}

func (s *Store) mustExist(ctx context.Context, id domain.CallID) error {
	n, err := s.client.Exists(ctx, s.callKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if n == 0 {
		return &domain.CallNotFoundError{ID: id}
	}
	return nil
}

func (s *Store) callKey(id domain.CallID) string {
	return fmt.Sprintf("%s:call:%s", s.prefix, id)
}

func (s *Store) candidatesKey(id domain.CallID, coll domain.CandidateCollection) string {
	return fmt.Sprintf("%s:call:%s:%s", s.prefix, id, coll)
}

func (s *Store) eventsChannel(id domain.CallID) string {
	return fmt.Sprintf("%s:call:%s:events", s.prefix, id)
}

func decodeDescription(raw string) (*domain.SessionDescription, error) {
	if raw == "" {
		return nil, nil
	}
	var desc domain.SessionDescription
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}
