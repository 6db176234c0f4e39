package redis

import (
	"context"
	"testing"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, opts...), mr
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch")
	}
	var zero T
	return zero
}

func assertClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watch was not closed")
		}
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.GetCall(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestStore_CreateUpdateGet(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	id, err := store.CreateCall(ctx)
	require.NoError(t, err)

	rec, err := store.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Nil(t, rec.Offer)

	lang := "en"
	offer := domain.SessionDescription{Type: "offer", SDP: "v=0"}
	require.NoError(t, store.UpdateCall(ctx, id, domain.CallUpdate{Offer: &offer, HostLanguage: &lang}))

	guest := "fr"
	require.NoError(t, store.UpdateCall(ctx, id, domain.CallUpdate{GuestLanguage: &guest}))

	rec, err = store.GetCall(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.Offer)
	assert.Equal(t, offer, *rec.Offer)
	assert.Equal(t, "en", rec.HostLanguage)
	assert.Equal(t, "fr", rec.GuestLanguage)
	assert.Nil(t, rec.Answer)
}

func TestStore_UpdateMissing(t *testing.T) {
	store, _ := setupStore(t)
	lang := "en"

	err := store.UpdateCall(context.Background(), "nope", domain.CallUpdate{HostLanguage: &lang})
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestStore_CustomPrefixAndTTL(t *testing.T) {
	store, mr := setupStore(t, WithPrefix("myapp"), WithTTL(time.Minute))
	ctx := context.Background()

	id, err := store.CreateCall(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists("myapp:call:"+id.String()))

	mr.FastForward(2 * time.Minute)
	_, err = store.GetCall(ctx, id)
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestStore_WatchCandidatesReplaysThenFollows(t *testing.T) {
	store, _ := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := store.CreateCall(ctx)
	require.NoError(t, err)
	require.NoError(t, store.AddCandidate(ctx, id, domain.OfferCandidates, "a"))
	require.NoError(t, store.AddCandidate(ctx, id, domain.AnswerCandidates, "other"))

	ch, err := store.WatchCandidates(ctx, id, domain.OfferCandidates)
	require.NoError(t, err)
	assert.Equal(t, domain.IceCandidate("a"), receive(t, ch))

	require.NoError(t, store.AddCandidate(ctx, id, domain.OfferCandidates, "b"))
	require.NoError(t, store.AddCandidate(ctx, id, domain.OfferCandidates, "c"))
	assert.Equal(t, domain.IceCandidate("b"), receive(t, ch))
	assert.Equal(t, domain.IceCandidate("c"), receive(t, ch))
}

func TestStore_WatchCallSeesAnswer(t *testing.T) {
	store, _ := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := store.CreateCall(ctx)
	require.NoError(t, err)

	ch, err := store.WatchCall(ctx, id)
	require.NoError(t, err)
	first := receive(t, ch)
	assert.Nil(t, first.Answer)

	answer := domain.SessionDescription{Type: "answer", SDP: "v=0"}
	require.NoError(t, store.UpdateCall(ctx, id, domain.CallUpdate{Answer: &answer}))

	next := receive(t, ch)
	require.NotNil(t, next.Answer)
	assert.Equal(t, "answer", next.Answer.Type)
}

func TestStore_DeleteClosesWatches(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	id, err := store.CreateCall(ctx)
	require.NoError(t, err)

	recs, err := store.WatchCall(ctx, id)
	require.NoError(t, err)
	receive(t, recs)
	cands, err := store.WatchCandidates(ctx, id, domain.AnswerCandidates)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))

	assertClosed(t, recs)
	assertClosed(t, cands)

	assert.ErrorIs(t, store.Delete(ctx, id), domain.ErrCallNotFound)
}

func TestStore_WatchMissingCall(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.WatchCandidates(context.Background(), "nope", domain.OfferCandidates)
	assert.ErrorIs(t, err, domain.ErrCallNotFound)

	_, err = store.WatchCandidates(context.Background(), "nope", "bogus")
	assert.Error(t, err)
}
