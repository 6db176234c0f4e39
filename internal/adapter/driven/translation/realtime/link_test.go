package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// fakeEndpoint answers the first client frame with the given frames, then
// closes normally.
func fakeEndpoint(t *testing.T, received chan<- []byte, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "realtime=v1", r.Header.Get("OpenAI-Beta"))
		assert.Equal(t, "gpt-realtime", r.URL.Query().Get("model"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLink_SendAndReceive(t *testing.T) {
	received := make(chan []byte, 1)
	srv := fakeEndpoint(t, received,
		`{"type":"session.created","session":{"id":"s"}}`,
		`not json`,
		`{"type":"response.audio_transcript.delta","delta":"Salut"}`,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	link, err := NewDialer(Config{Endpoint: srv.URL, APIKey: "sk-test", Model: "gpt-realtime"}).Dial(ctx)
	require.NoError(t, err)
	defer link.Close()

	require.NoError(t, link.Send(ctx, domain.SessionUpdate{Session: domain.NewSessionConfig("en", "fr", "", "")}))

	var first map[string]any
	require.NoError(t, json.Unmarshal(<-received, &first))
	assert.Equal(t, "session.update", first["type"])

	ev, err := link.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCreated{SessionID: "s"}, ev)

	ev, err = link.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TranscriptDelta{Delta: "Salut"}, ev)

	_, err = link.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLink_ReceiveHonorsContext(t *testing.T) {
	received := make(chan []byte, 1)
	srv := fakeEndpoint(t, received)

	link, err := NewDialer(Config{Endpoint: srv.URL, APIKey: "sk-test", Model: "gpt-realtime"}).Dial(context.Background())
	require.NoError(t, err)
	defer link.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = link.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLink_SendAfterClose(t *testing.T) {
	received := make(chan []byte, 1)
	srv := fakeEndpoint(t, received)

	link, err := NewDialer(Config{Endpoint: srv.URL, APIKey: "sk-test", Model: "gpt-realtime"}).Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, link.Close())

	assert.Error(t, link.Send(context.Background(), domain.InputAudioAppend{Audio: "AA=="}))
	assert.NoError(t, link.Close())
}

func TestDialer_Target(t *testing.T) {
	t.Run("azure", func(t *testing.T) {
		d := NewDialer(Config{Endpoint: "https://myres.openai.azure.com", APIKey: "k", Model: "gpt-4o-realtime"})
		target, header, err := d.target()
		require.NoError(t, err)
		assert.Equal(t, "wss://myres.openai.azure.com/openai/realtime?api-version="+DefaultAPIVersion+"&deployment=gpt-4o-realtime", target)
		assert.Equal(t, "k", header.Get("api-key"))
		assert.Empty(t, header.Get("Authorization"))
	})

	t.Run("openai default", func(t *testing.T) {
		d := NewDialer(Config{APIKey: "k", Model: "gpt-realtime"})
		target, header, err := d.target()
		require.NoError(t, err)
		assert.Equal(t, "wss://api.openai.com/v1/realtime?model=gpt-realtime", target)
		assert.Equal(t, "Bearer k", header.Get("Authorization"))
	})

	t.Run("bad scheme", func(t *testing.T) {
		_, _, err := NewDialer(Config{Endpoint: "ftp://x"}).target()
		assert.Error(t, err)
	})
}
