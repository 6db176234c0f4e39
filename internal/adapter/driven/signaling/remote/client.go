// Package remote talks to a parley signaling server over HTTP, so two agents
// on different hosts can share call records.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Wyydra/parley/internal/core/domain"
	"github.com/Wyydra/parley/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	base   *url.URL
	http   *http.Client
	dialer websocket.Dialer
}

var _ port.SignalingStore = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse signaling url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("signaling url must be http or https, got %q", u.Scheme)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: defaultTimeout},
		dialer: websocket.Dialer{HandshakeTimeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type createCallResponse struct {
	ID string `json:"id"`
}

type candidateDTO struct {
	Candidate string `json:"candidate"`
}

func (c *Client) CreateCall(ctx context.Context) (domain.CallID, error) {
	var out createCallResponse
	if err := c.do(ctx, http.MethodPost, "", "/calls", nil, &out); err != nil {
		return "", err
	}
	return domain.ParseCallID(out.ID)
}

func (c *Client) GetCall(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	var rec domain.CallRecord
	err := c.do(ctx, http.MethodGet, id, callPath(id), nil, &rec)
	return rec, err
}

func (c *Client) UpdateCall(ctx context.Context, id domain.CallID, update domain.CallUpdate) error {
	if update.Empty() {
		return nil
	}
	return c.do(ctx, http.MethodPatch, id, callPath(id), update, nil)
}

func (c *Client) AddCandidate(ctx context.Context, id domain.CallID, coll domain.CandidateCollection, cand domain.IceCandidate) error {
	if !coll.Valid() {
		return fmt.Errorf("unknown candidate collection %q", coll)
	}
	return c.do(ctx, http.MethodPost, id, candidatesPath(id, coll), candidateDTO{Candidate: string(cand)}, nil)
}

// Delete drops the call on the server, closing every watcher.
func (c *Client) Delete(ctx context.Context, id domain.CallID) error {
	return c.do(ctx, http.MethodDelete, id, callPath(id), nil, nil)
}

func (c *Client) WatchCall(ctx context.Context, id domain.CallID) (<-chan domain.CallRecord, error) {
	conn, err := c.dial(ctx, id, callPath(id)+"/watch")
	if err != nil {
		return nil, err
	}
	out := make(chan domain.CallRecord, port.WatchBuffer)
	l := log.With().Str("call_id", id.String()).Logger()
	go follow(ctx, conn, out, l, func(data []byte) (domain.CallRecord, error) {
		var rec domain.CallRecord
		err := json.Unmarshal(data, &rec)
		return rec, err
	})
	return out, nil
}

func (c *Client) WatchCandidates(ctx context.Context, id domain.CallID, coll domain.CandidateCollection) (<-chan domain.IceCandidate, error) {
	if !coll.Valid() {
		return nil, fmt.Errorf("unknown candidate collection %q", coll)
	}
	conn, err := c.dial(ctx, id, candidatesPath(id, coll)+"/watch")
	if err != nil {
		return nil, err
	}
	out := make(chan domain.IceCandidate, port.WatchBuffer)
	l := log.With().Str("call_id", id.String()).Str("collection", coll.String()).Logger()
	go follow(ctx, conn, out, l, func(data []byte) (domain.IceCandidate, error) {
		var dto candidateDTO
		err := json.Unmarshal(data, &dto)
		return domain.IceCandidate(dto.Candidate), err
	})
	return out, nil
}

// follow forwards decoded frames until the server ends the watch or ctx is
// done. Undecodable frames are skipped.
func follow[T any](ctx context.Context, conn *websocket.Conn, out chan<- T, l zerolog.Logger, decode func([]byte) (T, error)) {
	defer close(out)
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.Warn().Err(err).Msg("Watch stream ended")
			}
			return
		}
		v, err := decode(data)
		if err != nil {
			l.Warn().Err(err).Msg("Skipping malformed watch frame")
			continue
		}
		select {
		case out <- v:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) dial(ctx context.Context, id domain.CallID, path string) (*websocket.Conn, error) {
	u := c.url(path)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, statusError(resp, id)
		}
		return nil, fmt.Errorf("dial watch: %w", err)
	}
	return conn, nil
}

func (c *Client) do(ctx context.Context, method string, id domain.CallID, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path).String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp, id)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) url(path string) *url.URL {
	u := *c.base
	u.Path = c.base.Path + path
	return &u
}

var ErrUnexpectedStatus = errors.New("unexpected signaling status")

func statusError(resp *http.Response, id domain.CallID) error {
	if resp.StatusCode == http.StatusNotFound && id != "" {
		return &domain.CallNotFoundError{ID: id}
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
}

func callPath(id domain.CallID) string {
	return "/calls/" + url.PathEscape(id.String())
}

func candidatesPath(id domain.CallID, coll domain.CandidateCollection) string {
	return callPath(id) + "/candidates/" + coll.String()
}
