package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Wyydra/parley/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultEndpoint   = "wss://api.openai.com/v1/realtime"
	DefaultAPIVersion = "2024-10-01-preview"

	betaHeader = "realtime=v1"

	dialTimeout      = 10 * time.Second
	writeWait        = 10 * time.Second
	closeGracePeriod = 5 * time.Second
	maxMessageSize   = 16 * 1024 * 1024
)

// Config selects the translation endpoint. Endpoints on *.openai.azure.com
// are addressed by deployment and authenticated with an api-key header; any
// other endpoint is treated as OpenAI and addressed by model.
type Config struct {
	Endpoint   string
	APIKey     string
	Model      string
	APIVersion string
}

// Dialer opens realtime sessions. It implements port.TranslationDialer.
type Dialer struct {
	cfg    Config
	dialer websocket.Dialer
}

var _ port.TranslationDialer = (*Dialer)(nil)

func NewDialer(cfg Config) *Dialer {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	return &Dialer{
		cfg: cfg,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context) (port.TranslationLink, error) {
	target, header, err := d.target()
	if err != nil {
		return nil, err
	}

	conn, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("dial realtime endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	log.Info().Str("endpoint", redact(target)).Msg("Realtime session connected")
	return newLink(conn), nil
}

// target resolves the websocket URL and auth headers for the configured
// endpoint.
func (d *Dialer) target() (string, http.Header, error) {
	u, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "wss", "ws":
	default:
		return "", nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	header := http.Header{}
	q := u.Query()
	if isAzure(u.Hostname()) {
		if u.Path == "" || u.Path == "/" {
			u.Path = "/openai/realtime"
		}
		q.Set("api-version", d.cfg.APIVersion)
		q.Set("deployment", d.cfg.Model)
		header.Set("api-key", d.cfg.APIKey)
	} else {
		if d.cfg.Model != "" {
			q.Set("model", d.cfg.Model)
		}
		header.Set("Authorization", "Bearer "+d.cfg.APIKey)
		header.Set("OpenAI-Beta", betaHeader)
	}
	u.RawQuery = q.Encode()
	return u.String(), header, nil
}

func isAzure(host string) bool {
	return strings.HasSuffix(strings.ToLower(host), ".openai.azure.com")
}

func redact(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}
