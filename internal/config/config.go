package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendRemote = "remote"
)

// Config is shared by the server and the agent. Each binary reads the
// sections it needs.
type Config struct {
	Translation TranslationConfig `yaml:"translation"`
	Peer        PeerConfig        `yaml:"peer"`
	Signaling   SignalingConfig   `yaml:"signaling"`
	HTTP        HTTPConfig        `yaml:"http"`
	Language    LanguageConfig    `yaml:"language"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// TranslationConfig selects the realtime endpoint.
type TranslationConfig struct {
	Endpoint           string `yaml:"endpoint"`
	APIKey             string `yaml:"api_key"`
	Model              string `yaml:"model"`
	Voice              string `yaml:"voice"`
	APIVersion         string `yaml:"api_version"`
	TranscriptionModel string `yaml:"transcription_model"`
}

type PeerConfig struct {
	STUNServers []string `yaml:"stun_servers"`
}

type SignalingConfig struct {
	Backend  string `yaml:"backend"`   // memory, redis or remote
	RedisURL string `yaml:"redis_url"` // redis backend
	URL      string `yaml:"url"`       // remote backend: base URL of a signaling server
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LanguageConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Translation: TranslationConfig{
			Voice:              "alloy",
			TranscriptionModel: "whisper-1",
		},
		Peer: PeerConfig{
			STUNServers: []string{"stun:stun1.l.google.com:19302", "stun:stun2.l.google.com:19302"},
		},
		Signaling: SignalingConfig{
			Backend: BackendMemory,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Language: LanguageConfig{
			Timeout:      2 * time.Minute,
			PollInterval: 250 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, then the environment. A .env file in the working directory is
// loaded first without overriding variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("OAI_ENDPOINT", &c.Translation.Endpoint)
	str("OAI_APIKEY", &c.Translation.APIKey)
	str("OAI_MODEL", &c.Translation.Model)
	str("OAI_VOICE", &c.Translation.Voice)
	str("OAI_API_VERSION", &c.Translation.APIVersion)
	str("SIGNALING_BACKEND", &c.Signaling.Backend)
	str("REDIS_URL", &c.Signaling.RedisURL)
	str("SIGNALING_URL", &c.Signaling.URL)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup("STUN_SERVERS"); ok {
		c.Peer.STUNServers = SplitList(v)
	}
	if err := dur("LANGUAGE_TIMEOUT", &c.Language.Timeout); err != nil {
		return err
	}
	return dur("LANGUAGE_POLL_INTERVAL", &c.Language.PollInterval)
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate only checks structure. Endpoint and credential problems surface
// when the translation session is dialed.
func (c *Config) Validate() error {
	if err := c.Signaling.Validate(); err != nil {
		return fmt.Errorf("signaling config: %w", err)
	}
	if err := c.Language.Validate(); err != nil {
		return fmt.Errorf("language config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (s *SignalingConfig) Validate() error {
	switch s.Backend {
	case BackendMemory:
	case BackendRedis:
		if s.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis backend")
		}
	case BackendRemote:
		if s.URL == "" {
			return fmt.Errorf("url is required for the remote backend")
		}
	default:
		return fmt.Errorf("backend must be one of memory, redis, remote, got %q", s.Backend)
	}
	return nil
}

func (l *LanguageConfig) Validate() error {
	if l.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", l.Timeout)
	}
	if l.PollInterval <= 0 || l.PollInterval > l.Timeout {
		return fmt.Errorf("poll_interval must be in (0, timeout], got %s", l.PollInterval)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", l.Level)
	}
	switch l.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format %q", l.Format)
	}
	return nil
}
