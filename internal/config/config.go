// Package config loads and writes the bridge configuration under ~/.openclaw.
//
// bridge.toml is owned by the bridge; openclaw.json is owned by the gateway and
// only read here. A legacy bridge.json is honoured when no bridge.toml exists.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/clawbridge/internal/sessions"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrWebhookURLRequired = errors.New("config: webhook_url is required")
	ErrInvalidWebhookURL  = errors.New("config: webhook_url must be a ws:// or wss:// url")
	ErrInvalidScope       = errors.New("config: invalid session_scope")
	ErrInvalidPort        = errors.New("config: invalid gateway port")
	ErrInvalidDuration    = errors.New("config: invalid duration")
	ErrNotFound           = errors.New("config: no bridge config found")
	ErrUnknownKey         = errors.New("config: unknown key")
)

const (
	DirName          = ".openclaw"
	BridgeFile       = "bridge.toml"
	LegacyBridgeFile = "bridge.json"
	GatewayFile      = "openclaw.json"

	DefaultGatewayHost = "127.0.0.1"
	DefaultGatewayPort = 18789
)

type Reconnect struct {
	UpstreamInitial   time.Duration
	DownstreamInitial time.Duration
	MaxDelay          time.Duration
}

type Store struct {
	CacheTTL    time.Duration
	LockTimeout time.Duration
}

// Gateway is read from openclaw.json; Host may be overridden in bridge.toml.
type Gateway struct {
	Host  string
	Port  int
	Token string
}

type Config struct {
	Dir    string
	Source string

	WebhookURL          string
	WebhookCAFile       string
	UID                 string
	UIDGenerated        bool
	AgentID             string
	SessionScope        string
	StorePath           string
	AdminAddr           string
	AdminToken          string
	TrackUpstreamRoutes bool

	Reconnect Reconnect
	Store     Store
	Gateway   Gateway
}

// fileConfig is the on-disk shape of bridge.toml.
type fileConfig struct {
	WebhookURL          string        `toml:"webhook_url"`
	WebhookCAFile       string        `toml:"webhook_ca_file,omitempty"`
	UID                 string        `toml:"uid,omitempty"`
	AgentID             string        `toml:"agent_id,omitempty"`
	SessionScope        string        `toml:"session_scope,omitempty"`
	StorePath           string        `toml:"store_path,omitempty"`
	AdminAddr           string        `toml:"admin_addr,omitempty"`
	AdminToken          string        `toml:"admin_token,omitempty"`
	TrackUpstreamRoutes bool          `toml:"track_upstream_routes,omitempty"`
	GatewayHost         string        `toml:"gateway_host,omitempty"`
	Reconnect           reconnectFile `toml:"reconnect,omitempty"`
	Store               storeFile     `toml:"store,omitempty"`
}

type reconnectFile struct {
	UpstreamInitial   string `toml:"upstream_initial,omitempty"`
	DownstreamInitial string `toml:"downstream_initial,omitempty"`
	MaxDelay          string `toml:"max_delay,omitempty"`
}

type storeFile struct {
	CacheTTL    string `toml:"cache_ttl,omitempty"`
	LockTimeout string `toml:"lock_timeout,omitempty"`
}

type legacyFile struct {
	WebhookURL string `json:"webhook_url"`
	AgentID    string `json:"agent_id,omitempty"`
	UID        string `json:"uid,omitempty"`
}

type gatewayFile struct {
	Gateway struct {
		Port int `json:"port"`
		Auth struct {
			Token string `json:"token"`
		} `json:"auth"`
	} `json:"gateway"`
}

// DefaultDir is ~/.openclaw.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

func Default(dir string) Config {
	store := sessions.DefaultStoreConfig("")
	return Config{
		Dir:          dir,
		AgentID:      sessions.DefaultAgentID,
		SessionScope: string(sessions.ScopePerSender),
		StorePath:    filepath.Join(dir, "sessions", "webhook.json"),
		Reconnect: Reconnect{
			UpstreamInitial:   time.Second,
			DownstreamInitial: 2 * time.Second,
			MaxDelay:          30 * time.Second,
		},
		Store: Store{
			CacheTTL:    store.CacheTTL,
			LockTimeout: store.LockTimeout,
		},
		Gateway: Gateway{
			Host: DefaultGatewayHost,
			Port: DefaultGatewayPort,
		},
	}
}

// Load reads bridge.toml (or the legacy bridge.json) and openclaw.json from dir,
// fills defaults, generates a UID when none is configured, and validates.
func Load(dir string) (Config, error) {
	cfg := Default(dir)

	tomlPath := filepath.Join(dir, BridgeFile)
	legacyPath := filepath.Join(dir, LegacyBridgeFile)
	switch {
	case fileExists(tomlPath):
		if err := cfg.overlayTOML(tomlPath); err != nil {
			return Config{}, err
		}
	case fileExists(legacyPath):
		if err := cfg.overlayLegacy(legacyPath); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("%w in %s (run `bridgectl config init`)", ErrNotFound, dir)
	}

	if err := cfg.overlayGateway(filepath.Join(dir, GatewayFile)); err != nil {
		return Config{}, err
	}

	if cfg.UID == "" {
		cfg.UID = GenerateUID()
		cfg.UIDGenerated = true
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayTOML(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Source = path

	if meta.IsDefined("webhook_url") {
		c.WebhookURL = strings.TrimSpace(raw.WebhookURL)
	}
	if meta.IsDefined("webhook_ca_file") && strings.TrimSpace(raw.WebhookCAFile) != "" {
		c.WebhookCAFile = expandPath(c.Dir, raw.WebhookCAFile)
	}
	if meta.IsDefined("uid") {
		c.UID = strings.TrimSpace(raw.UID)
	}
	if meta.IsDefined("agent_id") && strings.TrimSpace(raw.AgentID) != "" {
		c.AgentID = strings.TrimSpace(raw.AgentID)
	}
	if meta.IsDefined("session_scope") {
		c.SessionScope = strings.TrimSpace(raw.SessionScope)
	}
	if meta.IsDefined("store_path") && strings.TrimSpace(raw.StorePath) != "" {
		c.StorePath = expandPath(c.Dir, raw.StorePath)
	}
	if meta.IsDefined("admin_addr") {
		c.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		c.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("track_upstream_routes") {
		c.TrackUpstreamRoutes = raw.TrackUpstreamRoutes
	}
	if meta.IsDefined("gateway_host") && strings.TrimSpace(raw.GatewayHost) != "" {
		c.Gateway.Host = strings.TrimSpace(raw.GatewayHost)
	}

	durations := []struct {
		key  []string
		raw  string
		dest *time.Duration
	}{
		{[]string{"reconnect", "upstream_initial"}, raw.Reconnect.UpstreamInitial, &c.Reconnect.UpstreamInitial},
		{[]string{"reconnect", "downstream_initial"}, raw.Reconnect.DownstreamInitial, &c.Reconnect.DownstreamInitial},
		{[]string{"reconnect", "max_delay"}, raw.Reconnect.MaxDelay, &c.Reconnect.MaxDelay},
		{[]string{"store", "cache_ttl"}, raw.Store.CacheTTL, &c.Store.CacheTTL},
		{[]string{"store", "lock_timeout"}, raw.Store.LockTimeout, &c.Store.LockTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		parsed, err := parseDuration(strings.Join(d.key, "."), d.raw)
		if err != nil {
			return err
		}
		*d.dest = parsed
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Warn().Str("path", path).Interface("keys", undecoded).Msg("config.Load unknown keys ignored")
	}
	return nil
}

func (c *Config) overlayLegacy(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var raw legacyFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Source = path
	c.WebhookURL = strings.TrimSpace(raw.WebhookURL)
	c.UID = strings.TrimSpace(raw.UID)
	if id := strings.TrimSpace(raw.AgentID); id != "" {
		c.AgentID = id
	}
	log.Info().Str("path", path).Msg("config.Load using legacy bridge.json")
	return nil
}

// overlayGateway reads the gateway's own file. A missing file leaves the defaults.
func (c *Config) overlayGateway(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Msg("config.Load gateway config missing, using defaults")
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var raw gatewayFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if raw.Gateway.Port != 0 {
		c.Gateway.Port = raw.Gateway.Port
	}
	c.Gateway.Token = strings.TrimSpace(raw.Gateway.Auth.Token)
	return nil
}

// Validate reports the first configuration error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.WebhookURL) == "" {
		return ErrWebhookURLRequired
	}
	u, err := url.Parse(c.WebhookURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidWebhookURL, c.WebhookURL)
	}
	if _, err := sessions.ParseScope(c.SessionScope); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidScope, c.SessionScope)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Gateway.Port)
	}
	for name, d := range map[string]time.Duration{
		"reconnect.upstream_initial":   c.Reconnect.UpstreamInitial,
		"reconnect.downstream_initial": c.Reconnect.DownstreamInitial,
		"reconnect.max_delay":          c.Reconnect.MaxDelay,
		"store.lock_timeout":           c.Store.LockTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidDuration, name)
		}
	}
	if c.Store.CacheTTL < 0 {
		return fmt.Errorf("%w: store.cache_ttl must not be negative", ErrInvalidDuration)
	}
	return nil
}

func (c Config) Scope() sessions.Scope {
	scope, err := sessions.ParseScope(c.SessionScope)
	if err != nil {
		return sessions.ScopePerSender
	}
	return scope
}

func (c Config) StoreConfig() sessions.StoreConfig {
	return sessions.StoreConfig{
		Path:        c.StorePath,
		CacheTTL:    c.Store.CacheTTL,
		LockTimeout: c.Store.LockTimeout,
	}
}

// GenerateUID returns bridge-<host>-<8 hex>.
func GenerateUID() string {
	host, _ := os.Hostname()
	host = strings.TrimSpace(host)
	if host == "" {
		host = "unknown"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("bridge-%s-%s", host, suffix)
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidDuration, key, raw, err)
	}
	return d, nil
}

func expandPath(dir, raw string) string {
	p := strings.TrimSpace(raw)
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return p
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
