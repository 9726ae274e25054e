package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

// Keys lists every key accepted by Set, in file order.
var Keys = []string{
	"webhook_url",
	"webhook_ca_file",
	"uid",
	"agent_id",
	"session_scope",
	"store_path",
	"admin_addr",
	"admin_token",
	"track_upstream_routes",
	"gateway_host",
	"reconnect.upstream_initial",
	"reconnect.downstream_initial",
	"reconnect.max_delay",
	"store.cache_ttl",
	"store.lock_timeout",
}

// Set writes one key into dir/bridge.toml, creating the file when needed.
// The result must still load and validate, except that webhook_url may stay unset.
func Set(dir, key, value string) error {
	path := filepath.Join(dir, BridgeFile)
	raw, err := readFile(path)
	if err != nil {
		return err
	}
	if err := raw.set(key, strings.TrimSpace(value)); err != nil {
		return err
	}
	if err := raw.check(dir); err != nil {
		return err
	}
	return writeFile(path, raw)
}

// PersistUID records a generated UID so later runs keep the same identity.
func PersistUID(cfg Config) error {
	if !cfg.UIDGenerated {
		return nil
	}
	path := filepath.Join(cfg.Dir, BridgeFile)
	raw, err := readFile(path)
	if err != nil {
		return err
	}
	if raw.UID != "" {
		return nil
	}
	if raw.WebhookURL == "" {
		raw.WebhookURL = cfg.WebhookURL
	}
	if raw.AgentID == "" && cfg.AgentID != Default(cfg.Dir).AgentID {
		raw.AgentID = cfg.AgentID
	}
	raw.UID = cfg.UID
	if err := writeFile(path, raw); err != nil {
		return err
	}
	log.Info().Str("uid", cfg.UID).Str("path", path).Msg("config.PersistUID saved")
	return nil
}

// Show renders the effective configuration with secrets masked.
func Show(cfg Config) map[string]string {
	out := map[string]string{
		"source":                       cfg.Source,
		"webhook_url":                  cfg.WebhookURL,
		"webhook_ca_file":              cfg.WebhookCAFile,
		"uid":                          cfg.UID,
		"agent_id":                     cfg.AgentID,
		"session_scope":                cfg.SessionScope,
		"store_path":                   cfg.StorePath,
		"admin_addr":                   cfg.AdminAddr,
		"admin_token":                  mask(cfg.AdminToken),
		"track_upstream_routes":        strconv.FormatBool(cfg.TrackUpstreamRoutes),
		"gateway_host":                 cfg.Gateway.Host,
		"gateway_port":                 strconv.Itoa(cfg.Gateway.Port),
		"gateway_token":                mask(cfg.Gateway.Token),
		"reconnect.upstream_initial":   cfg.Reconnect.UpstreamInitial.String(),
		"reconnect.downstream_initial": cfg.Reconnect.DownstreamInitial.String(),
		"reconnect.max_delay":          cfg.Reconnect.MaxDelay.String(),
		"store.cache_ttl":              cfg.Store.CacheTTL.String(),
		"store.lock_timeout":           cfg.Store.LockTimeout.String(),
	}
	return out
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fileConfig) set(key, value string) error {
	switch key {
	case "webhook_url":
		f.WebhookURL = value
	case "webhook_ca_file":
		f.WebhookCAFile = value
	case "uid":
		f.UID = value
	case "agent_id":
		f.AgentID = value
	case "session_scope":
		f.SessionScope = value
	case "store_path":
		f.StorePath = value
	case "admin_addr":
		f.AdminAddr = value
	case "admin_token":
		f.AdminToken = value
	case "track_upstream_routes":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		f.TrackUpstreamRoutes = b
	case "gateway_host":
		f.GatewayHost = value
	case "reconnect.upstream_initial":
		f.Reconnect.UpstreamInitial = value
	case "reconnect.downstream_initial":
		f.Reconnect.DownstreamInitial = value
	case "reconnect.max_delay":
		f.Reconnect.MaxDelay = value
	case "store.cache_ttl":
		f.Store.CacheTTL = value
	case "store.lock_timeout":
		f.Store.LockTimeout = value
	default:
		return fmt.Errorf("%w: %q (known: %s)", ErrUnknownKey, key, strings.Join(Keys, ", "))
	}
	return nil
}

// check validates the file as Load would, tolerating a missing webhook_url.
func (f fileConfig) check(dir string) error {
	cfg := Default(dir)
	cfg.WebhookURL = f.WebhookURL
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = "ws://placeholder"
	}
	if f.SessionScope != "" {
		cfg.SessionScope = f.SessionScope
	}
	for key, raw := range map[string]string{
		"reconnect.upstream_initial":   f.Reconnect.UpstreamInitial,
		"reconnect.downstream_initial": f.Reconnect.DownstreamInitial,
		"reconnect.max_delay":          f.Reconnect.MaxDelay,
		"store.cache_ttl":              f.Store.CacheTTL,
		"store.lock_timeout":           f.Store.LockTimeout,
	} {
		if raw == "" {
			continue
		}
		d, err := parseDuration(key, raw)
		if err != nil {
			return err
		}
		if d < 0 || (d == 0 && key != "store.cache_ttl") {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidDuration, key)
		}
	}
	return cfg.Validate()
}

func readFile(path string) (fileConfig, error) {
	var raw fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return raw, nil
		}
		return raw, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return raw, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return raw, nil
}

func writeFile(path string, raw fileConfig) error {
	data, err := toml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return atomicWrite(path, data)
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("config: replace %s: %w", path, err)
	}
	return nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
