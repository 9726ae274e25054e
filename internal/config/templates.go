package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteTemplate writes a commented bridge.toml into dir.
func WriteTemplate(dir, webhookURL string, overwrite bool) (string, error) {
	path := filepath.Join(dir, BridgeFile)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists: %s (use --force to overwrite)", path)
		}
	}
	if webhookURL == "" {
		webhookURL = "ws://localhost:8080/ws"
	}
	body := fmt.Sprintf(bridgeTemplate, webhookURL, GenerateUID())
	if err := atomicWrite(path, []byte(body)); err != nil {
		return "", err
	}
	return path, nil
}

const bridgeTemplate = `# Downstream webhook server. The bridge appends ?uid=<uid> when connecting.
webhook_url = %q

# PEM bundle trusted in addition to the system roots, for wss behind a private CA.
# webhook_ca_file = "webhook-ca.pem"

# Stable identity of this bridge instance.
uid = %q

# Agent addressed on the gateway.
agent_id = "main"

# per-sender keeps one conversation per sender; global shares one.
session_scope = "per-sender"

# Session store, relative to this directory unless absolute.
# store_path = "sessions/webhook.json"

# Local admin surface (/health, /ready, /metrics, /sessions). Empty disables it.
# admin_addr = "127.0.0.1:9310"
# admin_token = ""

# Record the webhook route when gateway events carry a sessionKey.
# track_upstream_routes = false

# gateway_host = "127.0.0.1"

[reconnect]
upstream_initial = "1s"
downstream_initial = "2s"
max_delay = "30s"

[store]
cache_ttl = "45s"
lock_timeout = "10s"
`
