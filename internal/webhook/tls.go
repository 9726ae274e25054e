package webhook

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/gorilla/websocket"
)

// TLSDialer returns a dialer that also trusts the PEM certificates in caFile,
// for wss servers behind a private CA. An empty caFile yields the default dialer.
func TLSDialer(caFile string) (*websocket.Dialer, error) {
	if caFile == "" {
		return websocket.DefaultDialer, nil
	}
	pemData, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("webhook: read ca file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("webhook: no certificates in %s", caFile)
	}
	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    pool,
	}
	return &dialer, nil
}
