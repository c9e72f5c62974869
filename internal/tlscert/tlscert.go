// Package tlscert supplies server certificates for the HTTPS listener.
package tlscert

import (
	"crypto/tls"
	"fmt"
	"log/slog"
)

// Mode selects where the server certificate comes from.
type Mode string

const (
	ModeFile       Mode = "file"
	ModeSelfSigned Mode = "selfsigned"
)

// MinVersion is the lowest TLS version the listener accepts.
const MinVersion = tls.VersionTLS12

// Config describes the certificate source.
type Config struct {
	Mode Mode

	CertFile string
	KeyFile  string

	// Hosts are the names and addresses baked into a self-signed certificate.
	Hosts []string
}

// ServerConfig builds a tls.Config for http.Server along with a short
// description of the certificate source for startup logs.
func ServerConfig(cfg Config, logger *slog.Logger) (*tls.Config, string, error) {
	switch cfg.Mode {
	case ModeFile:
		r, err := newReloader(cfg.CertFile, cfg.KeyFile, logger)
		if err != nil {
			return nil, "", err
		}
		return &tls.Config{MinVersion: MinVersion, GetCertificate: r.GetCertificate},
			fmt.Sprintf("file (cert=%s)", cfg.CertFile), nil
	case ModeSelfSigned:
		hosts := cfg.Hosts
		if len(hosts) == 0 {
			hosts = []string{"localhost", "127.0.0.1", "::1"}
		}
		cert, err := generateSelfSigned(hosts)
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		logger.Warn("serving a self-signed certificate; not suitable for production", slog.Any("hosts", hosts))
		return &tls.Config{MinVersion: MinVersion, Certificates: []tls.Certificate{cert}},
			"self-signed (in memory)", nil
	default:
		return nil, "", fmt.Errorf("unsupported TLS mode %q (valid modes: file, selfsigned)", cfg.Mode)
	}
}
