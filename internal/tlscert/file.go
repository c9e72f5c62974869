package tlscert

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// reloader serves a certificate pair from disk and picks up replacements
// when either file's modification time changes.
type reloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	mu       sync.Mutex
	cert     *tls.Certificate
	certTime time.Time
	keyTime  time.Time
}

func newReloader(certFile, keyFile string, logger *slog.Logger) (*reloader, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("both tls_cert_file and tls_key_file are required in file mode")
	}
	if err := checkKeyPermissions(keyFile); err != nil {
		return nil, err
	}
	r := &reloader{certFile: certFile, keyFile: keyFile, logger: logger}
	if _, err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// GetCertificate satisfies tls.Config.GetCertificate. A failed reload keeps
// serving the last good pair.
func (r *reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert, err := r.load()
	if err != nil {
		r.mu.Lock()
		last := r.cert
		r.mu.Unlock()
		if last == nil {
			return nil, err
		}
		r.logger.Error("failed to reload certificate; keeping previous",
			slog.String("cert_file", r.certFile),
			slog.String("error", err.Error()))
		return last, nil
	}
	return cert, nil
}

func (r *reloader) load() (*tls.Certificate, error) {
	certTime, err := modTime(r.certFile)
	if err != nil {
		return nil, err
	}
	keyTime, err := modTime(r.keyFile)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cert != nil && certTime.Equal(r.certTime) && keyTime.Equal(r.keyTime) {
		return r.cert, nil
	}

	pair, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	if r.cert != nil {
		r.logger.Info("reloaded TLS certificate", slog.String("cert_file", r.certFile))
	}
	r.cert, r.certTime, r.keyTime = &pair, certTime, keyTime
	return r.cert, nil
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("file not accessible: %w", err)
	}
	if info.IsDir() {
		return time.Time{}, fmt.Errorf("%s is a directory, not a file", path)
	}
	return info.ModTime(), nil
}

func checkKeyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("invalid key file: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("key file %s has insecure permissions %o (should be 0600 or 0400)", path, mode)
	}
	return nil
}
