package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var (
	// ErrCertificateExpired is returned for a certificate past its NotAfter.
	ErrCertificateExpired = errors.New("certificate has expired")
	// ErrCertificateNotYetValid is returned for a certificate before its NotBefore.
	ErrCertificateNotYetValid = errors.New("certificate is not yet valid")
	// ErrKeyUsage is returned when the leaf cannot be used by a TLS server.
	ErrKeyUsage = errors.New("certificate lacks required key usage (KeyEncipherment or DigitalSignature)")
)

// expiryWarning is how close to NotAfter a loaded certificate starts logging warnings.
const expiryWarning = 30 * 24 * time.Hour

const reloadDebounce = 100 * time.Millisecond

// CertificateReloader serves the current server key pair and swaps it when
// the files on disk change.
type CertificateReloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCertificateReloader loads and validates the key pair.
func NewCertificateReloader(certFile, keyFile string, logger *slog.Logger) (*CertificateReloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(certFile) == "" || strings.TrimSpace(keyFile) == "" {
		return nil, errors.New("cert_file and key_file are required")
	}
	r := &CertificateReloader{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		logger:   logger,
		now:      time.Now,
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *CertificateReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// Certificate returns the key pair currently served.
func (r *CertificateReloader) Certificate() *tls.Certificate {
	cert, _ := r.GetCertificate(nil)
	return cert
}

// Reload reads both files again. On failure the previous pair stays in use.
func (r *CertificateReloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair %s, %s: %w", r.certFile, r.keyFile, err)
	}
	leaf, err := r.validate(&cert)
	if err != nil {
		return fmt.Errorf("validate %s: %w", r.certFile, err)
	}
	cert.Leaf = leaf

	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()

	r.logger.Info("Certificate loaded",
		"cert_file", r.certFile,
		"subject", leaf.Subject.String(),
		"dns_names", leaf.DNSNames,
		"not_after", leaf.NotAfter,
		"serial_number", leaf.SerialNumber.String())
	return nil
}

func (r *CertificateReloader) validate(cert *tls.Certificate) (*x509.Certificate, error) {
	if len(cert.Certificate) == 0 {
		return nil, errors.New("certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse leaf certificate: %w", err)
	}

	now := r.now()
	if now.Before(leaf.NotBefore) {
		return nil, fmt.Errorf("%w: valid from %s", ErrCertificateNotYetValid, leaf.NotBefore)
	}
	if now.After(leaf.NotAfter) {
		return nil, fmt.Errorf("%w: expired at %s", ErrCertificateExpired, leaf.NotAfter)
	}
	if leaf.NotAfter.Sub(now) <= expiryWarning {
		r.logger.Warn("Certificate expires soon",
			"cert_file", r.certFile,
			"days_until_expiry", int(leaf.NotAfter.Sub(now).Hours()/24),
			"expiry_date", leaf.NotAfter)
	}
	if leaf.KeyUsage&x509.KeyUsageKeyEncipherment == 0 && leaf.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return nil, ErrKeyUsage
	}
	return leaf, nil
}

// Watch reloads the key pair whenever either file changes, until ctx is
// done or Close is called.
func (r *CertificateReloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	dirs := map[string]bool{filepath.Dir(r.certFile): true, filepath.Dir(r.keyFile): true}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %q: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.watcher = watcher
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *CertificateReloader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(r.done)
	defer func() { _ = watcher.Close() }()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != r.certFile && name != r.keyFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := r.Reload(); err != nil {
					r.logger.Error("Failed to reload certificate after file change", "error", err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("Certificate file watcher error", "error", err)
		}
	}
}

// Close stops watching. It is safe to call without Watch.
func (r *CertificateReloader) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// ServerConfig returns a server tls.Config backed by r. minVersion is "1.2"
// (default) or "1.3".
func ServerConfig(r *CertificateReloader, minVersion string) (*tls.Config, error) {
	version, err := ParseVersion(minVersion)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		GetCertificate: r.GetCertificate,
		MinVersion:     version,
	}, nil
}

// ParseVersion maps a configured TLS version onto its crypto/tls constant.
func ParseVersion(v string) (uint16, error) {
	switch strings.TrimSpace(v) {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", v)
	}
}
