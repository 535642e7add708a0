package proxy

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferry-io/ferry/internal/logging"
)

// TLSConfig holds TLS settings for the downstream listener.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// CertReloader serves the downstream listener's certificate and swaps it
// atomically when the files on disk change, so certificate rotation never
// interrupts accepted connections.
type CertReloader struct {
	certFile string
	keyFile  string
	logger   *logging.Logger

	cert atomic.Pointer[tls.Certificate]

	mu       sync.Mutex
	certMod  time.Time
	keyMod   time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCertReloader loads the initial certificate pair and returns a reloader
// ready to serve handshakes.
func NewCertReloader(certFile, keyFile string, logger *logging.Logger) (*CertReloader, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	r := &CertReloader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	if err := r.load(); err != nil {
		return nil, fmt.Errorf("initial certificate load: %w", err)
	}
	return r, nil
}

// load reads the pair from disk, records the file mtimes, and publishes the
// certificate. Callers hold no lock; mtime recording takes r.mu.
func (r *CertReloader) load() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return err
	}

	certMod, keyMod := statPair(r.certFile, r.keyFile)
	r.mu.Lock()
	r.certMod = certMod
	r.keyMod = keyMod
	r.mu.Unlock()

	r.cert.Store(&cert)
	r.logger.Infof("TLS certificate loaded", map[string]any{
		"certFile": r.certFile,
		"keyFile":  r.keyFile,
	})
	return nil
}

func statPair(certFile, keyFile string) (certMod, keyMod time.Time) {
	if fi, err := os.Stat(certFile); err == nil {
		certMod = fi.ModTime()
	}
	if fi, err := os.Stat(keyFile); err == nil {
		keyMod = fi.ModTime()
	}
	return certMod, keyMod
}

// GetCertificate implements the tls.Config callback.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := r.cert.Load()
	if cert == nil {
		return nil, errors.New("no certificate loaded")
	}
	return cert, nil
}

// Reload re-reads the pair from disk. A failed reload keeps the previous
// certificate serving.
func (r *CertReloader) Reload() error {
	if err := r.load(); err != nil {
		r.logger.Errorf("certificate reload failed", map[string]any{"error": err.Error()})
		return err
	}
	r.logger.Info("TLS certificate reloaded")
	return nil
}

// changed reports whether either file's mtime moved past what the last load
// observed. Stat failures (mid-rotation, missing file) report false; the next
// tick sees the settled state.
func (r *CertReloader) changed() bool {
	certMod, keyMod := statPair(r.certFile, r.keyFile)
	if certMod.IsZero() || keyMod.IsZero() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return certMod.After(r.certMod) || keyMod.After(r.keyMod)
}

// StartWatcher polls the file mtimes and reloads on change. Stop ends the
// watcher.
func (r *CertReloader) StartWatcher(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				if r.changed() {
					if err := r.Reload(); err != nil {
						r.logger.Warnf("keeping previous certificate", map[string]any{
							"error": err.Error(),
						})
					}
				}
			}
		}
	}()

	r.logger.Debugf("certificate watcher started", map[string]any{
		"interval": interval.String(),
	})
}

// Stop ends the watcher goroutine. Safe to call more than once, and before
// StartWatcher.
func (r *CertReloader) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// NewTLSListener wraps a TCP listener in TLS using a hot-reloading
// certificate source.
func NewTLSListener(addr string, tlsCfg TLSConfig, logger *logging.Logger) (net.Listener, *CertReloader, error) {
	if !tlsCfg.Enabled {
		return nil, nil, errors.New("TLS is not enabled")
	}
	if tlsCfg.CertFile == "" || tlsCfg.KeyFile == "" {
		return nil, nil, errors.New("certificate and key files are required")
	}

	reloader, err := NewCertReloader(tlsCfg.CertFile, tlsCfg.KeyFile, logger)
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	return tls.NewListener(ln, &tls.Config{
		GetCertificate: reloader.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), reloader, nil
}
