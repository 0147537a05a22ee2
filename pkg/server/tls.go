package server

import (
	"crypto/tls"
	"errors"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var errNoCertificate = errors.New("no TLS certificate loaded")

// certReloader serves the current key pair and swaps it whenever the files on
// disk change, so rotated certificates apply without a restart.
type certReloader struct {
	certPath string
	keyPath  string

	mu   sync.RWMutex
	cert *tls.Certificate

	done     chan struct{}
	stopOnce sync.Once
}

func newCertReloader(certPath, keyPath string) *certReloader {
	return &certReloader{
		certPath: certPath,
		keyPath:  keyPath,
		done:     make(chan struct{}),
	}
}

// reload keeps the previous pair when the new one fails to load.
func (r *certReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		zap.L().Error("failed to load TLS certificate", zap.String("cert", r.certPath), zap.Error(err))
		return err
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	zap.L().Info("TLS certificate loaded", zap.String("cert", r.certPath))
	return nil
}

func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, errNoCertificate
	}
	return r.cert, nil
}

func (r *certReloader) watch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zap.L().Error("failed to create fsnotify watcher", zap.Error(err))
		return
	}
	defer watcher.Close()

	for _, p := range []string{r.certPath, r.keyPath} {
		if err := watcher.Add(p); err != nil {
			zap.L().Warn("failed to watch TLS file", zap.String("path", p), zap.Error(err))
		}
	}

	for {
		select {
		case <-r.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				_ = r.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zap.L().Error("TLS watcher error", zap.Error(err))
		}
	}
}

func (r *certReloader) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}
