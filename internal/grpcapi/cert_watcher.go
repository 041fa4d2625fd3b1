package grpcapi

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// certWatcher keeps a *tls.Certificate current by reloading it whenever
// either of its two files changes on disk, the same fsnotify pattern the
// teacher's pkg/config/watcher.go uses for its config file, retargeted
// here at a certificate/key pair instead.
type certWatcher struct {
	certPath string
	keyPath  string
	log      *slog.Logger
	fsw      *fsnotify.Watcher
	current  atomic.Pointer[tls.Certificate]
	done     chan struct{}
}

func newCertWatcher(certPath, keyPath string, log *slog.Logger) (*certWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	cw := &certWatcher{certPath: certPath, keyPath: keyPath, log: log, fsw: fsw, done: make(chan struct{})}
	if err := cw.reload(); err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(certPath); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", certPath, err)
	}
	if err := fsw.Add(keyPath); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", keyPath, err)
	}
	return cw, nil
}

func (cw *certWatcher) reload() error {
	cert, err := tls.LoadX509KeyPair(cw.certPath, cw.keyPath)
	if err != nil {
		return fmt.Errorf("load certificate %s/%s: %w", cw.certPath, cw.keyPath, err)
	}
	cw.current.Store(&cert)
	return nil
}

func (cw *certWatcher) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return cw.current.Load(), nil
}

func (cw *certWatcher) run() {
	defer cw.fsw.Close()
	for {
		select {
		case event, ok := <-cw.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := cw.reload(); err != nil {
					cw.log.Error("certificate reload failed", "error", err)
				} else {
					cw.log.Info("certificate reloaded", "certificate", cw.certPath)
				}
			}
		case err, ok := <-cw.fsw.Errors:
			if !ok {
				return
			}
			cw.log.Error("certificate watcher error", "error", err)
		case <-cw.done:
			return
		}
	}
}

func (cw *certWatcher) stop() {
	close(cw.done)
}
