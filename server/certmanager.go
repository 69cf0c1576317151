package server

import (
	"crypto/tls"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
)

// CertManager serves the listener certificate and reloads it when the files
// change on disk, so rotated certificates are picked up without a restart.
type CertManager struct {
	certPath string
	keyPath  string

	mu          sync.RWMutex
	certificate *tls.Certificate

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewCertManager loads the initial certificate and starts watching the
// directories holding the files. Watching the directory instead of the file
// survives symlink flips.
func NewCertManager(certPath, keyPath string) (*CertManager, error) {
	cm := &CertManager{
		certPath: certPath,
		keyPath:  keyPath,
		stopCh:   make(chan struct{}),
	}

	if err := cm.loadCertificate(); err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	cm.watcher = watcher

	dirs := map[string]struct{}{
		filepath.Dir(certPath): {},
		filepath.Dir(keyPath):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go cm.watch()

	return cm, nil
}

func (cm *CertManager) loadCertificate() error {
	cert, err := tls.LoadX509KeyPair(cm.certPath, cm.keyPath)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.certificate = &cert
	cm.mu.Unlock()

	zlog.Info("TLS certificate loaded", "cert", cm.certPath)

	return nil
}

func (cm *CertManager) watch() {
	for {
		select {
		case event, ok := <-cm.watcher.Events:
			if !ok {
				return
			}

			if event.Name != cm.certPath && event.Name != cm.keyPath {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			zlog.Info("Certificate file changed, reloading", "path", event.Name)

			if err := cm.loadCertificate(); err != nil {
				zlog.Error("Failed to reload certificate", "error", err.Error())
			}

		case err, ok := <-cm.watcher.Errors:
			if !ok {
				return
			}
			zlog.Error("Certificate watcher error", "error", err.Error())

		case <-cm.stopCh:
			return
		}
	}
}

// (*CertManager).GetCertificate implements tls.Config.GetCertificate.
func (cm *CertManager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return cm.certificate, nil
}

// (*CertManager).TLSConfig returns a server TLS config backed by the
// manager.
func (cm *CertManager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: cm.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// (*CertManager).Stop ends the watch loop.
func (cm *CertManager) Stop() {
	close(cm.stopCh)
	_ = cm.watcher.Close()
}
