// Package killswitch suppresses every proactive send while engaged. It is
// engaged by an operator toggle or by the presence of a watched file.
package killswitch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Switch reports whether all sends must stop. The zero value is a
// disengaged switch with no watched file.
type Switch struct {
	path   string
	logger *zap.Logger

	manual atomic.Bool
	file   atomic.Bool
	polled atomic.Bool // watcher unavailable; stat on every check

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a switch bound to path. An empty path disables the file trigger.
func New(path string, logger *zap.Logger) *Switch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Switch{path: path, logger: logger.Named("killswitch")}
}

// Engaged reports whether the switch is engaged by either trigger.
func (s *Switch) Engaged() bool {
	if s.manual.Load() {
		return true
	}
	if s.polled.Load() {
		return fileExists(s.path)
	}
	return s.file.Load()
}

// Set engages or releases the operator toggle. The file trigger is unaffected.
func (s *Switch) Set(engaged bool) {
	prev := s.manual.Swap(engaged)
	if prev != engaged {
		s.logger.Warn("kill switch toggled", zap.Bool("engaged", engaged))
	}
}

// Path returns the watched file, if any.
func (s *Switch) Path() string { return s.path }

// Start begins watching the file's directory. It is non-blocking. When the
// watcher cannot be set up the switch falls back to checking the file on
// every call to Engaged.
func (s *Switch) Start(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return nil
	}

	s.file.Store(fileExists(s.path))

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Warn("create kill switch dir failed, polling instead", zap.Error(err))
		s.polled.Store(true)
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, polling instead", zap.Error(err))
		s.polled.Store(true)
		return nil
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		s.logger.Warn("watch kill switch dir failed, polling instead", zap.String("dir", dir), zap.Error(err))
		s.polled.Store(true)
		return nil
	}

	s.watcher = w
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
	s.logger.Info("watching kill switch", zap.String("path", s.path), zap.Bool("engaged", s.file.Load()))
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (s *Switch) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	if err := s.watcher.Close(); err != nil {
		s.logger.Error("close watcher", zap.Error(err))
	}
	s.watcher = nil
}

func (s *Switch) run(ctx context.Context) {
	defer close(s.doneCh)
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			engaged := fileExists(s.path)
			if s.file.Swap(engaged) != engaged {
				s.logger.Warn("kill switch file changed", zap.String("op", event.Op.String()), zap.Bool("engaged", engaged))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", zap.Error(err))
			// Missed events are possible after an overflow; resync.
			s.file.Store(fileExists(s.path))
		}
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
