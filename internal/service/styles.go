package service

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// StyleConfig locates the style data.
type StyleConfig struct {
	// Dir is a style data directory; empty means the embedded set.
	Dir string
	// TilesDir holds *.pmtiles archives whose metadata refreshes the
	// tile schema. Optional.
	TilesDir string
	// Debounce is how long the directory must be quiet before a reload.
	Debounce time.Duration
}

// StyleService holds the current style build and rebuilds it when the
// style directory changes.
type StyleService struct {
	cfg StyleConfig
	bus *EventBus
	log *zap.Logger

	mu       sync.RWMutex
	current  *Build
	onReload []func(context.Context, *Build)

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewStyleService loads and builds the style once. A failure here is fatal;
// later reload failures keep the previous build.
func NewStyleService(cfg StyleConfig, bus *EventBus, log *zap.Logger) (*StyleService, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	s := &StyleService{cfg: cfg, bus: bus, log: log}
	b, err := LoadBuild(cfg.Dir, cfg.TilesDir, log)
	if err != nil {
		return nil, err
	}
	s.current = b
	s.logBuild(b)
	return s, nil
}

// Current returns the build in use.
func (s *StyleService) Current() *Build {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// OnReload registers fn to run after every successful reload.
func (s *StyleService) OnReload(fn func(context.Context, *Build)) {
	s.mu.Lock()
	s.onReload = append(s.onReload, fn)
	s.mu.Unlock()
}

// Reload rebuilds from disk. On error the current build stays.
func (s *StyleService) Reload(ctx context.Context) error {
	b, err := LoadBuild(s.cfg.Dir, s.cfg.TilesDir, s.log)
	if err != nil {
		s.log.Error("style reload failed", zap.Error(err))
		s.bus.Publish(Event{Resource: ResourceStyle, Action: "failed", Data: err.Error()})
		return err
	}
	s.mu.Lock()
	s.current = b
	hooks := append([]func(context.Context, *Build){}, s.onReload...)
	s.mu.Unlock()

	s.logBuild(b)
	for _, fn := range hooks {
		fn(ctx, b)
	}
	s.bus.Publish(Event{Resource: ResourceStyle, Action: "reloaded"})
	return nil
}

func (s *StyleService) logBuild(b *Build) {
	s.log.Info("style built",
		zap.Int("catalogs", len(b.Style.Catalogs)),
		zap.Strings("modes", b.Style.Modes.Names()),
		zap.Int("unresolved", len(b.Unresolved)),
		zap.Int("issues", len(b.Report.Issues)))
}

// Watch starts reloading on changes under the style directory. It is a
// no-op for the embedded set. Stop with Close.
func (s *StyleService) Watch(ctx context.Context) error {
	if s.cfg.Dir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// fsnotify is not recursive; add every directory.
	err = filepath.WalkDir(s.cfg.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("watching style directory", zap.String("dir", s.cfg.Dir))
	go s.run(ctx, w)
	return nil
}

func (s *StyleService) run(ctx context.Context, w *fsnotify.Watcher) {
	defer close(s.doneCh)

	tick := time.NewTicker(s.cfg.Debounce / 3)
	defer tick.Stop()
	var last time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			s.log.Debug("style file changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			last = time.Now()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("style watcher error", zap.Error(err))
		case <-tick.C:
			if !last.IsZero() && time.Since(last) >= s.cfg.Debounce {
				last = time.Time{}
				_ = s.Reload(ctx)
			}
		}
	}
}

// Close stops the watcher, if any.
func (s *StyleService) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	close(s.stopCh)
	<-s.doneCh
	return w.Close()
}
