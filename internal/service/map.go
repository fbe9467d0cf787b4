package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/OvertureMaps/explore-site/internal/compose"
	"github.com/OvertureMaps/explore-site/internal/highlight"
	"github.com/OvertureMaps/explore-site/internal/style/layers"
	"github.com/OvertureMaps/explore-site/internal/surface"
)

// DefaultSources are the vector tile sources of a release, one PMTiles
// archive per theme.
var DefaultSources = []string{"base", "buildings", "places", "divisions", "transportation", "addresses"}

// MapConfig describes the tiles the surface draws from.
type MapConfig struct {
	// TilesURL is the archive root; archives live at
	// <TilesURL>/<release>/<source>.pmtiles.
	TilesURL string
	// Release overrides the tile schema's release.
	Release string
	Glyphs  string
	// IconLimit caps concurrent icon fetches during a mount.
	IconLimit int
}

// MapService is the live map: a memory surface driven by the composition
// engine from the state service, plus the highlight tracker.
type MapService struct {
	Surface *surface.Memory
	Engine  *compose.Engine
	Tracker *highlight.Tracker

	cfg    MapConfig
	state  *StateService
	styles *StyleService
	bus    *EventBus
	log    *zap.Logger
}

// NewMapService wires a surface to the current style and state. Nothing is
// mounted until Start.
func NewMapService(cfg MapConfig, styles *StyleService, state *StateService, bus *EventBus, log *zap.Logger) *MapService {
	if log == nil {
		log = zap.NewNop()
	}
	mem := surface.NewMemory()
	mem.SetGlyphs(cfg.Glyphs)
	mem.OnOp(func(op surface.Op) {
		bus.Publish(Event{Resource: ResourceSurface, Action: string(op.Kind), ID: op.Target, Data: op})
	})
	m := &MapService{
		Surface: mem,
		Tracker: highlight.NewTracker(mem, log.Named("highlight")),
		cfg:     cfg,
		state:   state,
		styles:  styles,
		bus:     bus,
		log:     log,
	}
	m.Engine = compose.NewEngine(mem, state, styles.Current().Style,
		compose.WithLoader(&iconLoader{styles: styles, limit: cfg.IconLimit, log: log.Named("icons")}),
		compose.WithLogger(log.Named("engine")))
	styles.OnReload(m.reload)
	return m
}

// Start adds the tile sources and mounts the generation the state asks for.
func (m *MapService) Start(ctx context.Context) error {
	if err := m.addSources(m.styles.Current()); err != nil {
		return err
	}
	return m.Engine.Sync(ctx)
}

// Apply changes the state and brings the surface in line with it.
func (m *MapService) Apply(ctx context.Context, p StatePatch) (State, error) {
	if p.Theme != nil && !m.Engine.Style().Modes.Has(*p.Theme) {
		return State{}, fmt.Errorf("%w: unknown theme %q", ErrInvalidPatch, *p.Theme)
	}
	ch, prev, err := m.state.Apply(p)
	if err != nil {
		return State{}, err
	}
	if ch.Restyles() {
		if err := m.Engine.Sync(ctx); err != nil {
			return m.state.Snapshot(), err
		}
	}
	if ch&ChangedActive != 0 {
		if err := m.Tracker.SetActive(m.state.Snapshot().Active, prev); err != nil {
			return m.state.Snapshot(), err
		}
	}
	return m.state.Snapshot(), nil
}

// VisibleTypes lists the source-layer types some visible item draws.
func (m *MapService) VisibleTypes() []string {
	idx := m.Engine.Style().Index
	if idx == nil {
		return nil
	}
	return idx.VisibleTypes(m.state.VisibleItems())
}

func (m *MapService) reload(ctx context.Context, b *Build) {
	if err := m.addSources(b); err != nil {
		m.log.Warn("add sources after reload", zap.Error(err))
	}
	if err := m.Engine.Reload(ctx, b.Style); err != nil {
		m.log.Warn("remount after reload", zap.Error(err))
	}
}

// Release is the configured release, else the tile schema's.
func (m *MapService) Release() string {
	if m.cfg.Release != "" {
		return m.cfg.Release
	}
	if s := m.styles.Current().Bundle.Schema; s != nil {
		return s.Release
	}
	return ""
}

func (m *MapService) addSources(b *Build) error {
	release := m.cfg.Release
	names := DefaultSources
	if s := b.Bundle.Schema; s != nil {
		if release == "" {
			release = s.Release
		}
		if len(s.Sources) > 0 {
			names = s.SourceNames()
		}
	}
	root := strings.TrimSuffix(m.cfg.TilesURL, "/")
	for _, name := range names {
		if m.Surface.HasSource(name) {
			continue
		}
		url := fmt.Sprintf("pmtiles://%s/%s.pmtiles", root, name)
		if release != "" {
			url = fmt.Sprintf("pmtiles://%s/%s/%s.pmtiles", root, release, name)
		}
		if err := m.Surface.AddSource(name, surface.Source{Type: "vector", URL: url}); err != nil {
			return fmt.Errorf("add source %s: %w", name, err)
		}
	}
	return nil
}

// iconLoader loads icons from whichever style build is current.
type iconLoader struct {
	styles *StyleService
	limit  int
	log    *zap.Logger
}

func (l *iconLoader) Load(ctx context.Context, s surface.Surface, c *layers.Catalog) error {
	b := l.styles.Current().Bundle
	inner := &compose.IconLoader{Source: b.NewIcons(), Names: b.Icons, Limit: l.limit, Log: l.log}
	return inner.Load(ctx, s, c)
}
