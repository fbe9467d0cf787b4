package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
	"github.com/OvertureMaps/explore-site/internal/style/layers"
	"github.com/OvertureMaps/explore-site/internal/surface"
)

// ErrSuperseded is returned by a mount that lost a race with a later mount,
// unmount or generation change.
var ErrSuperseded = errors.New("compose: mount superseded")

// ErrNoCatalog is returned when no catalog exists for a generation.
var ErrNoCatalog = errors.New("compose: no catalog for generation")

// Loader makes sure resources a catalog references exist on the surface
// before its layers are added. Failures should be logged, not returned; an
// error aborts the mount.
type Loader interface {
	Load(ctx context.Context, s surface.Surface, c *layers.Catalog) error
}

// Engine owns the layers of one mounted generation on a surface.
//
// All surface mutations happen with the engine locked. The lock is released
// only while a mount waits on its Loader; an epoch counter tells the mount on
// wake-up whether it has been superseded.
type Engine struct {
	surface surface.Surface
	state   State
	loader  Loader
	log     *zap.Logger
	before  string

	mu      sync.Mutex
	style   *Style
	epoch   uint64
	pending int
	dirty   bool
	current *mounted
}

type mounted struct {
	mode    Mode
	catalog *layers.Catalog
	styler  *Styler
	// applied caches the last value set per layer and property.
	applied map[string]map[string]doc.Node
}

// Option configures an Engine.
type Option func(*Engine)

// WithLoader sets the resource loader run before every mount.
func WithLoader(l Loader) Option { return func(e *Engine) { e.loader = l } }

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option { return func(e *Engine) { e.log = log } }

// WithBefore adds every layer beneath the named surface layer, keeping
// layers the engine does not own on top.
func WithBefore(id string) Option { return func(e *Engine) { e.before = id } }

// NewEngine returns an engine with nothing mounted.
func NewEngine(s surface.Surface, state State, style *Style, opts ...Option) *Engine {
	e := &Engine{surface: s, state: state, style: style, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Mounted reports the mode currently on the surface.
func (e *Engine) Mounted() (Mode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Mode{}, false
	}
	return e.current.mode, true
}

// Pending reports whether a mount is waiting on resources.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending > 0
}

// Mount swaps the surface to generation gen. Resources are loaded with the
// engine unlocked; afterwards the mount proceeds only if no later mount or
// unmount started and the state still asks for gen. The old generation is
// then removed and the new one added in catalog order, styled from the state
// as it is at that moment.
func (e *Engine) Mount(ctx context.Context, gen Generation) error {
	e.mu.Lock()
	e.epoch++
	epoch := e.epoch
	style := e.style
	e.pending++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.pending--
		// updates deferred behind a mount that did not commit still apply
		if e.pending == 0 && e.dirty {
			e.dirty = false
			e.patch()
		}
	}()

	probe, ok := style.Catalog(Mode{Generation: gen, Theme: e.state.Mode().Theme})
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCatalog, gen)
	}
	if e.loader != nil {
		if err := e.loader.Load(ctx, e.surface, probe); err != nil {
			return fmt.Errorf("load resources for %s: %w", gen, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		e.log.Debug("mount superseded by a later swap", zap.String("generation", string(gen)))
		return ErrSuperseded
	}
	mode := e.state.Mode()
	if mode.Generation != gen {
		e.log.Debug("mount superseded by state",
			zap.String("generation", string(gen)),
			zap.String("want", string(mode.Generation)))
		return ErrSuperseded
	}
	if err := e.commit(mode); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// commit replaces whatever is mounted with mode's catalog. Caller holds mu.
func (e *Engine) commit(mode Mode) error {
	cat, ok := e.style.Catalog(mode)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCatalog, mode.Generation)
	}
	e.removeCurrent()

	styler := NewStyler(e.style, mode.Theme)
	view := styler.View(e.state.VisibleItems(), e.state.Language())
	m := &mounted{
		mode:    mode,
		catalog: cat,
		styler:  styler,
		applied: make(map[string]map[string]doc.Node, cat.Len()),
	}
	for _, spec := range cat.Specs() {
		if e.surface.HasLayer(spec.ID) {
			continue
		}
		st := styler.Apply(spec, view)
		def := spec.Node()
		def.Set("layout", st.Layout)
		def.Set("paint", st.Paint)
		if err := e.surface.AddLayer(surface.Layer{ID: spec.ID, Def: def}, e.before); err != nil {
			e.log.Warn("add layer", zap.String("layer", spec.ID), zap.Error(err))
			continue
		}
		m.applied[spec.ID] = snapshot(st)
	}
	e.current = m
	e.log.Info("mounted",
		zap.String("generation", string(mode.Generation)),
		zap.String("theme", mode.Theme),
		zap.Int("layers", len(m.applied)))
	return nil
}

func snapshot(st Styled) map[string]doc.Node {
	out := make(map[string]doc.Node, st.Layout.Len()+st.Paint.Len())
	for _, k := range st.Layout.Keys() {
		v, _ := st.Layout.Get(k)
		out[layoutKey(k)] = v
	}
	for _, k := range st.Paint.Keys() {
		v, _ := st.Paint.Get(k)
		out[paintKey(k)] = v
	}
	return out
}

func layoutKey(k string) string { return "layout/" + k }
func paintKey(k string) string  { return "paint/" + k }

// Update patches the mounted layers to the current state and returns the
// number of properties it set. Only changed values are sent, so repeated
// calls are cheap and change nothing. While a mount is pending the update is
// deferred; the mount styles from the then-current state.
func (e *Engine) Update() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending > 0 {
		e.dirty = true
		return 0
	}
	return e.patch()
}

// patch diffs every mounted layer against its cache. Caller holds mu.
func (e *Engine) patch() int {
	if e.current == nil {
		return 0
	}
	m := e.current
	view := m.styler.View(e.state.VisibleItems(), e.state.Language())
	n := 0
	for _, spec := range m.catalog.Specs() {
		if !e.surface.HasLayer(spec.ID) {
			continue
		}
		st := m.styler.Apply(spec, view)
		next := snapshot(st)
		prev := m.applied[spec.ID]
		if prev == nil {
			prev = make(map[string]doc.Node)
			m.applied[spec.ID] = prev
		}
		for _, k := range st.Layout.Keys() {
			v, _ := st.Layout.Get(k)
			n += e.set(spec.ID, layoutKey(k), k, v, prev, e.surface.SetLayoutProperty)
		}
		for _, k := range st.Paint.Keys() {
			v, _ := st.Paint.Get(k)
			n += e.set(spec.ID, paintKey(k), k, v, prev, e.surface.SetPaintProperty)
		}
		// properties that disappeared (e.g. after a theme change) reset to default
		for ck := range prev {
			if _, ok := next[ck]; ok {
				continue
			}
			group, k, _ := strings.Cut(ck, "/")
			setter := e.surface.SetPaintProperty
			if group == "layout" {
				setter = e.surface.SetLayoutProperty
			}
			n += e.set(spec.ID, ck, k, doc.Null(), prev, setter)
			delete(prev, ck)
		}
	}
	return n
}

func (e *Engine) set(id, cacheKey, key string, v doc.Node, prev map[string]doc.Node,
	setter func(id, key string, v doc.Node) error) int {
	if old, ok := prev[cacheKey]; ok && doc.Equal(old, v) {
		return 0
	}
	if !e.surface.HasLayer(id) {
		return 0
	}
	if err := setter(id, key, v); err != nil {
		if errors.Is(err, surface.ErrLayerNotFound) {
			return 0
		}
		e.log.Warn("set property", zap.String("layer", id), zap.String("key", key), zap.Error(err))
		return 0
	}
	prev[cacheKey] = v
	return 1
}

// Retheme switches the mounted generation to another token mode by patching
// properties in place; layers are not re-added.
func (e *Engine) Retheme(theme string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.mode.Theme == theme {
		return 0
	}
	mode := Mode{Generation: e.current.mode.Generation, Theme: theme}
	cat, ok := e.style.Catalog(mode)
	if !ok {
		return 0
	}
	e.current.mode = mode
	e.current.catalog = cat
	e.current.styler = NewStyler(e.style, theme)
	if e.pending > 0 {
		e.dirty = true
		return 0
	}
	return e.patch()
}

// Unmount removes every layer of the mounted generation and cancels any
// pending mount.
func (e *Engine) Unmount() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++
	e.removeCurrent()
}

// removeCurrent removes the mounted layers. Caller holds mu.
func (e *Engine) removeCurrent() {
	if e.current == nil {
		return
	}
	for _, spec := range e.current.catalog.Specs() {
		if !e.surface.HasLayer(spec.ID) {
			continue
		}
		if err := e.surface.RemoveLayer(spec.ID); err != nil && !errors.Is(err, surface.ErrLayerNotFound) {
			e.log.Warn("remove layer", zap.String("layer", spec.ID), zap.Error(err))
		}
	}
	e.log.Info("unmounted", zap.String("generation", string(e.current.mode.Generation)))
	e.current = nil
}

// Sync brings the surface in line with the state: mount on a generation
// change, retheme on a theme change, otherwise patch.
func (e *Engine) Sync(ctx context.Context) error {
	want := e.state.Mode()
	have, ok := e.Mounted()
	switch {
	case !ok || have.Generation != want.Generation:
		err := e.Mount(ctx, want.Generation)
		if errors.Is(err, ErrSuperseded) {
			return nil
		}
		return err
	case have.Theme != want.Theme:
		e.Retheme(want.Theme)
	default:
		e.Update()
	}
	return nil
}

// Reload installs a rebuilt style. The mounted generation is re-added from
// the new catalogs.
func (e *Engine) Reload(ctx context.Context, style *Style) error {
	e.mu.Lock()
	e.style = style
	var gen Generation
	if e.current != nil {
		gen = e.current.mode.Generation
	}
	e.mu.Unlock()
	if gen == "" {
		return nil
	}
	return e.Mount(ctx, gen)
}

// Style returns the style the engine is running with.
func (e *Engine) Style() *Style {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.style
}

// InteractiveLayerIDs lists mounted layers that take pointer input: those
// not marked unselectable whose item, or else source-layer type, is visible.
func (e *Engine) InteractiveLayerIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	items := e.state.VisibleItems()
	mask := e.current.styler.View(items, "").mask
	var out []string
	for _, spec := range e.current.catalog.Specs() {
		m := spec.Meta()
		if !m.Selectable || !e.surface.HasLayer(spec.ID) {
			continue
		}
		if m.Item != "" {
			if !items.Has(m.Item) {
				continue
			}
		} else if spec.SourceLayer == "" || e.style.Index == nil || !e.style.Index.TypeVisible(spec.SourceLayer, mask) {
			continue
		}
		out = append(out, spec.ID)
	}
	return out
}
