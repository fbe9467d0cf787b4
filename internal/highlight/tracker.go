// Package highlight marks the one active feature on a surface through
// feature-state.
package highlight

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/OvertureMaps/explore-site/internal/style/expr"
	"github.com/OvertureMaps/explore-site/internal/surface"
)

// Tracker owns the selected flag in the surface's feature-state store. At
// most one feature carries it at any time.
type Tracker struct {
	surface surface.Surface
	log     *zap.Logger

	mu     sync.Mutex
	active *surface.FeatureRef
}

// NewTracker returns a tracker with nothing selected.
func NewTracker(s surface.Surface, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{surface: s, log: log}
}

// SetActive clears prev and marks next selected. Either may be nil.
// Equal refs are a no-op. Any other feature the tracker last marked is
// cleared too, so a caller passing a stale prev cannot leave two features
// selected.
func (t *Tracker) SetActive(next, prev *surface.FeatureRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if same(next, prev) && same(next, t.active) {
		return nil
	}
	if prev != nil && !same(prev, next) {
		if err := t.clear(*prev); err != nil {
			return err
		}
	}
	if t.active != nil && !same(t.active, next) && !same(t.active, prev) {
		if err := t.clear(*t.active); err != nil {
			return err
		}
	}
	t.active = nil
	if next == nil {
		return nil
	}
	if err := t.surface.SetFeatureState(*next, map[string]any{expr.SelectedState: true}); err != nil {
		return fmt.Errorf("select %s/%s/%s: %w", next.Source, next.SourceLayer, next.ID, err)
	}
	ref := *next
	t.active = &ref
	t.log.Debug("feature selected",
		zap.String("source", ref.Source),
		zap.String("source_layer", ref.SourceLayer),
		zap.String("id", ref.ID))
	return nil
}

// Set selects next, clearing whatever the tracker last selected.
func (t *Tracker) Set(next *surface.FeatureRef) error {
	t.mu.Lock()
	prev := t.active
	t.mu.Unlock()
	return t.SetActive(next, prev)
}

// Clear drops the selection.
func (t *Tracker) Clear() error { return t.Set(nil) }

// Active returns the selected feature.
func (t *Tracker) Active() (surface.FeatureRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return surface.FeatureRef{}, false
	}
	return *t.active, true
}

func (t *Tracker) clear(ref surface.FeatureRef) error {
	// the feature may have scrolled out of the viewport; clearing it is harmless
	if err := t.surface.RemoveFeatureState(ref); err != nil {
		return fmt.Errorf("clear %s/%s/%s: %w", ref.Source, ref.SourceLayer, ref.ID, err)
	}
	return nil
}

func same(a, b *surface.FeatureRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
