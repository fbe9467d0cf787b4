package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/OvertureMaps/explore-site/internal/compose"
	"github.com/OvertureMaps/explore-site/internal/style/layers"
	"github.com/OvertureMaps/explore-site/internal/surface"
)

// State is the UI state as the API exposes it.
type State struct {
	Items    []string            `json:"items" doc:"Visible item ids, sorted"`
	Mode     compose.Mode        `json:"mode"`
	Language string              `json:"language" doc:"Label language tag; empty uses the primary name"`
	Active   *surface.FeatureRef `json:"active,omitempty" doc:"Highlighted feature"`
}

// StatePatch changes part of the state. Nil fields are left alone; an
// empty Items list hides everything.
type StatePatch struct {
	Items       []string            `json:"items,omitempty" doc:"Replace the visible item set"`
	Show        []string            `json:"show,omitempty" doc:"Items to make visible"`
	Hide        []string            `json:"hide,omitempty" doc:"Items to hide"`
	Generation  *compose.Generation `json:"generation,omitempty" enum:"explore,inspect" doc:"Catalog generation to mount"`
	Theme       *string             `json:"theme,omitempty" doc:"Token mode"`
	Language    *string             `json:"language,omitempty" doc:"Label language tag"`
	Active      *surface.FeatureRef `json:"active,omitempty" doc:"Feature to highlight"`
	ClearActive bool                `json:"clearActive,omitempty" doc:"Remove the highlight"`
}

// ErrInvalidPatch is returned for a patch that cannot apply.
var ErrInvalidPatch = errors.New("invalid state patch")

// Change flags what a patch altered.
type Change uint8

const (
	ChangedItems Change = 1 << iota
	ChangedMode
	ChangedLanguage
	ChangedActive
)

// Restyles reports whether the change needs the engine to patch or swap.
func (c Change) Restyles() bool { return c&(ChangedItems|ChangedMode|ChangedLanguage) != 0 }

// StateService owns the visible items, mode, language and active feature.
// It implements compose.State.
type StateService struct {
	bus *EventBus

	mu       sync.RWMutex
	items    layers.ItemSet
	mode     compose.Mode
	language string
	active   *surface.FeatureRef
}

var _ compose.State = (*StateService)(nil)

// NewStateService starts with items visible and mode selected.
func NewStateService(bus *EventBus, items []string, mode compose.Mode) *StateService {
	return &StateService{bus: bus, items: layers.NewItemSet(items...), mode: mode}
}

func (s *StateService) VisibleItems() layers.ItemSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.Clone()
}

func (s *StateService) Mode() compose.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *StateService) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

// Snapshot returns the whole state.
func (s *StateService) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{Items: s.items.Sorted(), Mode: s.mode, Language: s.language}
	if s.active != nil {
		a := *s.active
		st.Active = &a
	}
	return st
}

// Apply applies p and returns what changed plus the feature that was
// active before, for the highlight tracker.
func (s *StateService) Apply(p StatePatch) (Change, *surface.FeatureRef, error) {
	if p.Generation != nil {
		switch *p.Generation {
		case compose.Explore, compose.Inspect:
		default:
			return 0, nil, fmt.Errorf("%w: unknown generation %q", ErrInvalidPatch, *p.Generation)
		}
	}
	if p.Active != nil && p.ClearActive {
		return 0, nil, fmt.Errorf("%w: active and clearActive are exclusive", ErrInvalidPatch)
	}

	s.mu.Lock()
	var ch Change
	prev := s.active

	items := s.items
	if p.Items != nil {
		items = layers.NewItemSet(p.Items...)
	}
	if len(p.Show) > 0 || len(p.Hide) > 0 {
		items = items.Clone()
		for _, id := range p.Show {
			items[id] = struct{}{}
		}
		for _, id := range p.Hide {
			delete(items, id)
		}
	}
	if !sameItems(items, s.items) {
		s.items = items
		ch |= ChangedItems
	}

	mode := s.mode
	if p.Generation != nil {
		mode.Generation = *p.Generation
	}
	if p.Theme != nil {
		mode.Theme = *p.Theme
	}
	if mode != s.mode {
		s.mode = mode
		ch |= ChangedMode
	}
	if p.Language != nil && *p.Language != s.language {
		s.language = *p.Language
		ch |= ChangedLanguage
	}

	switch {
	case p.ClearActive && s.active != nil:
		s.active = nil
		ch |= ChangedActive
	case p.Active != nil && (s.active == nil || *s.active != *p.Active):
		a := *p.Active
		s.active = &a
		ch |= ChangedActive
	}
	s.mu.Unlock()

	if ch != 0 {
		s.bus.Publish(Event{Resource: ResourceState, Action: "updated", Data: ch})
	}
	return ch, prev, nil
}

func sameItems(a, b layers.ItemSet) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b.Has(k) {
			return false
		}
	}
	return true
}
