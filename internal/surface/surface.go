// Package surface is the boundary to the rendering engine: the calls the
// style engine makes against a live map, and an in-memory implementation
// that records the resulting style.
package surface

import (
	"errors"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

var (
	ErrLayerNotFound = errors.New("layer not found")
	ErrLayerExists   = errors.New("layer already exists")
	ErrSourceExists  = errors.New("source already exists")
)

// Surface is the subset of the rendering engine's map API the engine uses.
type Surface interface {
	AddSource(id string, src Source) error
	HasSource(id string) bool

	// AddLayer inserts l before the layer named before, or on top when
	// before is empty or unknown.
	AddLayer(l Layer, before string) error
	RemoveLayer(id string) error
	HasLayer(id string) bool

	// Setting a null value resets the property to its default.
	SetLayoutProperty(id, key string, v doc.Node) error
	SetPaintProperty(id, key string, v doc.Node) error

	HasImage(name string) bool
	AddImage(name string, img Image) error

	SetFeatureState(ref FeatureRef, state map[string]any) error
	// RemoveFeatureState clears all state on ref. Unknown refs are a no-op.
	RemoveFeatureState(ref FeatureRef) error
}

// Layer is a MapLibre layer document ready to add.
type Layer struct {
	ID  string
	Def *doc.Mapping
}

// Source is a vector tile source.
type Source struct {
	Type        string   `json:"type"`
	URL         string   `json:"url,omitempty"`
	Tiles       []string `json:"tiles,omitempty"`
	MinZoom     *float64 `json:"minzoom,omitempty"`
	MaxZoom     *float64 `json:"maxzoom,omitempty"`
	Attribution string   `json:"attribution,omitempty"`
}

// Image is a registered icon.
type Image struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	SDF    bool   `json:"sdf,omitempty"`
	Data   []byte `json:"-"`
}

// FeatureRef addresses one feature for feature-state.
type FeatureRef struct {
	Source      string `json:"source" doc:"Vector source name"`
	SourceLayer string `json:"sourceLayer" doc:"Source layer (type) name"`
	ID          string `json:"id" doc:"Feature id"`
}

func (r FeatureRef) key() string { return r.Source + "\x00" + r.SourceLayer + "\x00" + r.ID }

// OpKind names a surface mutation.
type OpKind string

const (
	OpAddSource          OpKind = "add-source"
	OpAddLayer           OpKind = "add-layer"
	OpRemoveLayer        OpKind = "remove-layer"
	OpSetLayout          OpKind = "set-layout"
	OpSetPaint           OpKind = "set-paint"
	OpAddImage           OpKind = "add-image"
	OpSetFeatureState    OpKind = "set-feature-state"
	OpRemoveFeatureState OpKind = "remove-feature-state"
)

// Op is one applied mutation, published to the memory surface's sink.
type Op struct {
	Kind    OpKind      `json:"kind"`
	Target  string      `json:"target,omitempty"`
	Before  string      `json:"before,omitempty"`
	Key     string      `json:"key,omitempty"`
	Value   any         `json:"value,omitempty"`
	Feature *FeatureRef `json:"feature,omitempty"`
}
