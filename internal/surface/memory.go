package surface

import (
	"fmt"
	"sort"
	"sync"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

// Memory is an in-memory Surface. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	sources map[string]Source
	srcIDs  []string
	layers  []*doc.Mapping
	byID    map[string]*doc.Mapping
	images  map[string]Image
	state   map[string]featureState
	sink    func(Op)
	glyphs  string
	sprite  string
}

type featureState struct {
	ref   FeatureRef
	state map[string]any
}

// NewMemory returns an empty surface.
func NewMemory() *Memory {
	return &Memory{
		sources: make(map[string]Source),
		byID:    make(map[string]*doc.Mapping),
		images:  make(map[string]Image),
		state:   make(map[string]featureState),
	}
}

// OnOp installs fn to receive every applied mutation. fn runs with the
// surface locked and must not call back into it.
func (m *Memory) OnOp(fn func(Op)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = fn
}

// SetGlyphs sets the glyphs URL template reported by Style.
func (m *Memory) SetGlyphs(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.glyphs = url
}

// SetSprite sets the sprite URL reported by Style.
func (m *Memory) SetSprite(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sprite = url
}

func (m *Memory) emit(op Op) {
	if m.sink != nil {
		m.sink(op)
	}
}

func (m *Memory) AddSource(id string, src Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; ok {
		return fmt.Errorf("%w: %s", ErrSourceExists, id)
	}
	m.sources[id] = src
	m.srcIDs = append(m.srcIDs, id)
	m.emit(Op{Kind: OpAddSource, Target: id, Value: src})
	return nil
}

func (m *Memory) HasSource(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sources[id]
	return ok
}

func (m *Memory) AddLayer(l Layer, before string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[l.ID]; ok {
		return fmt.Errorf("%w: %s", ErrLayerExists, l.ID)
	}
	def := doc.CloneMapping(l.Def)
	if def == nil {
		def = doc.NewMapping()
	}
	def.Set("id", doc.Str(l.ID))

	at := len(m.layers)
	if before != "" {
		for i, ld := range m.layers {
			if layerID(ld) == before {
				at = i
				break
			}
		}
	}
	m.layers = append(m.layers, nil)
	copy(m.layers[at+1:], m.layers[at:])
	m.layers[at] = def
	m.byID[l.ID] = def
	m.emit(Op{Kind: OpAddLayer, Target: l.ID, Before: before, Value: doc.CloneMapping(def)})
	return nil
}

func layerID(m *doc.Mapping) string {
	v, _ := m.Get("id")
	lit, _ := v.(doc.Literal)
	s, _ := lit.Text()
	return s
}

func (m *Memory) RemoveLayer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	delete(m.byID, id)
	for i, ld := range m.layers {
		if layerID(ld) == id {
			m.layers = append(m.layers[:i], m.layers[i+1:]...)
			break
		}
	}
	m.emit(Op{Kind: OpRemoveLayer, Target: id})
	return nil
}

func (m *Memory) HasLayer(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byID[id]
	return ok
}

func (m *Memory) SetLayoutProperty(id, key string, v doc.Node) error {
	return m.setProperty(OpSetLayout, "layout", id, key, v)
}

func (m *Memory) SetPaintProperty(id, key string, v doc.Node) error {
	return m.setProperty(OpSetPaint, "paint", id, key, v)
}

func (m *Memory) setProperty(kind OpKind, group, id, key string, v doc.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	var props *doc.Mapping
	if g, ok := def.Get(group); ok {
		props, _ = g.(*doc.Mapping)
	}
	if props == nil {
		props = doc.NewMapping()
		def.Set(group, props)
	}
	if isNull(v) {
		props.Delete(key)
	} else {
		props.Set(key, doc.Clone(v))
	}
	m.emit(Op{Kind: kind, Target: id, Key: key, Value: doc.Clone(v)})
	return nil
}

func isNull(v doc.Node) bool {
	if v == nil {
		return true
	}
	lit, ok := v.(doc.Literal)
	return ok && lit.Value == nil
}

func (m *Memory) HasImage(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.images[name]
	return ok
}

func (m *Memory) AddImage(name string, img Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[name] = img
	m.emit(Op{Kind: OpAddImage, Target: name, Value: img})
	return nil
}

func (m *Memory) SetFeatureState(ref FeatureRef, state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.state[ref.key()]
	if !ok {
		fs = featureState{ref: ref, state: make(map[string]any)}
	}
	for k, v := range state {
		fs.state[k] = v
	}
	m.state[ref.key()] = fs
	r := ref
	m.emit(Op{Kind: OpSetFeatureState, Feature: &r, Value: state})
	return nil
}

func (m *Memory) RemoveFeatureState(ref FeatureRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state[ref.key()]; !ok {
		return nil
	}
	delete(m.state, ref.key())
	r := ref
	m.emit(Op{Kind: OpRemoveFeatureState, Feature: &r})
	return nil
}

// FeatureState returns a copy of the state stored for ref.
func (m *Memory) FeatureState(ref FeatureRef) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fs, ok := m.state[ref.key()]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(fs.state))
	for k, v := range fs.state {
		out[k] = v
	}
	return out
}

// Flagged lists the features whose state has flag set to true.
func (m *Memory) Flagged(flag string) []FeatureRef {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []FeatureRef
	for _, fs := range m.state {
		if fs.state[flag] == true {
			out = append(out, fs.ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

// LayerIDs lists live layers in draw order.
func (m *Memory) LayerIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, len(m.layers))
	for i, ld := range m.layers {
		ids[i] = layerID(ld)
	}
	return ids
}

// Layer returns a copy of the live layer document.
func (m *Memory) Layer(id string) (*doc.Mapping, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return doc.CloneMapping(def), true
}

// Paint returns the live paint value for key on layer id.
func (m *Memory) Paint(id, key string) (doc.Node, bool) {
	return m.property(id, "paint", key)
}

// Layout returns the live layout value for key on layer id.
func (m *Memory) Layout(id, key string) (doc.Node, bool) {
	return m.property(id, "layout", key)
}

func (m *Memory) property(id, group, key string) (doc.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	v, ok := doc.Lookup(def, []string{group, key})
	if !ok {
		return nil, false
	}
	return doc.Clone(v), true
}

// Style renders the live state as a MapLibre style document.
func (m *Memory) Style(name string) *doc.Mapping {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := doc.NewMapping().Set("version", doc.Num(8))
	if name != "" {
		st.Set("name", doc.Str(name))
	}
	if m.glyphs != "" {
		st.Set("glyphs", doc.Str(m.glyphs))
	}
	if m.sprite != "" {
		st.Set("sprite", doc.Str(m.sprite))
	}
	sources := doc.NewMapping()
	for _, id := range m.srcIDs {
		sources.Set(id, sourceNode(m.sources[id]))
	}
	st.Set("sources", sources)
	layers := make(doc.Sequence, len(m.layers))
	for i, ld := range m.layers {
		layers[i] = doc.CloneMapping(ld)
	}
	st.Set("layers", layers)
	return st
}

func sourceNode(s Source) *doc.Mapping {
	n := doc.NewMapping().Set("type", doc.Str(s.Type))
	if s.URL != "" {
		n.Set("url", doc.Str(s.URL))
	}
	if len(s.Tiles) > 0 {
		n.Set("tiles", doc.FromAny(s.Tiles))
	}
	if s.MinZoom != nil {
		n.Set("minzoom", doc.Num(*s.MinZoom))
	}
	if s.MaxZoom != nil {
		n.Set("maxzoom", doc.Num(*s.MaxZoom))
	}
	if s.Attribution != "" {
		n.Set("attribution", doc.Str(s.Attribution))
	}
	return n
}
