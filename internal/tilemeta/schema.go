package tilemeta

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Layer is what styles may rely on for one source-layer.
type Layer struct {
	Fields  map[string]string `yaml:"fields" json:"fields"`
	MinZoom float64           `yaml:"minzoom" json:"minzoom"`
	MaxZoom float64           `yaml:"maxzoom" json:"maxzoom"`
	// Values lists the allowed values of enum fields such as subtype and
	// class. Archives do not carry them; they come from the schema file.
	Values map[string][]string `yaml:"values,omitempty" json:"values,omitempty"`
}

// Schema maps source name and source-layer to Layer.
type Schema struct {
	Release string                      `yaml:"release,omitempty" json:"release,omitempty"`
	Sources map[string]map[string]Layer `yaml:"sources" json:"sources"`
}

// ParseSchema decodes a YAML (or JSON) schema file.
func ParseSchema(data []byte) (*Schema, error) {
	s := &Schema{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse tile schema: %w", err)
	}
	if s.Sources == nil {
		s.Sources = map[string]map[string]Layer{}
	}
	return s, nil
}

// Lookup returns the schema of source's layer.
func (s *Schema) Lookup(source, layer string) (Layer, bool) {
	if s == nil {
		return Layer{}, false
	}
	l, ok := s.Sources[source][layer]
	return l, ok
}

// SourceNames lists sources, sorted.
func (s *Schema) SourceNames() []string {
	out := make([]string, 0, len(s.Sources))
	for k := range s.Sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AddMetadata records the vector layers of one archive under source.
// Fields and zooms replace what the schema had; enum values are kept.
func (s *Schema) AddMetadata(source string, md Metadata) {
	if s.Sources == nil {
		s.Sources = map[string]map[string]Layer{}
	}
	layers := s.Sources[source]
	if layers == nil {
		layers = map[string]Layer{}
		s.Sources[source] = layers
	}
	for _, vl := range md.VectorLayers {
		l := layers[vl.ID]
		l.Fields = vl.Fields
		l.MinZoom = vl.MinZoom
		l.MaxZoom = vl.MaxZoom
		layers[vl.ID] = l
	}
}

// LoadDir reads every *.pmtiles archive in dir into s. The source name is
// the file name without extension, e.g. base.pmtiles -> base.
func (s *Schema) LoadDir(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.pmtiles"))
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := s.loadArchive(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) loadArchive(path string) error {
	_, md, err := ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	source := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s.AddMetadata(source, md)
	return nil
}
