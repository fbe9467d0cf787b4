package layers

import (
	"fmt"
	"io/fs"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
)

// Manifest is the ordered list of template files for one generation.
type Manifest struct {
	Generation string
	Paths      []string
}

// ParseManifest reads a manifest document: a sequence of template paths, or
// a mapping with a "layers" sequence.
func ParseManifest(generation string, n doc.Node) (Manifest, error) {
	if m, ok := n.(*doc.Mapping); ok {
		v, ok := m.Get("layers")
		if !ok {
			return Manifest{}, fmt.Errorf("%s manifest: %w: missing layers list", generation, ErrMalformed)
		}
		n = v
	}
	seq, ok := n.(doc.Sequence)
	if !ok {
		return Manifest{}, fmt.Errorf("%s manifest: %w: want a list of paths", generation, ErrMalformed)
	}
	out := Manifest{Generation: generation, Paths: make([]string, 0, len(seq))}
	for i, e := range seq {
		lit, ok := e.(doc.Literal)
		p, isText := lit.Text()
		if !ok || !isText || p == "" {
			return Manifest{}, fmt.Errorf("%s manifest: %w: entry %d is not a path", generation, ErrMalformed, i)
		}
		out.Paths = append(out.Paths, p)
	}
	return out, nil
}

// LoadTemplates reads and decodes every template the manifest lists from
// fsys, preserving manifest order.
func (m Manifest) LoadTemplates(fsys fs.FS) ([]Template, error) {
	out := make([]Template, 0, len(m.Paths))
	for _, p := range m.Paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read layer template: %w", err)
		}
		n, err := doc.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		t, err := TemplateFromNode(m.Generation, p, n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
