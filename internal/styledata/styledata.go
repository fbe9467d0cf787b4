// Package styledata loads the raw style inputs: token files, layer
// manifests and templates, the item tree, icons and the tile schema. A
// complete set is embedded; a directory with the same layout overrides it.
package styledata

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
	"github.com/OvertureMaps/explore-site/internal/style/layers"
	"github.com/OvertureMaps/explore-site/internal/style/tokens"
	"github.com/OvertureMaps/explore-site/internal/tilemeta"
)

//go:embed all:data
var embedded embed.FS

// Default returns the embedded data set.
func Default() fs.FS {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		panic(err)
	}
	return sub
}

// Layout of a data set.
const (
	PrimitiveColors = "tokens/primitives/colors.yaml"
	PrimitiveFonts  = "tokens/primitives/fonts.yaml"
	SemanticExplore = "tokens/semantic/explore.yaml"
	SemanticInspect = "tokens/semantic/inspect.yaml"
	SemanticFonts   = "tokens/semantic/fonts.yaml"
	ModesGlob       = "tokens/modes/*.yaml"
	ItemsFile       = "items.yaml"
	IconsManifest   = "icons/manifest.yaml"
	IconsDir        = "icons"
	TileSchema      = "tiles/schema.yaml"
)

// Generations lists the layer catalogs a data set carries, in mount
// preference order.
var Generations = []string{"explore", "inspect"}

// Item is one toggleable entry of the layer tree.
type Item struct {
	ID      string `yaml:"id" json:"id"`
	Label   string `yaml:"label" json:"label"`
	Visible bool   `yaml:"visible" json:"visible"`
}

// Group is a theme's items.
type Group struct {
	Theme string `yaml:"theme" json:"theme"`
	Label string `yaml:"label" json:"label"`
	Items []Item `yaml:"items" json:"items"`
}

// Bundle is one loaded data set.
type Bundle struct {
	Tokens    tokens.Set
	Templates map[string][]layers.Template
	Groups    []Group
	Icons     []string
	// Schema is nil when the data set has no tile schema.
	Schema *tilemeta.Schema
	FS     fs.FS
}

// DefaultItems lists the items visible at startup.
func (b *Bundle) DefaultItems() []string {
	var out []string
	for _, g := range b.Groups {
		for _, it := range g.Items {
			if it.Visible {
				out = append(out, it.ID)
			}
		}
	}
	return out
}

// Load reads a data set from fsys.
func Load(fsys fs.FS) (*Bundle, error) {
	b := &Bundle{Templates: make(map[string][]layers.Template), FS: fsys}

	colors, err := readMapping(fsys, PrimitiveColors)
	if err != nil {
		return nil, err
	}
	fonts, err := optMapping(fsys, PrimitiveFonts)
	if err != nil {
		return nil, err
	}
	b.Tokens.Primitives = doc.NewMapping().Set("color", colors).Set("font", fonts)

	semantic, err := optMapping(fsys, SemanticExplore)
	if err != nil {
		return nil, err
	}
	inspect, err := optMapping(fsys, SemanticInspect)
	if err != nil {
		return nil, err
	}
	if inspect.Len() > 0 {
		semantic.Set("inspect", inspect)
	}
	b.Tokens.Semantic = semantic
	if b.Tokens.SemanticFonts, err = optMapping(fsys, SemanticFonts); err != nil {
		return nil, err
	}

	if err := b.loadModes(fsys); err != nil {
		return nil, err
	}

	for _, gen := range Generations {
		p := path.Join("layers", gen, "manifest.yaml")
		n, err := readNode(fsys, p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m, err := layers.ParseManifest(gen, n)
		if err != nil {
			return nil, err
		}
		if b.Templates[gen], err = m.LoadTemplates(fsys); err != nil {
			return nil, err
		}
	}
	if len(b.Templates) == 0 {
		return nil, fmt.Errorf("styledata: no layer manifests found")
	}

	if err := decodeOpt(fsys, ItemsFile, &b.Groups); err != nil {
		return nil, err
	}
	if err := decodeOpt(fsys, IconsManifest, &b.Icons); err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(fsys, TileSchema)
	switch {
	case err == nil:
		if b.Schema, err = tilemeta.ParseSchema(data); err != nil {
			return nil, err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	return b, nil
}

func (b *Bundle) loadModes(fsys fs.FS) error {
	paths, err := fs.Glob(fsys, ModesGlob)
	if err != nil {
		return err
	}
	sort.Strings(paths)
	b.Tokens.Overrides = make(map[string]*doc.Mapping)
	for _, p := range paths {
		m, err := readMapping(fsys, p)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(path.Base(p), path.Ext(p))
		if name == tokens.DefaultMode {
			b.Tokens.Default = m
			continue
		}
		b.Tokens.Overrides[name] = m
	}
	if b.Tokens.Default == nil {
		return fmt.Errorf("styledata: %s missing", strings.Replace(ModesGlob, "*", tokens.DefaultMode, 1))
	}
	return nil
}

func readNode(fsys fs.FS, p string) (doc.Node, error) {
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return nil, err
	}
	n, err := doc.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	return n, nil
}

func readMapping(fsys fs.FS, p string) (*doc.Mapping, error) {
	n, err := readNode(fsys, p)
	if err != nil {
		return nil, err
	}
	m, ok := n.(*doc.Mapping)
	if !ok {
		return nil, fmt.Errorf("%s: want a mapping, got %s", p, n.Kind())
	}
	return m, nil
}

func optMapping(fsys fs.FS, p string) (*doc.Mapping, error) {
	m, err := readMapping(fsys, p)
	if errors.Is(err, fs.ErrNotExist) {
		return doc.NewMapping(), nil
	}
	return m, err
}

func decodeOpt(fsys fs.FS, p string, v any) error {
	data, err := fs.ReadFile(fsys, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", p, err)
	}
	return nil
}
