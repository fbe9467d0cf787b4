package service

import (
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/OvertureMaps/explore-site/internal/compose"
	"github.com/OvertureMaps/explore-site/internal/style/layers"
	"github.com/OvertureMaps/explore-site/internal/style/tokens"
	"github.com/OvertureMaps/explore-site/internal/styledata"
	"github.com/OvertureMaps/explore-site/internal/tilemeta"
	"github.com/OvertureMaps/explore-site/internal/validate"
)

// Build is one composed style: token modes, a catalog per generation and
// mode, the type index, and what validation found.
type Build struct {
	Bundle     *styledata.Bundle
	Style      *compose.Style
	Unresolved []string
	Report     validate.Report
	BuiltAt    time.Time
}

// DefaultRules turns on the metadata checks the inspect generation relies
// on for its pass ordering and legend colors.
var DefaultRules = map[string]validate.Rules{
	string(compose.Inspect): {RequirePass: true, RequireColor: true},
}

// BuildStyle composes the token modes of b and resolves every generation's
// templates once per mode. The type index is built from the explore
// catalog, or from every default-mode catalog when there is none.
func BuildStyle(b *styledata.Bundle, log *zap.Logger) (*Build, error) {
	if log == nil {
		log = zap.NewNop()
	}
	modes, err := tokens.NewComposer(log).Compose(b.Tokens)
	if err != nil {
		return nil, err
	}

	style := &compose.Style{Modes: modes, Catalogs: make(map[compose.Mode]*layers.Catalog)}
	missing := make(map[string]struct{})
	for _, ref := range modes.Unresolved() {
		missing[ref] = struct{}{}
	}
	for _, gen := range styledata.Generations {
		templates, ok := b.Templates[gen]
		if !ok {
			continue
		}
		for _, theme := range modes.Names() {
			c, unresolved, err := layers.Build(gen, templates, layers.NewResolver(modes, theme), log.With(zap.String("mode", theme)))
			if err != nil {
				return nil, err
			}
			for _, ref := range unresolved {
				missing[ref] = struct{}{}
			}
			style.Catalogs[compose.Mode{Generation: compose.Generation(gen), Theme: theme}] = c
		}
	}
	if len(style.Catalogs) == 0 {
		return nil, fmt.Errorf("style: no catalogs built")
	}

	if c, ok := style.Catalogs[compose.Mode{Generation: compose.Explore, Theme: tokens.DefaultMode}]; ok {
		style.Index = layers.NewTypeIndex(c)
	} else {
		style.Index = layers.NewTypeIndex(defaultCatalogs(style)...)
	}

	out := &Build{Bundle: b, Style: style, BuiltAt: time.Now()}
	for ref := range missing {
		out.Unresolved = append(out.Unresolved, ref)
	}
	sort.Strings(out.Unresolved)

	v := validate.Validator{Schema: b.Schema, Rules: DefaultRules}
	for _, gen := range styledata.Generations {
		if t, ok := b.Templates[gen]; ok {
			out.Report.Merge(v.Templates(gen, t))
		}
	}
	for _, c := range defaultCatalogs(style) {
		out.Report.Merge(v.Catalog(c))
	}
	return out, nil
}

// DefaultCatalogs returns the default-mode catalog of every generation.
func (b *Build) DefaultCatalogs() []*layers.Catalog { return defaultCatalogs(b.Style) }

func defaultCatalogs(s *compose.Style) []*layers.Catalog {
	var out []*layers.Catalog
	for _, gen := range s.Generations() {
		if c, ok := s.Catalog(compose.Mode{Generation: gen, Theme: tokens.DefaultMode}); ok {
			out = append(out, c)
		}
	}
	return out
}

// LoadBuild loads the data set at dir, or the embedded one when dir is
// empty, merges the *.pmtiles metadata found in tilesDir into its tile
// schema, and builds it.
func LoadBuild(dir, tilesDir string, log *zap.Logger) (*Build, error) {
	fsys := styledata.Default()
	if dir != "" {
		fsys = os.DirFS(dir)
	}
	b, err := styledata.Load(fsys)
	if err != nil {
		return nil, err
	}
	if tilesDir != "" {
		if b.Schema == nil {
			b.Schema = &tilemeta.Schema{}
		}
		if err := b.Schema.LoadDir(tilesDir); err != nil {
			return nil, err
		}
	}
	return BuildStyle(b, log)
}
