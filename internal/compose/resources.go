package compose

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/OvertureMaps/explore-site/internal/style/doc"
	"github.com/OvertureMaps/explore-site/internal/style/layers"
	"github.com/OvertureMaps/explore-site/internal/surface"
)

// IconSource fetches one icon by name.
type IconSource interface {
	Icon(ctx context.Context, name string) (surface.Image, error)
}

// IconLoader registers icons on the surface before a mount. It loads the
// fixed Names plus every literal icon-image a catalog's layers use, in
// parallel. An icon that fails to load is logged and skipped; the layers
// that use it render without it.
type IconLoader struct {
	Source IconSource
	Names  []string
	// Limit caps concurrent fetches; zero means no limit.
	Limit int
	Log   *zap.Logger
}

func (l *IconLoader) Load(ctx context.Context, s surface.Surface, c *layers.Catalog) error {
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	g, gctx := errgroup.WithContext(ctx)
	if l.Limit > 0 {
		g.SetLimit(l.Limit)
	}
	for _, name := range IconNames(c, l.Names) {
		if s.HasImage(name) {
			continue
		}
		g.Go(func() error {
			img, err := l.Source.Icon(gctx, name)
			if err != nil {
				log.Warn("icon load failed", zap.String("icon", name), zap.Error(err))
				return nil
			}
			if s.HasImage(name) {
				return nil
			}
			if err := s.AddImage(name, img); err != nil {
				log.Warn("icon register failed", zap.String("icon", name), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// IconNames returns the sorted union of extra and every literal
// icon-image layout value in c.
func IconNames(c *layers.Catalog, extra []string) []string {
	set := make(map[string]struct{}, len(extra))
	for _, n := range extra {
		set[n] = struct{}{}
	}
	if c != nil {
		for _, spec := range c.Specs() {
			v, ok := spec.LayoutValue("icon-image")
			if !ok {
				continue
			}
			if lit, ok := v.(doc.Literal); ok {
				if name, ok := lit.Text(); ok && name != "" {
					set[name] = struct{}{}
				}
			}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
