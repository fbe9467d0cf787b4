package styledata

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/OvertureMaps/explore-site/internal/surface"
)

// Icons serves icon files from a data set as surface images.
type Icons struct {
	FS  fs.FS
	Dir string
}

// NewIcons returns the icon source of b.
func (b *Bundle) NewIcons() *Icons { return &Icons{FS: b.FS, Dir: IconsDir} }

// Icon reads <Dir>/<name>.svg. Width and height come from the root svg
// element, falling back to its viewBox.
func (i *Icons) Icon(ctx context.Context, name string) (surface.Image, error) {
	if err := ctx.Err(); err != nil {
		return surface.Image{}, err
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return surface.Image{}, fmt.Errorf("icon %q: invalid name", name)
	}
	data, err := fs.ReadFile(i.FS, path.Join(i.Dir, name+".svg"))
	if err != nil {
		return surface.Image{}, fmt.Errorf("icon %q: %w", name, err)
	}
	w, h, err := svgSize(data)
	if err != nil {
		return surface.Image{}, fmt.Errorf("icon %q: %w", name, err)
	}
	return surface.Image{Width: w, Height: h, Data: data}, nil
}

func svgSize(data []byte) (int, int, error) {
	var root struct {
		XMLName xml.Name
		Width   string `xml:"width,attr"`
		Height  string `xml:"height,attr"`
		ViewBox string `xml:"viewBox,attr"`
	}
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return 0, 0, fmt.Errorf("parse svg: %w", err)
	}
	if root.XMLName.Local != "svg" {
		return 0, 0, fmt.Errorf("root element is %q, not svg", root.XMLName.Local)
	}
	w, wok := pixels(root.Width)
	h, hok := pixels(root.Height)
	if wok && hok {
		return w, h, nil
	}
	f := strings.Fields(strings.ReplaceAll(root.ViewBox, ",", " "))
	if len(f) == 4 {
		vw, err1 := strconv.ParseFloat(f[2], 64)
		vh, err2 := strconv.ParseFloat(f[3], 64)
		if err1 == nil && err2 == nil {
			return int(vw + 0.5), int(vh + 0.5), nil
		}
	}
	return 0, 0, fmt.Errorf("svg has no size")
}

func pixels(s string) (int, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return int(f + 0.5), true
}
