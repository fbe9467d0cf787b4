package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/OvertureMaps/explore-site/internal/compose"
	"github.com/OvertureMaps/explore-site/internal/service"
)

// Version is reported by /health and /api/v1/info.
var Version = "0.1.0"

type InfoHandler struct {
	styles   *service.StyleService
	styleDir string
	release  string
	dbOK     bool
}

func NewInfoHandler(styles *service.StyleService, styleDir, release string, dbOK bool) *InfoHandler {
	return &InfoHandler{styles: styles, styleDir: styleDir, release: release, dbOK: dbOK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name        string               `json:"name" doc:"Service name"`
	Version     string               `json:"version" doc:"Service version"`
	StyleDir    string               `json:"style_dir" doc:"Style source directory; empty when serving the embedded style"`
	Release     string               `json:"release" doc:"Overture release the tiles and exports read"`
	DB          bool                 `json:"db" doc:"Whether export counts are available"`
	Modes       []string             `json:"modes" doc:"Token modes"`
	Generations []compose.Generation `json:"generations" doc:"Catalog generations"`
	Features    []string             `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	st := h.styles.Current().Style
	features := []string{"tokens", "layers", "pmtiles", "export"}
	if h.dbOK {
		features = append(features, "duckdb")
	}
	if h.styleDir != "" {
		features = append(features, "watch")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:        "explore-site",
		Version:     Version,
		StyleDir:    h.styleDir,
		Release:     h.release,
		DB:          h.dbOK,
		Modes:       st.Modes.Names(),
		Generations: st.Generations(),
		Features:    features,
	}}, nil
}
