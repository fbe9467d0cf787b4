// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"database/sql"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/OvertureMaps/explore-site/internal/compose"
	"github.com/OvertureMaps/explore-site/internal/service"
	"github.com/OvertureMaps/explore-site/internal/style/doc"
	"github.com/OvertureMaps/explore-site/internal/style/tokens"
	"github.com/OvertureMaps/explore-site/internal/styledata"
	"github.com/OvertureMaps/explore-site/internal/validate"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Styles *service.StyleService
	State  *service.StateService
	Map    *service.MapService
	Tiles  *service.TileService
	Bus    *service.EventBus
	// DB runs export counts; nil disables them.
	DB *sql.DB
	// DataPath is the GeoParquet release root exports read.
	DataPath string
}

// Types

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type StyleInput struct {
	Name string `query:"name" doc:"Style name" default:"explore"`
}

type TokensInput struct {
	Mode string `path:"mode" doc:"Token mode" example:"default"`
	Path string `query:"path" doc:"JSONPath into the resolved tree" example:"$.base.water.color"`
}

type TokensBody struct {
	Mode   string `json:"mode"`
	Path   string `json:"path,omitempty"`
	Result any    `json:"result" doc:"Resolved tree, or the JSONPath matches"`
}

type CatalogInput struct {
	Generation string `path:"generation" enum:"explore,inspect" doc:"Catalog generation"`
	Theme      string `query:"theme" doc:"Token mode" default:"default"`
}

type CatalogBody struct {
	Generation string `json:"generation"`
	Theme      string `json:"theme"`
	Layers     []any  `json:"layers" doc:"Resolved layer specs in draw order"`
}

type TypesBody struct {
	Visible []string            `json:"visible" doc:"Types drawn by a visible item"`
	Items   map[string][]string `json:"items" doc:"Items drawing each type"`
}

type InteractiveBody struct {
	Layers []string `json:"layers" doc:"Mounted layers that take pointer input"`
}

type ValidateBody struct {
	OK         bool              `json:"ok"`
	Unresolved []string          `json:"unresolved"`
	Issues     []validate.Issue  `json:"issues"`
	Coverage   map[string][2]int `json:"coverage" doc:"Filter coverage of enum values per source:layer, as [used, total]"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterStyle registers the live style, token and catalog routes.
func (h *APIHandler) RegisterStyle(api huma.API) {
	huma.Get(api, "/api/v1/style", h.GetStyle, huma.OperationTags("style"))
	huma.Post(api, "/api/v1/style/reload", h.ReloadStyle, huma.OperationTags("style"))
	huma.Get(api, "/api/v1/tokens/{mode}", h.GetTokens, huma.OperationTags("style"))
	huma.Get(api, "/api/v1/catalog/{generation}", h.GetCatalog, huma.OperationTags("style"))
	huma.Get(api, "/api/v1/validate", h.GetValidation, huma.OperationTags("style"))
	huma.Get(api, "/api/v1/items", h.GetItems, huma.OperationTags("style"))
}

// RegisterState registers UI state routes.
func (h *APIHandler) RegisterState(api huma.API) {
	huma.Get(api, "/api/v1/state", h.GetState, huma.OperationTags("state"))
	huma.Put(api, "/api/v1/state", h.PutState, huma.OperationTags("state"))
	huma.Get(api, "/api/v1/types", h.GetTypes, huma.OperationTags("state"))
	huma.Get(api, "/api/v1/interactive", h.GetInteractive, huma.OperationTags("state"))
}

// RegisterTiles registers tile listing routes.
func (h *APIHandler) RegisterTiles(api huma.API) {
	huma.Get(api, "/api/v1/tiles", h.GetTiles, huma.OperationTags("tiles"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetStyle(ctx context.Context, input *StyleInput) (*struct{ Body any }, error) {
	return &struct{ Body any }{Body: doc.ToAny(h.svc.Map.Surface.Style(input.Name))}, nil
}

func (h *APIHandler) ReloadStyle(ctx context.Context, input *struct{}) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Styles.Reload(ctx); err != nil {
		return nil, huma.Error422UnprocessableEntity("reload failed", err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Style reloaded"}}, nil
}

func (h *APIHandler) GetTokens(ctx context.Context, input *TokensInput) (*struct{ Body TokensBody }, error) {
	modes := h.svc.Styles.Current().Style.Modes
	if !modes.Has(input.Mode) {
		return nil, huma.Error404NotFound("unknown mode " + input.Mode)
	}
	body := TokensBody{Mode: input.Mode, Path: input.Path}
	if input.Path == "" {
		tree, _ := modes.Tree(input.Mode)
		body.Result = doc.ToAny(tree)
	} else {
		res, err := modes.Query(input.Mode, input.Path)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		body.Result = res
	}
	return &struct{ Body TokensBody }{Body: body}, nil
}

func (h *APIHandler) GetCatalog(ctx context.Context, input *CatalogInput) (*struct{ Body CatalogBody }, error) {
	theme := input.Theme
	if theme == "" {
		theme = tokens.DefaultMode
	}
	c, ok := h.svc.Styles.Current().Style.Catalog(compose.Mode{Generation: compose.Generation(input.Generation), Theme: theme})
	if !ok {
		return nil, huma.Error404NotFound("no catalog for " + input.Generation)
	}
	body := CatalogBody{Generation: input.Generation, Theme: theme, Layers: make([]any, 0, c.Len())}
	for _, spec := range c.Specs() {
		body.Layers = append(body.Layers, doc.ToAny(spec.Node()))
	}
	return &struct{ Body CatalogBody }{Body: body}, nil
}

func (h *APIHandler) GetValidation(ctx context.Context, input *struct{}) (*struct{ Body ValidateBody }, error) {
	b := h.svc.Styles.Current()
	v := validate.Validator{Schema: b.Bundle.Schema, Rules: service.DefaultRules}
	body := ValidateBody{
		OK:         b.Report.OK() && len(b.Unresolved) == 0,
		Unresolved: orEmpty(b.Unresolved),
		Issues:     b.Report.Issues,
		Coverage:   v.Coverage(b.DefaultCatalogs()...),
	}
	if body.Issues == nil {
		body.Issues = []validate.Issue{}
	}
	return &struct{ Body ValidateBody }{Body: body}, nil
}

func (h *APIHandler) GetItems(ctx context.Context, input *struct{}) (*struct{ Body []styledata.Group }, error) {
	groups := h.svc.Styles.Current().Bundle.Groups
	if groups == nil {
		groups = []styledata.Group{}
	}
	return &struct{ Body []styledata.Group }{Body: groups}, nil
}

func (h *APIHandler) GetState(ctx context.Context, input *struct{}) (*struct{ Body service.State }, error) {
	return &struct{ Body service.State }{Body: h.svc.State.Snapshot()}, nil
}

func (h *APIHandler) PutState(ctx context.Context, input *struct{ Body service.StatePatch }) (*struct{ Body service.State }, error) {
	st, err := h.svc.Map.Apply(ctx, input.Body)
	switch {
	case errors.Is(err, compose.ErrNoCatalog):
		return nil, huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrInvalidPatch):
		return nil, huma.Error400BadRequest(err.Error())
	case err != nil:
		return nil, huma.Error500InternalServerError("apply state", err)
	}
	return &struct{ Body service.State }{Body: st}, nil
}

func (h *APIHandler) GetTypes(ctx context.Context, input *struct{}) (*struct{ Body TypesBody }, error) {
	idx := h.svc.Styles.Current().Style.Index
	body := TypesBody{Visible: orEmpty(h.svc.Map.VisibleTypes()), Items: map[string][]string{}}
	for _, typ := range idx.Types() {
		body.Items[typ] = idx.Items(typ)
	}
	return &struct{ Body TypesBody }{Body: body}, nil
}

func (h *APIHandler) GetInteractive(ctx context.Context, input *struct{}) (*struct{ Body InteractiveBody }, error) {
	ids := h.svc.Map.Engine.InteractiveLayerIDs()
	return &struct{ Body InteractiveBody }{Body: InteractiveBody{Layers: orEmpty(ids)}}, nil
}

func (h *APIHandler) GetTiles(ctx context.Context, input *struct{}) (*struct{ Body []service.TileFile }, error) {
	if h.svc.Tiles == nil {
		return &struct{ Body []service.TileFile }{Body: []service.TileFile{}}, nil
	}
	tiles, err := h.svc.Tiles.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("list tiles", err)
	}
	return &struct{ Body []service.TileFile }{Body: tiles}, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
