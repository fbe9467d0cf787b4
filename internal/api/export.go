package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/OvertureMaps/explore-site/internal/export"
)

// ExportHandler plans GeoParquet extracts of the visible map area.
type ExportHandler struct {
	svc *Services
}

func NewExportHandler(svc *Services) *ExportHandler {
	return &ExportHandler{svc: svc}
}

func (h *ExportHandler) RegisterRoutes(api huma.API) {
	huma.Post(api, "/api/v1/export", h.Export, huma.OperationTags("export"))
}

type ExportInput struct {
	Body struct {
		Types []string   `json:"types,omitempty" doc:"Types to extract; defaults to the visible types"`
		BBox  [4]float64 `json:"bbox" doc:"west, south, east, north"`
		Zoom  float64    `json:"zoom" minimum:"0" maximum:"24" doc:"Current map zoom"`
		Count bool       `json:"count,omitempty" doc:"Run row counts on DuckDB"`
	}
}

type ExportBody struct {
	Plan   export.Plan    `json:"plan"`
	Counts []export.Count `json:"counts,omitempty"`
}

// Export returns the read_parquet queries for the requested types, and row
// counts when asked and a database is open.
func (h *ExportHandler) Export(ctx context.Context, input *ExportInput) (*struct{ Body ExportBody }, error) {
	in := input.Body
	if in.BBox[0] > in.BBox[2] || in.BBox[1] > in.BBox[3] {
		return nil, huma.Error400BadRequest("bbox must be west, south, east, north")
	}
	types := in.Types
	if len(types) == 0 {
		types = h.svc.Map.VisibleTypes()
	}
	planner := export.Planner{
		BasePath: h.svc.DataPath,
		Release:  h.svc.Map.Release(),
		Index:    h.svc.Styles.Current().Style.Index,
	}
	bound := orb.Bound{Min: orb.Point{in.BBox[0], in.BBox[1]}, Max: orb.Point{in.BBox[2], in.BBox[3]}}
	plan, err := planner.Plan(types, bound, in.Zoom)
	switch {
	case errors.Is(err, export.ErrZoomTooLow), errors.Is(err, export.ErrNoTypes):
		return nil, huma.Error400BadRequest(err.Error())
	case errors.Is(err, export.ErrNoRelease):
		return nil, huma.Error503ServiceUnavailable("No release configured")
	case errors.Is(err, export.ErrUnknownType):
		return nil, huma.Error422UnprocessableEntity(err.Error())
	case err != nil:
		return nil, huma.Error500InternalServerError("plan export", err)
	}

	body := ExportBody{Plan: plan}
	if in.Count {
		if h.svc.DB == nil {
			return nil, huma.Error503ServiceUnavailable("Database not available")
		}
		counts, err := export.Runner{DB: h.svc.DB}.Count(ctx, plan)
		if err != nil {
			return nil, huma.Error502BadGateway("count export", err)
		}
		body.Counts = counts
	}
	return &struct{ Body ExportBody }{Body: body}, nil
}
