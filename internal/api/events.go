package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/OvertureMaps/explore-site/internal/humastar"
	"github.com/OvertureMaps/explore-site/internal/service"
	"github.com/OvertureMaps/explore-site/internal/templates"
)

// EventHandler streams surface, state and style changes to a Datastar UI.
type EventHandler struct {
	svc      *Services
	renderer *templates.Renderer
}

// NewEventHandler streams events; with a renderer it also patches the item
// panel (#items) and mode badge (#mode).
func NewEventHandler(svc *Services, renderer *templates.Renderer) *EventHandler {
	return &EventHandler{svc: svc, renderer: renderer}
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/surface/events", h.Events, huma.OperationTags("events"))
	huma.Post(api, "/api/v1/ui/toggle", h.Toggle, huma.OperationTags("events"))
}

// stateSignals flattens the state into Datastar signals.
func stateSignals(st service.State) map[string]any {
	sig := map[string]any{
		"items":      orEmpty(st.Items),
		"generation": string(st.Mode.Generation),
		"theme":      st.Mode.Theme,
		"language":   st.Language,
		"active":     nil,
	}
	if st.Active != nil {
		sig["active"] = st.Active
	}
	return sig
}

// patchPanel re-renders the item panel and mode badge from the current
// style and state.
func (h *EventHandler) patchPanel(sse humastar.SSE) error {
	if h.renderer == nil {
		return nil
	}
	st := h.svc.State.Snapshot()
	items, err := h.renderer.Render("items", templates.ItemsData{
		Groups:  h.svc.Styles.Current().Bundle.Groups,
		Visible: h.svc.State.VisibleItems(),
	})
	if err != nil {
		return err
	}
	if err := sse.Patch(items, "#items"); err != nil {
		return err
	}
	mode, err := h.renderer.Render("mode", st.Mode)
	if err != nil {
		return err
	}
	return sse.Patch(mode, "#mode")
}

// Events sends the current state, then one message per bus event until the
// client goes away. Surface operations arrive as "surface-op" custom events.
func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return humastar.Stream(func(sse humastar.SSE) {
		ch := h.svc.Bus.Subscribe()
		defer h.svc.Bus.Unsubscribe(ch)

		if err := sse.Signals(stateSignals(h.svc.State.Snapshot())); err != nil {
			return
		}
		if err := h.patchPanel(sse); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				var err error
				switch ev.Resource {
				case service.ResourceSurface:
					err = sse.DispatchCustomEvent("surface-op", ev.Data)
				case service.ResourceState:
					if err = sse.Signals(stateSignals(h.svc.State.Snapshot())); err == nil {
						err = h.patchPanel(sse)
					}
				case service.ResourceStyle:
					if err = sse.Signals(map[string]any{"style": ev.Action}); err == nil {
						err = h.patchPanel(sse)
					}
				}
				if err != nil {
					return
				}
			}
		}
	}), nil
}

// Toggle shows or hides one item from the signals {item, visible} and
// answers with the new state.
func (h *EventHandler) Toggle(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	item := signals.String("item")
	if item == "" {
		return nil, huma.Error400BadRequest("item is required")
	}
	patch := service.StatePatch{Hide: []string{item}}
	if signals.Bool("visible") {
		patch = service.StatePatch{Show: []string{item}}
	}
	st, applyErr := h.svc.Map.Apply(ctx, patch)
	return humastar.Stream(func(sse humastar.SSE) {
		if applyErr != nil {
			_ = sse.Error(applyErr.Error())
			return
		}
		_ = sse.Signals(stateSignals(st))
	}), nil
}
