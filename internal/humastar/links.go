package humastar

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// Links holds RFC 8288 Link headers per operation path. Install its
// Transformer when configuring the API, then call Build once every route is
// registered.
type Links struct {
	mu    sync.RWMutex
	byOp  map[string][]string
	entry string
}

// NewLinks returns an empty link set whose entry point is entry, e.g. /health.
func NewLinks(entry string) *Links {
	return &Links{byOp: map[string][]string{}, entry: entry}
}

// Build walks the OpenAPI document and derives the links: item to
// collection, collection to item template, collections back to the entry
// point, the entry point to every collection, and describedby links to
// response schemas. Streaming endpoints (tag "events") are skipped.
func (l *Links) Build(api huma.API) {
	oapi := api.OpenAPI()
	byOp := map[string][]string{}
	add := func(from, to, rel string) {
		val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
		for _, existing := range byOp[from] {
			if existing == val {
				return
			}
		}
		byOp[from] = append(byOp[from], val)
	}

	var collections, items []string
	for p, pi := range oapi.Paths {
		if hasTag(primaryTags(pi), "events") {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, p)
		} else {
			collections = append(collections, p)
		}
	}
	sort.Strings(collections)
	sort.Strings(items)

	for _, item := range items {
		parent := path.Dir(item)
		if _, ok := oapi.Paths[parent]; ok {
			add(item, parent, "collection")
			add(parent, item, "item")
		}
	}
	for _, coll := range collections {
		if coll == l.entry {
			continue
		}
		add(coll, l.entry, "up")
		add(l.entry, coll, lastSegment(coll))
	}
	add(l.entry, "/openapi.json", "service-desc")
	add(l.entry, "/docs", "service-doc")

	for _, p := range append(collections, items...) {
		if ref := responseSchemaRef(oapi.Paths[p]); ref != "" {
			add(p, "/openapi.json#/components/schemas/"+ref, "describedby")
		}
	}

	for p, headers := range byOp {
		pi, ok := oapi.Paths[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}

	l.mu.Lock()
	l.byOp = byOp
	l.mu.Unlock()
}

// For returns the links of an operation path.
func (l *Links) For(opPath string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byOp[opPath]
}

// Transformer returns a Huma Transformer that adds the links at runtime.
// Item endpoints also get a self link with the resolved URL.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range l.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		return v, nil
	}
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}

// injectResponseLinks documents the links on the operation's 2xx response.
func injectResponseLinks(op *huma.Operation, headers []string) {
	for code, resp := range op.Responses {
		if !strings.HasPrefix(code, "2") || resp == nil {
			continue
		}
		if resp.Links == nil {
			resp.Links = map[string]*huma.Link{}
		}
		for _, h := range headers {
			rel, href := parseLinkHeader(h)
			if rel == "" {
				continue
			}
			resp.Links[rel] = &huma.Link{OperationRef: href, Description: "Related: " + rel}
		}
		return
	}
}

func responseSchemaRef(pi *huma.PathItem) string {
	if pi == nil || pi.Get == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") || resp == nil {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				return path.Base(mt.Schema.Ref)
			}
		}
	}
	return ""
}

func parseLinkHeader(h string) (rel, href string) {
	target, params, ok := strings.Cut(h, ";")
	if !ok {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	params = strings.TrimSpace(params)
	if v, ok := strings.CutPrefix(params, `rel="`); ok {
		rel = strings.TrimSuffix(v, `"`)
	}
	return rel, href
}
