package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer(t *testing.T) {
	srv, err := New(Config{Host: "localhost", Port: "8086", NoDB: true, TilesURL: "https://tiles.example"})
	require.NoError(t, err)
	defer srv.Close()
	require.NoError(t, srv.Start(context.Background()))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Values("Link"), `</openapi.json>; rel="service-desc"`)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "explore-site")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	paths := srv.OpenAPI().Paths
	for _, p := range []string{"/api/v1/info", "/api/v1/export", "/api/v1/surface/events", "/api/v1/state"} {
		assert.Contains(t, paths, p)
	}
	assert.NotEmpty(t, srv.Services().Map.Surface.LayerIDs())
}

func TestHandleTiles(t *testing.T) {
	h := handleTiles(t.TempDir())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/base.pmtiles", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Range", rec.Header().Get("Access-Control-Allow-Headers"))
}
