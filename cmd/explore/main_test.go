package main

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunReturnsStyleError(t *testing.T) {
	opts := &Options{
		Host:     "127.0.0.1",
		StyleDir: filepath.Join(t.TempDir(), "missing"),
		NoDB:     true,
	}
	called := false
	err := run(context.Background(), opts, zap.NewNop(), func(*http.Server) { called = true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load style")
	assert.False(t, called, "nothing listens when the style fails to load")
}

func TestRunStopsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := &Options{Host: "127.0.0.1", Port: 0, NoDB: true}

	var srv *http.Server
	err := run(ctx, opts, zap.NewNop(), func(s *http.Server) {
		srv = s
		require.NoError(t, s.Shutdown(context.Background()))
	})
	assert.NoError(t, err)
	require.NotNil(t, srv)
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
}
