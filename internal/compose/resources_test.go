package compose

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/OvertureMaps/explore-site/internal/style/tokens"
	"github.com/OvertureMaps/explore-site/internal/surface"
)

type iconFunc func(ctx context.Context, name string) (surface.Image, error)

func (f iconFunc) Icon(ctx context.Context, name string) (surface.Image, error) { return f(ctx, name) }

func TestIconNames(t *testing.T) {
	style := fixtureStyle(t)
	cat, _ := style.Catalog(Mode{Generation: Explore, Theme: tokens.DefaultMode})
	assert.Equal(t, []string{"pin", "restaurant"}, IconNames(cat, []string{"pin", "restaurant"}))
	assert.Equal(t, []string{"restaurant"}, IconNames(cat, nil))
	assert.Equal(t, []string{"pin"}, IconNames(nil, []string{"pin"}))
}

func TestIconLoaderSkipsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zap.WarnLevel)
	mem := surface.NewMemory()
	var calls atomic.Int32
	loader := &IconLoader{
		Source: iconFunc(func(_ context.Context, name string) (surface.Image, error) {
			calls.Add(1)
			if name == "broken" {
				return surface.Image{}, errors.New("no such icon")
			}
			return surface.Image{Width: 25, Height: 25}, nil
		}),
		Names: []string{"broken", "pin"},
		Limit: 2,
		Log:   zap.New(core),
	}

	style := fixtureStyle(t)
	cat, _ := style.Catalog(Mode{Generation: Explore, Theme: tokens.DefaultMode})
	require.NoError(t, loader.Load(context.Background(), mem, cat))

	assert.True(t, mem.HasImage("pin"))
	assert.True(t, mem.HasImage("restaurant"))
	assert.False(t, mem.HasImage("broken"))
	require.Equal(t, 1, logs.FilterMessage("icon load failed").Len())
	assert.Equal(t, int32(3), calls.Load())

	// registered icons are not fetched again
	require.NoError(t, loader.Load(context.Background(), mem, cat))
	assert.Equal(t, int32(4), calls.Load())
}

func TestIconLoaderCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	loader := &IconLoader{
		Source: iconFunc(func(ctx context.Context, _ string) (surface.Image, error) {
			<-ctx.Done()
			return surface.Image{}, ctx.Err()
		}),
		Names: []string{"pin"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := loader.Load(ctx, surface.NewMemory(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
