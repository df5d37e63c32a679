package components

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/warden/internal/scheduler"
	"github.com/harunnryd/warden/internal/store"
)

func TestHTTPServerComponentLifecycle(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	comp := NewHTTPServerComponent("API", "127.0.0.1:0", handler, HTTPTimeouts{}, DataDirName)
	ctx := context.Background()

	assert.Equal(t, []string{DataDirName}, comp.Dependencies())
	health, _ := comp.Health(ctx)
	assert.False(t, health.Healthy)

	require.NoError(t, comp.Init(ctx))
	require.NoError(t, comp.Start(ctx))

	resp, err := http.Get("http://" + comp.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	health, _ = comp.Health(ctx)
	assert.True(t, health.Healthy)

	require.NoError(t, comp.Stop(ctx))
	_, err = http.Get("http://" + comp.Addr() + "/")
	assert.Error(t, err)
}

func TestHTTPServerComponentPortInUse(t *testing.T) {
	ctx := context.Background()
	first := NewHTTPServerComponent("API", "127.0.0.1:0", http.NotFoundHandler(), HTTPTimeouts{})
	require.NoError(t, first.Init(ctx))
	t.Cleanup(func() { _ = first.Stop(ctx) })

	second := NewHTTPServerComponent("Bus", first.Addr(), http.NotFoundHandler(), HTTPTimeouts{})
	err := second.Init(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bus: listen")
}

func TestDataDirComponentExcludesSecondInstance(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := store.LockConfig{Timeout: 100 * time.Millisecond, Retry: 10 * time.Millisecond}

	first := NewDataDirComponent(dir, cfg)
	require.NoError(t, first.Init(ctx))
	health, _ := first.Health(ctx)
	assert.True(t, health.Healthy)

	second := NewDataDirComponent(dir, cfg)
	assert.Error(t, second.Init(ctx))

	require.NoError(t, first.Stop(ctx))
	require.NoError(t, second.Init(ctx))
	require.NoError(t, second.Stop(ctx))
}

func TestJanitorComponent(t *testing.T) {
	j, err := scheduler.NewJanitor(scheduler.Options{Schedule: "@every 1h"})
	require.NoError(t, err)
	comp := NewJanitorComponent(j, DataDirName)
	ctx := context.Background()

	assert.Equal(t, "Janitor", comp.Name())
	health, _ := comp.Health(ctx)
	assert.False(t, health.Healthy)

	require.NoError(t, comp.Start(ctx))
	health, _ = comp.Health(ctx)
	assert.True(t, health.Healthy)
	require.NoError(t, comp.Stop(ctx))
}
