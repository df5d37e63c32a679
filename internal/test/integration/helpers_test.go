package integration_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harunnryd/warden/cmd/warden/runtime"
	"github.com/harunnryd/warden/internal/config"
	"github.com/harunnryd/warden/internal/daemon"
	"github.com/harunnryd/warden/internal/daemon/components"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Bus.Port = 0
	cfg.Janitor.Schedule = "@every 1h"
	return cfg
}

func buildRuntime(t *testing.T, cfg *config.Config, scope runtime.Scope) *runtime.Components {
	t.Helper()
	c, err := runtime.NewRuntimeBuilder().WithConfig(cfg).WithScope(scope).Build()
	require.NoError(t, err)
	return c
}

type server struct {
	daemon  *daemon.Daemon
	apiURL  string
	busURL  string
	stop    context.CancelFunc
	stopped chan error
}

// startServer runs the daemon until the test ends or stop is called.
func startServer(t *testing.T, c *runtime.Components) *server {
	t.Helper()
	d, err := runtime.NewDaemon(c)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := &server{daemon: d, stop: cancel, stopped: make(chan error, 1)}
	go func() { s.stopped <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return d.Health() == daemon.StatusRunning }, 5*time.Second, 10*time.Millisecond)
	s.apiURL = loopbackURL(t, d.Component(runtime.APIComponentName))
	s.busURL = loopbackURL(t, d.Component(runtime.BusComponentName))

	t.Cleanup(func() {
		cancel()
		<-s.stopped
	})
	return s
}

func loopbackURL(t *testing.T, comp daemon.Component) string {
	t.Helper()
	httpComp, ok := comp.(*components.HTTPServerComponent)
	require.True(t, ok)
	_, port, err := net.SplitHostPort(httpComp.Addr())
	require.NoError(t, err)
	return "http://127.0.0.1:" + port
}
