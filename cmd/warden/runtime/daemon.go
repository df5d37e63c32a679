package runtime

import (
	"fmt"

	"github.com/harunnryd/warden/internal/config"
	"github.com/harunnryd/warden/internal/daemon"
	"github.com/harunnryd/warden/internal/daemon/components"
	"github.com/harunnryd/warden/internal/store"
)

const (
	APIComponentName = "API"
	BusComponentName = "MessageBus"
)

// NewDaemon registers the data dir lock, the janitor, the API server and,
// when enabled, the message bus.
func NewDaemon(c *Components) (*daemon.Daemon, error) {
	if c == nil || c.API == nil || c.Bus == nil || c.Janitor == nil {
		return nil, fmt.Errorf("daemon needs a fully built runtime")
	}
	srv := c.Config.Server

	timeouts, err := httpTimeouts(srv)
	if err != nil {
		return nil, err
	}

	d, err := daemon.NewDaemon("warden", daemon.Options{ShutdownTimeout: timeouts.Shutdown * 2})
	if err != nil {
		return nil, err
	}

	d.AddComponent(components.NewDataDirComponent(c.Config.Data.Dir, store.DefaultLockConfig()))
	d.AddComponent(components.NewJanitorComponent(c.Janitor, components.DataDirName))
	d.AddComponent(components.NewHTTPServerComponent(
		APIComponentName,
		fmt.Sprintf(":%d", srv.Port),
		c.API.Handler(),
		timeouts,
		components.DataDirName,
	))
	if c.Config.Bus.Enabled {
		d.AddComponent(components.NewHTTPServerComponent(
			BusComponentName,
			fmt.Sprintf(":%d", c.Config.Bus.Port),
			c.Bus.Handler(),
			timeouts,
			components.DataDirName,
		))
	}
	return d, nil
}

func httpTimeouts(srv config.ServerConfig) (components.HTTPTimeouts, error) {
	var t components.HTTPTimeouts
	var err error
	if t.Read, err = config.DurationOrDefault(srv.ReadTimeout, config.DefaultServerReadTimeout); err != nil {
		return t, fmt.Errorf("parse server read timeout: %w", err)
	}
	if t.Write, err = config.DurationOrDefault(srv.WriteTimeout, config.DefaultServerWriteTimeout); err != nil {
		return t, fmt.Errorf("parse server write timeout: %w", err)
	}
	if t.Idle, err = config.DurationOrDefault(srv.IdleTimeout, config.DefaultServerIdleTimeout); err != nil {
		return t, fmt.Errorf("parse server idle timeout: %w", err)
	}
	if t.Shutdown, err = config.DurationOrDefault(srv.ShutdownTimeout, config.DefaultServerShutdownTimeout); err != nil {
		return t, fmt.Errorf("parse server shutdown timeout: %w", err)
	}
	return t, nil
}
