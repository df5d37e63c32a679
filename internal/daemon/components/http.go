// Package components adapts warden services to the daemon lifecycle.
package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/warden/internal/daemon"
)

type HTTPTimeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// HTTPServerComponent serves one handler. The listener is bound during Init so
// an occupied port fails startup instead of a background goroutine.
type HTTPServerComponent struct {
	name         string
	addr         string
	handler      http.Handler
	timeouts     HTTPTimeouts
	dependencies []string

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	started  bool
	serveErr error
	done     chan struct{}
}

func NewHTTPServerComponent(name, addr string, handler http.Handler, timeouts HTTPTimeouts, dependencies ...string) *HTTPServerComponent {
	if timeouts.Shutdown <= 0 {
		timeouts.Shutdown = 5 * time.Second
	}
	return &HTTPServerComponent{
		name:         name,
		addr:         addr,
		handler:      handler,
		timeouts:     timeouts,
		dependencies: append([]string(nil), dependencies...),
	}
}

func (h *HTTPServerComponent) Name() string {
	return h.name
}

func (h *HTTPServerComponent) Dependencies() []string {
	return append([]string(nil), h.dependencies...)
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.handler == nil {
		return fmt.Errorf("%s: handler is nil", h.name)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s: listen %s: %w", h.name, h.addr, err)
	}

	h.listener = ln
	h.server = &http.Server{
		Handler:      h.handler,
		ReadTimeout:  h.timeouts.Read,
		WriteTimeout: h.timeouts.Write,
		IdleTimeout:  h.timeouts.Idle,
	}
	slog.Info("HTTP server initialized", "component", h.name, "addr", ln.Addr().String())
	return nil
}

func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server == nil {
		return fmt.Errorf("%s not initialized", h.name)
	}

	h.done = make(chan struct{})
	go func(server *http.Server, ln net.Listener, done chan struct{}) {
		defer close(done)
		slog.Info("HTTP server listening", "component", h.name, "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "component", h.name, "error", err)
			h.mu.Lock()
			h.serveErr = err
			h.mu.Unlock()
		}
	}(h.server, h.listener, h.done)

	h.started = true
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	server, ln, started, done := h.server, h.listener, h.started, h.done
	h.started = false
	h.mu.Unlock()

	if !started {
		if ln != nil {
			_ = ln.Close()
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, h.timeouts.Shutdown)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown: %w", h.name, err)
	}
	<-done
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health := &daemon.ComponentHealth{Name: h.name}
	switch {
	case h.server == nil:
		health.Error = fmt.Errorf("not initialized")
	case h.serveErr != nil:
		health.Error = h.serveErr
	case !h.started:
		health.Error = fmt.Errorf("not started")
	default:
		health.Healthy = true
	}
	return health, nil
}

// Addr reports the bound address, useful when configured with port 0.
func (h *HTTPServerComponent) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}
