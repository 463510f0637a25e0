// Package gateway exposes the window manager over HTTP: the per-turn entry
// point, cache stats, window diagnostics, conversation reset, health/status,
// Prometheus metrics, and a WebSocket stream of diagnostic events. It binds
// to loopback by default and is a leaf module — only the app wiring imports it.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tokenwindow/twm/internal/core"
	"github.com/tokenwindow/twm/internal/diag"
	"github.com/tokenwindow/twm/internal/manager"
	"github.com/tokenwindow/twm/pkg/message"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Engine is the slice of the manager the gateway serves.
type Engine interface {
	ProcessRequest(ctx context.Context, req message.TurnRequest) (message.TurnResult, error)
	GetCacheStats(conversationID string) message.CacheStats
	Reset(conversationID string)
	GetWindowState(conversationID string) manager.WindowState
}

// Gateway is the HTTP gateway module.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	metrics   *Metrics
	engine    Engine
	hub       *diag.Hub
	startedAt time.Time
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.metrics = NewMetrics()
	ctx.RegisterService("gateway.metrics", g.metrics)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves the engine and diagnostic hub
// from the service registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	svc, ok := g.appCtx.Service("twm.manager")
	if !ok {
		return errors.New("gateway: manager service not registered")
	}
	engine, ok := svc.(Engine)
	if !ok {
		return errors.New("gateway: manager service has unexpected type")
	}
	g.engine = engine

	if svc, ok := g.appCtx.Service("diag.hub"); ok {
		if hub, ok := svc.(*diag.Hub); ok {
			g.hub = hub
			g.watchEvents()
		}
	}

	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:        g.config.Bind,
		Handler:     g.buildRouter(),
		ReadTimeout: g.config.ReadTimeout,
		// No global write timeout: the diagnostics stream holds its
		// connection open indefinitely.
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// watchEvents feeds diagnostic events into the Prometheus counters.
func (g *Gateway) watchEvents() {
	ch, cancel := g.hub.Subscribe()
	go func() {
		defer cancel()
		for e := range ch {
			g.metrics.RecordEvent(e.Kind)
		}
	}()
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
