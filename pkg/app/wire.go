package app

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/tokenwindow/twm/internal/config"
	"github.com/tokenwindow/twm/internal/core"
	"github.com/tokenwindow/twm/internal/diag"
	"github.com/tokenwindow/twm/internal/gateway"
	"github.com/tokenwindow/twm/internal/manager"
	"github.com/tokenwindow/twm/internal/oversize"
	"github.com/tokenwindow/twm/internal/sweeper"
	"github.com/tokenwindow/twm/modules/store/sqlite"
)

// Imported module packages register themselves in init(); reference them so
// the compiler keeps the imports.
var _ = []core.Module{
	(*gateway.Gateway)(nil),
	(*sweeper.Module)(nil),
	(*sqlite.Module)(nil),
}

// managerModule adapts the Manager to the app lifecycle so its prompt cache
// and diagnostic sink close on shutdown.
type managerModule struct {
	mgr *manager.Manager
}

func (m *managerModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "manager"}
}

func (m *managerModule) Stop(context.Context) error {
	return m.mgr.Close()
}

// wire builds the application: the offload index first (the manager records
// into it), then the manager, then the modules that consume the manager.
func wire(appCtx *core.AppContext, cfg *config.Config, hub *diag.Hub, logger *slog.Logger) (*core.App, error) {
	sections := make(map[string]yaml.Node)

	if cfg.OffloadIndex.Path != "" {
		node, err := config.Section(sqlite.Config{Path: cfg.OffloadIndex.Path})
		if err != nil {
			return nil, err
		}
		sections["store.sqlite"] = node
	}
	if cfg.Sweeper.Schedule != "" {
		node, err := config.Section(sweeper.Config{
			Schedule:      cfg.Sweeper.Schedule,
			Retention:     cfg.Sweeper.Retention,
			TempDirectory: cfg.OversizedMessageHandling.TempDirectory,
		})
		if err != nil {
			return nil, err
		}
		sections["maintenance.sweeper"] = node
	}
	if cfg.Gateway.Bind != "" {
		node, err := config.Section(gateway.Config{
			Bind:      cfg.Gateway.Bind,
			AuthToken: cfg.Gateway.AuthToken,
		})
		if err != nil {
			return nil, err
		}
		sections["gateway.http"] = node
	}
	appCtx = appCtx.WithModuleConfigs(sections)

	application := core.NewApp(appCtx)

	if cfg.OffloadIndex.Path != "" {
		if err := application.LoadModules([]string{"store.sqlite"}); err != nil {
			return nil, err
		}
	}

	var index oversize.Index
	if svc, ok := appCtx.Service("offload.index"); ok {
		index, _ = svc.(oversize.Index)
	}

	mgr, err := manager.New(cfg, manager.Options{
		OffloadIndex: index,
		Hub:          hub,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: building manager: %w", err)
	}
	appCtx.RegisterService("twm.manager", mgr)
	application.AppendModule("manager", &managerModule{mgr: mgr})

	var ids []string
	if cfg.Sweeper.Schedule != "" {
		ids = append(ids, "maintenance.sweeper")
	}
	if cfg.Gateway.Bind != "" {
		ids = append(ids, "gateway.http")
	}
	if len(ids) > 0 {
		if err := application.LoadModules(ids); err != nil {
			return nil, err
		}
	}

	return application, nil
}
