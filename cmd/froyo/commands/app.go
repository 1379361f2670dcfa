package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scripthost/pkg/config"
	"github.com/openfroyo/scripthost/pkg/engine"
	"github.com/openfroyo/scripthost/pkg/engine/engines"
	"github.com/openfroyo/scripthost/pkg/orchestrator"
	"github.com/openfroyo/scripthost/pkg/telemetry"
	"github.com/openfroyo/scripthost/pkg/workspace"
)

// app holds what every command shares once settings are loaded.
type app struct {
	version string
	flags   globalFlags

	settings *config.Settings
	tel      *telemetry.Telemetry
	metrics  *telemetry.MetricsServer
	manager  *workspace.Manager
	factory  *engine.Factory
	logger   *telemetry.Logger

	// reloads receives the active workspace after its config changed on
	// disk, while the manager is watching.
	reloads chan *workspace.Context
}

func (a *app) setup(cmd *cobra.Command) error {
	ctx := cmd.Context()

	settings, err := config.Load(ctx, config.LoadOptions{
		Home:       a.flags.home,
		ConfigFile: a.flags.configFile,
		Flags:      cmd.Flags(),
		FlagKeys:   flagKeys,
	})
	if err != nil {
		return err
	}
	a.settings = settings

	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig(a.version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tel = tel
	a.logger = tel.Logger.NewComponentLogger("cli")

	a.metrics, err = tel.Metrics.StartMetricsServer(func(err error) {
		a.logger.WithError(err).Error("Metrics server failed")
	})
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	if a.metrics != nil {
		a.logger.WithField("address", a.metrics.Addr()).Info("Serving metrics")
	}

	a.reloads = make(chan *workspace.Context, 1)
	a.manager, err = workspace.NewManager(workspace.Options{
		Home:          settings.Home,
		Logger:        tel.Logger.Zerolog(),
		StoreObserver: tel.Metrics.ObserveStoreOperation,
		OnReload: func(wc *workspace.Context) {
			select {
			case a.reloads <- wc:
			default:
			}
		},
	})
	if err != nil {
		return err
	}

	a.factory, err = engines.Default(engine.Options{
		Logger: tel.Logger.NewComponentLogger("script").Zerolog(),
	})
	return err
}

func (a *app) close(ctx context.Context) error {
	if a.settings == nil {
		return nil
	}
	// The engine factory is shared by the whole process and is not closed here.
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Close())
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if a.metrics != nil {
		errs = append(errs, a.metrics.Shutdown(shutdownCtx))
	}
	if a.tel != nil {
		errs = append(errs, a.tel.Shutdown(shutdownCtx))
	}
	return errors.Join(errs...)
}

// workspace activates the workspace named by --workspace, or the recorded
// active one.
func (a *app) workspace(ctx context.Context) (*workspace.Context, error) {
	return a.manager.Activate(ctx, a.flags.workspace)
}

// orchestrator returns an orchestrator initialized for wc.
func (a *app) orchestrator(ctx context.Context, wc *workspace.Context) (*orchestrator.Orchestrator, error) {
	o := orchestrator.New(orchestrator.Options{
		Telemetry:  a.tel,
		PolicyDirs: a.settings.PolicyDirs,
	})
	if err := o.Initialize(ctx, wc, a.factory); err != nil {
		return nil, err
	}
	return o, nil
}

// print writes v as indented JSON with --json, or calls text otherwise.
func (a *app) print(w io.Writer, v interface{}, text func(io.Writer) error) error {
	if a.flags.jsonOutput || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}
