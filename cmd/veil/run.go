package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entrhq/veil/pkg/browser"
	"github.com/entrhq/veil/pkg/config"
	"github.com/entrhq/veil/pkg/profilestore"
	"github.com/entrhq/veil/pkg/types"
)

// RunCmd implements 'run'.
type RunCmd struct {
	Selectors   []string `arg:"" name:"profile" help:"Profile ids or name globs (e.g. 'shop-*')"`
	Limit       int      `help:"Concurrent launches; defaults to launcher.batch_limit"`
	MetricsAddr string   `help:"Serve Prometheus metrics on this address (e.g. :9090)"`
	Install     bool     `help:"Install the Playwright driver and Firefox before launching"`
}

func (c *RunCmd) Run(app *App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.Profiles()
	if err != nil {
		return err
	}
	selected, err := store.Select(ctx, c.Selectors...)
	if err != nil {
		return err
	}
	fps, err := app.Fingerprints()
	if err != nil {
		return err
	}

	launcher := config.GetLauncher()
	limit := c.Limit
	if limit <= 0 {
		limit = launcher.BatchLimit
	}

	if c.MetricsAddr != "" {
		shutdown, err := serveMetrics(app, c.MetricsAddr)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	engine := browser.NewPlaywrightEngine(c.Install || launcher.InstallDriver, app.Log.With("playwright"))
	defer func() {
		if err := engine.Shutdown(); err != nil {
			app.Log.Warnf("%v", err)
		}
	}()

	closed := make(chan string, len(selected))
	manager := browser.NewSessionManager(browser.Options{
		Engine:       engine,
		Fingerprints: fps,
		Settings:     browserSettings(config.GetBrowser()),
		Listener: browser.Listeners(
			store.StatusListener(),
			browser.ListenerFuncs{OnClosed: func(id string) {
				select {
				case closed <- id:
				default:
				}
			}},
		),
		Logger:  app.Log.With("browser"),
		Metrics: app.Metrics,
	})

	names := make(map[string]string, len(selected))
	for _, p := range selected {
		names[p.ID] = p.Name
	}

	results := manager.LaunchMany(ctx, selected, limit)
	launched := 0
	for _, p := range selected {
		if results[p.ID] {
			launched++
			fmt.Fprintf(app.Out, "%s %s\n", okStyle.Render("running"), p.Name)
		} else {
			fmt.Fprintf(app.Out, "%s %s\n", errorStyle.Render("failed "), p.Name)
		}
	}
	if launched == 0 {
		return errors.New("no profile could be launched; see the log for details")
	}
	fmt.Fprintln(app.Out, mutedStyle.Render("Close the browser windows or press Ctrl+C to stop."))

	supervise(ctx, manager, closed, func(id string) {
		fmt.Fprintf(app.Out, "%s %s\n", mutedStyle.Render("closed "), names[id])
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), launcher.ShutdownTimeout)
	defer cancel()
	manager.Cleanup(shutdownCtx)
	markStopped(shutdownCtx, store, results, app)
	return nil
}

// runningSet is the part of the session manager supervise needs.
type runningSet interface {
	Running() []string
}

// supervise blocks until no session is left or ctx is done, reporting
// each browser closed from outside.
func supervise(ctx context.Context, sessions runningSet, closed <-chan string, onClosed func(id string)) {
	for len(sessions.Running()) > 0 {
		select {
		case <-ctx.Done():
			return
		case id := <-closed:
			onClosed(id)
		}
	}
	// Drain events that raced with the last check.
	for {
		select {
		case id := <-closed:
			onClosed(id)
		default:
			return
		}
	}
}

// markStopped persists stopped for sessions Cleanup abandoned, which
// never got a stopped event.
func markStopped(ctx context.Context, store *profilestore.Store, results map[string]bool, app *App) {
	for id, ok := range results {
		if !ok {
			continue
		}
		p, err := store.Get(ctx, id)
		if err != nil || p.Status == types.StatusStopped {
			continue
		}
		if err := store.SetStatus(ctx, id, types.StatusStopped); err != nil {
			app.Log.Warnf("Failed to mark profile %s stopped: %v", id, err)
		}
	}
}

func serveMetrics(app *App, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Log.Errorf("Metrics server stopped: %v", err)
		}
	}()
	app.Log.Infof("Serving metrics on http://%s/metrics", ln.Addr())
	fmt.Fprintf(app.Out, "Metrics on http://%s/metrics\n", ln.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
