package browser

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/veil/pkg/launchcfg"
	"github.com/entrhq/veil/pkg/logging"
)

// PlaywrightEngine launches Camoufox persistent contexts through
// Playwright's Firefox protocol. The driver starts on first use.
type PlaywrightEngine struct {
	// Install downloads the driver and Firefox before the first launch.
	Install bool
	Logger  *logging.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywrightEngine returns an engine that has not started the driver yet.
func NewPlaywrightEngine(install bool, logger *logging.Logger) *PlaywrightEngine {
	return &PlaywrightEngine{Install: install, Logger: logger}
}

func (e *PlaywrightEngine) driver() (*playwright.Playwright, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pw != nil {
		return e.pw, nil
	}

	// Discard driver output so it does not interleave with ours.
	opts := &playwright.RunOptions{
		Browsers: []string{"firefox"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if e.Install {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	e.Logger.Debugf("Playwright driver started")
	e.pw = pw
	return pw, nil
}

// Launch implements Engine.
func (e *PlaywrightEngine) Launch(ctx context.Context, opts LaunchOptions) (Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.ExecutablePath == "" {
		return nil, ErrNoCamoufox
	}
	pw, err := e.driver()
	if err != nil {
		return nil, err
	}

	pwOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Env:              mergeEnv(os.Environ(), opts.Env),
		Headless:         playwright.Bool(opts.Headless),
		NoViewport:       playwright.Bool(opts.NoViewport),
		FirefoxUserPrefs: opts.FirefoxPrefs,
		ExecutablePath:   playwright.String(opts.ExecutablePath),
	}
	if opts.Proxy.Active() {
		px := &playwright.Proxy{Server: opts.Proxy.Server()}
		if opts.Proxy.Username != "" {
			px.Username = playwright.String(opts.Proxy.Username)
			px.Password = playwright.String(opts.Proxy.Password)
		}
		pwOpts.Proxy = px
	}

	type result struct {
		bc  playwright.BrowserContext
		err error
	}
	ch := make(chan result, 1)
	go func() {
		bc, err := pw.Firefox.LaunchPersistentContext(opts.UserDataDir, pwOpts)
		ch <- result{bc, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to launch firefox: %w", r.err)
		}
		return newPlaywrightInstance(r.bc), nil
	case <-ctx.Done():
		// The launch cannot be interrupted; close whatever it produces.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.bc.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Shutdown stops the Playwright driver.
func (e *PlaywrightEngine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pw == nil {
		return nil
	}
	err := e.pw.Stop()
	e.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type playwrightInstance struct {
	bc     playwright.BrowserContext
	closed chan struct{}
	once   sync.Once
}

func newPlaywrightInstance(bc playwright.BrowserContext) *playwrightInstance {
	inst := &playwrightInstance{bc: bc, closed: make(chan struct{})}
	bc.OnClose(func(playwright.BrowserContext) {
		inst.once.Do(func() { close(inst.closed) })
	})
	return inst
}

func (i *playwrightInstance) ActivePage(context.Context) (Page, error) {
	// Session restore may already have opened tabs.
	if pages := i.bc.Pages(); len(pages) > 0 {
		return playwrightPage{pages[len(pages)-1]}, nil
	}
	p, err := i.bc.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return playwrightPage{p}, nil
}

func (i *playwrightInstance) Closed() <-chan struct{} {
	return i.closed
}

func (i *playwrightInstance) Close(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- i.bc.Close() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type playwrightPage struct {
	page playwright.Page
}

func (p playwrightPage) URL() string {
	return p.page.URL()
}

func (p playwrightPage) Goto(_ context.Context, url string, timeout time.Duration) error {
	waitUntil := playwright.WaitUntilState("domcontentloaded")
	opts := playwright.PageGotoOptions{WaitUntil: &waitUntil}
	if timeout > 0 {
		opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}
	if _, err := p.page.Goto(url, opts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// mergeEnv overlays extra on a KEY=VALUE environment. Stale transport
// slots inherited from the parent are dropped.
func mergeEnv(base []string, extra map[string]string) map[string]string {
	env := make(map[string]string, len(base)+len(extra))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.HasPrefix(k, launchcfg.SlotPrefix) {
			continue
		}
		env[k] = v
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}
