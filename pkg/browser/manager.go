// Package browser supervises one browser session per profile: launch with
// the profile's persisted fingerprint, watch for the window going away,
// and tear down on request or at shutdown.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/entrhq/veil/pkg/launchcfg"
	"github.com/entrhq/veil/pkg/logging"
	"github.com/entrhq/veil/pkg/metrics"
	"github.com/entrhq/veil/pkg/types"
)

// Options configures a SessionManager.
type Options struct {
	Engine       Engine
	Fingerprints Fingerprinter
	Settings     Settings
	Listener     Listener
	Logger       *logging.Logger
	Metrics      metrics.Recorder
	// ChunkSize overrides the transport chunk size for the host OS.
	ChunkSize int
	// FindExecutable locates the browser when Settings.ExecutablePath is
	// unset or missing. Defaults to FindCamoufox.
	FindExecutable func() (string, error)
}

// session is the handle of a running browser. Absence from the table is
// the authoritative "not running" signal.
type session struct {
	id        string
	instance  Instance
	page      Page
	startedAt time.Time
	// geo is the location the fingerprint was refreshed for, if any.
	geo *types.GeoIPInfo

	// cancel stops the monitor; done is closed when it has returned.
	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}
}

// SessionManager owns the running-session table.
type SessionManager struct {
	opts      Options
	log       *logging.Logger
	metrics   metrics.Recorder
	listener  Listener
	chunkSize int

	mu       sync.Mutex
	sessions map[string]*session
	starting map[string]struct{}
	stopping map[string]struct{}
}

// NewSessionManager creates a session manager.
func NewSessionManager(opts Options) *SessionManager {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = launchcfg.HostChunkSize()
	}
	listener := opts.Listener
	if listener == nil {
		listener = ListenerFuncs{}
	}
	if opts.FindExecutable == nil {
		opts.FindExecutable = FindCamoufox
	}
	if opts.Settings.NavigationTimeout <= 0 {
		opts.Settings.NavigationTimeout = DefaultSettings().NavigationTimeout
	}
	return &SessionManager{
		opts:      opts,
		log:       opts.Logger,
		metrics:   metrics.OrNoop(opts.Metrics),
		listener:  listener,
		chunkSize: chunk,
		sessions:  make(map[string]*session),
		starting:  make(map[string]struct{}),
		stopping:  make(map[string]struct{}),
	}
}

func (m *SessionManager) notify(id string, status types.Status) {
	m.listener.StatusChanged(id, status)
}

// Launch starts a browser for p and reports whether it is now running.
// A profile that is already running, starting or stopping is rejected
// without any status change. Failures are reported as StatusError.
func (m *SessionManager) Launch(ctx context.Context, p *types.Profile) bool {
	if p == nil || p.ID == "" {
		return false
	}
	id := p.ID

	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		m.log.Debugf("Profile %s is already running", id)
		return false
	}
	if _, ok := m.starting[id]; ok {
		m.mu.Unlock()
		m.log.Debugf("Profile %s is already starting", id)
		return false
	}
	if _, ok := m.stopping[id]; ok {
		m.mu.Unlock()
		m.log.Debugf("Profile %s is still stopping", id)
		return false
	}
	m.starting[id] = struct{}{}
	m.mu.Unlock()

	m.notify(id, types.StatusStarting)
	m.log.Infof("Starting profile: %s", p.Name)
	began := time.Now()

	s, err := m.start(ctx, p)

	m.mu.Lock()
	delete(m.starting, id)
	if err == nil {
		m.sessions[id] = s
	}
	running := len(m.sessions)
	m.mu.Unlock()

	if err != nil {
		m.log.Errorf("Error launching profile %s: %v", id, err)
		m.metrics.IncLaunch(metrics.ResultFailure)
		m.notify(id, types.StatusError)
		return false
	}

	go m.monitor(s)

	m.metrics.IncLaunch(metrics.ResultSuccess)
	m.metrics.ObserveLaunchDuration(time.Since(began))
	m.metrics.SetRunningSessions(running)
	if gl, ok := m.listener.(GeoListener); ok && s.geo != nil {
		geo := *s.geo
		gl.GeoResolved(id, &geo)
	}
	m.notify(id, types.StatusRunning)
	return true
}

// start performs the launch I/O. It never touches the session table.
func (m *SessionManager) start(ctx context.Context, p *types.Profile) (s *session, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("launch panicked: %v", r)
		}
	}()

	if m.opts.Engine == nil || m.opts.Fingerprints == nil {
		return nil, errors.New("session manager has no engine or fingerprint store")
	}

	dir := m.opts.Fingerprints.ProfileDir(p.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create profile directory: %w", err)
	}
	m.log.Debugf("Data dir: %s", dir)
	m.log.Debugf("Proxy configured: %s", p.Proxy.String())

	lc, err := m.opts.Fingerprints.Resolve(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("resolve fingerprint: %w", err)
	}

	opts, err := m.launchOptions(p, lc)
	if err != nil {
		return nil, err
	}

	inst, err := m.opts.Engine.Launch(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	page, err := inst.ActivePage(ctx)
	if err != nil {
		if cerr := inst.Close(context.WithoutCancel(ctx)); cerr != nil {
			m.log.Warnf("Error closing browser after failed launch: %v", cerr)
		}
		return nil, fmt.Errorf("open page: %w", err)
	}

	if start := m.opts.Settings.StartURL(); start != "" && page.URL() == "about:blank" {
		if err := page.Goto(ctx, start, m.opts.Settings.NavigationTimeout); err != nil {
			m.log.Warnf("Failed to load start page %s: %v", start, err)
		}
	}

	mctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:        p.ID,
		instance:  inst,
		page:      page,
		startedAt: time.Now(),
		geo:       lc.Geo,
		ctx:       mctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}, nil
}

// monitor waits for the browser to go away. An external close tears the
// session down and fires BrowserClosed once; a cancelled monitor returns
// quietly.
func (m *SessionManager) monitor(s *session) {
	defer close(s.done)

	select {
	case <-s.ctx.Done():
		return
	case <-s.instance.Closed():
	}

	m.mu.Lock()
	_, stopping := m.stopping[s.id]
	if cur := m.sessions[s.id]; cur != s || stopping {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.id)
	running := len(m.sessions)
	m.mu.Unlock()
	s.cancel()

	m.log.Infof("Browser closed for profile %s after %s", s.id, time.Since(s.startedAt).Round(time.Second))
	m.metrics.IncExternalClose()
	m.metrics.SetRunningSessions(running)
	m.notify(s.id, types.StatusStopped)
	m.listener.BrowserClosed(s.id)
}

// Stop tears down the profile's browser. Teardown errors are logged and
// the session is removed regardless. Stopping a profile with no session
// still reports StatusStopped. It returns false only when the profile is
// mid-launch or already stopping.
func (m *SessionManager) Stop(ctx context.Context, id string) bool {
	m.mu.Lock()
	if _, ok := m.starting[id]; ok {
		m.mu.Unlock()
		m.log.Warnf("Profile %s is starting; stop ignored", id)
		return false
	}
	if _, ok := m.stopping[id]; ok {
		m.mu.Unlock()
		return false
	}
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		m.notify(id, types.StatusStopped)
		return true
	}
	m.stopping[id] = struct{}{}
	m.mu.Unlock()

	m.notify(id, types.StatusStopping)
	s.cancel()

	if err := s.instance.Close(ctx); err != nil {
		m.log.Warnf("Error closing browser for profile %s: %v", id, err)
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		m.log.Warnf("Monitor for profile %s did not exit before deadline", id)
	}

	m.mu.Lock()
	if m.sessions[id] == s {
		delete(m.sessions, id)
	}
	delete(m.stopping, id)
	running := len(m.sessions)
	m.mu.Unlock()

	m.metrics.IncStop()
	m.metrics.SetRunningSessions(running)
	m.notify(id, types.StatusStopped)
	return true
}

// IsRunning reports whether id has a live session.
func (m *SessionManager) IsRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// IsStopping reports whether a Stop for id is in progress.
func (m *SessionManager) IsStopping(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stopping[id]
	return ok
}

// IsStarting reports whether a Launch for id is in progress.
func (m *SessionManager) IsStarting(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.starting[id]
	return ok
}

// Running returns the ids with live sessions, sorted.
func (m *SessionManager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Cleanup stops every tracked session concurrently. Sessions still
// tearing down when ctx expires are abandoned and dropped from the table.
func (m *SessionManager) Cleanup(ctx context.Context) {
	ids := m.Running()
	if len(ids) == 0 {
		return
	}
	m.log.Infof("Stopping %d browser session(s)", len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Stop(ctx, id)
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return
	case <-ctx.Done():
	}

	m.mu.Lock()
	abandoned := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		s.cancel()
		delete(m.sessions, id)
		abandoned = append(abandoned, id)
	}
	clear(m.stopping)
	m.mu.Unlock()

	m.metrics.SetRunningSessions(0)
	slices.Sort(abandoned)
	m.log.Warnf("Cleanup deadline reached; abandoned sessions: %v", abandoned)
}
