// Package devserver serves the last successful build from memory, rebuilds
// on source changes and pushes live reload events to connected browsers.
//
// The server moves between four states: Idle until the startup build
// finishes, Serving while the last build succeeded, Rebuilding while a build
// runs and Failed after a build error. Requests are always answered from the
// last published snapshot, which is swapped atomically, so a rebuild or a
// failed build never exposes partial output. A change detected during a
// rebuild cancels it; at most one further rebuild is queued.
package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/events"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/history"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

// Builder runs one build.
type Builder interface {
	Build(ctx context.Context, trigger history.Trigger) (*pipeline.Report, error)
}

// Options configure a Server.
type Options struct {
	Config  *config.Config
	Builder Builder
	// History backs the /__builds endpoint and is pruned by the janitor.
	History history.Store
	// Cache is pruned by the janitor when set.
	Cache    CachePruner
	Recorder metrics.Recorder
	// Registry is served on /metrics when set.
	Registry *prom.Registry
	Logger   *slog.Logger
}

// Server is the development server.
type Server struct {
	cfg      *config.Config
	builder  Builder
	history  history.Store
	cache    CachePruner
	recorder metrics.Recorder
	registry *prom.Registry
	logger   *slog.Logger

	bus      *events.Bus
	hub      *Hub
	machine  stateMachine
	snapshot atomic.Pointer[Snapshot]
	lastErr  atomic.Pointer[buildFailure]
	started  time.Time

	trigger chan history.Trigger
	mu      sync.Mutex
	cancel  context.CancelFunc
}

type buildFailure struct {
	BuildID string
	Err     error
	At      time.Time
}

// New creates a server in the Idle state.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, ferrors.ConfigError("dev server requires a configuration").Build()
	}
	if opts.Builder == nil {
		return nil, ferrors.ValidationError("dev server requires a builder").Build()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Server{
		cfg:      opts.Config,
		builder:  opts.Builder,
		history:  opts.History,
		cache:    opts.Cache,
		recorder: rec,
		registry: opts.Registry,
		logger:   logger,
		bus:      events.NewBus(),
		hub:      NewHub(rec, logger),
		started:  time.Now(),
		trigger:  make(chan history.Trigger, 1),
	}, nil
}

// State returns the current lifecycle state.
func (s *Server) State() State { return s.machine.get() }

// Snapshot returns the build currently served, or nil before the first
// successful build.
func (s *Server) Snapshot() *Snapshot { return s.snapshot.Load() }

// LastError returns the error of the last build when it failed.
func (s *Server) LastError() error {
	if f := s.lastErr.Load(); f != nil {
		return f.Err
	}
	return nil
}

// Bus exposes the server's event bus.
func (s *Server) Bus() *events.Bus { return s.bus }

// Hub exposes the live reload hub.
func (s *Server) Hub() *Hub { return s.hub }

// RequestRebuild schedules a rebuild. A build in flight is canceled and
// pending requests are coalesced into one.
func (s *Server) RequestRebuild(trigger history.Trigger) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.recorder.IncRebuild("superseded")
	}
	s.mu.Unlock()

	select {
	case s.trigger <- trigger:
		s.recorder.IncRebuild("requested")
	default:
		s.recorder.IncRebuild("coalesced")
	}
}

// Run builds once, then serves and rebuilds on change until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryServer, "listen").WithContext("addr", addr).Build()
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	watcher, err := NewWatcher(WatcherOptions{
		Roots:    s.watchRoots(),
		Skip:     []string{s.cfg.OutputRoot()},
		Debounce: s.cfg.Server.Debounce,
		Bus:      s.bus,
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	janitor, err := NewJanitor(JanitorOptions{
		Cache:       s.cache,
		History:     s.history,
		CacheMaxAge: s.cfg.Build.Cache.MaxAge,
		KeepHistory: s.cfg.History.Retention,
		Logger:      s.logger,
	})
	if err != nil {
		return err
	}
	if err := janitor.Start(ctx, time.Hour); err != nil {
		return err
	}
	defer func() { _ = janitor.Stop() }()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); _ = watcher.Run(ctx) }()
	go func() { defer wg.Done(); s.forwardChanges(ctx) }()
	go func() { defer wg.Done(); s.loop(ctx) }()
	s.RequestRebuild(history.TriggerStart)

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Dev server listening", slog.String("addr", ln.Addr().String()))
		serveErr <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}
	stop()

	s.logger.Info("Shutting down dev server")
	s.hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		s.logger.Warn("HTTP server shutdown error", logfields.Error(serr))
	}
	wg.Wait()
	s.bus.Close()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryServer, "dev server stopped").Build()
	}
	return nil
}

// watchRoots are the source root plus the globals document's directory
// when it lives elsewhere.
func (s *Server) watchRoots() []string {
	roots := []string{s.cfg.SourceRoot()}
	if g := s.cfg.GlobalsPath(); g != "" {
		dir := filepath.Dir(g)
		if !within(dir, s.cfg.SourceRoot()) {
			roots = append(roots, dir)
		}
	}
	return roots
}

func (s *Server) forwardChanges(ctx context.Context) {
	changes, unsubscribe := events.Subscribe[events.ChangeDetected](s.bus, 16)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			s.logger.Info("Source change detected; rebuilding", logfields.Count(len(ev.Paths)))
			s.RequestRebuild(history.TriggerWatch)
		}
	}
}

func (s *Server) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trigger := <-s.trigger:
			s.rebuild(ctx, trigger)
		}
	}
}

// rebuild runs one build and applies its outcome.
func (s *Server) rebuild(ctx context.Context, trigger history.Trigger) {
	bctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	if s.State() != StateIdle {
		s.setState(ctx, StateRebuilding)
	}
	s.publish(ctx, events.BuildStarted{Trigger: string(trigger), StartedAt: time.Now()})
	report, err := s.builder.Build(bctx, trigger)
	if report == nil {
		report = &pipeline.Report{Trigger: trigger, StartedAt: time.Now()}
	}

	switch {
	case err == nil:
		s.snapshot.Store(newSnapshot(report))
		s.lastErr.Store(nil)
		s.setState(ctx, StateServing)
		s.recorder.IncRebuild("completed")
		s.hub.Broadcast(Message{Event: EventReload, BuildID: report.BuildID, Hash: report.ManifestHash})
	case ctx.Err() != nil:
		return
	case errors.Is(err, context.Canceled):
		// Superseded by a newer change; the queued rebuild follows.
		s.logger.Debug("Rebuild superseded", logfields.BuildID(report.BuildID))
	default:
		s.lastErr.Store(&buildFailure{BuildID: report.BuildID, Err: err, At: time.Now()})
		s.setState(ctx, StateFailed)
		s.recorder.IncRebuild("failed")
		s.hub.Broadcast(Message{Event: EventBuildError, BuildID: report.BuildID, Error: err.Error()})
	}
	s.publish(ctx, events.BuildFinished{
		BuildID:    report.BuildID,
		Status:     string(report.Status),
		Duration:   report.Duration,
		Files:      report.Files(),
		Err:        err,
		FinishedAt: time.Now(),
	})
}

func (s *Server) setState(ctx context.Context, to State) {
	from, err := s.machine.transition(to)
	if err != nil {
		s.logger.Error("Dev server state transition refused", logfields.Error(err))
		return
	}
	if from == to {
		return
	}
	s.logger.Info("Dev server state changed", slog.String("from", from.String()), logfields.State(to.String()))
	s.publish(ctx, events.StateChanged{From: from.String(), To: to.String(), At: time.Now()})
}

// publish delivers an event without blocking the rebuild loop on absent
// or slow subscribers.
func (s *Server) publish(ctx context.Context, evt any) {
	pctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.bus.Publish(pctx, evt); err != nil && ctx.Err() == nil {
		s.logger.Debug("Dropped dev server event", logfields.Error(err))
	}
}

// within reports whether p is dir or below it.
func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
