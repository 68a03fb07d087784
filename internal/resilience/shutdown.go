package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ShutdownPhase is one of the five phases a GracefulShutdown passes through.
type ShutdownPhase string

const (
	PhaseRunning    ShutdownPhase = "running"
	PhaseDraining   ShutdownPhase = "draining"
	PhaseClosing    ShutdownPhase = "closing"
	PhaseCleanup    ShutdownPhase = "cleanup"
	PhaseTerminated ShutdownPhase = "terminated"
)

// ShutdownConfig configures phase timeouts and which optional steps run.
type ShutdownConfig struct {
	DrainTimeout   time.Duration
	CloseTimeout   time.Duration
	CleanupTimeout time.Duration
	ForceTimeout   time.Duration
	SaveState      bool
	NotifyPeers    bool
}

// DefaultShutdownConfig returns the gateway's standard shutdown timings.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		DrainTimeout: 30 * time.Second, CloseTimeout: 10 * time.Second,
		CleanupTimeout: 5 * time.Second, ForceTimeout: 60 * time.Second,
		SaveState: true, NotifyPeers: true,
	}
}

// ShutdownStats records timing and outcome counters for one shutdown run.
type ShutdownStats struct {
	StartTime                time.Time
	EndTime                  time.Time
	PhaseTimes               map[ShutdownPhase]time.Time
	ActiveConnectionsStart   int
	ActiveConnectionsDrained int
	ActiveConnectionsClosed  int
	CleanupTasksCompleted    int
	CleanupTasksFailed       int
	ForcedShutdown           bool
}

func (s *ShutdownStats) recordPhaseStart(phase ShutdownPhase) {
	if s.PhaseTimes == nil {
		s.PhaseTimes = map[ShutdownPhase]time.Time{}
	}
	s.PhaseTimes[phase] = time.Now()
}

// TotalDuration returns the elapsed time of the shutdown, or zero before it
// starts.
func (s *ShutdownStats) TotalDuration() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartTime)
}

// Closer is anything a connection registry entry must support so the
// closing phase can shed it.
type Closer interface {
	Close() error
}

// CleanupResult reports the outcome of a single named cleanup task.
type CleanupResult struct {
	Name string
	Err  error
}

type cleanupTask struct {
	name string
	run  func(ctx context.Context) error
}

// GracefulShutdown drives the gateway through RUNNING -> DRAINING ->
// CLOSING -> CLEANUP -> TERMINATED. Callers wire this to os/signal
// themselves (see cmd/i3gateway) and call Shutdown directly rather than
// having it own process-level signal state.
type GracefulShutdown struct {
	log    logrus.FieldLogger
	config ShutdownConfig

	mu          sync.Mutex
	phase       ShutdownPhase
	stats       ShutdownStats
	drainFns    []func(ctx context.Context) error
	cleanupFns  []cleanupTask
	connections map[string]Closer

	once sync.Once
	done chan struct{}
}

// NewGracefulShutdown returns a shutdown coordinator in the RUNNING phase.
func NewGracefulShutdown(log logrus.FieldLogger, config ShutdownConfig) *GracefulShutdown {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GracefulShutdown{
		log: log, config: config, phase: PhaseRunning,
		connections: map[string]Closer{}, done: make(chan struct{}),
	}
}

// RegisterDrainHandler adds a callback invoked at the start of the draining
// phase, e.g. to stop the downstream listener from accepting new sessions.
func (g *GracefulShutdown) RegisterDrainHandler(fn func(ctx context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drainFns = append(g.drainFns, fn)
}

// RegisterCleanup adds a named task run concurrently during the cleanup
// phase, such as flushing the state store's snapshot to disk.
func (g *GracefulShutdown) RegisterCleanup(name string, fn func(ctx context.Context) error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleanupFns = append(g.cleanupFns, cleanupTask{name: name, run: fn})
}

// RegisterConnection tracks an active connection under id so the draining
// phase can watch it drop and the closing phase can force it shut.
func (g *GracefulShutdown) RegisterConnection(id string, conn Closer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connections[id] = conn
}

// UnregisterConnection removes a connection, typically called by the
// connection's own close path once it exits naturally.
func (g *GracefulShutdown) UnregisterConnection(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.connections, id)
}

// IsShuttingDown reports whether shutdown has moved past RUNNING.
func (g *GracefulShutdown) IsShuttingDown() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase != PhaseRunning
}

// ShouldAcceptConnections reports whether new downstream sessions should
// still be accepted.
func (g *GracefulShutdown) ShouldAcceptConnections() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase == PhaseRunning
}

// Phase returns the current shutdown phase.
func (g *GracefulShutdown) Phase() ShutdownPhase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// Stats returns a copy of the shutdown's accumulated statistics.
func (g *GracefulShutdown) Stats() ShutdownStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Done returns a channel closed once Shutdown has fully completed.
func (g *GracefulShutdown) Done() <-chan struct{} {
	return g.done
}

func (g *GracefulShutdown) setPhase(phase ShutdownPhase) {
	g.mu.Lock()
	g.phase = phase
	g.stats.recordPhaseStart(phase)
	g.mu.Unlock()
}

// Shutdown runs the full phased sequence once; subsequent calls are no-ops.
// A force timer derived from ForceTimeout bounds the whole run: if it fires
// before the phases finish, Shutdown returns context.DeadlineExceeded and
// marks ForcedShutdown in the stats.
func (g *GracefulShutdown) Shutdown(ctx context.Context, reason string) error {
	var runErr error
	g.once.Do(func() {
		g.log.WithField("reason", reason).Info("starting graceful shutdown")

		g.mu.Lock()
		g.stats.StartTime = time.Now()
		g.stats.ActiveConnectionsStart = len(g.connections)
		g.mu.Unlock()

		forceCtx, cancel := context.WithTimeout(ctx, g.config.ForceTimeout)
		defer cancel()

		runErr = g.runPhases(forceCtx)

		g.mu.Lock()
		g.stats.EndTime = time.Now()
		if forceCtx.Err() != nil {
			g.stats.ForcedShutdown = true
		}
		g.mu.Unlock()
		g.setPhase(PhaseTerminated)
		g.logStats()
		close(g.done)
	})
	return runErr
}

func (g *GracefulShutdown) runPhases(ctx context.Context) error {
	if err := g.drainConnections(ctx); err != nil {
		return err
	}
	if err := g.closeConnections(ctx); err != nil {
		return err
	}
	return g.cleanupResources(ctx)
}

// drainConnections is phase 1: stop accepting new work and wait for active
// connections to close on their own, polling until they do or until
// DrainTimeout (or the overall force deadline) elapses.
func (g *GracefulShutdown) drainConnections(ctx context.Context) error {
	g.log.Info("phase 1: draining connections")
	g.setPhase(PhaseDraining)

	g.mu.Lock()
	handlers := append([]func(ctx context.Context) error{}, g.drainFns...)
	g.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx); err != nil {
			g.log.WithError(err).Error("drain handler failed")
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, g.config.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		g.mu.Lock()
		remaining := len(g.connections)
		g.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-drainCtx.Done():
			g.log.WithField("remaining", remaining).Warn("drain timeout, proceeding to close")
			goto done
		case <-ticker.C:
		}
	}
done:
	g.mu.Lock()
	g.stats.ActiveConnectionsDrained = len(g.connections)
	g.mu.Unlock()
	return ctx.Err()
}

// closeConnections is phase 2: force-close whatever remains after draining.
func (g *GracefulShutdown) closeConnections(ctx context.Context) error {
	g.log.Info("phase 2: closing connections")
	g.setPhase(PhaseClosing)

	g.mu.Lock()
	remaining := make(map[string]Closer, len(g.connections))
	for id, c := range g.connections {
		remaining[id] = c
	}
	g.mu.Unlock()

	if len(remaining) == 0 {
		g.log.Info("no active connections to close")
		return ctx.Err()
	}

	closeCtx, cancel := context.WithTimeout(ctx, g.config.CloseTimeout)
	defer cancel()

	eg, _ := errgroup.WithContext(closeCtx)
	closed := 0
	var mu sync.Mutex
	for id, c := range remaining {
		id, c := id, c
		eg.Go(func() error {
			if err := c.Close(); err != nil {
				g.log.WithError(err).WithField("connection", id).Error("error closing connection")
				return nil
			}
			mu.Lock()
			closed++
			mu.Unlock()
			g.UnregisterConnection(id)
			return nil
		})
	}
	_ = eg.Wait()

	g.mu.Lock()
	g.stats.ActiveConnectionsClosed = closed
	g.mu.Unlock()
	g.log.WithField("count", closed).Info("closed connections")
	return ctx.Err()
}

// cleanupResources is phase 3: run every registered cleanup task
// concurrently, bounded by CleanupTimeout, collecting per-task results.
func (g *GracefulShutdown) cleanupResources(ctx context.Context) error {
	g.log.Info("phase 3: cleaning up resources")
	g.setPhase(PhaseCleanup)

	g.mu.Lock()
	tasks := append([]cleanupTask{}, g.cleanupFns...)
	g.mu.Unlock()

	if len(tasks) == 0 {
		return ctx.Err()
	}

	cleanupCtx, cancel := context.WithTimeout(ctx, g.config.CleanupTimeout)
	defer cancel()

	results := make(chan CleanupResult, len(tasks))
	eg, egCtx := errgroup.WithContext(cleanupCtx)
	for _, task := range tasks {
		task := task
		eg.Go(func() error {
			err := task.run(egCtx)
			results <- CleanupResult{Name: task.name, Err: err}
			return nil
		})
	}
	_ = eg.Wait()
	close(results)

	completed, failed := 0, 0
	for r := range results {
		if r.Err != nil {
			failed++
			g.log.WithError(r.Err).WithField("task", r.Name).Error("cleanup task failed")
		} else {
			completed++
		}
	}
	if cleanupCtx.Err() != nil {
		failed += len(tasks) - completed - failed
	}

	g.mu.Lock()
	g.stats.CleanupTasksCompleted = completed
	g.stats.CleanupTasksFailed = failed
	g.mu.Unlock()

	g.log.WithFields(logrus.Fields{"completed": completed, "failed": failed}).Info("cleanup complete")
	return ctx.Err()
}

func (g *GracefulShutdown) logStats() {
	g.mu.Lock()
	stats := g.stats
	g.mu.Unlock()

	g.log.WithFields(logrus.Fields{
		"total_duration":    stats.TotalDuration(),
		"forced":            stats.ForcedShutdown,
		"connections_start": stats.ActiveConnectionsStart,
		"connections_drained": stats.ActiveConnectionsDrained,
		"connections_closed": stats.ActiveConnectionsClosed,
		"cleanup_completed": stats.CleanupTasksCompleted,
		"cleanup_failed":    stats.CleanupTasksFailed,
	}).Info("shutdown statistics")
}

// Component is a named subsystem that can save its state and notify peers
// before shutdown.
type Component interface {
	SaveState(ctx context.Context) error
}

// PeerNotifier is implemented by components that need to tell connected
// peers (e.g. other I3 routers) that the gateway is going away.
type PeerNotifier interface {
	NotifyShutdown(ctx context.Context) error
}

// ShutdownManager coordinates state persistence and peer notification
// across registered components before delegating to GracefulShutdown's
// phased sequence.
type ShutdownManager struct {
	config  ShutdownConfig
	handler *GracefulShutdown
	log     logrus.FieldLogger

	mu         sync.Mutex
	components map[string]any
}

// NewShutdownManager returns a manager wrapping a fresh GracefulShutdown.
func NewShutdownManager(log logrus.FieldLogger, config ShutdownConfig) *ShutdownManager {
	return &ShutdownManager{
		config: config, handler: NewGracefulShutdown(log, config), log: log,
		components: map[string]any{},
	}
}

// Handler exposes the underlying GracefulShutdown for direct registration
// of connections and drain handlers.
func (m *ShutdownManager) Handler() *GracefulShutdown {
	return m.handler
}

// RegisterComponent registers name for coordinated shutdown. If component
// implements the io.Closer-like Closer, its Close is wired into the cleanup
// phase automatically. Component (SaveState) and PeerNotifier hooks are not
// registered as cleanup tasks; Shutdown calls them before the phased
// sequence when SaveState / NotifyPeers are enabled.
func (m *ShutdownManager) RegisterComponent(name string, component any) {
	m.mu.Lock()
	m.components[name] = component
	m.mu.Unlock()

	if c, ok := component.(Closer); ok {
		m.handler.RegisterCleanup(name, func(ctx context.Context) error {
			return c.Close()
		})
	}
}

// Shutdown saves component state, notifies peers, then runs the phased
// shutdown sequence.
func (m *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	m.log.WithField("reason", reason).Info("shutdown manager: initiating")

	if m.config.SaveState {
		m.saveState(ctx)
	}
	if m.config.NotifyPeers {
		m.notifyPeers(ctx)
	}
	return m.handler.Shutdown(ctx, reason)
}

func (m *ShutdownManager) saveState(ctx context.Context) {
	m.mu.Lock()
	components := make(map[string]any, len(m.components))
	for k, v := range m.components {
		components[k] = v
	}
	m.mu.Unlock()

	for name, c := range components {
		saver, ok := c.(Component)
		if !ok {
			continue
		}
		if err := saver.SaveState(ctx); err != nil {
			m.log.WithError(err).WithField("component", name).Error("failed to save state")
		}
	}
}

func (m *ShutdownManager) notifyPeers(ctx context.Context) {
	m.mu.Lock()
	components := make(map[string]any, len(m.components))
	for k, v := range m.components {
		components[k] = v
	}
	m.mu.Unlock()

	for name, c := range components {
		notifier, ok := c.(PeerNotifier)
		if !ok {
			continue
		}
		if err := notifier.NotifyShutdown(ctx); err != nil {
			m.log.WithError(err).WithField("component", name).Error("failed to notify shutdown")
		}
	}
}
