package upstream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"i3gateway/internal/lpc"
	"i3gateway/internal/mudmode"
	"i3gateway/internal/packet"
	"i3gateway/internal/resilience"
)

// ErrNotConnected is returned by Send/SendPacket when the manager's state
// is not CONNECTED or READY.
var ErrNotConnected = errors.New("upstream: not connected")

// Metrics receives per-frame counts from a ConnectionManager. Kept as an
// interface, like route.Metrics and dispatch.Metrics, so this package
// never imports internal/metrics directly.
type Metrics interface {
	IncPacketsSent()
	IncPacketsReceived()
}

type noopMetrics struct{}

func (noopMetrics) IncPacketsSent()     {}
func (noopMetrics) IncPacketsReceived() {}

// ManagerConfig configures a ConnectionManager.
type ManagerConfig struct {
	Routers           []*RouterInfo
	KeepaliveInterval time.Duration
	ConnectionTimeout time.Duration

	// OnMessage is invoked for every frame the receive loop decodes, in
	// wire order, with PacketsReceived already incremented.
	OnMessage func(v lpc.Value)
	// OnStateChange is invoked, best-effort and non-blocking, on every
	// state transition.
	OnStateChange func(state ConnectionState)
	// OnHandshake is called once a TCP connection succeeds, while state is
	// still CONNECTED, to send the startup-req-3 packet. The caller
	// transitions the manager to AUTHENTICATING afterward regardless of
	// the handshake send outcome; the authoritative READY transition
	// happens when router bookkeeping observes a startup-reply and calls
	// MarkReady.
	OnHandshake func(send func(v lpc.Value) error) error

	// Rand supplies jitter randomness for RouterInfo.BackoffTime. Defaults
	// to a package-level source; tests inject a seeded one.
	Rand *rand.Rand
	// Breakers, when set, wraps each router's dial attempt in a named
	// circuit breaker so a persistently failing router stops being tried
	// at full frequency. Optional.
	Breakers *resilience.Manager
	// Metrics, when set, is notified of every frame sent and received.
	// Defaults to a no-op implementation.
	Metrics Metrics

	Log logrus.FieldLogger
}

// ConnectionManager holds the gateway's single upstream I3 session:
// priority-ordered failover across routers, exponential backoff
// reconnection with jitter, a state machine, a keepalive loop, and
// send/receive loops built on the MudMode framer.
type ConnectionManager struct {
	routers []*RouterInfo
	config  ManagerConfig
	log     logrus.FieldLogger
	rng     *rand.Rand

	mu                  sync.Mutex
	state               ConnectionState
	currentRouter       *RouterInfo
	conn                net.Conn
	framer              *mudmode.Framer
	stats               ConnectionStats
	closing             bool
	reconnectScheduled  bool
	subscribedChannels  map[string]struct{}

	ctx             context.Context
	cancel          context.CancelFunc
	cycleCtx        context.Context
	cycleCancel     context.CancelFunc
	reconnectCancel context.CancelFunc
	wg              sync.WaitGroup
}

// NewConnectionManager returns a manager in the DISCONNECTED state.
func NewConnectionManager(config ManagerConfig) *ConnectionManager {
	routers := append([]*RouterInfo{}, config.Routers...)
	sort.SliceStable(routers, func(i, j int) bool { return routers[i].Priority < routers[j].Priority })

	if config.KeepaliveInterval == 0 {
		config.KeepaliveInterval = 60 * time.Second
	}
	if config.ConnectionTimeout == 0 {
		config.ConnectionTimeout = 30 * time.Second
	}
	if config.Rand == nil {
		config.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if config.Metrics == nil {
		config.Metrics = noopMetrics{}
	}
	log := config.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &ConnectionManager{
		routers: routers, config: config, log: log, rng: config.Rand,
		state: StateDisconnected, subscribedChannels: map[string]struct{}{},
	}
}

// Start launches the manager's background lifecycle: an initial connection
// attempt followed by whatever reconnection it needs. Cancelling ctx stops
// all background loops and disconnects.
func (m *ConnectionManager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	runCtx := m.ctx
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Connect(runCtx)
	}()

	go func() {
		<-runCtx.Done()
		m.Disconnect()
	}()
}

// Stop blocks until the manager has fully disconnected.
func (m *ConnectionManager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.Disconnect()
	m.wg.Wait()
}

// State returns the manager's current connection state.
func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the manager can currently accept sends.
func (m *ConnectionManager) IsConnected() bool {
	s := m.State()
	return s == StateConnected || s == StateReady
}

// CurrentRouter returns a snapshot of the router currently in use, or nil.
func (m *ConnectionManager) CurrentRouter() *RouterInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentRouter == nil {
		return nil
	}
	snap := m.currentRouter.snapshot()
	return &snap
}

// Stats returns a copy of the manager's accumulated connection statistics.
func (m *ConnectionManager) Stats() ConnectionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *ConnectionManager) setState(state ConnectionState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	if m.config.OnStateChange != nil {
		m.config.OnStateChange(state)
	}
}

// Connect attempts, in ascending priority order, to dial a router whose
// backoff has elapsed. On success it installs the framer, starts the
// receive and keepalive loops, sends the startup handshake, and returns
// true. On total failure it transitions to ERROR and schedules a
// reconnect.
func (m *ConnectionManager) Connect(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	m.setState(StateConnecting)

	for _, router := range m.routers {
		if !router.CanAttempt(m.rng) {
			continue
		}
		router.recordAttempt()

		conn, err := m.dial(ctx, router)
		if err != nil {
			router.recordFailure()
			m.mu.Lock()
			m.stats.LastError = err.Error()
			m.mu.Unlock()
			m.log.WithError(err).WithField("router", router.Name).Warn("router connect attempt failed")
			continue
		}

		router.recordSuccess()
		cycleCtx, cycleCancel := context.WithCancel(ctx)
		m.mu.Lock()
		m.currentRouter = router
		m.conn = conn
		m.framer = mudmode.NewFramer(m.log.WithField("router", router.Name))
		m.stats.ConnectionTime = time.Now()
		m.cycleCtx = cycleCtx
		m.cycleCancel = cycleCancel
		m.mu.Unlock()

		m.setState(StateConnected)

		if m.config.OnHandshake != nil {
			if err := m.config.OnHandshake(m.Send); err != nil {
				m.log.WithError(err).Warn("startup handshake send failed")
			}
		}
		m.setState(StateAuthenticating)

		m.wg.Add(2)
		go func() { defer m.wg.Done(); m.receiveLoop() }()
		go func() { defer m.wg.Done(); m.keepaliveLoop() }()

		return true
	}

	m.setState(StateError)

	m.mu.Lock()
	closing := m.closing
	m.mu.Unlock()
	if !closing {
		m.scheduleReconnect(ctx)
	}
	return false
}

func (m *ConnectionManager) dial(ctx context.Context, router *RouterInfo) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.config.ConnectionTimeout)
	defer cancel()

	dialer := func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", router.Address, router.Port))
	}

	if m.config.Breakers == nil {
		return dialer(dialCtx)
	}

	breaker := m.config.Breakers.GetOrCreate(router.Name, resilience.DefaultCircuitBreakerConfig())
	var conn net.Conn
	err := breaker.Call(dialCtx, func(ctx context.Context) error {
		c, dialErr := dialer(ctx)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	})
	return conn, err
}

// MarkReady transitions AUTHENTICATING -> READY once router bookkeeping
// observes the router's startup-reply.
func (m *ConnectionManager) MarkReady() {
	m.mu.Lock()
	authenticating := m.state == StateAuthenticating
	m.mu.Unlock()
	if authenticating {
		m.setState(StateReady)
	}
}

// Disconnect tears down the active session, if any, and returns to
// DISCONNECTED. Safe to call when already disconnected.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.closing = true
	conn := m.conn
	cycleCancel := m.cycleCancel
	reconnectCancel := m.reconnectCancel
	m.mu.Unlock()

	if conn != nil {
		m.setState(StateClosing)
		_ = conn.Close()
	}
	if cycleCancel != nil {
		cycleCancel()
	}
	if reconnectCancel != nil {
		reconnectCancel()
	}

	m.wg.Wait()

	m.mu.Lock()
	m.conn = nil
	m.framer = nil
	m.currentRouter = nil
	m.cycleCtx = nil
	m.cycleCancel = nil
	m.mu.Unlock()

	m.setState(StateDisconnected)

	m.mu.Lock()
	m.closing = false
	m.mu.Unlock()
}

// Send encodes v via the MudMode framer and writes it to the active
// connection. It fails fast with ErrNotConnected outside CONNECTED/READY.
func (m *ConnectionManager) Send(v lpc.Value) error {
	m.mu.Lock()
	state := m.state
	conn := m.conn
	framer := m.framer
	m.mu.Unlock()

	if state != StateConnected && state != StateReady {
		return ErrNotConnected
	}
	if conn == nil || framer == nil {
		return ErrNotConnected
	}

	body, err := framer.Encode(v)
	if err != nil {
		return fmt.Errorf("upstream: encode: %w", err)
	}
	frame := framer.EncodeFrame(body)
	n, err := conn.Write(frame)
	if err != nil {
		go m.handleConnectionLost()
		return fmt.Errorf("upstream: write: %w", err)
	}

	m.mu.Lock()
	m.stats.PacketsSent++
	m.stats.BytesSent += int64(n)
	m.mu.Unlock()
	m.config.Metrics.IncPacketsSent()
	return nil
}

// SendPacket encodes a typed I3 packet into its LPC array form and sends
// it upstream.
func (m *ConnectionManager) SendPacket(p *packet.Packet) error {
	return m.Send(p.ToLPCArray())
}

func (m *ConnectionManager) receiveLoop() {
	buf := make([]byte, 4096)
	for {
		m.mu.Lock()
		conn := m.conn
		framer := m.framer
		m.mu.Unlock()
		if conn == nil || framer == nil {
			return
		}

		n, err := conn.Read(buf)
		if err != nil {
			m.handleConnectionLost()
			return
		}

		values := framer.Feed(buf[:n])
		if len(values) == 0 {
			continue
		}
		m.mu.Lock()
		m.stats.PacketsReceived += int64(len(values))
		m.stats.BytesReceived += int64(n)
		m.mu.Unlock()
		for range values {
			m.config.Metrics.IncPacketsReceived()
		}

		for _, v := range values {
			if m.config.OnMessage != nil {
				m.config.OnMessage(v)
			}
		}
	}
}

// keepaliveLoop wakes on keepalive_interval while the session is READY.
// The I3 protocol has no explicit ping; routers close connections idle
// past their own timeout, so any outbound traffic would serve as keepalive
// if this gateway had periodic chatter to piggyback on. It currently does
// not, matching the reference implementation's own no-op keepalive body.
func (m *ConnectionManager) keepaliveLoop() {
	ticker := time.NewTicker(m.config.KeepaliveInterval)
	defer ticker.Stop()
	for {
		m.mu.Lock()
		closing := m.closing
		m.mu.Unlock()
		if closing || !m.IsConnected() {
			return
		}
		select {
		case <-ticker.C:
			if m.State() == StateReady {
				m.log.Debug("keepalive tick")
			}
		case <-m.doneSignal():
			return
		}
	}
}

func (m *ConnectionManager) doneSignal() <-chan struct{} {
	m.mu.Lock()
	cycleCtx := m.cycleCtx
	m.mu.Unlock()
	if cycleCtx == nil {
		return make(chan struct{})
	}
	return cycleCtx.Done()
}

func (m *ConnectionManager) handleConnectionLost() {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	router := m.currentRouter
	m.conn = nil
	m.framer = nil
	m.currentRouter = nil
	ctx := m.ctx
	if m.cycleCancel != nil {
		m.cycleCancel()
		m.cycleCancel = nil
	}
	m.mu.Unlock()

	if router != nil {
		router.recordFailure()
	}

	m.setState(StateDisconnected)
	if ctx == nil {
		ctx = context.Background()
	}
	m.scheduleReconnect(ctx)
}

func (m *ConnectionManager) scheduleReconnect(ctx context.Context) {
	m.mu.Lock()
	if m.reconnectScheduled {
		m.mu.Unlock()
		return
	}
	m.reconnectScheduled = true
	m.stats.ReconnectCount++
	reconnectCtx, reconnectCancel := context.WithCancel(ctx)
	m.reconnectCancel = reconnectCancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			m.reconnectScheduled = false
			m.reconnectCancel = nil
			m.mu.Unlock()
			reconnectCancel()
		}()

		minBackoff := m.minBackoff()
		if minBackoff > 0 {
			select {
			case <-time.After(minBackoff):
			case <-reconnectCtx.Done():
				return
			}
		}

		m.mu.Lock()
		closing := m.closing
		m.mu.Unlock()
		if closing {
			return
		}

		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		m.Connect(ctx)
	}()
}

func (m *ConnectionManager) minBackoff() time.Duration {
	min := time.Duration(-1)
	for _, r := range m.routers {
		b := r.BackoffTime(m.rng)
		if min < 0 || b < min {
			min = b
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// SubscribeChannel records a channel name across reconnections so the
// gateway knows what to re-subscribe to once a new session is READY.
func (m *ConnectionManager) SubscribeChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribedChannels[name] = struct{}{}
}

// SubscribedChannels returns the set of channel names preserved across
// reconnections.
func (m *ConnectionManager) SubscribedChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subscribedChannels))
	for name := range m.subscribedChannels {
		out = append(out, name)
	}
	return out
}
