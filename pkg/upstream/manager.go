package upstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/slzcdhd/1mcp/internal/config"
	"github.com/slzcdhd/1mcp/pkg/registry"
)

const (
	reconnectFloor = 1 * time.Second
	reconnectCap   = 30 * time.Second
)

// managedUpstream tracks one upstream's live connector alongside its
// current config and reconnect state, guarded by Manager.mu.
type managedUpstream struct {
	cfg         config.Upstream
	conn        Connector
	cancel      context.CancelFunc
	reconnectAt time.Duration
	timer       *time.Timer
}

// ManagerOptions configures a Manager. A zero value is usable; fields
// left unset fall back to sensible defaults, matching the
// options-with-defaults idiom used across this codebase.
type ManagerOptions struct {
	Logger *slog.Logger
	// ConnectTimeout bounds a single connect attempt, including the
	// initialize handshake.
	ConnectTimeout time.Duration
	// DiscoverTimeout bounds a single round of tools/resources/
	// templates/prompts discovery.
	DiscoverTimeout time.Duration
	// NewConnector builds the Connector for a given upstream config.
	// Defaults to the package-level NewConnector; tests substitute a
	// fake so reconnect/reconcile logic can run without a real process
	// or HTTP server behind it.
	NewConnector func(ctx context.Context, cfg config.Upstream, logger *slog.Logger) Connector
}

func (o ManagerOptions) normalized() ManagerOptions {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.DiscoverTimeout <= 0 {
		o.DiscoverTimeout = 10 * time.Second
	}
	if o.NewConnector == nil {
		o.NewConnector = NewConnector
	}
	return o
}

// Manager owns every upstream connection: it connects, discovers,
// reconnects on failure with bounded exponential backoff, and
// reconciles against a replacement configuration set.
type Manager struct {
	opts     ManagerOptions
	registry *registry.Registry

	mu        sync.RWMutex
	upstreams map[string]*managedUpstream

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewManager builds a Manager backed by reg, which it populates and
// purges as upstreams connect, disconnect, and reconcile.
func NewManager(reg *registry.Registry, opts ManagerOptions) *Manager {
	opts = opts.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:           opts,
		registry:       reg,
		upstreams:      make(map[string]*managedUpstream),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// Start connects every upstream in set concurrently. Failures are
// logged and handed to the reconnect loop rather than returned, so one
// bad upstream never blocks the rest from coming up.
func (m *Manager) Start(ctx context.Context, set config.Set) {
	var wg sync.WaitGroup
	for _, cfg := range set {
		cfg := cfg
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.addUpstream(ctx, cfg)
		}()
	}
	wg.Wait()
}

func (m *Manager) addUpstream(ctx context.Context, cfg config.Upstream) {
	connCtx, cancel := context.WithCancel(m.shutdownCtx)
	mu := &managedUpstream{cfg: cfg, cancel: cancel, reconnectAt: reconnectFloor}

	m.mu.Lock()
	m.upstreams[cfg.Name] = mu
	m.mu.Unlock()

	m.connectAndDiscover(connCtx, mu)
}

func (m *Manager) connectAndDiscover(ctx context.Context, mu *managedUpstream) {
	connectCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	conn := m.opts.NewConnector(connectCtx, mu.cfg, m.opts.Logger)
	if err := conn.Connect(connectCtx); err != nil {
		m.opts.Logger.Warn("upstream connect failed", "upstream", mu.cfg.Name, "error", err)
		m.scheduleReconnect(ctx, mu)
		return
	}

	m.mu.Lock()
	mu.conn = conn
	mu.reconnectAt = reconnectFloor
	m.mu.Unlock()

	m.opts.Logger.Info("upstream connected", "upstream", mu.cfg.Name)
	go m.watchEvents(ctx, mu, conn)
	m.discover(ctx, mu, conn)
}

func (m *Manager) discover(ctx context.Context, mu *managedUpstream, conn Connector) {
	discoverCtx, cancel := context.WithTimeout(ctx, m.opts.DiscoverTimeout)
	defer cancel()

	discovered, err := Discover(discoverCtx, conn, m.opts.Logger)
	if err != nil {
		m.opts.Logger.Warn("discovery failed", "upstream", mu.cfg.Name, "error", err)
		return
	}
	m.registry.RegisterTools(mu.cfg.Name, discovered.Tools)
	m.registry.RegisterResources(mu.cfg.Name, discovered.Resources)
	m.registry.RegisterResourceTemplates(mu.cfg.Name, discovered.ResourceTemplates)
	m.registry.RegisterPrompts(mu.cfg.Name, discovered.Prompts)
	m.opts.Logger.Info("upstream discovery complete", "upstream", mu.cfg.Name,
		"tools", len(discovered.Tools), "resources", len(discovered.Resources),
		"resourceTemplates", len(discovered.ResourceTemplates), "prompts", len(discovered.Prompts))
}

// watchEvents drains conn's event channel, triggering re-discovery on
// list-changed notifications and kicking off reconnection when the
// transport dies.
func (m *Manager) watchEvents(ctx context.Context, mu *managedUpstream, conn Connector) {
	for ev := range conn.Events() {
		if ev.Disconnected {
			m.opts.Logger.Warn("upstream disconnected", "upstream", mu.cfg.Name, "error", ev.Err)
			m.registry.ClearUpstream(mu.cfg.Name)
			m.scheduleReconnect(ctx, mu)
			return
		}
		if ev.Notification == nil {
			continue
		}
		switch ev.Notification.Method {
		case "notifications/tools/list_changed",
			"notifications/resources/list_changed",
			"notifications/prompts/list_changed":
			m.discover(ctx, mu, conn)
		}
	}
}

// scheduleReconnect arms a one-shot timer with the upstream's current
// backoff, then doubles it up to reconnectCap for next time.
func (m *Manager) scheduleReconnect(ctx context.Context, mu *managedUpstream) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	m.mu.Lock()
	delay := mu.reconnectAt
	next := delay * 2
	if next > reconnectCap {
		next = reconnectCap
	}
	mu.reconnectAt = next
	mu.timer = time.AfterFunc(delay, func() {
		m.connectAndDiscover(ctx, mu)
	})
	m.mu.Unlock()
}

// Reconcile applies the added/removed/updated sets spec'd for
// configuration reload: new upstreams are connected, removed ones are
// torn down and purged, and updated ones are torn down and
// reconnected fresh against the new config.
func (m *Manager) Reconcile(ctx context.Context, next config.Set) {
	m.mu.RLock()
	current := make(config.Set, len(m.upstreams))
	for name, mu := range m.upstreams {
		current[name] = mu.cfg
	}
	m.mu.RUnlock()

	added, removed, updated := current.Diff(next)

	for _, name := range removed {
		m.removeUpstream(name)
	}
	for _, name := range updated {
		m.removeUpstream(name)
		m.addUpstream(ctx, next[name])
	}
	for _, name := range added {
		m.addUpstream(ctx, next[name])
	}
}

func (m *Manager) removeUpstream(name string) {
	m.mu.Lock()
	mu, ok := m.upstreams[name]
	if ok {
		delete(m.upstreams, name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if mu.timer != nil {
		mu.timer.Stop()
	}
	mu.cancel()
	if mu.conn != nil {
		_ = mu.conn.Close()
	}
	m.registry.ClearUpstream(name)
}

// Connector returns the live connector for name, if currently connected.
func (m *Manager) Connector(name string) (Connector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mu, ok := m.upstreams[name]
	if !ok || mu.conn == nil || mu.conn.Status() != StatusConnected {
		return nil, false
	}
	return mu.conn, true
}

// Status reports every tracked upstream's current connection status,
// keyed by upstream name.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.upstreams))
	for name, mu := range m.upstreams {
		if mu.conn == nil {
			out[name] = StatusDisconnected
			continue
		}
		out[name] = mu.conn.Status()
	}
	return out
}

// ConnectedCount reports how many tracked upstreams currently have a
// live connection.
func (m *Manager) ConnectedCount() int {
	count := 0
	for _, s := range m.Status() {
		if s == StatusConnected {
			count++
		}
	}
	return count
}

// Shutdown tears down every upstream connection.
func (m *Manager) Shutdown() {
	m.shutdownCancel()
	m.mu.Lock()
	upstreams := m.upstreams
	m.upstreams = make(map[string]*managedUpstream)
	m.mu.Unlock()

	for _, mu := range upstreams {
		if mu.timer != nil {
			mu.timer.Stop()
		}
		if mu.conn != nil {
			_ = mu.conn.Close()
		}
	}
	m.registry.Clear()
}
