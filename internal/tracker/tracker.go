// Package tracker implements the presence tracker plugin: it polls the
// configured sources, consolidates their clients into stable device
// identities and serves the resulting device table.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/HerbHall/apwatch/internal/identity"
	"github.com/HerbHall/apwatch/internal/source"
	"github.com/HerbHall/apwatch/pkg/models"
	"github.com/HerbHall/apwatch/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// ErrNotStarted is returned by operations that need the merge loop.
var ErrNotStarted = errors.New("tracker not started")

// AdapterFactory builds the adapter for one source.
type AdapterFactory func(cfg source.Config, logger *zap.Logger) (source.Adapter, error)

// Module implements the tracker plugin.
type Module struct {
	logger     *zap.Logger
	cfg        TrackerConfig
	store      *identity.MapStore
	engine     *engine
	adapters   []source.Adapter
	newAdapter AdapterFactory

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new tracker plugin instance.
func New() *Module {
	return &Module{newAdapter: source.New}
}

// NewWithAdapters creates a tracker whose sources are built by factory.
func NewWithAdapters(factory AdapterFactory) *Module {
	return &Module{newAdapter: factory}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "tracker",
		Version:     "0.1.0",
		Description: "Client presence tracking and device identity consolidation",
		Required:    true,
		Roles:       []string{"presence"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	cfg, err := LoadConfig(deps.Config)
	if err != nil {
		return fmt.Errorf("tracker config: %w", err)
	}
	m.cfg = cfg

	var backend identity.Backend
	switch cfg.Persistence {
	case PersistenceFile:
		backend = identity.NewFileBackend(cfg.StateFile)
	default:
		if deps.Store == nil {
			return errors.New("sqlite persistence requires a database store")
		}
		if err := deps.Store.Migrate(ctx, "tracker", migrations()); err != nil {
			return err
		}
		backend = NewMappingStore(deps.Store)
	}

	m.store = identity.NewMapStore(backend, m.logger.Named("identity"), identity.WithPolicy(identity.Policy{
		AutoPromoteInitial:    cfg.AutoPromoteInitial,
		AutoAssociateHostname: cfg.AutoAssociateHostname,
	}))
	if err := m.store.Load(ctx); err != nil {
		return err
	}

	m.engine = newEngine(m.store, deps.Bus, m.logger, cfg.EventBuffer)
	for _, src := range cfg.Sources {
		adapter, err := m.newAdapter(src, m.logger.Named("source"))
		if err != nil {
			return fmt.Errorf("source %q: %w", src.ID, err)
		}
		m.adapters = append(m.adapters, adapter)
		m.engine.addSource(src, adapter)
	}

	m.logger.Info("tracker module initialized",
		zap.String("persistence", cfg.Persistence),
		zap.Int("sources", len(cfg.Sources)),
		zap.Bool("auto_promote_initial", cfg.AutoPromoteInitial),
		zap.Bool("auto_associate_hostname", cfg.AutoAssociateHostname),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.engine.run(ctx)
	}()
	m.engine.startPollers(ctx, &m.wg)

	m.logger.Info("tracker module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.running = false
	m.mu.Unlock()
	m.wg.Wait()

	var errs []error
	for _, a := range m.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info("tracker module stopped")
	return errors.Join(errs...)
}

func (m *Module) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Health implements plugin.HealthChecker. The tracker is degraded while any
// polled source is failing and unhealthy when all of them are.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.engine == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "not initialized"}
	}
	sources := m.engine.sources()
	polled, failing := 0, 0
	for _, s := range sources {
		if s.LastPollAt.IsZero() {
			continue
		}
		polled++
		if !s.Healthy {
			failing++
		}
	}

	status := "healthy"
	msg := ""
	switch {
	case polled > 0 && failing == polled:
		status, msg = "unhealthy", "all sources failing"
	case failing > 0:
		status, msg = "degraded", strconv.Itoa(failing)+" source(s) failing"
	}

	pending := 0
	for _, scope := range m.store.Scopes() {
		pending += len(m.store.Pending(scope))
	}
	return plugin.HealthStatus{
		Status:  status,
		Message: msg,
		Details: map[string]string{
			"sources": strconv.Itoa(len(sources)),
			"failing": strconv.Itoa(failing),
			"devices": strconv.Itoa(len(m.engine.tables.Devices(""))),
			"pending": strconv.Itoa(pending),
		},
	}
}

// Devices returns the device table of scope, or of every scope when empty.
func (m *Module) Devices(scope string) []models.MergedDevice {
	return m.engine.tables.Devices(scope)
}

// Device returns the device that mac currently resolves to in scope.
func (m *Module) Device(scope, mac string) (models.MergedDevice, bool, error) {
	norm, err := identity.NormalizeMAC(mac)
	if err != nil {
		return models.MergedDevice{}, false, err
	}
	id := models.CanonicalIdentity{PrimaryMAC: norm, Scope: scope}
	if r, ok := m.store.Lookup(scope, norm); ok {
		id = r.Identity
	}
	d, ok := m.engine.tables.Get(scope).Get(id)
	return d, ok, nil
}

// Pending returns the pending MACs of scope, or of every scope when empty.
func (m *Module) Pending(scope string) []models.PendingMAC {
	if scope != "" {
		return m.store.Pending(scope)
	}
	out := []models.PendingMAC{}
	for _, s := range m.store.Scopes() {
		out = append(out, m.store.Pending(s)...)
	}
	return out
}

// Mappings returns the confirmed identities of scope, or of every scope.
func (m *Module) Mappings(scope string) []models.IdentityMapping {
	if scope != "" {
		return m.store.Mappings(scope)
	}
	out := []models.IdentityMapping{}
	for _, s := range m.store.Scopes() {
		out = append(out, m.store.Mappings(s)...)
	}
	return out
}

// Sources returns the last poll status of every source.
func (m *Module) Sources() []models.SourceStatus {
	return m.engine.sources()
}

// Associate links a pending MAC to the identity whose primary is target.
func (m *Module) Associate(ctx context.Context, scope, mac, target string) (identity.Association, error) {
	if !m.isRunning() {
		return m.store.Associate(ctx, scope, mac, target)
	}
	return m.engine.associate(ctx, scope, mac, target)
}

// Promote confirms a pending MAC as the primary of a new identity.
func (m *Module) Promote(ctx context.Context, scope, mac string) (models.CanonicalIdentity, error) {
	if !m.isRunning() {
		return m.store.Promote(ctx, scope, mac)
	}
	return m.engine.promote(ctx, scope, mac)
}

// Refresh polls every source once and waits for the results to be merged.
func (m *Module) Refresh(ctx context.Context) ([]models.SourceStatus, error) {
	if !m.isRunning() {
		return nil, ErrNotStarted
	}
	if err := m.engine.refresh(ctx); err != nil {
		return nil, err
	}
	return m.engine.sources(), nil
}
