package tracker

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/apwatch/internal/identity"
	"github.com/HerbHall/apwatch/internal/source"
	"github.com/HerbHall/apwatch/pkg/models"
	"github.com/HerbHall/apwatch/pkg/plugin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// engine is the single merge stage. Pollers send results over a channel;
// one goroutine resolves them, rebuilds the affected scope's table and
// publishes the resulting events.
type engine struct {
	store   *identity.MapStore
	tables  *identity.Tables
	bus     plugin.EventBus
	logger  *zap.Logger
	now     func() time.Time
	pollers []*poller

	results  chan pollResult
	rebuilds chan rebuildRequest
	stopped  chan struct{}
	stopOnce sync.Once

	// Owned by the run goroutine: scope -> source -> latest resolutions.
	slots map[string]map[string][]identity.Resolved

	mu     sync.RWMutex
	status map[string]models.SourceStatus
}

type rebuildRequest struct {
	scope string
	done  chan struct{}
}

func newEngine(store *identity.MapStore, bus plugin.EventBus, logger *zap.Logger, buffer int) *engine {
	if buffer <= 0 {
		buffer = 1
	}
	e := &engine{
		store:    store,
		tables:   identity.NewTables(),
		bus:      bus,
		logger:   logger,
		now:      time.Now,
		results:  make(chan pollResult, buffer),
		rebuilds: make(chan rebuildRequest),
		stopped:  make(chan struct{}),
		slots:    make(map[string]map[string][]identity.Resolved),
		status:   make(map[string]models.SourceStatus),
	}
	e.seed()
	return e
}

// seed lists every confirmed identity of the loaded store as offline.
func (e *engine) seed() {
	for _, scope := range e.store.Scopes() {
		mappings := e.store.Mappings(scope)
		if len(mappings) == 0 {
			continue
		}
		tbl := identity.OfflineTable(mappings)
		e.tables.Swap(scope, tbl)
		devicesGauge.WithLabelValues(scope, string(models.DeviceOffline)).Set(float64(tbl.Len()))
	}
}

// addSource registers a source before run starts.
func (e *engine) addSource(cfg source.Config, adapter source.Adapter) {
	e.pollers = append(e.pollers, newPoller(cfg, adapter, e.logger))
	e.status[cfg.ID] = models.SourceStatus{
		ID:    cfg.ID,
		Scope: cfg.Scope,
		Type:  cfg.Type,
		Host:  cfg.Host,
	}
}

// run processes results and rebuild requests until ctx is cancelled.
func (e *engine) run(ctx context.Context) {
	defer e.stopOnce.Do(func() { close(e.stopped) })
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-e.results:
			e.apply(ctx, res)
			if res.done != nil {
				close(res.done)
			}
		case req := <-e.rebuilds:
			e.rebuild(ctx, req.scope, "")
			close(req.done)
		}
	}
}

// startPollers launches one goroutine per source. They stop with ctx.
func (e *engine) startPollers(ctx context.Context, wg *sync.WaitGroup) {
	for _, p := range e.pollers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.run(ctx, e.results)
		}()
	}
}

// submit hands res to the run loop and waits until it has been merged.
func (e *engine) submit(ctx context.Context, res pollResult) error {
	res.done = make(chan struct{})
	select {
	case e.results <- res:
	case <-e.stopped:
		return ErrNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.wait(ctx, res.done)
}

// requestRebuild asks the run loop to re-merge scope, for example after an
// association changed which identity its MACs resolve to.
func (e *engine) requestRebuild(ctx context.Context, scope string) error {
	req := rebuildRequest{scope: scope, done: make(chan struct{})}
	select {
	case e.rebuilds <- req:
	case <-e.stopped:
		return ErrNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.wait(ctx, req.done)
}

func (e *engine) wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-e.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrNotStarted
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresh polls every source once, concurrently, and waits for the results
// to be merged. Source failures are recorded in the status, not returned.
func (e *engine) refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range e.pollers {
		g.Go(func() error {
			return e.submit(gctx, p.poll(gctx))
		})
	}
	return g.Wait()
}

func (e *engine) slot(scope string) map[string][]identity.Resolved {
	s, ok := e.slots[scope]
	if !ok {
		s = make(map[string][]identity.Resolved)
		e.slots[scope] = s
	}
	return s
}

// apply resolves one poll result and rebuilds its scope. A failed source
// loses its slot, so devices only it reported go offline.
func (e *engine) apply(ctx context.Context, res pollResult) {
	id, scope := res.cfg.ID, res.cfg.Scope
	log := e.logger.With(zap.String("source", id), zap.String("scope", scope))
	sourcePollDuration.WithLabelValues(id).Observe(res.duration.Seconds())

	if res.err != nil {
		sourcePollsTotal.WithLabelValues(id, "error").Inc()
		log.Warn("source poll failed", zap.Error(res.err))
		e.updateStatus(res.cfg, func(s *models.SourceStatus) {
			s.Healthy = false
			s.LastPollAt = res.at
			s.LastError = res.err.Error()
			s.ClientCount = 0
			s.Dropped = 0
			s.PollDuration = res.duration
		})
		e.publish(ctx, TopicSourceFailed, SourceFailedEvent{
			SourceID: id,
			Scope:    scope,
			Error:    res.err.Error(),
			At:       res.at,
		})
		delete(e.slot(scope), id)
		e.rebuild(ctx, scope, id)
		return
	}
	sourcePollsTotal.WithLabelValues(id, "ok").Inc()

	clients, errs := identity.Normalize(res.records, id, scope, res.at)
	for _, err := range errs {
		log.Debug("record dropped", zap.Error(err))
	}
	if len(errs) > 0 {
		normalizationFailures.WithLabelValues(id).Add(float64(len(errs)))
	}

	batch, err := e.store.ResolveBatch(ctx, scope, clients)
	if err != nil {
		persistenceErrors.WithLabelValues("resolve").Inc()
		log.Warn("snapshot applied for known devices only", zap.Error(err))
	}
	for _, p := range batch.NewPending {
		log.Info("new unresolved mac", zap.String("mac", p.MAC), zap.Bool("randomized", p.Randomized))
		e.publish(ctx, TopicMACPending, PendingEvent{
			MAC:         p.MAC,
			Scope:       p.Scope,
			Hostname:    p.Hostname,
			Randomized:  p.Randomized,
			FirstSeenAt: p.FirstSeenAt,
		})
	}
	for _, a := range batch.Associated {
		e.publishAssociation(ctx, a)
	}

	e.slot(scope)[id] = batch.Resolved
	e.updateStatus(res.cfg, func(s *models.SourceStatus) {
		s.Healthy = true
		s.LastPollAt = res.at
		s.LastSuccess = res.at
		s.LastError = ""
		s.ClientCount = len(clients)
		s.Dropped = len(errs)
		s.PollDuration = res.duration
	})
	e.rebuild(ctx, scope, id)
}

// rebuild merges the latest contribution of every source in scope and
// publishes the new table.
func (e *engine) rebuild(ctx context.Context, scope, sourceID string) {
	var all []identity.Resolved
	for _, rs := range e.slots[scope] {
		all = append(all, rs...)
	}
	prev := e.tables.Get(scope)
	next := identity.Merge(all, prev, e.store.Lookup)
	e.tables.Swap(scope, next)

	online, offline := identity.Transitions(prev, next)
	for _, d := range online {
		e.publish(ctx, TopicDeviceOnline, DeviceEvent{Device: d})
	}
	for _, d := range offline {
		e.publish(ctx, TopicDeviceOffline, DeviceEvent{Device: d})
	}

	nOnline := next.Count(models.DeviceOnline)
	nOffline := next.Count(models.DeviceOffline)
	nPending := len(e.store.Pending(scope))
	devicesGauge.WithLabelValues(scope, string(models.DeviceOnline)).Set(float64(nOnline))
	devicesGauge.WithLabelValues(scope, string(models.DeviceOffline)).Set(float64(nOffline))
	pendingMACs.WithLabelValues(scope).Set(float64(nPending))

	e.publish(ctx, TopicCycleCompleted, CycleEvent{
		Scope:    scope,
		SourceID: sourceID,
		Devices:  next.All(),
		Online:   nOnline,
		Offline:  nOffline,
		Pending:  nPending,
		At:       e.now(),
	})
}

// associate links mac to target's identity and re-merges the scope.
func (e *engine) associate(ctx context.Context, scope, mac, target string) (identity.Association, error) {
	a, err := e.store.Associate(ctx, scope, mac, target)
	if err != nil {
		if errors.Is(err, identity.ErrPersistence) {
			persistenceErrors.WithLabelValues("associate").Inc()
		}
		return a, err
	}
	if a.NoOp {
		return a, nil
	}
	e.publishAssociation(ctx, a)
	return a, e.requestRebuild(ctx, scope)
}

// promote confirms a pending MAC and re-merges the scope.
func (e *engine) promote(ctx context.Context, scope, mac string) (models.CanonicalIdentity, error) {
	id, err := e.store.Promote(ctx, scope, mac)
	if err != nil {
		if errors.Is(err, identity.ErrPersistence) {
			persistenceErrors.WithLabelValues("promote").Inc()
		}
		return id, err
	}
	return id, e.requestRebuild(ctx, scope)
}

func (e *engine) publishAssociation(ctx context.Context, a identity.Association) {
	ev := AssociatedEvent{
		MAC:        a.MAC,
		Scope:      a.Identity.Scope,
		PrimaryMAC: a.Identity.PrimaryMAC,
		Auto:       a.Auto,
		At:         a.At,
	}
	if a.Retired != nil {
		ev.Retired = a.Retired.PrimaryMAC
	}
	e.publish(ctx, TopicMACAssociated, ev)
}

func (e *engine) updateStatus(cfg source.Config, fn func(*models.SourceStatus)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.status[cfg.ID]
	s.ID, s.Scope, s.Type, s.Host = cfg.ID, cfg.Scope, cfg.Type, cfg.Host
	fn(&s)
	e.status[cfg.ID] = s
}

// sources returns the status of every source ordered by ID.
func (e *engine) sources() []models.SourceStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.SourceStatus, 0, len(e.status))
	for _, s := range e.status {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b models.SourceStatus) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// publish emits an event without blocking the merge stage. The bus is
// optional.
func (e *engine) publish(ctx context.Context, topic string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "tracker",
		Timestamp: e.now(),
		Payload:   payload,
	})
}
