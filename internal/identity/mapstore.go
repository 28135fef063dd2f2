package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/apwatch/pkg/models"
	"go.uber.org/zap"
)

// Backend persists mapping state. SaveScope must be durable when it returns
// nil; a partial write must not corrupt previously saved scopes.
type Backend interface {
	Load(ctx context.Context) (map[string]ScopeState, error)
	SaveScope(ctx context.Context, scope string, st ScopeState) error
}

// Association reports one MAC linked to an identity.
type Association struct {
	MAC      string
	Identity models.CanonicalIdentity
	// Retired is the provisional identity the MAC had while pending.
	Retired *models.CanonicalIdentity
	Auto    bool
	NoOp    bool
	At      time.Time
}

// Batch is the result of resolving one source snapshot.
type Batch struct {
	Resolved   []Resolved
	NewPending []models.PendingMAC
	Associated []Association
}

// MapStore owns the identity mappings of every scope.
//
// Mutations of one scope are built under that scope's writer lock and are
// written through the Backend before the new state is published; a draft
// is published only if no other writer published since it was built.
// Readers load the published state atomically and never wait for a writer.
type MapStore struct {
	backend Backend
	policy  Policy
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	scopes map[string]*scopeEntry
}

type scopeEntry struct {
	write     sync.Mutex
	bootstrap bool // guarded by write
	current   atomic.Pointer[scopeIndex]
}

// Option configures a MapStore.
type Option func(*MapStore)

// WithPolicy sets the resolution policy.
func WithPolicy(p Policy) Option {
	return func(s *MapStore) { s.policy = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *MapStore) { s.now = now }
}

// NewMapStore creates an empty store. Call Load before use.
func NewMapStore(backend Backend, logger *zap.Logger, opts ...Option) *MapStore {
	s := &MapStore{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		scopes:  make(map[string]*scopeEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces in-memory state with the backend's. Scopes without
// persisted state start in bootstrap mode when AutoPromoteInitial is set.
func (s *MapStore) Load(ctx context.Context) error {
	states, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = make(map[string]*scopeEntry, len(states))
	for scope, st := range states {
		e := &scopeEntry{}
		e.current.Store(newScopeIndex(scope, st))
		s.scopes[scope] = e
	}
	s.logger.Info("identity mappings loaded", zap.Int("scopes", len(states)))
	return nil
}

func (s *MapStore) entry(scope string) *scopeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.scopes[scope]
	if !ok {
		e = &scopeEntry{bootstrap: s.policy.AutoPromoteInitial}
		e.current.Store(newScopeIndex(scope, NewScopeState()))
		s.scopes[scope] = e
	}
	return e
}

// existing returns scope's entry without creating it.
func (s *MapStore) existing(scope string) (*scopeEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.scopes[scope]
	return e, ok
}

func (s *MapStore) view(scope string) (*scopeIndex, bool) {
	e, ok := s.existing(scope)
	if !ok {
		return nil, false
	}
	return e.current.Load(), true
}

// mutation edits draft in place and reports whether anything changed.
// It may run more than once per call to mutate and must not keep results
// from an earlier run.
type mutation func(draft *scopeIndex, bootstrap bool) (bool, error)

// mutate applies fn to a copy of the scope's published state, saves the copy
// and publishes it. The writer lock covers building the draft and the final
// swap only; the save runs unlocked. If another writer published in between,
// the draft is rebuilt on the new state and saved again. A published
// mutation ends bootstrap mode. It returns the state fn last ran against.
func (s *MapStore) mutate(ctx context.Context, op string, e *scopeEntry, fn mutation) (*scopeIndex, error) {
	conflicted := false
	for {
		e.write.Lock()
		base := e.current.Load()
		bootstrap := e.bootstrap
		draft := base.clone()
		changed, err := fn(draft, bootstrap)
		e.write.Unlock()
		if err != nil || !changed {
			return base, err
		}

		if err := s.backend.SaveScope(ctx, draft.scope, draft.state); err != nil {
			s.logger.Error("mapping save failed",
				zap.String("op", op),
				zap.String("scope", draft.scope),
				zap.Error(err),
			)
			if conflicted {
				s.resave(ctx, e)
			}
			return base, persistenceError(op, draft.scope, err)
		}

		e.write.Lock()
		if e.current.Load() == base {
			e.current.Store(draft)
			if bootstrap {
				e.bootstrap = false
			}
			e.write.Unlock()
			return base, nil
		}
		e.write.Unlock()
		conflicted = true
		s.logger.Debug("mapping save raced another writer, retrying",
			zap.String("op", op),
			zap.String("scope", draft.scope),
		)
	}
}

// resave writes the published state back after a raced save left a stale
// draft in the backend and the retry failed.
func (s *MapStore) resave(ctx context.Context, e *scopeEntry) {
	cur := e.current.Load()
	if err := s.backend.SaveScope(ctx, cur.scope, cur.state); err != nil {
		s.logger.Error("mapping resave failed; backend is behind memory until the next save",
			zap.String("scope", cur.scope),
			zap.Error(err),
		)
	}
}

// ResolveBatch resolves one snapshot of clients in scope, creating pending
// entries for unknown MACs. New state is saved once for the whole batch.
// If the save fails, nothing is committed: the returned batch holds only the
// MACs that were already known, and the error wraps ErrPersistence.
func (s *MapStore) ResolveBatch(ctx context.Context, scope string, clients []models.ObservedClient) (Batch, error) {
	e := s.entry(scope)

	var (
		batch     Batch
		bootstrap bool
	)
	base, err := s.mutate(ctx, "resolve", e, func(draft *scopeIndex, boot bool) (bool, error) {
		batch = Batch{}
		bootstrap = boot && len(clients) > 0
		changed := false
		for _, c := range clients {
			r, ch := draft.resolve(c, s.policy, bootstrap)
			changed = changed || ch
			batch.Resolved = append(batch.Resolved, Resolved{Resolution: r, Client: c})

			switch r.Outcome {
			case OutcomeNewPending:
				batch.NewPending = append(batch.NewPending, draft.state.Pending[c.MAC])
			case OutcomeAutoAssociated:
				batch.Associated = append(batch.Associated, Association{
					MAC: c.MAC, Identity: r.Identity, Auto: true, At: c.SeenAt,
				})
			}
		}
		return changed, nil
	})
	if err != nil {
		return knownOnly(base, clients), err
	}
	if bootstrap && len(batch.Resolved) > 0 {
		s.logger.Info("scope bootstrapped", zap.String("scope", scope), zap.Int("identities", len(batch.Resolved)))
	}
	return batch, nil
}

func knownOnly(ix *scopeIndex, clients []models.ObservedClient) Batch {
	var b Batch
	for _, c := range clients {
		if r, ok := ix.lookup(c.MAC); ok {
			b.Resolved = append(b.Resolved, Resolved{Resolution: r, Client: c})
		}
	}
	return b
}

// Associate links pendingMAC to the identity owned by targetMAC in scope.
// A pending target is confirmed as part of the operation. Repeating an
// association that already holds succeeds with NoOp set.
func (s *MapStore) Associate(ctx context.Context, scope, pendingMAC, targetMAC string) (Association, error) {
	mac, err := NormalizeMAC(pendingMAC)
	if err != nil {
		return Association{}, err
	}
	target, err := NormalizeMAC(targetMAC)
	if err != nil {
		return Association{}, err
	}
	if scope == "" {
		return Association{}, fmt.Errorf("%w: scope is required", ErrInvalidAssociation)
	}

	e, ok := s.existing(scope)
	if !ok {
		return Association{}, fmt.Errorf("associate %s with %s in %q: %w", mac, target, scope, ErrUnknownPrimary)
	}

	now := s.now()
	var res associateResult
	if _, err := s.mutate(ctx, "associate", e, func(draft *scopeIndex, _ bool) (bool, error) {
		r, err := draft.associate(mac, target, now)
		if err != nil {
			return false, fmt.Errorf("associate %s with %s in %q: %w", mac, target, scope, err)
		}
		res = r
		return !r.noop, nil
	}); err != nil {
		return Association{}, err
	}

	a := Association{
		MAC:      mac,
		Identity: models.CanonicalIdentity{PrimaryMAC: target, Scope: scope},
		Retired:  res.retired,
		NoOp:     res.noop,
		At:       now,
	}
	if res.noop {
		return a, nil
	}
	s.logger.Info("mac associated",
		zap.String("scope", scope),
		zap.String("mac", mac),
		zap.String("primary", target),
		zap.Bool("target_promoted", res.promoted),
	)
	return a, nil
}

// Promote confirms a pending MAC as the primary of a permanent identity.
func (s *MapStore) Promote(ctx context.Context, scope, pendingMAC string) (models.CanonicalIdentity, error) {
	mac, err := NormalizeMAC(pendingMAC)
	if err != nil {
		return models.CanonicalIdentity{}, err
	}

	e, ok := s.existing(scope)
	if !ok {
		return models.CanonicalIdentity{}, fmt.Errorf("promote %s in %q: %w", mac, scope, ErrNotPending)
	}

	now := s.now()
	if _, err := s.mutate(ctx, "promote", e, func(draft *scopeIndex, _ bool) (bool, error) {
		changed, err := draft.promote(mac, now)
		if err != nil {
			return false, fmt.Errorf("promote %s in %q: %w", mac, scope, err)
		}
		return changed, nil
	}); err != nil {
		return models.CanonicalIdentity{}, err
	}
	return models.CanonicalIdentity{PrimaryMAC: mac, Scope: scope}, nil
}

// Lookup resolves mac in scope without creating anything.
func (s *MapStore) Lookup(scope, mac string) (Resolution, bool) {
	ix, ok := s.view(scope)
	if !ok {
		return Resolution{}, false
	}
	return ix.lookup(mac)
}

// Pending returns the scope's pending MACs, oldest first.
func (s *MapStore) Pending(scope string) []models.PendingMAC {
	ix, ok := s.view(scope)
	if !ok {
		return []models.PendingMAC{}
	}
	return ix.pending()
}

// Mappings returns the scope's confirmed identities ordered by primary MAC.
func (s *MapStore) Mappings(scope string) []models.IdentityMapping {
	ix, ok := s.view(scope)
	if !ok {
		return []models.IdentityMapping{}
	}
	return ix.mappings()
}

// Scopes returns every scope the store holds state for.
func (s *MapStore) Scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.scopes))
	for scope := range s.scopes {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}
