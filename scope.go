package ligature

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Provider produces a value on demand; it may be stored indefinitely and
// called any number of times (§6).
type Provider func(ctx context.Context) (any, error)

// Scope is a policy that caches or otherwise derives the provider for a
// key: given (Key, unscoped Provider), it returns a scoped Provider (§4.9).
type Scope interface {
	Get(key Key, unscoped Provider) Provider
}

// unscopedScope is the pass-through scope: every call reinvokes the
// unscoped provider.
type unscopedScope struct{}

func (unscopedScope) Get(_ Key, unscoped Provider) Provider { return unscoped }

// singletonScope caches at most one value per Key per injector,
// thread-safe. Concurrent requests for the same uncached key on different
// goroutines serialize on the key so only one instance is constructed;
// other callers observe the same instance. If construction fails, the
// failure propagates to every waiter and nothing is cached — a subsequent
// call re-attempts (§4.9).
//
// golang.org/x/sync/singleflight.Group already implements exactly that
// contract ("dedup concurrent calls sharing a key, never cache an error"),
// so singletonScope is a thin adapter rather than a hand-rolled
// instanceLock-per-binding map (contrast with the teacher's
// instanceRegistry, which this supersedes with the ecosystem's dedicated
// primitive for it).
type singletonScope struct {
	group singleflight.Group

	mu     sync.RWMutex
	values map[comparableKey]any
}

func newSingletonScope() *singletonScope {
	return &singletonScope{values: make(map[comparableKey]any)}
}

func (s *singletonScope) Get(key Key, unscoped Provider) Provider {
	ck := key.comparable()
	group := key.String()
	return func(ctx context.Context) (any, error) {
		s.mu.RLock()
		if v, ok := s.values[ck]; ok {
			s.mu.RUnlock()
			return v, nil
		}
		s.mu.RUnlock()

		v, err, _ := s.group.Do(group, func() (any, error) {
			val, err := unscoped(ctx)
			if err != nil {
				return nil, err
			}
			// A custom (or built-in) scope must not cache a circular
			// proxy: only the eventual real instance (§4.7). Nothing is
			// cached for the key here, so its next request runs the
			// unscoped provider again and caches that result instead.
			if IsCircularProxy(val) {
				return val, nil
			}
			s.mu.Lock()
			s.values[ck] = val
			s.mu.Unlock()
			return val, nil
		})
		return v, err
	}
}

// reset clears every cached singleton, used by Injector.Shutdown.
func (s *singletonScope) reset() {
	s.mu.Lock()
	s.values = make(map[comparableKey]any)
	s.mu.Unlock()
}

// NewContextualScope returns a Scope caching at most one value per Key per
// "contextual" instance (request, session, …), identified by a value
// stashed on a context.Context under ctxKey. Grounded on the teacher's
// contextualScope: the carrier lives in ctx.Value, not in the Scope
// itself, so the scope object is shared but each context gets its own
// cache.
func NewContextualScope(ctxKey any) Scope {
	return &contextualScope{ctxKey: ctxKey}
}

type contextualHolder struct {
	group singleflight.Group

	mu     sync.RWMutex
	values map[comparableKey]any
}

// WithContextualScopeEnabled returns a context carrying a fresh cache for
// ctxKey's contextual scope.
func WithContextualScopeEnabled(ctx context.Context, ctxKey any) context.Context {
	return context.WithValue(ctx, ctxKey, &contextualHolder{values: make(map[comparableKey]any)})
}

type contextualScope struct {
	ctxKey any
}

func (s *contextualScope) Get(key Key, unscoped Provider) Provider {
	ck := key.comparable()
	group := key.String()
	return func(ctx context.Context) (any, error) {
		if ctx == nil {
			return nil, newContextScopeNotActiveError(s.ctxKey)
		}
		holder, ok := ctx.Value(s.ctxKey).(*contextualHolder)
		if !ok {
			return nil, newContextScopeNotActiveError(s.ctxKey)
		}

		holder.mu.RLock()
		if v, ok := holder.values[ck]; ok {
			holder.mu.RUnlock()
			return v, nil
		}
		holder.mu.RUnlock()

		// singleflight.Do, not a held mutex, serializes concurrent builders
		// of the same key: a mutex held across unscoped(ctx) would deadlock
		// if that call recurses back into this same holder for a different
		// contextually-scoped key that in turn depends on this one (see
		// singletonScope, which has the identical requirement).
		v, err, _ := holder.group.Do(group, func() (any, error) {
			val, err := unscoped(ctx)
			if err != nil {
				return nil, err
			}
			if !IsCircularProxy(val) {
				holder.mu.Lock()
				holder.values[ck] = val
				holder.mu.Unlock()
			}
			return val, nil
		})
		return v, err
	}
}

type contextScopeNotActiveError struct {
	ctxKey any
}

func newContextScopeNotActiveError(ctxKey any) *contextScopeNotActiveError {
	return &contextScopeNotActiveError{ctxKey: ctxKey}
}

func (e *contextScopeNotActiveError) Error() string {
	return "contextual scope is not active on this context.Context"
}

// trackingScope wraps every RegisterScope-supplied Scope so Override's
// composition (§4.5 clause 4) can tell whether a scope was ever actually
// asked to scope a key, not merely registered: "used" is set the moment the
// wrapped Provider is invoked, regardless of whether construction succeeds.
type trackingScope struct {
	inner Scope
	used  int32
}

func (t *trackingScope) Get(key Key, unscoped Provider) Provider {
	inner := t.inner.Get(key, unscoped)
	return func(ctx context.Context) (any, error) {
		atomic.StoreInt32(&t.used, 1)
		return inner(ctx)
	}
}

func (t *trackingScope) wasUsed() bool {
	return atomic.LoadInt32(&t.used) == 1
}

// scopeTrackers shares one trackingScope per distinct Scope identity, so
// registering the same Scope value in two separate Binders (e.g. base and
// overlay modules composed via Override) sees the same used flag rather
// than two independent ones.
var scopeTrackers sync.Map // identity any -> *trackingScope

func trackScope(s Scope) Scope {
	if ts, ok := s.(*trackingScope); ok {
		return ts
	}
	id, ok := scopeIdentity(s)
	if !ok {
		return &trackingScope{inner: s}
	}
	actual, _ := scopeTrackers.LoadOrStore(id, &trackingScope{inner: s})
	return actual.(*trackingScope)
}

func scopeIdentity(s Scope) (any, bool) {
	rv := reflect.ValueOf(s)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan:
		return rv.Pointer(), true
	default:
		if rv.Type().Comparable() {
			return s, true
		}
		return nil, false
	}
}
