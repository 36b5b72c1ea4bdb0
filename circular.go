package ligature

import "sync"

// ProxySlot is the handle-to-slot primitive spec.md §9 describes for
// cyclic object graphs: a reference cell that starts empty and is
// populated once the outer provision in a dependency cycle completes.
type ProxySlot struct {
	mu        sync.RWMutex
	value     any
	populated bool
}

// Get returns the slot's value. Per §4.7, any method invoked on a circular
// proxy before its slot is populated fails; since Go has no checked
// exceptions, that failure takes the form of a panic carrying a
// *ProvisionError, which unwinds to whichever constructor is holding the
// proxy and tried to use it too early — the same place a Java NPE from an
// uninitialized field would surface.
func (s *ProxySlot) Get() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.populated {
		panic(&ProvisionError{Message: "circular proxy method invoked before the cyclic construction it belongs to finished"})
	}
	return s.value
}

func (s *ProxySlot) set(v any) {
	s.mu.Lock()
	s.value = v
	s.populated = true
	s.mu.Unlock()
}

func (s *ProxySlot) isPopulated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.populated
}

// ProxyBase is embedded by a user-written forwarding type to make it
// recognizable as a circular proxy. Go cannot synthesize an implementation
// of an arbitrary interface at runtime (no dynamic proxies, no bytecode
// generation); the idiomatic Go rendering of §4.7's interface-cycle
// handling is a small, explicit forwarding type:
//
//	type shapeProxy struct {
//		ligature.ProxyBase
//	}
//	func (p *shapeProxy) Area() float64 { return p.Slot().Get().(Shape).Area() }
//
// registered once per interface via Binder.RegisterCircularProxyFactory,
// with a factory such as
// func(slot *ligature.ProxySlot) any { return &shapeProxy{ligature.NewProxyBase(slot)} }.
type ProxyBase struct {
	slot *ProxySlot
}

// NewProxyBase returns a ProxyBase forwarding to slot, for a ProxyFactory
// to embed in the proxy value it builds.
func NewProxyBase(slot *ProxySlot) ProxyBase { return ProxyBase{slot: slot} }

// Slot returns the backing ProxySlot, for use by the embedding type's
// forwarding methods.
func (p ProxyBase) Slot() *ProxySlot { return p.slot }

type circularProxyIdentifier interface {
	circularProxySlot() *ProxySlot
}

// circularProxySlot satisfies circularProxyIdentifier for any type
// embedding ProxyBase.
func (p ProxyBase) circularProxySlot() *ProxySlot { return p.slot }

// ProxyFactory builds a proxy value implementing some interface by
// forwarding to slot, given to the raw interface type via
// Binder.RegisterCircularProxyFactory.
type ProxyFactory func(slot *ProxySlot) any

func newProxy(factory ProxyFactory) (proxy any, slot *ProxySlot) {
	slot = &ProxySlot{}
	return factory(slot), slot
}

// IsCircularProxy reports whether v is a not-yet-populated circular proxy,
// the predicate §4.7 requires custom scopes to use before caching a value:
// a scope must never cache a proxy, only the eventual real instance.
func IsCircularProxy(v any) bool {
	if v == nil {
		return false
	}
	cp, ok := v.(circularProxyIdentifier)
	if !ok {
		return false
	}
	return !cp.circularProxySlot().isPopulated()
}
