package ligature

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// injectTag is the struct tag marking a field for member injection, the Go
// rendering of an @Inject-annotated field (§4.3's constructor/member
// injection split). A field tagged `inject:"optional"` is allowed to stay
// unset when nothing satisfies its Key (§4.3 nullability); anything else
// is required and a missing binding fails provision.
const injectTag = "inject"

// qualifierTag names a Qualifier for an injected field, currently only
// Named(value); a dedicated Qualifier type still goes through
// QualifierFrom on a manually-built Key (BindKey/ToKey), not this tag.
const qualifierTag = "qualifier"

// resolveChain is the explicit, value-passed call stack used to detect
// same-request cycles and recursive JIT loads. Go has no cheap
// "current goroutine" identity worth keying off of (cf. petermattis/goid),
// and the teacher's codebase already threads state explicitly through
// call parameters rather than ambient globals, so the chain rides along
// on every recursive resolve call instead.
type resolveChain struct {
	keys []comparableKey
	deps []DependencyStep

	// proxies backs every circular-proxy slot created while resolving this
	// top-level request. It lives on the chain rather than on an Injector
	// because a cycle can span levels: the frame that detects the cycle
	// (tryCircularProxy) and the frame that eventually finishes
	// constructing the cyclic key (the slot.set below) may run with
	// different Injector receivers once `owner` differs from the injector
	// a caller originally asked, so a per-Injector map would let Store and
	// LoadAndDelete silently disagree on which map to use. Threading one
	// shared map through the chain (same pointer survives push) keeps
	// both sides looking at the same place regardless of which level
	// happens to own which binding.
	proxies *sync.Map // comparableKey -> *ProxySlot
}

func (c resolveChain) contains(ck comparableKey) bool {
	for _, k := range c.keys {
		if k == ck {
			return true
		}
	}
	return false
}

func (c resolveChain) push(key Key, src Source) resolveChain {
	keys := make([]comparableKey, len(c.keys), len(c.keys)+1)
	copy(keys, c.keys)
	keys = append(keys, key.comparable())
	deps := make([]DependencyStep, len(c.deps), len(c.deps)+1)
	copy(deps, c.deps)
	deps = append(deps, DependencyStep{Key: key, Source: src})
	return resolveChain{keys: keys, deps: deps, proxies: c.proxies}
}

// popLast undoes the most recent push. Used only when handing the same
// key off to a different Injector (kindExposed) rather than descending to
// a genuinely new dependency: the key was just pushed by resolve() before
// dispatching on binding.kind, so re-resolving it unchanged on another
// injector would otherwise see its own key as already on the chain and
// misreport a cycle.
func (c resolveChain) popLast() resolveChain {
	if len(c.keys) == 0 {
		return c
	}
	return resolveChain{keys: c.keys[:len(c.keys)-1], deps: c.deps[:len(c.deps)-1], proxies: c.proxies}
}

// resolve is the Injector's single entry point for producing a value for
// key: binding lookup (this level, then its ancestors, then JIT), scope application,
// construction, and member injection, wrapping any failure into a
// *ProvisionError carrying the dependency chain that led to it (§7).
func (inj *Injector) resolve(ctx context.Context, key Key, chain resolveChain) (any, error) {
	if chain.proxies == nil {
		chain.proxies = &sync.Map{}
	}

	ck := key.comparable()
	if chain.contains(ck) {
		proxy, ok, failReason := inj.tryCircularProxy(key, chain)
		if ok {
			return proxy, nil
		}
		return nil, &ProvisionError{Key: key, Message: "circular dependency detected: " + failReason, Chain: chain.deps}
	}

	binding, owner, err := inj.lookupOrSynthesize(key)
	if err != nil {
		return nil, wrapProvisionError(key, err)
	}
	if binding == nil {
		return nil, &ProvisionError{Key: key, Message: "no binding and no injectable constructor found", Chain: chain.deps}
	}

	childChain := chain.push(key, binding.Source)

	provider := owner.unscopedProvider(binding, childChain)
	scope := owner.scopeFor(binding.Scope)
	scoped := scope.Get(key, provider)

	val, err := scoped(ctx)
	if err != nil {
		if pe, ok := err.(*ProvisionError); ok {
			return nil, pe.withStep(DependencyStep{Key: key, Source: binding.Source})
		}
		return nil, wrapProvisionError(key, err)
	}
	if slot, ok := chain.proxies.LoadAndDelete(ck); ok {
		slot.(*ProxySlot).set(val)
	}
	return val, nil
}

// unscopedProvider builds the raw, unmemoized Provider for binding,
// dispatching on its kind (§3).
func (inj *Injector) unscopedProvider(binding *Binding, chain resolveChain) Provider {
	return func(ctx context.Context) (any, error) {
		switch binding.kind {
		case kindInstance:
			return binding.instance, nil
		case kindLinked:
			return inj.resolve(ctx, binding.targetKey, chain)
		case kindProviderInstance:
			if binding.contextualProvider != nil {
				return binding.contextualProvider(ctx, ProvisioningContext{Key: binding.Key, MemberIndex: -1})
			}
			return binding.providerFunc(ctx)
		case kindProviderKey:
			providerVal, err := inj.resolve(ctx, binding.targetKey, chain)
			if err != nil {
				return nil, err
			}
			return inj.invokeProviderValue(ctx, providerVal)
		case kindConstructor:
			return inj.constructAndWeave(ctx, binding, chain)
		case kindConstant:
			return binding.constantValue, nil
		case kindUntargetted:
			return inj.constructAndWeave(ctx, binding, chain)
		case kindExposed:
			return binding.exposedFrom.injector.resolve(ctx, binding.Key, chain.popLast())
		default:
			return nil, fmt.Errorf("unhandled binding kind %d", binding.kind)
		}
	}
}

// invokeProviderValue calls a resolved Provider-shaped func() (T, error)
// value, the dispatch half of a Provider-key binding (§3).
func (inj *Injector) invokeProviderValue(ctx context.Context, providerVal any) (any, error) {
	rv := reflect.ValueOf(providerVal)
	if rv.Kind() != reflect.Func {
		return nil, fmt.Errorf("provider key did not resolve to a function, got %T", providerVal)
	}
	out := rv.Call(nil)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// construct builds a value of concrete type rt (named by ToConstructor or
// by JIT synthesis): calls its Constructor.New when *rt implements
// Constructor, or else takes the no-arg + field-injection fallback from
// §4.6 step 4, and performs member injection before returning.
func (inj *Injector) construct(ctx context.Context, rt reflect.Type, chain resolveChain) (any, error) {
	if rt == nil {
		return nil, fmt.Errorf("no concrete type to construct")
	}
	if ctor, ok := constructorOf(rt); ok {
		val, err := inj.callConstructor(ctx, ctor, chain)
		if err != nil {
			return nil, err
		}
		if rv := reflect.ValueOf(val); rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct {
			if err := inj.injectFieldsSerialized(ctx, rv, chain); err != nil {
				return nil, err
			}
		}
		return val, nil
	}
	return inj.constructByFieldInjection(ctx, rt, chain)
}

// constructAndWeave is construct plus §4.8 step 6's optional AOP pass: if
// any interceptor binding matches binding.Key and a WeavingCapability was
// supplied (WithBytecodeGen), the constructed instance is handed to it
// before being returned, so the woven value is what a Singleton scope
// ends up caching rather than the raw one.
func (inj *Injector) constructAndWeave(ctx context.Context, binding *Binding, chain resolveChain) (any, error) {
	val, err := inj.construct(ctx, binding.constructorType, chain)
	if err != nil {
		return nil, err
	}
	interceptors := inj.matchingInterceptors(binding.Key)
	if len(interceptors) == 0 || inj.weaver == nil {
		return val, nil
	}
	return inj.weaver.Weave(binding.Key, val, interceptors)
}

// constructorFunc pairs a constructor value with the type it builds. The
// only injectable constructor this core recognizes is the New method of
// the Constructor interface, implemented on a type's pointer method set
// (the closest Go rendering of "the constructor marked for injection");
// ToConstructor names the concrete type to build, not a function, and
// arbitrary functions with dependency parameters are not recognized.
type constructorFunc struct {
	fn reflect.Value
	rt reflect.Type
}

// Constructor lets a concrete type mark its own preferred constructor for
// injection (Guice's @Inject on a constructor): implement it on *T and
// JIT synthesis (and ToConstructor) will call New instead of
// zero-value-constructing T. When New returns a non-nil pointer to a
// struct, that struct's `inject`-tagged fields are injected afterwards.
type Constructor interface {
	New(ctx context.Context, get func(Key) (any, error)) (any, error)
}

func constructorOf(rt reflect.Type) (reflect.Value, bool) {
	ptr := reflect.PointerTo(rt)
	if ptr.Implements(reflect.TypeFor[Constructor]()) {
		zero := reflect.New(rt)
		return zero.MethodByName("New"), true
	}
	return reflect.Value{}, false
}

func (inj *Injector) callConstructor(ctx context.Context, ctor reflect.Value, chain resolveChain) (any, error) {
	get := func(key Key) (any, error) { return inj.resolve(ctx, key, chain) }
	out := ctor.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(get)})
	if !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// memberInjectionLocks serializes member injection per concrete struct
// type (§5 "parallel member injection"): two goroutines injecting two
// instances of the same type run one after the other, so neither ever
// observes the other mid-injection, while distinct types proceed fully in
// parallel. This is a different concern from scope.go's per-Key
// singleflight, which dedups concurrent *resolution* of one binding, not
// field injection of caller-supplied instances.
var memberInjectionLocks sync.Map // reflect.Type -> *sync.Mutex

func lockForInjectedType(rt reflect.Type) *sync.Mutex {
	actual, _ := memberInjectionLocks.LoadOrStore(rt, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// injectFieldsSerialized is the entry point into injectFields: it takes
// ptr's concrete type's lock before recursing into embedded fields, which
// call injectFields directly (not this wrapper) so a struct's own embedded
// fields never try to re-acquire the same type's lock.
func (inj *Injector) injectFieldsSerialized(ctx context.Context, ptr reflect.Value, chain resolveChain) error {
	mu := lockForInjectedType(ptr.Elem().Type())
	mu.Lock()
	defer mu.Unlock()
	return inj.injectFields(ctx, ptr, chain)
}

// constructByFieldInjection is the public-no-arg-constructor analogue:
// zero-value rt, then inject every field tagged `inject:"..."` (§4.6 step
// 4's concrete-class fallback). The result is always handed back by
// pointer (*rt), not rt itself: a JIT-synthesized struct reached through
// an interface binding almost always implements that interface on its
// pointer method set, and a caller that asked for rt by value can still
// dereference it.
func (inj *Injector) constructByFieldInjection(ctx context.Context, rt reflect.Type, chain resolveChain) (any, error) {
	if rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s has no registered constructor and is not a struct eligible for field injection", rt)
	}
	ptr := reflect.New(rt)
	if err := inj.injectFieldsSerialized(ctx, ptr, chain); err != nil {
		return nil, err
	}
	return ptr.Interface(), nil
}

// InjectMembers injects the exported, `inject`-tagged fields of value (a
// pointer to a struct), the public entry point for member-only injection
// of a caller-constructed instance (§6).
func (inj *Injector) InjectMembers(ctx context.Context, value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("InjectMembers requires a pointer to a struct, got %T", value)
	}
	return inj.injectFieldsSerialized(ctx, rv, resolveChain{})
}

// injectFields walks ptr.Elem()'s fields (embedded structs are recursed
// into first, before the embedding struct's own fields: Guice's
// superclass-before-subclass order, with the embedded struct in the
// superclass role) and injects each one tagged `inject`.
func (inj *Injector) injectFields(ctx context.Context, ptr reflect.Value, chain resolveChain) error {
	elem := ptr.Elem()
	rt := elem.Type()
	for i := 0; i < rt.NumField(); i++ {
		if fv := elem.Field(i); rt.Field(i).Anonymous && fv.Kind() == reflect.Struct {
			if err := inj.injectFields(ctx, fv.Addr(), chain); err != nil {
				return err
			}
		}
	}
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := elem.Field(i)
		if field.Anonymous && fv.Kind() == reflect.Struct {
			continue
		}
		tag, ok := field.Tag.Lookup(injectTag)
		if !ok {
			continue
		}
		optional := tag == "optional"
		key := KeyOf(field.Type)
		if named, ok := field.Tag.Lookup(qualifierTag); ok {
			key = key.WithAnnotation(Named(named))
		}
		val, err := inj.resolve(ctx, key, chain)
		if err != nil {
			if optional {
				continue
			}
			return fmt.Errorf("injecting field %s.%s: %w", rt, field.Name, err)
		}
		if !fv.CanSet() {
			return fmt.Errorf("field %s.%s is not settable (must be exported)", rt, field.Name)
		}
		if rv := reflect.ValueOf(val); val == nil || (rv.Kind() == reflect.Ptr && rv.IsNil()) {
			if optional {
				continue
			}
			return &ProvisionError{Key: key, Message: fmt.Sprintf("nil value for non-nullable field %s.%s", rt, field.Name)}
		}
		fv.Set(reflect.ValueOf(val))
	}
	return nil
}

// tryCircularProxy asks the registered ProxyFactory for key's raw type
// (if any) to build a proxy, for use when a cycle is detected in the
// resolution chain. The proxy's slot is stored on chain.proxies (shared
// across every Injector level touched while resolving this top-level
// request, not just inj) and populated once the frame that's actually
// constructing the real instance further down the chain finishes; see
// circular.go and singletonScope's IsCircularProxy check.
// tryCircularProxy's third return value explains why no proxy could be
// built, for resolve() to render §8 Scenario 3's two distinct failure
// messages; it is only meaningful when ok is false.
func (inj *Injector) tryCircularProxy(key Key, chain resolveChain) (proxy any, ok bool, failReason string) {
	if inj.disableCircularProxies {
		return nil, false, "circular dependencies are disabled"
	}
	rt := key.Type().Reflect()
	factory, found := inj.lookupProxyFactory(rt)
	if !found {
		if rt.Kind() != reflect.Interface {
			return nil, false, fmt.Sprintf("%s is not an interface and cannot be proxied", rt)
		}
		return nil, false, fmt.Sprintf("no circular proxy factory is registered for interface %s", rt)
	}
	p, slot := newProxy(factory)
	chain.proxies.Store(key.comparable(), slot)
	return p, true, ""
}
