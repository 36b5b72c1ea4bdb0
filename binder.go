package ligature

import (
	"context"
	"fmt"
	"os"
	"reflect"
)

// Module is anything that accepts a Binder and issues binding commands
// (§4.3). A plain function satisfies Module via ModuleFunc.
type Module interface {
	Configure(binder *Binder)
}

// ModuleFunc adapts a plain func(*Binder) into a Module.
type ModuleFunc func(binder *Binder)

func (f ModuleFunc) Configure(binder *Binder) { f(binder) }

// Binder accumulates a linear, ordered stream of elements as modules run
// (§4.3). It is not safe for concurrent use; module processing is a single
// build-time phase (§5).
type Binder struct {
	stream     *elementStream
	source     Source
	stackMode  StackTraceMode
	installed  map[any]bool // module identity -> installed, for idempotent re-install
	installing map[any]bool // currently on the install path, for cycle collapse
	policy     MatchPolicy

	// valueInstalled/valueInstalling back up installed/installing for a
	// Module value with no stable map key at all (a struct passed by value
	// containing a slice/map/func field, so neither == nor a pointer
	// identity applies): each Configure call hands installModule a fresh
	// copy of the interface value, so identity has to be recovered by
	// structural comparison instead. See moduleIdentity.
	valueInstalled  []Module
	valueInstalling []Module
}

func newBinder(stackMode StackTraceMode) *Binder {
	return &Binder{
		stream:     &elementStream{},
		stackMode:  stackMode,
		installed:  make(map[any]bool),
		installing: make(map[any]bool),
	}
}

func (b *Binder) childSource(module string) Source {
	if module == "" {
		return b.source
	}
	return b.source.withModule(module)
}

// AddError records a module-time error not tied to a particular binding
// attempt.
func (b *Binder) AddError(format string, args ...any) {
	b.stream.add(&errorElement{
		src:     captureSource(b.stackMode, 1),
		problem: Problem{Message: fmt.Sprintf(format, args...)},
	})
}

// RequireExactBindingAnnotations switches this Binder (and everything it
// installs) to the Strict qualifier-matching policy (§4.2).
func (b *Binder) RequireExactBindingAnnotations() {
	b.policy = Strict
}

// Install runs module.Configure(b), collapsing duplicate installs of an
// identical module instance along the same path (§4.3). Module identity is
// the pointer for a pointer/func/map/chan module, the module value itself
// for any other comparable module, and structural (reflect.DeepEqual)
// equality otherwise (see moduleIdentity).
func (b *Binder) Install(module Module) {
	b.installModule(module, "")
}

// moduleIdentity returns the stable map key for module's identity, and
// false when no such key exists (a by-value struct holding a
// slice/map/func/chan field, `&module` unstable across calls since every
// Configure call receives a fresh copy of the interface value) — the
// caller falls back to structural (reflect.DeepEqual) comparison via
// Binder.valueInstalled/valueInstalling in that case.
func moduleIdentity(module Module) (any, bool) {
	rv := reflect.ValueOf(module)
	if rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Func || rv.Kind() == reflect.Map || rv.Kind() == reflect.Chan {
		return rv.Pointer(), true
	}
	if rv.Type().Comparable() {
		return module, true
	}
	return nil, false
}

func (b *Binder) installModule(module Module, name string) {
	id, ok := moduleIdentity(module)
	if ok {
		if b.installed[id] || b.installing[id] {
			// Installing the same module instance twice, or a cycle in
			// module installation, collapses to a single install (§4.3).
			return
		}
		b.installing[id] = true
		defer delete(b.installing, id)
	} else {
		for _, m := range b.valueInstalled {
			if reflect.DeepEqual(m, module) {
				return
			}
		}
		for _, m := range b.valueInstalling {
			if reflect.DeepEqual(m, module) {
				return
			}
		}
		b.valueInstalling = append(b.valueInstalling, module)
		defer func() {
			for i, m := range b.valueInstalling {
				if reflect.DeepEqual(m, module) {
					b.valueInstalling = append(b.valueInstalling[:i], b.valueInstalling[i+1:]...)
					break
				}
			}
		}()
	}

	prevSource := b.source
	if name != "" {
		b.source = b.source.withModule(name)
	}
	module.Configure(b)
	b.source = prevSource

	if ok {
		b.installed[id] = true
	} else {
		b.valueInstalled = append(b.valueInstalled, module)
	}
}

// InstallPrivate installs a PrivateModule, isolating its bindings from the
// enclosing Binder except for the keys it exposes (§4.4).
func (b *Binder) InstallPrivate(module PrivateModule) {
	child := newBinder(b.stackMode)
	child.policy = b.policy
	child.source = b.source
	pb := &PrivateBinder{Binder: child}
	module.Configure(pb)

	b.stream.add(&privateElementsElement{
		src:     captureSource(b.stackMode, 1),
		stream:  child.stream,
		exposed: pb.exposed,
	})
}

// RequestInjection requests that value's members be injected once, at
// configuration time (§4.3).
func (b *Binder) RequestInjection(value any) {
	b.stream.add(&requestInjectionElement{src: captureSource(b.stackMode, 1), value: value})
}

// RequestStaticInjection requests static injection for a type, executed
// once after eager singletons, in module-install order (§4.8, §9).
func (b *Binder) RequestStaticInjection(receiver any) {
	b.stream.add(&requestStaticInjectionElement{src: captureSource(b.stackMode, 1), receiver: receiver})
}

// RegisterScope binds a scope against an annotation (§4.3).
func (b *Binder) RegisterScope(annotation ScopeAnnotation, scope Scope) {
	b.stream.add(&scopeElement{src: captureSource(b.stackMode, 1), annotated: annotation, scope: trackScope(scope)})
}

// RegisterTypeConverter registers a converter used to materialize Constant
// bindings into a destination type matched by predicate.
func (b *Binder) RegisterTypeConverter(predicate func(reflect.Type) bool, converter TypeConverter) {
	b.stream.add(&converterElement{src: captureSource(b.stackMode, 1), predicate: predicate, converter: converter})
}

// BindInterceptor registers a method-interception binding (§4.8 step 6,
// optional AOP capability); see interceptor.go.
func (b *Binder) BindInterceptor(matcher func(Key) bool, priority int, factory InterceptorFactory) {
	b.stream.add(&interceptorElement{src: captureSource(b.stackMode, 1), matcher: matcher, priority: priority, factory: factory})
}

// RegisterDefaultBinding declares that, absent any explicit or linked
// binding for forKey, JIT synthesis should resolve it by delegating to
// targetKey — the Go rendering of Guice's @ImplementedBy(Impl.class),
// since Go interfaces carry no class-level annotations to discover by
// reflection (§4.6 step 3).
func (b *Binder) RegisterDefaultBinding(forKey, targetKey Key) {
	b.stream.add(&defaultBindingElement{src: captureSource(b.stackMode, 1), forKey: forKey, targetKey: targetKey})
}

// RegisterDefaultProvider is RegisterDefaultBinding's @ProvidedBy
// counterpart: providerKey names a provider (Key.ProviderKey()-shaped) to
// delegate to instead of a plain target.
func (b *Binder) RegisterDefaultProvider(forKey, providerKey Key) {
	b.stream.add(&defaultBindingElement{src: captureSource(b.stackMode, 1), forKey: forKey, targetKey: providerKey, isProvider: true})
}

// RegisterCircularProxyFactory registers the forwarding proxy factory for
// rawType (an interface), used when a dependency cycle through rawType is
// detected and circular proxies are enabled (§4.7, circular.go).
func (b *Binder) RegisterCircularProxyFactory(rawType reflect.Type, factory ProxyFactory) {
	b.stream.add(&proxyFactoryElement{src: captureSource(b.stackMode, 1), rawType: rawType, factory: factory})
}

// When groups a list of binder calls that only run if condition holds,
// grounded on the teacher's environment-variable conditional (adapted into
// a first-class Binder combinator rather than a one-off Option).
func (b *Binder) When(condition Conditional, configure func(*Binder)) {
	if condition.Evaluate() {
		configure(b)
	}
}

// Conditional gates a group of binder calls.
type Conditional interface {
	Evaluate() bool
}

type conditionalFunc func() bool

func (f conditionalFunc) Evaluate() bool { return f() }

// ConditionalFunc adapts a plain func() bool into a Conditional.
func ConditionalFunc(f func() bool) Conditional { return conditionalFunc(f) }

// OnEnvironmentVariable gates a When() block on an environment variable's
// value: true when it equals havingValue, or matchIfMissing when the
// variable is unset.
func OnEnvironmentVariable(name, havingValue string, matchIfMissing bool) Conditional {
	return conditionalFunc(func() bool {
		val, ok := os.LookupEnv(name)
		if !ok {
			return matchIfMissing
		}
		return val == havingValue
	})
}

// Bind begins a fluent binding declaration for key (§4.3):
//
//	b.Bind(K).AnnotatedWith(Q).To(K2).In(Singleton)
//
// Every step is optional; omitted steps default to untargetted, no
// qualifier, and no explicit scope. The binding is recorded as untargetted
// the moment Bind is called, so a chain abandoned after Bind or
// AnnotatedWith alone still yields a name-only declaration per §4.3.
func (b *Binder) Bind(key reflect.Type) *BindingBuilder {
	return b.bindKey(KeyOf(key), captureSource(b.stackMode, 1))
}

// BindKey is Bind, but starting from an already-built Key (e.g. one
// produced by KeyFor[T]().WithAnnotation(...)).
func (b *Binder) BindKey(key Key) *BindingBuilder {
	return b.bindKey(key, captureSource(b.stackMode, 1))
}

// bindKey records the untargetted placeholder for key; src is captured by
// the exported caller so that it names the module's own call site.
func (b *Binder) bindKey(key Key, src Source) *BindingBuilder {
	bb := &BindingBuilder{binder: b, key: key, src: src}
	bb.binding = untargettedBinding(key)
	bb.binding.Source = src
	b.stream.add(&bindingElement{src: src, binding: bb.binding})
	return bb
}

// BindConstant begins a constant-binding declaration (§4.3).
func (b *Binder) BindConstant() *ConstantBindingBuilder {
	return &ConstantBindingBuilder{binder: b, src: captureSource(b.stackMode, 1)}
}

// BindingBuilder is the fluent path described in §4.3. The first call to
// AnnotatedWith must precede any target step, since it changes the Key the
// already-recorded element is keyed on.
type BindingBuilder struct {
	binder  *Binder
	key     Key
	src     Source
	binding *Binding // the untargetted placeholder recorded at Bind() time
	retargeted bool
}

// AnnotatedWith qualifies the Key being bound.
func (bb *BindingBuilder) AnnotatedWith(q Qualifier) *BindingBuilder {
	bb.key = bb.key.WithAnnotation(q)
	bb.binding.Key = bb.key
	return bb
}

func (bb *BindingBuilder) retarget(kind bindingKind, mutate func(*Binding)) *ScopedBindingBuilder {
	if bb.retargeted {
		bb.binder.AddError("Bind(%s): more than one target (to/toInstance/toProvider/...) specified", bb.key)
		return &ScopedBindingBuilder{bb: bb}
	}
	bb.retargeted = true
	bb.binding.kind = kind
	mutate(bb.binding)
	return &ScopedBindingBuilder{bb: bb}
}

// To links this key to another Key (binding to an interface's
// implementation type, typically via KeyFor[Impl]()).
func (bb *BindingBuilder) To(target reflect.Type) *ScopedBindingBuilder {
	return bb.ToKey(KeyOf(target))
}

// ToKey links this key to another, already-qualified Key.
func (bb *BindingBuilder) ToKey(target Key) *ScopedBindingBuilder {
	return bb.retarget(kindLinked, func(b *Binding) { b.targetKey = target })
}

// ToInstance binds this key to a pre-built value.
func (bb *BindingBuilder) ToInstance(value any) {
	bb.retarget(kindInstance, func(b *Binding) { b.instance = value })
}

// ToProvider binds this key to a user-supplied provider function,
// `func() (T, error)` or `func() T`.
func (bb *BindingBuilder) ToProvider(provider any) *ScopedBindingBuilder {
	fn, err := adaptProviderFunc(provider)
	if err != nil {
		bb.binder.AddError("ToProvider(%s): %s", bb.key, err)
		return &ScopedBindingBuilder{bb: bb}
	}
	return bb.retarget(kindProviderInstance, func(b *Binding) { b.providerFunc = fn })
}

// ToProviderKey binds this key to the Key of a provider whose provisioning
// yields values (Provider-key binding, §3).
func (bb *BindingBuilder) ToProviderKey(providerKey Key) *ScopedBindingBuilder {
	return bb.retarget(kindProviderKey, func(b *Binding) { b.targetKey = providerKey })
}

// ToConstructor binds this key to an explicit constructor for a concrete
// type (constructorType must be assignable to the key's raw type).
func (bb *BindingBuilder) ToConstructor(concrete reflect.Type) *ScopedBindingBuilder {
	return bb.retarget(kindConstructor, func(b *Binding) { b.constructorType = concrete })
}

// ToContextualProvider binds this key to a function receiving a
// ProvisioningContext at each call (§4.10).
func (bb *BindingBuilder) ToContextualProvider(provider func(ctx context.Context, pc ProvisioningContext) (any, error)) *ScopedBindingBuilder {
	return bb.retarget(kindProviderInstance, func(b *Binding) { b.contextualProvider = provider })
}

// ScopedBindingBuilder is returned once a target has been chosen; it
// offers only the scope steps, matching §4.3's grammar.
type ScopedBindingBuilder struct {
	bb *BindingBuilder
}

// In sets the binding's scope annotation.
func (s *ScopedBindingBuilder) In(scope ScopeAnnotation) {
	s.bb.binding.Scope = scope
}

// AsEagerSingleton is sugar for In(EagerSingleton).
func (s *ScopedBindingBuilder) AsEagerSingleton() {
	s.bb.binding.Scope = EagerSingleton
}

// ConstantBindingBuilder is BindConstant()'s fluent path.
type ConstantBindingBuilder struct {
	binder *Binder
	src    Source
	qual   Qualifier
}

// AnnotatedWith qualifies the constant binding.
func (c *ConstantBindingBuilder) AnnotatedWith(q Qualifier) *ConstantBindingBuilder {
	c.qual = q
	return c
}

// To supplies the constant's literal value.
func (c *ConstantBindingBuilder) To(value any) {
	key := KeyOf(reflect.TypeOf(value))
	if c.qual != nil {
		key = key.WithAnnotation(c.qual)
	}
	b := constantBinding(key, value)
	b.Source = c.src
	c.binder.stream.add(&bindingElement{src: c.src, binding: b})
}

// adaptProviderFunc normalizes a user-supplied provider into the internal
// func(context.Context) (any, error) shape, accepting `func() T`,
// `func() (T, error)`, `func(context.Context) T` and
// `func(context.Context) (T, error)` — the same tolerance the teacher's
// Provide() function already has for (T) vs (T, error) returns.
func adaptProviderFunc(provider any) (func(ctx context.Context) (any, error), error) {
	rv := reflect.ValueOf(provider)
	rt := rv.Type()
	if rt.Kind() != reflect.Func {
		return nil, fmt.Errorf("provider must be a function, got %s", rt)
	}
	if rt.NumOut() == 0 || rt.NumOut() > 2 {
		return nil, fmt.Errorf("provider must return (T) or (T, error), got %d results", rt.NumOut())
	}
	if rt.NumOut() == 2 && !rt.Out(1).AssignableTo(errorType) {
		return nil, fmt.Errorf("provider's second return value must be error")
	}
	wantsCtx := rt.NumIn() == 1 && rt.In(0) == reflect.TypeFor[context.Context]()
	if rt.NumIn() > 1 || (rt.NumIn() == 1 && !wantsCtx) {
		return nil, fmt.Errorf("provider must take no arguments or a single context.Context")
	}
	return func(ctx context.Context) (any, error) {
		var args []reflect.Value
		if wantsCtx {
			args = []reflect.Value{reflect.ValueOf(ctx)}
		}
		out := rv.Call(args)
		if rt.NumOut() == 2 && !out[1].IsNil() {
			return out[0].Interface(), out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	}, nil
}
