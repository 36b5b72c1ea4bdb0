package ligature

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Injector is the resolved, frozen binding graph produced from one or
// more Modules (§5, §6). It is safe for concurrent use once built.
type Injector struct {
	parent *Injector
	stage  Stage

	stackMode                     StackTraceMode
	policy                        MatchPolicy
	requireAtInjectOnConstructors bool
	disableCircularProxies        bool
	weaver                        WeavingCapability

	mu             sync.RWMutex
	bindings       map[comparableKey]*Binding
	defaults       map[comparableKey]defaultHint
	scopes         map[ScopeAnnotation]Scope
	ownScopes      map[ScopeAnnotation]bool // true for a scope object created or registered at this level, not inherited
	converters     *converterRegistry
	interceptors   *interceptorRegistry
	proxyFactories map[reflect.Type]ProxyFactory

	jitMu sync.Mutex
}

// InjectorOption configures NewInjector / CreateChildInjector (§6).
type InjectorOption func(*injectorConfig)

type injectorConfig struct {
	stage                         Stage
	stackMode                     StackTraceMode
	policy                        MatchPolicy
	requireAtInjectOnConstructors bool
	disableCircularProxies        bool
	weaver                        WeavingCapability
	inheritScopes                 map[ScopeAnnotation]Scope
}

// WithStage sets the Stage an injector is built for (§4.8). Defaults to
// Development.
func WithStage(stage Stage) InjectorOption {
	return func(c *injectorConfig) { c.stage = stage }
}

// WithStackTraceMode sets the INCLUDE_STACK_TRACES capability (§6, §9).
// Defaults to StackTracesOff; see StackTraceModeFromEnv for the
// environment-driven convenience reader.
func WithStackTraceMode(mode StackTraceMode) InjectorOption {
	return func(c *injectorConfig) { c.stackMode = mode }
}

func withStackTraceModeOption(mode StackTraceMode) InjectorOption { return WithStackTraceMode(mode) }

// WithMatchPolicy sets the default qualifier MatchPolicy for modules that
// don't call RequireExactBindingAnnotations themselves.
func WithMatchPolicy(policy MatchPolicy) InjectorOption {
	return func(c *injectorConfig) { c.policy = policy }
}

func withMatchPolicyOption(policy MatchPolicy) InjectorOption { return WithMatchPolicy(policy) }

// WithRequireAtInjectOnConstructors disables both JIT fallbacks that don't
// go through an explicitly marked constructor (§4.6 step 4's "disables
// both fallbacks" mode).
func WithRequireAtInjectOnConstructors() InjectorOption {
	return func(c *injectorConfig) { c.requireAtInjectOnConstructors = true }
}

// WithCircularProxiesDisabled turns off circular-proxy synthesis; a
// dependency cycle then always fails at provision time (§4.7).
func WithCircularProxiesDisabled() InjectorOption {
	return func(c *injectorConfig) { c.disableCircularProxies = true }
}

// WithBytecodeGen supplies the externally-provided WeavingCapability that
// makes BYTECODE_GEN "enabled" for this injector (§1, §4.8 step 6,
// interceptor.go). Omitting this option leaves method interception
// unavailable: any BindInterceptor registration then fails the build.
func WithBytecodeGen(weaver WeavingCapability) InjectorOption {
	return func(c *injectorConfig) { c.weaver = weaver }
}

func withInheritedScopes(scopes map[ScopeAnnotation]Scope) InjectorOption {
	return func(c *injectorConfig) { c.inheritScopes = scopes }
}

func withInheritedWeaver(weaver WeavingCapability) InjectorOption {
	return func(c *injectorConfig) { c.weaver = weaver }
}

// NewInjector builds a root Injector from modules (§5). Build-time
// validation failures are returned as a *ConfigurationError accumulating
// every independent problem found, not just the first.
func NewInjector(modules []Module, opts ...InjectorOption) (*Injector, error) {
	return newInjectorLevel(modules, opts, nil)
}

func newInjectorLevel(modules []Module, opts []InjectorOption, parent *Injector) (*Injector, error) {
	cfg := &injectorConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	inj := &Injector{
		parent:                        parent,
		stage:                         cfg.stage,
		stackMode:                     cfg.stackMode,
		policy:                        cfg.policy,
		requireAtInjectOnConstructors: cfg.requireAtInjectOnConstructors,
		disableCircularProxies:        cfg.disableCircularProxies,
		weaver:                        cfg.weaver,
		bindings:                      make(map[comparableKey]*Binding),
		defaults:                      make(map[comparableKey]defaultHint),
		proxyFactories:                make(map[reflect.Type]ProxyFactory),
	}

	inj.ownScopes = make(map[ScopeAnnotation]bool)
	if cfg.inheritScopes != nil {
		inj.scopes = make(map[ScopeAnnotation]Scope, len(cfg.inheritScopes))
		for k, v := range cfg.inheritScopes {
			inj.scopes[k] = v
		}
	} else {
		inj.scopes = make(map[ScopeAnnotation]Scope)
	}
	inj.scopes[Unscoped] = unscopedScope{}
	if _, ok := inj.scopes[Singleton]; !ok {
		inj.scopes[Singleton] = newSingletonScope()
		inj.ownScopes[Singleton] = true
	}
	if _, ok := inj.scopes[EagerSingleton]; !ok {
		inj.scopes[EagerSingleton] = inj.scopes[Singleton]
		inj.ownScopes[EagerSingleton] = inj.ownScopes[Singleton]
	}

	// Every level owns its own converter/interceptor registry rather than
	// sharing its parent's by pointer (contrast with scopes, which are a
	// shared cache by design): a child registering its own converter or
	// interceptor must not retroactively change what an already-built
	// parent (or an unrelated sibling) sees. Visibility downward instead
	// comes from convertValue/matchingInterceptors walking the parent
	// chain at lookup time, the same pattern scopeFor/lookupProxyFactory
	// already use.
	inj.converters = &converterRegistry{}
	inj.interceptors = &interceptorRegistry{}

	binder := newBinder(cfg.stackMode)
	binder.policy = cfg.policy
	for _, m := range modules {
		binder.Install(m)
	}
	// A module's RequireExactBindingAnnotations() mutates the Binder's
	// policy in place; propagate it to the Injector level that actually
	// consults it at lookup time (jit.go's lookupLenientFallback).
	inj.policy = binder.policy

	errs := &ConfigurationError{}
	fz := &freezer{level: inj, errs: errs}
	binder.stream.walk(fz)
	fz.checkScopeReferences()

	// Both the frozen element stream and the interceptor-capability check
	// are independent build-time validations (§7: report every defect
	// found, not just the first), so their problems are merged rather than
	// returning as soon as either one fails.
	if err := combineConfigurationErrors(errs.OrNil(), inj.validateInterceptorCapability()); err != nil {
		return nil, err
	}

	// Tool stage validates and freezes the binding graph without running
	// any of it: no eager singletons, no RequestInjection/
	// RequestStaticInjection side effects (§4.8's Stage table).
	if inj.stage != Tool {
		if err := inj.provisionEager(fz.eagerKeys); err != nil {
			return nil, err
		}
		for _, value := range fz.requestInjections {
			if err := inj.InjectMembers(context.Background(), value); err != nil {
				return nil, &ConfigurationError{Problems: []Problem{{Message: "RequestInjection failed", Cause: err}}}
			}
		}
		for _, receiver := range fz.requestStaticInjections {
			if err := inj.injectStatic(receiver); err != nil {
				return nil, &ConfigurationError{Problems: []Problem{{Message: "RequestStaticInjection failed", Cause: err}}}
			}
		}
	}

	return inj, nil
}

// validateInterceptorCapability enforces §4.8 step 6: interception
// bindings exist but no WeavingCapability (BYTECODE_GEN) is configured.
func (inj *Injector) validateInterceptorCapability() error {
	if inj.weaver != nil {
		return nil
	}
	if len(inj.interceptors.bindings) == 0 {
		return nil
	}
	return &ConfigurationError{Problems: []Problem{{
		Message: "interceptor bindings are registered but no WeavingCapability was supplied via WithBytecodeGen",
	}}}
}

// provisionEager constructs every EagerSingleton-scoped binding once, at
// build time (§4.8), in the order they were frozen.
func (inj *Injector) provisionEager(keys []Key) error {
	ctx := context.Background()
	for _, key := range keys {
		if _, err := inj.resolve(ctx, key, resolveChain{}); err != nil {
			return &ConfigurationError{Problems: []Problem{{Key: key, Message: "eager singleton provisioning failed", Cause: err}}}
		}
	}
	return nil
}

// injectStatic performs static injection on receiver: every exported,
// `inject`-tagged field reachable from a pointer-to-struct value
// representing the type's static state. Go has no class-level statics,
// so the caller passes whatever value holds them; RequestStaticInjection
// just schedules this to run after eager singletons (§4.8, §9).
func (inj *Injector) injectStatic(receiver any) error {
	return inj.InjectMembers(context.Background(), receiver)
}

func (inj *Injector) scopeFor(annotation ScopeAnnotation) Scope {
	for level := inj; level != nil; level = level.parent {
		level.mu.RLock()
		s, ok := level.scopes[annotation]
		level.mu.RUnlock()
		if ok {
			return s
		}
	}
	return unscopedScope{}
}

// hasScope reports whether annotation is registered on inj or any ancestor,
// without scopeFor's unscopedScope{} fallback — used by the freezer to
// flag a binding's .In(annotation) that names a scope nothing ever
// registered (§7's "missing-scope reference" ConfigurationError cause).
func (inj *Injector) hasScope(annotation ScopeAnnotation) bool {
	for level := inj; level != nil; level = level.parent {
		level.mu.RLock()
		_, ok := level.scopes[annotation]
		level.mu.RUnlock()
		if ok {
			return true
		}
	}
	return false
}

// matchingInterceptors collects every interceptor registered on inj or any
// ancestor whose matcher accepts key, merged into one priority-ordered
// chain (§4.8 step 6). A level only ever mutates its own registry (see
// newInjectorLevel), so this is how a child sees its ancestors' bindings
// without a child's own registration leaking upward.
func (inj *Injector) matchingInterceptors(key Key) []MethodInterceptor {
	var bindings []interceptorBinding
	for level := inj; level != nil; level = level.parent {
		bindings = append(bindings, level.interceptors.bindings...)
	}
	if len(bindings) == 0 {
		return nil
	}
	sort.SliceStable(bindings, func(i, j int) bool { return bindings[i].priority < bindings[j].priority })
	var out []MethodInterceptor
	for _, b := range bindings {
		if b.matcher(key) {
			out = append(out, b.factory())
		}
	}
	return out
}

// convertValue renders value as target, consulting inj's own converters
// first and then each ancestor's in turn before falling back to the
// built-in conversions (see converterRegistry.convert).
func (inj *Injector) convertValue(value any, target reflect.Type) (any, error) {
	all := &converterRegistry{}
	for level := inj; level != nil; level = level.parent {
		all.entries = append(all.entries, level.converters.entries...)
	}
	return all.convert(value, target)
}

func (inj *Injector) lookupProxyFactory(rt reflect.Type) (ProxyFactory, bool) {
	for level := inj; level != nil; level = level.parent {
		level.mu.RLock()
		f, ok := level.proxyFactories[rt]
		level.mu.RUnlock()
		if ok {
			return f, true
		}
	}
	return nil, false
}

// GetInstance resolves key against this injector (§6).
func (inj *Injector) GetInstance(ctx context.Context, key Key) (any, error) {
	return inj.resolve(ctx, key, resolveChain{})
}

// GetProvider returns a Provider for key without resolving it immediately
// (§6); each call to the returned Provider re-runs resolution subject to
// key's scope.
func (inj *Injector) GetProvider(key Key) Provider {
	return func(ctx context.Context) (any, error) {
		return inj.resolve(ctx, key, resolveChain{})
	}
}

// GetBinding returns the read-only view of key's binding, synthesizing a
// JIT binding if needed but not provisioning it (§6).
func (inj *Injector) GetBinding(key Key) (BindingView, bool) {
	b, _, err := inj.lookupOrSynthesize(key)
	if err != nil || b == nil {
		return BindingView{}, false
	}
	return viewOf(b), true
}

// GetAllBindings returns every explicit and already-materialized binding
// visible from this injector, walking up the parent chain (§6). JIT
// bindings not yet triggered by a lookup are not included.
func (inj *Injector) GetAllBindings() map[Key]BindingView {
	out := make(map[Key]BindingView)
	for level := inj; level != nil; level = level.parent {
		level.mu.RLock()
		for _, b := range level.bindings {
			if _, exists := out[b.Key]; !exists {
				out[b.Key] = viewOf(b)
			}
		}
		level.mu.RUnlock()
	}
	return out
}

// GetMembersInjector returns a function that performs member injection on
// a pointer to a value of type rt (§6).
func (inj *Injector) GetMembersInjector(rt reflect.Type) func(ctx context.Context, value any) error {
	return func(ctx context.Context, value any) error {
		return inj.InjectMembers(ctx, value)
	}
}

// Shutdown clears every cached singleton owned by this injector level.
// Parent-level singletons (inherited scopes) are untouched, matching
// §4.11's scope-inheritance rule: a child does not own its parent's
// cache — inj.scopes holds the *same* Scope object a parent created
// whenever this level never registered its own (see ownScopes), so
// resetting by iterating inj.scopes alone would reset the parent's (and
// any sibling's) cache too.
func (inj *Injector) Shutdown() {
	inj.mu.RLock()
	defer inj.mu.RUnlock()
	for annotation, scope := range inj.scopes {
		if annotation == Unscoped || !inj.ownScopes[annotation] {
			continue
		}
		if s, ok := scope.(*singletonScope); ok {
			s.reset()
		}
	}
}

// freezer implements elementVisitor, converting one injector level's
// element stream into its bindings/scopes/converters/interceptors tables
// (§5). Problems are accumulated rather than returned immediately so a
// single NewInjector call reports every independent defect at once (§7).
type freezer struct {
	level *Injector
	errs  *ConfigurationError

	eagerKeys               []Key
	requestInjections       []any
	requestStaticInjections []any

	// registeredHere tracks which ScopeAnnotations this freezer's own walk
	// has already registered via RegisterScope, so a second RegisterScope
	// call for the same annotation within one module set is caught as a
	// build-time problem instead of silently overwriting the first (§4.5
	// clause 4).
	registeredHere map[ScopeAnnotation]Source
}

func (f *freezer) visitBinding(e *bindingElement) {
	b := e.binding
	ck := b.Key.comparable()

	if existing, ok := f.level.bindings[ck]; ok {
		f.errs.addProblem(Problem{
			Key:     b.Key,
			Message: "duplicate binding",
			Sources: []Source{existing.Source, b.Source},
		})
		return
	}
	if src, dup := duplicateExplicitInAncestor(f.level.parent, b.Key); dup {
		f.errs.addProblem(Problem{
			Key:     b.Key,
			Message: "binding already declared by an ancestor injector and cannot be rebound by a child",
			Sources: []Source{src, b.Source},
		})
		return
	}

	b.Scope = f.level.stage.promote(b.Scope)
	f.level.bindings[ck] = b
	if b.Scope == EagerSingleton {
		f.eagerKeys = append(f.eagerKeys, b.Key)
	}
}

func (f *freezer) visitScope(e *scopeElement) {
	if f.registeredHere == nil {
		f.registeredHere = make(map[ScopeAnnotation]Source)
	}
	if prior, dup := f.registeredHere[e.annotated]; dup {
		f.errs.addProblem(Problem{
			Message: fmt.Sprintf("duplicate RegisterScope for %q", e.annotated),
			Sources: []Source{prior, e.src},
		})
		return
	}
	f.registeredHere[e.annotated] = e.src

	f.level.scopes[e.annotated] = e.scope
	f.level.ownScopes[e.annotated] = true
}

// checkScopeReferences enforces §7's "missing-scope reference" cause: every
// binding's .In(annotation) must name a scope actually registered somewhere
// in this level's chain (built-in Unscoped/Singleton/EagerSingleton are
// always present and exempt). Run once the whole stream has been walked, so
// a RegisterScope element appearing after the binding that uses it still
// counts.
func (f *freezer) checkScopeReferences() {
	for _, b := range f.level.bindings {
		if b.Scope == Unscoped || b.Scope == Singleton || b.Scope == EagerSingleton {
			continue
		}
		if f.level.hasScope(b.Scope) {
			continue
		}
		f.errs.addProblem(Problem{
			Key:     b.Key,
			Message: fmt.Sprintf("missing-scope reference: %q was never registered via RegisterScope", b.Scope),
			Sources: []Source{b.Source},
		})
	}
}

func (f *freezer) visitInterceptor(e *interceptorElement) {
	f.level.interceptors.register(interceptorBinding{matcher: e.matcher, priority: e.priority, factory: e.factory, source: e.src})
}

func (f *freezer) visitConverter(e *converterElement) {
	f.level.converters.register(e.predicate, e.converter)
}

func (f *freezer) visitRequestInjection(e *requestInjectionElement) {
	f.requestInjections = append(f.requestInjections, e.value)
}

func (f *freezer) visitRequestStaticInjection(e *requestStaticInjectionElement) {
	f.requestStaticInjections = append(f.requestStaticInjections, e.receiver)
}

func (f *freezer) visitExpose(e *exposeElement) {
	// Handled by visitPrivateElements, which owns the enclosing
	// PrivateModule's own stream; a bare exposeElement only reaches a
	// top-level freezer if Expose was called outside InstallPrivate,
	// which PrivateBinder's type already prevents.
}

func (f *freezer) visitError(e *errorElement) {
	f.errs.addProblem(e.problem)
}

func (f *freezer) visitDefaultBinding(e *defaultBindingElement) {
	f.level.defaults[e.forKey.comparable()] = defaultHint{targetKey: e.targetKey, isProvider: e.isProvider, source: e.src}
}

func (f *freezer) visitProxyFactory(e *proxyFactoryElement) {
	f.level.proxyFactories[e.rawType] = e.factory
}

func (f *freezer) visitPrivateElements(e *privateElementsElement) {
	private, err := newInjectorLevel(nil, f.level.childOptions(), f.level)
	if err != nil {
		f.errs.addProblem(Problem{Message: "private module setup failed", Cause: err})
		return
	}
	privErrs := &ConfigurationError{}
	pf := &freezer{level: private, errs: privErrs}
	e.stream.walk(pf)
	pf.checkScopeReferences()
	if privErrs.HasErrors() {
		for _, p := range privErrs.Problems {
			f.errs.addProblem(p)
		}
		return
	}
	if private.stage != Tool {
		if err := private.provisionEager(pf.eagerKeys); err != nil {
			f.errs.addProblem(Problem{Message: "private module eager provisioning failed", Cause: err})
			return
		}
	}

	scope := &privateScope{injector: private, exposed: make(map[comparableKey]Key)}
	for _, key := range e.exposed {
		ck := key.comparable()
		inner, ok := private.bindings[ck]
		if !ok {
			f.errs.addProblem(Problem{Key: key, Message: "Expose()d key has no binding inside its PrivateModule"})
			continue
		}
		scope.exposed[ck] = key
		if _, dup := f.level.bindings[ck]; dup {
			f.errs.addProblem(Problem{Key: key, Message: "duplicate binding", Sources: []Source{inner.Source, e.src}})
			continue
		}
		f.level.bindings[ck] = &Binding{Key: key, Source: e.src, Scope: Unscoped, kind: kindExposed, exposedFrom: scope}
	}
}
