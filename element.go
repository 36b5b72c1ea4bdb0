package ligature

import (
	"fmt"
	"reflect"
)

// element is one entry in the ordered log a Binder accumulates as a Module
// runs (§4.3/§4.12). Each recording binder call (Bind/BindKey,
// BindConstant().To, RegisterScope, Expose, AddError, ...) appends exactly
// one element; Install and When only run further binder calls. Override
// composition (§4.5) rewrites this stream rather than the Module graph.
type element interface {
	// visit dispatches to the appropriate case of an elementVisitor.
	visit(v elementVisitor)
	// source returns where this element was declared.
	source() Source
}

// elementVisitor is implemented by anything that needs to walk an element
// stream: the injector (freezing elements into a binding table) and
// debug-form serialization. The override rewriter does not implement it; it
// type-switches over the elements directly (see override.go).
type elementVisitor interface {
	visitBinding(*bindingElement)
	visitScope(*scopeElement)
	visitInterceptor(*interceptorElement)
	visitConverter(*converterElement)
	visitRequestInjection(*requestInjectionElement)
	visitRequestStaticInjection(*requestStaticInjectionElement)
	visitExpose(*exposeElement)
	visitError(*errorElement)
	visitPrivateElements(*privateElementsElement)
	visitDefaultBinding(*defaultBindingElement)
	visitProxyFactory(*proxyFactoryElement)
}

// elementStream is the ordered log produced by running a Module's
// Configure against a Binder.
type elementStream struct {
	elements []element
}

func (s *elementStream) add(e element) { s.elements = append(s.elements, e) }

func (s *elementStream) walk(v elementVisitor) {
	for _, e := range s.elements {
		e.visit(v)
	}
}

// bindingElement wraps a fully-configured *Binding as it was declared.
type bindingElement struct {
	src     Source
	binding *Binding
}

func (e *bindingElement) visit(v elementVisitor) { v.visitBinding(e) }
func (e *bindingElement) source() Source         { return e.src }

// scopeElement records a RegisterScope(annotation, scope) call.
type scopeElement struct {
	src       Source
	annotated ScopeAnnotation
	scope     Scope
}

func (e *scopeElement) visit(v elementVisitor) { v.visitScope(e) }
func (e *scopeElement) source() Source         { return e.src }

// interceptorElement records a BindInterceptor call (§4.8 step 6).
type interceptorElement struct {
	src      Source
	matcher  func(Key) bool
	priority int
	factory  InterceptorFactory
}

func (e *interceptorElement) visit(v elementVisitor) { v.visitInterceptor(e) }
func (e *interceptorElement) source() Source         { return e.src }

// converterElement records a RegisterTypeConverter call (§4.3, Constant
// bindings).
type converterElement struct {
	src       Source
	predicate func(reflect.Type) bool
	converter TypeConverter
}

func (e *converterElement) visit(v elementVisitor) { v.visitConverter(e) }
func (e *converterElement) source() Source         { return e.src }

// requestInjectionElement records RequestInjection(value): members of value
// are injected once, at configuration time.
type requestInjectionElement struct {
	src   Source
	value any
}

func (e *requestInjectionElement) visit(v elementVisitor) { v.visitRequestInjection(e) }
func (e *requestInjectionElement) source() Source         { return e.src }

// requestStaticInjectionElement records RequestStaticInjection(type),
// executed once, after eager singletons, in module-install order (§4.8,
// §9 Open Question resolved here).
type requestStaticInjectionElement struct {
	src      Source
	receiver any
}

func (e *requestStaticInjectionElement) visit(v elementVisitor) { v.visitRequestStaticInjection(e) }
func (e *requestStaticInjectionElement) source() Source         { return e.src }

// exposeElement records Expose(Key) inside a PrivateModule (§4.4).
type exposeElement struct {
	src Source
	key Key
}

func (e *exposeElement) visit(v elementVisitor) { v.visitExpose(e) }
func (e *exposeElement) source() Source         { return e.src }

// errorElement records Binder.AddError, a module-time error that isn't tied
// to a specific binding attempt.
type errorElement struct {
	src     Source
	problem Problem
}

func (e *errorElement) visit(v elementVisitor) { v.visitError(e) }
func (e *errorElement) source() Source         { return e.src }

// privateElementsElement wraps the element stream produced by a
// PrivateModule, keeping its bindings invisible to the enclosing injector
// except for the keys its exposeElements name (§4.4).
type privateElementsElement struct {
	src      Source
	stream   *elementStream
	exposed  []Key
	fromName string
}

func (e *privateElementsElement) visit(v elementVisitor) { v.visitPrivateElements(e) }
func (e *privateElementsElement) source() Source         { return e.src }

// defaultBindingElement records a RegisterDefaultBinding/RegisterDefaultProvider
// call: the Go rendering of Guice's @ImplementedBy/@ProvidedBy, consulted by
// JIT synthesis only when the target key has no explicit or linked binding
// of its own (see jit.go).
type defaultBindingElement struct {
	src        Source
	forKey     Key
	targetKey  Key
	isProvider bool
}

func (e *defaultBindingElement) visit(v elementVisitor) { v.visitDefaultBinding(e) }
func (e *defaultBindingElement) source() Source         { return e.src }

// proxyFactoryElement records RegisterCircularProxyFactory(rawType,
// factory): how to build a forwarding proxy for an interface type caught
// in a dependency cycle (§4.7, circular.go).
type proxyFactoryElement struct {
	src     Source
	rawType reflect.Type
	factory ProxyFactory
}

func (e *proxyFactoryElement) visit(v elementVisitor) { v.visitProxyFactory(e) }
func (e *proxyFactoryElement) source() Source         { return e.src }

// ElementDescription is the debug-form rendering of one element stream
// entry (§4.12): a structured value rather than a pre-rendered string, so
// the caller formats it however its own test/debug tooling prefers.
type ElementDescription struct {
	Kind   string
	Key    Key
	Scope  ScopeAnnotation
	Source Source
	Detail string
}

// DescribeModules runs modules against a fresh Binder and renders the
// resulting element stream as a flat []ElementDescription (§4.12),
// recursing into any PrivateModule's own stream. It never builds an
// Injector, so a module whose bindings wouldn't freeze cleanly can still
// be described.
func DescribeModules(modules ...Module) []ElementDescription {
	binder := newBinder(StackTraceModeFromEnv())
	for _, m := range modules {
		binder.Install(m)
	}
	v := &descriptionVisitor{}
	binder.stream.walk(v)
	return v.out
}

// descriptionVisitor implements elementVisitor by rendering every element
// into an ElementDescription; the read-only counterpart to freezer, which
// turns the same stream into a live binding table instead.
type descriptionVisitor struct {
	out []ElementDescription
}

func (v *descriptionVisitor) visitBinding(e *bindingElement) {
	v.out = append(v.out, ElementDescription{
		Kind:   "binding",
		Key:    e.binding.Key,
		Scope:  e.binding.Scope,
		Source: e.src,
		Detail: e.binding.kind.String(),
	})
}

func (v *descriptionVisitor) visitScope(e *scopeElement) {
	v.out = append(v.out, ElementDescription{Kind: "scope", Source: e.src, Detail: string(e.annotated)})
}

func (v *descriptionVisitor) visitInterceptor(e *interceptorElement) {
	v.out = append(v.out, ElementDescription{Kind: "interceptor", Source: e.src})
}

func (v *descriptionVisitor) visitConverter(e *converterElement) {
	v.out = append(v.out, ElementDescription{Kind: "converter", Source: e.src})
}

func (v *descriptionVisitor) visitRequestInjection(e *requestInjectionElement) {
	v.out = append(v.out, ElementDescription{Kind: "requestInjection", Source: e.src, Detail: fmt.Sprintf("%T", e.value)})
}

func (v *descriptionVisitor) visitRequestStaticInjection(e *requestStaticInjectionElement) {
	v.out = append(v.out, ElementDescription{Kind: "requestStaticInjection", Source: e.src, Detail: fmt.Sprintf("%T", e.receiver)})
}

func (v *descriptionVisitor) visitExpose(e *exposeElement) {
	v.out = append(v.out, ElementDescription{Kind: "expose", Key: e.key, Source: e.src})
}

func (v *descriptionVisitor) visitError(e *errorElement) {
	v.out = append(v.out, ElementDescription{Kind: "error", Source: e.src, Detail: e.problem.Message})
}

func (v *descriptionVisitor) visitDefaultBinding(e *defaultBindingElement) {
	v.out = append(v.out, ElementDescription{Kind: "defaultBinding", Key: e.forKey, Source: e.src, Detail: e.targetKey.String()})
}

func (v *descriptionVisitor) visitProxyFactory(e *proxyFactoryElement) {
	v.out = append(v.out, ElementDescription{Kind: "proxyFactory", Source: e.src, Detail: e.rawType.String()})
}

func (v *descriptionVisitor) visitPrivateElements(e *privateElementsElement) {
	v.out = append(v.out, ElementDescription{Kind: "privateModule", Source: e.src, Detail: e.fromName})
	inner := &descriptionVisitor{}
	e.stream.walk(inner)
	v.out = append(v.out, inner.out...)
}
