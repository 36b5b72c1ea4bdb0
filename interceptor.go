package ligature

import "sort"

// MethodInvocation describes a single intercepted method call: its name,
// the arguments it was called with, and a Proceed function that continues
// down the interceptor chain (eventually reaching the real method).
type MethodInvocation struct {
	Method  string
	Args    []any
	Proceed func() ([]any, error)
}

// MethodInterceptor is one link in the AOP chain around a matched method
// (§4.8 step 6).
type MethodInterceptor interface {
	Invoke(inv *MethodInvocation) ([]any, error)
}

// MethodInterceptorFunc adapts a plain function into a MethodInterceptor.
type MethodInterceptorFunc func(inv *MethodInvocation) ([]any, error)

func (f MethodInterceptorFunc) Invoke(inv *MethodInvocation) ([]any, error) { return f(inv) }

// InterceptorFactory builds the MethodInterceptor for a BindInterceptor
// registration; it is a factory rather than a bare instance so that
// request/session-scoped interceptor state is possible.
type InterceptorFactory func() MethodInterceptor

// interceptorBinding is one BindInterceptor registration, frozen at build
// time with its priority (lower runs first on the way in, matching the
// same "sort ascending, reverse on the way out" shape the teacher's other
// example repos use for HTTP middleware chains).
type interceptorBinding struct {
	matcher  func(Key) bool
	priority int
	factory  InterceptorFactory
	source   Source
}

// interceptorRegistry collects every BindInterceptor call frozen into the
// binding table.
type interceptorRegistry struct {
	bindings []interceptorBinding
}

func (r *interceptorRegistry) register(b interceptorBinding) {
	r.bindings = append(r.bindings, b)
	sort.SliceStable(r.bindings, func(i, j int) bool { return r.bindings[i].priority < r.bindings[j].priority })
}

// matching returns the interceptors, in execution order, whose matcher
// accepts key.
func (r *interceptorRegistry) matching(key Key) []MethodInterceptor {
	var out []MethodInterceptor
	for _, b := range r.bindings {
		if b.matcher(key) {
			out = append(out, b.factory())
		}
	}
	return out
}

// Chain runs interceptors around invoke, innermost last: interceptors[0]
// is the outermost link, and calling inv.Proceed() from within an
// interceptor advances to the next one (or to invoke itself once the
// chain is exhausted). This is the invocation-chaining half of AOP;
// building an interceptors[i].Proceed()-capable dynamic dispatch in front
// of a concrete Go value is the WeavingCapability's job (see below) since
// it requires generating a type at build time, which the core treats as
// an optional, externally-supplied capability rather than implementing it
// with reflection tricks that don't really work for arbitrary interfaces.
func Chain(interceptors []MethodInterceptor, invoke func() ([]any, error)) func(method string, args []any) ([]any, error) {
	return func(method string, args []any) ([]any, error) {
		var run func(i int) ([]any, error)
		run = func(i int) ([]any, error) {
			if i >= len(interceptors) {
				return invoke()
			}
			return interceptors[i].Invoke(&MethodInvocation{
				Method: method,
				Args:   args,
				Proceed: func() ([]any, error) {
					return run(i + 1)
				},
			})
		}
		return run(0)
	}
}

// WeavingCapability is the optional, externally-supplied bytecode-gen
// style capability §1/§4.8 describe: given a concrete instance and the
// interceptors that match its binding Key, it returns a value of the same
// public type that dispatches matching methods through Chain. The core
// only queries for this capability; it does not implement the weaving
// itself, since Go has no runtime facility for synthesizing a new type
// that implements an interceptors wrapper over an arbitrary interface
// without a build-time code generator (the same reason circular proxies
// need a hand-written forwarding type — see circular.go).
type WeavingCapability interface {
	Weave(key Key, instance any, interceptors []MethodInterceptor) (any, error)
}

// WeavingCapabilityFunc adapts a plain function into a WeavingCapability,
// the same func-to-interface convenience ModuleFunc/ConditionalFunc offer
// elsewhere in this package.
type WeavingCapabilityFunc func(key Key, instance any, interceptors []MethodInterceptor) (any, error)

func (f WeavingCapabilityFunc) Weave(key Key, instance any, interceptors []MethodInterceptor) (any, error) {
	return f(key, instance, interceptors)
}
