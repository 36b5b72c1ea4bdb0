package ligature

// PrivateModule is a Module whose bindings are hidden from the enclosing
// injector except for keys it explicitly exposes (§4.4).
type PrivateModule interface {
	Configure(binder *PrivateBinder)
}

// PrivateModuleFunc adapts a plain func(*PrivateBinder) into a
// PrivateModule.
type PrivateModuleFunc func(binder *PrivateBinder)

func (f PrivateModuleFunc) Configure(binder *PrivateBinder) { f(binder) }

// PrivateBinder is a Binder plus Expose, used inside a PrivateModule.
type PrivateBinder struct {
	*Binder
	exposed []Key
}

// Expose re-exports key to the parent's visible binding set. The key
// continues to be resolved through the private scope's own state (§4.4).
func (pb *PrivateBinder) Expose(key Key) {
	pb.exposed = append(pb.exposed, key)
	pb.stream.add(&exposeElement{src: captureSource(pb.stackMode, 1), key: key})
}

// privateScope is the frozen, built form of a PrivateModule's element
// stream: its own binding table, chained to the enclosing injector as its
// parent, with only the exposed keys copied upward (see injector.go's
// freeze logic).
type privateScope struct {
	injector *Injector
	exposed  map[comparableKey]Key
}
