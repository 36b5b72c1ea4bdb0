package ligature

// OverrideBuilder is returned by Override(base...); call With(overlay...) to
// produce the synthetic override Module (§4.5).
type OverrideBuilder struct {
	base []Module
}

// Override begins an override composition: the bindings in base are kept
// unless an overlay module (supplied to With) binds the same Key, in which
// case the overlay wins.
func Override(base ...Module) *OverrideBuilder {
	return &OverrideBuilder{base: base}
}

// With returns a synthetic Module implementing the composition described in
// §4.5. Evaluation is lazy: base/overlay modules are not run until the
// returned Module is itself installed (typically via NewInjector), so
// mutations to values captured by those modules up to that point are
// observed, per §4.5.
func (ob *OverrideBuilder) With(overlay ...Module) Module {
	return ModuleFunc(func(binder *Binder) {
		overlayBinder := newBinder(binder.stackMode)
		overlayBinder.source = binder.source
		overlayBinder.policy = binder.policy
		for _, m := range overlay {
			overlayBinder.Install(m)
		}

		baseBinder := newBinder(binder.stackMode)
		baseBinder.source = binder.source
		baseBinder.policy = binder.policy
		for _, m := range ob.base {
			baseBinder.Install(m)
		}

		overriddenKeys := make(map[comparableKey]bool)
		overriddenScopes := make(map[ScopeAnnotation]bool)
		for _, e := range overlayBinder.stream.elements {
			switch el := e.(type) {
			case *bindingElement:
				overriddenKeys[el.binding.Key.comparable()] = true
			case *scopeElement:
				overriddenScopes[el.annotated] = true
			}
		}

		// overlay's elements always win and are installed first, so that
		// overlay-only references to base-private-but-exposed keys resolve
		// against base's side (cross-visibility, §4.5 clause 5) once both
		// streams are merged into the same binder.
		for _, e := range overlayBinder.stream.elements {
			binder.stream.add(e)
		}

		for _, e := range baseBinder.stream.elements {
			switch el := e.(type) {
			case *bindingElement:
				if overriddenKeys[el.binding.Key.comparable()] {
					continue // overlay's binding for this Key replaces base's
				}
				binder.stream.add(e)
			case *scopeElement:
				if overriddenScopes[el.annotated] {
					// overlay re-registered this scope annotation: allowed
					// only if base's scope was never actually used to scope
					// a key (§4.5 clause 4 — a used scope is immutable).
					if ts, ok := el.scope.(*trackingScope); ok && ts.wasUsed() {
						binder.AddError("Override: scope %q in base has already scoped a key and cannot be replaced", el.annotated)
					}
					continue
				}
				binder.stream.add(e)
			default:
				binder.stream.add(e)
			}
		}
	})
}
