package ligature

// CreateChildInjector builds a child Injector whose modules are processed
// against a fresh Binder, then merged under this Injector as parent
// (§4.11): the child sees every explicit and already-materialized JIT
// binding of its ancestors, may freely add new bindings of its own, but
// may not rebind a Key its parent already bound explicitly, and may not
// replace a JIT binding its parent already materialized (both caught
// during freeze as duplicate-binding problems against the merged view).
func (inj *Injector) CreateChildInjector(modules ...Module) (*Injector, error) {
	opts := inj.childOptions()
	child, err := newInjectorLevel(modules, opts, inj)
	if err != nil {
		return nil, err
	}
	return child, nil
}

// childOptions carries forward everything a child injector inherits from
// its parent by default: scopes, build flags, and the weaving capability,
// per §4.11 ("scopes/converters/interceptors inherited from parent").
// Converters and interceptors aren't threaded through here: each level
// owns its own registry, and convertValue/matchingInterceptors walk the
// parent chain at lookup time instead (see injector.go).
func (inj *Injector) childOptions() []InjectorOption {
	opts := []InjectorOption{
		withInheritedScopes(inj.scopes),
		WithStage(inj.stage),
		withStackTraceModeOption(inj.stackMode),
		withMatchPolicyOption(inj.policy),
		withInheritedWeaver(inj.weaver),
	}
	if inj.requireAtInjectOnConstructors {
		opts = append(opts, WithRequireAtInjectOnConstructors())
	}
	if inj.disableCircularProxies {
		opts = append(opts, WithCircularProxiesDisabled())
	}
	return opts
}

// GetParent returns the parent injector, or nil for a root injector
// (§6).
func (inj *Injector) GetParent() *Injector { return inj.parent }

// duplicateExplicitInAncestor reports whether key already has an explicit
// or already-materialized JIT binding on parent or one of its ancestors
// (lookupExplicit sees both) — used while
// freezing a child's element stream to reject an attempt to rebind a key
// the parent already owns (§4.11).
func duplicateExplicitInAncestor(parent *Injector, key Key) (Source, bool) {
	if parent == nil {
		return Source{}, false
	}
	if b, owner, ok := parent.lookupExplicit(key); ok && owner != nil {
		return b.Source, true
	}
	return Source{}, false
}
