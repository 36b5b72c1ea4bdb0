package ligature

import (
	"fmt"
	"reflect"
)

// defaultHint is the frozen form of a RegisterDefaultBinding /
// RegisterDefaultProvider element, consulted by synthesizeJIT.
type defaultHint struct {
	targetKey  Key
	isProvider bool
	source     Source
}

// DefaultLinkedBinding is the Go rendering of Guice's @ImplementedBy: a type
// implementing this method carries its own default linked binding, consulted
// by JIT synthesis (§4.6 step 3) when no explicit or RegisterDefaultBinding
// hint exists for it. Discovered via a type-assertion on the raw type, not
// on an injected instance.
type DefaultLinkedBinding interface {
	DefaultBoundTo() Key
}

// DefaultProvidedBinding is the Go rendering of Guice's @ProvidedBy: a type
// implementing this method carries its own default provider-key binding,
// consulted the same way as DefaultLinkedBinding.
type DefaultProvidedBinding interface {
	DefaultProvidedBy() Key
}

// lookupOrSynthesize resolves key to a (*Binding, owning *Injector) pair:
// an explicit binding on this injector, then its parent chain, then (if
// key carries no qualifier, per §4.6 step 2) JIT synthesis — consulting
// any @ImplementedBy/@ProvidedBy-style default hint first, then falling
// back to building an untargetted binding for key's own concrete type.
// A synthesized binding is cached on whichever injector level it was
// produced for, so repeated lookups don't re-synthesize (§4.6 "Graph
// rollback" note below covers the failure path).
func (inj *Injector) lookupOrSynthesize(key Key) (*Binding, *Injector, error) {
	if b, owner, ok := inj.lookupExplicit(key); ok {
		return b, owner, nil
	}

	if key.Qualifier() != nil {
		// A Constant binding is declared against the literal's own type but
		// requested against whatever destination type the injection point
		// names; find a same-qualifier constant under any type and convert
		// it (the Go rendering of Guice's type-converting @Named constant
		// binding — see convert.go).
		if converted, owner, ok := inj.lookupConstantConversion(key); ok {
			return converted, owner, nil
		}
		// A qualified key never gets JIT-synthesized (§4.6 step 2): only
		// the exact annotated binding, a converted constant (above), the
		// Lenient fallback (below), or nothing.
		if fallback, owner, ok := inj.lookupLenientFallback(key); ok {
			return fallback, owner, nil
		}
		return nil, nil, nil
	}

	return inj.synthesizeJIT(key)
}

// lookupExplicit walks this injector and its ancestors for an explicit
// binding on key, and also for a previously-synthesized JIT binding
// (materialized JIT bindings behave like explicit ones for every injector
// that can see them, §4.11).
func (inj *Injector) lookupExplicit(key Key) (*Binding, *Injector, bool) {
	ck := key.comparable()
	for level := inj; level != nil; level = level.parent {
		level.mu.RLock()
		b, ok := level.bindings[ck]
		level.mu.RUnlock()
		if ok {
			return b, level, true
		}
	}
	return nil, nil, false
}

// lookupLenientFallback implements the Lenient MatchPolicy fallback
// (§4.2): an injection point annotated with Q(members...) may resolve
// against a binding declared on Q's bare annotation type when every
// member of Q is at its default and no exact match exists.
func (inj *Injector) lookupLenientFallback(key Key) (*Binding, *Injector, bool) {
	if inj.policy == Strict || key.Qualifier() == nil || !QualifierDefaults(key.Qualifier()) {
		return nil, nil, false
	}
	fallbackKey := key.WithAnnotation(AnnotationType(QualifierType(key.Qualifier())))
	return inj.lookupExplicit(fallbackKey)
}

// lookupConstantConversion finds a Constant binding sharing key's
// qualifier but declared against a different Go type, and converts its
// literal to key's destination type via the injector's converterRegistry
// (§3, §4.3's RegisterTypeConverter; see convert.go).
func (inj *Injector) lookupConstantConversion(key Key) (*Binding, *Injector, bool) {
	for level := inj; level != nil; level = level.parent {
		level.mu.RLock()
		for _, b := range level.bindings {
			if b.kind != kindConstant || !qualifiersEqual(b.Key.Qualifier(), key.Qualifier()) {
				continue
			}
			converted, err := inj.convertValue(b.constantValue, key.Type().Reflect())
			if err != nil {
				continue
			}
			nb := instanceBinding(key, converted)
			nb.Source = b.Source
			level.mu.RUnlock()
			return nb, level, true
		}
		level.mu.RUnlock()
	}
	return nil, nil, false
}

func qualifiersEqual(a, b Qualifier) bool {
	var an, bn any
	if a != nil {
		an = normalizeQualifierKey(a)
	}
	if b != nil {
		bn = normalizeQualifierKey(b)
	}
	return an == bn
}

// synthesizeJIT builds and caches a just-in-time binding for an
// unqualified key that has no explicit binding anywhere in the parent
// chain (§4.6).
//
// Placement follows §4.11: if key is resolvable identically regardless of
// which injector in the chain asked (true for every JIT binding, since
// JIT never consults injector-local state besides the default-hint
// table), it is placed at the topmost injector whose default-hint table
// already agrees, so sibling child injectors share one materialized
// binding instead of each synthesizing their own. In practice that means
// walking to the root and placing it there unless an ancestor's own
// default-hint table would have synthesized something different.
func (inj *Injector) synthesizeJIT(key Key) (*Binding, *Injector, error) {
	owner := inj.jitHome(key)

	owner.jitMu.Lock()
	defer owner.jitMu.Unlock()

	ck := key.comparable()
	owner.mu.RLock()
	if b, ok := owner.bindings[ck]; ok {
		owner.mu.RUnlock()
		return b, owner, nil
	}
	owner.mu.RUnlock()

	binding, err := owner.buildJITBinding(key)
	if err != nil {
		// Graph rollback: nothing was committed to owner.bindings, so a
		// failed synthesis leaves no partial entry behind for the next
		// attempt (e.g. after a module installs a real binding and the
		// caller retries) to trip over.
		return nil, nil, err
	}

	owner.mu.Lock()
	owner.bindings[ck] = binding
	owner.mu.Unlock()
	return binding, owner, nil
}

// jitHome picks which injector level a JIT binding for key should live
// on: the root, unless a default hint for key is registered on a more
// specific (child) level, in which case it belongs there instead so a
// sibling child injector's unrelated default hint can't leak into it.
func (inj *Injector) jitHome(key Key) *Injector {
	ck := key.comparable()
	home := inj
	for level := inj; level != nil; level = level.parent {
		if level.parent == nil {
			home = level
			break
		}
		level.mu.RLock()
		_, hasHint := level.defaults[ck]
		level.mu.RUnlock()
		if hasHint {
			home = level
			break
		}
	}
	return home
}

// typeDefaultHint inspects rt's own method set for a DefaultLinkedBinding or
// DefaultProvidedBinding implementation (§4.6 step 3's type-level default
// hint). It asserts against a pointer to rt's zero value, so both value- and
// pointer-receiver implementations are found; an interface rt has no zero
// value to assert against and so never carries a hint this way (its default,
// if any, must come from an explicit RegisterDefaultBinding/
// RegisterDefaultProvider call instead).
func typeDefaultHint(rt reflect.Type) (Key, bool, bool) {
	if rt.Kind() == reflect.Interface {
		return Key{}, false, false
	}
	zero := reflect.New(rt).Interface()
	if v, ok := zero.(DefaultProvidedBinding); ok {
		return v.DefaultProvidedBy(), true, true
	}
	if v, ok := zero.(DefaultLinkedBinding); ok {
		return v.DefaultBoundTo(), false, true
	}
	return Key{}, false, false
}

// buildJITBinding actually constructs the Binding value for key, without
// touching owner.bindings (the caller commits it once built, so a partial
// in-progress build is never visible to a concurrent lookup).
func (inj *Injector) buildJITBinding(key Key) (*Binding, error) {
	ck := key.comparable()

	inj.mu.RLock()
	hint, hasHint := inj.defaults[ck]
	inj.mu.RUnlock()
	if hasHint {
		if hint.isProvider {
			b := providerKeyBinding(key, hint.targetKey)
			b.Source = hint.source
			return b, nil
		}
		b := linkedBinding(key, hint.targetKey)
		b.Source = hint.source
		return b, nil
	}

	rt := key.Type().Reflect()

	if hintKey, isProvider, ok := typeDefaultHint(rt); ok {
		if isProvider {
			return providerKeyBinding(key, hintKey), nil
		}
		return linkedBinding(key, hintKey), nil
	}

	if rt.Kind() == reflect.Interface {
		return nil, fmt.Errorf("no binding and no default hint for interface type %s; bind it explicitly", rt)
	}
	if inj.requireAtInjectOnConstructors {
		if _, ok := constructorOf(rt); !ok {
			return nil, fmt.Errorf("%s has no constructor marked for injection and requireAtInjectOnConstructors is set", rt)
		}
	}
	b := untargettedBinding(key)
	b.constructorType = rt
	b.Scope = Unscoped
	return b, nil
}
