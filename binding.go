package ligature

import (
	"context"
	"reflect"
)

// bindingKind tags which of the §3 binding variants a Binding carries.
type bindingKind int

const (
	kindInstance bindingKind = iota
	kindLinked
	kindProviderInstance
	kindProviderKey
	kindConstructor
	kindConstant
	kindUntargetted
	kindExposed
)

func (k bindingKind) String() string {
	switch k {
	case kindInstance:
		return "instance"
	case kindLinked:
		return "linked"
	case kindProviderInstance:
		return "providerInstance"
	case kindProviderKey:
		return "providerKey"
	case kindConstructor:
		return "constructor"
	case kindConstant:
		return "constant"
	case kindUntargetted:
		return "untargetted"
	case kindExposed:
		return "exposed"
	default:
		return "unknown"
	}
}

// ScopeAnnotation names a scope the way a binding's `.In(...)` refers to it:
// either one of the built-ins (Unscoped/Singleton/EagerSingleton) or a
// custom annotation bound via RegisterScope.
type ScopeAnnotation string

const (
	Unscoped       ScopeAnnotation = ""
	Singleton      ScopeAnnotation = "ligature.Singleton"
	EagerSingleton ScopeAnnotation = "ligature.EagerSingleton"
)

// Binding is a tagged variant over the §3 binding kinds. Each kind only
// populates the fields relevant to it; the injector dispatches on kind when
// provisioning (see provision.go).
type Binding struct {
	Key    Key
	Source Source
	Scope  ScopeAnnotation

	kind bindingKind

	// kindInstance / kindProviderInstance
	instance any

	// kindLinked / kindProviderKey
	targetKey Key

	// kindProviderInstance
	providerFunc func(ctx context.Context) (any, error)

	// kindConstructor / kindUntargetted
	constructorType reflect.Type // concrete type to construct

	// kindConstant
	constantValue any

	// kindExposed: the private scope this binding is re-exported from.
	exposedFrom *privateScope

	// contextualProvider, if set, overrides providerFunc with a function
	// that additionally receives ProvisioningContext (§4.10).
	contextualProvider func(ctx context.Context, pc ProvisioningContext) (any, error)
}

// Kind-describing predicates used by the resolver; kept unexported since
// callers interact with Binding only through BindingView (read-only, §6).

func (b *Binding) isUntargetted() bool { return b.kind == kindUntargetted }

// BindingView is the read-only public projection of a Binding returned by
// Injector.GetBinding / GetAllBindings (§6).
type BindingView struct {
	Key    Key
	Source Source
	Scope  ScopeAnnotation
}

func viewOf(b *Binding) BindingView {
	return BindingView{Key: b.Key, Source: b.Source, Scope: b.Scope}
}

// ProvisioningContext is handed to a contextual provider at each call: the
// Key being resolved and, when the request originated from a struct field
// or constructor parameter, which one and its declared qualifier (§4.10).
type ProvisioningContext struct {
	Key         Key
	MemberName  string // field or parameter name, "" for a bare getInstance
	MemberIndex int    // parameter index, -1 when not applicable
	Qualifier   Qualifier
}

// instanceBinding builds a Binding for a pre-built value (members injected
// once at configuration time by the caller before Instance is used).
func instanceBinding(key Key, value any) *Binding {
	return &Binding{Key: key, kind: kindInstance, instance: value, Scope: Unscoped}
}

// linkedBinding builds a Binding that delegates resolution to another Key.
func linkedBinding(key, target Key) *Binding {
	return &Binding{Key: key, kind: kindLinked, targetKey: target}
}

// providerInstanceBinding builds a Binding around a user-supplied
// get()-capable function.
func providerInstanceBinding(key Key, fn func(ctx context.Context) (any, error)) *Binding {
	return &Binding{Key: key, kind: kindProviderInstance, providerFunc: fn}
}

// providerKeyBinding builds a Binding whose provisioning is delegated to
// the Key of a provider.
func providerKeyBinding(key, providerKey Key) *Binding {
	return &Binding{Key: key, kind: kindProviderKey, targetKey: providerKey}
}

// constructorBinding builds an explicit constructor binding for a concrete
// type.
func constructorBinding(key Key, concrete reflect.Type) *Binding {
	return &Binding{Key: key, kind: kindConstructor, constructorType: concrete}
}

// constantBinding builds a Binding for a literal eligible for conversion to
// any declared destination type (§3, §4.3 BindConstant).
func constantBinding(key Key, value any) *Binding {
	return &Binding{Key: key, kind: kindConstant, constantValue: value, Scope: Unscoped}
}

// untargettedBinding builds a name-only declaration requesting an
// injectable-constructor lookup at JIT time.
func untargettedBinding(key Key) *Binding {
	return &Binding{Key: key, kind: kindUntargetted}
}
