package ligature

import (
	"fmt"
	"reflect"
)

// TypeRef is a canonical, reified type used as half of a Key's identity.
//
// Go has no autoboxing, so the primitive/wrapper distinction spec.md calls
// out for the host language does not arise here: reflect.Type is already
// canonical for int, string, and friends, and for any composite type built
// from them (reflect.SliceOf/ArrayOf/FuncOf always return the same Type
// value for the same element types, so two independently-constructed
// Provider[T] or []T reflect.Types already compare equal with ==). TypeRef
// is a thin, non-canonicalizing wrapper for that reason; see Key.Equal and
// normalizeQualifierKey for the (distinct) qualifier-folding
// canonicalization Keys still need (comparableKey deliberately does not
// fold).
type TypeRef struct {
	rt reflect.Type
}

// TypeRefOf builds a TypeRef from a reflect.Type.
func TypeRefOf(rt reflect.Type) TypeRef {
	return TypeRef{rt: rt}
}

// TypeRefFor builds a TypeRef for the static type T.
func TypeRefFor[T any]() TypeRef {
	return TypeRefOf(reflect.TypeFor[T]())
}

// Reflect returns the underlying reflect.Type.
func (t TypeRef) Reflect() reflect.Type { return t.rt }

// Valid reports whether the TypeRef carries a type.
func (t TypeRef) Valid() bool { return t.rt != nil }

// String renders the type the way Go's reflect package would.
func (t TypeRef) String() string {
	if t.rt == nil {
		return "<invalid>"
	}
	return t.rt.String()
}

// IsTypeVariable reports whether rt cannot be used, as-is, as part of a
// fully-resolved Key. Go generics are monomorphized by the compiler, so an
// unresolved type parameter never reaches reflect at runtime; this exists
// so that keys built dynamically (e.g. from a type name looked up in a
// registry) can still be rejected the way spec.md §3 requires, rather than
// silently admitting a nil or zero-value Type.
func IsTypeVariable(rt reflect.Type) bool {
	return rt == nil
}

// Qualifier distinguishes bindings that share a TypeRef. Two qualifiers are
// equal iff they have the same concrete Go type and their values compare
// equal with == (all fields, exported or not) — the Go rendering of
// "annotation type + member values".
type Qualifier interface {
	qualifierKey() any
}

// Key is the sole unit of identity used by bindings and lookups:
// (TypeRef, optional Qualifier).
type Key struct {
	typ       TypeRef
	qualifier Qualifier
}

// KeyOf builds an unqualified Key for rt.
func KeyOf(rt reflect.Type) Key {
	if IsTypeVariable(rt) {
		panic(&ConfigurationError{Problems: []Problem{{
			Message: "cannot build a Key from an unresolved type",
		}}})
	}
	return Key{typ: TypeRefOf(rt)}
}

// KeyFor builds an unqualified Key for the static type T.
func KeyFor[T any]() Key {
	return KeyOf(reflect.TypeFor[T]())
}

// WithAnnotation returns a copy of k qualified by q.
func (k Key) WithAnnotation(q Qualifier) Key {
	k.qualifier = q
	return k
}

// OfType returns a copy of k whose TypeRef is replaced, preserving the
// qualifier.
func (k Key) OfType(rt reflect.Type) Key {
	k.typ = TypeRefOf(rt)
	return k
}

// Type returns the Key's TypeRef.
func (k Key) Type() TypeRef { return k.typ }

// Qualifier returns the Key's qualifier, or nil if unqualified.
func (k Key) Qualifier() Qualifier { return k.qualifier }

// ProviderKey returns Key(Provider[T], q) for this key's T and qualifier,
// used to resolve a key's provider-of rather than its value.
func (k Key) ProviderKey() Key {
	return Key{typ: TypeRefOf(providerOf(k.typ.Reflect())), qualifier: k.qualifier}
}

// comparableKey is the hashable projection of a Key used as a binding
// table map key. This is deliberately an exact projection — an
// annotationTypeQualifier and a defaults-only structQualifier of the same
// Go type are two distinct binding table entries, not one — because the
// Lenient/Strict MatchPolicy (§4.2) needs there to be a real difference
// between "the exact binding exists" and "only the fallback exists" for
// Strict to have any effect. The looser structural equality spec.md §8
// describes lives in Key.Equal / normalizeQualifierKey instead.
type comparableKey struct {
	rt  reflect.Type
	ann any
}

func (k Key) comparable() comparableKey {
	var ann any
	if k.qualifier != nil {
		ann = k.qualifier.qualifierKey()
	}
	return comparableKey{rt: k.typ.Reflect(), ann: ann}
}

// normalizeQualifierKey folds a defaults-only structQualifier and an
// annotationTypeQualifier of the same Go type onto the same identity, the
// structural equality spec.md §8 describes (Key(T, Q.class) ==
// Key(T, defaultInstanceOfQ)). Used by Key.Equal and by constant-binding
// qualifier matching (jit.go), not by the binding table lookup itself —
// see comparableKey.
func normalizeQualifierKey(q Qualifier) any {
	if sq, ok := q.(structQualifier); ok && QualifierDefaults(sq) {
		return annotationTypeQualifier{rt: sq.rt}
	}
	return q.qualifierKey()
}

// Equal reports structural equality per spec.md §8: Key(int) == Key(Integer)
// (trivial in Go), Key(T, Q.class) == Key(T, defaultInstanceOfQ).
func (k Key) Equal(other Key) bool {
	if k.typ.Reflect() != other.typ.Reflect() {
		return false
	}
	var a, b any
	if k.qualifier != nil {
		a = normalizeQualifierKey(k.qualifier)
	}
	if other.qualifier != nil {
		b = normalizeQualifierKey(other.qualifier)
	}
	return a == b
}

func (k Key) String() string {
	if k.qualifier == nil {
		return k.typ.String()
	}
	return fmt.Sprintf("%s @%v", k.typ.String(), k.qualifier.qualifierKey())
}

// providerOf returns the canonical shape of a provider of rt: a function
// taking no arguments (constructor-style providers resolve their own
// dependencies) and returning (rt, error).
func providerOf(rt reflect.Type) reflect.Type {
	// A provider of T is modeled as func() (T, error). This is distinct from
	// the Provider type in scope.go, which is the untyped
	// func(context.Context) (any, error) the injector hands out.
	return reflect.FuncOf([]reflect.Type{}, []reflect.Type{rt, errorType}, false)
}

var errorType = reflect.TypeFor[error]()
