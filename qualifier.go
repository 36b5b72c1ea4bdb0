package ligature

import "reflect"

// namedQualifier is the built-in qualifier for Named("x"), the Go
// equivalent of Guice's @Named/@Named-by-value binding annotation.
type namedQualifier struct {
	name string
}

func (n namedQualifier) qualifierKey() any { return n }

// Named returns a Qualifier distinguishing bindings of the same type by a
// plain string, the common case that doesn't need a dedicated annotation
// type.
func Named(name string) Qualifier {
	return namedQualifier{name: name}
}

// structQualifier adapts an arbitrary comparable struct value into a
// Qualifier: two qualifiers built from equal struct values are equal, which
// is the Go rendering of "annotation type + member values equal".
//
// The struct must be comparable (no slices/maps/funcs as fields) because
// qualifierKey() is used as a map key; QualifierFrom panics otherwise, the
// Go analogue of spec.md §4.2's "non-runtime-retained qualifier... must be
// rejected at key construction".
type structQualifier struct {
	rt    reflect.Type
	value any
}

func (s structQualifier) qualifierKey() any {
	return struct {
		rt    reflect.Type
		value any
	}{s.rt, s.value}
}

// QualifierFrom builds a Qualifier out of a comparable value, recognizing
// it as a binding annotation the way Guice recognizes an annotation marked
// @Qualifier/@BindingAnnotation at module time.
func QualifierFrom(value any) Qualifier {
	rt := reflect.TypeOf(value)
	if rt == nil {
		panic(&ConfigurationError{Problems: []Problem{{
			Message: "cannot build a Qualifier from a nil value",
		}}})
	}
	if !rt.Comparable() {
		panic(&ConfigurationError{Problems: []Problem{{
			Message: "qualifier type " + rt.String() + " is not comparable and cannot be runtime-retained as a binding annotation",
		}}})
	}
	return structQualifier{rt: rt, value: value}
}

// QualifierDefaults reports whether a Qualifier's declared value equals the
// zero value of its type — i.e. every member is at its default. Used by the
// Lenient matching policy (§4.2) to decide whether an injection point
// annotated with Q(members...) may fall back to a binding on the bare
// annotation type.
func QualifierDefaults(q Qualifier) bool {
	sq, ok := q.(structQualifier)
	if !ok {
		// namedQualifier and other zero-member qualifiers are always
		// "defaults only" since they carry a single discriminating value
		// that IS the binding annotation, not a member of it.
		return true
	}
	zero := reflect.Zero(sq.rt).Interface()
	return sq.value == zero
}

// QualifierType returns the Go type backing q, used to build the
// annotation-type-only fallback key under the Lenient policy.
func QualifierType(q Qualifier) reflect.Type {
	switch v := q.(type) {
	case structQualifier:
		return v.rt
	case namedQualifier:
		return reflect.TypeOf(v)
	default:
		return reflect.TypeOf(q)
	}
}

// annotationTypeQualifier represents "bound on the annotation type alone,
// no particular member values" — what `bind(K).annotatedWith(Q.class)`
// (no instance) produces, and what the Lenient policy falls back to.
type annotationTypeQualifier struct {
	rt reflect.Type
}

func (a annotationTypeQualifier) qualifierKey() any { return a }

// AnnotationType returns a Qualifier equal to QualifierFrom(any default
// instance of the annotation type rt) — Key(T, Q.class) ==
// Key(T, defaultInstanceOfQ) per spec.md §8.
func AnnotationType(rt reflect.Type) Qualifier {
	return annotationTypeQualifier{rt: rt}
}

// MatchPolicy controls how an injection point's qualifier is matched
// against bindings when no exact match exists (§4.2).
type MatchPolicy int

const (
	// Lenient is the default: an injection point annotated with Q(members…)
	// may be satisfied by a binding on Q.class alone if no exact-match
	// binding exists and every member of Q has a default value.
	Lenient MatchPolicy = iota
	// Strict disables the fallback: only exact matches satisfy, even when
	// every member is at its default (spec.md's Open Question, decided
	// here as specified: "no").
	Strict
)
