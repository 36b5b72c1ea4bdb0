package ligature

import (
	"fmt"
	"reflect"
	"strconv"
)

// TypeConverter converts a Constant binding's literal value into a
// destination type matched by the predicate it was registered under (§3,
// §4.3's RegisterTypeConverter).
type TypeConverter interface {
	Convert(value any, target reflect.Type) (any, error)
}

// TypeConverterFunc adapts a plain function into a TypeConverter.
type TypeConverterFunc func(value any, target reflect.Type) (any, error)

func (f TypeConverterFunc) Convert(value any, target reflect.Type) (any, error) { return f(value, target) }

// converterRegistry holds the converters a Binder accumulated, consulted
// when a Constant binding is requested as a non-matching destination type.
type converterRegistry struct {
	entries []converterEntry
}

type converterEntry struct {
	predicate func(reflect.Type) bool
	converter TypeConverter
}

func (r *converterRegistry) register(predicate func(reflect.Type) bool, converter TypeConverter) {
	r.entries = append(r.entries, converterEntry{predicate: predicate, converter: converter})
}

// convert renders value (of its concrete declared type) as target, trying
// direct assignability first, then the registered converters, then the
// built-in string-to-primitive conversions every Constant binding gets for
// free (mirroring Guice's built-in OSGi-less constant converters).
func (r *converterRegistry) convert(value any, target reflect.Type) (any, error) {
	rv := reflect.ValueOf(value)
	if rv.IsValid() && rv.Type().AssignableTo(target) {
		return value, nil
	}
	if rv.IsValid() && rv.Type().ConvertibleTo(target) && isNumericKind(rv.Kind()) && isNumericKind(target.Kind()) {
		return rv.Convert(target).Interface(), nil
	}
	for _, e := range r.entries {
		if e.predicate(target) {
			return e.converter.Convert(value, target)
		}
	}
	if s, ok := value.(string); ok {
		if v, err := convertBuiltinString(s, target); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no type converter registered to convert %T to %s", value, target)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// convertBuiltinString covers the common case of a string constant
// destined for a primitive-typed field, the same convenience Guice's
// built-in converters offer for @Named string constants.
func convertBuiltinString(s string, target reflect.Type) (any, error) {
	switch target.Kind() {
	case reflect.String:
		return s, nil
	case reflect.Bool:
		return strconv.ParseBool(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(n).Convert(target).Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(n).Convert(target).Interface(), nil
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(n).Convert(target).Interface(), nil
	default:
		return nil, fmt.Errorf("no built-in string conversion to %s", target)
	}
}
