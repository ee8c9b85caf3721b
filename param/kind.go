package param

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"

	"vslib-go/errcode"
)

// Number is the set of scalar types that carry limits.
type Number interface {
	constraints.Integer | constraints.Float
}

// Integer is the set of types usable as enumeration values.
type Integer interface {
	constraints.Integer
}

// category is the numeric class of a Go type or a JSON literal.
type category uint8

const (
	catUnsigned category = iota
	catSigned
	catFloat
)

func (c category) String() string {
	switch c {
	case catUnsigned:
		return "unsigned integer"
	case catSigned:
		return "signed integer"
	default:
		return "floating point"
	}
}

// accepts reports whether a JSON literal of class lit may be stored in a
// value of class c without changing its meaning.
func (c category) accepts(lit category) bool {
	switch c {
	case catUnsigned:
		return lit == catUnsigned
	case catSigned:
		return lit == catUnsigned || lit == catSigned
	default:
		return true
	}
}

// literalCategory classifies a JSON number literal.
func literalCategory(n json.Number) category {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		return catFloat
	}
	if strings.HasPrefix(s, "-") {
		return catSigned
	}
	return catUnsigned
}

// numInfo describes a numeric Go type.
type numInfo struct {
	cat   category
	bits  int
	label string
}

func numberInfo[T Number]() numInfo {
	t := reflect.TypeFor[T]()
	bits := t.Bits()
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return numInfo{cat: catSigned, bits: bits, label: "Int" + strconv.Itoa(bits)}
	case reflect.Float32, reflect.Float64:
		return numInfo{cat: catFloat, bits: bits, label: "Float" + strconv.Itoa(bits)}
	default:
		return numInfo{cat: catUnsigned, bits: bits, label: "UInt" + strconv.Itoa(bits)}
	}
}

// kind is the capability set behind a Parameter[T]: how a JSON value is
// decoded and checked, how values are copied and how they are described.
type kind[T any] interface {
	label() string
	length() int
	decode(v any) (T, *Warning)
	check(v T) *Warning
	clone(v T) T
	export(v T) any
	limits() (lo, hi any)
	enumNames() []string
}

// decodeJSON performs the structural decode shared by every kind. Numbers
// are kept as json.Number so their literal class can be inspected.
func decodeJSON(raw []byte) (any, *Warning) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, Warnf(errcode.DecodeFailed, "failed to decode value: %v", err)
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, Warnf(errcode.DecodeFailed, "failed to decode value: trailing data after JSON value")
	}
	return v, nil
}

// jsonKind names the JSON type of a decoded value for diagnostics.
func jsonKind(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case json.Number:
		return literalCategory(x).String()
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ---- numbers ----

type bounds[T Number] struct {
	lo, hi       T
	hasLo, hasHi bool
}

// Bounds are the optional inclusive limits of a numeric parameter.
type Bounds[T Number] struct {
	b bounds[T]
}

// Limits bounds a parameter to [lo, hi].
func Limits[T Number](lo, hi T) Bounds[T] {
	if hi < lo {
		panic(&errcode.E{C: errcode.InvalidLimits, Op: "param.Limits", Msg: fmt.Sprintf("min %v > max %v", lo, hi)})
	}
	return Bounds[T]{b: bounds[T]{lo: lo, hi: hi, hasLo: true, hasHi: true}}
}

// AtLeast bounds a parameter from below only.
func AtLeast[T Number](lo T) Bounds[T] { return Bounds[T]{b: bounds[T]{lo: lo, hasLo: true}} }

// AtMost bounds a parameter from above only.
func AtMost[T Number](hi T) Bounds[T] { return Bounds[T]{b: bounds[T]{hi: hi, hasHi: true}} }

// Unbounded leaves a parameter without limits.
func Unbounded[T Number]() Bounds[T] { return Bounds[T]{} }

func (b bounds[T]) check(v T, where string) *Warning {
	switch {
	case b.hasLo && b.hasHi && (v < b.lo || v > b.hi):
		return Warnf(errcode.OutOfLimits, "provided value%s: %v is outside the limits: %v, %v", where, v, b.lo, b.hi)
	case b.hasLo && !b.hasHi && v < b.lo:
		return Warnf(errcode.OutOfLimits, "provided value%s: %v is below the minimum limit: %v", where, v, b.lo)
	case b.hasHi && !b.hasLo && v > b.hi:
		return Warnf(errcode.OutOfLimits, "provided value%s: %v is above the maximum limit: %v", where, v, b.hi)
	}
	// NaN fails every ordered comparison; keep it out of bounded parameters.
	if (b.hasLo || b.hasHi) && v != v {
		return Warnf(errcode.OutOfLimits, "provided value%s: NaN is not comparable with the limits", where)
	}
	return nil
}

func (b bounds[T]) export() (lo, hi any) {
	if b.hasLo {
		lo = b.lo
	}
	if b.hasHi {
		hi = b.hi
	}
	return lo, hi
}

// parseNumber converts one decoded JSON value into T, enforcing the literal
// class and the width of T.
func parseNumber[T Number](info numInfo, v any, where string) (T, *Warning) {
	var zero T
	n, ok := v.(json.Number)
	if !ok {
		return zero, Warnf(errcode.TypeMismatch, "provided value%s is a %s, expected %s", where, jsonKind(v), info.cat)
	}
	lit := literalCategory(n)
	if !info.cat.accepts(lit) {
		return zero, Warnf(errcode.TypeMismatch, "provided value%s: %s is a %s, expected %s", where, n, lit, info.cat)
	}
	switch info.cat {
	case catFloat:
		f, err := strconv.ParseFloat(n.String(), info.bits)
		if err != nil {
			return zero, Warnf(errcode.DecodeFailed, "failed to decode value%s: %v", where, err)
		}
		return T(f), nil
	case catSigned:
		i, err := strconv.ParseInt(n.String(), 10, info.bits)
		if err != nil {
			return zero, Warnf(errcode.DecodeFailed, "failed to decode value%s: %v", where, err)
		}
		return T(i), nil
	default:
		u, err := strconv.ParseUint(n.String(), 10, info.bits)
		if err != nil {
			return zero, Warnf(errcode.DecodeFailed, "failed to decode value%s: %v", where, err)
		}
		return T(u), nil
	}
}

type numberKind[T Number] struct {
	info numInfo
	b    bounds[T]
}

func (k *numberKind[T]) label() string { return k.info.label }
func (k *numberKind[T]) length() int   { return 1 }

func (k *numberKind[T]) decode(v any) (T, *Warning) {
	x, w := parseNumber[T](k.info, v, "")
	if w != nil {
		return x, w
	}
	return x, k.check(x)
}

func (k *numberKind[T]) check(v T) *Warning   { return k.b.check(v, "") }
func (k *numberKind[T]) clone(v T) T          { return v }
func (k *numberKind[T]) export(v T) any       { return v }
func (k *numberKind[T]) limits() (lo, hi any) { return k.b.export() }
func (k *numberKind[T]) enumNames() []string  { return nil }

// ---- fixed-length arrays ----

type arrayKind[T Number] struct {
	info numInfo
	b    bounds[T]
	n    int
}

func (k *arrayKind[T]) label() string { return "Array" + k.info.label }
func (k *arrayKind[T]) length() int   { return k.n }

func (k *arrayKind[T]) decode(v any) ([]T, *Warning) {
	a, ok := v.([]any)
	if !ok {
		return nil, Warnf(errcode.TypeMismatch, "provided value is a %s, expected an array of %d %s values", jsonKind(v), k.n, k.info.cat)
	}
	if len(a) != k.n {
		return nil, Warnf(errcode.InvalidLen, "provided array has %d elements, expected %d", len(a), k.n)
	}
	out := make([]T, k.n)
	for i, e := range a {
		x, w := parseNumber[T](k.info, e, " at index "+strconv.Itoa(i))
		if w != nil {
			return nil, w
		}
		out[i] = x
	}
	return out, k.check(out)
}

func (k *arrayKind[T]) check(v []T) *Warning {
	if len(v) != k.n {
		return Warnf(errcode.InvalidLen, "array has %d elements, expected %d", len(v), k.n)
	}
	for i, x := range v {
		if w := k.b.check(x, " at index "+strconv.Itoa(i)); w != nil {
			return w
		}
	}
	return nil
}

func (k *arrayKind[T]) clone(v []T) []T {
	out := make([]T, k.n)
	copy(out, v)
	return out
}

func (k *arrayKind[T]) export(v []T) any     { return k.clone(v) }
func (k *arrayKind[T]) limits() (lo, hi any) { return k.b.export() }
func (k *arrayKind[T]) enumNames() []string  { return nil }

// ---- booleans and strings ----

type boolKind struct{}

func (boolKind) label() string { return "Bool" }
func (boolKind) length() int   { return 1 }

func (boolKind) decode(v any) (bool, *Warning) {
	b, ok := v.(bool)
	if !ok {
		return false, Warnf(errcode.TypeMismatch, "provided value is a %s, expected boolean", jsonKind(v))
	}
	return b, nil
}

func (boolKind) check(bool) *Warning  { return nil }
func (boolKind) clone(v bool) bool    { return v }
func (boolKind) export(v bool) any    { return v }
func (boolKind) limits() (lo, hi any) { return nil, nil }
func (boolKind) enumNames() []string  { return nil }

type stringKind struct{}

func (stringKind) label() string { return "String" }
func (stringKind) length() int   { return 1 }

func (stringKind) decode(v any) (string, *Warning) {
	s, ok := v.(string)
	if !ok {
		return "", Warnf(errcode.TypeMismatch, "provided value is a %s, expected string", jsonKind(v))
	}
	return s, nil
}

func (stringKind) check(string) *Warning { return nil }
func (stringKind) clone(v string) string { return v }
func (stringKind) export(v string) any   { return v }
func (stringKind) limits() (lo, hi any)  { return nil, nil }
func (stringKind) enumNames() []string   { return nil }

// ---- enumerations ----

type enumKind[E Integer] struct {
	names []string
}

func (k *enumKind[E]) label() string { return "Enum" }
func (k *enumKind[E]) length() int   { return 1 }

func (k *enumKind[E]) decode(v any) (E, *Warning) {
	s, ok := v.(string)
	if !ok {
		return 0, Warnf(errcode.TypeMismatch, "provided value is a %s, expected one of: %s", jsonKind(v), strings.Join(k.names, ", "))
	}
	for i, n := range k.names {
		if n == s {
			return E(i), nil
		}
	}
	return 0, Warnf(errcode.InvalidEnum, "provided enum value: %s is not one of: %s", s, strings.Join(k.names, ", "))
}

func (k *enumKind[E]) check(v E) *Warning {
	if int64(v) < 0 || int64(v) >= int64(len(k.names)) {
		return Warnf(errcode.InvalidEnum, "enum value %d has no name", int64(v))
	}
	return nil
}

func (k *enumKind[E]) clone(v E) E { return v }

func (k *enumKind[E]) export(v E) any {
	if k.check(v) != nil {
		return ""
	}
	return k.names[int(v)]
}

func (k *enumKind[E]) limits() (lo, hi any) { return nil, nil }
func (k *enumKind[E]) enumNames() []string  { return k.names }
