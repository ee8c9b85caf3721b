package param

import (
	"fmt"
	"strings"

	"vslib-go/errcode"
)

// Param is the type-independent view of a Parameter used by components,
// the registry and the background task.
type Param interface {
	Name() string
	FullName() string
	Owner() *Component
	TypeLabel() string
	Length() int

	// Initialized reports whether the pending (background) slot holds a
	// value that was set successfully.
	Initialized() bool
	// Configured reports whether the active slot holds such a value.
	Configured() bool

	SetJSONValue(raw []byte) *Warning
	SyncWriteBuffer()
	Describe() ParameterInfo

	bind(sw *BufferSwitch)
	swapSlots()
}

// Option configures a parameter at construction.
type Option[T any] func(*options[T])

type options[T any] struct {
	def    T
	hasDef bool
}

// WithDefault seeds both slots with v and marks the parameter initialized.
// A default that violates the parameter's limits is a configuration defect
// and panics.
func WithDefault[T any](v T) Option[T] {
	return func(o *options[T]) {
		o.def = v
		o.hasDef = true
	}
}

// Parameter is a named, typed, double-buffered configuration cell owned by a
// Component. Parameters must not be copied; always use the pointer returned
// by a constructor.
type Parameter[T any] struct {
	name  string
	owner *Component
	sw    *BufferSwitch
	k     kind[T]
	value [2]T
	init  [2]bool
}

func newParameter[T any](c *Component, name string, k kind[T], opts []Option[T]) *Parameter[T] {
	checkName("param.New", name)
	var o options[T]
	for _, opt := range opts {
		opt(&o)
	}
	p := &Parameter[T]{name: name, owner: c, sw: c.sw, k: k}
	if o.hasDef {
		if w := k.check(o.def); w != nil {
			panic(&errcode.E{C: w.C, Op: "param.New", Msg: c.FullName() + "." + name + ": default " + w.Msg})
		}
		p.init = [2]bool{true, true}
	}
	p.value[0] = k.clone(o.def)
	p.value[1] = k.clone(o.def)
	c.addParameter(p)
	return p
}

// NewNumber declares a numeric scalar parameter on c.
func NewNumber[T Number](c *Component, name string, b Bounds[T], opts ...Option[T]) *Parameter[T] {
	return newParameter[T](c, name, &numberKind[T]{info: numberInfo[T](), b: b.b}, opts)
}

// NewBool declares a boolean parameter on c.
func NewBool(c *Component, name string, opts ...Option[bool]) *Parameter[bool] {
	return newParameter[bool](c, name, boolKind{}, opts)
}

// NewString declares a string parameter on c.
func NewString(c *Component, name string, opts ...Option[string]) *Parameter[string] {
	return newParameter[string](c, name, stringKind{}, opts)
}

// NewEnum declares an enumeration parameter on c. The value is the index of
// its name in names; names are matched case-sensitively.
func NewEnum[E Integer](c *Component, name string, names []string, opts ...Option[E]) *Parameter[E] {
	if len(names) == 0 {
		panic(&errcode.E{C: errcode.InvalidName, Op: "param.NewEnum", Msg: name + ": no enumeration names"})
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup || n == "" {
			panic(&errcode.E{C: errcode.InvalidName, Op: "param.NewEnum", Msg: fmt.Sprintf("%s: bad enumeration name %q", name, n)})
		}
		seen[n] = struct{}{}
	}
	return newParameter[E](c, name, &enumKind[E]{names: append([]string(nil), names...)}, opts)
}

// Name returns the parameter name, unique within its component.
func (p *Parameter[T]) Name() string { return p.name }

// FullName returns the dotted name used by the registry and by commands.
func (p *Parameter[T]) FullName() string { return p.owner.FullName() + "." + p.name }

func (p *Parameter[T]) Owner() *Component    { return p.owner }
func (p *Parameter[T]) TypeLabel() string    { return p.k.label() }
func (p *Parameter[T]) Length() int          { return p.k.length() }
func (p *Parameter[T]) Limits() (lo, hi any) { return p.k.limits() }

// Value returns the active value. It never blocks and is the only accessor
// the real-time task may use. Slice values share the active slot and must
// not be modified.
func (p *Parameter[T]) Value() T { return p.value[p.sw.State()] }

// Pending returns the background value, i.e. the value that becomes active
// on the next commit. Verifiers inspect this.
func (p *Parameter[T]) Pending() T { return p.value[p.sw.Background()] }

func (p *Parameter[T]) Initialized() bool { return p.init[p.sw.Background()] }
func (p *Parameter[T]) Configured() bool  { return p.init[p.sw.State()] }

// SetJSONValue decodes raw into the background slot. The active slot is
// never touched. On success the owning component is marked modified.
func (p *Parameter[T]) SetJSONValue(raw []byte) *Warning {
	v, w := decodeJSON(raw)
	if w != nil {
		return w
	}
	x, w := p.k.decode(v)
	if w != nil {
		return w
	}
	p.store(x)
	return nil
}

// Set writes v into the background slot after the same checks SetJSONValue
// applies. It exists for in-process configuration and tests; the value still
// only becomes visible through a commit.
func (p *Parameter[T]) Set(v T) *Warning {
	if w := p.k.check(v); w != nil {
		return w
	}
	p.store(p.k.clone(v))
	return nil
}

func (p *Parameter[T]) store(v T) {
	bg := p.sw.Background()
	p.value[bg] = v
	p.init[bg] = true
	p.owner.markModified()
}

// SyncWriteBuffer copies the active slot into the background slot,
// discarding anything pending.
func (p *Parameter[T]) SyncWriteBuffer() {
	act := p.sw.State()
	bg := act ^ 1
	p.value[bg] = p.k.clone(p.value[act])
	p.init[bg] = p.init[act]
}

// Describe returns the manifest entry for p, reporting the active value.
func (p *Parameter[T]) Describe() ParameterInfo {
	lo, hi := p.k.limits()
	return ParameterInfo{
		Name:     p.name,
		Type:     p.k.label(),
		Length:   p.k.length(),
		Value:    p.k.export(p.Value()),
		Values:   p.k.enumNames(),
		LimitMin: lo,
		LimitMax: hi,
	}
}

func (p *Parameter[T]) String() string { return fmt.Sprintf("%s=%v", p.FullName(), p.Value()) }

func (p *Parameter[T]) bind(sw *BufferSwitch) {
	if p.sw.State() != sw.State() {
		p.swapSlots()
	}
	p.sw = sw
}

func (p *Parameter[T]) swapSlots() {
	p.value[0], p.value[1] = p.value[1], p.value[0]
	p.init[0], p.init[1] = p.init[1], p.init[0]
}

// ---- arrays ----

// Array is a fixed-length numeric array parameter.
type Array[T Number] struct {
	*Parameter[[]T]
}

// NewArray declares an array parameter of exactly n elements on c; b bounds
// every element.
func NewArray[T Number](c *Component, name string, n int, b Bounds[T], opts ...Option[[]T]) *Array[T] {
	if n <= 0 {
		panic(&errcode.E{C: errcode.InvalidLen, Op: "param.NewArray", Msg: fmt.Sprintf("%s: length %d", name, n)})
	}
	return &Array[T]{newParameter[[]T](c, name, &arrayKind[T]{info: numberInfo[T](), b: b.b, n: n}, opts)}
}

// Len returns the fixed array length.
func (a *Array[T]) Len() int { return a.k.length() }

// At returns element i of the active value. An index outside the array is a
// programming error and panics with an errcode.OutOfBounds *errcode.E.
func (a *Array[T]) At(i int) T {
	v := a.Value()
	if i < 0 || i >= len(v) {
		panic(&errcode.E{C: errcode.OutOfBounds, Op: "param.At", Msg: fmt.Sprintf("%s: index %d out of range [0, %d)", a.FullName(), i, len(v))})
	}
	return v[i]
}

// ---- ordering ----

// Ordering is the result of comparing two active values.
type Ordering int8

const (
	Less      Ordering = -1
	Equal     Ordering = 0
	Greater   Ordering = 1
	Unordered Ordering = 2 // at least one operand is NaN
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Equal:
		return "equal"
	case Greater:
		return "greater"
	default:
		return "unordered"
	}
}

func order[T Number](a, b T) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	case a == b:
		return Equal
	default:
		return Unordered
	}
}

// Compare orders the active values of a and b.
func Compare[T Number](a, b *Parameter[T]) Ordering { return order(a.Value(), b.Value()) }

// CompareValue orders the active value of p against v.
func CompareValue[T Number](p *Parameter[T], v T) Ordering { return order(p.Value(), v) }

func checkName(op, name string) {
	if name == "" || strings.ContainsAny(name, ". \t\n") {
		panic(&errcode.E{C: errcode.InvalidName, Op: op, Msg: fmt.Sprintf("invalid name %q", name)})
	}
}
