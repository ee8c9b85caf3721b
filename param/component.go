package param

import (
	"vslib-go/errcode"
)

// Verifier is implemented by components whose parameters must be checked as
// a group before they may become active. VerifyParameters inspects Pending
// values only and must not mutate anything.
type Verifier interface {
	VerifyParameters() *Warning
}

// Component is a node of the ownership tree. It groups the parameters it
// declares directly and records its children for traversal. Concrete
// components embed *Component and call SetVerifier when they have joint
// invariants.
type Component struct {
	typ      string
	name     string
	parent   *Component
	children []*Component
	params   []Param
	sw       *BufferSwitch
	verifier Verifier

	modified bool // a parameter was written since the last commit/sync
	flip     bool // verified; waiting for the root's global flip
}

// NewComponent creates a component of the given type and attaches it to
// parent. A nil parent leaves it detached until AddChild is called.
func NewComponent(parent *Component, typ, name string) *Component {
	checkName("param.NewComponent", name)
	c := &Component{typ: typ, name: name, sw: NewBufferSwitch()}
	if parent != nil {
		parent.AddChild(c)
	}
	return c
}

func (c *Component) Type() string          { return c.typ }
func (c *Component) Name() string          { return c.name }
func (c *Component) Parent() *Component    { return c.parent }
func (c *Component) Switch() *BufferSwitch { return c.sw }

// FullName is the dotted concatenation of ancestor names and c's own.
func (c *Component) FullName() string {
	if c.parent == nil {
		return c.name
	}
	return c.parent.FullName() + "." + c.name
}

// Children returns the direct children in insertion order.
func (c *Component) Children() []*Component { return append([]*Component(nil), c.children...) }

// Parameters returns the directly declared parameters in declaration order.
func (c *Component) Parameters() []Param { return append([]Param(nil), c.params...) }

// AddChild records child under c. Components are never re-parented, so
// attaching a child twice, or attaching an ancestor, panics.
func (c *Component) AddChild(child *Component) {
	if child.parent != nil {
		panic(&errcode.E{C: errcode.InvalidName, Op: "param.AddChild", Msg: child.FullName() + " already has a parent"})
	}
	for a := c; a != nil; a = a.parent {
		if a == child {
			panic(&errcode.E{C: errcode.InvalidName, Op: "param.AddChild", Msg: child.name + " is an ancestor of " + c.FullName()})
		}
	}
	child.parent = c
	c.children = append(c.children, child)
	child.rebind(c.sw)
}

func (c *Component) rebind(sw *BufferSwitch) {
	for _, p := range c.params {
		p.bind(sw)
	}
	c.sw = sw
	for _, ch := range c.children {
		ch.rebind(sw)
	}
}

func (c *Component) addParameter(p Param) {
	c.params = append(c.params, p)
}

func (c *Component) markModified() { c.modified = true }

// Modified reports whether a parameter was written since the last commit.
func (c *Component) Modified() bool { return c.modified }

// SetVerifier installs the group check run before c's pending values may be
// committed.
func (c *Component) SetVerifier(v Verifier) { c.verifier = v }

// VerifyParameters runs the installed verifier. Components without one have
// no joint invariants.
func (c *Component) VerifyParameters() *Warning {
	if c.verifier == nil {
		return nil
	}
	return c.verifier.VerifyParameters()
}

// ParametersInitialized reports whether every directly declared parameter
// has a pending value that was set successfully.
func (c *Component) ParametersInitialized() bool {
	for _, p := range c.params {
		if !p.Initialized() {
			return false
		}
	}
	return true
}

// Configured reports whether every parameter in the subtree rooted at c has
// an active value that was set successfully.
func (c *Component) Configured() bool {
	for _, p := range c.params {
		if !p.Configured() {
			return false
		}
	}
	for _, ch := range c.children {
		if !ch.Configured() {
			return false
		}
	}
	return true
}

// FlipBufferState declares that c's pending values are verified and may be
// made active. The flip itself is the single global one performed by
// Root.Commit, so all marked components change together; Commit does not
// verify a marked component again.
func (c *Component) FlipBufferState() { c.flip = true }

// FlipPending reports whether c is marked for the next flip.
func (c *Component) FlipPending() bool { return c.flip }

// SynchroniseParameterBuffers copies every active value of c into its
// background slot and clears the pending state.
func (c *Component) SynchroniseParameterBuffers() {
	for _, p := range c.params {
		p.SyncWriteBuffer()
	}
	c.modified = false
	c.flip = false
}

// Walk visits c and its descendants depth-first, parents before children.
func (c *Component) Walk(fn func(*Component)) {
	fn(c)
	for _, ch := range c.children {
		ch.Walk(fn)
	}
}

// Serialize describes c and its subtree with the active parameter values.
func (c *Component) Serialize() ComponentInfo {
	info := ComponentInfo{
		Name:       c.name,
		Type:       c.typ,
		Parameters: make([]ParameterInfo, 0, len(c.params)),
		Components: make([]ComponentInfo, 0, len(c.children)),
	}
	for _, p := range c.params {
		info.Parameters = append(info.Parameters, p.Describe())
	}
	for _, ch := range c.children {
		info.Components = append(info.Components, ch.Serialize())
	}
	return info
}
