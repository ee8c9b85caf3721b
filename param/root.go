package param

// Root is the top of a component tree. It owns the BufferSwitch shared by
// every parameter below it.
type Root struct {
	*Component
}

// NewRoot creates an empty tree.
func NewRoot(name string) *Root {
	return &Root{Component: NewComponent(nil, "Root", name)}
}

// Result reports what a commit did with one modified component.
type Result struct {
	Component string
	// Committed is set when the component verified and its values are now
	// active.
	Committed bool
	// Held is set when some of the component's parameters are still unset;
	// its pending values stay in the background slot.
	Held bool
	// Warning is the verification failure that rejected the component.
	Warning *Warning
}

// Commit publishes verified pending values.
//
// Every modified or flip-marked component is considered in tree order.
// Components not yet fully initialized are held. A component already marked
// with FlipBufferState is taken as verified. Any other modified component is
// verified: on success it is marked with FlipBufferState, on failure its
// background slots are reset with SynchroniseParameterBuffers. If any
// component carries the mark, the switch flips once; held components have
// their slots exchanged first so their pending values stay pending, and the
// marked components are then re-synchronised so both slots agree, which
// clears the mark.
func (r *Root) Commit() []Result {
	var (
		results []Result
		held    []*Component
	)
	r.Walk(func(c *Component) {
		switch {
		case !c.modified && !c.flip:
			return
		case !c.ParametersInitialized():
			c.flip = false
			held = append(held, c)
			results = append(results, Result{Component: c.FullName(), Held: true})
		case c.flip:
			results = append(results, Result{Component: c.FullName(), Committed: true})
		default:
			if w := c.VerifyParameters(); w != nil {
				c.SynchroniseParameterBuffers()
				results = append(results, Result{Component: c.FullName(), Warning: w})
				return
			}
			c.FlipBufferState()
			results = append(results, Result{Component: c.FullName(), Committed: true})
		}
	})

	var marked []*Component
	r.Walk(func(c *Component) {
		if c.flip {
			marked = append(marked, c)
		}
	})
	if len(marked) == 0 {
		return results
	}

	for _, c := range held {
		for _, p := range c.params {
			p.swapSlots()
		}
	}
	r.sw.Flip()
	for _, c := range marked {
		c.SynchroniseParameterBuffers()
	}
	return results
}
