package rig

// TaggedPiston is a piston whose orientation was resolved from its name tag.
type TaggedPiston struct {
	Piston
	Orientation Orientation
	Travel      Travel
}

// Target returns the position the piston reaches when fully extended.
func (p *TaggedPiston) Target() float64 {
	if p.Orientation == Up {
		return p.Travel.Min
	}
	return p.Travel.Max
}

// Home returns the position the piston reaches when fully retracted.
func (p *TaggedPiston) Home() float64 {
	if p.Orientation == Up {
		return p.Travel.Max
	}
	return p.Travel.Min
}

// Extended reports whether pos has reached the extension target.
func (p *TaggedPiston) Extended(pos float64) bool {
	if p.Orientation == Up {
		return pos <= p.Travel.Min
	}
	return pos >= p.Travel.Max
}

// Retracted reports whether pos is exactly the home position.
func (p *TaggedPiston) Retracted(pos float64) bool {
	return pos == p.Home()
}

// Group partitions pistons into pending (still extending) and done.
// A piston is never in both sets.
type Group struct {
	pending []*TaggedPiston
	done    []*TaggedPiston
}

// Pending returns a copy of the pending set in insertion order.
func (g *Group) Pending() []*TaggedPiston {
	return append([]*TaggedPiston(nil), g.pending...)
}

// Done returns a copy of the done set in insertion order.
func (g *Group) Done() []*TaggedPiston {
	return append([]*TaggedPiston(nil), g.done...)
}

// PendingCount returns the number of pistons still extending.
func (g *Group) PendingCount() int {
	return len(g.pending)
}

// DoneCount returns the number of fully extended pistons.
func (g *Group) DoneCount() int {
	return len(g.done)
}

// Complete moves p from pending to done. It returns false if p was not
// pending.
func (g *Group) Complete(p *TaggedPiston) bool {
	for i, q := range g.pending {
		if q == p {
			g.pending = append(g.pending[:i], g.pending[i+1:]...)
			g.done = append(g.done, p)
			return true
		}
	}
	return false
}

// Reopen moves every done piston back to the end of the pending set.
func (g *Group) Reopen() {
	g.pending = append(g.pending, g.done...)
	g.done = nil
}
