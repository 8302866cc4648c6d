package rig

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoRotor        = errors.New("no drill head rotor found")
	ErrMultipleRotors = errors.New("more than one drill head rotor found")
)

// Registry is the set of tagged devices the controller works with. It is
// built once and never re-scanned.
type Registry struct {
	Pistons []*TaggedPiston // every tagged piston, in scan order
	Group   *Group
	Rotor   Rotor
	Drills  []Drill
}

// NewRegistry scans the inventory for tagged devices. Pistons already at
// their extension target start out done, all others pending.
func NewRegistry(ctx context.Context, inv Inventory, tags Tags, travel Travel) (*Registry, error) {
	reg := &Registry{Group: &Group{}}

	for _, d := range inv.Drills {
		if strings.Contains(d.Name(), tags.Head) {
			reg.Drills = append(reg.Drills, d)
		}
	}

	for _, r := range inv.Rotors {
		if !strings.Contains(r.Name(), tags.Head) {
			continue
		}
		if reg.Rotor != nil {
			return nil, fmt.Errorf("%w: %q and %q", ErrMultipleRotors, reg.Rotor.Name(), r.Name())
		}
		reg.Rotor = r
	}
	if reg.Rotor == nil {
		return nil, fmt.Errorf("%w (tag %q)", ErrNoRotor, tags.Head)
	}

	for _, p := range inv.Pistons {
		orientation, ok := tags.orientation(p.Name())
		if !ok {
			continue
		}
		tp := &TaggedPiston{Piston: p, Orientation: orientation, Travel: travel}

		pos, err := p.Position(ctx)
		if err != nil {
			return nil, fmt.Errorf("read piston %s position: %w", p.Name(), err)
		}

		reg.Pistons = append(reg.Pistons, tp)
		if tp.Extended(pos) {
			reg.Group.done = append(reg.Group.done, tp)
		} else {
			reg.Group.pending = append(reg.Group.pending, tp)
		}
	}

	return reg, nil
}

func (t Tags) orientation(name string) (Orientation, bool) {
	switch {
	case t.Up != "" && strings.Contains(name, t.Up):
		return Up, true
	case t.Down != "" && strings.Contains(name, t.Down):
		return Down, true
	default:
		return 0, false
	}
}
