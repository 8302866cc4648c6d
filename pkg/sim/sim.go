// Package sim provides an in-memory drilling rig for demos and tests.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gwillem/drillrig/pkg/rig"
)

// Piston moves at its velocity until it meets the travel limit in that
// direction. Positions are clamped exactly to the limits.
type Piston struct {
	name string

	mu       sync.Mutex
	position float64
	velocity float64
	min, max float64
	travel   rig.Travel
}

// NewPiston creates a stationary piston at position with limits open to the
// full travel.
func NewPiston(name string, position float64, travel rig.Travel) *Piston {
	return &Piston{
		name:     name,
		position: position,
		min:      travel.Min,
		max:      travel.Max,
		travel:   travel,
	}
}

func (p *Piston) Name() string { return p.name }

func (p *Piston) Position(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position, nil
}

func (p *Piston) SetVelocity(_ context.Context, v float64) error {
	p.mu.Lock()
	p.velocity = v
	p.mu.Unlock()
	return nil
}

func (p *Piston) SetMinLimit(_ context.Context, v float64) error {
	p.mu.Lock()
	p.min = clamp(v, p.travel.Min, p.travel.Max)
	p.mu.Unlock()
	return nil
}

func (p *Piston) SetMaxLimit(_ context.Context, v float64) error {
	p.mu.Lock()
	p.max = clamp(v, p.travel.Min, p.travel.Max)
	p.mu.Unlock()
	return nil
}

// Velocity returns the commanded velocity.
func (p *Piston) Velocity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.velocity
}

// Limits returns the travel-limit window.
func (p *Piston) Limits() (min, max float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.min, p.max
}

// Step advances the piston by dt.
func (p *Piston) Step(dt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delta := p.velocity * dt.Seconds()
	switch {
	case delta > 0 && p.position < p.max:
		p.position = math.Min(p.position+delta, p.max)
	case delta < 0 && p.position > p.min:
		p.position = math.Max(p.position+delta, p.min)
	}
}

// Rotor turns at its target velocity while enabled and unlocked.
type Rotor struct {
	name string

	mu      sync.Mutex
	angle   float64
	rpm     float64
	locked  bool
	enabled bool
}

// NewRotor creates a locked, disabled rotor at angle.
func NewRotor(name string, angle float64) *Rotor {
	return &Rotor{name: name, angle: wrap(angle), locked: true}
}

func (r *Rotor) Name() string { return r.name }

func (r *Rotor) Angle(context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.angle, nil
}

func (r *Rotor) SetLocked(_ context.Context, locked bool) error {
	r.mu.Lock()
	r.locked = locked
	r.mu.Unlock()
	return nil
}

func (r *Rotor) SetEnabled(_ context.Context, enabled bool) error {
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()
	return nil
}

func (r *Rotor) SetTargetVelocity(_ context.Context, rpm float64) error {
	r.mu.Lock()
	r.rpm = rpm
	r.mu.Unlock()
	return nil
}

// Turning reports whether the rotor is enabled and unlocked.
func (r *Rotor) Turning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled && !r.locked
}

// SetAngle places the rotor at angle, wrapped into [0, 2π).
func (r *Rotor) SetAngle(angle float64) {
	r.mu.Lock()
	r.angle = wrap(angle)
	r.mu.Unlock()
}

// Step advances the rotor by dt.
func (r *Rotor) Step(dt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled || r.locked {
		return
	}
	r.angle = wrap(r.angle + r.rpm*2*math.Pi/60*dt.Seconds())
}

// Drill only tracks its enabled flag.
type Drill struct {
	name string

	mu      sync.Mutex
	enabled bool
}

func NewDrill(name string) *Drill {
	return &Drill{name: name}
}

func (d *Drill) Name() string { return d.name }

func (d *Drill) SetEnabled(_ context.Context, enabled bool) error {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
	return nil
}

func (d *Drill) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Panel is a text display kept in memory.
type Panel struct {
	mu    sync.Mutex
	text  string
	style rig.Style
}

func (p *Panel) WriteText(text string, appendText bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if appendText {
		p.text += text
	} else {
		p.text = text
	}
	return nil
}

func (p *Panel) SetStyle(s rig.Style) {
	p.mu.Lock()
	p.style = s
	p.mu.Unlock()
}

// Text returns what the panel shows.
func (p *Panel) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

// Style returns the panel style.
func (p *Panel) Style() rig.Style {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.style
}

// Construct is a complete simulated rig.
type Construct struct {
	Pistons []*Piston
	Rotor   *Rotor
	Drills  []*Drill
	Panel   *Panel
}

// NewConstruct builds a rig with retracted pistons, a head rotor and
// drills, named with the given tags.
func NewConstruct(cfg rig.SimConfig, tags rig.Tags, travel rig.Travel) *Construct {
	c := &Construct{
		Rotor: NewRotor("Rotor "+tags.Head, 0),
		Panel: &Panel{},
	}
	for i := range cfg.DownPistons {
		c.Pistons = append(c.Pistons, NewPiston(fmt.Sprintf("Piston %s %d", tags.Down, i+1), travel.Min, travel))
	}
	for i := range cfg.UpPistons {
		c.Pistons = append(c.Pistons, NewPiston(fmt.Sprintf("Piston %s %d", tags.Up, i+1), travel.Max, travel))
	}
	for i := range cfg.Drills {
		c.Drills = append(c.Drills, NewDrill(fmt.Sprintf("Drill %s %d", tags.Head, i+1)))
	}
	return c
}

// Inventory lists the construct's devices.
func (c *Construct) Inventory() rig.Inventory {
	inv := rig.Inventory{Rotors: []rig.Rotor{c.Rotor}}
	for _, p := range c.Pistons {
		inv.Pistons = append(inv.Pistons, p)
	}
	for _, d := range c.Drills {
		inv.Drills = append(inv.Drills, d)
	}
	return inv
}

// Step advances every device by dt.
func (c *Construct) Step(dt time.Duration) {
	c.Rotor.Step(dt)
	for _, p := range c.Pistons {
		p.Step(dt)
	}
}

// Run steps the construct every period until ctx is done. scale is the
// number of simulated seconds per wall-clock second.
func (c *Construct) Run(ctx context.Context, period time.Duration, scale float64) {
	if scale <= 0 {
		scale = 1
	}
	dt := time.Duration(float64(period) * scale)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Step(dt)
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func wrap(angle float64) float64 {
	angle = math.Mod(angle, 2*math.Pi)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	return angle
}
