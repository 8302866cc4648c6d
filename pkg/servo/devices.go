// Package servo drives rig devices through feetech serial-bus servos.
package servo

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/gwillem/drillrig/pkg/rig"
)

// stepsPerRev is the raw resolution of one servo revolution.
const stepsPerRev = 4096

// motor is the part of *feetech.Servo the devices use.
type motor interface {
	Position(ctx context.Context) (int, error)
	SetPositionWithTime(ctx context.Context, position, timeMs int) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

// Piston is a linear actuator driven by a position servo. Velocity and
// limits are emulated: whenever a limit changes, the servo is sent toward
// the limit in the direction of travel, timed to match the velocity.
type Piston struct {
	name  string
	motor motor
	cal   Calibration

	mu       sync.Mutex
	velocity float64
	min, max float64
}

// NewPiston creates a piston with limits open to the full travel.
func NewPiston(name string, m motor, cal Calibration) *Piston {
	return &Piston{
		name:  name,
		motor: m,
		cal:   cal,
		min:   cal.Travel.Min,
		max:   cal.Travel.Max,
	}
}

func (p *Piston) Name() string { return p.name }

func (p *Piston) Position(ctx context.Context) (float64, error) {
	raw, err := p.motor.Position(ctx)
	if err != nil {
		return 0, fmt.Errorf("read position: %w", err)
	}
	return p.cal.ToTravel(raw), nil
}

// SetVelocity only records the speed. The move starts on the next limit
// write, so a stale limit is never driven to.
func (p *Piston) SetVelocity(_ context.Context, v float64) error {
	p.mu.Lock()
	p.velocity = v
	p.mu.Unlock()
	return nil
}

func (p *Piston) SetMinLimit(ctx context.Context, v float64) error {
	p.mu.Lock()
	p.min = v
	p.mu.Unlock()
	return p.drive(ctx)
}

func (p *Piston) SetMaxLimit(ctx context.Context, v float64) error {
	p.mu.Lock()
	p.max = v
	p.mu.Unlock()
	return p.drive(ctx)
}

func (p *Piston) drive(ctx context.Context) error {
	p.mu.Lock()
	velocity, target := p.velocity, p.max
	if velocity < 0 {
		target = p.min
	}
	p.mu.Unlock()

	if velocity == 0 {
		return nil
	}

	pos, err := p.Position(ctx)
	if err != nil {
		return err
	}
	ms := int(math.Abs(target-pos) / math.Abs(velocity) * 1000)
	if err := p.motor.SetPositionWithTime(ctx, p.cal.FromTravel(target), ms); err != nil {
		return fmt.Errorf("move: %w", err)
	}
	return nil
}

// Rotor is the drill head rotor on a servo in multi-turn position mode.
// While enabled and unlocked every angle read pushes the goal a quarter
// turn ahead, timed to the target velocity.
type Rotor struct {
	name  string
	motor motor

	mu      sync.Mutex
	rpm     float64
	locked  bool
	enabled bool
}

// NewRotor creates a locked, disabled rotor.
func NewRotor(name string, m motor) *Rotor {
	return &Rotor{name: name, motor: m, locked: true}
}

func (r *Rotor) Name() string { return r.name }

func (r *Rotor) Angle(ctx context.Context) (float64, error) {
	raw, err := r.motor.Position(ctx)
	if err != nil {
		return 0, fmt.Errorf("read position: %w", err)
	}
	steps := ((raw % stepsPerRev) + stepsPerRev) % stepsPerRev
	angle := float64(steps) / stepsPerRev * 2 * math.Pi

	r.mu.Lock()
	turning, rpm := r.enabled && !r.locked && r.rpm > 0, r.rpm
	r.mu.Unlock()

	if turning {
		// a quarter turn takes 15s/rpm
		ms := int(15000 / rpm)
		if err := r.motor.SetPositionWithTime(ctx, raw+stepsPerRev/4, ms); err != nil {
			return angle, fmt.Errorf("advance: %w", err)
		}
	}
	return angle, nil
}

func (r *Rotor) SetLocked(ctx context.Context, locked bool) error {
	r.mu.Lock()
	r.locked = locked
	r.mu.Unlock()
	if !locked {
		return nil
	}
	return r.hold(ctx)
}

func (r *Rotor) SetEnabled(ctx context.Context, enabled bool) error {
	r.mu.Lock()
	r.enabled = enabled
	locked := r.locked
	r.mu.Unlock()

	switch {
	case enabled:
		return r.motor.Enable(ctx)
	case locked:
		return nil
	default:
		return r.motor.Disable(ctx)
	}
}

func (r *Rotor) SetTargetVelocity(_ context.Context, rpm float64) error {
	r.mu.Lock()
	r.rpm = rpm
	r.mu.Unlock()
	return nil
}

// hold keeps the rotor where it is with torque on.
func (r *Rotor) hold(ctx context.Context) error {
	if err := r.motor.Enable(ctx); err != nil {
		return fmt.Errorf("enable torque: %w", err)
	}
	raw, err := r.motor.Position(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if err := r.motor.SetPositionWithTime(ctx, raw, 0); err != nil {
		return fmt.Errorf("hold: %w", err)
	}
	return nil
}

// Drill is a spindle switched by servo torque.
type Drill struct {
	name  string
	motor motor
}

func NewDrill(name string, m motor) *Drill {
	return &Drill{name: name, motor: m}
}

func (d *Drill) Name() string { return d.name }

func (d *Drill) SetEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		return d.motor.Enable(ctx)
	}
	return d.motor.Disable(ctx)
}

var (
	_ rig.Piston = (*Piston)(nil)
	_ rig.Rotor  = (*Rotor)(nil)
	_ rig.Drill  = (*Drill)(nil)
)
