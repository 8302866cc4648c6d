package drill

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gwillem/drillrig/pkg/rig"
)

// Tick advances the control loop by one step:
//
//  1. Once no piston is pending the rig is Extended.
//  2. While Running, rotor sweep is accumulated and every full revolution
//     extends the first pending piston by one step.
//  3. While Retracting, the rig is Completed once every piston is home.
//
// The display is refreshed and the rotor angle recorded either way. On an
// actuator error the tick stops where it failed and the status is left
// unchanged.
func (c *Controller) Tick(ctx context.Context) error {
	start := time.Now()

	angle, err := c.reg.Rotor.Angle(ctx)
	if err != nil {
		return c.fail(fmt.Errorf("read rotor angle: %w", err))
	}
	c.angle = angle

	switch {
	case c.reg.Group.PendingCount() == 0 && c.status != StatusExtended && c.status != StatusCompleted:
		c.status = StatusExtended

	case c.status == StatusRunning && math.Abs(c.lastAngle-angle) > c.motion.AngleThreshold:
		c.rotorMoved += Sweep(c.lastAngle, angle)
		if c.rotorMoved >= c.motion.Revolution {
			c.rotorMoved = 0
			if err := c.advance(ctx); err != nil {
				return c.fail(err)
			}
		}

	case c.status == StatusRetracting:
		home, err := c.retracted(ctx)
		if err != nil {
			return c.fail(err)
		}
		if home {
			c.status = StatusCompleted
		}
	}

	c.tickTook = time.Since(start)
	if err := c.refresh(); err != nil {
		return fmt.Errorf("write display: %w", err)
	}
	c.lastAngle = angle
	return nil
}

// Sweep returns how far the rotor turned from last to angle, assuming it
// turns forward and crossed zero when angle < last.
func Sweep(last, angle float64) float64 {
	if angle < last {
		return (2*math.Pi - last) + angle
	}
	return angle - last
}

// advance moves fully extended pistons to done and extends the first one
// that is still short of its target.
func (c *Controller) advance(ctx context.Context) error {
	for _, p := range c.reg.Group.Pending() {
		pos, err := p.Position(ctx)
		if err != nil {
			return fmt.Errorf("read piston %s position: %w", p.Name(), err)
		}
		if p.Extended(pos) {
			c.reg.Group.Complete(p)
			c.log("Piston %s extended", p.Name())
			continue
		}
		return c.extend(ctx, p, pos)
	}
	return nil
}

func (c *Controller) extend(ctx context.Context, p *rig.TaggedPiston, pos float64) error {
	switch p.Orientation {
	case rig.Down:
		if err := p.SetVelocity(ctx, c.motion.PistonSpeed); err != nil {
			return fmt.Errorf("set piston %s velocity: %w", p.Name(), err)
		}
		limit := math.Min(pos+c.motion.PistonStep, p.Travel.Max)
		if err := p.SetMaxLimit(ctx, limit); err != nil {
			return fmt.Errorf("set piston %s max limit: %w", p.Name(), err)
		}
	case rig.Up:
		if err := p.SetVelocity(ctx, -c.motion.PistonSpeed); err != nil {
			return fmt.Errorf("set piston %s velocity: %w", p.Name(), err)
		}
		limit := math.Max(pos-c.motion.PistonStep, p.Travel.Min)
		if err := p.SetMinLimit(ctx, limit); err != nil {
			return fmt.Errorf("set piston %s min limit: %w", p.Name(), err)
		}
	}
	return nil
}

func (c *Controller) retracted(ctx context.Context) (bool, error) {
	for _, p := range c.reg.Pistons {
		pos, err := p.Position(ctx)
		if err != nil {
			return false, fmt.Errorf("read piston %s position: %w", p.Name(), err)
		}
		if !p.Retracted(pos) {
			return false, nil
		}
	}
	return true, nil
}

// start unlocks the rotor and runs the drill head. Ignored while retracting.
func (c *Controller) start(ctx context.Context) error {
	if c.status == StatusRetracting {
		return nil
	}
	if err := c.reg.Rotor.SetLocked(ctx, false); err != nil {
		return fmt.Errorf("unlock rotor: %w", err)
	}
	if err := c.reg.Rotor.SetTargetVelocity(ctx, c.motion.RotorSpeed); err != nil {
		return fmt.Errorf("set rotor velocity: %w", err)
	}
	if err := c.setDrillHead(ctx, true); err != nil {
		return err
	}
	c.status = StatusRunning
	return nil
}

// stop locks the rotor and stops the drill head. Ignored while retracting.
func (c *Controller) stop(ctx context.Context) error {
	if c.status == StatusRetracting {
		return nil
	}
	if err := c.reg.Rotor.SetLocked(ctx, true); err != nil {
		return fmt.Errorf("lock rotor: %w", err)
	}
	if err := c.setDrillHead(ctx, false); err != nil {
		return err
	}
	c.status = StatusStopped
	return nil
}

func (c *Controller) setDrillHead(ctx context.Context, enabled bool) error {
	if err := c.reg.Rotor.SetEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("enable rotor: %w", err)
	}
	for _, d := range c.reg.Drills {
		if err := d.SetEnabled(ctx, enabled); err != nil {
			return fmt.Errorf("enable drill %s: %w", d.Name(), err)
		}
	}
	return nil
}

// forceReset stops drilling and sends every piston home.
func (c *Controller) forceReset(ctx context.Context) error {
	if err := c.stop(ctx); err != nil {
		return err
	}
	c.status = StatusRetracting
	c.reg.Group.Reopen()

	for _, p := range c.reg.Group.Pending() {
		home := p.Home()
		velocity := c.motion.PistonSpeed
		if p.Orientation == rig.Down {
			velocity = -velocity
		}
		if err := p.SetVelocity(ctx, velocity); err != nil {
			return fmt.Errorf("set piston %s velocity: %w", p.Name(), err)
		}
		if err := p.SetMaxLimit(ctx, home); err != nil {
			return fmt.Errorf("set piston %s max limit: %w", p.Name(), err)
		}
		if err := p.SetMinLimit(ctx, home); err != nil {
			return fmt.Errorf("set piston %s min limit: %w", p.Name(), err)
		}
	}
	c.log("Retracting %d pistons", c.reg.Group.PendingCount())
	return nil
}
