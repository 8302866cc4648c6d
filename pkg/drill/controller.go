// Package drill provides the drilling rig control loop.
package drill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/drillrig/pkg/rig"
)

var ErrNoDisplay = errors.New("no display")

// maxEcho is the number of echoed lines kept at the top of the display.
const maxEcho = 8

// PistonState is a telemetry reading of a single piston.
type PistonState struct {
	Name        string          `json:"name"`
	Orientation rig.Orientation `json:"orientation"`
	Position    float64         `json:"position"`
	Done        bool            `json:"done"`
}

// State is a snapshot of the rig published after every tick or command.
type State struct {
	Status     Status        `json:"status"`
	Pending    int           `json:"pending"`
	Done       int           `json:"done"`
	RotorMoved float64       `json:"rotor_moved"`
	LastAngle  float64       `json:"last_angle"`
	Angle      float64       `json:"angle"`
	TickTook   time.Duration `json:"tick_took"`
	Pistons    []PistonState `json:"pistons"`
	Timestamp  time.Time     `json:"timestamp"`
	Error      error         `json:"-"`
}

// Controller sequences piston extension against rotor revolutions. All rig
// state is owned by whichever goroutine calls Tick and HandleCommand; Start
// does both from a single loop.
type Controller struct {
	reg      *rig.Registry
	display  rig.Display
	motion   rig.Motion
	interval time.Duration

	status     Status
	rotorMoved float64
	lastAngle  float64
	angle      float64
	tickTook   time.Duration
	echo       []string

	mu      sync.Mutex
	running bool
	cmdCh   chan Command
	stateCh chan State
	subs    []chan State
	logCh   chan string
}

// Config holds configuration for the controller.
type Config struct {
	Inventory rig.Inventory
	Display   rig.Display
	Rig       *rig.Config
}

// NewController scans the inventory and creates a stopped controller.
func NewController(ctx context.Context, cfg Config) (*Controller, error) {
	if cfg.Display == nil {
		return nil, ErrNoDisplay
	}
	rc := cfg.Rig
	if rc == nil {
		rc = rig.DefaultConfig()
	}

	reg, err := rig.NewRegistry(ctx, cfg.Inventory, rc.Tags, rc.Travel)
	if err != nil {
		return nil, fmt.Errorf("scan devices: %w", err)
	}

	angle, err := reg.Rotor.Angle(ctx)
	if err != nil {
		return nil, fmt.Errorf("read rotor angle: %w", err)
	}

	if styled, ok := cfg.Display.(rig.Styled); ok {
		styled.SetStyle(rc.Style)
	}

	c := &Controller{
		reg:       reg,
		display:   cfg.Display,
		motion:    rc.Motion,
		interval:  rc.TickInterval(),
		status:    StatusStopped,
		lastAngle: angle,
		angle:     angle,
		cmdCh:     make(chan Command, 8),
		stateCh:   make(chan State, 1),
		logCh:     make(chan string, 10),
	}
	c.echof("Drill head online: %d pistons, %d drills", len(reg.Pistons), len(reg.Drills))

	if err := c.refresh(); err != nil {
		return nil, fmt.Errorf("write display: %w", err)
	}
	return c, nil
}

// Status returns the current rig phase.
func (c *Controller) Status() Status {
	return c.status
}

// Registry returns the devices the controller drives.
func (c *Controller) Registry() *rig.Registry {
	return c.reg
}

// Interval returns the control loop period.
func (c *Controller) Interval() time.Duration {
	return c.interval
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Subscribe returns an additional channel that receives state updates.
func (c *Controller) Subscribe() <-chan State {
	ch := make(chan State, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Send queues a command for the control loop. It returns false if the
// queue is full.
func (c *Controller) Send(cmd Command) bool {
	select {
	case c.cmdCh <- cmd:
		return true
	default:
		return false
	}
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// echof adds a line to the log shown at the top of the display.
func (c *Controller) echof(format string, args ...any) {
	c.echo = append(c.echo, fmt.Sprintf(format, args...))
	if len(c.echo) > maxEcho {
		c.echo = c.echo[len(c.echo)-maxEcho:]
	}
}

// HandleCommand applies cmd and refreshes the display. Unknown commands
// only refresh the display.
func (c *Controller) HandleCommand(ctx context.Context, cmd Command) error {
	if h, ok := handlers[cmd]; ok {
		if err := h.Run(c, ctx); err != nil {
			return c.fail(fmt.Errorf("command %s: %w", cmd, err))
		}
	}

	angle, err := c.reg.Rotor.Angle(ctx)
	if err != nil {
		return c.fail(fmt.Errorf("read rotor angle: %w", err))
	}
	c.angle = angle

	if err := c.refresh(); err != nil {
		return fmt.Errorf("write display: %w", err)
	}
	return nil
}

// fail echoes err to the display and returns it.
func (c *Controller) fail(err error) error {
	c.echof("Exception: %v", err)
	if werr := c.refresh(); werr != nil {
		c.log("Warning: failed to write display: %v", werr)
	}
	return err
}

// Start runs the control loop until ctx is done. Commands queued with Send
// are applied between ticks.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()

	c.log("Drill rig started: %d pending, %d extended, tick %s",
		c.reg.Group.PendingCount(), c.reg.Group.DoneCount(), c.interval)
	c.publish(ctx, nil)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case cmd := <-c.cmdCh:
			prev := c.status
			err := c.HandleCommand(ctx, cmd)
			if err != nil {
				c.log("Command %s failed: %v", cmd, err)
			} else if c.status != prev {
				c.log("Command %s: %s -> %s", cmd, prev, c.status)
			}
			c.publish(ctx, err)
		case <-ticker.C:
			prev := c.status
			err := c.Tick(ctx)
			if err != nil {
				c.log("Tick error: %v", err)
			} else if c.status != prev {
				c.log("Status %s -> %s", prev, c.status)
			}
			c.publish(ctx, err)
		}
	}
}

func (c *Controller) publish(ctx context.Context, err error) {
	s := c.Snapshot(ctx)
	if err != nil {
		// the rig keeps its phase, only this snapshot reports the failure
		s.Status = StatusError
		s.Error = err
	}
	sendState(c.stateCh, s)

	c.mu.Lock()
	subs := c.subs
	c.mu.Unlock()
	for _, ch := range subs {
		sendState(ch, s)
	}
}

// Snapshot reads piston telemetry and returns the current state.
func (c *Controller) Snapshot(ctx context.Context) State {
	s := State{
		Status:     c.status,
		Pending:    c.reg.Group.PendingCount(),
		Done:       c.reg.Group.DoneCount(),
		RotorMoved: c.rotorMoved,
		LastAngle:  c.lastAngle,
		Angle:      c.angle,
		TickTook:   c.tickTook,
		Timestamp:  time.Now(),
	}

	done := make(map[*rig.TaggedPiston]bool, s.Done)
	for _, p := range c.reg.Group.Done() {
		done[p] = true
	}
	for _, p := range c.reg.Pistons {
		pos, err := p.Position(ctx)
		if err != nil {
			s.Error = fmt.Errorf("read piston %s position: %w", p.Name(), err)
			continue
		}
		s.Pistons = append(s.Pistons, PistonState{
			Name:        p.Name(),
			Orientation: p.Orientation,
			Position:    pos,
			Done:        done[p],
		})
	}
	return s
}

func sendState(ch chan State, s State) {
	select {
	case ch <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if err := c.stop(context.Background()); err != nil {
		c.log("Warning: failed to stop drill head: %v", err)
	}
	c.log("Drill rig stopped")
}
