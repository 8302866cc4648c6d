package drill

import (
	"fmt"
	"strings"
	"time"
)

// Report is what the rig shows on its display.
type Report struct {
	Echo       []string
	Pending    int
	Done       int
	RotorMoved float64
	LastAngle  float64
	Angle      float64
	TickTook   time.Duration
	Status     Status
}

// Lines renders the report in display order.
func (r Report) Lines() []string {
	lines := append([]string(nil), r.Echo...)
	return append(lines,
		fmt.Sprintf("Not extended pistons: %d", r.Pending),
		fmt.Sprintf("Extended pistons: %d", r.Done),
		fmt.Sprintf("Rotor movement: %.3f", r.RotorMoved),
		fmt.Sprintf("Rotor last angle: %.3f", r.LastAngle),
		fmt.Sprintf("Rotor current angle: %.3f", r.Angle),
		fmt.Sprintf("Tick duration: %s", r.TickTook),
		"",
		fmt.Sprintf("Drill status: %s", r.Status),
	)
}

func (r Report) String() string {
	return strings.Join(r.Lines(), "\n")
}

// Report returns the current display contents without touching any device.
func (c *Controller) Report() Report {
	return Report{
		Echo:       append([]string(nil), c.echo...),
		Pending:    c.reg.Group.PendingCount(),
		Done:       c.reg.Group.DoneCount(),
		RotorMoved: c.rotorMoved,
		LastAngle:  c.lastAngle,
		Angle:      c.angle,
		TickTook:   c.tickTook,
		Status:     c.status,
	}
}

func (c *Controller) refresh() error {
	return c.display.WriteText(c.Report().String(), false)
}
