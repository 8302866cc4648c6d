package drill

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gwillem/drillrig/pkg/rig"
	"github.com/gwillem/drillrig/pkg/sim"
)

var travel = rig.Travel{Min: 0, Max: 10}

// newRig builds a controller over a construct whose pistons start at the
// given positions. Names ending in "d" are down pistons, "u" up pistons.
func newRig(t *testing.T, pistons map[string]float64, order ...string) (*Controller, *sim.Construct) {
	t.Helper()
	tags := rig.DefaultTags()
	con := &sim.Construct{
		Rotor: sim.NewRotor("Rotor "+tags.Head, 0),
		Drills: []*sim.Drill{
			sim.NewDrill("Drill " + tags.Head + " 1"),
			sim.NewDrill("Drill " + tags.Head + " 2"),
		},
		Panel: &sim.Panel{},
	}
	for _, name := range order {
		tag := tags.Down
		if strings.HasSuffix(name, "u") {
			tag = tags.Up
		}
		con.Pistons = append(con.Pistons, sim.NewPiston(name+" "+tag, pistons[name], travel))
	}

	c, err := NewController(context.Background(), Config{
		Inventory: con.Inventory(),
		Display:   con.Panel,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, con
}

func mustCommand(t *testing.T, c *Controller, cmd Command) {
	t.Helper()
	if err := c.HandleCommand(context.Background(), cmd); err != nil {
		t.Fatalf("HandleCommand(%s): %v", cmd, err)
	}
}

func mustTick(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

func turn(r *sim.Rotor, by float64) {
	a, _ := r.Angle(context.Background())
	r.SetAngle(a + by)
}

func settle(con *sim.Construct) {
	for _, p := range con.Pistons {
		p.Step(10 * time.Second)
	}
}

func TestSweep(t *testing.T) {
	tests := []struct {
		last, angle float64
		expected    float64
	}{
		{6.0, 0.2, 2*math.Pi - 6.0 + 0.2},
		{1.0, 2.5, 1.5},
		{0, 0, 0},
		{3.0, 2.9, 2*math.Pi - 0.1},
	}

	for _, tt := range tests {
		got := Sweep(tt.last, tt.angle)
		if math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("Sweep(%v, %v) = %v, want %v", tt.last, tt.angle, got, tt.expected)
		}
		if got < 0 {
			t.Errorf("Sweep(%v, %v) is negative", tt.last, tt.angle)
		}
	}

	if got := Sweep(6.0, 0.2); math.Abs(got-0.483) > 0.001 {
		t.Errorf("Sweep(6.0, 0.2) = %v, want ~0.483", got)
	}
}

func TestNewController_Errors(t *testing.T) {
	con := sim.NewConstruct(rig.SimConfig{DownPistons: 1}, rig.DefaultTags(), travel)

	_, err := NewController(context.Background(), Config{Inventory: con.Inventory()})
	if !errors.Is(err, ErrNoDisplay) {
		t.Errorf("err = %v, want ErrNoDisplay", err)
	}

	inv := con.Inventory()
	inv.Rotors = nil
	_, err = NewController(context.Background(), Config{Inventory: inv, Display: con.Panel})
	if !errors.Is(err, rig.ErrNoRotor) {
		t.Errorf("err = %v, want ErrNoRotor", err)
	}
}

func TestNewController_StylesDisplay(t *testing.T) {
	c, con := newRig(t, map[string]float64{"1d": 0}, "1d")

	if c.Status() != StatusStopped {
		t.Errorf("initial status = %s, want Stopped", c.Status())
	}
	if con.Panel.Style() != rig.DefaultStyle() {
		t.Errorf("style = %+v", con.Panel.Style())
	}
	if !strings.Contains(con.Panel.Text(), "Drill status: Stopped") {
		t.Errorf("display not written:\n%s", con.Panel.Text())
	}
}

func TestHandleCommand_Transitions(t *testing.T) {
	c, con := newRig(t, map[string]float64{"1d": 0, "2u": 10}, "1d", "2u")

	mustCommand(t, c, CommandOn)
	if c.Status() != StatusRunning {
		t.Fatalf("after on: %s", c.Status())
	}
	if !con.Rotor.Turning() {
		t.Error("rotor should be unlocked and enabled")
	}
	for _, d := range con.Drills {
		if !d.Enabled() {
			t.Errorf("%s not enabled", d.Name())
		}
	}

	mustCommand(t, c, CommandOff)
	if c.Status() != StatusStopped {
		t.Fatalf("after off: %s", c.Status())
	}
	if con.Rotor.Turning() {
		t.Error("rotor should be locked")
	}
	for _, d := range con.Drills {
		if d.Enabled() {
			t.Errorf("%s still enabled", d.Name())
		}
	}

	mustCommand(t, c, CommandForceReset)
	if c.Status() != StatusRetracting {
		t.Fatalf("after force_reset: %s", c.Status())
	}

	for _, cmd := range []Command{CommandOn, CommandOff, CommandCheck} {
		mustCommand(t, c, cmd)
		if c.Status() != StatusRetracting {
			t.Errorf("after %s while retracting: %s", cmd, c.Status())
		}
	}
	if con.Rotor.Turning() {
		t.Error("on must be ignored while retracting")
	}
}

func TestHandleCommand_UnknownRefreshesDisplay(t *testing.T) {
	c, con := newRig(t, map[string]float64{"1d": 0}, "1d")
	con.Panel.WriteText("", false)

	mustCommand(t, c, Command("dance"))
	if c.Status() != StatusStopped {
		t.Errorf("status = %s", c.Status())
	}
	if !strings.Contains(con.Panel.Text(), "Not extended pistons: 1") {
		t.Errorf("display not refreshed:\n%s", con.Panel.Text())
	}
}

func TestParseCommand(t *testing.T) {
	for _, cmd := range Commands() {
		got, ok := ParseCommand(" " + string(cmd) + "\n")
		if !ok || got != cmd {
			t.Errorf("ParseCommand(%q) = %q, %v", cmd, got, ok)
		}
		if cmd.Description() == "" {
			t.Errorf("%s has no description", cmd)
		}
	}
	if _, ok := ParseCommand("launch"); ok {
		t.Error("ParseCommand(launch) should fail")
	}
}

func TestForceReset_ReopensAndRetracts(t *testing.T) {
	c, con := newRig(t,
		map[string]float64{"1d": 10, "2d": 4, "3u": 0, "4u": 7},
		"1d", "2d", "3u", "4u")

	if got := c.Registry().Group.DoneCount(); got != 2 {
		t.Fatalf("done = %d, want 2", got)
	}

	mustCommand(t, c, CommandForceReset)

	g := c.Registry().Group
	if g.DoneCount() != 0 || g.PendingCount() != 4 {
		t.Fatalf("pending/done = %d/%d, want 4/0", g.PendingCount(), g.DoneCount())
	}

	for _, p := range con.Pistons {
		min, max := p.Limits()
		down := strings.Contains(p.Name(), "[Down]")
		switch {
		case down && (min != 0 || max != 0 || p.Velocity() >= 0):
			t.Errorf("%s: limits %v..%v velocity %v", p.Name(), min, max, p.Velocity())
		case !down && (min != 10 || max != 10 || p.Velocity() <= 0):
			t.Errorf("%s: limits %v..%v velocity %v", p.Name(), min, max, p.Velocity())
		}
	}
}

// callOrder records which setters a piston saw, in order.
type callOrder struct {
	*sim.Piston
	calls []string
}

func (p *callOrder) SetVelocity(ctx context.Context, v float64) error {
	p.calls = append(p.calls, "velocity")
	return p.Piston.SetVelocity(ctx, v)
}

func (p *callOrder) SetMinLimit(ctx context.Context, v float64) error {
	p.calls = append(p.calls, "min")
	return p.Piston.SetMinLimit(ctx, v)
}

func (p *callOrder) SetMaxLimit(ctx context.Context, v float64) error {
	p.calls = append(p.calls, "max")
	return p.Piston.SetMaxLimit(ctx, v)
}

func TestForceReset_VelocityBeforeLimits(t *testing.T) {
	tags := rig.DefaultTags()
	down := &callOrder{Piston: sim.NewPiston("Piston "+tags.Down+" 1", 6, travel)}
	up := &callOrder{Piston: sim.NewPiston("Piston "+tags.Up+" 1", 4, travel)}
	c, err := NewController(context.Background(), Config{
		Inventory: rig.Inventory{
			Pistons: []rig.Piston{down, up},
			Rotors:  []rig.Rotor{sim.NewRotor("Rotor "+tags.Head, 0)},
		},
		Display: &sim.Panel{},
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	mustCommand(t, c, CommandForceReset)
	for _, p := range []*callOrder{down, up} {
		if len(p.calls) == 0 || p.calls[0] != "velocity" {
			t.Errorf("%s: setters %v, want velocity first", p.Name(), p.calls)
		}
	}
}

func TestReset_OnlyWhenAllExtended(t *testing.T) {
	c, _ := newRig(t, map[string]float64{"1d": 10, "2d": 3}, "1d", "2d")

	mustCommand(t, c, CommandReset)
	if c.Status() != StatusStopped {
		t.Errorf("reset with pending pistons changed status to %s", c.Status())
	}
	if c.Registry().Group.DoneCount() != 1 {
		t.Errorf("reset with pending pistons moved pistons")
	}

	c2, _ := newRig(t, map[string]float64{"1d": 10, "2u": 0}, "1d", "2u")
	mustCommand(t, c2, CommandReset)
	if c2.Status() != StatusRetracting {
		t.Errorf("reset with nothing pending: %s, want Retracting", c2.Status())
	}
	if c2.Registry().Group.PendingCount() != 2 {
		t.Errorf("pending = %d, want 2", c2.Registry().Group.PendingCount())
	}
}

func TestTick_NoAdvanceBelowRevolution(t *testing.T) {
	c, con := newRig(t, map[string]float64{"1d": 0}, "1d")
	mustCommand(t, c, CommandOn)

	for range 3 {
		turn(con.Rotor, 2.0)
		mustTick(t, c)
	}
	if _, max := con.Pistons[0].Limits(); max != 10 {
		t.Errorf("max limit changed to %v before a full revolution", max)
	}
	if con.Pistons[0].Velocity() != 0 {
		t.Errorf("velocity changed to %v before a full revolution", con.Pistons[0].Velocity())
	}

	turn(con.Rotor, 2.0)
	mustTick(t, c)
	if _, max := con.Pistons[0].Limits(); max != 2 {
		t.Errorf("max limit = %v, want 2", max)
	}
	if con.Pistons[0].Velocity() != 1.5 {
		t.Errorf("velocity = %v, want 1.5", con.Pistons[0].Velocity())
	}
	if got := c.Report().RotorMoved; got != 0 {
		t.Errorf("revolution counter = %v, want 0 after advance", got)
	}
}

func TestTick_SmallSweepIgnored(t *testing.T) {
	c, con := newRig(t, map[string]float64{"1d": 0}, "1d")
	mustCommand(t, c, CommandOn)

	turn(con.Rotor, 0.04)
	mustTick(t, c)
	if got := c.Report().RotorMoved; got != 0 {
		t.Errorf("revolution counter = %v, want 0 for a sweep under the threshold", got)
	}
}

func TestTick_StoppedDoesNotAdvance(t *testing.T) {
	c, con := newRig(t, map[string]float64{"1d": 0}, "1d")

	for range 8 {
		turn(con.Rotor, 2.0)
		mustTick(t, c)
	}
	if _, max := con.Pistons[0].Limits(); max != 10 {
		t.Errorf("max limit changed to %v while stopped", max)
	}
}

func TestTick_Clamps(t *testing.T) {
	tests := []struct {
		name    string
		start   float64
		wantMin float64
		wantMax float64
	}{
		{"1d", 9.0, 0, 10},
		{"1d", 7.5, 0, 9.5},
		{"1u", 1.0, 0, 10},
		{"1u", 5.0, 3, 10},
	}

	for _, tt := range tests {
		c, con := newRig(t, map[string]float64{tt.name: tt.start}, tt.name)
		mustCommand(t, c, CommandOn)
		for range 4 {
			turn(con.Rotor, 1.6)
			mustTick(t, c)
		}
		min, max := con.Pistons[0].Limits()
		if min != tt.wantMin || max != tt.wantMax {
			t.Errorf("%s from %v: limits %v..%v, want %v..%v",
				tt.name, tt.start, min, max, tt.wantMin, tt.wantMax)
		}
	}
}

func TestTick_ExtendsPistonsInOrder(t *testing.T) {
	c, con := newRig(t, map[string]float64{"1d": 0, "2d": 0, "3d": 0}, "1d", "2d", "3d")
	mustCommand(t, c, CommandOn)

	var order []string
	var maxima []float64
	seen := map[string]bool{}

	for i := 0; i < 200 && c.Status() != StatusExtended; i++ {
		turn(con.Rotor, 1.6)
		mustTick(t, c)

		if _, max := con.Pistons[0].Limits(); len(order) == 0 && (len(maxima) == 0 || maxima[len(maxima)-1] != max) {
			maxima = append(maxima, max)
		}
		settle(con)

		for _, p := range c.Registry().Group.Done() {
			if !seen[p.Name()] {
				seen[p.Name()] = true
				order = append(order, p.Name())
			}
		}
	}

	if c.Status() != StatusExtended {
		t.Fatalf("status = %s, want Extended", c.Status())
	}

	want := []string{"1d [Down]", "2d [Down]", "3d [Down]"}
	if len(order) != len(want) {
		t.Fatalf("done order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("done[%d] = %s, want %s", i, order[i], want[i])
		}
	}

	wantMaxima := []float64{10, 2, 4, 6, 8, 10}
	if len(maxima) != len(wantMaxima) {
		t.Fatalf("first piston max limits = %v, want %v", maxima, wantMaxima)
	}
	for i := range wantMaxima {
		if maxima[i] != wantMaxima[i] {
			t.Errorf("max[%d] = %v, want %v", i, maxima[i], wantMaxima[i])
		}
	}

	for _, p := range con.Pistons {
		pos, _ := p.Position(context.Background())
		if pos != 10 {
			t.Errorf("%s ended at %v, want 10", p.Name(), pos)
		}
	}
}

func TestTick_ExtendedWhenNothingPending(t *testing.T) {
	for _, cmd := range []Command{CommandCheck, CommandOn} {
		c, _ := newRig(t, map[string]float64{"1d": 10, "2u": 0}, "1d", "2u")
		mustCommand(t, c, cmd)

		mustTick(t, c)
		if c.Status() != StatusExtended {
			t.Errorf("after %s: status = %s, want Extended", cmd, c.Status())
		}
		mustTick(t, c)
		if c.Status() != StatusExtended {
			t.Errorf("Extended is not sticky: %s", c.Status())
		}
	}
}

func TestTick_RetractingUntilHome(t *testing.T) {
	c, con := newRig(t, map[string]float64{"1d": 10, "2u": 0, "3d": 5}, "1d", "2u", "3d")
	mustCommand(t, c, CommandForceReset)

	completed := 0
	prev := c.Status()
	for i := 0; i < 20; i++ {
		mustTick(t, c)
		if c.Status() == StatusCompleted && prev != StatusCompleted {
			completed++
		}
		if i < 3 && c.Status() != StatusRetracting {
			t.Fatalf("tick %d: status = %s before pistons moved", i, c.Status())
		}
		prev = c.Status()
		if i >= 3 {
			for _, p := range con.Pistons {
				p.Step(time.Second)
			}
		}
	}

	if c.Status() != StatusCompleted {
		t.Fatalf("status = %s, want Completed", c.Status())
	}
	if completed != 1 {
		t.Errorf("entered Completed %d times, want 1", completed)
	}

	mustCommand(t, c, CommandForceReset)
	if c.Status() != StatusRetracting {
		t.Errorf("force_reset from Completed: %s", c.Status())
	}
	mustTick(t, c)
	if c.Status() != StatusCompleted {
		t.Errorf("already home: status = %s, want Completed", c.Status())
	}
}

type flakyRotor struct {
	*sim.Rotor
	broken atomic.Bool
}

func (r *flakyRotor) Angle(ctx context.Context) (float64, error) {
	if r.broken.Load() {
		return 0, errors.New("encoder timeout")
	}
	return r.Rotor.Angle(ctx)
}

func newFlakyRig(t *testing.T, tickMillis int) (*Controller, *flakyRotor, *sim.Panel) {
	t.Helper()
	con := sim.NewConstruct(rig.SimConfig{DownPistons: 2, Drills: 1}, rig.DefaultTags(), travel)
	rotor := &flakyRotor{Rotor: con.Rotor}
	inv := con.Inventory()
	inv.Rotors = []rig.Rotor{rotor}

	cfg := rig.DefaultConfig()
	cfg.TickMillis = tickMillis
	c, err := NewController(context.Background(), Config{Inventory: inv, Display: con.Panel, Rig: cfg})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, rotor, con.Panel
}

func TestTick_ErrorLeavesStatus(t *testing.T) {
	c, rotor, panel := newFlakyRig(t, 0)
	mustCommand(t, c, CommandOn)

	rotor.broken.Store(true)
	err := c.Tick(context.Background())
	if err == nil || !strings.Contains(err.Error(), "encoder timeout") {
		t.Fatalf("Tick err = %v", err)
	}
	if c.Status() != StatusRunning {
		t.Errorf("status = %s, want Running", c.Status())
	}
	if !strings.Contains(panel.Text(), "Exception: read rotor angle: encoder timeout") {
		t.Errorf("exception not echoed:\n%s", panel.Text())
	}

	rotor.broken.Store(false)
	mustTick(t, c)
	if !strings.Contains(panel.Text(), "Exception: read rotor angle: encoder timeout") {
		t.Errorf("exception dropped from display:\n%s", panel.Text())
	}
}

func TestReport_Lines(t *testing.T) {
	r := Report{
		Echo:       []string{"hello"},
		Pending:    2,
		Done:       1,
		RotorMoved: 1.5,
		LastAngle:  0.25,
		Angle:      1.75,
		TickTook:   time.Millisecond,
		Status:     StatusRunning,
	}
	want := []string{
		"hello",
		"Not extended pistons: 2",
		"Extended pistons: 1",
		"Rotor movement: 1.500",
		"Rotor last angle: 0.250",
		"Rotor current angle: 1.750",
		"Tick duration: 1ms",
		"",
		"Drill status: Running",
	}
	got := r.Lines()
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(got), len(want), r)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func waitForState(t *testing.T, ch <-chan State, match func(State) bool) State {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if match(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for state")
			return State{}
		}
	}
}

func TestStart_CommandsAndErrors(t *testing.T) {
	c, rotor, _ := newFlakyRig(t, 5)
	sub := c.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	if !c.Send(CommandOn) {
		t.Fatal("Send(on) = false")
	}
	s := waitForState(t, c.States(), func(s State) bool { return s.Status == StatusRunning })
	if len(s.Pistons) != 2 {
		t.Errorf("snapshot has %d pistons, want 2", len(s.Pistons))
	}
	waitForState(t, sub, func(s State) bool { return s.Status == StatusRunning })

	rotor.broken.Store(true)
	s = waitForState(t, c.States(), func(s State) bool { return s.Error != nil })
	if s.Status != StatusError {
		t.Errorf("status after failed tick = %s, want Error", s.Status)
	}

	rotor.broken.Store(false)
	s = waitForState(t, c.States(), func(s State) bool { return s.Error == nil })
	if s.Status != StatusRunning {
		t.Errorf("status after recovery = %s, want Running", s.Status)
	}
	c.Send(CommandForceReset)
	waitForState(t, c.States(), func(s State) bool { return s.Status == StatusRetracting || s.Status == StatusCompleted })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

}

// handled waits until Start has taken every queued command and published
// a state after it.
func handled(t *testing.T, c *Controller) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.cmdCh) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("commands never taken")
		}
		time.Sleep(time.Millisecond)
	}
drain:
	for {
		select {
		case <-c.States():
		default:
			break drain
		}
	}
	return waitForState(t, c.States(), func(State) bool { return true })
}

func TestStart_ErrorWhileRetracting(t *testing.T) {
	tags := rig.DefaultTags()
	piston := sim.NewPiston("Piston "+tags.Down+" 1", 5, travel)
	rotor := &flakyRotor{Rotor: sim.NewRotor("Rotor "+tags.Head, 0)}
	panel := &sim.Panel{}

	cfg := rig.DefaultConfig()
	cfg.TickMillis = 5
	c, err := NewController(context.Background(), Config{
		Inventory: rig.Inventory{
			Pistons: []rig.Piston{piston},
			Rotors:  []rig.Rotor{rotor},
			Drills:  []rig.Drill{sim.NewDrill("Drill " + tags.Head + " 1")},
		},
		Display: panel,
		Rig:     cfg,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	c.Send(CommandForceReset)
	waitForState(t, c.States(), func(s State) bool { return s.Status == StatusRetracting })

	rotor.broken.Store(true)
	s := waitForState(t, c.States(), func(s State) bool { return s.Error != nil })
	if s.Status != StatusError {
		t.Errorf("reported status = %s, want Error", s.Status)
	}

	rotor.broken.Store(false)
	s = waitForState(t, c.States(), func(s State) bool { return s.Error == nil })
	if s.Status != StatusRetracting {
		t.Fatalf("status after recovery = %s, want Retracting", s.Status)
	}

	// the piston is still out, so on must not restart the drill head
	c.Send(CommandOn)
	s = handled(t, c)
	if s.Status != StatusRetracting {
		t.Errorf("status after on = %s, want Retracting", s.Status)
	}
	if rotor.Turning() {
		t.Error("rotor restarted during retraction")
	}

	piston.Step(10 * time.Second)
	waitForState(t, c.States(), func(s State) bool { return s.Status == StatusCompleted })
}
