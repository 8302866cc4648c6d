package servo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/drillrig/pkg/rig"
)

const (
	DefaultBaudRate = 1_000_000
	// MaxScanID bounds the ID range probed when scanning a bus.
	MaxScanID = 20
)

// Bus is an open feetech bus carrying rig devices.
type Bus struct {
	bus   *feetech.Bus
	found map[int]feetech.FoundServo
}

func newBus(port string, baudRate int) (*feetech.Bus, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
}

// Open opens the bus and checks which configured servos respond.
func Open(ctx context.Context, cfg rig.ServoConfig) (*Bus, error) {
	bus, err := newBus(cfg.Port, cfg.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	// Without configured devices the whole ID range is probed.
	lo, hi := 1, MaxScanID
	if len(cfg.Devices) > 0 {
		lo, hi = MaxScanID, 1
		for _, d := range cfg.Devices {
			lo = min(lo, d.ID)
			hi = max(hi, d.ID)
		}
	}

	servos, err := bus.Scan(ctx, lo, hi)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("scan bus: %w", err)
	}

	b := &Bus{bus: bus, found: make(map[int]feetech.FoundServo, len(servos))}
	for _, s := range servos {
		b.found[s.ID] = s
	}
	return b, nil
}

// Found returns the servos that answered the scan, by ascending ID.
func (b *Bus) Found() []feetech.FoundServo {
	servos := make([]feetech.FoundServo, 0, len(b.found))
	for _, s := range b.found {
		servos = append(servos, s)
	}
	slices.SortFunc(servos, func(x, y feetech.FoundServo) int { return x.ID - y.ID })
	return servos
}

// Wiggle nudges servo id back and forth so an operator can spot it, then
// releases torque.
func (b *Bus) Wiggle(ctx context.Context, id int) error {
	found, ok := b.found[id]
	if !ok {
		return fmt.Errorf("servo %d not found on bus", id)
	}
	return wiggle(ctx, feetech.NewServo(b.bus, found.ID, found.Model), time.Sleep)
}

// Close closes the bus connection.
func (b *Bus) Close() error {
	return b.bus.Close()
}

// Inventory builds rig devices for the configured servos. Every configured
// servo must have answered the scan.
func (b *Bus) Inventory(devices []rig.ServoDevice, travel rig.Travel) (rig.Inventory, error) {
	var inv rig.Inventory
	for _, d := range devices {
		found, ok := b.found[d.ID]
		if !ok {
			return rig.Inventory{}, fmt.Errorf("servo %d (%s) not found on bus", d.ID, d.Name)
		}
		s := feetech.NewServo(b.bus, found.ID, found.Model)

		switch d.Kind {
		case rig.KindPiston:
			cal := Calibration{RangeMin: d.RangeMin, RangeMax: d.RangeMax, Travel: travel}
			inv.Pistons = append(inv.Pistons, NewPiston(d.Name, s, cal))
		case rig.KindRotor:
			inv.Rotors = append(inv.Rotors, NewRotor(d.Name, s))
		case rig.KindDrill:
			inv.Drills = append(inv.Drills, NewDrill(d.Name, s))
		default:
			return rig.Inventory{}, fmt.Errorf("servo %d (%s): unknown kind %q", d.ID, d.Name, d.Kind)
		}
	}
	return inv, nil
}

// Scan probes port for servos with IDs 1 to MaxScanID.
func Scan(ctx context.Context, port string, baudRate int) ([]feetech.FoundServo, error) {
	bus, err := newBus(port, baudRate)
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	defer bus.Close()

	servos, err := bus.Scan(ctx, 1, MaxScanID)
	if err != nil {
		return nil, fmt.Errorf("scan bus: %w", err)
	}
	return servos, nil
}

const (
	wiggleAmount = 30
	wiggleTimeMs = 500
)

func wiggle(ctx context.Context, m motor, sleep func(time.Duration)) error {
	origin, err := m.Position(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if err := m.Enable(ctx); err != nil {
		return fmt.Errorf("enable torque: %w", err)
	}

	// Single gentle movement, then back to where it was
	for _, goal := range []int{origin + wiggleAmount, origin - wiggleAmount, origin} {
		if err := m.SetPositionWithTime(ctx, goal, wiggleTimeMs); err != nil {
			m.Disable(ctx)
			return fmt.Errorf("move: %w", err)
		}
		sleep(time.Duration(wiggleTimeMs+100) * time.Millisecond)
	}
	return m.Disable(ctx)
}
