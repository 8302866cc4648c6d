package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/gwillem/drillrig/pkg/rig"
	"github.com/gwillem/drillrig/pkg/servo"
	"github.com/gwillem/drillrig/pkg/sim"
)

// defaultSim is the construct simulated when the config has no sim section.
var defaultSim = rig.SimConfig{DownPistons: 4, UpPistons: 1, Drills: 2, TimeScale: 1}

// loadConfig reads path, falling back to the stock constants when the file
// does not exist.
func loadConfig(path string) (*rig.Config, error) {
	cfg, err := rig.LoadConfigFrom(path)
	if errors.Is(err, fs.ErrNotExist) {
		return rig.DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// rigHandle is an opened set of devices, either simulated or on a servo bus.
type rigHandle struct {
	inv rig.Inventory
	con *sim.Construct
	bus *servo.Bus
}

// openRig opens the servo bus described by cfg, or builds a simulated
// construct when useSim is set or no bus is configured.
func openRig(ctx context.Context, cfg *rig.Config, useSim bool) (*rigHandle, error) {
	if useSim || cfg.Servo == nil {
		sc := defaultSim
		if cfg.Sim != nil {
			sc = *cfg.Sim
		}
		con := sim.NewConstruct(sc, cfg.Tags, cfg.Travel)
		return &rigHandle{inv: con.Inventory(), con: con}, nil
	}

	bus, err := servo.Open(ctx, *cfg.Servo)
	if err != nil {
		return nil, err
	}
	inv, err := bus.Inventory(cfg.Servo.Devices, cfg.Travel)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return &rigHandle{inv: inv, bus: bus}, nil
}

func (h *rigHandle) simulated() bool {
	return h.con != nil
}

// simScale returns simulated seconds per wall-clock second.
func simScale(cfg *rig.Config) float64 {
	if cfg.Sim != nil && cfg.Sim.TimeScale > 0 {
		return cfg.Sim.TimeScale
	}
	return defaultSim.TimeScale
}

func (h *rigHandle) Close() {
	if h.bus != nil {
		if err := h.bus.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close bus: %v\n", err)
		}
	}
}
