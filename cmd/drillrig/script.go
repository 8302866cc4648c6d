package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gwillem/drillrig/pkg/drill"
	"github.com/gwillem/drillrig/pkg/script"
	"github.com/gwillem/drillrig/pkg/sim"
)

type ScriptCommand struct {
	Sim   bool    `long:"sim" description:"Drive a simulated construct instead of the servo bus"`
	Speed float64 `long:"speed" default:"1" description:"Simulated time per tick, as a multiple of the tick interval"`
	Args  struct {
		Plan string `positional-arg-name:"plan" description:"Lua plan file"`
	} `positional-args:"yes" required:"yes"`
}

func (c *ScriptCommand) Execute(args []string) error {
	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	h, err := openRig(ctx, cfg, c.Sim)
	if err != nil {
		log.Fatalf("Failed to open rig: %v", err)
	}
	defer h.Close()

	panel := &sim.Panel{}
	if h.simulated() {
		panel = h.con.Panel
	}
	ctrl, err := drill.NewController(ctx, drill.Config{
		Inventory: h.inv,
		Display:   panel,
		Rig:       cfg,
	})
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	// A simulated construct is stepped in lockstep with the controller;
	// real devices move on their own while we wait out the interval.
	step := func(dt time.Duration) { time.Sleep(dt) }
	if h.simulated() {
		step = func(dt time.Duration) { h.con.Step(time.Duration(float64(dt) * c.Speed)) }
	}

	runner := script.New(ctrl, script.Config{Step: step, Out: os.Stdout})
	runErr := runner.RunFile(ctx, c.Args.Plan)

	fmt.Println(dimStyle.Render("━━━ Display ━━━"))
	fmt.Println(panel.Text())
	return runErr
}
