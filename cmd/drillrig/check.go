package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gwillem/drillrig/pkg/drill"
	"github.com/gwillem/drillrig/pkg/sim"
)

type CheckCommand struct {
	Sim bool `long:"sim" description:"Check a simulated construct instead of the servo bus"`
}

func (c *CheckCommand) Execute(args []string) error {
	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	h, err := openRig(ctx, cfg, c.Sim)
	if err != nil {
		log.Fatalf("Failed to open rig: %v", err)
	}
	defer h.Close()

	panel := &sim.Panel{}
	ctrl, err := drill.NewController(ctx, drill.Config{
		Inventory: h.inv,
		Display:   panel,
		Rig:       cfg,
	})
	if err != nil {
		return err
	}
	if err := ctrl.HandleCommand(ctx, drill.CommandCheck); err != nil {
		return err
	}

	reg := ctrl.Registry()
	fmt.Printf("%s %d pistons, %d drills, rotor %s\n",
		successStyle.Render("Rig found:"), len(reg.Pistons), len(reg.Drills), reg.Rotor.Name())
	fmt.Println(dimStyle.Render("━━━ Display ━━━"))
	fmt.Println(panel.Text())

	fmt.Println(dimStyle.Render("━━━ Commands ━━━"))
	for _, cmd := range drill.Commands() {
		fmt.Printf("  %-12s %s\n", cmd, cmd.Description())
	}
	return nil
}
