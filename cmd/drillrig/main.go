package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	ConfigFile string `short:"c" long:"config" default:"drillrig.json" description:"Rig configuration file"`

	Run    RunCommand    `command:"run" description:"Start the drill controller with a live dashboard"`
	Setup  SetupCommand  `command:"setup" description:"Scan the servo bus and assign rig devices"`
	Script ScriptCommand `command:"script" description:"Run a Lua drilling plan"`
	Check  CheckCommand  `command:"check" description:"Refresh the display once and print it"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "drillrig - piston drill rig controller"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
