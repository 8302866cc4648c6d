package drill

import (
	"context"
	"strings"
)

// Command is a discrete operator command.
type Command string

const (
	CommandOn         Command = "on"
	CommandOff        Command = "off"
	CommandReset      Command = "reset"
	CommandForceReset Command = "force_reset"
	CommandCheck      Command = "check"
)

type handler struct {
	Run         func(*Controller, context.Context) error
	Description string
}

var handlers = map[Command]handler{
	CommandOn: {
		Run:         (*Controller).start,
		Description: "Unlock the rotor and start the drill head",
	},
	CommandOff: {
		Run:         (*Controller).stop,
		Description: "Lock the rotor and stop the drill head",
	},
	CommandReset: {
		Run: func(c *Controller, ctx context.Context) error {
			if c.reg.Group.PendingCount() > 0 {
				return nil
			}
			return c.forceReset(ctx)
		},
		Description: "Retract all pistons once every piston is extended",
	},
	CommandForceReset: {
		Run:         (*Controller).forceReset,
		Description: "Stop drilling and retract all pistons now",
	},
	CommandCheck: {
		Run:         func(*Controller, context.Context) error { return nil },
		Description: "Refresh the display",
	},
}

// Commands returns every known command in a stable order.
func Commands() []Command {
	return []Command{CommandOn, CommandOff, CommandReset, CommandForceReset, CommandCheck}
}

// ParseCommand maps an argument string to a Command. Surrounding whitespace
// is ignored.
func ParseCommand(arg string) (Command, bool) {
	cmd := Command(strings.TrimSpace(arg))
	_, ok := handlers[cmd]
	return cmd, ok
}

// Description returns a one-line help text, or "" for unknown commands.
func (c Command) Description() string {
	return handlers[c].Description
}
