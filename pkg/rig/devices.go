// Package rig provides the actuator model of a drilling rig: pistons, the
// drill head rotor, the drills themselves and the display they report to.
package rig

import "context"

// Orientation tells which way a piston travels when it extends the drill.
type Orientation int

const (
	// Down pistons extend toward their maximum travel and retract to 0.
	Down Orientation = iota
	// Up pistons are mounted the other way round: they extend toward 0 and
	// retract to their maximum travel.
	Up
)

func (o Orientation) String() string {
	switch o {
	case Down:
		return "down"
	case Up:
		return "up"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Orientation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Piston is a linear actuator with a travel-limit window.
type Piston interface {
	Name() string
	Position(ctx context.Context) (float64, error)
	SetVelocity(ctx context.Context, v float64) error
	SetMinLimit(ctx context.Context, v float64) error
	SetMaxLimit(ctx context.Context, v float64) error
}

// Rotor is the continuously rotating stator the drill head sits on.
// Angles are radians in [0, 2π).
type Rotor interface {
	Name() string
	Angle(ctx context.Context) (float64, error)
	SetLocked(ctx context.Context, locked bool) error
	SetEnabled(ctx context.Context, enabled bool) error
	SetTargetVelocity(ctx context.Context, rpm float64) error
}

// Drill is a cutting head. Its enabled flag follows the rotor's.
type Drill interface {
	Name() string
	SetEnabled(ctx context.Context, enabled bool) error
}

// Display is a text sink. When appendText is false the text replaces what
// is currently shown.
type Display interface {
	WriteText(text string, appendText bool) error
}

// Style holds presentation hints for displays that support them.
type Style struct {
	Background string  `json:"background"`
	Foreground string  `json:"foreground"`
	FontSize   float64 `json:"font_size"`
}

// Styled is implemented by displays that can be restyled.
type Styled interface {
	SetStyle(Style)
}

// DefaultStyle is green text on black.
func DefaultStyle() Style {
	return Style{
		Background: "#000000",
		Foreground: "#00FF00",
		FontSize:   0.8,
	}
}

// Inventory lists every actuator found on the construct, tagged or not.
type Inventory struct {
	Pistons []Piston
	Rotors  []Rotor
	Drills  []Drill
}
