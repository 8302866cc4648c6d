package rig

import (
	"encoding/json"
	"math"
	"os"
	"time"
)

const DefaultConfigFile = "drillrig.json"

// Config holds the rig configuration
type Config struct {
	Tags   Tags   `json:"tags"`
	Motion Motion `json:"motion"`
	Travel Travel `json:"travel"`
	Style  Style  `json:"style"`

	// TickMillis is the control loop period in milliseconds
	TickMillis int `json:"tick_ms"`

	Servo *ServoConfig `json:"servo,omitempty"`
	Sim   *SimConfig   `json:"sim,omitempty"`
}

// Tags are the name substrings that select rig devices
type Tags struct {
	Up   string `json:"up"`
	Down string `json:"down"`
	Head string `json:"head"`
}

// Motion holds speeds and step sizes for the control loop
type Motion struct {
	PistonSpeed    float64 `json:"piston_speed"`    // travel units per second
	PistonStep     float64 `json:"piston_step"`     // travel added per rotor revolution
	RotorSpeed     float64 `json:"rotor_speed"`     // RPM
	Revolution     float64 `json:"revolution"`      // radians swept before a piston advances
	AngleThreshold float64 `json:"angle_threshold"` // minimum sweep per tick that counts as movement
}

// Travel is the physical travel window shared by all pistons
type Travel struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ServoConfig describes a feetech serial bus carrying rig devices
type ServoConfig struct {
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate,omitempty"`
	Devices  []ServoDevice `json:"devices"`
}

// DeviceKind says which rig role a servo plays
type DeviceKind string

const (
	KindPiston DeviceKind = "piston"
	KindRotor  DeviceKind = "rotor"
	KindDrill  DeviceKind = "drill"
)

// ServoDevice maps a servo ID to a named rig device. RangeMin and RangeMax
// are the raw servo positions matching the ends of the device's travel.
type ServoDevice struct {
	Name     string     `json:"name"`
	Kind     DeviceKind `json:"kind"`
	ID       int        `json:"id"`
	RangeMin int        `json:"range_min,omitempty"`
	RangeMax int        `json:"range_max,omitempty"`
}

// SimConfig describes a simulated construct
type SimConfig struct {
	DownPistons int     `json:"down_pistons"`
	UpPistons   int     `json:"up_pistons"`
	Drills      int     `json:"drills"`
	TimeScale   float64 `json:"time_scale"` // simulated seconds per wall-clock second
}

// DefaultTags returns the stock name tags
func DefaultTags() Tags {
	return Tags{Up: "[Up]", Down: "[Down]", Head: "[Head]"}
}

// DefaultConfig returns a configuration with the stock rig constants
func DefaultConfig() *Config {
	return &Config{
		Tags: DefaultTags(),
		Motion: Motion{
			PistonSpeed:    1.5,
			PistonStep:     2.0,
			RotorSpeed:     0.5,
			Revolution:     2 * math.Pi,
			AngleThreshold: 0.05,
		},
		Travel:     Travel{Min: 0, Max: 10},
		Style:      DefaultStyle(),
		TickMillis: 1600,
	}
}

// TickInterval returns the control loop period
func (c *Config) TickInterval() time.Duration {
	if c.TickMillis <= 0 {
		return 1600 * time.Millisecond
	}
	return time.Duration(c.TickMillis) * time.Millisecond
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file. Fields missing
// from the file keep their default values.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
