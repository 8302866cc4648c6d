package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/drillrig/pkg/rig"
	"github.com/gwillem/drillrig/pkg/servo"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Full raw range of an STS servo
const (
	rawMin = 0
	rawMax = 4095
)

type SetupCommand struct {
	BaudRate int  `long:"baud" default:"1000000" description:"Servo bus baud rate"`
	NoWiggle bool `long:"no-wiggle" description:"Do not move servos while identifying them"`
}

type busInfo struct {
	port   string
	servos []feetech.FoundServo
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Drill Rig Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Step 1: Find the servo bus
	info := chooseBus(findBuses(c.BaudRate))

	ctx := context.Background()
	bus, err := servo.Open(ctx, rig.ServoConfig{Port: info.port, BaudRate: c.BaudRate})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to bus: %v\n", err)
		os.Exit(1)
	}
	defer bus.Close()

	// Step 2: Assign a rig role to every servo
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Assigning Devices ━━━"))
	fmt.Println()

	counts := make(map[string]int)
	var devices []rig.ServoDevice
	for _, s := range bus.Found() {
		if !c.NoWiggle {
			fmt.Printf("  Wiggling servo %d...\n", s.ID)
			if err := bus.Wiggle(ctx, s.ID); err != nil {
				fmt.Printf("  Error wiggling servo %d: %v\n", s.ID, err)
			}
		}
		d, ok := assignServo(s, cfg.Tags, counts, !c.NoWiggle)
		if ok {
			devices = append(devices, d)
		}
	}

	if err := checkDevices(devices, cfg.Tags); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid rig: %v\n", err)
		os.Exit(1)
	}

	cfg.Servo = &rig.ServoConfig{
		Port:     info.port,
		BaudRate: c.BaudRate,
		Devices:  devices,
	}
	if err := cfg.SaveTo(opts.ConfigFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(renderDevices(devices))
	fmt.Println()
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.ConfigFile)
	fmt.Println()
	fmt.Println("Start drilling with: " + headerStyle.Render("drillrig run"))

	return nil
}

func findBuses(baudRate int) []busInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	fmt.Println("Scanning serial ports for servos...")
	var buses []busInfo
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		servos, err := servo.Scan(ctx, port, baudRate)
		cancel()
		if err != nil || len(servos) == 0 {
			continue
		}

		fmt.Printf("  Found %d servo(s) on %s\n", len(servos), port)
		buses = append(buses, busInfo{port: port, servos: servos})
	}
	return buses
}

func chooseBus(buses []busInfo) busInfo {
	switch len(buses) {
	case 0:
		fmt.Println("No servos found.")
		fmt.Println("Make sure the bus adapter is connected and the servos are powered on.")
		os.Exit(1)
	case 1:
		return buses[0]
	}

	var options []huh.Option[int]
	for i, b := range buses {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%d servos)", b.port, len(b.servos)), i))
	}

	var idx int
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Which port carries the drill rig?").
				Options(options...).
				Value(&idx),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return buses[idx]
}

// assignServo asks what the servo drives. Device names get the tag that
// selects them in the controller.
func assignServo(s feetech.FoundServo, tags rig.Tags, counts map[string]int, wiggled bool) (rig.ServoDevice, bool) {
	desc := fmt.Sprintf("Model %v", s.Model)
	if wiggled {
		desc = "The servo that just wiggled"
	}

	var role string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("What does servo %d drive?", s.ID)).
				Description(desc).
				Options(
					huh.NewOption("Piston, extends downward", "down"),
					huh.NewOption("Piston, extends upward", "up"),
					huh.NewOption("Drill head rotor", "rotor"),
					huh.NewOption("Drill", "drill"),
					huh.NewOption("Nothing, skip it", "skip"),
				).
				Value(&role),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	d := rig.ServoDevice{ID: s.ID}
	counts[role]++
	switch role {
	case "down":
		d.Kind = rig.KindPiston
		d.Name = fmt.Sprintf("Piston %s %d", tags.Down, counts[role])
	case "up":
		d.Kind = rig.KindPiston
		d.Name = fmt.Sprintf("Piston %s %d", tags.Up, counts[role])
	case "rotor":
		d.Kind = rig.KindRotor
		d.Name = "Rotor " + tags.Head
	case "drill":
		d.Kind = rig.KindDrill
		d.Name = fmt.Sprintf("Drill %s %d", tags.Head, counts[role])
	default:
		return rig.ServoDevice{}, false
	}

	if d.Kind == rig.KindPiston {
		retracted, extended := askRange(d.Name)
		d.RangeMin, d.RangeMax = pistonRange(role == "up", retracted, extended)
	}
	return d, true
}

// pistonRange orders the raw end positions so RangeMin is the raw value at
// Travel.Min. Upward pistons are retracted at Travel.Max.
func pistonRange(up bool, retracted, extended int) (rangeMin, rangeMax int) {
	if up {
		return extended, retracted
	}
	return retracted, extended
}

// askRange asks for the raw positions at either end of a piston's travel.
func askRange(name string) (retracted, extended int) {
	loStr, hiStr := strconv.Itoa(rawMin), strconv.Itoa(rawMax)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("%s: raw position when retracted", name)).
				Value(&loStr).
				Validate(validateRaw),
			huh.NewInput().
				Title(fmt.Sprintf("%s: raw position when fully extended", name)).
				Value(&hiStr).
				Validate(validateRaw),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	retracted, _ = strconv.Atoi(loStr)
	extended, _ = strconv.Atoi(hiStr)
	return retracted, extended
}

func validateRaw(s string) error {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not a number")
	}
	if v < rawMin || v > rawMax {
		return fmt.Errorf("must be between %d and %d", rawMin, rawMax)
	}
	return nil
}

// checkDevices rejects assignments the controller would refuse to start with.
func checkDevices(devices []rig.ServoDevice, tags rig.Tags) error {
	rotors := 0
	for _, d := range devices {
		if d.Kind == rig.KindRotor && strings.Contains(d.Name, tags.Head) {
			rotors++
		}
	}
	switch {
	case rotors == 0:
		return rig.ErrNoRotor
	case rotors > 1:
		return rig.ErrMultipleRotors
	}
	return nil
}

func renderDevices(devices []rig.ServoDevice) string {
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableNameStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rng := ""
		if d.Kind == rig.KindPiston {
			rng = fmt.Sprintf("%d..%d", d.RangeMin, d.RangeMax)
		}
		rows = append(rows, []string{strconv.Itoa(d.ID), d.Name, string(d.Kind), rng})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "Name", "Kind", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 1 {
				return tableNameStyle
			}
			return tableCellStyle
		})
	return t.Render()
}
