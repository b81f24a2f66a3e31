package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/gwillem/haptic/pkg/rig"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// resetDelay is how long a controller takes to boot after its port is
// opened. Most boards reset on open.
const resetDelay = 2 * time.Second

type SetupCommand struct {
	Baud int `long:"baud" default:"115200" description:"Serial baud rate of both controllers"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Haptic Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	cfg := rig.DefaultConfig()
	if existing, err := rig.LoadConfigFrom(opts.Config); err == nil {
		cfg = existing
	}
	portOpts := rig.PortOptions{BaudRate: c.Baud}

	// Step 1: find controllers
	found := scanForControllers(portOpts)
	if len(found) == 0 {
		fmt.Println("No controllers answered the readiness probe.")
		fmt.Println("Make sure both boards are connected and running their firmware.")
		os.Exit(1)
	}
	fmt.Printf("Found %d controller(s). Let's identify them...\n\n", len(found))

	// Step 2: assign roles
	assigned := make(map[rig.Role]string)
	for _, port := range found {
		role := askRole(port, assigned)
		if role == "" {
			continue
		}
		assigned[role] = port
		if len(assigned) == len(rig.AllRoles()) {
			break
		}
	}

	for _, role := range rig.AllRoles() {
		if assigned[role] == "" {
			fmt.Println(errorStyle.Render(fmt.Sprintf("No %s controller identified.", role)))
			fmt.Println("Both transport and actuator are required to run sequences.")
			os.Exit(1)
		}
		link := cfg.Link(role)
		link.Port = assigned[role]
		link.Options = portOpts
	}

	// Step 3: calibration
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Axis Calibration ━━━"))
	fmt.Println()
	askCalibration(&cfg.Calibration)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("  Transport: %s\n", cfg.Transport.Port)
	fmt.Printf("  Actuator:  %s\n", cfg.Actuator.Port)
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Run a sequence with: " + headerStyle.Render("haptic run <sequence.yaml>"))

	return nil
}

// scanForControllers opens every serial port and keeps those that answer R.
func scanForControllers(portOpts rig.PortOptions) []string {
	fmt.Println("Scanning serial ports...")
	fmt.Println()

	ports, err := rig.ListPorts()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var found []string
	for _, port := range ports {
		if err := probePort(port, portOpts); err != nil {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  %s: %v", port, err)))
			continue
		}
		fmt.Printf("  Found controller on %s\n", port)
		found = append(found, port)
	}
	return found
}

func probePort(port string, portOpts rig.PortOptions) error {
	link, err := rig.OpenSerial(port, portOpts)
	if err != nil {
		return err
	}
	defer link.Close()

	time.Sleep(resetDelay)
	client := rig.NewClient(rig.Role(port), link)
	return client.ProbeReady(context.Background(), rig.DefaultProbeTimeout)
}

func askRole(port string, assigned map[rig.Role]string) rig.Role {
	var options []huh.Option[rig.Role]
	if assigned[rig.Transport] == "" {
		options = append(options, huh.NewOption("Transport (moves the actuator over the surface)", rig.Transport))
	}
	if assigned[rig.Actuator] == "" {
		options = append(options, huh.NewOption("Actuator (force, vibration and heat output)", rig.Actuator))
	}
	options = append(options, huh.NewOption("Skip this port", rig.Role("")))

	var role rig.Role
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[rig.Role]().
				Title(fmt.Sprintf("Which controller is on %s?", port)).
				Description("The board answered Ready").
				Options(options...).
				Value(&role),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return role
}

func askCalibration(cal *rig.Calibration) {
	x := strconv.FormatFloat(cal.ScaleX, 'g', -1, 64)
	y := strconv.FormatFloat(cal.ScaleY, 'g', -1, 64)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("X scale").
				Description("Controller units per logical millimetre along X").
				Value(&x).
				Validate(validateScale),
			huh.NewInput().
				Title("Y scale").
				Description("Controller units per logical millimetre along Y").
				Value(&y).
				Validate(validateScale),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	cal.ScaleX, _ = strconv.ParseFloat(x, 64)
	cal.ScaleY, _ = strconv.ParseFloat(y, 64)
}

func validateScale(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number")
	}
	return rig.Calibration{ScaleX: v, ScaleY: v}.Validate()
}
