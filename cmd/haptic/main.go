package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/haptic/pkg/rig"
)

type Options struct {
	Config string `short:"c" long:"config" default:"haptic.json" description:"Rig configuration file"`

	Setup   SetupCommand   `command:"setup" description:"Scan for controllers and assign their roles"`
	Probe   ProbeCommand   `command:"probe" description:"Check that both controllers respond"`
	Run     RunCommand     `command:"run" description:"Execute a sequence file"`
	Jog     JogCommand     `command:"jog" description:"Move the transport by hand"`
	History HistoryCommand `command:"history" description:"List recorded runs"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "Haptic - sequencing CLI for the transport and actuator controllers"

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

// loadConfig reads the rig configuration or exits with a hint to run setup.
func loadConfig() *rig.Config {
	cfg, err := rig.LoadConfigFrom(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "No configuration found in %s. Run 'haptic setup' first.\n", opts.Config)
		os.Exit(1)
	}
	if !cfg.IsConfigured() {
		fmt.Fprintln(os.Stderr, "Controllers not configured. Run 'haptic setup' first.")
		os.Exit(1)
	}
	return cfg
}
