package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/rzpanel/pkg/stage"
)

type Options struct {
	Config string `short:"c" long:"config" description:"Configuration file (.json, .yaml or .yml; default rzpanel.json)"`

	Run       RunCommand       `command:"run" description:"Start the control panel"`
	Ports     PortsCommand     `command:"ports" description:"List serial ports and probe them for servos"`
	Calibrate CalibrateCommand `command:"calibrate" description:"Record the travel range of a servo axis"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "rzpanel - control panel for a two-axis R/Z positioning stage"

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

func configPath() string {
	if opts.Config == "" {
		return stage.DefaultConfigFile
	}
	return opts.Config
}

// loadConfig reads the configuration file, or returns the defaults when it
// does not exist yet.
func loadConfig() (*stage.Config, error) {
	path := configPath()
	if !stage.ConfigExists(path) {
		cfg := stage.Default()
		return &cfg, nil
	}
	cfg, err := stage.LoadConfigFrom(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}
