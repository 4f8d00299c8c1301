package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"choreo.json" description:"Configuration file"`
	Simulate bool   `long:"simulate" description:"Run against simulated actuators instead of the serial bus"`
	Verbose  bool   `short:"v" long:"verbose" description:"Log every poll"`
	LogFile  string `long:"log-file" description:"Write logs to this file"`

	Init   InitCommand   `command:"init" description:"Write a configuration file"`
	Run    RunCommand    `command:"run" description:"Run the choreography plan"`
	Sweep  SweepCommand  `command:"sweep" description:"Hold all actuators and sweep some of them"`
	Home   HomeCommand   `command:"home" description:"Move every actuator to its home position"`
	Poses  PosesCommand  `command:"poses" description:"Step through the configured keyframe poses"`
	Status StatusCommand `command:"status" description:"Show present position and load of every actuator"`
	Relax  RelaxCommand  `command:"relax" description:"Disable torque on every actuator"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "choreo - closed-loop Dynamixel choreography runner"

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
