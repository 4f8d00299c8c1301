package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"go.bug.st/serial"

	"github.com/gwillem/servochoreo/pkg/robot"
)

type InitCommand struct {
	Defaults bool `long:"defaults" description:"Write the default configuration without asking"`
	Force    bool `short:"f" long:"force" description:"Overwrite an existing configuration"`
}

func (c *InitCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Choreo Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	if robot.ConfigExists(opts.Config) && !c.Force {
		overwrite := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("%s already exists. Overwrite?", opts.Config)).
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil || !overwrite {
			fmt.Println("Keeping existing configuration.")
			return nil
		}
	}

	cfg := robot.Default()
	if !c.Defaults {
		if err := askConfig(cfg); err != nil {
			fmt.Println()
			os.Exit(0)
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Start the choreography with: " + headerStyle.Render("choreo run"))
	return nil
}

// askConfig fills the bus and plan basics from an interactive form.
func askConfig(cfg *robot.Config) error {
	port := cfg.Port
	var portOptions []huh.Option[string]
	if ports, err := serial.GetPortsList(); err == nil {
		for _, p := range ports {
			portOptions = append(portOptions, huh.NewOption(p, p))
		}
	}

	baud := strconv.Itoa(cfg.BaudRate)
	torque := strconv.Itoa(cfg.TorqueLimit)
	loops := strconv.Itoa(cfg.Plan.Loops)
	width := strconv.Itoa(cfg.PositionWidth)
	driver := cfg.Plan.Driver.ID

	var driverOptions []huh.Option[int]
	for _, id := range cfg.Actuators.IDs() {
		driverOptions = append(driverOptions, huh.NewOption(robot.Name(id), id))
	}

	var portField huh.Field
	if len(portOptions) > 0 {
		portOptions = append(portOptions, huh.NewOption(cfg.Port+" (default)", cfg.Port))
		portField = huh.NewSelect[string]().
			Title("Serial port").
			Options(portOptions...).
			Value(&port)
	} else {
		portField = huh.NewInput().
			Title("Serial port").
			Value(&port)
	}

	form := huh.NewForm(
		huh.NewGroup(
			portField,
			huh.NewInput().
				Title("Baud rate").
				Value(&baud).
				Validate(positiveInt),
			huh.NewSelect[string]().
				Title("Position register width").
				Description("4 bytes is legacy access that includes the speed word (moving speed is written as 0)").
				Options(huh.NewOption("2 bytes", "2"), huh.NewOption("4 bytes (legacy, with speed word)", "4")).
				Value(&width),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Torque limit (0-1023)").
				Value(&torque).
				Validate(intInRange(0, 1023)),
			huh.NewSelect[int]().
				Title("Driving actuator").
				Description("Steps through its trajectory; the others sweep after every step").
				Options(driverOptions...).
				Value(&driver),
			huh.NewInput().
				Title("Loops").
				Description("0 repeats until stopped").
				Value(&loops).
				Validate(intInRange(0, 1_000_000)),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Port = port
	cfg.BaudRate, _ = strconv.Atoi(baud)
	cfg.PositionWidth, _ = strconv.Atoi(width)
	cfg.TorqueLimit, _ = strconv.Atoi(torque)
	cfg.Plan.Loops, _ = strconv.Atoi(loops)
	if act, ok := cfg.Actuators.ByID(driver); ok && driver != cfg.Plan.Driver.ID {
		cfg.Plan.Driver.ID = driver
		cfg.Plan.Driver.Start = act.Home
	}
	return nil
}

func positiveInt(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return fmt.Errorf("enter a positive number")
	}
	return nil
}

func intInRange(lo, hi int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil || v < lo || v > hi {
			return fmt.Errorf("enter a number between %d and %d", lo, hi)
		}
		return nil
	}
}

// confirm asks a yes/no question. Interrupting the prompt counts as no.
func confirm(title, description string) bool {
	ok := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Start").
				Negative("Cancel").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		return false
	}
	return ok
}
