package console

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/temoto/onuctl/log2"
)

// Controller is a service the operator may start and stop.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// Commands is built-in Dispatcher with device vocabulary.
type Commands struct {
	Log        *log2.Log
	Automation Controller
	Stat       func() string

	// runs Stop without blocking the session, replaced in tests
	async func(func())
}

var commandAliases = map[string]string{
	"f660":     "automation",
	"f660stop": "automation-stop",
}

func (c *Commands) Help() string {
	names := []string{"help", CommandExit, "automation", "automation-stop", "stat"}
	for alias := range commandAliases {
		names = append(names, alias)
	}
	sort.Strings(names[2:])
	return "Available commands: " + strings.Join(names, ", ")
}

func (c *Commands) Dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return TextUnknown
	}
	name := fields[0]
	if target, ok := commandAliases[name]; ok {
		name = target
	}
	switch name {
	case "help":
		return c.Help()

	case CommandExit:
		return TextFarewell

	case "automation":
		if c.Automation == nil {
			return "Automation is not configured."
		}
		if c.Automation.IsRunning() {
			return "Automation already running."
		}
		if err := c.Automation.Start(context.Background()); err != nil {
			c.Log.Errorf("automation start err=%v", err)
			return fmt.Sprintf("Automation start error: %v", err)
		}
		return "Automation started."

	case "automation-stop":
		if c.Automation == nil {
			return "Automation is not configured."
		}
		if !c.Automation.IsRunning() {
			return "Automation is not running."
		}
		run := c.async
		if run == nil {
			run = func(f func()) { go f() }
		}
		run(c.Automation.Stop)
		return "Automation stopping."

	case "stat":
		if c.Stat == nil {
			return "{}"
		}
		return c.Stat()
	}
	return TextUnknown
}
