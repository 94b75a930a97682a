package shell

import (
	"context"
	"fmt"
	"os"

	"github.com/coreos/go-systemd/daemon"
	"github.com/temoto/onuctl/cmd/onuctl/subcmd"
	"github.com/temoto/onuctl/helpers/cli"
	"github.com/temoto/onuctl/internal/console"
	"github.com/temoto/onuctl/state"
)

const modName = "cli"

var Mod = subcmd.Mod{Name: modName, Main: Main}

// Main runs enabled services plus local operator console:
// same commands as telnet console, no authentication.
func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.PublishStat()

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	started := make(chan struct{})
	go func() {
		defer close(started)
		if err := g.StartServices(startCtx); err != nil && g.Alive.IsRunning() {
			g.Error(err, "start services")
		}
	}()
	subcmd.SdNotify(daemon.SdNotifyReady)

	r := console.NewWriterResponder(os.Stdout, "\n")
	exec := func(line string) {
		switch err := console.Handle(g.Commands, r, line); err {
		case nil:
		case console.ErrExit:
			g.Alive.Stop()
		default:
			g.Error(err)
		}
	}
	fmt.Fprintln(os.Stdout, g.Commands.Help())

	done := make(chan error, 1)
	go func() {
		done <- cli.MainLoop(modName, g.Alive.StopChan(), exec,
			cli.Suggest("help", console.CommandExit, "automation", "automation-stop", "f660", "f660stop", "stat"))
	}()
	var err error
	select {
	case err = <-done:
	case <-g.Alive.StopChan():
	}
	cancel()
	<-started
	g.StopServices()
	return err
}
