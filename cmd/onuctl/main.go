package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/temoto/onuctl/cmd/onuctl/serve"
	"github.com/temoto/onuctl/cmd/onuctl/shell"
	"github.com/temoto/onuctl/cmd/onuctl/subcmd"
	"github.com/temoto/onuctl/log2"
	"github.com/temoto/onuctl/state"
)

var log = log2.NewStderr(log2.LInfo)

var modules = []subcmd.Mod{
	serve.Mod,
	shell.Mod,
}

func main() {
	flagset := flag.NewFlagSet("onuctl", flag.ContinueOnError)
	flagConfig := flagset.String("config", "onuctl.hcl", "")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: onuctl [option...] [command=run]\nOptions:\n")
		flagset.PrintDefaults()
		fmt.Fprintf(flagset.Output(), "Commands:\n")
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %s\n", m.Name)
		}
	}
	if err := flagset.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return
		}
		log.Fatal(err)
	}

	command := flagset.Arg(0)
	if command == "" {
		command = serve.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flagset.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify("start " + mod.Name) {
		// under systemd, journal adds timestamps
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	ctx, g := state.NewContext(log)
	go handleSignals(g)

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	log.Infof("bye")
}

func handleSignals(g *state.Global) {
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigch
	g.Log.Infof("signal=%v, stopping", sig)
	g.Alive.Stop()
	// second signal while stop sequence is running
	<-sigch
	os.Exit(1)
}
