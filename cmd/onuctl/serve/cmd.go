package serve

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/onuctl/cmd/onuctl/subcmd"
	"github.com/temoto/onuctl/state"
)

var Mod = subcmd.Mod{Name: "run", Main: Main}

// Main runs enabled services until g.Alive is stopped.
func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.Log.Debugf("config=%+v", g.Config)
	g.PublishStat()

	// start retry loop must not outlive shutdown
	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-g.Alive.StopChan()
		cancel()
	}()
	if err := g.StartServices(startCtx); err != nil {
		g.StopServices()
		if !g.Alive.IsRunning() {
			return nil
		}
		return errors.Annotate(err, "start services")
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("services=%d running", len(g.Services()))

	<-g.Alive.StopChan()
	subcmd.SdNotify(daemon.SdNotifyStopping)
	g.Log.Infof("stopping")
	g.StopServices()
	return nil
}
