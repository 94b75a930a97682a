package state

import (
	"context"
	"expvar"
	"fmt"
	"strings"

	"github.com/avast/retry-go/v4"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/onuctl/internal/automation"
	"github.com/temoto/onuctl/internal/console"
	"github.com/temoto/onuctl/internal/dnsrelay"
	"github.com/temoto/onuctl/log2"
	"golang.org/x/sync/errgroup"
)

// Service is common lifecycle of relay, automation client and console.
type Service interface {
	Start(ctx context.Context) error
	Stop()
}

type Global struct {
	Alive      *alive.Alive
	Automation *automation.Client
	Commands   *console.Commands
	Config     *Config
	Console    *console.Server
	DNS        *dnsrelay.Server
	Log        *log2.Log
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// Init creates services from config, nothing is started yet.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if err := cfg.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	if level, ok := log2.ParseLevel(cfg.LogLevel); ok {
		g.Log.SetLevel(level)
	}

	g.Automation = automation.NewClient(&cfg.Automation, g.componentLog("automation: ", cfg.Automation.LogDebug))
	g.Commands = &console.Commands{
		Log:        g.componentLog("command: ", false),
		Automation: g.Automation,
		Stat:       g.StatString,
	}
	if cfg.DNS.Enabled {
		g.DNS = dnsrelay.NewServer(&cfg.DNS, g.componentLog("dns: ", cfg.DNS.LogDebug))
	}
	if cfg.Console.Enabled {
		g.Console = console.NewServer(&cfg.Console, g.Commands, g.componentLog("console: ", cfg.Console.LogDebug))
	}
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Errorf(errors.ErrorStack(err))
	}
}

// Services returns enabled services by name.
func (g *Global) Services() map[string]Service {
	m := make(map[string]Service, 3)
	if g.DNS != nil {
		m["dns"] = g.DNS
	}
	if g.Console != nil {
		m["console"] = g.Console
	}
	if g.Automation != nil && g.Config.Automation.Autostart {
		m["automation"] = g.Automation
	}
	return m
}

// StartServices starts every enabled service concurrently.
// Failed start (e.g. port busy) is retried every start_retry_sec.
func (g *Global) StartServices(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for name, svc := range g.Services() {
		name, svc := name, svc
		eg.Go(func() error {
			err := retry.Do(
				func() error { return svc.Start(ctx) },
				retry.Context(ctx),
				retry.Attempts(uint(g.Config.StartAttempts)),
				retry.Delay(g.Config.StartRetry()),
				retry.DelayType(retry.FixedDelay),
				retry.LastErrorOnly(true),
				retry.OnRetry(func(n uint, err error) {
					g.Log.Errorf("start %s attempt=%d err=%v", name, n+1, err)
				}),
			)
			return errors.Annotatef(err, "start %s", name)
		})
	}
	return eg.Wait()
}

// StopServices stops automation (with its stop sequence) and servers concurrently.
func (g *Global) StopServices() {
	var eg errgroup.Group
	stop := func(svc Service) {
		eg.Go(func() error { svc.Stop(); return nil })
	}
	if g.Automation != nil {
		stop(g.Automation)
	}
	if g.DNS != nil {
		stop(g.DNS)
	}
	if g.Console != nil {
		stop(g.Console)
	}
	_ = eg.Wait()
}

// StatString prints counters published under onuctl.* expvar names.
func (g *Global) StatString() string {
	parts := make([]string, 0, 3)
	expvar.Do(func(kv expvar.KeyValue) {
		if strings.HasPrefix(kv.Key, "onuctl.") {
			parts = append(parts, fmt.Sprintf("%q:%s", kv.Key, kv.Value.String()))
		}
	})
	return "{" + strings.Join(parts, ",") + "}"
}

// PublishStat registers component counters with expvar, once per process.
func (g *Global) PublishStat() {
	if g.DNS != nil {
		expvar.Publish("onuctl.dns", g.DNS.Stat())
	}
	if g.Console != nil {
		expvar.Publish("onuctl.console", g.Console.Stat())
	}
	if g.Automation != nil {
		expvar.Publish("onuctl.automation", g.Automation.Stat())
	}
}

func (g *Global) componentLog(prefix string, debug bool) *log2.Log {
	level := g.Log.Level()
	if debug && level < log2.LDebug {
		level = log2.LDebug
	}
	l := g.Log.Clone(level)
	l.SetPrefix(prefix)
	return l
}
