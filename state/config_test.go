package state

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	automation_config "github.com/temoto/onuctl/internal/automation/config"
	console_config "github.com/temoto/onuctl/internal/console/config"
	dnsrelay_config "github.com/temoto/onuctl/internal/dnsrelay/config"
	"github.com/temoto/onuctl/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Global)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, g *Global) {
			assert.Nil(t, g.DNS)
			assert.Nil(t, g.Console)
			require.NotNil(t, g.Automation)
			assert.Empty(t, g.Services())
			assert.Equal(t, automation_config.DefaultHost, g.Config.Automation.Host)
			assert.Equal(t, automation_config.DefaultRun, g.Config.Automation.Run)
			assert.Equal(t, console_config.DefaultMaxClients, g.Config.Console.MaxClients)
			assert.Equal(t, dnsrelay_config.DefaultUpstreams, g.Config.DNS.Upstreams)
			assert.Equal(t, DefaultStartRetry, g.Config.StartRetry())
		}, ""},

		{"dns", `
dns {
	enable = true
	listen = "127.0.0.1:5353"
	upstreams = ["8.8.8.8", "1.1.1.1:53"]
	query_timeout_ms = 700
	fallback_ip = "10.1.1.1"
}`,
			func(t testing.TB, g *Global) {
				require.NotNil(t, g.DNS)
				assert.Equal(t, []string{"8.8.8.8", "1.1.1.1:53"}, g.Config.DNS.Upstreams)
				assert.Equal(t, 700*time.Millisecond, g.Config.DNS.QueryTimeout())
				assert.Equal(t, dnsrelay_config.DefaultMinDelay, g.Config.DNS.MinDelay())
				assert.Contains(t, g.Services(), "dns")
			}, ""},

		{"automation", `
automation {
	autostart = true
	host = "10.0.0.2"
	port = 2323
	timeout_ms = 3000
	max_attempts_before_pause = 5
	backoff_multiplier = 1.5
	run "b-second-name" { send = "uptime" expect = "#" }
	run "a-first-name" { send = "exit 0" }
	stop "only" { send = "reboot" }
}`,
			func(t testing.TB, g *Global) {
				c := g.Config.Automation
				assert.Equal(t, "10.0.0.2:2323", c.Addr())
				assert.Equal(t, 3*time.Second, c.Timeout())
				assert.Equal(t, 3*time.Second, c.StopTimeout())
				assert.Equal(t, 5, c.MaxAttemptsBeforePause)
				assert.Equal(t, float32(1.5), c.BackoffMultiplier)
				assert.Equal(t, []automation_config.Step{
					{Name: "b-second-name", Send: "uptime", Expect: "#"},
					{Name: "a-first-name", Send: "exit 0"},
				}, c.Run)
				assert.Equal(t, []automation_config.Step{{Name: "only", Send: "reboot"}}, c.Stop)
				assert.Contains(t, g.Services(), "automation")
			}, ""},

		{"console", `console { enable = true listen = "127.0.0.1:2323" max_clients = 2 inactivity_timeout_sec = 60 log_debug = true }`,
			func(t testing.TB, g *Global) {
				require.NotNil(t, g.Console)
				assert.Equal(t, 2, g.Config.Console.MaxClients)
				assert.Equal(t, time.Minute, g.Config.Console.InactivityTimeout())
				assert.Equal(t, console_config.DefaultPassword, g.Config.Console.Password)
			}, ""},

		{"include-normalize", `
log_level = "debug"
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "console-port" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, g *Global) {
				assert.Equal(t, "127.0.0.1:2424", g.Config.Console.Listen)
			}, ""},

		{"include-overwrites", `
console { listen = "127.0.0.1:1" }
include "console-port" {}`,
			func(t testing.TB, g *Global) {
				assert.Equal(t, "127.0.0.1:2424", g.Config.Console.Listen)
			}, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-log-level", `log_level = "loud"`, nil, "log_level=loud not valid"},
		{"error-dns-fallback", `dns { enable = true fallback_ip = "::1" }`, nil, "dns.fallback_ip=::1 (IPv4 required) not valid"},
		{"disabled-dns-not-validated", `dns { fallback_ip = "::1" }`, nil, ""},
		{"error-automation-port", `automation { port = 70000 }`, nil, "automation.port=70000 not valid"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			ctx, g := NewContext(log)

			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"console-port": `console { listen = "127.0.0.1:2424" }`,
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if err == nil {
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				assert.Equal(t, g, GetGlobal(ctx))
				if c.check != nil {
					c.check(t, g)
				}
			} else {
				require.Error(t, err)
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../onuctl.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	c := MustReadConfig(log, NewOsFullReader(), "../onuctl.hcl")
	assert.True(t, c.DNS.Enabled)
	assert.True(t, c.Console.Enabled)
}

func TestServicesStartStop(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	ctx, g := NewContext(log)
	fs := NewMockFullReader(map[string]string{"test-inline": `
dns { enable = true listen = "127.0.0.1:0" upstreams = ["127.0.0.1:9"] }
console { enable = true listen = "127.0.0.1:0" }
`})
	g.MustInit(ctx, MustReadConfig(log, fs, "test-inline"))
	require.NoError(t, g.StartServices(ctx))
	assert.NotNil(t, g.DNS.Addr())
	assert.NotNil(t, g.Console.Addr())
	assert.False(t, g.Automation.IsRunning())

	g.StopServices()
	assert.Nil(t, g.DNS.Addr())
	assert.Nil(t, g.Console.Addr())
	assert.Equal(t, int64(0), g.Automation.Stat().StopSequences.Value())
}

func TestServicesStartRetry(t *testing.T) {
	t.Parallel()
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	log := log2.NewTest(t, log2.LDebug)
	ctx, g := NewContext(log)
	fs := NewMockFullReader(map[string]string{"test-inline": `
start_retry_sec = 1
start_attempts = 2
console { enable = true listen = "` + busy.Addr().String() + `" }
`})
	g.MustInit(ctx, MustReadConfig(log, fs, "test-inline"))
	begin := time.Now()
	err = g.StartServices(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start console")
	assert.True(t, time.Since(begin) >= time.Second)
	assert.Nil(t, g.Console.Addr())
}
