// Separate package is workaround to import cycles.
package dnsrelay_config

import (
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/onuctl/helpers"
)

const (
	DefaultListen       = "0.0.0.0:53"
	DefaultFallbackIP   = "192.168.6.1"
	DefaultQueryTimeout = 1000 * time.Millisecond
	DefaultMinDelay     = 100 * time.Millisecond
	DefaultPoll         = 50 * time.Millisecond
)

// DefaultUpstreams is ordered by priority, first answer wins.
var DefaultUpstreams = []string{
	"194.158.196.245",
	"86.57.255.149",
	"134.17.1.0",
	"134.17.1.1",
	"192.168.100.1",
	"192.168.100.2",
	"192.168.6.1",
	"192.168.2.1",
	"192.168.0.1",
	"10.0.0.1",
	"172.16.0.1",
	"127.0.0.1",
}

type Config struct { //nolint:maligned
	Enabled        bool     `hcl:"enable"`
	LogDebug       bool     `hcl:"log_debug"`
	Listen         string   `hcl:"listen"`
	Upstreams      []string `hcl:"upstreams"`
	QueryTimeoutMs int      `hcl:"query_timeout_ms"`
	MinDelayMs     int      `hcl:"min_delay_ms"`
	FallbackIP     string   `hcl:"fallback_ip"`
	PollMs         int      `hcl:"poll_ms"`
}

func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if len(c.Upstreams) == 0 {
		c.Upstreams = append([]string(nil), DefaultUpstreams...)
	}
	if c.FallbackIP == "" {
		c.FallbackIP = DefaultFallbackIP
	}
}

func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.NotValidf("dns.listen=%s", c.Listen)
	}
	if ip := net.ParseIP(c.FallbackIP); ip == nil || ip.To4() == nil {
		return errors.NotValidf("dns.fallback_ip=%s (IPv4 required)", c.FallbackIP)
	}
	if c.QueryTimeoutMs < 0 || c.MinDelayMs < 0 || c.PollMs < 0 {
		return errors.NotValidf("dns negative duration")
	}
	return nil
}

func (c *Config) QueryTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.QueryTimeoutMs, DefaultQueryTimeout)
}
func (c *Config) MinDelay() time.Duration {
	return helpers.IntMillisecondDefault(c.MinDelayMs, DefaultMinDelay)
}
func (c *Config) Poll() time.Duration {
	return helpers.IntMillisecondDefault(c.PollMs, DefaultPoll)
}
