// Separate package is workaround to import cycles.
package console_config

import (
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/onuctl/helpers"
)

const (
	DefaultListen            = ":23"
	DefaultUsername          = "root"
	DefaultPassword          = "admin"
	DefaultMaxClients        = 4
	DefaultInactivityTimeout = 300 * time.Second
	DefaultRebindDelay       = 5 * time.Second
	DefaultPoll              = 50 * time.Millisecond
)

type Config struct { //nolint:maligned
	Enabled              bool   `hcl:"enable"`
	LogDebug             bool   `hcl:"log_debug"`
	Listen               string `hcl:"listen"`
	Username             string `hcl:"username"`
	Password             string `hcl:"password"`
	MaxClients           int    `hcl:"max_clients"`
	InactivityTimeoutSec int    `hcl:"inactivity_timeout_sec"`
	RebindDelaySec       int    `hcl:"rebind_delay_sec"`
	PollMs               int    `hcl:"poll_ms"`
}

func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Username == "" {
		c.Username = DefaultUsername
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.MaxClients == 0 {
		c.MaxClients = DefaultMaxClients
	}
}

func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.NotValidf("console.listen=%s", c.Listen)
	}
	if c.MaxClients < 1 {
		return errors.NotValidf("console.max_clients=%d", c.MaxClients)
	}
	if c.InactivityTimeoutSec < 0 || c.RebindDelaySec < 0 || c.PollMs < 0 {
		return errors.NotValidf("console negative duration")
	}
	return nil
}

func (c *Config) InactivityTimeout() time.Duration {
	return helpers.IntSecondDefault(c.InactivityTimeoutSec, DefaultInactivityTimeout)
}
func (c *Config) RebindDelay() time.Duration {
	return helpers.IntSecondDefault(c.RebindDelaySec, DefaultRebindDelay)
}
func (c *Config) Poll() time.Duration {
	return helpers.IntMillisecondDefault(c.PollMs, DefaultPoll)
}
