// Separate package is workaround to import cycles.
package automation_config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/onuctl/helpers"
)

const (
	DefaultHost                   = "192.168.100.1"
	DefaultPort                   = 23
	DefaultTimeout                = 15 * time.Second
	DefaultReconnectDelay         = 1 * time.Second
	DefaultMaxAttemptsBeforePause = 3
	DefaultPause                  = 5 * time.Second
	DefaultPoll                   = 50 * time.Millisecond
	DefaultUsername               = "root"
	DefaultPassword               = "Zte521"
)

// DefaultRun bounces the uplink interface on the remote host.
var DefaultRun = []Step{
	{Name: "link-down", Send: "ip link set dev eth3 down", Expect: "#"},
	{Name: "sleep", Send: "sleep 3", Expect: "#"},
	{Name: "link-up", Send: "ip link set dev eth3 up", Expect: "#"},
	{Name: "exit", Send: "exit 0"},
}

// DefaultStop leaves the uplink interface up.
var DefaultStop = []Step{
	{Name: "link-up", Send: "ip link set dev eth3 up", Expect: "#"},
	{Name: "exit", Send: "exit 0"},
}

type Config struct { //nolint:maligned
	Autostart bool `hcl:"autostart"`
	LogDebug  bool `hcl:"log_debug"`

	Host     string `hcl:"host"`
	Port     int    `hcl:"port"`
	Username string `hcl:"username"`
	Password string `hcl:"password"`

	TimeoutMs              int     `hcl:"timeout_ms"`      // dial, login and each step
	StopTimeoutMs          int     `hcl:"stop_timeout_ms"` // whole stop sequence, default timeout_ms
	ReconnectDelayMs       int     `hcl:"reconnect_delay_ms"`
	ReconnectMaxMs         int     `hcl:"reconnect_max_ms"`
	BackoffMultiplier      float32 `hcl:"backoff_multiplier"` // 1 = constant reconnect delay
	MaxAttemptsBeforePause int     `hcl:"max_attempts_before_pause"`
	PauseMs                int     `hcl:"pause_ms"`
	PollMs                 int     `hcl:"poll_ms"`

	Run  []Step `hcl:"run"`
	Stop []Step `hcl:"stop"`
}

type Step struct {
	Name   string `hcl:"name,key"`
	Send   string `hcl:"send"`
	Expect string `hcl:"expect"` // empty = do not wait
}

func (self *Step) String() string { return fmt.Sprintf("%s send=%q expect=%q", self.Name, self.Send, self.Expect) }

func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Username == "" {
		c.Username = DefaultUsername
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.MaxAttemptsBeforePause == 0 {
		c.MaxAttemptsBeforePause = DefaultMaxAttemptsBeforePause
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = 1
	}
	if len(c.Run) == 0 {
		c.Run = append([]Step(nil), DefaultRun...)
	}
	if len(c.Stop) == 0 {
		c.Stop = append([]Step(nil), DefaultStop...)
	}
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.NotValidf("automation.host empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NotValidf("automation.port=%d", c.Port)
	}
	if c.TimeoutMs < 0 || c.StopTimeoutMs < 0 || c.ReconnectDelayMs < 0 || c.ReconnectMaxMs < 0 || c.PauseMs < 0 || c.PollMs < 0 {
		return errors.NotValidf("automation negative duration")
	}
	if c.BackoffMultiplier < 1 {
		return errors.NotValidf("automation.backoff_multiplier=%f must be >=1", c.BackoffMultiplier)
	}
	if c.MaxAttemptsBeforePause < 1 {
		return errors.NotValidf("automation.max_attempts_before_pause=%d", c.MaxAttemptsBeforePause)
	}
	for i, s := range c.Run {
		if s.Send == "" {
			return errors.NotValidf("automation.run[%d] %s empty send", i, s.Name)
		}
	}
	for i, s := range c.Stop {
		if s.Send == "" {
			return errors.NotValidf("automation.stop[%d] %s empty send", i, s.Name)
		}
	}
	return nil
}

func (c *Config) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

func (c *Config) Timeout() time.Duration {
	return helpers.IntMillisecondDefault(c.TimeoutMs, DefaultTimeout)
}
func (c *Config) StopTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.StopTimeoutMs, c.Timeout())
}
func (c *Config) ReconnectDelay() time.Duration {
	return helpers.IntMillisecondDefault(c.ReconnectDelayMs, DefaultReconnectDelay)
}
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxMs) * time.Millisecond
}
func (c *Config) Pause() time.Duration {
	return helpers.IntMillisecondDefault(c.PauseMs, DefaultPause)
}
func (c *Config) Poll() time.Duration {
	return helpers.IntMillisecondDefault(c.PollMs, DefaultPoll)
}
