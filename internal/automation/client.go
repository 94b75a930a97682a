// Package automation drives remote host through scripted telnet sessions.
// Run sequence is repeated until Stop, then stop sequence is executed once
// over a fresh connection.
package automation

import (
	"context"
	"expvar"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/onuctl/helpers"
	automation_config "github.com/temoto/onuctl/internal/automation/config"
	"github.com/temoto/onuctl/internal/telnet"
	"github.com/temoto/onuctl/log2"
)

const (
	PromptLogin    = "Login:"
	PromptPassword = "Password:"
	PromptShell    = "#"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateNegotiating
	StateAuthenticating
	StateExecuting
)

var stateNames = [...]string{"disconnected", "connecting", "negotiating", "authenticating", "executing"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Sequence is ordered list of send/expect steps.
type Sequence []automation_config.Step

type Stat struct {
	Cycles        expvar.Int
	Failures      expvar.Int
	Pauses        expvar.Int
	StopSequences expvar.Int
	Session       telnet.Stat
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"cycles":%d,"failures":%d,"pauses":%d,"stop_sequences":%d,"session":%s}`,
		s.Cycles.Value(), s.Failures.Value(), s.Pauses.Value(), s.StopSequences.Value(), s.Session.String())
}

var ErrStopping = errors.New("automation stop sequence in progress")

type Client struct {
	alive    *alive.Alive
	attempts int32
	backoff  helpers.Backoff
	config   *automation_config.Config
	dialer   net.Dialer
	log      *log2.Log
	mu       sync.Mutex // guards alive, never held during IO
	state    int32
	stat     Stat
	stopMu   sync.Mutex // one Stop at a time
	stopping int32
}

func NewClient(config *automation_config.Config, log *log2.Log) *Client {
	config.ApplyDefaults()
	c := &Client{
		config: config,
		log:    log,
	}
	c.backoff = helpers.Backoff{
		Min: config.ReconnectDelay(),
		Max: config.ReconnectMax(),
		K:   config.BackoffMultiplier,
	}
	return c
}

// Attempts is current number of consecutive failed cycles.
func (c *Client) Attempts() int { return int(atomic.LoadInt32(&c.attempts)) }
func (c *Client) State() State  { return State(atomic.LoadInt32(&c.state)) }
func (c *Client) Stat() *Stat   { return &c.stat }

// Stopping is true while stop sequence is running.
func (c *Client) Stopping() bool { return atomic.LoadInt32(&c.stopping) != 0 }

func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive != nil && c.alive.IsRunning()
}

func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alive != nil && c.alive.IsRunning() {
		c.log.Warning("automation already running")
		return nil
	}
	if c.Stopping() {
		return ErrStopping
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.config.Validate(); err != nil {
		return errors.Trace(err)
	}
	atomic.StoreInt32(&c.attempts, 0)
	c.backoff.Reset()

	a := alive.NewAlive()
	a.Add(1)
	c.alive = a
	go c.run(a)
	return nil
}

// Stop interrupts run loop, waits for it to finish,
// then executes stop sequence once. Failure is only logged.
// Start is refused with ErrStopping until then.
func (c *Client) Stop() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	c.mu.Lock()
	a := c.alive
	running := a != nil && a.IsRunning()
	if running {
		atomic.StoreInt32(&c.stopping, 1)
	}
	c.mu.Unlock()
	if !running {
		return
	}
	defer atomic.StoreInt32(&c.stopping, 0)

	a.Stop()
	a.Wait()
	c.runStop()
}

func (c *Client) run(a *alive.Alive) {
	defer a.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	c.log.Infof("start addr=%s steps=%d", c.config.Addr(), len(c.config.Run))
	for a.IsRunning() {
		err := c.cycle(ctx, Sequence(c.config.Run), c.config.Timeout())
		if !a.IsRunning() {
			break
		}
		if helpers.Sleep(ctx, nil, c.afterCycle(err)) != nil {
			break
		}
	}
	c.log.Infof("run loop stopped")
}

// afterCycle updates attempt counter and returns delay before next cycle.
func (c *Client) afterCycle(err error) time.Duration {
	if err == nil {
		c.stat.Cycles.Add(1)
		atomic.StoreInt32(&c.attempts, 0)
		c.log.Infof("cycle complete")
		return c.backoff.DelayAfter(true)
	}

	c.stat.Failures.Add(1)
	n := int(atomic.AddInt32(&c.attempts, 1))
	c.log.Errorf("cycle attempt=%d/%d err=%v", n, c.config.MaxAttemptsBeforePause, err)
	if n >= c.config.MaxAttemptsBeforePause {
		c.stat.Pauses.Add(1)
		atomic.StoreInt32(&c.attempts, 0)
		c.log.Infof("max attempts reached, pause %v", c.config.Pause())
		return c.config.Pause() + c.backoff.DelayAfter(true)
	}
	return c.backoff.DelayAfter(false)
}

func (c *Client) runStop() {
	c.stat.StopSequences.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), c.config.StopTimeout())
	defer cancel()
	c.log.Infof("stop sequence steps=%d", len(c.config.Stop))
	if err := c.cycle(ctx, Sequence(c.config.Stop), c.config.Timeout()); err != nil {
		c.log.Errorf("stop sequence err=%v", err)
		return
	}
	c.log.Infof("stop sequence complete")
}

var negotiation = [...]struct{ cmd, opt byte }{
	{telnet.DONT, telnet.Echo},
	{telnet.WILL, telnet.SGA},
	{telnet.DONT, telnet.TerminalType},
	{telnet.DONT, telnet.NAWS},
}

// cycle is one session: connect, negotiate, login, execute seq.
// timeout applies to dial and to every step separately.
func (c *Client) cycle(ctx context.Context, seq Sequence, timeout time.Duration) (err error) {
	defer errors.DeferredAnnotatef(&err, "addr=%s", c.config.Addr())
	defer c.setState(StateDisconnected)

	c.setState(StateConnecting)
	opt := telnet.ConnOptions{
		Log:            c.log,
		Policy:         telnet.ClientPolicy,
		PollInterval:   c.config.Poll(),
		NetworkTimeout: timeout,
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	conn, err := telnet.Dial(dctx, c.dialer, c.config.Addr(), opt)
	cancel()
	if err != nil {
		return errors.Annotate(err, "connect")
	}
	defer func() {
		_ = conn.Close()
		c.stat.Session.AddMoveFrom(conn.Stat())
	}()
	c.log.Debugf("connected %s", conn.String())

	c.setState(StateNegotiating)
	for _, n := range negotiation {
		if err := conn.Command(n.cmd, n.opt); err != nil {
			return errors.Annotate(err, "negotiate")
		}
	}

	c.setState(StateAuthenticating)
	if err := c.step(ctx, conn, timeout, "", PromptLogin); err != nil {
		return errors.Annotate(err, "login")
	}
	if err := c.step(ctx, conn, timeout, c.config.Username, PromptPassword); err != nil {
		return errors.Annotate(err, "username")
	}
	if err := c.step(ctx, conn, timeout, c.config.Password, PromptShell); err != nil {
		return errors.Annotate(err, "password")
	}

	c.setState(StateExecuting)
	for i := range seq {
		s := &seq[i]
		c.log.Debugf("step %s", s.String())
		if err := c.step(ctx, conn, timeout, s.Send, s.Expect); err != nil {
			return errors.Annotatef(err, "step %s", s.Name)
		}
	}
	return nil
}

// step sends line, CR appended unless present, and waits for expect substring.
// Empty send only waits, empty expect does not wait.
func (c *Client) step(ctx context.Context, conn *telnet.Conn, timeout time.Duration, send, expect string) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if send != "" {
		if !strings.HasSuffix(send, "\r") {
			send += "\r"
		}
		if err := conn.WriteString(sctx, send); err != nil {
			return errors.Annotate(err, "send")
		}
	}
	if seen, err := conn.Expect(sctx, expect); err != nil {
		return errors.Annotatef(err, "expect=%q seen=%q", expect, seen)
	}
	return nil
}

func (c *Client) setState(s State) {
	if old := State(atomic.SwapInt32(&c.state, int32(s))); old != s {
		c.log.Debugf("state %s -> %s", old, s)
	}
}
