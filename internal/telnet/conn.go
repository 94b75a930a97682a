package telnet

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/onuctl/helpers"
	"github.com/temoto/onuctl/helpers/atomic_clock"
	"github.com/temoto/onuctl/log2"
)

const (
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultNetworkTimeout = 30 * time.Second
	readBufferSize        = 256
)

var (
	ErrClosing = errors.New("closing")
	ErrIdle    = errors.New("inactivity timeout")
	ErrTimeout = errors.New("timeout")
)

type ConnOptions struct {
	Log    *log2.Log
	Policy Policy

	// Read deadline slice, context and idle limits are checked between slices.
	PollInterval time.Duration
	// Write deadline when context has none.
	NetworkTimeout time.Duration
}

// Conn is a telnet session over net.Conn.
// Reads are performed by one goroutine, writes may come from any.
type Conn struct {
	err    helpers.AtomicError
	last   atomic_clock.Clock
	engine *Engine
	net    net.Conn
	opt    ConnOptions
	stat   Stat
	r      io.Reader
	w      io.Writer
	wlk    sync.Mutex
	buf    []byte
	lines  []string
}

func NewConn(netConn net.Conn, opt ConnOptions) *Conn {
	if opt.PollInterval == 0 {
		opt.PollInterval = DefaultPollInterval
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.Policy.Local == nil && opt.Policy.Remote == nil {
		opt.Policy = ClientPolicy
	}
	c := &Conn{
		net: netConn,
		opt: opt,
		buf: make([]byte, readBufferSize),
	}
	if tcp, ok := c.net.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	c.r = helpers.NewStatReader(c.net, &c.stat.Recv.Size, 0)
	c.w = helpers.NewStatWriter(c.net, &c.stat.Send.Size, 0)
	c.engine = NewEngine(connWriter{c}, opt.Policy, opt.Log)
	c.stat.Conn.Add(1)
	c.last.SetNow()
	return c
}

// Dial connects with dialer timeout bounded by ctx deadline.
func Dial(ctx context.Context, dialer net.Dialer, addr string, opt ConnOptions) (*Conn, error) {
	if dialer.Timeout == 0 {
		dialer.Timeout = opt.NetworkTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout := time.Until(deadline)
		if timeout <= 0 {
			return nil, ErrTimeout
		}
		if dialer.Timeout == 0 || timeout < dialer.Timeout {
			dialer.Timeout = timeout
		}
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "dial addr=%s", addr)
	}
	return NewConn(conn, opt), nil
}

func (c *Conn) Close() error {
	return c.die(ErrClosing)
}

func (c *Conn) Closed() bool {
	_, ok := c.err.Load()
	return ok
}

func (c *Conn) Engine() *Engine              { return c.engine }
func (c *Conn) RemoteAddr() net.Addr         { return c.net.RemoteAddr() }
func (c *Conn) SinceLastRecv() time.Duration { return atomic_clock.Since(&c.last) }
func (c *Conn) Stat() *Stat                  { return &c.stat }
func (c *Conn) String() string               { return fmt.Sprintf("(remote=%s)", addrString(c.RemoteAddr())) }

// Command sends IAC cmd opt as our own request.
func (c *Conn) Command(cmd, opt byte) error {
	err := c.engine.Request(cmd, opt)
	if err != nil {
		_ = c.die(err)
	}
	return err
}

func (c *Conn) WriteString(ctx context.Context, s string) error {
	return c.write(ctx, []byte(s))
}

// ReadLine returns next complete line.
// idle>0 closes session with ErrIdle when peer sent nothing for that long.
func (c *Conn) ReadLine(ctx context.Context, idle time.Duration) (string, error) {
	for len(c.lines) == 0 {
		if err := c.fill(ctx, idle); err != nil {
			return "", err
		}
	}
	line := c.lines[0]
	c.lines = c.lines[1:]
	return line, nil
}

// Expect reads until substr appears in a line or unterminated tail.
// On match all buffered text is dropped, so next Expect sees only new input.
// Returns text seen so far, useful for error messages.
func (c *Conn) Expect(ctx context.Context, substr string) (string, error) {
	if substr == "" {
		return "", nil
	}
	var seen strings.Builder
	for {
		for len(c.lines) != 0 {
			line := c.lines[0]
			c.lines = c.lines[1:]
			seen.WriteString(line)
			seen.WriteByte('\n')
			if strings.Contains(line, substr) {
				c.lines = nil
				c.engine.ResetLine()
				return seen.String(), nil
			}
		}
		if partial := c.engine.Partial(); strings.Contains(partial, substr) {
			seen.WriteString(partial)
			c.engine.ResetLine()
			return seen.String(), nil
		}
		if err := c.fill(ctx, 0); err != nil {
			return seen.String() + c.engine.Partial(), err
		}
	}
}

// fill performs one successful read, possibly after several empty poll slices.
func (c *Conn) fill(ctx context.Context, idle time.Duration) error {
	for {
		if err, closed := c.err.Load(); closed {
			return err
		}
		if err := ctx.Err(); err != nil {
			if err == context.DeadlineExceeded {
				return ErrTimeout
			}
			return err
		}
		if idle > 0 && c.SinceLastRecv() >= idle {
			return c.die(ErrIdle)
		}

		deadline := time.Now().Add(c.opt.PollInterval)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := c.net.SetReadDeadline(deadline); err != nil {
			err = errors.Annotate(err, "SetReadDeadline")
			return c.die(err)
		}
		n, err := c.r.Read(c.buf)
		if n > 0 {
			c.last.SetNow()
			c.stat.Recv.Count.Add(1)
			lines, ferr := c.engine.Feed(c.buf[:n])
			c.stat.Lines.Add(int64(len(lines)))
			c.lines = append(c.lines, lines...)
			if ferr != nil {
				return c.die(ferr)
			}
			return nil
		}
		if err != nil {
			if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
				continue
			}
			return c.die(errors.Annotate(err, "receive"))
		}
	}
}

func (c *Conn) write(ctx context.Context, b []byte) error {
	if err, closed := c.err.Load(); closed {
		return err
	}
	c.wlk.Lock()
	defer c.wlk.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opt.NetworkTimeout)
	}
	if err := c.net.SetWriteDeadline(deadline); err != nil {
		err = errors.Annotate(err, "SetWriteDeadline")
		return c.die(err)
	}
	if err := helpers.WriteAll(c.w, b); err != nil {
		err = errors.Annotate(err, "send")
		return c.die(err)
	}
	c.stat.Send.Count.Add(1)
	return nil
}

func (c *Conn) die(e error) error {
	if err, found := c.err.StoreOnce(e); found {
		return err
	}
	_ = c.net.Close()

	// reformat some well known errors for easier log reading
	estr := e.Error()
	if neterr, ok := errors.Cause(e).(net.Error); ok && neterr.Timeout() {
		estr = "timeout"
	} else if strings.HasSuffix(estr, "connection reset by peer") {
		estr = "closed by remote"
	} else if strings.HasSuffix(estr, "EOF") {
		estr = "closed by remote"
	}
	c.opt.Log.Debugf("close local=%s remote=%s e=%s", addrString(c.net.LocalAddr()), addrString(c.RemoteAddr()), estr)
	return e
}

// connWriter lets Engine write negotiation replies with default deadline.
type connWriter struct{ c *Conn }

func (cw connWriter) Write(b []byte) (int, error) {
	if err := cw.c.write(context.Background(), b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
