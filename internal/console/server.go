package console

import (
	"context"
	"expvar"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/onuctl/helpers"
	console_config "github.com/temoto/onuctl/internal/console/config"
	"github.com/temoto/onuctl/internal/telnet"
	"github.com/temoto/onuctl/log2"
)

var (
	ErrAuth    = errors.New("authentication failed")
	ErrTooMany = errors.New("too many connections")
)

type SessionStat struct {
	Accepted      expvar.Int
	Rejected      expvar.Int
	AuthFailed    expvar.Int
	Authenticated expvar.Int
	Commands      expvar.Int
	Telnet        telnet.Stat
}

func (ss *SessionStat) String() string {
	return fmt.Sprintf(`{"accepted":%d,"rejected":%d,"auth_failed":%d,"authenticated":%d,"commands":%d,"telnet":%s}`,
		ss.Accepted.Value(), ss.Rejected.Value(), ss.AuthFailed.Value(),
		ss.Authenticated.Value(), ss.Commands.Value(), ss.Telnet.String())
}

// Telnet console server.
type Server struct {
	alive      *alive.Alive
	cancel     context.CancelFunc
	config     *console_config.Config
	dispatcher Dispatcher
	log        *log2.Log
	mu         sync.Mutex
	sessions   int32 // authenticated
	stat       SessionStat

	listen struct {
		sync.Mutex
		ll net.Listener
	}
	conns struct {
		sync.Mutex
		m map[*telnet.Conn]struct{}
	}
}

func NewServer(config *console_config.Config, dispatcher Dispatcher, log *log2.Log) *Server {
	config.ApplyDefaults()
	s := &Server{
		config:     config,
		dispatcher: dispatcher,
		log:        log,
	}
	s.conns.m = make(map[*telnet.Conn]struct{})
	return s
}

func (s *Server) Addr() net.Addr {
	s.listen.Lock()
	defer s.listen.Unlock()
	if s.listen.ll == nil {
		return nil
	}
	return s.listen.ll.Addr()
}

// Sessions is number of authenticated sessions.
func (s *Server) Sessions() int     { return int(atomic.LoadInt32(&s.sessions)) }
func (s *Server) Stat() *SessionStat { return &s.stat }

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive != nil && s.alive.IsRunning() {
		s.log.Warning("console already running")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.config.Validate(); err != nil {
		return errors.Trace(err)
	}
	ll, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return errors.Annotatef(err, "listen=%s", s.config.Listen)
	}
	helpers.WithLock(&s.listen, func() { s.listen.ll = ll })

	a := alive.NewAlive()
	a.Add(1)
	runCtx, cancel := context.WithCancel(context.Background())
	s.alive, s.cancel = a, cancel
	go s.acceptLoop(runCtx, a, ll)
	s.log.Infof("listen=%s max_clients=%d", ll.Addr(), s.config.MaxClients)
	return nil
}

// Stop closes listener and all sessions, returns when they are finished.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive == nil || !s.alive.IsRunning() {
		return
	}
	s.alive.Stop()
	s.cancel()
	helpers.WithLock(&s.listen, func() {
		if s.listen.ll != nil {
			_ = s.listen.ll.Close()
			s.listen.ll = nil
		}
	})
	helpers.WithLock(&s.conns, func() {
		for c := range s.conns.m {
			_ = c.Close()
		}
	})
	s.alive.Wait()
	s.log.Infof("stopped stat=%s", s.stat.String())
}

func (s *Server) acceptLoop(ctx context.Context, a *alive.Alive, ll net.Listener) {
	defer a.Done() // one alive subtask for listener
	for {
		conn, err := ll.Accept()
		if !a.IsRunning() {
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			s.log.Error(errors.Annotatef(err, "accept listen=%s", ll.Addr()))
			_ = ll.Close()
			if ll = s.rebind(ctx, a); ll == nil {
				return
			}
			continue
		}

		if !a.Add(1) { // and one alive subtask for each connection
			_ = conn.Close()
			return
		}
		go s.processConn(ctx, a, conn)
	}
}

// rebind retries listen until success or stop.
func (s *Server) rebind(ctx context.Context, a *alive.Alive) net.Listener {
	for {
		if helpers.Sleep(ctx, a.StopChan(), s.config.RebindDelay()) != nil {
			return nil
		}
		ll, err := net.Listen("tcp", s.config.Listen)
		if err != nil {
			s.log.Errorf("rebind listen=%s err=%v", s.config.Listen, err)
			continue
		}
		ok := false
		helpers.WithLock(&s.listen, func() {
			if a.IsRunning() {
				s.listen.ll, ok = ll, true
			}
		})
		if !ok {
			_ = ll.Close()
			return nil
		}
		s.log.Infof("rebind listen=%s", ll.Addr())
		return ll
	}
}

func (s *Server) processConn(ctx context.Context, a *alive.Alive, netConn net.Conn) {
	defer a.Done()
	s.stat.Accepted.Add(1)
	addr := addrString(netConn.RemoteAddr())

	if s.Sessions() >= s.config.MaxClients {
		s.stat.Rejected.Add(1)
		s.log.Infof("reject addr=%s sessions=%d", addr, s.Sessions())
		_ = netConn.SetWriteDeadline(time.Now().Add(telnet.DefaultNetworkTimeout))
		_, _ = netConn.Write([]byte(TextTooMany))
		_ = netConn.Close()
		return
	}

	conn := telnet.NewConn(netConn, telnet.ConnOptions{
		Log:          s.log,
		Policy:       telnet.ServerPolicy,
		PollInterval: s.config.Poll(),
	})
	s.track(conn, true)
	defer func() {
		s.track(conn, false)
		_ = conn.Close()
		s.stat.Telnet.AddMoveFrom(conn.Stat())
	}()

	err := s.session(ctx, conn)
	s.log.Debugf("session addr=%s closed err=%v", addr, err)
}

func (s *Server) session(ctx context.Context, conn *telnet.Conn) error {
	idle := s.config.InactivityTimeout()
	if err := conn.Command(telnet.WILL, telnet.SGA); err != nil {
		return errors.Annotate(err, "negotiate")
	}

	if err := conn.WriteString(ctx, TextLogin); err != nil {
		return errors.Trace(err)
	}
	user, err := conn.ReadLine(ctx, idle)
	if err != nil {
		return errors.Annotate(err, "login")
	}
	if err = conn.WriteString(ctx, TextPassword); err != nil {
		return errors.Trace(err)
	}
	pass, err := conn.ReadLine(ctx, idle)
	if err != nil {
		return errors.Annotate(err, "password")
	}
	if user != s.config.Username || pass != s.config.Password {
		s.stat.AuthFailed.Add(1)
		s.log.Infof("auth failed %s user=%q", conn.String(), user)
		_ = conn.WriteString(ctx, TextAuthFailed)
		return ErrAuth
	}
	if !s.acquire() {
		s.stat.Rejected.Add(1)
		_ = conn.WriteString(ctx, TextTooMany)
		return ErrTooMany
	}
	defer s.release()
	s.stat.Authenticated.Add(1)
	s.log.Infof("authenticated %s sessions=%d", conn.String(), s.Sessions())

	if err = conn.WriteString(ctx, TextAuthenticated+TextPrompt); err != nil {
		return errors.Trace(err)
	}
	r := connResponder{ctx: ctx, conn: conn}
	for {
		line, err := conn.ReadLine(ctx, idle)
		if err != nil {
			return errors.Trace(err)
		}
		if line != "" {
			s.stat.Commands.Add(1)
			s.log.Debugf("%s command=%q", conn.String(), line)
			switch err = Handle(s.dispatcher, r, line); err {
			case nil:
			case ErrExit:
				return nil
			default:
				return errors.Trace(err)
			}
		}
		if err = conn.WriteString(ctx, TextPrompt); err != nil {
			return errors.Trace(err)
		}
	}
}

// acquire takes session slot unless all max_clients are used.
func (s *Server) acquire() bool {
	limit := int32(s.config.MaxClients)
	for {
		n := atomic.LoadInt32(&s.sessions)
		if n >= limit {
			return false
		}
		if atomic.CompareAndSwapInt32(&s.sessions, n, n+1) {
			return true
		}
	}
}

func (s *Server) release() { atomic.AddInt32(&s.sessions, -1) }

func (s *Server) track(c *telnet.Conn, open bool) {
	s.conns.Lock()
	defer s.conns.Unlock()
	if open {
		s.conns.m[c] = struct{}{}
	} else {
		delete(s.conns.m, c)
	}
}

type connResponder struct {
	ctx  context.Context
	conn *telnet.Conn
}

func (cr connResponder) Respond(text string) error {
	return cr.conn.WriteString(cr.ctx, text+"\r\n")
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
