// Package dnsrelay forwards DNS queries to an ordered list of upstream
// resolvers and synthesizes a local answer when none of them replies.
package dnsrelay

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/miekg/dns"
	"github.com/temoto/alive/v2"
	"github.com/temoto/onuctl/helpers"
	"github.com/temoto/onuctl/helpers/atomic_clock"
	dnsrelay_config "github.com/temoto/onuctl/internal/dnsrelay/config"
	"github.com/temoto/onuctl/log2"
)

const (
	DefaultPort = 53
	maxDatagram = 4096
)

var (
	ErrUpstreamTimeout = errors.New("upstream timeout")
	errLoopbackReply   = errors.New("reply from loopback source")
)

type Server struct {
	alive  *alive.Alive
	config *dnsrelay_config.Config
	log    *log2.Log
	mu     sync.Mutex
	stat   Stat

	conn      *net.UDPConn // clients
	upconn    *net.UDPConn // upstreams
	upstreams []*net.UDPAddr
	fallback  net.IP
	lastSend  atomic_clock.Clock

	isLoopback func(net.IP) bool
}

func NewServer(config *dnsrelay_config.Config, log *log2.Log) *Server {
	config.ApplyDefaults()
	return &Server{
		config:     config,
		log:        log,
		isLoopback: func(ip net.IP) bool { return ip.IsLoopback() },
	}
}

// Addr is listen address, nil when not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *Server) Stat() *Stat { return &s.stat }

// Start binds sockets, queries are served until Stop.
// ctx only bounds the start itself.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive != nil && s.alive.IsRunning() {
		s.log.Warning("dns relay already running")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.config.Validate(); err != nil {
		return errors.Trace(err)
	}

	s.upstreams = s.upstreams[:0]
	for _, str := range s.config.Upstreams {
		addr, err := parseUpstream(str)
		if err != nil {
			s.log.Warningf("upstream skip err=%v", err)
			continue
		}
		s.upstreams = append(s.upstreams, addr)
	}
	s.fallback = net.ParseIP(s.config.FallbackIP).To4()

	laddr, err := net.ResolveUDPAddr("udp", s.config.Listen)
	if err != nil {
		return errors.Annotatef(err, "resolve listen=%s", s.config.Listen)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return errors.Annotatef(err, "listen=%s", s.config.Listen)
	}
	upconn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		_ = conn.Close()
		return errors.Annotate(err, "upstream socket")
	}
	s.conn, s.upconn = conn, upconn

	a := alive.NewAlive()
	a.Add(1)
	s.alive = a
	go s.serve(a, conn, upconn)
	s.log.Infof("listen=%s upstreams=%d fallback=%s", conn.LocalAddr(), len(s.upstreams), s.fallback)
	return nil
}

// Stop returns after serve loop has finished and sockets are closed.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive == nil || !s.alive.IsRunning() {
		return
	}
	s.alive.Stop()
	s.alive.Wait()
	_ = s.conn.Close()
	_ = s.upconn.Close()
	s.conn, s.upconn = nil, nil
	s.log.Infof("stopped stat=%s", s.stat.String())
}

func (s *Server) serve(a *alive.Alive, conn, upconn *net.UDPConn) {
	defer a.Done()
	ctx := context.Background()
	poll := s.config.Poll()
	buf := make([]byte, maxDatagram)
	for a.IsRunning() {
		if err := conn.SetReadDeadline(time.Now().Add(poll)); err != nil {
			s.log.Error(errors.Annotate(err, "SetReadDeadline"))
			return
		}
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
				continue
			}
			if !a.IsRunning() {
				return
			}
			s.log.Error(errors.Annotate(err, "receive"))
			if helpers.Sleep(ctx, a.StopChan(), poll) != nil {
				return
			}
			continue
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		s.handle(ctx, a, conn, upconn, raw, src)
	}
}

func (s *Server) handle(ctx context.Context, a *alive.Alive, conn, upconn *net.UDPConn, raw []byte, src *net.UDPAddr) {
	s.stat.Received.Add(1)
	if len(raw) < HeaderSize {
		s.stat.Short.Add(1)
		s.log.Debugf("drop short length=%d source=%s", len(raw), src)
		return
	}
	if s.isLoopback(src.IP) {
		s.stat.Loopback.Add(1)
		s.log.Debugf("drop loopback source=%s", src)
		return
	}
	q, err := DecodeQuery(raw)
	if err != nil {
		s.stat.Malformed.Add(1)
		s.log.Debugf("drop source=%s err=%v", src, err)
		return
	}
	q.Source = src

	var resp []byte
	if reply, ok := s.forward(ctx, a, upconn, q); ok {
		s.stat.Relayed.Add(1)
		resp = reply
	} else {
		if !a.IsRunning() {
			return
		}
		resp, err = Fallback(q, s.fallback)
		if err != nil {
			s.stat.Malformed.Add(1)
			s.log.Errorf("fallback query=%s err=%v", q, err)
			return
		}
		if q.Type == dns.TypeA {
			s.stat.Fallback.Add(1)
			s.log.Debugf("fallback query=%s ip=%s", q, s.fallback)
		} else {
			s.stat.NXDomain.Add(1)
			s.log.Debugf("nxdomain query=%s", q)
		}
	}
	if _, err := conn.WriteToUDP(resp, src); err != nil {
		s.log.Errorf("reply query=%s err=%v", q, err)
	}
}

// forward tries upstreams in order, first valid reply wins.
func (s *Server) forward(ctx context.Context, a *alive.Alive, upconn *net.UDPConn, q *Query) ([]byte, bool) {
	buf := make([]byte, maxDatagram)
	for _, up := range s.upstreams {
		if err := helpers.Sleep(ctx, a.StopChan(), atomic_clock.Remaining(&s.lastSend, s.config.MinDelay())); err != nil {
			return nil, false
		}
		s.lastSend.SetNow()
		if _, err := upconn.WriteToUDP(q.Raw, up); err != nil {
			s.stat.UpstreamError.Add(1)
			s.log.Debugf("query=%s upstream=%s send err=%v", q, up, err)
			continue
		}
		reply, err := s.await(a, upconn, up, q.ID, buf)
		switch {
		case err == nil:
			s.log.Debugf("query=%s upstream=%s relay length=%d", q, up, len(reply))
			return reply, true
		case err == ErrUpstreamTimeout:
			s.stat.UpstreamTimeout.Add(1)
		case err == helpers.ErrInterrupted:
			return nil, false
		default:
			s.stat.UpstreamError.Add(1)
		}
		s.log.Debugf("query=%s upstream=%s err=%v", q, up, err)
	}
	return nil, false
}

// await reads upstream socket until valid reply from up or query timeout.
func (s *Server) await(a *alive.Alive, upconn *net.UDPConn, up *net.UDPAddr, id uint16, buf []byte) ([]byte, error) {
	deadline := time.Now().Add(s.config.QueryTimeout())
	poll := s.config.Poll()
	for {
		if !a.IsRunning() {
			return nil, helpers.ErrInterrupted
		}
		now := time.Now()
		if !now.Before(deadline) {
			return nil, ErrUpstreamTimeout
		}
		slice := now.Add(poll)
		if slice.After(deadline) {
			slice = deadline
		}
		if err := upconn.SetReadDeadline(slice); err != nil {
			return nil, errors.Annotate(err, "SetReadDeadline")
		}
		n, src, err := upconn.ReadFromUDP(buf)
		if err != nil {
			if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
				continue
			}
			return nil, errors.Annotate(err, "receive")
		}
		switch {
		case s.isLoopback(src.IP):
			return nil, errLoopbackReply
		case !src.IP.Equal(up.IP) || src.Port != up.Port:
			s.log.Debugf("upstream=%s ignore reply from=%s", up, src)
			continue
		case n < HeaderSize:
			continue
		case binary.BigEndian.Uint16(buf[0:2]) != id:
			s.log.Debugf("upstream=%s ignore reply id=%d", up, binary.BigEndian.Uint16(buf[0:2]))
			continue
		}
		reply := make([]byte, n)
		copy(reply, buf[:n])
		return reply, nil
	}
}

// parseUpstream accepts "ip" or "ip:port".
func parseUpstream(s string) (*net.UDPAddr, error) {
	host, port := s, DefaultPort
	if h, p, err := net.SplitHostPort(s); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return nil, errors.NotValidf("upstream=%s port", s)
		}
		host, port = h, n
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, errors.NotValidf("upstream=%s", s)
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}
