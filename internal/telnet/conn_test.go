package telnet_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/onuctl/internal/telnet"
	"github.com/temoto/onuctl/log2"
)

func TestConnReadLineNegotiate(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	conn, peer := testPair(t, telnet.ConnOptions{Log: log, Policy: telnet.ClientPolicy})
	defer conn.Close()
	defer peer.Close()

	go func() {
		_, _ = peer.Write([]byte{telnet.IAC, telnet.DO, telnet.NAWS})
		_, _ = peer.Write([]byte("first\r\nsecond\r\n"))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	line, err := conn.ReadLine(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", line)
	line, err = conn.ReadLine(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "second", line)

	reply := make([]byte, 3)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = io.ReadFull(peer, reply)
	require.NoError(t, err)
	assert.Equal(t, []byte{telnet.IAC, telnet.WILL, telnet.NAWS}, reply)
	assert.Equal(t, int64(2), conn.Stat().Lines.Value())
}

func TestConnExpect(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	conn, peer := testPair(t, telnet.ConnOptions{Log: log})
	defer conn.Close()
	defer peer.Close()

	go func() {
		_, _ = peer.Write([]byte("Welcome\r\nLog"))
		time.Sleep(30 * time.Millisecond)
		_, _ = peer.Write([]byte("in: "))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	seen, err := conn.Expect(ctx, "Login:")
	require.NoError(t, err)
	assert.Equal(t, "Welcome\nLogin: ", seen)
	assert.Equal(t, "", conn.Engine().Partial())

	seen, err = conn.Expect(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, "", seen)
}

func TestConnExpectTimeout(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	conn, peer := testPair(t, telnet.ConnOptions{Log: log, PollInterval: 10 * time.Millisecond})
	defer conn.Close()
	defer peer.Close()

	_, err := peer.Write([]byte("Password"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	seen, err := conn.Expect(ctx, "#")
	assert.Equal(t, telnet.ErrTimeout, errors.Cause(err))
	assert.Equal(t, "Password", seen)
}

func TestConnIdle(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	begin := time.Now()
	conn, peer := testPair(t, telnet.ConnOptions{Log: log, PollInterval: 10 * time.Millisecond})
	defer peer.Close()

	_, err := conn.ReadLine(context.Background(), 80*time.Millisecond)
	assert.Equal(t, telnet.ErrIdle, errors.Cause(err))
	assert.True(t, time.Since(begin) >= 80*time.Millisecond)
	assert.True(t, conn.Closed())
}

func TestConnCancel(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	conn, peer := testPair(t, telnet.ConnOptions{Log: log, PollInterval: 10 * time.Millisecond})
	defer conn.Close()
	defer peer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := conn.ReadLine(ctx, 0)
	assert.Equal(t, context.Canceled, err)
	assert.False(t, conn.Closed())
}

func TestConnRemoteClose(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	conn, peer := testPair(t, telnet.ConnOptions{Log: log})
	_, _ = peer.Write([]byte("bye"))
	peer.Close()
	_, err := conn.ReadLine(context.Background(), time.Second)
	assert.Error(t, err)
	assert.True(t, conn.Closed())
	assert.Error(t, conn.WriteString(context.Background(), "late"))
}

func TestConnSubnegotiationError(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	conn, peer := testPair(t, telnet.ConnOptions{Log: log})
	defer peer.Close()
	_, err := peer.Write([]byte{telnet.IAC, telnet.SB, telnet.NAWS, 0, 80, telnet.IAC, telnet.DO, telnet.Echo})
	require.NoError(t, err)
	_, err = conn.ReadLine(context.Background(), time.Second)
	assert.Equal(t, telnet.ErrSubnegotiation, errors.Cause(err))
	assert.True(t, conn.Closed())
}

// testPair returns telnet.Conn connected to raw peer over loopback TCP.
func testPair(t testing.TB, opt telnet.ConnOptions) (*telnet.Conn, net.Conn) {
	ll, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ll.Close()
	acceptch := make(chan net.Conn, 1)
	go func() {
		c, err := ll.Accept()
		if err != nil {
			close(acceptch)
			return
		}
		acceptch <- c
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := telnet.Dial(ctx, net.Dialer{}, ll.Addr().String(), opt)
	require.NoError(t, err)
	peer, ok := <-acceptch
	require.True(t, ok)
	return conn, peer
}
