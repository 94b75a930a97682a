package telnet

import (
	"bytes"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/onuctl/helpers"
	"github.com/temoto/onuctl/log2"
)

func TestEngineNegotiationTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		policy Policy
		input  []byte
		expect []byte
	}{
		{"client/do-naws", ClientPolicy, []byte{IAC, DO, NAWS}, []byte{IAC, WILL, NAWS}},
		{"client/do-ttype", ClientPolicy, []byte{IAC, DO, TerminalType}, []byte{IAC, WILL, TerminalType}},
		{"client/do-echo", ClientPolicy, []byte{IAC, DO, Echo}, []byte{IAC, WONT, Echo}},
		{"client/dont", ClientPolicy, []byte{IAC, DONT, NAWS}, []byte{IAC, WONT, NAWS}},
		{"client/will-echo", ClientPolicy, []byte{IAC, WILL, Echo}, []byte{IAC, DO, Echo}},
		{"client/will-sga", ClientPolicy, []byte{IAC, WILL, SGA}, []byte{IAC, DO, SGA}},
		{"client/will-other", ClientPolicy, []byte{IAC, WILL, 42}, []byte{IAC, DONT, 42}},
		{"client/wont", ClientPolicy, []byte{IAC, WONT, Echo}, []byte{IAC, DONT, Echo}},
		{"server/do-sga", ServerPolicy, []byte{IAC, DO, SGA}, []byte{IAC, WILL, SGA}},
		{"server/do-naws", ServerPolicy, []byte{IAC, DO, NAWS}, []byte{IAC, WONT, NAWS}},
		{"server/will-naws", ServerPolicy, []byte{IAC, WILL, NAWS}, []byte{IAC, DONT, NAWS}},
		{"nop-ignored", ClientPolicy, []byte{IAC, NOP, IAC, GA}, nil},
		{"several", ClientPolicy,
			[]byte{IAC, DO, NAWS, IAC, WILL, Echo},
			[]byte{IAC, WILL, NAWS, IAC, DO, Echo}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			w := bytes.NewBuffer(nil)
			e := NewEngine(w, c.policy, log2.NewTest(t, log2.LDebug))
			lines, err := e.Feed(c.input)
			require.NoError(t, err)
			assert.Empty(t, lines)
			assert.Equal(t, c.expect, w.Bytes())
			assert.Equal(t, "", e.Partial())
		})
	}
}

func TestEngineLines(t *testing.T) {
	t.Parallel()

	w := bytes.NewBuffer(nil)
	e := NewEngine(w, ClientPolicy, log2.NewTest(t, log2.LDebug))
	lines, err := e.Feed([]byte("  hello \r\nwor"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, lines)
	assert.Equal(t, "wor", e.Partial())

	lines, err = e.Feed([]byte{'l', 'd', IAC, DO, NAWS, '\r', '\n', 'L', 'o', 'g', 'i', 'n', ':', ' '})
	require.NoError(t, err)
	assert.Equal(t, []string{"world"}, lines)
	assert.Equal(t, "Login: ", e.Partial())
	assert.Equal(t, []byte{IAC, WILL, NAWS}, w.Bytes())

	e.ResetLine()
	assert.Equal(t, "", e.Partial())

	lines, err = e.Feed([]byte{'a', IAC, IAC, 'b', '\n'})
	require.NoError(t, err)
	assert.Equal(t, []string{"a\xffb"}, lines)
}

func TestEngineSplitCommand(t *testing.T) {
	t.Parallel()

	w := bytes.NewBuffer(nil)
	e := NewEngine(w, ClientPolicy, log2.NewTest(t, log2.LDebug))
	for _, b := range []byte{IAC, WILL, SGA, IAC, SB, NAWS, 0, 80, 0, 24, IAC, SE, 'x', '\n'} {
		_, err := e.Feed([]byte{b})
		require.NoError(t, err)
	}
	assert.Equal(t, []byte{IAC, DO, SGA}, w.Bytes())
	assert.Equal(t, uint16(80), e.Window.Width)
	assert.Equal(t, uint16(24), e.Window.Height)
}

func TestEngineRandomChunks(t *testing.T) {
	t.Parallel()

	// WILL ECHO, "uptime\r\n", NAWS 80x24, "ok\n"
	stream := helpers.MustHex("fffb01" + "757074696d650d0a" + "fffa1f00500018fff0" + "6f6b0a")
	rand := helpers.RandUnix()
	for round := 0; round < 20; round++ {
		w := bytes.NewBuffer(nil)
		e := NewEngine(w, ClientPolicy, log2.NewTest(t, log2.LDebug))
		var lines []string
		for rest := stream; len(rest) > 0; {
			n := 1 + rand.Intn(len(rest))
			ls, err := e.Feed(rest[:n])
			require.NoError(t, err)
			lines = append(lines, ls...)
			rest = rest[n:]
		}
		assert.Equal(t, []string{"uptime", "ok"}, lines)
		assert.Equal(t, []byte{IAC, DO, Echo}, w.Bytes())
		assert.Equal(t, uint16(80), e.Window.Width)
		assert.Equal(t, uint16(24), e.Window.Height)
	}
}

func TestEngineSubnegotiation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		input     []byte
		expectErr bool
		check     func(testing.TB, *Engine)
	}{
		{"naws", []byte{IAC, SB, NAWS, 0, 132, 0, 43, IAC, SE}, false, func(t testing.TB, e *Engine) {
			assert.Equal(t, uint16(132), e.Window.Width)
			assert.Equal(t, uint16(43), e.Window.Height)
		}},
		{"ttype", append(append([]byte{IAC, SB, TerminalType, IS}, "VT100"...), IAC, SE), false, func(t testing.TB, e *Engine) {
			assert.Equal(t, "VT100", e.TerminalType)
		}},
		{"unknown-discarded", []byte{IAC, SB, 42, 1, 2, 3, IAC, SE, 'o', 'k', '\n'}, false, nil},
		{"escaped-iac", []byte{IAC, SB, 42, IAC, IAC, IAC, SE}, false, nil},
		{"missing-se", []byte{IAC, SB, NAWS, 0, 80, IAC, WILL, Echo}, true, nil},
		{"overflow", append([]byte{IAC, SB, 42}, make([]byte, MaxSubnegotiation+1)...), true, nil},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			e := NewEngine(bytes.NewBuffer(nil), ClientPolicy, log2.NewTest(t, log2.LDebug))
			_, err := e.Feed(c.input)
			if c.expectErr {
				require.Error(t, err)
				assert.Equal(t, ErrSubnegotiation, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			if c.check != nil {
				c.check(t, e)
			}
		})
	}
}

func TestEngineRequestAck(t *testing.T) {
	t.Parallel()

	w := bytes.NewBuffer(nil)
	e := NewEngine(w, ServerPolicy, log2.NewTest(t, log2.LDebug))
	require.NoError(t, e.Request(WILL, SGA))
	require.NoError(t, e.Request(DONT, Echo))
	assert.Equal(t, []byte{IAC, WILL, SGA, IAC, DONT, Echo}, w.Bytes())
	w.Reset()

	// acknowledgements are not answered
	_, err := e.Feed([]byte{IAC, DO, SGA, IAC, WONT, Echo})
	require.NoError(t, err)
	assert.Empty(t, w.Bytes())

	// same commands again are new requests
	_, err = e.Feed([]byte{IAC, DO, SGA, IAC, WONT, Echo})
	require.NoError(t, err)
	assert.Equal(t, []byte{IAC, WILL, SGA, IAC, DONT, Echo}, w.Bytes())

	assert.Error(t, e.Request(SB, NAWS))
}
