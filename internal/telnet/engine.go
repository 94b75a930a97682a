// Package telnet implements the shared option negotiation engine
// and line oriented connection used by the automation client and the console server.
package telnet

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/onuctl/log2"
)

// MaxSubnegotiation limits SB payload, longer block means IAC SE is missing.
const MaxSubnegotiation = 512

var ErrSubnegotiation = errors.New("subnegotiation without IAC SE")

type parseState uint8

const (
	stateData parseState = iota
	stateIAC
	stateOption
	stateSBOption
	stateSB
	stateSBIAC
)

// Engine converts raw peer bytes into text lines and answers option negotiation.
// Parser state survives between Feed calls, so commands split across reads are fine.
// Not safe for concurrent use.
type Engine struct {
	log    *log2.Log
	policy Policy
	w      io.Writer

	state    parseState
	cmd      byte
	sbOption byte
	sb       []byte
	line     []byte

	// requests we sent and wait acknowledgement for, option -> command
	sent map[byte]byte

	Window       struct{ Width, Height uint16 }
	TerminalType string
}

func NewEngine(w io.Writer, policy Policy, log *log2.Log) *Engine {
	return &Engine{
		log:    log,
		policy: policy,
		w:      w,
		sent:   make(map[byte]byte),
	}
}

// Feed scans p, returns complete lines (trimmed, without CR LF).
// Negotiation replies are written to the engine writer before Feed returns.
func (e *Engine) Feed(p []byte) ([]string, error) {
	var lines []string
	for _, b := range p {
		switch e.state {
		case stateData:
			switch b {
			case IAC:
				e.state = stateIAC
			case '\r', 0: // CR NUL is bare CR
			case '\n':
				lines = append(lines, strings.TrimSpace(string(e.line)))
				e.line = e.line[:0]
			default:
				e.line = append(e.line, b)
			}

		case stateIAC:
			switch {
			case b == IAC:
				e.line = append(e.line, IAC)
				e.state = stateData
			case isNegotiation(b):
				e.cmd = b
				e.state = stateOption
			case b == SB:
				e.state = stateSBOption
			default:
				// NOP, GA, AYT and friends carry no data
				e.log.Debugf("recv IAC %s ignored", CommandName(b))
				e.state = stateData
			}

		case stateOption:
			e.state = stateData
			if err := e.negotiate(e.cmd, b); err != nil {
				return lines, err
			}

		case stateSBOption:
			e.sbOption = b
			e.sb = e.sb[:0]
			e.state = stateSB

		case stateSB:
			if b == IAC {
				e.state = stateSBIAC
				continue
			}
			if len(e.sb) >= MaxSubnegotiation {
				e.state = stateData
				return lines, errors.Annotatef(ErrSubnegotiation, "option=%s length>%d", OptionName(e.sbOption), MaxSubnegotiation)
			}
			e.sb = append(e.sb, b)

		case stateSBIAC:
			switch b {
			case SE:
				e.state = stateData
				e.subnegotiation(e.sbOption, e.sb)
			case IAC:
				e.sb = append(e.sb, IAC)
				e.state = stateSB
			default:
				e.state = stateData
				return lines, errors.Annotatef(ErrSubnegotiation, "option=%s unexpected IAC %s", OptionName(e.sbOption), CommandName(b))
			}
		}
	}
	return lines, nil
}

// Partial returns text received after the last line feed.
func (e *Engine) Partial() string { return string(e.line) }

// ResetLine drops unterminated text.
func (e *Engine) ResetLine() { e.line = e.line[:0] }

// Request sends our own negotiation command, matching peer acknowledgement
// will not be answered.
func (e *Engine) Request(cmd, opt byte) error {
	if !isNegotiation(cmd) {
		return errors.NotValidf("telnet request cmd=%s", CommandName(cmd))
	}
	if err := e.send(cmd, opt); err != nil {
		return err
	}
	e.sent[opt] = cmd
	return nil
}

func (e *Engine) negotiate(cmd, opt byte) error {
	if req, ok := e.sent[opt]; ok {
		delete(e.sent, opt)
		if isAck(req, cmd) {
			e.log.Debugf("recv %s %s ack of %s", CommandName(cmd), OptionName(opt), CommandName(req))
			return nil
		}
	}
	reply := e.policy.Reply(cmd, opt)
	e.log.Debugf("recv %s %s reply %s", CommandName(cmd), OptionName(opt), CommandName(reply))
	return e.send(reply, opt)
}

func (e *Engine) send(cmd, opt byte) error {
	if _, err := e.w.Write([]byte{IAC, cmd, opt}); err != nil {
		return errors.Annotatef(err, "send IAC %s %s", CommandName(cmd), OptionName(opt))
	}
	return nil
}

func (e *Engine) subnegotiation(opt byte, payload []byte) {
	switch {
	case opt == NAWS && len(payload) >= 4:
		e.Window.Width = binary.BigEndian.Uint16(payload[0:2])
		e.Window.Height = binary.BigEndian.Uint16(payload[2:4])
		e.log.Debugf("recv NAWS width=%d height=%d", e.Window.Width, e.Window.Height)
	case opt == TerminalType && len(payload) > 1 && payload[0] == IS:
		e.TerminalType = string(payload[1:])
		e.log.Debugf("recv TERMINAL-TYPE %s", e.TerminalType)
	default:
		e.log.Debugf("recv SB %s length=%d ignored", OptionName(opt), len(payload))
	}
}

// isAck reports whether peer answer acknowledges (or refuses) our request.
func isAck(req, answer byte) bool {
	switch req {
	case WILL:
		return answer == DO || answer == DONT
	case WONT:
		return answer == DONT
	case DO:
		return answer == WILL || answer == WONT
	case DONT:
		return answer == WONT
	}
	return false
}
