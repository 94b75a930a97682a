// Package console serves operator sessions. Transports (telnet socket,
// local terminal) read lines and pass them to a Dispatcher,
// results go back through the transport's Responder.
package console

import (
	"io"
	"strings"

	"github.com/juju/errors"
)

const (
	CommandExit = "exit"

	TextAuthenticated = "Authenticated.\r\n"
	TextAuthFailed    = "Authentication failed.\r\n"
	TextFarewell      = "Exiting..."
	TextLogin         = "Login: "
	TextPassword      = "Password: "
	TextPrompt        = "> "
	TextTooMany       = "Too many connections.\r\n"
	TextUnknown       = "Unknown command."
)

var ErrExit = errors.New("exit")

// Dispatcher executes command line, returns text for operator, may be empty.
type Dispatcher interface {
	Dispatch(line string) string
}

type DispatcherFunc func(line string) string

func (f DispatcherFunc) Dispatch(line string) string { return f(line) }

// Responder delivers response text to operator, line terminator is transport specific.
type Responder interface {
	Respond(text string) error
}

// Handle executes one line. "exit" answers farewell and returns ErrExit,
// empty dispatcher response is not delivered.
func Handle(d Dispatcher, r Responder, line string) error {
	line = strings.TrimSpace(line)
	if line == CommandExit {
		if err := r.Respond(TextFarewell); err != nil {
			return errors.Annotate(err, "respond")
		}
		return ErrExit
	}
	if resp := d.Dispatch(line); resp != "" {
		if err := r.Respond(resp); err != nil {
			return errors.Annotate(err, "respond")
		}
	}
	return nil
}

type writerResponder struct {
	w   io.Writer
	eol string
}

// NewWriterResponder is local terminal transport, each response ends with eol.
func NewWriterResponder(w io.Writer, eol string) Responder {
	return writerResponder{w: w, eol: eol}
}

func (wr writerResponder) Respond(text string) error {
	_, err := io.WriteString(wr.w, text+wr.eol)
	return err
}
