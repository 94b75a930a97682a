// Package log2 solves these issues:
// - log level filtering, e.g. show debug messages of one service only
// - safe concurrent change of log level
// - parallel tests log into t.Logf() safely
package log2

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"math"
	"os"
	"sync/atomic"
	"testing"
)

const (
	// type specified here helped against accidentally passing flags as level
	Lmicroseconds     int = log.Lmicroseconds
	Lshortfile        int = log.Lshortfile
	LStdFlags         int = log.Ltime | Lshortfile
	LInteractiveFlags int = log.Ltime | Lshortfile | Lmicroseconds
	LServiceFlags     int = Lshortfile
	LTestFlags        int = Lshortfile | Lmicroseconds
)

type Level int32

const (
	LError Level = iota
	LWarning
	LInfo
	LDebug
	LAll = math.MaxInt32
)

// ParseLevel accepts config names: error, warning, info, debug, all.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "error":
		return LError, true
	case "warning", "warn":
		return LWarning, true
	case "", "info":
		return LInfo, true
	case "debug":
		return LDebug, true
	case "all":
		return LAll, true
	}
	return LInfo, false
}

type FmtFunc func(format string, args ...interface{})
type ErrorFunc func(error)

type Log struct {
	l       *log.Logger
	level   Level
	w       io.Writer
	fatalf  FmtFunc
	errfunc atomic.Value // ErrorFunc
}

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }
func NewWriter(w io.Writer, level Level) *Log {
	if w == ioutil.Discard {
		return nil
	}
	return &Log{
		l:     log.New(w, "", LStdFlags),
		level: level,
		w:     w,
	}
}

type FuncWriter struct{ FmtFunc }

func NewFunc(f FmtFunc, level Level) *Log { return NewWriter(FuncWriter{f}, level) }
func (self FuncWriter) Write(b []byte) (int, error) {
	// t.Logf adds newline itself
	s := string(b)
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	self.FmtFunc("%s", s)
	return len(b), nil
}

func NewTest(t testing.TB, level Level) *Log {
	self := NewFunc(t.Logf, level)
	self.SetFlags(LTestFlags)
	self.fatalf = t.Fatalf
	return self
}

// Clone shares writer and flags, level and prefix are independent.
func (self *Log) Clone(level Level) *Log {
	if self == nil {
		return nil
	}
	l := NewWriter(self.w, level)
	l.SetFlags(self.l.Flags())
	l.SetPrefix(self.l.Prefix())
	l.fatalf = self.fatalf
	if f, ok := self.errfunc.Load().(ErrorFunc); ok {
		l.errfunc.Store(f)
	}
	return l
}

func (self *Log) SetLevel(l Level) {
	if self == nil {
		return
	}
	atomic.StoreInt32((*int32)(&self.level), int32(l))
}

func (self *Log) Level() Level {
	if self == nil {
		return LError
	}
	return Level(atomic.LoadInt32((*int32)(&self.level)))
}

func (self *Log) SetFlags(f int) {
	if self == nil {
		return
	}
	self.l.SetFlags(f)
}

func (self *Log) SetPrefix(prefix string) {
	if self == nil {
		return
	}
	self.l.SetPrefix(prefix)
}

// SetErrorFunc registers a hook called for every Error/Errorf.
func (self *Log) SetErrorFunc(f ErrorFunc) {
	if self == nil {
		return
	}
	self.errfunc.Store(f)
}

func (self *Log) Enabled(level Level) bool {
	if self == nil {
		return false
	}
	return atomic.LoadInt32((*int32)(&self.level)) >= int32(level)
}

func (self *Log) Log(level Level, s string) {
	if self.Enabled(level) {
		_ = self.l.Output(3, s)
	}
}
func (self *Log) Logf(level Level, format string, args ...interface{}) {
	if self.Enabled(level) {
		_ = self.l.Output(3, fmt.Sprintf(format, args...))
	}
}

func (self *Log) Error(args ...interface{}) {
	self.Log(LError, "error: "+fmt.Sprint(args...))
	if self != nil {
		if f, ok := self.errfunc.Load().(ErrorFunc); ok && f != nil {
			err := fmt.Errorf("%s", fmt.Sprint(args...))
			if len(args) == 1 {
				if e, ok := args[0].(error); ok {
					err = e
				}
			}
			f(err)
		}
	}
}
func (self *Log) Errorf(format string, args ...interface{}) {
	self.Logf(LError, "error: "+format, args...)
	if self != nil {
		if f, ok := self.errfunc.Load().(ErrorFunc); ok && f != nil {
			f(fmt.Errorf(format, args...))
		}
	}
}
func (self *Log) Warning(args ...interface{}) {
	self.Log(LWarning, "warning: "+fmt.Sprint(args...))
}
func (self *Log) Warningf(format string, args ...interface{}) {
	self.Logf(LWarning, "warning: "+format, args...)
}
func (self *Log) Info(args ...interface{}) {
	self.Log(LInfo, fmt.Sprint(args...))
}
func (self *Log) Infof(format string, args ...interface{}) {
	self.Logf(LInfo, format, args...)
}
func (self *Log) Debug(args ...interface{}) {
	self.Log(LDebug, "debug: "+fmt.Sprint(args...))
}
func (self *Log) Debugf(format string, args ...interface{}) {
	self.Logf(LDebug, "debug: "+format, args...)
}

func (self *Log) Fatalf(format string, args ...interface{}) {
	if self != nil && self.fatalf != nil {
		self.fatalf(format, args...)
		return
	}
	self.Logf(LError, "fatal: "+format, args...)
	os.Exit(1)
}
func (self *Log) Fatal(args ...interface{}) {
	s := fmt.Sprint(args...)
	if self != nil && self.fatalf != nil {
		self.fatalf("%s", s)
		return
	}
	self.Logf(LError, "fatal: "+s)
	os.Exit(1)
}
