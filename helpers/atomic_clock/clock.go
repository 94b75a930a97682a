// Package atomic_clock is convenient API around atomic int64 system clock.
// Use for time accounting, e.g. last activity of a session shared between
// reader and watchdog goroutines. Do not use where time zone matters.
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v int64 }

func source() int64 { return time.Now().UnixNano() }

func (c *Clock) get() int64    { return atomic.LoadInt64(&c.v) }
func (c *Clock) set(new int64) { atomic.StoreInt64(&c.v, new) }

func (c *Clock) SetNow() { c.set(source()) }

func Since(begin *Clock) time.Duration { return time.Duration(source() - begin.get()) }

// Remaining returns how much of d is left since begin, never negative.
func Remaining(begin *Clock, d time.Duration) time.Duration {
	if left := d - Since(begin); left > 0 {
		return left
	}
	return 0
}
