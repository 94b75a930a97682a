package helpers

import (
	"sync/atomic"
	"time"

	"github.com/temoto/onuctl/helpers/atomic_clock"
)

// Limited exponential backoff for retry delays.
// Failure() increases next delay by K, K=1 gives constant Min delay.
type Backoff struct {
	next int64 // atomic align
	last atomic_clock.Clock

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms
}

// Use scenario:
// for {
//   err := op()
//   time.Sleep(backoff.DelayAfter(err==nil))
// }
func (b *Backoff) DelayAfter(success bool) time.Duration {
	atomic.CompareAndSwapInt64(&b.next, 0, int64(b.Min))
	if success {
		b.Reset()
	} else {
		b.Failure()
	}
	return b.remaining()
}

// remaining is planned delay minus time elapsed since last Failure/Reset.
func (b *Backoff) remaining() time.Duration {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if next == 0 {
		return 0
	}
	delay := b.limit(next)
	since := atomic_clock.Since(&b.last)
	if since >= delay {
		return 0
	}
	return b.round(delay - since)
}

// Increase next Delay()
func (b *Backoff) Failure() {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if next == 0 {
		next = b.Min
	} else {
		k := b.K
		if k < 1 {
			k = 1
		}
		next = time.Duration(float32(next) * k)
	}
	next = b.limit(next)
	b.last.SetNow()
	atomic.StoreInt64(&b.next, int64(next))
}

func (b *Backoff) Reset() {
	b.last.SetNow()
	atomic.StoreInt64(&b.next, int64(b.Min))
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max != 0 && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
