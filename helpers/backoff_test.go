package helpers

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func planned(b *Backoff) time.Duration { return time.Duration(atomic.LoadInt64(&b.next)) }

func TestBackoff(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		b      Backoff
		fails  int
		expect time.Duration
	}{
		{"one-failure", Backoff{Min: time.Second, Max: 10 * time.Second, K: 2}, 1, time.Second},
		{"grow", Backoff{Min: time.Second, Max: 10 * time.Second, K: 2}, 3, 4 * time.Second},
		{"limit", Backoff{Min: time.Second, Max: 10 * time.Second, K: 2}, 10, 10 * time.Second},
		{"constant", Backoff{Min: time.Second, K: 1}, 5, time.Second},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			for i := 0; i < c.fails; i++ {
				c.b.Failure()
			}
			assert.Equal(t, c.expect, planned(&c.b))
			assert.True(t, c.b.remaining() <= c.expect)
		})
	}
}

func TestBackoffDelayAfter(t *testing.T) {
	t.Parallel()
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, K: 2}
	d := b.DelayAfter(false)
	assert.True(t, d > 150*time.Millisecond && d <= 200*time.Millisecond, "first failure doubles Min d=%v", d)
	d = b.DelayAfter(false)
	assert.True(t, d > 350*time.Millisecond && d <= 400*time.Millisecond, "d=%v", d)
	d = b.DelayAfter(true)
	assert.True(t, d > 50*time.Millisecond && d <= 100*time.Millisecond, "success returns Min d=%v", d)
}

func TestBackoffReset(t *testing.T) {
	t.Parallel()
	b := Backoff{Min: 10 * time.Millisecond, Max: time.Second, K: 3}
	b.Failure()
	b.Failure()
	assert.Equal(t, 30*time.Millisecond, planned(&b))
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, planned(&b))
}
