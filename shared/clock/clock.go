// Package clock provides millisecond wall timestamps and a smoothed
// client-to-server clock offset fed by time sync round trips.
package clock

import (
	"sync"
	"time"
)

// NowMillis is the local wall clock in Unix milliseconds. Snapshot and
// input timestamps on the wire all use this resolution.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// SyncedClock estimates the offset between local and server time from
// request/response timestamp triples. Safe for concurrent use.
type SyncedClock struct {
	mu      sync.Mutex
	nowFn   func() int64
	offset  float64 // ms, server minus local
	samples int
}

func NewSyncedClock() *SyncedClock {
	return &SyncedClock{nowFn: NowMillis}
}

func newSyncedClock(nowFn func() int64) *SyncedClock {
	return &SyncedClock{nowFn: nowFn}
}

// AddSample feeds one completed round trip: the local send time, the
// server's timestamp from the response, and the local receive time.
// The offset estimate assumes a symmetric path, so samples taken under
// heavy one-way congestion skew it; the moving average damps those.
func (c *SyncedClock) AddSample(sentAt, serverTime, receivedAt int64) {
	rtt := receivedAt - sentAt
	if rtt < 0 {
		return
	}
	est := float64(serverTime + rtt/2 - receivedAt)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.samples == 0 {
		c.offset = est
	} else {
		c.offset = (c.offset*3 + est) / 4
	}
	c.samples++
}

// ServerNowMillis is the estimated current server time. Before the first
// sample it degrades to local time.
func (c *SyncedClock) ServerNowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFn() + int64(c.offset)
}

// Offset returns the current server-minus-local estimate.
func (c *SyncedClock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.offset) * time.Millisecond
}

// Synchronized reports whether at least one sample has been applied.
func (c *SyncedClock) Synchronized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples > 0
}
