package domain

import (
	"sync/atomic"
	"time"
)

var lastTimestamp int64

// NextTimestamp returns a strictly increasing unix-nano timestamp. Rows
// created in the same nanosecond still get distinct creation order, which
// keeps the position tie-break deterministic.
func NextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}
