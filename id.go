package tiller

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// lastTS backs the process-monotonic timestamp guarantee.
var lastTS atomic.Int64

// NowTS returns the current time as Unix milliseconds, strictly increasing
// within the process even when the wall clock repeats or steps backwards.
func NowTS() int64 {
	now := time.Now().UnixMilli()
	for {
		last := lastTS.Load()
		if now <= last {
			now = last + 1
		}
		if lastTS.CompareAndSwap(last, now) {
			return now
		}
	}
}
