package lifecycle

import (
	"context"
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	inFlight     atomic.Int64
)

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// RequestStarted counts a request as in flight. Pair with RequestFinished.
func RequestStarted() {
	inFlight.Add(1)
}

// RequestFinished removes a request from the in-flight count.
func RequestFinished() {
	inFlight.Add(-1)
}

// InFlight returns the number of requests currently being served.
func InFlight() int64 {
	return inFlight.Load()
}

// WaitForDrain blocks until no request is in flight or ctx is done, re-checking every
// checkInterval. Long pipeline transitions (lookups, forecast fan-out) finish here before exit.
func WaitForDrain(ctx context.Context, checkInterval time.Duration) error {
	if checkInterval <= 0 {
		checkInterval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if InFlight() <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
