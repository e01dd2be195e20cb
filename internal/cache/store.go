package cache

import (
	"context"
	"time"
)

// Counter counts hits per key inside fixed windows.
type Counter interface {
	// IncrementWithTTL records one hit for key and returns the count within the current
	// window together with the time left until the window resets.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}
