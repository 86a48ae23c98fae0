package clock

import (
	"context"
	"time"
)

type Clock interface {
	Now(ctx context.Context) time.Time
}

// SystemClock returns wall-clock time in UTC. Webhook ordering comparisons
// depend on every stored timestamp being UTC.
type SystemClock struct{}

func (SystemClock) Now(context.Context) time.Time {
	return time.Now().UTC()
}
