package scheduler

import (
	"context"
	"time"
)

// Clock abstracts time so worker tests can drive poll cycles without real
// sleeps
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, duration time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, duration time.Duration) {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

var RealClock Clock = realClock{}
