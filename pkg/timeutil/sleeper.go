package timeutil

import "time"

// Sleeper abstracts time.Sleep so rate-limiting and backoff delays can be
// driven by a fake clock in tests instead of actually blocking.
type Sleeper interface {
	Sleep(d time.Duration)
}

// RealSleeper sleeps for real. Used everywhere outside tests.
type RealSleeper struct{}

func NewRealSleeper() RealSleeper {
	return RealSleeper{}
}

func (RealSleeper) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}
