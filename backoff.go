package msgsock

import "time"

// backoffSteps is the retry delay schedule; the last step repeats.
var backoffSteps = []time.Duration{
	10 * time.Millisecond,
	20 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
}

// Backoff produces increasing retry delays for senders whose non-blocking
// sends are not yet possible. With a non-zero Window the delays are clipped so
// their total never exceeds it, and once the window is used up the schedule
// restarts and Next reports the reset.
//
// A Backoff is not safe for concurrent use.
type Backoff struct {
	Window time.Duration

	step  int
	total time.Duration
}

// Next returns the next delay and whether the window elapsed with it.
func (b *Backoff) Next() (delay time.Duration, reset bool) {
	delay = backoffSteps[b.step]
	if b.step < len(backoffSteps)-1 {
		b.step++
	}
	if b.Window <= 0 {
		return delay, false
	}

	if b.total+delay > b.Window {
		delay = b.Window - b.total
	}
	b.total += delay
	if b.total >= b.Window {
		b.Reset()
		return delay, true
	}
	return delay, false
}

// Reset restarts the schedule.
func (b *Backoff) Reset() {
	b.step = 0
	b.total = 0
}
