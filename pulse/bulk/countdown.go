package bulk

import (
	"context"
	"time"
)

// countdown reports the remaining whole units of a delay. It only observes
// the wait; the timer in waitDelay decides when the wait is over.
type countdown struct {
	remaining int
}

func newCountdown(delay, unit time.Duration) *countdown {
	if unit <= 0 {
		unit = time.Second
	}
	n := int(delay / unit)
	if delay%unit != 0 {
		n++
	}
	return &countdown{remaining: n}
}

// tick consumes one unit and returns what is left
func (c *countdown) tick() int {
	if c.remaining > 0 {
		c.remaining--
	}
	return c.remaining
}

// waitDelay sleeps for the job's delay. With countdown enabled it emits
// job_countdown at the full value and once per elapsed unit until zero.
// Returns false if the job ended or ctx was cancelled during the wait.
func waitDelay(ctx context.Context, job *Job, unit time.Duration) bool {
	delay := job.opts.Delay
	if delay <= 0 {
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	var ticks <-chan time.Time
	var cd *countdown
	if job.opts.Countdown {
		cd = newCountdown(delay, unit)
		emitCountdown(job, cd.remaining)

		ticker := time.NewTicker(unitOrSecond(unit))
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-timer.C:
			return true
		case <-job.Done():
			return false
		case <-ctx.Done():
			return false
		case <-ticks:
			if left := cd.tick(); left > 0 {
				emitCountdown(job, left)
			}
		}
	}
}

func emitCountdown(job *Job, seconds int) {
	if job.IsEnded() {
		return
	}
	job.emit(job.newEvent(EventCountdown, func(e *Event) {
		e.Seconds = seconds
	}))
}

func unitOrSecond(unit time.Duration) time.Duration {
	if unit <= 0 {
		return time.Second
	}
	return unit
}
