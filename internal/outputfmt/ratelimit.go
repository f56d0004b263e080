package outputfmt

import (
	"time"

	"golang.org/x/time/rate"
)

// DisplayEditInterval is the minimum spacing between edits to a job's
// live terminal display message. Discord's own per-message edit rate
// limit is far more forgiving than this; the real constraint is not
// spamming a channel with a dozen edits a second for a chatty job.
const DisplayEditInterval = 500 * time.Millisecond

// EditLimiter paces how often a job's display message may be re-edited
// while output is streaming in. One limiter is created per job.
type EditLimiter struct {
	limiter *rate.Limiter
}

// NewEditLimiter returns a limiter that allows one edit per
// DisplayEditInterval, with a single burst token so the first write is
// never held back.
func NewEditLimiter() *EditLimiter {
	return &EditLimiter{limiter: rate.NewLimiter(rate.Every(DisplayEditInterval), 1)}
}

// Allow reports whether an edit may be sent right now. Callers that get
// false should buffer the output and flush it on the next tick or on
// job completion, whichever comes first.
func (e *EditLimiter) Allow() bool {
	return e.limiter.Allow()
}
