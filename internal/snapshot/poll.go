package snapshot

import (
	"context"
	"time"

	"github.com/simplyblock-io/vela-controlplane/internal/apierrors"
)

// Deadlines bundle the poll interval and overall deadline used by every
// wait in this package (§4.1 "Polling").
type Deadlines struct {
	PollInterval time.Duration
	Deadline     time.Duration
}

// DefaultDeadlines matches §4.1's defaults: 2s poll interval, 10 minute
// deadline.
var DefaultDeadlines = Deadlines{
	PollInterval: 2 * time.Second,
	Deadline:     10 * time.Minute,
}

// errNotFound lets callers distinguish "stop waiting, it's gone" from
// "keep retrying, this is transient" inside Poll's check function.
type errNotFound struct{ cause error }

func (e *errNotFound) Error() string { return e.cause.Error() }
func (e *errNotFound) Unwrap() error { return e.cause }

// NotFound wraps cause to mark it terminal within Poll: not-found
// during a wait is terminal, any other transient API error loops until
// the deadline (§4.1 "Polling").
func NotFound(cause error) error {
	return &errNotFound{cause: cause}
}

// Poll calls check on a monotonic ticker until it returns (true, nil)
// (ready), a NotFound-wrapped error (terminal), or the deadline elapses.
func Poll(ctx context.Context, op string, d Deadlines, check func(ctx context.Context) (bool, error)) error {
	deadline := time.Now().Add(d.Deadline)
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		ready, err := check(ctx)
		if err != nil {
			var nf *errNotFound
			if as(err, &nf) {
				return apierrors.New(apierrors.KindNotFound, op, "resource disappeared while waiting", nf.cause)
			}
			// transient: fall through to the next tick.
		} else if ready {
			return nil
		}

		if time.Now().After(deadline) {
			return apierrors.Timeout(op, "deadline exceeded while waiting for readiness")
		}

		select {
		case <-ctx.Done():
			return apierrors.New(apierrors.KindTimeout, op, "context cancelled while waiting", ctx.Err())
		case <-ticker.C:
		}
	}
}

func as(err error, target **errNotFound) bool {
	nf, ok := err.(*errNotFound)
	if ok {
		*target = nf
	}
	return ok
}
