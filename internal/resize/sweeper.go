package resize

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/simplyblock-io/vela-controlplane/internal/metrics"
	"github.com/simplyblock-io/vela-controlplane/internal/store"
	"github.com/simplyblock-io/vela-controlplane/internal/vlog"
)

// sweepSchedule matches §4.3 "A periodic sweep (every ~15 s)".
const sweepSchedule = "@every 15s"

// requestTimeout matches §4.3 "requested_at < now - 180s".
const requestTimeout = 180 * time.Second

var activeStatuses = map[store.ResizeStatus]bool{
	store.ResizePending:                 true,
	store.ResizeResizing:                true,
	store.ResizeFilesystemResizePending: true,
}

// Sweeper periodically marks resize entries that have exceeded
// requestTimeout as FAILED (§4.3 "Timeout enforcer").
type Sweeper struct {
	Branches store.BranchRepository
	Now      func() time.Time
	// Schedule is a cron.ParseStandard expression; the zero value falls
	// back to sweepSchedule.
	Schedule string
}

// NewSweeper builds a Sweeper using time.Now as its clock and the
// default sweepSchedule cadence.
func NewSweeper(branches store.BranchRepository) *Sweeper {
	return &Sweeper{Branches: branches, Now: time.Now, Schedule: sweepSchedule}
}

// Run blocks, firing Tick on s.Schedule's cadence until ctx is
// cancelled, in the same cron.Schedule.Next-driven wake loop the backup
// scheduler uses.
func (s *Sweeper) Run(ctx context.Context) error {
	cadence := s.Schedule
	if cadence == "" {
		cadence = sweepSchedule
	}
	schedule, err := cron.ParseStandard(cadence)
	if err != nil {
		return err
	}
	log := vlog.FromContext(ctx).WithName("resize-sweeper")

	next := schedule.Next(s.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
			if err := s.Tick(ctx); err != nil {
				log.Error(err, "resize timeout sweep failed")
			}
			next = schedule.Next(s.Now())
		}
	}
}

// Tick scans every branch whose overall status is RESIZING and fails
// any of its active resize entries that have exceeded requestTimeout,
// recomputing the aggregate (§4.3). Branches in any other status are
// not scanned.
func (s *Sweeper) Tick(ctx context.Context) error {
	now := s.Now()
	timer := prometheus.NewTimer(metrics.TickDuration.WithLabelValues("resize_sweep"))
	defer timer.ObserveDuration()

	for _, status := range []store.BranchStatus{store.StatusResizing} {
		branches, err := s.Branches.ListBranchesByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, branch := range branches {
			if err := s.sweepBranch(ctx, branch, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sweeper) sweepBranch(ctx context.Context, branch *store.Branch, now time.Time) error {
	changed := false
	next := make(map[string]store.ServiceResizeState, len(branch.ResizeStatuses))
	for key, state := range branch.ResizeStatuses {
		next[key] = state
		if !activeStatuses[state.Status] {
			continue
		}
		if state.RequestedAt == nil {
			continue
		}
		if now.Sub(*state.RequestedAt) < requestTimeout {
			continue
		}
		next[key] = store.ServiceResizeState{Status: store.ResizeFailed, Timestamp: now, RequestedAt: state.RequestedAt}
		metrics.ResizeTimeouts.WithLabelValues(key).Inc()
		changed = true
	}

	if !changed {
		return nil
	}

	aggregate := store.Aggregate(next)
	return s.Branches.UpdateBranchResizeStatuses(ctx, branch.ID, next, aggregate)
}
