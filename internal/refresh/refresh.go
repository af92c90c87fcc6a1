// Package refresh keeps a reconciled attendance snapshot for one screen: it
// fetches both directories and the day's events, merges and overlays them,
// and swaps the whole snapshot in one step. A monotonically increasing
// sequence number guards against a slow, stale response overwriting the
// result of a newer fetch after a rapid filter change.
package refresh

import (
	"context"
	"log"
	"sync"
	"time"

	"schoolgate/internal/attendance"
	"schoolgate/internal/metrics"
	"schoolgate/internal/roster"
)

// Fetcher is the slice of the backend client a refresher needs.
type Fetcher interface {
	ListStudents(ctx context.Context, branchID int64) ([]roster.Person, error)
	ListAccounts(ctx context.Context, role string, branchID int64) ([]roster.Person, error)
	ListAttendance(ctx context.Context, date string, branchID int64) ([]attendance.Event, error)
}

// Snapshot is one immutable reconciled view. Consumers read it whole and
// never mutate it; every recompute produces a fresh one.
type Snapshot struct {
	BranchID  int64
	Date      string
	Views     []attendance.DerivedView
	FetchedAt time.Time
}

// Refresher owns the snapshot for one screen and its filter state.
type Refresher struct {
	api  Fetcher
	now  attendance.Clock
	role string // accounts directory role filter

	mu   sync.Mutex
	seq  uint64 // last fetch started
	snap *Snapshot
}

// New builds a refresher. role filters the accounts directory contribution
// ("student" for the student screens, "staff" for the staff screen).
func New(api Fetcher, role string, now attendance.Clock) *Refresher {
	if now == nil {
		now = time.Now
	}
	return &Refresher{api: api, now: now, role: role}
}

// Snapshot returns the latest reconciled view, or nil before the first
// completed refresh.
func (r *Refresher) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Refresh fetches both directories and the day's events and installs a new
// snapshot. Either directory failing contributes an empty list; an event
// fetch failure leaves the baseline roster-only view. The returned bool is
// false when the result was discarded as stale.
func (r *Refresher) Refresh(ctx context.Context, branchID int64, date string) (*Snapshot, bool) {
	r.mu.Lock()
	r.seq++
	mine := r.seq
	r.mu.Unlock()

	students, err := r.api.ListStudents(ctx, branchID)
	r.observe("students", err)

	accounts, err := r.api.ListAccounts(ctx, r.role, branchID)
	r.observe("accounts", err)

	merged := roster.Merge(students, accounts)

	events, err := r.api.ListAttendance(ctx, date, branchID)
	r.observe("attendance", err)

	snap := &Snapshot{
		BranchID:  branchID,
		Date:      date,
		Views:     attendance.Overlay(merged, events),
		FetchedAt: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if mine < r.seq {
		metrics.StaleResponsesDropped.Inc()
		return r.snap, false
	}
	r.snap = snap
	return snap, true
}

func (r *Refresher) observe(source string, err error) {
	if err != nil {
		log.Printf("refresh: %s fetch failed, using empty contribution: %v", source, err)
		metrics.UpstreamFetches.WithLabelValues(source, "error").Inc()
		return
	}
	metrics.UpstreamFetches.WithLabelValues(source, "ok").Inc()
}

// Patch applies an optimistic projection after a committed write: the
// person's row is forced present with the committed time and attribution.
// The views slice is rebuilt, not mutated, so a concurrent reader of the old
// snapshot never sees a half-applied row. The next successful Refresh
// unconditionally supersedes the projection with server truth.
func (r *Refresher) Patch(p roster.Person, action attendance.Action, timeOfDay, by string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap == nil {
		return
	}

	views := make([]attendance.DerivedView, len(r.snap.Views))
	copy(views, r.snap.Views)
	for i, v := range views {
		if !roster.SameIdentity(v.Person, p) {
			continue
		}
		v.Status = attendance.StatusPresent
		if action == attendance.ActionIn {
			v.InTime = timeOfDay
			v.InBy = by
			// Re-entry resets the departure half of the cycle.
			v.OutTime = ""
			v.OutBy = attendance.Placeholder
		} else {
			v.OutTime = timeOfDay
			v.OutBy = by
		}
		views[i] = v
		break
	}

	snap := *r.snap
	snap.Views = views
	r.snap = &snap
}

// Run polls at the given interval until ctx is cancelled. Each screen owns
// one Run and cancels it on teardown so no fetch outlives the screen.
func (r *Refresher) Run(ctx context.Context, interval time.Duration, branchID int64, date string) {
	r.Refresh(ctx, branchID, date)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Refresh(ctx, branchID, date)
		case <-ctx.Done():
			return
		}
	}
}
