// Package sync answers "what changed in mission M since cursor C". It is the
// durable catch-up path behind the best-effort broadcast stream: a client that
// missed any number of events repairs itself with one reconciliation call.
package sync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"opsync/api/internal/store"
)

// ChangeSource is the slice of the relational store the reconciler reads.
type ChangeSource interface {
	UnitsChangedSince(ctx context.Context, missionID string, since time.Time) ([]store.Unit, error)
	GroupsChangedSince(ctx context.Context, missionID string, since time.Time) ([]store.Group, error)
	ContactsChangedSince(ctx context.Context, missionID string, since time.Time) ([]store.Contact, error)
	TasksChangedSince(ctx context.Context, missionID string, since time.Time) ([]store.Task, error)
	WaypointsChangedSince(ctx context.Context, missionID string, since time.Time) ([]store.Waypoint, error)
	WaypointsForUnits(ctx context.Context, missionID string, unitIDs []string) ([]store.Waypoint, error)
}

// Delta is one reconciliation result. Every collection is present (possibly
// empty, never nil) and ServerTime is the client's next cursor.
type Delta struct {
	ServerTime time.Time        `json:"serverTime"`
	Units      []store.Unit     `json:"units"`
	Groups     []store.Group    `json:"groups"`
	Contacts   []store.Contact  `json:"contacts"`
	Tasks      []store.Task     `json:"tasks"`
	Waypoints  []store.Waypoint `json:"waypoints"`
}

type Reconciler struct {
	source ChangeSource
	now    func() time.Time
}

func NewReconciler(source ChangeSource) *Reconciler {
	return &Reconciler{source: source, now: time.Now}
}

// Reconcile returns all records of mission missionID changed strictly after
// since, plus the waypoints of every changed unit. A nil since means full
// snapshot. The new cursor is the server time captured before the queries run,
// so a record committed mid-query is delivered again next time instead of
// being skipped. Any storage error fails the whole call; partial results are
// never returned, because the caller would advance its cursor past records it
// never saw.
func (r *Reconciler) Reconcile(ctx context.Context, missionID string, since *time.Time) (Delta, error) {
	cursor := since
	if cursor == nil {
		zero := time.Time{}
		cursor = &zero
	}

	delta := Delta{ServerTime: r.now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		units, err := r.source.UnitsChangedSince(gctx, missionID, *cursor)
		if err != nil {
			return fmt.Errorf("reconcile units: %w", err)
		}
		delta.Units = units
		return nil
	})
	g.Go(func() error {
		groups, err := r.source.GroupsChangedSince(gctx, missionID, *cursor)
		if err != nil {
			return fmt.Errorf("reconcile groups: %w", err)
		}
		delta.Groups = groups
		return nil
	})
	g.Go(func() error {
		contacts, err := r.source.ContactsChangedSince(gctx, missionID, *cursor)
		if err != nil {
			return fmt.Errorf("reconcile contacts: %w", err)
		}
		delta.Contacts = contacts
		return nil
	})
	g.Go(func() error {
		tasks, err := r.source.TasksChangedSince(gctx, missionID, *cursor)
		if err != nil {
			return fmt.Errorf("reconcile tasks: %w", err)
		}
		delta.Tasks = tasks
		return nil
	})
	var changedWaypoints []store.Waypoint
	g.Go(func() error {
		waypoints, err := r.source.WaypointsChangedSince(gctx, missionID, *cursor)
		if err != nil {
			return fmt.Errorf("reconcile waypoints: %w", err)
		}
		changedWaypoints = waypoints
		return nil
	})
	if err := g.Wait(); err != nil {
		return Delta{}, err
	}

	// Waypoints are a tracked collection AND a dependent one: everything that
	// changed after the cursor ships regardless of its parent unit, plus the
	// full waypoint set of every changed unit. The dependent query runs after
	// the group because it needs the changed-unit id set; the union dedups by
	// waypoint id.
	unitIDs := make([]string, 0, len(delta.Units))
	for _, unit := range delta.Units {
		unitIDs = append(unitIDs, unit.ID)
	}
	dependents, err := r.source.WaypointsForUnits(ctx, missionID, unitIDs)
	if err != nil {
		return Delta{}, fmt.Errorf("reconcile dependent waypoints: %w", err)
	}
	seen := make(map[string]struct{}, len(changedWaypoints))
	for _, wp := range changedWaypoints {
		seen[wp.ID] = struct{}{}
	}
	delta.Waypoints = changedWaypoints
	for _, wp := range dependents {
		if _, ok := seen[wp.ID]; ok {
			continue
		}
		delta.Waypoints = append(delta.Waypoints, wp)
	}

	if delta.Units == nil {
		delta.Units = []store.Unit{}
	}
	if delta.Groups == nil {
		delta.Groups = []store.Group{}
	}
	if delta.Contacts == nil {
		delta.Contacts = []store.Contact{}
	}
	if delta.Tasks == nil {
		delta.Tasks = []store.Task{}
	}
	if delta.Waypoints == nil {
		delta.Waypoints = []store.Waypoint{}
	}
	return delta, nil
}
