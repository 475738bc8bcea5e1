package client

import (
	"encoding/json"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"opsync/api/internal/realtime"
	deltasync "opsync/api/internal/sync"
)

// LivePosition is an ephemeral drag-preview position. It lives only in
// memory: never in the cache, never behind a cursor.
type LivePosition struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Reconciler keeps one mission's local mirror consistent: durable change
// events and delta results merge into the cache last-write-wins by server
// timestamp, live-move previews ride an in-memory overlay on top.
type Reconciler struct {
	cache     *Cache
	missionID string

	mu      stdsync.Mutex
	overlay map[string]LivePosition // kind+"/"+id
}

func NewReconciler(cache *Cache, missionID string) *Reconciler {
	return &Reconciler{
		cache:     cache,
		missionID: missionID,
		overlay:   make(map[string]LivePosition),
	}
}

// Load returns the cached mission state for immediate display.
func (r *Reconciler) Load() ([]CachedEntity, error) {
	return r.cache.LoadMission(r.missionID)
}

// Cursor returns the last successfully reconciled cursor, nil for "never".
func (r *Reconciler) Cursor() (*time.Time, error) {
	return r.cache.Cursor(r.missionID)
}

// MergeEvent applies one durable ChangeEvent. An event older than the cached
// copy is a no-op; arrival order is irrelevant, only the server timestamp
// counts. A deletion writes a tombstone carrying the event's timestamp, so a
// late-arriving pre-delete update cannot bring the record back.
func (r *Reconciler) MergeEvent(event realtime.ChangeEvent) error {
	applied, err := r.cache.Put(CachedEntity{
		Kind:      event.Kind,
		ID:        event.ID,
		MissionID: event.MissionID,
		Payload:   event.Payload,
		Deleted:   event.Op == realtime.OpDeleted,
		UpdatedAt: event.Timestamp,
	})
	if err != nil {
		return err
	}
	if applied {
		// The durable record confirms or supersedes any preview.
		r.clearOverlay(event.Kind, event.ID)
	}
	return nil
}

// ApplyLiveMove records an ephemeral preview position in memory only.
func (r *Reconciler) ApplyLiveMove(kind string, data []byte) error {
	var move LivePosition
	if err := json.Unmarshal(data, &move); err != nil {
		return fmt.Errorf("decode live move: %w", err)
	}
	if move.ID == "" {
		return fmt.Errorf("live move without id")
	}
	r.mu.Lock()
	r.overlay[kind+"/"+move.ID] = move
	r.mu.Unlock()
	return nil
}

// LivePositionFor returns the current preview position, if any.
func (r *Reconciler) LivePositionFor(kind, id string) (LivePosition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	move, ok := r.overlay[kind+"/"+id]
	return move, ok
}

// HandleEnvelope routes one inbound frame. Presence frames are advisory UI
// state and ignored here.
func (r *Reconciler) HandleEnvelope(env realtime.Envelope) error {
	if realtime.IsLiveMove(env.Event) {
		kind := strings.TrimSuffix(env.Event, ":live-move")
		return r.ApplyLiveMove(kind, env.Data)
	}
	if env.Event == realtime.EventPresenceUpdate || env.Event == realtime.EventRoomError {
		return nil
	}
	if !strings.Contains(env.Event, ":") {
		return nil
	}
	var event realtime.ChangeEvent
	if err := json.Unmarshal(env.Data, &event); err != nil {
		return fmt.Errorf("decode change event %s: %w", env.Event, err)
	}
	return r.MergeEvent(event)
}

// ApplyDelta merges a reconciliation result and, only if every record merged
// cleanly, advances the cursor to the server-returned value. A failure leaves
// the cursor untouched so the client retries the same window instead of
// silently skipping records.
func (r *Reconciler) ApplyDelta(delta deltasync.Delta) error {
	for _, unit := range delta.Units {
		if err := r.mergeRecord("unit", unit.ID, unit.Deleted, unit.UpdatedAt, unit); err != nil {
			return err
		}
	}
	for _, group := range delta.Groups {
		if err := r.mergeRecord("group", group.ID, group.Deleted, group.UpdatedAt, group); err != nil {
			return err
		}
	}
	for _, contact := range delta.Contacts {
		if err := r.mergeRecord("contact", contact.ID, contact.Deleted, contact.UpdatedAt, contact); err != nil {
			return err
		}
	}
	for _, task := range delta.Tasks {
		if err := r.mergeRecord("task", task.ID, task.Deleted, task.UpdatedAt, task); err != nil {
			return err
		}
	}
	for _, wp := range delta.Waypoints {
		if err := r.mergeRecord("waypoint", wp.ID, wp.Deleted, wp.UpdatedAt, wp); err != nil {
			return err
		}
	}
	return r.cache.SetCursor(r.missionID, delta.ServerTime)
}

func (r *Reconciler) mergeRecord(kind, id string, deleted bool, updatedAt time.Time, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", kind, id, err)
	}
	applied, err := r.cache.Put(CachedEntity{
		Kind:      kind,
		ID:        id,
		MissionID: r.missionID,
		Payload:   payload,
		Deleted:   deleted,
		UpdatedAt: updatedAt,
	})
	if err != nil {
		return err
	}
	if applied {
		r.clearOverlay(kind, id)
	}
	return nil
}

func (r *Reconciler) clearOverlay(kind, id string) {
	r.mu.Lock()
	delete(r.overlay, kind+"/"+id)
	r.mu.Unlock()
}
