// Package client implements the offline-first mission mirror: a locally
// durable sqlite cache, last-write-wins merging of broadcast events, and a
// reconnect loop that repairs gaps through delta sync.
package client

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// CachedEntity is the client-local copy of one domain record. UpdatedAt is
// the last-known server timestamp and drives the merge rule: older inbound
// copies are dropped. Deletions are stored as tombstones (Deleted set) rather
// than removed, so a stale pre-delete update loses the timestamp comparison
// instead of resurrecting the record.
type CachedEntity struct {
	Kind      string
	ID        string
	MissionID string
	Payload   json.RawMessage
	Deleted   bool
	UpdatedAt time.Time
}

type Cache struct {
	db *sql.DB
}

// OpenCache opens (or creates) the durable cache. Pass ":memory:" in tests.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	cache := &Cache{db: db}
	if err := cache.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache tables: %w", err)
	}
	return cache, nil
}

func (c *Cache) initTables() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			mission_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (kind, id)
		);
		CREATE INDEX IF NOT EXISTS idx_entities_mission ON entities(mission_id);

		CREATE TABLE IF NOT EXISTS cursors (
			mission_id TEXT PRIMARY KEY,
			cursor TEXT NOT NULL
		);
	`)
	return err
}

// Put upserts an entity unless the cached copy carries a strictly newer
// server timestamp. Tombstones go through the same guard, so a deletion can
// neither be applied over a newer write nor undone by an older one. Reports
// whether the write was applied.
func (c *Cache) Put(entity CachedEntity) (bool, error) {
	existing, err := c.Get(entity.Kind, entity.ID)
	if err != nil {
		return false, err
	}
	if existing != nil && existing.UpdatedAt.After(entity.UpdatedAt) {
		return false, nil
	}

	_, err = c.db.Exec(`
		INSERT INTO entities (kind, id, mission_id, payload, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			mission_id=excluded.mission_id, payload=excluded.payload, deleted=excluded.deleted, updated_at=excluded.updated_at
	`, entity.Kind, entity.ID, entity.MissionID, string(entity.Payload), entity.Deleted, entity.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("put cached entity: %w", err)
	}
	return true, nil
}

// Get returns the cached row including tombstones; callers that only want
// live records should use LoadMission.
func (c *Cache) Get(kind, id string) (*CachedEntity, error) {
	var entity CachedEntity
	var payload, updatedAt string
	err := c.db.QueryRow(`
		SELECT kind, id, mission_id, payload, deleted, updated_at
		FROM entities
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&entity.Kind, &entity.ID, &entity.MissionID, &payload, &entity.Deleted, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached entity: %w", err)
	}

	entity.Payload = json.RawMessage(payload)
	entity.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse cached timestamp: %w", err)
	}
	return &entity, nil
}

// LoadMission returns every live cached record for a mission (tombstones
// excluded), for immediate UI population before any network round-trip.
func (c *Cache) LoadMission(missionID string) ([]CachedEntity, error) {
	rows, err := c.db.Query(`
		SELECT kind, id, mission_id, payload, deleted, updated_at
		FROM entities
		WHERE mission_id = ? AND deleted = 0
		ORDER BY kind, id
	`, missionID)
	if err != nil {
		return nil, fmt.Errorf("load mission cache: %w", err)
	}
	defer rows.Close()

	entities := make([]CachedEntity, 0)
	for rows.Next() {
		var entity CachedEntity
		var payload, updatedAt string
		if err := rows.Scan(&entity.Kind, &entity.ID, &entity.MissionID, &payload, &entity.Deleted, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan cached entity: %w", err)
		}
		entity.Payload = json.RawMessage(payload)
		entity.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse cached timestamp: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mission cache: %w", err)
	}
	return entities, nil
}

// Cursor returns the stored sync cursor for a mission, nil when the client
// has never completed a reconciliation (meaning: request a full snapshot).
func (c *Cache) Cursor(missionID string) (*time.Time, error) {
	var raw string
	err := c.db.QueryRow(`SELECT cursor FROM cursors WHERE mission_id = ?`, missionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	cursor, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("parse cursor: %w", err)
	}
	return &cursor, nil
}

func (c *Cache) SetCursor(missionID string, cursor time.Time) error {
	_, err := c.db.Exec(`
		INSERT INTO cursors (mission_id, cursor)
		VALUES (?, ?)
		ON CONFLICT (mission_id) DO UPDATE SET cursor=excluded.cursor
	`, missionID, cursor.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}
