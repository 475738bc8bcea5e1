package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsync/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureMemberByName(ctx context.Context, name string) (Member, error) {
	const findMember = `SELECT id, display_name, created_at FROM members WHERE display_name = $1`
	var member Member
	err := s.db.QueryRowContext(ctx, findMember, name).Scan(&member.ID, &member.DisplayName, &member.CreatedAt)
	if err == nil {
		return member, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Member{}, fmt.Errorf("lookup member: %w", err)
	}

	const insertMember = `
		INSERT INTO members (id, display_name)
		VALUES ($1, $2)
		RETURNING id, display_name, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertMember, util.NewID("mem"), name).Scan(&member.ID, &member.DisplayName, &member.CreatedAt); err != nil {
		return Member{}, fmt.Errorf("insert member: %w", err)
	}
	return member, nil
}

func (s *PostgresStore) GetMemberByID(ctx context.Context, memberID string) (Member, error) {
	var member Member
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM members WHERE id=$1`, memberID).
		Scan(&member.ID, &member.DisplayName, &member.CreatedAt)
	if err != nil {
		return Member{}, err
	}
	return member, nil
}

func (s *PostgresStore) CreateMission(ctx context.Context, mission Mission) (Mission, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO missions (id, name, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, name, created_by, created_at
	`, mission.ID, mission.Name, mission.CreatedBy).
		Scan(&mission.ID, &mission.Name, &mission.CreatedBy, &mission.CreatedAt)
	if err != nil {
		return Mission{}, fmt.Errorf("create mission: %w", err)
	}
	return mission, nil
}

func (s *PostgresStore) GetMission(ctx context.Context, missionID string) (Mission, error) {
	var mission Mission
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_by, created_at FROM missions WHERE id=$1`, missionID).
		Scan(&mission.ID, &mission.Name, &mission.CreatedBy, &mission.CreatedAt)
	if err != nil {
		return Mission{}, err
	}
	return mission, nil
}

// GetRoleGrant resolves the durable role for (mission, participant). Absence
// (sql.ErrNoRows) means the participant is not a member of the mission.
func (s *PostgresStore) GetRoleGrant(ctx context.Context, missionID, participantID string) (RoleGrant, error) {
	grant := RoleGrant{MissionID: missionID, ParticipantID: participantID}
	var groupsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT role, group_ids, updated_at
		FROM role_grants
		WHERE mission_id=$1 AND participant_id=$2
	`, missionID, participantID).Scan(&grant.Role, &groupsJSON, &grant.UpdatedAt)
	if err != nil {
		return RoleGrant{}, err
	}
	if err := json.Unmarshal([]byte(groupsJSON), &grant.Groups); err != nil {
		return RoleGrant{}, fmt.Errorf("unmarshal grant groups: %w", err)
	}
	return grant, nil
}

func (s *PostgresStore) UpsertRoleGrant(ctx context.Context, grant RoleGrant) error {
	groupsJSON, err := json.Marshal(grant.Groups)
	if err != nil {
		return fmt.Errorf("marshal grant groups: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO role_grants (mission_id, participant_id, role, group_ids)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mission_id, participant_id)
		DO UPDATE SET role=EXCLUDED.role, group_ids=EXCLUDED.group_ids, updated_at=NOW()
	`, grant.MissionID, grant.ParticipantID, grant.Role, string(groupsJSON))
	if err != nil {
		return fmt.Errorf("upsert role grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertUnit(ctx context.Context, unit Unit) (Unit, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO units (id, mission_id, group_id, callsign, status, lat, lon, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING updated_at
	`, unit.ID, unit.MissionID, unit.GroupID, unit.Callsign, unit.Status, unit.Lat, unit.Lon, unit.UpdatedBy).
		Scan(&unit.UpdatedAt)
	if err != nil {
		return Unit{}, fmt.Errorf("insert unit: %w", err)
	}
	return unit, nil
}

func (s *PostgresStore) UpdateUnit(ctx context.Context, unit Unit) (Unit, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE units
		SET group_id=$3, callsign=$4, status=$5, lat=$6, lon=$7, updated_by=$8, updated_at=NOW()
		WHERE id=$1 AND mission_id=$2 AND NOT deleted
		RETURNING updated_at
	`, unit.ID, unit.MissionID, unit.GroupID, unit.Callsign, unit.Status, unit.Lat, unit.Lon, unit.UpdatedBy).
		Scan(&unit.UpdatedAt)
	if err != nil {
		return Unit{}, err
	}
	return unit, nil
}

// ReportUnit applies a status/position report without touching structural
// fields; this is the durable write behind the unit-lead report path.
func (s *PostgresStore) ReportUnit(ctx context.Context, missionID, unitID, status string, lat, lon float64, updatedBy string) (Unit, error) {
	var unit Unit
	err := s.db.QueryRowContext(ctx, `
		UPDATE units
		SET status=$3, lat=$4, lon=$5, updated_by=$6, updated_at=NOW()
		WHERE id=$1 AND mission_id=$2 AND NOT deleted
		RETURNING id, mission_id, group_id, callsign, status, lat, lon, deleted, updated_by, updated_at
	`, unitID, missionID, status, lat, lon, updatedBy).
		Scan(&unit.ID, &unit.MissionID, &unit.GroupID, &unit.Callsign, &unit.Status, &unit.Lat, &unit.Lon, &unit.Deleted, &unit.UpdatedBy, &unit.UpdatedAt)
	if err != nil {
		return Unit{}, err
	}
	return unit, nil
}

func (s *PostgresStore) DeleteUnit(ctx context.Context, missionID, unitID, updatedBy string) (Unit, error) {
	var unit Unit
	err := s.db.QueryRowContext(ctx, `
		UPDATE units
		SET deleted=TRUE, updated_by=$3, updated_at=NOW()
		WHERE id=$1 AND mission_id=$2 AND NOT deleted
		RETURNING id, mission_id, group_id, callsign, status, lat, lon, deleted, updated_by, updated_at
	`, unitID, missionID, updatedBy).
		Scan(&unit.ID, &unit.MissionID, &unit.GroupID, &unit.Callsign, &unit.Status, &unit.Lat, &unit.Lon, &unit.Deleted, &unit.UpdatedBy, &unit.UpdatedAt)
	if err != nil {
		return Unit{}, err
	}
	return unit, nil
}

func (s *PostgresStore) GetUnit(ctx context.Context, missionID, unitID string) (Unit, error) {
	var unit Unit
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mission_id, group_id, callsign, status, lat, lon, deleted, updated_by, updated_at
		FROM units
		WHERE id=$1 AND mission_id=$2
	`, unitID, missionID).
		Scan(&unit.ID, &unit.MissionID, &unit.GroupID, &unit.Callsign, &unit.Status, &unit.Lat, &unit.Lon, &unit.Deleted, &unit.UpdatedBy, &unit.UpdatedAt)
	if err != nil {
		return Unit{}, err
	}
	return unit, nil
}

func (s *PostgresStore) InsertGroup(ctx context.Context, group Group) (Group, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO groups (id, mission_id, name)
		VALUES ($1, $2, $3)
		RETURNING updated_at
	`, group.ID, group.MissionID, group.Name).Scan(&group.UpdatedAt)
	if err != nil {
		return Group{}, fmt.Errorf("insert group: %w", err)
	}
	return group, nil
}

func (s *PostgresStore) UpdateGroup(ctx context.Context, group Group) (Group, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE groups
		SET name=$3, updated_at=NOW()
		WHERE id=$1 AND mission_id=$2 AND NOT deleted
		RETURNING updated_at
	`, group.ID, group.MissionID, group.Name).Scan(&group.UpdatedAt)
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, missionID, groupID string) (Group, error) {
	var group Group
	err := s.db.QueryRowContext(ctx, `
		UPDATE groups
		SET deleted=TRUE, updated_at=NOW()
		WHERE id=$1 AND mission_id=$2 AND NOT deleted
		RETURNING id, mission_id, name, deleted, updated_at
	`, groupID, missionID).Scan(&group.ID, &group.MissionID, &group.Name, &group.Deleted, &group.UpdatedAt)
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, missionID, groupID string) (Group, error) {
	var group Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mission_id, name, deleted, updated_at
		FROM groups
		WHERE id=$1 AND mission_id=$2
	`, groupID, missionID).Scan(&group.ID, &group.MissionID, &group.Name, &group.Deleted, &group.UpdatedAt)
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

func (s *PostgresStore) InsertContact(ctx context.Context, contact Contact) (Contact, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, mission_id, group_id, name, frequency, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING updated_at
	`, contact.ID, contact.MissionID, contact.GroupID, contact.Name, contact.Frequency, contact.Notes).
		Scan(&contact.UpdatedAt)
	if err != nil {
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return contact, nil
}

func (s *PostgresStore) UpdateContact(ctx context.Context, contact Contact) (Contact, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE contacts
		SET group_id=$3, name=$4, frequency=$5, notes=$6, updated_at=NOW()
		WHERE id=$1 AND mission_id=$2 AND NOT deleted
		RETURNING updated_at
	`, contact.ID, contact.MissionID, contact.GroupID, contact.Name, contact.Frequency, contact.Notes).
		Scan(&contact.UpdatedAt)
	if err != nil {
		return Contact{}, err
	}
	return contact, nil
}

func (s *PostgresStore) DeleteContact(ctx context.Context, missionID, contactID string) (Contact, error) {
	var contact Contact
	err := s.db.QueryRowContext(ctx, `
		UPDATE contacts
		SET deleted=TRUE, updated_at=NOW()
		WHERE id=$1 AND mission_id=$2 AND NOT deleted
		RETURNING id, mission_id, group_id, name, frequency, notes, deleted, updated_at
	`, contactID, missionID).
		Scan(&contact.ID, &contact.MissionID, &contact.GroupID, &contact.Name, &contact.Frequency, &contact.Notes, &contact.Deleted, &contact.UpdatedAt)
	if err != nil {
		return Contact{}, err
	}
	return contact, nil
}

func (s *PostgresStore) GetContact(ctx context.Context, missionID, contactID string) (Contact, error) {
	var contact Contact
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mission_id, group_id, name, frequency, notes, deleted, updated_at
		FROM contacts
		WHERE id=$1 AND mission_id=$2
	`, contactID, missionID).
		Scan(&contact.ID, &contact.MissionID, &contact.GroupID, &contact.Name, &contact.Frequency, &contact.Notes, &contact.Deleted, &contact.UpdatedAt)
	if err != nil {
		return Contact{}, err
	}
	return contact, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) (Task, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, mission_id, group_id, title, status, assigned_to)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING updated_at
	`, task.ID, task.MissionID, task.GroupID, task.Title, task.Status, task.AssignedTo).
		Scan(&task.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) (Task, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET group_id=$3, title=$4, status=$5, assigned_to=$6, updated_at=NOW()
		WHERE id=$1 AND mission_id=$2 AND NOT deleted
		RETURNING updated_at
	`, task.ID, task.MissionID, task.GroupID, task.Title, task.Status, task.AssignedTo).
		Scan(&task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, missionID, taskID string) (Task, error) {
	var task Task
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET deleted=TRUE, updated_at=NOW()
		WHERE id=$1 AND mission_id=$2 AND NOT deleted
		RETURNING id, mission_id, group_id, title, status, assigned_to, deleted, updated_at
	`, taskID, missionID).
		Scan(&task.ID, &task.MissionID, &task.GroupID, &task.Title, &task.Status, &task.AssignedTo, &task.Deleted, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, missionID, taskID string) (Task, error) {
	var task Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mission_id, group_id, title, status, assigned_to, deleted, updated_at
		FROM tasks
		WHERE id=$1 AND mission_id=$2
	`, taskID, missionID).
		Scan(&task.ID, &task.MissionID, &task.GroupID, &task.Title, &task.Status, &task.AssignedTo, &task.Deleted, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) InsertWaypoint(ctx context.Context, wp Waypoint) (Waypoint, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO waypoints (id, mission_id, unit_id, seq, lat, lon, label)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING updated_at
	`, wp.ID, wp.MissionID, wp.UnitID, wp.Seq, wp.Lat, wp.Lon, wp.Label).Scan(&wp.UpdatedAt)
	if err != nil {
		return Waypoint{}, fmt.Errorf("insert waypoint: %w", err)
	}
	return wp, nil
}

func (s *PostgresStore) UpdateWaypoint(ctx context.Context, wp Waypoint) (Waypoint, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE waypoints
		SET seq=$3, lat=$4, lon=$5, label=$6, updated_at=NOW()
		WHERE id=$1 AND mission_id=$2 AND NOT deleted
		RETURNING unit_id, updated_at
	`, wp.ID, wp.MissionID, wp.Seq, wp.Lat, wp.Lon, wp.Label).Scan(&wp.UnitID, &wp.UpdatedAt)
	if err != nil {
		return Waypoint{}, err
	}
	return wp, nil
}

func (s *PostgresStore) DeleteWaypoint(ctx context.Context, missionID, waypointID string) (Waypoint, error) {
	var wp Waypoint
	err := s.db.QueryRowContext(ctx, `
		UPDATE waypoints
		SET deleted=TRUE, updated_at=NOW()
		WHERE id=$1 AND mission_id=$2 AND NOT deleted
		RETURNING id, mission_id, unit_id, seq, lat, lon, label, deleted, updated_at
	`, waypointID, missionID).
		Scan(&wp.ID, &wp.MissionID, &wp.UnitID, &wp.Seq, &wp.Lat, &wp.Lon, &wp.Label, &wp.Deleted, &wp.UpdatedAt)
	if err != nil {
		return Waypoint{}, err
	}
	return wp, nil
}

func (s *PostgresStore) GetWaypoint(ctx context.Context, missionID, waypointID string) (Waypoint, error) {
	var wp Waypoint
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mission_id, unit_id, seq, lat, lon, label, deleted, updated_at
		FROM waypoints
		WHERE id=$1 AND mission_id=$2
	`, waypointID, missionID).
		Scan(&wp.ID, &wp.MissionID, &wp.UnitID, &wp.Seq, &wp.Lat, &wp.Lon, &wp.Label, &wp.Deleted, &wp.UpdatedAt)
	if err != nil {
		return Waypoint{}, err
	}
	return wp, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, mission_id, author_id, author_name, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, msg.ID, msg.MissionID, msg.AuthorID, msg.AuthorName, msg.Body).Scan(&msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// UnitsChangedSince returns mission units modified strictly after since,
// tombstones included, oldest change first.
func (s *PostgresStore) UnitsChangedSince(ctx context.Context, missionID string, since time.Time) ([]Unit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mission_id, group_id, callsign, status, lat, lon, deleted, updated_by, updated_at
		FROM units
		WHERE mission_id=$1 AND updated_at > $2
		ORDER BY updated_at ASC
	`, missionID, since)
	if err != nil {
		return nil, fmt.Errorf("units changed since: %w", err)
	}
	defer rows.Close()

	items := make([]Unit, 0)
	for rows.Next() {
		var unit Unit
		if err := rows.Scan(&unit.ID, &unit.MissionID, &unit.GroupID, &unit.Callsign, &unit.Status, &unit.Lat, &unit.Lon, &unit.Deleted, &unit.UpdatedBy, &unit.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		items = append(items, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GroupsChangedSince(ctx context.Context, missionID string, since time.Time) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mission_id, name, deleted, updated_at
		FROM groups
		WHERE mission_id=$1 AND updated_at > $2
		ORDER BY updated_at ASC
	`, missionID, since)
	if err != nil {
		return nil, fmt.Errorf("groups changed since: %w", err)
	}
	defer rows.Close()

	items := make([]Group, 0)
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.ID, &group.MissionID, &group.Name, &group.Deleted, &group.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		items = append(items, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ContactsChangedSince(ctx context.Context, missionID string, since time.Time) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mission_id, group_id, name, frequency, notes, deleted, updated_at
		FROM contacts
		WHERE mission_id=$1 AND updated_at > $2
		ORDER BY updated_at ASC
	`, missionID, since)
	if err != nil {
		return nil, fmt.Errorf("contacts changed since: %w", err)
	}
	defer rows.Close()

	items := make([]Contact, 0)
	for rows.Next() {
		var contact Contact
		if err := rows.Scan(&contact.ID, &contact.MissionID, &contact.GroupID, &contact.Name, &contact.Frequency, &contact.Notes, &contact.Deleted, &contact.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		items = append(items, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) TasksChangedSince(ctx context.Context, missionID string, since time.Time) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mission_id, group_id, title, status, assigned_to, deleted, updated_at
		FROM tasks
		WHERE mission_id=$1 AND updated_at > $2
		ORDER BY updated_at ASC
	`, missionID, since)
	if err != nil {
		return nil, fmt.Errorf("tasks changed since: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var task Task
		if err := rows.Scan(&task.ID, &task.MissionID, &task.GroupID, &task.Title, &task.Status, &task.AssignedTo, &task.Deleted, &task.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) WaypointsChangedSince(ctx context.Context, missionID string, since time.Time) ([]Waypoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mission_id, unit_id, seq, lat, lon, label, deleted, updated_at
		FROM waypoints
		WHERE mission_id=$1 AND updated_at > $2
		ORDER BY updated_at ASC
	`, missionID, since)
	if err != nil {
		return nil, fmt.Errorf("waypoints changed since: %w", err)
	}
	defer rows.Close()

	items := make([]Waypoint, 0)
	for rows.Next() {
		var wp Waypoint
		if err := rows.Scan(&wp.ID, &wp.MissionID, &wp.UnitID, &wp.Seq, &wp.Lat, &wp.Lon, &wp.Label, &wp.Deleted, &wp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan waypoint: %w", err)
		}
		items = append(items, wp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate waypoints: %w", err)
	}
	return items, nil
}

// WaypointsForUnits returns every waypoint (tombstones included) belonging to
// the given units, so the dependent collection never leaves orphaned refs in a
// client cache.
func (s *PostgresStore) WaypointsForUnits(ctx context.Context, missionID string, unitIDs []string) ([]Waypoint, error) {
	if len(unitIDs) == 0 {
		return []Waypoint{}, nil
	}

	placeholders := make([]string, 0, len(unitIDs))
	args := make([]any, 0, len(unitIDs)+1)
	args = append(args, missionID)
	for i, id := range unitIDs {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT id, mission_id, unit_id, seq, lat, lon, label, deleted, updated_at
		FROM waypoints
		WHERE mission_id=$1 AND unit_id IN (%s)
		ORDER BY updated_at ASC
	`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("waypoints for units: %w", err)
	}
	defer rows.Close()

	items := make([]Waypoint, 0)
	for rows.Next() {
		var wp Waypoint
		if err := rows.Scan(&wp.ID, &wp.MissionID, &wp.UnitID, &wp.Seq, &wp.Lat, &wp.Lon, &wp.Label, &wp.Deleted, &wp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan waypoint: %w", err)
		}
		items = append(items, wp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate waypoints: %w", err)
	}
	return items, nil
}
