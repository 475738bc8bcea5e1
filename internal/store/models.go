package store

import "time"

type Member struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Mission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoleGrant is a participant's durable role within one mission. Groups lists
// the group ids a group-lead is assigned to.
type RoleGrant struct {
	MissionID     string    `json:"missionId"`
	ParticipantID string    `json:"participantId"`
	Role          string    `json:"role"`
	Groups        []string  `json:"groups"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Unit struct {
	ID        string    `json:"id"`
	MissionID string    `json:"missionId"`
	GroupID   string    `json:"groupId"`
	Callsign  string    `json:"callsign"`
	Status    string    `json:"status"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Deleted   bool      `json:"deleted"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Group struct {
	ID        string    `json:"id"`
	MissionID string    `json:"missionId"`
	Name      string    `json:"name"`
	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Contact struct {
	ID        string    `json:"id"`
	MissionID string    `json:"missionId"`
	GroupID   string    `json:"groupId"`
	Name      string    `json:"name"`
	Frequency string    `json:"frequency"`
	Notes     string    `json:"notes"`
	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Task struct {
	ID         string    `json:"id"`
	MissionID  string    `json:"missionId"`
	GroupID    string    `json:"groupId"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	AssignedTo string    `json:"assignedTo"`
	Deleted    bool      `json:"deleted"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Waypoint is a per-unit dependent record; delta sync always ships the full
// waypoint set of every changed unit so the client never holds orphaned refs.
type Waypoint struct {
	ID        string    `json:"id"`
	MissionID string    `json:"missionId"`
	UnitID    string    `json:"unitId"`
	Seq       int       `json:"seq"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Label     string    `json:"label"`
	Deleted   bool      `json:"deleted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Message struct {
	ID         string    `json:"id"`
	MissionID  string    `json:"missionId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}
