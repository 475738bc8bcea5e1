package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event names on the wire.
const (
	EventRoomJoin       = "room:join"
	EventRoomLeave      = "room:leave"
	EventRoomError      = "room:error"
	EventPresenceUpdate = "presence:update"
)

const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// Envelope is the single wire frame; Data shape depends on Event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func EncodeEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// ChangeEvent is the durable mutation notification fanned out to a room.
// Payload carries the full stored record; Timestamp is the server-assigned
// write time clients use for last-write-wins merging.
type ChangeEvent struct {
	Kind      string          `json:"kind"`
	ID        string          `json:"id"`
	Op        string          `json:"op"`
	MissionID string          `json:"missionId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventName is "<kind>:<op>", e.g. "unit:updated".
func (e ChangeEvent) EventName() string {
	return e.Kind + ":" + e.Op
}

// IsLiveMove reports whether an event name is an ephemeral drag-preview relay
// ("<kind>:live-move"). Live moves are never persisted and never cached.
func IsLiveMove(event string) bool {
	return strings.HasSuffix(event, ":live-move")
}

type RoomRequest struct {
	MissionID string `json:"missionId"`
}

type RoomError struct {
	MissionID string `json:"missionId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}
