package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"opsync/api/internal/auth"
	"opsync/api/internal/presence"
	"opsync/api/internal/store"
)

// GrantResolver re-reads the durable role grant; called on every room join so
// a revoked participant is blocked at their next join, not retroactively.
type GrantResolver interface {
	GetRoleGrant(ctx context.Context, missionID, participantID string) (store.RoleGrant, error)
}

// PresenceStore is the gateway's view of the presence backend. The gateway is
// its sole writer.
type PresenceStore interface {
	Upsert(ctx context.Context, missionID string, entry presence.Entry) error
	Remove(ctx context.Context, missionID, participantID, connectionID string) error
	List(ctx context.Context, missionID string) ([]presence.Entry, error)
}

// Gateway owns connection lifecycle: authenticate, join/leave rooms, announce
// presence, relay live-move previews, and tear everything down symmetrically
// on disconnect.
type Gateway struct {
	secret   []byte
	grants   GrantResolver
	presence PresenceStore
	router   *Router
	upgrader websocket.Upgrader
}

func NewGateway(secret []byte, grants GrantResolver, presenceStore PresenceStore, router *Router) *Gateway {
	return &Gateway{
		secret:   secret,
		grants:   grants,
		presence: presenceStore,
		router:   router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	claims, err := auth.ParseToken(g.secret, token)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed for %s: %v", claims.Sub, err)
		return
	}

	conn := NewConnection(claims.Sub, claims.Name, ws)
	conn.Start()
	g.readLoop(conn, ws)
}

// readLoop services one connection until its transport closes for any reason.
// Runs on the handler goroutine.
func (g *Gateway) readLoop(conn *Connection, ws *websocket.Conn) {
	ctx := context.Background()

	defer func() {
		for _, missionID := range g.router.Rooms(conn) {
			g.leaveRoom(ctx, conn, missionID)
		}
		g.router.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "bye")
	}()

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch {
		case env.Event == EventRoomJoin:
			var req RoomRequest
			if err := json.Unmarshal(env.Data, &req); err != nil || req.MissionID == "" {
				continue
			}
			g.joinRoom(ctx, conn, req.MissionID)
		case env.Event == EventRoomLeave:
			var req RoomRequest
			if err := json.Unmarshal(env.Data, &req); err != nil || req.MissionID == "" {
				continue
			}
			g.leaveRoom(ctx, conn, req.MissionID)
			g.router.Leave(req.MissionID, conn)
		case IsLiveMove(env.Event):
			// Ephemeral preview: relayed to the room, never persisted, never
			// delivered back to the sender.
			for _, missionID := range g.router.Rooms(conn) {
				g.router.BroadcastExcept(missionID, conn.ID, env.Event, env.Data)
			}
		}
	}
}

// joinRoom re-resolves the role grant, swaps rooms if needed, records
// presence and announces the updated set. No grant means the participant is
// not a mission member and the join is rejected outright.
func (g *Gateway) joinRoom(ctx context.Context, conn *Connection, missionID string) {
	if _, err := g.grants.GetRoleGrant(ctx, missionID, conn.ParticipantID); err != nil {
		g.sendRoomError(conn, missionID, "NOT_A_MEMBER", "no role grant for this mission")
		return
	}

	// Joining a new room implicitly leaves the previous one first.
	for _, previous := range g.router.Rooms(conn) {
		if previous == missionID {
			continue
		}
		g.leaveRoom(ctx, conn, previous)
		g.router.Leave(previous, conn)
	}

	g.router.Join(missionID, conn)

	entry := presence.Entry{
		ParticipantID: conn.ParticipantID,
		DisplayName:   conn.DisplayName,
		ConnectionID:  conn.ID,
		JoinedAt:      time.Now().UTC(),
	}
	if err := g.presence.Upsert(ctx, missionID, entry); err != nil {
		log.Printf("presence upsert failed for %s in %s: %v", conn.ParticipantID, missionID, err)
	}
	g.announcePresence(ctx, missionID)
}

// leaveRoom removes this connection's presence entry and re-announces. It does
// not touch router membership; callers decide that separately because the
// disconnect path detaches all rooms at once.
func (g *Gateway) leaveRoom(ctx context.Context, conn *Connection, missionID string) {
	if err := g.presence.Remove(ctx, missionID, conn.ParticipantID, conn.ID); err != nil {
		log.Printf("presence remove failed for %s in %s: %v", conn.ParticipantID, missionID, err)
	}
	g.announcePresence(ctx, missionID)
}

// announcePresence pushes the full presence set to the room. Presence is
// advisory: a failed read is logged and the announcement skipped.
func (g *Gateway) announcePresence(ctx context.Context, missionID string) {
	entries, err := g.presence.List(ctx, missionID)
	if err != nil {
		log.Printf("presence list failed for %s: %v", missionID, err)
		return
	}
	g.router.Broadcast(missionID, EventPresenceUpdate, entries)
}

func (g *Gateway) sendRoomError(conn *Connection, missionID, code, message string) {
	payload, err := EncodeEnvelope(EventRoomError, RoomError{MissionID: missionID, Code: code, Message: message})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
