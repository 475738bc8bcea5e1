package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"

	"opsync/api/internal/auth"
	"opsync/api/internal/presence"
	"opsync/api/internal/store"
)

var testSecret = []byte("gateway-test-secret")

type fakeGrants struct {
	grants map[string]store.RoleGrant
}

func (f *fakeGrants) GetRoleGrant(_ context.Context, missionID, participantID string) (store.RoleGrant, error) {
	grant, ok := f.grants[missionID+"/"+participantID]
	if !ok {
		return store.RoleGrant{}, sql.ErrNoRows
	}
	return grant, nil
}

func setupGateway(t *testing.T) (*httptest.Server, *Router, *presence.RedisStore, *fakeGrants) {
	t.Helper()
	s := miniredis.RunT(t)
	presenceStore, err := presence.NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("presence store: %v", err)
	}
	t.Cleanup(func() { presenceStore.Close() })

	grants := &fakeGrants{grants: map[string]store.RoleGrant{}}
	router := NewRouter()
	gateway := NewGateway(testSecret, grants, presenceStore, router)
	server := httptest.NewServer(gateway)
	t.Cleanup(server.Close)
	t.Cleanup(router.Close)
	return server, router, presenceStore, grants
}

func issueTestToken(t *testing.T, participantID, name string) string {
	t.Helper()
	token, err := auth.IssueToken(testSecret, auth.Claims{
		Sub:  participantID,
		Name: name,
		JTI:  "jti-" + participantID,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func dialGateway(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendEvent(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := EncodeEnvelope(event, data)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// waitForEvent reads frames until one matches event, failing after a deadline.
func waitForEvent(t *testing.T, ws *websocket.Conn, event string) Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = ws.SetReadDeadline(deadline)
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame while waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
}

func presenceIDs(t *testing.T, env Envelope) []string {
	t.Helper()
	var entries []presence.Entry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("bad presence payload: %v", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ParticipantID)
	}
	return ids
}

func TestJoinAnnouncesPresence(t *testing.T) {
	server, _, _, grants := setupGateway(t)
	grants.grants["msn-1/mem-a"] = store.RoleGrant{Role: "lead"}
	grants.grants["msn-1/mem-b"] = store.RoleGrant{Role: "unit-lead"}

	wsA := dialGateway(t, server, issueTestToken(t, "mem-a", "Alpha"))
	sendEvent(t, wsA, EventRoomJoin, RoomRequest{MissionID: "msn-1"})

	ids := presenceIDs(t, waitForEvent(t, wsA, EventPresenceUpdate))
	if len(ids) != 1 || ids[0] != "mem-a" {
		t.Fatalf("expected presence [mem-a], got %v", ids)
	}

	wsB := dialGateway(t, server, issueTestToken(t, "mem-b", "Bravo"))
	sendEvent(t, wsB, EventRoomJoin, RoomRequest{MissionID: "msn-1"})

	// Both the joiner and the existing member see the updated set.
	idsA := presenceIDs(t, waitForEvent(t, wsA, EventPresenceUpdate))
	idsB := presenceIDs(t, waitForEvent(t, wsB, EventPresenceUpdate))
	if len(idsA) != 2 || len(idsB) != 2 {
		t.Fatalf("expected both members in presence, got %v and %v", idsA, idsB)
	}
}

func TestJoinWithoutGrantIsRejected(t *testing.T) {
	server, _, presenceStore, _ := setupGateway(t)

	ws := dialGateway(t, server, issueTestToken(t, "mem-x", "Xray"))
	sendEvent(t, ws, EventRoomJoin, RoomRequest{MissionID: "msn-1"})

	env := waitForEvent(t, ws, EventRoomError)
	var roomErr RoomError
	if err := json.Unmarshal(env.Data, &roomErr); err != nil {
		t.Fatalf("bad room error: %v", err)
	}
	if roomErr.Code != "NOT_A_MEMBER" {
		t.Fatalf("expected NOT_A_MEMBER, got %q", roomErr.Code)
	}

	entries, err := presenceStore.List(context.Background(), "msn-1")
	if err != nil {
		t.Fatalf("presence list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected join must not record presence, got %+v", entries)
	}
}

func TestConnectWithBadTokenIsRefused(t *testing.T) {
	server, _, _, _ := setupGateway(t)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail with bad token")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestChangeEventReachesOtherMembersWithoutPolling(t *testing.T) {
	server, router, _, grants := setupGateway(t)
	grants.grants["msn-1/mem-a"] = store.RoleGrant{Role: "lead"}
	grants.grants["msn-1/mem-b"] = store.RoleGrant{Role: "unit-lead"}

	wsA := dialGateway(t, server, issueTestToken(t, "mem-a", "Alpha"))
	sendEvent(t, wsA, EventRoomJoin, RoomRequest{MissionID: "msn-1"})
	waitForEvent(t, wsA, EventPresenceUpdate)

	wsB := dialGateway(t, server, issueTestToken(t, "mem-b", "Bravo"))
	sendEvent(t, wsB, EventRoomJoin, RoomRequest{MissionID: "msn-1"})
	waitForEvent(t, wsB, EventPresenceUpdate)

	payload, _ := json.Marshal(map[string]any{"id": "unit-1", "lat": 10.5, "lon": 20.25})
	router.Publish(ChangeEvent{
		Kind:      "unit",
		ID:        "unit-1",
		Op:        OpUpdated,
		MissionID: "msn-1",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})

	env := waitForEvent(t, wsB, "unit:updated")
	var event ChangeEvent
	if err := json.Unmarshal(env.Data, &event); err != nil {
		t.Fatalf("bad change event: %v", err)
	}
	if event.ID != "unit-1" {
		t.Fatalf("unexpected change event: %+v", event)
	}
}

func TestLiveMoveIsRelayedButNotEchoed(t *testing.T) {
	server, _, _, grants := setupGateway(t)
	grants.grants["msn-1/mem-a"] = store.RoleGrant{Role: "lead"}
	grants.grants["msn-1/mem-b"] = store.RoleGrant{Role: "lead"}

	wsA := dialGateway(t, server, issueTestToken(t, "mem-a", "Alpha"))
	sendEvent(t, wsA, EventRoomJoin, RoomRequest{MissionID: "msn-1"})
	waitForEvent(t, wsA, EventPresenceUpdate)

	wsB := dialGateway(t, server, issueTestToken(t, "mem-b", "Bravo"))
	sendEvent(t, wsB, EventRoomJoin, RoomRequest{MissionID: "msn-1"})
	waitForEvent(t, wsB, EventPresenceUpdate)
	waitForEvent(t, wsA, EventPresenceUpdate)

	sendEvent(t, wsA, "unit:live-move", map[string]any{"id": "unit-1", "lat": 1.5, "lon": 2.5})

	env := waitForEvent(t, wsB, "unit:live-move")
	var move map[string]any
	if err := json.Unmarshal(env.Data, &move); err != nil {
		t.Fatalf("bad live-move payload: %v", err)
	}
	if move["id"] != "unit-1" {
		t.Fatalf("unexpected live-move: %+v", move)
	}

	// The sender must not get its own preview back.
	_ = wsA.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, data, err := wsA.ReadMessage(); err == nil {
		t.Fatalf("expected no echo to sender, got %s", data)
	}
}

func TestDisconnectRemovesPresence(t *testing.T) {
	server, _, presenceStore, grants := setupGateway(t)
	grants.grants["msn-1/mem-a"] = store.RoleGrant{Role: "lead"}
	grants.grants["msn-1/mem-b"] = store.RoleGrant{Role: "lead"}

	wsA := dialGateway(t, server, issueTestToken(t, "mem-a", "Alpha"))
	sendEvent(t, wsA, EventRoomJoin, RoomRequest{MissionID: "msn-1"})
	waitForEvent(t, wsA, EventPresenceUpdate)

	wsB := dialGateway(t, server, issueTestToken(t, "mem-b", "Bravo"))
	sendEvent(t, wsB, EventRoomJoin, RoomRequest{MissionID: "msn-1"})
	waitForEvent(t, wsB, EventPresenceUpdate)

	wsA.Close()

	ids := presenceIDs(t, waitForEvent(t, wsB, EventPresenceUpdate))
	if len(ids) != 1 || ids[0] != "mem-b" {
		t.Fatalf("expected presence [mem-b] after disconnect, got %v", ids)
	}

	entries, err := presenceStore.List(context.Background(), "msn-1")
	if err != nil {
		t.Fatalf("presence list: %v", err)
	}
	if len(entries) != 1 || entries[0].ParticipantID != "mem-b" {
		t.Fatalf("stale presence entry after disconnect: %+v", entries)
	}
}
