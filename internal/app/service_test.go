package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"opsync/api/internal/config"
	"opsync/api/internal/realtime"
	"opsync/api/internal/session"
	"opsync/api/internal/store"
	deltasync "opsync/api/internal/sync"
)

type fakeStore struct {
	grants map[string]store.RoleGrant

	ensureMemberByNameFn func(context.Context, string) (store.Member, error)
	getMemberByIDFn      func(context.Context, string) (store.Member, error)
	createMissionFn      func(context.Context, store.Mission) (store.Mission, error)
	upsertRoleGrantFn    func(context.Context, store.RoleGrant) error
	insertUnitFn         func(context.Context, store.Unit) (store.Unit, error)
	getUnitFn            func(context.Context, string, string) (store.Unit, error)
	reportUnitFn         func(context.Context, string, string, string, float64, float64, string) (store.Unit, error)
	unitsChangedSinceFn  func(context.Context, string, time.Time) ([]store.Unit, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) EnsureMemberByName(ctx context.Context, name string) (store.Member, error) {
	if f.ensureMemberByNameFn != nil {
		return f.ensureMemberByNameFn(ctx, name)
	}
	return store.Member{ID: "mem-1", DisplayName: name}, nil
}

func (f *fakeStore) GetMemberByID(ctx context.Context, memberID string) (store.Member, error) {
	if f.getMemberByIDFn != nil {
		return f.getMemberByIDFn(ctx, memberID)
	}
	return store.Member{ID: memberID, DisplayName: "Member"}, nil
}

func (f *fakeStore) CreateMission(ctx context.Context, mission store.Mission) (store.Mission, error) {
	if f.createMissionFn != nil {
		return f.createMissionFn(ctx, mission)
	}
	mission.CreatedAt = time.Now().UTC()
	return mission, nil
}

func (f *fakeStore) GetMission(ctx context.Context, missionID string) (store.Mission, error) {
	return store.Mission{ID: missionID, Name: "Mission"}, nil
}

func (f *fakeStore) GetRoleGrant(_ context.Context, missionID, participantID string) (store.RoleGrant, error) {
	grant, ok := f.grants[missionID+"/"+participantID]
	if !ok {
		return store.RoleGrant{}, sql.ErrNoRows
	}
	return grant, nil
}

func (f *fakeStore) UpsertRoleGrant(ctx context.Context, grant store.RoleGrant) error {
	if f.upsertRoleGrantFn != nil {
		return f.upsertRoleGrantFn(ctx, grant)
	}
	if f.grants == nil {
		f.grants = map[string]store.RoleGrant{}
	}
	f.grants[grant.MissionID+"/"+grant.ParticipantID] = grant
	return nil
}

func (f *fakeStore) InsertUnit(ctx context.Context, unit store.Unit) (store.Unit, error) {
	if f.insertUnitFn != nil {
		return f.insertUnitFn(ctx, unit)
	}
	unit.UpdatedAt = time.Now().UTC()
	return unit, nil
}

func (f *fakeStore) UpdateUnit(_ context.Context, unit store.Unit) (store.Unit, error) {
	unit.UpdatedAt = time.Now().UTC()
	return unit, nil
}

func (f *fakeStore) ReportUnit(ctx context.Context, missionID, unitID, status string, lat, lon float64, updatedBy string) (store.Unit, error) {
	if f.reportUnitFn != nil {
		return f.reportUnitFn(ctx, missionID, unitID, status, lat, lon, updatedBy)
	}
	return store.Unit{ID: unitID, MissionID: missionID, Status: status, Lat: lat, Lon: lon, UpdatedBy: updatedBy, UpdatedAt: time.Now().UTC()}, nil
}

func (f *fakeStore) DeleteUnit(_ context.Context, missionID, unitID, updatedBy string) (store.Unit, error) {
	return store.Unit{ID: unitID, MissionID: missionID, Deleted: true, UpdatedBy: updatedBy, UpdatedAt: time.Now().UTC()}, nil
}

func (f *fakeStore) GetUnit(ctx context.Context, missionID, unitID string) (store.Unit, error) {
	if f.getUnitFn != nil {
		return f.getUnitFn(ctx, missionID, unitID)
	}
	return store.Unit{ID: unitID, MissionID: missionID}, nil
}

func (f *fakeStore) InsertGroup(_ context.Context, group store.Group) (store.Group, error) {
	group.UpdatedAt = time.Now().UTC()
	return group, nil
}

func (f *fakeStore) UpdateGroup(_ context.Context, group store.Group) (store.Group, error) {
	group.UpdatedAt = time.Now().UTC()
	return group, nil
}

func (f *fakeStore) DeleteGroup(_ context.Context, missionID, groupID string) (store.Group, error) {
	return store.Group{ID: groupID, MissionID: missionID, Deleted: true, UpdatedAt: time.Now().UTC()}, nil
}

func (f *fakeStore) GetGroup(_ context.Context, missionID, groupID string) (store.Group, error) {
	return store.Group{ID: groupID, MissionID: missionID}, nil
}

func (f *fakeStore) InsertContact(_ context.Context, contact store.Contact) (store.Contact, error) {
	contact.UpdatedAt = time.Now().UTC()
	return contact, nil
}

func (f *fakeStore) UpdateContact(_ context.Context, contact store.Contact) (store.Contact, error) {
	contact.UpdatedAt = time.Now().UTC()
	return contact, nil
}

func (f *fakeStore) DeleteContact(_ context.Context, missionID, contactID string) (store.Contact, error) {
	return store.Contact{ID: contactID, MissionID: missionID, Deleted: true, UpdatedAt: time.Now().UTC()}, nil
}

func (f *fakeStore) GetContact(_ context.Context, missionID, contactID string) (store.Contact, error) {
	return store.Contact{ID: contactID, MissionID: missionID}, nil
}

func (f *fakeStore) InsertTask(_ context.Context, task store.Task) (store.Task, error) {
	task.UpdatedAt = time.Now().UTC()
	return task, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, task store.Task) (store.Task, error) {
	task.UpdatedAt = time.Now().UTC()
	return task, nil
}

func (f *fakeStore) DeleteTask(_ context.Context, missionID, taskID string) (store.Task, error) {
	return store.Task{ID: taskID, MissionID: missionID, Deleted: true, UpdatedAt: time.Now().UTC()}, nil
}

func (f *fakeStore) GetTask(_ context.Context, missionID, taskID string) (store.Task, error) {
	return store.Task{ID: taskID, MissionID: missionID}, nil
}

func (f *fakeStore) InsertWaypoint(_ context.Context, wp store.Waypoint) (store.Waypoint, error) {
	wp.UpdatedAt = time.Now().UTC()
	return wp, nil
}

func (f *fakeStore) UpdateWaypoint(_ context.Context, wp store.Waypoint) (store.Waypoint, error) {
	wp.UpdatedAt = time.Now().UTC()
	return wp, nil
}

func (f *fakeStore) DeleteWaypoint(_ context.Context, missionID, waypointID string) (store.Waypoint, error) {
	return store.Waypoint{ID: waypointID, MissionID: missionID, Deleted: true, UpdatedAt: time.Now().UTC()}, nil
}

func (f *fakeStore) GetWaypoint(_ context.Context, missionID, waypointID string) (store.Waypoint, error) {
	return store.Waypoint{ID: waypointID, MissionID: missionID, UnitID: "unit-1"}, nil
}

func (f *fakeStore) InsertMessage(_ context.Context, msg store.Message) (store.Message, error) {
	msg.CreatedAt = time.Now().UTC()
	return msg, nil
}

func (f *fakeStore) UnitsChangedSince(ctx context.Context, missionID string, since time.Time) ([]store.Unit, error) {
	if f.unitsChangedSinceFn != nil {
		return f.unitsChangedSinceFn(ctx, missionID, since)
	}
	return nil, nil
}

func (f *fakeStore) GroupsChangedSince(context.Context, string, time.Time) ([]store.Group, error) {
	return nil, nil
}

func (f *fakeStore) ContactsChangedSince(context.Context, string, time.Time) ([]store.Contact, error) {
	return nil, nil
}

func (f *fakeStore) TasksChangedSince(context.Context, string, time.Time) ([]store.Task, error) {
	return nil, nil
}

func (f *fakeStore) WaypointsChangedSince(context.Context, string, time.Time) ([]store.Waypoint, error) {
	return nil, nil
}

func (f *fakeStore) WaypointsForUnits(context.Context, string, []string) ([]store.Waypoint, error) {
	return nil, nil
}

type fakeSessions struct {
	saved   map[string]session.TokenData
	revoked []string
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, memberID, displayName string, _ time.Time) error {
	if f.saved == nil {
		f.saved = map[string]session.TokenData{}
	}
	f.saved[tokenHash] = session.TokenData{MemberID: memberID, DisplayName: displayName}
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (session.TokenData, error) {
	data, ok := f.saved[tokenHash]
	if !ok {
		return session.TokenData{}, errors.New("refresh session not found")
	}
	return data, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.revoked = append(f.revoked, tokenHash)
	delete(f.saved, tokenHash)
	return nil
}

type fakePublisher struct {
	events []realtime.ChangeEvent
}

func (f *fakePublisher) Publish(event realtime.ChangeEvent) int {
	f.events = append(f.events, event)
	return 1
}

func newTestService(fs *fakeStore, pub *fakePublisher) *Service {
	return &Service{
		cfg:        config.Config{TokenSecret: "test-secret", AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour},
		store:      fs,
		sessions:   &fakeSessions{},
		router:     pub,
		reconciler: deltasync.NewReconciler(fs),
	}
}

func leadSession() Session {
	return Session{MemberID: "mem-lead", MemberName: "Lead"}
}

func TestCreateMissionGrantsLeadToCreator(t *testing.T) {
	fs := &fakeStore{grants: map[string]store.RoleGrant{}}
	svc := newTestService(fs, &fakePublisher{})

	mission, err := svc.CreateMission(context.Background(), leadSession(), "Night Watch")
	if err != nil {
		t.Fatalf("CreateMission() error = %v", err)
	}

	grant, ok := fs.grants[mission.ID+"/mem-lead"]
	if !ok {
		t.Fatal("creator has no role grant")
	}
	if grant.Role != "lead" {
		t.Fatalf("creator role = %q, want lead", grant.Role)
	}
}

func TestNonMemberMutationIsRejected(t *testing.T) {
	fs := &fakeStore{grants: map[string]store.RoleGrant{}}
	pub := &fakePublisher{}
	svc := newTestService(fs, pub)

	_, err := svc.CreateUnit(context.Background(), Session{MemberID: "mem-x"}, "msn-1", UnitInput{Callsign: "A1"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_A_MEMBER" {
		t.Fatalf("expected NOT_A_MEMBER, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("rejected mutation must not broadcast, got %+v", pub.events)
	}
}

func TestUnitLeadCannotChangeStructure(t *testing.T) {
	fs := &fakeStore{grants: map[string]store.RoleGrant{
		"msn-1/mem-u": {MissionID: "msn-1", ParticipantID: "mem-u", Role: "unit-lead"},
	}}
	svc := newTestService(fs, &fakePublisher{})
	sess := Session{MemberID: "mem-u"}

	if _, err := svc.CreateUnit(context.Background(), sess, "msn-1", UnitInput{Callsign: "A1", GroupID: "grp-1"}); !isForbidden(err) {
		t.Fatalf("create unit: expected FORBIDDEN, got %v", err)
	}
	if err := svc.DeleteUnit(context.Background(), sess, "msn-1", "unit-1"); !isForbidden(err) {
		t.Fatalf("delete unit: expected FORBIDDEN, got %v", err)
	}
	if _, err := svc.CreateGroup(context.Background(), sess, "msn-1", GroupInput{Name: "North"}); !isForbidden(err) {
		t.Fatalf("create group: expected FORBIDDEN, got %v", err)
	}
}

func TestUnitLeadMayReportAndMessage(t *testing.T) {
	fs := &fakeStore{grants: map[string]store.RoleGrant{
		"msn-1/mem-u": {MissionID: "msn-1", ParticipantID: "mem-u", Role: "unit-lead"},
	}}
	pub := &fakePublisher{}
	svc := newTestService(fs, pub)
	sess := Session{MemberID: "mem-u", MemberName: "Uniform"}

	if _, err := svc.ReportUnit(context.Background(), sess, "msn-1", "unit-1", ReportInput{Status: "moving", Lat: 1, Lon: 2}); err != nil {
		t.Fatalf("ReportUnit() error = %v", err)
	}
	if _, err := svc.PostMessage(context.Background(), sess, "msn-1", MessageInput{Body: "in position"}); err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if len(pub.events) != 2 {
		t.Fatalf("expected 2 broadcast events, got %d", len(pub.events))
	}
	if pub.events[0].EventName() != "unit:updated" {
		t.Fatalf("first event = %s, want unit:updated", pub.events[0].EventName())
	}
	if pub.events[1].EventName() != "message:created" {
		t.Fatalf("second event = %s, want message:created", pub.events[1].EventName())
	}
}

func TestGroupLeadIsScopedToOwnGroups(t *testing.T) {
	fs := &fakeStore{grants: map[string]store.RoleGrant{
		"msn-1/mem-g": {MissionID: "msn-1", ParticipantID: "mem-g", Role: "group-lead", Groups: []string{"grp-1"}},
	}}
	svc := newTestService(fs, &fakePublisher{})
	sess := Session{MemberID: "mem-g"}

	if _, err := svc.CreateUnit(context.Background(), sess, "msn-1", UnitInput{Callsign: "A1", GroupID: "grp-1"}); err != nil {
		t.Fatalf("create in own group: %v", err)
	}
	if _, err := svc.CreateUnit(context.Background(), sess, "msn-1", UnitInput{Callsign: "B1", GroupID: "grp-2"}); !isForbidden(err) {
		t.Fatalf("create in foreign group: expected FORBIDDEN, got %v", err)
	}
	// Moving a unit out of an assigned group into a foreign one is denied.
	fs.getUnitFn = func(_ context.Context, missionID, unitID string) (store.Unit, error) {
		return store.Unit{ID: unitID, MissionID: missionID, GroupID: "grp-1"}, nil
	}
	if _, err := svc.UpdateUnit(context.Background(), sess, "msn-1", "unit-1", UnitInput{Callsign: "A1", GroupID: "grp-2"}); !isForbidden(err) {
		t.Fatalf("move to foreign group: expected FORBIDDEN, got %v", err)
	}
}

func TestGroupLeadRoleAssignmentIsBounded(t *testing.T) {
	fs := &fakeStore{grants: map[string]store.RoleGrant{
		"msn-1/mem-g": {MissionID: "msn-1", ParticipantID: "mem-g", Role: "group-lead", Groups: []string{"grp-1"}},
	}}
	svc := newTestService(fs, &fakePublisher{})
	sess := Session{MemberID: "mem-g"}

	if _, err := svc.AssignRole(context.Background(), sess, "msn-1", AssignRoleInput{
		ParticipantID: "mem-u", Role: "unit-lead", Groups: []string{"grp-1"},
	}); err != nil {
		t.Fatalf("assign unit-lead in own group: %v", err)
	}
	if _, err := svc.AssignRole(context.Background(), sess, "msn-1", AssignRoleInput{
		ParticipantID: "mem-u", Role: "unit-lead", Groups: []string{"grp-2"},
	}); !isForbidden(err) {
		t.Fatalf("assign outside own group: expected FORBIDDEN, got %v", err)
	}
	if _, err := svc.AssignRole(context.Background(), sess, "msn-1", AssignRoleInput{
		ParticipantID: "mem-u", Role: "group-lead", Groups: []string{"grp-1"},
	}); !isForbidden(err) {
		t.Fatalf("escalate to group-lead: expected FORBIDDEN, got %v", err)
	}
	if _, err := svc.AssignRole(context.Background(), sess, "msn-1", AssignRoleInput{
		ParticipantID: "mem-u", Role: "unit-lead",
	}); !isForbidden(err) {
		t.Fatalf("assign without group scope: expected FORBIDDEN, got %v", err)
	}
}

func TestMutationBroadcastsStoredTimestamp(t *testing.T) {
	stored := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	fs := &fakeStore{
		grants: map[string]store.RoleGrant{
			"msn-1/mem-lead": {MissionID: "msn-1", ParticipantID: "mem-lead", Role: "lead"},
		},
		insertUnitFn: func(_ context.Context, unit store.Unit) (store.Unit, error) {
			unit.UpdatedAt = stored
			return unit, nil
		},
	}
	pub := &fakePublisher{}
	svc := newTestService(fs, pub)

	unit, err := svc.CreateUnit(context.Background(), leadSession(), "msn-1", UnitInput{Callsign: "A1"})
	if err != nil {
		t.Fatalf("CreateUnit() error = %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	event := pub.events[0]
	if event.EventName() != "unit:created" {
		t.Fatalf("event = %s, want unit:created", event.EventName())
	}
	// The broadcast carries the row the store persisted, not what the caller
	// sent.
	if !event.Timestamp.Equal(stored) || !unit.UpdatedAt.Equal(stored) {
		t.Fatalf("timestamps diverge: event %v, returned %v, stored %v", event.Timestamp, unit.UpdatedAt, stored)
	}
}

func TestSyncRequiresMembership(t *testing.T) {
	fs := &fakeStore{grants: map[string]store.RoleGrant{}}
	svc := newTestService(fs, &fakePublisher{})

	_, err := svc.Sync(context.Background(), Session{MemberID: "mem-x"}, "msn-1", nil)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_A_MEMBER" {
		t.Fatalf("expected NOT_A_MEMBER, got %v", err)
	}
}

func TestSyncDelegatesToReconciler(t *testing.T) {
	unit := store.Unit{ID: "unit-1", MissionID: "msn-1", UpdatedAt: time.Now().UTC()}
	fs := &fakeStore{
		grants: map[string]store.RoleGrant{
			"msn-1/mem-u": {MissionID: "msn-1", ParticipantID: "mem-u", Role: "unit-lead"},
		},
		unitsChangedSinceFn: func(_ context.Context, _ string, _ time.Time) ([]store.Unit, error) {
			return []store.Unit{unit}, nil
		},
	}
	svc := newTestService(fs, &fakePublisher{})

	delta, err := svc.Sync(context.Background(), Session{MemberID: "mem-u"}, "msn-1", nil)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(delta.Units) != 1 || delta.Units[0].ID != "unit-1" {
		t.Fatalf("unexpected delta units: %+v", delta.Units)
	}
	if delta.ServerTime.IsZero() {
		t.Fatal("delta server time not set")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs, &fakePublisher{})

	first, err := svc.Login(context.Background(), "Avery")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	// The first token is spent.
	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatal("expected spent refresh token to be rejected")
	}
}

func isForbidden(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == "FORBIDDEN"
}
