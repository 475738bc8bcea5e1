package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"opsync/api/internal/auth"
	"opsync/api/internal/authz"
	"opsync/api/internal/config"
	"opsync/api/internal/realtime"
	"opsync/api/internal/session"
	"opsync/api/internal/store"
	deltasync "opsync/api/internal/sync"
	"opsync/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	MemberID     string
	MemberName   string
	JTI          string
	ExpiresAt    time.Time
}

type UnitInput struct {
	GroupID  string  `json:"groupId"`
	Callsign string  `json:"callsign"`
	Status   string  `json:"status"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

type ReportInput struct {
	Status string  `json:"status"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

type GroupInput struct {
	Name string `json:"name"`
}

type ContactInput struct {
	GroupID   string `json:"groupId"`
	Name      string `json:"name"`
	Frequency string `json:"frequency"`
	Notes     string `json:"notes"`
}

type TaskInput struct {
	GroupID    string `json:"groupId"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	AssignedTo string `json:"assignedTo"`
}

type WaypointInput struct {
	Seq   int     `json:"seq"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Label string  `json:"label"`
}

type MessageInput struct {
	Body string `json:"body"`
}

type AssignRoleInput struct {
	ParticipantID string   `json:"participantId"`
	Role          string   `json:"role"`
	Groups        []string `json:"groups"`
}

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureMemberByName(context.Context, string) (store.Member, error)
	GetMemberByID(context.Context, string) (store.Member, error)
	CreateMission(context.Context, store.Mission) (store.Mission, error)
	GetMission(context.Context, string) (store.Mission, error)
	GetRoleGrant(context.Context, string, string) (store.RoleGrant, error)
	UpsertRoleGrant(context.Context, store.RoleGrant) error
	InsertUnit(context.Context, store.Unit) (store.Unit, error)
	UpdateUnit(context.Context, store.Unit) (store.Unit, error)
	ReportUnit(context.Context, string, string, string, float64, float64, string) (store.Unit, error)
	DeleteUnit(context.Context, string, string, string) (store.Unit, error)
	GetUnit(context.Context, string, string) (store.Unit, error)
	InsertGroup(context.Context, store.Group) (store.Group, error)
	UpdateGroup(context.Context, store.Group) (store.Group, error)
	DeleteGroup(context.Context, string, string) (store.Group, error)
	GetGroup(context.Context, string, string) (store.Group, error)
	InsertContact(context.Context, store.Contact) (store.Contact, error)
	UpdateContact(context.Context, store.Contact) (store.Contact, error)
	DeleteContact(context.Context, string, string) (store.Contact, error)
	GetContact(context.Context, string, string) (store.Contact, error)
	InsertTask(context.Context, store.Task) (store.Task, error)
	UpdateTask(context.Context, store.Task) (store.Task, error)
	DeleteTask(context.Context, string, string) (store.Task, error)
	GetTask(context.Context, string, string) (store.Task, error)
	InsertWaypoint(context.Context, store.Waypoint) (store.Waypoint, error)
	UpdateWaypoint(context.Context, store.Waypoint) (store.Waypoint, error)
	DeleteWaypoint(context.Context, string, string) (store.Waypoint, error)
	GetWaypoint(context.Context, string, string) (store.Waypoint, error)
	InsertMessage(context.Context, store.Message) (store.Message, error)
	UnitsChangedSince(context.Context, string, time.Time) ([]store.Unit, error)
	GroupsChangedSince(context.Context, string, time.Time) ([]store.Group, error)
	ContactsChangedSince(context.Context, string, time.Time) ([]store.Contact, error)
	TasksChangedSince(context.Context, string, time.Time) ([]store.Task, error)
	WaypointsChangedSince(context.Context, string, time.Time) ([]store.Waypoint, error)
	WaypointsForUnits(context.Context, string, []string) ([]store.Waypoint, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, memberID, displayName string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// publisher is the broadcast seam: every accepted mutation is published once,
// after the store confirms it, carrying the stored row's server timestamp.
type publisher interface {
	Publish(event realtime.ChangeEvent) int
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   sessionStore
	router     publisher
	reconciler *deltasync.Reconciler
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, router *realtime.Router) *Service {
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		sessions:   sessions,
		router:     router,
		reconciler: deltasync.NewReconciler(dataStore),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	memberName := strings.TrimSpace(name)
	if memberName == "" {
		return Session{}, errValidation("name is required")
	}

	member, err := s.store.EnsureMemberByName(ctx, memberName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, member.ID, member.DisplayName)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Rotate: the presented token is single-use.
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, data.MemberID, data.DisplayName)
}

func (s *Service) issueSession(ctx context.Context, memberID, displayName string) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  memberID,
		Name: displayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), memberID, displayName, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		MemberID:     memberID,
		MemberName:   displayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	member, err := s.store.GetMemberByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:      token,
		MemberID:   member.ID,
		MemberName: member.DisplayName,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// CreateMission creates a mission and makes the creator its lead.
func (s *Service) CreateMission(ctx context.Context, sess Session, name string) (store.Mission, error) {
	missionName := strings.TrimSpace(name)
	if missionName == "" {
		return store.Mission{}, errValidation("name is required")
	}

	mission, err := s.store.CreateMission(ctx, store.Mission{
		ID:        util.NewID("msn"),
		Name:      missionName,
		CreatedBy: sess.MemberID,
	})
	if err != nil {
		return store.Mission{}, err
	}
	if err := s.store.UpsertRoleGrant(ctx, store.RoleGrant{
		MissionID:     mission.ID,
		ParticipantID: sess.MemberID,
		Role:          string(authz.RoleLead),
	}); err != nil {
		return store.Mission{}, err
	}
	return mission, nil
}

func (s *Service) GetMission(ctx context.Context, sess Session, missionID string) (store.Mission, error) {
	if _, err := s.grantFor(ctx, sess, missionID); err != nil {
		return store.Mission{}, err
	}
	return s.store.GetMission(ctx, missionID)
}

// AssignRole grants a role to another participant. Leads may assign anything;
// a group-lead may only hand out unit-lead, and only scoped to groups they
// themselves are assigned to.
func (s *Service) AssignRole(ctx context.Context, sess Session, missionID string, input AssignRoleInput) (store.RoleGrant, error) {
	if strings.TrimSpace(input.ParticipantID) == "" {
		return store.RoleGrant{}, errValidation("participantId is required")
	}
	targetRole := authz.Role(input.Role)
	if targetRole != authz.RoleLead && targetRole != authz.RoleGroupLead && targetRole != authz.RoleUnitLead {
		return store.RoleGrant{}, errValidation("role must be lead, group-lead or unit-lead")
	}

	grant, err := s.grantFor(ctx, sess, missionID)
	if err != nil {
		return store.RoleGrant{}, err
	}
	if len(input.Groups) == 0 {
		if !authz.CanAssign(grant, targetRole, "") {
			return store.RoleGrant{}, errForbidden()
		}
	}
	for _, groupID := range input.Groups {
		if !authz.CanAssign(grant, targetRole, groupID) {
			return store.RoleGrant{}, errForbidden()
		}
	}

	if _, err := s.store.GetMemberByID(ctx, input.ParticipantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.RoleGrant{}, domainError(404, "NOT_FOUND", "Participant not found", nil)
		}
		return store.RoleGrant{}, err
	}

	updated := store.RoleGrant{
		MissionID:     missionID,
		ParticipantID: input.ParticipantID,
		Role:          string(targetRole),
		Groups:        input.Groups,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.store.UpsertRoleGrant(ctx, updated); err != nil {
		return store.RoleGrant{}, err
	}
	s.publish("role", updated.ParticipantID, realtime.OpUpdated, missionID, updated.UpdatedAt, updated)
	return updated, nil
}

// Sync returns everything that changed since the client's cursor. Membership
// is required; the role does not matter, every member may read.
func (s *Service) Sync(ctx context.Context, sess Session, missionID string, since *time.Time) (deltasync.Delta, error) {
	if _, err := s.grantFor(ctx, sess, missionID); err != nil {
		return deltasync.Delta{}, err
	}
	return s.reconciler.Reconcile(ctx, missionID, since)
}

func (s *Service) CreateUnit(ctx context.Context, sess Session, missionID string, input UnitInput) (store.Unit, error) {
	if strings.TrimSpace(input.Callsign) == "" {
		return store.Unit{}, errValidation("callsign is required")
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionCreate, input.GroupID); err != nil {
		return store.Unit{}, err
	}
	unit, err := s.store.InsertUnit(ctx, store.Unit{
		ID:        util.NewID("unit"),
		MissionID: missionID,
		GroupID:   input.GroupID,
		Callsign:  input.Callsign,
		Status:    input.Status,
		Lat:       input.Lat,
		Lon:       input.Lon,
		UpdatedBy: sess.MemberID,
	})
	if err != nil {
		return store.Unit{}, err
	}
	s.publish("unit", unit.ID, realtime.OpCreated, missionID, unit.UpdatedAt, unit)
	return unit, nil
}

func (s *Service) UpdateUnit(ctx context.Context, sess Session, missionID, unitID string, input UnitInput) (store.Unit, error) {
	existing, err := s.store.GetUnit(ctx, missionID, unitID)
	if err != nil {
		return store.Unit{}, err
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionUpdate, existing.GroupID); err != nil {
		return store.Unit{}, err
	}
	// Moving a unit between groups is gated on the destination too.
	if input.GroupID != existing.GroupID {
		if err := s.authorize(ctx, sess, missionID, authz.ActionUpdate, input.GroupID); err != nil {
			return store.Unit{}, err
		}
	}
	unit, err := s.store.UpdateUnit(ctx, store.Unit{
		ID:        unitID,
		MissionID: missionID,
		GroupID:   input.GroupID,
		Callsign:  input.Callsign,
		Status:    input.Status,
		Lat:       input.Lat,
		Lon:       input.Lon,
		UpdatedBy: sess.MemberID,
	})
	if err != nil {
		return store.Unit{}, err
	}
	s.publish("unit", unit.ID, realtime.OpUpdated, missionID, unit.UpdatedAt, unit)
	return unit, nil
}

// ReportUnit is the low-privilege position/status update: any member may
// report, including unit-leads who cannot otherwise touch structure.
func (s *Service) ReportUnit(ctx context.Context, sess Session, missionID, unitID string, input ReportInput) (store.Unit, error) {
	existing, err := s.store.GetUnit(ctx, missionID, unitID)
	if err != nil {
		return store.Unit{}, err
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionReport, existing.GroupID); err != nil {
		return store.Unit{}, err
	}
	unit, err := s.store.ReportUnit(ctx, missionID, unitID, input.Status, input.Lat, input.Lon, sess.MemberID)
	if err != nil {
		return store.Unit{}, err
	}
	s.publish("unit", unit.ID, realtime.OpUpdated, missionID, unit.UpdatedAt, unit)
	return unit, nil
}

func (s *Service) DeleteUnit(ctx context.Context, sess Session, missionID, unitID string) error {
	existing, err := s.store.GetUnit(ctx, missionID, unitID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionDelete, existing.GroupID); err != nil {
		return err
	}
	unit, err := s.store.DeleteUnit(ctx, missionID, unitID, sess.MemberID)
	if err != nil {
		return err
	}
	s.publish("unit", unit.ID, realtime.OpDeleted, missionID, unit.UpdatedAt, unit)
	return nil
}

func (s *Service) CreateGroup(ctx context.Context, sess Session, missionID string, input GroupInput) (store.Group, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.Group{}, errValidation("name is required")
	}
	// Creating a group has no group scope yet, so only a lead passes.
	if err := s.authorize(ctx, sess, missionID, authz.ActionCreate, ""); err != nil {
		return store.Group{}, err
	}
	group, err := s.store.InsertGroup(ctx, store.Group{
		ID:        util.NewID("grp"),
		MissionID: missionID,
		Name:      input.Name,
	})
	if err != nil {
		return store.Group{}, err
	}
	s.publish("group", group.ID, realtime.OpCreated, missionID, group.UpdatedAt, group)
	return group, nil
}

func (s *Service) UpdateGroup(ctx context.Context, sess Session, missionID, groupID string, input GroupInput) (store.Group, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.Group{}, errValidation("name is required")
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionUpdate, groupID); err != nil {
		return store.Group{}, err
	}
	group, err := s.store.UpdateGroup(ctx, store.Group{
		ID:        groupID,
		MissionID: missionID,
		Name:      input.Name,
	})
	if err != nil {
		return store.Group{}, err
	}
	s.publish("group", group.ID, realtime.OpUpdated, missionID, group.UpdatedAt, group)
	return group, nil
}

func (s *Service) DeleteGroup(ctx context.Context, sess Session, missionID, groupID string) error {
	if err := s.authorize(ctx, sess, missionID, authz.ActionDelete, groupID); err != nil {
		return err
	}
	group, err := s.store.DeleteGroup(ctx, missionID, groupID)
	if err != nil {
		return err
	}
	s.publish("group", group.ID, realtime.OpDeleted, missionID, group.UpdatedAt, group)
	return nil
}

func (s *Service) CreateContact(ctx context.Context, sess Session, missionID string, input ContactInput) (store.Contact, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.Contact{}, errValidation("name is required")
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionCreate, input.GroupID); err != nil {
		return store.Contact{}, err
	}
	contact, err := s.store.InsertContact(ctx, store.Contact{
		ID:        util.NewID("ctc"),
		MissionID: missionID,
		GroupID:   input.GroupID,
		Name:      input.Name,
		Frequency: input.Frequency,
		Notes:     input.Notes,
	})
	if err != nil {
		return store.Contact{}, err
	}
	s.publish("contact", contact.ID, realtime.OpCreated, missionID, contact.UpdatedAt, contact)
	return contact, nil
}

func (s *Service) UpdateContact(ctx context.Context, sess Session, missionID, contactID string, input ContactInput) (store.Contact, error) {
	existing, err := s.store.GetContact(ctx, missionID, contactID)
	if err != nil {
		return store.Contact{}, err
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionUpdate, existing.GroupID); err != nil {
		return store.Contact{}, err
	}
	contact, err := s.store.UpdateContact(ctx, store.Contact{
		ID:        contactID,
		MissionID: missionID,
		GroupID:   input.GroupID,
		Name:      input.Name,
		Frequency: input.Frequency,
		Notes:     input.Notes,
	})
	if err != nil {
		return store.Contact{}, err
	}
	s.publish("contact", contact.ID, realtime.OpUpdated, missionID, contact.UpdatedAt, contact)
	return contact, nil
}

func (s *Service) DeleteContact(ctx context.Context, sess Session, missionID, contactID string) error {
	existing, err := s.store.GetContact(ctx, missionID, contactID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionDelete, existing.GroupID); err != nil {
		return err
	}
	contact, err := s.store.DeleteContact(ctx, missionID, contactID)
	if err != nil {
		return err
	}
	s.publish("contact", contact.ID, realtime.OpDeleted, missionID, contact.UpdatedAt, contact)
	return nil
}

func (s *Service) CreateTask(ctx context.Context, sess Session, missionID string, input TaskInput) (store.Task, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Task{}, errValidation("title is required")
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionCreate, input.GroupID); err != nil {
		return store.Task{}, err
	}
	task, err := s.store.InsertTask(ctx, store.Task{
		ID:         util.NewID("task"),
		MissionID:  missionID,
		GroupID:    input.GroupID,
		Title:      input.Title,
		Status:     input.Status,
		AssignedTo: input.AssignedTo,
	})
	if err != nil {
		return store.Task{}, err
	}
	s.publish("task", task.ID, realtime.OpCreated, missionID, task.UpdatedAt, task)
	return task, nil
}

func (s *Service) UpdateTask(ctx context.Context, sess Session, missionID, taskID string, input TaskInput) (store.Task, error) {
	existing, err := s.store.GetTask(ctx, missionID, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionUpdate, existing.GroupID); err != nil {
		return store.Task{}, err
	}
	task, err := s.store.UpdateTask(ctx, store.Task{
		ID:         taskID,
		MissionID:  missionID,
		GroupID:    input.GroupID,
		Title:      input.Title,
		Status:     input.Status,
		AssignedTo: input.AssignedTo,
	})
	if err != nil {
		return store.Task{}, err
	}
	s.publish("task", task.ID, realtime.OpUpdated, missionID, task.UpdatedAt, task)
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, sess Session, missionID, taskID string) error {
	existing, err := s.store.GetTask(ctx, missionID, taskID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionDelete, existing.GroupID); err != nil {
		return err
	}
	task, err := s.store.DeleteTask(ctx, missionID, taskID)
	if err != nil {
		return err
	}
	s.publish("task", task.ID, realtime.OpDeleted, missionID, task.UpdatedAt, task)
	return nil
}

// Waypoints belong to a unit; authorization is scoped to the owning unit's
// group.
func (s *Service) CreateWaypoint(ctx context.Context, sess Session, missionID, unitID string, input WaypointInput) (store.Waypoint, error) {
	unit, err := s.store.GetUnit(ctx, missionID, unitID)
	if err != nil {
		return store.Waypoint{}, err
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionCreate, unit.GroupID); err != nil {
		return store.Waypoint{}, err
	}
	wp, err := s.store.InsertWaypoint(ctx, store.Waypoint{
		ID:        util.NewID("wp"),
		MissionID: missionID,
		UnitID:    unitID,
		Seq:       input.Seq,
		Lat:       input.Lat,
		Lon:       input.Lon,
		Label:     input.Label,
	})
	if err != nil {
		return store.Waypoint{}, err
	}
	s.publish("waypoint", wp.ID, realtime.OpCreated, missionID, wp.UpdatedAt, wp)
	return wp, nil
}

func (s *Service) UpdateWaypoint(ctx context.Context, sess Session, missionID, waypointID string, input WaypointInput) (store.Waypoint, error) {
	existing, err := s.store.GetWaypoint(ctx, missionID, waypointID)
	if err != nil {
		return store.Waypoint{}, err
	}
	unit, err := s.store.GetUnit(ctx, missionID, existing.UnitID)
	if err != nil {
		return store.Waypoint{}, err
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionUpdate, unit.GroupID); err != nil {
		return store.Waypoint{}, err
	}
	wp, err := s.store.UpdateWaypoint(ctx, store.Waypoint{
		ID:        waypointID,
		MissionID: missionID,
		UnitID:    existing.UnitID,
		Seq:       input.Seq,
		Lat:       input.Lat,
		Lon:       input.Lon,
		Label:     input.Label,
	})
	if err != nil {
		return store.Waypoint{}, err
	}
	s.publish("waypoint", wp.ID, realtime.OpUpdated, missionID, wp.UpdatedAt, wp)
	return wp, nil
}

func (s *Service) DeleteWaypoint(ctx context.Context, sess Session, missionID, waypointID string) error {
	existing, err := s.store.GetWaypoint(ctx, missionID, waypointID)
	if err != nil {
		return err
	}
	unit, err := s.store.GetUnit(ctx, missionID, existing.UnitID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionDelete, unit.GroupID); err != nil {
		return err
	}
	wp, err := s.store.DeleteWaypoint(ctx, missionID, waypointID)
	if err != nil {
		return err
	}
	s.publish("waypoint", wp.ID, realtime.OpDeleted, missionID, wp.UpdatedAt, wp)
	return nil
}

func (s *Service) PostMessage(ctx context.Context, sess Session, missionID string, input MessageInput) (store.Message, error) {
	if strings.TrimSpace(input.Body) == "" {
		return store.Message{}, errValidation("body is required")
	}
	if err := s.authorize(ctx, sess, missionID, authz.ActionMessage, ""); err != nil {
		return store.Message{}, err
	}
	msg, err := s.store.InsertMessage(ctx, store.Message{
		ID:         util.NewID("msg"),
		MissionID:  missionID,
		AuthorID:   sess.MemberID,
		AuthorName: sess.MemberName,
		Body:       input.Body,
	})
	if err != nil {
		return store.Message{}, err
	}
	s.publish("message", msg.ID, realtime.OpCreated, missionID, msg.CreatedAt, msg)
	return msg, nil
}

// grantFor resolves the caller's role grant for a mission; no grant row means
// the caller is not a member at all.
func (s *Service) grantFor(ctx context.Context, sess Session, missionID string) (authz.Grant, error) {
	grant, err := s.store.GetRoleGrant(ctx, missionID, sess.MemberID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.Grant{}, errNotAMember()
		}
		return authz.Grant{}, err
	}
	return authz.Grant{Role: authz.Normalize(grant.Role), Groups: grant.Groups}, nil
}

func (s *Service) authorize(ctx context.Context, sess Session, missionID string, action authz.Action, groupID string) error {
	grant, err := s.grantFor(ctx, sess, missionID)
	if err != nil {
		return err
	}
	if !authz.Can(grant, action, groupID) {
		return errForbidden()
	}
	return nil
}

func (s *Service) publish(kind, id, op, missionID string, timestamp time.Time, record any) {
	payload, err := json.Marshal(record)
	if err != nil {
		log.Printf("marshal %s event: %v", kind, err)
		return
	}
	s.router.Publish(realtime.ChangeEvent{
		Kind:      kind,
		ID:        id,
		Op:        op,
		MissionID: missionID,
		Timestamp: timestamp,
		Payload:   payload,
	})
}
