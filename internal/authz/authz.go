// Package authz holds the pure authorization decision for mission actions.
// The same function gates both the mutation path and the realtime gateway, so
// the two can never disagree.
package authz

type Role string
type Action string

const (
	RoleLead      Role = "lead"
	RoleGroupLead Role = "group-lead"
	RoleUnitLead  Role = "unit-lead"
)

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionReport  Action = "report"
	ActionMessage Action = "message"
)

// Grant is a participant's effective role within one mission. Groups is the
// set of group ids a group-lead is assigned to; it is empty for the other
// roles.
type Grant struct {
	Role   Role
	Groups []string
}

// Can decides a single action. groupID scopes structural actions to the group
// the target entity belongs to; pass "" for actions with no group scope
// (creating a group, mission-level changes), which only a lead may perform.
func Can(grant Grant, action Action, groupID string) bool {
	switch grant.Role {
	case RoleLead:
		return true
	case RoleGroupLead:
		if action == ActionReport || action == ActionMessage {
			return true
		}
		return groupID != "" && grant.assigned(groupID)
	case RoleUnitLead:
		return action == ActionReport || action == ActionMessage
	default:
		return false
	}
}

// CanAssign decides whether the grant holder may give targetRole to another
// participant, scoped to groupID. A group-lead may only hand out unit-lead
// within their own groups; this is the single home of that rule.
func CanAssign(grant Grant, targetRole Role, groupID string) bool {
	switch grant.Role {
	case RoleLead:
		return true
	case RoleGroupLead:
		return targetRole == RoleUnitLead && groupID != "" && grant.assigned(groupID)
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleLead, RoleGroupLead, RoleUnitLead:
		return Role(role)
	default:
		return RoleUnitLead
	}
}

func (g Grant) assigned(groupID string) bool {
	for _, id := range g.Groups {
		if id == groupID {
			return true
		}
	}
	return false
}
