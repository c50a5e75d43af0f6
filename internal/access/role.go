// Package access holds the role hierarchy and the row-level visibility rules
// shared by every list and read endpoint.
package access

import (
	"github.com/google/uuid"
)

// Role constants. Order matters: see roleRank.
const (
	RoleUser    = "user"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

var roleRank = map[string]int{
	RoleUser:    1,
	RoleManager: 2,
	RoleAdmin:   3,
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// HasMinRole reports whether actual is at least as privileged as required.
// Unknown roles rank below everything.
func HasMinRole(actual, required string) bool {
	need, ok := roleRank[required]
	if !ok {
		return false
	}
	return roleRank[actual] >= need
}

// CanManageSettings gates organization settings changes.
func CanManageSettings(role string) bool {
	return HasMinRole(role, RoleAdmin)
}

// CanManageUsers gates role changes, deactivation and removal of users.
func CanManageUsers(role string) bool {
	return HasMinRole(role, RoleAdmin)
}

// CanViewAll gates the showAll escalation on list endpoints.
func CanViewAll(role string) bool {
	return HasMinRole(role, RoleManager)
}

// CanAssignOthers gates assigning tasks and records to other users.
func CanAssignOthers(role string) bool {
	return HasMinRole(role, RoleManager)
}

// CanDelete reports whether actor may delete a contact, deal or task owned by
// ownerID and created by createdByID. Records without a creator (imported or
// created by automation) can only be removed by their owner or a manager.
func CanDelete(actorID uuid.UUID, actorRole string, ownerID uuid.UUID, createdByID *uuid.UUID) bool {
	if HasMinRole(actorRole, RoleManager) {
		return true
	}
	if actorID == ownerID {
		return true
	}
	return createdByID != nil && *createdByID == actorID
}
