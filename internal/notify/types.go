package notify

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Notification types.
const (
	TypeNewContact       = "new_contact"
	TypeContactAssigned  = "contact_assigned"
	TypeDealWon          = "deal_won"
	TypeDealLost         = "deal_lost"
	TypeDealAssigned     = "deal_assigned"
	TypeDealStageChanged = "deal_stage_changed"
	TypeTaskAssigned     = "task_assigned"
	TypeTaskCompleted    = "task_completed"
	TypeTaskDue          = "task_due"
	TypeUserRoleChanged  = "user_role_changed"
	TypeSystem           = "system"
)

var knownTypes = map[string]bool{
	TypeNewContact:       true,
	TypeContactAssigned:  true,
	TypeDealWon:          true,
	TypeDealLost:         true,
	TypeDealAssigned:     true,
	TypeDealStageChanged: true,
	TypeTaskAssigned:     true,
	TypeTaskCompleted:    true,
	TypeTaskDue:          true,
	TypeUserRoleChanged:  true,
	TypeSystem:           true,
}

// ValidType reports whether t is a known notification type.
func ValidType(t string) bool {
	return knownTypes[t]
}

// Per-user outcome statuses.
const (
	StatusSent           = "sent"
	StatusDisabledByUser = "disabled_by_user"
	StatusUserNotFound   = "user_not_found"
	StatusFailed         = "failed"
)

// Message is the content of a notification, independent of its recipients.
type Message struct {
	OrganizationID uuid.UUID       `json:"organizationId"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Body           string          `json:"message,omitempty"`
	Link           string          `json:"link,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Validate checks the fields every target needs.
func (m Message) Validate() error {
	if m.OrganizationID == uuid.Nil {
		return errors.New("organization id is required")
	}
	if !ValidType(m.Type) {
		return fmt.Errorf("unknown notification type %q", m.Type)
	}
	if m.Title == "" {
		return errors.New("title is required")
	}
	if len(m.Metadata) > 0 && !json.Valid(m.Metadata) {
		return errors.New("metadata must be valid JSON")
	}
	return nil
}

// ProviderResult is the result of one provider send.
type ProviderResult struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
}

// Outcome is what happened for one recipient.
type Outcome struct {
	UserID  uuid.UUID        `json:"userId"`
	Status  string           `json:"status"`
	Results []ProviderResult `json:"results,omitempty"`
}

// Target selects the recipients of a Request.
type Target string

const (
	TargetUser   Target = "user"
	TargetUsers  Target = "users"
	TargetOrg    Target = "org"
	TargetAdmins Target = "admins"
)

// Request is a serializable notification job: a message plus how to resolve
// its recipients. Background runners and the job queue carry Requests.
type Request struct {
	Target        Target      `json:"target"`
	UserIDs       []uuid.UUID `json:"userIds,omitempty"`
	ExcludeUserID *uuid.UUID  `json:"excludeUserId,omitempty"`
	Message       Message     `json:"message"`
}

// ToUser addresses one user.
func ToUser(userID uuid.UUID, msg Message) Request {
	return Request{Target: TargetUser, UserIDs: []uuid.UUID{userID}, Message: msg}
}

// ToUsers addresses an explicit list of users.
func ToUsers(userIDs []uuid.UUID, msg Message) Request {
	return Request{Target: TargetUsers, UserIDs: userIDs, Message: msg}
}

// ToOrg addresses every active user of the message's organization except
// exclude, when set.
func ToOrg(msg Message, exclude *uuid.UUID) Request {
	return Request{Target: TargetOrg, ExcludeUserID: exclude, Message: msg}
}

// ToAdmins addresses the active admins and managers of the organization.
func ToAdmins(msg Message) Request {
	return Request{Target: TargetAdmins, Message: msg}
}

// Validate checks the request is deliverable.
func (r Request) Validate() error {
	if err := r.Message.Validate(); err != nil {
		return err
	}
	switch r.Target {
	case TargetUser:
		if len(r.UserIDs) != 1 {
			return errors.New("user target needs exactly one user id")
		}
	case TargetUsers:
		if len(r.UserIDs) == 0 {
			return errors.New("users target needs at least one user id")
		}
	case TargetOrg, TargetAdmins:
	default:
		return fmt.Errorf("unknown target %q", r.Target)
	}
	return nil
}
