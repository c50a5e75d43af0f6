package db

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/stratus/internal/access"
)

// Store-level sentinel errors. Handlers map them to HTTP statuses.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflicts with an existing one")
)

// OrganizationSettings is the typed settings document of a tenant.
type OrganizationSettings struct {
	EmailNotifications bool   `json:"emailNotifications"`
	SMSNotifications   bool   `json:"smsNotifications"`
	WebhookURL         string `json:"webhookUrl,omitempty"`
	DefaultVisibility  string `json:"defaultVisibility,omitempty"`
}

// Organization is a tenant.
type Organization struct {
	ID        uuid.UUID            `json:"id"`
	Name      string               `json:"name"`
	Slug      string               `json:"slug"`
	Settings  OrganizationSettings `json:"settings"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// UserPreferences holds per-user notification toggles. A type missing from
// Notifications is enabled.
type UserPreferences struct {
	Notifications map[string]bool `json:"notifications,omitempty"`
}

// NotificationEnabled reports whether the user left notifType switched on.
// Only an explicit false disables it.
func (p UserPreferences) NotificationEnabled(notifType string) bool {
	enabled, ok := p.Notifications[notifType]
	return !ok || enabled
}

// User belongs to exactly one organization.
type User struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	Email          string          `json:"email"`
	Name           string          `json:"name"`
	Phone          *string         `json:"phone,omitempty"`
	Role           string          `json:"role"`
	IsActive       bool            `json:"isActive"`
	Preferences    UserPreferences `json:"preferences"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Contact status constants
const (
	ContactStatusLead     = "lead"
	ContactStatusProspect = "prospect"
	ContactStatusCustomer = "customer"
	ContactStatusInactive = "inactive"
)

// Contact is a person tracked by the organization.
type Contact struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organizationId"`
	FirstName      string      `json:"firstName"`
	LastName       string      `json:"lastName"`
	Email          *string     `json:"email,omitempty"`
	Phone          *string     `json:"phone,omitempty"`
	Company        *string     `json:"company,omitempty"`
	Title          *string     `json:"title,omitempty"`
	Status         string      `json:"status"`
	Notes          *string     `json:"notes,omitempty"`
	OwnerID        uuid.UUID   `json:"ownerId"`
	CreatedByID    *uuid.UUID  `json:"createdById,omitempty"`
	Visibility     string      `json:"visibility"`
	VisibleTo      []uuid.UUID `json:"visibleTo"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// FullName joins first and last name.
func (c *Contact) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Grant projects the contact for visibility checks.
func (c *Contact) Grant() access.Grant {
	return access.Grant{
		OrganizationID: c.OrganizationID,
		Visibility:     c.Visibility,
		OwnerID:        c.OwnerID,
		VisibleTo:      c.VisibleTo,
	}
}

// Deal stage constants
const (
	DealStageLead        = "lead"
	DealStageQualified   = "qualified"
	DealStageProposal    = "proposal"
	DealStageNegotiation = "negotiation"
	DealStageWon         = "won"
	DealStageLost        = "lost"
)

// ValidDealStage reports whether stage is a known pipeline stage.
func ValidDealStage(stage string) bool {
	switch stage {
	case DealStageLead, DealStageQualified, DealStageProposal,
		DealStageNegotiation, DealStageWon, DealStageLost:
		return true
	}
	return false
}

// Deal is an opportunity moving through the pipeline.
type Deal struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organizationId"`
	Title          string      `json:"title"`
	Value          float64     `json:"value"`
	Currency       string      `json:"currency"`
	Stage          string      `json:"stage"`
	Probability    int         `json:"probability"`
	ExpectedClose  *time.Time  `json:"expectedClose,omitempty"`
	ActualClose    *time.Time  `json:"actualClose,omitempty"`
	ContactID      *uuid.UUID  `json:"contactId,omitempty"`
	OwnerID        uuid.UUID   `json:"ownerId"`
	CreatedByID    *uuid.UUID  `json:"createdById,omitempty"`
	Visibility     string      `json:"visibility"`
	VisibleTo      []uuid.UUID `json:"visibleTo"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Closed reports whether the deal sits in a terminal stage.
func (d *Deal) Closed() bool {
	return d.Stage == DealStageWon || d.Stage == DealStageLost
}

// Grant projects the deal for visibility checks.
func (d *Deal) Grant() access.Grant {
	return access.Grant{
		OrganizationID: d.OrganizationID,
		Visibility:     d.Visibility,
		OwnerID:        d.OwnerID,
		VisibleTo:      d.VisibleTo,
	}
}

// Task status and priority constants
const (
	TaskStatusTodo       = "todo"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"

	TaskPriorityLow    = "low"
	TaskPriorityMedium = "medium"
	TaskPriorityHigh   = "high"
)

// Task is a to-do item, optionally assigned to another user.
type Task struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organizationId"`
	Title          string      `json:"title"`
	Description    *string     `json:"description,omitempty"`
	Status         string      `json:"status"`
	Priority       string      `json:"priority"`
	DueDate        *time.Time  `json:"dueDate,omitempty"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	AssignedToID   *uuid.UUID  `json:"assignedToId,omitempty"`
	ContactID      *uuid.UUID  `json:"contactId,omitempty"`
	DealID         *uuid.UUID  `json:"dealId,omitempty"`
	OwnerID        uuid.UUID   `json:"ownerId"`
	CreatedByID    *uuid.UUID  `json:"createdById,omitempty"`
	Visibility     string      `json:"visibility"`
	VisibleTo      []uuid.UUID `json:"visibleTo"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Grant projects the task for visibility checks. Tasks are also visible to
// their assignee.
func (t *Task) Grant() access.Grant {
	return access.Grant{
		OrganizationID: t.OrganizationID,
		Visibility:     t.Visibility,
		OwnerID:        t.OwnerID,
		AssignedToID:   t.AssignedToID,
		VisibleTo:      t.VisibleTo,
	}
}

// Activity type constants
const (
	ActivityNote          = "note"
	ActivityCall          = "call"
	ActivityEmail         = "email"
	ActivityMeeting       = "meeting"
	ActivityDealUpdated   = "deal_updated"
	ActivityTaskCompleted = "task_completed"
)

// Activity is a timeline entry on a contact or deal.
type Activity struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organizationId"`
	Type           string     `json:"type"`
	Subject        string     `json:"subject"`
	Description    *string    `json:"description,omitempty"`
	ContactID      *uuid.UUID `json:"contactId,omitempty"`
	DealID         *uuid.UUID `json:"dealId,omitempty"`
	UserID         uuid.UUID  `json:"userId"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Notification is an in-app notification owned by one user.
type Notification struct {
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Message        *string         `json:"message,omitempty"`
	Link           *string         `json:"link,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	UserID         uuid.UUID       `json:"userId"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	IsRead         bool            `json:"isRead"`
	ReadAt         *time.Time      `json:"readAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Audit action constants
const (
	AuditCreated         = "created"
	AuditUpdated         = "updated"
	AuditDeleted         = "deleted"
	AuditCompleted       = "completed"
	AuditStageChanged    = "stage_changed"
	AuditAssigned        = "assigned"
	AuditStatusChanged   = "status_changed"
	AuditLogin           = "login"
	AuditLogout          = "logout"
	AuditSettingsChanged = "settings_changed"
)

// Audit entity constants
const (
	EntityContact  = "contact"
	EntityDeal     = "deal"
	EntityTask     = "task"
	EntityUser     = "user"
	EntitySettings = "settings"
	EntityActivity = "activity"
)

// AuditLogEntry is one append-only audit record.
type AuditLogEntry struct {
	ID             uuid.UUID       `json:"id"`
	Action         string          `json:"action"`
	Entity         string          `json:"entity"`
	EntityID       *uuid.UUID      `json:"entityId,omitempty"`
	EntityName     *string         `json:"entityName,omitempty"`
	Details        json.RawMessage `json:"details"`
	UserID         *uuid.UUID      `json:"userId,omitempty"`
	UserName       *string         `json:"userName,omitempty"`
	OrganizationID *uuid.UUID      `json:"organizationId,omitempty"`
	IPAddress      *string         `json:"ipAddress,omitempty"`
	UserAgent      *string         `json:"userAgent,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Page is a limit/offset window.
type Page struct {
	Limit  int
	Offset int
}

// ContactFilter narrows a contact listing.
type ContactFilter struct {
	Scope  access.Scope
	Status string
	Search string
	Page   Page
}

// DealFilter narrows a deal listing.
type DealFilter struct {
	Scope     access.Scope
	Stage     string
	ContactID *uuid.UUID
	Search    string
	Page      Page
}

// TaskFilter narrows a task listing.
type TaskFilter struct {
	Scope        access.Scope
	Status       string
	AssignedToID *uuid.UUID
	DealID       *uuid.UUID
	ContactID    *uuid.UUID
	Page         Page
}

// ActivityFilter narrows an activity timeline.
type ActivityFilter struct {
	OrganizationID uuid.UUID
	ContactID      *uuid.UUID
	DealID         *uuid.UUID
	Page           Page
}

// NotificationFilter narrows a user's notification inbox.
type NotificationFilter struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	UnreadOnly     bool
	Page           Page
}

// AuditFilter narrows an audit query. OrganizationID is mandatory.
type AuditFilter struct {
	OrganizationID uuid.UUID
	Entity         string
	EntityID       *uuid.UUID
	UserID         *uuid.UUID
	Action         string
	StartDate      *time.Time
	EndDate        *time.Time
	Search         string
	Page           Page
}
