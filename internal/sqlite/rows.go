package sqlite

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/db"
)

// Row structs mirror the TEXT-encoded columns; the model() methods decode
// them into the shared db types.

type organizationRow struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Slug      string    `db:"slug"`
	Settings  string    `db:"settings"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r organizationRow) model() *db.Organization {
	org := &db.Organization{
		ID:        r.ID,
		Name:      r.Name,
		Slug:      r.Slug,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	_ = json.Unmarshal([]byte(r.Settings), &org.Settings)
	return org
}

type userRow struct {
	ID             uuid.UUID `db:"id"`
	OrganizationID uuid.UUID `db:"organization_id"`
	Email          string    `db:"email"`
	Name           string    `db:"name"`
	Phone          *string   `db:"phone"`
	Role           string    `db:"role"`
	IsActive       bool      `db:"is_active"`
	Preferences    string    `db:"preferences"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r userRow) model() *db.User {
	u := &db.User{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Email:          r.Email,
		Name:           r.Name,
		Phone:          r.Phone,
		Role:           r.Role,
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	// Unreadable preferences fall back to the default-on policy.
	_ = json.Unmarshal([]byte(r.Preferences), &u.Preferences)
	return u
}

type contactRow struct {
	ID             uuid.UUID  `db:"id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	FirstName      string     `db:"first_name"`
	LastName       string     `db:"last_name"`
	Email          *string    `db:"email"`
	Phone          *string    `db:"phone"`
	Company        *string    `db:"company"`
	Title          *string    `db:"title"`
	Status         string     `db:"status"`
	Notes          *string    `db:"notes"`
	OwnerID        uuid.UUID  `db:"owner_id"`
	CreatedByID    *uuid.UUID `db:"created_by_id"`
	Visibility     string     `db:"visibility"`
	VisibleTo      string     `db:"visible_to"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r contactRow) model() *db.Contact {
	return &db.Contact{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Email:          r.Email,
		Phone:          r.Phone,
		Company:        r.Company,
		Title:          r.Title,
		Status:         r.Status,
		Notes:          r.Notes,
		OwnerID:        r.OwnerID,
		CreatedByID:    r.CreatedByID,
		Visibility:     r.Visibility,
		VisibleTo:      visibleTo(r.VisibleTo),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type dealRow struct {
	ID             uuid.UUID  `db:"id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	Title          string     `db:"title"`
	Value          float64    `db:"value"`
	Currency       string     `db:"currency"`
	Stage          string     `db:"stage"`
	Probability    int        `db:"probability"`
	ExpectedClose  *time.Time `db:"expected_close"`
	ActualClose    *time.Time `db:"actual_close"`
	ContactID      *uuid.UUID `db:"contact_id"`
	OwnerID        uuid.UUID  `db:"owner_id"`
	CreatedByID    *uuid.UUID `db:"created_by_id"`
	Visibility     string     `db:"visibility"`
	VisibleTo      string     `db:"visible_to"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r dealRow) model() *db.Deal {
	return &db.Deal{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Title:          r.Title,
		Value:          r.Value,
		Currency:       r.Currency,
		Stage:          r.Stage,
		Probability:    r.Probability,
		ExpectedClose:  r.ExpectedClose,
		ActualClose:    r.ActualClose,
		ContactID:      r.ContactID,
		OwnerID:        r.OwnerID,
		CreatedByID:    r.CreatedByID,
		Visibility:     r.Visibility,
		VisibleTo:      visibleTo(r.VisibleTo),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type taskRow struct {
	ID             uuid.UUID  `db:"id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	Title          string     `db:"title"`
	Description    *string    `db:"description"`
	Status         string     `db:"status"`
	Priority       string     `db:"priority"`
	DueDate        *time.Time `db:"due_date"`
	CompletedAt    *time.Time `db:"completed_at"`
	AssignedToID   *uuid.UUID `db:"assigned_to_id"`
	ContactID      *uuid.UUID `db:"contact_id"`
	DealID         *uuid.UUID `db:"deal_id"`
	OwnerID        uuid.UUID  `db:"owner_id"`
	CreatedByID    *uuid.UUID `db:"created_by_id"`
	Visibility     string     `db:"visibility"`
	VisibleTo      string     `db:"visible_to"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r taskRow) model() *db.Task {
	return &db.Task{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Title:          r.Title,
		Description:    r.Description,
		Status:         r.Status,
		Priority:       r.Priority,
		DueDate:        r.DueDate,
		CompletedAt:    r.CompletedAt,
		AssignedToID:   r.AssignedToID,
		ContactID:      r.ContactID,
		DealID:         r.DealID,
		OwnerID:        r.OwnerID,
		CreatedByID:    r.CreatedByID,
		Visibility:     r.Visibility,
		VisibleTo:      visibleTo(r.VisibleTo),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type activityRow struct {
	ID             uuid.UUID  `db:"id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	Type           string     `db:"type"`
	Subject        string     `db:"subject"`
	Description    *string    `db:"description"`
	ContactID      *uuid.UUID `db:"contact_id"`
	DealID         *uuid.UUID `db:"deal_id"`
	UserID         uuid.UUID  `db:"user_id"`
	CreatedAt      time.Time  `db:"created_at"`
}

func (r activityRow) model() *db.Activity {
	return &db.Activity{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Type:           r.Type,
		Subject:        r.Subject,
		Description:    r.Description,
		ContactID:      r.ContactID,
		DealID:         r.DealID,
		UserID:         r.UserID,
		CreatedAt:      r.CreatedAt,
	}
}

type notificationRow struct {
	ID             uuid.UUID  `db:"id"`
	Type           string     `db:"type"`
	Title          string     `db:"title"`
	Message        *string    `db:"message"`
	Link           *string    `db:"link"`
	Metadata       *string    `db:"metadata"`
	UserID         uuid.UUID  `db:"user_id"`
	OrganizationID uuid.UUID  `db:"organization_id"`
	IsRead         bool       `db:"is_read"`
	ReadAt         *time.Time `db:"read_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

func (r notificationRow) model() *db.Notification {
	return &db.Notification{
		ID:             r.ID,
		Type:           r.Type,
		Title:          r.Title,
		Message:        r.Message,
		Link:           r.Link,
		Metadata:       rawJSON(r.Metadata),
		UserID:         r.UserID,
		OrganizationID: r.OrganizationID,
		IsRead:         r.IsRead,
		ReadAt:         r.ReadAt,
		CreatedAt:      r.CreatedAt,
	}
}

type auditRow struct {
	ID             uuid.UUID  `db:"id"`
	Action         string     `db:"action"`
	Entity         string     `db:"entity"`
	EntityID       *uuid.UUID `db:"entity_id"`
	EntityName     *string    `db:"entity_name"`
	Details        *string    `db:"details"`
	UserID         *uuid.UUID `db:"user_id"`
	UserName       *string    `db:"user_name"`
	OrganizationID *uuid.UUID `db:"organization_id"`
	IPAddress      *string    `db:"ip_address"`
	UserAgent      *string    `db:"user_agent"`
	CreatedAt      time.Time  `db:"created_at"`
}

func (r auditRow) model() *db.AuditLogEntry {
	return &db.AuditLogEntry{
		ID:             r.ID,
		Action:         r.Action,
		Entity:         r.Entity,
		EntityID:       r.EntityID,
		EntityName:     r.EntityName,
		Details:        rawJSON(r.Details),
		UserID:         r.UserID,
		UserName:       r.UserName,
		OrganizationID: r.OrganizationID,
		IPAddress:      r.IPAddress,
		UserAgent:      r.UserAgent,
		CreatedAt:      r.CreatedAt,
	}
}

func visibleTo(text string) []uuid.UUID {
	ids := access.ParseVisibleTo([]byte(text))
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func rawJSON(text *string) json.RawMessage {
	if text == nil || !json.Valid([]byte(*text)) {
		return nil
	}
	return json.RawMessage(*text)
}

func jsonText(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func marshalText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
