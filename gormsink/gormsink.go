// Package gormsink provides a gorm-backed audit store on PostgreSQL,
// implementing both the write sink and the query side of the audit surface.
// Filters are pushed down into SQL rather than applied in memory.
package gormsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	tenantauth "github.com/harborlist/tenantauth-go"
	"github.com/harborlist/tenantauth-go/audit"
)

// EventModel is the persisted row shape for one audit event.
type EventModel struct {
	ID           string    `gorm:"primaryKey;size:36"`
	SubjectID    string    `gorm:"size:64;index"`
	TenantID     string    `gorm:"size:36;index:idx_audit_tenant_time,priority:1"`
	Action       string    `gorm:"size:64;index"`
	ResourceType string    `gorm:"size:32"`
	ResourceID   string    `gorm:"size:64"`
	Success      bool      ``
	Severity     string    `gorm:"size:16"`
	DetailsJSON  []byte    `gorm:"type:jsonb"`
	TraceID      string    `gorm:"size:36;index"`
	IP           string    `gorm:"size:64"`
	UserAgent    string    `gorm:"size:256"`
	CreatedAt    time.Time `gorm:"index:idx_audit_tenant_time,priority:2"`
}

// TableName fixes the table name regardless of gorm naming strategy.
func (EventModel) TableName() string { return "audit_events" }

// Store implements audit.Store over a gorm database handle.
type Store struct {
	db *gorm.DB
}

// compile-time check
var _ audit.Store = (*Store)(nil)

// Open connects to PostgreSQL with the given DSN and migrates the audit
// events table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("tenantauth/gormsink: open: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the audit events table.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&EventModel{}); err != nil {
		return nil, fmt.Errorf("tenantauth/gormsink: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Write persists one event. IDs and timestamps are stamped when missing so
// rows are always complete; events themselves are append-only and never
// updated after this insert.
func (s *Store) Write(ctx context.Context, event tenantauth.AuditEvent) error {
	model, err := modelFromEvent(event)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("tenantauth/gormsink: write: %w", err)
	}
	return nil
}

// Query returns events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, f audit.Filter) ([]tenantauth.AuditEvent, error) {
	q := s.db.WithContext(ctx).Model(&EventModel{})

	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.SubjectID != "" {
		q = q.Where("subject_id = ?", f.SubjectID)
	}
	if len(f.Actions) > 0 {
		q = q.Where("action IN ?", actionStrings(f.Actions))
	}
	if len(f.Severities) > 0 {
		q = q.Where("severity IN ?", severityStrings(f.Severities))
	}
	if f.ResourceType != "" {
		q = q.Where("resource_type = ?", string(f.ResourceType))
	}
	if f.ResourceID != "" {
		q = q.Where("resource_id = ?", f.ResourceID)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To)
	}
	if f.Success != nil {
		q = q.Where("success = ?", *f.Success)
	}

	var models []EventModel
	err := q.Order("created_at DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("tenantauth/gormsink: query: %w", err)
	}

	out := make([]tenantauth.AuditEvent, 0, len(models))
	for _, m := range models {
		out = append(out, eventFromModel(m))
	}
	return out, nil
}

func modelFromEvent(e tenantauth.AuditEvent) (EventModel, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var details []byte
	if len(e.Details) > 0 {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return EventModel{}, fmt.Errorf("tenantauth/gormsink: encode details: %w", err)
		}
	}
	return EventModel{
		ID:           e.ID,
		SubjectID:    e.SubjectID,
		TenantID:     e.TenantID,
		Action:       string(e.Action),
		ResourceType: string(e.ResourceType),
		ResourceID:   e.ResourceID,
		Success:      e.Success,
		Severity:     string(e.Severity),
		DetailsJSON:  details,
		TraceID:      e.TraceID,
		IP:           e.IP,
		UserAgent:    e.UserAgent,
		CreatedAt:    e.Timestamp.UTC(),
	}, nil
}

func eventFromModel(m EventModel) tenantauth.AuditEvent {
	var details map[string]any
	if len(m.DetailsJSON) > 0 {
		// details were marshaled by us; a decode failure leaves them nil
		_ = json.Unmarshal(m.DetailsJSON, &details)
	}
	return tenantauth.AuditEvent{
		ID:           m.ID,
		SubjectID:    m.SubjectID,
		TenantID:     m.TenantID,
		Action:       tenantauth.AuditAction(m.Action),
		ResourceType: tenantauth.ResourceType(m.ResourceType),
		ResourceID:   m.ResourceID,
		Success:      m.Success,
		Severity:     tenantauth.AuditSeverity(m.Severity),
		Details:      details,
		TraceID:      m.TraceID,
		IP:           m.IP,
		UserAgent:    m.UserAgent,
		Timestamp:    m.CreatedAt.UTC(),
	}
}

func actionStrings(actions []tenantauth.AuditAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}

func severityStrings(sevs []tenantauth.AuditSeverity) []string {
	out := make([]string, len(sevs))
	for i, s := range sevs {
		out[i] = string(s)
	}
	return out
}
