// models/sync_audit.go
package models

import (
	"time"
)

// Sync modes / trigger sources as written into audit rows.
const (
	SyncModeFull        = "full_sync"
	SyncModeIncremental = "incremental_sync"
	SyncModeMembers     = "member_sync"
	SyncModeBulkMembers = "bulk_member_sync"

	TriggerScheduled  = "scheduled"
	TriggerManual     = "manual"
	TriggerOnboarding = "user_onboarding"

	ScopeGlobal = "global"
)

// SyncAuditRecord is one append-only log row per sync attempt. Rows are
// inserted after all entity writes for the attempt have finished and are
// never updated.
// Table name: sync_audit_records
type SyncAuditRecord struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	Scope       string    `gorm:"type:varchar(64);not null;index" json:"scope"` // settlement id or "global"
	Mode        string    `gorm:"type:varchar(32);not null" json:"mode"`
	TriggeredBy string    `gorm:"type:varchar(32);not null" json:"triggered_by"`
	Success     bool      `gorm:"not null" json:"success"`
	Found       int       `gorm:"not null;default:0" json:"found"`
	Added       int       `gorm:"not null;default:0" json:"added"`
	Updated     int       `gorm:"not null;default:0" json:"updated"`
	Deactivated int       `gorm:"not null;default:0" json:"deactivated"`
	WriteErrors int       `gorm:"not null;default:0" json:"write_errors"`
	APICalls    int       `gorm:"not null;default:0" json:"api_calls"`
	ErrorText   string    `gorm:"type:text" json:"error_text,omitempty"`
	StartedAt   time.Time `gorm:"not null;index" json:"started_at"`
	FinishedAt  time.Time `gorm:"not null" json:"finished_at"`
	DurationMs  int64     `gorm:"not null;default:0" json:"duration_ms"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
