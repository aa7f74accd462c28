// models/member.go
package models

import (
	"time"
)

// MirroredMember mirrors one settlement roster entry. EntityID is
// remote-assigned and unique only within a settlement, so the conflict
// key is the composite (settlement_id, entity_id).
// Table name: mirrored_members
type MirroredMember struct {
	ID           string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	SettlementID string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_member_settlement_entity;index" json:"settlement_id"`
	EntityID     string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_member_settlement_entity" json:"entity_id"`
	UserName     string     `gorm:"type:varchar(255)" json:"user_name"`
	CanInvite    bool       `gorm:"not null;default:false" json:"can_invite"`
	CanKick      bool       `gorm:"not null;default:false" json:"can_kick"`
	IsOfficer    bool       `gorm:"not null;default:false" json:"is_officer"`
	IsCoOwner    bool       `gorm:"not null;default:false" json:"is_co_owner"`
	JoinedAt     *time.Time `json:"joined_at,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`

	IsActive     bool      `gorm:"not null;default:true;index" json:"is_active"`
	LastSyncedAt time.Time `gorm:"not null;index" json:"last_synced_at"`
	SyncSource   string    `gorm:"type:varchar(32);not null;default:'external-api'" json:"sync_source"`

	Timestamps
}

// MirroredCitizen mirrors one citizen's skill sheet. Skills holds the
// skillId → level map as JSONB; the aggregate columns come from the
// remote payload as-is because the remote system is the aggregation
// source of truth for them.
// Table name: mirrored_citizens
type MirroredCitizen struct {
	ID           string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	SettlementID string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_citizen_settlement_entity;index" json:"settlement_id"`
	EntityID     string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_citizen_settlement_entity" json:"entity_id"`
	UserName     string         `gorm:"type:varchar(255)" json:"user_name"`
	Skills       map[string]int `gorm:"serializer:json;type:jsonb" json:"skills"`
	TotalSkills  int            `gorm:"not null;default:0" json:"total_skills"`
	HighestLevel int            `gorm:"not null;default:0" json:"highest_level"`
	TotalXP      int64          `gorm:"not null;default:0" json:"total_xp"`

	IsActive     bool      `gorm:"not null;default:true;index" json:"is_active"`
	LastSyncedAt time.Time `gorm:"not null;index" json:"last_synced_at"`
	SyncSource   string    `gorm:"type:varchar(32);not null;default:'external-api'" json:"sync_source"`

	Timestamps
}

// SkillName is the shared skillId → name lookup, refreshed whenever a
// sync observes new names. Rows are upserted, never deleted.
// Table name: skill_names
type SkillName struct {
	SkillID   string `gorm:"primaryKey;type:varchar(64);not null" json:"skill_id"`
	SkillName string `gorm:"type:varchar(128);not null" json:"skill_name"`

	Timestamps
}
