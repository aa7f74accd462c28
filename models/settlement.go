// models/settlement.go
package models

import (
	"time"
)

// SyncSourceExternalAPI tags every mirrored row with where it came from.
// There is only one source today; the column exists so a second one can
// be added without a migration.
const SyncSourceExternalAPI = "external-api"

// MirroredSettlement mirrors one settlement from the external
// settlement-data API. RemoteID is assigned by the remote system and is
// the only join key back to it.
// Table name: mirrored_settlements
type MirroredSettlement struct {
	RemoteID           string     `gorm:"primaryKey;type:varchar(64);not null" json:"remote_id"`
	Name               string     `gorm:"type:varchar(255);not null" json:"name"`
	Slug               string     `gorm:"type:varchar(255);index" json:"slug"`
	Tier               int        `gorm:"not null;default:0" json:"tier"`
	TreasuryBalance    int64      `gorm:"not null;default:0" json:"treasury_balance"`
	Supplies           int64      `gorm:"not null;default:0" json:"supplies"`
	TileCount          int        `gorm:"not null;default:0" json:"tile_count"`
	PopulationEstimate int        `gorm:"not null;default:0;index" json:"population_estimate"`
	Region             string     `gorm:"type:varchar(128)" json:"region"`
	LocationX          int        `json:"location_x"`
	LocationZ          int        `json:"location_z"`
	OwnerEntityID      string     `gorm:"type:varchar(64)" json:"owner_entity_id"`
	OwnerName          string     `gorm:"type:varchar(255)" json:"owner_name"`
	ResearchTier       int        `gorm:"not null;default:0" json:"research_tier"`
	CurrentResearch    string     `gorm:"type:varchar(128)" json:"current_research"`
	LastRemoteActivity *time.Time `json:"last_remote_activity,omitempty"`

	// IsActive=false means "not observed in the most recent sync that
	// covered this row's scope". Rows are never hard-deleted.
	IsActive     bool      `gorm:"not null;default:true;index" json:"is_active"`
	LastSyncedAt time.Time `gorm:"not null;index" json:"last_synced_at"`
	SyncSource   string    `gorm:"type:varchar(32);not null;default:'external-api'" json:"sync_source"`

	Timestamps
}
