// models/treasury_snapshot.go
package models

import (
	"time"
)

// TreasurySnapshot is one point in a settlement's balance history. The
// series is append-then-prune: points get written only when the balance
// moved enough (or a day passed), and old points are down-sampled by the
// same rule, so a missing point does not mean "unchanged".
// Table name: treasury_snapshots
type TreasurySnapshot struct {
	ID              string    `gorm:"primaryKey;type:uuid" json:"id"`
	SettlementID    string    `gorm:"type:varchar(64);not null;index:idx_snapshot_settlement_time" json:"settlement_id"`
	RecordedAt      time.Time `gorm:"not null;index:idx_snapshot_settlement_time" json:"recorded_at"`
	Balance         int64     `gorm:"not null" json:"balance"`
	PreviousBalance int64     `gorm:"not null;default:0" json:"previous_balance"`
	ChangeAmount    int64     `gorm:"not null;default:0" json:"change_amount"`
	Supplies        int64     `gorm:"not null;default:0" json:"supplies"`
	Tier            int       `gorm:"not null;default:0" json:"tier"`
	TileCount       int       `gorm:"not null;default:0" json:"tile_count"`
	DataSource      string    `gorm:"type:varchar(32);not null;default:'external-api'" json:"data_source"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
