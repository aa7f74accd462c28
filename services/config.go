// services/config.go
package services

import (
	"time"

	"settlement-mirror-system/utils"
)

// SyncConfig collects every tunable of the sync core. Defaults match
// production; each value can be overridden by env var without a code
// change.
type SyncConfig struct {
	// Treasury snapshot heuristic
	SignificantChangeThreshold int64         // currency units
	SnapshotDailyInterval      time.Duration // force a snapshot after this much silence
	TreasuryPollInterval       time.Duration

	// Reconciliation
	DeactivationGraceWindow time.Duration // minimum staleness before deactivation

	// Store write discipline
	BatchSize  int
	BatchDelay time.Duration

	// Directory sync
	IncrementalSyncCap int // settlements fetched in incremental mode

	// Bulk member sync
	BulkMemberSyncCap   int
	BulkMemberSyncDelay time.Duration

	// Scheduler intervals
	IncrementalSyncInterval time.Duration
	FullSyncInterval        time.Duration
	MemberSyncInterval      time.Duration
}

// DefaultSyncConfig returns the built-in defaults without consulting the
// environment. Tests start from this.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		SignificantChangeThreshold: 100,
		SnapshotDailyInterval:      24 * time.Hour,
		TreasuryPollInterval:       5 * time.Minute,
		DeactivationGraceWindow:    1 * time.Hour,
		BatchSize:                  50,
		BatchDelay:                 100 * time.Millisecond,
		IncrementalSyncCap:         300,
		BulkMemberSyncCap:          25,
		BulkMemberSyncDelay:        2 * time.Second,
		IncrementalSyncInterval:    15 * time.Minute,
		FullSyncInterval:           24 * time.Hour,
		MemberSyncInterval:         1 * time.Hour,
	}
}

// LoadSyncConfig layers env overrides over the defaults.
func LoadSyncConfig() SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.SignificantChangeThreshold = utils.GetEnvInt64("SIGNIFICANT_CHANGE_THRESHOLD", cfg.SignificantChangeThreshold)
	cfg.SnapshotDailyInterval = utils.GetEnvDuration("SNAPSHOT_DAILY_INTERVAL", cfg.SnapshotDailyInterval)
	cfg.TreasuryPollInterval = utils.GetEnvDuration("TREASURY_POLL_INTERVAL", cfg.TreasuryPollInterval)
	cfg.DeactivationGraceWindow = utils.GetEnvDuration("DEACTIVATION_GRACE_WINDOW", cfg.DeactivationGraceWindow)
	cfg.BatchSize = utils.GetEnvInt("SYNC_BATCH_SIZE", cfg.BatchSize)
	cfg.BatchDelay = utils.GetEnvDuration("SYNC_BATCH_DELAY", cfg.BatchDelay)
	cfg.IncrementalSyncCap = utils.GetEnvInt("INCREMENTAL_SYNC_CAP", cfg.IncrementalSyncCap)
	cfg.BulkMemberSyncCap = utils.GetEnvInt("BULK_MEMBER_SYNC_CAP", cfg.BulkMemberSyncCap)
	cfg.BulkMemberSyncDelay = utils.GetEnvDuration("BULK_MEMBER_SYNC_DELAY", cfg.BulkMemberSyncDelay)
	cfg.IncrementalSyncInterval = utils.GetEnvDuration("INCREMENTAL_SYNC_INTERVAL", cfg.IncrementalSyncInterval)
	cfg.FullSyncInterval = utils.GetEnvDuration("FULL_SYNC_INTERVAL", cfg.FullSyncInterval)
	cfg.MemberSyncInterval = utils.GetEnvDuration("MEMBER_SYNC_INTERVAL", cfg.MemberSyncInterval)
	return cfg
}
