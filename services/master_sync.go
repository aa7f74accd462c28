// services/master_sync.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"settlement-mirror-system/models"
	"settlement-mirror-system/workers"

	"github.com/google/uuid"
)

// SettlementAPI is the fetch-adapter contract the sync services depend
// on. *workers.SettlementAPIClient is the production implementation.
type SettlementAPI interface {
	FetchDirectory(ctx context.Context, mode workers.DirectoryMode, incrementalCap int) (*workers.DirectoryResult, error)
	FetchRoster(ctx context.Context, settlementID string) (*workers.RosterResult, error)
	FetchCitizens(ctx context.Context, settlementID string) (*workers.CitizensResult, error)
	FetchBalance(ctx context.Context, settlementID string) (*workers.BalanceResult, error)
}

// SyncResult is what every public sync entry point returns. Nothing in
// the sync core panics or crashes the host; failures show up here and in
// the audit row.
type SyncResult struct {
	Success     bool          `json:"success"`
	Scope       string        `json:"scope"`
	Mode        string        `json:"mode"`
	Found       int           `json:"found"`
	Added       int           `json:"added"`
	Updated     int           `json:"updated"`
	Deactivated int           `json:"deactivated"`
	Dropped     int           `json:"dropped"`
	WriteErrors int           `json:"write_errors"`
	APICalls    int           `json:"api_calls"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// MasterSyncService keeps the mirrored settlement directory consistent
// with the remote one.
type MasterSyncService struct {
	Store  Store
	API    SettlementAPI
	Config SyncConfig

	// Now is swappable for tests.
	Now func() time.Time
}

func NewMasterSyncService(store Store, api SettlementAPI, cfg SyncConfig) *MasterSyncService {
	return &MasterSyncService{Store: store, API: api, Config: cfg, Now: time.Now}
}

// SyncSettlements runs one directory sync attempt in the given mode and
// writes exactly one audit row for it, success or not. Audit insertion
// happens after all entity writes so the log never references a sync in
// progress.
func (s *MasterSyncService) SyncSettlements(ctx context.Context, mode workers.DirectoryMode, triggeredBy string) SyncResult {
	started := time.Now()
	result := SyncResult{Scope: models.ScopeGlobal, Mode: models.SyncModeIncremental}
	if mode == workers.DirectoryModeFull {
		result.Mode = models.SyncModeFull
	}

	if s.Store == nil || s.API == nil {
		result.Error = "settlement sync not available: store or API client not configured"
		return result
	}

	log.Printf("[SYNC] 🔁 Starting settlement directory sync (mode=%s, trigger=%s)", mode, triggeredBy)

	dir, err := s.API.FetchDirectory(ctx, mode, s.Config.IncrementalSyncCap)
	if err != nil {
		result.Error = fmt.Sprintf("directory fetch failed: %v", err)
		log.Printf("[SYNC] ❌ %s", result.Error)
		s.finish(ctx, &result, started, triggeredBy)
		return result
	}
	result.APICalls = len(dir.QueriesUsed)
	result.Found = dir.TotalFound
	result.Dropped = len(dir.Warnings)

	existing, err := s.Store.ActiveSettlements(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("failed to load mirrored settlements: %v", err)
		log.Printf("[SYNC] ❌ %s", result.Error)
		s.finish(ctx, &result, started, triggeredBy)
		return result
	}

	now := s.Now()
	for i := range dir.Settlements {
		dir.Settlements[i].IsActive = true
		dir.Settlements[i].LastSyncedAt = now
	}

	existingRows := make([]ExistingRow, 0, len(existing))
	for _, row := range existing {
		existingRows = append(existingRows, ExistingRow{Key: row.RemoteID, LastSyncedAt: row.LastSyncedAt})
	}

	plan := Reconcile(models.ScopeGlobal, dir.Settlements,
		func(row models.MirroredSettlement) string { return row.RemoteID },
		existingRows, s.Config.DeactivationGraceWindow, now)

	result.Dropped += plan.Dropped

	// Write failures don't abort the attempt; the audit row's counts
	// reflect what actually got written, with the shortfall in the
	// error counter and error text.
	written, err := s.Store.UpsertSettlements(ctx, plan.ToUpsert)
	if err != nil {
		result.Error = appendErrText(result.Error, fmt.Sprintf("settlement upsert failed: %v", err))
		log.Printf("[SYNC] ⚠️ Settlement upsert failed (%d of %d written): %v", written, len(plan.ToUpsert), err)
	}
	result.Added, result.Updated = clampWriteCounts(plan.Added, plan.Updated, written)
	result.WriteErrors += len(plan.ToUpsert) - written

	if err := s.Store.DeactivateSettlements(ctx, plan.ToDeactivate); err != nil {
		result.Error = appendErrText(result.Error, fmt.Sprintf("settlement deactivation failed: %v", err))
		log.Printf("[SYNC] ⚠️ Settlement deactivation failed: %v", err)
	} else {
		result.Deactivated = len(plan.ToDeactivate)
	}

	result.Success = true
	s.finish(ctx, &result, started, triggeredBy)
	log.Printf("[SYNC] ✅ Directory sync done (mode=%s): found=%d added=%d updated=%d deactivated=%d dropped=%d in %s",
		mode, result.Found, result.Added, result.Updated, result.Deactivated, result.Dropped, result.Duration)
	return result
}

func (s *MasterSyncService) finish(ctx context.Context, result *SyncResult, started time.Time, triggeredBy string) {
	result.Duration = time.Since(started)
	writeAuditRecord(ctx, s.Store, result, started, triggeredBy)
}

// writeAuditRecord appends the per-attempt audit row. Audit failures are
// logged and swallowed; losing one observational row must not fail a
// sync that already did its work.
func writeAuditRecord(ctx context.Context, store Store, result *SyncResult, started time.Time, triggeredBy string) {
	if store == nil {
		return
	}
	rec := &models.SyncAuditRecord{
		ID:          uuid.NewString(),
		Scope:       result.Scope,
		Mode:        result.Mode,
		TriggeredBy: triggeredBy,
		Success:     result.Success,
		Found:       result.Found,
		Added:       result.Added,
		Updated:     result.Updated,
		Deactivated: result.Deactivated,
		WriteErrors: result.WriteErrors,
		APICalls:    result.APICalls,
		ErrorText:   result.Error,
		StartedAt:   started,
		FinishedAt:  started.Add(result.Duration),
		DurationMs:  result.Duration.Milliseconds(),
	}
	if err := store.InsertAuditRecord(ctx, rec); err != nil {
		log.Printf("[SYNC] ⚠️ Failed to write sync audit record (scope=%s, mode=%s): %v", result.Scope, result.Mode, err)
	}
}

func appendErrText(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "; " + next
}

// clampWriteCounts squeezes a reconcile plan's added/updated split down
// to the rows the store actually wrote. Which specific rows landed in a
// failed batch is unknowable from here, so updates are assumed written
// first — the conservative reading for "added", which consumers treat
// as new data.
func clampWriteCounts(added, updated, written int) (int, int) {
	if written >= added+updated {
		return added, updated
	}
	if updated > written {
		updated = written
	}
	added = written - updated
	return added, updated
}
