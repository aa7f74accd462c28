// services/member_sync.go
package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"settlement-mirror-system/models"
	"settlement-mirror-system/workers"
)

// MemberSyncService refreshes one settlement's roster and citizen skill
// data. The reconciliation scope is always a single settlement.
type MemberSyncService struct {
	Store  Store
	API    SettlementAPI
	Config SyncConfig

	Now func() time.Time
}

func NewMemberSyncService(store Store, api SettlementAPI, cfg SyncConfig) *MemberSyncService {
	return &MemberSyncService{Store: store, API: api, Config: cfg, Now: time.Now}
}

// BulkSyncSummary aggregates one bulk run across settlements. A single
// settlement's failure lands in Errors without stopping the loop.
type BulkSyncSummary struct {
	Success           bool          `json:"success"`
	SettlementsSynced int           `json:"settlements_synced"`
	SettlementsFailed int           `json:"settlements_failed"`
	Found             int           `json:"found"`
	Added             int           `json:"added"`
	Updated           int           `json:"updated"`
	Deactivated       int           `json:"deactivated"`
	WriteErrors       int           `json:"write_errors"`
	Errors            []string      `json:"errors,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// SyncSettlementMembers runs one roster+citizen sync attempt for a
// settlement. The two fetches run concurrently and are joined before any
// write; if either fails the attempt fails fast, naming the call(s) that
// broke.
func (s *MemberSyncService) SyncSettlementMembers(ctx context.Context, settlementID, triggeredBy string) SyncResult {
	started := time.Now()
	result := SyncResult{Scope: settlementID, Mode: models.SyncModeMembers}

	if s.Store == nil || s.API == nil {
		result.Error = "member sync not available: store or API client not configured"
		return result
	}

	log.Printf("[SYNC] 🔁 Starting member/citizen sync for settlement %s (trigger=%s)", settlementID, triggeredBy)

	var (
		wg         sync.WaitGroup
		roster     *workers.RosterResult
		citizens   *workers.CitizensResult
		rosterErr  error
		citizenErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		roster, rosterErr = s.API.FetchRoster(ctx, settlementID)
	}()
	go func() {
		defer wg.Done()
		citizens, citizenErr = s.API.FetchCitizens(ctx, settlementID)
	}()
	wg.Wait()
	result.APICalls = 2

	if rosterErr != nil || citizenErr != nil {
		var failed []string
		if rosterErr != nil {
			failed = append(failed, fmt.Sprintf("roster fetch: %v", rosterErr))
		}
		if citizenErr != nil {
			failed = append(failed, fmt.Sprintf("citizens fetch: %v", citizenErr))
		}
		result.Error = strings.Join(failed, "; ")
		log.Printf("[SYNC] ❌ Member sync for %s aborted: %s", settlementID, result.Error)
		s.finish(ctx, &result, started, triggeredBy)
		return result
	}

	// Skill names are an append-mostly dictionary: upsert whatever this
	// payload happened to name, never remove.
	if err := s.Store.UpsertSkillNames(ctx, citizens.SkillNames); err != nil {
		result.Error = appendErrText(result.Error, fmt.Sprintf("skill name upsert failed: %v", err))
		log.Printf("[SYNC] ⚠️ Skill name upsert failed for %s: %v", settlementID, err)
	}

	now := s.Now()
	result.Found = len(roster.Members) + len(citizens.Citizens)
	result.Dropped = len(roster.Warnings) + len(citizens.Warnings)

	if err := s.reconcileMembers(ctx, settlementID, roster.Members, now, &result); err != nil {
		result.Error = appendErrText(result.Error, err.Error())
		log.Printf("[SYNC] ❌ %v", err)
		s.finish(ctx, &result, started, triggeredBy)
		return result
	}
	if err := s.reconcileCitizens(ctx, settlementID, citizens.Citizens, now, &result); err != nil {
		result.Error = appendErrText(result.Error, err.Error())
		log.Printf("[SYNC] ❌ %v", err)
		s.finish(ctx, &result, started, triggeredBy)
		return result
	}

	result.Success = true
	s.finish(ctx, &result, started, triggeredBy)
	log.Printf("[SYNC] ✅ Member sync done for %s: found=%d added=%d updated=%d deactivated=%d in %s",
		settlementID, result.Found, result.Added, result.Updated, result.Deactivated, result.Duration)
	return result
}

func (s *MemberSyncService) reconcileMembers(ctx context.Context, settlementID string, fetched []models.MirroredMember, now time.Time, result *SyncResult) error {
	existing, err := s.Store.ActiveMembers(ctx, settlementID)
	if err != nil {
		return fmt.Errorf("failed to load mirrored members for %s: %w", settlementID, err)
	}
	for i := range fetched {
		fetched[i].IsActive = true
		fetched[i].LastSyncedAt = now
	}
	existingRows := make([]ExistingRow, 0, len(existing))
	for _, row := range existing {
		existingRows = append(existingRows, ExistingRow{Key: row.EntityID, LastSyncedAt: row.LastSyncedAt})
	}

	plan := Reconcile(settlementID, fetched,
		func(row models.MirroredMember) string { return row.EntityID },
		existingRows, s.Config.DeactivationGraceWindow, now)

	result.Dropped += plan.Dropped

	written, err := s.Store.UpsertMembers(ctx, plan.ToUpsert)
	if err != nil {
		result.Error = appendErrText(result.Error, fmt.Sprintf("member upsert failed: %v", err))
		log.Printf("[SYNC] ⚠️ Member upsert failed for %s (%d of %d written): %v", settlementID, written, len(plan.ToUpsert), err)
	}
	added, updated := clampWriteCounts(plan.Added, plan.Updated, written)
	result.Added += added
	result.Updated += updated
	result.WriteErrors += len(plan.ToUpsert) - written
	if err := s.Store.DeactivateMembers(ctx, settlementID, plan.ToDeactivate); err != nil {
		result.Error = appendErrText(result.Error, fmt.Sprintf("member deactivation failed: %v", err))
		log.Printf("[SYNC] ⚠️ Member deactivation failed for %s: %v", settlementID, err)
	} else {
		result.Deactivated += len(plan.ToDeactivate)
	}
	return nil
}

func (s *MemberSyncService) reconcileCitizens(ctx context.Context, settlementID string, fetched []models.MirroredCitizen, now time.Time, result *SyncResult) error {
	existing, err := s.Store.ActiveCitizens(ctx, settlementID)
	if err != nil {
		return fmt.Errorf("failed to load mirrored citizens for %s: %w", settlementID, err)
	}
	for i := range fetched {
		fetched[i].IsActive = true
		fetched[i].LastSyncedAt = now
	}
	existingRows := make([]ExistingRow, 0, len(existing))
	for _, row := range existing {
		existingRows = append(existingRows, ExistingRow{Key: row.EntityID, LastSyncedAt: row.LastSyncedAt})
	}

	plan := Reconcile(settlementID, fetched,
		func(row models.MirroredCitizen) string { return row.EntityID },
		existingRows, s.Config.DeactivationGraceWindow, now)

	result.Dropped += plan.Dropped

	written, err := s.Store.UpsertCitizens(ctx, plan.ToUpsert)
	if err != nil {
		result.Error = appendErrText(result.Error, fmt.Sprintf("citizen upsert failed: %v", err))
		log.Printf("[SYNC] ⚠️ Citizen upsert failed for %s (%d of %d written): %v", settlementID, written, len(plan.ToUpsert), err)
	}
	added, updated := clampWriteCounts(plan.Added, plan.Updated, written)
	result.Added += added
	result.Updated += updated
	result.WriteErrors += len(plan.ToUpsert) - written
	if err := s.Store.DeactivateCitizens(ctx, settlementID, plan.ToDeactivate); err != nil {
		result.Error = appendErrText(result.Error, fmt.Sprintf("citizen deactivation failed: %v", err))
		log.Printf("[SYNC] ⚠️ Citizen deactivation failed for %s: %v", settlementID, err)
	} else {
		result.Deactivated += len(plan.ToDeactivate)
	}
	return nil
}

func (s *MemberSyncService) finish(ctx context.Context, result *SyncResult, started time.Time, triggeredBy string) {
	result.Duration = time.Since(started)
	writeAuditRecord(ctx, s.Store, result, started, triggeredBy)
}

// SyncAllSettlementMembers walks active settlements in population order
// (biggest first), capped per invocation, with a fixed delay between
// settlements to stay inside the remote API's rate budget.
func (s *MemberSyncService) SyncAllSettlementMembers(ctx context.Context, triggeredBy string) BulkSyncSummary {
	started := time.Now()
	summary := BulkSyncSummary{}

	if s.Store == nil || s.API == nil {
		summary.Errors = append(summary.Errors, "bulk member sync not available: store or API client not configured")
		return summary
	}

	settlements, err := s.Store.SettlementsByPopulation(ctx, s.Config.BulkMemberSyncCap)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("failed to list settlements: %v", err))
		summary.Duration = time.Since(started)
		log.Printf("[SYNC] ❌ Bulk member sync aborted: %v", err)
		failed := SyncResult{
			Scope:    models.ScopeGlobal,
			Mode:     models.SyncModeBulkMembers,
			Error:    summary.Errors[0],
			Duration: summary.Duration,
		}
		writeAuditRecord(ctx, s.Store, &failed, started, triggeredBy)
		return summary
	}

	log.Printf("[SYNC] 🔁 Bulk member sync over %d settlement(s) (trigger=%s)", len(settlements), triggeredBy)

	for i, settlement := range settlements {
		res := s.SyncSettlementMembers(ctx, settlement.RemoteID, triggeredBy)
		summary.Found += res.Found
		summary.Added += res.Added
		summary.Updated += res.Updated
		summary.Deactivated += res.Deactivated
		summary.WriteErrors += res.WriteErrors
		if res.Success {
			summary.SettlementsSynced++
		} else {
			summary.SettlementsFailed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("settlement %s: %s", settlement.RemoteID, res.Error))
		}
		if i < len(settlements)-1 && s.Config.BulkMemberSyncDelay > 0 {
			time.Sleep(s.Config.BulkMemberSyncDelay)
		}
	}

	summary.Success = summary.SettlementsFailed == 0
	summary.Duration = time.Since(started)

	bulkResult := SyncResult{
		Success:     summary.Success,
		Scope:       models.ScopeGlobal,
		Mode:        models.SyncModeBulkMembers,
		Found:       summary.Found,
		Added:       summary.Added,
		Updated:     summary.Updated,
		Deactivated: summary.Deactivated,
		WriteErrors: summary.WriteErrors,
		APICalls:    len(settlements) * 2,
		Error:       strings.Join(summary.Errors, "; "),
		Duration:    summary.Duration,
	}
	writeAuditRecord(ctx, s.Store, &bulkResult, started, triggeredBy)

	log.Printf("[SYNC] ✅ Bulk member sync done: %d synced, %d failed in %s",
		summary.SettlementsSynced, summary.SettlementsFailed, summary.Duration)
	return summary
}
