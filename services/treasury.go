// services/treasury.go
package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"settlement-mirror-system/models"

	"github.com/google/uuid"
)

// SnapshotArchiver receives pruned snapshot batches before they are
// deleted. *utils.SnapshotArchive is the production implementation; nil
// disables archiving.
type SnapshotArchiver interface {
	ArchivePruned(ctx context.Context, settlementID string, rows interface{}) error
}

// treasuryPollRegistry is the process-wide claim table for poll loops.
// Claiming is atomic under the mutex, so two callers starting a loop for
// the same settlement resolve to one loop and one no-op, regardless of
// how many TreasuryService values exist in the process.
var treasuryPollRegistry = struct {
	mu     sync.Mutex
	active map[string]bool
}{active: map[string]bool{}}

func claimTreasuryPoll(settlementID string) bool {
	treasuryPollRegistry.mu.Lock()
	defer treasuryPollRegistry.mu.Unlock()
	if treasuryPollRegistry.active[settlementID] {
		return false
	}
	treasuryPollRegistry.active[settlementID] = true
	return true
}

func releaseTreasuryPoll(settlementID string) {
	treasuryPollRegistry.mu.Lock()
	defer treasuryPollRegistry.mu.Unlock()
	delete(treasuryPollRegistry.active, settlementID)
}

// TreasuryService polls settlement balances and maintains the lossy
// snapshot series: a poll result is only persisted when it is worth
// keeping, and the same keep-rule later down-samples stored history.
type TreasuryService struct {
	Store   Store
	API     SettlementAPI
	Config  SyncConfig
	Archive SnapshotArchiver

	Now func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewTreasuryService(store Store, api SettlementAPI, cfg SyncConfig, archive SnapshotArchiver) *TreasuryService {
	return &TreasuryService{
		Store:   store,
		API:     api,
		Config:  cfg,
		Archive: archive,
		Now:     time.Now,
		cancels: map[string]context.CancelFunc{},
	}
}

// StartPolling begins the interval poll loop for one settlement. It is a
// no-op if a loop for that settlement is already claimed anywhere in the
// process.
func (s *TreasuryService) StartPolling(ctx context.Context, settlementID string) {
	if !claimTreasuryPoll(settlementID) {
		log.Printf("[TREASURY] ℹ️ Poll loop for settlement %s already running, start ignored", settlementID)
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels[settlementID] = cancel
	s.mu.Unlock()

	log.Printf("[TREASURY] 🔁 Starting treasury polling for settlement %s (every %s)", settlementID, s.Config.TreasuryPollInterval)
	go s.run(loopCtx, settlementID)
}

// StopPolling cancels the loop and releases the claim. Safe to call when
// nothing is running; it only prevents future ticks, an in-flight poll
// finishes on its own.
func (s *TreasuryService) StopPolling(settlementID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[settlementID]
	if ok {
		delete(s.cancels, settlementID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
	releaseTreasuryPoll(settlementID)
	log.Printf("[TREASURY] ⏹️ Treasury polling stopped for settlement %s", settlementID)
}

func (s *TreasuryService) run(ctx context.Context, settlementID string) {
	ticker := time.NewTicker(s.Config.TreasuryPollInterval)
	defer ticker.Stop()

	pruneEvery := 24 * time.Hour
	lastPrune := s.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Transient poll failures are expected and non-critical;
			// the previous snapshot stays valid.
			if _, err := s.PollNow(ctx, settlementID); err != nil {
				log.Printf("[TREASURY] ⚠️ Poll failed for settlement %s: %v", settlementID, err)
			}
			if s.Now().Sub(lastPrune) >= pruneEvery {
				if removed, err := s.PruneSnapshots(ctx, settlementID); err != nil {
					log.Printf("[TREASURY] ⚠️ Prune failed for settlement %s: %v", settlementID, err)
				} else if removed > 0 {
					log.Printf("[TREASURY] 🧹 Pruned %d snapshot(s) for settlement %s", removed, settlementID)
				}
				lastPrune = s.Now()
			}
		}
	}
}

// PollNow runs one fetch+decide+maybe-write cycle synchronously,
// independent of the timer. A nil snapshot with nil error means the
// reading was not worth recording.
func (s *TreasuryService) PollNow(ctx context.Context, settlementID string) (*models.TreasurySnapshot, error) {
	if s.Store == nil || s.API == nil {
		return nil, fmt.Errorf("treasury polling not available: store or API client not configured")
	}

	reading, err := s.API.FetchBalance(ctx, settlementID)
	if err != nil {
		return nil, fmt.Errorf("balance fetch failed: %w", err)
	}

	last, err := s.Store.LatestSnapshot(ctx, settlementID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	now := s.Now()
	if last != nil && !s.worthKeeping(last.Balance, last.RecordedAt, reading.Balance, now) {
		return nil, nil
	}

	var prev int64
	if last != nil {
		prev = last.Balance
	}
	snap := &models.TreasurySnapshot{
		ID:              uuid.NewString(),
		SettlementID:    settlementID,
		RecordedAt:      now,
		Balance:         reading.Balance,
		PreviousBalance: prev,
		ChangeAmount:    reading.Balance - prev,
		Supplies:        reading.Supplies,
		Tier:            reading.Tier,
		TileCount:       reading.TileCount,
		DataSource:      models.SyncSourceExternalAPI,
	}
	if err := s.Store.InsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	log.Printf("[TREASURY] 💰 Snapshot recorded for settlement %s: balance=%d (Δ%+d)", settlementID, snap.Balance, snap.ChangeAmount)
	return snap, nil
}

// worthKeeping is the retention heuristic, shared verbatim between
// recording and pruning so the two can never disagree: keep a point if
// the balance moved at least the threshold since the last kept point, or
// at least a day passed.
func (s *TreasuryService) worthKeeping(keptBalance int64, keptAt time.Time, balance int64, at time.Time) bool {
	delta := balance - keptBalance
	if delta < 0 {
		delta = -delta
	}
	if delta >= s.Config.SignificantChangeThreshold {
		return true
	}
	return at.Sub(keptAt) >= s.Config.SnapshotDailyInterval
}

// PruneSnapshots down-samples one settlement's stored series by
// replaying the keep-rule chronologically. Pruning an already-pruned
// series deletes nothing. When an archive is configured the pruned rows
// are uploaded first, and a failed upload aborts the deletion.
func (s *TreasuryService) PruneSnapshots(ctx context.Context, settlementID string) (int, error) {
	if s.Store == nil {
		return 0, fmt.Errorf("treasury pruning not available: store not configured")
	}

	series, err := s.Store.SnapshotsAscending(ctx, settlementID)
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshot series: %w", err)
	}
	if len(series) == 0 {
		return 0, nil
	}

	var pruned []models.TreasurySnapshot
	kept := series[0] // first point always stays
	for _, snap := range series[1:] {
		if s.worthKeeping(kept.Balance, kept.RecordedAt, snap.Balance, snap.RecordedAt) {
			kept = snap
			continue
		}
		pruned = append(pruned, snap)
	}
	if len(pruned) == 0 {
		return 0, nil
	}

	if s.Archive != nil {
		if err := s.Archive.ArchivePruned(ctx, settlementID, pruned); err != nil {
			return 0, fmt.Errorf("snapshot archive upload failed, keeping rows: %w", err)
		}
	}

	ids := make([]string, len(pruned))
	for i, snap := range pruned {
		ids[i] = snap.ID
	}
	if err := s.Store.DeleteSnapshots(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to delete pruned snapshots: %w", err)
	}
	return len(pruned), nil
}
