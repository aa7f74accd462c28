// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"settlement-mirror-system/models"
	"settlement-mirror-system/workers"

	"github.com/go-co-op/gocron/v2"
)

// PollingScheduler owns the interval timers for the sync streams:
// incremental directory sync, daily full sync, bulk member sync, and the
// treasury poll loop for the tracked settlement. At most one set of
// timers runs per process; StartPolling on a running scheduler is a
// no-op. Manual triggers pass straight through to the sync services and
// deliberately do not exclude the timers — every write underneath is an
// idempotent keyed upsert, so overlap is tolerated.
type PollingScheduler struct {
	Master   *MasterSyncService
	Members  *MemberSyncService
	Treasury *TreasuryService
	Config   SyncConfig

	// TreasurySettlementID is the settlement whose balance is polled
	// from startup. Empty means no startup loop; loops can still be
	// started per settlement via the trigger surface.
	TreasurySettlementID string

	mu      sync.Mutex
	sched   gocron.Scheduler
	cancel  context.CancelFunc
	running bool
}

func NewPollingScheduler(master *MasterSyncService, members *MemberSyncService, treasury *TreasuryService, cfg SyncConfig, treasurySettlementID string) *PollingScheduler {
	return &PollingScheduler{
		Master:               master,
		Members:              members,
		Treasury:             treasury,
		Config:               cfg,
		TreasurySettlementID: treasurySettlementID,
	}
}

// StartPolling registers and starts all interval jobs. No-op when
// already running.
func (p *PollingScheduler) StartPolling(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		log.Println("[SCHEDULER] ℹ️ Polling already running, start ignored")
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	jobCtx, cancel := context.WithCancel(ctx)

	_, err = sched.NewJob(
		gocron.DurationJob(p.Config.IncrementalSyncInterval),
		gocron.NewTask(func() {
			p.Master.SyncSettlements(jobCtx, workers.DirectoryModeIncremental, models.TriggerScheduled)
		}),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to register incremental sync job: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(p.Config.FullSyncInterval),
		gocron.NewTask(func() {
			p.Master.SyncSettlements(jobCtx, workers.DirectoryModeFull, models.TriggerScheduled)
		}),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to register full sync job: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(p.Config.MemberSyncInterval),
		gocron.NewTask(func() {
			p.Members.SyncAllSettlementMembers(jobCtx, models.TriggerScheduled)
		}),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to register member sync job: %w", err)
	}

	sched.Start()
	if p.TreasurySettlementID != "" {
		p.Treasury.StartPolling(jobCtx, p.TreasurySettlementID)
	}

	p.sched = sched
	p.cancel = cancel
	p.running = true
	log.Printf("[SCHEDULER] ✅ Polling started (incremental every %s, full every %s, members every %s)",
		p.Config.IncrementalSyncInterval, p.Config.FullSyncInterval, p.Config.MemberSyncInterval)
	return nil
}

// StopPolling shuts the timers down. Already-started sync attempts run
// to completion; only future ticks are prevented. Safe to call twice.
func (p *PollingScheduler) StopPolling() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	if err := p.sched.Shutdown(); err != nil {
		log.Printf("[SCHEDULER] ⚠️ Scheduler shutdown error: %v", err)
	}
	if p.TreasurySettlementID != "" {
		p.Treasury.StopPolling(p.TreasurySettlementID)
	}
	p.cancel()
	p.sched = nil
	p.cancel = nil
	p.running = false
	log.Println("[SCHEDULER] ⏹️ Polling stopped")
}

// IsRunning reports whether the timers are live.
func (p *PollingScheduler) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// --- manual single-shot triggers ---

func (p *PollingScheduler) TriggerDirectorySync(ctx context.Context, mode workers.DirectoryMode) SyncResult {
	return p.Master.SyncSettlements(ctx, mode, models.TriggerManual)
}

func (p *PollingScheduler) TriggerMemberSync(ctx context.Context, settlementID, triggeredBy string) SyncResult {
	return p.Members.SyncSettlementMembers(ctx, settlementID, triggeredBy)
}

func (p *PollingScheduler) TriggerBulkMemberSync(ctx context.Context) BulkSyncSummary {
	return p.Members.SyncAllSettlementMembers(ctx, models.TriggerManual)
}
