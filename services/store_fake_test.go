package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"settlement-mirror-system/models"
	"settlement-mirror-system/workers"
)

// fakeStore is the in-memory Store used by the sync tests.
type fakeStore struct {
	mu sync.Mutex

	settlements map[string]models.MirroredSettlement
	members     map[string]models.MirroredMember // key settlementID|entityID
	citizens    map[string]models.MirroredCitizen
	skillNames  map[string]string
	snapshots   []models.TreasurySnapshot
	audits      []models.SyncAuditRecord

	upsertCalls   int
	snapshotFails bool
	listErr       error

	// Write-failure knobs: when the error is set, only the first
	// written-count rows land before the store reports the failure.
	settlementUpsertErr     error
	settlementUpsertWritten int
	memberUpsertErr         error
	memberUpsertWritten     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settlements: map[string]models.MirroredSettlement{},
		members:     map[string]models.MirroredMember{},
		citizens:    map[string]models.MirroredCitizen{},
		skillNames:  map[string]string{},
	}
}

func memberKey(settlementID, entityID string) string {
	return settlementID + "|" + entityID
}

func (f *fakeStore) ActiveSettlements(ctx context.Context) ([]models.MirroredSettlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.MirroredSettlement
	for _, s := range f.settlements {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertSettlements(ctx context.Context, rows []models.MirroredSettlement) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.settlementUpsertErr != nil {
		n := f.settlementUpsertWritten
		if n > len(rows) {
			n = len(rows)
		}
		for _, r := range rows[:n] {
			f.settlements[r.RemoteID] = r
		}
		return n, f.settlementUpsertErr
	}
	for _, r := range rows {
		f.settlements[r.RemoteID] = r
	}
	return len(rows), nil
}

func (f *fakeStore) DeactivateSettlements(ctx context.Context, remoteIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range remoteIDs {
		if s, ok := f.settlements[id]; ok {
			s.IsActive = false
			f.settlements[id] = s
		}
	}
	return nil
}

func (f *fakeStore) SettlementsByPopulation(ctx context.Context, limit int) ([]models.MirroredSettlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.MirroredSettlement
	for _, s := range f.settlements {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PopulationEstimate > out[j].PopulationEstimate
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetSettlement(ctx context.Context, remoteID string) (*models.MirroredSettlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.settlements[remoteID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (f *fakeStore) ActiveMembers(ctx context.Context, settlementID string) ([]models.MirroredMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.MirroredMember
	for _, m := range f.members {
		if m.SettlementID == settlementID && m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertMembers(ctx context.Context, rows []models.MirroredMember) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberUpsertErr != nil {
		n := f.memberUpsertWritten
		if n > len(rows) {
			n = len(rows)
		}
		for _, r := range rows[:n] {
			f.members[memberKey(r.SettlementID, r.EntityID)] = r
		}
		return n, f.memberUpsertErr
	}
	for _, r := range rows {
		f.members[memberKey(r.SettlementID, r.EntityID)] = r
	}
	return len(rows), nil
}

func (f *fakeStore) DeactivateMembers(ctx context.Context, settlementID string, entityIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range entityIDs {
		key := memberKey(settlementID, id)
		if m, ok := f.members[key]; ok {
			m.IsActive = false
			f.members[key] = m
		}
	}
	return nil
}

func (f *fakeStore) ActiveCitizens(ctx context.Context, settlementID string) ([]models.MirroredCitizen, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.MirroredCitizen
	for _, cz := range f.citizens {
		if cz.SettlementID == settlementID && cz.IsActive {
			out = append(out, cz)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertCitizens(ctx context.Context, rows []models.MirroredCitizen) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		f.citizens[memberKey(r.SettlementID, r.EntityID)] = r
	}
	return len(rows), nil
}

func (f *fakeStore) DeactivateCitizens(ctx context.Context, settlementID string, entityIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range entityIDs {
		key := memberKey(settlementID, id)
		if cz, ok := f.citizens[key]; ok {
			cz.IsActive = false
			f.citizens[key] = cz
		}
	}
	return nil
}

func (f *fakeStore) UpsertSkillNames(ctx context.Context, names map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, name := range names {
		if id != "" && name != "" {
			f.skillNames[id] = name
		}
	}
	return nil
}

func (f *fakeStore) LatestSnapshot(ctx context.Context, settlementID string) (*models.TreasurySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.TreasurySnapshot
	for i := range f.snapshots {
		snap := f.snapshots[i]
		if snap.SettlementID != settlementID {
			continue
		}
		if latest == nil || snap.RecordedAt.After(latest.RecordedAt) {
			latest = &snap
		}
	}
	return latest, nil
}

func (f *fakeStore) InsertSnapshot(ctx context.Context, snap *models.TreasurySnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshotFails {
		return fmt.Errorf("insert refused")
	}
	f.snapshots = append(f.snapshots, *snap)
	return nil
}

func (f *fakeStore) SnapshotsAscending(ctx context.Context, settlementID string) ([]models.TreasurySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TreasurySnapshot
	for _, snap := range f.snapshots {
		if snap.SettlementID == settlementID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (f *fakeStore) DeleteSnapshots(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var kept []models.TreasurySnapshot
	for _, snap := range f.snapshots {
		if !drop[snap.ID] {
			kept = append(kept, snap)
		}
	}
	f.snapshots = kept
	return nil
}

func (f *fakeStore) InsertAuditRecord(ctx context.Context, rec *models.SyncAuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, *rec)
	return nil
}

func (f *fakeStore) RecentAuditRecords(ctx context.Context, limit int) ([]models.SyncAuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]models.SyncAuditRecord{}, f.audits...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeAPI is the canned fetch adapter used by the sync tests.
type fakeAPI struct {
	directory    *workers.DirectoryResult
	directoryErr error
	roster       *workers.RosterResult
	rosterErr    error
	citizens     *workers.CitizensResult
	citizensErr  error
	balance      *workers.BalanceResult
	balanceErr   error

	balances     []int64 // when set, FetchBalance pops these in order
	balanceCalls int
}

func (f *fakeAPI) FetchDirectory(ctx context.Context, mode workers.DirectoryMode, cap int) (*workers.DirectoryResult, error) {
	if f.directoryErr != nil {
		return nil, f.directoryErr
	}
	return f.directory, nil
}

func (f *fakeAPI) FetchRoster(ctx context.Context, settlementID string) (*workers.RosterResult, error) {
	if f.rosterErr != nil {
		return nil, f.rosterErr
	}
	if f.roster == nil {
		return &workers.RosterResult{}, nil
	}
	return f.roster, nil
}

func (f *fakeAPI) FetchCitizens(ctx context.Context, settlementID string) (*workers.CitizensResult, error) {
	if f.citizensErr != nil {
		return nil, f.citizensErr
	}
	if f.citizens == nil {
		return &workers.CitizensResult{SkillNames: map[string]string{}}, nil
	}
	return f.citizens, nil
}

func (f *fakeAPI) FetchBalance(ctx context.Context, settlementID string) (*workers.BalanceResult, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if len(f.balances) > 0 {
		idx := f.balanceCalls
		if idx >= len(f.balances) {
			idx = len(f.balances) - 1
		}
		f.balanceCalls++
		return &workers.BalanceResult{Balance: f.balances[idx]}, nil
	}
	return f.balance, nil
}
