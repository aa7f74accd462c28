// services/store.go
package services

import (
	"context"
	"fmt"
	"time"

	"settlement-mirror-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence surface the sync core needs: keyed upserts,
// staleness reads, append-only inserts and delete-by-id. The GORM
// implementation below is the production one; tests use an in-memory
// fake.
type Store interface {
	ActiveSettlements(ctx context.Context) ([]models.MirroredSettlement, error)
	UpsertSettlements(ctx context.Context, rows []models.MirroredSettlement) (int, error)
	DeactivateSettlements(ctx context.Context, remoteIDs []string) error
	SettlementsByPopulation(ctx context.Context, limit int) ([]models.MirroredSettlement, error)
	GetSettlement(ctx context.Context, remoteID string) (*models.MirroredSettlement, error)

	ActiveMembers(ctx context.Context, settlementID string) ([]models.MirroredMember, error)
	UpsertMembers(ctx context.Context, rows []models.MirroredMember) (int, error)
	DeactivateMembers(ctx context.Context, settlementID string, entityIDs []string) error

	ActiveCitizens(ctx context.Context, settlementID string) ([]models.MirroredCitizen, error)
	UpsertCitizens(ctx context.Context, rows []models.MirroredCitizen) (int, error)
	DeactivateCitizens(ctx context.Context, settlementID string, entityIDs []string) error

	UpsertSkillNames(ctx context.Context, names map[string]string) error

	LatestSnapshot(ctx context.Context, settlementID string) (*models.TreasurySnapshot, error)
	InsertSnapshot(ctx context.Context, snap *models.TreasurySnapshot) error
	SnapshotsAscending(ctx context.Context, settlementID string) ([]models.TreasurySnapshot, error)
	DeleteSnapshots(ctx context.Context, ids []string) error

	InsertAuditRecord(ctx context.Context, rec *models.SyncAuditRecord) error
	RecentAuditRecords(ctx context.Context, limit int) ([]models.SyncAuditRecord, error)
}

// GormStore implements Store on Postgres. Bulk writes are chunked to
// BatchSize with a short sleep between chunks to bound peak load on the
// database.
type GormStore struct {
	DB         *gorm.DB
	BatchSize  int
	BatchDelay time.Duration
}

func NewGormStore(db *gorm.DB, cfg SyncConfig) *GormStore {
	return &GormStore{DB: db, BatchSize: cfg.BatchSize, BatchDelay: cfg.BatchDelay}
}

func (s *GormStore) batches(total int) [][2]int {
	size := s.BatchSize
	if size <= 0 {
		size = 50
	}
	var out [][2]int
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func (s *GormStore) pause(i, n int) {
	if i < n-1 && s.BatchDelay > 0 {
		time.Sleep(s.BatchDelay)
	}
}

// --- settlements ---

func (s *GormStore) ActiveSettlements(ctx context.Context) ([]models.MirroredSettlement, error) {
	var rows []models.MirroredSettlement
	err := s.DB.WithContext(ctx).Where("is_active = ?", true).Find(&rows).Error
	return rows, err
}

func (s *GormStore) UpsertSettlements(ctx context.Context, rows []models.MirroredSettlement) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	written := 0
	failed := 0
	var firstErr error
	chunks := s.batches(len(rows))
	for i, ch := range chunks {
		batch := rows[ch[0]:ch[1]]
		err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "remote_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "slug", "tier", "treasury_balance", "supplies",
				"tile_count", "population_estimate", "region", "location_x",
				"location_z", "owner_entity_id", "owner_name", "research_tier",
				"current_research", "last_remote_activity", "is_active",
				"last_synced_at", "sync_source", "updated_at",
			}),
		}).Create(&batch).Error
		if err != nil {
			// A failed chunk must not abort its siblings.
			failed++
			if firstErr == nil {
				firstErr = err
			}
		} else {
			written += len(batch)
		}
		s.pause(i, len(chunks))
	}
	if firstErr != nil {
		return written, fmt.Errorf("%d of %d batch(es) failed: %w", failed, len(chunks), firstErr)
	}
	return written, nil
}

func (s *GormStore) DeactivateSettlements(ctx context.Context, remoteIDs []string) error {
	if len(remoteIDs) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Model(&models.MirroredSettlement{}).
		Where("remote_id IN ?", remoteIDs).
		Update("is_active", false).Error
}

func (s *GormStore) SettlementsByPopulation(ctx context.Context, limit int) ([]models.MirroredSettlement, error) {
	var rows []models.MirroredSettlement
	err := s.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("population_estimate DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) GetSettlement(ctx context.Context, remoteID string) (*models.MirroredSettlement, error) {
	var row models.MirroredSettlement
	err := s.DB.WithContext(ctx).Where("remote_id = ?", remoteID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// --- members ---

func (s *GormStore) ActiveMembers(ctx context.Context, settlementID string) ([]models.MirroredMember, error) {
	var rows []models.MirroredMember
	err := s.DB.WithContext(ctx).
		Where("settlement_id = ? AND is_active = ?", settlementID, true).
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) UpsertMembers(ctx context.Context, rows []models.MirroredMember) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	written := 0
	failed := 0
	var firstErr error
	chunks := s.batches(len(rows))
	for i, ch := range chunks {
		batch := rows[ch[0]:ch[1]]
		err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "settlement_id"}, {Name: "entity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_name", "can_invite", "can_kick", "is_officer",
				"is_co_owner", "joined_at", "last_login_at", "is_active",
				"last_synced_at", "sync_source", "updated_at",
			}),
		}).Create(&batch).Error
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		} else {
			written += len(batch)
		}
		s.pause(i, len(chunks))
	}
	if firstErr != nil {
		return written, fmt.Errorf("%d of %d batch(es) failed: %w", failed, len(chunks), firstErr)
	}
	return written, nil
}

func (s *GormStore) DeactivateMembers(ctx context.Context, settlementID string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Model(&models.MirroredMember{}).
		Where("settlement_id = ? AND entity_id IN ?", settlementID, entityIDs).
		Update("is_active", false).Error
}

// --- citizens ---

func (s *GormStore) ActiveCitizens(ctx context.Context, settlementID string) ([]models.MirroredCitizen, error) {
	var rows []models.MirroredCitizen
	err := s.DB.WithContext(ctx).
		Where("settlement_id = ? AND is_active = ?", settlementID, true).
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) UpsertCitizens(ctx context.Context, rows []models.MirroredCitizen) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	written := 0
	failed := 0
	var firstErr error
	chunks := s.batches(len(rows))
	for i, ch := range chunks {
		batch := rows[ch[0]:ch[1]]
		err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "settlement_id"}, {Name: "entity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_name", "skills", "total_skills", "highest_level",
				"total_xp", "is_active", "last_synced_at", "sync_source",
				"updated_at",
			}),
		}).Create(&batch).Error
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		} else {
			written += len(batch)
		}
		s.pause(i, len(chunks))
	}
	if firstErr != nil {
		return written, fmt.Errorf("%d of %d batch(es) failed: %w", failed, len(chunks), firstErr)
	}
	return written, nil
}

func (s *GormStore) DeactivateCitizens(ctx context.Context, settlementID string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Model(&models.MirroredCitizen{}).
		Where("settlement_id = ? AND entity_id IN ?", settlementID, entityIDs).
		Update("is_active", false).Error
}

// --- skill names ---

func (s *GormStore) UpsertSkillNames(ctx context.Context, names map[string]string) error {
	if len(names) == 0 {
		return nil
	}
	rows := make([]models.SkillName, 0, len(names))
	for id, name := range names {
		if id == "" || name == "" {
			continue
		}
		rows = append(rows, models.SkillName{SkillID: id, SkillName: name})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "skill_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"skill_name", "updated_at"}),
	}).Create(&rows).Error
}

// --- treasury snapshots ---

func (s *GormStore) LatestSnapshot(ctx context.Context, settlementID string) (*models.TreasurySnapshot, error) {
	var snap models.TreasurySnapshot
	err := s.DB.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("recorded_at DESC").
		First(&snap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *GormStore) InsertSnapshot(ctx context.Context, snap *models.TreasurySnapshot) error {
	return s.DB.WithContext(ctx).Create(snap).Error
}

func (s *GormStore) SnapshotsAscending(ctx context.Context, settlementID string) ([]models.TreasurySnapshot, error) {
	var rows []models.TreasurySnapshot
	err := s.DB.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("recorded_at ASC").
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) DeleteSnapshots(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	failed := 0
	var firstErr error
	chunks := s.batches(len(ids))
	for i, ch := range chunks {
		if err := s.DB.WithContext(ctx).
			Where("id IN ?", ids[ch[0]:ch[1]]).
			Delete(&models.TreasurySnapshot{}).Error; err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
		s.pause(i, len(chunks))
	}
	if firstErr != nil {
		return fmt.Errorf("%d of %d delete batch(es) failed: %w", failed, len(chunks), firstErr)
	}
	return nil
}

// --- audit ---

func (s *GormStore) InsertAuditRecord(ctx context.Context, rec *models.SyncAuditRecord) error {
	return s.DB.WithContext(ctx).Create(rec).Error
}

func (s *GormStore) RecentAuditRecords(ctx context.Context, limit int) ([]models.SyncAuditRecord, error) {
	var rows []models.SyncAuditRecord
	err := s.DB.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
