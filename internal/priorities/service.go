package priorities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrNotFound indicates the record does not exist or belongs to another owner.
	ErrNotFound = errors.New("priorities: not found")
	// ErrNotRestorable indicates a restore attempted on a purged record.
	ErrNotRestorable = errors.New("priorities: not restorable")
	// ErrNotSoftDeleted indicates a permanent delete attempted on an active record.
	ErrNotSoftDeleted = errors.New("priorities: not soft deleted")
	// ErrNoCandidates indicates a replace batch left the owner with zero
	// recommendation priorities because every candidate was rejected.
	ErrNoCandidates = errors.New("priorities: no valid candidates")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "priorities.service.new"
	opCreate          = "priorities.create"
	opListActive      = "priorities.list_active"
	opSoftDelete      = "priorities.soft_delete"
	opRestore         = "priorities.restore"
	opPermanentDelete = "priorities.permanent_delete"
	opReplaceAIBatch  = "priorities.replace_ai_batch"
	opSyncFires       = "priorities.sync_fires"
	opPurgeExpired    = "priorities.purge_expired"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewID() (string, error)
}

// Service owns the priority lifecycle: creation, merge & rank reads, the
// soft-delete state machine, batch replace, fires upsert and purge.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateInput describes a manually entered priority.
type CreateInput struct {
	Title       string
	Description string
	Score       int
	ManualOrder *int
}

// Create stores a manual priority for the owner. The score is clamped on write.
func (s *Service) Create(ctx context.Context, ownerID OwnerID, input CreateInput) (Priority, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Priority{}, newServiceError(opCreate, "missing_title", ErrInvalidTitle)
	}
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("owner_id", ownerID.String()))
		return Priority{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	record := Priority{
		ID:               id,
		OwnerID:          ownerID.String(),
		Title:            title,
		Description:      strings.TrimSpace(input.Description),
		Source:           SourceManual,
		Score:            ClampScore(input.Score),
		ManualOrder:      input.ManualOrder,
		State:            StateActive,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("owner_id", ownerID.String()))
		return Priority{}, newServiceError(opCreate, "insert_failed", err)
	}
	return record, nil
}

// ListActive returns the merged, ranked view of the owner's active priorities
// across all sources. Scores are clamped defensively at read time.
func (s *Service) ListActive(ctx context.Context, ownerID OwnerID) ([]Priority, error) {
	var records []Priority
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND state = ?", ownerID.String(), StateActive).
		Find(&records).Error; err != nil {
		s.logError(opListActive, "query_failed", err, zap.String("owner_id", ownerID.String()))
		return nil, newServiceError(opListActive, "query_failed", err)
	}

	for index := range records {
		records[index].Score = ClampScore(records[index].Score)
	}
	sortRanked(records)
	return records, nil
}

// SoftDelete moves an active priority into the recoverable deleted state.
// Deleting an already soft-deleted priority is a no-op that keeps the
// original deletion timestamp.
func (s *Service) SoftDelete(ctx context.Context, id PriorityID, ownerID OwnerID) (Priority, error) {
	now := s.clock().UTC().Unix()
	result := s.db.WithContext(ctx).Model(&Priority{}).
		Where("id = ? AND owner_id = ? AND state = ?", id.String(), ownerID.String(), StateActive).
		Updates(map[string]interface{}{
			"state":        StateSoftDeleted,
			"deleted_at_s": now,
			"updated_at_s": now,
		})
	if result.Error != nil {
		s.logError(opSoftDelete, "update_failed", result.Error,
			zap.String("owner_id", ownerID.String()),
			zap.String("priority_id", id.String()))
		return Priority{}, newServiceError(opSoftDelete, "update_failed", result.Error)
	}

	record, err := s.fetch(ctx, id, ownerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Priority{}, newServiceError(opSoftDelete, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opSoftDelete, "select_failed", err,
			zap.String("owner_id", ownerID.String()),
			zap.String("priority_id", id.String()))
		return Priority{}, newServiceError(opSoftDelete, "select_failed", err)
	}
	return record, nil
}

// Restore moves a soft-deleted priority back to active and clears the
// deletion timestamp. Restoring a record that was already purged reports
// ErrNotRestorable. Restoring an active record is a no-op.
func (s *Service) Restore(ctx context.Context, id PriorityID, ownerID OwnerID) (Priority, error) {
	now := s.clock().UTC().Unix()
	result := s.db.WithContext(ctx).Model(&Priority{}).
		Where("id = ? AND owner_id = ? AND state = ?", id.String(), ownerID.String(), StateSoftDeleted).
		Updates(map[string]interface{}{
			"state":        StateActive,
			"deleted_at_s": nil,
			"updated_at_s": now,
		})
	if result.Error != nil {
		s.logError(opRestore, "update_failed", result.Error,
			zap.String("owner_id", ownerID.String()),
			zap.String("priority_id", id.String()))
		return Priority{}, newServiceError(opRestore, "update_failed", result.Error)
	}

	record, err := s.fetch(ctx, id, ownerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Priority{}, newServiceError(opRestore, "not_restorable", ErrNotRestorable)
	}
	if err != nil {
		s.logError(opRestore, "select_failed", err,
			zap.String("owner_id", ownerID.String()),
			zap.String("priority_id", id.String()))
		return Priority{}, newServiceError(opRestore, "select_failed", err)
	}
	return record, nil
}

// PermanentDelete removes a soft-deleted priority immediately. Records must
// pass through the soft-deleted state first; deleting an active record fails
// with ErrNotSoftDeleted.
func (s *Service) PermanentDelete(ctx context.Context, id PriorityID, ownerID OwnerID) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ? AND state = ?", id.String(), ownerID.String(), StateSoftDeleted).
		Delete(&Priority{})
	if result.Error != nil {
		s.logError(opPermanentDelete, "delete_failed", result.Error,
			zap.String("owner_id", ownerID.String()),
			zap.String("priority_id", id.String()))
		return newServiceError(opPermanentDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	_, err := s.fetch(ctx, id, ownerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opPermanentDelete, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(opPermanentDelete, "select_failed", err,
			zap.String("owner_id", ownerID.String()),
			zap.String("priority_id", id.String()))
		return newServiceError(opPermanentDelete, "select_failed", err)
	}
	return newServiceError(opPermanentDelete, "not_soft_deleted", ErrNotSoftDeleted)
}

// ReplaceResult reports the outcome of a recommendation batch replace.
type ReplaceResult struct {
	Inserted []Priority
	Dropped  int
	Removed  int64
}

// ReplaceAIBatch atomically swaps the owner's recommendation priorities for a
// freshly validated batch. The previous batch is hard-deleted: recommendation
// records are machine-generated and reproducible, so they skip the grace
// window. Candidates failing validation are dropped individually. When a
// non-empty batch validates down to nothing, the previous batch is still
// removed and ErrNoCandidates reports the emptied list. An explicitly empty
// batch clears the owner's recommendations without error.
func (s *Service) ReplaceAIBatch(ctx context.Context, ownerID OwnerID, candidates []Candidate) (ReplaceResult, error) {
	accepted := make([]validatedCandidate, 0, len(candidates))
	seenOrigins := make(map[string]bool, len(candidates))
	dropped := 0
	for _, candidate := range candidates {
		validated, err := validateCandidate(candidate)
		if err != nil {
			dropped++
			s.logger.Warn("recommendation candidate dropped",
				zap.String("operation", opReplaceAIBatch),
				zap.String("owner_id", ownerID.String()),
				zap.Error(err))
			continue
		}
		if validated.originRef != "" {
			if seenOrigins[validated.originRef] {
				dropped++
				continue
			}
			seenOrigins[validated.originRef] = true
		}
		accepted = append(accepted, validated)
	}

	now := s.clock().UTC().Unix()
	inserts := make([]Priority, 0, len(accepted))
	for rank, validated := range accepted {
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opReplaceAIBatch, "id_generation_failed", err, zap.String("owner_id", ownerID.String()))
			return ReplaceResult{}, newServiceError(opReplaceAIBatch, "id_generation_failed", err)
		}
		order := rank + 1
		inserts = append(inserts, Priority{
			ID:               id,
			OwnerID:          ownerID.String(),
			Title:            validated.title,
			Description:      validated.description,
			Source:           SourceAIRecommended,
			OriginType:       string(validated.originType),
			OriginRef:        validated.originRef,
			Score:            validated.score,
			ManualOrder:      &order,
			State:            StateActive,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		})
	}

	result := ReplaceResult{Dropped: dropped}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deletion := tx.
			Where("owner_id = ? AND source = ?", ownerID.String(), SourceAIRecommended).
			Delete(&Priority{})
		if deletion.Error != nil {
			return newServiceError(opReplaceAIBatch, "delete_failed", deletion.Error)
		}
		result.Removed = deletion.RowsAffected

		if len(inserts) == 0 {
			return nil
		}
		if err := tx.Create(&inserts).Error; err != nil {
			return newServiceError(opReplaceAIBatch, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opReplaceAIBatch, "transaction_failed", txErr, zap.String("owner_id", ownerID.String()))
		return ReplaceResult{}, txErr
	}

	result.Inserted = inserts
	if len(candidates) > 0 && len(accepted) == 0 {
		return result, newServiceError(opReplaceAIBatch, "no_candidates", ErrNoCandidates)
	}
	return result, nil
}

// FireEntry describes one fires-tagged goal or task offered for sync.
type FireEntry struct {
	OriginType  OriginType
	OriginRef   string
	Title       string
	Description string
	Score       int
}

// SyncResult reports the outcome of a fires sync.
type SyncResult struct {
	Created int
	Updated int
	Skipped int
}

// SyncFires upserts fires-sourced priorities keyed by origin ref. Existing
// active records get refreshed content; soft-deleted records are left alone
// so a sync never resurrects something the user removed. Nothing is deleted.
func (s *Service) SyncFires(ctx context.Context, ownerID OwnerID, entries []FireEntry) (SyncResult, error) {
	result := SyncResult{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range entries {
			originRef := strings.TrimSpace(entry.OriginRef)
			title := strings.TrimSpace(entry.Title)
			if originRef == "" || title == "" {
				result.Skipped++
				continue
			}
			if len(title) > maxTitleLength {
				title = title[:maxTitleLength]
			}

			var existing Priority
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("owner_id = ? AND source = ? AND origin_ref = ?",
					ownerID.String(), SourceFiresAuto, originRef).
				Take(&existing).Error
			now := s.clock().UTC().Unix()

			if errors.Is(err, gorm.ErrRecordNotFound) {
				id, idErr := s.idProvider.NewID()
				if idErr != nil {
					return newServiceError(opSyncFires, "id_generation_failed", idErr)
				}
				record := Priority{
					ID:               id,
					OwnerID:          ownerID.String(),
					Title:            title,
					Description:      strings.TrimSpace(entry.Description),
					Source:           SourceFiresAuto,
					OriginType:       string(entry.OriginType),
					OriginRef:        originRef,
					Score:            ClampScore(entry.Score),
					State:            StateActive,
					CreatedAtSeconds: now,
					UpdatedAtSeconds: now,
				}
				if err := tx.Create(&record).Error; err != nil {
					return newServiceError(opSyncFires, "insert_failed", err)
				}
				result.Created++
				continue
			}
			if err != nil {
				return newServiceError(opSyncFires, "select_failed", err)
			}

			if existing.State != StateActive {
				result.Skipped++
				continue
			}
			updates := map[string]interface{}{
				"title":        title,
				"description":  strings.TrimSpace(entry.Description),
				"score":        ClampScore(entry.Score),
				"updated_at_s": now,
			}
			if err := tx.Model(&Priority{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
				return newServiceError(opSyncFires, "update_failed", err)
			}
			result.Updated++
		}
		return nil
	})
	if txErr != nil {
		s.logError(opSyncFires, "transaction_failed", txErr, zap.String("owner_id", ownerID.String()))
		return SyncResult{}, txErr
	}
	return result, nil
}

// PurgeExpired permanently removes every priority soft-deleted at or before
// the cutoff. Eligibility is part of the delete condition, so a restore that
// commits first turns the purge into a no-op for that record.
func (s *Service) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("state = ? AND deleted_at_s <= ?", StateSoftDeleted, cutoff.UTC().Unix()).
		Delete(&Priority{})
	if result.Error != nil {
		s.logError(opPurgeExpired, "delete_failed", result.Error)
		return 0, newServiceError(opPurgeExpired, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) fetch(ctx context.Context, id PriorityID, ownerID OwnerID) (Priority, error) {
	var record Priority
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id.String(), ownerID.String()).
		Take(&record).Error
	return record, err
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("priorities service error", attrs...)
}
