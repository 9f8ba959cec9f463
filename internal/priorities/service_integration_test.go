package priorities

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateClampsScoreOnWrite(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	low, err := service.Create(context.Background(), ownerID, CreateInput{Title: "negative", Score: -5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if low.Score != 0 {
		t.Fatalf("expected score -5 to store as 0, got %d", low.Score)
	}

	high, err := service.Create(context.Background(), ownerID, CreateInput{Title: "overflow", Score: 140})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if high.Score != 100 {
		t.Fatalf("expected score 140 to store as 100, got %d", high.Score)
	}
}

func TestListActiveRanksAcrossSources(t *testing.T) {
	service, db, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	seedPriority(t, db, Priority{ID: "p-low", OwnerID: "owner-1", Title: "low", Source: SourceManual, Score: 70})
	seedPriority(t, db, Priority{ID: "p-second", OwnerID: "owner-1", Title: "second", Source: SourceAIRecommended, Score: 90, ManualOrder: intPtr(2)})
	seedPriority(t, db, Priority{ID: "p-first", OwnerID: "owner-1", Title: "first", Source: SourceFiresAuto, Score: 90, ManualOrder: intPtr(1)})
	seedPriority(t, db, Priority{ID: "p-hidden", OwnerID: "owner-1", Title: "hidden", Source: SourceManual, Score: 99, State: StateSoftDeleted})
	seedPriority(t, db, Priority{ID: "p-other", OwnerID: "owner-2", Title: "other owner", Source: SourceManual, Score: 95})

	records, err := service.ListActive(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("expected 3 active priorities, got %d", len(records))
	}
	expected := []string{"p-first", "p-second", "p-low"}
	for index, id := range expected {
		if records[index].ID != id {
			t.Fatalf("position %d: expected %s, got %s", index, id, records[index].ID)
		}
	}
}

func TestListActiveClampsScoresAtReadTime(t *testing.T) {
	service, db, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	// Bypasses the service write path on purpose.
	seedPriority(t, db, Priority{ID: "p-dirty", OwnerID: "owner-1", Title: "dirty", Source: SourceManual, Score: 250})

	records, err := service.ListActive(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records[0].Score != 100 {
		t.Fatalf("expected read-time clamp to 100, got %d", records[0].Score)
	}
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	service, _, nowSeconds := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	created, err := service.Create(context.Background(), ownerID, CreateInput{Title: "task"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	priorityID := mustPriorityID(t, created.ID)

	first, err := service.SoftDelete(context.Background(), priorityID, ownerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.State != StateSoftDeleted {
		t.Fatalf("expected soft_deleted state, got %s", first.State)
	}
	if first.DeletedAtSeconds == nil {
		t.Fatalf("expected deleted_at to be set")
	}

	*nowSeconds += 600
	second, err := service.SoftDelete(context.Background(), priorityID, ownerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.DeletedAtSeconds == nil || *second.DeletedAtSeconds != *first.DeletedAtSeconds {
		t.Fatalf("repeated soft delete must not reset deleted_at: first %v, second %v",
			*first.DeletedAtSeconds, second.DeletedAtSeconds)
	}
}

func TestSoftDeleteUnknownOrForeignRecordReportsNotFound(t *testing.T) {
	service, db, _ := newTestService(t, nil)

	seedPriority(t, db, Priority{ID: "p-1", OwnerID: "owner-2", Title: "foreign", Source: SourceManual, Score: 50})

	if _, err := service.SoftDelete(context.Background(), mustPriorityID(t, "missing"), mustOwnerID(t, "owner-1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
	if _, err := service.SoftDelete(context.Background(), mustPriorityID(t, "p-1"), mustOwnerID(t, "owner-1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign record, got %v", err)
	}

	var untouched Priority
	if err := db.Where("id = ?", "p-1").Take(&untouched).Error; err != nil {
		t.Fatalf("failed to reload foreign record: %v", err)
	}
	if untouched.State != StateActive {
		t.Fatalf("foreign record must not be mutated, got state %s", untouched.State)
	}
}

func TestRestoreClearsDeletionTimestamp(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	created, err := service.Create(context.Background(), ownerID, CreateInput{Title: "task"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	priorityID := mustPriorityID(t, created.ID)

	if _, err := service.SoftDelete(context.Background(), priorityID, ownerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	restored, err := service.Restore(context.Background(), priorityID, ownerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restored.State != StateActive {
		t.Fatalf("expected active state, got %s", restored.State)
	}
	if restored.DeletedAtSeconds != nil {
		t.Fatalf("expected deleted_at cleared, got %v", *restored.DeletedAtSeconds)
	}
}

func TestRestoreAfterPurgeReportsNotRestorable(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	created, err := service.Create(context.Background(), ownerID, CreateInput{Title: "task"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	priorityID := mustPriorityID(t, created.ID)

	if _, err := service.SoftDelete(context.Background(), priorityID, ownerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.PermanentDelete(context.Background(), priorityID, ownerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := service.Restore(context.Background(), priorityID, ownerID); !errors.Is(err, ErrNotRestorable) {
		t.Fatalf("expected ErrNotRestorable after purge, got %v", err)
	}
}

func TestPermanentDeleteRequiresSoftDeletedState(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	created, err := service.Create(context.Background(), ownerID, CreateInput{Title: "task"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	priorityID := mustPriorityID(t, created.ID)

	if err := service.PermanentDelete(context.Background(), priorityID, ownerID); !errors.Is(err, ErrNotSoftDeleted) {
		t.Fatalf("expected ErrNotSoftDeleted for active record, got %v", err)
	}

	if _, err := service.SoftDelete(context.Background(), priorityID, ownerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.PermanentDelete(context.Background(), priorityID, ownerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.PermanentDelete(context.Background(), priorityID, ownerID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestReplaceAIBatchSwapsGenerationsAtomically(t *testing.T) {
	service, db, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	seedPriority(t, db, Priority{ID: "old-1", OwnerID: "owner-1", Title: "stale", Source: SourceAIRecommended, Score: 60})
	seedPriority(t, db, Priority{ID: "old-2", OwnerID: "owner-1", Title: "stale", Source: SourceAIRecommended, Score: 61})
	seedPriority(t, db, Priority{ID: "manual-1", OwnerID: "owner-1", Title: "mine", Source: SourceManual, Score: 50})
	seedPriority(t, db, Priority{ID: "fire-1", OwnerID: "owner-1", Title: "fire", Source: SourceFiresAuto, OriginRef: "goal-9", Score: 90})

	result, err := service.ReplaceAIBatch(context.Background(), ownerID, []Candidate{
		{Title: "Focus block", Description: "Two hours of deep work", Score: intPtr(95), OriginType: "task", OriginRef: "task-1"},
		{Title: "Review budget", Description: "Check spending", Score: intPtr(70), OriginType: "project", OriginRef: "goal-2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Removed != 2 {
		t.Fatalf("expected 2 removed records, got %d", result.Removed)
	}
	if len(result.Inserted) != 2 {
		t.Fatalf("expected 2 inserted records, got %d", len(result.Inserted))
	}
	if result.Inserted[0].ManualOrder == nil || *result.Inserted[0].ManualOrder != 1 {
		t.Fatalf("expected manual order 1 for first candidate")
	}
	if result.Inserted[1].ManualOrder == nil || *result.Inserted[1].ManualOrder != 2 {
		t.Fatalf("expected manual order 2 for second candidate")
	}

	var aiRecords []Priority
	if err := db.Where("owner_id = ? AND source = ?", "owner-1", SourceAIRecommended).Find(&aiRecords).Error; err != nil {
		t.Fatalf("failed to query batch: %v", err)
	}
	if len(aiRecords) != 2 {
		t.Fatalf("expected exactly the new generation, got %d records", len(aiRecords))
	}
	for _, record := range aiRecords {
		if record.ID == "old-1" || record.ID == "old-2" {
			t.Fatalf("stale record %s survived the replace", record.ID)
		}
	}

	var others []Priority
	if err := db.Where("owner_id = ? AND source <> ?", "owner-1", SourceAIRecommended).Find(&others).Error; err != nil {
		t.Fatalf("failed to query other sources: %v", err)
	}
	if len(others) != 2 {
		t.Fatalf("manual and fires priorities must survive a replace, got %d", len(others))
	}
}

func TestReplaceAIBatchDropsInvalidCandidatesIndividually(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	result, err := service.ReplaceAIBatch(context.Background(), ownerID, []Candidate{
		{Title: "", Description: "no title", Score: intPtr(50), OriginType: "manual"},
		{Title: "Valid", Description: "kept", Score: intPtr(120), OriginType: "task"},
		{Title: "No score", Description: "dropped", OriginType: "manual"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Dropped != 2 {
		t.Fatalf("expected 2 dropped candidates, got %d", result.Dropped)
	}
	if len(result.Inserted) != 1 {
		t.Fatalf("expected 1 inserted candidate, got %d", len(result.Inserted))
	}
	if result.Inserted[0].Score != 100 {
		t.Fatalf("expected clamped score 100, got %d", result.Inserted[0].Score)
	}
}

func TestReplaceAIBatchDeduplicatesByOriginRef(t *testing.T) {
	service, db, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	result, err := service.ReplaceAIBatch(context.Background(), ownerID, []Candidate{
		{Title: "First", Description: "kept", Score: intPtr(90), OriginType: "task", OriginRef: "task-1"},
		{Title: "Duplicate", Description: "dropped", Score: intPtr(80), OriginType: "task", OriginRef: "task-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Inserted) != 1 {
		t.Fatalf("expected duplicate origin ref to be dropped, got %d inserts", len(result.Inserted))
	}

	var count int64
	if err := db.Model(&Priority{}).Where("owner_id = ? AND origin_ref = ?", "owner-1", "task-1").Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one record for origin ref, got %d", count)
	}
}

func TestReplaceAIBatchWithOnlyInvalidCandidatesEmptiesBatch(t *testing.T) {
	service, db, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	seedPriority(t, db, Priority{ID: "old-1", OwnerID: "owner-1", Title: "stale", Source: SourceAIRecommended, Score: 60})

	result, err := service.ReplaceAIBatch(context.Background(), ownerID, []Candidate{
		{Title: "", Description: "invalid", Score: intPtr(50), OriginType: "manual"},
	})
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected the stale batch to be removed, got %d", result.Removed)
	}

	var count int64
	if err := db.Model(&Priority{}).Where("owner_id = ? AND source = ?", "owner-1", SourceAIRecommended).Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 0 {
		t.Fatalf("stale batch must not survive a failed regeneration, got %d records", count)
	}
}

func TestReplaceAIBatchWithEmptyInputClearsWithoutError(t *testing.T) {
	service, db, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	seedPriority(t, db, Priority{ID: "old-1", OwnerID: "owner-1", Title: "stale", Source: SourceAIRecommended, Score: 60})

	result, err := service.ReplaceAIBatch(context.Background(), ownerID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected 1 removed record, got %d", result.Removed)
	}

	var count int64
	if err := db.Model(&Priority{}).Where("owner_id = ? AND source = ?", "owner-1", SourceAIRecommended).Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected cleared batch, got %d records", count)
	}
}

func TestSyncFiresUpsertsByOriginRef(t *testing.T) {
	service, db, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	entries := []FireEntry{
		{OriginType: OriginTypeProject, OriginRef: "goal-1", Title: "Fix the outage", Score: 95},
		{OriginType: OriginTypeTask, OriginRef: "task-2", Title: "Call the bank", Score: 140},
	}

	first, err := service.SyncFires(context.Background(), ownerID, entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Created != 2 || first.Updated != 0 {
		t.Fatalf("expected 2 creates on first sync, got %+v", first)
	}

	var clamped Priority
	if err := db.Where("origin_ref = ?", "task-2").Take(&clamped).Error; err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if clamped.Score != 100 {
		t.Fatalf("expected clamped score 100, got %d", clamped.Score)
	}

	entries[0].Title = "Fix the outage (escalated)"
	entries[0].Score = 99
	second, err := service.SyncFires(context.Background(), ownerID, entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Created != 0 || second.Updated != 2 {
		t.Fatalf("expected idempotent updates on re-sync, got %+v", second)
	}

	var count int64
	if err := db.Model(&Priority{}).Where("owner_id = ? AND source = ?", "owner-1", SourceFiresAuto).Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 2 {
		t.Fatalf("re-sync must not create duplicates, got %d records", count)
	}

	var updated Priority
	if err := db.Where("origin_ref = ?", "goal-1").Take(&updated).Error; err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if updated.Title != "Fix the outage (escalated)" || updated.Score != 99 {
		t.Fatalf("expected refreshed content, got %q score %d", updated.Title, updated.Score)
	}
}

func TestSyncFiresDoesNotReviveSoftDeletedRecords(t *testing.T) {
	service, db, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	deletedAt := testNowSeconds - 60
	seedPriority(t, db, Priority{
		ID: "fire-1", OwnerID: "owner-1", Title: "dismissed", Source: SourceFiresAuto,
		OriginRef: "goal-1", Score: 90, State: StateSoftDeleted, DeletedAtSeconds: &deletedAt,
	})

	result, err := service.SyncFires(context.Background(), ownerID, []FireEntry{
		{OriginType: OriginTypeProject, OriginRef: "goal-1", Title: "dismissed", Score: 90},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != 1 {
		t.Fatalf("expected the dismissed fire to be skipped, got %+v", result)
	}

	var stored Priority
	if err := db.Where("id = ?", "fire-1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if stored.State != StateSoftDeleted {
		t.Fatalf("sync must not revive soft-deleted records, got state %s", stored.State)
	}
}

func TestPurgeExpiredHonorsCutoffBoundary(t *testing.T) {
	service, db, _ := newTestService(t, nil)

	now := time.Unix(testNowSeconds, 0).UTC()
	justInside := now.Add(-23*time.Hour - 59*time.Minute).Unix()
	justOutside := now.Add(-24*time.Hour - 1*time.Minute).Unix()

	seedPriority(t, db, Priority{
		ID: "fresh", OwnerID: "owner-1", Title: "fresh", Source: SourceManual,
		State: StateSoftDeleted, DeletedAtSeconds: &justInside,
	})
	seedPriority(t, db, Priority{
		ID: "expired", OwnerID: "owner-1", Title: "expired", Source: SourceManual,
		State: StateSoftDeleted, DeletedAtSeconds: &justOutside,
	})
	seedPriority(t, db, Priority{
		ID: "living", OwnerID: "owner-1", Title: "living", Source: SourceManual,
	})

	purged, err := service.PurgeExpired(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected exactly one purge, got %d", purged)
	}

	var remaining []Priority
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 surviving records, got %d", len(remaining))
	}
	for _, record := range remaining {
		if record.ID == "expired" {
			t.Fatalf("expired record survived the purge")
		}
	}

	// Re-running the sweep is a no-op.
	purged, err = service.PurgeExpired(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if purged != 0 {
		t.Fatalf("expected idempotent re-sweep, got %d purges", purged)
	}
}

func TestPurgeExpiredSkipsRestoredRecords(t *testing.T) {
	service, db, _ := newTestService(t, nil)
	ownerID := mustOwnerID(t, "owner-1")

	now := time.Unix(testNowSeconds, 0).UTC()
	longAgo := now.Add(-30 * time.Hour).Unix()
	seedPriority(t, db, Priority{
		ID: "p-1", OwnerID: "owner-1", Title: "rescued", Source: SourceManual,
		State: StateSoftDeleted, DeletedAtSeconds: &longAgo,
	})

	if _, err := service.Restore(context.Background(), mustPriorityID(t, "p-1"), ownerID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	purged, err := service.PurgeExpired(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if purged != 0 {
		t.Fatalf("restored record must not be purged, got %d", purged)
	}

	var stored Priority
	if err := db.Where("id = ?", "p-1").Take(&stored).Error; err != nil {
		t.Fatalf("restored record disappeared: %v", err)
	}
	if stored.State != StateActive {
		t.Fatalf("expected active state after restore, got %s", stored.State)
	}
}
