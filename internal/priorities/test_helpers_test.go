package priorities

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testNowSeconds int64 = 1700000600

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

// sequentialIDGenerator never runs out; useful when a test does not care
// about the exact identifiers.
type sequentialIDGenerator struct {
	next int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("priority-%03d", g.next), nil
}

func mustOwnerID(t *testing.T, value string) OwnerID {
	t.Helper()
	id, err := NewOwnerID(value)
	if err != nil {
		t.Fatalf("unexpected owner id error: %v", err)
	}
	return id
}

func mustPriorityID(t *testing.T, value string) PriorityID {
	t.Helper()
	id, err := NewPriorityID(value)
	if err != nil {
		t.Fatalf("unexpected priority id error: %v", err)
	}
	return id
}

func intPtr(value int) *int {
	return &value
}

func newTestService(t *testing.T, provider IDProvider) (*Service, *gorm.DB, *int64) {
	t.Helper()

	dsn := fmt.Sprintf("file:daybreak_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Priority{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	if provider == nil {
		provider = &sequentialIDGenerator{}
	}

	nowSeconds := testNowSeconds
	clock := func() time.Time { return time.Unix(nowSeconds, 0).UTC() }

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: provider,
	})
	if err != nil {
		t.Fatalf("failed to construct priorities service: %v", err)
	}

	return service, db, &nowSeconds
}

func seedPriority(t *testing.T, db *gorm.DB, record Priority) Priority {
	t.Helper()
	if record.State == "" {
		record.State = StateActive
	}
	if record.CreatedAtSeconds == 0 {
		record.CreatedAtSeconds = testNowSeconds - 3600
	}
	if record.UpdatedAtSeconds == 0 {
		record.UpdatedAtSeconds = record.CreatedAtSeconds
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("failed to seed priority: %v", err)
	}
	return record
}
