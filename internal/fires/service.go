package fires

import (
	"context"
	"errors"
	"strings"

	"github.com/DaybreakLabs/daybreak/backend/internal/priorities"
	"go.uber.org/zap"
)

// CategoryTag is the fixed category marking goals and tasks as fires.
const CategoryTag = "fires"

// Urgent entries never rank below this floor regardless of the caller's score.
const minFireScore = 80

var errMissingPriorities = errors.New("priorities service dependency required")

// Entity is one goal or task offered for fires sync by the caller.
type Entity struct {
	ID          string
	Kind        string
	Category    string
	Title       string
	Description string
	Score       int
}

// ServiceConfig describes the fires adapter's dependencies.
type ServiceConfig struct {
	Priorities *priorities.Service
	Logger     *zap.Logger
}

// Service keeps fires-tagged goals and tasks mirrored into the priority list.
// Sync is additive and idempotent: entries upsert by origin ref and the
// adapter never deletes a priority the caller did not ask to remove.
type Service struct {
	priorities *priorities.Service
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Priorities == nil {
		return nil, errMissingPriorities
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{priorities: cfg.Priorities, logger: logger}, nil
}

// Sync filters the offered entities down to the fires category and upserts
// each one as a fires-sourced priority keyed by its origin ref.
func (s *Service) Sync(ctx context.Context, ownerID priorities.OwnerID, entities []Entity) (priorities.SyncResult, error) {
	entries := make([]priorities.FireEntry, 0, len(entities))
	for _, entity := range entities {
		if !strings.EqualFold(strings.TrimSpace(entity.Category), CategoryTag) {
			continue
		}
		entries = append(entries, priorities.FireEntry{
			OriginType:  originTypeForKind(entity.Kind),
			OriginRef:   entity.ID,
			Title:       entity.Title,
			Description: entity.Description,
			Score:       fireScore(entity.Score),
		})
	}

	result, err := s.priorities.SyncFires(ctx, ownerID, entries)
	if err != nil {
		return priorities.SyncResult{}, err
	}

	s.logger.Info("fires sync applied",
		zap.String("owner_id", ownerID.String()),
		zap.Int("offered", len(entities)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func originTypeForKind(kind string) priorities.OriginType {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "task":
		return priorities.OriginTypeTask
	default:
		return priorities.OriginTypeProject
	}
}

func fireScore(score int) int {
	if score < minFireScore {
		return minFireScore
	}
	return priorities.ClampScore(score)
}
