package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DaybreakLabs/daybreak/backend/internal/priorities"
	"go.uber.org/zap"
)

const (
	defaultRegenerateTimeout = 45 * time.Second
	maxCandidatesPerBatch    = 5
)

var (
	errMissingCompletions = errors.New("completion client dependency required")
	errMissingPriorities  = errors.New("priorities service dependency required")
)

// ServiceConfig describes the recommender's dependencies.
type ServiceConfig struct {
	Completions CompletionClient
	Priorities  *priorities.Service
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Service regenerates the owner's recommendation priorities from a one-shot
// completion call. The upstream call happens entirely before the batch
// replace, so an upstream failure leaves the previous batch untouched.
type Service struct {
	completions CompletionClient
	priorities  *priorities.Service
	timeout     time.Duration
	logger      *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Completions == nil {
		return nil, errMissingCompletions
	}
	if cfg.Priorities == nil {
		return nil, errMissingPriorities
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRegenerateTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		completions: cfg.Completions,
		priorities:  cfg.Priorities,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

type candidatePayload struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	PriorityScore *float64 `json:"priority_score"`
	SourceType    string   `json:"source_type"`
	SourceID      string   `json:"source_id"`
	GoalID        string   `json:"goal_id"`
}

// Regenerate calls the completion service with the owner's summary and
// replaces the recommendation batch with the returned candidates.
func (s *Service) Regenerate(ctx context.Context, ownerID priorities.OwnerID, summary Summary) (priorities.ReplaceResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	completion, err := s.completions.Complete(callCtx, systemPrompt, buildUserPrompt(summary))
	if err != nil {
		s.logger.Warn("recommendation completion failed",
			zap.String("owner_id", ownerID.String()),
			zap.Error(err))
		return priorities.ReplaceResult{}, err
	}

	payloads, err := parseCandidates(completion)
	if err != nil {
		s.logger.Warn("recommendation payload rejected",
			zap.String("owner_id", ownerID.String()),
			zap.Error(err))
		return priorities.ReplaceResult{}, err
	}

	if len(payloads) > maxCandidatesPerBatch {
		payloads = payloads[:maxCandidatesPerBatch]
	}

	candidates := make([]priorities.Candidate, 0, len(payloads))
	for _, payload := range payloads {
		var score *int
		if payload.PriorityScore != nil {
			rounded := int(*payload.PriorityScore)
			score = &rounded
		}
		originRef := strings.TrimSpace(payload.SourceID)
		if originRef == "" {
			originRef = strings.TrimSpace(payload.GoalID)
		}
		candidates = append(candidates, priorities.Candidate{
			Title:       payload.Title,
			Description: payload.Description,
			Score:       score,
			OriginType:  payload.SourceType,
			OriginRef:   originRef,
		})
	}

	result, err := s.priorities.ReplaceAIBatch(ctx, ownerID, candidates)
	if err != nil {
		return result, err
	}

	s.logger.Info("recommendation batch replaced",
		zap.String("owner_id", ownerID.String()),
		zap.Int("inserted", len(result.Inserted)),
		zap.Int("dropped", result.Dropped),
		zap.Int64("removed", result.Removed))
	return result, nil
}

// parseCandidates decodes the completion content into candidate payloads.
// Models occasionally wrap JSON in a markdown fence; strip it before decoding.
func parseCandidates(content string) ([]candidatePayload, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	var payloads []candidatePayload
	if err := json.Unmarshal([]byte(trimmed), &payloads); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamMalformed, err)
	}
	return payloads, nil
}
