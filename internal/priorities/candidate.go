package priorities

import (
	"errors"
	"fmt"
	"strings"
)

// OriginType is the closed set of entities a recommendation may point back to.
type OriginType string

const (
	// OriginTypeManual marks a candidate with no backing entity.
	OriginTypeManual OriginType = "manual"
	// OriginTypeProject marks a candidate derived from a project or goal.
	OriginTypeProject OriginType = "project"
	// OriginTypeTask marks a candidate derived from a task.
	OriginTypeTask OriginType = "task"
)

var (
	// ErrInvalidOriginType indicates a candidate source type outside the accepted set.
	ErrInvalidOriginType = errors.New("priorities: invalid origin type")
	// ErrCandidateInvalid indicates a recommendation candidate missing required fields.
	ErrCandidateInvalid = errors.New("priorities: invalid candidate")
)

// ParseOriginType maps raw completion-service source types onto the closed set.
func ParseOriginType(rawInput string) (OriginType, error) {
	switch OriginType(strings.ToLower(strings.TrimSpace(rawInput))) {
	case OriginTypeManual:
		return OriginTypeManual, nil
	case OriginTypeProject:
		return OriginTypeProject, nil
	case OriginTypeTask:
		return OriginTypeTask, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOriginType, rawInput)
	}
}

// Candidate is one recommendation produced by the completion service. Score is
// a pointer so a missing numeric score is distinguishable from zero.
type Candidate struct {
	Title       string
	Description string
	Score       *int
	OriginType  string
	OriginRef   string
}

// validated candidates carry clamped scores and a vetted origin type. The
// origin ref stays a weak reference: a candidate pointing at an entity that
// was completed or deleted in the meantime is still accepted and shown.
type validatedCandidate struct {
	title       string
	description string
	score       int
	originType  OriginType
	originRef   string
}

func validateCandidate(candidate Candidate) (validatedCandidate, error) {
	title := strings.TrimSpace(candidate.Title)
	if title == "" {
		return validatedCandidate{}, fmt.Errorf("%w: missing title", ErrCandidateInvalid)
	}
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}
	description := strings.TrimSpace(candidate.Description)
	if description == "" {
		return validatedCandidate{}, fmt.Errorf("%w: missing description", ErrCandidateInvalid)
	}
	if candidate.Score == nil {
		return validatedCandidate{}, fmt.Errorf("%w: missing score", ErrCandidateInvalid)
	}
	originType, err := ParseOriginType(candidate.OriginType)
	if err != nil {
		return validatedCandidate{}, fmt.Errorf("%w: %v", ErrCandidateInvalid, err)
	}
	return validatedCandidate{
		title:       title,
		description: description,
		score:       ClampScore(*candidate.Score),
		originType:  originType,
		originRef:   strings.TrimSpace(candidate.OriginRef),
	}, nil
}
