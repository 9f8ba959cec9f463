package priorities

import (
	"errors"
	"fmt"
	"strings"
)

// Source enumerates the producers that may create priority records.
type Source string

const (
	// SourceManual marks priorities entered directly by the user.
	SourceManual Source = "manual"
	// SourceAIRecommended marks priorities produced by a recommendation batch.
	SourceAIRecommended Source = "ai_recommended"
	// SourceFiresAuto marks priorities synced from the fires category.
	SourceFiresAuto Source = "fires_auto"
)

// State enumerates the stored lifecycle states. Purged records are removed
// from the store entirely and therefore have no stored state value.
type State string

const (
	// StateActive is the initial state of every priority.
	StateActive State = "active"
	// StateSoftDeleted marks a priority hidden but recoverable.
	StateSoftDeleted State = "soft_deleted"
)

const (
	maxIdentifierLength = 190
	maxTitleLength      = 500

	minScore = 0
	maxScore = 100
)

var (
	// ErrInvalidPriorityID indicates that a priority identifier is empty or exceeds storage bounds.
	ErrInvalidPriorityID = errors.New("priorities: invalid priority id")
	// ErrInvalidOwnerID indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("priorities: invalid owner id")
	// ErrInvalidTitle indicates that a priority title is empty or exceeds storage bounds.
	ErrInvalidTitle = errors.New("priorities: invalid title")
	// ErrInvalidSource indicates an unknown source value.
	ErrInvalidSource = errors.New("priorities: invalid source")
)

// PriorityID represents a validated priority identifier.
type PriorityID string

// NewPriorityID validates raw input and returns a PriorityID.
func NewPriorityID(rawInput string) (PriorityID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPriorityID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPriorityID, maxIdentifierLength)
	}
	return PriorityID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PriorityID) String() string {
	return string(id)
}

// OwnerID represents a validated owner identifier.
type OwnerID string

// NewOwnerID validates raw input and returns an OwnerID.
func NewOwnerID(rawInput string) (OwnerID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwnerID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwnerID, maxIdentifierLength)
	}
	return OwnerID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OwnerID) String() string {
	return string(id)
}

// ParseSource maps raw input onto the closed source set.
func ParseSource(rawInput string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(rawInput))) {
	case SourceManual:
		return SourceManual, nil
	case SourceAIRecommended:
		return SourceAIRecommended, nil
	case SourceFiresAuto:
		return SourceFiresAuto, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, rawInput)
	}
}

// ClampScore forces a score into the storable [0,100] range.
func ClampScore(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// Priority models the persisted priority record.
type Priority struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index:idx_priorities_owner_state,priority:1;index:idx_priorities_owner_source,priority:1"`
	Title            string `gorm:"column:title;size:500;not null"`
	Description      string `gorm:"column:description;type:text;not null;default:''"`
	Source           Source `gorm:"column:source;size:32;not null;index:idx_priorities_owner_source,priority:2"`
	OriginType       string `gorm:"column:origin_type;size:32;not null;default:''"`
	OriginRef        string `gorm:"column:origin_ref;size:190;not null;default:'';index:idx_priorities_owner_source,priority:3"`
	Score            int    `gorm:"column:score;not null"`
	ManualOrder      *int   `gorm:"column:manual_order"`
	State            State  `gorm:"column:state;size:32;not null;index:idx_priorities_owner_state,priority:2"`
	DeletedAtSeconds *int64 `gorm:"column:deleted_at_s"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Priority) TableName() string {
	return "priorities"
}
