package model

import (
	"time"

	"github.com/google/uuid"
)

type VisibilityScoreID string

// NewVisibilityScoreID generates a new unique VisibilityScoreID
func NewVisibilityScoreID() VisibilityScoreID {
	return VisibilityScoreID(uuid.New().String())
}

// VisibilityScore is a period-scoped aggregate for one brand. Scores are
// append-only: every computation inserts new rows.
type VisibilityScore struct {
	ID          VisibilityScoreID
	WorkspaceID WorkspaceID
	BrandID     BrandID
	// Provider is empty for cross-provider scores
	Provider ProviderID

	MentionRate        float64
	AvgPosition        *float64
	SentimentScore     float64
	RecommendationRate float64

	PeriodStart time.Time
	PeriodEnd   time.Time
	ComputedAt  time.Time
}
