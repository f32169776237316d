package visibility

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/repository"
	"github.com/m-mizutani/sightline/pkg/utils/logging"
)

// ErrInvalidPeriod is wrapped when a period start is after its end
var ErrInvalidPeriod = goerr.New("invalid period")

type scoreConfig struct {
	provider model.ProviderID
}

// ScoreOption configures ComputeScores
type ScoreOption func(*scoreConfig)

// WithProvider restricts the computation to answers of one provider and
// stamps the provider on the rows. Without it scores are cross-provider.
func WithProvider(id model.ProviderID) ScoreOption {
	return func(c *scoreConfig) {
		c.provider = id
	}
}

// ComputeScores inserts one VisibilityScore per brand of the workspace that
// has mention records in [periodStart, periodEnd], and returns the inserted
// rows. Brands without records get no row. Every call appends new rows.
func (u *UseCase) ComputeScores(ctx context.Context, workspaceID model.WorkspaceID, periodStart, periodEnd time.Time, opts ...ScoreOption) ([]*model.VisibilityScore, error) {
	scores, _, err := u.computeScores(ctx, workspaceID, periodStart, periodEnd, opts...)
	return scores, err
}

func (u *UseCase) computeScores(ctx context.Context, workspaceID model.WorkspaceID, periodStart, periodEnd time.Time, opts ...ScoreOption) ([]*model.VisibilityScore, map[model.BrandID]*model.Brand, error) {
	var cfg scoreConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if periodStart.After(periodEnd) {
		return nil, nil, goerr.Wrap(ErrInvalidPeriod, "period start is after period end",
			goerr.V("period_start", periodStart),
			goerr.V("period_end", periodEnd))
	}
	if cfg.provider != "" {
		if err := cfg.provider.Validate(); err != nil {
			return nil, nil, err
		}
	}

	brands, err := u.repo.ListBrands(ctx, workspaceID)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to list brands",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", workspaceID))
	}

	computedAt := u.now()
	byID := make(map[model.BrandID]*model.Brand, len(brands))
	var scores []*model.VisibilityScore
	for _, brand := range brands {
		byID[brand.ID] = brand

		records, err := u.repo.ListMentions(ctx, &repository.ListMentionsInput{
			BrandID:  brand.ID,
			Start:    periodStart,
			End:      periodEnd,
			Provider: cfg.provider,
		})
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to list mentions",
				goerr.T(model.ErrTagPersistence),
				goerr.V("brand_id", brand.ID))
		}

		score := aggregate(records)
		if score == nil {
			continue
		}
		score.ID = model.NewVisibilityScoreID()
		score.WorkspaceID = workspaceID
		score.BrandID = brand.ID
		score.Provider = cfg.provider
		score.PeriodStart = periodStart
		score.PeriodEnd = periodEnd
		score.ComputedAt = computedAt

		if err := u.repo.PutVisibilityScore(ctx, score); err != nil {
			return nil, nil, goerr.Wrap(err, "failed to save visibility score",
				goerr.T(model.ErrTagPersistence),
				goerr.V("brand_id", brand.ID))
		}
		scores = append(scores, score)
	}

	logging.From(ctx).Info("computed visibility scores",
		"workspace_id", workspaceID,
		"provider", cfg.provider,
		"brands", len(brands),
		"scores", len(scores))

	return scores, byID, nil
}

// aggregate computes the metrics over records. It returns nil when there is
// no record.
func aggregate(records []*repository.MentionRecord) *model.VisibilityScore {
	total := len(records)
	if total == 0 {
		return nil
	}

	var mentioned, recommended, positive, negative, positioned, positionSum int
	for _, r := range records {
		m := r.Mention
		if m.Recommended {
			recommended++
		}
		if !m.Mentioned {
			continue
		}
		mentioned++
		switch m.Sentiment {
		case model.SentimentPositive:
			positive++
		case model.SentimentNegative:
			negative++
		}
		if m.Position != nil {
			positioned++
			positionSum += *m.Position
		}
	}

	score := &model.VisibilityScore{
		MentionRate:        float64(mentioned) / float64(total),
		RecommendationRate: float64(recommended) / float64(total),
	}
	if mentioned > 0 {
		score.SentimentScore = float64(positive-negative) / float64(mentioned)
	}
	if positioned > 0 {
		avg := float64(positionSum) / float64(positioned)
		score.AvgPosition = &avg
	}
	return score
}
