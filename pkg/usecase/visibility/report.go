package visibility

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
)

// ScoreView is a score row joined with its brand
type ScoreView struct {
	*model.VisibilityScore
	BrandName    string
	IsCompetitor bool
}

// ListScores returns the latest score rows of a workspace joined with brand
// names, newest computation first. Rows of unknown brands are skipped. limit
// <= 0 means no limit.
func (u *UseCase) ListScores(ctx context.Context, workspaceID model.WorkspaceID, limit int) ([]*ScoreView, error) {
	brands, err := u.brandIndex(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	scores, err := u.repo.ListScores(ctx, workspaceID, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list scores",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", workspaceID))
	}

	return joinBrands(scores, brands), nil
}

// ScoreViews joins already computed scores with the brands of the workspace
// without reading the score history
func (u *UseCase) ScoreViews(ctx context.Context, workspaceID model.WorkspaceID, scores []*model.VisibilityScore) ([]*ScoreView, error) {
	if len(scores) == 0 {
		return nil, nil
	}
	brands, err := u.brandIndex(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return joinBrands(scores, brands), nil
}

func joinBrands(scores []*model.VisibilityScore, brands map[model.BrandID]*model.Brand) []*ScoreView {
	views := make([]*ScoreView, 0, len(scores))
	for _, s := range scores {
		brand, ok := brands[s.BrandID]
		if !ok {
			continue
		}
		views = append(views, &ScoreView{
			VisibilityScore: s,
			BrandName:       brand.Name,
			IsCompetitor:    brand.IsCompetitor,
		})
	}
	return views
}

// DefaultRecentMentions is the number of mentions RecentMentions returns when
// no limit is given
const DefaultRecentMentions = 50

// MentionView is a stored mention joined with its brand and query result
type MentionView struct {
	BrandName    string           `json:"brand_name"`
	IsCompetitor bool             `json:"is_competitor"`
	Provider     model.ProviderID `json:"provider"`
	ExecutedAt   time.Time        `json:"executed_at"`
	Mentioned    bool             `json:"mentioned"`
	Position     *int             `json:"position"`
	Sentiment    model.Sentiment  `json:"sentiment"`
	Recommended  bool             `json:"recommended"`
	Context      string           `json:"context"`
}

// RecentMentions returns the latest mentions of a workspace, newest answer
// first. limit <= 0 means DefaultRecentMentions. Mentions of unknown brands
// are skipped.
func (u *UseCase) RecentMentions(ctx context.Context, workspaceID model.WorkspaceID, limit int) ([]*MentionView, error) {
	if limit <= 0 {
		limit = DefaultRecentMentions
	}

	brands, err := u.brandIndex(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	records, err := u.repo.ListRecentMentions(ctx, workspaceID, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list recent mentions",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", workspaceID))
	}

	views := make([]*MentionView, 0, len(records))
	for _, r := range records {
		brand, ok := brands[r.Mention.BrandID]
		if !ok {
			continue
		}
		views = append(views, &MentionView{
			BrandName:    brand.Name,
			IsCompetitor: brand.IsCompetitor,
			Provider:     r.Provider,
			ExecutedAt:   r.ExecutedAt,
			Mentioned:    r.Mention.Mentioned,
			Position:     r.Mention.Position,
			Sentiment:    r.Mention.Sentiment,
			Recommended:  r.Mention.Recommended,
			Context:      r.Mention.Context,
		})
	}
	return views, nil
}

// TrendPoint is the mean mention rate of one UTC day
type TrendPoint struct {
	Date string `json:"date"`
	// MentionRate is the mean over own brands, 0 if there is none
	MentionRate float64 `json:"mention_rate"`
	// CompetitorAvg is the mean over competitor brands, 0 if there is none
	CompetitorAvg float64 `json:"competitor_avg"`
}

// Trend groups all score rows of the workspace by the UTC day of their
// period start and returns the points in date order
func (u *UseCase) Trend(ctx context.Context, workspaceID model.WorkspaceID) ([]*TrendPoint, error) {
	views, err := u.ListScores(ctx, workspaceID, 0)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		own, competitor []float64
	}
	buckets := make(map[string]*bucket)
	for _, v := range views {
		date := v.PeriodStart.UTC().Format("2006-01-02")
		b, ok := buckets[date]
		if !ok {
			b = &bucket{}
			buckets[date] = b
		}
		if v.IsCompetitor {
			b.competitor = append(b.competitor, v.MentionRate)
		} else {
			b.own = append(b.own, v.MentionRate)
		}
	}

	points := make([]*TrendPoint, 0, len(buckets))
	for date, b := range buckets {
		points = append(points, &TrendPoint{
			Date:          date,
			MentionRate:   mean(b.own),
			CompetitorAvg: mean(b.competitor),
		})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Date < points[j].Date
	})
	return points, nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func (u *UseCase) brandIndex(ctx context.Context, workspaceID model.WorkspaceID) (map[model.BrandID]*model.Brand, error) {
	brands, err := u.repo.ListBrands(ctx, workspaceID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list brands",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", workspaceID))
	}

	index := make(map[model.BrandID]*model.Brand, len(brands))
	for _, b := range brands {
		index[b.ID] = b
	}
	return index, nil
}
