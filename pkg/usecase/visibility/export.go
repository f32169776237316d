package visibility

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/utils/logging"
)

// ScoreRow is the BigQuery row layout of an exported score
type ScoreRow struct {
	ScoreID            string               `bigquery:"score_id"`
	WorkspaceID        string               `bigquery:"workspace_id"`
	BrandID            string               `bigquery:"brand_id"`
	BrandName          string               `bigquery:"brand_name"`
	IsCompetitor       bool                 `bigquery:"is_competitor"`
	Provider           bigquery.NullString  `bigquery:"provider"`
	MentionRate        float64              `bigquery:"mention_rate"`
	AvgPosition        bigquery.NullFloat64 `bigquery:"avg_position"`
	SentimentScore     float64              `bigquery:"sentiment_score"`
	RecommendationRate float64              `bigquery:"recommendation_rate"`
	PeriodStart        time.Time            `bigquery:"period_start"`
	PeriodEnd          time.Time            `bigquery:"period_end"`
	ComputedAt         time.Time            `bigquery:"computed_at"`
}

// Save implements bigquery.ValueSaver. The score ID is the insert ID so that
// exporting the same score again is deduplicated by BigQuery.
func (r *ScoreRow) Save() (map[string]bigquery.Value, string, error) {
	row := map[string]bigquery.Value{
		"score_id":            r.ScoreID,
		"workspace_id":        r.WorkspaceID,
		"brand_id":            r.BrandID,
		"brand_name":          r.BrandName,
		"is_competitor":       r.IsCompetitor,
		"provider":            r.Provider,
		"mention_rate":        r.MentionRate,
		"avg_position":        r.AvgPosition,
		"sentiment_score":     r.SentimentScore,
		"recommendation_rate": r.RecommendationRate,
		"period_start":        r.PeriodStart,
		"period_end":          r.PeriodEnd,
		"computed_at":         r.ComputedAt,
	}
	return row, r.ScoreID, nil
}

func newScoreRow(v *ScoreView) *ScoreRow {
	row := &ScoreRow{
		ScoreID:            string(v.ID),
		WorkspaceID:        string(v.WorkspaceID),
		BrandID:            string(v.BrandID),
		BrandName:          v.BrandName,
		IsCompetitor:       v.IsCompetitor,
		Provider:           bigquery.NullString{StringVal: string(v.Provider), Valid: v.Provider != ""},
		MentionRate:        v.MentionRate,
		SentimentScore:     v.SentimentScore,
		RecommendationRate: v.RecommendationRate,
		PeriodStart:        v.PeriodStart,
		PeriodEnd:          v.PeriodEnd,
		ComputedAt:         v.ComputedAt,
	}
	if v.AvgPosition != nil {
		row.AvgPosition = bigquery.NullFloat64{Float64: *v.AvgPosition, Valid: true}
	}
	return row
}

// ExportScores inserts the latest score rows of the workspace into the
// BigQuery table set by WithBigQuery. The table is created when missing.
func (u *UseCase) ExportScores(ctx context.Context, workspaceID model.WorkspaceID, limit int) (int, error) {
	if u.bq == nil {
		return 0, goerr.New("BigQuery export is not configured")
	}

	views, err := u.ListScores(ctx, workspaceID, limit)
	if err != nil {
		return 0, err
	}
	if len(views) == 0 {
		return 0, nil
	}

	schema, err := bigquery.InferSchema(ScoreRow{})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to infer score row schema")
	}
	if err := u.bq.EnsureTable(ctx, u.bqDataset, u.bqTable, schema); err != nil {
		return 0, err
	}

	rows := make([]*ScoreRow, 0, len(views))
	for _, v := range views {
		rows = append(rows, newScoreRow(v))
	}
	if err := u.bq.Insert(ctx, u.bqDataset, u.bqTable, rows); err != nil {
		return 0, err
	}

	logging.From(ctx).Info("exported scores",
		"workspace_id", workspaceID,
		"dataset", u.bqDataset,
		"table", u.bqTable,
		"rows", len(rows))
	return len(rows), nil
}
