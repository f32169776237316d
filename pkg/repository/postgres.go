package repository

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Postgres implements Repository on PostgreSQL through gorm
type Postgres struct {
	db *gorm.DB
}

// NewPostgres connects to dsn and migrates the schema
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open postgres", goerr.T(model.ErrTagPersistence))
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&workspaceRow{},
		&brandRow{},
		&searchQueryRow{},
		&queryResultRow{},
		&brandMentionRow{},
		&visibilityScoreRow{},
	); err != nil {
		return nil, goerr.Wrap(err, "failed to migrate schema", goerr.T(model.ErrTagPersistence))
	}

	return &Postgres{db: db}, nil
}

// Close releases the underlying connection pool
func (r *Postgres) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return goerr.Wrap(err, "failed to get sql db")
	}
	return sqlDB.Close()
}

type workspaceRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time
}

func (workspaceRow) TableName() string { return "workspaces" }

type brandRow struct {
	ID           string `gorm:"primaryKey"`
	WorkspaceID  string `gorm:"index;not null"`
	Name         string `gorm:"not null"`
	Domain       string
	Category     string
	IsCompetitor bool
	CreatedAt    time.Time
}

func (brandRow) TableName() string { return "brands" }

type searchQueryRow struct {
	ID          string `gorm:"primaryKey"`
	WorkspaceID string `gorm:"index;not null"`
	Text        string `gorm:"not null"`
	Category    string
	IsActive    bool
	CreatedAt   time.Time
}

func (searchQueryRow) TableName() string { return "search_queries" }

type queryResultRow struct {
	ID            string `gorm:"primaryKey"`
	WorkspaceID   string `gorm:"index;not null"`
	SearchQueryID string `gorm:"index;not null"`
	Provider      string `gorm:"not null"`
	RawText       string
	Model         string
	TokensUsed    int64
	LatencyMS     int64
	ExecutedAt    time.Time `gorm:"index"`
}

func (queryResultRow) TableName() string { return "query_results" }

type brandMentionRow struct {
	ID            string `gorm:"primaryKey"`
	QueryResultID string `gorm:"index;not null"`
	BrandID       string `gorm:"index;not null"`
	Mentioned     bool
	Position      *int
	Sentiment     string
	Context       string
	Recommended   bool
	CreatedAt     time.Time
}

func (brandMentionRow) TableName() string { return "brand_mentions" }

type visibilityScoreRow struct {
	ID                 string `gorm:"primaryKey"`
	WorkspaceID        string `gorm:"index;not null"`
	BrandID            string `gorm:"index;not null"`
	Provider           string
	MentionRate        float64
	AvgPosition        *float64
	SentimentScore     float64
	RecommendationRate float64
	PeriodStart        time.Time
	PeriodEnd          time.Time
	ComputedAt         time.Time `gorm:"index"`
}

func (visibilityScoreRow) TableName() string { return "visibility_scores" }

func (r *Postgres) PutWorkspace(ctx context.Context, ws *model.Workspace) error {
	row := workspaceRow{ID: string(ws.ID), Name: ws.Name, CreatedAt: ws.CreatedAt}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return goerr.Wrap(err, "failed to put workspace",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", ws.ID))
	}
	return nil
}

func (r *Postgres) GetWorkspace(ctx context.Context, id model.WorkspaceID) (*model.Workspace, error) {
	var row workspaceRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, goerr.Wrap(ErrNotFound, "workspace not found",
				goerr.T(model.ErrTagPersistence),
				goerr.V("workspace_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get workspace",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", id))
	}
	return &model.Workspace{ID: model.WorkspaceID(row.ID), Name: row.Name, CreatedAt: row.CreatedAt}, nil
}

func (r *Postgres) PutBrand(ctx context.Context, brand *model.Brand) error {
	if err := brand.Validate(); err != nil {
		return goerr.Wrap(err, "invalid brand", goerr.T(model.ErrTagPersistence))
	}

	row := brandRow{
		ID:           string(brand.ID),
		WorkspaceID:  string(brand.WorkspaceID),
		Name:         brand.Name,
		Domain:       brand.Domain,
		Category:     brand.Category,
		IsCompetitor: brand.IsCompetitor,
		CreatedAt:    brand.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return goerr.Wrap(err, "failed to put brand",
			goerr.T(model.ErrTagPersistence),
			goerr.V("brand_id", brand.ID))
	}
	return nil
}

func (r *Postgres) ListBrands(ctx context.Context, workspaceID model.WorkspaceID) ([]*model.Brand, error) {
	var rows []brandRow
	if err := r.db.WithContext(ctx).
		Where("workspace_id = ?", string(workspaceID)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list brands",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", workspaceID))
	}

	brands := make([]*model.Brand, 0, len(rows))
	for _, row := range rows {
		brands = append(brands, &model.Brand{
			ID:           model.BrandID(row.ID),
			WorkspaceID:  model.WorkspaceID(row.WorkspaceID),
			Name:         row.Name,
			Domain:       row.Domain,
			Category:     row.Category,
			IsCompetitor: row.IsCompetitor,
			CreatedAt:    row.CreatedAt,
		})
	}
	return brands, nil
}

func (r *Postgres) PutSearchQuery(ctx context.Context, query *model.SearchQuery) error {
	if err := query.Validate(); err != nil {
		return goerr.Wrap(err, "invalid search query", goerr.T(model.ErrTagPersistence))
	}

	row := searchQueryRow{
		ID:          string(query.ID),
		WorkspaceID: string(query.WorkspaceID),
		Text:        query.Text,
		Category:    query.Category,
		IsActive:    query.IsActive,
		CreatedAt:   query.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return goerr.Wrap(err, "failed to put search query",
			goerr.T(model.ErrTagPersistence),
			goerr.V("query_id", query.ID))
	}
	return nil
}

func (r *Postgres) ListActiveQueries(ctx context.Context, workspaceID model.WorkspaceID) ([]*model.SearchQuery, error) {
	var rows []searchQueryRow
	if err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND is_active = ?", string(workspaceID), true).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list search queries",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", workspaceID))
	}

	queries := make([]*model.SearchQuery, 0, len(rows))
	for _, row := range rows {
		queries = append(queries, &model.SearchQuery{
			ID:          model.SearchQueryID(row.ID),
			WorkspaceID: model.WorkspaceID(row.WorkspaceID),
			Text:        row.Text,
			Category:    row.Category,
			IsActive:    row.IsActive,
			CreatedAt:   row.CreatedAt,
		})
	}
	return queries, nil
}

func (r *Postgres) PutQueryResult(ctx context.Context, result *model.QueryResult) error {
	row := queryResultRow{
		ID:            string(result.ID),
		WorkspaceID:   string(result.WorkspaceID),
		SearchQueryID: string(result.SearchQueryID),
		Provider:      string(result.Provider),
		RawText:       result.RawText,
		Model:         result.Model,
		TokensUsed:    result.TokensUsed,
		LatencyMS:     result.LatencyMS,
		ExecutedAt:    result.ExecutedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return goerr.Wrap(err, "failed to insert query result",
			goerr.T(model.ErrTagPersistence),
			goerr.V("result_id", result.ID))
	}
	return nil
}

func (r *Postgres) PutBrandMentions(ctx context.Context, result *model.QueryResult, mentions []*model.BrandMention) error {
	if len(mentions) == 0 {
		return nil
	}

	rows := make([]brandMentionRow, 0, len(mentions))
	brandIDs := make([]string, 0, len(mentions))
	seen := make(map[model.BrandID]bool)
	for _, m := range mentions {
		if err := m.Validate(); err != nil {
			return goerr.Wrap(err, "invalid brand mention", goerr.T(model.ErrTagPersistence))
		}
		if !seen[m.BrandID] {
			seen[m.BrandID] = true
			brandIDs = append(brandIDs, string(m.BrandID))
		}
		rows = append(rows, brandMentionRow{
			ID:            string(m.ID),
			QueryResultID: string(result.ID),
			BrandID:       string(m.BrandID),
			Mentioned:     m.Mentioned,
			Position:      m.Position,
			Sentiment:     string(m.Sentiment),
			Context:       m.Context,
			Recommended:   m.Recommended,
			CreatedAt:     m.CreatedAt,
		})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owned int64
		if err := tx.Model(&brandRow{}).
			Where("id IN ? AND workspace_id = ?", brandIDs, string(result.WorkspaceID)).
			Count(&owned).Error; err != nil {
			return err
		}
		if owned != int64(len(brandIDs)) {
			return goerr.New("brand does not belong to the workspace of the query result",
				goerr.V("brand_ids", brandIDs),
				goerr.V("workspace_id", result.WorkspaceID))
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return goerr.Wrap(err, "failed to insert brand mentions",
			goerr.T(model.ErrTagPersistence),
			goerr.V("result_id", result.ID),
			goerr.V("count", len(mentions)))
	}
	return nil
}

type mentionJoinRow struct {
	brandMentionRow
	Provider   string
	ExecutedAt time.Time
}

func (r *Postgres) ListMentions(ctx context.Context, input *ListMentionsInput) ([]*MentionRecord, error) {
	q := r.db.WithContext(ctx).
		Table("brand_mentions AS m").
		Select("m.*, r.provider AS provider, r.executed_at AS executed_at").
		Joins("JOIN query_results AS r ON r.id = m.query_result_id").
		Where("m.brand_id = ?", string(input.BrandID)).
		Where("r.executed_at >= ? AND r.executed_at <= ?", input.Start, input.End)
	if input.Provider != "" {
		q = q.Where("r.provider = ?", string(input.Provider))
	}

	var rows []mentionJoinRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list brand mentions",
			goerr.T(model.ErrTagPersistence),
			goerr.V("brand_id", input.BrandID))
	}

	return toMentionRecords(rows), nil
}

func (r *Postgres) ListRecentMentions(ctx context.Context, workspaceID model.WorkspaceID, limit int) ([]*MentionRecord, error) {
	q := r.db.WithContext(ctx).
		Table("brand_mentions AS m").
		Select("m.*, r.provider AS provider, r.executed_at AS executed_at").
		Joins("JOIN query_results AS r ON r.id = m.query_result_id").
		Where("r.workspace_id = ?", string(workspaceID)).
		Order("r.executed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []mentionJoinRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list recent brand mentions",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", workspaceID))
	}
	return toMentionRecords(rows), nil
}

func toMentionRecords(rows []mentionJoinRow) []*MentionRecord {
	records := make([]*MentionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, &MentionRecord{
			Mention: &model.BrandMention{
				ID:            model.BrandMentionID(row.ID),
				QueryResultID: model.QueryResultID(row.QueryResultID),
				BrandID:       model.BrandID(row.BrandID),
				Mentioned:     row.Mentioned,
				Position:      row.Position,
				Sentiment:     model.Sentiment(row.Sentiment),
				Context:       row.Context,
				Recommended:   row.Recommended,
				CreatedAt:     row.brandMentionRow.CreatedAt,
			},
			Provider:   model.ProviderID(row.Provider),
			ExecutedAt: row.ExecutedAt,
		})
	}
	return records
}

func (r *Postgres) PutVisibilityScore(ctx context.Context, score *model.VisibilityScore) error {
	row := visibilityScoreRow{
		ID:                 string(score.ID),
		WorkspaceID:        string(score.WorkspaceID),
		BrandID:            string(score.BrandID),
		Provider:           string(score.Provider),
		MentionRate:        score.MentionRate,
		AvgPosition:        score.AvgPosition,
		SentimentScore:     score.SentimentScore,
		RecommendationRate: score.RecommendationRate,
		PeriodStart:        score.PeriodStart,
		PeriodEnd:          score.PeriodEnd,
		ComputedAt:         score.ComputedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return goerr.Wrap(err, "failed to insert visibility score",
			goerr.T(model.ErrTagPersistence),
			goerr.V("score_id", score.ID))
	}
	return nil
}

func (r *Postgres) ListScores(ctx context.Context, workspaceID model.WorkspaceID, limit int) ([]*model.VisibilityScore, error) {
	q := r.db.WithContext(ctx).
		Where("workspace_id = ?", string(workspaceID)).
		Order("computed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []visibilityScoreRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list visibility scores",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", workspaceID))
	}

	scores := make([]*model.VisibilityScore, 0, len(rows))
	for _, row := range rows {
		scores = append(scores, &model.VisibilityScore{
			ID:                 model.VisibilityScoreID(row.ID),
			WorkspaceID:        model.WorkspaceID(row.WorkspaceID),
			BrandID:            model.BrandID(row.BrandID),
			Provider:           model.ProviderID(row.Provider),
			MentionRate:        row.MentionRate,
			AvgPosition:        row.AvgPosition,
			SentimentScore:     row.SentimentScore,
			RecommendationRate: row.RecommendationRate,
			PeriodStart:        row.PeriodStart,
			PeriodEnd:          row.PeriodEnd,
			ComputedAt:         row.ComputedAt,
		})
	}
	return scores, nil
}
