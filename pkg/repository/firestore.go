package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionWorkspaces = "workspaces"
	collectionBrands     = "brands"
	collectionQueries    = "search_queries"
	collectionResults    = "query_results"
	collectionMentions   = "brand_mentions"
	collectionScores     = "visibility_scores"
)

// Firestore implements Repository on Cloud Firestore. Mention documents carry
// the provider and execution time of their query result so that window
// queries need no join.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore creates a Firestore repository for the given project and database
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.T(model.ErrTagPersistence),
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}
	return &Firestore{client: client}, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

type workspaceDoc struct {
	ID        string    `firestore:"id"`
	Name      string    `firestore:"name"`
	CreatedAt time.Time `firestore:"created_at"`
}

type brandDoc struct {
	ID           string    `firestore:"id"`
	WorkspaceID  string    `firestore:"workspace_id"`
	Name         string    `firestore:"name"`
	Domain       string    `firestore:"domain"`
	Category     string    `firestore:"category"`
	IsCompetitor bool      `firestore:"is_competitor"`
	CreatedAt    time.Time `firestore:"created_at"`
}

type queryDoc struct {
	ID          string    `firestore:"id"`
	WorkspaceID string    `firestore:"workspace_id"`
	Text        string    `firestore:"text"`
	Category    string    `firestore:"category"`
	IsActive    bool      `firestore:"is_active"`
	CreatedAt   time.Time `firestore:"created_at"`
}

type resultDoc struct {
	ID            string    `firestore:"id"`
	WorkspaceID   string    `firestore:"workspace_id"`
	SearchQueryID string    `firestore:"search_query_id"`
	Provider      string    `firestore:"provider"`
	RawText       string    `firestore:"raw_text"`
	Model         string    `firestore:"model"`
	TokensUsed    int64     `firestore:"tokens_used"`
	LatencyMS     int64     `firestore:"latency_ms"`
	ExecutedAt    time.Time `firestore:"executed_at"`
}

type mentionDoc struct {
	ID            string    `firestore:"id"`
	QueryResultID string    `firestore:"query_result_id"`
	BrandID       string    `firestore:"brand_id"`
	Mentioned     bool      `firestore:"mentioned"`
	Position      *int      `firestore:"position"`
	Sentiment     string    `firestore:"sentiment"`
	Context       string    `firestore:"context"`
	Recommended   bool      `firestore:"recommended"`
	CreatedAt     time.Time `firestore:"created_at"`

	// denormalized from the query result
	WorkspaceID string    `firestore:"workspace_id"`
	Provider    string    `firestore:"provider"`
	ExecutedAt  time.Time `firestore:"executed_at"`
}

type scoreDoc struct {
	ID                 string    `firestore:"id"`
	WorkspaceID        string    `firestore:"workspace_id"`
	BrandID            string    `firestore:"brand_id"`
	Provider           string    `firestore:"provider"`
	MentionRate        float64   `firestore:"mention_rate"`
	AvgPosition        *float64  `firestore:"avg_position"`
	SentimentScore     float64   `firestore:"sentiment_score"`
	RecommendationRate float64   `firestore:"recommendation_rate"`
	PeriodStart        time.Time `firestore:"period_start"`
	PeriodEnd          time.Time `firestore:"period_end"`
	ComputedAt         time.Time `firestore:"computed_at"`
}

func (r *Firestore) PutWorkspace(ctx context.Context, ws *model.Workspace) error {
	doc := workspaceDoc{ID: string(ws.ID), Name: ws.Name, CreatedAt: ws.CreatedAt}
	if _, err := r.client.Collection(collectionWorkspaces).Doc(doc.ID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put workspace",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", ws.ID))
	}
	return nil
}

func (r *Firestore) GetWorkspace(ctx context.Context, id model.WorkspaceID) (*model.Workspace, error) {
	snap, err := r.client.Collection(collectionWorkspaces).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "workspace not found",
				goerr.T(model.ErrTagPersistence),
				goerr.V("workspace_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get workspace",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", id))
	}

	var doc workspaceDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode workspace",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", id))
	}
	return &model.Workspace{ID: model.WorkspaceID(doc.ID), Name: doc.Name, CreatedAt: doc.CreatedAt}, nil
}

func (r *Firestore) PutBrand(ctx context.Context, brand *model.Brand) error {
	if err := brand.Validate(); err != nil {
		return goerr.Wrap(err, "invalid brand", goerr.T(model.ErrTagPersistence))
	}

	doc := brandDoc{
		ID:           string(brand.ID),
		WorkspaceID:  string(brand.WorkspaceID),
		Name:         brand.Name,
		Domain:       brand.Domain,
		Category:     brand.Category,
		IsCompetitor: brand.IsCompetitor,
		CreatedAt:    brand.CreatedAt,
	}
	if _, err := r.client.Collection(collectionBrands).Doc(doc.ID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put brand",
			goerr.T(model.ErrTagPersistence),
			goerr.V("brand_id", brand.ID))
	}
	return nil
}

func (r *Firestore) ListBrands(ctx context.Context, workspaceID model.WorkspaceID) ([]*model.Brand, error) {
	iter := r.client.Collection(collectionBrands).
		Where("workspace_id", "==", string(workspaceID)).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var brands []*model.Brand
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate brands",
				goerr.T(model.ErrTagPersistence),
				goerr.V("workspace_id", workspaceID))
		}

		var doc brandDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode brand",
				goerr.T(model.ErrTagPersistence),
				goerr.V("doc_id", snap.Ref.ID))
		}
		brands = append(brands, &model.Brand{
			ID:           model.BrandID(doc.ID),
			WorkspaceID:  model.WorkspaceID(doc.WorkspaceID),
			Name:         doc.Name,
			Domain:       doc.Domain,
			Category:     doc.Category,
			IsCompetitor: doc.IsCompetitor,
			CreatedAt:    doc.CreatedAt,
		})
	}
	return brands, nil
}

func (r *Firestore) PutSearchQuery(ctx context.Context, query *model.SearchQuery) error {
	if err := query.Validate(); err != nil {
		return goerr.Wrap(err, "invalid search query", goerr.T(model.ErrTagPersistence))
	}

	doc := queryDoc{
		ID:          string(query.ID),
		WorkspaceID: string(query.WorkspaceID),
		Text:        query.Text,
		Category:    query.Category,
		IsActive:    query.IsActive,
		CreatedAt:   query.CreatedAt,
	}
	if _, err := r.client.Collection(collectionQueries).Doc(doc.ID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put search query",
			goerr.T(model.ErrTagPersistence),
			goerr.V("query_id", query.ID))
	}
	return nil
}

func (r *Firestore) ListActiveQueries(ctx context.Context, workspaceID model.WorkspaceID) ([]*model.SearchQuery, error) {
	iter := r.client.Collection(collectionQueries).
		Where("workspace_id", "==", string(workspaceID)).
		Where("is_active", "==", true).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var queries []*model.SearchQuery
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate search queries",
				goerr.T(model.ErrTagPersistence),
				goerr.V("workspace_id", workspaceID))
		}

		var doc queryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode search query",
				goerr.T(model.ErrTagPersistence),
				goerr.V("doc_id", snap.Ref.ID))
		}
		queries = append(queries, &model.SearchQuery{
			ID:          model.SearchQueryID(doc.ID),
			WorkspaceID: model.WorkspaceID(doc.WorkspaceID),
			Text:        doc.Text,
			Category:    doc.Category,
			IsActive:    doc.IsActive,
			CreatedAt:   doc.CreatedAt,
		})
	}
	return queries, nil
}

func (r *Firestore) PutQueryResult(ctx context.Context, result *model.QueryResult) error {
	doc := resultDoc{
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
	// Create fails if the document exists, keeping results append-only
	if _, err := r.client.Collection(collectionResults).Doc(doc.ID).Create(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to create query result",
			goerr.T(model.ErrTagPersistence),
			goerr.V("result_id", result.ID))
	}
	return nil
}

func (r *Firestore) PutBrandMentions(ctx context.Context, result *model.QueryResult, mentions []*model.BrandMention) error {
	if len(mentions) == 0 {
		return nil
	}

	for _, m := range mentions {
		if err := m.Validate(); err != nil {
			return goerr.Wrap(err, "invalid brand mention", goerr.T(model.ErrTagPersistence))
		}
	}

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// all reads must precede writes in a transaction
		checked := make(map[model.BrandID]bool)
		for _, m := range mentions {
			if checked[m.BrandID] {
				continue
			}
			snap, err := tx.Get(r.client.Collection(collectionBrands).Doc(string(m.BrandID)))
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return goerr.Wrap(ErrNotFound, "brand not found", goerr.V("brand_id", m.BrandID))
				}
				return err
			}
			var brand brandDoc
			if err := snap.DataTo(&brand); err != nil {
				return err
			}
			if brand.WorkspaceID != string(result.WorkspaceID) {
				return goerr.New("brand does not belong to the workspace of the query result",
					goerr.V("brand_id", m.BrandID),
					goerr.V("workspace_id", result.WorkspaceID))
			}
			checked[m.BrandID] = true
		}

		for _, m := range mentions {
			doc := mentionDoc{
				ID:            string(m.ID),
				QueryResultID: string(result.ID),
				BrandID:       string(m.BrandID),
				Mentioned:     m.Mentioned,
				Position:      m.Position,
				Sentiment:     string(m.Sentiment),
				Context:       m.Context,
				Recommended:   m.Recommended,
				CreatedAt:     m.CreatedAt,
				WorkspaceID:   string(result.WorkspaceID),
				Provider:      string(result.Provider),
				ExecutedAt:    result.ExecutedAt,
			}
			ref := r.client.Collection(collectionMentions).Doc(doc.ID)
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to create brand mentions",
			goerr.T(model.ErrTagPersistence),
			goerr.V("result_id", result.ID),
			goerr.V("count", len(mentions)))
	}
	return nil
}

func (r *Firestore) ListMentions(ctx context.Context, input *ListMentionsInput) ([]*MentionRecord, error) {
	q := r.client.Collection(collectionMentions).
		Where("brand_id", "==", string(input.BrandID)).
		Where("executed_at", ">=", input.Start).
		Where("executed_at", "<=", input.End)
	if input.Provider != "" {
		q = q.Where("provider", "==", string(input.Provider))
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var records []*MentionRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate brand mentions",
				goerr.T(model.ErrTagPersistence),
				goerr.V("brand_id", input.BrandID))
		}

		record, err := decodeMention(snap)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *Firestore) ListRecentMentions(ctx context.Context, workspaceID model.WorkspaceID, limit int) ([]*MentionRecord, error) {
	q := r.client.Collection(collectionMentions).
		Where("workspace_id", "==", string(workspaceID)).
		OrderBy("executed_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var records []*MentionRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate recent brand mentions",
				goerr.T(model.ErrTagPersistence),
				goerr.V("workspace_id", workspaceID))
		}

		record, err := decodeMention(snap)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func decodeMention(snap *firestore.DocumentSnapshot) (*MentionRecord, error) {
	var doc mentionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode brand mention",
			goerr.T(model.ErrTagPersistence),
			goerr.V("doc_id", snap.Ref.ID))
	}
	return &MentionRecord{
		Mention: &model.BrandMention{
			ID:            model.BrandMentionID(doc.ID),
			QueryResultID: model.QueryResultID(doc.QueryResultID),
			BrandID:       model.BrandID(doc.BrandID),
			Mentioned:     doc.Mentioned,
			Position:      doc.Position,
			Sentiment:     model.Sentiment(doc.Sentiment),
			Context:       doc.Context,
			Recommended:   doc.Recommended,
			CreatedAt:     doc.CreatedAt,
		},
		Provider:   model.ProviderID(doc.Provider),
		ExecutedAt: doc.ExecutedAt,
	}, nil
}

func (r *Firestore) PutVisibilityScore(ctx context.Context, score *model.VisibilityScore) error {
	doc := scoreDoc{
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
	if _, err := r.client.Collection(collectionScores).Doc(doc.ID).Create(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to create visibility score",
			goerr.T(model.ErrTagPersistence),
			goerr.V("score_id", score.ID))
	}
	return nil
}

func (r *Firestore) ListScores(ctx context.Context, workspaceID model.WorkspaceID, limit int) ([]*model.VisibilityScore, error) {
	q := r.client.Collection(collectionScores).
		Where("workspace_id", "==", string(workspaceID)).
		OrderBy("computed_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var scores []*model.VisibilityScore
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate visibility scores",
				goerr.T(model.ErrTagPersistence),
				goerr.V("workspace_id", workspaceID))
		}

		var doc scoreDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode visibility score",
				goerr.T(model.ErrTagPersistence),
				goerr.V("doc_id", snap.Ref.ID))
		}
		scores = append(scores, &model.VisibilityScore{
			ID:                 model.VisibilityScoreID(doc.ID),
			WorkspaceID:        model.WorkspaceID(doc.WorkspaceID),
			BrandID:            model.BrandID(doc.BrandID),
			Provider:           model.ProviderID(doc.Provider),
			MentionRate:        doc.MentionRate,
			AvgPosition:        doc.AvgPosition,
			SentimentScore:     doc.SentimentScore,
			RecommendationRate: doc.RecommendationRate,
			PeriodStart:        doc.PeriodStart,
			PeriodEnd:          doc.PeriodEnd,
			ComputedAt:         doc.ComputedAt,
		})
	}
	return scores, nil
}
