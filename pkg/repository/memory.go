package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
)

// ErrNotFound is wrapped by lookups that find no record
var ErrNotFound = goerr.New("not found")

// Memory is an in-process Repository. It is used for local runs with a seed
// file and as the reference implementation in tests.
type Memory struct {
	mu         sync.RWMutex
	workspaces map[model.WorkspaceID]*model.Workspace
	brands     []*model.Brand
	queries    []*model.SearchQuery
	results    map[model.QueryResultID]*model.QueryResult
	mentions   []*model.BrandMention
	scores     []*model.VisibilityScore
}

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{
		workspaces: make(map[model.WorkspaceID]*model.Workspace),
		results:    make(map[model.QueryResultID]*model.QueryResult),
	}
}

func (r *Memory) PutWorkspace(ctx context.Context, ws *model.Workspace) error {
	if ws.ID == "" {
		return goerr.New("workspace ID is empty", goerr.T(model.ErrTagPersistence))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	v := *ws
	r.workspaces[ws.ID] = &v
	return nil
}

func (r *Memory) GetWorkspace(ctx context.Context, id model.WorkspaceID) (*model.Workspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ws, ok := r.workspaces[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "workspace not found",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", id))
	}
	v := *ws
	return &v, nil
}

func (r *Memory) PutBrand(ctx context.Context, brand *model.Brand) error {
	if err := brand.Validate(); err != nil {
		return goerr.Wrap(err, "invalid brand", goerr.T(model.ErrTagPersistence))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workspaces[brand.WorkspaceID]; !ok {
		return goerr.Wrap(ErrNotFound, "workspace of brand not found",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", brand.WorkspaceID))
	}
	v := *brand
	r.brands = append(r.brands, &v)
	return nil
}

func (r *Memory) ListBrands(ctx context.Context, workspaceID model.WorkspaceID) ([]*model.Brand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var brands []*model.Brand
	for _, b := range r.brands {
		if b.WorkspaceID == workspaceID {
			v := *b
			brands = append(brands, &v)
		}
	}
	return brands, nil
}

func (r *Memory) PutSearchQuery(ctx context.Context, query *model.SearchQuery) error {
	if err := query.Validate(); err != nil {
		return goerr.Wrap(err, "invalid search query", goerr.T(model.ErrTagPersistence))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workspaces[query.WorkspaceID]; !ok {
		return goerr.Wrap(ErrNotFound, "workspace of search query not found",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", query.WorkspaceID))
	}
	v := *query
	r.queries = append(r.queries, &v)
	return nil
}

func (r *Memory) ListActiveQueries(ctx context.Context, workspaceID model.WorkspaceID) ([]*model.SearchQuery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var queries []*model.SearchQuery
	for _, q := range r.queries {
		if q.WorkspaceID == workspaceID && q.IsActive {
			v := *q
			queries = append(queries, &v)
		}
	}
	return queries, nil
}

func (r *Memory) PutQueryResult(ctx context.Context, result *model.QueryResult) error {
	if result.ID == "" {
		return goerr.New("query result ID is empty", goerr.T(model.ErrTagPersistence))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.results[result.ID]; exists {
		return goerr.New("query result already exists",
			goerr.T(model.ErrTagPersistence),
			goerr.V("result_id", result.ID))
	}
	v := *result
	r.results[result.ID] = &v
	return nil
}

func (r *Memory) PutBrandMentions(ctx context.Context, result *model.QueryResult, mentions []*model.BrandMention) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.results[result.ID]; !ok {
		return goerr.Wrap(ErrNotFound, "query result not found",
			goerr.T(model.ErrTagPersistence),
			goerr.V("result_id", result.ID))
	}

	inserted := make([]*model.BrandMention, 0, len(mentions))
	for _, m := range mentions {
		if err := m.Validate(); err != nil {
			return goerr.Wrap(err, "invalid brand mention", goerr.T(model.ErrTagPersistence))
		}
		if !r.brandInWorkspace(m.BrandID, result.WorkspaceID) {
			return goerr.New("brand does not belong to the workspace of the query result",
				goerr.T(model.ErrTagPersistence),
				goerr.V("brand_id", m.BrandID),
				goerr.V("workspace_id", result.WorkspaceID))
		}
		v := *m
		inserted = append(inserted, &v)
	}

	r.mentions = append(r.mentions, inserted...)
	return nil
}

func (r *Memory) brandInWorkspace(id model.BrandID, workspaceID model.WorkspaceID) bool {
	for _, b := range r.brands {
		if b.ID == id {
			return b.WorkspaceID == workspaceID
		}
	}
	return false
}

func (r *Memory) ListMentions(ctx context.Context, input *ListMentionsInput) ([]*MentionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*MentionRecord
	for _, m := range r.mentions {
		if m.BrandID != input.BrandID {
			continue
		}
		result, ok := r.results[m.QueryResultID]
		if !ok || !inWindow(result.ExecutedAt, input.Start, input.End) {
			continue
		}
		if input.Provider != "" && result.Provider != input.Provider {
			continue
		}

		v := *m
		records = append(records, &MentionRecord{
			Mention:    &v,
			Provider:   result.Provider,
			ExecutedAt: result.ExecutedAt,
		})
	}
	return records, nil
}

func (r *Memory) ListRecentMentions(ctx context.Context, workspaceID model.WorkspaceID, limit int) ([]*MentionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*MentionRecord
	for i := len(r.mentions) - 1; i >= 0; i-- {
		m := r.mentions[i]
		result, ok := r.results[m.QueryResultID]
		if !ok || result.WorkspaceID != workspaceID {
			continue
		}

		v := *m
		records = append(records, &MentionRecord{
			Mention:    &v,
			Provider:   result.Provider,
			ExecutedAt: result.ExecutedAt,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ExecutedAt.After(records[j].ExecutedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *Memory) PutVisibilityScore(ctx context.Context, score *model.VisibilityScore) error {
	if score.ID == "" {
		return goerr.New("visibility score ID is empty", goerr.T(model.ErrTagPersistence))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	v := *score
	r.scores = append(r.scores, &v)
	return nil
}

func (r *Memory) ListScores(ctx context.Context, workspaceID model.WorkspaceID, limit int) ([]*model.VisibilityScore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var scores []*model.VisibilityScore
	for i := len(r.scores) - 1; i >= 0; i-- {
		if r.scores[i].WorkspaceID == workspaceID {
			v := *r.scores[i]
			scores = append(scores, &v)
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].ComputedAt.After(scores[j].ComputedAt)
	})

	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}

// QueryResults returns all stored query results. Used to inspect partial
// persistence after a batch.
func (r *Memory) QueryResults() []*model.QueryResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*model.QueryResult, 0, len(r.results))
	for _, v := range r.results {
		c := *v
		results = append(results, &c)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ExecutedAt.Before(results[j].ExecutedAt)
	})
	return results
}
