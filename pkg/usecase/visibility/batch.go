package visibility

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/provider"
	"github.com/m-mizutani/sightline/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Outcome is the result of one (query, provider) unit
type Outcome struct {
	Query    *model.SearchQuery
	Provider model.ProviderID
	Success  bool
	Err      error
	// ResultID is set once the provider answer has been persisted, even if a
	// later stage failed
	ResultID model.QueryResultID
	Mentions int
}

// Kind classifies the failure of the unit
func (o *Outcome) Kind() model.ErrorKind {
	return model.KindOf(o.Err)
}

// Summarize counts succeeded and failed outcomes
func Summarize(outcomes []*Outcome) (succeeded, failed int) {
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// brandSnapshot is the brand list read once at the start of a batch
type brandSnapshot struct {
	names  []string
	byName map[string]*model.Brand
}

func newBrandSnapshot(brands []*model.Brand) *brandSnapshot {
	s := &brandSnapshot{byName: make(map[string]*model.Brand, len(brands))}
	for _, b := range brands {
		key := strings.ToLower(b.Name)
		if _, ok := s.byName[key]; ok {
			continue
		}
		s.byName[key] = b
		s.names = append(s.names, b.Name)
	}
	return s
}

// lookup matches a brand name by case-insensitive exact equality
func (s *brandSnapshot) lookup(name string) (*model.Brand, bool) {
	b, ok := s.byName[strings.ToLower(name)]
	return b, ok
}

type unit struct {
	query    *model.SearchQuery
	provider provider.Provider
}

// RunBatch sends every active query of the workspace to every registered
// provider, persists the answers and their extracted mentions. A failing unit
// is reported in its Outcome and does not affect other units. When ctx is
// cancelled no further unit is scheduled, units already running complete, and
// only outcomes of scheduled units are returned.
func (u *UseCase) RunBatch(ctx context.Context, workspaceID model.WorkspaceID) ([]*Outcome, error) {
	if u.registry == nil || u.registry.Len() == 0 {
		return nil, goerr.New("no provider is configured", goerr.V("workspace_id", workspaceID))
	}

	if _, err := u.repo.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, goerr.Wrap(err, "failed to get workspace",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", workspaceID))
	}

	queries, err := u.repo.ListActiveQueries(ctx, workspaceID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list active queries",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", workspaceID))
	}
	brands, err := u.repo.ListBrands(ctx, workspaceID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list brands",
			goerr.T(model.ErrTagPersistence),
			goerr.V("workspace_id", workspaceID))
	}
	snapshot := newBrandSnapshot(brands)

	providers := u.registry.Providers()
	units := make([]unit, 0, len(queries)*len(providers))
	for _, q := range queries {
		for _, p := range providers {
			units = append(units, unit{query: q, provider: p})
		}
	}

	logger := logging.From(ctx)
	logger.Info("start batch",
		"workspace_id", workspaceID,
		"queries", len(queries),
		"providers", len(providers),
		"brands", len(snapshot.names),
		"concurrency", u.concurrency)

	outcomes := make([]*Outcome, len(units))
	sem := semaphore.NewWeighted(int64(u.concurrency))
	unitCtx := context.WithoutCancel(ctx)

	var eg errgroup.Group
	scheduled := 0
	for i, un := range units {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		scheduled++

		eg.Go(func() error {
			defer sem.Release(1)
			outcomes[i] = u.runUnit(unitCtx, workspaceID, un, snapshot)
			return nil
		})
	}
	_ = eg.Wait()

	if scheduled < len(units) {
		logger.Warn("batch cancelled before all units were scheduled",
			"workspace_id", workspaceID,
			"scheduled", scheduled,
			"total", len(units))
	}

	outcomes = outcomes[:scheduled]
	succeeded, failed := Summarize(outcomes)
	logger.Info("batch finished",
		"workspace_id", workspaceID,
		"succeeded", succeeded,
		"failed", failed)

	return outcomes, nil
}

func (u *UseCase) runUnit(ctx context.Context, workspaceID model.WorkspaceID, un unit, snapshot *brandSnapshot) *Outcome {
	logger := logging.From(ctx).With("query_id", un.query.ID, "provider", un.provider.ID())
	outcome := &Outcome{Query: un.query, Provider: un.provider.ID()}

	fail := func(err error, msg string) *Outcome {
		outcome.Err = err
		logger.Warn(msg, "error", err, "kind", model.KindOf(err))
		return outcome
	}

	logger.Debug("query provider")
	resp, err := un.provider.Query(ctx, &provider.Request{Text: un.query.Text})
	if err != nil {
		return fail(err, "provider query failed")
	}

	result := &model.QueryResult{
		ID:            model.NewQueryResultID(),
		WorkspaceID:   workspaceID,
		SearchQueryID: un.query.ID,
		Provider:      un.provider.ID(),
		RawText:       resp.Text,
		Model:         resp.Model,
		TokensUsed:    resp.TokensUsed,
		LatencyMS:     resp.Latency.Milliseconds(),
		ExecutedAt:    u.now(),
	}
	if err := u.repo.PutQueryResult(ctx, result); err != nil {
		return fail(goerr.Wrap(err, "failed to save query result",
			goerr.T(model.ErrTagPersistence),
			goerr.V("query_id", un.query.ID),
			goerr.V("provider", un.provider.ID())), "query result not saved")
	}
	outcome.ResultID = result.ID

	extracted, err := u.extractor.Extract(ctx, resp.Text, snapshot.names)
	if err != nil {
		return fail(goerr.Wrap(err, "failed to extract mentions",
			goerr.T(model.ErrTagExtraction),
			goerr.V("result_id", result.ID)), "mention extraction failed")
	}

	now := u.now()
	mentions := make([]*model.BrandMention, 0, len(extracted))
	for _, m := range extracted {
		brand, ok := snapshot.lookup(m.BrandName)
		if !ok {
			continue
		}
		mentions = append(mentions, &model.BrandMention{
			ID:            model.NewBrandMentionID(),
			QueryResultID: result.ID,
			BrandID:       brand.ID,
			Mentioned:     m.Mentioned,
			Position:      m.Position,
			Sentiment:     m.Sentiment,
			Context:       m.Context,
			Recommended:   m.Recommended,
			CreatedAt:     now,
		})
	}

	if err := u.repo.PutBrandMentions(ctx, result, mentions); err != nil {
		return fail(goerr.Wrap(err, "failed to save brand mentions",
			goerr.T(model.ErrTagPersistence),
			goerr.V("result_id", result.ID)), "brand mentions not saved")
	}

	outcome.Success = true
	outcome.Mentions = len(mentions)
	logger.Info("unit completed",
		"result_id", result.ID,
		"latency", resp.Latency,
		"mentions", len(mentions))
	return outcome
}
