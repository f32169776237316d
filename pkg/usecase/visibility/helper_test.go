package visibility_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sightline/pkg/adapter"
	"github.com/m-mizutani/sightline/pkg/extract"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/provider"
	"github.com/m-mizutani/sightline/pkg/repository"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type stubProvider struct {
	id        model.ProviderID
	queryFunc func(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

func (s *stubProvider) ID() model.ProviderID { return s.id }

func (s *stubProvider) Query(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	return s.queryFunc(ctx, req)
}

// answering returns a provider replying with text to every query
func answering(id model.ProviderID, text string) *stubProvider {
	return &stubProvider{
		id: id,
		queryFunc: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
			return &provider.Response{Text: text, Model: string(id) + "-model", TokensUsed: 10, Latency: 5 * time.Millisecond, Provider: id}, nil
		},
	}
}

type extractorFunc func(ctx context.Context, text string, brandNames []string) ([]*extract.Mention, error)

func (f extractorFunc) Extract(ctx context.Context, text string, brandNames []string) ([]*extract.Mention, error) {
	return f(ctx, text, brandNames)
}

// fixedMentions returns an extractor replying with mentions regardless of input
func fixedMentions(mentions ...*extract.Mention) extractorFunc {
	return func(ctx context.Context, text string, brandNames []string) ([]*extract.Mention, error) {
		return mentions, nil
	}
}

func mentioned(name string, pos int, sentiment model.Sentiment, recommended bool) *extract.Mention {
	return &extract.Mention{
		BrandName:   name,
		Mentioned:   true,
		Position:    &pos,
		Sentiment:   sentiment,
		Recommended: recommended,
		Context:     name + " is mentioned here.",
	}
}

func absent(name string) *extract.Mention {
	return &extract.Mention{BrandName: name, Sentiment: model.SentimentNeutral}
}

type fixture struct {
	repo    *repository.Memory
	ws      *model.Workspace
	brands  map[string]*model.Brand
	queries []*model.SearchQuery
}

// setup stores a workspace with brands and active queries. Competitor brand
// names start with "~", which is stripped.
func setup(t *testing.T, brandNames []string, queryTexts []string) *fixture {
	ctx := context.Background()
	f := &fixture{
		repo:   repository.NewMemory(),
		ws:     &model.Workspace{ID: model.NewWorkspaceID(), Name: "test", CreatedAt: baseTime},
		brands: make(map[string]*model.Brand),
	}
	gt.NoError(t, f.repo.PutWorkspace(ctx, f.ws))

	for i, name := range brandNames {
		competitor := false
		if name[0] == '~' {
			name = name[1:]
			competitor = true
		}
		b := &model.Brand{
			ID:           model.NewBrandID(),
			WorkspaceID:  f.ws.ID,
			Name:         name,
			IsCompetitor: competitor,
			CreatedAt:    baseTime.Add(time.Duration(i) * time.Second),
		}
		gt.NoError(t, f.repo.PutBrand(ctx, b))
		f.brands[name] = b
	}

	for i, text := range queryTexts {
		q := &model.SearchQuery{
			ID:          model.NewSearchQueryID(),
			WorkspaceID: f.ws.ID,
			Text:        text,
			IsActive:    true,
			CreatedAt:   baseTime.Add(time.Duration(i) * time.Second),
		}
		gt.NoError(t, f.repo.PutSearchQuery(ctx, q))
		f.queries = append(f.queries, q)
	}
	return f
}

func newRegistry(t *testing.T, providers ...provider.Provider) *provider.Registry {
	reg, err := provider.NewRegistry(providers...)
	gt.NoError(t, err)
	return reg
}

type writeCloser struct {
	bytes.Buffer
	closed bool
}

func (w *writeCloser) Close() error {
	w.closed = true
	return nil
}

type mockStorage struct {
	adapter.Storage
	putFunc func(ctx context.Context, key string) (io.WriteCloser, error)
}

func (m *mockStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return m.putFunc(ctx, key)
}
