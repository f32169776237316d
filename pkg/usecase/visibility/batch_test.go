package visibility_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sightline/pkg/adapter"
	"github.com/m-mizutani/sightline/pkg/extract"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/provider"
	"github.com/m-mizutani/sightline/pkg/repository"
	"github.com/m-mizutani/sightline/pkg/usecase/visibility"
	"google.golang.org/genai"
)

func TestRunBatchOutcomeMatrix(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []string{"Acme"}, []string{"q1", "q2", "q3"})

	reg := newRegistry(t,
		answering(model.ProviderOpenAI, "Acme"),
		answering(model.ProviderAnthropic, "Acme"),
	)
	uc := visibility.New(f.repo, reg,
		fixedMentions(mentioned("Acme", 1, model.SentimentPositive, true)),
		visibility.WithClock(fixedClock(baseTime)),
	)

	outcomes, err := uc.RunBatch(ctx, f.ws.ID)
	gt.NoError(t, err)
	gt.A(t, outcomes).Length(6)

	// query-major order
	for i, o := range outcomes {
		gt.Equal(t, o.Query.ID, f.queries[i/2].ID)
		if !o.Success {
			t.Errorf("unit %d should succeed", i)
		}
		gt.Equal(t, o.Mentions, 1)
		gt.True(t, o.ResultID != "")
	}
	gt.Equal(t, outcomes[0].Provider, model.ProviderOpenAI)
	gt.Equal(t, outcomes[1].Provider, model.ProviderAnthropic)

	succeeded, failed := visibility.Summarize(outcomes)
	gt.Equal(t, succeeded, 6)
	gt.Equal(t, failed, 0)

	results := f.repo.QueryResults()
	gt.A(t, results).Length(6)
	gt.Equal(t, results[0].ExecutedAt, baseTime)
	gt.Equal(t, results[0].LatencyMS, int64(5))
}

func TestRunBatchIsolatesProviderFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []string{"Acme"}, []string{"q1", "q2"})

	broken := &stubProvider{
		id: model.ProviderPerplexity,
		queryFunc: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
			return nil, errors.New("503 service unavailable")
		},
	}
	reg := newRegistry(t, answering(model.ProviderOpenAI, "Acme"), broken)
	uc := visibility.New(f.repo, reg, fixedMentions(mentioned("Acme", 1, model.SentimentNeutral, false)))

	outcomes, err := uc.RunBatch(ctx, f.ws.ID)
	gt.NoError(t, err)
	gt.A(t, outcomes).Length(4)

	for _, o := range outcomes {
		switch o.Provider {
		case model.ProviderOpenAI:
			gt.True(t, o.Success)
		case model.ProviderPerplexity:
			gt.False(t, o.Success)
			gt.Error(t, o.Err)
			gt.Equal(t, o.ResultID, model.QueryResultID(""))
		}
	}

	succeeded, failed := visibility.Summarize(outcomes)
	gt.Equal(t, succeeded, 2)
	gt.Equal(t, failed, 2)

	// nothing persisted for the failed provider
	gt.A(t, f.repo.QueryResults()).Length(2)
}

type mockGemini struct {
	adapter.Gemini
	generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGemini) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.generateFunc(ctx, model, contents, config)
}

func TestRunBatchProviderErrorKind(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []string{"Acme"}, []string{"q1"})

	client := &mockGemini{
		generateFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("quota exceeded")
		},
	}
	reg := newRegistry(t, provider.NewGemini(client))
	uc := visibility.New(f.repo, reg, fixedMentions())

	outcomes, err := uc.RunBatch(ctx, f.ws.ID)
	gt.NoError(t, err)
	gt.A(t, outcomes).Length(1)
	gt.False(t, outcomes[0].Success)
	gt.Equal(t, outcomes[0].Provider, model.ProviderGemini)
	gt.Equal(t, outcomes[0].Kind(), model.ErrorKindProvider)
}

func TestRunBatchCaseInsensitiveMatching(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []string{"acme", "Zenith"}, []string{"q1"})

	reg := newRegistry(t, answering(model.ProviderOpenAI, "ACME and Acme Inc"))
	uc := visibility.New(f.repo, reg, fixedMentions(
		mentioned("ACME", 1, model.SentimentPositive, true),
		mentioned("Acme Inc", 2, model.SentimentNeutral, false),
		absent("zenith"),
	), visibility.WithClock(fixedClock(baseTime)))

	outcomes, err := uc.RunBatch(ctx, f.ws.ID)
	gt.NoError(t, err)
	gt.A(t, outcomes).Length(1)
	gt.True(t, outcomes[0].Success)
	gt.Equal(t, outcomes[0].Mentions, 2)

	records, err := f.repo.ListMentions(ctx, &repository.ListMentionsInput{
		BrandID: f.brands["acme"].ID,
		Start:   baseTime,
		End:     baseTime,
	})
	gt.NoError(t, err)
	gt.A(t, records).Length(1)
	gt.Equal(t, *records[0].Mention.Position, 1)
}

func TestRunBatchPassesBrandSnapshot(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []string{"Acme", "ACME", "~Zenith"}, []string{"q1"})

	var got []string
	reg := newRegistry(t, answering(model.ProviderOpenAI, "text"))
	uc := visibility.New(f.repo, reg, extractorFunc(func(ctx context.Context, text string, brandNames []string) ([]*extract.Mention, error) {
		got = brandNames
		return nil, nil
	}))

	_, err := uc.RunBatch(ctx, f.ws.ID)
	gt.NoError(t, err)
	gt.A(t, got).Length(2)
	gt.Equal(t, got[0], "Acme")
	gt.Equal(t, got[1], "Zenith")
}

func TestRunBatchPartialPersistence(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []string{"Acme"}, []string{"q1"})

	reg := newRegistry(t, answering(model.ProviderOpenAI, "Acme"))
	uc := visibility.New(f.repo, reg, extractorFunc(func(ctx context.Context, text string, brandNames []string) ([]*extract.Mention, error) {
		return nil, errors.New("malformed reply")
	}), visibility.WithClock(fixedClock(baseTime)))

	outcomes, err := uc.RunBatch(ctx, f.ws.ID)
	gt.NoError(t, err)
	gt.A(t, outcomes).Length(1)

	o := outcomes[0]
	gt.False(t, o.Success)
	gt.Equal(t, o.Kind(), model.ErrorKindExtraction)
	gt.True(t, o.ResultID != "")

	// the raw answer is kept without mentions
	gt.A(t, f.repo.QueryResults()).Length(1)
	records, err := f.repo.ListMentions(ctx, &repository.ListMentionsInput{
		BrandID: f.brands["Acme"].ID,
		Start:   baseTime.Add(-time.Hour),
		End:     baseTime.Add(time.Hour),
	})
	gt.NoError(t, err)
	gt.A(t, records).Length(0)
}

type failingMentionRepo struct {
	*repository.Memory
}

func (r *failingMentionRepo) PutBrandMentions(ctx context.Context, result *model.QueryResult, mentions []*model.BrandMention) error {
	return errors.New("connection reset")
}

func TestRunBatchMentionPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []string{"Acme"}, []string{"q1"})

	repo := &failingMentionRepo{Memory: f.repo}
	reg := newRegistry(t, answering(model.ProviderOpenAI, "Acme"))
	uc := visibility.New(repo, reg, fixedMentions(mentioned("Acme", 1, model.SentimentPositive, false)))

	outcomes, err := uc.RunBatch(ctx, f.ws.ID)
	gt.NoError(t, err)
	gt.A(t, outcomes).Length(1)
	gt.False(t, outcomes[0].Success)
	gt.Equal(t, outcomes[0].Kind(), model.ErrorKindPersistence)
	gt.A(t, f.repo.QueryResults()).Length(1)
}

func TestRunBatchWithoutProvider(t *testing.T) {
	f := setup(t, []string{"Acme"}, []string{"q1"})
	uc := visibility.New(f.repo, newRegistry(t), fixedMentions())

	_, err := uc.RunBatch(context.Background(), f.ws.ID)
	gt.Error(t, err)
}

func TestRunBatchUnknownWorkspace(t *testing.T) {
	f := setup(t, []string{"Acme"}, []string{"q1"})
	uc := visibility.New(f.repo, newRegistry(t, answering(model.ProviderOpenAI, "Acme")), fixedMentions())

	outcomes, err := uc.RunBatch(context.Background(), model.NewWorkspaceID())
	gt.Error(t, err)
	gt.True(t, errors.Is(err, repository.ErrNotFound))
	gt.Equal(t, model.KindOf(err), model.ErrorKindPersistence)
	gt.A(t, outcomes).Length(0)
	gt.A(t, f.repo.QueryResults()).Length(0)
}

func TestRunBatchBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []string{"Acme"}, []string{"q1", "q2", "q3", "q4"})

	var inflight, peak atomic.Int32
	slow := func(id model.ProviderID) *stubProvider {
		return &stubProvider{
			id: id,
			queryFunc: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
				n := inflight.Add(1)
				defer inflight.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				return &provider.Response{Text: "Acme", Provider: id}, nil
			},
		}
	}

	reg := newRegistry(t, slow(model.ProviderOpenAI), slow(model.ProviderAnthropic))
	uc := visibility.New(f.repo, reg, fixedMentions(), visibility.WithConcurrency(2))

	outcomes, err := uc.RunBatch(ctx, f.ws.ID)
	gt.NoError(t, err)
	gt.A(t, outcomes).Length(8)
	if peak.Load() > 2 {
		t.Errorf("peak in-flight units %d exceeds 2", peak.Load())
	}
}

func TestRunBatchCancelled(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		f := setup(t, []string{"Acme"}, []string{"q1", "q2"})
		reg := newRegistry(t, answering(model.ProviderOpenAI, "Acme"))
		uc := visibility.New(f.repo, reg, fixedMentions())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		outcomes, err := uc.RunBatch(ctx, f.ws.ID)
		gt.NoError(t, err)
		gt.A(t, outcomes).Length(0)
		gt.A(t, f.repo.QueryResults()).Length(0)
	})

	t.Run("while running", func(t *testing.T) {
		f := setup(t, []string{"Acme"}, []string{"q1", "q2", "q3"})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var unitCtxErr error
		var calls atomic.Int32
		p := &stubProvider{
			id: model.ProviderOpenAI,
			queryFunc: func(uctx context.Context, req *provider.Request) (*provider.Response, error) {
				if calls.Add(1) == 1 {
					cancel()
					// keep the slot busy so that the scheduler observes the cancellation
					time.Sleep(50 * time.Millisecond)
					unitCtxErr = uctx.Err()
				}
				return &provider.Response{Text: "Acme", Provider: model.ProviderOpenAI}, nil
			},
		}
		uc := visibility.New(f.repo, newRegistry(t, p),
			fixedMentions(mentioned("Acme", 1, model.SentimentPositive, false)),
			visibility.WithConcurrency(1))

		outcomes, err := uc.RunBatch(ctx, f.ws.ID)
		gt.NoError(t, err)
		gt.A(t, outcomes).Length(1)
		gt.True(t, outcomes[0].Success)
		gt.NoError(t, unitCtxErr)
		gt.Equal(t, calls.Load(), int32(1))
	})
}
