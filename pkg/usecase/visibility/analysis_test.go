package visibility_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sightline/pkg/extract"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/policy"
	"github.com/m-mizutani/sightline/pkg/provider"
	"github.com/m-mizutani/sightline/pkg/usecase/visibility"
)

const acmeAnswer = "For winter camping, the Acme Summit is my top pick. It is light and warm."

const acmeZenithReply = "```json\n" + `{"mentions": [
  {"brandName": "Acme", "mentioned": true, "position": 1, "sentiment": "positive", "recommended": true, "context": "For winter camping, the Acme Summit is my top pick."},
  {"brandName": "Zenith", "mentioned": false, "position": null, "sentiment": "neutral", "recommended": false, "context": ""}
]}` + "\n```"

func newAcmeZenith(t *testing.T, opts ...visibility.Option) (*fixture, *visibility.UseCase) {
	f := setup(t, []string{"Acme", "~Zenith"}, []string{"What is the best winter tent?"})

	llm := &stubProvider{
		id: model.ProviderAnthropic,
		queryFunc: func(ctx context.Context, req *provider.Request) (*provider.Response, error) {
			return &provider.Response{Text: acmeZenithReply, Provider: model.ProviderAnthropic}, nil
		},
	}
	extractor, err := extract.New(llm)
	gt.NoError(t, err)

	opts = append([]visibility.Option{visibility.WithClock(fixedClock(baseTime))}, opts...)
	uc := visibility.New(f.repo, newRegistry(t, answering(model.ProviderOpenAI, acmeAnswer)), extractor, opts...)
	return f, uc
}

func TestRunAnalysisAcmeZenith(t *testing.T) {
	ctx := context.Background()
	f, uc := newAcmeZenith(t)

	analysis, err := uc.RunAnalysis(ctx, f.ws.ID, baseTime.Add(-24*time.Hour), baseTime)
	gt.NoError(t, err)
	gt.A(t, analysis.Outcomes).Length(1)
	gt.True(t, analysis.Outcomes[0].Success)
	gt.Equal(t, analysis.Outcomes[0].Mentions, 2)
	gt.A(t, analysis.Scores).Length(2)

	acme := scoreOf(analysis.Scores, f.brands["Acme"].ID)
	gt.V(t, acme).NotNil()
	gt.Equal(t, acme.MentionRate, 1.0)
	gt.Equal(t, *acme.AvgPosition, 1.0)
	gt.Equal(t, acme.SentimentScore, 1.0)
	gt.Equal(t, acme.RecommendationRate, 1.0)

	zenith := scoreOf(analysis.Scores, f.brands["Zenith"].ID)
	gt.V(t, zenith).NotNil()
	gt.Equal(t, zenith.MentionRate, 0.0)
	gt.V(t, zenith.AvgPosition).Nil()
	gt.Equal(t, zenith.SentimentScore, 0.0)

	gt.A(t, analysis.Views).Length(2)
	gt.Equal(t, analysis.Views[0].BrandName, "Acme")
	gt.True(t, analysis.Views[1].IsCompetitor)

	gt.Equal(t, analysis.ArchiveKey, "")
	gt.A(t, analysis.Alerts).Length(0)
	gt.NoError(t, analysis.PolicyErr)
}

func TestRunAnalysisWithoutScores(t *testing.T) {
	ctx := context.Background()
	f := setup(t, []string{"Acme"}, []string{"q1"})

	// a score from an earlier run must not leak into this run
	gt.NoError(t, f.repo.PutVisibilityScore(ctx, &model.VisibilityScore{
		ID:          model.NewVisibilityScoreID(),
		WorkspaceID: f.ws.ID,
		BrandID:     f.brands["Acme"].ID,
		MentionRate: 1,
		PeriodStart: baseTime.Add(-48 * time.Hour),
		PeriodEnd:   baseTime.Add(-24 * time.Hour),
		ComputedAt:  baseTime.Add(-24 * time.Hour),
	}))

	reg := newRegistry(t, answering(model.ProviderOpenAI, "Acme"))
	uc := visibility.New(f.repo, reg, extractorFunc(func(ctx context.Context, text string, brandNames []string) ([]*extract.Mention, error) {
		return nil, errors.New("malformed reply")
	}), visibility.WithClock(fixedClock(baseTime)))

	analysis, err := uc.RunAnalysis(ctx, f.ws.ID, baseTime.Add(-time.Hour), baseTime)
	gt.NoError(t, err)
	gt.A(t, analysis.Outcomes).Length(1)
	gt.False(t, analysis.Outcomes[0].Success)
	gt.A(t, analysis.Scores).Length(0)
	gt.A(t, analysis.Views).Length(0)

	views, err := uc.ScoreViews(ctx, f.ws.ID, analysis.Scores)
	gt.NoError(t, err)
	gt.A(t, views).Length(0)
}

func TestRunAnalysisInvalidPeriod(t *testing.T) {
	f, uc := newAcmeZenith(t)
	_, err := uc.RunAnalysis(context.Background(), f.ws.ID, baseTime, baseTime.Add(-time.Hour))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, visibility.ErrInvalidPeriod))
	gt.A(t, f.repo.QueryResults()).Length(0)
}

func TestRunAnalysisWithPolicy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := `package visibility

alert contains {"severity": "high", "message": "competitor is invisible"} if {
	input.brand.competitor
	input.score.mention_rate == 0
}
`
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "alert.rego"), []byte(src), 0644))
	engine, err := policy.Load(ctx, dir)
	gt.NoError(t, err)

	f, uc := newAcmeZenith(t, visibility.WithPolicy(engine))
	analysis, err := uc.RunAnalysis(ctx, f.ws.ID, baseTime.Add(-time.Hour), baseTime)
	gt.NoError(t, err)
	gt.A(t, analysis.Alerts).Length(1)
	gt.Equal(t, analysis.Alerts[0].BrandName, "Zenith")
	gt.Equal(t, analysis.Alerts[0].Severity, "high")
}

func TestRunAnalysisPolicyError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := `package visibility

alert := "oops"
`
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "alert.rego"), []byte(src), 0644))
	engine, err := policy.Load(ctx, dir)
	gt.NoError(t, err)

	f, uc := newAcmeZenith(t, visibility.WithPolicy(engine))
	analysis, err := uc.RunAnalysis(ctx, f.ws.ID, baseTime.Add(-time.Hour), baseTime)
	gt.NoError(t, err)
	gt.V(t, analysis).NotNil()
	gt.Error(t, analysis.PolicyErr)
	gt.A(t, analysis.Alerts).Length(0)
	gt.A(t, analysis.Scores).Length(2)
	gt.A(t, f.repo.QueryResults()).Length(1)

	stored, err := f.repo.ListScores(ctx, f.ws.ID, 0)
	gt.NoError(t, err)
	gt.A(t, stored).Length(2)
}

func TestRunAnalysisArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("report is written", func(t *testing.T) {
		var key string
		w := &writeCloser{}
		storage := &mockStorage{
			putFunc: func(ctx context.Context, k string) (io.WriteCloser, error) {
				key = k
				return w, nil
			},
		}

		f, uc := newAcmeZenith(t, visibility.WithArchive(storage, "reports"))
		analysis, err := uc.RunAnalysis(ctx, f.ws.ID, baseTime.Add(-time.Hour), baseTime)
		gt.NoError(t, err)

		expected := "reports/" + string(f.ws.ID) + "/20250601T120000Z.json"
		gt.Equal(t, key, expected)
		gt.Equal(t, analysis.ArchiveKey, expected)
		gt.True(t, w.closed)

		var report map[string]any
		gt.NoError(t, json.Unmarshal(w.Bytes(), &report))
		gt.Equal(t, report["workspace_id"], any(string(f.ws.ID)))
		gt.Equal(t, report["succeeded"], any(float64(1)))
		gt.A(t, report["outcomes"].([]any)).Length(1)
		gt.A(t, report["scores"].([]any)).Length(2)
	})

	t.Run("archive failure is not fatal", func(t *testing.T) {
		storage := &mockStorage{
			putFunc: func(ctx context.Context, k string) (io.WriteCloser, error) {
				return nil, errors.New("permission denied")
			},
		}

		f, uc := newAcmeZenith(t, visibility.WithArchive(storage, ""))
		analysis, err := uc.RunAnalysis(ctx, f.ws.ID, baseTime.Add(-time.Hour), baseTime)
		gt.NoError(t, err)
		gt.A(t, analysis.Scores).Length(2)
		gt.Equal(t, analysis.ArchiveKey, "")
	})
}

func TestArchiveKey(t *testing.T) {
	gt.Equal(t, visibility.ArchiveKey("", "ws1", baseTime), "ws1/20250601T120000Z.json")
	gt.Equal(t, visibility.ArchiveKey("a/b", "ws1", baseTime), "a/b/ws1/20250601T120000Z.json")
}
