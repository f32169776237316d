package visibility

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/policy"
	"github.com/m-mizutani/sightline/pkg/utils/logging"
)

// Analysis is the result of one RunAnalysis call
type Analysis struct {
	WorkspaceID model.WorkspaceID
	PeriodStart time.Time
	PeriodEnd   time.Time
	Outcomes    []*Outcome
	Scores      []*model.VisibilityScore
	// Views are Scores joined with their brands
	Views  []*ScoreView
	Alerts []*policy.Alert
	// PolicyErr is the first alert policy failure. Scores are kept when it is set.
	PolicyErr error
	// ArchiveKey is the object key of the archived report, empty if not archived
	ArchiveKey string
}

// RunAnalysis runs the batch and then computes cross-provider scores over
// [periodStart, periodEnd]. Scores are computed even if ctx was cancelled
// during the batch.
func (u *UseCase) RunAnalysis(ctx context.Context, workspaceID model.WorkspaceID, periodStart, periodEnd time.Time) (*Analysis, error) {
	if periodStart.After(periodEnd) {
		return nil, goerr.Wrap(ErrInvalidPeriod, "period start is after period end",
			goerr.V("period_start", periodStart),
			goerr.V("period_end", periodEnd))
	}

	outcomes, err := u.RunBatch(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	scoreCtx := context.WithoutCancel(ctx)
	scores, brands, err := u.computeScores(scoreCtx, workspaceID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		WorkspaceID: workspaceID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Outcomes:    outcomes,
		Scores:      scores,
		Views:       joinBrands(scores, brands),
	}

	if u.policy != nil {
		for _, score := range scores {
			alerts, err := u.policy.Evaluate(scoreCtx, brands[score.BrandID], score)
			if err != nil {
				logging.From(ctx).Error("failed to evaluate alert policy",
					"error", err,
					"brand_id", score.BrandID)
				if analysis.PolicyErr == nil {
					analysis.PolicyErr = err
				}
				continue
			}
			analysis.Alerts = append(analysis.Alerts, alerts...)
		}
	}

	if u.archive != nil {
		key, err := u.archiveAnalysis(scoreCtx, analysis)
		if err != nil {
			logging.From(ctx).Error("failed to archive analysis report", "error", err)
		} else {
			analysis.ArchiveKey = key
		}
	}

	return analysis, nil
}

type outcomeReport struct {
	QueryID   model.SearchQueryID `json:"query_id"`
	QueryText string              `json:"query_text"`
	Provider  model.ProviderID    `json:"provider"`
	Success   bool                `json:"success"`
	ErrorKind model.ErrorKind     `json:"error_kind,omitempty"`
	Error     string              `json:"error,omitempty"`
	ResultID  model.QueryResultID `json:"result_id,omitempty"`
	Mentions  int                 `json:"mentions"`
}

type scoreReport struct {
	BrandID            model.BrandID    `json:"brand_id"`
	Provider           model.ProviderID `json:"provider,omitempty"`
	MentionRate        float64          `json:"mention_rate"`
	AvgPosition        *float64         `json:"avg_position"`
	SentimentScore     float64          `json:"sentiment_score"`
	RecommendationRate float64          `json:"recommendation_rate"`
}

type analysisReport struct {
	WorkspaceID model.WorkspaceID `json:"workspace_id"`
	PeriodStart time.Time         `json:"period_start"`
	PeriodEnd   time.Time         `json:"period_end"`
	CreatedAt   time.Time         `json:"created_at"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Outcomes    []*outcomeReport  `json:"outcomes"`
	Scores      []*scoreReport    `json:"scores"`
	Alerts      []*policy.Alert   `json:"alerts,omitempty"`
	PolicyError string            `json:"policy_error,omitempty"`
}

func newAnalysisReport(a *Analysis, createdAt time.Time) *analysisReport {
	succeeded, failed := Summarize(a.Outcomes)
	report := &analysisReport{
		WorkspaceID: a.WorkspaceID,
		PeriodStart: a.PeriodStart,
		PeriodEnd:   a.PeriodEnd,
		CreatedAt:   createdAt,
		Succeeded:   succeeded,
		Failed:      failed,
		Outcomes:    make([]*outcomeReport, 0, len(a.Outcomes)),
		Scores:      make([]*scoreReport, 0, len(a.Scores)),
		Alerts:      a.Alerts,
	}
	if a.PolicyErr != nil {
		report.PolicyError = a.PolicyErr.Error()
	}

	for _, o := range a.Outcomes {
		r := &outcomeReport{
			QueryID:   o.Query.ID,
			QueryText: o.Query.Text,
			Provider:  o.Provider,
			Success:   o.Success,
			ResultID:  o.ResultID,
			Mentions:  o.Mentions,
		}
		if o.Err != nil {
			r.Error = o.Err.Error()
			r.ErrorKind = o.Kind()
		}
		report.Outcomes = append(report.Outcomes, r)
	}

	for _, s := range a.Scores {
		report.Scores = append(report.Scores, &scoreReport{
			BrandID:            s.BrandID,
			Provider:           s.Provider,
			MentionRate:        s.MentionRate,
			AvgPosition:        s.AvgPosition,
			SentimentScore:     s.SentimentScore,
			RecommendationRate: s.RecommendationRate,
		})
	}
	return report
}

// ArchiveKey returns the object key of a report created at t
func ArchiveKey(prefix string, workspaceID model.WorkspaceID, t time.Time) string {
	return path.Join(prefix, string(workspaceID), t.UTC().Format("20060102T150405Z")+".json")
}

func (u *UseCase) archiveAnalysis(ctx context.Context, a *Analysis) (string, error) {
	createdAt := u.now()
	key := ArchiveKey(u.archivePrefix, a.WorkspaceID, createdAt)

	w, err := u.archive.Put(ctx, key)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open archive object", goerr.V("key", key))
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(newAnalysisReport(a, createdAt)); err != nil {
		_ = w.Close()
		return "", goerr.Wrap(err, "failed to encode analysis report", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to commit archive object", goerr.V("key", key))
	}

	logging.From(ctx).Info("archived analysis report", "key", key)
	return key, nil
}
