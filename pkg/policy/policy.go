package policy

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// Query is the rule evaluated for every computed score. Rules produce a set
// of objects with "message" and optional "severity".
const Query = "data.visibility.alert"

// Alert is raised by a policy rule for one score
type Alert struct {
	BrandID   model.BrandID    `json:"brand_id"`
	BrandName string           `json:"brand_name"`
	Provider  model.ProviderID `json:"provider,omitempty"`
	Severity  string           `json:"severity"`
	Message   string           `json:"message"`
}

// Engine evaluates visibility alert rules. A nil or empty Engine raises no alerts.
type Engine struct {
	query *rego.PreparedEvalQuery
}

// printHook forwards rego print() output to the logger
type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Load reads all *.rego files in dir. A directory without policy files yields
// an Engine that raises nothing.
func Load(ctx context.Context, dir string) (*Engine, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return &Engine{}, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+1)
	options = append(options, rego.Query(Query))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy query", goerr.V("query", Query))
	}

	logging.From(ctx).Debug("loaded visibility policies", "dir", dir, "files", len(files))
	return &Engine{query: &prepared}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func buildInput(brand *model.Brand, score *model.VisibilityScore) map[string]any {
	var avgPosition any
	if score.AvgPosition != nil {
		avgPosition = *score.AvgPosition
	}

	return map[string]any{
		"brand": map[string]any{
			"id":         string(brand.ID),
			"name":       brand.Name,
			"competitor": brand.IsCompetitor,
			"category":   brand.Category,
		},
		"score": map[string]any{
			"provider":            string(score.Provider),
			"mention_rate":        score.MentionRate,
			"avg_position":        avgPosition,
			"sentiment_score":     score.SentimentScore,
			"recommendation_rate": score.RecommendationRate,
			"period_start":        formatTime(score.PeriodStart),
			"period_end":          formatTime(score.PeriodEnd),
		},
	}
}

// Evaluate runs the alert rules for one score of brand
func (e *Engine) Evaluate(ctx context.Context, brand *model.Brand, score *model.VisibilityScore) ([]*Alert, error) {
	if e == nil || e.query == nil {
		return nil, nil
	}

	rs, err := e.query.Eval(ctx,
		rego.EvalInput(buildInput(brand, score)),
		rego.EvalPrintHook(&printHook{ctx: ctx}),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate visibility policy",
			goerr.V("brand_id", brand.ID))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	values, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, goerr.New("visibility alert rule must be a set",
			goerr.V("brand_id", brand.ID),
			goerr.V("value", rs[0].Expressions[0].Value))
	}

	var alerts []*Alert
	for _, v := range values {
		data, ok := v.(map[string]any)
		if !ok {
			continue
		}
		alert := &Alert{
			BrandID:   brand.ID,
			BrandName: brand.Name,
			Provider:  score.Provider,
			Severity:  getString(data, "severity"),
			Message:   getString(data, "message"),
		}
		if alert.Severity == "" {
			alert.Severity = "medium"
		}
		alerts = append(alerts, alert)
	}

	return alerts, nil
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
