package extract

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/provider"
	"github.com/m-mizutani/sightline/pkg/utils/logging"
)

//go:embed prompt/extract.md
var extractPromptRaw string

var extractPromptTmpl = template.Must(template.New("extract").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(extractPromptRaw))

// SystemPrompt replaces the shopping assistant prompt of the provider used for extraction
const SystemPrompt = "You are a precise information extraction engine. You analyze text for brand mentions and reply with JSON only, without any explanation."

// Mention is the structured fact about one brand in one answer
type Mention struct {
	// BrandName is spelled as given in the input brand list
	BrandName string
	Mentioned bool
	// Position is the 1-based rank among mentioned brands, nil iff not mentioned
	Position    *int
	Sentiment   model.Sentiment
	Recommended bool
	Context     string
	// LexicalHit reports whether the brand name occurs verbatim (case-insensitive)
	// in the answer. It is advisory and never overrides Mentioned.
	LexicalHit bool
}

// Extractor turns a free-text answer into mention records using an LLM
type Extractor struct {
	llm    provider.Provider
	schema *jsonschema.Resolved
}

// New creates an Extractor backed by llm
func New(llm provider.Provider) (*Extractor, error) {
	if llm == nil {
		return nil, goerr.New("extraction provider is required")
	}

	resolved, err := replySchema().Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve extraction schema")
	}

	return &Extractor{llm: llm, schema: resolved}, nil
}

// Extract returns one Mention per distinct brand name, in input order. An
// empty brand list returns an empty result without calling the LLM.
func (x *Extractor) Extract(ctx context.Context, responseText string, brandNames []string) ([]*Mention, error) {
	brands := dedupNames(brandNames)
	if len(brands) == 0 {
		return []*Mention{}, nil
	}

	hits := Prefilter(responseText, brands)

	var buf bytes.Buffer
	if err := extractPromptTmpl.Execute(&buf, map[string]any{
		"Brands":   brands,
		"Response": responseText,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute extract prompt template", goerr.T(model.ErrTagExtraction))
	}

	resp, err := x.llm.Query(ctx, &provider.Request{
		Text:         buf.String(),
		SystemPrompt: SystemPrompt,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call extraction service",
			goerr.T(model.ErrTagExtraction),
			goerr.V("extractor", x.llm.ID()))
	}

	mentions, err := x.decode(resp.Text, brands)
	if err != nil {
		return nil, err
	}

	for i, m := range mentions {
		m.LexicalHit = hits[i]
	}

	logging.From(ctx).Debug("extracted mentions",
		"extractor", x.llm.ID(),
		"brands", len(brands),
		"mentioned", countMentioned(mentions))

	return mentions, nil
}

// Prefilter reports, for each brand name, whether it occurs in text ignoring case
func Prefilter(text string, brandNames []string) []bool {
	lower := strings.ToLower(text)
	hits := make([]bool, len(brandNames))
	for i, name := range brandNames {
		hits[i] = name != "" && strings.Contains(lower, strings.ToLower(name))
	}
	return hits
}

// dedupNames drops empty names and case-insensitive duplicates, keeping the
// first spelling
func dedupNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

func countMentioned(mentions []*Mention) int {
	n := 0
	for _, m := range mentions {
		if m.Mentioned {
			n++
		}
	}
	return n
}
