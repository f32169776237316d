package extract

import (
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
)

type replyMention struct {
	BrandName   string `json:"brandName"`
	Mentioned   bool   `json:"mentioned"`
	Position    *int   `json:"position"`
	Sentiment   string `json:"sentiment"`
	Recommended bool   `json:"recommended"`
	Context     string `json:"context"`
}

type reply struct {
	Mentions []replyMention `json:"mentions"`
}

func noExtra() *jsonschema.Schema {
	return &jsonschema.Schema{Not: &jsonschema.Schema{}}
}

// replySchema is the contract of the extraction reply
func replySchema() *jsonschema.Schema {
	mention := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"brandName":   {Type: "string"},
			"mentioned":   {Type: "boolean"},
			"position":    {Types: []string{"integer", "null"}},
			"sentiment":   {Type: "string", Enum: []any{"positive", "neutral", "negative"}},
			"recommended": {Type: "boolean"},
			"context":     {Type: "string"},
		},
		Required:             []string{"brandName", "mentioned", "position", "sentiment", "recommended", "context"},
		AdditionalProperties: noExtra(),
	}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"mentions": {Type: "array", Items: mention},
		},
		Required:             []string{"mentions"},
		AdditionalProperties: noExtra(),
	}
}

func extractionError(msg string, values ...goerr.Option) error {
	opts := append([]goerr.Option{goerr.T(model.ErrTagExtraction)}, values...)
	return goerr.New(msg, opts...)
}

// decode validates the reply and orders the records by brands. Any deviation
// from the contract fails the whole reply.
func (x *Extractor) decode(text string, brands []string) ([]*Mention, error) {
	cleaned := cleanJSON(text)

	var instance any
	if err := json.Unmarshal([]byte(cleaned), &instance); err != nil {
		return nil, goerr.Wrap(err, "extraction reply is not valid JSON",
			goerr.T(model.ErrTagExtraction),
			goerr.V("reply", text))
	}
	if err := x.schema.Validate(instance); err != nil {
		return nil, goerr.Wrap(err, "extraction reply violates schema",
			goerr.T(model.ErrTagExtraction),
			goerr.V("reply", text))
	}

	var parsed reply
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, goerr.Wrap(err, "failed to decode extraction reply",
			goerr.T(model.ErrTagExtraction),
			goerr.V("reply", text))
	}

	index := make(map[string]int, len(brands))
	for i, name := range brands {
		index[strings.ToLower(name)] = i
	}

	out := make([]*Mention, len(brands))
	for _, r := range parsed.Mentions {
		i, ok := index[strings.ToLower(r.BrandName)]
		if !ok {
			return nil, extractionError("extraction reply contains unknown brand", goerr.V("brand", r.BrandName))
		}
		if out[i] != nil {
			return nil, extractionError("extraction reply contains brand twice", goerr.V("brand", r.BrandName))
		}
		if r.Mentioned != (r.Position != nil) {
			return nil, extractionError("position must be set iff brand is mentioned",
				goerr.V("brand", r.BrandName),
				goerr.V("mentioned", r.Mentioned))
		}
		if r.Position != nil && *r.Position < 1 {
			return nil, extractionError("position must be 1-based",
				goerr.V("brand", r.BrandName),
				goerr.V("position", *r.Position))
		}

		out[i] = &Mention{
			BrandName:   brands[i],
			Mentioned:   r.Mentioned,
			Position:    r.Position,
			Sentiment:   model.Sentiment(r.Sentiment),
			Recommended: r.Recommended,
			Context:     r.Context,
		}
	}

	for i, m := range out {
		if m == nil {
			return nil, extractionError("extraction reply misses brand", goerr.V("brand", brands[i]))
		}
	}

	return out, nil
}

// cleanJSON strips markdown code fences and any prose around the JSON object
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// drop the info string such as "json"
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}
