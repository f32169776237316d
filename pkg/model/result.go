package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidProvider  = goerr.New("invalid provider")
	ErrInvalidSentiment = goerr.New("invalid sentiment")
)

// ProviderID identifies an AI answer service
type ProviderID string

const (
	ProviderOpenAI     ProviderID = "openai"
	ProviderAnthropic  ProviderID = "anthropic"
	ProviderPerplexity ProviderID = "perplexity"
	ProviderGemini     ProviderID = "gemini"
)

// Validate checks if the provider is one of the known services
func (p ProviderID) Validate() error {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderPerplexity, ProviderGemini:
		return nil
	default:
		return goerr.Wrap(ErrInvalidProvider, "unknown provider", goerr.V("provider", p))
	}
}

type QueryResultID string

// NewQueryResultID generates a new unique QueryResultID
func NewQueryResultID() QueryResultID {
	return QueryResultID(uuid.New().String())
}

// QueryResult is one raw provider answer to one search query
type QueryResult struct {
	ID            QueryResultID
	WorkspaceID   WorkspaceID
	SearchQueryID SearchQueryID
	Provider      ProviderID
	RawText       string
	Model         string
	TokensUsed    int64
	LatencyMS     int64
	ExecutedAt    time.Time
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Validate checks if the sentiment is valid
func (s Sentiment) Validate() error {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return nil
	default:
		return goerr.Wrap(ErrInvalidSentiment, "unknown sentiment", goerr.V("sentiment", s))
	}
}

type BrandMentionID string

// NewBrandMentionID generates a new unique BrandMentionID
func NewBrandMentionID() BrandMentionID {
	return BrandMentionID(uuid.New().String())
}

// BrandMention is one fact about one brand within one query result
type BrandMention struct {
	ID            BrandMentionID
	QueryResultID QueryResultID
	BrandID       BrandID
	Mentioned     bool
	// Position is the 1-based rank among mentioned brands. nil iff Mentioned is false.
	Position    *int
	Sentiment   Sentiment
	Context     string
	Recommended bool
	CreatedAt   time.Time
}

// Validate checks field consistency of the mention
func (m *BrandMention) Validate() error {
	if m.QueryResultID == "" || m.BrandID == "" {
		return goerr.New("mention must reference a query result and a brand", goerr.V("mention_id", m.ID))
	}
	if err := m.Sentiment.Validate(); err != nil {
		return err
	}
	if m.Mentioned != (m.Position != nil) {
		return goerr.New("position must be set iff brand is mentioned",
			goerr.V("mention_id", m.ID),
			goerr.V("mentioned", m.Mentioned))
	}
	if m.Position != nil && *m.Position < 1 {
		return goerr.New("position must be 1-based", goerr.V("position", *m.Position))
	}
	return nil
}
