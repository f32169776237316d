package provider_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sightline/pkg/adapter"
	"github.com/m-mizutani/sightline/pkg/provider"
)

func liveQuery(t *testing.T, p provider.Provider) {
	resp, err := p.Query(context.Background(), &provider.Request{
		Text: "What is the best tent for winter camping? Answer in two sentences.",
	})
	gt.NoError(t, err)
	gt.True(t, resp.Text != "")
	gt.Equal(t, resp.Provider, p.ID())
	gt.True(t, resp.TokensUsed > 0)
}

func TestLiveAnthropic(t *testing.T) {
	apiKey := os.Getenv("TEST_ANTHROPIC_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_ANTHROPIC_API_KEY is not set")
	}
	liveQuery(t, provider.NewAnthropic(adapter.NewClaude(apiKey), provider.WithMaxTokens(200)))
}

func TestLiveOpenAI(t *testing.T) {
	apiKey := os.Getenv("TEST_OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_OPENAI_API_KEY is not set")
	}
	liveQuery(t, provider.NewOpenAI(adapter.NewOpenAI(apiKey), provider.WithMaxTokens(200)))
}

func TestLivePerplexity(t *testing.T) {
	apiKey := os.Getenv("TEST_PERPLEXITY_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_PERPLEXITY_API_KEY is not set")
	}
	client := adapter.NewOpenAI(apiKey, adapter.WithBaseURL(provider.PerplexityBaseURL))
	liveQuery(t, provider.NewPerplexity(client, provider.WithMaxTokens(200)))
}

func TestLiveGemini(t *testing.T) {
	apiKey := os.Getenv("TEST_GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_GEMINI_API_KEY is not set")
	}
	client, err := adapter.NewGeminiWithAPIKey(context.Background(), apiKey)
	gt.NoError(t, err)
	liveQuery(t, provider.NewGemini(client, provider.WithMaxTokens(200)))
}
