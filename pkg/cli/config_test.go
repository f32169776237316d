package cli

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/sightline/pkg/model"
)

const seedYAML = `workspace:
  id: ws-outdoor
  name: Outdoor
brands:
  - name: Acme
    category: tents
  - name: Zenith
    competitor: true
queries:
  - text: What is the best winter tent?
`

func writeSeed(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(seedYAML), 0644))
	return path
}

func TestNewRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("providers with credentials by default", func(t *testing.T) {
		cfg := &config{anthropicAPIKey: "sk-ant", perplexityAPIKey: "pplx", providerMaxTokens: 1000}
		reg, err := cfg.newRegistry(ctx)
		gt.NoError(t, err)
		gt.Equal(t, reg.Len(), 2)

		var ids []model.ProviderID
		for _, p := range reg.Providers() {
			ids = append(ids, p.ID())
		}
		gt.True(t, slices.Contains(ids, model.ProviderAnthropic))
		gt.True(t, slices.Contains(ids, model.ProviderPerplexity))
		gt.False(t, slices.Contains(ids, model.ProviderOpenAI))
	})

	t.Run("explicit provider list", func(t *testing.T) {
		cfg := &config{anthropicAPIKey: "sk-ant", openaiAPIKey: "sk", providers: []string{" OpenAI "}}
		reg, err := cfg.newRegistry(ctx)
		gt.NoError(t, err)
		gt.Equal(t, reg.Len(), 1)
		gt.Equal(t, reg.Providers()[0].ID(), model.ProviderOpenAI)
	})

	t.Run("listed provider without credential", func(t *testing.T) {
		cfg := &config{anthropicAPIKey: "sk-ant", providers: []string{"openai"}}
		_, err := cfg.newRegistry(ctx)
		gt.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := &config{providers: []string{"bing"}}
		_, err := cfg.newRegistry(ctx)
		gt.Error(t, err)
	})

	t.Run("no credential at all", func(t *testing.T) {
		cfg := &config{}
		_, err := cfg.newRegistry(ctx)
		gt.Error(t, err)
	})
}

func TestNewExtractor(t *testing.T) {
	ctx := context.Background()

	cfg := &config{extractor: "anthropic", anthropicAPIKey: "sk-ant"}
	x, err := cfg.newExtractor(ctx)
	gt.NoError(t, err)
	gt.V(t, x).NotNil()

	cfg = &config{extractor: "openai", anthropicAPIKey: "sk-ant"}
	_, err = cfg.newExtractor(ctx)
	gt.Error(t, err)
}

func TestNewRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("memory with seed", func(t *testing.T) {
		cfg := &config{backend: "memory", seedPath: writeSeed(t)}
		repo, closeRepo, err := cfg.newRepository(ctx)
		gt.NoError(t, err)
		defer closeRepo()

		wsID, err := cfg.workspace()
		gt.NoError(t, err)
		gt.Equal(t, wsID, model.WorkspaceID("ws-outdoor"))

		brands, err := repo.ListBrands(ctx, wsID)
		gt.NoError(t, err)
		gt.A(t, brands).Length(2)
	})

	t.Run("explicit workspace is kept", func(t *testing.T) {
		cfg := &config{backend: "memory", seedPath: writeSeed(t), workspaceID: "other"}
		_, closeRepo, err := cfg.newRepository(ctx)
		gt.NoError(t, err)
		defer closeRepo()

		wsID, err := cfg.workspace()
		gt.NoError(t, err)
		gt.Equal(t, wsID, model.WorkspaceID("other"))
	})

	t.Run("missing settings", func(t *testing.T) {
		for _, cfg := range []*config{
			{backend: "firestore"},
			{backend: "postgres"},
			{backend: "sqlite"},
		} {
			_, _, err := cfg.newRepository(ctx)
			gt.Error(t, err)
		}
	})

	t.Run("no workspace", func(t *testing.T) {
		cfg := &config{backend: "memory"}
		_, err := cfg.workspace()
		gt.Error(t, err)
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	seed := writeSeed(t)

	t.Run("scores of a seeded workspace", func(t *testing.T) {
		gt.V(t, Run(ctx, []string{"sightline", "scores", "--seed", seed})).Nil()
	})

	t.Run("mentions of a seeded workspace", func(t *testing.T) {
		gt.V(t, Run(ctx, []string{"sightline", "mentions", "--seed", seed, "--limit", "5"})).Nil()
	})

	t.Run("trend of a seeded workspace", func(t *testing.T) {
		gt.V(t, Run(ctx, []string{"sightline", "trend", "--seed", seed})).Nil()
	})

	t.Run("run without provider credentials", func(t *testing.T) {
		for _, key := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "PERPLEXITY_API_KEY", "GEMINI_API_KEY", "GEMINI_PROJECT_ID"} {
			t.Setenv(key, "")
		}
		err := Run(ctx, []string{"sightline", "run", "--seed", seed})
		gt.V(t, err).NotNil()
		gt.Equal(t, err.Code, 1)
	})

	t.Run("scores without workspace", func(t *testing.T) {
		t.Setenv("SIGHTLINE_WORKSPACE_ID", "")
		t.Setenv("SIGHTLINE_SEED", "")
		err := Run(ctx, []string{"sightline", "scores"})
		gt.V(t, err).NotNil()
	})
}
