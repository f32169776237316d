package cli

import (
	"context"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/adapter"
	"github.com/m-mizutani/sightline/pkg/extract"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/policy"
	"github.com/m-mizutani/sightline/pkg/provider"
	"github.com/m-mizutani/sightline/pkg/repository"
	"github.com/m-mizutani/sightline/pkg/usecase/visibility"
	"github.com/m-mizutani/sightline/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// extractorMaxTokens gives the extraction call room for one record per brand
const extractorMaxTokens = 4096

// config holds configuration values
type config struct {
	// Repository
	backend     string
	project     string
	database    string
	postgresDSN string
	seedPath    string
	workspaceID string

	// Providers
	providers         []string
	extractor         string
	anthropicAPIKey   string
	openaiAPIKey      string
	perplexityAPIKey  string
	geminiAPIKey      string
	geminiProject     string
	geminiLocation    string
	anthropicModel    string
	openaiModel       string
	perplexityModel   string
	geminiModel       string
	providerMaxTokens int64
	concurrency       int64

	// Outputs
	policyDir     string
	archiveBucket string
	archivePrefix string
	bqProject     string
	bqDataset     string
	bqTable       string
}

// repositoryFlags returns flags selecting the storage backend and the workspace
func repositoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Storage backend (memory, firestore, postgres)",
			Value:       "memory",
			Sources:     cli.EnvVars("SIGHTLINE_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "postgres-dsn",
			Usage:       "PostgreSQL DSN",
			Sources:     cli.EnvVars("SIGHTLINE_POSTGRES_DSN"),
			Destination: &cfg.postgresDSN,
		},
		&cli.StringFlag{
			Name:        "seed",
			Usage:       "Path to a YAML file with a workspace, brands and queries to store before running",
			Sources:     cli.EnvVars("SIGHTLINE_SEED"),
			Destination: &cfg.seedPath,
		},
		&cli.StringFlag{
			Name:        "workspace",
			Aliases:     []string{"w"},
			Usage:       "Workspace ID. Defaults to the workspace of --seed",
			Sources:     cli.EnvVars("SIGHTLINE_WORKSPACE_ID"),
			Destination: &cfg.workspaceID,
		},
	}
}

// providerFlags returns flags for AI provider credentials and selection
func providerFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "provider",
			Usage:       "Providers to query (openai, anthropic, perplexity, gemini). Defaults to every provider with credentials",
			Sources:     cli.EnvVars("SIGHTLINE_PROVIDERS"),
			Destination: &cfg.providers,
		},
		&cli.StringFlag{
			Name:        "extractor",
			Usage:       "Provider used to extract brand mentions from answers",
			Value:       string(model.ProviderAnthropic),
			Sources:     cli.EnvVars("SIGHTLINE_EXTRACTOR"),
			Destination: &cfg.extractor,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "perplexity-api-key",
			Usage:       "Perplexity API key",
			Sources:     cli.EnvVars("PERPLEXITY_API_KEY"),
			Destination: &cfg.perplexityAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key. Vertex AI is used with --gemini-project when empty",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "anthropic-model",
			Value:       provider.DefaultAnthropicModel,
			Sources:     cli.EnvVars("SIGHTLINE_ANTHROPIC_MODEL"),
			Destination: &cfg.anthropicModel,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Value:       provider.DefaultOpenAIModel,
			Sources:     cli.EnvVars("SIGHTLINE_OPENAI_MODEL"),
			Destination: &cfg.openaiModel,
		},
		&cli.StringFlag{
			Name:        "perplexity-model",
			Value:       provider.DefaultPerplexityModel,
			Sources:     cli.EnvVars("SIGHTLINE_PERPLEXITY_MODEL"),
			Destination: &cfg.perplexityModel,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Value:       provider.DefaultGeminiModel,
			Sources:     cli.EnvVars("SIGHTLINE_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.IntFlag{
			Name:        "max-tokens",
			Usage:       "Maximum answer tokens per provider call",
			Value:       provider.DefaultMaxTokens,
			Sources:     cli.EnvVars("SIGHTLINE_MAX_TOKENS"),
			Destination: &cfg.providerMaxTokens,
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Aliases:     []string{"c"},
			Usage:       "Maximum number of provider calls in flight",
			Value:       visibility.DefaultConcurrency,
			Sources:     cli.EnvVars("SIGHTLINE_CONCURRENCY"),
			Destination: &cfg.concurrency,
		},
	}
}

// outputFlags returns flags for alert policies, report archive and export
func outputFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of *.rego files evaluated for every computed score",
			Sources:     cli.EnvVars("SIGHTLINE_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket receiving a JSON report of each analysis",
			Sources:     cli.EnvVars("SIGHTLINE_ARCHIVE_BUCKET"),
			Destination: &cfg.archiveBucket,
		},
		&cli.StringFlag{
			Name:        "archive-prefix",
			Usage:       "Object key prefix of archived reports",
			Value:       "reports",
			Sources:     cli.EnvVars("SIGHTLINE_ARCHIVE_PREFIX"),
			Destination: &cfg.archivePrefix,
		},
	}
}

// bigqueryFlags returns flags for the score export destination
func bigqueryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bq-project",
			Usage:       "Google Cloud project ID for BigQuery",
			Sources:     cli.EnvVars("SIGHTLINE_BQ_PROJECT"),
			Destination: &cfg.bqProject,
		},
		&cli.StringFlag{
			Name:        "bq-dataset",
			Usage:       "BigQuery dataset ID",
			Sources:     cli.EnvVars("SIGHTLINE_BQ_DATASET"),
			Destination: &cfg.bqDataset,
		},
		&cli.StringFlag{
			Name:        "bq-table",
			Usage:       "BigQuery table ID",
			Value:       "visibility_scores",
			Sources:     cli.EnvVars("SIGHTLINE_BQ_TABLE"),
			Destination: &cfg.bqTable,
		},
	}
}

// newRepository creates the repository of the selected backend and stores the
// seed file if given. The returned closer releases the backend connection.
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, func(), error) {
	var (
		repo   repository.Repository
		closer io.Closer
	)

	switch cfg.backend {
	case "memory":
		repo = repository.NewMemory()

	case "firestore":
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required for firestore backend")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required for firestore backend")
		}
		fs, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		repo, closer = fs, fs

	case "postgres":
		if cfg.postgresDSN == "" {
			return nil, nil, goerr.New("postgres-dsn is required for postgres backend")
		}
		pg, err := repository.NewPostgres(ctx, cfg.postgresDSN)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		repo, closer = pg, pg

	default:
		return nil, nil, goerr.New("unsupported backend",
			goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{"memory", "firestore", "postgres"}))
	}

	closeFn := func() {
		if closer == nil {
			return
		}
		if err := closer.Close(); err != nil {
			logging.From(ctx).Warn("failed to close repository", "error", err)
		}
	}

	if cfg.seedPath != "" {
		ws, err := repository.LoadSeed(ctx, repo, cfg.seedPath)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		if cfg.workspaceID == "" {
			cfg.workspaceID = string(ws.ID)
		}
		logging.From(ctx).Info("seed loaded", "path", cfg.seedPath, "workspace_id", ws.ID)
	}

	return repo, closeFn, nil
}

// workspace returns the selected workspace ID
func (cfg *config) workspace() (model.WorkspaceID, error) {
	if cfg.workspaceID == "" {
		return "", goerr.New("workspace is required, set --workspace or --seed")
	}
	return model.WorkspaceID(cfg.workspaceID), nil
}

func (cfg *config) hasCredential(id model.ProviderID) bool {
	switch id {
	case model.ProviderAnthropic:
		return cfg.anthropicAPIKey != ""
	case model.ProviderOpenAI:
		return cfg.openaiAPIKey != ""
	case model.ProviderPerplexity:
		return cfg.perplexityAPIKey != ""
	case model.ProviderGemini:
		return cfg.geminiAPIKey != "" || cfg.geminiProject != ""
	}
	return false
}

// newProvider creates one provider. maxTokens overrides --max-tokens when > 0.
func (cfg *config) newProvider(ctx context.Context, id model.ProviderID, maxTokens int64) (provider.Provider, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if !cfg.hasCredential(id) {
		return nil, goerr.New("no credential for provider", goerr.V("provider", id))
	}
	if maxTokens <= 0 {
		maxTokens = cfg.providerMaxTokens
	}
	opt := provider.WithMaxTokens(maxTokens)

	switch id {
	case model.ProviderAnthropic:
		return provider.NewAnthropic(adapter.NewClaude(cfg.anthropicAPIKey), opt, provider.WithModel(cfg.anthropicModel)), nil

	case model.ProviderOpenAI:
		return provider.NewOpenAI(adapter.NewOpenAI(cfg.openaiAPIKey), opt, provider.WithModel(cfg.openaiModel)), nil

	case model.ProviderPerplexity:
		client := adapter.NewOpenAI(cfg.perplexityAPIKey, adapter.WithBaseURL(provider.PerplexityBaseURL))
		return provider.NewPerplexity(client, opt, provider.WithModel(cfg.perplexityModel)), nil

	case model.ProviderGemini:
		var (
			client *adapter.GeminiClient
			err    error
		)
		if cfg.geminiAPIKey != "" {
			client, err = adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey)
		} else {
			client, err = adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation)
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create Gemini client")
		}
		return provider.NewGemini(client, opt, provider.WithModel(cfg.geminiModel)), nil
	}

	return nil, goerr.New("unsupported provider", goerr.V("provider", id))
}

// newRegistry creates the providers selected by --provider, or every provider
// with credentials when none is selected
func (cfg *config) newRegistry(ctx context.Context) (*provider.Registry, error) {
	ids := make([]model.ProviderID, 0, len(cfg.providers))
	for _, p := range cfg.providers {
		ids = append(ids, model.ProviderID(strings.ToLower(strings.TrimSpace(p))))
	}
	if len(ids) == 0 {
		for _, id := range []model.ProviderID{
			model.ProviderOpenAI,
			model.ProviderAnthropic,
			model.ProviderPerplexity,
			model.ProviderGemini,
		} {
			if cfg.hasCredential(id) {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, goerr.New("no provider is configured, set at least one API key")
	}

	providers := make([]provider.Provider, 0, len(ids))
	for _, id := range ids {
		p, err := cfg.newProvider(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return provider.NewRegistry(providers...)
}

// newExtractor creates the mention extractor on top of the --extractor provider
func (cfg *config) newExtractor(ctx context.Context) (*extract.Extractor, error) {
	llm, err := cfg.newProvider(ctx, model.ProviderID(cfg.extractor), extractorMaxTokens)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create extractor provider")
	}
	return extract.New(llm)
}

// outputOptions builds use case options for policies, archive and export
func (cfg *config) outputOptions(ctx context.Context) ([]visibility.Option, error) {
	var opts []visibility.Option

	if cfg.policyDir != "" {
		engine, err := policy.Load(ctx, cfg.policyDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, visibility.WithPolicy(engine))
	}

	if cfg.archiveBucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.archiveBucket)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		opts = append(opts, visibility.WithArchive(storage, cfg.archivePrefix))
	}

	if cfg.bqDataset != "" {
		if cfg.bqProject == "" {
			return nil, goerr.New("bq-project is required with bq-dataset")
		}
		bq, err := adapter.NewBigQuery(ctx, cfg.bqProject)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create BigQuery client")
		}
		opts = append(opts, visibility.WithBigQuery(bq, cfg.bqDataset, cfg.bqTable))
	}

	return opts, nil
}
