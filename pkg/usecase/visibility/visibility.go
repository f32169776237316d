package visibility

import (
	"context"
	"time"

	"github.com/m-mizutani/sightline/pkg/adapter"
	"github.com/m-mizutani/sightline/pkg/extract"
	"github.com/m-mizutani/sightline/pkg/policy"
	"github.com/m-mizutani/sightline/pkg/provider"
	"github.com/m-mizutani/sightline/pkg/repository"
)

// DefaultConcurrency is the number of (query, provider) units in flight
const DefaultConcurrency = 4

// Extractor turns one provider answer into mention records
type Extractor interface {
	Extract(ctx context.Context, responseText string, brandNames []string) ([]*extract.Mention, error)
}

// UseCase runs the visibility analysis pipeline of a workspace
type UseCase struct {
	repo        repository.Repository
	registry    *provider.Registry
	extractor   Extractor
	concurrency int
	now         func() time.Time

	policy *policy.Engine

	archive       adapter.Storage
	archivePrefix string

	bq        adapter.BigQuery
	bqDataset string
	bqTable   string
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithConcurrency bounds the number of units in flight. Values below 1 are
// treated as 1.
func WithConcurrency(n int) Option {
	return func(uc *UseCase) {
		if n < 1 {
			n = 1
		}
		uc.concurrency = n
	}
}

// WithClock replaces time.Now for timestamps of results and scores
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// WithPolicy evaluates alert rules for every computed score in RunAnalysis
func WithPolicy(engine *policy.Engine) Option {
	return func(uc *UseCase) {
		uc.policy = engine
	}
}

// WithArchive writes a JSON report of every RunAnalysis under prefix
func WithArchive(storage adapter.Storage, prefix string) Option {
	return func(uc *UseCase) {
		uc.archive = storage
		uc.archivePrefix = prefix
	}
}

// WithBigQuery sets the destination table of ExportScores
func WithBigQuery(bq adapter.BigQuery, dataset, table string) Option {
	return func(uc *UseCase) {
		uc.bq = bq
		uc.bqDataset = dataset
		uc.bqTable = table
	}
}

// New creates a new visibility UseCase instance
func New(
	repo repository.Repository,
	registry *provider.Registry,
	extractor Extractor,
	opts ...Option,
) *UseCase {
	uc := &UseCase{
		repo:        repo,
		registry:    registry,
		extractor:   extractor,
		concurrency: DefaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}
