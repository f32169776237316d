package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/model"
	"github.com/m-mizutani/sightline/pkg/repository"
	"github.com/m-mizutani/sightline/pkg/usecase/visibility"
	"github.com/urfave/cli/v3"
)

// newReadOnlyUseCase creates a use case for commands that never call a provider
func newReadOnlyUseCase(repo repository.Repository, opts ...visibility.Option) *visibility.UseCase {
	return visibility.New(repo, nil, nil, opts...)
}

func scoreCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg    config
		period time.Duration
		scope  string
	)

	flags := []cli.Flag{
		&cli.DurationFlag{
			Name:        "period",
			Usage:       "Length of the scoring window ending now",
			Value:       24 * time.Hour,
			Sources:     cli.EnvVars("SIGHTLINE_PERIOD"),
			Destination: &period,
		},
		&cli.StringFlag{
			Name:        "scope",
			Usage:       "Restrict the aggregation to answers of one provider. Empty means all providers",
			Sources:     cli.EnvVars("SIGHTLINE_SCORE_SCOPE"),
			Destination: &scope,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "score",
		Usage: "Compute visibility scores from stored mentions without querying providers",
		Flags: flags,
		Action: withLogger(logCfg, func(ctx context.Context, c *cli.Command) error {
			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			workspaceID, err := cfg.workspace()
			if err != nil {
				return err
			}

			uc := newReadOnlyUseCase(repo)

			var opts []visibility.ScoreOption
			if scope != "" {
				opts = append(opts, visibility.WithProvider(model.ProviderID(scope)))
			}

			end := time.Now().UTC()
			scores, err := uc.ComputeScores(ctx, workspaceID, end.Add(-period), end, opts...)
			if err != nil {
				return goerr.Wrap(err, "failed to compute scores", goerr.V("workspace_id", workspaceID))
			}

			views, err := uc.ScoreViews(ctx, workspaceID, scores)
			if err != nil {
				return err
			}
			printScores(c.Root().Writer, views)
			return nil
		}),
	}
}

func scoresCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of score rows",
			Value:       20,
			Sources:     cli.EnvVars("SIGHTLINE_SCORES_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "scores",
		Usage: "List the latest visibility scores",
		Flags: flags,
		Action: withLogger(logCfg, func(ctx context.Context, c *cli.Command) error {
			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			workspaceID, err := cfg.workspace()
			if err != nil {
				return err
			}

			uc := newReadOnlyUseCase(repo)

			views, err := uc.ListScores(ctx, workspaceID, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list scores")
			}
			printScores(c.Root().Writer, views)
			return nil
		}),
	}
}

func trendCommand(logCfg *logConfig) *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "trend",
		Usage: "Show the daily mean mention rate of own brands and competitors",
		Flags: repositoryFlags(&cfg),
		Action: withLogger(logCfg, func(ctx context.Context, c *cli.Command) error {
			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			workspaceID, err := cfg.workspace()
			if err != nil {
				return err
			}

			uc := newReadOnlyUseCase(repo)

			points, err := uc.Trend(ctx, workspaceID)
			if err != nil {
				return goerr.Wrap(err, "failed to compute trend")
			}

			if len(points) == 0 {
				fmt.Fprintf(c.Root().Writer, "No scores\n")
				return nil
			}
			fmt.Fprintf(c.Root().Writer, "%-10s %8s %11s\n", "DATE", "OWN", "COMPETITOR")
			for _, p := range points {
				fmt.Fprintf(c.Root().Writer, "%-10s %7.1f%% %10.1f%%\n", p.Date, p.MentionRate*100, p.CompetitorAvg*100)
			}
			return nil
		}),
	}
}

func exportCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of latest score rows to export. 0 means all",
			Sources:     cli.EnvVars("SIGHTLINE_EXPORT_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, bigqueryFlags(&cfg)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Insert visibility scores into a BigQuery table",
		Flags: flags,
		Action: withLogger(logCfg, func(ctx context.Context, c *cli.Command) error {
			if cfg.bqDataset == "" {
				return goerr.New("bq-dataset is required")
			}

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			workspaceID, err := cfg.workspace()
			if err != nil {
				return err
			}

			opts, err := cfg.outputOptions(ctx)
			if err != nil {
				return err
			}
			uc := newReadOnlyUseCase(repo, opts...)

			n, err := uc.ExportScores(ctx, workspaceID, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to export scores")
			}
			fmt.Fprintf(c.Root().Writer, "Exported %d score rows to %s.%s\n", n, cfg.bqDataset, cfg.bqTable)
			return nil
		}),
	}
}
