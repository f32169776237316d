package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/usecase/visibility"
	"github.com/urfave/cli/v3"
)

func runCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg    config
		period time.Duration
	)

	flags := []cli.Flag{
		&cli.DurationFlag{
			Name:        "period",
			Usage:       "Length of the scoring window ending now",
			Value:       24 * time.Hour,
			Sources:     cli.EnvVars("SIGHTLINE_PERIOD"),
			Destination: &period,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, providerFlags(&cfg)...)
	flags = append(flags, outputFlags(&cfg)...)

	return &cli.Command{
		Name:  "run",
		Usage: "Query every provider with the active search queries and compute visibility scores",
		Flags: flags,
		Action: withLogger(logCfg, func(ctx context.Context, c *cli.Command) error {
			if period <= 0 {
				return goerr.New("period must be positive", goerr.V("period", period))
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

			registry, err := cfg.newRegistry(ctx)
			if err != nil {
				return err
			}
			extractor, err := cfg.newExtractor(ctx)
			if err != nil {
				return err
			}

			opts, err := cfg.outputOptions(ctx)
			if err != nil {
				return err
			}
			opts = append(opts, visibility.WithConcurrency(int(cfg.concurrency)))
			uc := visibility.New(repo, registry, extractor, opts...)

			end := time.Now().UTC()
			start := end.Add(-period)

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			s.Suffix = fmt.Sprintf(" querying %d providers", registry.Len())
			s.Start()
			analysis, err := uc.RunAnalysis(ctx, workspaceID, start, end)
			s.Stop()
			if err != nil {
				return goerr.Wrap(err, "failed to run analysis", goerr.V("workspace_id", workspaceID))
			}

			printAnalysis(c.Root().Writer, analysis)
			return nil
		}),
	}
}

func printAnalysis(w io.Writer, a *visibility.Analysis) {
	succeeded, failed := visibility.Summarize(a.Outcomes)
	fmt.Fprintf(w, "Workspace: %s\n", a.WorkspaceID)
	fmt.Fprintf(w, "Period:    %s - %s\n", a.PeriodStart.Format(time.RFC3339), a.PeriodEnd.Format(time.RFC3339))
	fmt.Fprintf(w, "Succeeded: %d, Failed: %d\n", succeeded, failed)

	for _, o := range a.Outcomes {
		if o.Success {
			continue
		}
		fmt.Fprintf(w, "  FAILED [%s] %s %q: %v\n", o.Kind(), o.Provider, o.Query.Text, o.Err)
	}

	fmt.Fprintf(w, "\n")
	printScores(w, a.Views)

	if a.PolicyErr != nil {
		fmt.Fprintf(w, "\nAlert policy failed: %v\n", a.PolicyErr)
	}

	if len(a.Alerts) > 0 {
		fmt.Fprintf(w, "\nAlerts:\n")
		for _, alert := range a.Alerts {
			fmt.Fprintf(w, "  [%s] %s: %s\n", alert.Severity, alert.BrandName, alert.Message)
		}
	}

	if a.ArchiveKey != "" {
		fmt.Fprintf(w, "\nArchived: %s\n", a.ArchiveKey)
	}
}

func printScores(w io.Writer, views []*visibility.ScoreView) {
	if len(views) == 0 {
		fmt.Fprintf(w, "No scores\n")
		return
	}

	fmt.Fprintf(w, "%-24s %-11s %-10s %8s %8s %9s %9s\n",
		"BRAND", "KIND", "PROVIDER", "MENTION", "AVG_POS", "SENTIMENT", "RECOMMEND")
	for _, v := range views {
		kind := "own"
		if v.IsCompetitor {
			kind = "competitor"
		}
		scope := string(v.Provider)
		if scope == "" {
			scope = "all"
		}
		avgPos := "-"
		if v.AvgPosition != nil {
			avgPos = fmt.Sprintf("%.2f", *v.AvgPosition)
		}
		fmt.Fprintf(w, "%-24s %-11s %-10s %7.1f%% %8s %9.2f %8.1f%%\n",
			v.BrandName, kind, scope, v.MentionRate*100, avgPos, v.SentimentScore, v.RecommendationRate*100)
	}
}
