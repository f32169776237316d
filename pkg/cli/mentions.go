package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/usecase/visibility"
	"github.com/urfave/cli/v3"
)

func mentionsCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of mentions",
			Value:       visibility.DefaultRecentMentions,
			Sources:     cli.EnvVars("SIGHTLINE_MENTIONS_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "mentions",
		Usage: "List the latest brand mentions extracted from provider answers",
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

			views, err := uc.RecentMentions(ctx, workspaceID, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list recent mentions")
			}
			printMentions(c.Root().Writer, views)
			return nil
		}),
	}
}

func printMentions(w io.Writer, views []*visibility.MentionView) {
	if len(views) == 0 {
		fmt.Fprintf(w, "No mentions\n")
		return
	}

	fmt.Fprintf(w, "%-20s %-24s %-10s %-9s %4s %-9s %-9s %s\n",
		"EXECUTED_AT", "BRAND", "PROVIDER", "MENTIONED", "POS", "SENTIMENT", "RECOMMEND", "CONTEXT")
	for _, v := range views {
		pos := "-"
		if v.Position != nil {
			pos = fmt.Sprintf("%d", *v.Position)
		}
		fmt.Fprintf(w, "%-20s %-24s %-10s %-9t %4s %-9s %-9t %s\n",
			v.ExecutedAt.UTC().Format(time.RFC3339), v.BrandName, v.Provider,
			v.Mentioned, pos, v.Sentiment, v.Recommended, v.Context)
	}
}
