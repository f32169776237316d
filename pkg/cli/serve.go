package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/sightline/pkg/service/mcp"
	"github.com/m-mizutani/sightline/pkg/usecase/visibility"
	"github.com/m-mizutani/sightline/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg       config
		transport string
		addr      string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "transport",
			Usage:       "MCP transport (stdio, http)",
			Value:       "stdio",
			Sources:     cli.EnvVars("SIGHTLINE_MCP_TRANSPORT"),
			Destination: &transport,
		},
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address of the http transport",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("SIGHTLINE_MCP_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, providerFlags(&cfg)...)
	flags = append(flags, outputFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve run_analysis, list_scores and trend as MCP tools",
		Flags: flags,
		Action: withLogger(logCfg, func(ctx context.Context, c *cli.Command) error {
			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

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

			server := mcp.NewServer(visibility.New(repo, registry, extractor, opts...), Version)

			switch transport {
			case "stdio":
				logging.From(ctx).Info("MCP stdio server started", "providers", registry.Len())
				return server.RunStdio(ctx)
			case "http":
				return server.RunHTTP(ctx, addr)
			default:
				return goerr.New("unsupported transport",
					goerr.V("transport", transport),
					goerr.V("supported", []string{"stdio", "http"}))
			}
		}),
	}
}
