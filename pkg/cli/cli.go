package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/sightline/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Version is reported by the MCP server and --version
const Version = "0.1.0"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logCfg logConfig
	cmd := &cli.Command{
		Name:    "sightline",
		Usage:   "Track how AI answer services mention your brands and competitors",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("SIGHTLINE_LOG_LEVEL"),
				Destination: &logCfg.level,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Value:       string(logging.FormatConsole),
				Sources:     cli.EnvVars("SIGHTLINE_LOG_FORMAT"),
				Destination: &logCfg.format,
			},
		},
		Commands: []*cli.Command{
			runCommand(&logCfg),
			scoreCommand(&logCfg),
			scoresCommand(&logCfg),
			trendCommand(&logCfg),
			mentionsCommand(&logCfg),
			exportCommand(&logCfg),
			serveCommand(&logCfg),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.From(ctx).Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

type logConfig struct {
	level  string
	format string
}

// withLogger installs the logger of --log-level and --log-format into ctx
// before running action. Logs go to stderr so that stdout carries only
// command output.
func withLogger(logCfg *logConfig, action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		logger, err := logging.NewWithFormat(logCfg.level, logging.Format(logCfg.format), os.Stderr)
		if err != nil {
			return err
		}
		logging.SetDefault(logger)
		return action(logging.With(ctx, logger), c)
	}
}
