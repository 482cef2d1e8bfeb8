package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/refsync/internal"
	pkgconfig "github.com/starford/refsync/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func syncOnce(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := internal.SyncOnce(ctx, cmd.Bool("full"), internal.WithConfig(cfg))
	fmt.Println(out.Summary())
	return err
}

func syncItem(ctx context.Context, cmd *cli.Command) error {
	key := cmd.Args().First()
	if key == "" {
		return fmt.Errorf("usage: refsync sync-item KEY")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := internal.SyncItem(ctx, key, internal.WithConfig(cfg))
	fmt.Println(out.Summary())
	return err
}

func clearState(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ClearState(ctx, internal.WithConfig(cfg))
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:   "refsync",
		Usage:  "Sync tagged reference-library records into Markdown notes, keeping tags in step both ways",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, the scheduler and the vault watcher",
				Action: serve,
			},
			{
				Name:  "sync",
				Usage: "Run one sync cycle and exit",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Ignore the library cursor and check every tagged record",
					},
				},
				Action: syncOnce,
			},
			{
				Name:      "sync-item",
				Usage:     "Refresh the document of one record",
				ArgsUsage: "KEY",
				Action:    syncItem,
			},
			{
				Name:   "clear-state",
				Usage:  "Forget all baselines so the next cycle treats every record as first seen",
				Action: clearState,
			},
			{
				Name:   "mcp",
				Usage:  "Serve sync tools over MCP stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
