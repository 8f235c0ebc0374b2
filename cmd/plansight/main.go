// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/poiesic/plansight"
	"github.com/poiesic/plansight/config"
	"github.com/urfave/cli/v2"
)

// systemOptions are appended when opening the system.
var systemOptions []plansight.Option

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "plansight",
		Usage: "Index construction documents and generate project wikis",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"PLANSIGHT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log output format (text, json)",
				Value: "text",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "index",
				Usage:     "Index PDF documents into a run",
				ArgsUsage: "FILE...",
				Action:    indexCommand,
				Flags: []cli.Flag{
					runFlag(),
					&cli.StringFlag{
						Name:  "name",
						Usage: "Label for a newly created run",
					},
					&cli.StringFlag{
						Name:  "upload-type",
						Usage: "How the documents were received (user_project, email)",
						Value: "user_project",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Re-run every step, ignoring earlier results",
					},
				},
			},
			{
				Name:   "wiki",
				Usage:  "Generate a wiki over a completed index run",
				Action: wikiCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "run",
						Aliases: []string{"r"},
						Usage:   "Index run ID",
					},
					&cli.StringFlag{
						Name:  "resume",
						Usage: "Resume an earlier wiki run by ID",
					},
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Directory to write the markdown pages to",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Search a run and answer a question",
				ArgsUsage: "QUESTION",
				Action:    queryCommand,
				Flags: []cli.Flag{
					runFlag(),
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Maximum number of matches (0 uses the configured value)",
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Minimum similarity (0 uses the configured value)",
					},
					&cli.BoolFlag{
						Name:  "no-answer",
						Usage: "Print matches only, without generating an answer",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show the status of a run and its documents",
				Action: statusCommand,
				Flags: []cli.Flag{
					runFlag(),
					&cli.BoolFlag{
						Name:  "history",
						Usage: "Include every recorded attempt of each step",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Recompute the embeddings of every chunk in a run",
				Action: reembedCommand,
				Flags:  []cli.Flag{runFlag()},
			},
		},
	}
}

func runFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "run",
		Aliases:  []string{"r"},
		Usage:    "Index run ID",
		Required: true,
	}
}

func openSystem(c *cli.Context) (*plansight.System, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	opts := append([]plansight.Option{plansight.WithLogger(slog.Default())}, systemOptions...)
	sys, err := plansight.Open(c.Context, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return sys, nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format := strings.ToLower(c.String("log-format")); format {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", format)
	}
	slog.SetDefault(slog.New(handler))

	return nil
}
