// Package main runs the emotion detection server and its companion commands.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagPort          = "port"
	flagBackend       = "backend"
	flagCaptureSource = "capture-source"
	flagCapturePath   = "capture-path"
	flagModel         = "model"
	flagLogLevel      = "log-level"
)

func main() {
	app := &cli.App{
		Name:  "emotiscan",
		Usage: "detect facial emotions from a live capture source",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagBackend,
				Usage: "classifier backend: http, gemini or mock (overrides CLASSIFIER_BACKEND)",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "log level (overrides LOG_LEVEL)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP and websocket server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagPort,
						Aliases: []string{"p"},
						Usage:   "listen port (overrides PORT)",
					},
					&cli.StringFlag{
						Name:  flagCaptureSource,
						Usage: "capture source: synthetic, file or folder (overrides CAPTURE_SOURCE)",
					},
					&cli.StringFlag{
						Name:  flagCapturePath,
						Usage: "image `PATH` for file and folder capture (overrides CAPTURE_PATH)",
					},
				},
				Action: ServeAction,
			},
			{
				Name:      "detect",
				Usage:     "classify a single image and print the ranked emotions",
				ArgsUsage: "<image>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagModel,
						Aliases: []string{"m"},
						Usage:   "model to use (defaults to DEFAULT_MODEL)",
					},
				},
				Action: DetectAction,
			},
			{
				Name:   "models",
				Usage:  "list the models offered by the classifier",
				Action: ModelsAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
