package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Black-And-White-Club/avery/app"
	"github.com/Black-And-White-Club/avery/config"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cliApp := &cli.App{
		Name:  "avery",
		Usage: "image description scoring backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "config.yaml",
				Usage: "path to the configuration file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the websocket and polling API",
				Action: func(c *cli.Context) error {
					return run(c, (*app.App).Serve)
				},
			},
			{
				Name:  "worker",
				Usage: "run the pipeline workers and the scheduled repair sweep",
				Action: func(c *cli.Context) error {
					return run(c, (*app.App).Work)
				},
			},
			{
				Name:  "sweep",
				Usage: "run one repair sweep and exit",
				Action: func(c *cli.Context) error {
					return run(c, (*app.App).Sweep)
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context, mode func(*app.App, context.Context) error) error {
	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer application.Close()

	return mode(application, ctx)
}
