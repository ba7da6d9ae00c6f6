package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/germanamz/chatrelay/pkg/archive"
	"github.com/germanamz/chatrelay/pkg/engine"
	"github.com/germanamz/chatrelay/pkg/page"
	"github.com/germanamz/chatrelay/pkg/server"
)

func main() {
	// Handle subcommands before flag parsing.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "chat":
			chatCmd := flag.NewFlagSet("chat", flag.ExitOnError)
			chatCmd.Usage = func() {
				fmt.Fprintf(os.Stderr, "Usage: chatrelay chat [flags]\n\nChat with a running relay from the terminal.\n\nFlags:\n")
				chatCmd.PrintDefaults()
			}
			addr := chatCmd.String("addr", "localhost:8000", "relay address (host:port or ws:// URL)")
			_ = chatCmd.Parse(os.Args[2:])

			if err := runChat(*addr); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}

			return
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: chatrelay [serve] [flags]\n       chatrelay chat [flags]\n\nFlags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nWithout a config file the relay is configured from AZURE_OPENAI_* variables.\n")
	}

	configPath := flag.String("config", "", "path to configuration file (default: chatrelay.yaml or chatrelay.toml if present)")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	listen := flag.String("listen", "", "listen address (overrides config)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(*configPath, *listen, newLogger(os.Stderr, *verbose)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run builds the relay from configuration and serves until SIGINT or SIGTERM.
func run(configPath, listen string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(resolveConfigPath(configPath))
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	opts := []engine.Option{engine.WithLogger(logger)}

	if cfg.Archive.Path != "" {
		store, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		opts = append(opts, engine.WithRecorder(store))
		logger.Info("archiving exchanges", "path", cfg.Archive.Path)
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return err
	}

	pg := page.Embedded()
	if cfg.PageFile != "" {
		if pg, err = page.Load(cfg.PageFile); err != nil {
			return err
		}
		if err := pg.Watch(ctx, logger); err != nil {
			return err
		}
	}

	sub := eng.Events().Subscribe(256)
	defer eng.Events().Unsubscribe(sub)
	go logEvents(sub.C, logger)

	logger.Info("starting relay",
		"provider", cfg.Provider.Kind,
		"model", cfg.Provider.Model,
		"listen", cfg.Listen,
	)

	srv := server.New(eng, pg, server.WithLogger(logger))
	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		return err
	}

	logUsage(logger, eng.Usage())

	return nil
}
