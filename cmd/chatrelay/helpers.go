package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/germanamz/chatrelay/pkg/archive"
	"github.com/germanamz/chatrelay/pkg/engine"
	"github.com/germanamz/chatrelay/pkg/modeladapter/usage"
	"github.com/joho/godotenv"
)

// defaultConfigFiles are tried in order when no -config flag is given.
var defaultConfigFiles = []string{"chatrelay.yaml", "chatrelay.yml", "chatrelay.toml"}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// resolveConfigPath returns the explicit path, else the first default config
// file that exists, else "" (configure from the environment).
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	for _, name := range defaultConfigFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}

	return ""
}

func loadConfig(path string) (engine.Config, error) {
	if path == "" {
		return engine.ConfigFromEnv(), nil
	}
	return engine.LoadConfig(path)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// logEvents writes exchange events to logger until events is closed.
func logEvents(events <-chan engine.Event, logger *slog.Logger) {
	for ev := range events {
		l := logger.With("session", ev.SessionID)

		switch ev.Kind {
		case engine.EventSessionStart:
			l.Debug("session start")
		case engine.EventSessionEnd:
			if err, ok := ev.Data.(error); ok && err != nil {
				l.Debug("session end", "error", err)
			} else {
				l.Debug("session end")
			}
		case engine.EventExchangeStart:
			if info, ok := ev.Data.(engine.ExchangeInfo); ok {
				l.Debug("exchange start", "seq", info.Seq)
			}
		case engine.EventExchangeEnd:
			info, ok := ev.Data.(engine.ExchangeInfo)
			if !ok {
				continue
			}
			level := slog.LevelInfo
			if info.Outcome != archive.OutcomeCompleted {
				level = slog.LevelWarn
			}
			l.Log(context.Background(), level, "exchange end",
				"seq", info.Seq,
				"model", info.Model,
				"outcome", info.Outcome,
				"chars", info.Chars,
			)
		}
	}
}

// logUsage writes the token totals collected by the provider, if any.
func logUsage(logger *slog.Logger, t *usage.Tracker) {
	if t == nil || t.Count() == 0 {
		return
	}

	total := t.Total()
	logger.Info("token usage",
		"exchanges", t.Count(),
		"input", fmtTokens(total.InputTokens),
		"output", fmtTokens(total.OutputTokens),
	)

	byModel := t.ByModel()
	models := make([]string, 0, len(byModel))
	for m := range byModel {
		models = append(models, m)
	}
	slices.Sort(models)

	for _, m := range models {
		tc := byModel[m]
		logger.Debug("token usage by model", "model", m, "total", fmtTokens(tc.Total()))
	}
}

// fmtTokens formats a token count in a compact human-readable form.
func fmtTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
