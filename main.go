// ABOUTME: Entry point for the motor-imagery training driver
// ABOUTME: Parses configuration, sets up logging and runs one session
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/neurobridge/mitrain/internal/app"
	"github.com/neurobridge/mitrain/internal/config"
	"github.com/neurobridge/mitrain/internal/training"
	"github.com/neurobridge/mitrain/internal/version"
)

func main() {
	envFile := os.Getenv(config.EnvPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadEnvFile(envFile); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	cfg, err := config.Parse(filepath.Base(os.Args[0]), os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Set up logging
	if dir := filepath.Dir(cfg.LogFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("error creating log directory: %v", err)
		}
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if cfg.NoTUI {
		// Streaming logs mode: log to both stdout and file
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	} else {
		// TUI mode: log only to file
		log.SetOutput(f)
	}

	log.Printf("Starting %s", version.Banner())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := app.New(cfg)
	if err := session.Setup(ctx); err != nil {
		_ = session.Close()
		log.Printf("Session setup failed: %v", err)
		fmt.Fprintf(os.Stderr, "Session setup failed: %v\n", err)
		os.Exit(1)
	}

	tuiDone := make(chan struct{})
	if tui := session.TUI(); tui != nil {
		go func() {
			defer close(tuiDone)
			if err := tui.Run(session.ID()); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
	} else {
		close(tuiDone)
		go session.ReadTriggers(os.Stdin)
	}

	runErr := session.Run(ctx)
	if err := session.Close(); err != nil {
		log.Printf("Error closing session: %v", err)
	}
	<-tuiDone

	r := session.Result()
	summary := fmt.Sprintf("Session %s: %d trials, %d valid, total score %.1f, mean %.1f",
		r.ID, r.Trials, r.ValidTrials, r.TotalScore, r.MeanScore)
	log.Printf("%s", summary)
	if !cfg.NoTUI {
		fmt.Println(summary)
	}

	switch {
	case runErr == nil:
	case errors.Is(runErr, training.ErrAborted):
		log.Printf("Session aborted")
	default:
		log.Printf("Session failed: %v", runErr)
		fmt.Fprintf(os.Stderr, "Session failed: %v\n", runErr)
		os.Exit(1)
	}
}
