// ABOUTME: CLI entrypoint for the tern coding agent with interactive and one-shot modes.
// ABOUTME: Wires settings, auth, the tool registry, and MCP servers into the agent stack.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/2389-research/tern/store"
)

var version = "dev"

// config holds all CLI configuration parsed from flags.
type config struct {
	prompt       string
	resume       string
	listSessions bool
	model        string
	authType     string
	approval     string
	baseURL      string
	debug        bool
	showVersion  bool
}

func main() {
	loadDotEnvAuto()
	if dir, err := appDir(); err == nil {
		loadDotEnv(filepath.Join(dir, envFileName))
	}

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("tern %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

// parseFlags parses command-line flags and returns a populated config.
func parseFlags() config {
	var cfg config

	fs := flag.NewFlagSet("tern", flag.ContinueOnError)
	fs.StringVar(&cfg.prompt, "p", "", "Answer one prompt non-interactively and exit")
	fs.StringVar(&cfg.resume, "resume", "", "Resume the recorded session with this id")
	fs.BoolVar(&cfg.listSessions, "list-sessions", false, "List recorded sessions and exit")
	fs.StringVar(&cfg.model, "model", "", "Model name (default: gemini-2.5-pro)")
	fs.StringVar(&cfg.authType, "auth", "", "Auth type: gemini-api-key, vertex-ai, oauth-personal, openrouter, openai")
	fs.StringVar(&cfg.approval, "approval", "", "Tool approval mode: default, auto_edit, yolo")
	fs.StringVar(&cfg.baseURL, "base-url", "", "Custom API base URL for the model backend")
	fs.BoolVar(&cfg.debug, "debug", false, "Verbose logging to stderr (non-interactive mode)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(os.Stderr, version)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	return cfg
}

// run dispatches to the selected mode.
// Returns an exit code: 0 for success, 1 for failure.
func run(cfg config) int {
	dir, err := ensureAppDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := installationID(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if cfg.listSessions {
		return runListSessions(dir)
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: resolve working directory: %v\n", err)
		return 1
	}

	settings, err := loadSettings(dir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Cancellation via signal reaches the one-shot mode's Submit; the TUI
	// handles ctrl+c itself through the terminal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if cfg.prompt != "" {
		return runPrompt(ctx, cfg, settings, dir, cwd)
	}
	return runInteractive(ctx, cfg, settings, dir, cwd)
}

// runListSessions prints the recorded sessions, newest first.
func runListSessions(dir string) int {
	transcripts, err := store.Open(filepath.Join(dir, transcriptDBFileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer transcripts.Close()

	sessions, err := transcripts.ListSessions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Println("No recorded sessions.")
		return 0
	}

	fmt.Printf("%-26s  %-22s  %8s  %-20s  %s\n", "SESSION", "MODEL", "MESSAGES", "UPDATED", "TITLE")
	for _, s := range sessions {
		fmt.Printf("%-26s  %-22s  %8d  %-20s  %s\n", s.SessionID, s.Model, s.Messages, s.UpdatedAt, s.Title)
	}
	return 0
}

// buildLogger returns the one-shot mode logger: debug text to stderr with
// -debug, warnings only otherwise.
func buildLogger(debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// discardLogger drops everything. Used while the TUI owns the terminal.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
