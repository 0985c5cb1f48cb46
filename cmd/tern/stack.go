// ABOUTME: Shared construction of the agent stack behind both CLI modes.
// ABOUTME: Resolves model and auth, then builds tools, backend, session, and processors.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/2389-research/tern/agent"
	"github.com/2389-research/tern/authflow"
	"github.com/2389-research/tern/genai"
	"github.com/2389-research/tern/ignore"
	"github.com/2389-research/tern/mcp"
	"github.com/2389-research/tern/store"
)

// pickModel resolves the model to use: flag, then settings, then the catalog
// default. Catalog aliases ("flash", "pro") expand to canonical model IDs;
// names the catalog does not know pass through unchanged.
func pickModel(cfg config, settings *Settings) string {
	name := cfg.model
	if name == "" {
		name = settings.Model
	}
	if name == "" {
		return genai.DefaultModel
	}
	if info := genai.DefaultCatalog().GetModelInfo(name); info != nil {
		return info.ID
	}
	return name
}

// pickAuthType resolves the backend auth: flag, then settings, then
// environment detection.
func pickAuthType(cfg config, settings *Settings) (genai.AuthType, error) {
	name := cfg.authType
	if name == "" {
		name = settings.AuthType
	}
	if name == "" {
		return genai.DefaultAuthType(), nil
	}
	return genai.ParseAuthType(name)
}

// pickApprovalMode resolves the tool approval mode: flag, then settings,
// then confirm-everything.
func pickApprovalMode(cfg config, settings *Settings) (agent.ApprovalMode, error) {
	name := cfg.approval
	if name == "" {
		name = settings.ApprovalMode
	}
	switch agent.ApprovalMode(name) {
	case "":
		return agent.ApprovalDefault, nil
	case agent.ApprovalDefault, agent.ApprovalAutoEdit, agent.ApprovalYOLO:
		return agent.ApprovalMode(name), nil
	}
	return "", fmt.Errorf("unknown approval mode %q (want default, auto_edit, or yolo)", name)
}

// isGeminiAuth reports whether the auth type targets the Gemini family,
// where quota exhaustion falls back to the flash model.
func isGeminiAuth(at genai.AuthType) bool {
	switch at {
	case genai.AuthGeminiAPIKey, genai.AuthVertexAI, genai.AuthOAuthPersonal:
		return true
	}
	return false
}

// stack bundles everything a CLI mode needs to drive the agent.
type stack struct {
	session      *agent.Session
	gen          genai.ContentGenerator
	registry     *agent.ToolRegistry
	env          *agent.LocalExecutionEnvironment
	manager      *mcp.Manager           // nil when no servers are configured
	transcripts  *store.TranscriptStore // nil when the store failed to open
	processors   []agent.QueryProcessor
	checkpointer *agent.Checkpointer // nil unless checkpointing is enabled
	initial      []*genai.Content    // resumed history, empty for new sessions
	systemPrompt string
	approval     agent.ApprovalMode
	fallback     string // quota fallback model, "" when not applicable
	logger       *slog.Logger
}

// buildStack assembles the agent stack shared by the interactive and
// one-shot modes: execution environment, tool registry, backend, session,
// input processors, and the MCP manager when servers are configured.
func buildStack(ctx context.Context, cfg config, settings *Settings, dir, cwd string, logger *slog.Logger) (*stack, error) {
	model := pickModel(cfg, settings)
	authType, err := pickAuthType(cfg, settings)
	if err != nil {
		return nil, err
	}
	approval, err := pickApprovalMode(cfg, settings)
	if err != nil {
		return nil, err
	}

	filter := ignore.NewFilter(cwd)
	env := agent.NewLocalExecutionEnvironment(cwd, agent.WithIgnoreFilter(filter))

	memoryFile := filepath.Join(dir, memoryFileName)
	registry := agent.NewToolRegistry()
	agent.RegisterCoreTools(registry, env, memoryFile)
	for _, name := range settings.ExcludeTools {
		registry.Unregister(name)
	}

	gen, err := buildGenerator(ctx, dir, authType, cfg.baseURL)
	if err != nil {
		return nil, err
	}

	sessionOpts := []agent.SessionOption{
		agent.WithModel(model),
		agent.WithAuthType(authType),
		agent.WithMaxTurns(settings.maxTurns()),
	}

	transcripts, err := store.Open(filepath.Join(dir, transcriptDBFileName))
	if err != nil {
		logger.Warn("transcript store unavailable", "error", err)
		transcripts = nil
	} else {
		sessionOpts = append(sessionOpts, agent.WithRecorder(transcripts))
	}

	var initial []*genai.Content
	if cfg.resume != "" {
		if transcripts == nil {
			gen.Close()
			return nil, fmt.Errorf("cannot resume %s: transcript store unavailable", cfg.resume)
		}
		initial, err = transcripts.History(cfg.resume)
		if err != nil {
			gen.Close()
			transcripts.Close()
			return nil, fmt.Errorf("resume session: %w", err)
		}
		sessionOpts = append(sessionOpts,
			agent.WithSessionID(cfg.resume),
			agent.WithInitialHistory(initial))
	}

	session := agent.NewSession(sessionOpts...)
	if transcripts != nil {
		if err := transcripts.SetModel(session.ID(), model); err != nil {
			logger.Warn("recording session model", "error", err)
		}
	}

	var checkpointer *agent.Checkpointer
	if settings.checkpointing() {
		checkpointer = agent.NewCheckpointer(
			filepath.Join(projectTempDir(dir, cwd), "checkpoints"), env)
	}

	manager := buildManager(settings, registry, logger)

	s := &stack{
		session:      session,
		gen:          gen,
		registry:     registry,
		env:          env,
		manager:      manager,
		transcripts:  transcripts,
		checkpointer: checkpointer,
		initial:      initial,
		systemPrompt: systemPrompt(memoryFile),
		approval:     approval,
		logger:       logger,
	}
	s.processors = []agent.QueryProcessor{
		NewSlashProcessor(registry, manager, memoryFile, checkpointer, session),
		ShellProcessor{},
		agent.NewAtProcessor(env, filter),
	}
	if isGeminiAuth(authType) && model != genai.DefaultFlashModel {
		s.fallback = genai.DefaultFlashModel
	}
	return s, nil
}

// orchestratorOptions returns the options shared by both modes. Callers
// append their own sinks.
func (s *stack) orchestratorOptions() []agent.OrchestratorOption {
	opts := []agent.OrchestratorOption{
		agent.WithSystemPrompt(s.systemPrompt),
		agent.WithProcessors(s.processors...),
		agent.WithApproval(s.approval),
		agent.WithOrchestratorLogger(s.logger),
	}
	if s.checkpointer != nil {
		opts = append(opts, agent.WithCheckpointer(s.checkpointer))
	}
	if s.fallback != "" {
		opts = append(opts, agent.WithQuotaFallback(s.fallback))
	}
	return opts
}

// Close releases the stack's external resources.
func (s *stack) Close() {
	if s.manager != nil {
		s.manager.Close()
	}
	if s.transcripts != nil {
		if err := s.transcripts.Close(); err != nil {
			s.logger.Warn("closing transcript store", "error", err)
		}
	}
	if err := s.gen.Close(); err != nil {
		s.logger.Warn("closing backend", "error", err)
	}
}

// buildGenerator creates the model backend for the resolved auth type. The
// Google sign-in flow runs here when the OAuth token cache is empty, printing
// the verification URL to stderr.
func buildGenerator(ctx context.Context, dir string, authType genai.AuthType, baseURL string) (genai.ContentGenerator, error) {
	gcfg := &genai.GeneratorConfig{
		AuthType:    authType,
		BaseURL:     baseURL,
		HTTPReferer: "https://github.com/2389-research/tern",
		AppTitle:    "tern",
	}
	if authType == genai.AuthOAuthPersonal {
		flow := &authflow.Flow{
			Config:  genai.CodeAssistOAuthConfig(),
			Store:   &authflow.TokenStore{Path: filepath.Join(dir, oauthCredsFileName)},
			OpenURL: openBrowser,
			AuthURLHook: func(url string) {
				fmt.Fprintf(os.Stderr, "Sign in with Google to continue:\n\n  %s\n\n", url)
			},
		}
		ts, err := flow.TokenSource(ctx)
		if err != nil {
			return nil, fmt.Errorf("google sign-in: %w", err)
		}
		gcfg.TokenSource = ts
	}
	return genai.NewContentGenerator(gcfg)
}

// buildManager creates the MCP manager for the configured servers, skipping
// entries that fail validation. Returns nil when nothing is configured.
func buildManager(settings *Settings, registry *agent.ToolRegistry, logger *slog.Logger) *mcp.Manager {
	if len(settings.MCPServers) == 0 {
		return nil
	}
	servers := make(map[string]*mcp.ServerConfig, len(settings.MCPServers))
	for name, cfg := range settings.MCPServers {
		if cfg == nil {
			continue
		}
		if err := cfg.Validate(); err != nil {
			logger.Warn("skipping MCP server", "server", name, "error", err)
			continue
		}
		servers[name] = cfg
	}
	if len(servers) == 0 {
		return nil
	}
	return mcp.NewManager(servers, registry,
		mcp.WithManagerLogger(logger),
		mcp.WithClientVersion(version))
}

// openBrowser asks the OS to open url. Failures are tolerable; the URL is
// always printed so the user can open it by hand.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
