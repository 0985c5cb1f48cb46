// ABOUTME: Manager connects configured MCP servers in parallel and registers their tools and prompts.
// ABOUTME: Tracks per-server status with listener notification and runs the OAuth fallback on 401/403.

package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389-research/tern/agent"
)

// Status is the connection state of one MCP server.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// DiscoveryState tracks the overall discovery pass across all servers.
type DiscoveryState string

const (
	DiscoveryNotStarted DiscoveryState = "not_started"
	DiscoveryInProgress DiscoveryState = "in_progress"
	DiscoveryCompleted  DiscoveryState = "completed"
)

// StatusListener observes per-server status changes.
type StatusListener func(server string, status Status)

// serverSession is the slice of the SDK client session the manager drives.
// *mcpsdk.ClientSession satisfies it; tests substitute fakes.
type serverSession interface {
	ListTools(ctx context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error)
	ListPrompts(ctx context.Context, params *mcpsdk.ListPromptsParams) (*mcpsdk.ListPromptsResult, error)
	GetPrompt(ctx context.Context, params *mcpsdk.GetPromptParams) (*mcpsdk.GetPromptResult, error)
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
	Close() error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the structured logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithHTTPClient sets the HTTP client used by HTTP transports and OAuth
// discovery.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = client }
}

// WithAuthenticator sets the OAuth authenticator used when a server rejects
// the connection with 401/403.
func WithAuthenticator(auth *Authenticator) ManagerOption {
	return func(m *Manager) { m.auth = auth }
}

// WithStatusListener registers a listener before discovery starts.
func WithStatusListener(fn StatusListener) ManagerOption {
	return func(m *Manager) { m.listeners = append(m.listeners, fn) }
}

// WithClientVersion sets the version reported in the MCP handshake.
func WithClientVersion(version string) ManagerOption {
	return func(m *Manager) { m.clientVersion = version }
}

// Manager owns the per-server connections plus the process-wide discovery
// state: a status per server, an OAuth-requirement flag per server, and the
// overall discovery state. Construct one per process and Close it on
// shutdown.
type Manager struct {
	servers       map[string]*ServerConfig
	registry      *agent.ToolRegistry
	prompts       *PromptRegistry
	logger        *slog.Logger
	httpClient    *http.Client
	auth          *Authenticator
	clientVersion string

	// connect and authorize are swappable seams for tests.
	connect   func(ctx context.Context, cfg *ServerConfig, bearer string) (serverSession, error)
	authorize func(ctx context.Context, server string, cfg *ServerConfig, challenge string) (string, error)

	mu                sync.Mutex
	statuses          map[string]Status
	requiresOAuth     map[string]bool
	state             DiscoveryState
	listeners         []StatusListener
	sessions          map[string]serverSession
	registeredTools   map[string][]string
	registeredPrompts map[string][]string
}

// NewManager wires a manager around the server map and the tool registry
// that discovered tools are registered into.
func NewManager(servers map[string]*ServerConfig, registry *agent.ToolRegistry, opts ...ManagerOption) *Manager {
	m := &Manager{
		servers:           servers,
		registry:          registry,
		prompts:           NewPromptRegistry(),
		logger:            slog.Default(),
		clientVersion:     "dev",
		statuses:          make(map[string]Status),
		requiresOAuth:     make(map[string]bool),
		state:             DiscoveryNotStarted,
		sessions:          make(map[string]serverSession),
		registeredTools:   make(map[string][]string),
		registeredPrompts: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "mcp")
	if m.auth == nil {
		m.auth = &Authenticator{TokenDir: defaultTokenDir(), Logger: m.logger}
	}
	if m.auth.HTTPClient == nil {
		m.auth.HTTPClient = m.httpClient
	}
	m.connect = m.sdkConnect
	m.authorize = m.auth.Token

	for name := range servers {
		m.statuses[name] = StatusDisconnected
	}
	return m
}

// defaultTokenDir is where per-server OAuth material lands when no
// authenticator is supplied.
func defaultTokenDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tern-mcp")
	}
	return filepath.Join(home, ".tern", "mcp")
}

// Discover connects every configured server in parallel, registers the tools
// and prompts it finds, and returns once all servers have settled. Per-server
// failures log and leave that server disconnected; they never fail the pass.
// Running discovery again tears down each server's previous registrations
// first, so repeat passes with the same config converge on the same set.
func (m *Manager) Discover(ctx context.Context) {
	m.setState(DiscoveryInProgress)

	var wg sync.WaitGroup
	for _, name := range m.Servers() {
		cfg := m.servers[name]
		wg.Add(1)
		go func(name string, cfg *ServerConfig) {
			defer wg.Done()
			m.discoverServer(ctx, name, cfg)
		}(name, cfg)
	}
	wg.Wait()

	m.setState(DiscoveryCompleted)
}

func (m *Manager) discoverServer(ctx context.Context, name string, cfg *ServerConfig) {
	logger := m.logger.With("mcp_server", name)
	m.clearServer(name)

	if err := cfg.Validate(); err != nil {
		logger.Warn("invalid mcp server config", "error", err)
		m.setStatus(name, StatusDisconnected)
		return
	}

	m.setStatus(name, StatusConnecting)

	var bearer string
	if cfg.serverURL() != "" {
		bearer, _ = m.auth.StoredToken(name)
	}
	sess, err := m.connect(ctx, cfg, bearer)
	if err != nil {
		logger.Debug("mcp connect failed", "error", err)
		m.setStatus(name, StatusDisconnected)

		bearer, ok := m.maybeAuthorize(ctx, name, cfg, err, logger)
		if !ok {
			return
		}
		m.setStatus(name, StatusConnecting)
		sess, err = m.connect(ctx, cfg, bearer)
		if err != nil {
			logger.Warn("mcp reconnect after oauth failed", "error", err)
			m.setStatus(name, StatusDisconnected)
			return
		}
	}

	prompts := m.discoverPrompts(ctx, name, sess, logger)
	tools := m.discoverTools(ctx, name, cfg, sess, logger)
	if tools == 0 && prompts == 0 {
		logger.Warn("mcp server exposes no tools or prompts")
		_ = sess.Close()
		m.clearRegistrations(name)
		m.setStatus(name, StatusDisconnected)
		return
	}

	m.trackSession(name, sess)
	m.setStatus(name, StatusConnected)
	logger.Debug("mcp server connected", "tools", tools, "prompts", prompts)
}

// maybeAuthorize runs the OAuth fallback after a failed connect. It returns
// a bearer token and true when a reconnect should be attempted.
func (m *Manager) maybeAuthorize(ctx context.Context, name string, cfg *ServerConfig, connectErr error, logger *slog.Logger) (string, bool) {
	if cfg.serverURL() == "" || !isUnauthorized(connectErr) {
		return "", false
	}
	m.setRequiresOAuth(name)
	if m.authorize == nil {
		return "", false
	}

	challenge := extractWWWAuthenticate(connectErr.Error())
	logger.Debug("mcp server requires oauth", "challenge", challenge)
	bearer, err := m.authorize(ctx, name, cfg, challenge)
	if err != nil {
		logger.Warn("mcp oauth failed", "error", err)
		return "", false
	}
	return bearer, true
}

func (m *Manager) discoverPrompts(ctx context.Context, name string, sess serverSession, logger *slog.Logger) int {
	res, err := sess.ListPrompts(ctx, &mcpsdk.ListPromptsParams{})
	if err != nil {
		// Servers without the prompts capability reject the call; that is
		// not a connection failure.
		logger.Debug("mcp prompts/list failed", "error", err)
		return 0
	}

	count := 0
	for _, p := range res.Prompts {
		if p == nil || p.Name == "" {
			continue
		}
		prompt := &DiscoveredPrompt{
			Server:      name,
			Name:        p.Name,
			Description: p.Description,
			Arguments:   promptArguments(p.Arguments),
			session:     sess,
		}
		if registered := m.registerPrompt(name, prompt); registered != "" {
			count++
		}
	}
	return count
}

func (m *Manager) discoverTools(ctx context.Context, name string, cfg *ServerConfig, sess serverSession, logger *slog.Logger) int {
	res, err := sess.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		logger.Warn("mcp tools/list failed", "error", err)
		return 0
	}

	count := 0
	for _, decl := range res.Tools {
		if decl == nil || decl.Name == "" {
			continue
		}
		if !cfg.allowsTool(decl.Name) {
			logger.Debug("mcp tool filtered by config", "tool", decl.Name)
			continue
		}
		schema, err := json.Marshal(decl.InputSchema)
		if err != nil || !hasValidTypes(schema) {
			logger.Warn("skipping mcp tool with invalid parameter schema", "tool", decl.Name)
			continue
		}

		tool := &DiscoveredTool{
			serverName:  name,
			remoteName:  decl.Name,
			description: decl.Description,
			params:      normalizeSchema(schema),
			timeout:     cfg.Timeout(),
			trusted:     cfg.Trust,
			session:     sess,
		}
		if registered := m.registerTool(name, tool); registered != "" {
			count++
		}
	}
	return count
}

// registerTool picks the final registry name (sanitized, server-prefixed on
// collision), registers the tool, and records it for later teardown.
func (m *Manager) registerTool(server string, tool *DiscoveredTool) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := sanitizeName(tool.remoteName)
	if m.registry.Has(name) {
		name = sanitizeName(server + "__" + tool.remoteName)
	}
	tool.name = name
	if err := m.registry.Register(tool); err != nil {
		return ""
	}
	m.registeredTools[server] = append(m.registeredTools[server], name)
	return name
}

func (m *Manager) registerPrompt(server string, prompt *DiscoveredPrompt) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := prompt.Name
	if m.prompts.Get(name) != nil {
		name = server + "__" + prompt.Name
	}
	if err := m.prompts.Register(name, prompt); err != nil {
		return ""
	}
	m.registeredPrompts[server] = append(m.registeredPrompts[server], name)
	return name
}

// sdkConnect is the production connect path: build the transport, create a
// client, and open the session.
func (m *Manager) sdkConnect(ctx context.Context, cfg *ServerConfig, bearer string) (serverSession, error) {
	transport, err := newTransport(cfg, m.httpClient, bearer)
	if err != nil {
		return nil, err
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: oauthClientName, Version: m.clientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// clearServer drops everything a previous discovery pass registered for the
// server and closes its session.
func (m *Manager) clearServer(name string) {
	m.mu.Lock()
	tools := m.registeredTools[name]
	prompts := m.registeredPrompts[name]
	sess := m.sessions[name]
	delete(m.registeredTools, name)
	delete(m.registeredPrompts, name)
	delete(m.sessions, name)
	m.mu.Unlock()

	for _, t := range tools {
		m.registry.Unregister(t)
	}
	for _, p := range prompts {
		m.prompts.Unregister(p)
	}
	if sess != nil {
		_ = sess.Close()
	}
}

// clearRegistrations removes registered tools and prompts without touching
// the session map.
func (m *Manager) clearRegistrations(name string) {
	m.mu.Lock()
	tools := m.registeredTools[name]
	prompts := m.registeredPrompts[name]
	delete(m.registeredTools, name)
	delete(m.registeredPrompts, name)
	m.mu.Unlock()

	for _, t := range tools {
		m.registry.Unregister(t)
	}
	for _, p := range prompts {
		m.prompts.Unregister(p)
	}
}

func (m *Manager) trackSession(name string, sess serverSession) {
	m.mu.Lock()
	old := m.sessions[name]
	m.sessions[name] = sess
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (m *Manager) setStatus(name string, status Status) {
	m.mu.Lock()
	if m.statuses[name] == status {
		m.mu.Unlock()
		return
	}
	m.statuses[name] = status
	listeners := append([]StatusListener(nil), m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(name, status)
	}
}

func (m *Manager) setState(state DiscoveryState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *Manager) setRequiresOAuth(name string) {
	m.mu.Lock()
	m.requiresOAuth[name] = true
	m.mu.Unlock()
}

// AddStatusListener registers a listener for status changes. Listeners are
// invoked synchronously on the discovering goroutine.
func (m *Manager) AddStatusListener(fn StatusListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Status returns the connection state of one server.
func (m *Manager) Status(name string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.statuses[name]; ok {
		return s
	}
	return StatusDisconnected
}

// Statuses returns a copy of the server status map.
func (m *Manager) Statuses() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}

// RequiresOAuth reports whether the server answered a connection attempt
// with an OAuth challenge at any point.
func (m *Manager) RequiresOAuth(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requiresOAuth[name]
}

// State returns the overall discovery state.
func (m *Manager) State() DiscoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Servers returns the configured server names, sorted.
func (m *Manager) Servers() []string {
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerTools returns the registry names of the tools discovered from one
// server, sorted.
func (m *Manager) ServerTools(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.registeredTools[name]...)
	sort.Strings(out)
	return out
}

// Prompts returns the registry of discovered prompts.
func (m *Manager) Prompts() *PromptRegistry {
	return m.prompts
}

// Close tears down every session, unregisters the discovered tools and
// prompts, and resets the discovery state.
func (m *Manager) Close() {
	for _, name := range m.Servers() {
		m.clearServer(name)
		m.setStatus(name, StatusDisconnected)
	}
	m.setState(DiscoveryNotStarted)
}
