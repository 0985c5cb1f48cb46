// ABOUTME: Configuration for MCP servers: transport selection, headers, env, trust, and OAuth.
// ABOUTME: Each entry names exactly one transport; timeouts default to ten minutes per tool call.

// Package mcp discovers tools and prompts from Model Context Protocol
// servers and registers them with the agent's tool registry. Servers are
// declared in settings; each one speaks stdio, SSE, or streamable HTTP.
package mcp

import (
	"fmt"
	"strings"
	"time"
)

// DefaultToolTimeout bounds a single tool invocation when the server config
// does not set one.
const DefaultToolTimeout = 10 * time.Minute

// ServerConfig describes one MCP server entry from settings. Exactly one of
// Command, HTTPURL, or URL selects the transport: stdio for a spawned
// process, streamable HTTP, or SSE.
type ServerConfig struct {
	// Command starts a local server and pipes JSON-RPC over stdio.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`

	// HTTPURL connects over streamable HTTP; URL over SSE.
	HTTPURL string            `yaml:"httpUrl,omitempty" json:"httpUrl,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// TimeoutMs bounds one tool invocation, in milliseconds. Zero means
	// DefaultToolTimeout.
	TimeoutMs int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Trust skips the per-call confirmation prompt for this server's tools.
	Trust bool `yaml:"trust,omitempty" json:"trust,omitempty"`

	// IncludeTools, when non-empty, allows only the named tools.
	// ExcludeTools drops the named tools and wins over IncludeTools.
	IncludeTools []string `yaml:"includeTools,omitempty" json:"includeTools,omitempty"`
	ExcludeTools []string `yaml:"excludeTools,omitempty" json:"excludeTools,omitempty"`

	OAuth *OAuthConfig `yaml:"oauth,omitempty" json:"oauth,omitempty"`
}

// OAuthConfig enables the authorization-code flow for an HTTP server that
// rejects unauthenticated connections. Endpoints left empty are discovered
// from the server's WWW-Authenticate challenge or its well-known metadata,
// and a missing client ID triggers dynamic registration.
type OAuthConfig struct {
	Enabled          bool     `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	ClientID         string   `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	ClientSecret     string   `yaml:"clientSecret,omitempty" json:"clientSecret,omitempty"`
	AuthorizationURL string   `yaml:"authorizationUrl,omitempty" json:"authorizationUrl,omitempty"`
	TokenURL         string   `yaml:"tokenUrl,omitempty" json:"tokenUrl,omitempty"`
	Scopes           []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// Validate checks that the entry names exactly one transport and that HTTP
// endpoints look like URLs.
func (c *ServerConfig) Validate() error {
	set := 0
	for _, v := range []string{c.Command, c.HTTPURL, c.URL} {
		if v != "" {
			set++
		}
	}
	if set == 0 {
		return fmt.Errorf("one of command, httpUrl, or url is required")
	}
	if set > 1 {
		return fmt.Errorf("command, httpUrl, and url are mutually exclusive")
	}
	for _, u := range []string{c.HTTPURL, c.URL} {
		if u == "" {
			continue
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("server URL must start with http:// or https://: %q", u)
		}
	}
	return nil
}

// Timeout returns the tool-invocation timeout for this server.
func (c *ServerConfig) Timeout() time.Duration {
	if c.TimeoutMs > 0 {
		return time.Duration(c.TimeoutMs) * time.Millisecond
	}
	return DefaultToolTimeout
}

// serverURL returns the HTTP endpoint, or "" for stdio servers.
func (c *ServerConfig) serverURL() string {
	if c.HTTPURL != "" {
		return c.HTTPURL
	}
	return c.URL
}

// allowsTool applies the include/exclude filters to a remote tool name.
func (c *ServerConfig) allowsTool(name string) bool {
	for _, excluded := range c.ExcludeTools {
		if name == excluded {
			return false
		}
	}
	if len(c.IncludeTools) == 0 {
		return true
	}
	for _, included := range c.IncludeTools {
		if name == included {
			return true
		}
	}
	return false
}
