// ABOUTME: Transport construction for MCP servers: stdio, SSE, and streamable HTTP.
// ABOUTME: HTTP transports share a RoundTripper that injects configured headers and a bearer token.

package mcp

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// newTransport builds the transport selected by the server config. bearer,
// when non-empty, is sent as an Authorization header on HTTP transports.
func newTransport(cfg *ServerConfig, base *http.Client, bearer string) (mcpsdk.Transport, error) {
	switch {
	case cfg.Command != "":
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Env = mergedEnv(cfg.Env)
		cmd.Dir = cfg.Cwd
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case cfg.HTTPURL != "":
		return &mcpsdk.StreamableClientTransport{
			Endpoint:   cfg.HTTPURL,
			HTTPClient: headerClient(base, cfg.Headers, bearer),
		}, nil
	case cfg.URL != "":
		return &mcpsdk.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: headerClient(base, cfg.Headers, bearer),
		}, nil
	default:
		return nil, fmt.Errorf("no transport configured: one of command, httpUrl, or url is required")
	}
}

// mergedEnv layers the config's variables over the parent environment, so a
// spawned server sees the usual PATH plus its own settings.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// headerClient wraps base so every request carries the configured headers
// and the optional bearer token. A nil base means http.DefaultClient.
func headerClient(base *http.Client, headers map[string]string, bearer string) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if len(headers) == 0 && bearer == "" {
		return base
	}
	inner := base.Transport
	if inner == nil {
		inner = http.DefaultTransport
	}
	clone := *base
	clone.Transport = &headerRoundTripper{base: inner, headers: headers, bearer: bearer}
	return &clone
}

// headerRoundTripper injects static headers into every outgoing request.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
	bearer  string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	if t.bearer != "" {
		clone.Header.Set("Authorization", "Bearer "+t.bearer)
	}
	return t.base.RoundTrip(clone)
}
