// ABOUTME: OAuth fallback for MCP servers that reject unauthenticated connections.
// ABOUTME: Finds the authorization server via WWW-Authenticate metadata, registers a client, runs the browser flow.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/2389-research/tern/authflow"
)

const (
	oauthClientName = "tern"

	// loopbackAddr is a fixed port so dynamically registered redirect URIs
	// stay valid across runs.
	loopbackAddr = "127.0.0.1:7777"
)

// redirectURI is the callback registered with authorization servers.
func redirectURI() string {
	return "http://" + loopbackAddr + authflow.CallbackPath
}

// isUnauthorized sniffs a transport error for an HTTP 401/403, which the
// connect path reports only as text.
func isUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden")
}

// wwwAuthenticatePatterns are tried in order against error text. Transports
// differ in how they fold response headers into their messages, so both bare
// and quoted forms are covered.
var wwwAuthenticatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)www-authenticate:\s*([^\n\r]+)`),
	regexp.MustCompile(`WWW-Authenticate:\s*([^\n\r]+)`),
	regexp.MustCompile(`(?i)"www-authenticate":\s*"([^"]+)"`),
	regexp.MustCompile(`(?i)'www-authenticate':\s*'([^']+)'`),
}

// extractWWWAuthenticate pulls a WWW-Authenticate value out of error text.
// Returns "" when no pattern matches.
func extractWWWAuthenticate(text string) string {
	for _, re := range wwwAuthenticatePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

var resourceMetadataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`resource_metadata="([^"]+)"`),
	regexp.MustCompile(`resource_metadata=([^",\s]+)`),
}

// parseResourceMetadataURI extracts the resource_metadata URI from a bearer
// challenge such as `Bearer resource_metadata="https://host/.well-known/..."`.
func parseResourceMetadataURI(challenge string) string {
	for _, re := range resourceMetadataPatterns {
		if m := re.FindStringSubmatch(challenge); m != nil {
			return m[1]
		}
	}
	return ""
}

// fetchWWWAuthenticate asks the server for its challenge directly, for
// transports whose connect errors do not carry response headers.
func fetchWWWAuthenticate(ctx context.Context, client *http.Client, serverURL string) string {
	if serverURL == "" {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL, nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return ""
	}
	return resp.Header.Get("WWW-Authenticate")
}

// protectedResourceMetadata is the RFC 9728 document served at
// /.well-known/oauth-protected-resource.
type protectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	ScopesSupported      []string `json:"scopes_supported"`
}

// authServerMetadata is the RFC 8414 authorization-server metadata document.
// The OIDC discovery document shares these fields.
type authServerMetadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	RegistrationEndpoint  string   `json:"registration_endpoint"`
	ScopesSupported       []string `json:"scopes_supported"`
}

func fetchJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// fetchAuthServerMetadata tries the RFC 8414 location first, then the OIDC
// discovery document.
func fetchAuthServerMetadata(ctx context.Context, client *http.Client, issuer string) (*authServerMetadata, error) {
	base := strings.TrimSuffix(issuer, "/")
	var firstErr error
	for _, path := range []string{"/.well-known/oauth-authorization-server", "/.well-known/openid-configuration"} {
		var meta authServerMetadata
		if err := fetchJSON(ctx, client, base+path, &meta); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if meta.AuthorizationEndpoint != "" {
			return &meta, nil
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no usable authorization metadata at %s", issuer)
	}
	return nil, firstErr
}

// discoverViaResourceMetadata follows a resource_metadata URI to the
// authorization server it names. Scopes advertised by the resource win over
// the authorization server's.
func discoverViaResourceMetadata(ctx context.Context, client *http.Client, uri string) (*authServerMetadata, []string, error) {
	var res protectedResourceMetadata
	if err := fetchJSON(ctx, client, uri, &res); err != nil {
		return nil, nil, err
	}
	if len(res.AuthorizationServers) == 0 {
		return nil, nil, fmt.Errorf("resource metadata at %s lists no authorization servers", uri)
	}
	meta, err := fetchAuthServerMetadata(ctx, client, res.AuthorizationServers[0])
	if err != nil {
		return nil, nil, err
	}
	scopes := res.ScopesSupported
	if len(scopes) == 0 {
		scopes = meta.ScopesSupported
	}
	return meta, scopes, nil
}

// discoverFromBase derives the server's origin and probes its well-known
// endpoints directly, for servers that send no usable challenge.
func discoverFromBase(ctx context.Context, client *http.Client, serverURL string) (*authServerMetadata, []string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing server url: %w", err)
	}
	base := u.Scheme + "://" + u.Host

	var res protectedResourceMetadata
	if err := fetchJSON(ctx, client, base+"/.well-known/oauth-protected-resource", &res); err == nil && len(res.AuthorizationServers) > 0 {
		meta, err := fetchAuthServerMetadata(ctx, client, res.AuthorizationServers[0])
		if err == nil {
			scopes := res.ScopesSupported
			if len(scopes) == 0 {
				scopes = meta.ScopesSupported
			}
			return meta, scopes, nil
		}
	}
	meta, err := fetchAuthServerMetadata(ctx, client, base)
	if err != nil {
		return nil, nil, err
	}
	return meta, meta.ScopesSupported, nil
}

// clientRegistration is the RFC 7591 dynamic registration request body.
type clientRegistration struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// clientCredentials is what registration yields and what gets persisted next
// to the server's token so refreshes keep working across runs.
type clientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// registerClient performs dynamic client registration for a public client
// using the loopback redirect.
func registerClient(ctx context.Context, client *http.Client, endpoint string) (*clientCredentials, error) {
	body, err := json.Marshal(clientRegistration{
		ClientName:              oauthClientName,
		RedirectURIs:            []string{redirectURI()},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registration endpoint returned %s", resp.Status)
	}
	var creds clientCredentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("decoding registration response: %w", err)
	}
	if creds.ClientID == "" {
		return nil, fmt.Errorf("registration response missing client_id")
	}
	return &creds, nil
}

func loadClientCredentials(path string) (*clientCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var creds clientCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	if creds.ClientID == "" {
		return nil, fmt.Errorf("stored client credentials missing client_id")
	}
	return &creds, nil
}

func saveClientCredentials(path string, creds *clientCredentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// oauthEndpoints is the resolved configuration the browser flow runs with.
type oauthEndpoints struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	RegistrationEndpoint  string
	Scopes                []string
}

// Authenticator obtains bearer tokens for MCP servers that demand OAuth. It
// persists one token file and, for dynamically registered clients, one
// credentials file per server under TokenDir.
type Authenticator struct {
	// TokenDir is where per-server token and client files live.
	TokenDir string

	// HTTPClient is used for metadata discovery and registration. nil means
	// http.DefaultClient.
	HTTPClient *http.Client

	// OpenURL hands the consent URL to the user, typically via a browser.
	OpenURL func(url string) error

	// AuthURLHook observes the consent URL, for display when no browser is
	// available.
	AuthURLHook func(url string)

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// LoginTimeout bounds the wait for the browser callback.
	LoginTimeout time.Duration

	// listenAddr overrides the loopback address, for tests. Empty means
	// loopbackAddr.
	listenAddr string
}

func (a *Authenticator) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a *Authenticator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Authenticator) tokenPath(server string) string {
	return filepath.Join(a.TokenDir, server+".json")
}

func (a *Authenticator) clientPath(server string) string {
	return filepath.Join(a.TokenDir, server+"-client.json")
}

// StoredToken returns a still-valid persisted token for the server, if any.
// Used to attach a bearer on the first connection attempt.
func (a *Authenticator) StoredToken(server string) (string, bool) {
	store := &authflow.TokenStore{Path: a.tokenPath(server)}
	tok, err := store.Load()
	if err != nil || tok == nil || !tok.Valid() {
		return "", false
	}
	return tok.AccessToken, true
}

// Token satisfies a WWW-Authenticate challenge for the named server: it
// resolves the OAuth endpoints, obtains a token (cached, refreshed, or via
// the interactive flow), persists it, and returns the bearer value.
func (a *Authenticator) Token(ctx context.Context, server string, cfg *ServerConfig, challenge string) (string, error) {
	endpoints, err := a.resolveEndpoints(ctx, server, cfg, challenge)
	if err != nil {
		return "", err
	}
	creds, err := a.resolveClient(ctx, server, cfg, endpoints)
	if err != nil {
		return "", err
	}

	listen := a.listenAddr
	if listen == "" {
		listen = loopbackAddr
	}
	flow := &authflow.Flow{
		Config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  endpoints.AuthorizationEndpoint,
				TokenURL: endpoints.TokenEndpoint,
			},
			Scopes: endpoints.Scopes,
		},
		Store:       &authflow.TokenStore{Path: a.tokenPath(server)},
		ListenAddr:  listen,
		OpenURL:     a.OpenURL,
		AuthURLHook: a.AuthURLHook,
		Timeout:     a.LoginTimeout,
	}

	src, err := flow.TokenSource(ctx)
	if err != nil {
		return "", fmt.Errorf("oauth for mcp server %s: %w", server, err)
	}
	tok, err := src.Token()
	if err != nil {
		// A stale cache without a refresh token cannot be refreshed; run the
		// interactive flow instead.
		a.logger().Debug("cached mcp token unusable, running interactive login", "mcp_server", server, "error", err)
		tok, err = flow.Login(ctx)
		if err != nil {
			return "", fmt.Errorf("oauth for mcp server %s: %w", server, err)
		}
	}
	return tok.AccessToken, nil
}

// resolveEndpoints finds the authorization and token endpoints, preferring
// explicit configuration, then the challenge's resource_metadata URI, then
// the server's own well-known locations.
func (a *Authenticator) resolveEndpoints(ctx context.Context, server string, cfg *ServerConfig, challenge string) (*oauthEndpoints, error) {
	if cfg.OAuth != nil && cfg.OAuth.AuthorizationURL != "" && cfg.OAuth.TokenURL != "" {
		return &oauthEndpoints{
			AuthorizationEndpoint: cfg.OAuth.AuthorizationURL,
			TokenEndpoint:         cfg.OAuth.TokenURL,
			Scopes:                cfg.OAuth.Scopes,
		}, nil
	}

	logger := a.logger().With("mcp_server", server)
	if challenge == "" {
		challenge = fetchWWWAuthenticate(ctx, a.httpClient(), cfg.serverURL())
	}

	var meta *authServerMetadata
	var scopes []string
	if uri := parseResourceMetadataURI(challenge); uri != "" {
		m, sc, err := discoverViaResourceMetadata(ctx, a.httpClient(), uri)
		if err != nil {
			logger.Debug("resource metadata discovery failed", "uri", uri, "error", err)
		} else {
			meta, scopes = m, sc
		}
	}
	if meta == nil {
		m, sc, err := discoverFromBase(ctx, a.httpClient(), cfg.serverURL())
		if err != nil {
			return nil, fmt.Errorf("oauth discovery for %s: %w", server, err)
		}
		meta, scopes = m, sc
	}

	endpoints := &oauthEndpoints{
		AuthorizationEndpoint: meta.AuthorizationEndpoint,
		TokenEndpoint:         meta.TokenEndpoint,
		RegistrationEndpoint:  meta.RegistrationEndpoint,
		Scopes:                scopes,
	}
	if cfg.OAuth != nil && len(cfg.OAuth.Scopes) > 0 {
		endpoints.Scopes = cfg.OAuth.Scopes
	}
	if endpoints.AuthorizationEndpoint == "" || endpoints.TokenEndpoint == "" {
		return nil, fmt.Errorf("oauth discovery for %s: metadata missing authorization or token endpoint", server)
	}
	return endpoints, nil
}

// resolveClient returns the configured client ID, a previously registered
// one, or registers a new public client with the authorization server.
func (a *Authenticator) resolveClient(ctx context.Context, server string, cfg *ServerConfig, endpoints *oauthEndpoints) (*clientCredentials, error) {
	if cfg.OAuth != nil && cfg.OAuth.ClientID != "" {
		return &clientCredentials{ClientID: cfg.OAuth.ClientID, ClientSecret: cfg.OAuth.ClientSecret}, nil
	}
	if creds, err := loadClientCredentials(a.clientPath(server)); err == nil {
		return creds, nil
	}
	if endpoints.RegistrationEndpoint == "" {
		return nil, fmt.Errorf("no clientId configured for %s and the authorization server does not support dynamic registration", server)
	}
	creds, err := registerClient(ctx, a.httpClient(), endpoints.RegistrationEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dynamic client registration for %s: %w", server, err)
	}
	if err := saveClientCredentials(a.clientPath(server), creds); err != nil {
		a.logger().Warn("persisting registered oauth client failed", "mcp_server", server, "error", err)
	}
	return creds, nil
}
