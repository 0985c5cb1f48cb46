// ABOUTME: OAuth2 authorization-code flow with a local loopback redirect server.
// ABOUTME: Handles browser handoff, PKCE, state checking, token exchange, and cache persistence.

package authflow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// CallbackPath is the loopback redirect path registered with the authorization server.
const CallbackPath = "/oauth/callback"

// DefaultLoginTimeout bounds how long Login waits for the browser redirect.
const DefaultLoginTimeout = 5 * time.Minute

// Flow runs an OAuth2 authorization-code exchange against Config, catching
// the redirect on an ephemeral loopback HTTP server. Tokens are cached in
// Store when one is set, and refreshed tokens are written back on rotation.
type Flow struct {
	Config *oauth2.Config
	Store  *TokenStore

	// OpenURL hands the authorization URL to the user, typically by opening
	// a browser. When nil the URL must be surfaced by the caller beforehand
	// via AuthURLHook.
	OpenURL func(url string) error

	// AuthURLHook, when set, observes the authorization URL before the flow
	// starts waiting. Useful for printing the URL to the terminal.
	AuthURLHook func(url string)

	// ListenAddr overrides where the loopback server listens. Empty means an
	// ephemeral port on 127.0.0.1. Set a fixed port when the client was
	// registered with an exact redirect URI.
	ListenAddr string

	// Timeout bounds the wait for the redirect. Zero means DefaultLoginTimeout.
	Timeout time.Duration
}

type callbackResult struct {
	code string
	err  error
}

// Login runs one interactive authorization-code exchange and returns the
// resulting token. The token is saved to Store before returning.
func (f *Flow) Login(ctx context.Context) (*oauth2.Token, error) {
	addr := f.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("starting loopback listener: %w", err)
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	cfg := *f.Config
	cfg.RedirectURL = fmt.Sprintf("http://%s%s", listener.Addr(), CallbackPath)

	resultCh := make(chan callbackResult, 1)
	r := chi.NewRouter()
	r.Get(CallbackPath, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		switch {
		case q.Get("error") != "":
			http.Error(w, "Authentication failed: "+q.Get("error"), http.StatusBadRequest)
			resultCh <- callbackResult{err: fmt.Errorf("authorization denied: %s", q.Get("error"))}
		case q.Get("state") != state:
			http.Error(w, "State mismatch. Restart the login and try again.", http.StatusBadRequest)
			resultCh <- callbackResult{err: errors.New("oauth state mismatch")}
		case q.Get("code") == "":
			http.Error(w, "Missing authorization code.", http.StatusBadRequest)
			resultCh <- callbackResult{err: errors.New("redirect missing authorization code")}
		default:
			_, _ = fmt.Fprintln(w, "Authentication complete. You can close this window and return to the terminal.")
			resultCh <- callbackResult{code: q.Get("code")}
		}
	})

	server := &http.Server{Handler: r}
	go func() { _ = server.Serve(listener) }()
	defer func() { _ = server.Close() }()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	if f.AuthURLHook != nil {
		f.AuthURLHook(authURL)
	}
	if f.OpenURL != nil {
		if err := f.OpenURL(authURL); err != nil {
			return nil, fmt.Errorf("opening authorization URL: %w", err)
		}
	}

	timeout := f.Timeout
	if timeout == 0 {
		timeout = DefaultLoginTimeout
	}

	var res callbackResult
	select {
	case res = <-resultCh:
	case <-time.After(timeout):
		return nil, errors.New("timed out waiting for oauth redirect")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	if f.Store != nil {
		if err := f.Store.Save(tok); err != nil {
			return nil, err
		}
	}
	return tok, nil
}

// TokenSource returns a refreshing token source seeded from the cache,
// running an interactive Login first when no cached token exists. Refreshed
// tokens are persisted back to the store as they rotate.
func (f *Flow) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	var cached *oauth2.Token
	if f.Store != nil {
		cached, _ = f.Store.Load()
	}
	if cached == nil {
		tok, err := f.Login(ctx)
		if err != nil {
			return nil, err
		}
		cached = tok
	}
	return &persistingSource{
		src:   f.Config.TokenSource(ctx, cached),
		store: f.Store,
		last:  cached.AccessToken,
	}, nil
}

// persistingSource saves tokens back to the store whenever the underlying
// source rotates the access token.
type persistingSource struct {
	mu    sync.Mutex
	src   oauth2.TokenSource
	store *TokenStore
	last  string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	if p.store != nil && tok.AccessToken != p.last {
		if err := p.store.Save(tok); err == nil {
			p.last = tok.AccessToken
		}
	}
	return tok, nil
}
