// ABOUTME: JSON file persistence for OAuth tokens under the user's config directory.
// ABOUTME: Tokens are written with owner-only permissions and replaced atomically.

package authflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// TokenStore reads and writes a single OAuth token as JSON at Path.
type TokenStore struct {
	Path string
}

// Load returns the cached token, or an error if none is usable.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing token cache %s: %w", s.Path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token cache is empty")
	}
	return &tok, nil
}

// Save persists the token, creating parent directories as needed.
func (s *TokenStore) Save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("creating token cache directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing token cache: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("replacing token cache: %w", err)
	}
	return nil
}

// Clear removes the cached token. Missing files are not an error.
func (s *TokenStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
