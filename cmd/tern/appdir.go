// ABOUTME: Resolves the ~/.tern application directory and the per-project temp dir.
// ABOUTME: Owns first-run state: directory creation and the persistent installation id.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const appDirName = ".tern"

// Well-known file names under the app directory.
const (
	settingsFileName       = "settings.yaml"
	envFileName            = ".env"
	memoryFileName         = "TERN.md"
	transcriptDBFileName   = "transcripts.db"
	oauthCredsFileName     = "oauth_creds.json"
	installationIDFileName = "installation_id"
)

// appDir returns the tern application directory, ~/.tern, without creating it.
func appDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, appDirName), nil
}

// ensureAppDir resolves the application directory and creates it if missing.
func ensureAppDir() (string, error) {
	dir, err := appDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// installationID returns the persistent anonymous id stored in
// dir/installation_id, generating and writing it on first run.
func installationID(dir string) (string, error) {
	path := filepath.Join(dir, installationIDFileName)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write installation id: %w", err)
	}
	return id, nil
}

// projectTempDir returns the scratch directory for one project under
// dir/tmp, keyed by a hash of the project root so projects never collide.
// Checkpoints live in its checkpoints/ subdirectory.
func projectTempDir(dir, projectRoot string) string {
	sum := sha256.Sum256([]byte(projectRoot))
	return filepath.Join(dir, "tmp", hex.EncodeToString(sum[:])[:16])
}
