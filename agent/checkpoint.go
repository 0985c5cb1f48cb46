// ABOUTME: Checkpoint snapshots written before file-mutating tools wait for approval.
// ABOUTME: Bundles conversation history, UI history, the pending call, and the git commit hash.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/2389-research/tern/genai"
)

// checkpointTimeFormat keeps checkpoint file names lexically sortable and
// free of characters that need shell quoting.
const checkpointTimeFormat = "2006-01-02T15-04-05.000Z"

// CheckpointBundle is everything needed to restore conversation and file
// state from before a destructive tool ran.
type CheckpointBundle struct {
	History       []*genai.Content `json:"history"`
	ClientHistory []*HistoryItem   `json:"clientHistory"`
	ToolCall      CheckpointCall   `json:"toolCall"`
	CommitHash    string           `json:"commitHash,omitempty"`
	FilePath      string           `json:"filePath,omitempty"`
}

// CheckpointCall identifies the tool call the checkpoint was taken for.
type CheckpointCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Checkpointer writes checkpoint bundles into a directory, one JSON file per
// pending restorable tool call.
type Checkpointer struct {
	dir string
	env ExecutionEnvironment
}

// NewCheckpointer creates a Checkpointer that writes into dir. The directory
// is created on first save.
func NewCheckpointer(dir string, env ExecutionEnvironment) *Checkpointer {
	return &Checkpointer{dir: dir, env: env}
}

// Dir returns the checkpoint directory.
func (c *Checkpointer) Dir() string {
	return c.dir
}

// Save writes a checkpoint bundle and returns the created file path. The file
// name is "<timestamp>-<basename>-<toolName>.json" where basename comes from
// the file the tool is about to change. A missing commit hash is filled in
// from git when the working directory is a repository.
func (c *Checkpointer) Save(ctx context.Context, bundle *CheckpointBundle) (string, error) {
	if bundle == nil {
		return "", fmt.Errorf("nil checkpoint bundle")
	}
	if bundle.CommitHash == "" {
		bundle.CommitHash = c.commitHash(ctx)
	}

	payload, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}

	name := CheckpointFileName(time.Now().UTC(), bundle.FilePath, bundle.ToolCall.Name)
	path := filepath.Join(c.dir, name)
	if err := c.env.WriteFile(path, string(payload)); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	return path, nil
}

// Load reads a checkpoint bundle previously written by Save. The name may be
// the bare file name or a full path.
func (c *Checkpointer) Load(name string) (*CheckpointBundle, error) {
	path := name
	if !filepath.IsAbs(path) && filepath.Dir(path) == "." {
		path = filepath.Join(c.dir, name)
	}
	raw, err := c.env.ReadFileRaw(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var bundle CheckpointBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &bundle, nil
}

// List returns the checkpoint file names in the directory, newest-sortable
// order (the timestamp prefix makes lexical order chronological).
func (c *Checkpointer) List() ([]string, error) {
	exists, err := c.env.FileExists(c.dir)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	entries, err := c.env.ListDirectory(c.dir, 0)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		names = append(names, entry.Name)
	}
	sort.Strings(names)
	return names, nil
}

// commitHash returns the current git HEAD, or "" outside a repository.
func (c *Checkpointer) commitHash(ctx context.Context) string {
	result, err := c.env.ExecCommand(ctx, "git rev-parse HEAD", 5000, "", nil)
	if err != nil || result.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(result.Stdout)
}

// CheckpointFileName builds the checkpoint file name for a tool call at a
// point in time.
func CheckpointFileName(at time.Time, filePath, toolName string) string {
	stamp := at.UTC().Format(checkpointTimeFormat)
	base := "unknown"
	if filePath != "" {
		base = filepath.Base(filePath)
	}
	return fmt.Sprintf("%s-%s-%s.json", stamp, base, toolName)
}
