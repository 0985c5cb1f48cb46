// ABOUTME: User and project settings loaded from settings.yaml files.
// ABOUTME: Project-level values override user-level ones; MCP servers merge by name.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/2389-research/tern/mcp"
)

// projectSettingsDir is the per-project settings directory name, relative to
// the project root.
const projectSettingsDir = ".tern"

// Settings is the on-disk configuration shared by the user file
// (~/.tern/settings.yaml) and the project file (<root>/.tern/settings.yaml).
// Pointer fields distinguish "absent" from a configured zero value:
// maxSessionTurns 0 refuses every prompt while absent means unlimited.
type Settings struct {
	Model           string                       `yaml:"model,omitempty"`
	AuthType        string                       `yaml:"authType,omitempty"`
	MaxSessionTurns *int                         `yaml:"maxSessionTurns,omitempty"`
	ApprovalMode    string                       `yaml:"approvalMode,omitempty"`
	Checkpointing   *bool                        `yaml:"checkpointing,omitempty"`
	ExcludeTools    []string                     `yaml:"excludeTools,omitempty"`
	MCPServers      map[string]*mcp.ServerConfig `yaml:"mcpServers,omitempty"`
}

// maxTurns returns the configured session turn budget, or -1 (unlimited)
// when the field is absent.
func (s *Settings) maxTurns() int {
	if s.MaxSessionTurns != nil {
		return *s.MaxSessionTurns
	}
	return -1
}

// checkpointing reports whether file snapshots before destructive tool calls
// are enabled. Off unless configured.
func (s *Settings) checkpointing() bool {
	return s.Checkpointing != nil && *s.Checkpointing
}

// loadSettingsFile parses one YAML settings file. Missing files yield empty
// settings; malformed files are an error so typos never fail silently.
func loadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &s, nil
}

// loadSettings reads the user settings file under appDir and overlays the
// project settings file found under projectRoot.
func loadSettings(appDir, projectRoot string) (*Settings, error) {
	settings, err := loadSettingsFile(filepath.Join(appDir, settingsFileName))
	if err != nil {
		return nil, err
	}
	project, err := loadSettingsFile(filepath.Join(projectRoot, projectSettingsDir, settingsFileName))
	if err != nil {
		return nil, err
	}
	settings.merge(project)
	return settings, nil
}

// merge overlays over onto s. Scalar fields are replaced when set in over,
// excludeTools accumulate across layers, and MCP server entries merge by
// name with the overlay winning.
func (s *Settings) merge(over *Settings) {
	if over.Model != "" {
		s.Model = over.Model
	}
	if over.AuthType != "" {
		s.AuthType = over.AuthType
	}
	if over.MaxSessionTurns != nil {
		s.MaxSessionTurns = over.MaxSessionTurns
	}
	if over.ApprovalMode != "" {
		s.ApprovalMode = over.ApprovalMode
	}
	if over.Checkpointing != nil {
		s.Checkpointing = over.Checkpointing
	}
	if len(over.ExcludeTools) > 0 {
		s.ExcludeTools = append(s.ExcludeTools, over.ExcludeTools...)
	}
	if len(over.MCPServers) > 0 {
		if s.MCPServers == nil {
			s.MCPServers = make(map[string]*mcp.ServerConfig, len(over.MCPServers))
		}
		for name, cfg := range over.MCPServers {
			s.MCPServers[name] = cfg
		}
	}
}
