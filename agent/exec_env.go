// ABOUTME: Defines the ExecutionEnvironment interface the built-in tools run against.
// ABOUTME: Decouples tool logic from where file, command, and search operations actually happen.

package agent

import "context"

// ExecutionEnvironment abstracts all file, command, and search operations so
// that tools are decoupled from the runtime they execute in.
type ExecutionEnvironment interface {
	// ReadFile reads a file with line numbers prepended. Offset is 1-based.
	// If limit is 0, a default of 2000 lines is used.
	ReadFile(path string, offset, limit int) (string, error)

	// ReadFileRaw reads a file without line numbering. Used by tools that
	// transform content rather than show it.
	ReadFileRaw(path string) (string, error)

	// WriteFile writes content to a file, creating parent directories as needed.
	WriteFile(path string, content string) error

	// FileExists checks whether a file or directory exists at the given path.
	FileExists(path string) (bool, error)

	// ListDirectory returns entries in a directory, optionally recursing to the
	// given depth. Depth 0 means immediate children only; -1 means unlimited.
	ListDirectory(path string, depth int) ([]DirEntry, error)

	// ExecCommand runs a shell command with timeout and environment controls.
	// Cancelling ctx aborts the command and its process group. If workingDir
	// is empty, the environment's working directory is used.
	ExecCommand(ctx context.Context, command string, timeoutMs int, workingDir string, envVars map[string]string) (*ExecResult, error)

	// Grep searches file contents by regex pattern. Path defaults to the
	// working directory. Ignored paths are skipped.
	Grep(ctx context.Context, pattern, path string, opts GrepOptions) (string, error)

	// Glob finds files matching a glob pattern. Path defaults to the working
	// directory. Ignored paths are skipped.
	Glob(ctx context.Context, pattern, path string) ([]string, error)

	// WorkingDirectory returns the root working directory for this environment.
	WorkingDirectory() string

	// Platform returns the OS identifier (e.g., "darwin", "linux", "windows").
	Platform() string

	// OSVersion returns the OS version string (e.g., kernel version from uname -r).
	OSVersion() string
}

// ExecResult holds the outcome of a command execution.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	TimedOut   bool
	DurationMs int
}

// DirEntry represents a single entry when listing a directory.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// GrepOptions configures the behavior of a grep search.
type GrepOptions struct {
	GlobFilter      string
	CaseInsensitive bool
	MaxResults      int
}
