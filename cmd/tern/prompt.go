// ABOUTME: Assembles the agent system prompt, appending persisted user memory.
// ABOUTME: Gate helpers decide when the final prompt is echoed for debugging.
package main

import (
	"os"
	"strings"
)

const basePrompt = `You are an interactive coding agent running in a user's terminal, inside
their project directory. Help with software engineering tasks: explaining
code, fixing bugs, refactoring, and writing new code and tests.

Core rules:
- Read before you write. Use read_file, grep, and glob to understand the
  code you are changing; never guess at file contents.
- Prefer replace for surgical edits and write_file for new files. Use
  apply_patch when a change spans several places in one file.
- Use shell for builds, tests, and the project's own tooling. State what a
  command does before running anything that modifies the working tree.
- Match the conventions of the surrounding code: formatting, naming, error
  handling, and test style.
- When the user states a durable preference or project fact, store it with
  save_memory.
- Keep responses brief; the user reads them in a terminal.`

const memorySeparator = "\n\n---\n\n"

// systemPrompt returns the base agent prompt with the contents of the memory
// file appended under a separator. A missing or empty memory file leaves the
// base prompt untouched.
func systemPrompt(memoryFile string) string {
	data, err := os.ReadFile(memoryFile)
	if err != nil {
		return basePrompt
	}
	memory := strings.TrimSpace(string(data))
	if memory == "" {
		return basePrompt
	}
	return basePrompt + memorySeparator + memory
}

// echoSystemPrompt reports whether the assembled prompt should be written to
// stderr at startup. TERN_LOG_SYSTEM_PROMPT enables it explicitly, and
// NODE_ENV=development enables it for parity with other local tooling.
func echoSystemPrompt() bool {
	if v := os.Getenv("TERN_LOG_SYSTEM_PROMPT"); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		return true
	}
	return os.Getenv("NODE_ENV") == "development"
}
