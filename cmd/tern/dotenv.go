// ABOUTME: Loads environment variables from .env files at startup (no clobber).
// ABOUTME: Also writes single keys back to the app .env, replacing lines in place.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// parseEnvLine splits one .env line into key and value. Comments, blank
// lines, and lines without '=' report ok=false. Supports KEY=VALUE,
// KEY="VALUE", KEY='VALUE', and export KEY=VALUE; values may contain '='.
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return "", "", false
	}

	// Strip matching quotes from the value.
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true
}

// loadDotEnv reads a .env file and sets any variables not already in the
// environment. Missing files are silently ignored.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}

// loadDotEnvAuto loads .env files from common locations without clobbering
// existing environment variables. Search order:
//  1. .env in current directory and its parents
//  2. .env next to the current executable
func loadDotEnvAuto() {
	seen := map[string]bool{}

	addPath := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		loadDotEnv(p)
	}

	if wd, err := os.Getwd(); err == nil {
		dir := wd
		for {
			addPath(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if exe, err := os.Executable(); err == nil {
		addPath(filepath.Join(filepath.Dir(exe), ".env"))
	}
}

// setEnvKey persists key=value into the .env file at path, replacing an
// existing line for the same key in place and appending otherwise. Other
// lines, comments included, pass through untouched. The file is created
// with 0600 permissions since it typically holds API keys.
func setEnvKey(path, key, value string) error {
	if key == "" || strings.ContainsAny(key, "=\n") {
		return fmt.Errorf("invalid env key %q", key)
	}
	if strings.Contains(value, "\n") {
		return fmt.Errorf("env value for %s must be a single line", key)
	}

	var lines []string
	if data, err := os.ReadFile(path); err == nil {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(lines) == 1 && lines[0] == "" {
			lines = nil
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	entry := key + "=" + value
	replaced := false
	for i, line := range lines {
		k, _, ok := parseEnvLine(line)
		if !ok || k != key {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), "export ") {
			entry = "export " + entry
		}
		lines[i] = entry
		replaced = true
		break
	}
	if !replaced {
		lines = append(lines, entry)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	out := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
