// ABOUTME: Gitignore-style path exclusion for the VCS ignore file and the project ignore file.
// ABOUTME: Compiles pattern lines to matchers and answers shouldIgnore with last-match-wins semantics.

package ignore

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ProjectIgnoreFile is the project-specific pattern file at the project root.
const ProjectIgnoreFile = ".ternignore"

// FilterOptions selects which pattern sets apply to a query.
type FilterOptions struct {
	RespectGit     bool
	RespectProject bool
}

// DefaultFilterOptions applies both the VCS and the project pattern sets.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{RespectGit: true, RespectProject: true}
}

// pattern is one compiled ignore rule.
type pattern struct {
	re      *regexp.Regexp
	negate  bool
	dirOnly bool
}

// Matcher evaluates an ordered list of ignore rules against relative paths.
// The rule set is fixed at construction.
type Matcher struct {
	patterns []pattern
}

// NewMatcher compiles pattern lines. Blank lines, comments, and lines that
// fail to compile are skipped.
func NewMatcher(lines []string) *Matcher {
	m := &Matcher{}
	for _, line := range lines {
		if p, ok := compileLine(line); ok {
			m.patterns = append(m.patterns, p)
		}
	}
	return m
}

// Match reports whether relPath is excluded. relPath is slash-separated and
// relative to the directory the patterns were loaded from; isDir marks the
// path itself as a directory. A path under an excluded directory stays
// excluded even when a later negation names it directly.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" || len(m.patterns) == 0 {
		return false
	}

	segments := strings.Split(relPath, "/")
	prefix := ""
	for i, seg := range segments {
		if i == 0 {
			prefix = seg
		} else {
			prefix += "/" + seg
		}
		dir := i < len(segments)-1 || isDir
		if m.matchOne(prefix, dir) {
			return true
		}
	}
	return false
}

// matchOne evaluates every rule against a single path level; the last rule
// that matches decides.
func (m *Matcher) matchOne(path string, isDir bool) bool {
	ignored := false
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if p.re.MatchString(path) {
			ignored = !p.negate
		}
	}
	return ignored
}

// compileLine turns one ignore-file line into a rule. The second return is
// false for blanks, comments, and unusable patterns.
func compileLine(line string) (pattern, bool) {
	line = strings.TrimSuffix(line, "\r")
	line = stripTrailingSpaces(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return pattern{}, false
	}

	var p pattern
	if strings.HasPrefix(line, "!") {
		p.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}

	anchored := strings.HasPrefix(line, "/")
	line = strings.TrimPrefix(line, "/")
	if strings.Contains(line, "/") {
		anchored = true
	}
	if line == "" {
		return pattern{}, false
	}

	re, err := globToRegexp(line, anchored)
	if err != nil {
		return pattern{}, false
	}
	p.re = re
	return p, true
}

// stripTrailingSpaces removes unescaped trailing spaces from a pattern line.
func stripTrailingSpaces(s string) string {
	for strings.HasSuffix(s, " ") && !strings.HasSuffix(s, "\\ ") {
		s = s[:len(s)-1]
	}
	return s
}

// globToRegexp translates gitignore glob syntax to a regular expression.
// Unanchored patterns may match at any depth.
func globToRegexp(pat string, anchored bool) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	if !anchored {
		b.WriteString("(?:.*/)?")
	}

	for i := 0; i < len(pat); {
		c := pat[i]
		switch c {
		case '*':
			atBoundary := i == 0 || pat[i-1] == '/'
			switch {
			case atBoundary && strings.HasPrefix(pat[i:], "**/"):
				// `**/` spans zero or more directories.
				b.WriteString("(?:[^/]+/)*")
				i += 3
			case atBoundary && pat[i:] == "**":
				// Trailing `**` matches everything from here on.
				b.WriteString(".*")
				i += 2
			default:
				// Runs of `*` inside a segment collapse to one.
				for i < len(pat) && pat[i] == '*' {
					i++
				}
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			j := classEnd(pat, i)
			if j < 0 {
				b.WriteString(regexp.QuoteMeta("["))
				i++
				break
			}
			class := pat[i : j+1]
			if strings.HasPrefix(class, "[!") {
				class = "[^" + class[2:]
			}
			b.WriteString(class)
			i = j + 1
		case '\\':
			if i+1 < len(pat) {
				b.WriteString(regexp.QuoteMeta(string(pat[i+1])))
				i += 2
			} else {
				b.WriteString(regexp.QuoteMeta("\\"))
				i++
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}

	b.WriteString("$")
	return regexp.Compile(b.String())
}

// classEnd returns the index of the `]` closing the character class opened
// at pat[start], or -1 when the class never closes. A `]` immediately after
// the opener (or after `!`) is a literal member.
func classEnd(pat string, start int) int {
	j := start + 1
	if j < len(pat) && (pat[j] == '!' || pat[j] == '^') {
		j++
	}
	if j < len(pat) && pat[j] == ']' {
		j++
	}
	for j < len(pat) && pat[j] != ']' {
		j++
	}
	if j >= len(pat) {
		return -1
	}
	return j
}

// Filter answers shouldIgnore queries for a project, combining the VCS
// ignore rules (.gitignore, .git/info/exclude, and the .git directory
// itself) with the project's own pattern file. Both sets are loaded once;
// changing the files requires a new Filter.
type Filter struct {
	root            string
	git             *Matcher
	project         *Matcher
	projectPatterns []string
}

// NewFilter loads the pattern files under projectRoot. Missing files
// contribute no patterns.
func NewFilter(projectRoot string) *Filter {
	gitLines := []string{".git"}
	gitLines = append(gitLines, readPatternFile(filepath.Join(projectRoot, ".gitignore"))...)
	gitLines = append(gitLines, readPatternFile(filepath.Join(projectRoot, ".git", "info", "exclude"))...)

	projectLines := readPatternFile(filepath.Join(projectRoot, ProjectIgnoreFile))

	return &Filter{
		root:            projectRoot,
		git:             NewMatcher(gitLines),
		project:         NewMatcher(projectLines),
		projectPatterns: projectLines,
	}
}

func readPatternFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return strings.Split(string(data), "\n")
}

// ShouldIgnore reports whether path is excluded by the selected pattern
// sets. Absolute paths are resolved against the project root; paths outside
// the root are never ignored.
func (f *Filter) ShouldIgnore(path string, opts FilterOptions) bool {
	isDir := strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(os.PathSeparator))
	rel, ok := f.relative(path)
	if !ok {
		return false
	}
	if opts.RespectGit && f.git.Match(rel, isDir) {
		return true
	}
	if opts.RespectProject && f.project.Match(rel, isDir) {
		return true
	}
	return false
}

// FilterPaths returns the paths not excluded, preserving order.
func (f *Filter) FilterPaths(paths []string, opts FilterOptions) []string {
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		if !f.ShouldIgnore(p, opts) {
			kept = append(kept, p)
		}
	}
	return kept
}

// FilterReport breaks down how many paths each pattern set excluded.
type FilterReport struct {
	Kept           []string
	GitIgnored     int
	ProjectIgnored int
}

// FilterPathsWithReport filters like FilterPaths and counts exclusions per
// pattern set, for "ignored N files" messaging.
func (f *Filter) FilterPathsWithReport(paths []string, opts FilterOptions) FilterReport {
	report := FilterReport{Kept: make([]string, 0, len(paths))}
	for _, p := range paths {
		switch {
		case opts.RespectGit && f.ShouldIgnore(p, FilterOptions{RespectGit: true}):
			report.GitIgnored++
		case opts.RespectProject && f.ShouldIgnore(p, FilterOptions{RespectProject: true}):
			report.ProjectIgnored++
		default:
			report.Kept = append(report.Kept, p)
		}
	}
	return report
}

// ProjectPatterns returns the raw lines loaded from the project ignore file.
func (f *Filter) ProjectPatterns() []string {
	return f.projectPatterns
}

// HasProjectPatterns reports whether the project ignore file contributed any
// effective pattern (blank lines and comments don't count).
func (f *Filter) HasProjectPatterns() bool {
	return len(f.project.patterns) > 0
}

func (f *Filter) relative(path string) (string, bool) {
	path = filepath.ToSlash(path)
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(f.root, filepath.FromSlash(path))
		if err != nil {
			return "", false
		}
		rel = filepath.ToSlash(rel)
		if rel == ".." || strings.HasPrefix(rel, "../") {
			return "", false
		}
		path = rel
	}
	path = strings.TrimPrefix(path, "./")
	if path == "." || path == "" {
		return "", false
	}
	return path, true
}
