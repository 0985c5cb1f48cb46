// ABOUTME: Decoder and applier for the v4a multi-file patch envelope behind the apply_patch tool.
// ABOUTME: Patches are parsed into per-file operations and replayed through an ExecutionEnvironment.

package agent

import (
	"fmt"
	"strings"
)

// Envelope directives. Everything between them is either an operation
// header, hunk body, or stray text the parser tolerates.
const (
	patchBegin = "*** Begin Patch"
	patchEnd   = "*** End Patch"
	patchEOF   = "*** End of File"

	patchAddHdr    = "*** Add File: "
	patchDeleteHdr = "*** Delete File: "
	patchUpdateHdr = "*** Update File: "
	patchMoveHdr   = "*** Move File: "
)

// PatchAction is the kind of file operation a patch entry performs.
type PatchAction string

const (
	PatchAdd    PatchAction = "add"
	PatchDelete PatchAction = "delete"
	PatchUpdate PatchAction = "update"
	PatchMove   PatchAction = "move"
)

// Patch is a decoded v4a envelope: an ordered list of file operations.
type Patch struct {
	Ops []PatchOp
}

// PatchOp is one file operation. Body is populated for adds, NewPath for
// moves, Hunks for updates.
type PatchOp struct {
	Action  PatchAction
	Path    string
	NewPath string
	Body    []string
	Hunks   []Hunk
}

// HunkLine is a single body line of an update hunk together with its
// leading marker: ' ' context, '-' removal, '+' insertion.
type HunkLine struct {
	Mark byte
	Text string
}

// Hunk is one contiguous edit region inside an update operation. Lines
// keeps context and change lines in their original interleaved order,
// which is what makes the region locatable in the target file.
type Hunk struct {
	Anchor string // optional @@ search hint
	Lines  []HunkLine
}

// wanted returns the lines the hunk expects to find in the file:
// context plus removals, in patch order.
func (h Hunk) wanted() []string {
	var out []string
	for _, l := range h.Lines {
		if l.Mark != '+' {
			out = append(out, l.Text)
		}
	}
	return out
}

// replacement returns the lines that stand in for the matched region:
// context plus insertions, in patch order.
func (h Hunk) replacement() []string {
	var out []string
	for _, l := range h.Lines {
		if l.Mark != '-' {
			out = append(out, l.Text)
		}
	}
	return out
}

// additions returns only the inserted lines, used when there is no
// context to match against.
func (h Hunk) additions() []string {
	var out []string
	for _, l := range h.Lines {
		if l.Mark == '+' {
			out = append(out, l.Text)
		}
	}
	return out
}

// patchReader is a line cursor over the envelope text. Directive checks
// run on a right-trimmed view of the current line; body content is taken
// from the raw line so trailing whitespace inside file content survives.
type patchReader struct {
	raw []string
	pos int
}

func (r *patchReader) more() bool   { return r.pos < len(r.raw) }
func (r *patchReader) line() string { return trimEOL(r.raw[r.pos]) }
func (r *patchReader) body() string { return r.raw[r.pos] }
func (r *patchReader) skip()        { r.pos++ }

// trimEOL drops trailing spaces, tabs, and carriage returns so patches
// produced on any platform parse the same way.
func trimEOL(s string) string { return strings.TrimRight(s, " \t\r") }

// ParsePatch decodes a v4a patch envelope into file operations. A missing
// Begin marker is an error; unrecognized lines between operations are
// skipped rather than rejected, since models pad patches with prose.
func ParsePatch(text string) (*Patch, error) {
	if text == "" {
		return nil, fmt.Errorf("invalid patch: empty input")
	}

	r := &patchReader{raw: strings.Split(text, "\n")}
	if r.line() != patchBegin {
		return nil, fmt.Errorf("invalid patch: expected %q on first line, got %q", patchBegin, r.body())
	}
	r.skip()

	p := &Patch{}
	for r.more() {
		line := r.line()
		switch {
		case line == "" || line == patchEnd:
			r.skip()
		case strings.HasPrefix(line, patchAddHdr):
			p.Ops = append(p.Ops, r.addOp(strings.TrimPrefix(line, patchAddHdr)))
		case strings.HasPrefix(line, patchDeleteHdr):
			p.Ops = append(p.Ops, PatchOp{Action: PatchDelete, Path: strings.TrimPrefix(line, patchDeleteHdr)})
			r.skip()
		case strings.HasPrefix(line, patchUpdateHdr):
			p.Ops = append(p.Ops, r.updateOp(strings.TrimPrefix(line, patchUpdateHdr)))
		case strings.HasPrefix(line, patchMoveHdr):
			op, err := moveOp(strings.TrimPrefix(line, patchMoveHdr))
			if err != nil {
				return nil, err
			}
			p.Ops = append(p.Ops, op)
			r.skip()
		default:
			r.skip()
		}
	}
	return p, nil
}

// addOp consumes the body of an Add File block. Only + lines contribute
// content; anything else before the next *** directive is dropped.
func (r *patchReader) addOp(path string) PatchOp {
	r.skip()
	op := PatchOp{Action: PatchAdd, Path: path}
	for r.more() {
		if strings.HasPrefix(r.line(), "*** ") {
			break
		}
		if raw := r.body(); strings.HasPrefix(raw, "+") {
			op.Body = append(op.Body, raw[1:])
		}
		r.skip()
	}
	return op
}

// updateOp consumes the hunks of an Update File block. Hunks begin either
// at an @@ anchor or directly at a marker line; End of File markers and
// blank separators between hunks are skipped.
func (r *patchReader) updateOp(path string) PatchOp {
	r.skip()
	op := PatchOp{Action: PatchUpdate, Path: path}
	for r.more() {
		line := r.line()
		if isOpHeader(line) || line == patchEnd {
			break
		}
		switch {
		case strings.HasPrefix(line, "@@"):
			anchor := anchorText(line)
			r.skip()
			op.Hunks = append(op.Hunks, r.hunkBody(anchor))
		case strings.HasPrefix(line, " "), strings.HasPrefix(line, "-"), strings.HasPrefix(line, "+"):
			op.Hunks = append(op.Hunks, r.hunkBody(""))
		default:
			r.skip()
		}
	}
	return op
}

// hunkBody consumes marker lines until the next anchor, operation header,
// or end directive. Empty lines inside the body do not terminate the hunk,
// and lines with an unknown first byte are kept whole as context.
func (r *patchReader) hunkBody(anchor string) Hunk {
	h := Hunk{Anchor: anchor}
	for r.more() {
		line := r.line()
		if strings.HasPrefix(line, "@@") || isOpHeader(line) || line == patchEnd {
			break
		}
		if line == patchEOF {
			r.skip()
			break
		}
		raw := r.body()
		r.skip()
		if raw == "" {
			continue
		}
		switch raw[0] {
		case ' ', '-', '+':
			h.Lines = append(h.Lines, HunkLine{Mark: raw[0], Text: raw[1:]})
		default:
			h.Lines = append(h.Lines, HunkLine{Mark: ' ', Text: raw})
		}
	}
	return h
}

// anchorText extracts the search hint from an anchor line. Both the
// "@@@ text @@@" and "@@ text" spellings appear in model output.
func anchorText(line string) string {
	if rest, ok := strings.CutPrefix(line, "@@@"); ok {
		if i := strings.Index(rest, "@@@"); i >= 0 {
			rest = rest[:i]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "@@"))
}

// isOpHeader reports whether line opens a new file operation.
func isOpHeader(line string) bool {
	rest, ok := strings.CutPrefix(line, "*** ")
	if !ok {
		return false
	}
	return strings.HasPrefix(rest, "Add File:") ||
		strings.HasPrefix(rest, "Delete File:") ||
		strings.HasPrefix(rest, "Update File:") ||
		strings.HasPrefix(rest, "Move File:")
}

// moveOp splits an "old -> new" move spec. The arrow separator is
// required; both paths are trimmed of surrounding whitespace.
func moveOp(spec string) (PatchOp, error) {
	from, to, ok := strings.Cut(spec, " -> ")
	if !ok {
		return PatchOp{}, fmt.Errorf("invalid move syntax: want 'old/path -> new/path', got %q", spec)
	}
	return PatchOp{Action: PatchMove, Path: strings.TrimSpace(from), NewPath: strings.TrimSpace(to)}, nil
}

// PatchResult records what ApplyPatch changed.
type PatchResult struct {
	Changes []string // one line per operation, in patch order
	Created int
	Deleted int
	Updated int
	Moved   int
}

// Summary renders the change log, one operation per line.
func (r *PatchResult) Summary() string {
	return strings.Join(r.Changes, "\n")
}

// ApplyPatch replays the operations of a parsed patch against env,
// stopping at the first failure.
func ApplyPatch(p *Patch, env ExecutionEnvironment) (*PatchResult, error) {
	res := &PatchResult{}
	for _, op := range p.Ops {
		if err := applyOp(op, env, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func applyOp(op PatchOp, env ExecutionEnvironment, res *PatchResult) error {
	switch op.Action {
	case PatchAdd:
		if err := env.WriteFile(op.Path, strings.Join(op.Body, "\n")); err != nil {
			return fmt.Errorf("add %s: %w", op.Path, err)
		}
		res.Created++
		res.Changes = append(res.Changes, "Added: "+op.Path)

	case PatchDelete:
		// ExecutionEnvironment has no remove operation; truncating the
		// file is the closest the seam allows.
		if err := env.WriteFile(op.Path, ""); err != nil {
			return fmt.Errorf("delete %s: %w", op.Path, err)
		}
		res.Deleted++
		res.Changes = append(res.Changes, "Deleted: "+op.Path)

	case PatchUpdate:
		before, err := env.ReadFileRaw(op.Path)
		if err != nil {
			return fmt.Errorf("update %s: %w", op.Path, err)
		}
		if err := env.WriteFile(op.Path, rewriteContent(before, op.Hunks)); err != nil {
			return fmt.Errorf("update %s: %w", op.Path, err)
		}
		res.Updated++
		res.Changes = append(res.Changes, "Updated: "+op.Path)

	case PatchMove:
		content, err := env.ReadFileRaw(op.Path)
		if err != nil {
			return fmt.Errorf("move %s: %w", op.Path, err)
		}
		if err := env.WriteFile(op.NewPath, content); err != nil {
			return fmt.Errorf("move %s: %w", op.NewPath, err)
		}
		if err := env.WriteFile(op.Path, ""); err != nil {
			return fmt.Errorf("move %s: %w", op.Path, err)
		}
		res.Moved++
		res.Changes = append(res.Changes, fmt.Sprintf("Moved: %s -> %s", op.Path, op.NewPath))

	default:
		return fmt.Errorf("unknown patch action %q", op.Action)
	}
	return nil
}

// rewriteContent applies update hunks to file content in order. A hunk
// whose context cannot be located falls back to appending its insertions
// at the end of the file rather than failing the whole patch.
func rewriteContent(content string, hunks []Hunk) string {
	lines := strings.Split(content, "\n")
	for _, h := range hunks {
		lines = h.patch(lines)
	}
	return strings.Join(lines, "\n")
}

// patch splices the hunk into file. Matching is attempted twice: first
// tolerating trailing whitespace, then ignoring all surrounding
// whitespace to absorb indentation drift between patch and file.
func (h Hunk) patch(file []string) []string {
	want := h.wanted()
	if len(want) == 0 {
		return append(file, h.additions()...)
	}

	at := locateLines(file, want, func(s string) string { return strings.TrimRight(s, " \t") })
	if at < 0 {
		at = locateLines(file, want, strings.TrimSpace)
	}
	if at < 0 {
		return append(file, h.additions()...)
	}

	repl := h.replacement()
	out := make([]string, 0, len(file)-len(want)+len(repl))
	out = append(out, file[:at]...)
	out = append(out, repl...)
	out = append(out, file[at+len(want):]...)
	return out
}

// locateLines finds the first index where want occurs in file, comparing
// lines through norm. Returns -1 when absent.
func locateLines(file, want []string, norm func(string) string) int {
	if len(want) == 0 || len(want) > len(file) {
		return -1
	}
scan:
	for i := 0; i+len(want) <= len(file); i++ {
		for j, w := range want {
			if norm(file[i+j]) != norm(w) {
				continue scan
			}
		}
		return i
	}
	return -1
}
