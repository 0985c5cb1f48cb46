// ABOUTME: Renders Markdown source as ANSI-styled terminal text via a goldmark AST walk.
// ABOUTME: Provides Renderer with configurable lipgloss styles plus a package-level Markdown helper.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// MinWidth is the narrowest width Render lays text out at. Narrower requests
// are clamped so prefixed blocks always keep at least a few columns of content.
const MinWidth = 20

// Styles controls the ANSI styling applied to each Markdown element.
type Styles struct {
	Heading   lipgloss.Style
	Emphasis  lipgloss.Style
	Strong    lipgloss.Style
	Code      lipgloss.Style
	CodeBlock lipgloss.Style
	Link      lipgloss.Style
	LinkURL   lipgloss.Style
	Quote     lipgloss.Style
	Rule      lipgloss.Style
}

// DefaultStyles returns the standard dark-terminal palette.
func DefaultStyles() Styles {
	return Styles{
		Heading:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170")),
		Emphasis:  lipgloss.NewStyle().Italic(true),
		Strong:    lipgloss.NewStyle().Bold(true),
		Code:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		CodeBlock: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		Link:      lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Underline(true),
		LinkURL:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Quote:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Rule:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// PlainStyles returns styles that leave every element unstyled, for terminals
// where ANSI output is unwanted.
func PlainStyles() Styles {
	s := lipgloss.NewStyle()
	return Styles{
		Heading:   s,
		Emphasis:  s,
		Strong:    s,
		Code:      s,
		CodeBlock: s,
		Link:      s,
		LinkURL:   s,
		Quote:     s,
		Rule:      s,
	}
}

// Renderer converts Markdown source into terminal text. A Renderer holds a
// single goldmark parser and is intended for use from one goroutine; wrap it
// in a Cache when renders are shared or repeated.
type Renderer struct {
	md     goldmark.Markdown
	styles Styles
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithStyles overrides the default element styles.
func WithStyles(s Styles) Option {
	return func(r *Renderer) { r.styles = s }
}

// NewRenderer creates a Renderer with the default dark-terminal styles.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		md:     goldmark.New(),
		styles: DefaultStyles(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Markdown renders source wrapped to width using the default styles.
func Markdown(source string, width int) string {
	return NewRenderer().Render(source, width)
}

// Render converts Markdown source into ANSI-styled text wrapped to width.
// Output lines never exceed width printable cells; top-level blocks are
// separated by single blank lines.
func (r *Renderer) Render(source string, width int) string {
	if width < MinWidth {
		width = MinWidth
	}
	src := []byte(source)
	doc := r.md.Parser().Parse(gmtext.NewReader(src))

	var blocks []string
	for child := doc.FirstChild(); child != nil; child = child.NextSibling() {
		if b := r.block(src, child, width); b != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func (r *Renderer) block(src []byte, n ast.Node, width int) string {
	switch b := n.(type) {
	case *ast.Heading:
		head := strings.Repeat("#", b.Level) + " " + nodeText(src, b)
		return wrapTo(r.styles.Heading.Render(head), width)
	case *ast.Paragraph:
		return wrapTo(r.inlines(src, b), width)
	case *ast.TextBlock:
		return wrapTo(r.inlines(src, b), width)
	case *ast.FencedCodeBlock:
		return r.codeLines(src, b, width)
	case *ast.CodeBlock:
		return r.codeLines(src, b, width)
	case *ast.List:
		return r.list(src, b, width)
	case *ast.Blockquote:
		return r.blockquote(src, b, width)
	case *ast.ThematicBreak:
		return r.styles.Rule.Render(strings.Repeat("─", width))
	case *ast.HTMLBlock:
		return wrapTo(r.rawLines(src, b), width)
	default:
		return wrapTo(r.inlines(src, n), width)
	}
}

// blocks renders the child blocks of n joined by sep.
func (r *Renderer) blocks(src []byte, n ast.Node, width int, sep string) string {
	var parts []string
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if b := r.block(src, child, width); b != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, sep)
}

func (r *Renderer) list(src []byte, l *ast.List, width int) string {
	sep := "\n"
	if !l.IsTight {
		sep = "\n\n"
	}
	num := l.Start
	if num == 0 {
		num = 1
	}
	var items []string
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "• "
		indent := "  "
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			indent = strings.Repeat(" ", len(marker))
			num++
		}
		inner := r.blocks(src, item, max(width-len(indent), 1), sep)
		items = append(items, prefixLines(inner, marker, indent))
	}
	return strings.Join(items, sep)
}

func (r *Renderer) blockquote(src []byte, b *ast.Blockquote, width int) string {
	inner := r.blocks(src, b, max(width-2, 1), "\n\n")
	bar := r.styles.Quote.Render("│ ")
	return prefixLines(inner, bar, bar)
}

// codeLines renders a code block with a two-column indent. Lines are
// hard-wrapped rather than word-wrapped so code stays recognizable.
func (r *Renderer) codeLines(src []byte, n ast.Node, width int) string {
	lines := n.Lines()
	out := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		line := strings.TrimRight(string(seg.Value(src)), "\n")
		if line == "" {
			out = append(out, "")
			continue
		}
		line = strings.ReplaceAll(line, "\t", "    ")
		styled := r.styles.CodeBlock.Render(line)
		out = append(out, prefixLines(wrap.String(styled, max(width-2, 1)), "  ", "  "))
	}
	return strings.Join(out, "\n")
}

func (r *Renderer) rawLines(src []byte, b *ast.HTMLBlock) string {
	var sb strings.Builder
	lines := b.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
	if b.HasClosure() {
		sb.Write(b.ClosureLine.Value(src))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// inlines renders the inline children of n as a single styled string.
func (r *Renderer) inlines(src []byte, n ast.Node) string {
	var sb strings.Builder
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		r.inline(src, child, &sb)
	}
	return sb.String()
}

func (r *Renderer) inline(src []byte, n ast.Node, sb *strings.Builder) {
	switch i := n.(type) {
	case *ast.Text:
		sb.Write(i.Segment.Value(src))
		switch {
		case i.HardLineBreak():
			sb.WriteByte('\n')
		case i.SoftLineBreak():
			sb.WriteByte(' ')
		}
	case *ast.String:
		sb.Write(i.Value)
	case *ast.CodeSpan:
		sb.WriteString(r.styles.Code.Render(nodeText(src, i)))
	case *ast.Emphasis:
		style := r.styles.Emphasis
		if i.Level >= 2 {
			style = r.styles.Strong
		}
		sb.WriteString(style.Render(nodeText(src, i)))
	case *ast.Link:
		label := nodeText(src, i)
		dest := string(i.Destination)
		sb.WriteString(r.styles.Link.Render(label))
		if dest != "" && dest != label {
			sb.WriteString(r.styles.LinkURL.Render(" (" + dest + ")"))
		}
	case *ast.AutoLink:
		sb.WriteString(r.styles.Link.Render(string(i.URL(src))))
	case *ast.Image:
		label := nodeText(src, i)
		if label == "" {
			label = "image"
		}
		sb.WriteString(r.styles.Link.Render(label))
		if len(i.Destination) > 0 {
			sb.WriteString(r.styles.LinkURL.Render(" (" + string(i.Destination) + ")"))
		}
	case *ast.RawHTML:
		for s := 0; s < i.Segments.Len(); s++ {
			seg := i.Segments.At(s)
			sb.Write(seg.Value(src))
		}
	default:
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			r.inline(src, child, sb)
		}
	}
}

// nodeText extracts the plain text beneath n, collapsing line breaks to spaces.
func nodeText(src []byte, n ast.Node) string {
	var sb strings.Builder
	collectText(src, n, &sb)
	return sb.String()
}

func collectText(src []byte, n ast.Node, sb *strings.Builder) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch t := child.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		default:
			collectText(src, child, sb)
		}
	}
}

// wrapTo word-wraps styled text to width, then hard-breaks any word longer
// than a full line. Both passes are ANSI-aware.
func wrapTo(s string, width int) string {
	return wrap.String(wordwrap.String(s, width), width)
}

// prefixLines prepends first to the first line of s and rest to every
// subsequent line.
func prefixLines(s, first, rest string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		if i == 0 {
			lines[i] = first + lines[i]
		} else {
			lines[i] = rest + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}
