// ABOUTME: Server-Sent Events decoder used by the streaming backends.
// ABOUTME: Yields events per the W3C EventSource wire format, tolerating CR, LF, and CRLF line endings.

package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Event is a single decoded Server-Sent Event.
type Event struct {
	Type  string // "event:" field; defaults to "message"
	Data  string // "data:" field(s); multi-line data joined with \n
	ID    string // "id:" field
	Retry int    // "retry:" field in milliseconds; -1 when absent
}

// Decoder reads SSE events from a stream.
type Decoder struct {
	r   *bufio.Reader
	eof bool

	// fields of the event currently being accumulated
	typ     string
	data    []string
	pending bool
	id      string
	retry   int
}

// NewDecoder wraps r in an SSE decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096), retry: -1}
}

// Next returns the next event, or io.EOF when the stream is exhausted. Data
// accumulated when the stream ends without a trailing blank line is
// dispatched as a final event.
func (d *Decoder) Next() (Event, error) {
	if d.eof {
		return Event{}, io.EOF
	}

	for {
		line, err := d.readLine()
		if err != nil {
			if err == io.EOF {
				d.eof = true
				if d.pending {
					return d.dispatch(), nil
				}
				return Event{}, io.EOF
			}
			return Event{}, err
		}

		switch {
		case line == "":
			// Blank line dispatches. With no data accumulated it only
			// resets the buffers and produces no event.
			if !d.pending {
				d.typ = ""
				d.id = ""
				continue
			}
			return d.dispatch(), nil

		case strings.HasPrefix(line, ":"):
			// comment

		default:
			d.field(splitField(line))
		}
	}
}

// splitField separates an SSE line into its field name and value. A line
// with no colon is a field name with an empty value. A single space after
// the colon is not part of the value.
func splitField(line string) (string, string) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return line, ""
	}
	name, value := line[:i], line[i+1:]
	value = strings.TrimPrefix(value, " ")
	return name, value
}

func (d *Decoder) field(name, value string) {
	switch name {
	case "event":
		d.typ = value
	case "data":
		d.data = append(d.data, value)
		d.pending = true
	case "id":
		d.id = value
	case "retry":
		if n, err := strconv.Atoi(value); err == nil {
			d.retry = n
		}
	}
	// Unknown field names are ignored.
}

func (d *Decoder) dispatch() Event {
	evt := Event{
		Type:  d.typ,
		Data:  strings.Join(d.data, "\n"),
		ID:    d.id,
		Retry: d.retry,
	}
	if evt.Type == "" {
		evt.Type = "message"
	}
	d.typ = ""
	d.data = nil
	d.pending = false
	d.id = ""
	d.retry = -1
	return evt
}

// readLine reads one line, treating CR, LF, and CRLF as terminators.
// bufio.Scanner only understands LF and CRLF, and upstreams have been seen
// emitting bare CR, so the loop walks bytes itself.
func (d *Decoder) readLine() (string, error) {
	var b strings.Builder
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF && b.Len() > 0 {
				return b.String(), nil
			}
			return "", err
		}
		switch c {
		case '\n':
			return b.String(), nil
		case '\r':
			if next, err := d.r.ReadByte(); err == nil && next != '\n' {
				_ = d.r.UnreadByte()
			}
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
	}
}
