// Package doc holds the live document model the correction session operates
// on, along with the position resolver that maps a stale issue (token plus an
// offset into a previous snapshot) back onto the current text so a fix can be
// applied safely.
package doc

import (
	"errors"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/quillworks/redline/internal/issue"
)

// ErrPositionNotFound is returned when no resolver tier can locate an
// issue's span in the current document. The apply operation is aborted and
// the document is left untouched.
var ErrPositionNotFound = errors.New("position not found")

// Span is a half-open [From, To) byte range in the document text.
type Span struct {
	From int
	To   int
}

// Marker records where an issue was located when it was first displayed.
// Markers survive document edits on a best-effort basis and are the fastest,
// exact resolution path while they last.
type Marker struct {
	// Offset is the snapshot offset the issue carried when displayed.
	Offset int

	// From is the start of the issue's span in the live text.
	From int

	// To is the end (exclusive) of the issue's span in the live text.
	To int
}

// Document is a mutable text buffer with per-issue markers. It is owned by a
// single session actor; all access happens on that actor's event loop, so no
// internal locking is needed.
type Document struct {
	text    string
	markers map[issue.Key]Marker
}

// New creates a document holding the given text.
func New(text string) *Document {
	return &Document{
		text:    text,
		markers: make(map[issue.Key]Marker),
	}
}

// Text returns the current document text.
func (d *Document) Text() string {
	return d.text
}

// SetText replaces the whole document content, e.g. when the editor
// re-renders. All markers are dropped since their positions no longer mean
// anything; later resolutions fall through to the text-search tiers.
func (d *Document) SetText(text string) {
	d.text = text
	d.markers = make(map[issue.Key]Marker)
}

// SetMarker records the displayed span for an issue.
func (d *Document) SetMarker(key issue.Key, m Marker) {
	d.markers[key] = m
}

// Marker returns the recorded marker for an issue, if one survives.
func (d *Document) Marker(key issue.Key) fn.Option[Marker] {
	m, ok := d.markers[key]
	if !ok {
		return fn.None[Marker]()
	}

	return fn.Some(m)
}

// DeleteMarker removes the marker for an issue.
func (d *Document) DeleteMarker(key issue.Key) {
	delete(d.markers, key)
}

// Apply replaces the span with the given text as a single atomic edit: the
// buffer is swapped in one assignment, so no reader on the owning actor ever
// observes a half-applied state. Markers overlapping the edited span are
// dropped; markers past it are shifted by the length delta.
func (d *Document) Apply(span Span, replacement string) error {
	if span.From < 0 || span.To > len(d.text) || span.From > span.To {
		return ErrPositionNotFound
	}

	d.text = d.text[:span.From] + replacement + d.text[span.To:]

	delta := len(replacement) - (span.To - span.From)
	for key, m := range d.markers {
		switch {
		// Marker entirely before the edit: untouched.
		case m.To <= span.From:

		// Marker entirely after the edit: shift by the delta.
		case m.From >= span.To:
			m.From += delta
			m.To += delta
			d.markers[key] = m

		// Marker overlaps the edited span: its position is gone.
		default:
			delete(d.markers, key)
		}
	}

	return nil
}
