// Package ot implements the operational-transform primitives that keep a
// shared text buffer convergent under concurrent editing. An Operation is a
// value: immutable once created, tagged with the revision its author last
// observed, and rebased by the sequencer against everything applied since.
package ot

// Type tags the two operation variants.
type Type string

const (
	Insert Type = "insert"
	Delete Type = "delete"
)

// Operation is a single edit against a document. Position and Length are
// rune indices, not byte offsets, so multi-byte characters stay intact.
type Operation struct {
	Type         Type   `json:"type"`
	Position     int    `json:"position"`
	Text         string `json:"text,omitempty"`   // insert payload
	Length       int    `json:"length,omitempty"` // delete span
	Author       string `json:"author"`
	BaseRevision uint64 `json:"base_revision"`
}

// NewInsert builds an insert operation.
func NewInsert(position int, text, author string, baseRevision uint64) Operation {
	return Operation{
		Type:         Insert,
		Position:     position,
		Text:         text,
		Author:       author,
		BaseRevision: baseRevision,
	}
}

// NewDelete builds a delete operation.
func NewDelete(position, length int, author string, baseRevision uint64) Operation {
	return Operation{
		Type:         Delete,
		Position:     position,
		Length:       length,
		Author:       author,
		BaseRevision: baseRevision,
	}
}

// Span is the number of runes the operation adds or removes.
func (op Operation) Span() int {
	if op.Type == Insert {
		return len([]rune(op.Text))
	}
	return op.Length
}

// IsNoop reports whether applying the operation would leave the text
// unchanged. Deletes collapse to no-ops when transformation consumed their
// whole range; that is a resolved conflict, not an error.
func (op Operation) IsNoop() bool {
	switch op.Type {
	case Insert:
		return op.Text == ""
	case Delete:
		return op.Length <= 0
	default:
		return true
	}
}

// Apply splices the operation into text and returns the result. Out-of-range
// positions are clamped to the buffer bounds, never allowed to panic.
func Apply(text string, op Operation) string {
	runes := []rune(text)
	position := clamp(op.Position, 0, len(runes))

	switch op.Type {
	case Insert:
		if op.Text == "" {
			return text
		}
		insertion := []rune(op.Text)
		out := make([]rune, 0, len(runes)+len(insertion))
		out = append(out, runes[:position]...)
		out = append(out, insertion...)
		out = append(out, runes[position:]...)
		return string(out)

	case Delete:
		if op.Length <= 0 {
			return text
		}
		end := clamp(position+op.Length, position, len(runes))
		out := make([]rune, 0, len(runes)-(end-position))
		out = append(out, runes[:position]...)
		out = append(out, runes[end:]...)
		return string(out)

	default:
		return text
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
