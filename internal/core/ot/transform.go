package ot

// Transform rebases op so it applies correctly after applied has already been
// applied to the text op was authored against. The four rule pairs below are
// what make two clients editing the same region converge instead of
// corrupting each other's positions.
func Transform(op, applied Operation) Operation {
	switch {
	case op.Type == Insert && applied.Type == Insert:
		return transformInsertInsert(op, applied)
	case op.Type == Insert && applied.Type == Delete:
		return transformInsertDelete(op, applied)
	case op.Type == Delete && applied.Type == Insert:
		return transformDeleteInsert(op, applied)
	case op.Type == Delete && applied.Type == Delete:
		return transformDeleteDelete(op, applied)
	default:
		return op
	}
}

// TransformAll rebases op against a sequence of already-applied operations,
// oldest first.
func TransformAll(op Operation, applied []Operation) Operation {
	for _, a := range applied {
		op = Transform(op, a)
	}
	return op
}

// transformInsertInsert shifts op right when the applied insert landed at a
// lower position. Equal positions tie-break on author id: the
// lexicographically lower author's text ends up on the left, so both replay
// orders produce the same final string. Equal authors keep arrival order.
func transformInsertInsert(op, applied Operation) Operation {
	if applied.Position < op.Position {
		op.Position += applied.Span()
		return op
	}
	if applied.Position > op.Position {
		return op
	}
	if op.Author < applied.Author {
		return op
	}
	op.Position += applied.Span()
	return op
}

// transformInsertDelete shifts an insert left past deletions at lower
// positions. An insert strictly inside the deleted range is annulled: its
// anchor text is gone, and keeping it would break convergence against the
// mirrored delete rule that swallows interior inserts. Inserts at either
// boundary of the range survive.
func transformInsertDelete(op, applied Operation) Operation {
	start := applied.Position
	end := applied.Position + applied.Length

	switch {
	case op.Position <= start:
		return op
	case op.Position >= end:
		op.Position -= applied.Length
		return op
	default:
		op.Position = start
		op.Text = ""
		return op
	}
}

// transformDeleteInsert shifts the delete right past inserts before it and
// grows it over text inserted inside its range.
func transformDeleteInsert(op, applied Operation) Operation {
	start := op.Position
	end := op.Position + op.Length

	switch {
	case applied.Position <= start:
		op.Position += applied.Span()
		return op
	case applied.Position >= end:
		return op
	default:
		op.Length += applied.Span()
		return op
	}
}

// transformDeleteDelete removes the overlap between the two ranges so no rune
// is deleted twice. A fully-consumed delete collapses to a zero-length no-op.
func transformDeleteDelete(op, applied Operation) Operation {
	opStart := op.Position
	opEnd := op.Position + op.Length
	apStart := applied.Position
	apEnd := applied.Position + applied.Length

	overlapStart := max(opStart, apStart)
	overlapEnd := min(opEnd, apEnd)
	if overlap := overlapEnd - overlapStart; overlap > 0 {
		op.Length -= overlap
	}

	// Shift left by however much of the applied range sat strictly before us.
	if before := min(apEnd, opStart) - apStart; before > 0 {
		op.Position -= before
	}

	if op.Length < 0 {
		op.Length = 0
	}
	return op
}
