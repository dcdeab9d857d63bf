// Package document hosts the operation sequencer: the single serialization
// point per document. It owns the canonical text and revision counter,
// totally orders incoming operations, rebases stale ones against the
// revision log, and emits the transformed operation for fan-out.
package document

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/contractsync/contractsync/internal/core/observability/log"
	"github.com/contractsync/contractsync/internal/core/ot"
	"github.com/contractsync/contractsync/internal/core/storage"
)

// Sequencer serializes mutations per document. Different documents proceed
// fully in parallel; a document's lock is held only across the
// transform-apply-log step, never across network I/O.
type Sequencer struct {
	store  storage.Store
	logger log.Log

	mu   sync.Mutex
	docs map[string]*docState
}

// docState is the live canonical state of one document. The embedded mutex
// is the document's serialization slot.
type docState struct {
	mu  sync.Mutex
	row storage.DocumentRow
	log []storage.RevisionEntry
}

// Result is what submit hands back: the assigned revision and the operation
// as actually applied, ready for re-broadcast.
type Result struct {
	Revision   uint64
	Op         ot.Operation
	TextLength int
}

func NewSequencer(store storage.Store, logger log.Log) *Sequencer {
	return &Sequencer{
		store:  store,
		logger: logger.With(log.String("component", "sequencer")),
		docs:   make(map[string]*docState),
	}
}

// Open loads a document into the sequencer, creating it empty at revision 0
// if it does not exist yet. Safe to call concurrently; the first caller wins
// the load and everyone shares the same state.
//
// A non-nil ready callback runs while the document's serialization slot is
// still held, before any concurrent Submit can advance the revision. The
// caller uses it to subscribe for fan-out atomically with the snapshot, so
// no operation can slip between the two. The callback must not block and
// must not call back into the sequencer.
func (s *Sequencer) Open(ctx context.Context, documentID string, ready func(text string, revision uint64)) (text string, revision uint64, err error) {
	state, err := s.state(ctx, documentID)
	if err != nil {
		return "", 0, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if ready != nil {
		ready(state.row.Text, state.row.Revision)
	}
	return state.row.Text, state.row.Revision, nil
}

// Submit applies one operation to the document's canonical text. If the
// operation was authored against a stale revision it is first rebased
// against every log entry it has not seen, in log order.
//
// A non-nil publish callback runs after the commit while the serialization
// slot is still held. Fan-out enqueued there inherits the revision log's
// total order; the callback must not block and must not call back into the
// sequencer.
func (s *Sequencer) Submit(ctx context.Context, documentID string, op ot.Operation, publish func(*Result)) (*Result, error) {
	state, err := s.state(ctx, documentID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	current := state.row.Revision
	if op.BaseRevision > current {
		return nil, ErrRevisionAhead
	}

	transformed := op
	if op.BaseRevision < current {
		for _, entry := range state.unseen(op.BaseRevision) {
			transformed = ot.Transform(transformed, entry.Op)
		}
	}

	newText := ot.Apply(state.row.Text, transformed)
	newRevision := current + 1

	entry := storage.RevisionEntry{
		DocumentID: documentID,
		Revision:   newRevision,
		Op:         transformed,
		TextLength: len([]rune(newText)),
		AppliedAt:  time.Now(),
	}

	// Log entry and row commit in one atomic store write; a failure leaves
	// both the store and the canonical state untouched, so application
	// stays all-or-nothing.
	row := state.row
	row.Text = newText
	row.Revision = newRevision
	row.UpdatedAt = entry.AppliedAt
	if err := s.store.CommitRevision(ctx, &row, entry); err != nil {
		return nil, err
	}

	state.row = row
	state.log = append(state.log, entry)

	s.logger.Debug("operation applied",
		log.String("document_id", documentID),
		log.Uint64("revision", newRevision),
		log.String("author", transformed.Author),
		log.Int("text_length", entry.TextLength))

	result := &Result{
		Revision:   newRevision,
		Op:         transformed,
		TextLength: entry.TextLength,
	}
	if publish != nil {
		publish(result)
	}
	return result, nil
}

// Snapshot returns the canonical text and revision without exposing shared
// memory; the version store reads through here so a save can never observe
// a half-applied operation.
func (s *Sequencer) Snapshot(ctx context.Context, documentID string) (text string, revision uint64, err error) {
	s.mu.Lock()
	state, ok := s.docs[documentID]
	s.mu.Unlock()
	if !ok {
		row, err := s.store.GetDocument(ctx, documentID)
		if err != nil {
			return "", 0, err
		}
		return row.Text, row.Revision, nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.row.Text, state.row.Revision, nil
}

// state returns the live state for a document, loading or creating it on
// first touch.
func (s *Sequencer) state(ctx context.Context, documentID string) (*docState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.docs[documentID]; ok {
		return state, nil
	}

	row, err := s.store.GetDocument(ctx, documentID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDocumentNotFound):
		now := time.Now()
		row = &storage.DocumentRow{
			ID:        documentID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.PutDocument(ctx, row); err != nil {
			return nil, err
		}
		s.logger.Info("document created", log.String("document_id", documentID))
	default:
		return nil, err
	}

	entries, err := s.store.RevisionsAfter(ctx, documentID, 0)
	if err != nil {
		return nil, err
	}

	state := &docState{row: *row, log: entries}
	s.docs[documentID] = state
	return state, nil
}

// unseen returns the log suffix with revisions strictly greater than base.
// The in-memory log is append-only and ordered, so this is a tail slice.
func (st *docState) unseen(base uint64) []storage.RevisionEntry {
	for i := range st.log {
		if st.log[i].Revision > base {
			return st.log[i:]
		}
	}
	return nil
}
