// Package storage defines the persisted shape of the engine's state: one
// mutable row per document plus three append-only tables (revision log,
// version snapshots, comments) and the membership record. The engine is
// storage-agnostic; the memory and boltdb subpackages are drop-in
// implementations of Store.
package storage

import (
	"context"
	"time"

	"github.com/contractsync/contractsync/internal/core/analysis"
	"github.com/contractsync/contractsync/internal/core/ot"
)

// DocumentRow is the single mutable record per document: canonical text and
// the revision counter. Only the sequencer writes it.
type DocumentRow struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Revision  uint64    `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership records who may touch a document. Owned by the access manager,
// kept separate from DocumentRow so the two writers never race on one record.
type Membership struct {
	DocumentID    string   `json:"document_id"`
	Owners        []string `json:"owners"`
	Collaborators []string `json:"collaborators"`
}

// RevisionEntry is one record of the append-only revision log: the operation
// as actually applied (post-transform) and the text length it produced.
type RevisionEntry struct {
	DocumentID string       `json:"document_id"`
	Revision   uint64       `json:"revision"`
	Op         ot.Operation `json:"op"`
	TextLength int          `json:"text_length"`
	AppliedAt  time.Time    `json:"applied_at"`
}

// VersionSnapshot is an explicit, immutable checkpoint of the canonical text.
// Scores stay nil until the analysis pipeline reports back; attaching them is
// the only mutation a snapshot ever sees besides appended comments.
type VersionSnapshot struct {
	DocumentID string           `json:"document_id"`
	Number     uint64           `json:"number"`
	Revision   uint64           `json:"revision"` // canonical revision the save froze
	Text       string           `json:"text"`
	Checksum   uint64           `json:"checksum"` // xxhash64 of Text
	Author     string           `json:"author"`
	CreatedAt  time.Time        `json:"created_at"`
	Scores     *analysis.Report `json:"scores,omitempty"`
}

// Comment is one entry of a version's append-only discussion thread.
type Comment struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Version    uint64    `json:"version"`
	Author     string    `json:"author"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the persistence boundary. Append methods must be atomic; range
// reads return entries in ascending order.
type Store interface {
	// Document row (mutable).
	GetDocument(ctx context.Context, id string) (*DocumentRow, error)
	PutDocument(ctx context.Context, row *DocumentRow) error

	// Membership (mutable, separate writer).
	GetMembership(ctx context.Context, documentID string) (*Membership, error)
	PutMembership(ctx context.Context, m *Membership) error

	// Revision log (append-only). CommitRevision writes the updated row and
	// the log entry in one atomic step: either both land or neither does, so
	// the log can never hold an entry the canonical text did not apply.
	CommitRevision(ctx context.Context, row *DocumentRow, entry RevisionEntry) error
	RevisionsAfter(ctx context.Context, documentID string, after uint64) ([]RevisionEntry, error)

	// Version snapshots (append-only; scores attach once, later).
	AppendVersion(ctx context.Context, snapshot *VersionSnapshot) error
	GetVersion(ctx context.Context, documentID string, number uint64) (*VersionSnapshot, error)
	ListVersions(ctx context.Context, documentID string) ([]*VersionSnapshot, error)
	SetVersionScores(ctx context.Context, documentID string, number uint64, scores *analysis.Report) error

	// Comments (append-only).
	AppendComment(ctx context.Context, comment *Comment) error
	ListComments(ctx context.Context, documentID string, version uint64) ([]*Comment, error)

	Close() error
}
