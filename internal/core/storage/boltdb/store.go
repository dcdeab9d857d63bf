// Package boltdb persists the engine's state in an embedded bbolt database:
// one bucket per table, nested per-document buckets for the append-only logs
// so range reads are ordered cursor scans. Values are JSON.
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/contractsync/contractsync/internal/core/analysis"
	"github.com/contractsync/contractsync/internal/core/storage"
)

var (
	bucketDocuments   = []byte("documents")
	bucketMemberships = []byte("memberships")
	bucketRevisions   = []byte("revisions")
	bucketVersions    = []byte("versions")
	bucketComments    = []byte("comments")
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDocuments, bucketMemberships, bucketRevisions, bucketVersions, bucketComments} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) GetDocument(_ context.Context, id string) (*storage.DocumentRow, error) {
	var row storage.DocumentRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocuments).Get([]byte(id))
		if data == nil {
			return storage.ErrDocumentNotFound
		}
		return json.Unmarshal(data, &row)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) PutDocument(_ context.Context, row *storage.DocumentRow) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal document row: %w", err)
		}
		return tx.Bucket(bucketDocuments).Put([]byte(row.ID), data)
	})
}

func (s *Store) GetMembership(_ context.Context, documentID string) (*storage.Membership, error) {
	var m storage.Membership
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMemberships).Get([]byte(documentID))
		if data == nil {
			return storage.ErrMembershipNotFound
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) PutMembership(_ context.Context, m *storage.Membership) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal membership: %w", err)
		}
		return tx.Bucket(bucketMemberships).Put([]byte(m.DocumentID), data)
	})
}

// CommitRevision writes the log entry and the updated row in a single
// transaction; a failure rolls both back.
func (s *Store) CommitRevision(_ context.Context, row *storage.DocumentRow, entry storage.RevisionEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		doc, err := tx.Bucket(bucketRevisions).CreateBucketIfNotExists([]byte(entry.DocumentID))
		if err != nil {
			return fmt.Errorf("create revision bucket: %w", err)
		}
		key := u64key(entry.Revision)
		if doc.Get(key) != nil {
			return storage.ErrDuplicateRevision
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal revision entry: %w", err)
		}
		if err := doc.Put(key, data); err != nil {
			return err
		}

		rowData, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal document row: %w", err)
		}
		return tx.Bucket(bucketDocuments).Put([]byte(row.ID), rowData)
	})
}

func (s *Store) RevisionsAfter(_ context.Context, documentID string, after uint64) ([]storage.RevisionEntry, error) {
	var entries []storage.RevisionEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		doc := tx.Bucket(bucketRevisions).Bucket([]byte(documentID))
		if doc == nil {
			return nil
		}
		c := doc.Cursor()
		for k, v := c.Seek(u64key(after + 1)); k != nil; k, v = c.Next() {
			var entry storage.RevisionEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshal revision entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) AppendVersion(_ context.Context, snapshot *storage.VersionSnapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		doc, err := tx.Bucket(bucketVersions).CreateBucketIfNotExists([]byte(snapshot.DocumentID))
		if err != nil {
			return fmt.Errorf("create version bucket: %w", err)
		}
		key := u64key(snapshot.Number)
		if doc.Get(key) != nil {
			return storage.ErrDuplicateVersion
		}
		data, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshal version snapshot: %w", err)
		}
		return doc.Put(key, data)
	})
}

func (s *Store) GetVersion(_ context.Context, documentID string, number uint64) (*storage.VersionSnapshot, error) {
	var snapshot storage.VersionSnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		doc := tx.Bucket(bucketVersions).Bucket([]byte(documentID))
		if doc == nil {
			return storage.ErrVersionNotFound
		}
		data := doc.Get(u64key(number))
		if data == nil {
			return storage.ErrVersionNotFound
		}
		return json.Unmarshal(data, &snapshot)
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *Store) ListVersions(_ context.Context, documentID string) ([]*storage.VersionSnapshot, error) {
	var versions []*storage.VersionSnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		doc := tx.Bucket(bucketVersions).Bucket([]byte(documentID))
		if doc == nil {
			return nil
		}
		return doc.ForEach(func(_, v []byte) error {
			var snapshot storage.VersionSnapshot
			if err := json.Unmarshal(v, &snapshot); err != nil {
				return fmt.Errorf("unmarshal version snapshot: %w", err)
			}
			versions = append(versions, &snapshot)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

func (s *Store) SetVersionScores(_ context.Context, documentID string, number uint64, scores *analysis.Report) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		doc := tx.Bucket(bucketVersions).Bucket([]byte(documentID))
		if doc == nil {
			return storage.ErrVersionNotFound
		}
		key := u64key(number)
		data := doc.Get(key)
		if data == nil {
			return storage.ErrVersionNotFound
		}
		var snapshot storage.VersionSnapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return fmt.Errorf("unmarshal version snapshot: %w", err)
		}
		snapshot.Scores = scores
		updated, err := json.Marshal(&snapshot)
		if err != nil {
			return fmt.Errorf("marshal version snapshot: %w", err)
		}
		return doc.Put(key, updated)
	})
}

func (s *Store) AppendComment(_ context.Context, comment *storage.Comment) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		doc, err := tx.Bucket(bucketComments).CreateBucketIfNotExists([]byte(comment.DocumentID))
		if err != nil {
			return fmt.Errorf("create comment bucket: %w", err)
		}
		seq, err := doc.NextSequence()
		if err != nil {
			return fmt.Errorf("next comment sequence: %w", err)
		}
		data, err := json.Marshal(comment)
		if err != nil {
			return fmt.Errorf("marshal comment: %w", err)
		}
		// Key orders by version first, arrival second.
		key := append(u64key(comment.Version), u64key(seq)...)
		return doc.Put(key, data)
	})
}

func (s *Store) ListComments(_ context.Context, documentID string, version uint64) ([]*storage.Comment, error) {
	var comments []*storage.Comment
	err := s.db.View(func(tx *bbolt.Tx) error {
		doc := tx.Bucket(bucketComments).Bucket([]byte(documentID))
		if doc == nil {
			return nil
		}
		prefix := u64key(version)
		c := doc.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var comment storage.Comment
			if err := json.Unmarshal(v, &comment); err != nil {
				return fmt.Errorf("unmarshal comment: %w", err)
			}
			comments = append(comments, &comment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return comments, nil
}

func u64key(v uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, v)
	return key
}
