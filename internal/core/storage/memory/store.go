// Package memory is the in-memory Store used by unit tests and by servers
// running without a data directory. All values are copied on the way in and
// out so callers never share mutable state with the store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/contractsync/contractsync/internal/core/analysis"
	"github.com/contractsync/contractsync/internal/core/storage"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	mu          sync.RWMutex
	documents   map[string]storage.DocumentRow
	memberships map[string]storage.Membership
	revisions   map[string][]storage.RevisionEntry
	versions    map[string][]storage.VersionSnapshot
	comments    map[string]map[uint64][]storage.Comment
}

func New() *Store {
	return &Store{
		documents:   make(map[string]storage.DocumentRow),
		memberships: make(map[string]storage.Membership),
		revisions:   make(map[string][]storage.RevisionEntry),
		versions:    make(map[string][]storage.VersionSnapshot),
		comments:    make(map[string]map[uint64][]storage.Comment),
	}
}

func (s *Store) GetDocument(_ context.Context, id string) (*storage.DocumentRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.documents[id]
	if !ok {
		return nil, storage.ErrDocumentNotFound
	}
	out := row
	return &out, nil
}

func (s *Store) PutDocument(_ context.Context, row *storage.DocumentRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents[row.ID] = *row
	return nil
}

func (s *Store) GetMembership(_ context.Context, documentID string) (*storage.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[documentID]
	if !ok {
		return nil, storage.ErrMembershipNotFound
	}
	out := storage.Membership{
		DocumentID:    m.DocumentID,
		Owners:        append([]string(nil), m.Owners...),
		Collaborators: append([]string(nil), m.Collaborators...),
	}
	return &out, nil
}

func (s *Store) PutMembership(_ context.Context, m *storage.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memberships[m.DocumentID] = storage.Membership{
		DocumentID:    m.DocumentID,
		Owners:        append([]string(nil), m.Owners...),
		Collaborators: append([]string(nil), m.Collaborators...),
	}
	return nil
}

func (s *Store) CommitRevision(_ context.Context, row *storage.DocumentRow, entry storage.RevisionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.revisions[entry.DocumentID]
	if len(log) > 0 && log[len(log)-1].Revision >= entry.Revision {
		return storage.ErrDuplicateRevision
	}
	s.revisions[entry.DocumentID] = append(log, entry)
	s.documents[row.ID] = *row
	return nil
}

func (s *Store) RevisionsAfter(_ context.Context, documentID string, after uint64) ([]storage.RevisionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.revisions[documentID]
	idx := sort.Search(len(log), func(i int) bool { return log[i].Revision > after })
	return append([]storage.RevisionEntry(nil), log[idx:]...), nil
}

func (s *Store) AppendVersion(_ context.Context, snapshot *storage.VersionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.versions[snapshot.DocumentID]
	if len(versions) > 0 && versions[len(versions)-1].Number >= snapshot.Number {
		return storage.ErrDuplicateVersion
	}
	s.versions[snapshot.DocumentID] = append(versions, copySnapshot(snapshot))
	return nil
}

func (s *Store) GetVersion(_ context.Context, documentID string, number uint64) (*storage.VersionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.versions[documentID] {
		if s.versions[documentID][i].Number == number {
			out := copySnapshot(&s.versions[documentID][i])
			return &out, nil
		}
	}
	return nil, storage.ErrVersionNotFound
}

func (s *Store) ListVersions(_ context.Context, documentID string) ([]*storage.VersionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[documentID]
	out := make([]*storage.VersionSnapshot, 0, len(versions))
	for i := range versions {
		v := copySnapshot(&versions[i])
		out = append(out, &v)
	}
	return out, nil
}

func (s *Store) SetVersionScores(_ context.Context, documentID string, number uint64, scores *analysis.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.versions[documentID] {
		if s.versions[documentID][i].Number == number {
			r := *scores
			r.Findings = append([]string(nil), scores.Findings...)
			s.versions[documentID][i].Scores = &r
			return nil
		}
	}
	return storage.ErrVersionNotFound
}

func (s *Store) AppendComment(_ context.Context, comment *storage.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.comments[comment.DocumentID] == nil {
		s.comments[comment.DocumentID] = make(map[uint64][]storage.Comment)
	}
	s.comments[comment.DocumentID][comment.Version] = append(s.comments[comment.DocumentID][comment.Version], *comment)
	return nil
}

func (s *Store) ListComments(_ context.Context, documentID string, version uint64) ([]*storage.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread := s.comments[documentID][version]
	out := make([]*storage.Comment, 0, len(thread))
	for i := range thread {
		c := thread[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

func copySnapshot(v *storage.VersionSnapshot) storage.VersionSnapshot {
	out := *v
	if v.Scores != nil {
		r := *v.Scores
		r.Findings = append([]string(nil), v.Scores.Findings...)
		out.Scores = &r
	}
	return out
}
