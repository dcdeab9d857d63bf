package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractsync/contractsync/internal/core/analysis"
	"github.com/contractsync/contractsync/internal/core/storage"
)

func TestDocumentRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetDocument(ctx, "doc")
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)

	require.NoError(t, s.PutDocument(ctx, &storage.DocumentRow{ID: "doc", Text: "abc", Revision: 2}))

	got, err := s.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Text)

	// The returned row is a copy; mutating it must not leak into the store.
	got.Text = "mutated"
	again, err := s.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "abc", again.Text)
}

func TestRevisionsAfterReturnsTail(t *testing.T) {
	s := New()
	ctx := context.Background()

	for rev := uint64(1); rev <= 4; rev++ {
		row := &storage.DocumentRow{ID: "doc", Revision: rev}
		require.NoError(t, s.CommitRevision(ctx, row, storage.RevisionEntry{DocumentID: "doc", Revision: rev}))
	}

	entries, err := s.RevisionsAfter(ctx, "doc", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(3), entries[0].Revision)

	all, err := s.RevisionsAfter(ctx, "doc", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestCommitRevisionRejectsRegression(t *testing.T) {
	s := New()
	ctx := context.Background()

	row := &storage.DocumentRow{ID: "doc", Text: "first", Revision: 2}
	require.NoError(t, s.CommitRevision(ctx, row, storage.RevisionEntry{DocumentID: "doc", Revision: 2}))

	// The rejected commit must not touch the row either.
	stale := &storage.DocumentRow{ID: "doc", Text: "second", Revision: 2}
	err := s.CommitRevision(ctx, stale, storage.RevisionEntry{DocumentID: "doc", Revision: 2})
	assert.ErrorIs(t, err, storage.ErrDuplicateRevision)

	got, err := s.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Text)
}

func TestVersionScores(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.AppendVersion(ctx, &storage.VersionSnapshot{DocumentID: "doc", Number: 1, Text: "v1"}))

	err := s.SetVersionScores(ctx, "doc", 5, &analysis.Report{})
	assert.ErrorIs(t, err, storage.ErrVersionNotFound)

	require.NoError(t, s.SetVersionScores(ctx, "doc", 1, &analysis.Report{SecurityScore: 99}))
	got, err := s.GetVersion(ctx, "doc", 1)
	require.NoError(t, err)
	require.NotNil(t, got.Scores)
	assert.Equal(t, 99, got.Scores.SecurityScore)
}

func TestMembershipCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	m := &storage.Membership{DocumentID: "doc", Owners: []string{"alice"}, Collaborators: []string{"alice"}}
	require.NoError(t, s.PutMembership(ctx, m))

	got, err := s.GetMembership(ctx, "doc")
	require.NoError(t, err)
	got.Collaborators = append(got.Collaborators, "intruder")

	again, err := s.GetMembership(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, again.Collaborators)
}
