package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractsync/contractsync/internal/core/observability/log"
	"github.com/contractsync/contractsync/internal/core/storage/memory"
)

func newTestManager() *Manager {
	return NewManager(memory.New(), log.Nop())
}

func TestEnsureDocumentMakesCreatorOwner(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.EnsureDocument(ctx, "doc", "alice"))

	for _, action := range []Action{ActionRead, ActionWrite, ActionInvite} {
		ok, err := m.IsAuthorized(ctx, "alice", "doc", action)
		require.NoError(t, err)
		assert.Truef(t, ok, "creator must hold %s", action)
	}
}

func TestEnsureDocumentIsIdempotent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.EnsureDocument(ctx, "doc", "alice"))
	require.NoError(t, m.EnsureDocument(ctx, "doc", "bob"))

	ok, err := m.IsAuthorized(ctx, "bob", "doc", ActionWrite)
	require.NoError(t, err)
	assert.False(t, ok, "second caller must not become a member")
}

func TestInvite(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.EnsureDocument(ctx, "doc", "alice"))

	require.NoError(t, m.Invite(ctx, "doc", "alice", "bob"))

	ok, err := m.IsAuthorized(ctx, "bob", "doc", ActionWrite)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.IsAuthorized(ctx, "bob", "doc", ActionInvite)
	require.NoError(t, err)
	assert.False(t, ok, "collaborators are not owners")
}

func TestInviteRequiresOwner(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.EnsureDocument(ctx, "doc", "alice"))
	require.NoError(t, m.Invite(ctx, "doc", "alice", "bob"))

	err := m.Invite(ctx, "doc", "bob", "carol")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestInviteRejectsExistingCollaborator(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.EnsureDocument(ctx, "doc", "alice"))
	require.NoError(t, m.Invite(ctx, "doc", "alice", "bob"))

	err := m.Invite(ctx, "doc", "alice", "bob")
	assert.ErrorIs(t, err, ErrAlreadyCollaborator)
}

func TestUnknownDocumentDeniesEverything(t *testing.T) {
	m := newTestManager()

	ok, err := m.IsAuthorized(context.Background(), "alice", "ghost", ActionRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenRoundTrip(t *testing.T) {
	key := []byte("test-signing-key")

	token, err := IssueToken("alice", key, time.Hour)
	require.NoError(t, err)

	principal, err := ParsePrincipal(token, key)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal)
}

func TestParsePrincipalRejectsWrongKey(t *testing.T) {
	token, err := IssueToken("alice", []byte("key-one"), time.Hour)
	require.NoError(t, err)

	_, err = ParsePrincipal(token, []byte("key-two"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParsePrincipalRejectsExpiredToken(t *testing.T) {
	key := []byte("test-signing-key")
	token, err := IssueToken("alice", key, -time.Minute)
	require.NoError(t, err)

	_, err = ParsePrincipal(token, key)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParsePrincipalRejectsGarbage(t *testing.T) {
	_, err := ParsePrincipal("not-a-token", []byte("key"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
