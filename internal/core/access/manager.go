// Package access owns document membership: the owner and collaborator sets,
// invitations, and the authorization checks the mutation paths consult
// before accepting edits, saves, and invites.
package access

import (
	"context"
	"errors"
	"slices"

	"github.com/contractsync/contractsync/internal/core/observability/log"
	"github.com/contractsync/contractsync/internal/core/storage"
)

// Action names the capability being checked.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionInvite Action = "invite"
)

type Manager struct {
	store  storage.Store
	logger log.Log
}

func NewManager(store storage.Store, logger log.Log) *Manager {
	return &Manager{
		store:  store,
		logger: logger.With(log.String("component", "access")),
	}
}

// EnsureDocument creates the membership record on first touch, making the
// creator both owner and collaborator. Existing records are left alone.
func (m *Manager) EnsureDocument(ctx context.Context, documentID, creatorID string) error {
	_, err := m.store.GetMembership(ctx, documentID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrMembershipNotFound) {
		return err
	}

	m.logger.Info("membership created",
		log.String("document_id", documentID),
		log.String("owner", creatorID))

	return m.store.PutMembership(ctx, &storage.Membership{
		DocumentID:    documentID,
		Owners:        []string{creatorID},
		Collaborators: []string{creatorID},
	})
}

// Invite adds target to the collaborator set. Only owners may invite;
// inviting an existing collaborator is rejected explicitly so the caller can
// tell the user rather than silently succeeding.
func (m *Manager) Invite(ctx context.Context, documentID, ownerID, target string) error {
	membership, err := m.store.GetMembership(ctx, documentID)
	if err != nil {
		return err
	}

	if !slices.Contains(membership.Owners, ownerID) {
		return ErrNotOwner
	}
	if slices.Contains(membership.Collaborators, target) {
		return ErrAlreadyCollaborator
	}

	membership.Collaborators = append(membership.Collaborators, target)
	if err := m.store.PutMembership(ctx, membership); err != nil {
		return err
	}

	m.logger.Info("collaborator invited",
		log.String("document_id", documentID),
		log.String("owner", ownerID),
		log.String("collaborator", target))
	return nil
}

// IsAuthorized reports whether the principal may perform the action on the
// document. Unknown documents deny everything.
func (m *Manager) IsAuthorized(ctx context.Context, principalID, documentID string, action Action) (bool, error) {
	membership, err := m.store.GetMembership(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrMembershipNotFound) {
			return false, nil
		}
		return false, err
	}

	switch action {
	case ActionInvite:
		return slices.Contains(membership.Owners, principalID), nil
	case ActionRead, ActionWrite:
		return slices.Contains(membership.Collaborators, principalID) ||
			slices.Contains(membership.Owners, principalID), nil
	default:
		return false, nil
	}
}

// Collaborators returns the collaborator set for a document.
func (m *Manager) Collaborators(ctx context.Context, documentID string) ([]string, error) {
	membership, err := m.store.GetMembership(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrMembershipNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return membership.Collaborators, nil
}
