// Package comment manages the append-only discussion threads attached to
// saved versions. Comments are never edited or deleted; the thread is an
// audit trail.
package comment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/contractsync/contractsync/internal/core/observability/log"
	"github.com/contractsync/contractsync/internal/core/protocol"
	"github.com/contractsync/contractsync/internal/core/storage"
)

// Broadcaster fans an event out to a document's subscribers.
type Broadcaster interface {
	Broadcast(documentID, msgType string, payload any, excludeConnID string)
}

type Manager struct {
	store       storage.Store
	broadcaster Broadcaster
	logger      log.Log
}

func NewManager(store storage.Store, broadcaster Broadcaster, logger log.Log) *Manager {
	return &Manager{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger.With(log.String("component", "comment")),
	}
}

// AddComment appends a comment to a version's thread and announces it to
// current subscribers. The version must exist; no orphan comments.
func (m *Manager) AddComment(ctx context.Context, documentID string, versionNumber uint64, authorID, text string) (*storage.Comment, error) {
	if _, err := m.store.GetVersion(ctx, documentID, versionNumber); err != nil {
		return nil, err
	}

	c := &storage.Comment{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Version:    versionNumber,
		Author:     authorID,
		Text:       text,
		CreatedAt:  time.Now(),
	}
	if err := m.store.AppendComment(ctx, c); err != nil {
		return nil, err
	}

	m.logger.Debug("comment added",
		log.String("document_id", documentID),
		log.Uint64("version", versionNumber),
		log.String("author", authorID))

	m.broadcaster.Broadcast(documentID, protocol.TypeCommentAdded, &protocol.CommentAdded{
		DocumentID: documentID,
		Version:    versionNumber,
		Comment:    c,
	}, "")

	return c, nil
}

// ListComments returns a version's thread in append order.
func (m *Manager) ListComments(ctx context.Context, documentID string, versionNumber uint64) ([]*storage.Comment, error) {
	return m.store.ListComments(ctx, documentID, versionNumber)
}
