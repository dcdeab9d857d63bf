package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/contractsync/contractsync/internal/core/access"
	"github.com/contractsync/contractsync/internal/core/document"
	"github.com/contractsync/contractsync/internal/core/observability/log"
	"github.com/contractsync/contractsync/internal/core/protocol"
	"github.com/contractsync/contractsync/internal/core/storage"
)

// handleWebSocket authenticates the upgrade request, then runs the
// connection's single receive loop. All suspension happens at the transport
// read; the engine calls themselves are short and synchronous.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, err := s.principalFromToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if int(atomic.LoadInt64(&s.connCount)) >= s.cfg.Server.MaxConnections {
		http.Error(w, ErrMaxConnections.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", log.Error(err))
		return
	}
	if s.cfg.Server.MaxMessageSize > 0 {
		ws.SetReadLimit(s.cfg.Server.MaxMessageSize)
	}

	conn := newWSConn(ws, principal, s.cfg.Server.WriteTimeout)
	atomic.AddInt64(&s.connCount, 1)

	connLogger := s.logger.With(
		log.String("connection_id", conn.ID()),
		log.String("principal", principal))
	connLogger.Info("client connected",
		log.String("remote_addr", ws.RemoteAddr().String()),
		log.Int64("total_connections", atomic.LoadInt64(&s.connCount)))

	defer func() {
		s.registry.Drop(conn)
		_ = conn.Close()
		atomic.AddInt64(&s.connCount, -1)
		connLogger.Info("client disconnected",
			log.Uint64("last_acked_revision", conn.lastAcked()),
			log.Int64("total_connections", atomic.LoadInt64(&s.connCount)))
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			// The client's own transport failing is not a user-visible
			// error; the deferred cleanup unsubscribes everywhere.
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				connLogger.Debug("receive failed", log.Error(err))
			}
			return
		}
		s.handleMessage(conn, connLogger, data)
	}
}

// handleMessage decodes one inbound frame and dispatches it. Decode and
// handler failures are answered on the offending connection only; the
// connection stays open.
func (s *Server) handleMessage(conn *wsConn, connLogger log.Log, data []byte) {
	msgType, payload, err := protocol.DecodeClient(data)
	if err != nil {
		connLogger.Warn("undecodable message", log.String("type", msgType), log.Error(err))
		s.sendError(conn, protocol.CodeBadRequest, "undecodable message")
		return
	}

	ctx := context.Background()

	switch msg := payload.(type) {
	case *protocol.Join:
		err = s.handleJoin(ctx, conn, msg)
	case *protocol.Edit:
		err = s.handleEdit(ctx, conn, msg)
	case *protocol.Save:
		err = s.handleSave(ctx, conn, msg)
	case *protocol.Comment:
		err = s.handleComment(ctx, conn, msg)
	case *protocol.Invite:
		err = s.handleInvite(ctx, conn, msg)
	}

	if err != nil {
		connLogger.Warn("message rejected", log.String("type", msgType), log.Error(err))
		s.sendError(conn, errorCode(err), err.Error())
	}
}

func (s *Server) handleJoin(ctx context.Context, conn *wsConn, msg *protocol.Join) error {
	if msg.DocumentID == "" {
		return errBadRequest("document_id required")
	}

	// First touch creates the document with the joining principal as owner.
	if err := s.access.EnsureDocument(ctx, msg.DocumentID, conn.PrincipalID()); err != nil {
		return err
	}
	if err := s.authorize(ctx, conn, msg.DocumentID, access.ActionRead); err != nil {
		return err
	}

	versions, err := s.versions.ListVersions(ctx, msg.DocumentID)
	if err != nil {
		return err
	}
	collaborators, err := s.access.Collaborators(ctx, msg.DocumentID)
	if err != nil {
		return err
	}

	// Subscribing and reading the snapshot happen inside the document's
	// serialization slot: no edit can land between the revision the client
	// renders and the first EditApplied it receives.
	var sendErr error
	_, _, err = s.sequencer.Open(ctx, msg.DocumentID, func(text string, revision uint64) {
		s.registry.Subscribe(msg.DocumentID, conn)
		conn.markAcked(revision)
		sendErr = s.registry.SendOrdered(msg.DocumentID, conn, protocol.TypeInitialState, &protocol.InitialState{
			DocumentID:    msg.DocumentID,
			Text:          text,
			Revision:      revision,
			Versions:      versions,
			Collaborators: collaborators,
		})
	})
	if err != nil {
		return err
	}
	return sendErr
}

func (s *Server) handleEdit(ctx context.Context, conn *wsConn, msg *protocol.Edit) error {
	if err := s.authorize(ctx, conn, msg.DocumentID, access.ActionWrite); err != nil {
		return err
	}

	op := msg.Operation
	op.Author = conn.PrincipalID() // the transport identity wins over the payload

	// Fan-out is enqueued while the serialization slot is still held, so
	// subscribers receive EditApplied frames in revision order even when
	// submitting connections race each other.
	result, err := s.sequencer.Submit(ctx, msg.DocumentID, op, func(res *document.Result) {
		applied := &protocol.EditApplied{
			DocumentID: msg.DocumentID,
			Revision:   res.Revision,
			Operation:  res.Op,
		}
		s.registry.Broadcast(msg.DocumentID, protocol.TypeEditApplied, applied, conn.ID())

		ack := *applied
		ack.Ack = true
		_ = s.registry.SendOrdered(msg.DocumentID, conn, protocol.TypeEditApplied, &ack)
	})
	if err != nil {
		return err
	}

	atomic.AddInt64(&s.editsApplied, 1)
	conn.markAcked(result.Revision)
	return nil
}

func (s *Server) handleSave(ctx context.Context, conn *wsConn, msg *protocol.Save) error {
	if err := s.authorize(ctx, conn, msg.DocumentID, access.ActionWrite); err != nil {
		return err
	}
	// SaveVersion announces the new version to every subscriber itself.
	_, err := s.versions.SaveVersion(ctx, msg.DocumentID, conn.PrincipalID())
	return err
}

func (s *Server) handleComment(ctx context.Context, conn *wsConn, msg *protocol.Comment) error {
	if err := s.authorize(ctx, conn, msg.DocumentID, access.ActionRead); err != nil {
		return err
	}
	_, err := s.comments.AddComment(ctx, msg.DocumentID, msg.Version, conn.PrincipalID(), msg.Text)
	return err
}

func (s *Server) handleInvite(ctx context.Context, conn *wsConn, msg *protocol.Invite) error {
	if msg.Email == "" {
		return errBadRequest("email required")
	}
	return s.access.Invite(ctx, msg.DocumentID, conn.PrincipalID(), msg.Email)
}

func (s *Server) authorize(ctx context.Context, conn *wsConn, documentID string, action access.Action) error {
	ok, err := s.access.IsAuthorized(ctx, conn.PrincipalID(), documentID, action)
	if err != nil {
		return err
	}
	if !ok {
		return errAccessDenied
	}
	return nil
}

func (s *Server) sendError(conn *wsConn, code, message string) {
	if err := s.registry.Send(conn, protocol.TypeError, &protocol.Error{Code: code, Message: message}); err != nil {
		s.logger.Debug("error reply failed", log.Error(err))
	}
}

var errAccessDenied = errors.New("access denied")

type badRequestError string

func errBadRequest(msg string) error    { return badRequestError(msg) }
func (e badRequestError) Error() string { return string(e) }

// errorCode maps engine errors onto the wire-level error taxonomy.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errAccessDenied):
		return protocol.CodeAccessDenied
	case errors.Is(err, access.ErrNotOwner):
		return protocol.CodeNotOwner
	case errors.Is(err, access.ErrAlreadyCollaborator):
		return protocol.CodeAlreadyMember
	case errors.Is(err, storage.ErrDocumentNotFound), errors.Is(err, storage.ErrMembershipNotFound):
		return protocol.CodeDocumentNotFound
	case errors.Is(err, storage.ErrVersionNotFound):
		return protocol.CodeVersionNotFound
	case errors.Is(err, document.ErrRevisionAhead):
		return protocol.CodeBadRequest
	default:
		var bad badRequestError
		if errors.As(err, &bad) {
			return protocol.CodeBadRequest
		}
		return protocol.CodeInternal
	}
}
