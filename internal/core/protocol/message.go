// Package protocol defines the wire format of the duplex client connection:
// a JSON envelope tagging one of a small set of payload types, multiplexed
// by document id. Every inbound message is decoded through one dispatch
// point so the per-document serialization property stays honest.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/contractsync/contractsync/internal/core/ot"
	"github.com/contractsync/contractsync/internal/core/storage"
)

// Client-to-server message types.
const (
	TypeJoin    = "join"
	TypeEdit    = "edit"
	TypeSave    = "save"
	TypeComment = "comment"
	TypeInvite  = "invite"
)

// Server-to-client message types.
const (
	TypeInitialState   = "initial_state"
	TypeEditApplied    = "edit_applied"
	TypeVersionCreated = "version_created"
	TypeCommentAdded   = "comment_added"
	TypeError          = "error"
)

// Envelope is the outer frame of every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// --- Client payloads ---

type Join struct {
	DocumentID string `json:"document_id"`
}

type Edit struct {
	DocumentID string       `json:"document_id"`
	Operation  ot.Operation `json:"operation"`
}

type Save struct {
	DocumentID string `json:"document_id"`
}

type Comment struct {
	DocumentID string `json:"document_id"`
	Version    uint64 `json:"version"`
	Text       string `json:"text"`
}

type Invite struct {
	DocumentID string `json:"document_id"`
	Email      string `json:"email"`
}

// --- Server payloads ---

type InitialState struct {
	DocumentID    string                     `json:"document_id"`
	Text          string                     `json:"text"`
	Revision      uint64                     `json:"revision"`
	Versions      []*storage.VersionSnapshot `json:"versions"`
	Collaborators []string                   `json:"collaborators"`
}

type EditApplied struct {
	DocumentID string       `json:"document_id"`
	Revision   uint64       `json:"revision"`
	Operation  ot.Operation `json:"operation"`
	Ack        bool         `json:"ack,omitempty"` // set on the copy echoed to the author
}

type VersionCreated struct {
	DocumentID string                   `json:"document_id"`
	Version    *storage.VersionSnapshot `json:"version"`
}

type CommentAdded struct {
	DocumentID string           `json:"document_id"`
	Version    uint64           `json:"version"`
	Comment    *storage.Comment `json:"comment"`
}

// Error codes surfaced to clients. Background failures (analysis pipeline,
// a single dead subscriber) are absorbed server-side and never appear here.
const (
	CodeAccessDenied     = "access_denied"
	CodeDocumentNotFound = "document_not_found"
	CodeVersionNotFound  = "version_not_found"
	CodeNotOwner         = "not_owner"
	CodeAlreadyMember    = "already_collaborator"
	CodeBadRequest       = "bad_request"
	CodeInternal         = "internal"
)

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode frames a payload of the given type into wire bytes.
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// DecodeClient parses an inbound frame into its concrete payload type.
// Unknown types and malformed payloads are decode errors; the connection
// surfaces them as bad_request without dropping the client.
func DecodeClient(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	var payload any
	switch env.Type {
	case TypeJoin:
		payload = &Join{}
	case TypeEdit:
		payload = &Edit{}
	case TypeSave:
		payload = &Save{}
	case TypeComment:
		payload = &Comment{}
	case TypeInvite:
		payload = &Invite{}
	default:
		return env.Type, nil, fmt.Errorf("unknown message type %q", env.Type)
	}

	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return env.Type, nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return env.Type, payload, nil
}

// DecodeServer parses a server frame. Clients and tests use it; the server
// itself only encodes.
func DecodeServer(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	var payload any
	switch env.Type {
	case TypeInitialState:
		payload = &InitialState{}
	case TypeEditApplied:
		payload = &EditApplied{}
	case TypeVersionCreated:
		payload = &VersionCreated{}
	case TypeCommentAdded:
		payload = &CommentAdded{}
	case TypeError:
		payload = &Error{}
	default:
		return env.Type, nil, fmt.Errorf("unknown message type %q", env.Type)
	}

	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return env.Type, nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return env.Type, payload, nil
}
