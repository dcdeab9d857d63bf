package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractsync/contractsync/internal/core/ot"
)

func TestEditRoundTrip(t *testing.T) {
	data, err := Encode(TypeEdit, &Edit{
		DocumentID: "doc-1",
		Operation:  ot.NewInsert(3, "abc", "alice", 7),
	})
	require.NoError(t, err)

	msgType, payload, err := DecodeClient(data)
	require.NoError(t, err)
	assert.Equal(t, TypeEdit, msgType)

	edit, ok := payload.(*Edit)
	require.True(t, ok)
	assert.Equal(t, "doc-1", edit.DocumentID)
	assert.Equal(t, ot.Insert, edit.Operation.Type)
	assert.Equal(t, uint64(7), edit.Operation.BaseRevision)
}

func TestDecodeClientRejectsUnknownType(t *testing.T) {
	_, _, err := DecodeClient([]byte(`{"type":"shutdown","payload":{}}`))
	assert.Error(t, err)
}

func TestDecodeClientRejectsMalformedPayload(t *testing.T) {
	msgType, _, err := DecodeClient([]byte(`{"type":"edit","payload":[1,2]}`))
	assert.Error(t, err)
	assert.Equal(t, TypeEdit, msgType)
}

func TestDecodeServerError(t *testing.T) {
	data, err := Encode(TypeError, &Error{Code: CodeAccessDenied, Message: "no write access"})
	require.NoError(t, err)

	msgType, payload, err := DecodeServer(data)
	require.NoError(t, err)
	assert.Equal(t, TypeError, msgType)

	e, ok := payload.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeAccessDenied, e.Code)
}
