package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractsync/contractsync/internal/core/observability/log"
	"github.com/contractsync/contractsync/internal/core/protocol"
)

type fakeConn struct {
	id        string
	principal string

	mu       sync.Mutex
	received [][]byte
	sendErr  error
	closed   bool
}

func (c *fakeConn) ID() string          { return c.id }
func (c *fakeConn) PrincipalID() string { return c.principal }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.received = append(c.received, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.received...)
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := New(log.Nop())
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Subscribe("doc", a)
	r.Subscribe("doc", b)

	r.Broadcast("doc", protocol.TypeEditApplied, &protocol.EditApplied{DocumentID: "doc"}, "a")
	r.Wait()

	assert.Equal(t, 0, a.messages())
	assert.Equal(t, 1, b.messages())
}

func TestBroadcastIsScopedPerDocument(t *testing.T) {
	r := New(log.Nop())
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Subscribe("doc-1", a)
	r.Subscribe("doc-2", b)

	r.Broadcast("doc-1", protocol.TypeEditApplied, &protocol.EditApplied{DocumentID: "doc-1"}, "")
	r.Wait()

	assert.Equal(t, 1, a.messages())
	assert.Equal(t, 0, b.messages(), "subscribers of other documents must not receive the message")
}

func TestFailedDeliveryEvictsOnlyThatConnection(t *testing.T) {
	r := New(log.Nop())
	dead := &fakeConn{id: "dead", sendErr: errors.New("broken pipe")}
	alive := &fakeConn{id: "alive"}
	r.Subscribe("doc", dead)
	r.Subscribe("doc", alive)

	r.Broadcast("doc", protocol.TypeEditApplied, &protocol.EditApplied{DocumentID: "doc"}, "")
	r.Wait()

	assert.Equal(t, 1, alive.messages())
	assert.True(t, dead.closed)
	assert.Equal(t, 1, r.Subscribers("doc"))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	r := New(log.Nop())
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Subscribe("doc", a)
	r.Subscribe("doc", b)

	r.Unsubscribe("doc", a)
	r.Unsubscribe("doc", a)

	assert.Equal(t, 1, r.Subscribers("doc"))

	r.Broadcast("doc", protocol.TypeEditApplied, &protocol.EditApplied{DocumentID: "doc"}, "")
	r.Wait()
	assert.Equal(t, 1, b.messages(), "remaining connection must still be reachable")
}

func TestDropRemovesConnectionFromAllDocuments(t *testing.T) {
	r := New(log.Nop())
	a := &fakeConn{id: "a"}
	r.Subscribe("doc-1", a)
	r.Subscribe("doc-2", a)
	assert.Equal(t, 1, r.Connections())

	r.Drop(a)

	assert.Equal(t, 0, r.Subscribers("doc-1"))
	assert.Equal(t, 0, r.Subscribers("doc-2"))
	assert.Equal(t, 0, r.Connections())
}

// Enqueue order is delivery order: broadcasts and ordered single sends for
// one document reach a subscriber exactly as enqueued, even though delivery
// itself is asynchronous.
func TestDeliveryPreservesEnqueueOrder(t *testing.T) {
	r := New(log.Nop())
	sub := &fakeConn{id: "sub"}
	r.Subscribe("doc", sub)

	const frames = 200
	for i := 0; i < frames; i++ {
		payload := &protocol.EditApplied{DocumentID: "doc", Revision: uint64(i + 1)}
		if i%5 == 4 {
			require.NoError(t, r.SendOrdered("doc", sub, protocol.TypeEditApplied, payload))
		} else {
			r.Broadcast("doc", protocol.TypeEditApplied, payload, "")
		}
	}
	r.Wait()

	received := sub.frames()
	require.Len(t, received, frames)
	for i, data := range received {
		_, payload, err := protocol.DecodeServer(data)
		require.NoError(t, err)
		applied := payload.(*protocol.EditApplied)
		assert.Equal(t, uint64(i+1), applied.Revision, "frame %d out of order", i)
	}
}

// A connection subscribed after a message was enqueued must not receive it:
// the target set is fixed at enqueue time, so a joiner's snapshot is never
// followed by older frames it already has.
func TestLateSubscriberMissesEarlierEnqueues(t *testing.T) {
	r := New(log.Nop())
	early := &fakeConn{id: "early"}
	r.Subscribe("doc", early)

	for i := 0; i < 50; i++ {
		r.Broadcast("doc", protocol.TypeEditApplied,
			&protocol.EditApplied{DocumentID: "doc", Revision: uint64(i + 1)}, "")
	}

	late := &fakeConn{id: "late"}
	r.Subscribe("doc", late)
	r.Broadcast("doc", protocol.TypeEditApplied,
		&protocol.EditApplied{DocumentID: "doc", Revision: 51}, "")
	r.Wait()

	assert.Equal(t, 51, early.messages())
	require.Equal(t, 1, late.messages())
	_, payload, err := protocol.DecodeServer(late.frames()[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(51), payload.(*protocol.EditApplied).Revision)
}

func TestWaitCoversConcurrentEnqueuers(t *testing.T) {
	r := New(log.Nop())
	subs := make([]*fakeConn, 4)
	for i := range subs {
		subs[i] = &fakeConn{id: fmt.Sprintf("sub-%d", i)}
		r.Subscribe("doc", subs[i])
	}

	var wg sync.WaitGroup
	const perWriter = 50
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				r.Broadcast("doc", protocol.TypeEditApplied, &protocol.EditApplied{DocumentID: "doc"}, "")
			}
		}()
	}
	wg.Wait()
	r.Wait()

	for _, sub := range subs {
		assert.Equal(t, 4*perWriter, sub.messages())
	}
}
