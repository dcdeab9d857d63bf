// Package registry tracks which live connections are subscribed to which
// document and fans broadcasts out to them. Connections and documents are
// held in an indexed arena (document id -> connection ids, connection id ->
// handle) so either side can be torn down without walking object graphs.
//
// Delivery runs through one FIFO queue per document with a single drainer
// goroutine, so messages enqueued in revision order reach every subscriber
// in that same order. Callers that hold a document's serialization slot can
// enqueue without doing network writes under the lock.
package registry

import (
	"sync"

	"github.com/contractsync/contractsync/internal/core/observability/log"
	"github.com/contractsync/contractsync/internal/core/protocol"
)

// Conn is the transport handle the registry delivers to. Implementations
// must be safe for concurrent Send calls.
type Conn interface {
	ID() string
	PrincipalID() string
	Send(data []byte) error
	Close() error
}

// queuedMessage is one encoded frame bound for a fixed set of targets. The
// target set is captured at enqueue time, so a connection subscribed after
// the enqueue never receives messages from before its subscription.
type queuedMessage struct {
	data    []byte
	targets []Conn
}

type dispatchQueue struct {
	items    []queuedMessage
	draining bool
}

type Registry struct {
	logger log.Log

	mu      sync.RWMutex
	byDoc   map[string]map[string]struct{} // document id -> connection ids
	byConn  map[string]map[string]struct{} // connection id -> document ids
	handles map[string]Conn                // connection id -> transport handle

	qmu     sync.Mutex
	queues  map[string]*dispatchQueue // document id -> pending deliveries
	pending sync.WaitGroup
}

func New(logger log.Log) *Registry {
	return &Registry{
		logger:  logger.With(log.String("component", "registry")),
		byDoc:   make(map[string]map[string]struct{}),
		byConn:  make(map[string]map[string]struct{}),
		handles: make(map[string]Conn),
		queues:  make(map[string]*dispatchQueue),
	}
}

// Subscribe makes conn reachable for broadcasts on the document.
func (r *Registry) Subscribe(documentID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byDoc[documentID] == nil {
		r.byDoc[documentID] = make(map[string]struct{})
	}
	r.byDoc[documentID][conn.ID()] = struct{}{}

	if r.byConn[conn.ID()] == nil {
		r.byConn[conn.ID()] = make(map[string]struct{})
	}
	r.byConn[conn.ID()][documentID] = struct{}{}
	r.handles[conn.ID()] = conn

	r.logger.Debug("connection subscribed",
		log.String("document_id", documentID),
		log.String("connection_id", conn.ID()),
		log.Int("subscribers", len(r.byDoc[documentID])))
}

// Unsubscribe removes conn from one document. Idempotent: unsubscribing an
// absent connection is a no-op.
func (r *Registry) Unsubscribe(documentID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(documentID, conn.ID())
}

// Drop removes a connection from every document it was subscribed to.
// Called when the transport dies.
func (r *Registry) Drop(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for documentID := range r.byConn[conn.ID()] {
		r.unsubscribeLocked(documentID, conn.ID())
	}
}

func (r *Registry) unsubscribeLocked(documentID, connID string) {
	if subs, ok := r.byDoc[documentID]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(r.byDoc, documentID)
		}
	}
	if docs, ok := r.byConn[connID]; ok {
		delete(docs, documentID)
		if len(docs) == 0 {
			delete(r.byConn, connID)
			delete(r.handles, connID)
		}
	}
}

// Broadcast encodes the payload once and queues it for every subscriber of
// the document except excludeConnID (empty string excludes nobody). Delivery
// is asynchronous but FIFO per document: two Broadcast calls for the same
// document reach every shared subscriber in call order. A failed send evicts
// that connection and closes its transport, never blocking the others.
func (r *Registry) Broadcast(documentID, msgType string, payload any, excludeConnID string) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		r.logger.Error("encode broadcast", log.String("type", msgType), log.Error(err))
		return
	}

	r.mu.RLock()
	targets := make([]Conn, 0, len(r.byDoc[documentID]))
	for connID := range r.byDoc[documentID] {
		if connID == excludeConnID {
			continue
		}
		if handle, ok := r.handles[connID]; ok {
			targets = append(targets, handle)
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	r.enqueue(documentID, queuedMessage{data: data, targets: targets})
}

// SendOrdered queues one message for a single connection through the
// document's FIFO, so it keeps its position relative to broadcasts enqueued
// before and after it. Used for snapshot and ack frames that must not be
// overtaken by edit fan-out.
func (r *Registry) SendOrdered(documentID string, conn Conn, msgType string, payload any) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	r.enqueue(documentID, queuedMessage{data: data, targets: []Conn{conn}})
	return nil
}

// Send delivers one encoded message to a single connection immediately,
// outside the ordered queues. Used for error replies.
func (r *Registry) Send(conn Conn, msgType string, payload any) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

func (r *Registry) enqueue(documentID string, msg queuedMessage) {
	r.pending.Add(1)

	r.qmu.Lock()
	q := r.queues[documentID]
	if q == nil {
		q = &dispatchQueue{}
		r.queues[documentID] = q
	}
	q.items = append(q.items, msg)
	if !q.draining {
		q.draining = true
		go r.drain(documentID, q)
	}
	r.qmu.Unlock()
}

// drain is the document's single delivery goroutine. It exits once the
// queue runs empty; the next enqueue starts a fresh one.
func (r *Registry) drain(documentID string, q *dispatchQueue) {
	for {
		r.qmu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			delete(r.queues, documentID)
			r.qmu.Unlock()
			return
		}
		msg := q.items[0]
		q.items = q.items[1:]
		r.qmu.Unlock()

		for _, conn := range msg.targets {
			if err := conn.Send(msg.data); err != nil {
				r.logger.Warn("delivery failed, dropping connection",
					log.String("document_id", documentID),
					log.String("connection_id", conn.ID()),
					log.Error(err))
				r.Drop(conn)
				_ = conn.Close()
			}
		}
		r.pending.Done()
	}
}

// Wait blocks until every queued message has been delivered (or its
// connection evicted). Used by shutdown and tests.
func (r *Registry) Wait() {
	r.pending.Wait()
}

// Subscribers reports how many connections are subscribed to a document.
func (r *Registry) Subscribers(documentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDoc[documentID])
}

// Connections reports the total number of registered connections.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Documents reports how many documents currently have subscribers.
func (r *Registry) Documents() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDoc)
}

// CloseAll closes every registered connection. Used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := make([]Conn, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.byDoc = make(map[string]map[string]struct{})
	r.byConn = make(map[string]map[string]struct{})
	r.handles = make(map[string]Conn)
	r.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
}
