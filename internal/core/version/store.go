// Package version turns explicit save actions into an append-only sequence
// of immutable, analyzable snapshots. Version numbers are their own
// monotonic sequence, independent of the revision stream.
package version

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/contractsync/contractsync/internal/core/analysis"
	"github.com/contractsync/contractsync/internal/core/observability/log"
	"github.com/contractsync/contractsync/internal/core/protocol"
	"github.com/contractsync/contractsync/internal/core/storage"
)

// Snapshotter is the read accessor into the sequencer's canonical state.
// Reading through it guarantees a save freezes a fully-applied revision.
type Snapshotter interface {
	Snapshot(ctx context.Context, documentID string) (text string, revision uint64, err error)
}

// Broadcaster fans an event out to a document's subscribers.
type Broadcaster interface {
	Broadcast(documentID, msgType string, payload any, excludeConnID string)
}

type Store struct {
	sequencer   Snapshotter
	store       storage.Store
	pipeline    analysis.Pipeline
	broadcaster Broadcaster
	logger      log.Log

	analysisTimeout time.Duration

	mu      sync.Mutex
	counter map[string]uint64 // document id -> last assigned version number

	pending sync.WaitGroup
}

func NewStore(
	sequencer Snapshotter,
	store storage.Store,
	pipeline analysis.Pipeline,
	broadcaster Broadcaster,
	analysisTimeout time.Duration,
	logger log.Log,
) *Store {
	return &Store{
		sequencer:       sequencer,
		store:           store,
		pipeline:        pipeline,
		broadcaster:     broadcaster,
		logger:          logger.With(log.String("component", "version")),
		analysisTimeout: analysisTimeout,
		counter:         make(map[string]uint64),
	}
}

// SaveVersion freezes the current canonical text as the next numbered
// version. The snapshot is persisted and announced immediately with scores
// absent; scoring runs in the background and never fails the save.
func (s *Store) SaveVersion(ctx context.Context, documentID, authorID string) (*storage.VersionSnapshot, error) {
	text, revision, err := s.sequencer.Snapshot(ctx, documentID)
	if err != nil {
		return nil, err
	}

	// Number assignment and the append stay under one lock: of two racing
	// saves the first keeps the lower number, and the store's
	// strictly-increasing check can never reject either.
	s.mu.Lock()
	number, err := s.nextNumberLocked(ctx, documentID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	snapshot := &storage.VersionSnapshot{
		DocumentID: documentID,
		Number:     number,
		Revision:   revision,
		Text:       text,
		Checksum:   xxhash.Sum64String(text),
		Author:     authorID,
		CreatedAt:  time.Now(),
	}

	if err := s.store.AppendVersion(ctx, snapshot); err != nil {
		s.counter[documentID] = number - 1
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	s.logger.Info("version saved",
		log.String("document_id", documentID),
		log.Uint64("version", number),
		log.Uint64("revision", revision),
		log.String("author", authorID))

	s.broadcaster.Broadcast(documentID, protocol.TypeVersionCreated, &protocol.VersionCreated{
		DocumentID: documentID,
		Version:    snapshot,
	}, "")

	s.pending.Add(1)
	go s.analyze(documentID, number, text)

	return snapshot, nil
}

// ListVersions returns all snapshots for a document, oldest first.
func (s *Store) ListVersions(ctx context.Context, documentID string) ([]*storage.VersionSnapshot, error) {
	return s.store.ListVersions(ctx, documentID)
}

// Wait blocks until all in-flight analysis work has finished. Called on
// shutdown and by tests.
func (s *Store) Wait() {
	s.pending.Wait()
}

// analyze scores a frozen snapshot: one bounded attempt plus one retry.
// Failures leave the version unscored and are only logged.
func (s *Store) analyze(documentID string, number uint64, text string) {
	defer s.pending.Done()

	var report *analysis.Report
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.analysisTimeout)
		report, err = s.pipeline.Analyze(ctx, text)
		cancel()
		if err == nil {
			break
		}
		s.logger.Warn("analysis attempt failed",
			log.String("document_id", documentID),
			log.Uint64("version", number),
			log.Int("attempt", attempt+1),
			log.Error(err))
	}
	if err != nil {
		s.logger.Error("version left unscored",
			log.String("document_id", documentID),
			log.Uint64("version", number),
			log.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.analysisTimeout)
	defer cancel()
	if err := s.store.SetVersionScores(ctx, documentID, number, report); err != nil {
		s.logger.Error("attach scores",
			log.String("document_id", documentID),
			log.Uint64("version", number),
			log.Error(err))
		return
	}

	snapshot, err := s.store.GetVersion(ctx, documentID, number)
	if err != nil {
		s.logger.Error("reload scored version", log.Error(err))
		return
	}

	s.broadcaster.Broadcast(documentID, protocol.TypeVersionCreated, &protocol.VersionCreated{
		DocumentID: documentID,
		Version:    snapshot,
	}, "")
}

// nextNumberLocked assigns the next version number for a document, seeding
// the counter from the store on first use. Caller holds s.mu.
func (s *Store) nextNumberLocked(ctx context.Context, documentID string) (uint64, error) {
	if _, ok := s.counter[documentID]; !ok {
		versions, err := s.store.ListVersions(ctx, documentID)
		if err != nil {
			return 0, err
		}
		var last uint64
		if len(versions) > 0 {
			last = versions[len(versions)-1].Number
		}
		s.counter[documentID] = last
	}

	s.counter[documentID]++
	return s.counter[documentID], nil
}
