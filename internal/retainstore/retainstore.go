// Package retainstore owns the in-memory retained topic tree and the
// write-behind channel that keeps a backing store eventually consistent
// with it.
package retainstore

import (
	"log"
	"sync"

	"github.com/tidalmq/broker/internal/message"
	"github.com/tidalmq/broker/internal/store"
	"github.com/tidalmq/broker/internal/topic"
)

// taskQueueSize bounds how many publish batches can be pending a flush to
// the backing store before Put starts blocking the caller.
const taskQueueSize = 256

// Store pairs the live retained trie with a single writer goroutine that
// mirrors every change to a store.Store. Reads of the trie never wait on
// the writer; only the channel send on Put can block once the queue fills.
type Store struct {
	mu    sync.RWMutex
	trie  *topic.RetainTrie
	back  store.Store
	tasks chan []message.Row
	done  chan struct{}
}

// Open loads every record from back into a fresh retained trie and starts
// the write-behind writer goroutine. Call Close to drain and stop it.
func Open(back store.Store) (*Store, error) {
	records, err := back.LoadAll()
	if err != nil {
		return nil, err
	}

	trie := topic.NewRetainTrie()
	for _, rec := range records {
		trie.Put(topic.Parse(rec.Topic).Nodes(), rec.Data)
	}

	s := &Store{
		trie:  trie,
		back:  back,
		tasks: make(chan []message.Row, taskQueueSize),
		done:  make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Put applies rows to the in-memory trie immediately, then enqueues them
// for the writer to mirror to the backing store. Rows with empty Data are
// retain-deletes.
func (s *Store) Put(rows []message.Row) {
	if len(rows) == 0 {
		return
	}

	s.mu.Lock()
	for _, r := range rows {
		s.trie.Put(r.Nodes, r.Data)
	}
	s.mu.Unlock()

	s.tasks <- rows
}

// Walk expands a non-tree retained publish's topic against the tree,
// returning every matching (nodes, data) pair under the read lock.
func (s *Store) Walk(nodes []string) []topic.RetainedRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trie.Walk(nodes)
}

// Rows expands msg against the retained tree under the read lock, producing
// the rows a publish yields before they're applied via Put.
func (s *Store) Rows(msg message.IncomingMessage) ([]message.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return msg.Rows(s.trie)
}

// Sync builds the subscribe-sync dump for a retained sub-tree.
func (s *Store) Sync(nodes []string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trie.Sync(nodes)
}

// Root exposes a read-only view of the trie for tree-graft flattening,
// which needs to compare an incoming document against the existing shape.
func (s *Store) Root() *topic.RetainNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trie.Root()
}

// Count reports how many topics currently hold a retained value.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trie.All())
}

// Close stops accepting new tasks, drains whatever is already queued, and
// closes the backing store.
func (s *Store) Close() error {
	close(s.tasks)
	<-s.done
	return s.back.Close()
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for rows := range s.tasks {
		s.flush(rows)
	}
}

func (s *Store) flush(rows []message.Row) {
	var upserts []store.Record
	var deleteTopics []string

	for _, r := range rows {
		if r.IsDelete() {
			deleteTopics = append(deleteTopics, r.Topic())
			continue
		}
		upserts = append(upserts, store.Record{Topic: r.Topic(), Data: r.Data, QoS: r.QoS})
	}

	if len(upserts) > 0 {
		if err := s.back.UpsertMany(upserts); err != nil {
			log.Printf("retainstore: upsert failed: %v", err)
		}
	}
	if len(deleteTopics) > 0 {
		if err := s.back.DeleteMany(deleteTopics); err != nil {
			log.Printf("retainstore: delete failed: %v", err)
		}
	}
}
