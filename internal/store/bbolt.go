package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// retainedBucket is the sole bucket this store uses: sessions, queued
// messages and inflight state are all out of scope (spec.md §1) so nothing
// else needs a home in the database.
var retainedBucket = []byte("retained")

// record is the on-disk encoding of a Record, minus the topic (which is
// already the bucket key).
type record struct {
	Data []byte
	QoS  byte
}

// BboltStore persists retained messages in a single bbolt bucket keyed by
// the canonical topic string.
type BboltStore struct {
	db *bbolt.DB
}

// NewBboltStore opens (creating if absent) a bbolt database at path and
// ensures the retained bucket exists.
func NewBboltStore(path string) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(retainedBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create retained bucket: %w", err)
	}

	return &BboltStore{db: db}, nil
}

func (s *BboltStore) LoadAll() ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(retainedBucket)
		return bucket.ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("store: decode retained record for %q: %w", k, err)
			}
			records = append(records, Record{Topic: string(k), Data: rec.Data, QoS: rec.QoS})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BboltStore) UpsertMany(records []Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(retainedBucket)
		for _, r := range records {
			data, err := json.Marshal(record{Data: r.Data, QoS: r.QoS})
			if err != nil {
				return fmt.Errorf("store: encode retained record for %q: %w", r.Topic, err)
			}
			if err := bucket.Put([]byte(r.Topic), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStore) DeleteMany(topics []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(retainedBucket)
		for _, topic := range topics {
			if err := bucket.Delete([]byte(topic)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStore) Close() error {
	return s.db.Close()
}
