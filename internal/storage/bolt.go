// Package storage provides a durable implementation of the raft.Persistence
// port backed by go.etcd.io/bbolt, the embedded key/value store used for the
// same purpose by the Raft implementations across the wider dependency
// pack (e.g. the bbolt-backed stores in cuemby-warren and yishuiwang-tinykv).
package storage

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/suryasekhar06jemsbond-lab/nyconsensus/internal/raft"
)

var (
	metaBucket = []byte("meta")
	logBucket  = []byte("log")

	metaTermKey     = []byte("current_term")
	metaVotedForKey = []byte("voted_for")
)

// BoltStore is a durable raft.Persistence backed by a single bbolt file. It
// persists current_term, voted_for, and the full log prefix on every
// SaveState call, matching the "persist before reply" requirement RPC
// handlers rely on.
type BoltStore struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database at path and ensures its buckets
// exist. The caller owns the returned store and must call Close when the
// node shuts down.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open %s", path)
	}
	s := &BoltStore{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "storage: init buckets")
	}
	return s, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// LoadState implements raft.Persistence.
func (s *BoltStore) LoadState() (term uint64, votedFor raft.PeerID, entries []raft.PersistedEntry, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if v := meta.Get(metaTermKey); v != nil {
			if decodeErr := gobDecode(v, &term); decodeErr != nil {
				return decodeErr
			}
		}
		if v := meta.Get(metaVotedForKey); v != nil {
			var vf string
			if decodeErr := gobDecode(v, &vf); decodeErr != nil {
				return decodeErr
			}
			votedFor = raft.PeerID(vf)
		}

		logBkt := tx.Bucket(logBucket)
		return logBkt.ForEach(func(_, v []byte) error {
			var e raft.PersistedEntry
			if decodeErr := gobDecode(v, &e); decodeErr != nil {
				return decodeErr
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return 0, "", nil, errors.Wrap(err, "storage: load state")
	}
	return term, votedFor, entries, nil
}

// SaveState implements raft.Persistence. It overwrites the log bucket
// wholesale on every call; at single-digit-node cluster scale with no log
// compaction this is acceptable, and bbolt's single-writer transaction
// makes it atomic with the term/votedFor update.
func (s *BoltStore) SaveState(term uint64, votedFor raft.PeerID, entries []raft.PersistedEntry) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		termBytes, err := gobEncode(term)
		if err != nil {
			return err
		}
		if err := meta.Put(metaTermKey, termBytes); err != nil {
			return err
		}
		votedForBytes, err := gobEncode(string(votedFor))
		if err != nil {
			return err
		}
		if err := meta.Put(metaVotedForKey, votedForBytes); err != nil {
			return err
		}

		logBkt := tx.Bucket(logBucket)
		var staleKeys [][]byte
		if err := logBkt.ForEach(func(k, _ []byte) error {
			staleKeys = append(staleKeys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range staleKeys {
			if err := logBkt.Delete(k); err != nil {
				return err
			}
		}
		for _, e := range entries {
			encoded, err := gobEncode(e)
			if err != nil {
				return err
			}
			if err := logBkt.Put(indexKey(e.Index), encoded); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "storage: save state")
}

func indexKey(index uint64) []byte {
	key := make([]byte, 8)
	for i := 0; i < 8; i++ {
		key[7-i] = byte(index >> (8 * i))
	}
	return key
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "storage: gob encode")
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v interface{}) error {
	return errors.Wrap(gob.NewDecoder(bytes.NewReader(data)).Decode(v), "storage: gob decode")
}
