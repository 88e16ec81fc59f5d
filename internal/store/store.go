// Package store persists self-play training records as a key-value log
// backed by BadgerDB. It is a pure append/iterate log: generating the games
// that produce records, and training a network from them, are both external
// to this package.
package store

import (
	"encoding/binary"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
)

// Record is one self-play training sample: the position, the search's
// centipawn evaluation of it, and the game's eventual result from the side
// to move's perspective (1 = win, 0.5 = draw, 0 = loss).
type Record struct {
	FEN    string  `json:"fen"`
	EvalCP int     `json:"eval_cp"`
	WDL    float64 `json:"wdl"`
}

// Store wraps a BadgerDB instance as an append-only log of Records, keyed
// by an incrementing sequence number so Iterate replays them in insertion
// order.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open opens (creating if necessary) a record store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	seq, err := db.GetSequence([]byte("record_seq"), 1000)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, seq: seq}, nil
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if s.seq != nil {
		s.seq.Release()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Append writes one training record to the log.
func (s *Store) Append(rec Record) error {
	id, err := s.seq.Next()
	if err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(id), data)
	})
}

// Iterate walks every record in insertion order, calling fn for each. It
// stops and returns fn's error if fn returns non-nil.
func (s *Store) Iterate(fn func(Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(recordPrefix); it.ValidForPrefix(recordPrefix); it.Next() {
			item := it.Item()

			var rec Record
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}

			if err := fn(rec); err != nil {
				return err
			}
		}

		return nil
	})
}

var recordPrefix = []byte("rec:")

func recordKey(id uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], id)
	return key
}
