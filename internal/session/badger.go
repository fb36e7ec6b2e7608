// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps sessions in an embedded key-value store.
// Keys are "sess:<id>" holding the JSON record; entries carry the TTL.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

// OpenBadgerStore opens (or creates) the store in dir.
func OpenBadgerStore(dir string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, ttl: ttl, now: time.Now}, nil
}

func badgerKey(id string) []byte { return []byte("sess:" + id) }

func (s *BadgerStore) entry(rec Record) (*badger.Entry, error) {
	buf, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	e := badger.NewEntry(badgerKey(rec.SessionID), buf)
	if s.ttl > 0 {
		e = e.WithTTL(s.ttl)
	}
	return e, nil
}

func (s *BadgerStore) Create(_ context.Context, rec Record) error {
	e, err := s.entry(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(e.Key); err == nil {
			return ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(e)
	})
}

func (s *BadgerStore) Get(_ context.Context, sessionID string) (Record, error) {
	var out Record
	err := s.db.View(func(txn *badger.Txn) error {
		return readRecord(txn, sessionID, &out)
	})
	return out, err
}

func (s *BadgerStore) Advance(_ context.Context, sessionID string, to Status, errMsg string) (Record, error) {
	var out Record
	err := s.db.Update(func(txn *badger.Txn) error {
		var rec Record
		if err := readRecord(txn, sessionID, &rec); err != nil {
			return err
		}
		next, err := Advance(rec, to, errMsg, s.now())
		if err != nil {
			out = rec
			return err
		}
		e, err := s.entry(next)
		if err != nil {
			return err
		}
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func readRecord(txn *badger.Txn, id string, out *Record) error {
	item, err := txn.Get(badgerKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store closed")
	}
	return nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }
