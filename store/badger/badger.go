// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

// Package badger is a file-backed credential and audit store using BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/rs/xid"

	"github.com/brokerauth/gatekeeper/store"
)

const (
	// defaultDbFile is the default file path for the badger db file.
	defaultDbFile         = ".badger"
	defaultGcInterval     = 5 * 60 // gc interval in seconds
	defaultGcDiscardRatio = 0.5
)

// identityKey returns a primary key for an identity record.
func identityKey(key string) string {
	return store.IdentityKey + "_" + key
}

// usernameKey returns an index key for an identity's username.
func usernameKey(username string) string {
	return store.UsernameKey + "_" + username
}

// auditKey returns a primary key for an audit record. Record ids are xids,
// so keys under the audit prefix sort in creation order.
func auditKey(id string) string {
	return store.AuditKey + "_" + id
}

// Options contains configuration settings for the BadgerDB instance.
type Options struct {
	Options *badgerdb.Options
	Path    string `yaml:"path" json:"path"`
	// GcDiscardRatio specifies the ratio of log discard compared to the maximum possible log discard.
	// Setting it to a higher value would result in fewer space reclaims, while setting it to a lower value
	// would result in more space reclaims at the cost of increased activity on the LSM tree.
	// discardRatio must be in the range (0.0, 1.0), both endpoints excluded, otherwise, it will be set to the default value of 0.5.
	GcDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio"`
	GcInterval     int64   `yaml:"gc_interval" json:"gc_interval"`
}

// Store is a persistent credential and audit store using a BadgerDB file
// store as a backend.
type Store struct {
	config   *Options     // options for configuring the BadgerDB instance.
	gcTicker *time.Ticker // ticker for BadgerDB garbage collection.
	db       *badgerdb.DB // the BadgerDB instance.
}

// New opens the badger instance and starts the garbage collection loop.
func New(opts *Options) (*Store, error) {
	if opts == nil {
		opts = new(Options)
	}
	if len(opts.Path) == 0 {
		opts.Path = defaultDbFile
	}
	if opts.GcInterval == 0 {
		opts.GcInterval = defaultGcInterval
	}
	if opts.GcDiscardRatio <= 0.0 || opts.GcDiscardRatio >= 1.0 {
		opts.GcDiscardRatio = defaultGcDiscardRatio
	}
	if opts.Options == nil {
		defaultOpts := badgerdb.DefaultOptions(opts.Path)
		defaultOpts.Logger = nil
		opts.Options = &defaultOpts
	}

	db, err := badgerdb.Open(*opts.Options)
	if err != nil {
		return nil, err
	}

	s := &Store{
		config:   opts,
		db:       db,
		gcTicker: time.NewTicker(time.Duration(opts.GcInterval) * time.Second),
	}
	go s.gcLoop()

	return s, nil
}

// gcLoop periodically runs the garbage collection process to reclaim space
// in the value log files. If a collection pass succeeds another is attempted
// immediately, per the badger documentation.
func (s *Store) gcLoop() {
	for range s.gcTicker.C {
	again:
		err := s.db.RunValueLogGC(s.config.GcDiscardRatio)
		if err == nil {
			goto again
		}
	}
}

// Close stops the gc loop and closes the badger instance.
func (s *Store) Close() error {
	if s.gcTicker != nil {
		s.gcTicker.Stop()
	}
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Identity returns the identity record for a stable identity key.
func (s *Store) Identity(ctx context.Context, key string) (d store.Identity, err error) {
	if err = s.ready(ctx); err != nil {
		return
	}

	err = s.getKv(identityKey(key), &d)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		err = store.ErrNotFound
	}
	return
}

// IdentityByUsername returns the identity record for a login name, resolved
// through the username index.
func (s *Store) IdentityByUsername(ctx context.Context, username string) (d store.Identity, err error) {
	if err = s.ready(ctx); err != nil {
		return
	}

	var idx indexEntry
	err = s.getKv(usernameKey(username), &idx)
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			err = store.ErrNotFound
		}
		return
	}

	return s.Identity(ctx, idx.Key)
}

// UpsertIdentity creates or replaces an identity record and its username
// index entry.
func (s *Store) UpsertIdentity(ctx context.Context, d store.Identity) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	d.T = store.IdentityKey
	if err := s.setKv(identityKey(d.Key), &d); err != nil {
		return err
	}

	return s.setKv(usernameKey(d.Username), &indexEntry{Key: d.Key})
}

// AppendHistory appends a topic to an identity's publish history inside a
// single update transaction.
func (s *Store) AppendHistory(ctx context.Context, key string, topic string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(identityKey(key)))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return store.ErrNotFound
		} else if err != nil {
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		d := store.Identity{}
		if err := d.UnmarshalBinary(value); err != nil {
			return err
		}

		d.History = append(d.History, topic)
		data, err := d.MarshalBinary()
		if err != nil {
			return err
		}

		return txn.Set([]byte(identityKey(key)), data)
	})
}

// AppendAudit appends an audit record.
func (s *Store) AppendAudit(ctx context.Context, r store.AuditRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	if r.ID == "" {
		r.ID = xid.New().String()
	}
	r.T = store.AuditKey

	return s.setKv(auditKey(r.ID), &r)
}

// AuditRecords returns all audit records in append order.
func (s *Store) AuditRecords(ctx context.Context) (v []store.AuditRecord, err error) {
	if err = s.ready(ctx); err != nil {
		return
	}

	v = make([]store.AuditRecord, 0)
	err = s.iterKv(store.AuditKey, func(value []byte) error {
		obj := store.AuditRecord{}
		err = obj.UnmarshalBinary(value)
		if err == nil {
			v = append(v, obj)
		}
		return err
	})
	return
}

// ready reports whether the db is open and the context still live.
func (s *Store) ready(ctx context.Context) error {
	if s.db == nil {
		return store.ErrDBFileNotOpen
	}
	return ctx.Err()
}

// indexEntry is the stored form of a username index row.
type indexEntry struct {
	Key string `json:"key"`
}

// MarshalBinary encodes the values into a json string.
func (d indexEntry) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *indexEntry) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// setKv stores a key-value pair in the database.
func (s *Store) setKv(k string, v store.Serializable) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		data, err := v.MarshalBinary()
		if err != nil {
			return err
		}
		return txn.Set([]byte(k), data)
	})
}

// getKv retrieves the value associated with a key from the database.
func (s *Store) getKv(k string, v store.Serializable) error {
	return s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(k))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return v.UnmarshalBinary(value)
	})
}

// iterKv iterates over key-value pairs with keys having the specified prefix in the database.
func (s *Store) iterKv(prefix string, visit func([]byte) error) error {
	return s.db.View(func(txn *badgerdb.Txn) error {
		iterator := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer iterator.Close()

		for iterator.Seek([]byte(prefix)); iterator.ValidForPrefix([]byte(prefix)); iterator.Next() {
			item := iterator.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if err := visit(value); err != nil {
				return err
			}
		}
		return nil
	})
}
