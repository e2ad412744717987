// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

// Package bolt is a file-backed credential and audit store using boltdb.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/xid"
	"go.etcd.io/bbolt"

	"github.com/brokerauth/gatekeeper/store"
)

var (
	ErrKeyNotFound = errors.New("key not found")
)

const (
	// defaultDbFile is the default file path for the boltdb file.
	defaultDbFile = ".bolt"

	// defaultTimeout is the default time to hold a connection to the file.
	defaultTimeout = 250 * time.Millisecond

	defaultBucket = "gatekeeper"
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

// Options contains configuration settings for the bolt instance.
type Options struct {
	Options *bbolt.Options
	Bucket  string `yaml:"bucket" json:"bucket"`
	Path    string `yaml:"path" json:"path"`
}

// Store is a persistent credential and audit store using a boltdb file
// store as a backend.
type Store struct {
	config *Options  // options for configuring the boltdb instance.
	db     *bbolt.DB // the boltdb instance.
}

// New opens the boltdb instance and prepares the bucket.
func New(opts *Options) (*Store, error) {
	if opts == nil {
		opts = new(Options)
	}
	if opts.Options == nil {
		opts.Options = &bbolt.Options{
			Timeout: defaultTimeout,
		}
	}
	if len(opts.Path) == 0 {
		opts.Path = defaultDbFile
	}
	if len(opts.Bucket) == 0 {
		opts.Bucket = defaultBucket
	}

	db, err := bbolt.Open(opts.Path, 0600, opts.Options)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(opts.Bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{config: opts, db: db}, nil
}

// Close closes the boltdb instance.
func (s *Store) Close() error {
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
	if errors.Is(err, ErrKeyNotFound) {
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
		if errors.Is(err, ErrKeyNotFound) {
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
	err := s.setKv(identityKey(d.Key), &d)
	if err != nil {
		return err
	}

	return s.setKv(usernameKey(d.Username), &indexEntry{Key: d.Key})
}

// AppendHistory appends a topic to an identity's publish history. The
// read-modify-write runs inside a single update transaction, so concurrent
// appends for the same identity are serialized by the database.
func (s *Store) AppendHistory(ctx context.Context, key string, topic string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(s.config.Bucket))

		value := bucket.Get([]byte(identityKey(key)))
		if value == nil {
			return store.ErrNotFound
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

		return bucket.Put([]byte(identityKey(key)), data)
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
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(s.config.Bucket))
		data, err := v.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(k), data)
	})
}

// getKv retrieves the value associated with a key from the database.
func (s *Store) getKv(k string, v store.Serializable) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(s.config.Bucket))

		value := bucket.Get([]byte(k))
		if value == nil {
			return ErrKeyNotFound
		}

		return v.UnmarshalBinary(value)
	})
}

// iterKv iterates over key-value pairs with keys having the specified prefix in the database.
func (s *Store) iterKv(prefix string, visit func([]byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(s.config.Bucket))

		c := bucket.Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && bytes.HasPrefix(k, []byte(prefix)); k, v = c.Next() {
			if err := visit(v); err != nil {
				return err
			}
		}
		return nil
	})
}
