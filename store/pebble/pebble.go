// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

// Package pebble is a file-backed credential and audit store using pebble DB.
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	pebbledb "github.com/cockroachdb/pebble"
	"github.com/rs/xid"

	"github.com/brokerauth/gatekeeper/store"
)

const (
	// defaultDbFile is the default file path for the pebble db file.
	defaultDbFile = ".pebble"
)

const (
	NoSync = "NoSync" // NoSync specifies the default write options for writes which do not synchronize to disk.
	Sync   = "Sync"   // Sync specifies the default write options for writes which synchronize to disk.
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

// keyUpperBound returns the upper bound for a given byte slice by incrementing the last byte.
// It returns nil if all bytes are incremented and equal to 0.
func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Options contains configuration settings for the pebble DB instance.
type Options struct {
	Options *pebbledb.Options
	Mode    string `yaml:"mode" json:"mode"`
	Path    string `yaml:"path" json:"path"`
}

// Store is a persistent credential and audit store using pebble DB as a
// backend.
type Store struct {
	sync.Mutex                        // pebble has no transactions; serializes history read-modify-writes.
	config     *Options               // options for configuring the pebble DB instance.
	db         *pebbledb.DB           // the pebble DB instance.
	mode       *pebbledb.WriteOptions // mode holds the optional per-query parameters for Set operations.
}

// New opens the pebble DB instance.
func New(opts *Options) (*Store, error) {
	if opts == nil {
		opts = new(Options)
	}
	if len(opts.Path) == 0 {
		opts.Path = defaultDbFile
	}
	if opts.Options == nil {
		opts.Options = &pebbledb.Options{}
	}

	s := &Store{
		config: opts,
		mode:   pebbledb.NoSync,
	}
	if strings.EqualFold(opts.Mode, Sync) {
		s.mode = pebbledb.Sync
	}

	var err error
	s.db, err = pebbledb.Open(opts.Path, opts.Options)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Close closes the pebble instance.
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
	if errors.Is(err, pebbledb.ErrNotFound) {
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
		if errors.Is(err, pebbledb.ErrNotFound) {
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
// read-modify-write is guarded by the store mutex, so concurrent appends
// for the same identity are serialized.
func (s *Store) AppendHistory(ctx context.Context, key string, topic string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	d := store.Identity{}
	err := s.getKv(identityKey(key), &d)
	if err != nil {
		if errors.Is(err, pebbledb.ErrNotFound) {
			return store.ErrNotFound
		}
		return err
	}

	d.History = append(d.History, topic)
	return s.setKv(identityKey(key), &d)
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

	iter, err := s.db.NewIter(&pebbledb.IterOptions{
		LowerBound: []byte(store.AuditKey),
		UpperBound: keyUpperBound([]byte(store.AuditKey)),
	})
	if err != nil {
		return
	}
	defer iter.Close()

	v = make([]store.AuditRecord, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		obj := store.AuditRecord{}
		if err := obj.UnmarshalBinary(iter.Value()); err == nil {
			v = append(v, obj)
		}
	}
	return v, nil
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
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	return s.db.Set([]byte(k), data, s.mode)
}

// getKv retrieves the value associated with a key from the database.
func (s *Store) getKv(k string, v store.Serializable) error {
	value, closer, err := s.db.Get([]byte(k))
	if err != nil {
		return err
	}

	defer func() {
		if closer != nil {
			closer.Close()
		}
	}()
	return v.UnmarshalBinary(value)
}
