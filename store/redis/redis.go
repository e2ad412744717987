// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

// Package redis is a credential and audit store using Redis as a backend.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	redis "github.com/go-redis/redis/v8"
	"github.com/rs/xid"

	"github.com/brokerauth/gatekeeper/store"
)

// defaultAddr is the default address to the redis service.
const defaultAddr = "localhost:6379"

// defaultHPrefix is a prefix to better identify hsets created by the gateway.
const defaultHPrefix = "gatekeeper-"

// Options contains configuration settings for the redis instance.
type Options struct {
	HPrefix string `yaml:"h_prefix" json:"h_prefix"`
	Options *redis.Options
}

// Store is a credential and audit store using Redis as a backend.
type Store struct {
	sync.Mutex                // serializes history read-modify-writes.
	config     *Options       // options for connecting to the Redis instance.
	db         *redis.Client  // the Redis instance
}

// hKey returns a hash set key with a unique prefix.
func (s *Store) hKey(k string) string {
	return s.config.HPrefix + k
}

// New connects to the redis service.
func New(opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{
			Options: &redis.Options{
				Addr: defaultAddr,
			},
		}
	}
	if opts.Options == nil {
		opts.Options = &redis.Options{
			Addr: defaultAddr,
		}
	}
	if opts.HPrefix == "" {
		opts.HPrefix = defaultHPrefix
	}

	s := &Store{config: opts}
	s.db = redis.NewClient(opts.Options)
	_, err := s.db.Ping(context.Background()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to ping service: %w", err)
	}

	return s, nil
}

// Close disconnects from the redis service.
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

	row, err := s.db.HGet(ctx, s.hKey(store.IdentityKey), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			err = store.ErrNotFound
		}
		return
	}

	err = d.UnmarshalBinary([]byte(row))
	return
}

// IdentityByUsername returns the identity record for a login name, resolved
// through the username index.
func (s *Store) IdentityByUsername(ctx context.Context, username string) (d store.Identity, err error) {
	if err = s.ready(ctx); err != nil {
		return
	}

	key, err := s.db.HGet(ctx, s.hKey(store.UsernameKey), username).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			err = store.ErrNotFound
		}
		return
	}

	return s.Identity(ctx, key)
}

// UpsertIdentity creates or replaces an identity record and its username
// index entry.
func (s *Store) UpsertIdentity(ctx context.Context, d store.Identity) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	d.T = store.IdentityKey
	err := s.db.HSet(ctx, s.hKey(store.IdentityKey), d.Key, d).Err()
	if err != nil {
		return fmt.Errorf("failed to hset identity data: %w", err)
	}

	err = s.db.HSet(ctx, s.hKey(store.UsernameKey), d.Username, d.Key).Err()
	if err != nil {
		return fmt.Errorf("failed to hset username index: %w", err)
	}

	return nil
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

	d, err := s.Identity(ctx, key)
	if err != nil {
		return err
	}

	d.History = append(d.History, topic)
	err = s.db.HSet(ctx, s.hKey(store.IdentityKey), d.Key, d).Err()
	if err != nil {
		return fmt.Errorf("failed to hset identity data: %w", err)
	}

	return nil
}

// AppendAudit appends an audit record to the audit list.
func (s *Store) AppendAudit(ctx context.Context, r store.AuditRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	if r.ID == "" {
		r.ID = xid.New().String()
	}
	r.T = store.AuditKey

	err := s.db.RPush(ctx, s.hKey(store.AuditKey), r).Err()
	if err != nil {
		return fmt.Errorf("failed to rpush audit data: %w", err)
	}

	return nil
}

// AuditRecords returns all audit records in append order.
func (s *Store) AuditRecords(ctx context.Context) (v []store.AuditRecord, err error) {
	if err = s.ready(ctx); err != nil {
		return
	}

	rows, err := s.db.LRange(ctx, s.hKey(store.AuditKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to lrange audit data: %w", err)
	}

	v = make([]store.AuditRecord, 0, len(rows))
	for _, row := range rows {
		obj := store.AuditRecord{}
		if err := obj.UnmarshalBinary([]byte(row)); err == nil {
			v = append(v, obj)
		}
	}
	return v, nil
}

// ready reports whether the connection is open and the context still live.
func (s *Store) ready(ctx context.Context) error {
	if s.db == nil {
		return store.ErrDBFileNotOpen
	}
	return ctx.Err()
}
