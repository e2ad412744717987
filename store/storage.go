// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

// Package store contains the entities persisted by the gateway and the
// interface all credential/audit store backends implement.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

const (
	IdentityKey = "IDY" // unique key to denote identity records in a store
	UsernameKey = "USR" // unique key to denote the username index in a store
	AuditKey    = "AUD" // unique key to denote audit records in a store
)

const (
	KindDoorOpen = "door-open"       // audit record kind for the reserved sensitive topic
	KindMessage  = "generic-message" // audit record kind for any accepted message
)

var (
	// ErrNotFound indicates that no identity record exists for the requested key.
	ErrNotFound = errors.New("identity not found")

	// ErrDBFileNotOpen indicates that the file database (e.g. bolt/badger) wasn't open for reading.
	ErrDBFileNotOpen = errors.New("db file not open")
)

// Lookup indicates how an authenticating identity is resolved from the store.
type Lookup string

const (
	// LookupUsername resolves the identity record by the claimed username.
	LookupUsername Lookup = "username"

	// LookupConnectionKey resolves a pre-provisioned identity record by the
	// key the transport associates with the connection.
	LookupConnectionKey Lookup = "connection-key"
)

// Serializable is an interface for objects that can be serialized and deserialized.
type Serializable interface {
	UnmarshalBinary([]byte) error
	MarshalBinary() (data []byte, err error)
}

// Identity is a storable representation of one registered credential holder.
type Identity struct {
	Topics       []string `json:"topics" yaml:"topics"`                                   // topics this identity may publish or subscribe to
	History      []string `json:"history,omitempty" yaml:"history,omitempty"`             // topics this identity has published to
	Key          string   `json:"key" yaml:"key"`                                         // the stable identity key / storage key
	T            string   `json:"t,omitempty" yaml:"-"`                                   // the data type (identity)
	Username     string   `json:"username" yaml:"username"`                               // the human login name
	Secret       string   `json:"secret" yaml:"secret"`                                   // the stored comparable form of the password
	AuditSubject string   `json:"audit_subject,omitempty" yaml:"audit_subject,omitempty"` // opaque id used when writing audit rows
}

// PermitsTopic returns true if the topic is an exact member of the identity's
// permitted topic set. No wildcard expansion is performed.
func (d Identity) PermitsTopic(topic string) bool {
	for _, t := range d.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// MarshalBinary encodes the values into a json string.
func (d Identity) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *Identity) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// AuditRecord is a storable representation of one sensitive or loggable action.
// Records are append-only; nothing in the gateway mutates or deletes them.
type AuditRecord struct {
	ID      string `json:"id,omitempty"`      // the storage key
	T       string `json:"t,omitempty"`       // the data type (audit)
	Kind    string `json:"kind"`              // door-open or generic-message
	Subject string `json:"subject,omitempty"` // the audit subject id of the acting identity
	Topic   string `json:"topic"`             // the topic the action was performed on
	Payload string `json:"payload,omitempty"` // the raw payload, stored as text
	Created int64  `json:"created,omitempty"` // the time the record was created in unixtime
}

// MarshalBinary encodes the values into a json string.
func (d AuditRecord) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *AuditRecord) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// Store is the interface for credential and audit record storage backends.
// Identity reads must return ErrNotFound (possibly wrapped) when no record
// exists; callers convert that into a denial, never a crash. All methods
// must respect context cancellation so a slow backend resolves to a denial
// rather than blocking the decision path.
type Store interface {
	// Identity returns the identity record for a stable identity key.
	Identity(ctx context.Context, key string) (Identity, error)

	// IdentityByUsername returns the identity record for a login name.
	IdentityByUsername(ctx context.Context, username string) (Identity, error)

	// UpsertIdentity creates or replaces an identity record. Provisioning
	// is an administrative action; the gateway decision path never calls it.
	UpsertIdentity(ctx context.Context, d Identity) error

	// AppendHistory appends a topic to an identity's publish history.
	AppendHistory(ctx context.Context, key string, topic string) error

	// AppendAudit durably appends an audit record.
	AppendAudit(ctx context.Context, r AuditRecord) error

	// AuditRecords returns all audit records in append order.
	AuditRecords(ctx context.Context) ([]AuditRecord, error)

	// Close releases the backend.
	Close() error
}
