// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package gatekeeper

import (
	"encoding/base64"
)

// SecretCodec reverses the transport encoding applied to a connecting
// client's secret. The encoding is a reversible wire transform, not a hash;
// it provides no storage security on its own.
type SecretCodec interface {
	// Decode returns the comparable plaintext form of an encoded secret.
	Decode(encoded []byte) ([]byte, error)

	// Encode applies the transport encoding to a plaintext secret. Encode
	// and Decode are inverses over valid input.
	Encode(plain []byte) []byte
}

// Base64Codec decodes secrets transmitted as standard base64 text.
type Base64Codec struct{}

// Decode returns the plaintext bytes of a base64-encoded secret.
func (c Base64Codec) Decode(encoded []byte) ([]byte, error) {
	plain := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(plain, encoded)
	if err != nil {
		return nil, err
	}
	return plain[:n], nil
}

// Encode returns the base64 encoding of a plaintext secret.
func (c Base64Codec) Encode(plain []byte) []byte {
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(plain)))
	base64.StdEncoding.Encode(encoded, plain)
	return encoded
}

// PlainCodec passes secrets through unchanged, for transports which do not
// encode credentials.
type PlainCodec struct{}

// Decode returns the input unchanged.
func (c PlainCodec) Decode(encoded []byte) ([]byte, error) {
	return encoded, nil
}

// Encode returns the input unchanged.
func (c PlainCodec) Encode(plain []byte) []byte {
	return plain
}
