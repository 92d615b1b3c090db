// Copyright 2025 AgentMesh
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package crypto implements envelope encryption for stored credentials
// and HMAC request signing for agent-originated requests.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EnvelopeAlg is the only algorithm this package produces
	EnvelopeAlg = "AES-256-GCM"

	// PBKDF2Iterations is the key-derivation work factor
	PBKDF2Iterations = 100000

	saltSize = 16
	ivSize   = 12
	keySize  = 32
)

// Envelope errors
var (
	ErrUnknownKeyVersion = errors.New("no master secret configured for key version")
	ErrUnsupportedAlg    = errors.New("unsupported encryption algorithm")
	ErrMalformedPayload  = errors.New("malformed encrypted payload")
)

// Payload is the serializable result of an Encrypt call.
// All binary components are base64 encoded.
type Payload struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Salt       string `json:"salt"`
	KeyID      string `json:"key_id"`
	Alg        string `json:"alg"`
}

// KeyResolver maps a key version id to its master secret.
// A missing secret is a per-call error, not a startup failure.
type KeyResolver interface {
	MasterSecret(keyID string) (string, error)
	CurrentKeyID() string
}

// Envelope performs versioned envelope encryption
type Envelope struct {
	keys KeyResolver
}

// NewEnvelope creates an Envelope backed by the given key resolver
func NewEnvelope(keys KeyResolver) *Envelope {
	return &Envelope{keys: keys}
}

// Encrypt serializes plaintext to JSON and encrypts it under the key
// derived from the master secret for keyID. Each call uses a fresh
// random salt and IV, so identical plaintexts produce distinct payloads.
func (e *Envelope) Encrypt(plaintext interface{}, keyID string) (*Payload, error) {
	secret, err := e.keys.MasterSecret(keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyVersion, keyID)
	}

	data, err := json.Marshal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize plaintext: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	gcm, err := deriveGCM(secret, salt)
	if err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, iv, data, nil)

	return &Payload{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		KeyID:      keyID,
		Alg:        EnvelopeAlg,
	}, nil
}

// Decrypt re-derives the key from the stored salt and the master secret
// selected by the payload's key id, then decrypts and deserializes into out.
func (e *Envelope) Decrypt(payload *Payload, out interface{}) error {
	if payload.Alg != EnvelopeAlg {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlg, payload.Alg)
	}

	secret, err := e.keys.MasterSecret(payload.KeyID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownKeyVersion, payload.KeyID)
	}

	salt, err := base64.StdEncoding.DecodeString(payload.Salt)
	if err != nil {
		return fmt.Errorf("%w: bad salt", ErrMalformedPayload)
	}
	iv, err := base64.StdEncoding.DecodeString(payload.IV)
	if err != nil {
		return fmt.Errorf("%w: bad iv", ErrMalformedPayload)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return fmt.Errorf("%w: bad ciphertext", ErrMalformedPayload)
	}

	gcm, err := deriveGCM(secret, salt)
	if err != nil {
		return err
	}

	data, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("decryption failed: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to deserialize plaintext: %w", err)
	}

	return nil
}

// CurrentKeyID reports the key version new payloads are written under
func (e *Envelope) CurrentKeyID() string {
	return e.keys.CurrentKeyID()
}

// ReEncrypt decrypts a payload under its stored key version and encrypts
// it again under the current key version. Callers use this to migrate
// stored credentials lazily when the key version lags.
func (e *Envelope) ReEncrypt(payload *Payload) (*Payload, error) {
	var plaintext interface{}
	if err := e.Decrypt(payload, &plaintext); err != nil {
		return nil, err
	}
	return e.Encrypt(plaintext, e.keys.CurrentKeyID())
}

// deriveGCM derives the AES key via PBKDF2-HMAC-SHA256 and returns the GCM AEAD
func deriveGCM(secret string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(secret), salt, PBKDF2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
