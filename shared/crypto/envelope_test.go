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

package crypto

import (
	"errors"
	"testing"
)

type staticKeys struct {
	secrets map[string]string
	current string
}

func (k staticKeys) MasterSecret(keyID string) (string, error) {
	s, ok := k.secrets[keyID]
	if !ok {
		return "", errors.New("unknown key")
	}
	return s, nil
}

func (k staticKeys) CurrentKeyID() string { return k.current }

func testEnvelope() *Envelope {
	return NewEnvelope(staticKeys{
		secrets: map[string]string{
			"key-v1": "legacy-master-secret",
			"key-v2": "current-master-secret",
		},
		current: "key-v2",
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e := testEnvelope()

	original := map[string]interface{}{
		"access_token":  "tok_abc123",
		"refresh_token": "ref_xyz789",
	}

	payload, err := e.Encrypt(original, "key-v2")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if payload.Alg != EnvelopeAlg {
		t.Errorf("expected alg %s, got %s", EnvelopeAlg, payload.Alg)
	}
	if payload.KeyID != "key-v2" {
		t.Errorf("expected key id key-v2, got %s", payload.KeyID)
	}

	var decrypted map[string]interface{}
	if err := e.Decrypt(payload, &decrypted); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	if decrypted["access_token"] != "tok_abc123" {
		t.Errorf("round trip lost access_token: %v", decrypted)
	}
}

func TestEncryptProducesDistinctCiphertexts(t *testing.T) {
	e := testEnvelope()

	p1, err := e.Encrypt("same plaintext", "key-v2")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	p2, err := e.Encrypt("same plaintext", "key-v2")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if p1.Ciphertext == p2.Ciphertext {
		t.Error("identical plaintexts produced identical ciphertexts")
	}
	if p1.Salt == p2.Salt {
		t.Error("identical plaintexts produced identical salts")
	}
	if p1.IV == p2.IV {
		t.Error("identical plaintexts produced identical IVs")
	}
}

func TestReEncryptMigratesKeyVersion(t *testing.T) {
	e := testEnvelope()

	payload, err := e.Encrypt("legacy secret value", "key-v1")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	migrated, err := e.ReEncrypt(payload)
	if err != nil {
		t.Fatalf("ReEncrypt failed: %v", err)
	}

	if migrated.KeyID != "key-v2" {
		t.Errorf("expected migrated key id key-v2, got %s", migrated.KeyID)
	}

	var plaintext string
	if err := e.Decrypt(migrated, &plaintext); err != nil {
		t.Fatalf("Decrypt after ReEncrypt failed: %v", err)
	}
	if plaintext != "legacy secret value" {
		t.Errorf("ReEncrypt round trip mismatch: %q", plaintext)
	}
}

func TestDecryptRejectsUnknownKeyVersion(t *testing.T) {
	e := testEnvelope()

	payload, err := e.Encrypt("value", "key-v2")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	payload.KeyID = "key-v9"
	var out string
	if err := e.Decrypt(payload, &out); !errors.Is(err, ErrUnknownKeyVersion) {
		t.Errorf("expected ErrUnknownKeyVersion, got %v", err)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	e := testEnvelope()

	payload, err := e.Encrypt("value", "key-v2")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Flip the first base64 character
	if payload.Ciphertext[0] == 'A' {
		payload.Ciphertext = "B" + payload.Ciphertext[1:]
	} else {
		payload.Ciphertext = "A" + payload.Ciphertext[1:]
	}

	var out string
	if err := e.Decrypt(payload, &out); err == nil {
		t.Error("expected tampered ciphertext to fail GCM authentication")
	}
}

func TestEncryptRejectsUnknownKeyVersion(t *testing.T) {
	e := testEnvelope()

	if _, err := e.Encrypt("value", "key-missing"); !errors.Is(err, ErrUnknownKeyVersion) {
		t.Errorf("expected ErrUnknownKeyVersion, got %v", err)
	}
}
