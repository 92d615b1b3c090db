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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"action":"crm.search","params":{"q":"Ada"}}`)

	header := Sign("whsec_test", body, now)

	if err := VerifySignature("whsec_test", header, body, now); err != nil {
		t.Fatalf("VerifySignature failed on fresh signature: %v", err)
	}
}

func TestVerifySignatureFailures(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte("payload")
	good := Sign("secret", body, now)

	tests := []struct {
		name    string
		header  string
		body    []byte
		at      time.Time
		wantErr error
	}{
		{
			name:    "missing timestamp",
			header:  "v1=deadbeef",
			body:    body,
			at:      now,
			wantErr: ErrMissingTimestamp,
		},
		{
			name:    "malformed timestamp",
			header:  "t=notanumber,v1=deadbeef",
			body:    body,
			at:      now,
			wantErr: ErrMissingTimestamp,
		},
		{
			name:    "missing v1",
			header:  fmt.Sprintf("t=%d", now.Unix()),
			body:    body,
			at:      now,
			wantErr: ErrMissingSignature,
		},
		{
			name:    "stale timestamp",
			header:  good,
			body:    body,
			at:      now.Add(301 * time.Second),
			wantErr: ErrTimestampTooOld,
		},
		{
			name:    "future timestamp outside tolerance",
			header:  good,
			body:    body,
			at:      now.Add(-301 * time.Second),
			wantErr: ErrTimestampTooOld,
		},
		{
			name:    "wrong body",
			header:  good,
			body:    []byte("other payload"),
			at:      now,
			wantErr: ErrSignatureMismatch,
		},
		{
			name:    "forged signature",
			header:  fmt.Sprintf("t=%d,v1=%s", now.Unix(), strings.Repeat("ab", 32)),
			body:    body,
			at:      now,
			wantErr: ErrSignatureMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature("secret", tt.header, tt.body, tt.at)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestVerifySignatureAcceptsRotatedKeys(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte("payload")

	// A caller still signing with the old secret includes both signatures
	oldSig := Sign("old-secret", body, now)
	newSig := Sign("new-secret", body, now)
	// Combine: t from one, both v1 values
	combined := oldSig + "," + strings.SplitN(newSig, ",", 2)[1]

	if err := VerifySignature("new-secret", combined, body, now); err != nil {
		t.Fatalf("expected rotated header to verify against new secret: %v", err)
	}
	if err := VerifySignature("old-secret", combined, body, now); err != nil {
		t.Fatalf("expected rotated header to verify against old secret: %v", err)
	}
}

func TestVerifyWebhookSchemes(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"event":"push"}`)

	t.Run("hmac_sha256", func(t *testing.T) {
		header := computeRawHex("hook-secret", body)
		if err := VerifyWebhook(WebhookHMACSHA256, "hook-secret", header, body, now); err != nil {
			t.Fatalf("hmac_sha256 verification failed: %v", err)
		}
		if err := VerifyWebhook(WebhookHMACSHA256, "hook-secret", "00"+header[2:], body, now); err == nil {
			t.Error("expected forged hmac_sha256 signature to fail")
		}
	})

	t.Run("stripe", func(t *testing.T) {
		header := Sign("stripe-secret", body, now)
		if err := VerifyWebhook(WebhookStripe, "stripe-secret", header, body, now); err != nil {
			t.Fatalf("stripe verification failed: %v", err)
		}
	})

	t.Run("github", func(t *testing.T) {
		header := "sha256=" + computeRawHex("gh-secret", body)
		if err := VerifyWebhook(WebhookGitHub, "gh-secret", header, body, now); err != nil {
			t.Fatalf("github verification failed: %v", err)
		}
		if err := VerifyWebhook(WebhookGitHub, "gh-secret", computeRawHex("gh-secret", body), body, now); err == nil {
			t.Error("expected github header without sha256= prefix to fail")
		}
	})
}

func computeRawHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
