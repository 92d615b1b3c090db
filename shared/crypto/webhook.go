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
	"strings"
	"time"
)

// WebhookScheme identifies the inbound webhook signature format
type WebhookScheme string

const (
	WebhookHMACSHA256 WebhookScheme = "hmac_sha256" // X-Webhook-Signature: <hex>
	WebhookStripe     WebhookScheme = "stripe"      // Stripe-Signature: t=<ts>,v1=<sig>
	WebhookGitHub     WebhookScheme = "github"      // X-Hub-Signature-256: sha256=<hex>
)

// ErrWebhookSignature is returned for any webhook verification failure
var ErrWebhookSignature = errors.New("webhook signature verification failed")

// VerifyWebhook verifies an inbound webhook signature against the raw
// body under the named scheme. All comparisons are constant time.
func VerifyWebhook(scheme WebhookScheme, secret, header string, body []byte, now time.Time) error {
	switch scheme {
	case WebhookHMACSHA256:
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(header)) {
			return ErrWebhookSignature
		}
		return nil

	case WebhookStripe:
		// Stripe signs "<ts>.<body>" and uses the same header grammar
		// as our own request signing.
		if err := VerifySignature(secret, header, body, now); err != nil {
			return ErrWebhookSignature
		}
		return nil

	case WebhookGitHub:
		const prefix = "sha256="
		if !strings.HasPrefix(header, prefix) {
			return ErrWebhookSignature
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(header, prefix))) {
			return ErrWebhookSignature
		}
		return nil

	default:
		return ErrWebhookSignature
	}
}
