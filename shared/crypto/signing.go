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
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance is the replay window for signed requests
const SignatureTolerance = 300 * time.Second

// Signing errors
var (
	ErrMissingTimestamp  = errors.New("signature header missing timestamp")
	ErrMissingSignature  = errors.New("signature header missing v1 signature")
	ErrTimestampTooOld   = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch = errors.New("no matching v1 signature")
)

// Sign produces a signature header for body at the given time.
// The header format is "t=<unix_seconds>,v1=<hex_sig>"; the signed
// payload is the literal string "<timestamp>.<raw_body>".
func Sign(secret string, body []byte, at time.Time) string {
	ts := at.Unix()
	sig := computeHMAC(secret, ts, body)
	return fmt.Sprintf("t=%d,v1=%s", ts, sig)
}

// VerifySignature validates a "t=...,v1=...[,v1=...]" header against the
// raw request body. Multiple v1 entries are allowed for key rotation;
// each candidate is compared in constant time.
func VerifySignature(secret, header string, body []byte, now time.Time) error {
	var ts int64
	var haveTS bool
	var candidates []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ErrMissingTimestamp
			}
			ts = parsed
			haveTS = true
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}

	if !haveTS {
		return ErrMissingTimestamp
	}
	if len(candidates) == 0 {
		return ErrMissingSignature
	}

	age := now.Unix() - ts
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > SignatureTolerance {
		return ErrTimestampTooOld
	}

	expected := computeHMAC(secret, ts, body)
	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}

	return ErrSignatureMismatch
}

func computeHMAC(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
