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

// Package safety implements the content filter and the destructive-action
// gate. Every function here is pure and completes in sub-millisecond time
// on inputs up to 50 KiB.
package safety

import (
	"regexp"
	"strconv"
	"unicode"
)

// Redaction labels substituted for matched PII
const (
	LabelEmail      = "[REDACTED_EMAIL]"
	LabelPhone      = "[REDACTED_PHONE]"
	LabelSSN        = "[REDACTED_SSN]"
	LabelCreditCard = "[REDACTED_CREDIT_CARD]"
	LabelAPIKey     = "[REDACTED_API_KEY]"
)

var (
	emailPattern = regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)
	phonePattern = regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}[- ]?\d{2}[- ]?\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	apiKeyPattern = regexp.MustCompile(`\b(?:sk-|pk_|key-|token_)[A-Za-z0-9_\-]{16,}\b`)
)

// RedactPII rewrites recognized PII patterns with fixed labels.
// Credit-card-like digit runs are only redacted when they pass the Luhn
// check, which keeps order numbers and tracking ids intact.
func RedactPII(text string) string {
	out := apiKeyPattern.ReplaceAllString(text, LabelAPIKey)
	out = emailPattern.ReplaceAllString(out, LabelEmail)
	out = cardPattern.ReplaceAllStringFunc(out, func(match string) string {
		digits := digitsOf(match)
		if len(digits) >= 13 && len(digits) <= 19 && luhnCheck(digits) {
			return LabelCreditCard
		}
		return match
	})
	out = ssnPattern.ReplaceAllString(out, LabelSSN)
	out = phonePattern.ReplaceAllString(out, LabelPhone)
	return out
}

// ContainsPII reports whether any recognized PII pattern matches
func ContainsPII(text string) bool {
	return RedactPII(text) != text
}

// digitsOf strips everything but digits
func digitsOf(s string) string {
	var b []rune
	for _, r := range s {
		if unicode.IsDigit(r) {
			b = append(b, r)
		}
	}
	return string(b)
}

// luhnCheck performs the Luhn algorithm check
func luhnCheck(number string) bool {
	sum := 0
	alternate := false

	for i := len(number) - 1; i >= 0; i-- {
		digit, _ := strconv.Atoi(string(number[i]))

		if alternate {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}

		sum += digit
		alternate = !alternate
	}

	return sum%10 == 0
}
