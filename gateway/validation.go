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

package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// Input bounds enforced before any JSON reaches handlers
const (
	MaxBodyBytes    = 1 << 20 // 1 MiB
	MaxJSONDepth    = 10
	MaxArrayLen     = 1000
	MaxObjectKeys   = 100
	MaxStringBytes  = 100 * 1024
)

// ValidateContentType rejects POST bodies that are not JSON
func ValidateContentType(r *http.Request) *APIError {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return NewAPIError(KindValidation, "Content-Type must be application/json", http.StatusBadRequest)
	}
	return nil
}

// Params field patterns shared by handlers
var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// readRawBody reads at most MaxBodyBytes and keeps the raw bytes for
// signature verification
func readRawBody(r *http.Request) ([]byte, *APIError) {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	raw, err := io.ReadAll(body)
	if err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			return nil, NewAPIError(KindValidation, "request body exceeds 1 MiB", http.StatusBadRequest)
		}
		return nil, NewAPIError(KindValidation, "failed to read request body", http.StatusBadRequest)
	}
	return raw, nil
}

// decodeValidated parses raw JSON, enforces the structural bounds
// (depth, array length, object width, string size), then unmarshals
// into the target shape.
func decodeValidated(raw []byte, out interface{}) *APIError {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return NewAPIError(KindValidation, "malformed JSON body", http.StatusBadRequest)
	}

	if err := checkBounds(decoded, 1); err != nil {
		return NewAPIError(KindValidation, err.Error(), http.StatusBadRequest)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return NewAPIError(KindValidation, "request body does not match expected shape", http.StatusBadRequest)
	}

	return nil
}

// checkBounds walks a decoded JSON value enforcing structural limits
func checkBounds(v interface{}, depth int) error {
	if depth > MaxJSONDepth {
		return fmt.Errorf("JSON nesting exceeds depth %d", MaxJSONDepth)
	}

	switch val := v.(type) {
	case map[string]interface{}:
		if len(val) > MaxObjectKeys {
			return fmt.Errorf("object exceeds %d keys", MaxObjectKeys)
		}
		for _, child := range val {
			if err := checkBounds(child, depth+1); err != nil {
				return err
			}
		}
	case []interface{}:
		if len(val) > MaxArrayLen {
			return fmt.Errorf("array exceeds %d elements", MaxArrayLen)
		}
		for _, child := range val {
			if err := checkBounds(child, depth+1); err != nil {
				return err
			}
		}
	case string:
		if len(val) > MaxStringBytes {
			return fmt.Errorf("string exceeds %d bytes", MaxStringBytes)
		}
	}

	return nil
}

// FieldRule validates one field of a params object
type FieldRule struct {
	Required  bool
	Type      string // string, number, boolean, array, object
	MinLength int
	MaxLength int
	MinValue  *float64
	MaxValue  *float64
	Pattern   *regexp.Regexp
	Enum      []string
	Custom    func(interface{}) error
}

// ValidateFields applies per-field rules to a params map
func ValidateFields(params map[string]interface{}, rules map[string]FieldRule) *APIError {
	for name, rule := range rules {
		value, present := params[name]
		if !present || value == nil {
			if rule.Required {
				return NewAPIError(KindValidation, fmt.Sprintf("field %s is required", name), http.StatusBadRequest)
			}
			continue
		}

		if rule.Type != "" {
			if err := checkType(name, value, rule.Type); err != nil {
				return NewAPIError(KindValidation, err.Error(), http.StatusBadRequest)
			}
		}

		if s, ok := value.(string); ok {
			if rule.MinLength > 0 && len(s) < rule.MinLength {
				return NewAPIError(KindValidation, fmt.Sprintf("field %s shorter than %d", name, rule.MinLength), http.StatusBadRequest)
			}
			if rule.MaxLength > 0 && len(s) > rule.MaxLength {
				return NewAPIError(KindValidation, fmt.Sprintf("field %s longer than %d", name, rule.MaxLength), http.StatusBadRequest)
			}
			if rule.Pattern != nil && !rule.Pattern.MatchString(s) {
				return NewAPIError(KindValidation, fmt.Sprintf("field %s does not match expected format", name), http.StatusBadRequest)
			}
			if len(rule.Enum) > 0 {
				found := false
				for _, e := range rule.Enum {
					if s == e {
						found = true
						break
					}
				}
				if !found {
					return NewAPIError(KindValidation, fmt.Sprintf("field %s must be one of %s", name, strings.Join(rule.Enum, ", ")), http.StatusBadRequest)
				}
			}
		}

		if n, ok := value.(float64); ok {
			if rule.MinValue != nil && n < *rule.MinValue {
				return NewAPIError(KindValidation, fmt.Sprintf("field %s below minimum", name), http.StatusBadRequest)
			}
			if rule.MaxValue != nil && n > *rule.MaxValue {
				return NewAPIError(KindValidation, fmt.Sprintf("field %s above maximum", name), http.StatusBadRequest)
			}
		}

		if rule.Custom != nil {
			if err := rule.Custom(value); err != nil {
				return NewAPIError(KindValidation, fmt.Sprintf("field %s: %v", name, err), http.StatusBadRequest)
			}
		}
	}

	return nil
}

func checkType(name string, value interface{}, want string) error {
	ok := false
	switch want {
	case "string":
		_, ok = value.(string)
	case "number":
		_, ok = value.(float64)
	case "boolean":
		_, ok = value.(bool)
	case "array":
		_, ok = value.([]interface{})
	case "object":
		_, ok = value.(map[string]interface{})
	default:
		return fmt.Errorf("unknown rule type %s for field %s", want, name)
	}
	if !ok {
		return fmt.Errorf("field %s must be a %s", name, want)
	}
	return nil
}
