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

package store

import (
	"context"
	"fmt"
	"regexp"
)

// queryableTables is the closed set of tables the query route may read.
// Anything else is rejected before SQL is built.
var queryableTables = map[string]bool{
	"agents":                  true,
	"agent_commands":          true,
	"agent_responses":         true,
	"agent_memories":          true,
	"agent_confirmations":     true,
	"agent_messages":          true,
	"workflows":               true,
	"workflow_runs":           true,
	"orchestration_runs":      true,
	"orchestration_responses": true,
	"integrations":            true,
	"tool_definitions":        true,
}

var selectListPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\s*,\s*[a-z_][a-z0-9_]*)*$`)

// MaxQueryLimit caps rows returned by the query route
const MaxQueryLimit = 200

// QueryTable performs the read behind query.* actions: a bounded SELECT
// against one of the allowed tables. selectList is either "*" or a
// comma-separated column list; anything else is rejected.
func (s *Store) QueryTable(ctx context.Context, table, selectList string, limit int) ([]map[string]interface{}, error) {
	if !queryableTables[table] {
		return nil, fmt.Errorf("%w: table %s", ErrNotFound, table)
	}

	if selectList == "" {
		selectList = "*"
	}
	if selectList != "*" && !selectListPattern.MatchString(selectList) {
		return nil, fmt.Errorf("invalid select list")
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	// Table and select list are validated against closed grammars above;
	// only the limit is parameterized.
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s LIMIT $1`, selectList, table), limit)
	if err != nil {
		return nil, fmt.Errorf("query against %s failed: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan query row: %w", err)
		}

		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				record[col] = string(v)
			default:
				record[col] = v
			}
		}
		results = append(results, record)
	}

	return results, rows.Err()
}
