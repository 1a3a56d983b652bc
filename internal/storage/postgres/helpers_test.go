// Package postgres provides a PostgreSQL implementation of storage interfaces.
// This file contains test helpers only available during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows written by tests: memories, assets, and
// the audit trail. It is defined in the postgres package (not the _test
// package) so it has access to the unexported db field, and exported so the
// postgres_test package can call it.
func (s *MemoryStore) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE memories, assets, audits RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate test tables: %w", err)
	}
	return nil
}
