package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestViolationHelpers(t *testing.T) {
	unique := &pq.Error{Code: pqUniqueViolation, Constraint: "event_schemas_pkey"}
	foreign := &pq.Error{Code: pqForeignKeyViolation, Constraint: "data_records_schema_id_fkey"}

	tests := []struct {
		name       string
		err        error
		constraint string
		wantUnique bool
		wantFK     bool
	}{
		{name: "unique any constraint", err: unique, wantUnique: true},
		{name: "unique named constraint", err: unique, constraint: "event_schemas_pkey", wantUnique: true},
		{name: "unique other constraint", err: unique, constraint: "other"},
		{name: "wrapped unique", err: fmt.Errorf("insert: %w", unique), wantUnique: true},
		{name: "foreign key", err: foreign, wantFK: true},
		{name: "foreign key named", err: foreign, constraint: "data_records_schema_id_fkey", wantFK: true},
		{name: "plain error", err: errors.New("boom")},
		{name: "nil", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.wantUnique {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.wantUnique)
			}
			if got := IsForeignKeyViolation(tt.err, tt.constraint); got != tt.wantFK {
				t.Errorf("IsForeignKeyViolation() = %v, want %v", got, tt.wantFK)
			}
		})
	}
}
