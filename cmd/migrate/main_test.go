package main

import (
	"os"
	"strings"
	"testing"
)

func TestSplitSQL(t *testing.T) {
	script := `-- accounts
CREATE TABLE a (
    id text PRIMARY KEY -- inline; not a terminator
);

CREATE INDEX a_idx ON a (id);
-- +migrate Down
DROP TABLE a;
`
	statements := splitSQL(upSection(script))
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %#v", len(statements), statements)
	}
	if !strings.HasPrefix(statements[0], "CREATE TABLE a") || !strings.Contains(statements[1], "CREATE INDEX") {
		t.Fatalf("unexpected statements: %#v", statements)
	}
}

func TestSchemaSplitsIntoStatements(t *testing.T) {
	content, err := os.ReadFile("../../migrations/001_mileage.sql")
	if err != nil {
		t.Fatalf("failed to read schema: %v", err)
	}
	statements := splitSQL(upSection(string(content)))
	if len(statements) == 0 {
		t.Fatalf("schema has no statements")
	}
	for _, stmt := range statements {
		if !strings.HasSuffix(strings.TrimSpace(stmt), ";") {
			t.Fatalf("statement is not terminated: %q", stmt)
		}
		if strings.Contains(stmt, "+migrate Down") {
			t.Fatalf("down section leaked into up statements")
		}
	}
}
