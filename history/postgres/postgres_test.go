package postgres

import "testing"

func TestWithTableRejectsBadIdentifiers(t *testing.T) {
	s := New(nil, WithTable(`directives; DROP TABLE users`))
	if s.table != "directives" {
		t.Fatalf("table = %q, want default", s.table)
	}
	s = New(nil, WithTable("9abc"))
	if s.table != "directives" {
		t.Fatalf("table = %q, want default", s.table)
	}
	s = New(nil, WithTable("session_log"))
	if s.table != "session_log" {
		t.Fatalf("table = %q", s.table)
	}
}
