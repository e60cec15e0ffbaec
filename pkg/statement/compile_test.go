package statement

import (
	"reflect"
	"strings"
	"testing"
)

// TestCompileTemplate verifies placeholder rewriting
func TestCompileTemplate(t *testing.T) {
	tests := []struct {
		name      string
		template  string
		wantSQL   string
		wantOrder []string
	}{
		{
			name:      "colon placeholder",
			template:  "SELECT * FROM users WHERE id = :id",
			wantSQL:   "SELECT * FROM users WHERE id = $1",
			wantOrder: []string{"id"},
		},
		{
			name:      "hash placeholder with type hint",
			template:  "SELECT * FROM users WHERE id = #{id,jdbcType=INTEGER}",
			wantSQL:   "SELECT * FROM users WHERE id = $1",
			wantOrder: []string{"id"},
		},
		{
			name:      "repeated name reuses position",
			template:  "SELECT * FROM t WHERE a = :x OR b = :y OR c = :x",
			wantSQL:   "SELECT * FROM t WHERE a = $1 OR b = $2 OR c = $1",
			wantOrder: []string{"x", "y"},
		},
		{
			name:      "cast is not a placeholder",
			template:  "SELECT :v::int",
			wantSQL:   "SELECT $1::int",
			wantOrder: []string{"v"},
		},
		{
			name:      "literals and identifiers are skipped",
			template:  `SELECT ':nope', "col:x", 'it''s :also' FROM t WHERE id = :id`,
			wantSQL:   `SELECT ':nope', "col:x", 'it''s :also' FROM t WHERE id = $1`,
			wantOrder: []string{"id"},
		},
		{
			name:      "comments are skipped",
			template:  "SELECT 1 -- :a\n/* :b */ WHERE x = :c",
			wantSQL:   "SELECT 1 -- :a\n/* :b */ WHERE x = $1",
			wantOrder: []string{"c"},
		},
		{
			name:      "dollar quoted body is skipped",
			template:  "SELECT $$ :a $$, $tag$ :b $tag$, :c",
			wantSQL:   "SELECT $$ :a $$, $tag$ :b $tag$, $1",
			wantOrder: []string{"c"},
		},
		{
			name:     "no placeholders",
			template: "SELECT now()",
			wantSQL:  "SELECT now()",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compileTemplate(tt.template)
			if err != nil {
				t.Fatalf("compileTemplate() error = %v", err)
			}
			if got.sql != tt.wantSQL {
				t.Errorf("sql = %q, want %q", got.sql, tt.wantSQL)
			}
			if !reflect.DeepEqual(got.order, tt.wantOrder) {
				t.Errorf("order = %v, want %v", got.order, tt.wantOrder)
			}
		})
	}
}

// TestCompileTemplateErrors verifies malformed templates are rejected
func TestCompileTemplateErrors(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantMsg  string
	}{
		{"string substitution", "SELECT * FROM ${table}", "string substitution"},
		{"positional placeholder", "SELECT * FROM t WHERE id = $1", "positional"},
		{"unterminated literal", "SELECT 'abc", "unterminated string literal"},
		{"unterminated identifier", `SELECT "abc`, "unterminated quoted identifier"},
		{"unterminated comment", "SELECT 1 /* x", "unterminated block comment"},
		{"unterminated hash", "SELECT #{id", "unterminated #{"},
		{"bad hash name", "SELECT #{1id}", "invalid parameter name"},
		{"unterminated dollar quote", "SELECT $$ abc", "unterminated dollar-quoted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileTemplate(tt.template)
			if err == nil {
				t.Fatal("compileTemplate() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

// TestInferKind verifies kind inference from the leading keyword
func TestInferKind(t *testing.T) {
	tests := []struct {
		sql  string
		want Kind
	}{
		{"SELECT 1", KindSelect},
		{"  with x as (select 1) select * from x", KindSelect},
		{"-- lookup\nSELECT 1", KindSelect},
		{"/* c */ (SELECT 1)", KindSelect},
		{"INSERT INTO t VALUES ($1)", KindInsert},
		{"INSERT INTO t VALUES ($1) RETURNING id", KindSelect},
		{"update t set a = 1", KindUpdate},
		{"DELETE FROM t", KindDelete},
		{"CREATE TABLE t (id int)", KindExec},
	}

	for _, tt := range tests {
		if got := inferKind(tt.sql); got != tt.want {
			t.Errorf("inferKind(%q) = %v, want %v", tt.sql, got, tt.want)
		}
	}
}

func TestCamelCase(t *testing.T) {
	tests := map[string]string{
		"user_name":  "userName",
		"id":         "id",
		"CREATED_AT": "createdAt",
		"_leading":   "leading",
		"a__b":       "aB",
	}
	for in, want := range tests {
		if got := camelCase(in); got != want {
			t.Errorf("camelCase(%q) = %q, want %q", in, got, want)
		}
	}
}
