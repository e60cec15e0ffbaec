package resource

import (
	"reflect"
	"testing"

	"github.com/spf13/afero"
)

func newTree(t *testing.T, files ...string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range files {
		if err := afero.WriteFile(fs, f, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
	return fs
}

func TestResolve(t *testing.T) {
	fs := newTree(t,
		"db/02_data.sql",
		"db/01_schema.sql",
		"db/readme.txt",
		"db/old/00_legacy.sql",
		"sql/mapper/user.yaml",
		"sql/mapper/admin/role.yaml",
		"sql/mapper/admin/deep/audit.yaml",
		"messages/message.properties",
	)

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"single level glob is sorted", "db/*.sql", []string{"db/01_schema.sql", "db/02_data.sql"}},
		{"recursive glob", "sql/mapper/**/*.yaml", []string{
			"sql/mapper/admin/deep/audit.yaml",
			"sql/mapper/admin/role.yaml",
			"sql/mapper/user.yaml",
		}},
		{"classpath prefix", "classpath*:db/*.sql", []string{"db/01_schema.sql", "db/02_data.sql"}},
		{"exact file", "messages/message.properties", []string{"messages/message.properties"}},
		{"missing exact file", "messages/nope.properties", nil},
		{"missing directory", "nowhere/*.sql", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(fs, tt.pattern)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveInvalidPattern(t *testing.T) {
	if _, err := Resolve(afero.NewMemMapFs(), "db/[.sql"); err == nil {
		t.Error("expected error for malformed pattern")
	}
	if _, err := Resolve(afero.NewMemMapFs(), "  "); err == nil {
		t.Error("expected error for empty pattern")
	}
}

func TestResolveAllDeduplicates(t *testing.T) {
	fs := newTree(t, "db/a.sql", "db/b.sql")

	got, err := ResolveAll(fs, "db/b.sql", "db/*.sql")
	if err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}
	want := []string{"db/b.sql", "db/a.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveAll() = %v, want %v", got, want)
	}
}
