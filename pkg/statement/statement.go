// Package statement holds the registry of named SQL statements. Statements
// are registered once at startup, usually from YAML mapper files, compiled
// from named-parameter templates into positional SQL and then executed by
// name inside an open database transaction.
//
// Example usage:
//
//	reg := statement.NewRegistry()
//	err := reg.Register("user.getUser", "SELECT * FROM users WHERE id = :id",
//	    []statement.ParamSpec{{Name: "id", Type: statement.TypeInt, Required: true}},
//	    statement.ResultSpec{})
//	reg.Freeze()
//
//	records, err := reg.Execute(ctx, tx, "user.getUser", map[string]any{"id": 1})
package statement

import (
	"github.com/Combine-Capital/cqweb/pkg/errors"
)

var (
	// ErrDuplicateStatementName is returned when a name is registered twice.
	ErrDuplicateStatementName = errors.NewPermanent("duplicate statement name", nil)

	// ErrMalformedTemplate is returned for templates that cannot be compiled.
	ErrMalformedTemplate = errors.NewPermanent("malformed statement template", nil)

	// ErrUnknownStatement is returned when executing a name that was never registered.
	ErrUnknownStatement = errors.NewPermanent("unknown statement", nil)

	// ErrParameterMismatch is returned when supplied parameters do not satisfy
	// the statement's parameter specs.
	ErrParameterMismatch = errors.NewInvalidInput("parameters", "parameter mismatch")

	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.NewPermanent("statement registry is frozen", nil)
)

// Kind tells Execute whether a statement returns rows.
type Kind string

const (
	KindSelect Kind = "select"
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindExec   Kind = "exec"
)

// returnsRows reports whether records are read from the result set.
func (k Kind) returnsRows() bool {
	return k == KindSelect
}

// Type names accepted in ParamSpec.Type and ResultColumn.Type.
const (
	TypeAny    = ""
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeTime   = "time"
	TypeBytes  = "bytes"
)

// ParamSpec declares one named parameter of a template.
type ParamSpec struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// ResultColumn maps one result column to a record property.
type ResultColumn struct {
	Column   string `yaml:"column"`
	Property string `yaml:"property"`
	Type     string `yaml:"type"`
}

// ResultSpec describes how rows become records. Columns not listed keep
// their column name, converted to camelCase when MapUnderscoreToCamelCase
// is set.
type ResultSpec struct {
	Columns                  []ResultColumn `yaml:"columns"`
	MapUnderscoreToCamelCase bool           `yaml:"map_underscore_to_camel_case"`
}

// Record is one result row keyed by property name.
type Record map[string]any

// RowsAffected is the record key reported by non-select statements.
const RowsAffected = "rows_affected"

// Descriptor is an immutable compiled statement.
type Descriptor struct {
	Name     string
	Kind     Kind
	Template string
	SQL      string // positional SQL sent to the database
	Params   []ParamSpec
	Result   ResultSpec

	// order lists parameter names by position ($1 is order[0]).
	order []string
	specs map[string]ParamSpec
}

// Placeholders returns the parameter names of a compiled statement in
// positional order.
func (d *Descriptor) Placeholders() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}
