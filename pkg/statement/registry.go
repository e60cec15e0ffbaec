package statement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/Combine-Capital/cqweb/pkg/database"
	"github.com/Combine-Capital/cqweb/pkg/logging"
	"github.com/Combine-Capital/cqweb/pkg/tracing"
)

// Observer is called after every execution that reached the database.
type Observer func(name string, kind Kind, d time.Duration, err error)

// Registry maps statement names to compiled descriptors. Register is only
// valid before Freeze; after Freeze the registry is read without locking.
type Registry struct {
	mu       sync.RWMutex
	frozen   atomic.Bool
	stmts    map[string]*Descriptor
	logger   *logging.Logger
	observer Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger.WithComponent("statement")
		}
	}
}

// WithObserver installs an execution observer, typically a metrics recorder.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		stmts:  make(map[string]*Descriptor),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register compiles template and adds it under name with an inferred kind.
func (r *Registry) Register(name, template string, params []ParamSpec, result ResultSpec) error {
	return r.RegisterKind(name, "", template, params, result)
}

// RegisterKind is Register with an explicit kind. An empty kind is inferred
// from the leading SQL keyword.
//
// Every placeholder must be declared in params, every declared type must be
// known and the compiled SQL must parse as PostgreSQL.
func (r *Registry) RegisterKind(name string, kind Kind, template string, params []ParamSpec, result ResultSpec) error {
	if name == "" {
		return fmt.Errorf("%w: empty statement name", ErrMalformedTemplate)
	}
	if r.frozen.Load() {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, name)
	}

	d, err := compileDescriptor(name, kind, template, params, result)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, name)
	}
	if _, exists := r.stmts[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStatementName, name)
	}
	r.stmts[name] = d

	r.logger.Debug().
		Str(logging.Statement, name).
		Str("kind", string(d.Kind)).
		Int("params", len(d.order)).
		Msg("statement registered")
	return nil
}

func compileDescriptor(name string, kind Kind, template string, params []ParamSpec, result ResultSpec) (*Descriptor, error) {
	c, err := compileTemplate(template)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTemplate, name, err)
	}

	specs := make(map[string]ParamSpec, len(params))
	for _, p := range params {
		if !isIdent(p.Name) {
			return nil, fmt.Errorf("%w: %s: invalid parameter name %q", ErrMalformedTemplate, name, p.Name)
		}
		if !knownTypes[p.Type] {
			return nil, fmt.Errorf("%w: %s: parameter %q has unknown type %q", ErrMalformedTemplate, name, p.Name, p.Type)
		}
		if _, dup := specs[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s: parameter %q declared twice", ErrMalformedTemplate, name, p.Name)
		}
		specs[p.Name] = p
	}
	for _, placeholder := range c.order {
		if _, ok := specs[placeholder]; !ok {
			return nil, fmt.Errorf("%w: %s: placeholder %q is not declared", ErrMalformedTemplate, name, placeholder)
		}
	}
	for _, col := range result.Columns {
		if col.Column == "" || !knownTypes[col.Type] {
			return nil, fmt.Errorf("%w: %s: invalid result column %q", ErrMalformedTemplate, name, col.Column)
		}
	}

	if err := checkSyntax(c.sql); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedTemplate, name, err)
	}

	switch kind {
	case "":
		kind = inferKind(c.sql)
	case KindSelect, KindInsert, KindUpdate, KindDelete, KindExec:
	default:
		return nil, fmt.Errorf("%w: %s: unknown kind %q", ErrMalformedTemplate, name, kind)
	}

	return &Descriptor{
		Name:     name,
		Kind:     kind,
		Template: template,
		SQL:      c.sql,
		Params:   append([]ParamSpec(nil), params...),
		Result:   result,
		order:    c.order,
		specs:    specs,
	}, nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	if r.frozen.Load() {
		d, ok := r.stmts[name]
		return d, ok
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.stmts[name]
	return d, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stmts))
	for name := range r.stmts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered statements.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stmts)
}

// Execute runs the named statement inside tx. Select statements return one
// record per row, possibly none. Other kinds return a single record holding
// RowsAffected. A database failure rolls tx back before the error returns.
func (r *Registry) Execute(ctx context.Context, tx *database.Tx, name string, params map[string]any) ([]Record, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStatement, name)
	}
	if tx == nil || tx.State() != database.TxOpen {
		return nil, database.ErrTransactionNotOpen
	}
	args, err := d.bind(params)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "statement "+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.StatementAttributes(name, string(d.Kind))...))
	defer span.End()

	start := time.Now()
	records, err := r.run(ctx, tx, d, args)
	elapsed := time.Since(start)

	if r.observer != nil {
		r.observer(name, d.Kind, elapsed, err)
	}
	if err != nil {
		tracing.SetSpanError(ctx, err)
		logging.FromContext(ctx).Debug().
			Err(err).
			Str(logging.Statement, name).
			Str(logging.TxID, tx.ID()).
			Msg("statement failed")
		return nil, fmt.Errorf("statement %s: %w", name, err)
	}
	return records, nil
}

func (r *Registry) run(ctx context.Context, tx *database.Tx, d *Descriptor, args []any) ([]Record, error) {
	if !d.Kind.returnsRows() {
		tag, err := tx.Exec(ctx, d.SQL, args...)
		if err != nil {
			return nil, err
		}
		return []Record{{RowsAffected: tag.RowsAffected()}}, nil
	}

	records := []Record{}
	err := tx.Query(ctx, d.SQL, args, func(rows pgx.Rows) error {
		mapRow := d.Result.newMapper(rows.FieldDescriptions())
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return err
			}
			rec, err := mapRow(values)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
