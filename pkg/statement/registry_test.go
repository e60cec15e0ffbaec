package statement

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/database"
	cqerrors "github.com/Combine-Capital/cqweb/pkg/errors"
)

const getUserSQL = "SELECT * FROM users WHERE id = $1"

func newMockTxManager(t *testing.T) (pgxmock.PgxConnIface, *database.TxManager) {
	t.Helper()
	mock, err := pgxmock.NewConn()
	if err != nil {
		t.Fatal(err)
	}

	off := false
	pool, err := database.NewPool(context.Background(), func(context.Context) (database.Conn, error) {
		return mock, nil
	}, config.PoolConfig{
		MaxOpen:         1,
		ValidationQuery: "SELECT 1",
		TestOnBorrow:    &off,
		AcquireTimeout:  time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return mock, database.NewTxManager(pool)
}

func expectValidation(mock pgxmock.PgxConnIface) {
	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func newUserRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	reg := NewRegistry(opts...)
	if err := reg.Register("user.getUser", "SELECT * FROM users WHERE id = :id",
		[]ParamSpec{{Name: "id", Type: TypeInt, Required: true}},
		ResultSpec{MapUnderscoreToCamelCase: true}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register("user.rename", "UPDATE users SET user_name = #{name} WHERE id = #{id}",
		[]ParamSpec{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "id", Type: TypeInt, Required: true},
		}, ResultSpec{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	reg.Freeze()
	return reg
}

// TestRegister verifies registration failures
func TestRegister(t *testing.T) {
	anyID := []ParamSpec{{Name: "id"}}

	tests := []struct {
		name     string
		template string
		params   []ParamSpec
		result   ResultSpec
		wantErr  error
	}{
		{"valid", "SELECT * FROM users WHERE id = :id", anyID, ResultSpec{}, nil},
		{"undeclared placeholder", "SELECT * FROM users WHERE id = :id AND name = :name", anyID, ResultSpec{}, ErrMalformedTemplate},
		{"string substitution", "SELECT * FROM ${table}", nil, ResultSpec{}, ErrMalformedTemplate},
		{"unterminated literal", "SELECT 'abc", nil, ResultSpec{}, ErrMalformedTemplate},
		{"syntax error", "SELEC * FROM users", nil, ResultSpec{}, ErrMalformedTemplate},
		{"unknown param type", "SELECT :id", []ParamSpec{{Name: "id", Type: "uuid"}}, ResultSpec{}, ErrMalformedTemplate},
		{"duplicate param", "SELECT :id", []ParamSpec{{Name: "id"}, {Name: "id"}}, ResultSpec{}, ErrMalformedTemplate},
		{"bad result column", "SELECT 1", nil, ResultSpec{Columns: []ResultColumn{{Column: "a", Type: "decimal"}}}, ErrMalformedTemplate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.Register("s", tt.template, tt.params, tt.result)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Register() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Register() error = %v, want %v", err, tt.wantErr)
			}
			if _, ok := reg.Lookup("s"); ok {
				t.Error("failed registration should not be visible")
			}
		})
	}
}

// TestRegisterDuplicateAndFrozen verifies name uniqueness and the frozen state
func TestRegisterDuplicateAndFrozen(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("a", "SELECT 1", nil, ResultSpec{}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("a", "SELECT 2", nil, ResultSpec{}); !errors.Is(err, ErrDuplicateStatementName) {
		t.Errorf("duplicate Register() error = %v", err)
	}

	reg.Freeze()
	if !reg.Frozen() {
		t.Error("Frozen() = false after Freeze")
	}
	if err := reg.Register("b", "SELECT 1", nil, ResultSpec{}); !errors.Is(err, ErrRegistryFrozen) {
		t.Errorf("Register() after Freeze error = %v", err)
	}
	if d, ok := reg.Lookup("a"); !ok || d.SQL != "SELECT 1" {
		t.Errorf("Lookup(a) = %+v, %v", d, ok)
	}
}

func TestRegisterKind(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterKind("ins", "", "INSERT INTO t (a) VALUES (:a) RETURNING id", []ParamSpec{{Name: "a"}}, ResultSpec{}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterKind("upd", KindUpdate, "UPDATE t SET a = 1", nil, ResultSpec{}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterKind("bad", "merge", "SELECT 1", nil, ResultSpec{}); !errors.Is(err, ErrMalformedTemplate) {
		t.Errorf("unknown kind error = %v", err)
	}

	if d, _ := reg.Lookup("ins"); d.Kind != KindSelect {
		t.Errorf("RETURNING insert kind = %v, want select", d.Kind)
	}
	if d, _ := reg.Lookup("upd"); d.Kind != KindUpdate {
		t.Errorf("explicit kind = %v, want update", d.Kind)
	}
	if got := reg.Names(); len(got) != 2 || got[0] != "ins" || got[1] != "upd" {
		t.Errorf("Names() = %v", got)
	}
}

// TestExecuteGetUser runs the getUser lookup for a present and an absent row
func TestExecuteGetUser(t *testing.T) {
	mock, txm := newMockTxManager(t)
	reg := newUserRegistry(t)

	t.Run("row found", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(getUserSQL)).
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"id", "user_name"}).AddRow(int64(1), "alice"))
		mock.ExpectCommit()
		expectValidation(mock)

		var records []Record
		err := txm.WithTransaction(context.Background(), func(ctx context.Context, tx *database.Tx) error {
			var err error
			records, err = reg.Execute(ctx, tx, "user.getUser", map[string]any{"id": 1})
			return err
		})
		if err != nil {
			t.Fatalf("WithTransaction() error = %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("got %d records, want 1", len(records))
		}
		if records[0]["id"] != int64(1) || records[0]["userName"] != "alice" {
			t.Errorf("record = %v", records[0])
		}
	})

	t.Run("no row", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(getUserSQL)).
			WithArgs(int64(999)).
			WillReturnRows(pgxmock.NewRows([]string{"id", "user_name"}))
		mock.ExpectCommit()
		expectValidation(mock)

		var records []Record
		err := txm.WithTransaction(context.Background(), func(ctx context.Context, tx *database.Tx) error {
			var err error
			records, err = reg.Execute(ctx, tx, "user.getUser", map[string]any{"id": 999})
			return err
		})
		if err != nil {
			t.Fatalf("WithTransaction() error = %v", err)
		}
		if records == nil || len(records) != 0 {
			t.Errorf("records = %#v, want empty non-nil", records)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// TestExecuteRowsAffected verifies non-select statements report affected rows
func TestExecuteRowsAffected(t *testing.T) {
	mock, txm := newMockTxManager(t)
	reg := newUserRegistry(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET user_name = $1 WHERE id = $2")).
		WithArgs("bob", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	expectValidation(mock)

	var records []Record
	err := txm.WithTransaction(context.Background(), func(ctx context.Context, tx *database.Tx) error {
		var err error
		records, err = reg.Execute(ctx, tx, "user.rename", map[string]any{"name": "bob", "id": int32(7)})
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction() error = %v", err)
	}
	if len(records) != 1 || records[0][RowsAffected] != int64(1) {
		t.Errorf("records = %v, want rows_affected 1", records)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// TestExecuteParameterMismatch verifies binding failures never reach the database
func TestExecuteParameterMismatch(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{"missing required", map[string]any{}},
		{"nil required", map[string]any{"id": nil}},
		{"wrong type", map[string]any{"id": "one"}},
		{"float for int", map[string]any{"id": 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, txm := newMockTxManager(t)
			reg := newUserRegistry(t)

			mock.ExpectBegin()
			mock.ExpectRollback()
			expectValidation(mock)

			err := txm.WithTransaction(context.Background(), func(ctx context.Context, tx *database.Tx) error {
				_, err := reg.Execute(ctx, tx, "user.getUser", tt.params)
				return err
			})
			if !errors.Is(err, ErrParameterMismatch) {
				t.Fatalf("error = %v, want ErrParameterMismatch", err)
			}
			if !cqerrors.IsInvalidInput(err) {
				t.Error("parameter mismatch should be invalid input")
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

// TestExecuteUnknownAndClosed verifies lookup and transaction state errors
func TestExecuteUnknownAndClosed(t *testing.T) {
	reg := newUserRegistry(t)

	_, err := reg.Execute(context.Background(), nil, "user.missing", nil)
	if !errors.Is(err, ErrUnknownStatement) {
		t.Errorf("unknown statement error = %v", err)
	}

	_, err = reg.Execute(context.Background(), nil, "user.getUser", map[string]any{"id": 1})
	if !errors.Is(err, database.ErrTransactionNotOpen) {
		t.Errorf("nil tx error = %v", err)
	}

	mock, txm := newMockTxManager(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	expectValidation(mock)

	tx, err := txm.Begin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err = reg.Execute(context.Background(), tx, "user.getUser", map[string]any{"id": 1})
	if !errors.Is(err, database.ErrTransactionNotOpen) {
		t.Errorf("committed tx error = %v", err)
	}
}

// TestExecuteFailureRollsBack verifies a database error rolls the transaction back
func TestExecuteFailureRollsBack(t *testing.T) {
	mock, txm := newMockTxManager(t)

	var (
		mu       sync.Mutex
		observed []error
	)
	reg := newUserRegistry(t, WithObserver(func(name string, kind Kind, d time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		if name != "user.getUser" || kind != KindSelect {
			t.Errorf("observer got %s/%s", name, kind)
		}
		observed = append(observed, err)
	}))

	dbErr := errors.New("relation users does not exist")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(getUserSQL)).WithArgs(int64(1)).WillReturnError(dbErr)
	mock.ExpectRollback()
	expectValidation(mock)

	tx, err := txm.Begin(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_, err = reg.Execute(context.Background(), tx, "user.getUser", map[string]any{"id": 1})
	if !errors.Is(err, dbErr) {
		t.Fatalf("Execute() error = %v, want %v", err, dbErr)
	}
	if tx.State() != database.TxRolledBack {
		t.Errorf("tx state = %v, want rolled_back", tx.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 || !errors.Is(observed[0], dbErr) {
		t.Errorf("observer calls = %v", observed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// TestResultMapping verifies explicit column mappings and coercion
func TestResultMapping(t *testing.T) {
	mock, txm := newMockTxManager(t)
	reg := NewRegistry()
	err := reg.Register("report", "SELECT total, created_at, flag FROM report", nil, ResultSpec{
		MapUnderscoreToCamelCase: true,
		Columns: []ResultColumn{
			{Column: "total", Property: "sum", Type: TypeFloat},
			{Column: "flag", Type: TypeString},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT total, created_at, flag FROM report").
		WillReturnRows(pgxmock.NewRows([]string{"total", "created_at", "flag"}).
			AddRow(int64(10), created, []byte("on")).
			AddRow(int64(20), nil, nil))
	mock.ExpectCommit()
	expectValidation(mock)

	var records []Record
	err = txm.WithTransaction(context.Background(), func(ctx context.Context, tx *database.Tx) error {
		var err error
		records, err = reg.Execute(ctx, tx, "report", nil)
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	first := records[0]
	if first["sum"] != float64(10) || first["createdAt"] != created || first["flag"] != "on" {
		t.Errorf("first record = %v", first)
	}
	second := records[1]
	if second["sum"] != float64(20) || second["createdAt"] != nil || second["flag"] != nil {
		t.Errorf("second record = %v", second)
	}
}

func TestCoerceResult(t *testing.T) {
	tests := []struct {
		typ     string
		in      any
		want    any
		wantErr bool
	}{
		{TypeInt, int32(5), int64(5), false},
		{TypeInt, float64(5), int64(5), false},
		{TypeInt, "42", int64(42), false},
		{TypeInt, float64(5.5), nil, true},
		{TypeFloat, int64(2), float64(2), false},
		{TypeFloat, "2.5", 2.5, false},
		{TypeBool, "true", true, false},
		{TypeBool, int64(1), nil, true},
		{TypeString, int64(7), "7", false},
		{TypeBytes, "x", []byte("x"), false},
		{TypeAny, int16(3), int16(3), false},
	}

	for _, tt := range tests {
		got, err := coerceResult(tt.typ, tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("coerceResult(%q, %v) error = %v, wantErr %v", tt.typ, tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if b, ok := tt.want.([]byte); ok {
			if string(got.([]byte)) != string(b) {
				t.Errorf("coerceResult(%q, %v) = %v, want %v", tt.typ, tt.in, got, tt.want)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("coerceResult(%q, %v) = %v (%T), want %v (%T)", tt.typ, tt.in, got, got, tt.want, tt.want)
		}
	}
}

// TestBindIntFromText verifies int parameters accept base-10 text
func TestBindIntFromText(t *testing.T) {
	d, ok := newUserRegistry(t).Lookup("user.getUser")
	if !ok {
		t.Fatal("user.getUser not registered")
	}

	args, err := d.bind(map[string]any{"id": "1"})
	if err != nil {
		t.Fatalf("bind() error = %v", err)
	}
	if len(args) != 1 || args[0] != int64(1) {
		t.Errorf("args = %#v, want [int64(1)]", args)
	}

	if _, err := d.bind(map[string]any{"id": "1x"}); !errors.Is(err, ErrParameterMismatch) {
		t.Errorf("bind(\"1x\") error = %v, want ErrParameterMismatch", err)
	}
}
