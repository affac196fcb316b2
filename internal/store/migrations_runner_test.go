package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jw6ventures/esn-calendar/internal/logging"
)

type step struct {
	expect *regexp.Regexp
	args   []any
	value  bool
	err    error
}

var (
	lockStep   = step{expect: regexp.MustCompile(`pg_advisory_xact_lock`), args: []any{MigrationTable}}
	initStep   = step{expect: regexp.MustCompile(`-- Initial schema for the calendar module`)}
	configStep = step{expect: regexp.MustCompile(`-- Per-module configuration documents`)}
)

func checkStep(name string, recorded bool) step {
	return step{expect: regexp.MustCompile(MigrationTable + ` WHERE version=\$1`), args: []any{name}, value: recorded}
}

func recordStep(name string) step {
	return step{expect: regexp.MustCompile(`INSERT INTO ` + MigrationTable), args: []any{name}}
}

// migrationDB implements only Migrator.
type migrationDB struct {
	execs []step
	txs   []*migrationTx
	begun int
}

func (m *migrationDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if err := pop(&m.execs, sql, arguments); err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (m *migrationDB) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	if m.begun >= len(m.txs) {
		return nil, errors.New("unexpected transaction")
	}
	tx := m.txs[m.begun]
	m.begun++
	return tx, nil
}

// pop checks sql against the next expected step and returns its error.
func pop(steps *[]step, sql string, args []any) error {
	if len(*steps) == 0 {
		return fmt.Errorf("unexpected statement: %s", sql)
	}
	s := (*steps)[0]
	*steps = (*steps)[1:]
	if !s.expect.MatchString(sql) {
		return fmt.Errorf("statement mismatch: %s", sql)
	}
	for i, want := range s.args {
		if i >= len(args) || args[i] != want {
			return fmt.Errorf("argument %d = %v, want %v", i, args, want)
		}
	}
	return s.err
}

type migrationTx struct {
	pgx.Tx
	execs     []step
	queries   []step
	committed bool
	rolled    bool
}

func (m *migrationTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if err := pop(&m.execs, sql, arguments); err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("MOCK"), nil
}

func (m *migrationTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	var value bool
	if len(m.queries) > 0 {
		value = m.queries[0].value
	}
	return boolRow{value: value, err: pop(&m.queries, sql, args)}
}

func (m *migrationTx) Commit(ctx context.Context) error {
	m.committed = true
	return nil
}

func (m *migrationTx) Rollback(ctx context.Context) error {
	m.rolled = true
	return nil
}

func (m *migrationTx) pending() int { return len(m.execs) + len(m.queries) }

type boolRow struct {
	value bool
	err   error
}

func (r boolRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return errors.New("expected one destination")
	}
	ptr, ok := dest[0].(*bool)
	if !ok {
		return errors.New("expected *bool destination")
	}
	*ptr = r.value
	return nil
}

func createStep() step {
	return step{expect: regexp.MustCompile(`CREATE TABLE IF NOT EXISTS ` + MigrationTable)}
}

func TestListMigrationFilesSorted(t *testing.T) {
	names, err := listMigrationFiles()
	if err != nil {
		t.Fatalf("listMigrationFiles() error = %v", err)
	}
	want := []string{"001_init.sql", "002_module_configs.sql"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("names = %v, want %v", names, want)
	}
}

func TestApplyMigrationsRunsEveryUnrecordedMigration(t *testing.T) {
	// The host platform's tables may already be in the database; only the
	// module's own tracking table decides what runs.
	initTx := &migrationTx{
		execs:   []step{lockStep, initStep, recordStep("001_init.sql")},
		queries: []step{checkStep("001_init.sql", false)},
	}
	configs := &migrationTx{
		execs:   []step{lockStep, configStep, recordStep("002_module_configs.sql")},
		queries: []step{checkStep("002_module_configs.sql", false)},
	}
	db := &migrationDB{execs: []step{createStep()}, txs: []*migrationTx{initTx, configs}}
	var logs bytes.Buffer

	if err := ApplyMigrations(context.Background(), db, logging.NewWithWriter(&logs, "info")); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	for _, tx := range []*migrationTx{initTx, configs} {
		if !tx.committed || tx.pending() != 0 {
			t.Errorf("tx committed=%v pending=%d", tx.committed, tx.pending())
		}
	}
	if len(db.execs) != 0 || db.begun != 2 {
		t.Errorf("pending execs=%d transactions=%d", len(db.execs), db.begun)
	}
	if !strings.Contains(logs.String(), "001_init.sql") || !strings.Contains(logs.String(), "002_module_configs.sql") {
		t.Errorf("logs = %s", logs.String())
	}
}

func TestApplyMigrationsSkipsRecorded(t *testing.T) {
	initTx := &migrationTx{execs: []step{lockStep}, queries: []step{checkStep("001_init.sql", true)}}
	configs := &migrationTx{
		execs:   []step{lockStep, configStep, recordStep("002_module_configs.sql")},
		queries: []step{checkStep("002_module_configs.sql", false)},
	}
	db := &migrationDB{execs: []step{createStep()}, txs: []*migrationTx{initTx, configs}}

	if err := ApplyMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	if initTx.committed || !initTx.rolled || initTx.pending() != 0 {
		t.Errorf("recorded migration: committed=%v rolled=%v pending=%d", initTx.committed, initTx.rolled, initTx.pending())
	}
	if !configs.committed {
		t.Error("expected the unrecorded migration to commit")
	}
}

func TestApplyMigrationsRollsBackOnFailure(t *testing.T) {
	failing := initStep
	failing.err = errors.New("syntax error")
	initTx := &migrationTx{execs: []step{lockStep, failing}, queries: []step{checkStep("001_init.sql", false)}}
	db := &migrationDB{execs: []step{createStep()}, txs: []*migrationTx{initTx}}

	err := ApplyMigrations(context.Background(), db, nil)
	if err == nil || !strings.Contains(err.Error(), "apply migration 001_init.sql") {
		t.Fatalf("error = %v", err)
	}
	if !initTx.rolled || initTx.committed {
		t.Errorf("rolled=%v committed=%v", initTx.rolled, initTx.committed)
	}
	if db.begun != 1 {
		t.Errorf("transactions = %d, later migrations must not run", db.begun)
	}
}

func TestApplyMigrationsTrackingTableFailure(t *testing.T) {
	create := createStep()
	create.err = errors.New("permission denied")
	db := &migrationDB{execs: []step{create}}

	err := ApplyMigrations(context.Background(), db, nil)
	if err == nil || !strings.Contains(err.Error(), MigrationTable) {
		t.Fatalf("error = %v", err)
	}
	if db.begun != 0 {
		t.Errorf("transactions = %d", db.begun)
	}
}
