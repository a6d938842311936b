package mysql

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/journal"
)

const (
	testWallet = "0xAbCd000000000000000000000000000000000001"
	testHash   = "0xAA00000000000000000000000000000000000000000000000000000000000001"
)

func newMockStore(t *testing.T) (*JournalStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewJournalStoreWithDB(db), mock
}

func TestJournalRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tx_journal")).
		WithArgs(sqlmock.AnyArg(), "ostium", "0xabcd000000000000000000000000000000000001", "delegate",
			uint64(42161), "0xaa00000000000000000000000000000000000000000000000000000000000001",
			"pending", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &journal.Entry{Venue: "Ostium", UserWallet: testWallet, Action: journal.ActionDelegate, ChainID: 42161, TxHash: testHash}
	if err := store.Record(context.Background(), entry); err != nil {
		t.Fatalf("record: %v", err)
	}
	if entry.ID == "" {
		t.Fatalf("expected id to be assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJournalRecordDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tx_journal")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := store.Record(context.Background(), &journal.Entry{Venue: "ostium", UserWallet: testWallet, Action: journal.ActionApprove, TxHash: testHash})
	if !xerrors.Is(err, xerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestJournalUpdateStatus(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tx_journal SET status = ?, error = ?, updated_at = ? WHERE id = ?")).
		WithArgs("confirmed", "", sqlmock.AnyArg(), "id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tx_journal")).
		WithArgs("failed", "boom", sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UpdateStatus(context.Background(), "id-1", journal.StatusConfirmed, ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	err := store.UpdateStatus(context.Background(), "missing", journal.StatusFailed, "boom")
	if !xerrors.Is(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJournalLatest(t *testing.T) {
	store, mock := newMockStore(t)
	columns := []string{"id", "venue", "user_wallet", "action", "chain_id", "tx_hash", "status", "error", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM tx_journal")).
		WithArgs("ostium", "0xabcd000000000000000000000000000000000001", "approve").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("id-2", "ostium", "0xabcd000000000000000000000000000000000001", "approve", uint64(42161), "0xaa", "pending", nil, int64(10), int64(11)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM tx_journal")).
		WithArgs("aster", "0xabcd000000000000000000000000000000000001", "fund").
		WillReturnRows(sqlmock.NewRows(columns))

	entry, err := store.Latest(context.Background(), "Ostium", testWallet, journal.ActionApprove)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if entry.ID != "id-2" || entry.Status != journal.StatusPending || entry.Action != journal.ActionApprove || entry.Error != "" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	_, err = store.Latest(context.Background(), "aster", testWallet, journal.ActionFund)
	if !xerrors.Is(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJournalClear(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tx_journal WHERE venue = ? AND user_wallet = ?")).
		WithArgs("ostium", "0xabcd000000000000000000000000000000000001").
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := store.Clear(context.Background(), "ostium", testWallet); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	files, err := journalMigrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("expected embedded migrations")
	}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	for _, file := range files {
		mock.ExpectBegin()
		for range file.statements {
			mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
		}
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
			WithArgs(file.version, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
	}

	applied, err := runMigrations(context.Background(), db)
	if err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if len(applied) != len(files) || applied[0] != files[0].version {
		t.Fatalf("unexpected applied versions: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunMigrationsSkipsAppliedVersions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	files, err := journalMigrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	rows := sqlmock.NewRows([]string{"version"})
	for _, file := range files {
		rows.AddRow(file.version)
	}
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).WillReturnRows(rows)

	applied, err := runMigrations(context.Background(), db)
	if err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected nothing applied, got %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSplitStatementsDropsComments(t *testing.T) {
	got := splitStatements("-- tx journal\nCREATE TABLE a (id INT);\n\n  -- index\nCREATE INDEX i ON a (id);\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (id INT)" || got[1] != "CREATE INDEX i ON a (id)" {
		t.Fatalf("unexpected statements: %q", got)
	}
}

func TestMigrationVersionParsing(t *testing.T) {
	cases := map[string]string{
		"0001_create_tx_journal.sql": "0001",
		"0002.sql":                   "0002",
		"plain":                      "plain",
	}
	for name, want := range cases {
		if got := migrationVersion(name); got != want {
			t.Fatalf("parse %s: got %s want %s", name, got, want)
		}
	}
}
