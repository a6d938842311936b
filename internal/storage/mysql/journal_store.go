package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/journal"
)

const journalColumns = `id, venue, user_wallet, action, chain_id, tx_hash, status, error, created_at, updated_at`

// JournalStore 使用 MySQL 持久化交易日志。
type JournalStore struct {
	db *sql.DB
}

var _ journal.Store = (*JournalStore)(nil)

// NewJournalStore 创建连接池并执行迁移。
func NewJournalStore(ctx context.Context, cfg Config) (*JournalStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化交易日志存储失败")
	}
	if _, err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "交易日志迁移失败")
	}
	return &JournalStore{db: db}, nil
}

// NewJournalStoreWithDB 复用已有连接，不执行迁移。
func NewJournalStoreWithDB(db *sql.DB) *JournalStore {
	return &JournalStore{db: db}
}

// Record implements journal.Store.
func (s *JournalStore) Record(ctx context.Context, entry *journal.Entry) error {
	if err := journal.Prepare(entry); err != nil {
		return err
	}
	const query = `INSERT INTO tx_journal (` + journalColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.Venue, entry.UserWallet, string(entry.Action), entry.ChainID,
		entry.TxHash, string(entry.Status), entry.Error, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.Wrap(xerrors.CodeConflict, err, "交易已记录", xerrors.WithMetadata("tx_hash", entry.TxHash))
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入交易日志失败")
	}
	return nil
}

// UpdateStatus implements journal.Store.
func (s *JournalStore) UpdateStatus(ctx context.Context, id string, status journal.Status, errMsg string) error {
	const query = `UPDATE tx_journal SET status = ?, error = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, string(status), errMsg, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新交易状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取影响行数失败")
	}
	if affected == 0 {
		return xerrors.New(xerrors.CodeNotFound, "交易记录不存在", xerrors.WithMetadata("id", id))
	}
	return nil
}

// Latest implements journal.Store.
func (s *JournalStore) Latest(ctx context.Context, venue, userWallet string, action journal.Action) (*journal.Entry, error) {
	const query = `SELECT ` + journalColumns + ` FROM tx_journal
WHERE venue = ? AND user_wallet = ? AND action = ?
ORDER BY seq DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, lowerTrim(venue), journal.NormaliseWallet(userWallet), string(action))
	entry, err := scanEntry(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, xerrors.New(xerrors.CodeNotFound, "未找到交易记录",
				xerrors.WithMetadata("venue", venue),
				xerrors.WithMetadata("action", string(action)))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易日志失败")
	}
	return entry, nil
}

// List implements journal.Store.
func (s *JournalStore) List(ctx context.Context, venue, userWallet string, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + journalColumns + ` FROM tx_journal
WHERE venue = ? AND user_wallet = ?
ORDER BY seq DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, lowerTrim(venue), journal.NormaliseWallet(userWallet), limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易日志失败")
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易日志失败")
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易日志失败")
	}
	return entries, nil
}

// Clear implements journal.Store.
func (s *JournalStore) Clear(ctx context.Context, venue, userWallet string) error {
	const query = `DELETE FROM tx_journal WHERE venue = ? AND user_wallet = ?`
	if _, err := s.db.ExecContext(ctx, query, lowerTrim(venue), journal.NormaliseWallet(userWallet)); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理交易日志失败")
	}
	return nil
}

// Close 释放连接池。
func (s *JournalStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*journal.Entry, error) {
	var (
		entry   journal.Entry
		action  string
		status  string
		errText sql.NullString
	)
	if err := row.Scan(&entry.ID, &entry.Venue, &entry.UserWallet, &action, &entry.ChainID,
		&entry.TxHash, &status, &errText, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return nil, err
	}
	entry.Action = journal.Action(action)
	entry.Status = journal.Status(status)
	entry.Error = errText.String
	return &entry, nil
}

func lowerTrim(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
