package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"payment_reconciliation/internal/domain"
)

// SQLiteRepo is the audit store: every payment window ever opened and every
// match outcome ever recorded. Rows are never deleted.
type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA foreign_keys = ON;")
	db.Exec("PRAGMA journal_mode = WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")

	r := &SQLiteRepo{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return r, nil
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepo) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS pending_transactions(
			id TEXT PRIMARY KEY,
			order_ref TEXT NOT NULL,
			verification_code TEXT NOT NULL,
			expected_amount_minor INTEGER NOT NULL,
			currency TEXT NOT NULL,
			channel TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			deadline TEXT NOT NULL,
			resolved_at TEXT,
			resolved_by TEXT NOT NULL DEFAULT '',
			operator TEXT NOT NULL DEFAULT '',
			rejection_reason TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_ptx_order_ref ON pending_transactions(order_ref);
		CREATE INDEX IF NOT EXISTS idx_ptx_status ON pending_transactions(status);

		CREATE TABLE IF NOT EXISTS match_audit(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount_minor INTEGER NOT NULL,
			currency TEXT NOT NULL,
			reference TEXT NOT NULL,
			raw_text TEXT NOT NULL,
			occurred_at TEXT,
			transaction_id TEXT NOT NULL DEFAULT '',
			candidates TEXT NOT NULL DEFAULT '',
			recorded_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_tx ON match_audit(transaction_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

const txColumns = `
	id,
	order_ref,
	verification_code,
	expected_amount_minor,
	currency,
	channel,
	status,
	created_at,
	deadline,
	resolved_at,
	resolved_by,
	operator,
	rejection_reason
`

func (r *SQLiteRepo) InsertTransaction(ctx context.Context, t *domain.PendingTransaction) error {
	q := `INSERT INTO pending_transactions(` + txColumns + `) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	_, err := r.db.ExecContext(
		ctx, q,
		t.ID,
		t.OrderRef,
		t.VerificationCode,
		t.ExpectedAmount,
		t.Currency,
		string(t.Channel),
		string(t.Status),
		formatTime(t.CreatedAt),
		formatTime(t.Deadline),
		formatTimePtr(t.ResolvedAt),
		string(t.ResolvedBy),
		t.Operator,
		t.RejectionReason,
	)

	return err
}

func (r *SQLiteRepo) GetByID(ctx context.Context, id string) (*domain.PendingTransaction, error) {
	q := `SELECT ` + txColumns + ` FROM pending_transactions WHERE id = ?`

	row := r.db.QueryRowContext(ctx, q, id)
	t, err := scanTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return t, err
}

// UpdateResolution writes the terminal state of t. Only an open row is
// updated, so a stale write can never overwrite an earlier resolution.
func (r *SQLiteRepo) UpdateResolution(ctx context.Context, t *domain.PendingTransaction) error {
	q := `
		UPDATE pending_transactions
		SET status = ?, resolved_at = ?, resolved_by = ?, operator = ?, rejection_reason = ?
		WHERE id = ? AND status = ?
	`

	res, err := r.db.ExecContext(
		ctx, q,
		string(t.Status),
		formatTimePtr(t.ResolvedAt),
		string(t.ResolvedBy),
		t.Operator,
		t.RejectionReason,
		t.ID,
		string(domain.StatusOpen),
	)
	if err != nil {
		return err
	}

	aff, _ := res.RowsAffected()
	if aff == 0 {
		return fmt.Errorf("%w: no open row for %s", domain.ErrNotFound, t.ID)
	}

	return nil
}

// LoadTransactions returns every row, oldest first.
func (r *SQLiteRepo) LoadTransactions(ctx context.Context) ([]domain.PendingTransaction, error) {
	q := `SELECT ` + txColumns + ` FROM pending_transactions ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTx(rows)
}

type TxFilter struct {
	OrderRef string
	Status   domain.TxStatus
	Channel  domain.Channel
}

func (r *SQLiteRepo) ListTransactions(ctx context.Context, f TxFilter, limit, offset int) ([]domain.PendingTransaction, error) {
	q := `SELECT ` + txColumns + ` FROM pending_transactions WHERE 1 = 1`
	args := []any{}

	if f.OrderRef != "" {
		q += " AND order_ref = ?"
		args = append(args, f.OrderRef)
	}

	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}

	if f.Channel != "" {
		q += " AND channel = ?"
		args = append(args, string(f.Channel))
	}

	q += " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTx(rows)
}

func (r *SQLiteRepo) InsertMatchAudit(ctx context.Context, a *domain.AuditRecord) error {
	q := `
		INSERT INTO match_audit(
			source,
			kind,
			amount_minor,
			currency,
			reference,
			raw_text,
			occurred_at,
			transaction_id,
			candidates,
			recorded_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`

	var occurred any
	if !a.OccurredAt.IsZero() {
		occurred = formatTime(a.OccurredAt)
	}

	res, err := r.db.ExecContext(
		ctx, q,
		a.Source,
		string(a.Kind),
		a.Amount,
		a.Currency,
		a.Reference,
		a.RawText,
		occurred,
		a.TransactionID,
		strings.Join(a.Candidates, ","),
		formatTime(a.RecordedAt),
	)
	if err != nil {
		return err
	}

	a.ID, _ = res.LastInsertId()
	return nil
}

// ListMatchAudit returns audit rows, newest first. An empty transactionID
// lists rows for every transaction.
func (r *SQLiteRepo) ListMatchAudit(ctx context.Context, transactionID string, limit, offset int) ([]domain.AuditRecord, error) {
	q := `
		SELECT
			id,
			source,
			kind,
			amount_minor,
			currency,
			reference,
			raw_text,
			occurred_at,
			transaction_id,
			candidates,
			recorded_at
		FROM match_audit WHERE 1 = 1
	`
	args := []any{}

	if transactionID != "" {
		q += " AND (transaction_id = ? OR ',' || candidates || ',' LIKE ?)"
		args = append(args, transactionID, "%,"+transactionID+",%")
	}

	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		var kind, candidates, recorded string
		var occurred *string

		if err := rows.Scan(
			&a.ID,
			&a.Source,
			&kind,
			&a.Amount,
			&a.Currency,
			&a.Reference,
			&a.RawText,
			&occurred,
			&a.TransactionID,
			&candidates,
			&recorded,
		); err != nil {
			return nil, err
		}

		a.Kind = domain.OutcomeKind(kind)
		var err error
		if candidates != "" {
			a.Candidates = strings.Split(candidates, ",")
		}
		if a.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, fmt.Errorf("parse recorded time: %w", err)
		}
		if occurred != nil {
			if a.OccurredAt, err = parseTime(*occurred); err != nil {
				return nil, fmt.Errorf("parse occurred time: %w", err)
			}
		}

		res = append(res, a)
	}

	return res, rows.Err()
}

func collectTx(rows *sql.Rows) ([]domain.PendingTransaction, error) {
	var res []domain.PendingTransaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}

		res = append(res, *t)
	}

	return res, rows.Err()
}

func scanTx(scanner interface {
	Scan(dest ...any) error
}) (*domain.PendingTransaction, error) {
	var t domain.PendingTransaction
	var channel, status, resolvedBy string
	var createdStr, deadlineStr string
	var resolvedStr *string

	if err := scanner.Scan(
		&t.ID,
		&t.OrderRef,
		&t.VerificationCode,
		&t.ExpectedAmount,
		&t.Currency,
		&channel,
		&status,
		&createdStr,
		&deadlineStr,
		&resolvedStr,
		&resolvedBy,
		&t.Operator,
		&t.RejectionReason,
	); err != nil {
		return nil, err
	}

	t.Channel = domain.Channel(channel)
	t.Status = domain.TxStatus(status)
	t.ResolvedBy = domain.ResolvedBy(resolvedBy)

	var err error
	if t.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("parse created time: %w", err)
	}
	if t.Deadline, err = parseTime(deadlineStr); err != nil {
		return nil, fmt.Errorf("parse deadline: %w", err)
	}

	if resolvedStr != nil {
		rt, err := parseTime(*resolvedStr)
		if err != nil {
			return nil, fmt.Errorf("parse resolved time: %w", err)
		}

		t.ResolvedAt = &rt
	}

	return &t, nil
}

// timeLayout keeps every fraction digit so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
