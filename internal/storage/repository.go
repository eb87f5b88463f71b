package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"buste/internal/budget"
	"buste/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ListEnvelopes implements budget.EnvelopeReader. Envelopes are returned in
// creation order, which is the snapshot order the classifier sees.
func (r *SQLiteRepository) ListEnvelopes(ctx context.Context) ([]core.Envelope, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, icon, current_cents, target_cents, priority, is_spending
		FROM envelopes
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	var out []core.Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate envelopes: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetEnvelope(ctx context.Context, id int64) (core.Envelope, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, icon, current_cents, target_cents, priority, is_spending
		FROM envelopes
		WHERE id = ?`, id)
	e, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Envelope{}, core.ErrUnknownEnvelope
	}
	return e, err
}

// CreateEnvelope implements budget.EnvelopeWriter.
func (r *SQLiteRepository) CreateEnvelope(ctx context.Context, e core.Envelope) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO envelopes (name, icon, current_cents, target_cents, priority, is_spending)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Name, e.Icon, e.Current.Cents, e.Target.Cents, priorityColumn(e), boolToInt(e.Spending))
	if err != nil {
		return 0, fmt.Errorf("create envelope: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("envelope insert id: %w", err)
	}

	slog.InfoContext(ctx, "Envelope saved to SQLite",
		"id", id,
		"name", e.Name,
		"target_cents", e.Target.Cents,
		"priority", string(e.Priority))

	return id, nil
}

func (r *SQLiteRepository) UpdateEnvelope(ctx context.Context, e core.Envelope) error {
	if err := e.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE envelopes
		SET name = ?, icon = ?, current_cents = ?, target_cents = ?, priority = ?,
		    is_spending = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		e.Name, e.Icon, e.Current.Cents, e.Target.Cents, priorityColumn(e), boolToInt(e.Spending), e.ID)
	if err != nil {
		return fmt.Errorf("update envelope: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update envelope rows: %w", err)
	}
	if affected == 0 {
		return core.ErrUnknownEnvelope
	}
	return nil
}

func (r *SQLiteRepository) DeleteEnvelope(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM envelopes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete envelope: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete envelope rows: %w", err)
	}
	if affected == 0 {
		return core.ErrUnknownEnvelope
	}
	return nil
}

// ApplyTransfers implements budget.TransferApplier. Balance mutations, the
// batch row, and the transfer rows share one transaction; a source without
// sufficient balance aborts the whole batch.
func (r *SQLiteRepository) ApplyTransfers(ctx context.Context, transfers []core.Transfer) (int64, error) {
	if len(transfers) == 0 {
		return 0, fmt.Errorf("apply transfers: %w", core.ErrInvalidAmount)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, t := range transfers {
		if err := t.Validate(); err != nil {
			return 0, err
		}
		total += t.Amount.Cents
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO transfer_batches (transfer_count, total_cents, sync_status)
		VALUES (?, ?, ?)`,
		len(transfers), total, budget.SyncPending)
	if err != nil {
		return 0, fmt.Errorf("create transfer batch: %w", err)
	}
	batchID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("batch insert id: %w", err)
	}

	for _, t := range transfers {
		debit, err := tx.ExecContext(ctx, `
			UPDATE envelopes
			SET current_cents = current_cents - ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND current_cents >= ?`,
			t.Amount.Cents, t.FromID, t.Amount.Cents)
		if err != nil {
			return 0, fmt.Errorf("debit envelope %d: %w", t.FromID, err)
		}
		if n, err := debit.RowsAffected(); err != nil {
			return 0, fmt.Errorf("debit envelope %d rows: %w", t.FromID, err)
		} else if n == 0 {
			return 0, fmt.Errorf("debit envelope %d: insufficient balance or unknown envelope", t.FromID)
		}

		credit, err := tx.ExecContext(ctx, `
			UPDATE envelopes
			SET current_cents = current_cents + ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			t.Amount.Cents, t.ToID)
		if err != nil {
			return 0, fmt.Errorf("credit envelope %d: %w", t.ToID, err)
		}
		if n, err := credit.RowsAffected(); err != nil {
			return 0, fmt.Errorf("credit envelope %d rows: %w", t.ToID, err)
		} else if n == 0 {
			return 0, fmt.Errorf("credit envelope %d: %w", t.ToID, core.ErrUnknownEnvelope)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transfers (batch_id, from_envelope_id, to_envelope_id, amount_cents)
			VALUES (?, ?, ?, ?)`,
			batchID, t.FromID, t.ToID, t.Amount.Cents); err != nil {
			return 0, fmt.Errorf("record transfer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transfer batch: %w", err)
	}

	slog.InfoContext(ctx, "Transfer batch applied",
		"batch_id", batchID,
		"transfer_count", len(transfers),
		"total_cents", total)

	return batchID, nil
}

// ListBatches implements budget.BatchLister, newest first.
func (r *SQLiteRepository) ListBatches(ctx context.Context, limit int) ([]budget.TransferBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transfer_count, total_cents, sync_status, created_at
		FROM transfer_batches
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []budget.TransferBatch
	for rows.Next() {
		var b budget.TransferBatch
		var createdAt string
		if err := rows.Scan(&b.ID, &b.TransferCount, &b.Total.Cents, &b.SyncStatus, &createdAt); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.CreatedAt = parseTimestamp(createdAt)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return out, nil
}

// GetBatch returns a single transfer batch by ID.
func (r *SQLiteRepository) GetBatch(ctx context.Context, batchID int64) (budget.TransferBatch, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, transfer_count, total_cents, sync_status, created_at
		FROM transfer_batches
		WHERE id = ?`, batchID)

	var b budget.TransferBatch
	var createdAt string
	if err := row.Scan(&b.ID, &b.TransferCount, &b.Total.Cents, &b.SyncStatus, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return budget.TransferBatch{}, fmt.Errorf("batch %d not found", batchID)
		}
		return budget.TransferBatch{}, fmt.Errorf("get batch %d: %w", batchID, err)
	}
	b.CreatedAt = parseTimestamp(createdAt)
	return b, nil
}

func (r *SQLiteRepository) ListTransfersByBatch(ctx context.Context, batchID int64) ([]core.Transfer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT from_envelope_id, to_envelope_id, amount_cents
		FROM transfers
		WHERE batch_id = ?
		ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list transfers for batch %d: %w", batchID, err)
	}
	defer rows.Close()

	var out []core.Transfer
	for rows.Next() {
		var t core.Transfer
		if err := rows.Scan(&t.FromID, &t.ToID, &t.Amount.Cents); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return out, nil
}

// GetPendingSyncBatches returns batches awaiting ledger export, oldest first.
func (r *SQLiteRepository) GetPendingSyncBatches(ctx context.Context, limit int) ([]budget.TransferBatch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transfer_count, total_cents, sync_status, created_at
		FROM transfer_batches
		WHERE sync_status = ?
		ORDER BY id
		LIMIT ?`, budget.SyncPending, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync batches: %w", err)
	}
	defer rows.Close()

	var out []budget.TransferBatch
	for rows.Next() {
		var b budget.TransferBatch
		var createdAt string
		if err := rows.Scan(&b.ID, &b.TransferCount, &b.Total.Cents, &b.SyncStatus, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending batch: %w", err)
		}
		b.CreatedAt = parseTimestamp(createdAt)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending batches: %w", err)
	}
	return out, nil
}

// MarkBatchSynced marks a batch as successfully exported to the ledger.
func (r *SQLiteRepository) MarkBatchSynced(ctx context.Context, batchID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transfer_batches
		SET sync_status = ?, synced_at = CURRENT_TIMESTAMP
		WHERE id = ?`, budget.SyncDone, batchID)
	if err != nil {
		return fmt.Errorf("mark batch synced: %w", err)
	}

	slog.InfoContext(ctx, "Transfer batch marked as synced", "batch_id", batchID)
	return nil
}

// MarkBatchSyncError marks a batch as having failed ledger export.
func (r *SQLiteRepository) MarkBatchSyncError(ctx context.Context, batchID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transfer_batches
		SET sync_status = ?
		WHERE id = ?`, budget.SyncError, batchID)
	if err != nil {
		return fmt.Errorf("mark batch sync error: %w", err)
	}

	slog.WarnContext(ctx, "Transfer batch marked with sync error", "batch_id", batchID)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (core.Envelope, error) {
	var e core.Envelope
	var priority string
	var spending int64
	if err := row.Scan(&e.ID, &e.Name, &e.Icon, &e.Current.Cents, &e.Target.Cents, &priority, &spending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Envelope{}, err
		}
		return core.Envelope{}, fmt.Errorf("scan envelope: %w", err)
	}
	e.Priority = core.Priority(priority)
	e.Spending = spending != 0
	return e, nil
}

// priorityColumn satisfies the schema CHECK for spending envelopes, which
// carry no priority in the domain.
func priorityColumn(e core.Envelope) string {
	if e.Priority == "" {
		return string(core.Discretionary)
	}
	return string(e.Priority)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// parseTimestamp handles the SQLite CURRENT_TIMESTAMP text format; a zero
// time is returned for anything unexpected.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
