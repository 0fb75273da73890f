package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
	"github.com/sheikh-saqib/canteen-payments/internal/storage"
)

const transactionColumns = `txn_id, student_id, total_amount, status, COALESCE(idempotency_key, ''), transaction_time`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		tx     models.Transaction
		status string
	)
	err := row.Scan(&tx.ID, &tx.AccountID, &tx.TotalAmount, &status, &tx.IdempotencyKey, &tx.CreatedAt)
	tx.Status = models.TransactionStatus(status)
	return tx, err
}

func (p *PostgresStore) GetTransaction(ctx context.Context, accountID, transactionID int64) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE txn_id = $1 AND student_id = $2`
	return p.getOne(ctx, query, transactionID, accountID)
}

func (p *PostgresStore) FindByIdempotencyKey(ctx context.Context, accountID int64, key string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE student_id = $1 AND idempotency_key = $2`
	return p.getOne(ctx, query, accountID, key)
}

func (p *PostgresStore) getOne(ctx context.Context, query string, args ...any) (*models.Transaction, error) {
	tx, err := scanTransaction(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}

	items, err := p.loadItems(ctx, []int64{tx.ID})
	if err != nil {
		return nil, err
	}
	tx.Items = items[tx.ID]
	return &tx, nil
}

// ListTransactions returns the account's transactions, newest first.
func (p *PostgresStore) ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
	WHERE student_id = $1
	ORDER BY transaction_time DESC, txn_id DESC
	LIMIT $2`

	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	rows, err := p.db.QueryContext(ctx, query, accountID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var (
		result []models.Transaction
		ids    []int64
	)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, tx)
		ids = append(ids, tx.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction row iteration: %w", err)
	}
	if len(result) == 0 {
		return result, nil
	}

	items, err := p.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Items = items[result[i].ID]
	}
	return result, nil
}

func (p *PostgresStore) loadItems(ctx context.Context, txIDs []int64) (map[int64][]models.LineItem, error) {
	const query = `SELECT txn_id, food_id, quantity, unit_price, line_total
	FROM transaction_items WHERE txn_id = ANY($1) ORDER BY id`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(txIDs))
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]models.LineItem, len(txIDs))
	for rows.Next() {
		var item models.LineItem
		if err := rows.Scan(&item.TransactionID, &item.ItemID, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items[item.TransactionID] = append(items[item.TransactionID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("line item row iteration: %w", err)
	}
	return items, nil
}

func (p *PostgresStore) Record(ctx context.Context, activity models.Activity) error {
	const query = `INSERT INTO activity_log (event_id, activity_type, description, user_id, related_id, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`

	var createdAt any
	if !activity.CreatedAt.IsZero() {
		createdAt = activity.CreatedAt
	}

	_, err := p.db.ExecContext(ctx, query,
		activity.EventID,
		activity.Type,
		activity.Description,
		nullableID(activity.AccountID),
		nullableID(activity.RelatedID),
		nullableJSON(activity.Payload),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (p *PostgresStore) FetchUnpublished(ctx context.Context, limit int) ([]models.Activity, error) {
	const query = `SELECT id, event_id, activity_type, description, user_id, related_id, payload, created_at
	FROM activity_log
	WHERE published_at IS NULL
	ORDER BY id
	LIMIT $1`

	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished activity: %w", err)
	}
	defer rows.Close()

	var out []models.Activity
	for rows.Next() {
		var (
			a         models.Activity
			userID    sql.NullInt64
			relatedID sql.NullInt64
			payload   []byte
		)
		if err := rows.Scan(&a.ID, &a.EventID, &a.Type, &a.Description, &userID, &relatedID, &payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.AccountID = userID.Int64
		a.RelatedID = relatedID.Int64
		a.Payload = payload
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity row iteration: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) MarkPublished(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `UPDATE activity_log SET published_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark activity %d published: %w", id, err)
	}
	return nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullableJSON(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}

var (
	_ interfaces.LedgerStore    = (*PostgresStore)(nil)
	_ interfaces.ActivityLog    = (*PostgresStore)(nil)
	_ interfaces.ActivityOutbox = (*PostgresStore)(nil)
)
