package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
	"github.com/sheikh-saqib/canteen-payments/internal/storage"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

// Connect opens and pings the database, then wraps it in a PostgresStore.
func Connect(ctx context.Context, cred *Credentials) (*PostgresStore, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.PingContext(ctx); e2 != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	return NewPostgresStore(db), nil
}

func (p *PostgresStore) RunMigrations(cred *Credentials) error {
	driver, err := migratepg.WithInstance(p.db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) GetPrices(ctx context.Context, itemIDs []int64) (map[int64]models.CatalogPrice, error) {
	const query = `SELECT food_id, name, price, is_available FROM food WHERE food_id = ANY($1)`

	rows, err := p.db.QueryContext(ctx, query, pq.Array(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[int64]models.CatalogPrice, len(itemIDs))
	for rows.Next() {
		var item models.CatalogPrice
		if err := rows.Scan(&item.ItemID, &item.Name, &item.Price, &item.Available); err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		prices[item.ItemID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("price row iteration: %w", err)
	}
	return prices, nil
}

// GetBalance requires exactly one card row for the student.
func (p *PostgresStore) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	const query = `SELECT current_balance FROM nfc_cards WHERE student_id = $1 LIMIT 2`

	rows, err := p.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query balance: %w", err)
	}
	defer rows.Close()

	var balances []decimal.Decimal
	for rows.Next() {
		var balance decimal.Decimal
		if err := rows.Scan(&balance); err != nil {
			return decimal.Zero, fmt.Errorf("scan balance: %w", err)
		}
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("balance row iteration: %w", err)
	}

	switch len(balances) {
	case 0:
		return decimal.Zero, storage.ErrAccountNotFound
	case 1:
		return balances[0], nil
	default:
		return decimal.Zero, storage.ErrAccountNotUnique
	}
}

// WithinUnitOfWork runs fn inside one database transaction.
func (p *PostgresStore) WithinUnitOfWork(ctx context.Context, fn func(interfaces.SettlementTx) error) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = dbTx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()

	if err = fn(&unitTx{tx: dbTx}); err != nil {
		return err
	}
	return dbTx.Commit()
}

type unitTx struct {
	tx *sql.Tx
}

func (u *unitTx) InsertTransaction(ctx context.Context, t *models.Transaction) (int64, error) {
	const headerQuery = `INSERT INTO transactions (student_id, total_amount, status, idempotency_key, transaction_time)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5) RETURNING txn_id`
	const itemQuery = `INSERT INTO transaction_items (txn_id, food_id, quantity, unit_price, line_total)
	VALUES ($1, $2, $3, $4, $5)`

	var id int64
	err := u.tx.QueryRowContext(ctx, headerQuery,
		t.AccountID,
		t.TotalAmount,
		string(t.Status),
		t.IdempotencyKey,
		t.CreatedAt,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, storage.ErrDuplicateSettlement
		}
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	stmt, err := u.tx.PrepareContext(ctx, itemQuery)
	if err != nil {
		return 0, fmt.Errorf("prepare item insert: %w", err)
	}
	defer stmt.Close()

	for _, item := range t.Items {
		if _, err := stmt.ExecContext(ctx, id, item.ItemID, item.Quantity, item.UnitPrice, item.LineTotal); err != nil {
			return 0, fmt.Errorf("insert item %d: %w", item.ItemID, err)
		}
	}
	return id, nil
}

// ConditionalDebit applies only while the balance still equals the value the
// caller read, and never below zero.
func (u *unitTx) ConditionalDebit(ctx context.Context, accountID int64, expected, amount decimal.Decimal) (bool, error) {
	const query = `UPDATE nfc_cards
	SET current_balance = current_balance - $3, updated_at = NOW()
	WHERE student_id = $1 AND current_balance = $2 AND current_balance >= $3`

	res, err := u.tx.ExecContext(ctx, query, accountID, expected, amount)
	if err != nil {
		return false, fmt.Errorf("debit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit rows affected: %w", err)
	}
	switch affected {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, storage.ErrAccountNotUnique
	}
}

var (
	_ interfaces.CatalogStore = (*PostgresStore)(nil)
	_ interfaces.BalanceStore = (*PostgresStore)(nil)
	_ interfaces.UnitOfWork   = (*PostgresStore)(nil)
)
