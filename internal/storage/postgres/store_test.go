package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
	"github.com/sheikh-saqib/canteen-payments/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	store, err := Connect(ctx, creds)
	require.NoError(t, err)

	err = store.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return store, cleanup
}

func seedFood(t *testing.T, store *PostgresStore, name string, price string, available bool) int64 {
	var id int64
	err := store.db.QueryRow(
		`INSERT INTO food (name, price, is_available) VALUES ($1, $2, $3) RETURNING food_id`,
		name, price, available,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedCard(t *testing.T, store *PostgresStore, studentID int64, balance string) {
	_, err := store.db.Exec(
		`INSERT INTO nfc_cards (nfc_id, student_id, current_balance) VALUES ($1, $2, $3)`,
		uuid.NewString(), studentID, balance,
	)
	require.NoError(t, err)
}

func newTestTransaction(accountID int64, itemID int64, key string) *models.Transaction {
	item := models.NewLineItem(itemID, 2, decimal.RequireFromString("2.50"))
	return &models.Transaction{
		AccountID:      accountID,
		TotalAmount:    item.LineTotal,
		Status:         models.TransactionStatusSuccess,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
		Items:          []models.LineItem{item},
	}
}

func TestGetPrices_OnlyListedItems(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	tea := seedFood(t, store, "Tea", "1.20", true)
	soup := seedFood(t, store, "Soup", "3.00", false)

	prices, err := store.GetPrices(ctx, []int64{tea, soup, 9999})
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices[tea].Price.Equal(decimal.RequireFromString("1.20")))
	assert.Equal(t, "Tea", prices[tea].Name)
	assert.False(t, prices[soup].Available)
}

func TestGetBalance_RecordCount(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedCard(t, store, 1, "10.00")

	balance, err := store.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)))

	_, err = store.GetBalance(ctx, 2)
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)

	seedCard(t, store, 3, "5.00")
	seedCard(t, store, 3, "5.00")
	_, err = store.GetBalance(ctx, 3)
	assert.ErrorIs(t, err, storage.ErrAccountNotUnique)
}

func TestUnitOfWork_CommitsHeaderItemsAndDebit(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	food := seedFood(t, store, "Sandwich", "2.50", true)
	seedCard(t, store, 1, "10.00")

	var txID int64
	err := store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		id, err := tx.InsertTransaction(ctx, newTestTransaction(1, food, "key-1"))
		if err != nil {
			return err
		}
		txID = id
		ok, err := tx.ConditionalDebit(ctx, 1, decimal.NewFromInt(10), decimal.NewFromInt(5))
		require.True(t, ok)
		return err
	})
	require.NoError(t, err)

	balance, err := store.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(5)))

	saved, err := store.GetTransaction(ctx, 1, txID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusSuccess, saved.Status)
	assert.True(t, saved.TotalAmount.Equal(decimal.NewFromInt(5)))
	require.Len(t, saved.Items, 1)
	assert.Equal(t, food, saved.Items[0].ItemID)
	assert.Equal(t, 2, saved.Items[0].Quantity)
	assert.True(t, saved.Items[0].UnitPrice.Equal(decimal.RequireFromString("2.50")))

	byKey, err := store.FindByIdempotencyKey(ctx, 1, "key-1")
	require.NoError(t, err)
	assert.Equal(t, txID, byKey.ID)
}

func TestUnitOfWork_StaleBalanceDebitsNothing(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	food := seedFood(t, store, "Sandwich", "2.50", true)
	seedCard(t, store, 1, "10.00")

	errStale := errors.New("stale")
	err := store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		if _, err := tx.InsertTransaction(ctx, newTestTransaction(1, food, "")); err != nil {
			return err
		}
		ok, err := tx.ConditionalDebit(ctx, 1, decimal.NewFromInt(12), decimal.NewFromInt(5))
		if err != nil {
			return err
		}
		if !ok {
			return errStale
		}
		return nil
	})
	require.ErrorIs(t, err, errStale)

	balance, err := store.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)))

	txs, err := store.ListTransactions(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, txs, "rolled back header must not be visible")
}

func TestConditionalDebit_NeverBelowZero(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedCard(t, store, 1, "3.00")

	err := store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		ok, err := tx.ConditionalDebit(ctx, 1, decimal.NewFromInt(3), decimal.NewFromInt(4))
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)
}

func TestInsertTransaction_DuplicateKey(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	food := seedFood(t, store, "Sandwich", "2.50", true)

	insert := func() error {
		return store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
			_, err := tx.InsertTransaction(ctx, newTestTransaction(1, food, "same-key"))
			return err
		})
	}

	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), storage.ErrDuplicateSettlement)

	// the same key is free for another student
	err := store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		_, err := tx.InsertTransaction(ctx, newTestTransaction(2, food, "same-key"))
		return err
	})
	assert.NoError(t, err)
}

func TestListTransactions_NewestFirstWithLimit(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	food := seedFood(t, store, "Tea", "1.00", true)

	var ids []int64
	for i := 0; i < 3; i++ {
		err := store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
			txn := newTestTransaction(1, food, "")
			txn.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
			id, err := tx.InsertTransaction(ctx, txn)
			ids = append(ids, id)
			return err
		})
		require.NoError(t, err)
	}

	txs, err := store.ListTransactions(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ids[2], txs[0].ID)
	assert.Equal(t, ids[1], txs[1].ID)
	assert.Len(t, txs[0].Items, 1)

	_, err = store.GetTransaction(ctx, 2, ids[0])
	assert.ErrorIs(t, err, storage.ErrTransactionNotFound, "other students cannot read the transaction")
}

func TestActivityOutbox_RecordFetchMark(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	payload, err := json.Marshal(map[string]any{"transaction_id": 7})
	require.NoError(t, err)

	err = store.Record(ctx, models.Activity{
		EventID:     uuid.NewString(),
		Type:        models.ActivityOrderSettled,
		Description: "New order #TRN-7 completed by student ID 1 for 5.00.",
		AccountID:   1,
		RelatedID:   7,
		Payload:     payload,
	})
	require.NoError(t, err)

	pending, err := store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.ActivityOrderSettled, pending[0].Type)
	assert.Equal(t, int64(7), pending[0].RelatedID)
	assert.JSONEq(t, `{"transaction_id": 7}`, string(pending[0].Payload))

	require.NoError(t, store.MarkPublished(ctx, pending[0].ID))

	pending, err = store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
