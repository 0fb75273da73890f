package memory

import (
	"context"
	"errors"
	"testing"

	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
	"github.com/sheikh-saqib/canteen-payments/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTx(accountID int64, key string) *models.Transaction {
	item := models.NewLineItem(1, 2, decimal.NewFromInt(5))
	return &models.Transaction{
		AccountID:      accountID,
		TotalAmount:    item.LineTotal,
		Status:         models.TransactionStatusSuccess,
		IdempotencyKey: key,
		Items:          []models.LineItem{item},
	}
}

func TestGetBalance_RecordCount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetBalance(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)

	store.OpenAccount(1, decimal.NewFromInt(10))
	b, err := store.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, b.Equal(decimal.NewFromInt(10)))

	store.OpenAccount(1, decimal.NewFromInt(10))
	_, err = store.GetBalance(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrAccountNotUnique)
}

func TestGetPrices_SkipsUnknown(t *testing.T) {
	store := NewMemoryStore()
	store.PutItem(models.CatalogPrice{ItemID: 1, Name: "Tea", Price: decimal.NewFromInt(1), Available: true})

	prices, err := store.GetPrices(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Len(t, prices, 1)

	store.DeleteItem(1)
	prices, err = store.GetPrices(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestUnitOfWork_CommitAppliesEverything(t *testing.T) {
	store := NewMemoryStore()
	store.OpenAccount(1, decimal.NewFromInt(20))
	ctx := context.Background()

	var id int64
	err := store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		var err error
		id, err = tx.InsertTransaction(ctx, newTx(1, "k"))
		if err != nil {
			return err
		}
		ok, err := tx.ConditionalDebit(ctx, 1, decimal.NewFromInt(20), decimal.NewFromInt(10))
		require.True(t, ok)
		return err
	})
	require.NoError(t, err)

	b, err := store.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, b.Equal(decimal.NewFromInt(10)))

	saved, err := store.GetTransaction(ctx, 1, id)
	require.NoError(t, err)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.Equal(t, id, saved.Items[0].TransactionID)

	found, err := store.FindByIdempotencyKey(ctx, 1, "k")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
}

func TestUnitOfWork_ErrorDropsStagedWrites(t *testing.T) {
	store := NewMemoryStore()
	store.OpenAccount(1, decimal.NewFromInt(20))
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		if _, err := tx.InsertTransaction(ctx, newTx(1, "")); err != nil {
			return err
		}
		if _, err := tx.ConditionalDebit(ctx, 1, decimal.NewFromInt(20), decimal.NewFromInt(10)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	b, err := store.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, b.Equal(decimal.NewFromInt(20)))
	assert.Empty(t, store.AllTransactions())

	// ids are not burnt by a rolled back unit
	require.NoError(t, store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		id, err := tx.InsertTransaction(ctx, newTx(1, ""))
		assert.Equal(t, int64(1), id)
		return err
	}))
}

func TestUnitOfWork_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.WithinUnitOfWork(ctx, func(interfaces.SettlementTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestConditionalDebit_Guards(t *testing.T) {
	store := NewMemoryStore()
	store.OpenAccount(1, decimal.NewFromInt(20))
	ctx := context.Background()

	err := store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		ok, err := tx.ConditionalDebit(ctx, 1, decimal.NewFromInt(19), decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.False(t, ok, "stale expected balance")

		ok, err = tx.ConditionalDebit(ctx, 1, decimal.NewFromInt(20), decimal.NewFromInt(21))
		require.NoError(t, err)
		assert.False(t, ok, "would go negative")

		ok, err = tx.ConditionalDebit(ctx, 1, decimal.NewFromInt(20), decimal.NewFromInt(5))
		require.NoError(t, err)
		assert.True(t, ok)

		// the staged balance is what a second debit sees
		ok, err = tx.ConditionalDebit(ctx, 1, decimal.NewFromInt(20), decimal.NewFromInt(5))
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	_ = store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		_, err := tx.ConditionalDebit(ctx, 99, decimal.Zero, decimal.Zero)
		assert.ErrorIs(t, err, storage.ErrAccountNotFound)
		return err
	})
}

func TestInsertTransaction_DuplicateKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	insert := func(accountID int64) error {
		return store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
			_, err := tx.InsertTransaction(ctx, newTx(accountID, "same"))
			return err
		})
	}
	require.NoError(t, insert(1))
	assert.ErrorIs(t, insert(1), storage.ErrDuplicateSettlement)
	assert.NoError(t, insert(2))

	err := store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		if _, err := tx.InsertTransaction(ctx, newTx(3, "twice")); err != nil {
			return err
		}
		_, err := tx.InsertTransaction(ctx, newTx(3, "twice"))
		return err
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateSettlement)
}

func TestUnitTx_UnusableAfterUnit(t *testing.T) {
	store := NewMemoryStore()
	store.OpenAccount(1, decimal.NewFromInt(20))
	ctx := context.Background()

	var leaked interfaces.SettlementTx
	require.NoError(t, store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		leaked = tx
		return nil
	}))

	_, err := leaked.InsertTransaction(ctx, newTx(1, ""))
	assert.Error(t, err)
	_, err = leaked.ConditionalDebit(ctx, 1, decimal.NewFromInt(20), decimal.NewFromInt(1))
	assert.Error(t, err)
}

func TestListTransactions_NewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
			_, err := tx.InsertTransaction(ctx, newTx(1, ""))
			return err
		}))
	}
	require.NoError(t, store.WithinUnitOfWork(ctx, func(tx interfaces.SettlementTx) error {
		_, err := tx.InsertTransaction(ctx, newTx(2, ""))
		return err
	}))

	txs, err := store.ListTransactions(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(3), txs[0].ID)
	assert.Equal(t, int64(2), txs[1].ID)

	all, err := store.ListTransactions(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = store.GetTransaction(ctx, 2, 1)
	assert.ErrorIs(t, err, storage.ErrTransactionNotFound)
}

func TestActivityOutbox(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, models.Activity{EventID: "a", Type: models.ActivityOrderSettled}))
	require.NoError(t, store.Record(ctx, models.Activity{EventID: "b", Type: models.ActivityOrderSettled}))

	pending, err := store.FetchUnpublished(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].EventID)

	require.NoError(t, store.MarkPublished(ctx, pending[0].ID))
	pending, err = store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].EventID)

	all := store.Activities()
	require.Len(t, all, 2)
	assert.NotNil(t, all[0].PublishedAt)
}
