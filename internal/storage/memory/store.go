package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"errors"
	"sync" // standard Go package for concurrency primitives like Mutex
	"time"

	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
	"github.com/sheikh-saqib/canteen-payments/internal/storage"
	"github.com/shopspring/decimal"
)

var errUnitClosed = errors.New("unit of work already finished")

// MemoryStore is an in-memory catalog, balance, ledger and activity store.
// A unit of work holds the write lock for its whole duration, so it observes
// and mutates balances as a single atomic step.
type MemoryStore struct {
	mu             sync.RWMutex                  // guards everything below
	menu           map[int64]models.CatalogPrice // catalog by item id
	balances       map[int64][]decimal.Decimal   // balance records per account, exactly one when healthy
	transactions   []models.Transaction          // committed ledger, in insertion order
	nextTxID       int64
	activities     []models.Activity
	nextActivityID int64
}

// NewMemoryStore creates and returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		menu:     make(map[int64]models.CatalogPrice),
		balances: make(map[int64][]decimal.Decimal),
	}
}

// PutItem adds or replaces a menu item.
func (m *MemoryStore) PutItem(item models.CatalogPrice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.menu[item.ItemID] = item
}

// DeleteItem removes an item from the menu entirely.
func (m *MemoryStore) DeleteItem(itemID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.menu, itemID)
}

// OpenAccount appends a balance record for the account. Calling it twice for
// the same account produces the duplicate-card state the settlement engine
// reports as an account state fault.
func (m *MemoryStore) OpenAccount(accountID int64, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] = append(m.balances[accountID], balance)
}

func (m *MemoryStore) GetPrices(_ context.Context, itemIDs []int64) (map[int64]models.CatalogPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prices := make(map[int64]models.CatalogPrice, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := m.menu[id]; ok {
			prices[id] = item
		}
	}
	return prices, nil
}

func (m *MemoryStore) GetBalance(_ context.Context, accountID int64) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(accountID)
}

func (m *MemoryStore) balanceLocked(accountID int64) (decimal.Decimal, error) {
	records := m.balances[accountID]
	switch len(records) {
	case 0:
		return decimal.Zero, storage.ErrAccountNotFound
	case 1:
		return records[0], nil
	default:
		return decimal.Zero, storage.ErrAccountNotUnique
	}
}

// WithinUnitOfWork runs fn against a staging view of the store. Staged writes
// are applied only when fn returns nil.
func (m *MemoryStore) WithinUnitOfWork(ctx context.Context, fn func(interfaces.SettlementTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()         // lock for the whole unit so no other writer interleaves
	defer m.mu.Unlock() // unlock automatically when function exits (even if fn panics)

	utx := &unitTx{
		store:    m,
		balances: make(map[int64]decimal.Decimal),
		nextID:   m.nextTxID,
	}
	err := fn(utx)
	utx.closed = true
	if err != nil {
		return err // staged writes are dropped
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for accountID, balance := range utx.balances {
		m.balances[accountID][0] = balance
	}
	m.transactions = append(m.transactions, utx.pending...)
	m.nextTxID = utx.nextID
	return nil
}

type unitTx struct {
	store    *MemoryStore
	balances map[int64]decimal.Decimal
	pending  []models.Transaction
	nextID   int64
	closed   bool
}

func (u *unitTx) InsertTransaction(_ context.Context, tx *models.Transaction) (int64, error) {
	if u.closed {
		return 0, errUnitClosed
	}
	if tx.IdempotencyKey != "" {
		if u.store.findByKeyLocked(tx.AccountID, tx.IdempotencyKey) != nil || u.pendingHasKey(tx.AccountID, tx.IdempotencyKey) {
			return 0, storage.ErrDuplicateSettlement
		}
	}

	u.nextID++
	saved := copyTransaction(*tx)
	saved.ID = u.nextID
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	for i := range saved.Items {
		saved.Items[i].TransactionID = saved.ID
	}
	u.pending = append(u.pending, saved)
	return saved.ID, nil
}

func (u *unitTx) pendingHasKey(accountID int64, key string) bool {
	for _, tx := range u.pending {
		if tx.AccountID == accountID && tx.IdempotencyKey == key {
			return true
		}
	}
	return false
}

func (u *unitTx) ConditionalDebit(_ context.Context, accountID int64, expected, amount decimal.Decimal) (bool, error) {
	if u.closed {
		return false, errUnitClosed
	}
	current, staged := u.balances[accountID]
	if !staged {
		var err error
		current, err = u.store.balanceLocked(accountID)
		if err != nil {
			return false, err
		}
	}
	if !current.Equal(expected) || current.LessThan(amount) {
		return false, nil
	}
	u.balances[accountID] = current.Sub(amount)
	return true, nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, accountID, transactionID int64) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, tx := range m.transactions {
		if tx.ID == transactionID && tx.AccountID == accountID {
			found := copyTransaction(tx)
			return &found, nil
		}
	}
	return nil, storage.ErrTransactionNotFound
}

func (m *MemoryStore) FindByIdempotencyKey(_ context.Context, accountID int64, key string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx := m.findByKeyLocked(accountID, key)
	if tx == nil {
		return nil, storage.ErrTransactionNotFound
	}
	found := copyTransaction(*tx)
	return &found, nil
}

func (m *MemoryStore) findByKeyLocked(accountID int64, key string) *models.Transaction {
	for i := range m.transactions {
		if m.transactions[i].AccountID == accountID && m.transactions[i].IdempotencyKey == key {
			return &m.transactions[i]
		}
	}
	return nil
}

// ListTransactions returns the account's transactions, newest first.
func (m *MemoryStore) ListTransactions(_ context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.Transaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		if m.transactions[i].AccountID == accountID {
			result = append(result, copyTransaction(m.transactions[i]))
		}
	}
	return result, nil
}

// AllTransactions returns a copy of the whole ledger.
// Useful for testing, debugging, and printing ledger state.
func (m *MemoryStore) AllTransactions() []models.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make([]models.Transaction, len(m.transactions))
	for i, tx := range m.transactions {
		copied[i] = copyTransaction(tx)
	}
	return copied
}

func (m *MemoryStore) Record(_ context.Context, activity models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextActivityID++
	activity.ID = m.nextActivityID
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	m.activities = append(m.activities, activity)
	return nil
}

func (m *MemoryStore) FetchUnpublished(_ context.Context, limit int) ([]models.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Activity
	for _, a := range m.activities {
		if limit > 0 && len(out) == limit {
			break
		}
		if a.PublishedAt == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkPublished(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.activities {
		if m.activities[i].ID == id {
			now := time.Now().UTC()
			m.activities[i].PublishedAt = &now
			return nil
		}
	}
	return nil
}

// Activities returns a copy of the activity feed.
func (m *MemoryStore) Activities() []models.Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make([]models.Activity, len(m.activities))
	copy(copied, m.activities)
	return copied
}

func copyTransaction(tx models.Transaction) models.Transaction {
	items := make([]models.LineItem, len(tx.Items))
	copy(items, tx.Items)
	tx.Items = items
	return tx
}

// Compile-time checks: ensure MemoryStore implements the collaborator interfaces
var (
	_ interfaces.CatalogStore   = (*MemoryStore)(nil)
	_ interfaces.BalanceStore   = (*MemoryStore)(nil)
	_ interfaces.UnitOfWork     = (*MemoryStore)(nil)
	_ interfaces.LedgerStore    = (*MemoryStore)(nil)
	_ interfaces.ActivityLog    = (*MemoryStore)(nil)
	_ interfaces.ActivityOutbox = (*MemoryStore)(nil)
)
