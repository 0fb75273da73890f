package cart

import (
	"context"
	"sync"

	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
)

// MemoryCartStore keeps carts in process memory with one mutex per account,
// so mutations on different accounts never contend.
type MemoryCartStore struct {
	mapMu sync.Mutex            // protects muMap and the carts map itself
	muMap map[int64]*sync.Mutex // per-account mutex
	carts map[int64]models.Cart
}

func NewMemoryCartStore() *MemoryCartStore {
	return &MemoryCartStore{
		muMap: make(map[int64]*sync.Mutex),
		carts: make(map[int64]models.Cart),
	}
}

func (s *MemoryCartStore) getAccountLock(accountID int64) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if _, exists := s.muMap[accountID]; !exists {
		s.muMap[accountID] = &sync.Mutex{}
	}
	return s.muMap[accountID]
}

func (s *MemoryCartStore) load(accountID int64) models.Cart {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	return s.carts[accountID].Clone()
}

func (s *MemoryCartStore) store(accountID int64, c models.Cart) {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	if len(c) == 0 {
		delete(s.carts, accountID)
		return
	}
	s.carts[accountID] = c
}

func (s *MemoryCartStore) Get(_ context.Context, accountID int64) (models.Cart, error) {
	return s.load(accountID), nil
}

func (s *MemoryCartStore) Add(ctx context.Context, accountID, itemID int64) (models.Cart, error) {
	if err := validItem(itemID); err != nil {
		return nil, err
	}
	return s.update(ctx, accountID, func(c models.Cart) error {
		c[itemID]++
		return nil
	})
}

func (s *MemoryCartStore) Decrease(ctx context.Context, accountID, itemID int64) (models.Cart, error) {
	return s.update(ctx, accountID, func(c models.Cart) error {
		qty, ok := c[itemID]
		if !ok {
			return ErrItemNotInCart
		}
		if qty <= 1 {
			delete(c, itemID)
		} else {
			c[itemID] = qty - 1
		}
		return nil
	})
}

func (s *MemoryCartStore) Remove(ctx context.Context, accountID, itemID int64) (models.Cart, error) {
	return s.update(ctx, accountID, func(c models.Cart) error {
		if _, ok := c[itemID]; !ok {
			return ErrItemNotInCart
		}
		delete(c, itemID)
		return nil
	})
}

func (s *MemoryCartStore) Clear(_ context.Context, accountID int64) error {
	mu := s.getAccountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	s.store(accountID, nil)
	return nil
}

func (s *MemoryCartStore) update(_ context.Context, accountID int64, mutate func(models.Cart) error) (models.Cart, error) {
	mu := s.getAccountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	c := s.load(accountID)
	if err := mutate(c); err != nil {
		return nil, err
	}
	s.store(accountID, c)
	return c.Clone(), nil
}

var _ interfaces.CartStore = (*MemoryCartStore)(nil)
