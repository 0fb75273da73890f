package cart

import "errors"

var (
	ErrItemNotInCart = errors.New("item not found in cart")
	ErrInvalidItem   = errors.New("item id must be positive")
)

func validItem(itemID int64) error {
	if itemID <= 0 {
		return ErrInvalidItem
	}
	return nil
}
