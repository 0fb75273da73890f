package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sheikh-saqib/canteen-payments/internal/cart"
	interfaces "github.com/sheikh-saqib/canteen-payments/internal/interfaces"
	"github.com/sheikh-saqib/canteen-payments/internal/models"
	"github.com/shopspring/decimal"
)

type CartHandler struct {
	carts   interfaces.CartStore
	catalog interfaces.CatalogStore
	logger  *slog.Logger
}

func NewCartHandler(carts interfaces.CartStore, catalog interfaces.CatalogStore, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		carts:   carts,
		catalog: catalog,
		logger:  logger,
	}
}

type AddItemRequestDTO struct {
	ItemID int64 `json:"item_id"`
}

type UpdateItemRequestDTO struct {
	Action string `json:"action"`
}

type CartLineDTO struct {
	ItemID    int64  `json:"item_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price,omitempty"`
	LineTotal string `json:"line_total,omitempty"`
	Available bool   `json:"available"`
}

type CartResponseDTO struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Items     []CartLineDTO `json:"cart_items"`
	CartTotal string        `json:"cart_total"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	c, err := h.carts.Get(r.Context(), accountID)
	if err != nil {
		h.storageFailure(w, "Error fetching cart.", accountID, err)
		return
	}
	message := "Cart fetched."
	if len(c) == 0 {
		message = "Cart is empty."
	}
	h.respondCart(w, r, http.StatusOK, c, message)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := accountIDFromContext(ctx)

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ItemID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "Invalid food item ID received.")
		return
	}

	prices, err := h.catalog.GetPrices(ctx, []int64{req.ItemID})
	if err != nil {
		h.storageFailure(w, "Error adding item to cart.", accountID, err)
		return
	}
	if item, ok := prices[req.ItemID]; !ok || !item.Available {
		respondError(w, http.StatusNotFound, "item_not_found", "This item is not on the menu.")
		return
	}

	c, err := h.carts.Add(ctx, accountID, req.ItemID)
	if err != nil {
		h.storageFailure(w, "Error adding item to cart.", accountID, err)
		return
	}
	h.respondCart(w, r, http.StatusCreated, c, "Item added to cart!")
}

// UpdateItem applies one of increase, decrease or remove to a cart line.
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := accountIDFromContext(ctx)

	itemID, err := strconv.ParseInt(chi.URLParam(r, "item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "item_id must be a positive integer")
		return
	}

	var req UpdateItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var c models.Cart
	switch req.Action {
	case "increase":
		c, err = h.carts.Add(ctx, accountID, itemID)
	case "decrease":
		c, err = h.carts.Decrease(ctx, accountID, itemID)
	case "remove":
		c, err = h.carts.Remove(ctx, accountID, itemID)
	default:
		respondError(w, http.StatusBadRequest, "invalid_action", "action must be increase, decrease or remove")
		return
	}
	if errors.Is(err, cart.ErrItemNotInCart) {
		respondError(w, http.StatusNotFound, "item_not_in_cart", "Item not found in cart.")
		return
	}
	if err != nil {
		h.storageFailure(w, "Error updating cart.", accountID, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, c, "Cart updated.")
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	accountID := accountIDFromContext(r.Context())

	if err := h.carts.Clear(r.Context(), accountID); err != nil {
		h.storageFailure(w, "Error clearing cart.", accountID, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, models.Cart{}, "Cart cleared successfully.")
}

// respondCart prices the cart at current menu prices. Lines the menu no longer
// offers are listed as unavailable and left out of the total.
func (h *CartHandler) respondCart(w http.ResponseWriter, r *http.Request, status int, c models.Cart, message string) {
	resp := CartResponseDTO{
		Success:   true,
		Message:   message,
		Items:     []CartLineDTO{},
		CartTotal: decimal.Zero.StringFixed(2),
	}
	if len(c) == 0 {
		respondJSON(w, status, resp)
		return
	}

	ids := c.ItemIDs()
	prices, err := h.catalog.GetPrices(r.Context(), ids)
	if err != nil {
		h.storageFailure(w, "Error fetching cart.", accountIDFromContext(r.Context()), err)
		return
	}

	total := decimal.Zero
	for _, id := range ids {
		line := CartLineDTO{ItemID: id, Quantity: c[id]}
		if item, ok := prices[id]; ok && item.Available {
			lineTotal := item.Price.Mul(decimal.NewFromInt(int64(c[id])))
			line.Name = item.Name
			line.UnitPrice = item.Price.StringFixed(2)
			line.LineTotal = lineTotal.StringFixed(2)
			line.Available = true
			total = total.Add(lineTotal)
		}
		resp.Items = append(resp.Items, line)
	}
	resp.CartTotal = total.StringFixed(2)
	respondJSON(w, status, resp)
}

func (h *CartHandler) storageFailure(w http.ResponseWriter, message string, accountID int64, err error) {
	h.logger.Error("cart operation failed", "account_id", accountID, "error", err)
	respondError(w, http.StatusInternalServerError, "storage_error", message)
}
