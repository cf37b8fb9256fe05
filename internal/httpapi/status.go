package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardforge/storefront/internal/domain/order"
	"github.com/cardforge/storefront/internal/domain/payment"
)

// StatusHandler serves the customer-facing order status document, looked up
// by the shareable order key. The private manage key is never included.
type StatusHandler struct {
	orders   order.Repository
	payments payment.Ledger
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(orders order.Repository, payments payment.Ledger) *StatusHandler {
	return &StatusHandler{orders: orders, payments: payments}
}

type statusItem struct {
	DesignID  string          `json:"designId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type statusResponse struct {
	State       string          `json:"state"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	Items       []statusItem    `json:"items"`
	Paid        bool            `json:"paid"`
}

// ServeHTTP handles GET /orders/{key}.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	key := r.PathValue("key")
	if key == "" {
		http.Error(w, "order key required", http.StatusBadRequest)
		return
	}

	ord, err := h.orders.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		lg.Error("order status lookup", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	paid := ord.State == order.StatePaid
	if !paid {
		// The ledger is the authority on settlement; the state column may
		// trail it between a perform commit and a reconciler pass.
		if _, err := h.payments.FindSucceededByOrder(ctx, ord.ID, payment.ProviderPayme, ""); err == nil {
			paid = true
		}
	}

	resp := statusResponse{
		State:       string(ord.State),
		Subtotal:    ord.Subtotal,
		DeliveryFee: ord.DeliveryFee,
		Discount:    ord.Discount,
		Total:       ord.Total,
		Currency:    ord.Currency,
		Paid:        paid,
		Items:       make([]statusItem, len(ord.Items)),
	}
	for i, item := range ord.Items {
		resp.Items[i] = statusItem{
			DesignID:  item.DesignID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		lg.Error("write status response", zap.Error(err))
	}
}
