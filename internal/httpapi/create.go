package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardforge/storefront/internal/domain/catalog"
	"github.com/cardforge/storefront/internal/domain/order"
	"github.com/cardforge/storefront/internal/promo"
)

// CreateHandler accepts a checkout submission and creates the order.
type CreateHandler struct {
	svc *order.Service
}

// NewCreateHandler constructs a CreateHandler.
func NewCreateHandler(svc *order.Service) *CreateHandler {
	return &CreateHandler{svc: svc}
}

type createItem struct {
	DesignID  string `json:"designId"`
	Quantity  int    `json:"quantity"`
	Engraving string `json:"engraving"`
}

type createRequest struct {
	Items         []createItem `json:"items"`
	Delivery      string       `json:"delivery"`
	PromoCode     string       `json:"promoCode"`
	CustomerName  string       `json:"customerName"`
	Phone         string       `json:"phone"`
	Lang          string       `json:"lang"`
	PayOnDelivery bool         `json:"payOnDelivery"`
}

type createResponse struct {
	OrderID     int64           `json:"orderId"`
	OrderKey    string          `json:"orderKey"`
	ManageKey   string          `json:"manageKey"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	State       string          `json:"state"`
}

// ServeHTTP handles POST /orders.
func (h *CreateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.ItemRequest{
			DesignID:  item.DesignID,
			Quantity:  item.Quantity,
			Engraving: item.Engraving,
		}
	}

	ord, err := h.svc.Create(ctx, order.CreateRequest{
		Items:         items,
		Delivery:      order.DeliveryMethod(req.Delivery),
		PromoCode:     req.PromoCode,
		CustomerName:  req.CustomerName,
		Phone:         req.Phone,
		Lang:          req.Lang,
		PayOnDelivery: req.PayOnDelivery,
	})
	if err != nil {
		switch {
		case errors.Is(err, order.ErrEmptyItems), errors.Is(err, order.ErrInvalidQuantity):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, catalog.ErrNotFound):
			http.Error(w, "unknown card design", http.StatusUnprocessableEntity)
		case errors.Is(err, promo.ErrInvalidCode):
			http.Error(w, "invalid promo code", http.StatusUnprocessableEntity)
		default:
			lg.Error("create order", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createResponse{
		OrderID:     ord.ID,
		OrderKey:    ord.OrderKey,
		ManageKey:   ord.ManageKey,
		Subtotal:    ord.Subtotal,
		DeliveryFee: ord.DeliveryFee,
		Discount:    ord.Discount,
		Total:       ord.Total,
		Currency:    ord.Currency,
		State:       string(ord.State),
	}); err != nil {
		lg.Error("write create response", zap.Error(err))
	}
}
