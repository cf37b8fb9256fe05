package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/cardforge/storefront/internal/domain/auth"
	"github.com/cardforge/storefront/internal/domain/order"
)

// AdminHandler advances order fulfilment state from the back office. It uses
// the same guarded transition primitive as settlement, so an admin click can
// never skip or rewind the lifecycle.
type AdminHandler struct {
	svc  *order.Service
	auth *APIKeyAuth
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(svc *order.Service, keyAuth *APIKeyAuth) *AdminHandler {
	return &AdminHandler{svc: svc, auth: keyAuth}
}

type advanceRequest struct {
	State string `json:"state"`
}

type advanceResponse struct {
	OrderID int64  `json:"orderId"`
	State   string `json:"state"`
}

// ServeHTTP handles POST /admin/orders/{id}/state.
func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	if _, err := h.auth.Authenticate(ctx, r, auth.ScopeOrders); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	var req advanceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	ord, err := h.svc.Advance(ctx, id, order.State(req.State))
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case errors.Is(err, order.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, order.ErrStateConflict):
			http.Error(w, "state changed concurrently, retry", http.StatusConflict)
		default:
			lg.Error("advance order state", zap.Int64("order_id", id), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(advanceResponse{OrderID: ord.ID, State: string(ord.State)}); err != nil {
		lg.Error("write advance response", zap.Error(err))
	}
}
