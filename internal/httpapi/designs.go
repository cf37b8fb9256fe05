package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardforge/storefront/internal/domain/catalog"
)

// DesignsHandler lists the active card designs customers can order.
type DesignsHandler struct {
	designs catalog.Repository
}

// NewDesignsHandler constructs a DesignsHandler.
func NewDesignsHandler(designs catalog.Repository) *DesignsHandler {
	return &DesignsHandler{designs: designs}
}

type designResponse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Metal string          `json:"metal"`
	Price decimal.Decimal `json:"price"`
}

// ServeHTTP handles GET /designs.
func (h *DesignsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	designs, err := h.designs.List(ctx)
	if err != nil {
		lg.Error("list designs", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := make([]designResponse, len(designs))
	for i, d := range designs {
		resp[i] = designResponse{
			ID:    d.ID,
			Name:  d.Name,
			Metal: d.Metal,
			Price: d.Price,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		lg.Error("write designs response", zap.Error(err))
	}
}
