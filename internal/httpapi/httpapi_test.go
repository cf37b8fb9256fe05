package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/storefront/internal/domain/auth"
	"github.com/cardforge/storefront/internal/domain/catalog"
	"github.com/cardforge/storefront/internal/domain/order"
	"github.com/cardforge/storefront/internal/domain/payment"
	"github.com/cardforge/storefront/internal/promo"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	order     *order.Order
	createErr error
	updateOK  bool
}

func (m *mockOrderRepo) Create(_ context.Context, o *order.Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	o.ID = 1
	m.order = o
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id int64) (*order.Order, error) {
	if m.order == nil || m.order.ID != id {
		return nil, order.ErrNotFound
	}
	cp := *m.order
	return &cp, nil
}

func (m *mockOrderRepo) GetByKey(_ context.Context, key string) (*order.Order, error) {
	if m.order == nil || m.order.OrderKey != key {
		return nil, order.ErrNotFound
	}
	cp := *m.order
	return &cp, nil
}

func (m *mockOrderRepo) UpdateState(_ context.Context, _ int64, _, to order.State) (bool, error) {
	if m.updateOK && m.order != nil {
		m.order.State = to
	}
	return m.updateOK, nil
}

// mockLedger answers only the read path the status handler uses.
type mockLedger struct {
	succeeded *payment.Payment
}

func (m *mockLedger) Reserve(context.Context, int64, payment.Provider, decimal.Decimal, string, string) (*payment.Payment, error) {
	return nil, errors.New("not implemented")
}

func (m *mockLedger) FindByInvoice(context.Context, payment.Provider, string) (*payment.Payment, error) {
	return nil, payment.ErrNotFound
}

func (m *mockLedger) FindSucceededByOrder(context.Context, int64, payment.Provider, string) (*payment.Payment, error) {
	if m.succeeded == nil {
		return nil, payment.ErrNotFound
	}
	return m.succeeded, nil
}

func (m *mockLedger) Claim(context.Context, payment.ClaimParams) (*payment.Payment, error) {
	return nil, errors.New("not implemented")
}

func (m *mockLedger) Perform(context.Context, payment.Provider, string) (*payment.Payment, bool, error) {
	return nil, false, errors.New("not implemented")
}

func (m *mockLedger) Cancel(context.Context, payment.Provider, string) (*payment.Payment, error) {
	return nil, errors.New("not implemented")
}

type mockCatalog struct {
	designs map[string]catalog.Design
}

func (m *mockCatalog) List(_ context.Context) ([]catalog.Design, error) {
	var out []catalog.Design
	for _, d := range m.designs {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Design, error) {
	var out []catalog.Design
	for _, id := range ids {
		if d, ok := m.designs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

type mockPromo struct{}

func (mockPromo) Validate(_ context.Context, _ string, _ decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, promo.ErrInvalidCode
}

type mockAPIKeyRepo struct {
	info *auth.APIKeyInfo
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if m.info == nil || m.info.KeyHash != hash {
		return nil, errors.New("not found")
	}
	return m.info, nil
}

// --- Helpers ---

var pepper = []byte("test-pepper")

func seededKeyRepo(key string, scopes ...string) *mockAPIKeyRepo {
	return &mockAPIKeyRepo{info: &auth.APIKeyInfo{
		ID:      "k1",
		KeyHash: HashKey(pepper, key),
		Name:    "test key",
		Scopes:  scopes,
	}}
}

func storedOrder() *order.Order {
	return &order.Order{
		ID:        1,
		OrderKey:  "11111111-2222-3333-4444-555555555555",
		ManageKey: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		Items: []order.Item{
			{DesignID: "classic-black", Name: "Classic Black", Quantity: 1, UnitPrice: decimal.RequireFromString("250000")},
		},
		Subtotal: decimal.RequireFromString("250000"),
		Total:    decimal.RequireFromString("250000"),
		Currency: "UZS",
		State:    order.StateCreated,
	}
}

// --- Tests ---

func TestAPIKeyAuth(t *testing.T) {
	newReq := func(key string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/admin", nil)
		if key != "" {
			r.Header.Set("api_key", key)
		}
		return r
	}

	t.Run("valid key with scope", func(t *testing.T) {
		a := NewAPIKeyAuth(seededKeyRepo("secret", auth.ScopeOrders), pepper)
		info, err := a.Authenticate(context.Background(), newReq("secret"), auth.ScopeOrders)
		require.NoError(t, err)
		assert.Equal(t, "k1", info.ID)
	})

	t.Run("missing header", func(t *testing.T) {
		a := NewAPIKeyAuth(seededKeyRepo("secret", auth.ScopeOrders), pepper)
		_, err := a.Authenticate(context.Background(), newReq(""), auth.ScopeOrders)
		require.Error(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		a := NewAPIKeyAuth(seededKeyRepo("secret", auth.ScopeOrders), pepper)
		_, err := a.Authenticate(context.Background(), newReq("other"), auth.ScopeOrders)
		require.Error(t, err)
	})

	t.Run("key without required scope", func(t *testing.T) {
		a := NewAPIKeyAuth(seededKeyRepo("secret", "reports:read"), pepper)
		_, err := a.Authenticate(context.Background(), newReq("secret"), auth.ScopeOrders)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "forbidden")
	})

	t.Run("different pepper invalidates keys", func(t *testing.T) {
		a := NewAPIKeyAuth(seededKeyRepo("secret", auth.ScopeOrders), []byte("other-pepper"))
		_, err := a.Authenticate(context.Background(), newReq("secret"), auth.ScopeOrders)
		require.Error(t, err)
	})
}

func TestStatusHandler(t *testing.T) {
	get := func(h *StatusHandler, key string) *httptest.ResponseRecorder {
		mux := http.NewServeMux()
		mux.Handle("GET /orders/{key}", h)
		req := httptest.NewRequest(http.MethodGet, "/orders/"+key, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	t.Run("returns the order without the manage key", func(t *testing.T) {
		ord := storedOrder()
		h := NewStatusHandler(&mockOrderRepo{order: ord}, &mockLedger{})

		rec := get(h, ord.OrderKey)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), ord.ManageKey)

		var resp statusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "created", resp.State)
		assert.False(t, resp.Paid)
		require.Len(t, resp.Items, 1)
		assert.Equal(t, "classic-black", resp.Items[0].DesignID)
	})

	t.Run("ledger overrides a trailing state column", func(t *testing.T) {
		ord := storedOrder()
		h := NewStatusHandler(
			&mockOrderRepo{order: ord},
			&mockLedger{succeeded: &payment.Payment{ID: 9, OrderID: 1, Status: payment.StatusSucceeded}},
		)

		rec := get(h, ord.OrderKey)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp statusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Paid, "a succeeded ledger row means paid even before the state catches up")
		assert.Equal(t, "created", resp.State)
	})

	t.Run("unknown key", func(t *testing.T) {
		h := NewStatusHandler(&mockOrderRepo{}, &mockLedger{})
		rec := get(h, "no-such-key")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDesignsHandler(t *testing.T) {
	h := NewDesignsHandler(&mockCatalog{designs: map[string]catalog.Design{
		"classic-black": {ID: "classic-black", Name: "Classic Black", Metal: "stainless", Price: decimal.RequireFromString("250000"), Active: true},
	}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/designs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []designResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "classic-black", resp[0].ID)
	assert.Equal(t, "stainless", resp[0].Metal)
}

func TestCreateHandler(t *testing.T) {
	designs := &mockCatalog{designs: map[string]catalog.Design{
		"classic-black": {ID: "classic-black", Name: "Classic Black", Price: decimal.RequireFromString("250000"), Active: true},
	}}

	post := func(h *CreateHandler, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	newHandler := func(repo *mockOrderRepo) *CreateHandler {
		svc := order.NewService(designs, mockPromo{}, repo, order.ServiceConfig{
			CourierFee: decimal.RequireFromString("30000"),
		})
		return NewCreateHandler(svc)
	}

	t.Run("creates and returns both keys", func(t *testing.T) {
		repo := &mockOrderRepo{}
		rec := post(newHandler(repo), `{"items":[{"designId":"classic-black","quantity":2,"engraving":"IVAN"}],"delivery":"courier"}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp createResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(1), resp.OrderID)
		assert.NotEmpty(t, resp.OrderKey)
		assert.NotEmpty(t, resp.ManageKey)
		assert.True(t, decimal.RequireFromString("530000").Equal(resp.Total))
		assert.Equal(t, "created", resp.State)
	})

	t.Run("error statuses", func(t *testing.T) {
		tests := []struct {
			name     string
			body     string
			wantCode int
		}{
			{"malformed body", `{"items":`, http.StatusBadRequest},
			{"empty items", `{"items":[]}`, http.StatusBadRequest},
			{"zero quantity", `{"items":[{"designId":"classic-black","quantity":0}]}`, http.StatusBadRequest},
			{"unknown design", `{"items":[{"designId":"unobtainium","quantity":1}]}`, http.StatusUnprocessableEntity},
			{"invalid promo code", `{"items":[{"designId":"classic-black","quantity":1}],"promoCode":"BOGUS"}`, http.StatusUnprocessableEntity},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := post(newHandler(&mockOrderRepo{}), tt.body)
				assert.Equal(t, tt.wantCode, rec.Code)
			})
		}
	})
}

func TestAdminHandler(t *testing.T) {
	newHandler := func(repo *mockOrderRepo, keys *mockAPIKeyRepo) http.Handler {
		svc := order.NewService(&mockCatalog{}, mockPromo{}, repo, order.ServiceConfig{})
		mux := http.NewServeMux()
		mux.Handle("POST /admin/orders/{id}/state", NewAdminHandler(svc, NewAPIKeyAuth(keys, pepper)))
		return mux
	}

	post := func(h http.Handler, target, apiKey, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
		if apiKey != "" {
			req.Header.Set("api_key", apiKey)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("advances the order", func(t *testing.T) {
		repo := &mockOrderRepo{order: storedOrder(), updateOK: true}
		repo.order.State = order.StatePaid
		h := newHandler(repo, seededKeyRepo("secret", auth.ScopeOrders))

		rec := post(h, "/admin/orders/1/state", "secret", `{"state":"production"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp advanceResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "production", resp.State)
		assert.Equal(t, order.StateProduction, repo.order.State)
	})

	t.Run("rejects without a key", func(t *testing.T) {
		h := newHandler(&mockOrderRepo{order: storedOrder()}, seededKeyRepo("secret", auth.ScopeOrders))
		rec := post(h, "/admin/orders/1/state", "", `{"state":"production"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects a key without the orders scope", func(t *testing.T) {
		h := newHandler(&mockOrderRepo{order: storedOrder()}, seededKeyRepo("secret", "reports:read"))
		rec := post(h, "/admin/orders/1/state", "secret", `{"state":"production"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("error statuses", func(t *testing.T) {
		paid := storedOrder()
		paid.State = order.StatePaid

		tests := []struct {
			name     string
			repo     *mockOrderRepo
			target   string
			body     string
			wantCode int
		}{
			{
				name:     "unknown order",
				repo:     &mockOrderRepo{},
				target:   "/admin/orders/9/state",
				body:     `{"state":"production"}`,
				wantCode: http.StatusNotFound,
			},
			{
				name:     "invalid transition",
				repo:     &mockOrderRepo{order: storedOrder()},
				target:   "/admin/orders/1/state",
				body:     `{"state":"shipped"}`,
				wantCode: http.StatusUnprocessableEntity,
			},
			{
				name:     "lost race",
				repo:     &mockOrderRepo{order: paid, updateOK: false},
				target:   "/admin/orders/1/state",
				body:     `{"state":"production"}`,
				wantCode: http.StatusConflict,
			},
			{
				name:     "bad order id",
				repo:     &mockOrderRepo{},
				target:   "/admin/orders/abc/state",
				body:     `{"state":"production"}`,
				wantCode: http.StatusBadRequest,
			},
			{
				name:     "malformed body",
				repo:     &mockOrderRepo{order: storedOrder()},
				target:   "/admin/orders/1/state",
				body:     `{"state":`,
				wantCode: http.StatusBadRequest,
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHandler(tt.repo, seededKeyRepo("secret", auth.ScopeOrders))
				rec := post(h, tt.target, "secret", tt.body)
				assert.Equal(t, tt.wantCode, rec.Code)
			})
		}
	})
}
