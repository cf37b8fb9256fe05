package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardforge/storefront/internal/domain/catalog"
	"github.com/cardforge/storefront/internal/promo"
)

// --- Mock implementations ---

type mockCatalog struct {
	designs map[string]catalog.Design
	err     error
}

func newCatalog(designs ...catalog.Design) *mockCatalog {
	m := &mockCatalog{designs: make(map[string]catalog.Design)}
	for _, d := range designs {
		m.designs[d.ID] = d
	}
	return m
}

func (m *mockCatalog) List(_ context.Context) ([]catalog.Design, error) {
	out := make([]catalog.Design, 0, len(m.designs))
	for _, d := range m.designs {
		out = append(out, d)
	}
	return out, m.err
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Design, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []catalog.Design
	for _, id := range ids {
		if d, ok := m.designs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

type mockPromo struct {
	discount decimal.Decimal
	err      error
}

func (m *mockPromo) Validate(_ context.Context, _ string, _ decimal.Decimal) (decimal.Decimal, error) {
	return m.discount, m.err
}

type mockRepo struct {
	last      *Order
	createErr error

	order     *Order
	updateOK  bool
	updateErr error
}

func (m *mockRepo) Create(_ context.Context, o *Order) error {
	m.last = o
	o.ID = 1
	return m.createErr
}

func (m *mockRepo) GetByID(_ context.Context, _ int64) (*Order, error) {
	if m.order == nil {
		return nil, ErrNotFound
	}
	cp := *m.order
	return &cp, nil
}

func (m *mockRepo) GetByKey(_ context.Context, _ string) (*Order, error) {
	return m.GetByID(context.Background(), 0)
}

func (m *mockRepo) UpdateState(_ context.Context, _ int64, _, to State) (bool, error) {
	if m.updateErr != nil {
		return false, m.updateErr
	}
	if m.updateOK && m.order != nil {
		m.order.State = to
	}
	return m.updateOK, nil
}

// --- Helpers ---

func testDesign(id, name, price string) catalog.Design {
	return catalog.Design{
		ID:     id,
		Name:   name,
		Metal:  "stainless",
		Price:  decimal.RequireFromString(price),
		Active: true,
	}
}

func eq(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// --- Tests ---

func TestCreate(t *testing.T) {
	black := testDesign("classic-black", "Classic Black", "250000")
	gold := testDesign("gold-24k", "24K Gold Plated", "900000")
	courierFee := decimal.RequireFromString("30000")

	tests := []struct {
		name         string
		req          CreateRequest
		promo        *mockPromo
		wantErr      error
		wantSubtotal string
		wantFee      string
		wantDiscount string
		wantTotal    string
		wantState    State
	}{
		{
			name: "single item pickup",
			req: CreateRequest{
				Items:    []ItemRequest{{DesignID: "classic-black", Quantity: 1}},
				Delivery: DeliveryPickup,
			},
			promo:        &mockPromo{},
			wantSubtotal: "250000",
			wantFee:      "0",
			wantDiscount: "0",
			wantTotal:    "250000",
			wantState:    StateCreated,
		},
		{
			name: "multiple items with courier fee",
			req: CreateRequest{
				Items: []ItemRequest{
					{DesignID: "classic-black", Quantity: 2, Engraving: "IVAN"},
					{DesignID: "gold-24k", Quantity: 1},
				},
				Delivery: DeliveryCourier,
			},
			promo:        &mockPromo{},
			wantSubtotal: "1400000",
			wantFee:      "30000",
			wantDiscount: "0",
			wantTotal:    "1430000",
			wantState:    StateCreated,
		},
		{
			name: "promo discount is subtracted",
			req: CreateRequest{
				Items:     []ItemRequest{{DesignID: "classic-black", Quantity: 1}},
				Delivery:  DeliveryPickup,
				PromoCode: "WELCOME10",
			},
			promo:        &mockPromo{discount: decimal.RequireFromString("25000")},
			wantSubtotal: "250000",
			wantFee:      "0",
			wantDiscount: "25000",
			wantTotal:    "225000",
			wantState:    StateCreated,
		},
		{
			name: "oversized discount floors total at zero",
			req: CreateRequest{
				Items:     []ItemRequest{{DesignID: "classic-black", Quantity: 1}},
				Delivery:  DeliveryPickup,
				PromoCode: "HUGE",
			},
			promo:        &mockPromo{discount: decimal.RequireFromString("999999")},
			wantSubtotal: "250000",
			wantFee:      "0",
			wantDiscount: "999999",
			wantTotal:    "0",
			wantState:    StateCreated,
		},
		{
			name: "pay on delivery starts in cash state",
			req: CreateRequest{
				Items:         []ItemRequest{{DesignID: "classic-black", Quantity: 1}},
				Delivery:      DeliveryCourier,
				PayOnDelivery: true,
			},
			promo:        &mockPromo{},
			wantSubtotal: "250000",
			wantFee:      "30000",
			wantDiscount: "0",
			wantTotal:    "280000",
			wantState:    StateCash,
		},
		{
			name:    "empty items",
			req:     CreateRequest{},
			promo:   &mockPromo{},
			wantErr: ErrEmptyItems,
		},
		{
			name: "zero quantity",
			req: CreateRequest{
				Items: []ItemRequest{{DesignID: "classic-black", Quantity: 0}},
			},
			promo:   &mockPromo{},
			wantErr: ErrInvalidQuantity,
		},
		{
			name: "unknown design",
			req: CreateRequest{
				Items: []ItemRequest{{DesignID: "unobtainium", Quantity: 1}},
			},
			promo:   &mockPromo{},
			wantErr: catalog.ErrNotFound,
		},
		{
			name: "invalid promo code",
			req: CreateRequest{
				Items:     []ItemRequest{{DesignID: "classic-black", Quantity: 1}},
				PromoCode: "BOGUS",
			},
			promo:   &mockPromo{err: promo.ErrInvalidCode},
			wantErr: promo.ErrInvalidCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepo{}
			svc := NewService(newCatalog(black, gold), tt.promo, repo,
				ServiceConfig{CourierFee: courierFee})

			o, err := svc.Create(context.Background(), tt.req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, repo.last, "failed create must not persist")
				return
			}
			require.NoError(t, err)

			eq(t, tt.wantSubtotal, o.Subtotal)
			eq(t, tt.wantFee, o.DeliveryFee)
			eq(t, tt.wantDiscount, o.Discount)
			eq(t, tt.wantTotal, o.Total)
			assert.Equal(t, tt.wantState, o.State)
			assert.Equal(t, "UZS", o.Currency)
			assert.NotEmpty(t, o.OrderKey)
			assert.NotEmpty(t, o.ManageKey)
			assert.NotEqual(t, o.OrderKey, o.ManageKey)
			require.NotNil(t, repo.last)
		})
	}
}

func TestCreate_InactiveDesign(t *testing.T) {
	retired := testDesign("retired", "Retired", "100000")
	retired.Active = false
	svc := NewService(newCatalog(retired), &mockPromo{}, &mockRepo{}, ServiceConfig{})

	_, err := svc.Create(context.Background(), CreateRequest{
		Items: []ItemRequest{{DesignID: "retired", Quantity: 1}},
	})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCreate_RepoError(t *testing.T) {
	d := testDesign("classic-black", "Classic Black", "250000")
	repo := &mockRepo{createErr: errors.New("db write failed")}
	svc := NewService(newCatalog(d), &mockPromo{}, repo, ServiceConfig{})

	_, err := svc.Create(context.Background(), CreateRequest{
		Items: []ItemRequest{{DesignID: "classic-black", Quantity: 1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
}

func TestAdvance(t *testing.T) {
	t.Run("valid transition", func(t *testing.T) {
		repo := &mockRepo{order: &Order{ID: 1, State: StatePaid}, updateOK: true}
		svc := NewService(newCatalog(), &mockPromo{}, repo, ServiceConfig{})

		o, err := svc.Advance(context.Background(), 1, StateProduction)
		require.NoError(t, err)
		assert.Equal(t, StateProduction, o.State)
	})

	t.Run("invalid transition", func(t *testing.T) {
		repo := &mockRepo{order: &Order{ID: 1, State: StateCreated}, updateOK: true}
		svc := NewService(newCatalog(), &mockPromo{}, repo, ServiceConfig{})

		_, err := svc.Advance(context.Background(), 1, StateShipped)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("lost race surfaces as conflict", func(t *testing.T) {
		repo := &mockRepo{order: &Order{ID: 1, State: StatePaid}, updateOK: false}
		svc := NewService(newCatalog(), &mockPromo{}, repo, ServiceConfig{})

		_, err := svc.Advance(context.Background(), 1, StateProduction)
		require.ErrorIs(t, err, ErrStateConflict)
	})

	t.Run("unknown order", func(t *testing.T) {
		svc := NewService(newCatalog(), &mockPromo{}, &mockRepo{}, ServiceConfig{})
		_, err := svc.Advance(context.Background(), 1, StatePaid)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateCreated, StatePaid},
		{StateCreated, StateCash},
		{StateCreated, StateCanceled},
		{StatePaid, StateProduction},
		{StateCash, StateProduction},
		{StateProduction, StateShipped},
		{StateShipped, StateDone},
	}
	for _, tt := range allowed {
		assert.True(t, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	denied := []struct{ from, to State }{
		{StatePaid, StateCreated},
		{StatePaid, StateCanceled},
		{StateCanceled, StatePaid},
		{StateDone, StateShipped},
		{StateCreated, StateShipped},
		{StateShipped, StateProduction},
	}
	for _, tt := range denied {
		assert.False(t, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPayable(t *testing.T) {
	assert.True(t, StateCreated.Payable())
	assert.True(t, StateCash.Payable())
	assert.False(t, StatePaid.Payable())
	assert.False(t, StateCanceled.Payable())
}
