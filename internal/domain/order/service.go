package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cardforge/storefront/internal/domain/catalog"
	"github.com/cardforge/storefront/internal/promo"
)

// Sentinel errors for order creation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// DeliveryMethod selects how the finished cards reach the customer.
type DeliveryMethod string

const (
	DeliveryPickup  DeliveryMethod = "pickup"
	DeliveryCourier DeliveryMethod = "courier"
)

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	Items         []ItemRequest
	Delivery      DeliveryMethod
	PromoCode     string
	CustomerName  string
	Phone         string
	Lang          string
	PayOnDelivery bool
}

// ItemRequest is a requested line item before pricing.
type ItemRequest struct {
	DesignID  string
	Quantity  int
	Engraving string
}

// ServiceConfig holds pricing knobs that are deployment configuration rather
// than catalog data.
type ServiceConfig struct {
	CourierFee decimal.Decimal
	Currency   string
}

// Service encapsulates order creation and lifecycle advancement.
type Service struct {
	designs catalog.Repository
	promos  promo.Validator
	orders  Repository
	cfg     ServiceConfig
}

// NewService creates an order Service with the required domain dependencies.
func NewService(designs catalog.Repository, promos promo.Validator, orders Repository, cfg ServiceConfig) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "UZS"
	}
	return &Service{
		designs: designs,
		promos:  promos,
		orders:  orders,
		cfg:     cfg,
	}
}

// Create prices the requested items against the catalog, applies delivery fee
// and promo discount, and persists the order. The derived invariant
// total = subtotal + deliveryFee - discount holds on the stored row, floored
// at zero. Orders paid on delivery start in the cash state.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		ids[i] = item.DesignID
	}

	fetched, err := s.designs.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get designs")
	}
	designMap := make(map[string]catalog.Design, len(fetched))
	for _, d := range fetched {
		designMap[d.ID] = d
	}

	items := make([]Item, len(req.Items))
	subtotal := decimal.Zero
	for i, item := range req.Items {
		d, ok := designMap[item.DesignID]
		if !ok || !d.Active {
			return nil, catalog.ErrNotFound
		}
		items[i] = Item{
			DesignID:  d.ID,
			Name:      d.Name,
			Quantity:  item.Quantity,
			UnitPrice: d.Price,
			Engraving: item.Engraving,
		}
		subtotal = subtotal.Add(d.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	deliveryFee := decimal.Zero
	if req.Delivery == DeliveryCourier {
		deliveryFee = s.cfg.CourierFee
	}

	discount := decimal.Zero
	if req.PromoCode != "" {
		discount, err = s.promos.Validate(ctx, req.PromoCode, subtotal)
		if err != nil {
			return nil, errors.Wrap(err, "validate promo code")
		}
	}

	total := subtotal.Add(deliveryFee).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	total = total.Round(2)

	state := StateCreated
	if req.PayOnDelivery {
		state = StateCash
	}

	o := &Order{
		OrderKey:     uuid.New().String(),
		ManageKey:    uuid.New().String(),
		CustomerName: req.CustomerName,
		Phone:        req.Phone,
		Lang:         req.Lang,
		Items:        items,
		Subtotal:     subtotal.Round(2),
		DeliveryFee:  deliveryFee.Round(2),
		Discount:     discount.Round(2),
		Total:        total,
		Currency:     s.cfg.Currency,
		State:        state,
		PromoCode:    req.PromoCode,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// Advance moves the order to the requested state after validating the
// transition against the lifecycle. The underlying update is guarded by the
// current state, so a concurrent transition surfaces as ErrStateConflict
// rather than silently overwriting.
func (s *Service) Advance(ctx context.Context, id int64, to State) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.State, to) {
		return nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.State, to)
	}

	ok, err := s.orders.UpdateState(ctx, id, o.State, to)
	if err != nil {
		return nil, errors.Wrap(err, "update state")
	}
	if !ok {
		return nil, ErrStateConflict
	}

	o.State = to
	return o, nil
}
