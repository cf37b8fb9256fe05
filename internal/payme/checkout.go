package payme

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cardforge/storefront/internal/domain/order"
	"github.com/cardforge/storefront/internal/domain/payment"
)

// Checkout link builder errors.
var (
	ErrOrderNotPayable = errors.New("order is not payable")
	ErrAmountMismatch  = errors.New("amount does not match order total")
)

// CheckoutConfig holds the merchant-side parameters of the hosted checkout
// page.
type CheckoutConfig struct {
	// MerchantID is the cabinet-issued merchant identifier (the m= field).
	MerchantID string
	// CheckoutHost is the hosted checkout base URL.
	CheckoutHost string
	// CallbackURL is this service's merchant endpoint, advertised to the
	// gateway.
	CallbackURL string
	// ReturnURL is where the customer lands after paying.
	ReturnURL string
	// Debug exposes the computed amount and URL as JSON instead of
	// redirecting. Diagnostics only; off in production.
	Debug bool
}

// Builder reserves a pending payment for an order and produces the redirect
// URL to the provider's hosted checkout page. The reservation pins down
// amount and return URL before the gateway assigns its own transaction id,
// so a later CreateTransaction has a deterministic row to claim.
type Builder struct {
	orders   order.Repository
	payments payment.Ledger
	cfg      CheckoutConfig
}

// NewBuilder constructs a checkout link Builder.
func NewBuilder(orders order.Repository, payments payment.Ledger, cfg CheckoutConfig) *Builder {
	return &Builder{orders: orders, payments: payments, cfg: cfg}
}

// BuildRequest is the input for building a checkout link. Amount, when
// non-nil, is a client-supplied major-unit sanity check against stale cart
// state; it never overrides the ledger total.
type BuildRequest struct {
	OrderID int64
	Amount  *decimal.Decimal
	Lang    string
}

// BuildResult holds the computed redirect and the reserved payment.
type BuildResult struct {
	RedirectURL string
	AmountMajor decimal.Decimal
	AmountMinor int64
	Payment     *payment.Payment
}

// Build loads the order, validates payability and the optional client
// amount, upserts the single reserved pending payment, and encodes the
// provider checkout URL. The only side effect is the reservation upsert;
// there is no gateway call, the customer's browser performs the redirect.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	ord, err := b.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !ord.State.Payable() {
		return nil, errors.Wrapf(ErrOrderNotPayable, "order %d state %s", ord.ID, ord.State)
	}

	amountMajor := ord.Total.Round(0)
	if req.Amount != nil && !req.Amount.Round(0).Equal(amountMajor) {
		return nil, errors.Wrapf(ErrAmountMismatch, "client sent %s, order total %s", req.Amount, amountMajor)
	}

	pay, err := b.payments.Reserve(ctx, ord.ID, payment.ProviderPayme, amountMajor, ord.Currency, b.cfg.ReturnURL)
	if err != nil {
		return nil, errors.Wrap(err, "reserve payment")
	}

	lang := req.Lang
	if lang == "" {
		lang = ord.Lang
	}
	amountMinor := payment.MinorUnits(ord.Total)

	// Single delimited parameter string, base64-encoded into the URL path,
	// as the hosted checkout page expects.
	fields := []string{
		"m=" + b.cfg.MerchantID,
		"ac.order_id=" + strconv.FormatInt(ord.ID, 10),
		"ac.phone=" + maskPhone(ord.Phone),
		"a=" + strconv.FormatInt(amountMinor, 10),
		"l=" + lang,
		"c=" + b.cfg.ReturnURL,
		"cb=" + b.cfg.CallbackURL,
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(strings.Join(fields, ";")))

	return &BuildResult{
		RedirectURL: strings.TrimRight(b.cfg.CheckoutHost, "/") + "/" + encoded,
		AmountMajor: amountMajor,
		AmountMinor: amountMinor,
		Payment:     pay,
	}, nil
}

// maskPhone keeps only the trailing four digits visible.
func maskPhone(phone string) string {
	digits := make([]byte, 0, len(phone))
	for i := range len(phone) {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) <= 4 {
		return string(digits)
	}
	masked := make([]byte, len(digits))
	for i := range digits {
		if i < len(digits)-4 {
			masked[i] = '*'
		} else {
			masked[i] = digits[i]
		}
	}
	return string(masked)
}

// ServeHTTP is the customer-facing checkout endpoint: it validates the query
// parameters, builds the link, and responds with a 302 to the hosted page
// (or a JSON diagnostic document in debug mode).
func (b *Builder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)
	q := r.URL.Query()

	orderID, err := strconv.ParseInt(q.Get("order_id"), 10, 64)
	if err != nil || orderID <= 0 {
		http.Error(w, "order_id is required", http.StatusBadRequest)
		return
	}

	req := BuildRequest{OrderID: orderID, Lang: q.Get("lang")}
	if raw := q.Get("amount"); raw != "" {
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			http.Error(w, "invalid amount", http.StatusBadRequest)
			return
		}
		req.Amount = &amt
	}

	result, err := b.Build(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case errors.Is(err, ErrOrderNotPayable):
			http.Error(w, "order is not payable", http.StatusConflict)
		case errors.Is(err, ErrAmountMismatch):
			http.Error(w, "amount mismatch", http.StatusConflict)
		default:
			lg.Error("build checkout link", zap.Int64("order_id", orderID), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	if b.cfg.Debug && q.Get("debug") == "1" {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"url":          result.RedirectURL,
			"amount":       result.AmountMajor,
			"amount_minor": result.AmountMinor,
		}); err != nil {
			lg.Error("write checkout debug response", zap.Error(err))
		}
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}
