package payme

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/cardforge/storefront/internal/domain/order"
	"github.com/cardforge/storefront/internal/domain/payment"
)

// Notifier delivers a best-effort settlement message. Implementations must
// treat delivery as fire-and-forget; the adapter never lets a notifier
// failure reach the protocol response.
type Notifier interface {
	OrderPaid(ctx context.Context, ord *order.Order, pay *payment.Payment) error
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) OrderPaid(context.Context, *order.Order, *payment.Payment) error { return nil }

// Handler is the inbound JSON-RPC merchant endpoint. It owns no state across
// calls: every method re-reads current truth from the ledgers, so concurrent
// gateway retries coordinate only through storage.
type Handler struct {
	orders   order.Repository
	payments payment.Ledger
	auth     *Authenticator
	notifier Notifier

	// notifyTimeout bounds the detached notification attempt after a
	// successful PerformTransaction.
	notifyTimeout time.Duration
}

// NewHandler constructs the merchant endpoint handler.
func NewHandler(orders order.Repository, payments payment.Ledger, auth *Authenticator, notifier Notifier) *Handler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Handler{
		orders:        orders,
		payments:      payments,
		auth:          auth,
		notifier:      notifier,
		notifyTimeout: 10 * time.Second,
	}
}

// ServeHTTP handles one JSON-RPC call. Success and failure alike are
// answered with HTTP 200 and a well-formed envelope.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeResponse(w, lg, Response{JSONRPC: "2.0", Error: NewError(CodeParseError, "parse error")})
		return
	}

	if _, ok := h.auth.Authenticate(r); !ok {
		lg.Warn("merchant call rejected: bad credentials", zap.String("method", req.Method))
		h.write(w, lg, req.ID, nil, NewError(CodeInsufficientPrivilege, "insufficient privilege"))
		return
	}

	var params Params
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			h.write(w, lg, req.ID, nil, NewError(CodeParseError, "parse error"))
			return
		}
	}

	result, rpcErr := h.dispatch(ctx, req.Method, params)
	if rpcErr != nil {
		lg.Info("merchant call failed",
			zap.String("method", req.Method),
			zap.Int("code", rpcErr.Code),
			zap.String("message", rpcErr.Message),
		)
	}
	h.write(w, lg, req.ID, result, rpcErr)
}

func (h *Handler) dispatch(ctx context.Context, method string, params Params) (any, *Error) {
	switch method {
	case MethodCheckPerformTransaction:
		return h.checkPerform(ctx, params)
	case MethodCreateTransaction:
		return h.create(ctx, params)
	case MethodPerformTransaction:
		return h.perform(ctx, params)
	case MethodCancelTransaction:
		return h.cancel(ctx, params)
	case MethodCheckTransaction:
		return h.check(ctx, params)
	default:
		return nil, NewError(CodeMethodNotFound, "method not found")
	}
}

// checkPerform is pure validation: order exists, is not yet paid, and the
// provider-reported minor-unit amount reconciles with the order total. No
// ledger mutation happens here.
func (h *Handler) checkPerform(ctx context.Context, params Params) (any, *Error) {
	ord, rpcErr := h.loadOrder(ctx, int64(params.Account.OrderID))
	if rpcErr != nil {
		return nil, rpcErr
	}
	if ord.State == order.StatePaid {
		return nil, NewError(CodeOrderAlreadyPaid, "order already paid")
	}
	if params.Amount != payment.MinorUnits(ord.Total) {
		return nil, NewError(CodeInvalidAmount, "invalid amount")
	}
	return CheckPerformResult{Allow: true}, nil
}

// create is idempotent transaction creation. A replay of the same invoice id
// reports the prior outcome; a second distinct invoice id for an order with
// an active transaction is rejected; otherwise the checkout reservation is
// claimed (or a fresh pending row inserted) atomically.
func (h *Handler) create(ctx context.Context, params Params) (any, *Error) {
	if params.ID == "" {
		return nil, NewError(CodeTransactionNotFound, "transaction id required")
	}

	// Duplicate delivery of the same call must be a no-op reporting the
	// prior outcome, regardless of the order's current state.
	if pay, err := h.payments.FindByInvoice(ctx, payment.ProviderPayme, params.ID); err == nil {
		return CreateResult{
			CreateTime:  pay.CreatedAt.UnixMilli(),
			Transaction: strconv.FormatInt(pay.ID, 10),
			State:       pay.State(),
		}, nil
	} else if !errors.Is(err, payment.ErrNotFound) {
		return nil, internalError(ctx, err)
	}

	ord, rpcErr := h.loadOrder(ctx, int64(params.Account.OrderID))
	if rpcErr != nil {
		return nil, rpcErr
	}
	switch ord.State {
	case order.StatePaid:
		return nil, NewError(CodeOrderAlreadyPaid, "order already paid")
	case order.StateCanceled:
		return nil, NewError(CodeOrderUnavailable, "order is canceled")
	}
	if params.Amount != payment.MinorUnits(ord.Total) {
		return nil, NewError(CodeInvalidAmount, "invalid amount")
	}

	pay, err := h.payments.Claim(ctx, payment.ClaimParams{
		OrderID:     ord.ID,
		Provider:    payment.ProviderPayme,
		InvoiceID:   params.ID,
		AmountMinor: params.Amount,
	})
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrOrderBusy):
			return nil, NewError(CodeOrderBusy, "order has an active transaction")
		case errors.Is(err, payment.ErrAmountMismatch):
			return nil, NewError(CodeInvalidAmount, "invalid amount")
		case errors.Is(err, payment.ErrOrderNotPayable):
			return nil, NewError(CodeCannotPerform, "order is not payable")
		case errors.Is(err, order.ErrNotFound):
			return nil, NewError(CodeOrderNotFound, "order not found")
		default:
			return nil, internalError(ctx, err)
		}
	}

	return CreateResult{
		CreateTime:  pay.CreatedAt.UnixMilli(),
		Transaction: strconv.FormatInt(pay.ID, 10),
		State:       pay.State(),
	}, nil
}

// perform is the only call that marks money received. The succeeded status
// and the order's paid state flip inside one atomic ledger unit; replays see
// the stable prior result. Notification runs detached after commit.
func (h *Handler) perform(ctx context.Context, params Params) (any, *Error) {
	pay, settled, err := h.payments.Perform(ctx, payment.ProviderPayme, params.ID)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrNotFound):
			return nil, NewError(CodeTransactionNotFound, "transaction not found")
		case errors.Is(err, payment.ErrNotActive):
			return nil, NewError(CodeCannotPerform, "transaction is not active")
		default:
			return nil, internalError(ctx, err)
		}
	}

	if settled {
		h.notifyPaid(ctx, pay)
	}

	return PerformResult{
		PerformTime: msec(pay.PerformedAt),
		Transaction: strconv.FormatInt(pay.ID, 10),
		State:       pay.State(),
	}, nil
}

// cancel refuses to touch a completed transaction (refund-by-cancel is not
// supported by this flow), replays idempotently on an already canceled one,
// and otherwise flips the pending payment to canceled. The order keeps its
// current state: no automatic reversal.
func (h *Handler) cancel(ctx context.Context, params Params) (any, *Error) {
	pay, err := h.payments.Cancel(ctx, payment.ProviderPayme, params.ID)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrNotFound):
			return nil, NewError(CodeTransactionNotFound, "transaction not found")
		case errors.Is(err, payment.ErrCompleted):
			return nil, NewError(CodeCannotCancel, "transaction already completed")
		default:
			return nil, internalError(ctx, err)
		}
	}

	return CancelResult{
		CancelTime:  msec(pay.CanceledAt),
		Transaction: strconv.FormatInt(pay.ID, 10),
		State:       pay.State(),
	}, nil
}

// check is a read-only lookup by the provider's transaction id.
func (h *Handler) check(ctx context.Context, params Params) (any, *Error) {
	pay, err := h.payments.FindByInvoice(ctx, payment.ProviderPayme, params.ID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return nil, NewError(CodeTransactionNotFound, "transaction not found")
		}
		return nil, internalError(ctx, err)
	}

	return CheckResult{
		CreateTime:  pay.CreatedAt.UnixMilli(),
		PerformTime: msec(pay.PerformedAt),
		CancelTime:  msec(pay.CanceledAt),
		Transaction: strconv.FormatInt(pay.ID, 10),
		State:       pay.State(),
		Reason:      nil,
	}, nil
}

func (h *Handler) loadOrder(ctx context.Context, id int64) (*order.Order, *Error) {
	if id <= 0 {
		return nil, NewError(CodeOrderNotFound, "order not found")
	}
	ord, err := h.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, NewError(CodeOrderNotFound, "order not found")
		}
		return nil, internalError(ctx, err)
	}
	return ord, nil
}

// notifyPaid launches the settlement notification detached from the request
// lifecycle. The gateway's response must not wait on, or ever observe, the
// notifier.
func (h *Handler) notifyPaid(ctx context.Context, pay *payment.Payment) {
	lg := zctx.From(ctx)
	ord, err := h.orders.GetByID(ctx, pay.OrderID)
	if err != nil {
		lg.Warn("load order for notification", zap.Int64("order_id", pay.OrderID), zap.Error(err))
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.notifyTimeout)
	go func() {
		defer cancel()
		if err := h.notifier.OrderPaid(notifyCtx, ord, pay); err != nil {
			lg.Warn("settlement notification failed",
				zap.Int64("order_id", ord.ID),
				zap.Error(err),
			)
		}
	}()
}

// internalError logs the underlying failure and returns the generic internal
// error. Ledger failures never leak as transport-level errors: the gateway
// sees a well-formed envelope and may retry, and no method has partially
// mutated state when it fails.
func internalError(ctx context.Context, err error) *Error {
	zctx.From(ctx).Error("merchant call internal error", zap.Error(err))
	return NewError(CodeInternalError, "internal error")
}

func (h *Handler) write(w http.ResponseWriter, lg *zap.Logger, id int64, result any, rpcErr *Error) {
	writeResponse(w, lg, Response{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr})
}

func writeResponse(w http.ResponseWriter, lg *zap.Logger, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		lg.Error("write merchant response", zap.Error(err))
	}
}
