package payme

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/cardforge/storefront/internal/domain/order"
	"github.com/cardforge/storefront/internal/domain/payment"
)

// Reconciler is the legacy out-of-band notification endpoint some gateway
// configurations post to instead of, or in addition to, the merchant
// endpoint. It never settles on its own authority: it only re-derives the
// order's paid state from Payment Ledger truth, so it is a no-op whenever
// the merchant adapter already settled the order.
type Reconciler struct {
	orders   order.Repository
	payments payment.Ledger
	merchant http.Handler
}

// NewReconciler constructs the callback endpoint. The merchant handler is
// used to dispatch payloads that turn out to be JSON-RPC calls, so a
// misconfigured cabinet pointing its merchant URL here still works.
func NewReconciler(orders order.Repository, payments payment.Ledger, merchant http.Handler) *Reconciler {
	return &Reconciler{orders: orders, payments: payments, merchant: merchant}
}

type callbackResult struct {
	OK     bool   `json:"ok"`
	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (rc *Reconciler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	// A JSON-RPC-shaped body belongs to the merchant endpoint.
	if isJSONRPC(body) {
		r2 := r.Clone(ctx)
		r2.Body = io.NopCloser(bytes.NewReader(body))
		r2.ContentLength = int64(len(body))
		rc.merchant.ServeHTTP(w, r2)
		return
	}

	orderID, invoiceID := extractRefs(r, body)
	if orderID <= 0 {
		writeJSON(w, lg, http.StatusBadRequest, callbackResult{OK: false, Reason: "order reference missing"})
		return
	}

	pay, err := rc.payments.FindSucceededByOrder(ctx, orderID, payment.ProviderPayme, invoiceID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			writeJSON(w, lg, http.StatusOK, callbackResult{OK: false, Reason: "no settled payment"})
			return
		}
		lg.Error("callback ledger lookup", zap.Int64("order_id", orderID), zap.Error(err))
		writeJSON(w, lg, http.StatusInternalServerError, callbackResult{OK: false, Reason: "internal error"})
		return
	}

	ord, err := rc.orders.GetByID(ctx, orderID)
	if err != nil {
		lg.Error("callback order lookup", zap.Int64("order_id", orderID), zap.Error(err))
		writeJSON(w, lg, http.StatusInternalServerError, callbackResult{OK: false, Reason: "internal error"})
		return
	}

	if ord.State == order.StateCreated {
		// Losing this race to the merchant adapter is fine: the update is
		// guarded by the current state and a miss means someone else already
		// flipped it.
		if _, err := rc.orders.UpdateState(ctx, ord.ID, order.StateCreated, order.StatePaid); err != nil {
			lg.Error("callback state flip", zap.Int64("order_id", orderID), zap.Error(err))
			writeJSON(w, lg, http.StatusInternalServerError, callbackResult{OK: false, Reason: "internal error"})
			return
		}
		ord.State = order.StatePaid
	}

	lg.Info("callback reconciled",
		zap.Int64("order_id", ord.ID),
		zap.Int64("payment_id", pay.ID),
		zap.String("state", string(ord.State)),
	)
	writeJSON(w, lg, http.StatusOK, callbackResult{OK: true, State: string(ord.State)})
}

// isJSONRPC reports whether the body is a JSON object carrying a top-level
// string "method" field.
func isJSONRPC(body []byte) bool {
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return false
	}
	found := false
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key == "method" && d.Next() == jx.String {
			found = true
		}
		return d.Skip()
	})
	return found
}

// extractRefs pulls the order id and, when present, the provider transaction
// id out of the request. Precedence: query string, then form body, then JSON
// body. Bracketed key syntax (account[order_id]) is tolerated in the first
// two sources.
func extractRefs(r *http.Request, body []byte) (orderID int64, invoiceID string) {
	orderKeys := []string{"order_id", "account[order_id]", "ac.order_id"}
	invoiceKeys := []string{"transaction", "id", "account[transaction]"}

	pick := func(get func(string) string) (int64, string) {
		var oid int64
		for _, k := range orderKeys {
			if v := get(k); v != "" {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					oid = n
					break
				}
			}
		}
		var inv string
		for _, k := range invoiceKeys {
			if v := get(k); v != "" {
				inv = v
				break
			}
		}
		return oid, inv
	}

	if oid, inv := pick(r.URL.Query().Get); oid > 0 {
		return oid, inv
	}

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if form, err := url.ParseQuery(string(body)); err == nil {
			if oid, inv := pick(form.Get); oid > 0 {
				return oid, inv
			}
		}
	}

	return extractJSONRefs(body)
}

// extractJSONRefs walks a JSON object for order_id and transaction
// references, including the nested account object, tolerating both string
// and number values.
func extractJSONRefs(body []byte) (orderID int64, invoiceID string) {
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return 0, ""
	}
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "order_id":
			if n, ok, err := decodeFlexInt(d); err != nil {
				return err
			} else if ok && orderID == 0 {
				orderID = n
			}
			return nil
		case "transaction", "id":
			if s, ok, err := decodeFlexString(d); err != nil {
				return err
			} else if ok && invoiceID == "" {
				invoiceID = s
			}
			return nil
		case "account":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "order_id":
					if n, ok, err := decodeFlexInt(d); err != nil {
						return err
					} else if ok && orderID == 0 {
						orderID = n
					}
					return nil
				case "transaction":
					if s, ok, err := decodeFlexString(d); err != nil {
						return err
					} else if ok && invoiceID == "" {
						invoiceID = s
					}
					return nil
				}
				return d.Skip()
			})
		}
		return d.Skip()
	})
	return orderID, invoiceID
}

// decodeFlexInt consumes the next value, accepting a JSON number or a
// numeric string.
func decodeFlexInt(d *jx.Decoder) (int64, bool, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Int64()
		return n, err == nil, err
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return 0, false, err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil, nil
	default:
		return 0, false, d.Skip()
	}
}

// decodeFlexString consumes the next value, accepting a JSON string or
// number.
func decodeFlexString(d *jx.Decoder) (string, bool, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		return s, err == nil, err
	case jx.Number:
		num, err := d.Num()
		if err != nil {
			return "", false, err
		}
		return num.String(), true, nil
	default:
		return "", false, d.Skip()
	}
}

func writeJSON(w http.ResponseWriter, lg *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		lg.Error("write callback response", zap.Error(err))
	}
}
