// Package payme implements the Payme (Paycom) merchant side of the
// settlement subsystem: the inbound JSON-RPC endpoint the gateway calls,
// the hosted-checkout link builder, and the out-of-band callback reconciler.
package payme

import (
	"encoding/json"
	"strconv"
	"time"
)

// Merchant API method names.
const (
	MethodCheckPerformTransaction = "CheckPerformTransaction"
	MethodCreateTransaction       = "CreateTransaction"
	MethodPerformTransaction      = "PerformTransaction"
	MethodCancelTransaction       = "CancelTransaction"
	MethodCheckTransaction        = "CheckTransaction"
)

// Error codes from the provider's published negative-integer space. The
// gateway retries any response it cannot interpret, so these exact values
// are an interoperability requirement.
const (
	CodeParseError            = -32700
	CodeMethodNotFound        = -32601
	CodeInsufficientPrivilege = -32504
	CodeInternalError         = -32400

	CodeInvalidAmount       = -31001
	CodeTransactionNotFound = -31003
	CodeCannotCancel        = -31007
	CodeCannotPerform       = -31008

	CodeOrderNotFound    = -31050
	CodeOrderAlreadyPaid = -31051
	CodeOrderUnavailable = -31052
	CodeOrderBusy        = -31099
)

// Request is one inbound JSON-RPC call.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Params covers the parameter shapes of all five methods; unused fields are
// left at their zero value by the decoder.
type Params struct {
	ID      string  `json:"id"`
	Time    int64   `json:"time"`
	Amount  int64   `json:"amount"`
	Account Account `json:"account"`
	Reason  *int    `json:"reason"`
}

// Account identifies the order a transaction settles. Some gateway
// configurations send order_id as a JSON number, others as a string.
type Account struct {
	OrderID FlexInt64 `json:"order_id"`
}

// FlexInt64 decodes from either a JSON number or a numeric string.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		var err error
		s, err = strconv.Unquote(s)
		if err != nil {
			return err
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = FlexInt64(v)
	return nil
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// NewError builds a protocol error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Response is the outbound JSON-RPC envelope. Every outcome, success or
// failure, is returned in this shape with HTTP 200; the gateway treats
// anything else as a transport failure and retries.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// CheckPerformResult answers CheckPerformTransaction.
type CheckPerformResult struct {
	Allow bool `json:"allow"`
}

// CreateResult answers CreateTransaction.
type CreateResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

// PerformResult answers PerformTransaction.
type PerformResult struct {
	PerformTime int64  `json:"perform_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

// CancelResult answers CancelTransaction.
type CancelResult struct {
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

// CheckResult answers CheckTransaction.
type CheckResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

// msec converts a timestamp to the protocol's millisecond representation;
// nil maps to 0.
func msec(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}
