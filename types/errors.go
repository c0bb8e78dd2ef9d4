package types

import "errors"

// Error is the protocol error type. Code identifies the failure kind,
// Data carries the actionable context (offending id, requested vs.
// available amounts) so callers never have to re-derive state.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds an Error with optional key/value context pairs.
// Keys with no matching value are dropped.
func NewError(code, message string, kv ...any) *Error {
	e := &Error{Code: code, Message: message}
	if len(kv) >= 2 {
		e.Data = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if k, ok := kv[i].(string); ok {
				e.Data[k] = kv[i+1]
			}
		}
	}
	return e
}

// ErrorCode extracts the protocol error code from err, or "" when err
// is not a protocol error.
func ErrorCode(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err is a protocol error carrying code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// Protocol error codes.
const (
	// access / lifecycle
	ErrUnauthorized = "UNAUTHORIZED"
	ErrPaused       = "PAUSED"

	// malformed input
	ErrZeroAmount       = "ZERO_AMOUNT"
	ErrInvalidRecipient = "INVALID_RECIPIENT"

	// attestation / sessions
	ErrInvalidAttestation = "INVALID_ATTESTATION"
	ErrSessionActive      = "SESSION_ALREADY_ACTIVE"
	ErrSessionNotFound    = "SESSION_NOT_FOUND"
	ErrHeartbeatTooEarly  = "HEARTBEAT_TOO_EARLY"

	// emission
	ErrGenesisNotSet        = "GENESIS_NOT_SET"
	ErrLiquidityCapExceeded = "LIQUIDITY_CAP_EXCEEDED"
	ErrMiningCapExceeded    = "MINING_CAP_EXCEEDED"
	ErrSupplyCapExceeded    = "SUPPLY_CAP_EXCEEDED"
	ErrInsufficientBalance  = "INSUFFICIENT_BALANCE"

	// cross-chain settlement
	ErrUntrustedChain  = "UNTRUSTED_CHAIN"
	ErrUntrustedSender = "UNTRUSTED_SENDER"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrTeleportClaimed = "TELEPORT_ALREADY_CLAIMED"

	// payments
	ErrInsufficientPayment = "INSUFFICIENT_PAYMENT"
	ErrSlippage            = "SLIPPAGE"

	// configuration
	ErrConfig = "CONFIG_ERROR"
)
