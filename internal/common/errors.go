package common

import "fmt"

// ErrorCode is the stable, client-facing error vocabulary from spec.md §6/§7.
// The core never leaks internal identifiers through it — Message is
// free-form but Code is what clients branch on.
type ErrorCode string

const (
	CodeInvalidSymbol          ErrorCode = "InvalidSymbol"
	CodeInvalidPrice           ErrorCode = "InvalidPrice"
	CodeInvalidQty             ErrorCode = "InvalidQty"
	CodeUnknownType            ErrorCode = "UnknownType"
	CodeWouldCross             ErrorCode = "WouldCross"
	CodeWouldNotFill           ErrorCode = "WouldNotFill"
	CodeInsufficientFunds      ErrorCode = "InsufficientFunds"
	CodeNotFound               ErrorCode = "NotFound"
	CodeAlreadyTerminal        ErrorCode = "AlreadyTerminal"
	CodeRateLimited            ErrorCode = "RateLimited"
	CodeUnauthorized           ErrorCode = "Unauthorized"
	CodeDuplicateClientOrderID ErrorCode = "DuplicateClientOrderId"
	CodeInconsistent           ErrorCode = "Inconsistent"
	CodeLagged                 ErrorCode = "Lagged"
	CodeSymbolHalted           ErrorCode = "SymbolHalted"
)

// APIError is the synchronous rejection shape returned from Gateway
// operations. It is safe to serialize directly onto the wire.
type APIError struct {
	Code    ErrorCode
	Message string
	// OrderID is populated only for CodeDuplicateClientOrderId, carrying
	// the original order's id per spec.md §7.
	OrderID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func DuplicateClientOrderID(originalOrderID string) *APIError {
	return &APIError{
		Code:    CodeDuplicateClientOrderID,
		Message: "client_order_id already used",
		OrderID: originalOrderID,
	}
}

// InconsistentError marks a violated internal invariant (e.g. reserved
// underflow in the ledger). It is fatal to the symbol task that raised it;
// spec.md §7 requires the engine to halt only that symbol, not the process.
type InconsistentError struct {
	Reason string
}

func (e *InconsistentError) Error() string {
	return fmt.Sprintf("inconsistent: %s", e.Reason)
}

func NewInconsistentError(reason string) *InconsistentError {
	return &InconsistentError{Reason: reason}
}
