package domain

import "errors"

// Sentinel errors surfaced by the ledger engine. Rejections are local and
// deterministic; ErrStorage means validation passed but the append failed.
var (
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidSide        = errors.New("invalid side")
	ErrSymbolNotFound     = errors.New("symbol not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrStorage            = errors.New("storage error")
	ErrUnknownAccount     = errors.New("unknown account")
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidInput       = errors.New("invalid input")
)

// RejectReason tags why a proposed trade was not committed.
type RejectReason string

const (
	ReasonInvalidQuantity    RejectReason = "InvalidQuantity"
	ReasonInvalidSide        RejectReason = "InvalidSide"
	ReasonSymbolNotFound     RejectReason = "SymbolNotFound"
	ReasonInsufficientFunds  RejectReason = "InsufficientFunds"
	ReasonInsufficientShares RejectReason = "InsufficientShares"
)

// Err maps the reason to its sentinel error.
func (r RejectReason) Err() error {
	switch r {
	case ReasonInvalidQuantity:
		return ErrInvalidQuantity
	case ReasonInvalidSide:
		return ErrInvalidSide
	case ReasonSymbolNotFound:
		return ErrSymbolNotFound
	case ReasonInsufficientFunds:
		return ErrInsufficientFunds
	case ReasonInsufficientShares:
		return ErrInsufficientShares
	case "":
		return nil
	default:
		return errors.New(string(r))
	}
}

// ReasonFor maps a rejection sentinel back to its reason. It returns false
// for errors that are not rejections (storage failures, context errors).
func ReasonFor(err error) (RejectReason, bool) {
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		return ReasonInvalidQuantity, true
	case errors.Is(err, ErrInvalidSide):
		return ReasonInvalidSide, true
	case errors.Is(err, ErrSymbolNotFound):
		return ReasonSymbolNotFound, true
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds, true
	case errors.Is(err, ErrInsufficientShares):
		return ReasonInsufficientShares, true
	}
	return "", false
}
