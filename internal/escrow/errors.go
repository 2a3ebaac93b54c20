package escrow

import "errors"

// Settlement errors. Operations validate before mutating, so any of these
// means the deal record was left untouched.
var (
	ErrUnauthorized      = errors.New("escrow: caller is not authorized for this operation")
	ErrInvalidStatus     = errors.New("escrow: current status does not permit this operation")
	ErrInvalidAmount     = errors.New("escrow: amount must be positive")
	ErrInvalidTimeout    = errors.New("escrow: dispute timeout must be between 1 and 90 days")
	ErrInvalidWorkLink   = errors.New("escrow: work link cannot be empty")
	ErrWorkLinkTooLong   = errors.New("escrow: work link is too long")
	ErrInsufficientFunds = errors.New("escrow: insufficient funds to deposit")
	ErrRecordNotFound    = errors.New("escrow: deal not found")
	ErrDealExists        = errors.New("escrow: an open deal already exists for this pair")
)
