package errors

import (
	"errors"
)

var (
	ErrUserNotFound             = errors.New("user not found")
	ErrUserAlreadyExists        = errors.New("user already exists")
	ErrNotAMember               = errors.New("user is not a member")
	ErrNilUser                  = errors.New("user is nil")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidInput             = errors.New("invalid input")
	ErrNilTransaction           = errors.New("transaction is nil")
	ErrInvalidTransactionKind   = errors.New("invalid transaction kind")
	ErrProductNotFound          = errors.New("product not found")
	ErrOutOfStock               = errors.New("product out of stock")
	ErrActivityNotFound         = errors.New("recharge activity not found")
	ErrRecordNotFound           = errors.New("record not found")
	ErrAlreadySettled           = errors.New("record already settled")
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	ErrGatewayUnavailable       = errors.New("payment gateway unavailable")
	ErrGatewayRejected          = errors.New("payment gateway rejected request")
	ErrInvalidSignature         = errors.New("invalid callback signature")
	ErrLockTimeout              = errors.New("timed out acquiring lock")
	ErrUnauthorized             = errors.New("unauthorized")
)
