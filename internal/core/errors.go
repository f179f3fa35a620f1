package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both a missing expense and an expense owned by a
	// different user. Callers cannot tell the two apart.
	ErrNotFound = errors.New("expense not found")

	ErrDuplicateUser      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrInsufficientFunds is the errors.Is target for InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrNegativeBalance = errors.New("balance cannot be negative")
)

// InsufficientFundsError reports a rejected debit together with the balance
// that was actually available for it. For updates Available is the projected
// balance after reversing the old leg, not the raw current balance.
type InsufficientFundsError struct {
	Method    PaymentMethod
	Available Money
	Required  Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s balance: have %.2f, need %.2f",
		e.Method, e.Available.Rupees(), e.Required.Rupees())
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
