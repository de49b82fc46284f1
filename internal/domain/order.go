package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TransactionMode is how an order unit is placed against a product.
type TransactionMode string

const (
	TransactionModeLumpsum    TransactionMode = "LUMPSUM"
	TransactionModeSIP        TransactionMode = "SIP"
	TransactionModeSwitch     TransactionMode = "SWITCH"
	TransactionModeRedemption TransactionMode = "REDEMPTION"
)

func (m TransactionMode) String() string { return string(m) }

func (m TransactionMode) IsValid() bool {
	switch m {
	case TransactionModeLumpsum, TransactionModeSIP, TransactionModeSwitch, TransactionModeRedemption:
		return true
	}
	return false
}

func ParseTransactionModeFromString(s string) (TransactionMode, error) {
	mode := TransactionMode(strings.ToUpper(strings.TrimSpace(s)))
	if !mode.IsValid() {
		return "", fmt.Errorf("%w: invalid transaction mode %q", ErrValidation, s)
	}
	return mode, nil
}

// OrderUnit is one order inside a bulk submission.
type OrderUnit struct {
	ClientID        string          `json:"clientId"`
	ProductID       string          `json:"productId"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionMode TransactionMode `json:"transactionMode"`
	FolioNumber     string          `json:"folioNumber,omitempty"`
}

// Validate runs structural checks only; pricing and suitability rules belong to the order service.
func (u OrderUnit) Validate() error {
	if strings.TrimSpace(u.ClientID) == "" {
		return fmt.Errorf("%w: clientId is required", ErrValidation)
	}
	if strings.TrimSpace(u.ProductID) == "" {
		return fmt.Errorf("%w: productId is required", ErrValidation)
	}
	if !u.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	if u.TransactionMode == "" {
		return fmt.Errorf("%w: transactionMode is required", ErrValidation)
	}
	if !u.TransactionMode.IsValid() {
		return fmt.Errorf("%w: invalid transaction mode %q", ErrValidation, u.TransactionMode)
	}
	return nil
}

// OrderRef identifies an order created by the order service.
type OrderRef struct {
	ID        string
	Reference string
}
