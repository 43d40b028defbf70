package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type WalletStatus string

const (
	WalletActive WalletStatus = "ACTIVE"
	WalletFrozen WalletStatus = "FROZEN"
)

// Wallet is a per-user, per-currency balance record. Balance fields are only
// ever written through the ledger service; locked_balance <= balance holds at
// all times.
type Wallet struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	CurrencyID    int32           `json:"currency_id"`
	Address       string          `json:"address,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
	LockedBalance decimal.Decimal `json:"locked_balance"`
	Status        WalletStatus    `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (w Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.LockedBalance)
}
