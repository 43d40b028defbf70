package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyMining tracks accrued mining per user per calendar day. One row per
// (user_id, mining_date); a new date produces a new row, old rows stay.
type DailyMining struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	MiningDate   time.Time       `json:"mining_date"`
	MiningAmount decimal.Decimal `json:"mining_amount"`
	ResetAt      time.Time       `json:"reset_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type MiningLevel struct {
	Level          int             `json:"level"`
	DailyMaxMining decimal.Decimal `json:"daily_max_mining"`
}
