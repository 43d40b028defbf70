package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReferralStatus string

const (
	ReferralActive   ReferralStatus = "ACTIVE"
	ReferralDeactive ReferralStatus = "DEACTIVE"
)

// ReferralRelation is an edge referrer -> referred. Soft-deleted on
// termination: status flips and deleted_at is set, the row stays.
type ReferralRelation struct {
	ID         int64          `json:"id"`
	ReferrerID int64          `json:"referrer_id"`
	ReferredID int64          `json:"referred_id"`
	Level      int            `json:"level"`
	Status     ReferralStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
}

// ReferralStats is a derived aggregate, recomputed periodically. Never the
// source of truth for balance.
type ReferralStats struct {
	UserID      int64           `json:"user_id"`
	DirectCount int             `json:"direct_count"`
	TeamCount   int             `json:"team_count"`
	TotalReward decimal.Decimal `json:"total_reward"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
