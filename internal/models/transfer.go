package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferKind string

const (
	KindInternal       TransferKind = "INTERNAL"
	KindReferralReward TransferKind = "REFERRAL_REWARD"
	KindExternal       TransferKind = "EXTERNAL"
	KindSwap           TransferKind = "SWAP"
	KindExchange       TransferKind = "EXCHANGE"
	KindTokenDeposit   TransferKind = "TOKEN_DEPOSIT"
	KindPaymentDeposit TransferKind = "PAYMENT_DEPOSIT"
)

type TransferStatus string

const (
	TransferPending    TransferStatus = "PENDING"
	TransferProcessing TransferStatus = "PROCESSING"
	TransferSubmitted  TransferStatus = "SUBMITTED"
	TransferCompleted  TransferStatus = "COMPLETED"
	TransferConfirmed  TransferStatus = "CONFIRMED"
	TransferFailed     TransferStatus = "FAILED"
	TransferCancelled  TransferStatus = "CANCELLED"
)

func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferCompleted, TransferConfirmed, TransferFailed, TransferCancelled:
		return true
	}
	return false
}

// Transfer is the tagged-variant record shared by every value-moving
// operation. The header is common; kind-specific fields are pointers and stay
// nil for kinds that do not use them. Rows are never deleted; terminal
// transfers are the audit trail.
type Transfer struct {
	ID             string          `json:"transfer_id"`
	OrderNumber    string          `json:"order_number"`
	Kind           TransferKind    `json:"kind"`
	Status         TransferStatus  `json:"status"`
	IdempotencyKey string          `json:"-"`
	UserID         int64           `json:"user_id"`
	CounterpartyID *int64          `json:"counterparty_id,omitempty"`
	FromWalletID   *int64          `json:"from_wallet_id,omitempty"`
	ToWalletID     *int64          `json:"to_wallet_id,omitempty"`
	CurrencyID     int32           `json:"currency_id"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	Memo           string          `json:"memo,omitempty"`
	RequestIP      string          `json:"-"`

	// swap / exchange breakdown, persisted at submission time for audit
	ToCurrencyID *int32           `json:"to_currency_id,omitempty"`
	ToAmount     *decimal.Decimal `json:"to_amount,omitempty"`
	Rate         *decimal.Decimal `json:"rate,omitempty"`
	Spread       *decimal.Decimal `json:"spread,omitempty"`

	// external withdrawal
	ToAddress             *string `json:"to_address,omitempty"`
	Chain                 *string `json:"chain,omitempty"`
	TxHash                *string `json:"tx_hash,omitempty"`
	Confirmations         int     `json:"confirmations,omitempty"`
	RequiredConfirmations int     `json:"required_confirmations,omitempty"`
	RetryCount            int     `json:"retry_count,omitempty"`

	// deposits
	SenderAddress *string          `json:"sender_address,omitempty"`
	DepositMethod *string          `json:"deposit_method,omitempty"`
	PaymentAmount *decimal.Decimal `json:"payment_amount,omitempty"`

	ErrorCode    *string    `json:"error_code,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	TerminalAt   *time.Time `json:"terminal_at,omitempty"`
}
