package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/models"
)

type transfersRepo struct{ pool *pgxpool.Pool }

const transferCols = `transfer_id, order_number, kind, status, COALESCE(idempotency_key,''), user_id,
	counterparty_id, from_wallet_id, to_wallet_id, currency_id, amount, fee, COALESCE(memo,''), COALESCE(request_ip,''),
	to_currency_id, to_amount, rate, spread,
	to_address, chain, tx_hash, confirmations, required_confirmations, retry_count,
	sender_address, deposit_method, payment_amount,
	error_code, error_message, created_at, terminal_at`

func scanTransfer(row pgx.Row) (models.Transfer, error) {
	var t models.Transfer
	err := row.Scan(
		&t.ID, &t.OrderNumber, &t.Kind, &t.Status, &t.IdempotencyKey, &t.UserID,
		&t.CounterpartyID, &t.FromWalletID, &t.ToWalletID, &t.CurrencyID, &t.Amount, &t.Fee, &t.Memo, &t.RequestIP,
		&t.ToCurrencyID, &t.ToAmount, &t.Rate, &t.Spread,
		&t.ToAddress, &t.Chain, &t.TxHash, &t.Confirmations, &t.RequiredConfirmations, &t.RetryCount,
		&t.SenderAddress, &t.DepositMethod, &t.PaymentAmount,
		&t.ErrorCode, &t.ErrorMessage, &t.CreatedAt, &t.TerminalAt,
	)
	return t, err
}

func (r *transfersRepo) Create(ctx context.Context, t models.Transfer) (models.Transfer, bool, error) {
	var key *string
	if t.IdempotencyKey != "" {
		key = &t.IdempotencyKey
	}
	row := q(ctx, r.pool).QueryRow(ctx, `
INSERT INTO transfers (
  transfer_id, order_number, kind, status, idempotency_key, user_id,
  counterparty_id, from_wallet_id, to_wallet_id, currency_id, amount, fee, memo, request_ip,
  to_currency_id, to_amount, rate, spread,
  to_address, chain, required_confirmations,
  sender_address, deposit_method, payment_amount
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING `+transferCols,
		t.ID, t.OrderNumber, t.Kind, t.Status, key, t.UserID,
		t.CounterpartyID, t.FromWalletID, t.ToWalletID, t.CurrencyID, t.Amount, t.Fee, nilIfEmpty(t.Memo), nilIfEmpty(t.RequestIP),
		t.ToCurrencyID, t.ToAmount, t.Rate, t.Spread,
		t.ToAddress, t.Chain, t.RequiredConfirmations,
		t.SenderAddress, t.DepositMethod, t.PaymentAmount,
	)
	created, err := scanTransfer(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Transfer{}, false, err
	}
	// conflict: idempotent replay of an existing request
	existing, err := r.GetByIdempotencyKey(ctx, t.IdempotencyKey)
	if err != nil {
		return models.Transfer{}, false, err
	}
	return existing, false, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *transfersRepo) GetByID(ctx context.Context, transferID string) (models.Transfer, error) {
	t, err := scanTransfer(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+transferCols+` FROM transfers WHERE transfer_id=$1`, transferID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transfer{}, apperr.New(apperr.CodeNotFound, "transfer not found")
	}
	return t, err
}

func (r *transfersRepo) GetByIdempotencyKey(ctx context.Context, key string) (models.Transfer, error) {
	t, err := scanTransfer(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+transferCols+` FROM transfers WHERE idempotency_key=$1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transfer{}, apperr.New(apperr.CodeNotFound, "transfer not found")
	}
	return t, err
}

func (r *transfersRepo) GetByTxHash(ctx context.Context, txHash string) (models.Transfer, error) {
	t, err := scanTransfer(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+transferCols+` FROM transfers WHERE tx_hash=$1`, txHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transfer{}, apperr.New(apperr.CodeNotFound, "transfer not found")
	}
	return t, err
}

func (r *transfersRepo) GetByOrderNumber(ctx context.Context, orderNumber string) (models.Transfer, error) {
	t, err := scanTransfer(q(ctx, r.pool).QueryRow(ctx,
		`SELECT `+transferCols+` FROM transfers WHERE order_number=$1`, orderNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transfer{}, apperr.New(apperr.CodeNotFound, "transfer not found")
	}
	return t, err
}

func (r *transfersRepo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Transfer, error) {
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT `+transferCols+` FROM transfers
		  WHERE user_id=$1 OR counterparty_id=$1
		  ORDER BY created_at DESC
		  LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

func (r *transfersRepo) ListSubmitted(ctx context.Context, limit int) ([]models.Transfer, error) {
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT `+transferCols+` FROM transfers
		  WHERE status='SUBMITTED'
		  ORDER BY created_at
		  LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

func (r *transfersRepo) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Transfer, error) {
	rows, err := q(ctx, r.pool).Query(ctx,
		`SELECT `+transferCols+` FROM transfers
		  WHERE status='PROCESSING' AND kind='EXTERNAL' AND created_at < $1
		  ORDER BY created_at
		  LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

func collectTransfers(rows pgx.Rows) ([]models.Transfer, error) {
	var out []models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *transfersRepo) UpdateStatus(ctx context.Context, transferID string, from []models.TransferStatus, to models.TransferStatus) (bool, error) {
	tag, err := q(ctx, r.pool).Exec(ctx,
		`UPDATE transfers SET status=$2 WHERE transfer_id=$1 AND status = ANY($3)`,
		transferID, to, statusStrings(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *transfersRepo) MarkSubmitted(ctx context.Context, transferID, txHash string) (bool, error) {
	tag, err := q(ctx, r.pool).Exec(ctx,
		`UPDATE transfers SET status='SUBMITTED', tx_hash=$2
		  WHERE transfer_id=$1 AND status='PROCESSING'`,
		transferID, txHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *transfersRepo) MarkTerminal(ctx context.Context, transferID string, status models.TransferStatus, errCode, errMsg string) (bool, error) {
	tag, err := q(ctx, r.pool).Exec(ctx,
		`UPDATE transfers
		    SET status=$2, error_code=NULLIF($3,''), error_message=NULLIF($4,''), terminal_at=now()
		  WHERE transfer_id=$1 AND status NOT IN ('COMPLETED','CONFIRMED','FAILED','CANCELLED')`,
		transferID, status, errCode, errMsg)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *transfersRepo) SetConfirmations(ctx context.Context, transferID string, confirmations int) error {
	_, err := q(ctx, r.pool).Exec(ctx,
		`UPDATE transfers SET confirmations=$2 WHERE transfer_id=$1`, transferID, confirmations)
	return err
}

func (r *transfersRepo) IncrementRetry(ctx context.Context, transferID string) (int, error) {
	var n int
	err := q(ctx, r.pool).QueryRow(ctx,
		`UPDATE transfers SET retry_count = retry_count + 1 WHERE transfer_id=$1 RETURNING retry_count`,
		transferID).Scan(&n)
	return n, err
}

func statusStrings(in []models.TransferStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
