package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/chain"
	"github.com/korilabs/coin-ledger/internal/config"
	"github.com/korilabs/coin-ledger/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeAtomic mirrors the re-entrancy of the real runner: an inner InTx joins
// the outer one instead of deadlocking on the mutex.
type fakeAtomic struct{ mu sync.Mutex }

type fakeTxKey struct{}

func (a *fakeAtomic) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(context.WithValue(ctx, fakeTxKey{}, true))
}

type fakeWallets struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.Wallet
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{nextID: 1, byID: map[int64]*models.Wallet{}}
}

func (f *fakeWallets) seed(userID int64, currencyID int32, balance, locked decimal.Decimal) *models.Wallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &models.Wallet{
		ID: f.nextID, UserID: userID, CurrencyID: currencyID,
		Balance: balance, LockedBalance: locked, Status: models.WalletActive,
	}
	f.nextID++
	f.byID[w.ID] = w
	return w
}

func (f *fakeWallets) seedAddr(userID int64, currencyID int32, addr string, balance decimal.Decimal) *models.Wallet {
	w := f.seed(userID, currencyID, balance, decimal.Zero)
	w.Address = addr
	return w
}

func (f *fakeWallets) GetOrCreate(_ context.Context, userID int64, currencyID int32, address string) (models.Wallet, error) {
	f.mu.Lock()
	for _, w := range f.byID {
		if w.UserID == userID && w.CurrencyID == currencyID {
			f.mu.Unlock()
			return *w, nil
		}
	}
	f.mu.Unlock()
	w := f.seed(userID, currencyID, decimal.Zero, decimal.Zero)
	w.Address = address
	return *w, nil
}

func (f *fakeWallets) GetByID(_ context.Context, id int64) (models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.byID[id]; ok {
		return *w, nil
	}
	return models.Wallet{}, apperr.New(apperr.CodeNotFound, "wallet not found")
}

func (f *fakeWallets) GetByUserAndCurrency(_ context.Context, userID int64, currencyID int32) (models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.byID {
		if w.UserID == userID && w.CurrencyID == currencyID {
			return *w, nil
		}
	}
	return models.Wallet{}, apperr.New(apperr.CodeNotFound, "wallet not found")
}

func (f *fakeWallets) GetByAddress(_ context.Context, address string) (models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.byID {
		if w.Address == address && address != "" {
			return *w, nil
		}
	}
	return models.Wallet{}, apperr.New(apperr.CodeNotFound, "wallet not found")
}

func (f *fakeWallets) ListByUser(_ context.Context, userID int64) ([]models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Wallet
	for _, w := range f.byID {
		if w.UserID == userID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeWallets) LockRows(_ context.Context, ids ...int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if _, ok := f.byID[id]; !ok {
			return apperr.New(apperr.CodeNotFound, "wallet not found")
		}
	}
	return nil
}

func (f *fakeWallets) Credit(_ context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.byID[walletID]
	if !ok {
		return models.Wallet{}, apperr.New(apperr.CodeNotFound, "wallet not found")
	}
	w.Balance = w.Balance.Add(amount)
	return *w, nil
}

func (f *fakeWallets) Debit(_ context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.byID[walletID]
	if !ok || w.Balance.Sub(w.LockedBalance).LessThan(amount) {
		return models.Wallet{}, apperr.New(apperr.CodeInsufficientFunds, "insufficient available balance")
	}
	w.Balance = w.Balance.Sub(amount)
	return *w, nil
}

func (f *fakeWallets) Lock(_ context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.byID[walletID]
	if !ok || w.LockedBalance.Add(amount).GreaterThan(w.Balance) {
		return models.Wallet{}, apperr.New(apperr.CodeInsufficientFunds, "insufficient balance to lock")
	}
	w.LockedBalance = w.LockedBalance.Add(amount)
	return *w, nil
}

func (f *fakeWallets) Unlock(_ context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.byID[walletID]
	if !ok || w.LockedBalance.LessThan(amount) {
		return models.Wallet{}, apperr.New(apperr.CodeConflict, "unlock exceeds locked balance")
	}
	w.LockedBalance = w.LockedBalance.Sub(amount)
	return *w, nil
}

func (f *fakeWallets) DebitLocked(_ context.Context, walletID int64, amount decimal.Decimal) (models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.byID[walletID]
	if !ok || w.LockedBalance.LessThan(amount) {
		return models.Wallet{}, apperr.New(apperr.CodeConflict, "debit exceeds locked balance")
	}
	w.Balance = w.Balance.Sub(amount)
	w.LockedBalance = w.LockedBalance.Sub(amount)
	return *w, nil
}

type fakeTransfers struct {
	mu     sync.Mutex
	byID   map[string]*models.Transfer
	byIdem map[string]string
}

func newFakeTransfers() *fakeTransfers {
	return &fakeTransfers{byID: map[string]*models.Transfer{}, byIdem: map[string]string{}}
}

func (f *fakeTransfers) Create(_ context.Context, t models.Transfer) (models.Transfer, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.IdempotencyKey != "" {
		if id, ok := f.byIdem[t.IdempotencyKey]; ok {
			return *f.byID[id], false, nil
		}
	}
	cp := t
	cp.CreatedAt = time.Now()
	f.byID[t.ID] = &cp
	if t.IdempotencyKey != "" {
		f.byIdem[t.IdempotencyKey] = t.ID
	}
	return cp, true, nil
}

func (f *fakeTransfers) GetByID(_ context.Context, id string) (models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.byID[id]; ok {
		return *t, nil
	}
	return models.Transfer{}, apperr.New(apperr.CodeNotFound, "transfer not found")
}

func (f *fakeTransfers) GetByIdempotencyKey(_ context.Context, key string) (models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byIdem[key]; ok {
		return *f.byID[id], nil
	}
	return models.Transfer{}, apperr.New(apperr.CodeNotFound, "transfer not found")
}

func (f *fakeTransfers) GetByTxHash(_ context.Context, txHash string) (models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byID {
		if t.TxHash != nil && *t.TxHash == txHash {
			return *t, nil
		}
	}
	return models.Transfer{}, apperr.New(apperr.CodeNotFound, "transfer not found")
}

func (f *fakeTransfers) GetByOrderNumber(_ context.Context, orderNumber string) (models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byID {
		if t.OrderNumber == orderNumber {
			return *t, nil
		}
	}
	return models.Transfer{}, apperr.New(apperr.CodeNotFound, "transfer not found")
}

func (f *fakeTransfers) ListByUser(_ context.Context, userID int64, limit, offset int) ([]models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transfer
	for _, t := range f.byID {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTransfers) ListSubmitted(_ context.Context, limit int) ([]models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transfer
	for _, t := range f.byID {
		if t.Status == models.TransferSubmitted {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTransfers) ListStaleProcessing(_ context.Context, cutoff time.Time, limit int) ([]models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transfer
	for _, t := range f.byID {
		if t.Status == models.TransferProcessing && t.Kind == models.KindExternal && t.CreatedAt.Before(cutoff) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTransfers) UpdateStatus(_ context.Context, id string, from []models.TransferStatus, to models.TransferStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if t.Status == s {
			t.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTransfers) MarkSubmitted(_ context.Context, id, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok || t.Status != models.TransferProcessing {
		return false, nil
	}
	t.Status = models.TransferSubmitted
	t.TxHash = &txHash
	return true, nil
}

func (f *fakeTransfers) MarkTerminal(_ context.Context, id string, status models.TransferStatus, errCode, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok || t.Status.Terminal() {
		return false, nil
	}
	t.Status = status
	now := time.Now()
	t.TerminalAt = &now
	if errCode != "" {
		t.ErrorCode = &errCode
	}
	if errMsg != "" {
		t.ErrorMessage = &errMsg
	}
	return true, nil
}

func (f *fakeTransfers) SetConfirmations(_ context.Context, id string, confirmations int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.byID[id]; ok {
		t.Confirmations = confirmations
	}
	return nil
}

func (f *fakeTransfers) IncrementRetry(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok {
		return 0, apperr.New(apperr.CodeNotFound, "transfer not found")
	}
	t.RetryCount++
	return t.RetryCount, nil
}

type fakeMining struct {
	mu     sync.Mutex
	totals map[string]decimal.Decimal
	caps   map[int]decimal.Decimal
}

func newFakeMining(caps map[int]decimal.Decimal) *fakeMining {
	return &fakeMining{totals: map[string]decimal.Decimal{}, caps: caps}
}

func miningKey(userID int64, date time.Time) string {
	return fmt.Sprintf("%d:%s", userID, date.UTC().Format("2006-01-02"))
}

func (f *fakeMining) AccrueWithinCap(_ context.Context, userID int64, date time.Time, amount, cap decimal.Decimal, _ time.Time) (decimal.Decimal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := miningKey(userID, date)
	total := f.totals[key].Add(amount)
	if total.GreaterThan(cap) {
		return decimal.Zero, false, nil
	}
	f.totals[key] = total
	return total, true, nil
}

func (f *fakeMining) Get(_ context.Context, userID int64, date time.Time) (models.DailyMining, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total, ok := f.totals[miningKey(userID, date)]
	if !ok {
		return models.DailyMining{}, apperr.New(apperr.CodeNotFound, "no mining today")
	}
	return models.DailyMining{UserID: userID, MiningDate: date, MiningAmount: total}, nil
}

func (f *fakeMining) DailyCap(_ context.Context, level int) (decimal.Decimal, error) {
	if c, ok := f.caps[level]; ok {
		return c, nil
	}
	return decimal.Zero, apperr.New(apperr.CodeNotFound, "unknown level")
}

type fakeReferrals struct {
	mu        sync.Mutex
	referrers map[int64]int64 // referred -> referrer, active edges only
	rewards   map[int64]decimal.Decimal
	stats     map[int64]models.ReferralStats
}

func newFakeReferrals() *fakeReferrals {
	return &fakeReferrals{
		referrers: map[int64]int64{},
		rewards:   map[int64]decimal.Decimal{},
		stats:     map[int64]models.ReferralStats{},
	}
}

func (f *fakeReferrals) CreateRelation(_ context.Context, referrerID, referredID int64, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.referrers[referredID]; ok {
		return apperr.New(apperr.CodeConflict, "relation exists")
	}
	f.referrers[referredID] = referrerID
	return nil
}

func (f *fakeReferrals) HasRelation(_ context.Context, referredID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.referrers[referredID]
	return ok, nil
}

func (f *fakeReferrals) GetReferrer(_ context.Context, referredID int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.referrers[referredID]
	return id, ok, nil
}

func (f *fakeReferrals) SoftDeleteRelation(_ context.Context, referredID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.referrers[referredID]
	if !ok {
		return 0, apperr.New(apperr.CodeNotFound, "no relation")
	}
	delete(f.referrers, referredID)
	return id, nil
}

func (f *fakeReferrals) DirectCount(_ context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.referrers {
		if r == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeReferrals) ActiveTeamCount(_ context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for referred := range f.referrers {
		cur := referred
		for depth := 0; depth < 10; depth++ {
			r, ok := f.referrers[cur]
			if !ok {
				break
			}
			if r == userID {
				n++
				break
			}
			cur = r
		}
	}
	return n, nil
}

func (f *fakeReferrals) ListReferrerIDs(_ context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[int64]bool{}
	var out []int64
	for _, r := range f.referrers {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReferrals) UpsertStats(_ context.Context, userID int64, direct, team int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats[userID]
	s.UserID = userID
	s.DirectCount = direct
	s.TeamCount = team
	f.stats[userID] = s
	return nil
}

func (f *fakeReferrals) AddReward(_ context.Context, userID int64, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rewards[userID] = f.rewards[userID].Add(amount)
	s := f.stats[userID]
	s.UserID = userID
	s.TotalReward = s.TotalReward.Add(amount)
	f.stats[userID] = s
	return nil
}

func (f *fakeReferrals) GetStats(_ context.Context, userID int64) (models.ReferralStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats[userID]
	s.UserID = userID
	return s, nil
}

type fakeUsers struct {
	byID map[int64]models.User
}

func newFakeUsers(users ...models.User) *fakeUsers {
	f := &fakeUsers{byID: map[int64]models.User{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (models.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return models.User{}, apperr.New(apperr.CodeNotFound, "user not found")
}

func (f *fakeUsers) GetByReferralCode(_ context.Context, code string) (models.User, error) {
	for _, u := range f.byID {
		if u.ReferralCode == code {
			return u, nil
		}
	}
	return models.User{}, apperr.New(apperr.CodeNotFound, "user not found")
}

type fakeCurrencies struct {
	list []models.Currency
}

func (f *fakeCurrencies) GetByID(_ context.Context, id int32) (models.Currency, error) {
	for _, c := range f.list {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Currency{}, apperr.New(apperr.CodeNotFound, "currency not found")
}

func (f *fakeCurrencies) GetByCode(_ context.Context, code string) (models.Currency, error) {
	for _, c := range f.list {
		if c.Code == code {
			return c, nil
		}
	}
	return models.Currency{}, apperr.New(apperr.CodeNotFound, "currency not found")
}

func (f *fakeCurrencies) GetByCodeAndChain(_ context.Context, code, chainName string) (models.Currency, error) {
	for _, c := range f.list {
		if c.Code == code && c.Chain == chainName {
			return c, nil
		}
	}
	return models.Currency{}, apperr.New(apperr.CodeNotFound, "currency not found")
}

func (f *fakeCurrencies) ListActive(_ context.Context) ([]models.Currency, error) {
	return f.list, nil
}

// fakeChain scripts submissions and status polls.
type fakeChain struct {
	mu         sync.Mutex
	submitErrs []error // consumed per Submit call; nil entry means success
	nextHash   int
	submitted  []string
	status     map[string]chainStatus
	statusErr  error
}

type chainStatus struct {
	confirmations int
	state         chain.TxState
}

func newFakeChain() *fakeChain {
	return &fakeChain{status: map[string]chainStatus{}}
}

func (f *fakeChain) Submit(_ context.Context, _, _ string, _ decimal.Decimal, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.nextHash++
	h := fmt.Sprintf("0xhash%d", f.nextHash)
	f.submitted = append(f.submitted, h)
	return h, nil
}

func (f *fakeChain) TxStatus(_ context.Context, txHash string) (int, chain.TxState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return 0, "", f.statusErr
	}
	s, ok := f.status[txHash]
	if !ok {
		return 0, chain.StatePending, nil
	}
	return s.confirmations, s.state, nil
}

type fakeOracle struct {
	rate decimal.Decimal
	err  error
}

func (f *fakeOracle) Rate(_ context.Context, _, _ string) (decimal.Decimal, time.Time, error) {
	if f.err != nil {
		return decimal.Zero, time.Time{}, f.err
	}
	return f.rate, time.Now(), nil
}

func testConfig() config.Config {
	return config.Config{
		Env:               "test",
		InternalFeeRate:   dec("0.001"),
		MinTransferAmount: dec("0.000001"),
		SwapFeeRate:       dec("0"),
		SwapSpreadRate:    dec("0"),
		MinSwapAmount:     dec("0.000001"),
		ExchangeRate:      dec("0.8"),
		ExchangeFromCode:  "KRWT",
		ExchangeToCode:    "BLUEDIA",
		MinExchangeAmount: dec("1.0"),
		MaxSubmitRetries:  3,
		MaxConfirmRetries: 5,
		StaleSubmitAgeMin: 30,
		ConfirmationsTRON: 20,
		ConfirmationsETH:  12,

		MiningCurrencyCode: "KORI",
		TreasuryUserID:     1,
		ReferralBaseRate:   dec("0.05"),
		ReferralDecay:      dec("0.5"),
		ReferralMaxDepth:   3,
	}
}
