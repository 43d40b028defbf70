package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"github.com/korilabs/coin-ledger/internal/api/httpx"
	"github.com/korilabs/coin-ledger/internal/api/validate"
	"github.com/korilabs/coin-ledger/internal/apperr"
	"github.com/korilabs/coin-ledger/internal/chain"
	"github.com/korilabs/coin-ledger/internal/config"
	"github.com/korilabs/coin-ledger/internal/metrics"
	"github.com/korilabs/coin-ledger/internal/middleware"
	"github.com/korilabs/coin-ledger/internal/models"
	"github.com/korilabs/coin-ledger/internal/services"
)

type RouterDeps struct {
	Cfg       config.Config
	Auth      *middleware.AuthMiddleware
	Ledger    *services.LedgerService
	Transfers *services.TransferService
	Mining    *services.MiningService
	Referrals *services.ReferralService
	Tracker   *services.ConfirmTracker
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.RateLimit(d.Cfg.RateRPS), middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	// external callbacks, no user token
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/chain", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				TxHash        string `json:"tx_hash"`
				Confirmations int    `json:"confirmations"`
				State         string `json:"state"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TxHash == "" {
				httpx.WriteError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "bad request", nil)
				return
			}
			if err := d.Tracker.OnChainUpdate(r.Context(), req.TxHash, req.Confirmations, chain.TxState(req.State)); err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/deposits", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Kind          string          `json:"kind"`
				CurrencyCode  string          `json:"currency_code"`
				Chain         string          `json:"chain"`
				Amount        decimal.Decimal `json:"amount"`
				ToAddress     string          `json:"to_address"`
				SenderAddress string          `json:"sender_address"`
				TxHash        string          `json:"tx_hash"`
				OrderNumber   string          `json:"order_number"`
				UserID        int64           `json:"user_id"`
				Method        string          `json:"method"`
				PaymentAmount decimal.Decimal `json:"payment_amount"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "bad request", nil)
				return
			}
			kind := models.TransferKind(req.Kind)
			if kind != models.KindTokenDeposit && kind != models.KindPaymentDeposit {
				httpx.WriteError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "invalid deposit kind", nil)
				return
			}
			t, err := d.Transfers.RecordDeposit(r.Context(), services.DepositEvent{
				Kind:          kind,
				CurrencyCode:  req.CurrencyCode,
				Chain:         req.Chain,
				Amount:        req.Amount,
				ToAddress:     req.ToAddress,
				SenderAddress: req.SenderAddress,
				TxHash:        req.TxHash,
				OrderNumber:   req.OrderNumber,
				UserID:        req.UserID,
				Method:        req.Method,
				PaymentAmount: req.PaymentAmount,
			})
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusAccepted, t)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(d.Auth.Auth)

		// ---------- wallets ----------
		r.Get("/wallets", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			ws, err := d.Ledger.ListWallets(r.Context(), u.UserID)
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, ws)
		})

		// ---------- transfers ----------
		r.Post("/transfers/internal", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			idem := r.Header.Get("Idempotency-Key")
			var req struct {
				ReceiverType  string          `json:"receiver_type"`
				ReceiverValue string          `json:"receiver_value"`
				CurrencyCode  string          `json:"currency_code"`
				Amount        decimal.Decimal `json:"amount"`
				Memo          string          `json:"memo"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || idem == "" {
				httpx.WriteError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "bad request", nil)
				return
			}
			var ve validate.Errs
			for _, e := range []*validate.ErrField{
				validate.Required("receiver_type", req.ReceiverType),
				validate.Required("receiver_value", req.ReceiverValue),
				validate.Required("currency_code", req.CurrencyCode),
			} {
				if e != nil {
					ve = append(ve, *e)
				}
			}
			if len(ve) > 0 {
				httpx.WriteError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, ve.Error(), ve)
				return
			}
			t, err := d.Transfers.InitiateInternal(r.Context(), u.UserID, services.InternalTransferParams{
				ReceiverType:  req.ReceiverType,
				ReceiverValue: req.ReceiverValue,
				CurrencyCode:  req.CurrencyCode,
				Amount:        req.Amount,
				Memo:          req.Memo,
				RequestIP:     r.RemoteAddr,
			}, idem)
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, t)
		})

		r.Post("/transfers/external", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			idem := r.Header.Get("Idempotency-Key")
			var req struct {
				CurrencyCode string          `json:"currency_code"`
				Chain        string          `json:"chain"`
				ToAddress    string          `json:"to_address"`
				Amount       decimal.Decimal `json:"amount"`
				Memo         string          `json:"memo"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || idem == "" {
				httpx.WriteError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "bad request", nil)
				return
			}
			var ve validate.Errs
			for _, e := range []*validate.ErrField{
				validate.Required("currency_code", req.CurrencyCode),
				validate.Required("chain", req.Chain),
				validate.Required("to_address", req.ToAddress),
			} {
				if e != nil {
					ve = append(ve, *e)
				}
			}
			if len(ve) > 0 {
				httpx.WriteError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, ve.Error(), ve)
				return
			}
			t, err := d.Transfers.InitiateWithdrawal(r.Context(), u.UserID, services.WithdrawalParams{
				CurrencyCode: req.CurrencyCode,
				Chain:        req.Chain,
				ToAddress:    req.ToAddress,
				Amount:       req.Amount,
				Memo:         req.Memo,
				RequestIP:    r.RemoteAddr,
			}, idem)
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusAccepted, t)
		})

		r.Post("/swaps", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			idem := r.Header.Get("Idempotency-Key")
			var req struct {
				FromCurrencyCode string          `json:"from_currency_code"`
				ToCurrencyCode   string          `json:"to_currency_code"`
				Network          string          `json:"network"`
				Amount           decimal.Decimal `json:"amount"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || idem == "" {
				httpx.WriteError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "bad request", nil)
				return
			}
			t, err := d.Transfers.InitiateSwap(r.Context(), u.UserID, services.SwapParams{
				FromCurrencyCode: req.FromCurrencyCode,
				ToCurrencyCode:   req.ToCurrencyCode,
				Network:          req.Network,
				Amount:           req.Amount,
				RequestIP:        r.RemoteAddr,
			}, idem)
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, t)
		})

		r.Post("/exchanges", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			idem := r.Header.Get("Idempotency-Key")
			var req struct {
				Amount decimal.Decimal `json:"amount"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || idem == "" {
				httpx.WriteError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "bad request", nil)
				return
			}
			t, err := d.Transfers.InitiateExchange(r.Context(), u.UserID, req.Amount, r.RemoteAddr, idem)
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, t)
		})

		r.Post("/transfers/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			t, err := d.Transfers.Cancel(r.Context(), u.UserID, chi.URLParam(r, "id"))
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, t)
		})

		r.Get("/transfers/{id}", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			t, err := d.Transfers.Get(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			if t.UserID != u.UserID {
				httpx.WriteError(w, http.StatusNotFound, apperr.CodeNotFound, "transfer not found", nil)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, t)
		})

		r.Get("/transfers", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			limit, offset := 50, 0
			if v := r.URL.Query().Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					limit = n
				}
			}
			if v := r.URL.Query().Get("offset"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n >= 0 {
					offset = n
				}
			}
			ts, err := d.Transfers.ListByUser(r.Context(), u.UserID, limit, offset)
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, ts)
		})

		// ---------- mining ----------
		r.Post("/mining/accrue", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			var req struct {
				Amount  decimal.Decimal `json:"amount"`
				EventID string          `json:"event_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "bad request", nil)
				return
			}
			res, err := d.Mining.Accrue(r.Context(), u.UserID, req.Amount, req.EventID)
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, res)
		})

		r.Get("/mining/limit", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			res, err := d.Mining.DailyLimit(r.Context(), u.UserID)
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, res)
		})

		// ---------- referrals ----------
		r.Post("/referrals", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			var req struct {
				Code string `json:"code"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
				httpx.WriteError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, "bad request", nil)
				return
			}
			if err := d.Referrals.Register(r.Context(), u.UserID, req.Code); err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
		})

		r.Delete("/referrals", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			if err := d.Referrals.Unlink(r.Context(), u.UserID); err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
		})

		r.Get("/referrals/stats", func(w http.ResponseWriter, r *http.Request) {
			u, _ := middleware.FromCtx(r.Context())
			stats, err := d.Referrals.Stats(r.Context(), u.UserID)
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, stats)
		})

		// ---------- admin ----------
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole("admin"))
			r.Post("/admin/confirmations/sweep", func(w http.ResponseWriter, r *http.Request) {
				if err := d.Tracker.Sweep(r.Context(), 100); err != nil {
					httpx.WriteAppError(w, err)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "swept"})
			})
			r.Post("/admin/referrals/refresh", func(w http.ResponseWriter, r *http.Request) {
				if err := d.Referrals.RefreshStats(r.Context()); err != nil {
					httpx.WriteAppError(w, err)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
			})
		})
	})

	return r
}
