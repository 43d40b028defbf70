package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway talks to the chain-gateway sidecar over HTTP. 5xx and transport
// errors map to ErrUnavailable so callers retry; a submit 4xx is a permanent
// rejection.
type Gateway struct {
	baseURL string
	client  *http.Client
}

func NewGateway(baseURL string) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *Gateway) Submit(ctx context.Context, chainName, toAddress string, amount decimal.Decimal, memo string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"chain":      chainName,
		"to_address": toAddress,
		"amount":     amount,
		"memo":       memo,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", ErrUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", ErrUnavailable
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return "", &SubmitError{Status: resp.StatusCode, Message: e.Error}
	}
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.TxHash, nil
}

func (g *Gateway) TxStatus(ctx context.Context, txHash string) (int, TxState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/transactions/"+txHash, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, "", ErrUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return 0, "", ErrUnavailable
	}
	if resp.StatusCode >= 400 {
		// a broadcast tx the gateway has not indexed yet looks like a 404;
		// only an explicit state verdict may fail the transfer
		return 0, "", ErrUnavailable
	}
	var out struct {
		Confirmations int     `json:"confirmations"`
		State         TxState `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, "", err
	}
	return out.Confirmations, out.State, nil
}

type SubmitError struct {
	Status  int
	Message string
}

func (e *SubmitError) Error() string { return "chain submit rejected: " + e.Message }
