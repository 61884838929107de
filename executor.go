// FILE: executor.go
// Package main – Order submission with bounded retry.
//
// OrderExecutor is the only component that talks to the venue's order
// endpoints. It merges the idempotency surface into request params
// (timeInForce default, reduceOnly/postOnly flags, client order id) and
// retries transient venue failures up to a fixed attempt count with no
// inter-attempt delay. The client order id is minted once per submission
// and reused across every retry of it, so the venue can dedupe a request
// that actually landed before the error came back.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// OrderRequest describes one position-affecting order submission.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Amount        float64
	Type          string  // "market" or "limit"
	Price         float64 // 0 for market orders
	ReduceOnly    bool
	PostOnly      bool
	ClientOrderID string            // minted by the executor when empty
	Params        map[string]string // free-form overrides, applied first
}

// OrderExecutor wraps an ExchangeClient's order endpoints.
type OrderExecutor struct {
	ex          ExchangeClient
	maxRetries  int
	timeInForce string
}

func NewOrderExecutor(ex ExchangeClient, maxRetries int, timeInForce string) *OrderExecutor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if timeInForce == "" {
		timeInForce = "GTC"
	}
	return &OrderExecutor{ex: ex, maxRetries: maxRetries, timeInForce: timeInForce}
}

// Submit places req, retrying transient venue failures up to maxRetries
// total attempts with no delay between them. Non-transient failures and
// context cancellation return immediately. After exhausting attempts the
// last error is returned wrapped with the attempt count.
func (oe *OrderExecutor) Submit(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	params := make(map[string]string, len(req.Params)+4)
	for k, v := range req.Params {
		params[k] = v
	}
	if _, ok := params["timeInForce"]; !ok {
		params["timeInForce"] = oe.timeInForce
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}
	if req.PostOnly {
		params["postOnly"] = "true"
	}
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.New().String()
	}
	params["newClientOrderId"] = clientID

	var lastErr error
	for attempt := 0; attempt < oe.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			break
		}
		log.Printf("[ORDER] %s submit: type=%s side=%s amount=%.6f price=%.4f reduce_only=%v post_only=%v client_id=%s",
			req.Symbol, req.Type, req.Side, req.Amount, req.Price, req.ReduceOnly, req.PostOnly, clientID)
		resp, err := oe.ex.CreateOrder(ctx, req.Symbol, req.Type, req.Side, req.Amount, req.Price, params)
		if err == nil {
			if resp == nil {
				resp = &OrderResponse{}
			}
			if resp.ClientOrderID == "" {
				resp.ClientOrderID = clientID
			}
			return resp, nil
		}
		lastErr = err
		mtxOrderRetries.WithLabelValues(req.Symbol).Inc()
		log.Printf("[WARN] %s submit failed attempt=%d/%d kind=%s err=%v",
			req.Symbol, attempt+1, oe.maxRetries, errKind(err), err)
		if !retryable(err) {
			return nil, err
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("submit %s exhausted %d attempts: %w", req.Symbol, oe.maxRetries, lastErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &OrderResponse{}, nil
}

// Cancel is a single-attempt passthrough; callers decide what a failed
// cancel means for them.
func (oe *OrderExecutor) Cancel(ctx context.Context, symbol, orderID string) error {
	log.Printf("[ORDER] %s cancel id=%s", symbol, orderID)
	return oe.ex.CancelOrder(ctx, symbol, orderID)
}
