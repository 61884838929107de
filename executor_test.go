package main

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSubmitRetriesTransientThenSucceeds(t *testing.T) {
	fe := &fakeExchange{
		createErrs: []error{
			transientErr("order", errors.New("502 bad gateway")),
			transientErr("order", errors.New("timeout")),
			nil,
		},
	}
	oe := NewOrderExecutor(fe, 3, "GTC")

	resp, err := oe.Submit(context.Background(), OrderRequest{
		Symbol: "BTC/USDT:USDT", Side: SideBuy, Amount: 1, Type: "market",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := fe.orderCount(); got != 3 {
		t.Fatalf("CreateOrder calls = %d, want 3", got)
	}

	// Every retry must reuse the client order id minted for the first
	// attempt, and the response must carry it.
	id := fe.orders[0].params["newClientOrderId"]
	if id == "" {
		t.Fatal("no client order id minted")
	}
	for i, call := range fe.orders {
		if call.params["newClientOrderId"] != id {
			t.Errorf("attempt %d client id = %q, want %q", i, call.params["newClientOrderId"], id)
		}
	}
	if resp.ClientOrderID != id {
		t.Errorf("response client id = %q, want %q", resp.ClientOrderID, id)
	}
}

func TestSubmitExhaustsRetries(t *testing.T) {
	boom := transientErr("order", errors.New("503"))
	fe := &fakeExchange{createErrs: []error{boom, boom, boom}}
	oe := NewOrderExecutor(fe, 3, "GTC")

	_, err := oe.Submit(context.Background(), OrderRequest{
		Symbol: "BTC/USDT:USDT", Side: SideSell, Amount: 2, Type: "market",
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := fe.orderCount(); got != 3 {
		t.Errorf("CreateOrder calls = %d, want 3", got)
	}
	if !errors.Is(err, errTransientExchange) {
		t.Errorf("error lost its transient kind: %v", err)
	}
	if !strings.Contains(err.Error(), "exhausted 3 attempts") {
		t.Errorf("error message %q does not report exhaustion", err)
	}
}

func TestSubmitFailsFastOnNonRetryable(t *testing.T) {
	fe := &fakeExchange{createErrs: []error{configErr("order", errors.New("-4061 side mismatch"))}}
	oe := NewOrderExecutor(fe, 3, "GTC")

	_, err := oe.Submit(context.Background(), OrderRequest{
		Symbol: "BTC/USDT:USDT", Side: SideBuy, Amount: 1, Type: "market",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := fe.orderCount(); got != 1 {
		t.Errorf("CreateOrder calls = %d, want 1 (no retry on configuration errors)", got)
	}
	if kind := errKind(err); kind != "configuration" {
		t.Errorf("error kind = %q, want configuration", kind)
	}
}

func TestSubmitParams(t *testing.T) {
	tests := []struct {
		name string
		req  OrderRequest
		want map[string]string
	}{
		{name: "defaults",
			req:  OrderRequest{Symbol: "X", Side: SideBuy, Amount: 1, Type: "market"},
			want: map[string]string{"timeInForce": "GTC"}},
		{name: "explicit tif wins over default",
			req:  OrderRequest{Symbol: "X", Side: SideBuy, Amount: 1, Type: "limit", Price: 10, Params: map[string]string{"timeInForce": "IOC"}},
			want: map[string]string{"timeInForce": "IOC"}},
		{name: "reduce only flag",
			req:  OrderRequest{Symbol: "X", Side: SideSell, Amount: 1, Type: "market", ReduceOnly: true},
			want: map[string]string{"reduceOnly": "true"}},
		{name: "post only flag",
			req:  OrderRequest{Symbol: "X", Side: SideBuy, Amount: 1, Type: "limit", Price: 10, PostOnly: true},
			want: map[string]string{"postOnly": "true"}},
		{name: "caller client id reused",
			req:  OrderRequest{Symbol: "X", Side: SideBuy, Amount: 1, Type: "market", ClientOrderID: "abc-123"},
			want: map[string]string{"newClientOrderId": "abc-123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := &fakeExchange{}
			oe := NewOrderExecutor(fe, 3, "GTC")
			resp, err := oe.Submit(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			got := fe.orders[0].params
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("params[%q] = %q, want %q", k, got[k], v)
				}
			}
			if got["newClientOrderId"] == "" {
				t.Error("client order id missing from params")
			}
			if resp.ClientOrderID == "" {
				t.Error("client order id missing from response")
			}
		})
	}
}

func TestSubmitHonorsCanceledContext(t *testing.T) {
	fe := &fakeExchange{}
	oe := NewOrderExecutor(fe, 3, "GTC")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := oe.Submit(ctx, OrderRequest{Symbol: "X", Side: SideBuy, Amount: 1, Type: "market"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := fe.orderCount(); got != 0 {
		t.Errorf("CreateOrder calls = %d, want 0", got)
	}
}

func TestNewOrderExecutorDefaults(t *testing.T) {
	oe := NewOrderExecutor(&fakeExchange{}, 0, "")
	if oe.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", oe.maxRetries)
	}
	if oe.timeInForce != "GTC" {
		t.Errorf("timeInForce = %q, want GTC", oe.timeInForce)
	}
}
