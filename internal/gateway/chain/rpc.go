package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kestrel/internal/pkg/circuit"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const lamportsPerSol = 1_000_000_000

// RPCClient talks to a Solana JSON-RPC endpoint. All requests go through a
// shared rate limiter and a circuit breaker so a sick node cannot stall the
// verification loop.
type RPCClient struct {
	endpoint string
	wallet   string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *circuit.Breaker
}

// RPCConfig describes an RPC endpoint connection.
type RPCConfig struct {
	Endpoint         string
	Wallet           string
	TimeoutSeconds   int
	RequestsPerSec   float64
	Burst            int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func NewRPCClient(cfg RPCConfig) (*RPCClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("rpc client requires endpoint")
	}
	if strings.TrimSpace(cfg.Wallet) == "" {
		return nil, fmt.Errorf("rpc client requires wallet pubkey")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &RPCClient{
		endpoint: endpoint,
		wallet:   strings.TrimSpace(cfg.Wallet),
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		breaker:  circuit.NewBreaker("solana-rpc", threshold, cooldown),
	}, nil
}

func (c *RPCClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	res, err := c.call(ctx, "getBlockHeight", []any{map[string]any{"commitment": "finalized"}})
	if err != nil {
		return 0, err
	}
	return res.Uint(), nil
}

func (c *RPCClient) GetTransactionStatus(ctx context.Context, signature string) (TxStatus, error) {
	params := []any{
		signature,
		map[string]any{
			"encoding":                       "json",
			"commitment":                     "finalized",
			"maxSupportedTransactionVersion": 0,
		},
	}
	res, err := c.call(ctx, "getTransaction", params)
	if err != nil {
		return TxStatus{}, err
	}
	if res.Type == gjson.Null || !res.Exists() {
		return TxStatus{}, ErrNotFound
	}
	return c.decodeTransaction(res), nil
}

func (c *RPCClient) decodeTransaction(res gjson.Result) TxStatus {
	status := TxStatus{
		Confirmed: true,
		Succeeded: !res.Get("meta.err").Exists() || res.Get("meta.err").Type == gjson.Null,
		FeeSol:    res.Get("meta.fee").Float() / lamportsPerSol,
		Slot:      res.Get("slot").Uint(),
	}
	if !status.Succeeded {
		status.ErrText = res.Get("meta.err").Raw
	}

	// SOL delta: locate the wallet among the static account keys and diff
	// pre/post lamport balances. The fee is paid by index 0, strip it so the
	// delta reflects the swap alone.
	keys := res.Get("transaction.message.accountKeys").Array()
	for i, key := range keys {
		if key.String() != c.wallet {
			continue
		}
		pre := res.Get(fmt.Sprintf("meta.preBalances.%d", i)).Float()
		post := res.Get(fmt.Sprintf("meta.postBalances.%d", i)).Float()
		status.SolDelta = (post - pre) / lamportsPerSol
		if i == 0 {
			status.SolDelta += status.FeeSol
		}
		break
	}

	// Token delta: diff the wallet-owned token balances.
	pre := tokenAmountByOwner(res.Get("meta.preTokenBalances"), c.wallet)
	post := tokenAmountByOwner(res.Get("meta.postTokenBalances"), c.wallet)
	status.TokenDelta = post - pre
	return status
}

func tokenAmountByOwner(balances gjson.Result, owner string) float64 {
	total := 0.0
	for _, entry := range balances.Array() {
		if entry.Get("owner").String() != owner {
			continue
		}
		total += entry.Get("uiTokenAmount.uiAmount").Float()
	}
	return total
}

func (c *RPCClient) call(ctx context.Context, method string, params []any) (gjson.Result, error) {
	if !c.breaker.Allow() {
		return gjson.Result{}, fmt.Errorf("rpc circuit open for %s", method)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return gjson.Result{}, fmt.Errorf("rpc %s failed: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.breaker.RecordFailure()
		return gjson.Result{}, fmt.Errorf("rpc %s read failed: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		return gjson.Result{}, fmt.Errorf("rpc %s status %d", method, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		c.breaker.RecordFailure()
		return gjson.Result{}, fmt.Errorf("rpc %s returned invalid json", method)
	}
	parsed := gjson.ParseBytes(raw)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() {
		c.breaker.RecordFailure()
		return gjson.Result{}, fmt.Errorf("rpc %s error %s: %s",
			method, rpcErr.Get("code").Raw, rpcErr.Get("message").String())
	}
	c.breaker.RecordSuccess()
	return parsed.Get("result"), nil
}

var _ Client = (*RPCClient)(nil)
