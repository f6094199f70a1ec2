package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/honeynil/ShopLedgerService/internal/infrastructure/observability"
	pkgerrors "github.com/honeynil/ShopLedgerService/pkg/errors"
	"github.com/shopspring/decimal"
)

const BEpusdtName = "bepusdt"

type BEpusdtConfig struct {
	BaseURL string
	AppID   string
	Secret  string
	// NotifyURL may carry a {kind} placeholder, replaced per request.
	NotifyURL string
	// Timeout is the payment window sent with each order.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transport error or 5xx.
	Retries int
	Backoff time.Duration
}

// BEpusdt is the webhook driven rail.
type BEpusdt struct {
	cfg    BEpusdtConfig
	signer *Signer
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

func NewBEpusdt(cfg BEpusdtConfig, client *http.Client) *BEpusdt {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &BEpusdt{
		cfg:    cfg,
		signer: NewSigner(cfg.Secret, MD5),
		client: client,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

func (b *BEpusdt) Name() string { return BEpusdtName }

type bepusdtEnvelope struct {
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

type bepusdtOrder struct {
	TradeID        string          `json:"trade_id"`
	OrderID        string          `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
	TradeType      string          `json:"trade_type"`
	Token          string          `json:"token"`
	ExpirationTime int64           `json:"expiration_time"`
	PaymentURL     string          `json:"payment_url"`
	Status         flexString      `json:"status"`
	TxHash         string          `json:"block_transaction_id"`
}

func (b *BEpusdt) CreateOrder(ctx context.Context, req CreateRequest) (*PaymentIntent, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.cfg.Timeout
	}
	params := map[string]string{
		"app_id":     b.cfg.AppID,
		"order_id":   req.OrderID,
		"amount":     req.Amount.StringFixed(2),
		"trade_type": req.Currency,
		"notify_url": strings.ReplaceAll(b.cfg.NotifyURL, "{kind}", req.Kind),
		"timeout":    strconv.Itoa(int(timeout.Seconds())),
	}

	var data bepusdtOrder
	if err := b.call(ctx, "create", "/api/order/create-order", params, &data); err != nil {
		return nil, err
	}

	intent := &PaymentIntent{
		Gateway:        BEpusdtName,
		OrderID:        req.OrderID,
		PaymentOrderID: data.TradeID,
		Amount:         req.Amount,
		ActualAmount:   data.ActualAmount,
		Currency:       req.Currency,
		Address:        data.Token,
		PaymentURL:     data.PaymentURL,
		ExpiresAt:      time.Now().Add(timeout),
	}
	if data.ExpirationTime > 0 {
		intent.ExpiresAt = time.Unix(data.ExpirationTime, 0)
	}
	slog.Info("bepusdt order created", "order_id", req.OrderID, "trade_id", data.TradeID, "trade_type", req.Currency)
	return intent, nil
}

func (b *BEpusdt) QueryOrder(ctx context.Context, orderID string) (*QueryResult, error) {
	params := map[string]string{
		"app_id":   b.cfg.AppID,
		"order_id": orderID,
	}

	var data bepusdtOrder
	if err := b.call(ctx, "query", "/api/order/query-order", params, &data); err != nil {
		return nil, err
	}

	raw := string(data.Status)
	result := &QueryResult{
		OrderID:        orderID,
		PaymentOrderID: data.TradeID,
		Status:         NormalizeStatus(raw),
		RawStatus:      raw,
		TxHash:         data.TxHash,
		Amount:         data.Amount,
		Currency:       data.TradeType,
	}
	// the rail reports no payment time; the first paid answer stands in for it
	if result.Status == StatusPaid {
		paidAt := b.now()
		result.PaidAt = &paidAt
	}
	return result, nil
}

func (b *BEpusdt) VerifyCallback(payload map[string]string) bool {
	ok := b.signer.Verify(payload)
	if !ok {
		slog.Warn("bepusdt callback signature mismatch", "order_id", payload["order_id"])
	}
	return ok
}

// call signs params, posts them and decodes the envelope data into out,
// retrying transport errors and 5xx responses with exponential backoff.
func (b *BEpusdt) call(ctx context.Context, op, path string, params map[string]string, out any) (err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.GatewayCalls.WithLabelValues(BEpusdtName, op, status).Inc()
	}()

	params[SignatureField] = b.signer.Sign(params)
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for i := 0; i <= b.cfg.Retries; i++ {
		if i > 0 {
			if err := b.sleep(ctx, (1<<(i-1))*b.cfg.Backoff); err != nil {
				return fmt.Errorf("%w: %v", pkgerrors.ErrGatewayUnavailable, err)
			}
		}

		env, retry, err := b.post(ctx, path, body)
		if err == nil {
			if env.StatusCode != http.StatusOK {
				return fmt.Errorf("%w: %s (%d)", pkgerrors.ErrGatewayRejected, env.Message, env.StatusCode)
			}
			if err := json.Unmarshal(env.Data, out); err != nil {
				return fmt.Errorf("%w: malformed response: %v", pkgerrors.ErrGatewayRejected, err)
			}
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
		slog.Warn("bepusdt request failed, retrying", "path", path, "attempt", i+1, "error", err)
	}
	slog.Error("all bepusdt retry attempts failed", "path", path, "error", lastErr)
	return lastErr
}

func (b *BEpusdt) post(ctx context.Context, path string, body []byte) (*bepusdtEnvelope, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", pkgerrors.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: failed to read response: %v", pkgerrors.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: status %d", pkgerrors.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("%w: status %d, body: %s", pkgerrors.ErrGatewayRejected, resp.StatusCode, string(raw))
	}

	var env bepusdtEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("%w: malformed response: %v", pkgerrors.ErrGatewayRejected, err)
	}
	return &env, false, nil
}

// flexString accepts either a JSON string or a bare number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
