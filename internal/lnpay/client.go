package lnpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Executor pays Lightning invoices. The settlement paths depend only on
// this interface; Client talks to the actual wallet backend.
type Executor interface {
	PayInvoice(ctx context.Context, invoice string) (string, error)
}

// Client is an HTTP client for an LNbits-compatible wallet backend
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// Rate limiting
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewClient creates a new wallet backend client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		minDelay: 250 * time.Millisecond, // ~4 RPS
	}
}

func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.minDelay {
		time.Sleep(c.minDelay - elapsed)
	}
	c.lastCall = time.Now()
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	c.throttle()

	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// PayInvoice pays a bolt11 invoice and returns the preimage. An empty
// preimage with a nil error means the backend accepted the payment but
// never exposed proof; callers treat that as a failed settlement.
func (c *Client) PayInvoice(ctx context.Context, invoice string) (string, error) {
	body := paymentRequest{Out: true, Bolt11: invoice}
	data, err := c.doRequest(ctx, "POST", "/api/v1/payments", body)
	if err != nil {
		return "", err
	}

	var created paymentResponse
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("unmarshal: %w", err)
	}

	if created.PaymentHash == "" {
		return "", fmt.Errorf("backend returned no payment hash")
	}

	status, err := c.getPayment(ctx, created.PaymentHash)
	if err != nil {
		return "", err
	}
	if !status.Paid {
		return "", fmt.Errorf("payment %s not settled", created.PaymentHash)
	}

	return status.Preimage, nil
}

func (c *Client) getPayment(ctx context.Context, paymentHash string) (*paymentStatus, error) {
	data, err := c.doRequest(ctx, "GET", "/api/v1/payments/"+paymentHash, nil)
	if err != nil {
		return nil, err
	}

	var status paymentStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &status, nil
}
