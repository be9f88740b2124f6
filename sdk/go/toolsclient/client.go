// Package toolsclient is a Go client for the transfer tools HTTP service.
package toolsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Sends wait for confirmation server side, so it is longer than a typical API call.
const DefaultHTTPTimeout = 3 * time.Minute

// Client wraps the HTTP interactions with the tools service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// Balance is the response of the balance endpoint. Balance is a decimal wei string.
type Balance struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// Simulation is the outcome of a gas estimation.
type Simulation struct {
	OK           bool    `json:"ok"`
	EstimatedGas *uint64 `json:"estimated_gas,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Receipt carries the commonly used fields of a transaction receipt. Raw holds
// the full receipt as returned by the node.
type Receipt struct {
	TxHash      common.Hash     `json:"transactionHash"`
	Status      hexutil.Uint64  `json:"status"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	GasUsed     hexutil.Uint64  `json:"gasUsed"`
	Raw         json.RawMessage `json:"-"`
}

// Succeeded reports whether the transaction executed successfully.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	AliasOf     string         `json:"alias_of,omitempty"`
}

// CallRecord is one recorded tool call returned by Records.
type CallRecord struct {
	ID         string          `json:"id"`
	Tool       string          `json:"tool"`
	Args       json.RawMessage `json:"args,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// APIError represents a non-2xx response. Code is the service error code,
// e.g. POLICY_VIOLATION; Reason is set for policy violations.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Reason     string `json:"reason,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("tools api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tools api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the service at rawURL. When httpClient
// is nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey sets the key sent as a bearer token on every request. An empty
// key disables the header.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the currently configured key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// Health checks the service liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.get(ctx, "/health", &out); err != nil {
		return err
	}
	if !out.OK {
		return &APIError{StatusCode: http.StatusOK, Message: "service reported not ok"}
	}
	return nil
}

// Balance returns the wei balance of address.
func (c *Client) Balance(ctx context.Context, address string) (Balance, error) {
	var out Balance
	err := c.post(ctx, "/transfer/balance", map[string]any{"address": address}, &out)
	return out, err
}

// Simulate estimates gas for sending value wei to to.
func (c *Client) Simulate(ctx context.Context, to, value string) (Simulation, error) {
	var out Simulation
	err := c.post(ctx, "/transfer/simulate", map[string]any{"to": to, "value": value}, &out)
	return out, err
}

// Send performs a policy-checked transfer and waits for its receipt.
// maxValue, when non-empty, replaces the service's configured maximum.
func (c *Client) Send(ctx context.Context, to, value, maxValue string) (*Receipt, error) {
	body := map[string]any{"to": to, "value": value}
	if maxValue != "" {
		body["max_value"] = maxValue
	}
	var raw json.RawMessage
	if err := c.post(ctx, "/transfer/send", body, &raw); err != nil {
		return nil, err
	}
	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	receipt.Raw = raw
	return &receipt, nil
}

// Call dispatches any registered tool by name and returns its raw JSON output.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	var raw json.RawMessage
	if err := c.post(ctx, "/tools/"+url.PathEscape(tool), args, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Tools lists the registered tools.
func (c *Client) Tools(ctx context.Context) ([]ToolInfo, error) {
	var out struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := c.get(ctx, "/tools", &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// Records returns the most recent tool calls, newest first. A limit <= 0
// uses the server default.
func (c *Client) Records(ctx context.Context, limit int) ([]CallRecord, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/records", nil)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		req.URL.RawQuery = url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var out struct {
		Records []CallRecord `json:"records"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if key := c.APIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
