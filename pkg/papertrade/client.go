// Package papertrade is a Go client for the papertrade HTTP API.
package papertrade

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/httpapi"
)

// Client provides a Go SDK for interacting with the papertrade server.
type Client struct {
	baseURL string
	http    *resty.Client
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("papertrade: %d %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the server at baseURL. Only GET requests
// are retried; trades are never resubmitted automatically.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{baseURL: baseURL, http: rc}
}

// do sends one request. Path parameters fill the {name} placeholders in path
// and are escaped, so IDs and symbols cannot change the route.
func (c *Client) do(ctx context.Context, method, path string, params map[string]string, body, out any) (*resty.Response, error) {
	apiErr := &APIError{}
	req := c.http.R().SetContext(ctx).SetError(apiErr).SetPathParams(params)
	if out != nil {
		req.SetResult(out)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return resp, apiErr
	}
	return resp, nil
}

// OpenAccount provisions userID. A zero initialCash uses the server default.
func (c *Client) OpenAccount(ctx context.Context, userID string, initialCash decimal.Decimal) (domain.Account, error) {
	var acct domain.Account
	_, err := c.do(ctx, http.MethodPost, "/api/v1/accounts", nil,
		httpapi.OpenAccountRequest{UserID: userID, InitialCash: initialCash}, &acct)
	return acct, err
}

// Quote returns the current quote for symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	var q domain.Quote
	_, err := c.do(ctx, http.MethodGet, "/api/v1/quotes/{symbol}", map[string]string{"symbol": symbol}, nil, &q)
	return q, err
}

// Trade submits a market trade. Rejections are reported in the returned
// response with a nil error.
func (c *Client) Trade(ctx context.Context, userID, symbol string, shares int64, side domain.Side) (httpapi.TradeResponse, error) {
	var out httpapi.TradeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(httpapi.TradeRequestJSON{Symbol: symbol, Shares: shares, Side: string(side)}).
		SetResult(&out).
		SetError(&out).
		SetPathParam("user", userID).
		Post("/api/v1/users/{user}/trades")
	if err != nil {
		return out, fmt.Errorf("trade: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusCreated, http.StatusUnprocessableEntity:
		return out, nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}
	return out, apiErr
}

// Cash returns the user's available cash.
func (c *Client) Cash(ctx context.Context, userID string) (decimal.Decimal, error) {
	var out httpapi.CashResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/users/{user}/cash", map[string]string{"user": userID}, nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Cash, nil
}

// Position returns the user's net shares in symbol.
func (c *Client) Position(ctx context.Context, userID, symbol string) (int64, error) {
	var out httpapi.PositionResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/users/{user}/positions/{symbol}", map[string]string{"user": userID, "symbol": symbol}, nil, &out); err != nil {
		return 0, err
	}
	return out.Shares, nil
}

// Trades returns the user's ledger in append order.
func (c *Client) Trades(ctx context.Context, userID string) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	_, err := c.do(ctx, http.MethodGet, "/api/v1/users/{user}/trades", map[string]string{"user": userID}, nil, &out)
	return out, err
}

// Portfolio returns holdings valued at current quotes.
func (c *Client) Portfolio(ctx context.Context, userID string) (domain.Portfolio, error) {
	var out domain.Portfolio
	_, err := c.do(ctx, http.MethodGet, "/api/v1/users/{user}/portfolio", map[string]string{"user": userID}, nil, &out)
	return out, err
}

// History returns the user's trades with running cash.
func (c *Client) History(ctx context.Context, userID string) (domain.History, error) {
	var out domain.History
	_, err := c.do(ctx, http.MethodGet, "/api/v1/users/{user}/history", map[string]string{"user": userID}, nil, &out)
	return out, err
}
