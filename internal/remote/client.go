// Package remote is the HTTP client for the ledger server's REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
)

// Client talks to the ledger server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

// WithTimeout bounds each request. Zero means no per-request bound.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateExpense records an expense under key.
func (c *Client) CreateExpense(ctx context.Context, key string, req *models.ExpenseRequest) (*models.Expense, error) {
	var out models.Expense
	if err := c.do(ctx, http.MethodPost, "/expenses", key, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateExpense replaces an expense under key.
func (c *Client) UpdateExpense(ctx context.Context, key string, req *models.ExpenseRequest) (*models.Expense, error) {
	var out models.Expense
	if err := c.do(ctx, http.MethodPut, "/expenses/"+url.PathEscape(req.ID), key, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteExpense soft-deletes an expense under key.
func (c *Client) DeleteExpense(ctx context.Context, key, groupID, expenseID string) (*models.Expense, error) {
	var out models.Expense
	path := "/expenses/" + url.PathEscape(expenseID) + "?group_id=" + url.QueryEscape(groupID)
	if err := c.do(ctx, http.MethodDelete, path, key, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePayment records a payment under key.
func (c *Client) CreatePayment(ctx context.Context, key string, payment *models.Payment) (*models.Payment, error) {
	var out models.Payment
	if err := c.do(ctx, http.MethodPost, "/payments", key, payment, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePayment soft-deletes a payment under key.
func (c *Client) DeletePayment(ctx context.Context, key, groupID, paymentID string) (*models.Payment, error) {
	var out models.Payment
	path := "/payments/" + url.PathEscape(paymentID) + "?group_id=" + url.QueryEscape(groupID)
	if err := c.do(ctx, http.MethodDelete, path, key, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetGroup fetches a group.
func (c *Client) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var out models.Group
	if err := c.do(ctx, http.MethodGet, "/groups/"+url.PathEscape(groupID), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListExpenses fetches a group's live expenses.
func (c *Client) ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error) {
	var out []*models.Expense
	if err := c.do(ctx, http.MethodGet, "/groups/"+url.PathEscape(groupID)+"/expenses", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPayments fetches a group's live payments.
func (c *Client) ListPayments(ctx context.Context, groupID string) ([]*models.Payment, error) {
	var out []*models.Payment
	if err := c.do(ctx, http.MethodGet, "/groups/"+url.PathEscape(groupID)+"/payments", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health probes the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, key string, body, out any) error {
	op := "remote." + method + " " + strings.SplitN(path, "?", 2)[0]

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.KindValidation, op, err)
		}
		reader = bytes.NewReader(data)
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if key != "" {
		req.Header.Set(api.IdempotencyKeyHeader, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The caller gave up: report that as is so it is not mistaken for a
		// server failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errs.Transient(op, err)
	}
	defer resp.Body.Close()

	apiErr, decodeErr := api.DecodeEnvelope(resp.Body, out)
	if resp.StatusCode < 300 && apiErr == nil {
		if decodeErr != nil {
			return errs.Wrap(errs.KindInternal, op, fmt.Errorf("decode response: %w", decodeErr))
		}
		return nil
	}

	message := http.StatusText(resp.StatusCode)
	if apiErr != nil {
		message = apiErr.Code + ": " + apiErr.Message
	}
	return classify(op, resp.StatusCode, message)
}

// classify maps an HTTP failure status to the error taxonomy.
func classify(op string, status int, message string) error {
	cause := fmt.Errorf("status %d: %s", status, message)
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return errs.Wrap(errs.KindValidation, op, cause)
	case status == http.StatusNotFound:
		return errs.Wrap(errs.KindNotFound, op, cause)
	case status == http.StatusConflict:
		return errs.Wrap(errs.KindConflict, op, cause)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return errs.Transient(op, cause)
	default:
		return errs.Wrap(errs.KindInternal, op, cause)
	}
}
