package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/config"
	"github.com/liamashdown/amlwatch/internal/metrics"
	"github.com/liamashdown/amlwatch/internal/ratelimit"
	"github.com/liamashdown/amlwatch/internal/retry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const apiName = "ledger"

// Client talks to an Etherscan-compatible account/txlist endpoint. Every
// HTTP attempt, retries included, takes a token from the shared limiter.
type Client struct {
	baseURL      string
	chainID      int
	pageSize     int
	httpClient   *http.Client
	authMode     config.AuthMode
	apiKey       string
	bearerToken  string
	extraHeaders map[string]string
	limiter      ratelimit.Waiter
	policy       retry.Policy
	log          *logrus.Logger
}

// NewClient creates a ledger client. The limiter is owned by the caller so a
// single bucket can be shared by every client in the process.
func NewClient(cfg *config.Config, limiter ratelimit.Waiter, log *logrus.Logger) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(cfg.LedgerAPIBaseURL, "/"),
		chainID:      cfg.LedgerChainID,
		pageSize:     cfg.LedgerPageSize,
		httpClient:   &http.Client{Timeout: cfg.LedgerRequestTimeout},
		authMode:     cfg.LedgerAuthMode,
		apiKey:       cfg.LedgerAPIKey,
		bearerToken:  cfg.LedgerBearerToken,
		extraHeaders: cfg.LedgerExtraHeaders,
		limiter:      limiter,
		log:          log,
	}
	if c.pageSize <= 0 {
		c.pageSize = 100
	}
	c.policy = retry.Policy{
		MaxAttempts: cfg.LedgerRetryAttempts,
		BaseDelay:   cfg.LedgerRetryBaseDelay,
		MaxDelay:    cfg.LedgerRetryMaxDelay,
		Jitter:      cfg.LedgerRetryJitter,
		Classify:    classify,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			metrics.APIRetries.WithLabelValues(apiName).Inc()
			log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"wait_ms": wait.Milliseconds(),
			}).Warn("Ledger request failed, retrying")
		},
	}
	return c
}

// FetchEdges returns one page of transfers touching address. The cursor is
// the 1-based page number; an empty cursor means page 1.
func (c *Client) FetchEdges(ctx context.Context, address aml.Address, cursor string) (Page, error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return Page{}, fmt.Errorf("%w: bad cursor %q", aml.ErrGatewayProtocol, cursor)
		}
		page = n
	}

	var records []txRecord
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var err error
		records, err = c.txList(ctx, address, page)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, aml.ErrGatewayProtocol):
			return Page{}, err
		case errors.Is(err, retry.ErrExhausted):
			return Page{}, fmt.Errorf("%w: %s page %d: %w", aml.ErrGatewayUnavailable, address, page, err)
		default:
			return Page{}, aml.FromContext(err)
		}
	}

	edges := make([]aml.Edge, 0, len(records))
	for i := range records {
		edge, ok, err := toEdge(&records[i])
		if err != nil {
			return Page{}, fmt.Errorf("%w: %s page %d: %w", aml.ErrGatewayProtocol, address, page, err)
		}
		if !ok {
			continue
		}
		edges = append(edges, edge)
	}

	next := ""
	if len(records) >= c.pageSize {
		next = strconv.Itoa(page + 1)
	}

	c.log.WithFields(logrus.Fields{
		"address": address.Short(),
		"page":    page,
		"edges":   len(edges),
		"more":    next != "",
	}).Debug("Fetched ledger page")

	return Page{Edges: edges, NextCursor: next}, nil
}

func (c *Client) txList(ctx context.Context, address aml.Address, page int) (records []txRecord, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	defer func() {
		metrics.RecordAPIRequest(apiName, "txlist", time.Since(start), err)
	}()

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse URL: %w", aml.ErrGatewayProtocol, err)
	}

	q := u.Query()
	if c.chainID > 0 {
		q.Set("chainid", strconv.Itoa(c.chainID))
	}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address.String())
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("page", strconv.Itoa(page))
	q.Set("offset", strconv.Itoa(c.pageSize))
	q.Set("sort", "asc")
	if c.authMode == config.AuthModeQuery {
		q.Set("apikey", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", aml.ErrGatewayProtocol, err)
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, transient(fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transient(fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, transient(fmt.Errorf("unexpected status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: 401 Unauthorized (auth_mode=%s) - check credentials", aml.ErrGatewayProtocol, c.authMode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %d: %s", aml.ErrGatewayProtocol, resp.StatusCode, truncate(string(body), 200))
	}

	return decodeTxList(body)
}

func decodeTxList(body []byte) ([]txRecord, error) {
	var envelope txListResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", aml.ErrGatewayProtocol, err)
	}

	if envelope.Status == "1" {
		var records []txRecord
		if err := json.Unmarshal(envelope.Result, &records); err != nil {
			return nil, fmt.Errorf("%w: decode result: %w", aml.ErrGatewayProtocol, err)
		}
		return records, nil
	}

	// Failure payloads carry a string result; an empty history is reported
	// as status 0 with an empty array.
	var records []txRecord
	if err := json.Unmarshal(envelope.Result, &records); err == nil && len(records) == 0 {
		return nil, nil
	}

	var message string
	if err := json.Unmarshal(envelope.Result, &message); err != nil {
		return nil, fmt.Errorf("%w: status %q with undecodable result", aml.ErrGatewayProtocol, envelope.Status)
	}
	lower := strings.ToLower(message)
	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "timeout") || strings.Contains(lower, "busy") {
		return nil, transient(fmt.Errorf("api throttled: %s", message))
	}
	return nil, fmt.Errorf("%w: %s: %s", aml.ErrGatewayProtocol, envelope.Message, message)
}

// toEdge normalizes one record. Reverted transactions move no value and are
// reported as ok=false.
func toEdge(r *txRecord) (aml.Edge, bool, error) {
	if r.IsError == "1" {
		return aml.Edge{}, false, nil
	}
	if r.Hash == "" {
		return aml.Edge{}, false, fmt.Errorf("transaction without hash")
	}

	from, err := aml.ParseAddress(r.From)
	if err != nil {
		return aml.Edge{}, false, fmt.Errorf("tx %s from: %w", r.Hash, err)
	}
	toRaw := r.To
	if toRaw == "" {
		toRaw = r.ContractAddress
	}
	to, err := aml.ParseAddress(toRaw)
	if err != nil {
		return aml.Edge{}, false, fmt.Errorf("tx %s to: %w", r.Hash, err)
	}

	value, err := decimal.NewFromString(r.Value)
	if err != nil {
		return aml.Edge{}, false, fmt.Errorf("tx %s value %q: %w", r.Hash, r.Value, err)
	}
	if value.IsNegative() {
		return aml.Edge{}, false, fmt.Errorf("tx %s negative value %s", r.Hash, r.Value)
	}

	ts, err := strconv.ParseInt(r.TimeStamp, 10, 64)
	if err != nil {
		return aml.Edge{}, false, fmt.Errorf("tx %s timestamp %q: %w", r.Hash, r.TimeStamp, err)
	}

	return aml.Edge{
		From:      from,
		To:        to,
		Value:     value,
		Timestamp: time.Unix(ts, 0).UTC(),
		TxHash:    strings.ToLower(r.Hash),
	}, true, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	switch c.authMode {
	case config.AuthModeBearer:
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	case config.AuthModeAPIKey:
		req.Header.Set("X-API-KEY", c.apiKey)
	case config.AuthModeQuery, config.AuthModeNone:
		// No auth headers
	}

	for k, v := range c.extraHeaders {
		req.Header.Set(k, v)
	}
}

// transientError marks failures worth retrying: network errors, 5xx, 429 and
// throttling payloads.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) error { return &transientError{err: err} }

func classify(err error) retry.Class {
	var t *transientError
	if errors.As(err, &t) {
		return retry.Retryable
	}
	return retry.Fatal
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
