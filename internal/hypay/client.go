package hypay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	errors "github.com/idanlevi/captionflow/internal"
)

// VerificationResult is the outcome of one callback verification round trip.
// It is computed fresh per callback and never cached.
type VerificationResult struct {
	Valid bool
	CCode string
	Err   string
}

type Config struct {
	TerminalID string
	APIKey     string
	Passphrase string
	BaseURL    string
	Timeout    time.Duration
}

// Client talks to the Hypay terminal API. All calls are GET with URL-encoded
// responses; the gateway is the source of truth for transaction state, so
// callback authenticity is established by asking it, not by local signature
// checks alone.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// SignRequest asks the gateway to sign a set of checkout parameters. The
// returned values carry the gateway signature plus the echoed parameters and
// are used verbatim to build the hosted payment page URL.
func (c *Client) SignRequest(ctx context.Context, params map[string]string) (url.Values, error) {
	query := c.credentials("SIGN")
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("signature", ComputeSignature(params, c.cfg.Passphrase))

	c.logger.Info("requesting gateway signature",
		"terminal_id", c.cfg.TerminalID,
		"order_id", params["Order"])

	values, err := c.get(ctx, query)
	if err != nil {
		return nil, errors.NewGatewayError("sign request failed", errors.ErrCodeGatewayUnreachable, err)
	}

	if ccode := values.Get("CCode"); ccode != "" && !IsSuccess(ccode) {
		info := LookupCode(ccode)
		c.logger.Error("gateway rejected sign request",
			"ccode", ccode,
			"technical", info.TechnicalMessage)
		return nil, errors.NewGatewayError(info.TechnicalMessage, errors.ErrCodeGatewayRejected, nil)
	}

	return values, nil
}

// PaymentPageURL builds the hosted payment page redirect from a signed
// parameter set.
func (c *Client) PaymentPageURL(signed url.Values) string {
	page := url.Values{}
	page.Set("action", "pay")
	for k, vs := range signed {
		for _, v := range vs {
			page.Add(k, v)
		}
	}
	return c.cfg.BaseURL + "?" + page.Encode()
}

// VerifyCallback round-trips the callback parameters to the gateway and
// reports whether it vouches for them. It never returns a Go error: HTTP or
// network failure yields Valid=false with a diagnostic, and the caller
// decides what an unverified callback means for its path.
func (c *Client) VerifyCallback(ctx context.Context, params map[string]string) VerificationResult {
	query := c.credentials("VERIFY")
	for k, v := range params {
		query.Set(k, v)
	}

	values, err := c.get(ctx, query)
	if err != nil {
		c.logger.Error("callback verification round trip failed",
			"order_id", params["Order"],
			"error", err)
		return VerificationResult{Valid: false, Err: err.Error()}
	}

	ccode := values.Get("CCode")
	result := VerificationResult{Valid: IsSuccess(ccode), CCode: ccode}

	c.logger.Info("callback verification completed",
		"order_id", params["Order"],
		"ccode", ccode,
		"valid", result.Valid)

	return result
}

// FetchInvoice retrieves the invoice reference for a settled transaction
// using the dedicated fixed-format signature.
func (c *Client) FetchInvoice(ctx context.Context, txnID string) (string, error) {
	query := url.Values{}
	query.Set("action", "PrintHesh")
	query.Set("Masof", c.cfg.TerminalID)
	query.Set("TransId", txnID)
	query.Set("type", "EZCOUNT")
	query.Set("signH", InvoiceSignature(c.cfg.TerminalID, txnID, c.cfg.APIKey))

	values, err := c.get(ctx, query)
	if err != nil {
		return "", errors.NewGatewayError("invoice fetch failed", errors.ErrCodeGatewayUnreachable, err)
	}

	if ccode := values.Get("CCode"); ccode != "" && !IsSuccess(ccode) {
		info := LookupCode(ccode)
		return "", errors.NewGatewayError(info.TechnicalMessage, errors.ErrCodeGatewayRejected, nil)
	}

	invoiceURL := values.Get("url")
	if invoiceURL == "" {
		return "", errors.ErrInvoiceMissing
	}
	return invoiceURL, nil
}

// credentials returns the base query every APISign call carries.
func (c *Client) credentials(what string) url.Values {
	v := url.Values{}
	v.Set("action", "APISign")
	v.Set("What", what)
	v.Set("Masof", c.cfg.TerminalID)
	v.Set("KEY", c.cfg.APIKey)
	v.Set("PassP", c.cfg.Passphrase)
	return v
}

func (c *Client) get(ctx context.Context, query url.Values) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse gateway response: %w", err)
	}
	return values, nil
}
