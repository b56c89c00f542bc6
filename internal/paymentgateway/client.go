package paymentgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	paymentgatewaytypes "github.com/cardvault/storefront/internal/core/datamodel/paymentgateway"
)

// ErrPaymentNotFound is returned when the gateway has no payment for the ID.
// It is never retried.
var ErrPaymentNotFound = errors.New("payment not found at gateway")

type Config struct {
	BaseURL        string
	AccessToken    string
	LookupTimeout  time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client looks payments up by ID. Every call goes to the gateway; nothing is
// cached so a notification can never be answered from stale state.
type Client struct {
	baseURL     string
	accessToken string
	timeout     time.Duration
	maxRetries  uint64
	initial     time.Duration
	maxBackoff  time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.LookupTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	initial := config.InitialBackoff
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = time.Second
	}

	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		accessToken: config.AccessToken,
		timeout:     timeout,
		maxRetries:  config.MaxRetries,
		initial:     initial,
		maxBackoff:  maxBackoff,
		httpClient:  &http.Client{},
		logger:      logger,
	}
}

// FetchPayment retrieves the authoritative payment. Transport errors, timeouts
// and 5xx/429 answers are retried with capped exponential backoff; each
// attempt runs under its own hard timeout.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*paymentgatewaytypes.Payment, error) {
	backoff := retry.NewExponential(c.initial)
	backoff = retry.WithCappedDuration(c.maxBackoff, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(c.maxRetries, backoff)

	var (
		payment *paymentgatewaytypes.Payment
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p, err := c.fetchOnce(ctx, paymentID)
		if err == nil {
			payment = p
			return nil
		}

		var se *statusError
		if errors.Is(err, ErrPaymentNotFound) || (errors.As(err, &se) && !se.retryable()) {
			return err
		}

		c.logger.Warn("payment lookup attempt failed",
			"payment_id", paymentID,
			"attempt", attempt,
			"error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}

	return payment, nil
}

func (c *Client) fetchOnce(ctx context.Context, paymentID string) (*paymentgatewaytypes.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, url.PathEscape(paymentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrPaymentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &statusError{code: resp.StatusCode}
	}

	var payment paymentgatewaytypes.Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, fmt.Errorf("failed to decode payment: %w", err)
	}

	return &payment, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway returned status %d", e.code)
}

func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests || e.code == http.StatusRequestTimeout
}
