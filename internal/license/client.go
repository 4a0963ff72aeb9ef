package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperrors "lpvault/internal/errors"
)

// API response statuses. Anything else, and any transport failure, is a
// retryable network error; an unreachable server is never a valid
// entitlement.
const (
	StatusOK             = "ok"
	StatusDeviceMismatch = "device_mismatch"
	StatusInvalid        = "invalid"
	StatusRevoked        = "revoked"
)

// APIResponse is the envelope returned by the licensing endpoints.
type APIResponse struct {
	Status        string         `json:"status"`
	PlanType      string         `json:"plan_type,omitempty"`
	SignedRecord  map[string]any `json:"signed_record,omitempty"`
	TransferCount int            `json:"transfer_count,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Client talks to the licensing API. It is used exactly three times in an
// installation's life: activation, transfer, and trial start. Routine
// entitlement checks never touch it.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a licensing API client with the given base URL and
// request timeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Activate requests a signed license record binding key to deviceID.
func (c *Client) Activate(ctx context.Context, key, deviceID string) (*APIResponse, error) {
	return c.post(ctx, "/v1/activate", map[string]string{
		"key":       key,
		"device_id": deviceID,
	})
}

// Transfer requests re-binding of an activated key to deviceID. The yearly
// transfer cap is enforced server-side; the response carries the updated
// transfer_count or a limit-reached error.
func (c *Client) Transfer(ctx context.Context, key, deviceID string) (*APIResponse, error) {
	return c.post(ctx, "/v1/transfer", map[string]string{
		"key":       key,
		"device_id": deviceID,
	})
}

// StartTrial requests a signed trial record for deviceID.
func (c *Client) StartTrial(ctx context.Context, deviceID string, days int) (*APIResponse, error) {
	return c.post(ctx, "/v1/trial", map[string]any{
		"device_id": deviceID,
		"days":      days,
	})
}

func (c *Client) post(ctx context.Context, path string, payload any) (*APIResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("licensing api unreachable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, apperrors.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("licensing api returned non-2xx",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode))
		return nil, apperrors.Network(fmt.Errorf("licensing api returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.Network(err)
	}

	var out APIResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.Network(fmt.Errorf("licensing api returned malformed response: %w", err))
	}

	c.logger.Debug("licensing api call completed",
		slog.String("path", path),
		slog.String("status", out.Status),
		slog.Duration("duration", time.Since(start)))
	return &out, nil
}
