package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/custodia-labs/policyqa/internal/core/domain"
)

// ping checks the /models endpoint, which validates the API key without inference.
func ping(ctx context.Context, client *http.Client, baseURL, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/models", http.NoBody)
	if err != nil {
		return fmt.Errorf("openai: failed to create ping request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("openai: API returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("openai: API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// statusError classifies a non-200 response: 429 is rate limiting and 5xx
// wraps unavailable. Other codes are request errors and are not retried.
func statusError(code int, body []byte, unavailable error) error {
	msg := strings.TrimSpace(string(body))
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: openai status %d: %s", domain.ErrRateLimited, code, msg)
	case code >= 500:
		return fmt.Errorf("%w: openai status %d: %s", unavailable, code, msg)
	default:
		return fmt.Errorf("openai error (status %d): %s", code, msg)
	}
}
