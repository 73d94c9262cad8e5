// Package categorizer calls the external email categorization service.
package categorizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/httputil"
	"mailsync_server/pkg/logger"
)

// HTTPCategorizer implements out.CategorizerPort over the categorization
// service's REST API. A circuit breaker keeps a struggling service from
// being hammered by every worker at once.
type HTTPCategorizer struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger
}

func NewHTTPCategorizer(baseURL, apiKey string) *HTTPCategorizer {
	settings := gobreaker.Settings{
		Name:        "categorizer",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &HTTPCategorizer{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httputil.CategorizerClient(),
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     logger.WithField("component", "categorizer_client"),
	}
}

// Request/response wire shapes.

type categorizeRequest struct {
	UserID string                 `json:"user_id"`
	Email  *out.CategorizeInput   `json:"email,omitempty"`
	Emails []*out.CategorizeInput `json:"emails,omitempty"`
}

type categorizeResponse struct {
	Category      string  `json:"category"`
	Confidence    float64 `json:"confidence"`
	IsNewCategory bool    `json:"is_new_category"`
	Description   string  `json:"description"`
}

type categorizeBatchResponse struct {
	Results []categorizeResponse `json:"results"`
}

// Categorize classifies a single email.
func (c *HTTPCategorizer) Categorize(ctx context.Context, userID string, input *out.CategorizeInput) (*domain.CategoryResult, error) {
	body, err := c.post(ctx, "/v1/categorize", &categorizeRequest{UserID: userID, Email: input})
	if err != nil {
		return nil, err
	}

	var resp categorizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.CategorizationFailed(fmt.Errorf("malformed response: %w", err))
	}
	return toResult(&resp), nil
}

// CategorizeBatch classifies several emails in one call. Results are
// positional; a length mismatch is treated as a failed call.
func (c *HTTPCategorizer) CategorizeBatch(ctx context.Context, userID string, inputs []*out.CategorizeInput) ([]*domain.CategoryResult, error) {
	body, err := c.post(ctx, "/v1/categorize/batch", &categorizeRequest{UserID: userID, Emails: inputs})
	if err != nil {
		return nil, err
	}

	var resp categorizeBatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.CategorizationFailed(fmt.Errorf("malformed response: %w", err))
	}
	if len(resp.Results) != len(inputs) {
		return nil, apperr.CategorizationFailed(
			fmt.Errorf("expected %d results, got %d", len(inputs), len(resp.Results)))
	}

	results := make([]*domain.CategoryResult, len(resp.Results))
	for i := range resp.Results {
		results[i] = toResult(&resp.Results[i])
	}
	return results, nil
}

// post executes a request through the circuit breaker.
func (c *HTTPCategorizer) post(ctx context.Context, path string, payload *categorizeRequest) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := httputil.DoWithContext(ctx, c.client, req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, apperr.ProviderRateLimited(fmt.Errorf("categorizer returned 429"))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("categorizer returned %d: %s", resp.StatusCode, truncate(body, 200))
		}
		return body, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			c.log.Warn("categorizer circuit open, rejecting call")
			return nil, apperr.CategorizationFailed(err)
		}
		if apperr.IsAppError(err) {
			return nil, err
		}
		return nil, apperr.CategorizationFailed(err)
	}

	return result.([]byte), nil
}

func toResult(resp *categorizeResponse) *domain.CategoryResult {
	return &domain.CategoryResult{
		Category:      resp.Category,
		Confidence:    resp.Confidence,
		IsNewCategory: resp.IsNewCategory,
		Description:   resp.Description,
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ out.CategorizerPort = (*HTTPCategorizer)(nil)
