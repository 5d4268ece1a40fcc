package categorize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/visionary-scheduler/internal/scheduler"
)

// HTTPClient calls a remote categorization service.
//
// Request:  POST {endpoint} {"text": "..."}
// Response: {"items": [{"title", "category", "durationMinutes", "deadline", "priority", "confidence"}]}
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPClient returns a client for endpoint. A nil httpClient uses a
// client with a 10 second timeout.
func NewHTTPClient(endpoint string, httpClient *http.Client, logger *slog.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{endpoint: endpoint, client: httpClient, logger: logger.With("component", "categorizer")}
}

type categorizeRequest struct {
	Text string `json:"text"`
}

type categorizeResponse struct {
	Items []struct {
		Title           string     `json:"title"`
		Category        string     `json:"category"`
		DurationMinutes int        `json:"durationMinutes"`
		Deadline        *time.Time `json:"deadline"`
		Priority        int        `json:"priority"`
		Confidence      float64    `json:"confidence"`
	} `json:"items"`
}

// Categorize posts text and decodes the suggested items. Unknown categories
// fall back to the generic task category.
func (c *HTTPClient) Categorize(ctx context.Context, text string) ([]Suggestion, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	body, err := json.Marshal(categorizeRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("categorize: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("categorize: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("categorize: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded categorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("categorize: decode response: %w", err)
	}

	suggestions := make([]Suggestion, 0, len(decoded.Items))
	for _, item := range decoded.Items {
		category := scheduler.Category(strings.ToLower(item.Category))
		if category == "" || !category.Valid() {
			c.logger.WarnContext(ctx, "unknown category from categorizer", "category", item.Category)
			category = scheduler.CategoryTask
		}
		suggestions = append(suggestions, Suggestion{
			Title:      item.Title,
			Category:   category,
			Duration:   time.Duration(item.DurationMinutes) * time.Minute,
			Deadline:   item.Deadline,
			Priority:   item.Priority,
			Confidence: clamp01(item.Confidence),
		})
	}
	c.logger.DebugContext(ctx, "content categorized", "items", len(suggestions))
	return suggestions, nil
}

func clamp01(v float64) float64 {
	return max(0, min(v, 1))
}
