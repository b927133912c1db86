package matcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPMatcher calls a face comparison microservice instead of spawning a
// process. The service reads the probe from the shared scratch directory.
type HTTPMatcher struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPMatcher creates a client; timeout bounds each comparison request.
func NewHTTPMatcher(baseURL string, timeout time.Duration) *HTTPMatcher {
	return &HTTPMatcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Match posts the image path and roll number to /verify.
func (c *HTTPMatcher) Match(ctx context.Context, imagePath, rollNumber string) (*Result, error) {
	body, _ := json.Marshal(map[string]string{
		"image_path":  imagePath,
		"roll_number": rollNumber,
	})
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, c.BaseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &timeoutError{after: c.HTTP.Timeout}
		}
		return nil, fmt.Errorf("%w: face service request failed: %w", ErrLaunch, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read face service response: %w", ErrLaunch, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &ProcessError{ExitCode: resp.StatusCode, Stderr: string(data)}
	}
	return Extract(data)
}

// Health checks if the face service is available.
func (c *HTTPMatcher) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

var _ Matcher = (*HTTPMatcher)(nil)
