package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

type ScanResult struct {
	Infected  bool   `json:"infected"`
	Signature string `json:"signature"`
}

type Scanner interface {
	Scan(ctx context.Context, fileName, contentType string, data []byte) (ScanResult, error)
}

// Moderator returns a confidence in [0, 1] that the content violates policy.
type Moderator interface {
	Moderate(ctx context.Context, contentType string, data []byte) (float64, error)
}

// upstream posts file bodies to an HTTP service, throttled so a burst of
// uploads cannot overrun it.
type upstream struct {
	name    string
	url     string
	timeout time.Duration
	limiter *rate.Limiter
}

func newUpstream(name, url string, rps float64, timeout time.Duration) upstream {
	if rps <= 0 {
		rps = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return upstream{
		name:    name,
		url:     url,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

func (u upstream) post(ctx context.Context, contentType string, headers map[string]string, data []byte, out any) error {
	if u.url == "" {
		return fmt.Errorf("%s: no endpoint configured", u.name)
	}
	if err := u.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", u.name, err)
	}

	agent := fiber.Post(u.url)
	agent.Timeout(u.timeout)
	agent.ContentType(contentType)
	for k, v := range headers {
		agent.Set(k, v)
	}
	agent.Body(data)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", u.name, errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%s: unexpected status %d", u.name, code)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", u.name, err)
	}
	return nil
}

// HTTPScanner posts the raw file to a scanning service that answers
// {"infected": bool, "signature": string}.
type HTTPScanner struct {
	upstream
}

func NewHTTPScanner(url string, rps float64, timeout time.Duration) *HTTPScanner {
	return &HTTPScanner{newUpstream("virus scan", url, rps, timeout)}
}

func (s *HTTPScanner) Scan(ctx context.Context, fileName, contentType string, data []byte) (ScanResult, error) {
	var result ScanResult
	err := s.post(ctx, contentType, map[string]string{"X-File-Name": fileName}, data, &result)
	return result, err
}

// HTTPModerator posts the raw file to a classifier that answers
// {"score": float}.
type HTTPModerator struct {
	upstream
}

func NewHTTPModerator(url string, rps float64, timeout time.Duration) *HTTPModerator {
	return &HTTPModerator{newUpstream("moderation", url, rps, timeout)}
}

func (m *HTTPModerator) Moderate(ctx context.Context, contentType string, data []byte) (float64, error) {
	var result struct {
		Score *float64 `json:"score"`
	}
	if err := m.post(ctx, contentType, nil, data, &result); err != nil {
		return 0, err
	}
	if result.Score == nil {
		return 0, errors.New("moderation: response has no score")
	}
	return *result.Score, nil
}
