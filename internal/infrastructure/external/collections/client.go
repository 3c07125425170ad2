// Package collections holds HTTP clients for the SMS agent and the
// collections monitor services.
package collections

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

	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/reliability"
)

// StatusError is a 4xx answer from a downstream service
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.StatusCode, e.Body)
}

// httpClient is the JSON transport shared by the service clients.
// Every call goes through the service's circuit breaker.
type httpClient struct {
	service string
	baseURL string
	http    *http.Client
	breaker *reliability.Breaker
	logger  *zap.Logger
}

func newHTTPClient(service, baseURL string, timeout time.Duration, breaker *reliability.Breaker, logger *zap.Logger) *httpClient {
	return &httpClient{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// do sends the request and decodes a JSON answer into out.
// 5xx, timeouts and connection failures become ServiceUnavailableError; 4xx become StatusError.
func (c *httpClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		var body io.Reader
		if in != nil {
			data, err := json.Marshal(in)
			if err != nil {
				return fmt.Errorf("marshal request: %w", err)
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			c.logger.Error("Downstream request failed",
				zap.String("service", c.service),
				zap.String("path", path),
				zap.Error(err))
			return entity.NewServiceUnavailableError(c.service, "request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return entity.NewServiceUnavailableError(c.service, fmt.Sprintf("server error: %d", resp.StatusCode), nil)
		}
		if resp.StatusCode >= 400 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &StatusError{Service: c.service, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s response: %w", c.service, err)
		}
		return nil
	})
}
