package collections

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
	"github.com/garyjia/sms-orchestrator/internal/reliability"
)

// MonitorClient reads tenant context from the collections monitor
type MonitorClient struct {
	client *httpClient
}

// NewMonitorClient creates a client for the collections monitor at baseURL
func NewMonitorClient(baseURL string, timeout time.Duration, breaker *reliability.Breaker, logger *zap.Logger) *MonitorClient {
	return &MonitorClient{client: newHTTPClient("collections_monitor", baseURL, timeout, breaker, logger)}
}

// TenantContext implements port.TenantContextSource
func (c *MonitorClient) TenantContext(ctx context.Context, tenantID string) (*entity.TenantContext, error) {
	var out entity.TenantContext
	if err := c.client.do(ctx, http.MethodGet, "/monitor/tenant/"+url.PathEscape(tenantID), nil, &out); err != nil {
		return nil, fmt.Errorf("fetch tenant context: %w", err)
	}
	if out.TenantID == "" {
		out.TenantID = tenantID
	}
	return &out, nil
}

// Verify interface compliance
var _ port.TenantContextSource = (*MonitorClient)(nil)
