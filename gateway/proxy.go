package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/thinkats-access/shared/middleware"
	"github.com/pavitra93/thinkats-access/shared/utils"
)

// hop-by-hop headers are never forwarded
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ServiceClient handles HTTP communication with a backend service
type ServiceClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	breaker    *utils.CircuitBreaker
	log        logrus.FieldLogger
}

// ServiceClients holds all service clients
type ServiceClients struct {
	AuthService   *ServiceClient
	TenantService *ServiceClient
	AppService    *ServiceClient
}

// NewServiceClient creates a new service client
func NewServiceClient(name, baseURL string, log logrus.FieldLogger) *ServiceClient {
	return &ServiceClient{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Redirects are the browser's to follow
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		breaker: utils.NewCircuitBreaker(5, 30*time.Second),
		log:     log,
	}
}

// ProxyRequest forwards the request to the service. The original host is preserved so
// the service resolves the same tenant, and identity headers are rewritten from the
// resolved request rather than trusted from the client.
func (sc *ServiceClient) ProxyRequest(c *gin.Context) {
	targetURL := sc.baseURL + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		targetURL += "?" + c.Request.URL.RawQuery
	}

	var body io.Reader
	if c.Request.Body != nil {
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			utils.InternalServerErrorResponse(c, "Failed to read request body")
			return
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, body)
	if err != nil {
		utils.InternalServerErrorResponse(c, "Failed to create request")
		return
	}

	req.Header = c.Request.Header.Clone()
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	req.Host = c.Request.Host
	req.Header.Set("X-Forwarded-Host", c.Request.Host)
	req.Header.Set("X-Forwarded-For", c.ClientIP())
	middleware.ForwardIdentity(c, req.Header)

	var resp *http.Response
	err = sc.breaker.CallContext(c.Request.Context(), func(ctx context.Context) error {
		var callErr error
		resp, callErr = sc.httpClient.Do(req)
		if callErr == nil && resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%s returned status %d", sc.name, resp.StatusCode)
		}
		return callErr
	})
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil && resp == nil {
		sc.log.WithFields(logrus.Fields{
			"service": sc.name,
			"path":    c.Request.URL.Path,
			"error":   err,
		}).Error("Failed to reach service")
		utils.ServiceUnavailableResponse(c, "Failed to communicate with service")
		return
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		utils.InternalServerErrorResponse(c, "Failed to read response")
		return
	}

	for key, values := range resp.Header {
		for _, value := range values {
			c.Writer.Header().Add(key, value)
		}
	}
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), responseBody)
}

// HealthCheck checks if a service is healthy
func (sc *ServiceClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned status %d", resp.StatusCode)
	}

	return nil
}

// GetServiceStatus returns the health of every backend service
func (scs *ServiceClients) GetServiceStatus(ctx context.Context) map[string]interface{} {
	status := make(map[string]interface{})
	for _, sc := range []*ServiceClient{scs.AuthService, scs.TenantService, scs.AppService} {
		if sc == nil {
			continue
		}
		if err := sc.HealthCheck(ctx); err != nil {
			status[sc.name] = map[string]interface{}{
				"healthy": false,
				"error":   err.Error(),
			}
		} else {
			status[sc.name] = map[string]interface{}{
				"healthy": true,
			}
		}
	}
	return status
}
