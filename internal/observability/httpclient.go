package observability

import (
	"fmt"
	"net/http"
	"time"
)

// defaultTimeout bounds every Event Sink POST; emission is best-effort and
// must never stall a phase waiting on a slow or unreachable endpoint.
const defaultTimeout = 10 * time.Second

const defaultUserAgent = "forge-observability"

// httpClient wraps http.Client with the timeout/User-Agent conventions used
// for every outbound call the engine makes to external HTTP services.
type httpClient struct {
	inner     *http.Client
	userAgent string
}

func newHTTPClient() *httpClient {
	return &httpClient{
		inner:     &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
	}
}

func (c *httpClient) newRequest(method, url string) (*http.Request, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// formatHTTPError returns a descriptive error for common non-2xx statuses.
func formatHTTPError(statusCode int, body []byte, context string) error {
	switch statusCode {
	case http.StatusForbidden:
		return fmt.Errorf("%s: access forbidden (403): %s", context, body)
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: unauthorized (401): %s", context, body)
	case http.StatusNotFound:
		return fmt.Errorf("%s: endpoint not found (404): %s", context, body)
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", context, statusCode, body)
	}
}
