package webhook

import (
	"context"
	"time"
)

// WebhookConfig defines an endpoint served by the relay
type WebhookConfig struct {
	Path          string         // URL path (e.g., "/api/webhook")
	Method        string         // HTTP method (POST, GET)
	Handler       WebhookHandler // Processing function
	Timeout       time.Duration  // Handler timeout (default: server DefaultTimeout)
	Description   string         // Human-readable description
	Prefix        bool           // Match every path below Path
	SkipRateLimit bool           // Exempt from the per-IP limit (poll routes)
	CORS          *CORSPolicy    // Cross-origin headers; OPTIONS is answered when set
}

// WebhookHandler is a function that processes webhook requests
type WebhookHandler func(params WebhookParams) (WebhookResponse, error)

// WebhookParams contains parsed webhook request data
type WebhookParams struct {
	Context context.Context   // Request context, canceled on handler timeout
	Path    string            // Request path
	Body    interface{}       // Parsed JSON body, or form values; nil when empty
	RawBody []byte            // Body as received
	Headers map[string]string // Request headers
	Query   map[string]string // Query parameters
}

// WebhookResponse defines the webhook response
type WebhookResponse struct {
	Status  int               // HTTP status code
	Body    interface{}       // Response body (will be JSON serialized)
	Headers map[string]string // Custom response headers
}

// ServerOptions configures the relay HTTP server
type ServerOptions struct {
	Port               int           // Server port (default: 3001)
	Host               string        // Server host (default: "0.0.0.0")
	RateLimitPerMinute int           // Requests per minute per IP (default: 300)
	DefaultTimeout     time.Duration // Default handler timeout (default: 30s)
	MaxBodyBytes       int64         // Request body cap (default: 1 MiB)
	ShutdownTimeout    time.Duration // In-flight drain cap on Stop (default: 30s)
}

func jsonError(status int, message string) WebhookResponse {
	return WebhookResponse{
		Status: status,
		Body:   map[string]string{"error": message},
	}
}

func jsonOK(body interface{}) WebhookResponse {
	return WebhookResponse{Status: 200, Body: body}
}
