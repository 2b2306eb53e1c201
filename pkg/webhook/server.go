package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harun/voxrelay/internal/observability"
	"github.com/harun/voxrelay/internal/tracing"
	"github.com/harun/voxrelay/pkg/commandqueue"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Server is the relay HTTP server: tool-call webhooks, command polling and
// the storefront API.
type Server struct {
	options        ServerOptions
	server         *http.Server
	webhooks       map[string]*WebhookConfig // key: method:path
	mounts         map[string]http.Handler
	rateLimiter    *RateLimiter
	routes         *RouteTracker
	commandQueue   *commandqueue.CommandQueue
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	webhooksMu     sync.RWMutex
}

// NewServer creates a new relay server
func NewServer(options ServerOptions, commandQueue *commandqueue.CommandQueue, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 3001
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 300
	}
	if options.DefaultTimeout == 0 {
		options.DefaultTimeout = 30 * time.Second
	}
	if options.MaxBodyBytes == 0 {
		options.MaxBodyBytes = 1 << 20
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 30 * time.Second
	}

	if commandQueue == nil {
		return nil, fmt.Errorf("command queue is required")
	}

	observability.EnsureRegistered()

	return &Server{
		options:      options,
		webhooks:     make(map[string]*WebhookConfig),
		mounts:       make(map[string]http.Handler),
		rateLimiter:  NewRateLimiter(options.RateLimitPerMinute),
		routes:       NewRouteTracker(),
		commandQueue: commandQueue,
		logger:       logger.With().Str("component", "webhook").Logger(),
		startTime:    time.Now(),
	}, nil
}

// Mount serves handler at path outside the webhook pipeline (/metrics, /mcp).
func (s *Server) Mount(path string, handler http.Handler) {
	s.webhooksMu.Lock()
	s.mounts[path] = handler
	s.webhooksMu.Unlock()
}

// Handler returns the request router. Mounts added after this call are not
// served; webhooks are looked up per request.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	s.webhooksMu.RLock()
	for path, h := range s.mounts {
		mux.Handle(path, h)
	}
	s.webhooksMu.RUnlock()

	mux.HandleFunc("/", s.handleWebhook)
	return mux
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port))
}

// Start starts the server and blocks until it is stopped
func (s *Server) Start() error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Int("routes", s.routeCount()).
		Msg("Starting relay server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start relay server: %w", err)
	}

	return nil
}

// Stop refuses new requests, waits for in-flight ones and shuts down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down relay server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.options.ShutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown relay server: %w", err)
	}

	s.logger.Info().Msg("Relay server stopped")
	return nil
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status     string             `json:"status"`
	Uptime     float64            `json:"uptime"`
	RouteCount int                `json:"routeCount"`
	Queue      commandqueue.Stats `json:"queue"`
	Routes     []RouteStats       `json:"routes"`
	Timestamp  int64              `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendResponse(w, jsonError(http.StatusMethodNotAllowed, "Method Not Allowed"))
		return
	}

	status := "ok"
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		status = "shutting_down"
	}
	s.shutdownMu.RUnlock()

	s.sendResponse(w, jsonOK(HealthReport{
		Status:     status,
		Uptime:     time.Since(s.startTime).Seconds(),
		RouteCount: s.routeCount(),
		Queue:      s.commandQueue.Stats(),
		Routes:     s.routes.Snapshot(),
		Timestamp:  time.Now().UnixMilli(),
	}))
}

// handleWebhook runs every registered route through one pipeline:
// shutdown check, CORS, rate limit, body read, parse, handler with timeout,
// metrics and logging.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		s.sendResponse(w, jsonError(http.StatusServiceUnavailable, "Server is shutting down"))
		return
	}
	s.inFlightReqs.Add(1)
	s.shutdownMu.RUnlock()
	defer s.inFlightReqs.Done()

	ctx := tracing.NewRequestContext(r.Context(), r.Header.Get("X-Request-ID"))
	ctx, span := tracing.StartSpan(
		ctx,
		"webhook.request",
		attribute.String("http.method", r.Method),
		attribute.String("http.path", r.URL.Path),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	w.Header().Set("X-Request-ID", tracing.GetRequestID(ctx))

	ip := s.getClientIP(r)

	if r.Method == http.MethodOptions {
		if route := s.corsRoute(r.URL.Path); route != nil {
			route.CORS.apply(w, r)
			w.WriteHeader(http.StatusOK)
			observability.RecordHTTPRequest(route.Path, "200", time.Since(startTime))
			return
		}
	}

	webhook := s.getWebhook(r.URL.Path, r.Method)
	if webhook != nil && webhook.CORS != nil {
		webhook.CORS.apply(w, r)
	}

	if webhook == nil || !webhook.SkipRateLimit {
		if !s.rateLimiter.CheckLimit(ip) {
			retryAfter := s.rateLimiter.GetRetryAfter(ip)
			logger.Warn().
				Str("ip", ip).
				Str("path", r.URL.Path).
				Int("retryAfter", retryAfter).
				Msg("Rate limit exceeded")

			observability.RecordRateLimited()
			resp := jsonError(http.StatusTooManyRequests, "Too Many Requests")
			resp.Headers = map[string]string{"Retry-After": strconv.Itoa(retryAfter)}
			s.sendResponse(w, resp)
			return
		}
	}

	if webhook == nil {
		logger.Debug().
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg("Route not found")
		if s.pathRegistered(r.URL.Path) {
			s.sendResponse(w, jsonError(http.StatusMethodNotAllowed, "Method Not Allowed"))
			return
		}
		s.sendResponse(w, jsonError(http.StatusNotFound, "Not Found"))
		return
	}

	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn().Int64("limit", tooLarge.Limit).Str("path", r.URL.Path).Msg("Request body too large")
			s.sendResponse(w, jsonError(http.StatusRequestEntityTooLarge, "Request body too large"))
			return
		}
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Failed to read request body")
		s.sendResponse(w, jsonError(http.StatusBadRequest, "Bad Request"))
		return
	}

	params, err := s.parseRequest(ctx, r, rawBody)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("path", webhook.Path).
			Msg("Failed to parse request")
		s.sendResponse(w, jsonError(http.StatusBadRequest, "Invalid JSON body"))
		return
	}

	timeout := webhook.Timeout
	if timeout == 0 {
		timeout = s.options.DefaultTimeout
	}

	response, err := s.executeHandler(webhook.Handler, params, timeout)

	duration := time.Since(startTime)
	if err != nil {
		response = jsonError(http.StatusInternalServerError, "Internal Server Error")
	}

	var payload []byte
	payload, response = s.encodeResponse(response)

	s.routes.Observe(webhook.Path, webhook.Method, response.Status, duration)
	observability.RecordHTTPRequest(webhook.Path, strconv.Itoa(response.Status), duration)
	span.SetAttributes(attribute.Int("http.status_code", response.Status))

	if err == nil {
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", ip).
			Dur("duration", duration).
			Int("status", response.Status).
			Msg("Request completed")
	} else {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", ip).
			Dur("duration", duration).
			Msg("Request failed")
	}

	s.writeResponse(w, response, payload)
}

// parseRequest decodes the body as form values or JSON. An empty body
// yields a nil Body.
func (s *Server) parseRequest(ctx context.Context, r *http.Request, rawBody []byte) (WebhookParams, error) {
	params := WebhookParams{
		Context: ctx,
		Path:    r.URL.Path,
		RawBody: rawBody,
		Headers: make(map[string]string),
		Query:   make(map[string]string),
	}

	for key, values := range r.Header {
		if len(values) > 0 {
			params.Headers[key] = values[0]
		}
	}

	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params.Query[key] = values[0]
		}
	}

	if len(strings.TrimSpace(string(rawBody))) == 0 {
		return params, nil
	}

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		values, err := urlValues(rawBody)
		if err != nil {
			return params, fmt.Errorf("failed to parse form data: %w", err)
		}
		params.Body = values
		return params, nil
	}

	var body interface{}
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return params, fmt.Errorf("failed to parse JSON body: %w", err)
	}
	params.Body = body

	return params, nil
}

func urlValues(rawBody []byte) (map[string]interface{}, error) {
	values, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, err
	}
	form := make(map[string]interface{}, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			form[key] = vals[0]
		}
	}
	return form, nil
}

// executeHandler runs handler with a deadline. Panics and timeouts become
// errors.
func (s *Server) executeHandler(handler WebhookHandler, params WebhookParams, timeout time.Duration) (WebhookResponse, error) {
	ctx, cancel := context.WithTimeout(params.Context, timeout)
	defer cancel()
	params.Context = ctx

	type outcome struct {
		response WebhookResponse
		err      error
	}
	resultChan := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		response, err := handler(params)
		resultChan <- outcome{response, err}
	}()

	select {
	case result := <-resultChan:
		if result.err == nil && result.response.Status == 0 {
			result.response.Status = http.StatusOK
		}
		return result.response, result.err
	case <-ctx.Done():
		return WebhookResponse{}, fmt.Errorf("handler timed out after %v: %w", timeout, ctx.Err())
	}
}

// sendResponse encodes and writes response.
func (s *Server) sendResponse(w http.ResponseWriter, response WebhookResponse) {
	payload, response := s.encodeResponse(response)
	s.writeResponse(w, response, payload)
}

// encodeResponse marshals the body before anything is written, so a body that
// cannot be encoded becomes a generic 500 instead of an empty 200.
func (s *Server) encodeResponse(response WebhookResponse) ([]byte, WebhookResponse) {
	if response.Body == nil {
		return nil, response
	}
	payload, err := json.Marshal(response.Body)
	if err == nil {
		return payload, response
	}

	s.logger.Error().Err(err).Int("status", response.Status).Msg("Failed to encode response")
	fallback := jsonError(http.StatusInternalServerError, "Internal Server Error")
	payload, _ = json.Marshal(fallback.Body)
	return payload, fallback
}

func (s *Server) writeResponse(w http.ResponseWriter, response WebhookResponse, payload []byte) {
	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	if payload != nil {
		w.Header().Set("Content-Type", "application/json")
	}

	w.WriteHeader(response.Status)

	if payload != nil {
		if _, err := w.Write(append(payload, '\n')); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to write response")
		}
	}
}

// getClientIP extracts the client IP from the request
func (s *Server) getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// getWebhook finds the route for method and path, exact matches first and
// then the longest prefix route.
func (s *Server) getWebhook(path string, method string) *WebhookConfig {
	s.webhooksMu.RLock()
	defer s.webhooksMu.RUnlock()

	if webhook, ok := s.webhooks[method+":"+path]; ok {
		return webhook
	}

	var best *WebhookConfig
	for _, webhook := range s.webhooks {
		if !webhook.Prefix || webhook.Method != method || !strings.HasPrefix(path, webhook.Path) {
			continue
		}
		if best == nil || len(webhook.Path) > len(best.Path) {
			best = webhook
		}
	}
	return best
}

// corsRoute returns any route at path that declares a CORS policy.
func (s *Server) corsRoute(path string) *WebhookConfig {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		if webhook := s.getWebhook(path, method); webhook != nil && webhook.CORS != nil {
			return webhook
		}
	}
	return nil
}

func (s *Server) pathRegistered(path string) bool {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		if s.getWebhook(path, method) != nil {
			return true
		}
	}
	return false
}

func (s *Server) routeCount() int {
	s.webhooksMu.RLock()
	defer s.webhooksMu.RUnlock()
	return len(s.webhooks)
}

// RegisterWebhook registers a route
func (s *Server) RegisterWebhook(config WebhookConfig) error {
	if !strings.HasPrefix(config.Path, "/") {
		return fmt.Errorf("webhook path must start with /")
	}

	validMethods := map[string]bool{
		http.MethodPost:   true,
		http.MethodGet:    true,
		http.MethodPut:    true,
		http.MethodDelete: true,
	}
	if !validMethods[config.Method] {
		return fmt.Errorf("invalid HTTP method: %s", config.Method)
	}

	if config.Handler == nil {
		return fmt.Errorf("webhook handler is required")
	}

	s.webhooksMu.Lock()
	key := config.Method + ":" + config.Path
	s.webhooks[key] = &config
	s.webhooksMu.Unlock()

	s.logger.Debug().
		Str("path", config.Path).
		Str("method", config.Method).
		Msg("Route registered")

	return nil
}

// UnregisterWebhook removes a route
func (s *Server) UnregisterWebhook(path string, method string) bool {
	s.webhooksMu.Lock()
	key := method + ":" + path
	_, exists := s.webhooks[key]
	if exists {
		delete(s.webhooks, key)
	}
	s.webhooksMu.Unlock()

	if exists {
		s.logger.Debug().
			Str("path", path).
			Str("method", method).
			Msg("Route unregistered")
	}

	return exists
}

// RouteInfo describes a registered route.
type RouteInfo struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description,omitempty"`
}

// ListWebhooks returns all registered routes sorted by path and method.
func (s *Server) ListWebhooks() []RouteInfo {
	s.webhooksMu.RLock()
	defer s.webhooksMu.RUnlock()

	routes := make([]RouteInfo, 0, len(s.webhooks))
	for _, webhook := range s.webhooks {
		routes = append(routes, RouteInfo{
			Path:        webhook.Path,
			Method:      webhook.Method,
			Description: webhook.Description,
		})
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}

// Stats returns per-route request stats.
func (s *Server) Stats() []RouteStats {
	return s.routes.Snapshot()
}

// StatsFor returns the stats of one route.
func (s *Server) StatsFor(path, method string) (RouteStats, bool) {
	return s.routes.Route(path, method)
}
