// Package api provides the SkyHub HTTP API v2. The controller wires the
// datastore, facility registry, vector search, notification, archive and
// MQTT services onto an Echo instance under /api/v2.
package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/skyhub/skyhub-go/internal/archive"
	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/facility"
	"github.com/skyhub/skyhub-go/internal/httpclient"
	"github.com/skyhub/skyhub-go/internal/logging"
	"github.com/skyhub/skyhub-go/internal/mqtt"
	"github.com/skyhub/skyhub-go/internal/notification"
	"github.com/skyhub/skyhub-go/internal/observability"
	"github.com/skyhub/skyhub-go/internal/observability/metrics"
	"github.com/skyhub/skyhub-go/internal/search"
	"github.com/skyhub/skyhub-go/internal/secrets"
)

const (
	// actorCacheTTL bounds how long a resolved token stays valid without a
	// database round trip. Token deletion takes effect within this window.
	actorCacheTTL = 30 * time.Second

	actorCacheSweep = 5 * time.Minute
)

// Controller handles the API routes and carries the services the handlers
// depend on. Optional services (search, MQTT, archive) may be nil; handlers
// degrade per route.
type Controller struct {
	Echo       *echo.Echo
	Group      *echo.Group
	DS         datastore.Interface
	Settings   *conf.Settings
	Facilities *facility.Registry
	Search     *search.Service
	Notifier   *notification.Service
	Archive    *archive.Manager
	MQTT       mqtt.Client

	metrics    *observability.Metrics
	sse        *SSEManager
	webhooks   *httpclient.Client
	cipher     *secrets.Cipher
	actorCache *cache.Cache
	startTime  time.Time

	apiLogger      *slog.Logger
	apiLoggerClose func() error
}

// Option configures optional controller services.
type Option func(*Controller)

// WithFacilities attaches the facility registry used by followup handlers.
func WithFacilities(r *facility.Registry) Option {
	return func(c *Controller) { c.Facilities = r }
}

// WithSearch attaches the vector search service.
func WithSearch(s *search.Service) Option {
	return func(c *Controller) { c.Search = s }
}

// WithNotifier attaches the notification service.
func WithNotifier(n *notification.Service) Option {
	return func(c *Controller) { c.Notifier = n }
}

// WithArchive attaches the analysis product archive.
func WithArchive(m *archive.Manager) Option {
	return func(c *Controller) { c.Archive = m }
}

// WithMQTT attaches the MQTT client used for followup and spectra events.
func WithMQTT(client mqtt.Client) Option {
	return func(c *Controller) { c.MQTT = client }
}

// WithCipher attaches the credential cipher used to decrypt analysis
// service auth info.
func WithCipher(cipher *secrets.Cipher) Option {
	return func(c *Controller) { c.cipher = cipher }
}

// WithWebhookClient overrides the HTTP client used for outbound analysis
// webhooks. Tests use this to point at a stub server.
func WithWebhookClient(client *httpclient.Client) Option {
	return func(c *Controller) { c.webhooks = client }
}

// New creates the API controller and registers all v2 routes on e.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings, m *observability.Metrics, opts ...Option) (*Controller, error) {
	if e == nil {
		return nil, errors.Newf("echo instance is required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if ds == nil {
		return nil, errors.Newf("datastore is required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Controller{
		Echo:       e,
		DS:         ds,
		Settings:   settings,
		metrics:    m,
		actorCache: cache.New(actorCacheTTL, actorCacheSweep),
		startTime:  time.Now(),
	}

	for _, opt := range opts {
		opt(c)
	}

	level := slog.LevelInfo
	if settings.WebServer.Debug {
		level = slog.LevelDebug
	}
	logger, closeFunc, err := logging.NewFileLogger("logs/web.log", "api", level)
	if err != nil {
		logging.ForService("api").Warn("file logger unavailable, using service logger", "error", err)
		c.apiLogger = logging.ForService("api")
		c.apiLoggerClose = func() error { return nil }
	} else {
		c.apiLogger = logger
		c.apiLoggerClose = closeFunc
	}

	c.sse = NewSSEManager(c.apiLogger, c.httpMetrics())
	if c.webhooks == nil {
		c.webhooks = httpclient.New(nil)
	}

	c.Group = e.Group("/api/v2")
	c.Group.Use(c.LoggingMiddleware())
	c.initRoutes()

	return c, nil
}

// initRoutes registers every route group. A panic in one initializer is
// contained so the remaining groups still come up.
func (c *Controller) initRoutes() {
	routeInitializers := []struct {
		name string
		fn   func()
	}{
		{"system", c.initSystemRoutes},
		{"events", c.initEventRoutes},
		{"followups", c.initFollowupRoutes},
		{"spectra", c.initSpectraRoutes},
		{"search", c.initSearchRoutes},
		{"annotations", c.initAnnotationRoutes},
		{"analysis", c.initAnalysisRoutes},
	}

	for _, initializer := range routeInitializers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.apiLogger.Error("route initialization panicked",
						"group", initializer.name,
						"panic", fmt.Sprintf("%v", r))
				}
			}()
			initializer.fn()
			c.apiLogger.Debug("routes initialized", "group", initializer.name)
		}()
	}
}

// LoggingMiddleware logs every API request with timing and outcome, and
// feeds the HTTP metrics.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()

			err := next(ctx)
			if err != nil {
				ctx.Error(err)
			}

			req := ctx.Request()
			res := ctx.Response()
			elapsed := time.Since(start)

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", elapsed.Milliseconds(),
				"ip", ctx.RealIP(),
			}
			if err != nil {
				attrs = append(attrs, "error", err.Error())
				c.apiLogger.Error("API request failed", attrs...)
			} else if res.Status >= http.StatusBadRequest {
				c.apiLogger.Warn("API request rejected", attrs...)
			} else {
				c.apiLogger.Debug("API request", attrs...)
			}

			if hm := c.httpMetrics(); hm != nil {
				hm.RecordHTTPRequest(req.Method, ctx.Path(), res.Status, elapsed.Seconds())
				hm.RecordHTTPResponseSize(req.Method, ctx.Path(), res.Size)
			}
			return nil
		}
	}
}

// Shutdown closes the controller's background resources. The Echo server
// itself is owned by the caller.
func (c *Controller) Shutdown() {
	if c.sse != nil {
		c.sse.Close()
	}
	if c.webhooks != nil {
		c.webhooks.Close()
	}
	if c.apiLoggerClose != nil {
		if err := c.apiLoggerClose(); err != nil {
			logging.ForService("api").Warn("failed to close API log file", "error", err)
		}
	}
}

// ErrorResponse is the JSON shape of every API error.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse builds an error response with a fresh correlation ID.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorText := http.StatusText(code)
	if err != nil {
		errorText = err.Error()
	}
	return &ErrorResponse{
		Error:         errorText,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID returns a short random hex ID tying a client-facing
// error to the server log line.
func generateCorrelationID() string {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("t%07d", time.Now().UnixNano()%10000000)
	}
	return hex.EncodeToString(bytes)
}

// HandleError maps an error to an HTTP error response. Categorized errors
// pick their status from the category; the fallback is the provided code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	if status := httpStatusForError(err); status != 0 {
		code = status
	}

	resp := NewErrorResponse(err, message, code)

	attrs := []any{
		"correlation_id", resp.CorrelationID,
		"method", ctx.Request().Method,
		"path", ctx.Request().URL.Path,
		"status", code,
		"message", message,
		"ip", ctx.RealIP(),
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	if code >= http.StatusInternalServerError {
		c.apiLogger.Error("API error", attrs...)
	} else {
		c.apiLogger.Warn("API error", attrs...)
	}

	if hm := c.httpMetrics(); hm != nil && err != nil {
		hm.RecordHTTPRequestError(ctx.Request().Method, ctx.Path(), string(errorCategory(err)))
	}

	return ctx.JSON(code, resp)
}

// httpStatusForError maps error categories onto HTTP status codes. Returns
// 0 when the error carries no category mapping.
func httpStatusForError(err error) int {
	if err == nil {
		return 0
	}
	switch errorCategory(err) {
	case errors.CategoryValidation, errors.CategoryFileParsing, errors.CategoryFacilityPayload:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryUnauthorized, errors.CategoryCredentials:
		return http.StatusForbidden
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryLimit:
		return http.StatusTooManyRequests
	default:
		return 0
	}
}

func errorCategory(err error) errors.ErrorCategory {
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) {
		return errors.ErrorCategory(enhanced.GetCategory())
	}
	return errors.CategoryGeneric
}

func (c *Controller) httpMetrics() *metrics.HTTPMetrics {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.HTTP
}

// Debug logs a formatted message at debug level when web server debugging
// is enabled.
func (c *Controller) Debug(format string, v ...any) {
	if c.Settings.WebServer.Debug {
		c.apiLogger.Debug(fmt.Sprintf(format, v...))
	}
}
