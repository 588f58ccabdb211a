// Package gateway is the HTTP edge: it serves the analysis API, guards every
// other request with the defense pipeline, and forwards what passes to the
// named backends.
package gateway

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/defense"
)

// ServiceName identifies the sentinel in health responses.
const ServiceName = "edge-sentinel"

// localBodyLimit caps bodies accepted by the local API.
const localBodyLimit = 1 << 20

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Service     *defense.Service
	Proxy       *Proxy
	CORSOrigins []string
	// Statuses reports backend health for GET /health. May be nil.
	Statuses func() map[string]string
	// MaxBodyBytes is the largest body prefix the guard inspects.
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// NewRouter builds the sentinel's Gin engine. Local routes are matched first;
// anything else goes through the guard and on to the proxy.
func NewRouter(opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CORS(opts.CORSOrigins))
	router.Use(PrometheusMiddleware())
	router.Use(RequestLogger(logger))

	router.GET("/health", HealthHandler(ServiceName, opts.Statuses))
	router.GET("/metrics", MetricsHandler())

	local := router.Group("/", SecurityHeaders(), BodyLimit(localBodyLimit))
	NewThreatHandler(opts.Service, logger).Register(local)

	proxy := opts.Proxy
	if proxy == nil {
		proxy = &Proxy{logger: logger}
	}
	router.NoRoute(
		Guard(opts.Service, proxy, opts.MaxBodyBytes, logger),
		proxy.Handler(),
	)
	return router
}
