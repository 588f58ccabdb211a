package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context keys set by the guard and proxy for the request logger.
const (
	ctxBackend      = "gateway.backend"
	ctxThreatAction = "gateway.threat_action"
)

// DefaultRoutes maps path prefixes to the backend names served by default.
var DefaultRoutes = map[string]string{
	"/api/v1/":           "backend",
	"/api/ai/":           "ai",
	"/api/quantum/":      "ai",
	"/api/tools/":        "hexstrike",
	"/api/intelligence/": "hexstrike",
	"/api/agents/":       "hexstrike",
}

type route struct {
	prefix  string
	backend string
}

// Proxy forwards requests to named backends chosen by longest path prefix.
type Proxy struct {
	routes  []route
	proxies map[string]*httputil.ReverseProxy
	logger  *zap.Logger
}

// NewProxy creates a Proxy. backends maps backend names to base URLs and
// routes maps path prefixes to backend names. Every route must name a
// configured backend.
func NewProxy(backends, routes map[string]string, logger *zap.Logger) (*Proxy, error) {
	p := &Proxy{
		proxies: make(map[string]*httputil.ReverseProxy, len(backends)),
		logger:  logger,
	}

	for name, raw := range backends {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", name, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("backend %q: URL must be absolute http(s), got %q", name, raw)
		}
		p.proxies[name] = p.newReverseProxy(name, u)
	}

	for prefix, name := range routes {
		if _, ok := p.proxies[name]; !ok {
			return nil, fmt.Errorf("route %q: unknown backend %q", prefix, name)
		}
		if !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("route %q: prefix must start with /", prefix)
		}
		p.routes = append(p.routes, route{prefix: prefix, backend: name})
	}
	sort.Slice(p.routes, func(i, j int) bool {
		if len(p.routes[i].prefix) != len(p.routes[j].prefix) {
			return len(p.routes[i].prefix) > len(p.routes[j].prefix)
		}
		return p.routes[i].prefix < p.routes[j].prefix
	})

	return p, nil
}

func (p *Proxy) newReverseProxy(name string, target *url.URL) *httputil.ReverseProxy {
	rp := httputil.NewSingleHostReverseProxy(target)
	// The edge owns CORS; backend values would duplicate or contradict it.
	rp.ModifyResponse = func(resp *http.Response) error {
		for k := range resp.Header {
			if strings.HasPrefix(k, "Access-Control-") {
				resp.Header.Del(k)
			}
		}
		return nil
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Warn("backend unavailable",
			zap.String("backend", name),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Container unavailable"}`))
	}
	return rp
}

// Resolve returns the backend name serving path.
func (p *Proxy) Resolve(path string) (string, bool) {
	for _, r := range p.routes {
		if strings.HasPrefix(path, r.prefix) {
			return r.backend, true
		}
	}
	return "", false
}

// Prefixes returns the routed path prefixes in sorted order.
func (p *Proxy) Prefixes() []string {
	out := make([]string, 0, len(p.routes))
	for _, r := range p.routes {
		out = append(out, r.prefix)
	}
	sort.Strings(out)
	return out
}

// Handler forwards the request to its backend, or answers 404 when no
// prefix matches.
func (p *Proxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		name, ok := p.Resolve(path)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error":           "Not Found",
				"message":         "No service available for path: " + path,
				"available_paths": p.Prefixes(),
			})
			return
		}
		c.Set(ctxBackend, name)
		p.proxies[name].ServeHTTP(c.Writer, c.Request)
	}
}
