package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var (
	corsMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	corsHeaders = []string{"Content-Type", "Authorization", "X-API-Key"}
)

const corsMaxAge = 24 * time.Hour

// CORS returns the CORS middleware for origins. With a wildcard origin every
// response carries the CORS headers, whether or not the request sent an
// Origin, and any OPTIONS request is answered locally with 204. With an
// explicit origin list the standard gin-contrib/cors handling applies and
// credentials are allowed.
func CORS(origins []string) gin.HandlerFunc {
	if len(origins) == 0 || containsWildcard(origins) {
		return edgeCORS()
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     corsMethods,
		AllowHeaders:     append([]string{"Origin"}, corsHeaders...),
		ExposeHeaders:    []string{"Content-Length", "X-Threat-Action"},
		AllowCredentials: true,
		MaxAge:           corsMaxAge,
	})
}

func edgeCORS() gin.HandlerFunc {
	methods := strings.Join(corsMethods, ", ")
	headers := strings.Join(corsHeaders, ", ")
	maxAge := "86400"
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", methods)
		h.Set("Access-Control-Allow-Headers", headers)
		h.Set("Access-Control-Max-Age", maxAge)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
