package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler answers GET /health locally. It always returns 200; backend
// statuses are reported alongside when statuses is non-nil.
func HealthHandler(service string, statuses func() map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":    "ok",
			"service":   service,
			"timestamp": time.Now().UTC(),
		}
		if statuses != nil {
			body["backends"] = statuses()
		}
		c.JSON(http.StatusOK, body)
	}
}
