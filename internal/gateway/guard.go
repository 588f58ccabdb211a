package gateway

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/defense"
	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
	"github.com/jmerrifield20/EdgeSentinel/internal/threat"
)

// Headers added to challenged requests before they are forwarded.
const (
	HeaderThreatAction = "X-Threat-Action"
	HeaderThreatScore  = "X-Threat-Score"
)

// replayBody re-serves the inspected prefix of a body before the rest of it.
type replayBody struct {
	io.Reader
	io.Closer
}

// Guard runs the defense pipeline on every request it sees. Blocked requests
// get a 403 JSON response; challenged requests continue with the
// X-Threat-Action and X-Threat-Score request headers set. At most
// maxBodyBytes+1 bytes of the body are inspected, and the body is restored
// intact for the next handler. A body that fills the read is reported as
// truncated so its size is judged on the raw bytes seen.
func Guard(svc *defense.Service, proxy *Proxy, maxBodyBytes int64, logger *zap.Logger) gin.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = detect.DefaultLimits.MaxBodyBytes
	}
	return func(c *gin.Context) {
		r := c.Request
		r.Header.Del(HeaderThreatAction)
		r.Header.Del(HeaderThreatScore)

		var (
			body      []byte
			truncated bool
		)
		if r.Body != nil && r.Body != http.NoBody {
			var err error
			body, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
				return
			}
			truncated = int64(len(body)) > maxBodyBytes
			r.Body = replayBody{Reader: io.MultiReader(bytes.NewReader(body), r.Body), Closer: r.Body}
		}

		headers := r.Header.Clone()
		if r.Host != "" {
			headers.Set("Host", r.Host)
		}

		var target string
		if proxy != nil {
			target, _ = proxy.Resolve(r.URL.Path)
		}

		v := svc.Inspect(r.Context(), defense.Inbound{
			Request: detect.Request{
				Method:        r.Method,
				Path:          r.URL.EscapedPath(),
				Query:         r.URL.RawQuery,
				Body:          body,
				Headers:       headers,
				ContentLength: r.ContentLength,
				Truncated:     truncated,
			},
			Source:    "edge",
			Target:    target,
			SourceIP:  c.ClientIP(),
			UserAgent: r.UserAgent(),
		})

		if v.Analysis == nil {
			c.Next()
			return
		}
		action := v.Action()
		c.Set(ctxThreatAction, string(action))

		switch action {
		case threat.ActionBlock:
			logger.Warn("request blocked",
				zap.String("category", string(v.Detection.Category)),
				zap.Float64("threat_score", v.Analysis.ThreatScore),
				zap.String("path", r.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			c.Header(HeaderThreatAction, string(threat.ActionBlock))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":         "Request blocked",
				"category":      v.Detection.Category,
				"threat_score":  v.Analysis.ThreatScore,
				"reason":        v.Analysis.Reason,
				"attack_log_id": v.AttackLogID,
			})
			return
		case threat.ActionChallenge:
			r.Header.Set(HeaderThreatAction, string(threat.ActionChallenge))
			r.Header.Set(HeaderThreatScore, fmt.Sprintf("%.3f", v.Analysis.ThreatScore))
		}
		c.Next()
	}
}
