package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/defense"
	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
	"github.com/jmerrifield20/EdgeSentinel/internal/storage"
	"github.com/jmerrifield20/EdgeSentinel/internal/threat"
)

// ThreatHandler serves the analysis API and the detection read side.
type ThreatHandler struct {
	svc    *defense.Service
	logger *zap.Logger
}

// NewThreatHandler creates a new ThreatHandler.
func NewThreatHandler(svc *defense.Service, logger *zap.Logger) *ThreatHandler {
	return &ThreatHandler{svc: svc, logger: logger}
}

// Register mounts the handler's routes on r.
func (h *ThreatHandler) Register(r gin.IRouter) {
	r.POST("/analyze-threat", h.AnalyzeThreat)
	r.POST("/predict-batch", h.PredictBatch)

	v1 := r.Group("/api/v1")
	v1.POST("/inspect", h.Inspect)
	v1.GET("/detections", h.ListDetections)
	v1.GET("/detections/:id", h.GetDetection)
	v1.GET("/training", h.ListTraining)
	v1.GET("/stats", h.Stats)
}

// AnalyzeThreat handles POST /analyze-threat.
func (h *ThreatHandler) AnalyzeThreat(c *gin.Context) {
	var req threat.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Category == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category is required"})
		return
	}

	resp, err := h.svc.Analyze(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "analyze threat", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PredictBatch handles POST /predict-batch. The body must be a JSON array.
func (h *ThreatHandler) PredictBatch(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	var reqs []threat.AnalysisRequest
	if err := json.Unmarshal(raw, &reqs); err != nil || reqs == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON array of analysis requests"})
		return
	}

	preds, err := h.svc.AnalyzeBatch(c.Request.Context(), reqs)
	if err != nil {
		h.writeError(c, "predict batch", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": preds, "count": len(preds)})
}

type inspectRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   string            `json:"query"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Inspect handles POST /api/v1/inspect. It runs the full pipeline on the
// described request without forwarding anything.
func (h *ThreatHandler) Inspect(c *gin.Context) {
	var req inspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Path == "" {
		req.Path = "/"
	}

	headers := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		headers.Set(k, v)
	}

	v := h.svc.Inspect(c.Request.Context(), defense.Inbound{
		Request: detect.Request{
			Method:        req.Method,
			Path:          req.Path,
			Query:         req.Query,
			Body:          []byte(req.Body),
			Headers:       headers,
			ContentLength: int64(len(req.Body)),
		},
		Source:    "inspect",
		SourceIP:  c.ClientIP(),
		UserAgent: headers.Get("User-Agent"),
	})
	c.JSON(http.StatusOK, v)
}

// ListDetections handles GET /api/v1/detections.
func (h *ThreatHandler) ListDetections(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	recs, err := h.svc.RecentDetections(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, "list detections", err)
		return
	}
	if recs == nil {
		recs = []storage.DetectionRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"detections": recs, "count": len(recs)})
}

// GetDetection handles GET /api/v1/detections/:id.
func (h *ThreatHandler) GetDetection(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid detection ID"})
		return
	}

	l, err := h.svc.Detection(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "get detection", err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// ListTraining handles GET /api/v1/training.
func (h *ThreatHandler) ListTraining(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	samples, err := h.svc.RecentTraining(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, "list training samples", err)
		return
	}
	if samples == nil {
		samples = []storage.TrainingSample{}
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples, "count": len(samples)})
}

// Stats handles GET /api/v1/stats.
func (h *ThreatHandler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, "stats", err)
		return
	}
	if st.Categories == nil {
		st.Categories = []storage.CategoryCount{}
	}
	c.JSON(http.StatusOK, st)
}

// writeError maps service errors onto HTTP statuses.
func (h *ThreatHandler) writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, threat.ErrUnknownCategory), errors.Is(err, defense.ErrBatchTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, storage.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op})
	}
}
