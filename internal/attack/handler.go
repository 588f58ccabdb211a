package attack

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServiceName identifies the strike service in health responses.
const ServiceName = "strike-attack"

// Handler exposes the driver over HTTP.
type Handler struct {
	driver *Driver
	logger *zap.Logger
}

// NewHandler creates a new Handler.
func NewHandler(driver *Driver, logger *zap.Logger) *Handler {
	return &Handler{driver: driver, logger: logger}
}

// Register mounts the handler's routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/attack/stats", h.Stats)
	r.GET("/attack/auto", h.Auto)
	r.GET("/attack/comprehensive", h.Comprehensive)
	r.GET("/attack/comprehensive/last", h.LastComprehensive)
	r.GET("/attack/:category", h.Attack)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"service":        ServiceName,
		"timestamp":      time.Now().UTC(),
		"attack_targets": h.driver.Targets(),
		"attack_types":   h.driver.Catalog().Categories(),
	})
}

// Stats handles GET /attack/stats.
func (h *Handler) Stats(c *gin.Context) {
	cat := h.driver.Catalog()
	endpoints := make(map[string]string)
	for _, name := range cat.Categories() {
		e, _ := cat.Entry(name)
		endpoints[string(name)] = "/attack/" + string(name) + "?target=backend&count=" + strconv.Itoa(e.DefaultCount)
	}
	endpoints["auto"] = "/attack/auto?target=both&intensity=medium"
	endpoints["comprehensive"] = "/attack/comprehensive"

	c.JSON(http.StatusOK, gin.H{
		"available_attacks": cat.Categories(),
		"targets":           h.driver.Targets(),
		"payload_counts":    cat.PayloadCounts(),
		"endpoints":         endpoints,
		"timestamp":         time.Now().UTC(),
	})
}

// Attack handles GET /attack/:category?target=&count=.
func (h *Handler) Attack(c *gin.Context) {
	target := c.DefaultQuery("target", "backend")
	count, _ := strconv.Atoi(c.Query("count"))

	rep, err := h.driver.Run(c.Request.Context(), c.Param("category"), target, count)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Auto handles GET /attack/auto?target=&intensity=.
func (h *Handler) Auto(c *gin.Context) {
	rep, err := h.driver.RunAuto(c.Request.Context(), c.DefaultQuery("target", "both"), c.DefaultQuery("intensity", defaultIntensity))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Comprehensive handles GET /attack/comprehensive.
func (h *Handler) Comprehensive(c *gin.Context) {
	c.JSON(http.StatusOK, h.driver.RunComprehensive(c.Request.Context()))
}

// LastComprehensive handles GET /attack/comprehensive/last.
func (h *Handler) LastComprehensive(c *gin.Context) {
	rep := h.driver.LastComprehensive()
	if rep == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no comprehensive run has completed"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "targets": h.driver.Targets()})
	case errors.Is(err, ErrUnknownCategory):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "available_attacks": h.driver.Catalog().Categories()})
	default:
		h.logger.Error("attack run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attack run failed"})
	}
}
