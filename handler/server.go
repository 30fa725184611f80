package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
	"github.com/pyama86/autoheal/domain/triage"
)

const CorrelationIDHeader = "X-Correlation-ID"

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type VerificationRequest struct {
	Success *bool  `json:"success" binding:"required"`
	Reason  string `json:"reason"`
}

type LogsRequest struct {
	Lines   []string `json:"lines" binding:"required"`
	CycleID string   `json:"cycle_id"`
}

type CycleResponse struct {
	Source     string                 `json:"source"`
	CycleID    string                 `json:"cycle_id"`
	Counts     map[string]int         `json:"counts"`
	Anomalies  []model.AnomalySummary `json:"anomalies"`
	Prediction *entity.Prediction     `json:"prediction,omitempty"`
	Absorbed   bool                   `json:"absorbed"`
}

func NewCycleResponse(r *CycleResult) CycleResponse {
	resp := CycleResponse{
		Source:     r.Source,
		CycleID:    r.CycleID,
		Counts:     r.Counts,
		Anomalies:  []model.AnomalySummary{},
		Prediction: r.Prediction,
		Absorbed:   r.Absorbed,
	}
	for _, a := range r.Anomalies {
		resp.Anomalies = append(resp.Anomalies, model.NewAnomalySummary(a))
	}
	return resp
}

type Handlers struct {
	engine   *Engine
	analyzer *Analyzer
	ids      triage.CorrelationGenerator
}

func NewHandlers(engine *Engine, analyzer *Analyzer) *Handlers {
	return &Handlers{engine: engine, analyzer: analyzer, ids: engine.ids}
}

func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.POST("/events", h.HandleEvent)
	rg.GET("/incidents/:id", h.HandleIncident)
	rg.POST("/incidents/:id/verification", h.HandleVerification)
	rg.POST("/sources/:source/logs", h.HandleLogs)
}

func NewRouter(h *Handlers, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	RegisterRoutes(router.Group("/v1"), h)
	return router
}

// errorStatus はエラーを HTTP ステータスとコードに変換する
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, entity.ErrInvalidEvent):
		return http.StatusBadRequest, "INVALID_EVENT"
	case errors.Is(err, entity.ErrDuplicateIncident):
		return http.StatusConflict, "DUPLICATE_INCIDENT"
	case errors.Is(err, entity.ErrIllegalTransition):
		return http.StatusConflict, "ILLEGAL_TRANSITION"
	case errors.Is(err, entity.ErrIncidentNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, entity.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func abortWithError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", slog.String("path", c.FullPath()), slog.Any("err", err))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func (h *Handlers) HandleEvent(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty request body", Code: "INVALID_REQUEST"})
		return
	}

	id := c.GetHeader(CorrelationIDHeader)
	if id == "" {
		id = h.ids.NewID()
	}
	out, err := h.engine.HandleEventWithID(c.Request.Context(), id, raw)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) HandleIncident(c *gin.Context) {
	inc, err := h.engine.Incident(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (h *Handlers) HandleVerification(c *gin.Context) {
	var req VerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	out, err := h.engine.CompleteVerification(c.Request.Context(), c.Param("id"), entity.Verification{Success: *req.Success, Reason: req.Reason})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) HandleLogs(c *gin.Context) {
	if h.analyzer == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "analyzer is disabled", Code: "NOT_FOUND"})
		return
	}
	var req LogsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	if req.CycleID == "" {
		req.CycleID = h.ids.NewID()
	}

	result, err := h.analyzer.RunCycle(c.Request.Context(), c.Param("source"), req.Lines, req.CycleID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewCycleResponse(result))
}
