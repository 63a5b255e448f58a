package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parking-occupancy-service/internal/capture"
	"parking-occupancy-service/internal/config"
	"parking-occupancy-service/internal/detector"
	"parking-occupancy-service/internal/domain/occupancy"
	"parking-occupancy-service/internal/http/middleware"
	"parking-occupancy-service/internal/monitor"
	"parking-occupancy-service/internal/registry"
	"parking-occupancy-service/internal/report"
	"parking-occupancy-service/internal/service"
)

type DetectionProcessor interface {
	ProcessDetections(ctx context.Context, detections []occupancy.Detection) (*monitor.CycleResult, error)
}

type LayoutRegistry interface {
	Current() (registry.Layout, bool)
	Reload(ctx context.Context) (registry.Layout, error)
}

type Handler struct {
	parkingService *service.ParkingService
	processor      DetectionProcessor
	layouts        LayoutRegistry
	config         *config.Config
	log            zerolog.Logger
}

func NewHandler(
	parkingService *service.ParkingService,
	processor DetectionProcessor,
	layouts LayoutRegistry,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		parkingService: parkingService,
		processor:      processor,
		layouts:        layouts,
		config:         cfg,
		log:            log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	public := r.Group("/api/v1")
	{
		public.GET("/parking/state", h.getState)
		public.GET("/parking/summary", h.getSummary)
		public.GET("/parking/spaces/:code/history", h.getHistory)
		public.POST("/parking/detections", h.pushDetections)
		public.GET("/occupancy/events", h.listEvents)
		public.GET("/reports/occupancy", h.occupancyReport)
		public.GET("/camera/status", h.checkCameraStatus)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/spots", h.listSpots)
		protected.POST("/spots/reload", h.reloadSpots)
	}
}

func (h *Handler) getState(c *gin.Context) {
	state, err := h.parkingService.State(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(state))
}

func (h *Handler) getSummary(c *gin.Context) {
	summary, err := h.parkingService.Summary(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(summary))
}

func (h *Handler) getHistory(c *gin.Context) {
	limit := 0
	if l := c.Query("limit"); l != "" {
		parsed, err := parseInt(l)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	history, err := h.parkingService.History(c.Request.Context(), c.Param("code"), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(history))
}

func (h *Handler) listEvents(c *gin.Context) {
	var spaceQuery *string
	if space := strings.TrimSpace(c.Query("space")); space != "" {
		spaceQuery = &space
	}

	from, to := optionalQuery(c, "from"), optionalQuery(c, "to")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	events, err := h.parkingService.FindEvents(c.Request.Context(), spaceQuery, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) occupancyReport(c *gin.Context) {
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", "json")))
	if format != "json" && format != "xlsx" {
		c.JSON(http.StatusBadRequest, errorResponse("format must be json or xlsx"))
		return
	}

	result, err := h.parkingService.OccupancyReport(c.Request.Context(), optionalQuery(c, "from"), optionalQuery(c, "to"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	if format == "json" {
		c.JSON(http.StatusOK, successResponse(result))
		return
	}

	filename := fmt.Sprintf("occupancy_%s_%s.xlsx", result.From.Format("20060102T1504"), result.To.Format("20060102T1504"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Status(http.StatusOK)
	if err := report.WriteXLSX(c.Writer, result); err != nil {
		h.log.Error().Err(err).Msg("failed to write occupancy workbook")
	}
}

func (h *Handler) pushDetections(c *gin.Context) {
	var req detector.Response
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	for i, box := range req.Detections {
		if box.Confidence < 0 || box.Confidence > 1 {
			c.JSON(http.StatusBadRequest, errorResponse(fmt.Sprintf("detections[%d].confidence must be within [0,1]", i)))
			return
		}
	}

	result, err := h.processor.ProcessDetections(c.Request.Context(), req.ToDetections())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, successResponse(result))
	case errors.Is(err, occupancy.ErrCycleInFlight), errors.Is(err, monitor.ErrLeaseHeld):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, occupancy.ErrNoSpotsAvailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
	case errors.Is(err, occupancy.ErrStoreUnreachable):
		h.log.Error().Err(err).Msg("detection push could not reach the store")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": err.Error(),
			"data":  result,
		})
	default:
		h.handleError(c, err)
	}
}

func (h *Handler) listSpots(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok || !principal.CanManageSpots() {
		c.JSON(http.StatusForbidden, errorResponse("forbidden"))
		return
	}

	spaces, err := h.parkingService.ListSpaces(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	resp := gin.H{"spaces": spaces}
	if layout, ok := h.layouts.Current(); ok {
		resp["layout"] = layout
	}
	c.JSON(http.StatusOK, successResponse(resp))
}

func (h *Handler) reloadSpots(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok || !principal.IsAdmin() {
		c.JSON(http.StatusForbidden, errorResponse("forbidden"))
		return
	}

	layout, err := h.layouts.Reload(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Str("user_id", principal.UserID.String()).Msg("failed to reload spot layout")
		c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
		return
	}

	h.log.Info().
		Str("user_id", principal.UserID.String()).
		Str("source", layout.Source).
		Int("spots", len(layout.Spots)).
		Msg("spot layout reloaded")

	c.JSON(http.StatusOK, successResponse(gin.H{
		"source": layout.Source,
		"spots":  len(layout.Spots),
	}))
}

func (h *Handler) checkCameraStatus(c *gin.Context) {
	httpHost := h.config.Camera.HTTPHost

	status := gin.H{
		"camera_id":    h.config.Camera.ID,
		"camera_model": h.config.Camera.Model,
		"http_host":    httpHost,
		"configured":   httpHost != "",
	}

	if httpHost != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		src := capture.NewHTTPSnapshotSource(h.config.Camera)
		frame, err := src.Next(ctx)
		if err != nil {
			status["snapshot_ok"] = false
			status["snapshot_error"] = err.Error()
		} else {
			status["snapshot_ok"] = true
			status["snapshot_bytes"] = len(frame.Data)
			status["content_type"] = frame.ContentType
		}
	} else {
		status["snapshot_ok"] = false
		status["snapshot_error"] = "HTTP host not configured"
	}

	h.log.Info().
		Str("http_host", httpHost).
		Bool("snapshot_ok", status["snapshot_ok"].(bool)).
		Msg("camera status checked")

	c.JSON(http.StatusOK, gin.H{
		"status": status,
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func optionalQuery(c *gin.Context, key string) *string {
	if v := strings.TrimSpace(c.Query(key)); v != "" {
		return &v
	}
	return nil
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
