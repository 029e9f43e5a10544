package backend

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jo-hoe/tumorcam/internal/common"
	"github.com/jo-hoe/tumorcam/internal/core"
	"github.com/jo-hoe/tumorcam/internal/metrics"
)

const mimePNG = "image/png"

type APIService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
	metrics     *metrics.Metrics
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// historyQuery holds the paging parameters of GET /api/scans.
type historyQuery struct {
	Limit  int `query:"limit" validate:"gte=0,lte=100"`
	Offset int `query:"offset" validate:"gte=0"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService, m *metrics.Metrics) *APIService {
	return &APIService{
		coreService: coreService,
		config:      config,
		metrics:     m,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	// Set probe route
	e.GET("/probe", s.probeHandler)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := e.Group("/api")
	api.POST("/scans", s.uploadScanHandler)
	api.GET("/scans", s.listScansHandler)
	api.GET("/scans/:id", s.getScanHandler)
	api.DELETE("/scans/:id", s.deleteScanHandler)
	api.POST("/scans/:id/predict", s.predictHandler)
	api.POST("/scans/:id/gradcam", s.createGradCAMHandler)
	api.GET("/scans/:id/gradcam", s.getGradCAMHandler)
	api.GET("/model", s.modelHandler)
}

func (s *APIService) probeHandler(ctx echo.Context) error {
	if !s.coreService.Ping() {
		return ctx.String(http.StatusServiceUnavailable, "database unavailable")
	}
	return ctx.String(http.StatusOK, "API Service is running")
}

// errorJSON logs the failure and writes the mapped status.
func (s *APIService) errorJSON(ctx echo.Context, handler string, err error, attrs ...any) error {
	status := common.StatusFromError(err)
	attrs = append(attrs, "status", status, "error", err)
	if status >= http.StatusInternalServerError {
		slog.Error(handler+": request failed", attrs...)
	} else {
		slog.Warn(handler+": request rejected", attrs...)
	}
	return ctx.JSON(status, ErrorResponse{Error: common.ClientMessage(err)})
}

func (s *APIService) uploadScanHandler(ctx echo.Context) error {
	filename, data, err := common.ReadUpload(ctx, "image", s.config.Upload.MaxBytes)
	if err != nil {
		return s.errorJSON(ctx, "uploadScanHandler", err)
	}

	result, err := s.coreService.Upload(ctx.Request().Context(), filename, data)
	if err != nil {
		return s.errorJSON(ctx, "uploadScanHandler", err, "filename", filename)
	}
	return ctx.JSON(http.StatusCreated, result)
}

func (s *APIService) listScansHandler(ctx echo.Context) error {
	var query historyQuery
	if err := ctx.Bind(&query); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid paging parameters"})
	}
	if err := ctx.Validate(&query); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be 0-100 and offset must not be negative"})
	}

	page, err := s.coreService.ListScans(ctx.Request().Context(), query.Limit, query.Offset)
	if err != nil {
		return s.errorJSON(ctx, "listScansHandler", err)
	}
	return ctx.JSON(http.StatusOK, page)
}

func (s *APIService) getScanHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	result, err := s.coreService.GetScan(ctx.Request().Context(), id)
	if err != nil {
		return s.errorJSON(ctx, "getScanHandler", err, "scan_id", id)
	}
	return ctx.JSON(http.StatusOK, result)
}

func (s *APIService) deleteScanHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	if err := s.coreService.DeleteScan(ctx.Request().Context(), id); err != nil {
		return s.errorJSON(ctx, "deleteScanHandler", err, "scan_id", id)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *APIService) predictHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	result, err := s.coreService.Predict(ctx.Request().Context(), id)
	if err != nil {
		return s.errorJSON(ctx, "predictHandler", err, "scan_id", id)
	}
	return ctx.JSON(http.StatusOK, result)
}

func (s *APIService) createGradCAMHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	result, err := s.coreService.Visualize(ctx.Request().Context(), id)
	if err != nil {
		return s.errorJSON(ctx, "createGradCAMHandler", err, "scan_id", id)
	}
	return ctx.JSON(http.StatusCreated, result)
}

func (s *APIService) getGradCAMHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	data, err := s.coreService.VisualizationImage(ctx.Request().Context(), id)
	if err != nil {
		return s.errorJSON(ctx, "getGradCAMHandler", err, "scan_id", id)
	}
	ctx.Response().Header().Set("Cache-Control", "no-store")
	return ctx.Blob(http.StatusOK, mimePNG, data)
}

func (s *APIService) modelHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.coreService.ModelSummary())
}
