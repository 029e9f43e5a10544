package frontend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jo-hoe/tumorcam/internal/common"
	"github.com/jo-hoe/tumorcam/internal/core"
	"github.com/jo-hoe/tumorcam/internal/imaging"
	"github.com/labstack/echo/v4"
)

const (
	MainPageName    = "index.html"
	historyPageName = "history.html"
	scanPageName    = "scan.html"
	notFoundName    = "404.html"
	mimePNG         = "image/png"
)

type FrontendService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

type pageData struct {
	Title  string
	Accept string
	Scans  []*core.ScanResult
	Scan   *core.ScanResult

	Page     int
	Pages    int
	Total    int
	HasPrev  bool
	HasNext  bool
	PrevPage int
	NextPage int
}

// uploadResponse is the JSON body of POST /upload.
type uploadResponse struct {
	Success    bool    `json:"success"`
	Prediction string  `json:"prediction,omitempty"`
	Confidence float64 `json:"confidence"`
	ImageURL   string  `json:"image_url,omitempty"`
	ScanID     string  `json:"scan_id,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// gradcamResponse is the JSON body of /gradcam/:id.
type gradcamResponse struct {
	Success    bool   `json:"success"`
	GradCAMURL string `json:"gradcam_url,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
	}
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	// Create template renderer
	e.Renderer = NewTemplate()

	e.GET("/", service.indexHandler)
	e.POST("/upload", service.uploadHandler)
	e.GET("/history", service.historyHandler)
	e.GET("/scan/:id", service.scanHandler)
	e.GET("/scan/:id/thumbnail", service.thumbnailHandler)
	e.GET("/gradcam/:id", service.gradcamHandler)
	e.POST("/gradcam/:id", service.gradcamHandler)

	// Uploaded scans and overlays
	media := service.coreService.Media()
	e.Static(media.URLPrefix(), media.Root())

	// Favicon (SVG) route
	e.GET("/icon.svg", service.iconHandler)
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	scans, err := service.coreService.RecentScans(ctx.Request().Context())
	if err != nil {
		slog.Error("indexHandler: failed to list recent scans",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to list recent scans")
	}
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, MainPageName, pageData{
		Title:  "Upload",
		Accept: strings.Join(service.coreService.AcceptedExtensions(), ","),
		Scans:  scans,
	})
}

func (service *FrontendService) uploadHandler(ctx echo.Context) error {
	filename, data, err := common.ReadUpload(ctx, "image", service.config.Upload.MaxBytes)
	if errors.Is(err, common.ErrMissingFile) {
		slog.Warn("uploadHandler: no image provided", "status", http.StatusBadRequest, "error", err)
		return ctx.JSON(http.StatusBadRequest, uploadResponse{Error: "No image file provided"})
	}
	if err != nil {
		slog.Error("uploadHandler: failed to read uploaded file",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, uploadResponse{Error: "Failed to read uploaded file"})
	}

	result, err := service.coreService.Upload(ctx.Request().Context(), filename, data)
	if err != nil {
		status := common.StatusFromError(err)
		slog.Error("uploadHandler: failed to process uploaded image",
			"status", status, "error", err, "filename", filename)
		return ctx.JSON(status, uploadResponse{Error: uploadErrorMessage(err, status)})
	}
	if result.Prediction == nil {
		return ctx.JSON(http.StatusInternalServerError, uploadResponse{Error: "Failed to make prediction", ScanID: result.ID})
	}

	return ctx.JSON(http.StatusOK, uploadResponse{
		Success:    true,
		Prediction: result.Prediction.DisplayName,
		Confidence: result.Prediction.ConfidencePercent(),
		ImageURL:   result.ImageURL,
		ScanID:     result.ID,
	})
}

func uploadErrorMessage(err error, status int) string {
	switch {
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		return "Invalid file type. Please upload JPG, PNG, or BMP files."
	case status < http.StatusInternalServerError:
		return common.ClientMessage(err)
	}
	return "Failed to make prediction"
}

func (service *FrontendService) historyHandler(ctx echo.Context) error {
	page, err := strconv.Atoi(ctx.QueryParam("page"))
	if err != nil || page < 1 {
		page = 1
	}
	size := service.config.HistoryPageSize

	result, err := service.coreService.ListScans(ctx.Request().Context(), size, (page-1)*size)
	if err != nil {
		slog.Error("historyHandler: failed to list scans",
			"status", http.StatusInternalServerError, "error", err, "page", page)
		return ctx.String(http.StatusInternalServerError, "Failed to list scans")
	}

	pages := max(1, (result.Total+size-1)/size)
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, historyPageName, pageData{
		Title:    "History",
		Scans:    result.Scans,
		Page:     page,
		Pages:    pages,
		Total:    result.Total,
		HasPrev:  page > 1,
		HasNext:  page < pages,
		PrevPage: page - 1,
		NextPage: page + 1,
	})
}

func (service *FrontendService) scanHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	scan, err := service.coreService.GetScan(ctx.Request().Context(), id)
	if errors.Is(err, core.ErrScanNotFound) {
		slog.Warn("scanHandler: scan not found", "status", http.StatusNotFound, "scan_id", id)
		return ctx.Render(http.StatusNotFound, notFoundName, pageData{Title: "Not found"})
	}
	if err != nil {
		slog.Error("scanHandler: failed to load scan",
			"status", http.StatusInternalServerError, "scan_id", id, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load scan")
	}
	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, scanPageName, pageData{Title: scan.Filename, Scan: scan})
}

func (service *FrontendService) thumbnailHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	thumbnail, err := service.coreService.Thumbnail(ctx.Request().Context(), id)
	if err != nil || len(thumbnail) == 0 {
		slog.Warn("thumbnailHandler: thumbnail not available",
			"status", http.StatusNotFound, "scan_id", id, "error", err)
		return ctx.String(http.StatusNotFound, "Thumbnail not available")
	}
	return ctx.Blob(http.StatusOK, mimePNG, thumbnail)
}

func (service *FrontendService) gradcamHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	result, err := service.coreService.Visualize(ctx.Request().Context(), id)
	if err != nil {
		status := common.StatusFromError(err)
		slog.Error("gradcamHandler: failed to generate overlay", "status", status, "scan_id", id, "error", err)
		message := "Failed to generate Grad-CAM visualization"
		switch status {
		case http.StatusNotFound:
			message = "Scan not found"
		case http.StatusConflict:
			message = "Scan has no prediction yet"
		}
		return ctx.JSON(status, gradcamResponse{Error: message})
	}

	service.setNoCache(ctx)
	return ctx.JSON(http.StatusOK, gradcamResponse{
		Success:    true,
		GradCAMURL: result.URL,
		Message:    "Grad-CAM visualization generated successfully",
	})
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile("views/icon.svg")
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, fmt.Sprintf("Failed to load icon: %v", err))
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/svg+xml", data)
}
