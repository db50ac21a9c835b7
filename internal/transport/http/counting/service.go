// Package counting exposes the box-counting HTTP endpoints: image upload
// and base64 variants of the analysis pipeline, plus index and health.
package counting

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"boxcount-server-go/internal/domain/analysis"
	domainimage "boxcount-server-go/internal/domain/image"
	"boxcount-server-go/internal/domain/prompt"
	"boxcount-server-go/internal/platform/errors"
	"boxcount-server-go/internal/platform/logging"
	httptransport "boxcount-server-go/internal/transport/http"
)

const serviceName = "box-counting-ai"

// Analyzer is the outbound model call the handlers depend on. The vision
// gateway implements it; tests substitute a stub.
type Analyzer interface {
	Analyze(ctx context.Context, imageBase64, promptText string) (string, error)
}

// Service wires the normalization, prompt and analysis stages behind the
// counting endpoints.
type Service struct {
	logger     *logging.Logger
	normalizer *domainimage.Normalizer
	prompts    *prompt.Source
	analyzer   Analyzer
}

// NewService creates the counting transport service.
func NewService(
	normalizer *domainimage.Normalizer,
	prompts *prompt.Source,
	analyzer Analyzer,
	logger *logging.Logger,
) (*Service, error) {
	if normalizer == nil {
		return nil, errors.New(errors.KindConfig, "counting.new", "image normalizer is required")
	}
	if prompts == nil {
		return nil, errors.New(errors.KindConfig, "counting.new", "prompt source is required")
	}
	if analyzer == nil {
		return nil, errors.New(errors.KindConfig, "counting.new", "analyzer is required")
	}
	if logger == nil {
		logger = logging.DefaultLogger
	}

	return &Service{
		logger:     logger,
		normalizer: normalizer,
		prompts:    prompts,
		analyzer:   analyzer,
	}, nil
}

// Register mounts the open routes on root and the counting routes on the
// auth-protected group.
func (s *Service) Register(root, secured *gin.RouterGroup) {
	root.GET("/", s.handleIndex)
	root.GET("/health", s.handleHealth)

	secured.POST("/count-boxes", s.handleCountBoxes)
	secured.POST("/count-boxes-simple", s.handleCountBoxesSimple)
	secured.POST("/count-boxes-base64", s.handleCountBoxesBase64)

	s.logger.InfoTag("HTTP", "counting routes registered")
}

// handleIndex describes the API surface.
// @Summary API information
// @Description Lists the available endpoints and the service version
// @Tags Counting
// @Produce json
// @Success 200 {object} IndexResponse
// @Router / [get]
func (s *Service) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, IndexResponse{
		Message: "Vision AI Box Counting API",
		Version: Version,
		Endpoints: map[string]string{
			"/count-boxes":        "POST - Upload image file for box counting and label extraction",
			"/count-boxes-simple": "POST - Upload image file for simplified box counting",
			"/count-boxes-base64": "POST - Send base64 image for box counting and label extraction",
			"/health":             "GET - Health check endpoint",
		},
	})
}

// handleHealth reports liveness. Always 200; upstream model state is not
// probed here.
// @Summary Health check
// @Tags Counting
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: serviceName,
	})
}

// handleCountBoxes runs the full pipeline on an uploaded file.
// @Summary Count boxes in an uploaded image
// @Description Uploads an image, sends it to the vision model and returns the detected boxes
// @Tags Counting
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Image file (JPEG, PNG, WebP, GIF)"
// @Success 200 {object} CountResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /count-boxes [post]
func (s *Service) handleCountBoxes(c *gin.Context) {
	normalized, filename, ok := s.normalizeUpload(c)
	if !ok {
		return
	}

	result, err := s.analyze(c.Request.Context(), normalized)
	if err != nil {
		s.logger.WarnTag("HTTP", "analysis failed for %s: %v", filename, err)
		httptransport.RespondError(c, err)
		return
	}

	s.logger.InfoTag("HTTP", "analysis completed for %s", filename)
	c.JSON(http.StatusOK, CountResponse{
		Filename:      filename,
		FileSizeBytes: len(normalized.Bytes),
		DetectedBoxes: result.Payload(),
		Status:        "success",
	})
}

// handleCountBoxesSimple runs the same pipeline and condenses the result.
// @Summary Simplified box count
// @Description Uploads an image and returns the summed count and unique labels
// @Tags Counting
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Image file (JPEG, PNG, WebP, GIF)"
// @Success 200 {object} SimpleResponse
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /count-boxes-simple [post]
func (s *Service) handleCountBoxesSimple(c *gin.Context) {
	normalized, filename, ok := s.normalizeUpload(c)
	if !ok {
		return
	}

	result, err := s.analyze(c.Request.Context(), normalized)
	if err != nil {
		s.logger.WarnTag("HTTP", "analysis failed for %s: %v", filename, err)
		httptransport.RespondError(c, err)
		return
	}

	if result.Kind == analysis.KindRaw {
		c.JSON(http.StatusOK, RawResponse{RawOutput: result.Raw})
		return
	}

	summary := analysis.Aggregate(result)
	c.JSON(http.StatusOK, SimpleResponse{
		Count:         summary.Count,
		Labels:        summary.Labels,
		DetectedBoxes: result.Payload(),
	})
}

// handleCountBoxesBase64 accepts a base64 payload instead of a file upload.
// @Summary Count boxes in a base64 image
// @Description Sends a base64-encoded image (optionally a data URL) to the vision model
// @Tags Counting
// @Accept json
// @Produce json
// @Param request body Base64Request true "Base64 image payload"
// @Success 200 {object} Base64Response
// @Failure 400 {object} httptransport.ErrorResponse
// @Failure 401 {object} httptransport.ErrorResponse
// @Failure 413 {object} httptransport.ErrorResponse
// @Failure 500 {object} httptransport.ErrorResponse
// @Router /count-boxes-base64 [post]
func (s *Service) handleCountBoxesBase64(c *gin.Context) {
	var req Base64Request
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondDetail(c, http.StatusBadRequest, "image field is required")
		return
	}

	normalized, err := s.normalizer.NormalizeBase64(c.Request.Context(), req.Image)
	if err != nil {
		s.logger.WarnTag("HTTP", "base64 normalization failed: %v", err)
		httptransport.RespondError(c, err)
		return
	}

	s.logger.InfoTag("HTTP", "processing base64 image: %d bytes", len(normalized.Bytes))

	result, err := s.analyze(c.Request.Context(), normalized)
	if err != nil {
		s.logger.WarnTag("HTTP", "analysis failed for base64 image: %v", err)
		httptransport.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Base64Response{
		DetectedBoxes: result.Payload(),
		ImageInfo: ImageInfo{
			SizeBytes: len(normalized.Bytes),
			// The base64 path always re-encodes to JPEG.
			Format:     "JPEG",
			Dimensions: normalized.Dimensions(),
		},
	})
}

// normalizeUpload reads the multipart file field and runs it through the
// normalizer, writing the error response itself on failure. The upload path
// historically reports an oversized file as 400, not 413.
func (s *Service) normalizeUpload(c *gin.Context) (*domainimage.Normalized, string, bool) {
	header, err := c.FormFile("file")
	if err != nil {
		httptransport.RespondDetail(c, http.StatusBadRequest, "file field is required")
		return nil, "", false
	}

	file, err := header.Open()
	if err != nil {
		httptransport.RespondDetail(c, http.StatusBadRequest, "failed to read uploaded file")
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httptransport.RespondDetail(c, http.StatusBadRequest, "failed to read uploaded file")
		return nil, "", false
	}

	s.logger.InfoTag("HTTP", "received file: %s, content_type: %s, size: %d",
		header.Filename, header.Header.Get("Content-Type"), len(data))

	normalized, err := s.normalizer.Normalize(c.Request.Context(), domainimage.Upload{
		Bytes:       data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	})
	if err != nil {
		s.logger.WarnTag("HTTP", "upload normalization failed for %s: %v", header.Filename, err)
		if errors.IsKind(err, errors.KindPayloadTooLarge) {
			httptransport.RespondDetail(c, http.StatusBadRequest, errors.Detail(err))
		} else {
			httptransport.RespondError(c, err)
		}
		return nil, "", false
	}

	return normalized, header.Filename, true
}

// analyze sends the normalized image through the gateway and extracts the
// structured payload from the reply.
func (s *Service) analyze(ctx context.Context, normalized *domainimage.Normalized) (analysis.Result, error) {
	reply, err := s.analyzer.Analyze(ctx, normalized.Base64(), s.prompts.Current())
	if err != nil {
		return analysis.Result{}, err
	}

	result := analysis.Extract(reply)
	s.logger.DebugTag("EXTRACT", "extraction strategy: %s", result.Strategy)
	return result, nil
}
