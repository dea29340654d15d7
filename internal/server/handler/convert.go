package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/supaocr/server/internal/requestid"
	"github.com/supaocr/server/internal/server/service"
)

const multipartMemory = 32 << 20

// ConversionService defines the behavior consumed by the handler.
type ConversionService interface {
	Ready() error
	Convert(ctx context.Context, doc service.UploadedDocument) (*service.ConversionSuccess, error)
}

// ErrorResponse is the JSON body of every failed conversion.
type ErrorResponse struct {
	Error     string `json:"error"`
	Type      string `json:"type,omitempty"`
	RequestID string `json:"request_id"`
}

// ConvertHandler manages conversion HTTP interactions.
type ConvertHandler struct {
	service        ConversionService
	maxUploadBytes int64
	log            *slog.Logger
}

// NewConvertHandler builds the handler.
func NewConvertHandler(svc ConversionService, maxUploadBytes int64, logger *slog.Logger) *ConvertHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConvertHandler{service: svc, maxUploadBytes: maxUploadBytes, log: logger}
}

// HandleConvert converts the uploaded "file" form field to Markdown.
func (h *ConvertHandler) HandleConvert(c *gin.Context) {
	ctx, rid := requestid.Ensure(c.Request.Context())
	c.Request = c.Request.WithContext(ctx)

	// Reject before reading the body when no backend can serve the call.
	if err := h.service.Ready(); err != nil {
		h.failure(c, rid, service.NewConversionError(service.ConfigurationError, rid, "", err))
		return
	}

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.malformed(c, rid, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		h.malformed(c, rid, http.StatusBadRequest, "invalid multipart payload")
		return
	}
	defer func() {
		if err := c.Request.MultipartForm.RemoveAll(); err != nil {
			h.log.Warn("convert.multipart_cleanup_failed", "request_id", rid, "error", err)
		}
	}()

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.malformed(c, rid, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	h.log.Info("convert.received",
		"request_id", rid,
		"filename", header.Filename,
		"content_type", header.Header.Get("Content-Type"),
		"size_bytes", header.Size,
	)

	out, err := h.service.Convert(ctx, service.UploadedDocument{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     file,
	})
	if err != nil {
		h.failure(c, rid, err)
		return
	}

	c.JSON(http.StatusOK, out)
}

func (h *ConvertHandler) malformed(c *gin.Context, rid string, status int, msg string) {
	h.log.Warn("convert.malformed_request", "request_id", rid, "status", status, "error", msg)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     msg,
		Type:      string(service.MalformedRequestError),
		RequestID: rid,
	})
}

func (h *ConvertHandler) failure(c *gin.Context, rid string, err error) {
	resp := ErrorResponse{Error: err.Error(), RequestID: rid}
	var ce *service.ConversionError
	if errors.As(err, &ce) {
		resp.Error = ce.Message
		resp.Type = string(ce.Kind)
		if ce.RequestID != "" {
			resp.RequestID = ce.RequestID
		}
	}
	c.AbortWithStatusJSON(StatusFor(service.ErrorKind(resp.Type)), resp)
}

// StatusFor maps an error kind to its HTTP status. Every failure is non-200.
func StatusFor(kind service.ErrorKind) int {
	switch kind {
	case service.MalformedRequestError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
