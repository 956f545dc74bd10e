package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"videoLabeler/api/dto"
	"videoLabeler/api/middleware"
	"videoLabeler/api/validation"
	"videoLabeler/worker/registry"
)

type VideoService interface {
	Upload(ctx context.Context, req *dto.UploadVideoRequest, file io.ReadSeeker) error
	Status(filename string) (registry.TaskStatus, error)
	Transcode(ctx context.Context, req *dto.TranscodeRequest, emit func(registry.TaskStatus) error) error
}

type VideoHandler struct {
	responder
	service     VideoService
	maxFileSize int64
}

func NewVideoHandler(service VideoService, maxFileSize int64, logger *zap.Logger) *VideoHandler {
	return &VideoHandler{
		responder:   responder{logger: logger},
		service:     service,
		maxFileSize: maxFileSize,
	}
}

// Upload handles POST /app/v0/rpc/UploadVideo.
func (h *VideoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	// Leave room for the other form fields.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.handleError(w, "Failed to parse form", fmt.Errorf("%w: %w", validation.ErrMissingField, err), traceID)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, "Failed to get file", fmt.Errorf("%w: file", validation.ErrMissingField), traceID)
		return
	}
	defer file.Close()

	if header.Size > h.maxFileSize {
		h.handleError(w, "Invalid file", validation.ErrFileTooLarge, traceID)
		return
	}

	req := &dto.UploadVideoRequest{
		ProjectKey:      r.FormValue("projectKey"),
		Filename:        r.FormValue("filename"),
		ShouldOverwrite: parseBool(r.FormValue("should_overwrite")),
	}

	if err := h.service.Upload(r.Context(), req, file); err != nil {
		h.handleError(w, "Failed to upload video", err, traceID)
		return
	}

	h.respondJSON(w, http.StatusOK, dto.OKResponse{OK: true})
}

// Status handles POST /app/v0/rpc/GetVideoStatus.
func (h *VideoHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.GetVideoStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(w, "Invalid request", err, traceID)
		return
	}

	st, err := h.service.Status(req.Filename)
	if err != nil {
		h.handleError(w, "Failed to get video status", err, traceID)
		return
	}

	h.respondJSON(w, http.StatusOK, st)
}

// Transcode handles GET /app/v0/sse/TranscodeVideo. Each status snapshot is
// sent as one server-sent event until the job is terminal or the client
// goes away.
func (h *VideoHandler) Transcode(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	q := r.URL.Query()

	req := &dto.TranscodeRequest{
		ProjectKey:      q.Get("projectKey"),
		Filename:        q.Get("filename"),
		ShouldOverwrite: parseBool(q.Get("should_overwrite")),
	}

	flusher, _ := w.(http.Flusher)
	started := false
	emit := func(st registry.TaskStatus) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	err := h.service.Transcode(r.Context(), req, emit)
	switch {
	case err == nil:
	case !started:
		h.handleError(w, "Failed to start transcode", err, traceID)
	case r.Context().Err() != nil:
		h.logger.Debug("Progress client disconnected",
			zap.String("trace_id", traceID),
			zap.String("filename", req.Filename),
		)
	default:
		h.logger.Warn("Progress stream ended early",
			zap.String("trace_id", traceID),
			zap.String("filename", req.Filename),
			zap.Error(err),
		)
	}
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
