package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"videoLabeler/api/dto"
	"videoLabeler/api/middleware"
)

type LabelService interface {
	WriteMultifile(ctx context.Context, req *dto.WriteMultifileRequest) error
	SaveFrame(ctx context.Context, req *dto.SaveMvFrameRequest) error
	AddToUnlabeled(ctx context.Context, req *dto.AddToUnlabeledRequest) error
}

type LabelHandler struct {
	responder
	service LabelService
}

func NewLabelHandler(service LabelService, logger *zap.Logger) *LabelHandler {
	return &LabelHandler{responder: responder{logger: logger}, service: service}
}

func (h *LabelHandler) WriteMultifile(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.WriteMultifileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(w, "Invalid request", err, traceID)
		return
	}
	if err := h.service.WriteMultifile(r.Context(), &req); err != nil {
		h.handleError(w, "Failed to write files", err, traceID)
		return
	}
	h.respondJSON(w, http.StatusOK, "ok")
}

func (h *LabelHandler) SaveMvFrame(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.SaveMvFrameRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(w, "Invalid request", err, traceID)
		return
	}
	if err := h.service.SaveFrame(r.Context(), &req); err != nil {
		h.handleError(w, "Failed to save frame", err, traceID)
		return
	}
	h.respondJSON(w, http.StatusOK, "ok")
}

func (h *LabelHandler) AddToUnlabeled(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	var req dto.AddToUnlabeledRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(w, "Invalid request", err, traceID)
		return
	}
	if err := h.service.AddToUnlabeled(r.Context(), &req); err != nil {
		h.handleError(w, "Failed to update unlabeled sidecars", err, traceID)
		return
	}
	h.respondJSON(w, http.StatusOK, "ok")
}
