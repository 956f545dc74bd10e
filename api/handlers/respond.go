package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"videoLabeler/api/dto"
	"videoLabeler/api/project"
	"videoLabeler/api/service"
	"videoLabeler/api/validation"
	"videoLabeler/storage/fsx"
	"videoLabeler/storage/labels"
)

// statusFor maps domain errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	var partial *fsx.PartialCommitError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &partial):
		return http.StatusInternalServerError, "partial_commit"
	case errors.As(err, &tooLarge), errors.Is(err, validation.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, validation.ErrInvalidFilename),
		errors.Is(err, validation.ErrNotVideo),
		errors.Is(err, validation.ErrMissingField),
		errors.Is(err, fsx.ErrOutsideRoot),
		errors.Is(err, fsx.ErrSuffixNotAllowed),
		errors.Is(err, fsx.ErrEmptyPath),
		errors.Is(err, fsx.ErrTargetIsDirectory),
		errors.Is(err, labels.ErrInvalidEdit),
		errors.Is(err, labels.ErrMalformedHeader),
		errors.Is(err, labels.ErrMalformedRow):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, project.ErrProjectNotFound),
		errors.Is(err, project.ErrNoActiveProject),
		errors.Is(err, service.ErrUploadNotFound),
		errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrAlreadyExists):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal"
}

// describe adds the committed and pending targets of a partial commit to
// the client-facing message.
func describe(err error) string {
	var partial *fsx.PartialCommitError
	if !errors.As(err, &partial) {
		return err.Error()
	}
	pending := make([]string, 0, len(partial.Pending)+1)
	pending = append(pending, partial.Failed.Path)
	for _, p := range partial.Pending {
		pending = append(pending, p.Path)
	}
	return fmt.Sprintf("%v; committed: [%s]; not committed: [%s]",
		partial.Err, strings.Join(partial.Committed, ", "), strings.Join(pending, ", "))
}

type responder struct {
	logger *zap.Logger
}

func (h responder) handleError(w http.ResponseWriter, message string, err error, traceID string) {
	status, code := statusFor(err)

	if status >= http.StatusInternalServerError {
		h.logger.Error(message,
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
	} else {
		h.logger.Warn(message,
			zap.String("trace_id", traceID),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	h.respondJSON(w, status, dto.ErrorResponse{
		Error:   message + ": " + describe(err),
		Code:    code,
		TraceID: traceID,
	})
}

func (h responder) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", validation.ErrMissingField, err)
	}
	return nil
}
