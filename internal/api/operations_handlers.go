package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/bacpac"
	"github.com/JakeFAU/bacpac-orchestrator/internal/connstr"
	"github.com/JakeFAU/bacpac-orchestrator/internal/consumer"
	"github.com/JakeFAU/bacpac-orchestrator/internal/operation"
)

type credentialsRequest struct {
	Kind             string `json:"kind,omitempty"`
	ConnectionString string `json:"connection_string,omitempty"`
	Server           string `json:"server"`
	Username         string `json:"username"`
	Password         string `json:"password"`
}

func (c credentialsRequest) credentials() connstr.Credentials {
	return connstr.Credentials{Server: c.Server, User: c.Username, Password: c.Password}
}

// kind defaults to restore, which is where database pickers live.
func (c credentialsRequest) kind() (operation.Kind, error) {
	if c.Kind == "" {
		return operation.KindRestore, nil
	}
	return operation.ParseKind(c.Kind)
}

type previewRequest struct {
	Path string `json:"path"`
}

type previewResponse struct {
	bacpac.Summary
	HumanSize string `json:"human_size"`
}

type validationResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field"`
	Status string `json:"status"`
}

func kindParam(w http.ResponseWriter, r *http.Request) (operation.Kind, bool) {
	kind, err := operation.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

// getOperation handles GET /v1/operations/{kind}.
func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	view, err := s.ops.View(kind)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// getTranscript handles GET /v1/operations/{kind}/transcript and returns the
// activity log in clipboard format.
func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	view, err := s.ops.View(kind)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(view.Transcript())); err != nil {
		s.logger.Warn("transcript write failed", zap.Error(err))
	}
}

// startOperation handles POST /v1/operations/{kind}/start. It answers 202
// with the view, 409 while busy or gated, and 422 for missing inputs.
func (s *Server) startOperation(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	var req operation.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.ops.Start(r.Context(), kind, req)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

// cancelOperation handles POST /v1/operations/{kind}/cancel.
func (s *Server) cancelOperation(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	canceled, err := s.ops.Cancel(r.Context(), kind)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	if !canceled {
		writeError(w, http.StatusConflict, "operation is not running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"kind": kind, "canceled": true})
}

// resetOperation handles POST /v1/operations/{kind}/reset.
func (s *Server) resetOperation(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	reset, err := s.ops.Reset(r.Context(), kind)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	if !reset {
		writeError(w, http.StatusConflict, "operation is still active")
		return
	}
	view, err := s.ops.View(kind)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// listDatabases handles POST /v1/catalog/databases.
func (s *Server) listDatabases(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := req.kind()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	names, err := s.ops.LoadDatabases(r.Context(), kind, req.credentials())
	if err != nil {
		s.writeCollaboratorError(w, r, err, "failed to load databases")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": names})
}

// testConnection handles POST /v1/catalog/test.
func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := req.kind()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ops.TestConnection(r.Context(), kind, req.ConnectionString, req.credentials()); err != nil {
		s.writeCollaboratorError(w, r, err, "connection failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Connection successful"})
}

// previewBacpac handles POST /v1/bacpac/preview.
func (s *Server) previewBacpac(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.ops.Preview(r.Context(), req.Path)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, previewResponse{Summary: summary, HumanSize: summary.HumanSize()})
	case errors.Is(err, bacpac.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, bacpac.ErrNoModel):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.writeCollaboratorError(w, r, err, "preview failed")
	}
}

// writeOperationError maps session errors onto status codes.
func (s *Server) writeOperationError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *operation.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{
			Error:  verr.Message,
			Field:  verr.Field,
			Status: verr.Status,
		})
	case errors.Is(err, operation.ErrBusy), errors.Is(err, operation.ErrPrerequisiteInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, consumer.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("operation request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeCollaboratorError reports failures of the SQL server or bacpac file as
// 502 once gating and validation errors are ruled out.
func (s *Server) writeCollaboratorError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var verr *operation.ValidationError
	if errors.As(err, &verr) || errors.Is(err, operation.ErrBusy) || errors.Is(err, operation.ErrPrerequisiteInFlight) ||
		errors.Is(err, consumer.ErrClosed) {
		s.writeOperationError(w, r, err)
		return
	}
	s.logger.Warn(msg,
		zap.String("request_id", RequestID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusBadGateway, msg+": "+err.Error())
}
