package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/poiesic/maildex/core"
	"github.com/poiesic/maildex/ingestion"
	"github.com/poiesic/maildex/storage"
)

const (
	msgStored        = "Email and sections stored successfully"
	msgResumed       = "Email sections resumed successfully"
	msgInvalidEmail  = "Invalid email data"
	msgInvalidID     = "Invalid email id"
	msgEmailNotFound = "Email not found"
	msgBodyTooLarge  = "Request body too large"
	msgEmailBusy     = "Email is still being ingested"
)

// storeResponse is the success body of the store and resume endpoints.
type storeResponse struct {
	Message  string  `json:"message"`
	EmailID  core.ID `json:"email_id"`
	Sections int     `json:"sections"`
}

// errorResponse is the failure body of every endpoint. EmailID and
// FailedSection are set when an email row exists despite the failure.
type errorResponse struct {
	Error         string              `json:"error"`
	Details       map[string][]string `json:"details,omitempty"`
	EmailID       core.ID             `json:"email_id,omitempty"`
	FailedSection int                 `json:"failed_section,omitempty"`
}

// emailResponse describes a stored email and its ingestion progress.
type emailResponse struct {
	ID             core.ID           `json:"id"`
	Subject        string            `json:"subject"`
	Sender         string            `json:"sender"`
	Status         core.IngestStatus `json:"status"`
	SectionCount   int               `json:"section_count"`
	SectionsStored int               `json:"sections_stored"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStoreEmail(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: msgBodyTooLarge})
			return
		}
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := s.ingester.IngestJSON(r.Context(), data)
	if err != nil {
		s.writeIngestError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, storeResponse{
		Message:  msgStored,
		EmailID:  result.EmailID,
		Sections: result.Sections,
	})
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.emailID(w, r)
	if !ok {
		return
	}

	email, err := s.repo.GetEmail(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	stored, err := s.repo.CountEmailSections(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, emailResponse{
		ID:             email.Id,
		Subject:        email.Subject,
		Sender:         email.Sender,
		Status:         email.Status,
		SectionCount:   email.SectionCount,
		SectionsStored: stored,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := s.emailID(w, r)
	if !ok {
		return
	}

	result, err := s.ingester.Resume(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, errorResponse{Error: msgEmailNotFound})
			return
		}
		if errors.Is(err, storage.ErrEmailBusy) {
			s.writeJSON(w, http.StatusConflict, errorResponse{Error: msgEmailBusy, EmailID: id})
			return
		}
		s.writeIngestError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, storeResponse{
		Message:  msgResumed,
		EmailID:  result.EmailID,
		Sections: result.Sections,
	})
}

func (s *Server) emailID(w http.ResponseWriter, r *http.Request) (core.ID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidID})
		return 0, false
	}
	return core.ID(id), true
}

// writeIngestError maps pipeline failures to 400 and 500 responses.
func (s *Server) writeIngestError(w http.ResponseWriter, err error) {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidEmail, Details: verr.Fields})
		return
	}

	emailID, index := ingestion.FailedSection(err)
	s.logger.Error("ingestion failed", "email_id", emailID, "section", index, "err", err)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:         err.Error(),
		EmailID:       emailID,
		FailedSection: index,
	})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: msgEmailNotFound})
		return
	}
	s.logger.Error("store query failed", "err", err)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write response", "err", err)
	}
}
