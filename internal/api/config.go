package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"doorkeeper/internal/configbus"
	"doorkeeper/internal/faults"
	"doorkeeper/internal/logging"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Bus.Snapshot())
}

func (s *Server) handleGetSection(w http.ResponseWriter, r *http.Request) {
	doc, err := s.opts.Bus.Get(chi.URLParam(r, "section"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleReplaceSection(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	var doc configbus.Document
	if !s.decodeJSON(w, r, &doc) {
		return
	}
	updated, err := s.opts.Bus.Replace(r.Context(), section, doc)
	if errors.Is(err, faults.ErrValidation) {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.logger.Info("config section replaced",
		logging.String(logging.FieldEventType, "config_replaced"),
		logging.String(logging.FieldSection, section),
		logging.String(logging.FieldRequestID, RequestID(r.Context())),
	)
	s.writeJSON(w, http.StatusOK, ConfigSectionResponse{Section: section, Config: updated})
}
