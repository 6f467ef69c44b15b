package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"doorkeeper/internal/embedding"
	"doorkeeper/internal/identity"
	"doorkeeper/internal/logging"
	"doorkeeper/internal/vision"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	idents, err := s.opts.Store.ListIdentities(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	users := make([]User, 0, len(idents))
	for _, ident := range idents {
		users = append(users, FromIdentity(ident))
	}
	s.writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	level, err := identity.ParseAccessLevel(req.AccessLevel)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	ident, err := s.opts.Store.AddIdentity(r.Context(), req.Name, level)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, FromIdentity(*ident))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	ident, err := s.opts.Store.GetIdentity(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromIdentity(*ident))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	update := identity.Update{DisplayName: req.Name}
	if req.AccessLevel != nil {
		level, err := identity.ParseAccessLevel(*req.AccessLevel)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		update.AccessLevel = &level
	}
	ident, err := s.opts.Store.UpdateIdentity(r.Context(), id, update)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromIdentity(*ident))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	if err := s.opts.Store.DeleteIdentity(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	samples, err := s.opts.Store.ListSamples(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	images := make([]Image, 0, len(samples))
	for _, sample := range samples {
		images = append(images, FromSample(sample))
	}
	s.writeJSON(w, http.StatusOK, images)
}

// handleAddImage enrolls a sample either from a JPEG body, embedded by the
// vision sidecar, or from a JSON body carrying the embedding directly.
func (s *Server) handleAddImage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	label := strings.TrimSpace(r.URL.Query().Get("img_name"))

	var vec embedding.Vector
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req EmbeddingRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Label) != "" {
			label = req.Label
		}
		vec = embedding.Vector(req.Embedding)
	} else {
		if s.opts.Embedder == nil {
			s.writeError(w, http.StatusServiceUnavailable, "image enrollment is not available")
			return
		}
		if _, err := s.opts.Store.GetIdentity(r.Context(), id); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
		if err != nil {
			s.writeError(w, http.StatusRequestEntityTooLarge, "image exceeds 10MB")
			return
		}
		frame, err := vision.DecodeFrame(data)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "image could not be decoded")
			return
		}
		vec, err = s.opts.Embedder.Embed(r.Context(), frame)
		if errors.Is(err, vision.ErrNoFace) {
			s.writeError(w, http.StatusBadRequest, "No face found in image")
			return
		}
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}

	if _, err := s.opts.Store.AddSample(r.Context(), id, label, vec); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.logger.Info("sample enrolled",
		logging.String(logging.FieldEventType, "sample_enrolled"),
		logging.Int64(logging.FieldIdentityID, id),
		logging.String("img_name", label),
	)
	s.writeJSON(w, http.StatusCreated, Image{
		ImgName: label,
		UserID:  id,
		Message: "Successfully added image and embedding to user",
	})
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.userID(w, r)
	if !ok {
		return
	}
	label := chi.URLParam(r, "label")
	if _, err := s.opts.Store.DeleteSample(r.Context(), id, label); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, MessageResponse{Message: "Image successfully deleted"})
}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}
