package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"localtube/internal/domain"
)

type createSourceReq struct {
	URL              string `json:"url"`
	FetchLastDays    int    `json:"fetch_last_days"`
	RefreshFrequency int    `json:"refresh_frequency"`
	SponsorBlock     string `json:"sponsorblock"`
}

func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.FetchLastDays <= 0 {
		req.FetchLastDays = 7
	}
	if req.RefreshFrequency <= 0 {
		req.RefreshFrequency = 6
	}

	src := domain.Source{
		URL:              req.URL,
		FetchLastDays:    req.FetchLastDays,
		RefreshFrequency: req.RefreshFrequency,
		SponsorBlock:     domain.ParseSponsorBlock(req.SponsorBlock).String(),
	}
	if err := s.store.CreateSource(r.Context(), &src); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.orch.EnqueueRefresh(&src); err != nil && !errors.Is(err, domain.ErrDuplicateTask) {
		s.log.Error().Err(err).Str("source", src.ID).Msg("failed to enqueue initial refresh")
	}
	s.writeJSON(w, http.StatusCreated, src)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sources == nil {
		sources = []domain.Source{}
	}
	s.writeJSON(w, http.StatusOK, sources)
}

func (s *Server) deleteSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// cancel the source's own tasks and any downloads of its media first,
	// so no worker writes to rows the cascade is about to drop
	s.orch.CancelTarget(id)
	medias, err := s.store.ListMediaBySource(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Str("source", id).
			Msg("failed to list media for cleanup, files may be orphaned")
	}
	for i := range medias {
		s.orch.CancelTarget(medias[i].ID)
		s.removeMediaFiles(&medias[i])
	}

	if err := s.store.DeleteSource(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "source not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createMediaReq struct {
	URL string `json:"url"`
}

func (s *Server) createMedia(w http.ResponseWriter, r *http.Request) {
	var req createMediaReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	media := domain.Media{
		ExternalID:    req.URL,
		URL:           req.URL,
		DownloadState: domain.DownloadPending,
	}
	if err := s.store.CreateMedia(r.Context(), &media); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.orch.EnqueueDownload(&media); err != nil && !errors.Is(err, domain.ErrDuplicateTask) {
		s.log.Error().Err(err).Str("media", media.ID).Msg("failed to enqueue download")
	}
	s.writeJSON(w, http.StatusCreated, media)
}

func (s *Server) listMedia(w http.ResponseWriter, r *http.Request) {
	medias, err := s.store.ListMedia(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if medias == nil {
		medias = []domain.Media{}
	}
	s.writeJSON(w, http.StatusOK, medias)
}

func (s *Server) deleteMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.orch.CancelTarget(id)
	if media, err := s.store.GetMedia(r.Context(), id); err == nil {
		s.removeMediaFiles(media)
	}

	if err := s.store.DeleteMedia(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "media not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) statusSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Hub().Current())
}

func (s *Server) metricsView(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Metrics().View())
}

func (s *Server) removeMediaFiles(m *domain.Media) {
	if m.MediaPath == "" {
		return
	}
	base := filepath.Join(s.mediaDir, m.MediaPath)
	info := strings.TrimSuffix(base, filepath.Ext(base)) + ".info.json"
	for _, path := range []string{info, base} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", path).Msg("failed to remove media file")
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
