// Package server exposes the archive over HTTP: serving stored media by
// identifier, substring lookups over the index and reverse image search.
// It is a read-only front end; the pipeline remains the only writer.
package server

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/codedcells/favarch/pkg/imghash"
	"github.com/codedcells/favarch/pkg/storage"
	"github.com/codedcells/favarch/pkg/store"
)

// maxUploadBytes bounds a reverse search upload.
const maxUploadBytes = 32 << 20

// defaultMaxDistance is the similarity tolerance when the request names none.
const defaultMaxDistance = 5

// Server wires HTTP handlers to the archive index and store.
type Server struct {
	router chi.Router
	db     storage.Storer
	store  *store.Store
	logger zerolog.Logger
}

// New constructs a Server with its routes.
func New(db storage.Storer, st *store.Store, logger zerolog.Logger) *Server {
	s := &Server{db: db, store: st, logger: logger}

	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Get("/healthz", s.healthz)
	r.Get("/media/{id}", s.getMedia)
	r.Get("/query", s.queryMedia)
	r.Post("/search", s.searchSimilar)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getMedia streams the archived file of an identifier.
func (s *Server) getMedia(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid identifier")
		return
	}
	rec, err := s.db.GetMedia(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "media not archived")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("id", id).Msg("media lookup failed")
		writeError(w, http.StatusInternalServerError, "index lookup failed")
		return
	}
	f, err := os.Open(s.store.Resolve(rec.Path)) // #nosec G304
	if err != nil {
		s.logger.Error().Err(err).Str("path", rec.Path).Msg("archived file missing")
		writeError(w, http.StatusNotFound, "archived file missing")
		return
	}
	defer func() { _ = f.Close() }()
	http.ServeContent(w, r, rec.Path, modTime(f), f)
}

// queryMedia returns index rows whose stored path contains the "name"
// substring.
func (s *Server) queryMedia(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing name parameter")
		return
	}
	records, err := s.db.MediaByPath(name)
	if err != nil {
		s.logger.Error().Err(err).Msg("media query failed")
		writeError(w, http.StatusInternalServerError, "index lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": toMediaDTOs(records)})
}

// searchSimilar fingerprints an uploaded image and returns indexed media
// within the requested Hamming distance, closest first. The image arrives as
// the "image" part of a multipart form; "max_distance" is optional.
func (s *Server) searchSimilar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image upload")
		return
	}
	defer func() { _ = file.Close() }()

	maxDistance := defaultMaxDistance
	if raw := r.FormValue("max_distance"); raw != "" {
		maxDistance, err = strconv.Atoi(raw)
		if err != nil || maxDistance < 0 || maxDistance > 64 {
			writeError(w, http.StatusBadRequest, "invalid max_distance")
			return
		}
	}

	fingerprint, err := imghash.FromReader(file)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "upload is not a decodable image")
		return
	}
	matches, err := s.db.FindSimilar(fingerprint, maxDistance)
	if err != nil {
		s.logger.Error().Err(err).Msg("similarity search failed")
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fingerprint": fingerprint,
		"matches":     toMatchDTOs(matches),
	})
}
