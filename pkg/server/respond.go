package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/codedcells/favarch/pkg/storage"
)

type mediaDTO struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Fingerprint *int64 `json:"fingerprint"`
}

type matchDTO struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Fingerprint int64  `json:"fingerprint"`
	Distance    int    `json:"distance"`
}

func toMediaDTOs(records []storage.MediaRecord) []mediaDTO {
	dtos := make([]mediaDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, mediaDTO{ID: rec.ID, Path: rec.Path, Fingerprint: rec.Fingerprint})
	}
	return dtos
}

func toMatchDTOs(matches []storage.Match) []matchDTO {
	dtos := make([]matchDTO, 0, len(matches))
	for _, m := range matches {
		dtos = append(dtos, matchDTO{ID: m.ID, Path: m.Path, Fingerprint: m.Fingerprint, Distance: m.Distance})
	}
	return dtos
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func modTime(f *os.File) time.Time {
	info, err := f.Stat()
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
