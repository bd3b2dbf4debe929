package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// handleBlobDownload serves GET /uploads/{object}: the raw stored package,
// streamed from the blob store. Devices hit this directly, both from the
// install page link and from the OTA manifest's software-package URL.
func (s *Server) handleBlobDownload(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")
	if _, err := uuid.Parse(object); err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	objectKey := "uploads/" + object

	var origName string
	var sizeBytes int64
	var platform string
	err := s.db.QueryRowxContext(r.Context(),
		`SELECT original_name, size_bytes, platform FROM apps WHERE stored_name = $1`,
		objectKey,
	).Scan(&origName, &sizeBytes, &platform)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Minute)
	defer cancel()

	obj, err := s.blobs.GetObject(ctx, s.cfg.S3.Bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		http.Error(w, "storage error", http.StatusBadGateway)
		return
	}
	defer func() { _ = obj.Close() }()

	// Force an early error for missing object / auth issues.
	if _, statErr := obj.Stat(); statErr != nil {
		http.Error(w, "storage error", http.StatusBadGateway)
		return
	}

	blobDownloadsTotal.Inc()

	w.Header().Set("Content-Type", contentTypeFor(platform))
	if sizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(sizeBytes, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, origName))

	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, obj)
}
