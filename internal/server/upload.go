package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// uploadFieldName is the multipart field the web form posts the package
// under. "file" is accepted as a fallback for plain curl uploads.
const uploadFieldName = "appFile"

// uploadResp matches the JSON contract the upload form consumes.
type uploadResp struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	ShareURL string    `json:"shareUrl"`
	App      uploadApp `json:"app"`
}

type uploadApp struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	Platform     string    `json:"platform"`
	FileSize     int64     `json:"fileSize"`
	UploadDate   time.Time `json:"uploadDate"`
}

// handleUpload serves POST /api/upload. The package is streamed straight
// into the blob store through a SHA-256 hasher, never buffered in full;
// http.MaxBytesReader bounds the request at the configured maximum.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Server.MaxUploadBytes

	// Reject obviously oversize requests before reading the body.
	if r.ContentLength > limit {
		s.respondTooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "expected multipart form data")
		return
	}

	bundleID := ""
	version := "1.0.0"

	var filePart *multipart.Part
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if isMaxBytesError(err) {
				s.respondTooLarge(w)
				return
			}
			s.respondError(w, http.StatusBadRequest, "malformed multipart form")
			return
		}

		switch part.FormName() {
		case "bundleId":
			bundleID = readFormValue(part)
		case "version":
			if v := readFormValue(part); v != "" {
				version = v
			}
		case uploadFieldName, "file":
			filePart = part
		}
		if filePart != nil {
			break
		}
		_ = part.Close()
	}

	if filePart == nil {
		s.respondError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer filePart.Close()

	originalName := filePart.FileName()
	if originalName == "" || !hasExtension(originalName) {
		s.respondError(w, http.StatusBadRequest, "uploaded file must have a filename with an extension")
		return
	}

	platform := classifyPlatform(originalName)

	storedName := "uploads/" + uuid.New().String()
	contentType := filePart.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFor(platform)
	}

	ctx, cancel := s.uploadContext(r)
	defer cancel()

	hasher := sha256.New()
	info, err := s.blobs.PutObject(
		ctx,
		s.cfg.S3.Bucket,
		storedName,
		io.TeeReader(filePart, hasher),
		-1,
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		uploadErrorsTotal.Inc()
		if isMaxBytesError(err) {
			s.respondTooLarge(w)
			return
		}
		s.log.Error().Err(err).Str("rid", RequestIDFromContext(r.Context())).Msg("blob store write failed")
		s.respondError(w, http.StatusBadGateway, "storage unavailable")
		return
	}

	app := &App{
		OriginalName: originalName,
		StoredName:   storedName,
		FileURL:      strings.TrimRight(s.cfg.Server.BaseURL, "/") + "/" + storedName,
		SizeBytes:    info.Size,
		Platform:     platform,
		BundleID:     bundleID,
		Version:      version,
		SHA256Hex:    hex.EncodeToString(hasher.Sum(nil)),
		ExpiresAt:    time.Now().UTC().Add(s.cfg.Cleanup.Retention),
	}

	if err := insertApp(r.Context(), s.db, app); err != nil {
		uploadErrorsTotal.Inc()
		s.log.Error().Err(err).Str("rid", RequestIDFromContext(r.Context())).Msg("registry write failed")

		// The blob is already persisted; remove it rather than leaving an
		// orphan nobody can reach.
		if rmErr := s.blobs.RemoveObject(ctx, s.cfg.S3.Bucket, storedName, minio.RemoveObjectOptions{}); rmErr != nil {
			s.log.Error().Err(rmErr).Str("object", storedName).Msg("orphaned blob cleanup failed")
		}

		s.respondError(w, http.StatusInternalServerError, "failed to save upload")
		return
	}

	uploadsTotal.WithLabelValues(platform).Inc()
	uploadBytesTotal.Add(float64(info.Size))

	s.log.Info().
		Str("rid", RequestIDFromContext(r.Context())).
		Str("share_id", app.ShareID).
		Str("platform", platform).
		Int64("size_bytes", info.Size).
		Msg("upload complete")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(uploadResp{
		Success:  true,
		Message:  "File uploaded successfully!",
		ShareURL: s.shareURL(app.ShareID),
		App: uploadApp{
			ID:           app.ShareID,
			OriginalName: app.OriginalName,
			Platform:     app.Platform,
			FileSize:     app.SizeBytes,
			UploadDate:   app.CreatedAt,
		},
	})
}

func (s *Server) respondTooLarge(w http.ResponseWriter) {
	msg := fmt.Sprintf("file too large: maximum size is %s",
		humanize.IBytes(uint64(s.cfg.Server.MaxUploadBytes)))
	s.respondError(w, http.StatusRequestEntityTooLarge, msg)
}

// isMaxBytesError detects the MaxBytesReader trip, including when the error
// has been wrapped by the multipart reader or the blob client.
func isMaxBytesError(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "request body too large")
}

// readFormValue drains a small text field. The limit keeps a hostile form
// from smuggling a payload through a metadata field.
func readFormValue(part *multipart.Part) string {
	defer part.Close()
	b, err := io.ReadAll(io.LimitReader(part, 1024))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
