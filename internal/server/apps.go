package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// App is the registry record for one uploaded package. The share ID is the
// only key by which the record and its blob are publicly reachable.
type App struct {
	ID            int64     `db:"id" json:"-"`
	ShareID       string    `db:"share_id" json:"id"`
	OriginalName  string    `db:"original_name" json:"originalName"`
	StoredName    string    `db:"stored_name" json:"-"`
	FileURL       string    `db:"file_url" json:"fileUrl"`
	SizeBytes     int64     `db:"size_bytes" json:"fileSize"`
	Platform      string    `db:"platform" json:"platform"`
	BundleID      string    `db:"bundle_id" json:"-"`
	Version       string    `db:"version" json:"-"`
	SHA256Hex     string    `db:"sha256_hex" json:"sha256,omitempty"`
	DownloadCount int64     `db:"download_count" json:"downloadCount"`
	CreatedAt     time.Time `db:"created_at" json:"uploadDate"`
	ExpiresAt     time.Time `db:"expires_at" json:"expiresAt"`
}

const appColumns = `id, share_id, original_name, stored_name, file_url, size_bytes,
	platform, bundle_id, version, sha256_hex, download_count, created_at, expires_at`

// shareIDInsertAttempts bounds the retry loop on share ID collisions. At 12
// random characters a collision is practically impossible, so hitting the
// bound means something else is wrong.
const shareIDInsertAttempts = 3

// insertApp persists a new record, minting the share ID inside a retry loop
// guarded by the unique constraint on share_id.
func insertApp(ctx context.Context, db *sqlx.DB, app *App) error {
	query := `
        INSERT INTO apps (share_id, original_name, stored_name, file_url, size_bytes,
                          platform, bundle_id, version, sha256_hex, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id, download_count, created_at`

	for attempt := 0; attempt < shareIDInsertAttempts; attempt++ {
		shareID, err := newShareID()
		if err != nil {
			return err
		}

		err = db.QueryRowxContext(ctx, query,
			shareID,
			app.OriginalName,
			app.StoredName,
			app.FileURL,
			app.SizeBytes,
			app.Platform,
			app.BundleID,
			app.Version,
			app.SHA256Hex,
			app.ExpiresAt,
		).Scan(&app.ID, &app.DownloadCount, &app.CreatedAt)
		if err == nil {
			app.ShareID = shareID
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			continue
		}
		return fmt.Errorf("failed to insert app record: %w", err)
	}

	return fmt.Errorf("failed to mint a unique share id after %d attempts", shareIDInsertAttempts)
}

// getAppByShareID loads a record without side effects.
func getAppByShareID(ctx context.Context, db *sqlx.DB, shareID string) (*App, error) {
	var app App
	query := `SELECT ` + appColumns + ` FROM apps WHERE share_id = $1`

	if err := db.GetContext(ctx, &app, query, shareID); err != nil {
		return nil, err
	}
	return &app, nil
}

// resolveShare atomically increments the download counter and returns the
// post-increment record. The increment happens at the datastore so that
// concurrent resolutions never lose updates; sql.ErrNoRows signals an
// unknown share ID with no record touched.
func resolveShare(ctx context.Context, db *sqlx.DB, shareID string) (*App, error) {
	var app App
	query := `
        UPDATE apps
        SET download_count = download_count + 1
        WHERE share_id = $1
        RETURNING ` + appColumns

	if err := db.GetContext(ctx, &app, query, shareID); err != nil {
		return nil, err
	}
	return &app, nil
}

// handleAppInfo serves GET /api/apps/{shareID}: a JSON view of the record
// with no counter side effect.
func (s *Server) handleAppInfo(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareID")

	app, err := getAppByShareID(r.Context(), s.db, shareID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.respondError(w, http.StatusNotFound, "app not found")
			return
		}
		s.log.Error().Err(err).Str("rid", RequestIDFromContext(r.Context())).Msg("app info lookup failed")
		s.respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"app":      app,
		"shareUrl": s.shareURL(app.ShareID),
	})
}
