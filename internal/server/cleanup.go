package server

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// cleanupBatchSize bounds one sweep so a large backlog cannot hold a
// connection for minutes.
const cleanupBatchSize = 100

// StartCleanupJob runs the retention sweeper until ctx is cancelled. When
// disabled, expires_at stays a stored hint and nothing is ever deleted.
func StartCleanupJob(ctx context.Context, cfg Config, db *sqlx.DB, blobs *minio.Client, log zerolog.Logger) {
	if !cfg.Cleanup.Enabled {
		log.Info().Msg("cleanup disabled")
		return
	}

	log.Info().
		Dur("interval", cfg.Cleanup.Interval).
		Dur("retention", cfg.Cleanup.Retention).
		Msg("cleanup starting")

	ticker := time.NewTicker(cfg.Cleanup.Interval)
	defer ticker.Stop()

	// Run immediately on start
	runCleanup(ctx, cfg, db, blobs, log)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("cleanup shutting down")
			return
		case <-ticker.C:
			runCleanup(ctx, cfg, db, blobs, log)
		}
	}
}

func runCleanup(ctx context.Context, cfg Config, db *sqlx.DB, blobs *minio.Client, log zerolog.Logger) {
	start := time.Now()

	rows, err := db.QueryxContext(ctx, `
        SELECT share_id, stored_name, expires_at
        FROM apps
        WHERE expires_at < now()
        ORDER BY expires_at ASC
        LIMIT $1
    `, cleanupBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("cleanup query failed")
		return
	}
	defer rows.Close()

	type expired struct {
		ShareID    string    `db:"share_id"`
		StoredName string    `db:"stored_name"`
		ExpiresAt  time.Time `db:"expires_at"`
	}

	var batch []expired
	for rows.Next() {
		var e expired
		if err := rows.StructScan(&e); err != nil {
			log.Error().Err(err).Msg("cleanup scan failed")
			continue
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("cleanup row iteration failed")
		return
	}

	deleted := 0
	for _, e := range batch {
		log.Info().
			Str("share_id", e.ShareID).
			Time("expired_at", e.ExpiresAt).
			Msg("deleting expired app")

		// Blob first; a leftover row still resolves while a leftover blob
		// would be unreachable forever.
		if err := blobs.RemoveObject(ctx, cfg.S3.Bucket, e.StoredName, minio.RemoveObjectOptions{}); err != nil {
			log.Error().Err(err).Str("share_id", e.ShareID).Msg("blob delete failed")
			// Continue anyway - the object may already be gone
		}

		if _, err := db.ExecContext(ctx, `DELETE FROM apps WHERE share_id = $1`, e.ShareID); err != nil {
			log.Error().Err(err).Str("share_id", e.ShareID).Msg("record delete failed")
			continue
		}

		cleanupDeletedTotal.Inc()
		deleted++
	}

	log.Info().
		Int("deleted", deleted).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("cleanup complete")
}
