package server

import (
	"bytes"
	"database/sql"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// manifestTemplate is the Apple OTA installation manifest. Its field names
// and hierarchy are consumed by the device's native installer and must not
// change: one item, one software-package asset, and the metadata dict.
const manifestTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>items</key>
    <array>
        <dict>
            <key>assets</key>
            <array>
                <dict>
                    <key>kind</key>
                    <string>software-package</string>
                    <key>url</key>
                    <string>%s</string>
                </dict>
            </array>
            <key>metadata</key>
            <dict>
                <key>bundle-identifier</key>
                <string>%s</string>
                <key>bundle-version</key>
                <string>%s</string>
                <key>kind</key>
                <string>software</string>
                <key>title</key>
                <string>%s</string>
                <key>subtitle</key>
                <string>%s</string>
            </dict>
        </dict>
    </array>
</dict>
</plist>
`

// buildManifest renders the OTA manifest for an iOS record. Values are
// XML-escaped; the bundle identifier falls back to a synthetic reverse-DNS
// value derived from the sanitized app name.
func buildManifest(app *App) []byte {
	bundleID := app.BundleID
	if bundleID == "" {
		bundleID = fallbackBundleID(app.OriginalName)
	}

	version := app.Version
	if version == "" {
		version = "1.0"
	}

	title := displayName(app.OriginalName)

	manifest := fmt.Sprintf(manifestTemplate,
		xmlEscape(app.FileURL),
		xmlEscape(bundleID),
		xmlEscape(version),
		xmlEscape(title),
		xmlEscape(title),
	)
	return []byte(manifest)
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// handleManifest serves GET /plist/{shareID}. Only iOS records have a
// manifest; anything else is a plain 404, indistinguishable from an unknown
// share ID.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareID")

	app, err := getAppByShareID(r.Context(), s.db, shareID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("rid", RequestIDFromContext(r.Context())).Msg("manifest lookup failed")
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	if app.Platform != platformIOS {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	manifestFetchesTotal.Inc()

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", `attachment; filename="manifest.plist"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buildManifest(app))
}
