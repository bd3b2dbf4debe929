package server

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

//go:embed templates/*.html
var templateFS embed.FS

func parseTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// sharePageData feeds the install page template.
type sharePageData struct {
	DisplayName        string
	PlatformLabel      string
	IsIOS              bool
	SizeHuman          string
	UploadedOn         string
	DownloadCount      int64
	FileURL            string
	ManifestInstallURL template.URL
}

// manifestInstallURL builds the itms-services link the iOS installer
// understands, pointing back at this service's manifest endpoint.
func (s *Server) manifestInstallURL(shareID string) string {
	manifestURL := strings.TrimRight(s.cfg.Server.BaseURL, "/") + "/plist/" + shareID
	return "itms-services://?action=download-manifest&url=" + url.QueryEscape(manifestURL)
}

func (s *Server) shareURL(shareID string) string {
	return strings.TrimRight(s.cfg.Server.BaseURL, "/") + "/share/" + shareID
}

// handleSharePage serves GET /share/{shareID}: resolve the record, bump the
// download counter atomically, and render the platform-specific install page.
// The page shows the post-increment counter value.
func (s *Server) handleSharePage(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareID")

	app, err := resolveShare(r.Context(), s.db, shareID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.renderPage(w, http.StatusNotFound, "notfound.html", nil)
			return
		}
		s.log.Error().Err(err).Str("rid", RequestIDFromContext(r.Context())).Msg("share resolution failed")
		s.renderPage(w, http.StatusInternalServerError, "error.html", nil)
		return
	}

	shareViewsTotal.WithLabelValues(app.Platform).Inc()

	data := sharePageData{
		DisplayName:        displayName(app.OriginalName),
		PlatformLabel:      strings.ToUpper(app.Platform),
		IsIOS:              app.Platform == platformIOS,
		SizeHuman:          fmt.Sprintf("%.2f MB", float64(app.SizeBytes)/(1024*1024)),
		UploadedOn:         app.CreatedAt.Format("Jan 2, 2006"),
		DownloadCount:      app.DownloadCount,
		FileURL:            app.FileURL,
		// template.URL keeps html/template from rejecting the itms-services
		// scheme in the href attribute.
		ManifestInstallURL: template.URL(s.manifestInstallURL(app.ShareID)),
	}
	s.renderPage(w, http.StatusOK, "share.html", data)
}

// renderPage writes an HTML response from a named template. A render failure
// after the header is written can only be logged.
func (s *Server) renderPage(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error().Err(err).Str("template", name).Msg("template render failed")
	}
}
