package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appdrop_requests_total",
		Help: "HTTP requests by status class.",
	}, []string{"class"})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appdrop_uploads_total",
		Help: "Successful package uploads by platform.",
	}, []string{"platform"})

	uploadErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appdrop_upload_errors_total",
		Help: "Failed package uploads.",
	})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appdrop_upload_bytes_total",
		Help: "Bytes accepted into the blob store.",
	})

	shareViewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appdrop_share_views_total",
		Help: "Install page resolutions by platform.",
	}, []string{"platform"})

	manifestFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appdrop_manifest_fetches_total",
		Help: "iOS OTA manifest downloads.",
	})

	blobDownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appdrop_blob_downloads_total",
		Help: "Stored package downloads.",
	})

	cleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appdrop_cleanup_deleted_total",
		Help: "Expired records removed by the retention job.",
	})
)

func recordRequest(status int) {
	switch {
	case status >= 500:
		requestsTotal.WithLabelValues("5xx").Inc()
	case status >= 400:
		requestsTotal.WithLabelValues("4xx").Inc()
	default:
		requestsTotal.WithLabelValues("2xx").Inc()
	}
}
