//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/rs/zerolog"

	"appdrop/internal/server"
)

const testBucket = "appdrop-test"

// setupStack starts Postgres and MinIO containers, applies migrations and
// returns a fully wired HTTP test server.
func setupStack(t *testing.T) *httptest.Server {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("could not connect to docker: %v", err)
	}

	pgResource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15",
		Env: []string{
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=appdrop",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
	})
	if err != nil {
		t.Fatalf("could not start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(pgResource) })
	pgPort := pgResource.GetPort("5432/tcp")

	minioTag := os.Getenv("APPDROP_MINIO_TEST_TAG")
	if minioTag == "" {
		minioTag = "RELEASE.2024-01-31T20-20-33Z"
	}
	minioResource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "minio/minio",
		Tag:        minioTag,
		Cmd:        []string{"server", "/data"},
		Env: []string{
			"MINIO_ROOT_USER=minio",
			"MINIO_ROOT_PASSWORD=minio123",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
	})
	if err != nil {
		t.Fatalf("could not start minio: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(minioResource) })
	minioPort := minioResource.GetPort("9000/tcp")

	if err := pool.Retry(func() error {
		resp, err := http.Get("http://localhost:" + minioPort + "/minio/health/live")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("minio not ready: %d", resp.StatusCode)
		}
		return nil
	}); err != nil {
		t.Fatalf("minio not ready: %v", err)
	}

	cfg := &server.Config{
		Server: server.ServerConfig{
			Port:           "0",
			BaseURL:        "http://localhost:5000",
			MaxUploadBytes: 10 * 1024 * 1024,
			AllowedOrigins: []string{"*"},
		},
		Database: server.DatabaseConfig{
			Host:     "localhost",
			Port:     pgPort,
			User:     "postgres",
			Password: "secret",
			Name:     "appdrop",
			SSLMode:  "disable",
		},
		S3: server.S3Config{
			Endpoint:  "localhost:" + minioPort,
			AccessKey: "minio",
			SecretKey: "minio123",
			Bucket:    testBucket,
		},
		Cleanup: server.CleanupConfig{
			Retention: 30 * 24 * time.Hour,
		},
	}

	db := waitForDB(t, pool, cfg)

	if err := server.RunMigrations(cfg.Database.URL(), "../../migrations"); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	blobs := makeBucket(t, cfg)

	srv, err := server.New(cfg, db, blobs, zerolog.Nop(), server.BuildInfo{Version: "test"})
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	// Blob URLs in responses must point back at the test server.
	cfg.Server.BaseURL = ts.URL
	return ts
}

func waitForDB(t *testing.T, pool *dockertest.Pool, cfg *server.Config) *sqlx.DB {
	t.Helper()
	var db *sqlx.DB
	if err := pool.Retry(func() error {
		var err error
		db, err = server.OpenDB(cfg.Database.URL())
		return err
	}); err != nil {
		t.Fatalf("could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func makeBucket(t *testing.T, cfg *server.Config) *minio.Client {
	t.Helper()

	// The bucket has to exist before NewBlobStore will accept the config.
	mc, err := minio.New(cfg.S3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Fatalf("minio client: %v", err)
	}
	if err := mc.MakeBucket(context.Background(), cfg.S3.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, err2 := mc.BucketExists(context.Background(), cfg.S3.Bucket)
		if err2 != nil || !exists {
			t.Fatalf("could not create bucket: %v / %v", err, err2)
		}
	}

	blobs, err := server.NewBlobStore(cfg.S3)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	return blobs
}

func uploadPackage(t *testing.T, client *http.Client, baseURL, filename, bundleID string, payload []byte) uploadResponse {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if bundleID != "" {
		if err := w.WriteField("bundleId", bundleID); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := w.CreateFormFile("appFile", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	resp, err := client.Post(baseURL+"/api/upload", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload returned %d: %s", resp.StatusCode, body)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return out
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	ShareURL string `json:"shareUrl"`
	App      struct {
		ID           string `json:"id"`
		OriginalName string `json:"originalName"`
		Platform     string `json:"platform"`
		FileSize     int64  `json:"fileSize"`
	} `json:"app"`
}

func TestUploadShareInstallFlow(t *testing.T) {
	ts := setupStack(t)
	client := &http.Client{Timeout: 30 * time.Second}

	apkPayload := bytes.Repeat([]byte("android-bytes"), 100)
	ipaPayload := bytes.Repeat([]byte("ios-bytes"), 100)

	var apk, ipa uploadResponse

	t.Run("upload apk", func(t *testing.T) {
		apk = uploadPackage(t, client, ts.URL, "my-game.apk", "", apkPayload)
		if !apk.Success {
			t.Error("expected success=true")
		}
		if apk.App.Platform != "android" {
			t.Errorf("platform = %q, want android", apk.App.Platform)
		}
		if apk.App.FileSize != int64(len(apkPayload)) {
			t.Errorf("fileSize = %d, want %d", apk.App.FileSize, len(apkPayload))
		}
		if len(apk.App.ID) < 10 {
			t.Errorf("share id too short: %q", apk.App.ID)
		}
	})

	t.Run("upload ipa", func(t *testing.T) {
		ipa = uploadPackage(t, client, ts.URL, "MyApp.ipa", "com.example.myapp", ipaPayload)
		if ipa.App.Platform != "ios" {
			t.Errorf("platform = %q, want ios", ipa.App.Platform)
		}
	})

	t.Run("share page increments counter", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			resp, err := client.Get(ts.URL + "/share/" + apk.App.ID)
			if err != nil {
				t.Fatalf("share page failed: %v", err)
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("share page returned %d", resp.StatusCode)
			}
			want := fmt.Sprintf("<strong>%d</strong>", i)
			if !strings.Contains(string(body), want) {
				t.Errorf("view %d: page does not show count %d", i, i)
			}
			if !strings.Contains(string(body), "Install APK") {
				t.Error("android page missing APK install button")
			}
		}
	})

	t.Run("ios share page links manifest", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/share/" + ipa.App.ID)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(body), "itms-services://") {
			t.Error("ios page missing manifest install link")
		}
	})

	t.Run("manifest for ios", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/plist/" + ipa.App.ID)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("manifest returned %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/xml" {
			t.Errorf("Content-Type = %q", ct)
		}
		if !strings.Contains(string(body), "com.example.myapp") {
			t.Error("manifest missing bundle identifier")
		}
		if !strings.Contains(string(body), "software-package") {
			t.Error("manifest missing software-package asset")
		}
	})

	t.Run("manifest rejected for android", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/plist/" + apk.App.ID)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("android manifest returned %d, want 404", resp.StatusCode)
		}
	})

	t.Run("blob download round trip", func(t *testing.T) {
		var info struct {
			App struct {
				FileURL string `json:"fileUrl"`
			} `json:"app"`
		}
		resp, err := client.Get(ts.URL + "/api/apps/" + apk.App.ID)
		if err != nil {
			t.Fatal(err)
		}
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		object := info.App.FileURL[strings.LastIndex(info.App.FileURL, "/")+1:]
		resp, err = client.Get(ts.URL + "/uploads/" + object)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("blob download returned %d", resp.StatusCode)
		}
		data, _ := io.ReadAll(resp.Body)
		if !bytes.Equal(data, apkPayload) {
			t.Error("downloaded payload does not match upload")
		}
	})

	t.Run("app info has no counter side effect", func(t *testing.T) {
		var before, after struct {
			App struct {
				DownloadCount int64 `json:"downloadCount"`
			} `json:"app"`
		}
		for _, target := range []*struct {
			App struct {
				DownloadCount int64 `json:"downloadCount"`
			} `json:"app"`
		}{&before, &after} {
			resp, err := client.Get(ts.URL + "/api/apps/" + ipa.App.ID)
			if err != nil {
				t.Fatal(err)
			}
			if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
		}
		if before.App.DownloadCount != after.App.DownloadCount {
			t.Errorf("app info changed the counter: %d -> %d",
				before.App.DownloadCount, after.App.DownloadCount)
		}
	})

	t.Run("unknown share id", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/share/zzzzzzzzzzzz")
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("unknown share returned %d, want 404", resp.StatusCode)
		}
		if !strings.Contains(string(body), "expired") {
			t.Error("not-found page missing explanation")
		}
	})

	t.Run("oversize upload rejected", func(t *testing.T) {
		big := bytes.Repeat([]byte("x"), 11*1024*1024)
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		fw, _ := w.CreateFormFile("appFile", "big.apk")
		_, _ = fw.Write(big)
		_ = w.Close()

		resp, err := client.Post(ts.URL+"/api/upload", w.FormDataContentType(), &buf)
		if err != nil {
			t.Fatalf("oversize upload failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusRequestEntityTooLarge {
			t.Errorf("oversize upload returned %d, want 413", resp.StatusCode)
		}
	})
}
