package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"pii-audit-go/internal/config"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
)

type recordedPut struct {
	method   string
	path     string
	tenantID string
}

func newFakeS3(t *testing.T, status int) (*minio.Client, func() []recordedPut) {
	t.Helper()
	var (
		mu   sync.Mutex
		puts []recordedPut
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		puts = append(puts, recordedPut{method: r.Method, path: r.URL.Path, tenantID: r.Header.Get("X-Amz-Meta-Tenant-Id")})
		mu.Unlock()
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
			return
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4("access", "secret", ""),
		Secure: false,
		Region: "us-east-1",
	})
	require.NoError(t, err)
	return client, func() []recordedPut {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedPut(nil), puts...)
	}
}

func TestObjectNameIsTenantScoped(t *testing.T) {
	require.Equal(t, "exports/t1/bundle.zip", ObjectName("t1", "bundle.zip"))
}

func TestArchiveUploadsAndPresigns(t *testing.T) {
	client, recorded := newFakeS3(t, http.StatusOK)
	archiver := NewBundleArchiver(client, config.MinIOConfig{BucketName: "compliance-exports", URLExpiryHours: 1})

	link, err := archiver.Archive(context.Background(), "t1", "bundle.zip", []byte("PK\x03\x04"))
	require.NoError(t, err)

	puts := recorded()
	require.Len(t, puts, 1)
	require.Equal(t, http.MethodPut, puts[0].method)
	require.Equal(t, "/compliance-exports/exports/t1/bundle.zip", puts[0].path)
	require.Equal(t, "t1", puts[0].tenantID)

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	require.Equal(t, "/compliance-exports/exports/t1/bundle.zip", parsed.Path)
	require.Equal(t, "3600", parsed.Query().Get("X-Amz-Expires"))
	require.NotEmpty(t, parsed.Query().Get("X-Amz-Signature"))
}

func TestGetPresignedURLUsesGivenClient(t *testing.T) {
	client, recorded := newFakeS3(t, http.StatusOK)

	link, err := GetPresignedURL(context.Background(), client, "b", "exports/t2/x.zip", 0)
	require.Error(t, err, "zero expiry is rejected by the signer")
	require.Empty(t, link)

	link, err = GetPresignedURL(context.Background(), client, "b", "exports/t2/x.zip", time.Hour)
	require.NoError(t, err)
	require.True(t, strings.Contains(link, "/b/exports/t2/x.zip"))
	require.Empty(t, recorded(), "presigning is computed locally")
}

func TestArchiveReportsUploadFailure(t *testing.T) {
	client, _ := newFakeS3(t, http.StatusForbidden)
	archiver := NewBundleArchiver(client, config.MinIOConfig{BucketName: "compliance-exports"})

	link, err := archiver.Archive(context.Background(), "t1", "bundle.zip", []byte("data"))
	require.Error(t, err)
	require.Empty(t, link)
}
