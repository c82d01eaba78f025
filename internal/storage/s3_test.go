package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testS3Config(endpoint string) S3Config {
	return S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}
}

func TestNewS3Storage(t *testing.T) {
	storage, err := NewS3Storage(context.Background(), t.TempDir(), testS3Config("http://localhost:4566"))
	require.NoError(t, err)
	assert.Equal(t, "test-bucket", storage.bucket)
	assert.Equal(t, "us-east-1", storage.region)

	_, err = NewS3Storage(context.Background(), t.TempDir(), S3Config{Region: "us-east-1"})
	assert.ErrorIs(t, err, ErrBucketRequired)
}

func TestS3Storage_InheritsLocalStorage(t *testing.T) {
	storage, err := NewS3Storage(context.Background(), t.TempDir(), testS3Config("http://localhost:4566"))
	require.NoError(t, err)

	ctx := context.Background()
	path, err := storage.SaveTemp(ctx, "test", bytes.NewReader([]byte("test data")))
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test data", string(content))

	require.NoError(t, storage.CleanupTemp(ctx, []string{path}))
}

type capturedPut struct {
	mu          sync.Mutex
	method      string
	path        string
	contentType string
	body        string
}

func newMockS3(t *testing.T) (*httptest.Server, *capturedPut) {
	t.Helper()
	captured := &capturedPut{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.mu.Lock()
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.contentType = r.Header.Get("Content-Type")
		captured.body = string(body)
		captured.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func TestS3Storage_Publish_MockServer(t *testing.T) {
	server, captured := newMockS3(t)

	cfg := testS3Config(server.URL)
	cfg.KeyPrefix = "/chapters/"
	storage, err := NewS3Storage(context.Background(), t.TempDir(), cfg)
	require.NoError(t, err)

	url, err := storage.Publish(context.Background(), "ch-1.wav", bytes.NewReader([]byte("test content")))
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/test-bucket/chapters/ch-1.wav", url)

	captured.mu.Lock()
	defer captured.mu.Unlock()
	assert.Equal(t, http.MethodPut, captured.method)
	assert.True(t, strings.HasSuffix(captured.path, "/test-bucket/chapters/ch-1.wav"), captured.path)
	assert.Equal(t, "audio/wav", captured.contentType)
	assert.Contains(t, captured.body, "test content")
}

func TestS3Storage_PublishFile(t *testing.T) {
	server, captured := newMockS3(t)
	storage, err := NewS3Storage(context.Background(), t.TempDir(), testS3Config(server.URL))
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "chapter.wav")
	require.NoError(t, os.WriteFile(src, []byte("RIFF chapter"), 0o600))

	_, err = storage.PublishFile(context.Background(), "chapter.wav", src)
	require.NoError(t, err)

	captured.mu.Lock()
	assert.Contains(t, captured.body, "RIFF chapter")
	captured.mu.Unlock()

	_, err = storage.PublishFile(context.Background(), "x.wav", filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestS3Storage_ObjectURL(t *testing.T) {
	s := &S3Storage{bucket: "b", region: "eu-west-1"}
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/k.wav", s.objectURL("k.wav"))
}
