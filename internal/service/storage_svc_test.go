package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"woo_sync_v1_202610/internal/config"
	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/pkg/woo/wootest"
)

func TestNewImageUploader_Drivers(t *testing.T) {
	up, err := NewImageUploader(config.StorageConfig{Driver: "wordpress"}, newTestClient())
	require.NoError(t, err)
	assert.IsType(t, &WordPressUploader{}, up)

	up, err = NewImageUploader(config.StorageConfig{Driver: "none"}, nil)
	require.NoError(t, err)
	_, err = up.Upload(context.Background(), &model.Site{}, "a.jpg", []byte("x"))
	assert.ErrorIs(t, err, ErrUploadDisabled)

	_, err = NewImageUploader(config.StorageConfig{Driver: "ftp"}, nil)
	assert.Error(t, err)

	_, err = NewImageUploader(config.StorageConfig{Driver: "s3"}, nil)
	assert.Error(t, err, "bucket 必填")
}

func TestWordPressUploader_UsesMediaLibrary(t *testing.T) {
	srv := wootest.NewServer(t)
	store := setupTestStore(t)
	site := createFakeSite(t, store, srv, "alpha")

	dir := t.TempDir()
	path := filepath.Join(dir, "front.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nfake"), 0o644))

	img, err := UploadFile(context.Background(), &WordPressUploader{client: newTestClient()}, site, path)
	require.NoError(t, err)
	assert.Positive(t, img.MediaID)
	assert.Equal(t, srv.URL+"/uploads/front.png", img.URL)
	assert.Equal(t, img.MediaID, img.Ref().ID)
	assert.Empty(t, img.Ref().Src)
}

func TestUploadFile_MissingFile(t *testing.T) {
	srv := wootest.NewServer(t)
	up := &WordPressUploader{client: newTestClient()}
	site := &model.Site{URL: srv.URL, WPUsername: "editor", WPAppPassword: "app pass"}

	_, err := UploadFile(context.Background(), up, site, filepath.Join(t.TempDir(), "nope.jpg"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUploadDisabled)
	assert.Empty(t, srv.Requests())
}

func TestUploadFile_DisabledSkipsRead(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.jpg")

	_, err := UploadFile(context.Background(), disabledUploader{}, &model.Site{}, missing)
	assert.ErrorIs(t, err, ErrUploadDisabled)

	_, err = UploadFile(context.Background(), nil, &model.Site{}, missing)
	assert.ErrorIs(t, err, ErrUploadDisabled)
}

func TestS3Uploader_PutObject(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		types []string
	)
	s3srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		types = append(types, r.Header.Get("Content-Type"))
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s3srv.Close)

	up, err := NewS3Uploader(config.StorageConfig{
		Driver:    "s3",
		Bucket:    "images",
		Region:    "us-east-1",
		Endpoint:  s3srv.URL,
		AccessKey: "AKIDTEST",
		SecretKey: "secret",
		PublicURL: "https://cdn.example.com/",
	})
	require.NoError(t, err)

	img, err := up.Upload(context.Background(), &model.Site{BaseModel: model.BaseModel{ID: 3}}, "Back.JPG", []byte("jpeg"))
	require.NoError(t, err)
	assert.Zero(t, img.MediaID)
	assert.True(t, strings.HasPrefix(img.URL, "https://cdn.example.com/sites/3/"), img.URL)
	assert.True(t, strings.HasSuffix(img.URL, ".jpg"), img.URL)
	assert.Equal(t, img.URL, img.Ref().Src)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, 1)
	assert.True(t, strings.HasPrefix(paths[0], "PUT /images/sites/3/"), paths[0])
	assert.Equal(t, "image/jpeg", types[0])
}

func TestS3Uploader_DefaultPublicURL(t *testing.T) {
	u := &S3Uploader{bucket: "b", region: "eu-west-1"}
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/k.jpg", u.publicURLFor("k.jpg"))

	u.endpoint = "http://minio:9000"
	assert.Equal(t, "http://minio:9000/b/k.jpg", u.publicURLFor("k.jpg"))
}
