package service

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tenantly/portal/backend/config"
)

func TestNewMinioService(t *testing.T) {
	cfg := &config.MinioConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "test",
		SecretKey: "test",
		Bucket:    "test",
	}

	svc, err := NewMinioService(cfg)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if svc.bucket != "test" {
		t.Errorf("Expected bucket 'test', got '%s'", svc.bucket)
	}
}

func TestMinioServiceGetPublicURL(t *testing.T) {
	tests := []struct {
		name       string
		useSSL     bool
		endpoint   string
		publicURL  string
		bucket     string
		objectName string
		expected   string
	}{
		{
			name:       "http url",
			endpoint:   "localhost:9000",
			bucket:     "test-bucket",
			objectName: "path/to/file.jpg",
			expected:   "http://localhost:9000/test-bucket/path/to/file.jpg",
		},
		{
			name:       "https url",
			useSSL:     true,
			endpoint:   "minio.example.com",
			bucket:     "maintenance",
			objectName: "leak/abc-photo.png",
			expected:   "https://minio.example.com/maintenance/leak/abc-photo.png",
		},
		{
			name:       "public base url wins",
			endpoint:   "minio:9000",
			publicURL:  "https://cdn.example.com/files/",
			bucket:     "maintenance",
			objectName: "leak/a.png",
			expected:   "https://cdn.example.com/files/leak/a.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MinioService{
				bucket: tt.bucket,
				config: &config.MinioConfig{
					Endpoint:  tt.endpoint,
					UseSSL:    tt.useSSL,
					PublicURL: tt.publicURL,
				},
			}

			result := svc.GetPublicURL(tt.objectName)
			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestObjectName(t *testing.T) {
	name := ObjectName("/Leaky faucet/", `C:\photos\my pic.jpg`)
	if !strings.HasPrefix(name, "Leaky faucet/") {
		t.Errorf("Expected folder prefix, got '%s'", name)
	}
	if !strings.HasSuffix(name, "-my_pic.jpg") {
		t.Errorf("Expected sanitized base name, got '%s'", name)
	}
	if ObjectName("f", "a.jpg") == ObjectName("f", "a.jpg") {
		t.Error("Expected unique object names for the same file")
	}
}

// fakeS3 accepts object PUTs and records their paths.
type fakeS3 struct {
	mu    sync.Mutex
	paths []string
	fail  bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if f.fail {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>InternalError</Code><Message>boom</Message></Error>`))
		return
	}
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func newFakeMinio(t *testing.T, backend *fakeS3) *MinioService {
	t.Helper()
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	svc, err := NewMinioService(&config.MinioConfig{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "test",
		SecretKey: "testsecret",
		Bucket:    "maintenance",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return svc
}

func TestMinioServiceUploadImages(t *testing.T) {
	backend := &fakeS3{}
	svc := newFakeMinio(t, backend)

	resp, err := svc.UploadImages(context.Background(), UploadRequest{
		FolderName: "Leaky faucet",
		Images: []UploadImage{
			{Name: "a.png", Content: base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nfake"))},
			{Name: "b.jpg", Content: base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff\xe0fake"))},
		},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !resp.Success || len(resp.URLs) != 2 {
		t.Fatalf("Expected 2 urls, got %+v", resp)
	}
	if len(backend.paths) != 2 {
		t.Fatalf("Expected 2 PUTs, got %d", len(backend.paths))
	}
	for i, p := range backend.paths {
		if !strings.HasPrefix(p, "/maintenance/Leaky faucet/") {
			t.Errorf("Unexpected object path %s", p)
		}
		if !strings.HasSuffix(resp.URLs[i], strings.TrimPrefix(p, "/maintenance/")) {
			t.Errorf("URL %s does not point at %s", resp.URLs[i], p)
		}
	}
}

func TestMinioServiceUploadImagesInvalidBase64(t *testing.T) {
	backend := &fakeS3{}
	svc := newFakeMinio(t, backend)

	_, err := svc.UploadImages(context.Background(), UploadRequest{
		FolderName: "x",
		Images:     []UploadImage{{Name: "a.png", Content: "not base64!!"}},
	})
	if err == nil {
		t.Fatal("Expected decode error")
	}
	if len(backend.paths) != 0 {
		t.Error("Expected nothing uploaded")
	}
}

func TestMinioServiceUploadImagesStorageError(t *testing.T) {
	svc := newFakeMinio(t, &fakeS3{fail: true})

	_, err := svc.UploadImages(context.Background(), UploadRequest{
		FolderName: "x",
		Images:     []UploadImage{{Name: "a.png", Content: base64.StdEncoding.EncodeToString([]byte("data"))}},
	})
	if err == nil {
		t.Fatal("Expected storage error")
	}
}
