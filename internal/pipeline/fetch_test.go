package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/pixelpass/internal/domain"
	"github.com/dunamismax/pixelpass/internal/output"
)

func TestLocalFileFetcherRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.png"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := LocalFileFetcher{Root: root}

	data, err := f.Fetch(context.Background(), "a.png")
	if err != nil || string(data) != "data" {
		t.Fatalf("Fetch(relative) = %q, %v", data, err)
	}
	if _, err := f.Fetch(context.Background(), "file://"+filepath.Join(root, "a.png")); err != nil {
		t.Fatalf("Fetch(file url) error = %v", err)
	}
	if _, err := f.Fetch(context.Background(), "../etc/passwd"); err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Fatalf("expected escape error, got %v", err)
	}
}

func TestLocalFileFetcherSizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(path, bytes.Repeat([]byte{1}, 32), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LocalFileFetcher{MaxBytes: 16}.Fetch(context.Background(), path)
	if !errors.Is(err, ErrSourceTooLarge) {
		t.Fatalf("expected ErrSourceTooLarge, got %v", err)
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			_, _ = w.Write([]byte("png-bytes"))
		case "/big.png":
			_, _ = w.Write(bytes.Repeat([]byte{1}, 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(0, 32)
	data, err := f.Fetch(context.Background(), srv.URL+"/ok.png")
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("Fetch(ok) = %q, %v", data, err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing.png"); err == nil || !strings.Contains(err.Error(), "status=404") {
		t.Fatalf("expected status error, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/big.png"); !errors.Is(err, ErrSourceTooLarge) {
		t.Fatalf("expected ErrSourceTooLarge, got %v", err)
	}
}

func TestObjectStoreFetcher(t *testing.T) {
	objects := &fakeObjectStore{bucket: "jobs", objects: map[string][]byte{"uploads/j/source": []byte("source")}}
	f := ObjectStoreFetcher{Storage: objects, MaxBytes: 8}

	for _, ref := range []string{"uploads/j/source", "s3://jobs/uploads/j/source"} {
		data, err := f.Fetch(context.Background(), ref)
		if err != nil || string(data) != "source" {
			t.Fatalf("Fetch(%q) = %q, %v", ref, data, err)
		}
	}
	if _, err := f.Fetch(context.Background(), "s3://other/uploads/j/source"); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected bucket mismatch, got %v", err)
	}

	objects.objects["uploads/j/big"] = bytes.Repeat([]byte{1}, 9)
	if _, err := f.Fetch(context.Background(), "uploads/j/big"); !errors.Is(err, ErrSourceTooLarge) {
		t.Fatalf("expected ErrSourceTooLarge, got %v", err)
	}
	if objects.opened != objects.closed {
		t.Fatalf("opened %d objects but closed %d", objects.opened, objects.closed)
	}
}

func TestRouterFetcher(t *testing.T) {
	local := &staticFetcher{data: []byte("local")}
	remote := &staticFetcher{data: []byte("remote")}
	r := RouterFetcher{Local: local, HTTP: remote}

	if data, err := r.Fetch(context.Background(), "./a.png"); err != nil || string(data) != "local" {
		t.Fatalf("Fetch(path) = %q, %v", data, err)
	}
	if data, err := r.Fetch(context.Background(), "https://example.com/a.png"); err != nil || string(data) != "remote" {
		t.Fatalf("Fetch(url) = %q, %v", data, err)
	}
	if _, err := r.Fetch(context.Background(), "s3://bucket/key"); !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected ErrUnsupportedSourceType, got %v", err)
	}
}

func TestObjectStoreEmitter(t *testing.T) {
	objects := &fakeObjectStore{bucket: "jobs", objects: map[string][]byte{}}
	e := ObjectStoreEmitter{Storage: objects, URLTTL: time.Hour}
	file := output.File{Name: "Thumb Nail.png", Data: []byte("x"), Format: output.PNG, MIME: "image/png", Metadata: &output.Metadata{Width: 3, Height: 2}}

	out, err := e.Emit(context.Background(), Task{JobID: "job/1"}, domain.RenderStep{ID: "thumb"}, file)
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if out.Path != "outputs/job_1/Thumb_Nail.png" || out.Width != 3 || out.MIME != "image/png" {
		t.Fatalf("unexpected output %+v", out)
	}
	if out.URL != "https://objects.test/outputs/job_1/Thumb_Nail.png?ttl=1h0m0s" {
		t.Fatalf("unexpected download url %q", out.URL)
	}
	if objects.contentTypes[out.Path] != "image/png" {
		t.Fatalf("expected content type to be stored, got %q", objects.contentTypes[out.Path])
	}
}

type fakeObjectStore struct {
	bucket       string
	objects      map[string][]byte
	contentTypes map[string]string
	opened       int
	closed       int
}

func (s *fakeObjectStore) Bucket() string { return s.bucket }

func (s *fakeObjectStore) OpenObject(_ context.Context, key string) (io.ReadCloser, int64, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, 0, errors.New("object not found")
	}
	s.opened++
	return &trackedReader{Reader: bytes.NewReader(data), onClose: func() { s.closed++ }}, int64(len(data)), nil
}

func (s *fakeObjectStore) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	if s.contentTypes == nil {
		s.contentTypes = make(map[string]string)
	}
	s.objects[key] = data
	s.contentTypes[key] = contentType
	return nil
}

func (s *fakeObjectStore) PresignedGetURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	return "https://objects.test/" + key + "?ttl=" + expiry.String(), nil
}

type trackedReader struct {
	io.Reader
	onClose func()
}

func (r *trackedReader) Close() error {
	r.onClose()
	return nil
}
