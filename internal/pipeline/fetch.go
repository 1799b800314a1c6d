package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxSourceBytes caps every fetched source.
const DefaultMaxSourceBytes = 64 << 20

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrSourceTooLarge        = errors.New("source exceeds size limit")
)

// LocalFileFetcher reads plain paths and file:// URLs. When Root is set,
// relative paths resolve against it and escaping it is refused.
type LocalFileFetcher struct {
	Root     string
	MaxBytes int64
}

func (f LocalFileFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p, err := f.resolve(ref)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", p, err)
	}
	defer file.Close()

	data, err := readLimited(file, f.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", p, err)
	}
	return data, nil
}

func (f LocalFileFetcher) resolve(ref string) (string, error) {
	p := strings.TrimSpace(ref)
	if strings.HasPrefix(strings.ToLower(p), "file://") {
		u, err := url.Parse(p)
		if err != nil {
			return "", fmt.Errorf("parse file url: %w", err)
		}
		p = u.Path
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	if f.Root == "" {
		return filepath.Clean(p), nil
	}

	root, err := filepath.Abs(f.Root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes %s", ref, f.Root)
	}
	return p, nil
}

// HTTPFetcher downloads http(s) references.
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64) HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return HTTPFetcher{Client: &http.Client{Timeout: timeout}, MaxBytes: maxBytes}
}

func (f HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("get %s: status=%d", ref, resp.StatusCode)
	}
	if f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes {
		return nil, fmt.Errorf("get %s: %w (%d bytes)", ref, ErrSourceTooLarge, resp.ContentLength)
	}

	data, err := readLimited(resp.Body, f.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return data, nil
}

// ObjectReader is the read side of the object store client.
type ObjectReader interface {
	Bucket() string
	OpenObject(ctx context.Context, objectKey string) (io.ReadCloser, int64, error)
}

// ObjectStoreFetcher reads s3://bucket/key references, or bare object keys.
type ObjectStoreFetcher struct {
	Storage  ObjectReader
	MaxBytes int64
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	key := ref
	if strings.HasPrefix(strings.ToLower(ref), "s3://") {
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("parse object url: %w", err)
		}
		if u.Host != f.Storage.Bucket() {
			return nil, fmt.Errorf("bucket %q is not configured (have %q)", u.Host, f.Storage.Bucket())
		}
		key = strings.TrimPrefix(u.Path, "/")
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("object key is required")
	}

	body, size, err := f.Storage.OpenObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	if size > limit {
		return nil, fmt.Errorf("%w (object is %d bytes, limit %d)", ErrSourceTooLarge, size, limit)
	}
	return readLimited(body, limit)
}

// RouterFetcher dispatches on the reference scheme. A nil route refuses that
// scheme.
type RouterFetcher struct {
	Local  Fetcher
	HTTP   Fetcher
	Object Fetcher
}

func (f RouterFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	var target Fetcher
	scheme := ""
	if u, err := url.Parse(ref); err == nil && len(u.Scheme) > 1 {
		scheme = strings.ToLower(u.Scheme)
	}
	switch scheme {
	case "http", "https":
		target = f.HTTP
	case "s3":
		target = f.Object
	case "", "file":
		target = f.Local
	}
	if target == nil {
		if scheme == "" {
			scheme = "path"
		}
		return nil, fmt.Errorf("%w: %s references are not enabled", ErrUnsupportedSourceType, scheme)
	}
	return target.Fetch(ctx, ref)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (limit %d bytes)", ErrSourceTooLarge, limit)
	}
	return data, nil
}
