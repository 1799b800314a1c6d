package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil || !strings.Contains(err.Error(), "bucket") {
		t.Fatalf("expected bucket error, got %v", err)
	}
	if _, err := NewClient(Config{Bucket: "b"}); err == nil || !strings.Contains(err.Error(), "endpoint") {
		t.Fatalf("expected endpoint error, got %v", err)
	}

	c, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "s", Bucket: "pixelpass-jobs"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.Bucket() != "pixelpass-jobs" {
		t.Fatalf("unexpected bucket %q", c.Bucket())
	}
}

func TestPresignedURLsAreSignedLocally(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "s", Bucket: "pixelpass-jobs", Region: "us-east-1"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	put, err := c.PresignedPutURL(context.Background(), "uploads/job/source", time.Minute)
	if err != nil {
		t.Fatalf("PresignedPutURL() error = %v", err)
	}
	if !strings.Contains(put, "/pixelpass-jobs/uploads/job/source") || !strings.Contains(put, "X-Amz-Signature") {
		t.Fatalf("unexpected presigned put url %q", put)
	}

	get, err := c.PresignedGetURL(context.Background(), "outputs/job/thumb.png", time.Minute)
	if err != nil {
		t.Fatalf("PresignedGetURL() error = %v", err)
	}
	if !strings.Contains(get, "outputs/job/thumb.png") {
		t.Fatalf("unexpected presigned get url %q", get)
	}
}

func TestIsNotFound(t *testing.T) {
	if isNotFound(errors.New("boom")) {
		t.Fatal("plain errors are not not-found")
	}
}
