package gcs

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func newTestBucket(transport roundTripFunc) *Bucket {
	client := &Client{
		defaultBucket: "badges-bucket",
		tokenSource: &tokenSource{fetch: func(context.Context) (string, time.Time, error) {
			return "token", time.Now().Add(time.Hour), nil
		}},
		httpClient: &http.Client{Transport: transport},
	}
	return client.BucketHandle("")
}

func TestUpload_SendsMediaRequestWithContentType(t *testing.T) {
	var sawMethod, sawAuth, sawContentType, sawURL string
	var body []byte

	bucket := newTestBucket(func(req *http.Request) *http.Response {
		sawMethod = req.Method
		sawAuth = req.Header.Get("Authorization")
		sawContentType = req.Header.Get("Content-Type")
		sawURL = req.URL.String()
		b, _ := io.ReadAll(req.Body)
		body = b
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("{}")),
			Header:     http.Header{},
		}
	})

	err := bucket.Upload(context.Background(), "badges/p1/a1.svg", []byte("<svg></svg>"), UploadOptions{
		ContentType: "image/svg+xml",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if sawMethod != http.MethodPost {
		t.Fatalf("expected POST, got %s", sawMethod)
	}
	if sawAuth != "Bearer token" {
		t.Fatalf("unexpected auth header: %q", sawAuth)
	}
	if sawContentType != "image/svg+xml" {
		t.Fatalf("unexpected content type: %q", sawContentType)
	}
	if string(body) != "<svg></svg>" {
		t.Fatalf("unexpected uploaded body: %q", body)
	}

	parsed, err := url.Parse(sawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if parsed.Query().Get("name") != "badges/p1/a1.svg" {
		t.Fatalf("unexpected object key in upload url: %s", sawURL)
	}
}

func TestUpload_PatchesMetadataWhenProvided(t *testing.T) {
	var methodsSeen []string

	bucket := newTestBucket(func(req *http.Request) *http.Response {
		methodsSeen = append(methodsSeen, req.Method)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("{}")),
			Header:     http.Header{},
		}
	})

	err := bucket.Upload(context.Background(), "badges/p1/a1.svg", []byte("<svg></svg>"), UploadOptions{
		ContentType:  "image/svg+xml",
		CacheControl: "public, max-age=31536000",
		UserMetadata: map[string]string{"generated-by": "achievements-worker"},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(methodsSeen) != 2 || methodsSeen[0] != http.MethodPost || methodsSeen[1] != http.MethodPatch {
		t.Fatalf("expected POST then PATCH, got %v", methodsSeen)
	}
}

func TestUpload_ErrorStatusFails(t *testing.T) {
	bucket := newTestBucket(func(req *http.Request) *http.Response {
		return &http.Response{
			StatusCode: http.StatusForbidden,
			Body:       io.NopCloser(strings.NewReader("permission denied")),
			Header:     http.Header{},
		}
	})

	err := bucket.Upload(context.Background(), "badges/p1/a1.svg", []byte("<svg></svg>"), UploadOptions{ContentType: "image/svg+xml"})
	if err == nil {
		t.Fatal("expected upload error on non-200 response")
	}
}

func TestUpload_NilBucketErrors(t *testing.T) {
	var bucket *Bucket
	if err := bucket.Upload(context.Background(), "key", []byte("x"), UploadOptions{}); err == nil {
		t.Fatal("expected error for nil bucket")
	}
}
