package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mailbuild/internal/pipeline"
	"mailbuild/internal/stage"
)

// isolateAWS keeps the SDK from reading the developer's AWS configuration.
func isolateAWS(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_ENDPOINT_URL", "")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
}

type recordedPut struct {
	path   string
	header http.Header
}

func TestS3Store_Put(t *testing.T) {
	isolateAWS(t)

	var mu sync.Mutex
	var puts []recordedPut
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		mu.Lock()
		puts = append(puts, recordedPut{path: r.URL.Path, header: r.Header.Clone()})
		mu.Unlock()
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := NewS3Store(context.Background(), stage.S3Connection{
		Key:       "AKIAEXAMPLE",
		Secret:    "secret",
		Region:    "us-east-1",
		Bucket:    "mail",
		Endpoint:  srv.URL,
		PathStyle: true,
	})
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}
	if got := store.Destination(); got != "s3://mail" {
		t.Errorf("Destination() = %q", got)
	}

	err = store.Put(context.Background(), stage.Object{
		Key:             "public/emails/a.html",
		Body:            bytes.NewReader([]byte("<p>a</p>")),
		Size:            8,
		ContentType:     "text/html; charset=utf-8",
		ContentEncoding: "gzip",
		CacheControl:    "max-age=630720000, public",
		Expires:         time.Date(2028, 3, 1, 0, 0, 0, 0, time.UTC),
		ACL:             "public-read",
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(puts) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(puts))
	}
	p := puts[0]
	if p.path != "/mail/public/emails/a.html" {
		t.Errorf("path = %s", p.path)
	}
	if p.header.Get("X-Amz-Acl") != "public-read" {
		t.Errorf("acl = %q", p.header.Get("X-Amz-Acl"))
	}
	if p.header.Get("Cache-Control") != "max-age=630720000, public" {
		t.Errorf("cache-control = %q", p.header.Get("Cache-Control"))
	}
	if !strings.Contains(p.header.Get("Content-Encoding"), "gzip") {
		t.Errorf("content-encoding = %q", p.header.Get("Content-Encoding"))
	}
	if p.header.Get("Expires") == "" {
		t.Error("expires header missing")
	}
	if !strings.HasPrefix(p.header.Get("Authorization"), "AWS4-HMAC-SHA256 Credential=AKIAEXAMPLE/") {
		t.Errorf("authorization = %q", p.header.Get("Authorization"))
	}
}

func TestS3Store_ErrorClassification(t *testing.T) {
	isolateAWS(t)

	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"access denied", http.StatusForbidden, false},
		{"service unavailable", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.Copy(io.Discard, r.Body)
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(tt.status)
				w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>Oops</Code><Message>nope</Message></Error>`))
			}))
			defer srv.Close()

			store, err := NewS3Store(context.Background(), stage.S3Connection{
				Key: "k", Secret: "s", Region: "us-east-1", Bucket: "mail", Endpoint: srv.URL, PathStyle: true,
			})
			if err != nil {
				t.Fatalf("NewS3Store() error = %v", err)
			}
			err = store.Put(context.Background(), stage.Object{
				Key: "a.html", Body: bytes.NewReader([]byte("a")), Size: 1, ContentType: "text/html",
			})
			if err == nil {
				t.Fatal("Put() expected error")
			}
			if got := pipeline.IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient() = %v, want %v (err = %v)", got, tt.wantTransient, err)
			}
		})
	}
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), stage.S3Connection{Region: "us-east-1"}); err == nil {
		t.Error("NewS3Store() expected error for missing bucket")
	}
}
