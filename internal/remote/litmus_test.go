package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mailbuild/internal/stage"
)

func TestLitmus_Submit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails.xml" {
			t.Errorf("path = %s", r.URL.Path)
		}
		user, pass, _ := r.BasicAuth()
		if user != "u" || pass != "p" {
			t.Errorf("basic auth = %q %q", user, pass)
		}
		body, _ := io.ReadAll(r.Body)
		for _, want := range []string{
			`<applications type="array">`,
			`<application><code>ol2003</code></application>`,
			`<application><code>iphone6</code></application>`,
			`<body><![CDATA[<p>a & b</p>]]></body>`,
			`<subject>a.html</subject>`,
		} {
			if !strings.Contains(string(body), want) {
				t.Errorf("body missing %s:\n%s", want, body)
			}
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`<?xml version="1.0"?><test_set><id type="integer">4242</id><state>waiting</state></test_set>`))
	}))
	defer srv.Close()

	l, err := NewLitmus(stage.LitmusConnection{Username: "u", Password: "p", URL: srv.URL})
	if err != nil {
		t.Fatalf("NewLitmus() error = %v", err)
	}
	id, err := l.Submit(context.Background(), stage.RenderTest{
		Title:   "a.html",
		HTML:    "<p>a & b</p>",
		Clients: []string{"ol2003", "iphone6"},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id != "4242" {
		t.Errorf("id = %q, want 4242", id)
	}
}

func TestLitmus_Unauthorized(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	l, _ := NewLitmus(stage.LitmusConnection{Username: "u", Password: "bad", URL: srv.URL})
	if _, err := l.Submit(context.Background(), stage.RenderTest{Title: "t"}); err == nil {
		t.Error("Submit() expected error")
	}
}
