// Package remote implements the network and storage collaborators used by
// delivery stages: S3, Rackspace Cloud Files, Mailgun, Litmus and a local
// directory store.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"mailbuild/internal/pipeline"
	"mailbuild/internal/stage"
)

// DefaultTimeout bounds every HTTP request made by the resty clients.
const DefaultTimeout = 30 * time.Second

const userAgent = "mailbuild"

func newClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(DefaultTimeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")
}

// checkResponse turns a failed request or a non-2xx response into an error.
// Connection failures, timeouts, 429 and 5xx responses are transient.
func checkResponse(what string, resp *resty.Response, err error) error {
	if err != nil {
		if isNetworkError(err) {
			return pipeline.Transientf("%s: %w", what, err)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	herr := &HTTPError{Op: what, StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 200)}
	if transientStatus(resp.StatusCode()) {
		return pipeline.Transient(herr)
	}
	return herr
}

// HTTPError is a non-2xx response from a remote service.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Dependencies returns stage dependencies backed by the real remote clients.
func Dependencies(ledger stage.Ledger, clock pipeline.Clock) stage.Dependencies {
	return stage.Dependencies{
		Ledger:             ledger,
		Clock:              clock,
		NewS3Store:         NewS3Store,
		NewCloudFilesStore: NewCloudFilesStore,
		NewDirStore:        NewDirStore,
		NewMailer:          NewMailgun,
		NewRenderTester:    NewLitmus,
	}
}
