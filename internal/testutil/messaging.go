package testutil

import (
	"context"
	"fmt"
	"sync"

	"mailbuild/internal/stage"
)

// RecordingMailer captures sent messages.
type RecordingMailer struct {
	mu       sync.Mutex
	Messages []stage.Message
	// Err, when set, is returned by Send.
	Err error
}

func (m *RecordingMailer) Send(_ context.Context, msg stage.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Messages = append(m.Messages, msg)
	return fmt.Sprintf("<msg-%d@test>", len(m.Messages)), nil
}

// RecordingRenderTester captures submitted render tests.
type RecordingRenderTester struct {
	mu    sync.Mutex
	Tests []stage.RenderTest
}

func (r *RecordingRenderTester) Submit(_ context.Context, test stage.RenderTest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Tests = append(r.Tests, test)
	return fmt.Sprintf("test-%d", len(r.Tests)), nil
}

var (
	_ stage.Mailer       = (*RecordingMailer)(nil)
	_ stage.RenderTester = (*RecordingRenderTester)(nil)
)
