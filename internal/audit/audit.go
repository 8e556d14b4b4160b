// ABOUTME: Fire-and-forget audit recording for authentication flows
// ABOUTME: Recorder failures are logged and swallowed, never surfaced

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carelog/carelog-gateway/internal/store"
)

// Event names emitted by the auth service.
const (
	EventLoginSuccess  = "login_success"
	EventLoginFailure  = "login_failure"
	EventAccountLocked = "account_locked"
	EventLogout        = "logout"
	EventRegistration  = "registration_success"
	EventDemoStart     = "demo_start"
)

// writeTimeout bounds each background write so a stuck sink cannot
// accumulate goroutines forever.
const writeTimeout = 5 * time.Second

// Sink accepts auth events for persistence.
type Sink interface {
	SaveAuthEvent(ctx context.Context, event *store.AuthEvent) error
}

// Recorder emits auth events asynchronously. Emission never blocks,
// delays or fails the caller's response.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder writing through sink.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{
		sink:   sink,
		logger: slog.Default().With("component", "audit"),
	}
}

// Emit records an event in the background. An empty accountID is stored
// as NULL. A failed write is logged and dropped.
func (r *Recorder) Emit(name, accountID string, attrs map[string]any) {
	event := &store.AuthEvent{Name: name, Detail: attrs}
	if accountID != "" {
		id := accountID
		event.AccountID = &id
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.sink.SaveAuthEvent(ctx, event); err != nil {
			r.logger.Warn("dropping audit event", "event", name, "error", err)
		}
	}()
}

// Flush waits for in-flight writes. Shutdown and tests use it.
func (r *Recorder) Flush() {
	r.wg.Wait()
}
