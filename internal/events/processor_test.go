package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "github.com/Maxxit-ai/maxxit-latest-sub005/internal/errors"
	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/observability/alerting"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestProcessorConsumesMemoryBus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := &syncBuffer{}
	alerter := &recordingAlerter{}
	bus := NewMemoryBus(16)
	processor := NewProcessor(bus,
		WithWorkerCount(2),
		WithAuditLogger(slog.New(slog.NewJSONHandler(out, nil))),
		WithAlertDispatcher(alerter))

	done := make(chan error, 1)
	go func() { done <- processor.Start(ctx) }()

	milestone := New(TypeMilestone, "ostium", "0x01")
	milestone.Milestone = "delegationComplete"
	if err := bus.Publish(ctx, milestone); err != nil {
		t.Fatalf("publish: %v", err)
	}
	inconsistent := Failure("ostium", "0x01", "enable", xerrors.New(xerrors.CodeBackendInconsistency, ""))
	rejected := Failure("ostium", "0x01", "enable", xerrors.New(xerrors.CodeUserRejected, ""))
	for _, e := range []Event{inconsistent, rejected} {
		if err := bus.Publish(ctx, e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for strings.Count(out.String(), "\n") < 3 {
		select {
		case <-deadline:
			t.Fatalf("events not processed, log: %s", out.String())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected processor exit: %v", err)
	}

	logs := out.String()
	if !strings.Contains(logs, `"milestone":"delegationComplete"`) {
		t.Fatalf("milestone not audited: %s", logs)
	}
	// 用户拒签不告警，后端不一致需要告警
	if alerter.count() != 1 {
		t.Fatalf("expected one alert, got %d", alerter.count())
	}
	if alerter.events[0].Code != xerrors.CodeBackendInconsistency {
		t.Fatalf("unexpected alert %+v", alerter.events[0])
	}
}

func TestFailureCarriesUserMessage(t *testing.T) {
	e := Failure("aster", "0x02", "fund", xerrors.New(xerrors.CodeUserRejected, "user denied"))
	if e.Message != "Transaction rejected" {
		t.Fatalf("unexpected message %q", e.Message)
	}
	if e.ID == "" || e.At.IsZero() {
		t.Fatalf("event not stamped: %+v", e)
	}
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(1)
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := bus.Publish(context.Background(), New(TypeReset, "ostium", "")); err == nil {
		t.Fatalf("expected publish on closed bus to fail")
	}
}

func TestEventRoundTripKeepsFields(t *testing.T) {
	e := New(TypeTransaction, "ostium", "0x03")
	e.TxHash = "0xabc"
	e.Operation = "delegate"
	raw, err := encode(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != e.ID || got.TxHash != "0xabc" || !got.At.Equal(e.At) {
		t.Fatalf("unexpected decoded event %+v", got)
	}
	if _, err := decode([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}
