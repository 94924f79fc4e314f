package alert

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/neurosense360/console/internal/platform/notification"
	"github.com/neurosense360/console/internal/platform/websocket"
)

type emailResult struct {
	n   *notification.Notification
	err error
}

func newTestNotifier(sender notification.EmailSender) (*AlertNotifier, *recordingPublisher, *MemoryEventRepository, chan emailResult) {
	events := NewMemoryEventRepository()
	pub := &recordingPublisher{}
	outbox := notification.NewOutbox(sender, notification.NewTemplateEngine())
	n := NewAlertNotifier(events, pub, outbox, zerolog.Nop())
	done := make(chan emailResult, 1)
	n.sent = func(sent *notification.Notification, err error) {
		done <- emailResult{n: sent, err: err}
	}
	return n, pub, events, done
}

func waitEmail(t *testing.T, done chan emailResult) emailResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert email")
		return emailResult{}
	}
}

func TestAlertNotifier_NewAlert(t *testing.T) {
	ctx := context.Background()
	sender := &notification.MockEmailSender{}
	n, pub, events, done := newTestNotifier(sender)

	c := activeClinic(10, 10)
	a := NewAlert(NewEvaluator(DefaultThresholds()).Evaluate(c, testNow).Candidates[0], testNow)

	if err := n.Notify(ctx, a, c, true); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if pub.count() != 1 {
		t.Fatalf("expected one toast, got %d", pub.count())
	}
	wantTopics := []string{websocket.TopicAlerts, websocket.ClinicTopic(c.ID.String())}
	if strings.Join(pub.topics[0], ",") != strings.Join(wantTopics, ",") {
		t.Errorf("unexpected topics %v", pub.topics[0])
	}
	ev := pub.events[0]
	if ev.Type != websocket.EventToast {
		t.Errorf("expected toast event, got %s", ev.Type)
	}
	var toast websocket.Toast
	if err := json.Unmarshal(ev.Data, &toast); err != nil {
		t.Fatalf("decode toast: %v", err)
	}
	if toast.Severity != "error" || toast.Duration != 8000 || toast.Message != a.Message {
		t.Errorf("unexpected toast %+v", toast)
	}

	logged, _ := events.ListByClinic(ctx, c.ID, 0)
	if len(logged) != 1 || logged[0].Action != EventAlertCreated {
		t.Fatalf("expected alert_created event, got %+v", logged)
	}
	d := logged[0].Details
	if d.AlertID != a.ID || d.AlertType != TypeCritical || d.AlertCategory != CategoryUsage || d.AlertTitle != a.Title {
		t.Errorf("unexpected event details %+v", d)
	}

	r := waitEmail(t, done)
	if r.err != nil {
		t.Fatalf("email: %v", r.err)
	}
	calls := sender.Calls()
	if len(calls) != 1 || calls[0].To != c.Email {
		t.Fatalf("expected one email to %s, got %+v", c.Email, calls)
	}
	if calls[0].Subject != "[CRITICAL] Report Limit Reached" {
		t.Errorf("unexpected subject %q", calls[0].Subject)
	}
	if !strings.Contains(calls[0].Body, "Hello Dr. Vega") || !strings.Contains(calls[0].Body, a.Message) {
		t.Errorf("unexpected body %q", calls[0].Body)
	}
}

func TestAlertNotifier_WarningToastDuration(t *testing.T) {
	n, pub, _, done := newTestNotifier(&notification.MockEmailSender{})
	c := activeClinic(8, 10)
	a := NewAlert(NewEvaluator(DefaultThresholds()).Evaluate(c, testNow).Candidates[0], testNow)

	n.Notify(context.Background(), a, c, true)
	waitEmail(t, done)

	var toast websocket.Toast
	json.Unmarshal(pub.events[0].Data, &toast)
	if toast.Duration != 6000 {
		t.Errorf("expected 6000ms warning toast, got %d", toast.Duration)
	}
}

func TestAlertNotifier_MergeIsSilent(t *testing.T) {
	sender := &notification.MockEmailSender{}
	n, pub, events, _ := newTestNotifier(sender)
	c := activeClinic(10, 10)
	a := NewAlert(usageCandidate(c.ID, TypeCritical, "m"), testNow)

	if err := n.Notify(context.Background(), a, c, false); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	logged, _ := events.ListByClinic(context.Background(), c.ID, 0)
	if pub.count() != 0 || len(logged) != 0 {
		t.Error("merged alert must not be announced")
	}
	time.Sleep(20 * time.Millisecond)
	if len(sender.Calls()) != 0 {
		t.Error("merged alert must not be emailed")
	}
}

func TestAlertNotifier_EmailFailureIsNotPropagated(t *testing.T) {
	sender := &notification.MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	n, _, events, done := newTestNotifier(sender)
	c := activeClinic(10, 10)
	a := NewAlert(usageCandidate(c.ID, TypeCritical, "m"), testNow)

	if err := n.Notify(context.Background(), a, c, true); err != nil {
		t.Fatalf("email failure must not fail Notify: %v", err)
	}
	r := waitEmail(t, done)
	if r.err == nil {
		t.Fatal("expected the email attempt to fail")
	}
	if r.n == nil || r.n.Status != notification.StatusFailed {
		t.Errorf("expected failed notification in outbox, got %+v", r.n)
	}
	logged, _ := events.ListByClinic(context.Background(), c.ID, 0)
	if len(logged) != 1 {
		t.Error("alert_created must still be recorded")
	}
}

func TestAlertNotifier_NoEmailWithoutRecipient(t *testing.T) {
	sender := &notification.MockEmailSender{}
	n, pub, _, _ := newTestNotifier(sender)
	c := activeClinic(10, 10)
	c.Email = ""

	n.Notify(context.Background(), NewAlert(usageCandidate(c.ID, TypeCritical, "m"), testNow), c, true)
	time.Sleep(20 * time.Millisecond)
	if len(sender.Calls()) != 0 {
		t.Error("clinic without email must not be mailed")
	}
	if pub.count() != 1 {
		t.Error("toast must still be pushed")
	}
}

type failingEvents struct{ MemoryEventRepository }

func (*failingEvents) Append(context.Context, *UsageEvent) error {
	return errors.New("log unavailable")
}

func TestAlertNotifier_EventFailureReturned(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewAlertNotifier(&failingEvents{}, pub, nil, zerolog.Nop())
	c := activeClinic(10, 10)

	err := n.Notify(context.Background(), NewAlert(usageCandidate(c.ID, TypeCritical, "m"), testNow), c, true)
	if err == nil {
		t.Fatal("expected event append error")
	}
	if pub.count() != 1 {
		t.Error("toast must be pushed even when the event log fails")
	}
}

func TestToastDuration(t *testing.T) {
	if ToastDuration(TypeCritical) != 8*time.Second || ToastDuration(TypeWarning) != 6*time.Second {
		t.Error("unexpected toast durations")
	}
}
