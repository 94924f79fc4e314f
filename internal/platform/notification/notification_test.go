package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Template Engine Tests
// ---------------------------------------------------------------------------

func TestTemplateEngine_RegisterAndRender(t *testing.T) {
	eng := NewTemplateEngine()
	eng.RegisterTemplate(Template{
		ID:      "test-tpl",
		Name:    "Test Template",
		Subject: "Hello {{name}}",
		Body:    "Dear {{name}}, your code is {{code}}.",
	})

	subject, body, err := eng.Render("test-tpl", map[string]string{
		"name": "Alice",
		"code": "1234",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Hello Alice" {
		t.Errorf("subject = %q, want %q", subject, "Hello Alice")
	}
	if body != "Dear Alice, your code is 1234." {
		t.Errorf("body = %q, want %q", body, "Dear Alice, your code is 1234.")
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	if _, _, err := eng.Render("nonexistent", nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_AlertEmail(t *testing.T) {
	eng := NewTemplateEngine()
	subject, body, err := eng.Render(TemplateAlertEmail, map[string]string{
		"severity":       "CRITICAL",
		"title":          "Report Limit Reached",
		"contact_person": "Dr. Rao",
		"message":        "Clinic Alpha has used all 10 allocated reports.",
		"action":         "purchase_reports",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "[CRITICAL] Report Limit Reached" {
		t.Errorf("subject = %q", subject)
	}
	if !strings.Contains(body, "Dr. Rao") || !strings.Contains(body, "purchase_reports") {
		t.Errorf("body missing data: %q", body)
	}
}

// ---------------------------------------------------------------------------
// Sender Tests
// ---------------------------------------------------------------------------

func TestLogEmailSender_Send(t *testing.T) {
	s := NewLogEmailSender(zerolog.Nop(), "alerts@test.com", 0)
	if err := s.SendEmail(context.Background(), "a@b.c", "subj", "body"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SendEmail(context.Background(), "", "subj", "body"); err == nil {
		t.Error("expected error for empty recipient")
	}
}

func TestLogEmailSender_RespectsContext(t *testing.T) {
	s := NewLogEmailSender(zerolog.Nop(), "alerts@test.com", time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.SendEmail(ctx, "a@b.c", "subj", "body")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Outbox Tests
// ---------------------------------------------------------------------------

func newTestOutbox() (*Outbox, *MockEmailSender) {
	sender := &MockEmailSender{}
	return NewOutbox(sender, NewTemplateEngine()), sender
}

func TestOutbox_Send(t *testing.T) {
	o, sender := newTestOutbox()
	n := &Notification{Recipient: "a@b.c", Subject: "Hi", Body: "Hello"}

	if err := o.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.ID == "" || n.Status != StatusSent || n.SentAt == nil {
		t.Errorf("unexpected notification state %+v", n)
	}
	if calls := sender.Calls(); len(calls) != 1 || calls[0].To != "a@b.c" {
		t.Errorf("unexpected sender calls %+v", calls)
	}
}

func TestOutbox_SendFailed(t *testing.T) {
	o, sender := newTestOutbox()
	sender.ShouldFail = true
	sender.FailError = "relay down"

	n := &Notification{Recipient: "a@b.c", Body: "x"}
	if err := o.Send(context.Background(), n); err == nil {
		t.Fatal("expected send error")
	}
	got, err := o.Get(context.Background(), n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.Error != "relay down" {
		t.Errorf("expected failed with error, got %s %q", got.Status, got.Error)
	}
}

func TestOutbox_SendFromTemplate(t *testing.T) {
	o, _ := newTestOutbox()
	n, err := o.SendFromTemplate(context.Background(), TemplateAlertEmail, map[string]string{"title": "T"}, "a@b.c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.TemplateID != TemplateAlertEmail || !strings.Contains(n.Subject, "T") {
		t.Errorf("unexpected notification %+v", n)
	}

	if _, err := o.SendFromTemplate(context.Background(), "missing", nil, "a@b.c"); err == nil {
		t.Error("expected error for missing template")
	}
}

func TestOutbox_ListNewestFirst(t *testing.T) {
	o, _ := newTestOutbox()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		o.Send(ctx, &Notification{Recipient: "a@b.c", Subject: fmt.Sprintf("n%d", i)})
	}
	o.Send(ctx, &Notification{Recipient: "other@b.c", Subject: "x"})

	list := o.List(ctx, "A@B.C", 2)
	if len(list) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(list))
	}
	if list[0].Subject != "n2" || list[1].Subject != "n1" {
		t.Errorf("expected newest first, got %s, %s", list[0].Subject, list[1].Subject)
	}
	if all := o.List(ctx, "", 0); len(all) != 4 {
		t.Errorf("expected 4 notifications unfiltered, got %d", len(all))
	}
}

func TestOutbox_HistoryLimit(t *testing.T) {
	o, _ := newTestOutbox()
	o.limit = 2
	ctx := context.Background()
	first := &Notification{Recipient: "a@b.c"}
	o.Send(ctx, first)
	o.Send(ctx, &Notification{Recipient: "a@b.c"})
	o.Send(ctx, &Notification{Recipient: "a@b.c"})

	if _, err := o.Get(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected oldest notification to be evicted, got %v", err)
	}
	if n := len(o.List(ctx, "", 0)); n != 2 {
		t.Errorf("expected 2 retained, got %d", n)
	}
}

func TestOutbox_Retry(t *testing.T) {
	o, sender := newTestOutbox()
	ctx := context.Background()
	sender.ShouldFail = true
	sender.FailError = "boom"
	n := &Notification{Recipient: "a@b.c"}
	o.Send(ctx, n)

	sender.ShouldFail = false
	got, err := o.Retry(ctx, n.ID)
	if err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}
	if got.Status != StatusSent || got.Attempts != 2 {
		t.Errorf("expected sent after 2 attempts, got %s/%d", got.Status, got.Attempts)
	}

	if _, err := o.Retry(ctx, n.ID); err == nil {
		t.Error("expected error retrying a sent notification")
	}
	if _, err := o.Retry(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOutbox_Stats(t *testing.T) {
	o, sender := newTestOutbox()
	ctx := context.Background()
	o.Send(ctx, &Notification{Recipient: "a@b.c"})
	sender.ShouldFail = true
	o.Send(ctx, &Notification{Recipient: "a@b.c"})

	stats := o.Stats(ctx)
	if stats[StatusSent] != 1 || stats[StatusFailed] != 1 {
		t.Errorf("unexpected stats %v", stats)
	}
}

func TestOutbox_ConcurrentSend(t *testing.T) {
	o, sender := newTestOutbox()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Send(context.Background(), &Notification{Recipient: "a@b.c"})
		}()
	}
	wg.Wait()
	if len(sender.Calls()) != 50 {
		t.Errorf("expected 50 sends, got %d", len(sender.Calls()))
	}
	if n := len(o.List(context.Background(), "", 0)); n != 50 {
		t.Errorf("expected 50 stored, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Handler Tests
// ---------------------------------------------------------------------------

func TestHandler_ListAndGet(t *testing.T) {
	o, _ := newTestOutbox()
	n := &Notification{Recipient: "a@b.c", Subject: "hello"}
	o.Send(context.Background(), n)
	h := NewHandler(o)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/notifications?recipient=a@b.c", nil)
	rec := httptest.NewRecorder()
	if err := h.HandleList(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	var list []Notification
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 || list[0].Subject != "hello" {
		t.Errorf("unexpected list %+v", list)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	if err := h.HandleGet(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")
	err := h.HandleGet(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_Retry(t *testing.T) {
	o, sender := newTestOutbox()
	sender.ShouldFail = true
	n := &Notification{Recipient: "a@b.c"}
	o.Send(context.Background(), n)
	sender.ShouldFail = false

	h := NewHandler(o)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	if err := h.HandleRetry(c); err != nil {
		t.Fatal(err)
	}
	var got Notification
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusSent {
		t.Errorf("expected sent after retry, got %s", got.Status)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID)
	err := h.HandleRetry(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 retrying a sent notification, got %v", err)
	}
}
