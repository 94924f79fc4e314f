// Package notification provides the console's email outbox: template
// rendering, pluggable senders, in-memory history with retry, and Echo HTTP
// handlers for inspecting what was sent.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// ---------------------------------------------------------------------------
// Notification
// ---------------------------------------------------------------------------

// Notification represents a single outbound email.
type Notification struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

func (n *Notification) clone() *Notification {
	cp := *n
	if n.SentAt != nil {
		t := *n.SentAt
		cp.SentAt = &t
	}
	if n.TemplateData != nil {
		cp.TemplateData = make(map[string]string, len(n.TemplateData))
		for k, v := range n.TemplateData {
			cp.TemplateData[k] = v
		}
	}
	return &cp
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// LogEmailSender stands in for a mail relay: it waits for the configured
// delay and logs the message instead of delivering it.
type LogEmailSender struct {
	logger zerolog.Logger
	from   string
	delay  time.Duration
}

func NewLogEmailSender(logger zerolog.Logger, from string, delay time.Duration) *LogEmailSender {
	return &LogEmailSender{
		logger: logger.With().Str("component", "email").Logger(),
		from:   from,
		delay:  delay,
	}
}

func (s *LogEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return errors.New("email recipient is empty")
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	s.logger.Info().
		Str("from", s.from).
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("email sent")
	return nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

const TemplateAlertEmail = "alert-email"

// Template defines a reusable email template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages email templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.RegisterTemplate(Template{
		ID:      TemplateAlertEmail,
		Name:    "Clinic Alert",
		Subject: "[{{severity}}] {{title}}",
		Body: "Hello {{contact_person}},\n\n{{message}}\n\n" +
			"Recommended action: {{action}}\n\nNeuroSense360 Console",
	})
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Outbox
// ---------------------------------------------------------------------------

var ErrNotFound = errors.New("notification not found")

// Outbox sends emails and keeps a bounded, in-memory history of every
// attempt.
type Outbox struct {
	sender    EmailSender
	templates *TemplateEngine
	limit     int

	mu            sync.RWMutex
	notifications map[string]*Notification
	order         []string
}

// DefaultHistoryLimit bounds the number of notifications an Outbox retains.
const DefaultHistoryLimit = 1000

func NewOutbox(sender EmailSender, tpl *TemplateEngine) *Outbox {
	return &Outbox{
		sender:        sender,
		templates:     tpl,
		limit:         DefaultHistoryLimit,
		notifications: make(map[string]*Notification),
	}
}

func (o *Outbox) store(n *Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.notifications[n.ID]; !ok {
		o.order = append(o.order, n.ID)
	}
	o.notifications[n.ID] = n.clone()
	for len(o.order) > o.limit {
		delete(o.notifications, o.order[0])
		o.order = o.order[1:]
	}
}

func (o *Outbox) deliver(ctx context.Context, n *Notification) error {
	n.Attempts++
	err := o.sender.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
	} else {
		n.Status = StatusSent
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
		n.Error = ""
	}
	o.store(n)
	return err
}

// Send delivers n, assigns an ID and timestamps, and records the result.
func (o *Outbox) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = StatusPending
	o.store(n)
	return o.deliver(ctx, n)
}

// SendFromTemplate renders a template and sends the resulting email. The
// notification is returned even when delivery fails.
func (o *Outbox) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	subject, body, err := o.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	if err := o.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// Get retrieves a notification by ID.
func (o *Outbox) Get(_ context.Context, id string) (*Notification, error) {
	o.mu.RLock()
	n, ok := o.notifications[id]
	o.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return n.clone(), nil
}

// List returns notifications newest first, optionally filtered by
// recipient, up to limit.
func (o *Outbox) List(_ context.Context, recipient string, limit int) []*Notification {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var result []*Notification
	for i := len(o.order) - 1; i >= 0; i-- {
		n := o.notifications[o.order[i]]
		if recipient != "" && !strings.EqualFold(n.Recipient, recipient) {
			continue
		}
		result = append(result, n.clone())
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

// Retry re-sends a failed notification.
func (o *Outbox) Retry(ctx context.Context, id string) (*Notification, error) {
	n, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != StatusFailed {
		return nil, fmt.Errorf("notification %q is not in failed status (current: %s)", id, n.Status)
	}
	err = o.deliver(ctx, n)
	return n, err
}

// Stats returns counts of notifications grouped by status.
func (o *Outbox) Stats(_ context.Context) map[string]int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range o.notifications {
		stats[n.Status]++
	}
	return stats
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes the outbox over HTTP via Echo.
type Handler struct {
	outbox *Outbox
}

func NewHandler(o *Outbox) *Handler {
	return &Handler{outbox: o}
}

// RegisterRoutes registers the outbox routes on the given Echo group with
// the supplied access control middleware.
func (h *Handler) RegisterRoutes(g *echo.Group, m ...echo.MiddlewareFunc) {
	g.GET("/notifications", h.HandleList, m...)
	g.GET("/notifications/stats", h.HandleStats, m...)
	g.GET("/notifications/:id", h.HandleGet, m...)
	g.POST("/notifications/:id/retry", h.HandleRetry, m...)
}

// HandleList handles GET /notifications?recipient=...
func (h *Handler) HandleList(c echo.Context) error {
	list := h.outbox.List(c.Request().Context(), c.QueryParam("recipient"), 100)
	return c.JSON(http.StatusOK, list)
}

// HandleGet handles GET /notifications/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	n, err := h.outbox.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

// HandleRetry handles POST /notifications/:id/retry.
func (h *Handler) HandleRetry(c echo.Context) error {
	n, err := h.outbox.Retry(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if n == nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

// HandleStats handles GET /notifications/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.outbox.Stats(c.Request().Context()))
}
