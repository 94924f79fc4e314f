package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/neurosense360/console/internal/domain/clinic"
	"github.com/neurosense360/console/internal/platform/notification"
	"github.com/neurosense360/console/internal/platform/websocket"
)

const (
	CriticalToastDuration = 8 * time.Second
	WarningToastDuration  = 6 * time.Second
	DefaultEmailTimeout   = 10 * time.Second

	toastSeverity = "error"
)

// Notifier is told about every reconciled alert. isNew is false for merges.
type Notifier interface {
	Notify(ctx context.Context, a *Alert, c *clinic.Clinic, isNew bool) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *Alert, *clinic.Clinic, bool) error { return nil }

// AlertNotifier records the creation event, pushes a toast to connected
// consoles and emails the clinic contact. Only new alerts are announced.
type AlertNotifier struct {
	events       EventRepository
	publisher    websocket.EventPublisher
	outbox       *notification.Outbox
	emailTimeout time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	// sent, when set, is called after each email attempt.
	sent func(*notification.Notification, error)
}

// NewAlertNotifier builds a notifier. publisher and outbox may be nil to
// disable the push channel or email.
func NewAlertNotifier(events EventRepository, publisher websocket.EventPublisher, outbox *notification.Outbox, logger zerolog.Logger) *AlertNotifier {
	return &AlertNotifier{
		events:       events,
		publisher:    publisher,
		outbox:       outbox,
		emailTimeout: DefaultEmailTimeout,
		logger:       logger.With().Str("component", "alert-notifier").Logger(),
		now:          time.Now,
	}
}

func (n *AlertNotifier) SetEmailTimeout(d time.Duration) {
	if d > 0 {
		n.emailTimeout = d
	}
}

func (n *AlertNotifier) Notify(ctx context.Context, a *Alert, c *clinic.Clinic, isNew bool) error {
	if !isNew {
		return nil
	}
	now := n.now().UTC()

	var err error
	if n.events != nil {
		if appendErr := n.events.Append(ctx, NewEvent(a, EventAlertCreated, now)); appendErr != nil {
			err = fmt.Errorf("record alert_created: %w", appendErr)
		}
	}

	n.push(ctx, a, now)
	n.email(a, c)
	return err
}

// ToastDuration returns how long the console shows a notice for t.
func ToastDuration(t Type) time.Duration {
	if t == TypeCritical {
		return CriticalToastDuration
	}
	return WarningToastDuration
}

func (n *AlertNotifier) push(ctx context.Context, a *Alert, now time.Time) {
	if n.publisher == nil {
		return
	}
	toast, err := websocket.NewToast(a.Title, a.Message, toastSeverity, ToastDuration(a.Type)).WithPayload(a)
	if err != nil {
		n.logger.Warn().Err(err).Msg("build alert toast")
		return
	}
	ev, err := toast.Event(websocket.TopicAlerts, now)
	if err != nil {
		n.logger.Warn().Err(err).Msg("build alert toast")
		return
	}
	topics := []string{websocket.TopicAlerts, websocket.ClinicTopic(a.ClinicID.String())}
	if err := n.publisher.Publish(ctx, ev, topics...); err != nil {
		n.logger.Warn().Err(err).Str("alert_id", a.ID.String()).Msg("publish alert toast")
	}
}

// email sends on a detached context so a finished pass does not cancel
// delivery. Failures are logged only.
func (n *AlertNotifier) email(a *Alert, c *clinic.Clinic) {
	if n.outbox == nil || c == nil || strings.TrimSpace(c.Email) == "" {
		return
	}
	data := map[string]string{
		"severity":       strings.ToUpper(string(a.Type)),
		"title":          a.Title,
		"message":        a.Message,
		"action":         string(a.Action),
		"contact_person": c.ContactPerson,
		"clinic_name":    c.Name,
	}
	recipient := c.Email
	alertID := a.ID.String()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.emailTimeout)
		defer cancel()

		sent, err := n.outbox.SendFromTemplate(ctx, notification.TemplateAlertEmail, data, recipient)
		if err != nil {
			n.logger.Warn().Err(err).Str("alert_id", alertID).Str("recipient", recipient).Msg("alert email failed")
		}
		if n.sent != nil {
			n.sent(sent, err)
		}
	}()
}
