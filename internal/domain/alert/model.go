package alert

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("alert not found")
	ErrPassInProgress = errors.New("alert pass already in progress")
)

type Type string

const (
	TypeWarning  Type = "warning"
	TypeCritical Type = "critical"
)

func (t Type) Valid() bool {
	return t == TypeWarning || t == TypeCritical
}

type Category string

const (
	CategoryUsage Category = "usage"
	CategoryTrial Category = "trial"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

type Action string

const (
	ActionPurchaseReports     Action = "purchase_reports"
	ActionConsiderPurchase    Action = "consider_purchase"
	ActionUpgradeSubscription Action = "upgrade_subscription"
	ActionNone                Action = "none"
)

// Data is the category-specific payload carried by an alert. Only the fields
// relevant to the alert's category are set.
type Data struct {
	ReportsUsed    *int       `json:"reports_used,omitempty"`
	ReportsAllowed *int       `json:"reports_allowed,omitempty"`
	Percentage     *int       `json:"percentage,omitempty"`
	TrialEndDate   *time.Time `json:"trial_end_date,omitempty"`
	DaysLeft       *int       `json:"days_left,omitempty"`
	DaysExpired    *int       `json:"days_expired,omitempty"`
}

// Candidate is a proposed alert produced by the evaluator, before
// deduplication.
type Candidate struct {
	ClinicID uuid.UUID
	Type     Type
	Category Category
	Title    string
	Message  string
	Action   Action
	Data     Data
}

// Key returns the deduplication key of the candidate.
func (c Candidate) Key() string {
	return Key(c.ClinicID, c.Category, c.Type)
}

// Alert maps to the alert table.
type Alert struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Key            string     `db:"alert_key" json:"key"`
	ClinicID       uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	Type           Type       `db:"type" json:"type"`
	Category       Category   `db:"category" json:"category"`
	Title          string     `db:"title" json:"title"`
	Message        string     `db:"message" json:"message"`
	Action         Action     `db:"action" json:"action"`
	Data           Data       `db:"data" json:"data"`
	Status         Status     `db:"status" json:"status"`
	Acknowledged   bool       `db:"acknowledged" json:"acknowledged"`
	Count          int        `db:"count" json:"count"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IsActive reports whether the alert is still open.
func (a *Alert) IsActive() bool {
	return a.Status == StatusActive
}

// NewAlert builds a fresh active alert from a candidate.
func NewAlert(c Candidate, now time.Time) *Alert {
	return &Alert{
		ID:        uuid.New(),
		Key:       c.Key(),
		ClinicID:  c.ClinicID,
		Type:      c.Type,
		Category:  c.Category,
		Title:     c.Title,
		Message:   c.Message,
		Action:    c.Action,
		Data:      c.Data,
		Status:    StatusActive,
		Count:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Merge folds a repeated candidate into an existing alert. Identity, status,
// acknowledgement and creation time are kept.
func (a *Alert) Merge(c Candidate, now time.Time) {
	a.Title = c.Title
	a.Message = c.Message
	a.Action = c.Action
	a.Data = c.Data
	a.UpdatedAt = now
	if a.Count < 1 {
		a.Count = 1
	}
	a.Count++
}

func (a *Alert) clone() *Alert {
	cp := *a
	cp.Data = a.Data.clone()
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

func (d Data) clone() Data {
	cp := Data{
		ReportsUsed:    copyInt(d.ReportsUsed),
		ReportsAllowed: copyInt(d.ReportsAllowed),
		Percentage:     copyInt(d.Percentage),
		DaysLeft:       copyInt(d.DaysLeft),
		DaysExpired:    copyInt(d.DaysExpired),
	}
	if d.TrialEndDate != nil {
		t := *d.TrialEndDate
		cp.TrialEndDate = &t
	}
	return cp
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func intPtr(v int) *int {
	return &v
}

// Key builds the deterministic lookup key <clinicID>_<category>_<type>.
func Key(clinicID uuid.UUID, category Category, typ Type) string {
	return fmt.Sprintf("%s_%s_%s", clinicID, category, typ)
}

type EventAction string

const (
	EventAlertCreated      EventAction = "alert_created"
	EventAlertAcknowledged EventAction = "alert_acknowledged"
	EventAlertDismissed    EventAction = "alert_dismissed"
)

type EventDetails struct {
	AlertID       uuid.UUID `json:"alert_id"`
	AlertType     Type      `json:"alert_type"`
	AlertCategory Category  `json:"alert_category"`
	AlertTitle    string    `json:"alert_title,omitempty"`
}

// UsageEvent is an append-only audit record of alert activity.
type UsageEvent struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	ClinicID  uuid.UUID    `db:"clinic_id" json:"clinic_id"`
	Action    EventAction  `db:"action" json:"action"`
	Details   EventDetails `db:"details" json:"details"`
	Timestamp time.Time    `db:"created_at" json:"timestamp"`
}

// NewEvent records action taken on a.
func NewEvent(a *Alert, action EventAction, at time.Time) *UsageEvent {
	ev := &UsageEvent{
		ID:       uuid.New(),
		ClinicID: a.ClinicID,
		Action:   action,
		Details: EventDetails{
			AlertID:       a.ID,
			AlertType:     a.Type,
			AlertCategory: a.Category,
		},
		Timestamp: at,
	}
	if action == EventAlertCreated {
		ev.Details.AlertTitle = a.Title
	}
	return ev
}

// Stats summarizes stored alerts. Critical, Warning and ByCategory count
// active alerts only.
type Stats struct {
	Total      int              `json:"total"`
	Active     int              `json:"active"`
	Critical   int              `json:"critical"`
	Warning    int              `json:"warning"`
	ByCategory map[Category]int `json:"by_category"`
}

// ComputeStats tallies alerts.
func ComputeStats(alerts []*Alert) Stats {
	s := Stats{Total: len(alerts), ByCategory: map[Category]int{}}
	for _, a := range alerts {
		if !a.IsActive() {
			continue
		}
		s.Active++
		switch a.Type {
		case TypeCritical:
			s.Critical++
		case TypeWarning:
			s.Warning++
		}
		s.ByCategory[a.Category]++
	}
	return s
}
