package clinic

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	StatusTrial   SubscriptionStatus = "trial"
	StatusActive  SubscriptionStatus = "active"
	StatusExpired SubscriptionStatus = "expired"
)

// Valid reports whether s is one of the known subscription states.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusExpired:
		return true
	}
	return false
}

const (
	DefaultReportsAllowed = 10
	DefaultTrialPeriod    = 14 * 24 * time.Hour
)

// Clinic maps to the clinic table. A clinic is one tenant of the console.
type Clinic struct {
	ID                 uuid.UUID          `db:"id" json:"id"`
	Name               string             `db:"name" json:"name"`
	Email              string             `db:"email" json:"email"`
	ContactPerson      string             `db:"contact_person" json:"contact_person"`
	IsActive           bool               `db:"is_active" json:"is_active"`
	ReportsUsed        int                `db:"reports_used" json:"reports_used"`
	ReportsAllowed     int                `db:"reports_allowed" json:"reports_allowed"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	TrialEndDate       *time.Time         `db:"trial_end_date" json:"trial_end_date,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// EffectiveReportsAllowed returns the report quota, substituting def when the
// stored quota is unset or not positive.
func (c *Clinic) EffectiveReportsAllowed(def int) int {
	if c.ReportsAllowed > 0 {
		return c.ReportsAllowed
	}
	if def <= 0 {
		def = DefaultReportsAllowed
	}
	return def
}

// UsageRatio returns reports used divided by the effective quota.
func (c *Clinic) UsageRatio(def int) float64 {
	used := c.ReportsUsed
	if used < 0 {
		used = 0
	}
	return float64(used) / float64(c.EffectiveReportsAllowed(def))
}

// InTrial reports whether the clinic is on a trial with a known end date.
func (c *Clinic) InTrial() bool {
	return c.SubscriptionStatus == StatusTrial && c.TrialEndDate != nil
}

func (c *Clinic) clone() *Clinic {
	cp := *c
	if c.TrialEndDate != nil {
		t := *c.TrialEndDate
		cp.TrialEndDate = &t
	}
	return &cp
}
