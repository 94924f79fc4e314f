package alert

import (
	"fmt"
	"math"
	"time"

	"github.com/neurosense360/console/internal/domain/clinic"
)

const day = 24 * time.Hour

// Thresholds controls when the evaluator raises alerts.
type Thresholds struct {
	WarningRatio          float64
	CriticalRatio         float64
	TrialWarningDays      int
	DefaultReportsAllowed int
}

// DefaultThresholds returns the console defaults: warn at 80% usage, go
// critical at 100%, and warn seven days before a trial ends.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningRatio:          0.8,
		CriticalRatio:         1.0,
		TrialWarningDays:      7,
		DefaultReportsAllowed: clinic.DefaultReportsAllowed,
	}
}

// Evaluation is the outcome of evaluating one clinic. ExpireTrial instructs
// the caller to move the clinic to expired and deactivate it.
type Evaluation struct {
	Candidates  []Candidate
	ExpireTrial bool
}

// Evaluator turns a clinic snapshot into alert candidates. It performs no
// I/O.
type Evaluator struct {
	th Thresholds
}

func NewEvaluator(th Thresholds) *Evaluator {
	def := DefaultThresholds()
	if th.WarningRatio <= 0 {
		th.WarningRatio = def.WarningRatio
	}
	if th.CriticalRatio <= 0 {
		th.CriticalRatio = def.CriticalRatio
	}
	if th.TrialWarningDays < 0 {
		th.TrialWarningDays = def.TrialWarningDays
	}
	if th.DefaultReportsAllowed <= 0 {
		th.DefaultReportsAllowed = def.DefaultReportsAllowed
	}
	return &Evaluator{th: th}
}

func (e *Evaluator) Thresholds() Thresholds {
	return e.th
}

// Evaluate checks usage and trial state independently; a clinic may yield
// both a usage and a trial candidate.
func (e *Evaluator) Evaluate(c *clinic.Clinic, now time.Time) Evaluation {
	var ev Evaluation
	if cand, ok := e.usage(c); ok {
		ev.Candidates = append(ev.Candidates, cand)
	}
	if cand, expire, ok := e.trial(c, now); ok {
		ev.Candidates = append(ev.Candidates, cand)
		ev.ExpireTrial = expire
	}
	return ev
}

func (e *Evaluator) usage(c *clinic.Clinic) (Candidate, bool) {
	allowed := c.EffectiveReportsAllowed(e.th.DefaultReportsAllowed)
	used := c.ReportsUsed
	if used < 0 {
		used = 0
	}
	ratio := c.UsageRatio(e.th.DefaultReportsAllowed)

	switch {
	case ratio >= e.th.CriticalRatio:
		return Candidate{
			ClinicID: c.ID,
			Type:     TypeCritical,
			Category: CategoryUsage,
			Title:    "Report Limit Reached",
			Message:  fmt.Sprintf("Clinic %s has used all %d allocated reports.", c.Name, allowed),
			Action:   ActionPurchaseReports,
			Data: Data{
				ReportsUsed:    intPtr(used),
				ReportsAllowed: intPtr(allowed),
			},
		}, true
	case ratio >= e.th.WarningRatio:
		pct := int(math.Round(ratio * 100))
		return Candidate{
			ClinicID: c.ID,
			Type:     TypeWarning,
			Category: CategoryUsage,
			Title:    "Report Limit Warning",
			Message:  fmt.Sprintf("Clinic %s has used %d%% of their allocated reports.", c.Name, pct),
			Action:   ActionConsiderPurchase,
			Data: Data{
				ReportsUsed:    intPtr(used),
				ReportsAllowed: intPtr(allowed),
				Percentage:     intPtr(pct),
			},
		}, true
	}
	return Candidate{}, false
}

func (e *Evaluator) trial(c *clinic.Clinic, now time.Time) (Candidate, bool, bool) {
	if !c.InTrial() {
		return Candidate{}, false, false
	}
	end := c.TrialEndDate.UTC()
	left := DaysLeft(end, now)

	if left <= 0 {
		expired := -left
		return Candidate{
			ClinicID: c.ID,
			Type:     TypeCritical,
			Category: CategoryTrial,
			Title:    "Trial Expired",
			Message:  fmt.Sprintf("Trial period for clinic %s has expired.", c.Name),
			Action:   ActionUpgradeSubscription,
			Data: Data{
				TrialEndDate: &end,
				DaysExpired:  intPtr(expired),
			},
		}, true, true
	}
	if left <= e.th.TrialWarningDays {
		unit := "day"
		if left > 1 {
			unit = "days"
		}
		return Candidate{
			ClinicID: c.ID,
			Type:     TypeWarning,
			Category: CategoryTrial,
			Title:    "Trial Ending Soon",
			Message:  fmt.Sprintf("Trial for clinic %s will expire in %d %s.", c.Name, left, unit),
			Action:   ActionUpgradeSubscription,
			Data: Data{
				TrialEndDate: &end,
				DaysLeft:     intPtr(left),
			},
		}, false, true
	}
	return Candidate{}, false, false
}

// DaysLeft returns the number of whole days until end, rounded up. It is zero
// or negative once end has passed.
func DaysLeft(end, now time.Time) int {
	return int(math.Ceil(float64(end.Sub(now)) / float64(day)))
}
