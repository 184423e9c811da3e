package app

import (
	"context"
	"fmt"
	"time"

	"legal_agenda/internal/domain/appointment"
)

// SchedulingPolicy holds the rules layered on top of raw overlap detection.
type SchedulingPolicy struct {
	BusinessStartHour int // inclusive
	BusinessEndHour   int // exclusive
	WeekendBlocked    map[appointment.Type]bool
	Location          *time.Location // zone the hours are expressed in
}

// DefaultSchedulingPolicy allows starts from 08:00 to 17:59 and blocks
// hearings on weekends.
func DefaultSchedulingPolicy(loc *time.Location) SchedulingPolicy {
	return SchedulingPolicy{
		BusinessStartHour: 8,
		BusinessEndHour:   18,
		WeekendBlocked:    map[appointment.Type]bool{appointment.TypeHearing: true},
		Location:          loc,
	}
}

// Check returns a *appointment.PolicyError when start violates the business
// hours window or falls on a weekend for a blocked type.
func (p SchedulingPolicy) Check(t appointment.Type, start time.Time) error {
	local := start
	if p.Location != nil {
		local = start.In(p.Location)
	}
	if h := local.Hour(); h < p.BusinessStartHour || h >= p.BusinessEndHour {
		return &appointment.PolicyError{
			Rule:    appointment.RuleBusinessHours,
			Message: fmt.Sprintf("start %s is outside business hours %02d:00-%02d:00", local.Format("15:04"), p.BusinessStartHour, p.BusinessEndHour),
		}
	}
	if wd := local.Weekday(); (wd == time.Saturday || wd == time.Sunday) && p.WeekendBlocked[t] {
		return &appointment.PolicyError{
			Rule:    appointment.RuleWeekend,
			Message: fmt.Sprintf("%s appointments cannot be scheduled on %s", t, wd),
		}
	}
	return nil
}

// ConflictResult lists the appointments overlapping a candidate range.
type ConflictResult struct {
	Conflict       bool
	ConflictingIDs []string
}

// Err converts a positive result into *appointment.ConflictError.
func (r ConflictResult) Err() error {
	if !r.Conflict {
		return nil
	}
	return &appointment.ConflictError{ConflictingIDs: r.ConflictingIDs, Reason: "time range overlaps existing appointment"}
}

// ConflictDetector checks candidate ranges against the responsible party's agenda.
type ConflictDetector struct {
	repo appointment.Repository
}

func NewConflictDetector(repo appointment.Repository) *ConflictDetector {
	return &ConflictDetector{repo: repo}
}

// Check scans non-canceled, non-rejected appointments of responsibleID,
// skipping excludeID, and reports those overlapping r.
func (d *ConflictDetector) Check(ctx context.Context, r appointment.Range, responsibleID, excludeID string) (ConflictResult, error) {
	candidates, err := d.repo.ListOverlapping(ctx, responsibleID, r, excludeID)
	if err != nil {
		return ConflictResult{}, fmt.Errorf("failed to list appointments for conflict check: %w", err)
	}
	var res ConflictResult
	for _, a := range candidates {
		// the store query is a prefilter; the decision is made here
		if a.ID == excludeID || a.Status.Terminal() {
			continue
		}
		if r.Overlaps(a.Range()) {
			res.ConflictingIDs = append(res.ConflictingIDs, a.ID)
		}
	}
	res.Conflict = len(res.ConflictingIDs) > 0
	return res, nil
}
