package routing

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func (r *Resolver) resolveSchedule(ctx context.Context, w *walk, id string) (Decision, error) {
	s, err := lookup(ctx, "business_hours", r.Config.GetSchedule, id)
	if err != nil {
		return Decision{}, err
	}
	open, err := s.IsOpen(r.Now())
	if err != nil {
		return Decision{}, routingErr(KindInvalidConfig, "business_hours:"+id, err)
	}

	next := s.Closed
	if open {
		next = s.Open
	}
	r.Log.Debug("business hours evaluated", "schedule_id", id, "open", open, "call_id", w.rc.CallID)
	return r.resolveTarget(ctx, w, next)
}

// IsOpen evaluates the schedule at now, converted to the schedule's timezone.
// Date exceptions win over weekly rules.
func (s Schedule) IsOpen(now time.Time) (bool, error) {
	loc := time.UTC
	if s.Timezone != "" {
		l, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return false, fmt.Errorf("timezone %q: %w", s.Timezone, err)
		}
		loc = l
	}
	local := now.In(loc)

	date := local.Format("2006-01-02")
	for _, ex := range s.Exceptions {
		if ex.Date != date {
			continue
		}
		if ex.Closed {
			return false, nil
		}
		if ex.Start == "" && ex.End == "" {
			return true, nil
		}
		return inWindow(local, ex.Start, ex.End), nil
	}

	// The part of an overnight rule after midnight belongs to the day it started.
	day := weekday(local)
	prev := weekday(local.AddDate(0, 0, -1))
	for _, rule := range s.Rules {
		sameDay, spill := windowParts(local, rule.Start, rule.End)
		if sameDay && hasDay(rule.Days, day) {
			return true, nil
		}
		if spill && hasDay(rule.Days, prev) {
			return true, nil
		}
	}
	return false, nil
}

func weekday(t time.Time) string {
	return strings.ToLower(t.Weekday().String()[:3])
}

func hasDay(days []string, day string) bool {
	for _, d := range days {
		d = strings.ToLower(strings.TrimSpace(d))
		if len(d) > 3 {
			d = d[:3]
		}
		if d == day {
			return true
		}
	}
	return false
}

// inWindow reports whether the clock time of local falls in [start, end). A
// window whose end is before its start wraps past midnight.
func inWindow(local time.Time, start, end string) bool {
	sameDay, spill := windowParts(local, start, end)
	return sameDay || spill
}

// windowParts splits the match of [start, end) into the part on the start day
// and, for windows that wrap past midnight, the part on the following day.
func windowParts(local time.Time, start, end string) (sameDay, spill bool) {
	sh, sm, ok := parseHHMM(start)
	if !ok {
		return false, false
	}
	eh, em, ok := parseHHMM(end)
	if !ok {
		return false, false
	}

	now := local.Hour()*60 + local.Minute()
	from := sh*60 + sm
	to := eh*60 + em

	if from > to {
		return now >= from, now < to
	}
	return now >= from && now < to, false
}

func parseHHMM(s string) (int, int, bool) {
	var h, m int
	n, err := fmt.Sscanf(s, "%d:%d", &h, &m)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	if h == 24 && m == 0 {
		return 24, 0, true
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
