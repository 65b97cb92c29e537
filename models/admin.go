package models

import (
	"time"

	"github.com/little-brother/lbclient/internal/format"
)

// UserAdmin is the administration view of one user: today's status, the
// upcoming days with their rule sets, and the offered time extensions.
type UserAdmin struct {
	UserID               int                `json:"user_id,omitempty"`
	Username             string             `json:"username,omitempty"`
	FullName             string             `json:"full_name,omitempty"`
	UserStatus           *UserStatus        `json:"user_status,omitempty"`
	UserAdminDetails     []*UserAdminDetail `json:"user_admin_details,omitempty"`
	TimeExtensionPeriods []int              `json:"time_extension_periods,omitempty"`
	MaxLookaheadInDays   int                `json:"max_lookahead_in_days,omitempty"`
}

// UserAdminDetail describes one calendar day of a user's schedule.
type UserAdminDetail struct {
	DateInISO8601    string   `json:"date_in_iso_8601,omitempty"`
	LongFormat       string   `json:"long_format,omitempty"`
	ShortFormat      string   `json:"short_format,omitempty"`
	RuleSet          *RuleSet `json:"rule_set,omitempty"`
	Override         *RuleSet `json:"override,omitempty"`
	EffectiveRuleSet *RuleSet `json:"effective_rule_set,omitempty"`
}

// Date returns the day this detail describes.
func (d *UserAdminDetail) Date() time.Time {
	t, _ := format.ParseISO(d.DateInISO8601)
	return t
}

// DateShort renders the day as an abbreviated weekday.
func (d *UserAdminDetail) DateShort() string {
	t := d.Date()
	if t.IsZero() {
		return format.Dash
	}
	return t.Format("Mon")
}

// DateLong renders the day with weekday and date.
func (d *UserAdminDetail) DateLong() string {
	t := d.Date()
	if t.IsZero() {
		return format.Dash
	}
	return t.Format("Monday, 02.01.2006")
}

// RuleSet is a time budget: allowed window, daily maximum, breaks.
// Unset fields are omitted on the wire so an override only carries what it
// changes.
type RuleSet struct {
	ReferenceDateInISO8601       string `json:"reference_date_in_iso_8601,omitempty"`
	Label                        string `json:"label,omitempty"`
	MinTimeOfDayInISO8601        string `json:"min_time_of_day_in_iso_8601,omitempty"`
	MaxTimeOfDayInISO8601        string `json:"max_time_of_day_in_iso_8601,omitempty"`
	MaxTimePerDayInSeconds       *int   `json:"max_time_per_day_in_seconds,omitempty"`
	MinBreakInSeconds            *int   `json:"min_break_in_seconds,omitempty"`
	MaxActivityDurationInSeconds *int   `json:"max_activity_duration_in_seconds,omitempty"`
	FreePlay                     *bool  `json:"free_play,omitempty"`
}

// MinTimeOfDay parses the start of the allowed window.
func (r *RuleSet) MinTimeOfDay() time.Time {
	t, _ := format.ParseISO(r.MinTimeOfDayInISO8601)
	return t
}

// MaxTimeOfDay parses the end of the allowed window.
func (r *RuleSet) MaxTimeOfDay() time.Time {
	t, _ := format.ParseISO(r.MaxTimeOfDayInISO8601)
	return t
}

// MinTimeOfDayString renders the start of the allowed window as "HH:mm".
func (r *RuleSet) MinTimeOfDayString() string {
	return format.DateString(r.MinTimeOfDay(), false)
}

// MaxTimeOfDayString renders the end of the allowed window as "HH:mm".
func (r *RuleSet) MaxTimeOfDayString() string {
	return format.DateString(r.MaxTimeOfDay(), false)
}

// MaxTimePerDay renders the daily limit.
func (r *RuleSet) MaxTimePerDay() string {
	return format.Duration(r.MaxTimePerDayInSeconds, true, false)
}

// MinBreak renders the minimum break between activities.
func (r *RuleSet) MinBreak() string {
	return format.Duration(r.MinBreakInSeconds, true, false)
}

// MaxActivityDuration renders the longest allowed single activity.
func (r *RuleSet) MaxActivityDuration() string {
	return format.Duration(r.MaxActivityDurationInSeconds, true, false)
}

// RuleSetInput is the form representation of a rule set: times as "HH:MM",
// durations as "1h30m", "-" for unset.
type RuleSetInput struct {
	MinTimeOfDay        string
	MaxTimeOfDay        string
	MaxTimePerDay       string
	MinBreak            string
	MaxActivityDuration string
	FreePlay            *bool
}

// ParseRuleSetInput converts form input into a RuleSet for an override.
func ParseRuleSetInput(in RuleSetInput) (*RuleSet, error) {
	out := &RuleSet{FreePlay: in.FreePlay}
	if iso, ok := format.TimeOfDayISO(in.MinTimeOfDay); ok {
		out.MinTimeOfDayInISO8601 = iso
	}
	if iso, ok := format.TimeOfDayISO(in.MaxTimeOfDay); ok {
		out.MaxTimeOfDayInISO8601 = iso
	}
	fields := []struct {
		raw string
		dst **int
	}{
		{in.MaxTimePerDay, &out.MaxTimePerDayInSeconds},
		{in.MinBreak, &out.MinBreakInSeconds},
		{in.MaxActivityDuration, &out.MaxActivityDurationInSeconds},
	}
	for _, f := range fields {
		secs, ok, err := format.ParseDuration(f.raw)
		if err != nil {
			return nil, err
		}
		if ok {
			v := secs
			*f.dst = &v
		}
	}
	return out, nil
}
