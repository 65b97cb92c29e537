package models

import (
	"sort"
	"strings"
	"time"

	"github.com/little-brother/lbclient/internal/format"
)

// UserStatus is the live activity summary of one monitored user.
type UserStatus struct {
	UserID                             int                 `json:"user_id,omitempty"`
	Username                           string              `json:"username,omitempty"`
	FullName                           string              `json:"full_name,omitempty"`
	ContextLabel                       string              `json:"context_label,omitempty"`
	TodaysActivityDurationInSeconds    *int                `json:"todays_activity_duration_in_seconds,omitempty"`
	MaxTimePerDayInSeconds             *int                `json:"max_time_per_day_in_seconds,omitempty"`
	TodaysDowntimeInSeconds            *int                `json:"todays_downtime_in_seconds,omitempty"`
	FreePlay                           bool                `json:"free_play,omitempty"`
	ActivityPermitted                  bool                `json:"activity_permitted,omitempty"`
	PreviousActivityStartTimeInISO8601 string              `json:"previous_activity_start_time_in_iso_8601,omitempty"`
	PreviousActivityEndTimeInISO8601   string              `json:"previous_activity_end_time_in_iso_8601,omitempty"`
	CurrentActivityStartTimeInISO8601  string              `json:"current_activity_start_time_in_iso_8601,omitempty"`
	CurrentActivityDurationInSeconds   *int                `json:"current_activity_duration_in_seconds,omitempty"`
	CurrentActivityDowntimeInSeconds   *int                `json:"current_activity_downtime_in_seconds,omitempty"`
	Reasons                            []string            `json:"reasons,omitempty"`
	UserStatusDetails                  []*UserStatusDetail `json:"user_status_details,omitempty"`
}

// TodaysActivityDuration renders today's activity, "-" when unknown.
func (s *UserStatus) TodaysActivityDuration() string {
	return format.Duration(s.TodaysActivityDurationInSeconds, true, false)
}

// TodaysDowntime renders today's downtime.
func (s *UserStatus) TodaysDowntime() string {
	return format.Duration(s.TodaysDowntimeInSeconds, true, false)
}

// MaxTimePerDay renders the daily limit.
func (s *UserStatus) MaxTimePerDay() string {
	return format.Duration(s.MaxTimePerDayInSeconds, true, false)
}

// CurrentActivityDuration renders the running activity.
func (s *UserStatus) CurrentActivityDuration() string {
	return format.Duration(s.CurrentActivityDurationInSeconds, true, false)
}

// CurrentActivityDowntime renders the downtime of the running activity.
func (s *UserStatus) CurrentActivityDowntime() string {
	return format.Duration(s.CurrentActivityDowntimeInSeconds, true, false)
}

// CurrentActivityStartTime parses the start of the running activity; zero
// when absent.
func (s *UserStatus) CurrentActivityStartTime() time.Time {
	t, _ := format.ParseISO(s.CurrentActivityStartTimeInISO8601)
	return t
}

// PreviousActivityStartTime parses the start of the last finished activity.
func (s *UserStatus) PreviousActivityStartTime() time.Time {
	t, _ := format.ParseISO(s.PreviousActivityStartTimeInISO8601)
	return t
}

// PreviousActivityEndTime parses the end of the last finished activity.
func (s *UserStatus) PreviousActivityEndTime() time.Time {
	t, _ := format.ParseISO(s.PreviousActivityEndTimeInISO8601)
	return t
}

// HasDowntime reports whether the user accumulated any downtime today.
func (s *UserStatus) HasDowntime() bool {
	return s != nil && s.TodaysDowntimeInSeconds != nil && *s.TodaysDowntimeInSeconds != 0
}

// SortByFullName orders statuses by full name, missing names first.
func SortByFullName(statuses []*UserStatus) {
	sort.SliceStable(statuses, func(i, j int) bool {
		return strings.Compare(statuses[i].FullName, statuses[j].FullName) < 0
	})
}

// AnyDowntime reports whether any status has downtime.
func AnyDowntime(statuses []*UserStatus) bool {
	for _, s := range statuses {
		if s.HasDowntime() {
			return true
		}
	}
	return false
}

// UserStatusDetail is one row of a user's activity history. Rows nest: a day
// row carries the individual activity rows.
type UserStatusDetail struct {
	HistoryLabel      string              `json:"history_label,omitempty"`
	DurationInSeconds *int                `json:"duration_in_seconds,omitempty"`
	DowntimeInSeconds *int                `json:"downtime_in_seconds,omitempty"`
	MinTimeInISO8601  string              `json:"min_time_in_iso_8601,omitempty"`
	MaxTimeInISO8601  string              `json:"max_time_in_iso_8601,omitempty"`
	HostInfos         string              `json:"host_infos,omitempty"`
	UserStatusDetails []*UserStatusDetail `json:"user_status_details,omitempty"`
}

// Duration renders the row's activity time.
func (d *UserStatusDetail) Duration() string {
	return format.Duration(d.DurationInSeconds, true, false)
}

// Downtime renders an empty string instead of a dash when there is none.
func (d *UserStatusDetail) Downtime() string {
	return format.Duration(d.DowntimeInSeconds, false, false)
}

// MinTime parses the start of the row.
func (d *UserStatusDetail) MinTime() time.Time {
	t, _ := format.ParseISO(d.MinTimeInISO8601)
	return t
}

// MaxTime parses the end of the row.
func (d *UserStatusDetail) MaxTime() time.Time {
	t, _ := format.ParseISO(d.MaxTimeInISO8601)
	return t
}
