package fakeserver

import (
	"time"

	"github.com/little-brother/lbclient/models"
)

// Ids of the seeded users.
const (
	AliceID = 1
	BobID   = 2
	CarolID = 3
)

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

// seed fills the canned monitoring data: two configured users and one
// login that is seen on the host but not monitored yet.
func (s *Server) seed() {
	today := s.now().UTC().Truncate(24 * time.Hour)
	iso := func(t time.Time) string { return t.Format("2006-01-02T15:04:05") }

	s.users = map[int]*models.User{
		AliceID: {
			ID: AliceID, Username: "alice", Active: boolPtr(true), Configured: true,
			Locale: "en", FirstName: "Alice", LastName: "Smith", ProcessNamePattern: "minecraft|steam",
		},
		BobID: {
			ID: BobID, Username: "bob", Active: boolPtr(true), Configured: true,
			Locale: "de", ProcessNamePattern: "roblox",
		},
		CarolID: {
			ID: CarolID, Username: "carol",
		},
	}
	s.nextUserID = CarolID + 1

	aliceDetails := []*models.UserStatusDetail{
		{
			HistoryLabel:      today.Format("Mon 02.01."),
			DurationInSeconds: intPtr(3900),
			DowntimeInSeconds: intPtr(300),
			MinTimeInISO8601:  iso(today.Add(14 * time.Hour)),
			MaxTimeInISO8601:  iso(today.Add(15*time.Hour + 5*time.Minute)),
			UserStatusDetails: []*models.UserStatusDetail{
				{
					HistoryLabel:      "minecraft",
					DurationInSeconds: intPtr(3900),
					DowntimeInSeconds: intPtr(300),
					MinTimeInISO8601:  iso(today.Add(14 * time.Hour)),
					MaxTimeInISO8601:  iso(today.Add(15*time.Hour + 5*time.Minute)),
					HostInfos:         "desktop",
				},
			},
		},
	}

	s.statuses = map[int]*models.UserStatus{
		AliceID: {
			UserID: AliceID, Username: "alice", FullName: "Alice Smith", ContextLabel: "default",
			TodaysActivityDurationInSeconds: intPtr(3900), MaxTimePerDayInSeconds: intPtr(7200),
			TodaysDowntimeInSeconds: intPtr(300), ActivityPermitted: true,
			PreviousActivityStartTimeInISO8601: iso(today.Add(14 * time.Hour)),
			PreviousActivityEndTimeInISO8601:   iso(today.Add(15*time.Hour + 5*time.Minute)),
			UserStatusDetails:                  aliceDetails,
		},
		BobID: {
			UserID: BobID, Username: "bob", FullName: "Bob", ContextLabel: "default",
			TodaysActivityDurationInSeconds: intPtr(600), MaxTimePerDayInSeconds: intPtr(3600),
			ActivityPermitted: false, Reasons: []string{"Outside of allowed time of day"},
		},
	}

	s.admins = make(map[int]*models.UserAdmin, 2)
	for _, id := range []int{AliceID, BobID} {
		st := s.statuses[id]
		s.admins[id] = &models.UserAdmin{
			UserID:               id,
			Username:             st.Username,
			FullName:             st.FullName,
			UserStatus:           st,
			TimeExtensionPeriods: []int{-30, -15, 15, 30, 60},
			MaxLookaheadInDays:   7,
			UserAdminDetails: []*models.UserAdminDetail{
				adminDay(today, iso),
				adminDay(today.Add(24*time.Hour), iso),
			},
		}
	}
}

func adminDay(day time.Time, iso func(time.Time) string) *models.UserAdminDetail {
	rules := &models.RuleSet{
		ReferenceDateInISO8601: iso(day),
		Label:                  "default",
		MinTimeOfDayInISO8601:  "1900-01-01T08:00:00",
		MaxTimeOfDayInISO8601:  "1900-01-01T20:00:00",
		MaxTimePerDayInSeconds: intPtr(7200),
		MinBreakInSeconds:      intPtr(900),
		FreePlay:               boolPtr(false),
	}
	effective := *rules
	return &models.UserAdminDetail{
		DateInISO8601:    iso(day),
		LongFormat:       day.Format("Monday, 02.01.2006"),
		ShortFormat:      day.Format("Mon"),
		RuleSet:          rules,
		EffectiveRuleSet: &effective,
	}
}
