package models

import (
	"encoding/json"
	"testing"

	"github.com/little-brother/lbclient/unpickle"
)

const statusPayload = `[
  {"py/object":"little_brother.transport.user_status_to.UserStatusTO",
   "user_id":2,"full_name":"Zoe","todays_downtime_in_seconds":0,
   "todays_activity_duration_in_seconds":3900,"reasons":["Time window"],
   "user_status_details":[
     {"py/object":"little_brother.transport.user_status_detail_to.UserStatusDetailTO",
      "history_label":"Today","duration_in_seconds":600,
      "user_status_details":[
        {"py/object":"little_brother.transport.user_status_detail_to.UserStatusDetailTO",
         "duration_in_seconds":300,"host_infos":"laptop"}]}]},
  {"py/object":"little_brother.transport.user_status_to.UserStatusTO",
   "user_id":1,"full_name":"Anna","todays_downtime_in_seconds":120}
]`

func decodeStatuses(t *testing.T) []*UserStatus {
	t.Helper()
	raw, err := unpickle.DecodeJSON([]byte(statusPayload), Registry())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := unpickle.SliceOf[*UserStatus](raw)
	if err != nil {
		t.Fatalf("typed decode: %v", err)
	}
	return out
}

func TestRegistryCoversTransportObjects(t *testing.T) {
	reg := Registry()
	if !reg.Frozen() {
		t.Fatal("model registry must be frozen")
	}
	for _, tag := range []string{TagUserStatus, TagUserStatusDetail, TagUserAdmin, TagUserAdminDetail, TagRuleSet, TagUser, TagControl} {
		if _, ok := reg.Lookup(tag); !ok {
			t.Fatalf("missing handler for %s", tag)
		}
	}
}

func TestDecodeUserStatusTree(t *testing.T) {
	statuses := decodeStatuses(t)
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	zoe := statuses[0]
	if zoe.UserID != 2 || zoe.FullName != "Zoe" {
		t.Fatalf("unexpected first status %#v", zoe)
	}
	if got := zoe.TodaysActivityDuration(); got != "1h05m" {
		t.Fatalf("TodaysActivityDuration = %q", got)
	}
	if len(zoe.UserStatusDetails) != 1 || len(zoe.UserStatusDetails[0].UserStatusDetails) != 1 {
		t.Fatalf("nested details lost: %#v", zoe.UserStatusDetails)
	}
	if zoe.UserStatusDetails[0].UserStatusDetails[0].HostInfos != "laptop" {
		t.Fatal("innermost detail not decoded")
	}
	if zoe.HasDowntime() {
		t.Fatal("zero downtime reported as downtime")
	}

	SortByFullName(statuses)
	if statuses[0].FullName != "Anna" {
		t.Fatalf("expected Anna first, got %s", statuses[0].FullName)
	}
	if !AnyDowntime(statuses) {
		t.Fatal("expected downtime from Anna")
	}
}

func TestDecodeUserAdminWithRuleSets(t *testing.T) {
	doc := `{"py/object":"little_brother.transport.user_admin_to.UserAdminTO",
	  "user_id":4,"time_extension_periods":[-30,15,30],"max_lookahead_in_days":7,
	  "user_status":{"py/object":"little_brother.transport.user_status_to.UserStatusTO","user_id":4},
	  "user_admin_details":[{"py/object":"little_brother.transport.user_admin_detail_to.UserAdminDetailTO",
	    "date_in_iso_8601":"2024-03-04",
	    "rule_set":{"py/object":"little_brother.transport.rule_set_to.RuleSetTO","label":"Weekday","max_time_per_day_in_seconds":5400,"min_time_of_day_in_iso_8601":"1900-01-01T07:30:00Z"},
	    "override":null}]}`

	raw, err := unpickle.DecodeJSON([]byte(doc), Registry())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	admin, err := unpickle.As[*UserAdmin](raw)
	if err != nil {
		t.Fatalf("typed decode: %v", err)
	}
	if admin.UserStatus == nil || admin.UserStatus.UserID != 4 {
		t.Fatalf("nested status lost: %#v", admin.UserStatus)
	}
	if len(admin.TimeExtensionPeriods) != 3 || admin.TimeExtensionPeriods[0] != -30 {
		t.Fatalf("unexpected periods %v", admin.TimeExtensionPeriods)
	}
	detail := admin.UserAdminDetails[0]
	if detail.Override != nil {
		t.Fatal("null override should stay nil")
	}
	if detail.RuleSet.Label != "Weekday" || detail.RuleSet.MaxTimePerDay() != "1h30m" {
		t.Fatalf("unexpected rule set %#v", detail.RuleSet)
	}
	if got := detail.RuleSet.MinTimeOfDayString(); got != "07:30" {
		t.Fatalf("MinTimeOfDayString = %q", got)
	}
	if got := detail.DateShort(); got != "Mon" {
		t.Fatalf("DateShort = %q", got)
	}
}

func TestRuleSetInputRoundTrip(t *testing.T) {
	free := true
	rs, err := ParseRuleSetInput(RuleSetInput{
		MinTimeOfDay:  "7:00",
		MaxTimeOfDay:  "-",
		MaxTimePerDay: "2h",
		MinBreak:      "15m",
		FreePlay:      &free,
	})
	if err != nil {
		t.Fatalf("ParseRuleSetInput: %v", err)
	}
	body, err := json.Marshal(rs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wire["min_time_of_day_in_iso_8601"] != "1900-01-01T07:00:00Z" {
		t.Fatalf("unexpected min time %v", wire["min_time_of_day_in_iso_8601"])
	}
	if _, ok := wire["max_time_of_day_in_iso_8601"]; ok {
		t.Fatal("unset field must be omitted")
	}
	if wire["max_time_per_day_in_seconds"] != float64(7200) || wire["min_break_in_seconds"] != float64(900) {
		t.Fatalf("unexpected durations %v", wire)
	}

	if _, err := ParseRuleSetInput(RuleSetInput{MinBreak: "soon"}); err == nil {
		t.Fatal("expected invalid duration error")
	}
}

func TestUserFullNameAndSummary(t *testing.T) {
	u := &User{Username: "bobby"}
	if u.FullName() != "Bobby" {
		t.Fatalf("FullName = %q", u.FullName())
	}
	if u.Summary(nil) != "" {
		t.Fatalf("expected empty summary, got %q", u.Summary(nil))
	}

	u = &User{Username: "bob", FirstName: "Robert", LastName: "Smith", Locale: "de"}
	got := u.Summary(map[string]string{"de": "Deutsch"})
	want := "Username: bob · Locale: Deutsch"
	if got != want {
		t.Fatalf("Summary = %q, want %q", got, want)
	}
}
