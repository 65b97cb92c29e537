package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/little-brother/lbclient"
	"github.com/little-brother/lbclient/metrics/export/prometheus"
	"github.com/little-brother/lbclient/models"
)

func newRootCommand(a *app) *command {
	return &command{
		name:    "lbctl",
		summary: "Monitor and administer LittleBrother users.",
		subcommands: []*command{
			a.loginCommand(),
			{name: "logout", summary: "End the session on the server and locally", run: a.logout},
			{name: "session", summary: "Show the stored login", run: a.showSession},
			{name: "status", summary: "List today's activity of all monitored users", run: a.status},
			{name: "status-details", summary: "Show the activity history of a user", usage: "USER_ID", run: a.statusDetails},
			{name: "admin", summary: "List users with their schedules (admin)", run: a.admin},
			{name: "admin-details", summary: "Show the schedule of a user (admin)", usage: "USER_ID", run: a.adminDetails},
			{name: "extend", summary: "Extend or shorten today's play time (admin)", usage: "USER_ID MINUTES", run: a.extend},
			a.overrideCommand(),
			{name: "users", summary: "List users known to the server (admin)", run: a.users},
			{name: "user", summary: "Show one user (admin)", usage: "USER_ID", run: a.user},
			{name: "add-user", summary: "Start monitoring a login (admin)", usage: "USERNAME", run: a.addUser},
			{name: "remove-user", summary: "Stop monitoring a login (admin)", usage: "USERNAME", run: a.removeUser},
			{name: "about", summary: "Show server version information", run: a.about},
			a.watchCommand(),
			{name: "metrics", summary: "Print client metrics of this call in Prometheus format", run: a.metrics},
		},
	}
}

/*
====================================
ARGUMENTS / OUTPUT
====================================
*/

func exactArgs(args []string, names ...string) error {
	if len(args) == len(names) {
		return nil
	}
	if len(names) == 0 {
		return usageError("unexpected argument %q", args[0])
	}
	return usageError("expected %s", strings.Join(names, " "))
}

func parseUserID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, usageError("invalid user id %q", s)
	}
	return id, nil
}

// emitJSON prints v when --json is set and reports whether it did.
func (a *app) emitJSON(v any) (bool, error) {
	if !a.flags.jsonOutput {
		return false, nil
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
}

func flagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

/*
====================================
SESSION COMMANDS
====================================
*/

func (a *app) loginCommand() *command {
	var username string
	return &command{
		name:    "login",
		summary: "Log in; the password is read from $" + envPassword + " or stdin",
		usage:   "-u USERNAME",
		flags: func() *pflag.FlagSet {
			fs := flagSet("login")
			fs.StringVarP(&username, "username", "u", "", "login name")
			return fs
		},
		run: func(args []string) error {
			if len(args) > 0 || username == "" {
				return usageError("login needs -u USERNAME and no arguments")
			}
			password, err := a.readPassword()
			if err != nil {
				return err
			}
			res, err := a.client.Login(a.ctx, username, password)
			if err != nil {
				return err
			}
			if ok, err := a.emitJSON(res); ok {
				return err
			}
			role := "parent"
			if res.IsAdmin {
				role = "admin"
			}
			fmt.Fprintf(a.stdout, "logged in as %s (%s)\n", res.Username, role)
			return nil
		},
	}
}

func (a *app) readPassword() (string, error) {
	if p := a.getenv(envPassword); p != "" {
		return p, nil
	}
	fmt.Fprint(a.stderr, "Password: ")
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" && err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return line, nil
}

func (a *app) logout(args []string) error {
	if err := exactArgs(args); err != nil {
		return err
	}
	if !a.client.IsLoggedIn() {
		fmt.Fprintln(a.stdout, "not logged in")
		return nil
	}
	res, err := a.client.Logout(a.ctx)
	if err != nil {
		return err
	}
	if ok, err := a.emitJSON(res); ok {
		return err
	}
	fmt.Fprintln(a.stdout, "logged out")
	return nil
}

type sessionView struct {
	Profile     string    `json:"profile"`
	State       string    `json:"state"`
	Username    string    `json:"username,omitempty"`
	UserID      int64     `json:"user_id,omitempty"`
	IsAdmin     bool      `json:"is_admin"`
	TokenExpiry time.Time `json:"access_token_expiry,omitzero"`
}

func (a *app) showSession(args []string) error {
	if err := exactArgs(args); err != nil {
		return err
	}
	s := a.client.Session()
	view := sessionView{
		Profile:  a.client.Config().Session.Profile,
		State:    s.State().String(),
		Username: s.Username(),
		UserID:   s.UserID(),
		IsAdmin:  s.IsAdmin(),
	}
	if exp, ok := s.AccessTokenExpiry(); ok {
		view.TokenExpiry = exp
	}
	if ok, err := a.emitJSON(view); ok {
		return err
	}

	tw := a.table()
	fmt.Fprintf(tw, "profile\t%s\n", view.Profile)
	fmt.Fprintf(tw, "state\t%s\n", view.State)
	if view.Username != "" {
		fmt.Fprintf(tw, "user\t%s (id %d, admin %t)\n", view.Username, view.UserID, view.IsAdmin)
	}
	if !view.TokenExpiry.IsZero() {
		fmt.Fprintf(tw, "access token expires\t%s\n", view.TokenExpiry.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

/*
====================================
STATUS COMMANDS
====================================
*/

func (a *app) status(args []string) error {
	if err := exactArgs(args); err != nil {
		return err
	}
	statuses, err := a.client.UserStatus(a.ctx)
	if err != nil {
		return err
	}
	models.SortByFullName(statuses)
	return a.printStatuses(statuses)
}

func (a *app) printStatuses(statuses []*models.UserStatus) error {
	if ok, err := a.emitJSON(statuses); ok {
		return err
	}
	withDowntime := models.AnyDowntime(statuses)
	tw := a.table()
	fmt.Fprint(tw, "ID\tNAME\tCONTEXT\tTODAY\tMAX\t")
	if withDowntime {
		fmt.Fprint(tw, "DOWNTIME\t")
	}
	fmt.Fprintln(tw, "PERMITTED\tREASONS")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t", s.UserID, s.FullName, s.ContextLabel, s.TodaysActivityDuration(), s.MaxTimePerDay())
		if withDowntime {
			fmt.Fprintf(tw, "%s\t", s.TodaysDowntime())
		}
		fmt.Fprintf(tw, "%t\t%s\n", s.ActivityPermitted, strings.Join(s.Reasons, "; "))
	}
	return tw.Flush()
}

func (a *app) statusDetails(args []string) error {
	if err := exactArgs(args, "USER_ID"); err != nil {
		return err
	}
	id, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	st, err := a.client.UserStatusDetails(a.ctx, id)
	if err != nil {
		return err
	}
	if ok, err := a.emitJSON(st); ok {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: %s of %s today\n", st.FullName, st.TodaysActivityDuration(), st.MaxTimePerDay())
	tw := a.table()
	fmt.Fprintln(tw, "ENTRY\tDURATION\tDOWNTIME\tFROM\tTO\tHOSTS")
	printDetails(tw, st.UserStatusDetails, "")
	return tw.Flush()
}

func printDetails(tw *tabwriter.Writer, details []*models.UserStatusDetail, indent string) {
	for _, d := range details {
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t%s\t%s\n", indent, d.HistoryLabel, d.Duration(), d.Downtime(),
			clock(d.MinTime()), clock(d.MaxTime()), d.HostInfos)
		printDetails(tw, d.UserStatusDetails, indent+"  ")
	}
}

func clock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("15:04")
}

func (a *app) watchCommand() *command {
	var interval time.Duration
	return &command{
		name:    "watch",
		summary: "Poll the user status until interrupted",
		flags: func() *pflag.FlagSet {
			fs := flagSet("watch")
			fs.DurationVar(&interval, "interval", 0, "poll interval (default: as published by the server)")
			return fs
		},
		run: func(args []string) error {
			if err := exactArgs(args); err != nil {
				return err
			}
			var opts []lbclient.PollerOption
			if interval > 0 {
				opts = append(opts, lbclient.WithPollInterval(interval))
			}
			poller := a.client.NewPoller(func(snap lbclient.StatusSnapshot) {
				if snap.Err != nil {
					fmt.Fprintf(a.stderr, "lbctl: poll failed: %v\n", snap.Err)
					return
				}
				if !a.flags.jsonOutput {
					fmt.Fprintf(a.stdout, "\n%s\n", snap.FetchedAt.Local().Format(time.TimeOnly))
				}
				if err := a.printStatuses(snap.Statuses); err != nil {
					fmt.Fprintf(a.stderr, "lbctl: %v\n", err)
				}
			}, opts...)
			return poller.Run(a.ctx)
		},
	}
}

/*
====================================
ADMIN COMMANDS
====================================
*/

func (a *app) admin(args []string) error {
	if err := exactArgs(args); err != nil {
		return err
	}
	admins, err := a.client.UserAdmin(a.ctx)
	if err != nil {
		return err
	}
	if ok, err := a.emitJSON(admins); ok {
		return err
	}
	tw := a.table()
	fmt.Fprintln(tw, "ID\tNAME\tDAYS\tEXTENSIONS")
	for _, u := range admins {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", u.UserID, u.FullName, len(u.UserAdminDetails), joinInts(u.TimeExtensionPeriods))
	}
	return tw.Flush()
}

func (a *app) adminDetails(args []string) error {
	if err := exactArgs(args, "USER_ID"); err != nil {
		return err
	}
	id, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	u, err := a.client.UserAdminDetails(a.ctx, id)
	if err != nil {
		return err
	}
	if ok, err := a.emitJSON(u); ok {
		return err
	}
	fmt.Fprintf(a.stdout, "%s, extensions: %s\n", u.FullName, joinInts(u.TimeExtensionPeriods))
	tw := a.table()
	fmt.Fprintln(tw, "DATE\tDAY\tFROM\tTO\tMAX/DAY\tMIN BREAK\tOVERRIDE")
	for _, d := range u.UserAdminDetails {
		r := d.EffectiveRuleSet
		if r == nil {
			r = d.RuleSet
		}
		if r == nil {
			r = &models.RuleSet{}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n", d.DateInISO8601, d.DateShort(),
			r.MinTimeOfDayString(), r.MaxTimeOfDayString(), r.MaxTimePerDay(), r.MinBreak(), d.Override != nil)
	}
	return tw.Flush()
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (a *app) extend(args []string) error {
	if err := exactArgs(args, "USER_ID", "MINUTES"); err != nil {
		return err
	}
	id, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil {
		return usageError("invalid minutes %q", args[1])
	}
	if err := a.client.ExtendTime(a.ctx, id, minutes); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "extended user %d by %d minutes\n", id, minutes)
	return nil
}

func (a *app) overrideCommand() *command {
	var (
		in       models.RuleSetInput
		freePlay string
	)
	return &command{
		name:    "override",
		summary: "Override the rule set of one day (admin)",
		usage:   "USER_ID DATE [flags]",
		flags: func() *pflag.FlagSet {
			fs := flagSet("override")
			fs.StringVar(&in.MinTimeOfDay, "min-time", "-", "earliest time of day, HH:MM")
			fs.StringVar(&in.MaxTimeOfDay, "max-time", "-", "latest time of day, HH:MM")
			fs.StringVar(&in.MaxTimePerDay, "max-per-day", "-", "daily maximum, e.g. 2h30m")
			fs.StringVar(&in.MinBreak, "min-break", "-", "minimum break, e.g. 15m")
			fs.StringVar(&in.MaxActivityDuration, "max-activity", "-", "maximum activity duration, e.g. 1h")
			fs.StringVar(&freePlay, "free-play", "", "true or false")
			return fs
		},
		run: func(args []string) error {
			if err := exactArgs(args, "USER_ID", "DATE"); err != nil {
				return err
			}
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			if freePlay != "" {
				v, err := strconv.ParseBool(freePlay)
				if err != nil {
					return usageError("invalid --free-play %q", freePlay)
				}
				in.FreePlay = &v
			}
			rules, err := models.ParseRuleSetInput(in)
			if err != nil {
				return usageError("%v", err)
			}
			if err := a.client.UpdateRuleOverride(a.ctx, id, args[1], rules); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "override stored for user %d on %s\n", id, args[1])
			return nil
		},
	}
}

func (a *app) users(args []string) error {
	if err := exactArgs(args); err != nil {
		return err
	}
	users, err := a.client.Users(a.ctx)
	if err != nil {
		return err
	}
	if ok, err := a.emitJSON(users); ok {
		return err
	}
	tw := a.table()
	fmt.Fprintln(tw, "ID\tUSERNAME\tNAME\tMONITORED\tLOCALE")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", u.ID, u.Username, u.FullName(), u.Configured, u.Locale)
	}
	return tw.Flush()
}

func (a *app) user(args []string) error {
	if err := exactArgs(args, "USER_ID"); err != nil {
		return err
	}
	id, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	u, err := a.client.User(a.ctx, id)
	if err != nil {
		return err
	}
	if ok, err := a.emitJSON(u); ok {
		return err
	}
	var languages map[string]string
	if ctl, err := a.client.Control(a.ctx); err == nil {
		languages = ctl.Languages
	}
	fmt.Fprintf(a.stdout, "%s\n%s\n", u.FullName(), u.Summary(languages))
	return nil
}

func (a *app) addUser(args []string) error {
	if err := exactArgs(args, "USERNAME"); err != nil {
		return err
	}
	id, err := a.client.AddUser(a.ctx, args[0])
	if err != nil {
		return err
	}
	if ok, err := a.emitJSON(id); ok {
		return err
	}
	fmt.Fprintf(a.stdout, "monitoring %s as user %d\n", args[0], id.ID)
	return nil
}

func (a *app) removeUser(args []string) error {
	if err := exactArgs(args, "USERNAME"); err != nil {
		return err
	}
	if err := a.client.RemoveUser(a.ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "stopped monitoring %s\n", args[0])
	return nil
}

/*
====================================
METADATA
====================================
*/

func (a *app) about(args []string) error {
	if err := exactArgs(args); err != nil {
		return err
	}
	info, err := a.client.About(a.ctx)
	if err != nil {
		return err
	}
	if ok, err := a.emitJSON(info); ok {
		return err
	}
	tw := a.table()
	for _, k := range slices.Sorted(maps.Keys(info)) {
		fmt.Fprintf(tw, "%s\t%v\n", k, info[k])
	}
	return tw.Flush()
}

func (a *app) metrics(args []string) error {
	if err := exactArgs(args); err != nil {
		return err
	}
	_, err := fmt.Fprint(a.stdout, prometheus.NewExporter(a.client).Render())
	return err
}
