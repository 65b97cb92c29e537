// Package format renders and parses the duration and time-of-day strings the
// LittleBrother admin screens use ("1h05m", "07:30", ISO 8601 timestamps).
package format

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// TimePattern validates a time-of-day input; "-" means unset.
	TimePattern = `^-$|^[012]?[0-9]:[0-5][0-9]$`
	// DurationPattern validates a duration input; "-" means unset.
	DurationPattern = `^-$|^([0-9]+h)?([0-9]+m)?$`

	// Dash is rendered for missing values.
	Dash = "-"
	// Separator joins summary fragments.
	Separator = " · "

	dateTimeLayout = "02.01.2006 15:04"
	timeLayout     = "15:04"
)

// ErrInvalidDuration is returned for strings that are not [NNh][NNm][NNs].
var ErrInvalidDuration = errors.New("duration must have format [NNh][NNm][NNs]")

var (
	durationRe = regexp.MustCompile(`^(?:([0-9]+)h)?(?:([0-9]+)m)?(?:([0-9]+)s)?$`)
	timeRe     = regexp.MustCompile(TimePattern)
)

// Duration renders seconds as "1h05m" (or "1h05m09s" with includeSeconds).
// Zero and nil render as Dash when dashOnMissing, else as "".
func Duration(seconds *int, dashOnMissing, includeSeconds bool) string {
	if seconds == nil || *seconds == 0 {
		if dashOnMissing {
			return Dash
		}
		return ""
	}
	s := *seconds
	hours := s / 3600
	minutes := (s - hours*3600) / 60
	if includeSeconds {
		rest := s - hours*3600 - minutes*60
		return fmt.Sprintf("%dh%02dm%02ds", hours, minutes, rest)
	}
	return fmt.Sprintf("%dh%02dm", hours, minutes)
}

// ParseDuration parses "[NNh][NNm][NNs]". Dash and blank input report ok=false
// without error.
func ParseDuration(s string) (seconds int, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == Dash || s == "" {
		return 0, false, nil
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false, ErrInvalidDuration
	}
	for i, unit := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, convErr := strconv.Atoi(m[i+1])
		if convErr != nil {
			return 0, false, fmt.Errorf("%w: %v", ErrInvalidDuration, convErr)
		}
		seconds += n * unit
	}
	return seconds, true, nil
}

// ValidTimeOfDay reports whether s matches TimePattern.
func ValidTimeOfDay(s string) bool {
	return timeRe.MatchString(strings.TrimSpace(s))
}

// TimeOfDayISO turns "7:30" into "1900-01-01T07:30:00Z". Dash reports ok=false.
func TimeOfDayISO(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == Dash || s == "" {
		return "", false
	}
	if len(s) == 4 {
		s = "0" + s
	}
	return "1900-01-01T" + s + ":00Z", true
}

// ParseISO parses an ISO 8601 timestamp as emitted by the server. Timestamps
// without zone are read as UTC.
func ParseISO(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DateString renders t as "dd.MM.yyyy HH:mm", or only "HH:mm" when
// includeDate is false. The zero time renders as Dash.
func DateString(t time.Time, includeDate bool) string {
	if t.IsZero() {
		return Dash
	}
	if includeDate {
		return t.Format(dateTimeLayout)
	}
	return t.Format(timeLayout)
}

// TitleCaseWord upper-cases the first rune and lower-cases the rest.
func TitleCaseWord(word string) string {
	if word == "" {
		return word
	}
	r, size := utf8.DecodeRuneInString(word)
	return string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
}

// JoinTexts concatenates fragments, dropping a Separator that would lead the
// text.
func JoinTexts(elements []string) string {
	var b strings.Builder
	for _, e := range elements {
		if e == Separator {
			if b.Len() > 0 {
				b.WriteString(Separator)
			}
			continue
		}
		b.WriteString(e)
	}
	return b.String()
}
