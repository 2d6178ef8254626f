// Package summarize turns the critical events of a batch into a structured analysis and a
// narrative paragraph with a risk verdict.
package summarize

import (
	"sort"
	"strings"
	"time"

	"vertex-audit/pkg/events"
)

// RapidThreshold is the largest gap between consecutive critical events that still counts as
// rapid succession (exclusive).
const RapidThreshold = 2 * time.Minute

// PatternType names a suspicious pattern.
type PatternType string

const (
	RapidSuccession PatternType = "rapid_succession"
	IPCorrelation   PatternType = "ip_correlation"
)

// Pattern is a suspicious pattern found among critical events.
type Pattern struct {
	Type        PatternType       `json:"type"`
	Severity    events.Severity   `json:"severity"`
	Description string            `json:"description"`
	Events      []events.LogEvent `json:"events"`
}

// TimelineEntry is one critical event with a one-line context.
type TimelineEntry struct {
	Timestamp string          `json:"timestamp"`
	Event     events.LogEvent `json:"event"`
	Context   string          `json:"context"`
}

// EventAnalysis groups the critical events of one batch.
type EventAnalysis struct {
	Total              int               `json:"total"`
	FailedLogins       []events.LogEvent `json:"failedLogins"`
	RootActivity       []events.LogEvent `json:"rootActivity"`
	PrivilegeChanges   []events.LogEvent `json:"privilegeChanges"`
	SuspiciousPatterns []Pattern         `json:"suspiciousPatterns"`
	Timeline           []TimelineEntry   `json:"timeline"`
}

var privilegeCodes = []string{events.EventRoleAssumed, events.EventPermissionChanged, events.EventPolicyChanged}

// Analyze partitions critical events and detects suspicious patterns.
func Analyze(critical []events.LogEvent) EventAnalysis {
	a := EventAnalysis{
		Total:              len(critical),
		FailedLogins:       []events.LogEvent{},
		RootActivity:       []events.LogEvent{},
		PrivilegeChanges:   []events.LogEvent{},
		SuspiciousPatterns: []Pattern{},
	}
	for _, e := range critical {
		if e.IsFailedLogin() {
			a.FailedLogins = append(a.FailedLogins, e)
		}
		if e.IsRoot() {
			a.RootActivity = append(a.RootActivity, e)
		}
		for _, code := range privilegeCodes {
			if strings.Contains(e.Event, code) {
				a.PrivilegeChanges = append(a.PrivilegeChanges, e)
				break
			}
		}
	}

	sorted := byTime(critical)
	if rapid := rapidSuccession(sorted); len(rapid) > 0 {
		a.SuspiciousPatterns = append(a.SuspiciousPatterns, Pattern{
			Type:        RapidSuccession,
			Severity:    events.SeverityMedium,
			Description: plural(len(rapid), "event") + " occurred within a short timeframe",
			Events:      rapid,
		})
	}
	if p, ok := ipCorrelation(critical); ok {
		a.SuspiciousPatterns = append(a.SuspiciousPatterns, p)
	}

	a.Timeline = make([]TimelineEntry, 0, len(sorted))
	for _, e := range sorted {
		a.Timeline = append(a.Timeline, TimelineEntry{Timestamp: e.Timestamp, Event: e, Context: eventContext(e)})
	}
	return a
}

// byTime returns a copy sorted ascending; unparseable timestamps sort first.
func byTime(evs []events.LogEvent) []events.LogEvent {
	out := append([]events.LogEvent(nil), evs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time().Before(out[j].Time()) })
	return out
}

// rapidSuccession collects both members of every consecutive pair less than RapidThreshold
// apart. Pairs with an unparseable timestamp are skipped.
func rapidSuccession(sorted []events.LogEvent) []events.LogEvent {
	var out []events.LogEvent
	last := -1
	for i := 1; i < len(sorted); i++ {
		prev, okPrev := events.ParseTimestamp(sorted[i-1].Timestamp)
		cur, okCur := events.ParseTimestamp(sorted[i].Timestamp)
		if !okPrev || !okCur || cur.Sub(prev) >= RapidThreshold {
			continue
		}
		if last != i-1 {
			out = append(out, sorted[i-1])
		}
		out = append(out, sorted[i])
		last = i
	}
	return out
}

// ipCorrelation returns the first IP, in order of appearance, with both a failed login and
// some other activity.
func ipCorrelation(critical []events.LogEvent) (Pattern, bool) {
	var order []string
	groups := make(map[string][]events.LogEvent)
	for _, e := range critical {
		if _, seen := groups[e.IP]; !seen {
			order = append(order, e.IP)
		}
		groups[e.IP] = append(groups[e.IP], e)
	}
	for _, ip := range order {
		failed, other := false, false
		for _, e := range groups[ip] {
			if e.IsFailedLogin() {
				failed = true
			} else {
				other = true
			}
		}
		if failed && other {
			return Pattern{
				Type:        IPCorrelation,
				Severity:    events.SeverityHigh,
				Description: "IP " + ip + " shows both failed authentication and successful activity",
				Events:      groups[ip],
			}, true
		}
	}
	return Pattern{}, false
}

func eventContext(e events.LogEvent) string {
	switch e.Event {
	case events.EventLoginFailed:
		return "Authentication failure from " + e.IP
	case events.EventLoginSuccess:
		return "Successful authentication from " + e.IP
	default:
		return e.Event + " by " + e.User
	}
}
