// Package highlight flags the security-relevant events in a normalized batch and rates the batch.
package highlight

import (
	"sort"
	"strings"
	"time"

	"vertex-audit/pkg/enrich"
	"vertex-audit/pkg/events"
)

// CorrelationWindow is how close in time an event must be to an inherently critical
// event to be flagged by association.
const CorrelationWindow = 10 * time.Minute

var criticalEvents = map[string]bool{
	events.EventLoginFailed:       true,
	"mfa_required":                true,
	"account_locked":              true,
	events.EventPasswordChanged:   true,
	events.EventPermissionChanged: true,
	events.EventPolicyChanged:     true,
	events.EventRoleAssumed:       true,
}

// contextualEvents are sensitive only when performed from an external address.
// Both provider names and their canonical codes are listed.
var contextualEvents = map[string]bool{
	"CreateKey":                     true,
	"RunInstances":                  true,
	"CreateBucket":                  true,
	"PutObject":                     true,
	"AuthorizeSecurityGroupIngress": true,
	events.EventKeyCreated:          true,
	events.EventInstanceCreated:     true,
	events.EventBucketCreated:       true,
	events.EventFileUploaded:        true,
	events.EventIngressAdded:        true,
}

// IsCriticalEvent reports whether code is in the fixed critical set.
func IsCriticalEvent(code string) bool {
	return criticalEvents[code]
}

// inherent is the criticality an event has on its own, before any temporal association.
func inherent(e events.LogEvent) bool {
	return criticalEvents[e.Event] || e.IsRoot()
}

func contextual(e events.LogEvent) bool {
	if e.Event == events.EventLoginFailed || strings.Contains(strings.ToLower(e.Detail), "fail") {
		return true
	}
	return enrich.IsExternalIP(e.IP) && contextualEvents[e.Event]
}

// Classify returns, in input order, the indexes of the critical events.
//
// Temporal association is checked against inherent criticality only, so flagging by
// association never cascades to further events.
func Classify(evs []events.LogEvent) []int {
	anchors := anchorTimes(evs)
	out := make([]int, 0)
	for i, e := range evs {
		if inherent(e) || contextual(e) || nearAnchor(e, anchors) {
			out = append(out, i)
		}
	}
	return out
}

// Critical returns the events at the given indexes.
func Critical(evs []events.LogEvent, indices []int) []events.LogEvent {
	out := make([]events.LogEvent, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(evs) {
			out = append(out, evs[i])
		}
	}
	return out
}

// anchorTimes returns the sorted times of inherently critical events with a parseable timestamp.
func anchorTimes(evs []events.LogEvent) []time.Time {
	var ts []time.Time
	for _, e := range evs {
		if !inherent(e) {
			continue
		}
		if t, ok := events.ParseTimestamp(e.Timestamp); ok {
			ts = append(ts, t)
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	return ts
}

// nearAnchor is only consulted for events that are not anchors themselves, so the
// anchor list never contains the event being checked.
func nearAnchor(e events.LogEvent, anchors []time.Time) bool {
	if len(anchors) == 0 {
		return false
	}
	t, ok := events.ParseTimestamp(e.Timestamp)
	if !ok {
		return false
	}
	lo := t.Add(-CorrelationWindow)
	i := sort.Search(len(anchors), func(i int) bool { return !anchors[i].Before(lo) })
	return i < len(anchors) && !anchors[i].After(t.Add(CorrelationWindow))
}

// RiskLevelOf rates a set of critical events.
func RiskLevelOf(critical []events.LogEvent) events.RiskLevel {
	failed, externalFailed := 0, false
	for _, e := range critical {
		if !e.IsFailedLogin() {
			continue
		}
		if e.IsRoot() {
			return events.RiskCritical
		}
		failed++
		if enrich.IsExternalIP(e.IP) {
			externalFailed = true
		}
	}
	switch {
	case failed >= 3 && externalFailed:
		return events.RiskHigh
	case failed >= 3 || externalFailed:
		return events.RiskMedium
	default:
		return events.RiskLow
	}
}
