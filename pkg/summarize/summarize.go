package summarize

import (
	"fmt"
	"math"
	"strings"

	"vertex-audit/pkg/enrich"
	"vertex-audit/pkg/events"
)

// NoCriticalEvents is the narrative for an empty critical-event set.
const NoCriticalEvents = "No critical security events were detected during the analyzed timeframe. " +
	"All activities appear to be routine operations with no suspicious patterns identified."

const (
	correlatedText = "Critical correlation patterns were detected: %s. " +
		"This suggests potential coordinated malicious activity requiring immediate investigation."
	notCorrelatedText = "However, analysis shows these events are **not correlated** - the failed authentication " +
		"and administrative activities originated from different IP addresses and show no evidence of " +
		"privilege escalation or coordinated attack patterns."
	noCorrelationText = "No suspicious correlation patterns were detected between events, indicating these " +
		"appear to be isolated incidents rather than coordinated malicious activity."
)

var banners = map[events.RiskLevel]string{
	events.RiskCritical: "**Risk Level: CRITICAL** - Immediate security response required.",
	events.RiskHigh:     "**Risk Level: HIGH** - Prompt investigation recommended.",
	events.RiskMedium:   "**Risk Level: MEDIUM** - Routine monitoring and review recommended.",
	events.RiskLow:      "**Risk Level: LOW** - Standard security monitoring continues.",
}

const internalRootBanner = "**Risk Level: MEDIUM** - Administrative activity from the internal network; routine review recommended."

// Summarize renders the narrative for a set of critical events.
func Summarize(critical []events.LogEvent) string {
	return Narrative(Analyze(critical))
}

// Narrative renders an analysis as a paragraph ending with the risk banner.
func Narrative(a EventAnalysis) string {
	return NarrativeWith(a, RiskLevelOf(a), "")
}

// NarrativeWith renders a with an externally decided risk level. A non-empty correlation
// replaces the computed correlation clause. The result carries exactly one banner, for level.
func NarrativeWith(a EventAnalysis, level events.RiskLevel, correlation string) string {
	if a.Total == 0 {
		if correlation == "" {
			return NoCriticalEvents
		}
		return correlation + " " + banners[level]
	}
	if correlation == "" {
		correlation = correlationClause(a)
	}

	parts := []string{leadClause(a)}
	if c := failedLoginClause(a.FailedLogins); c != "" {
		parts = append(parts, c)
	}
	if c := rootClause(a.RootActivity, len(a.FailedLogins) > 0); c != "" {
		parts = append(parts, c)
	}

	var b strings.Builder
	b.WriteString(strings.Join(parts, " "))
	b.WriteString(". ")
	b.WriteString(correlation)
	b.WriteString(" ")
	b.WriteString(banner(a, level))
	return b.String()
}

// RiskLevelOf computes the verdict for an analysis, independent of the classifier's policy.
func RiskLevelOf(a EventAnalysis) events.RiskLevel {
	for _, p := range a.SuspiciousPatterns {
		if p.Severity == events.SeverityCritical {
			return events.RiskCritical
		}
	}
	for _, p := range a.SuspiciousPatterns {
		if p.Severity == events.SeverityHigh {
			return events.RiskHigh
		}
	}
	externalFailed := 0
	for _, e := range a.FailedLogins {
		if enrich.IsExternalIP(e.IP) {
			externalFailed++
		}
	}
	switch {
	case externalFailed >= 3:
		return events.RiskHigh
	case externalFailed >= 1:
		return events.RiskMedium
	case len(a.RootActivity) > 0:
		return events.RiskMedium
	}
	return events.RiskLow
}

func banner(a EventAnalysis, level events.RiskLevel) string {
	if level == events.RiskMedium && len(a.FailedLogins) == 0 && !externalRoot(a.RootActivity) {
		return internalRootBanner
	}
	return banners[level]
}

func externalRoot(root []events.LogEvent) bool {
	for _, e := range root {
		if enrich.IsExternalIP(e.IP) {
			return true
		}
	}
	return false
}

func leadClause(a EventAnalysis) string {
	if a.Total == 1 {
		return "A single, isolated security event was flagged for review"
	}
	span, ok := timeSpan(a.Timeline)
	if !ok {
		return fmt.Sprintf("%d security events were identified", a.Total)
	}
	if span == "" {
		return fmt.Sprintf("Within a single minute, %d security events were flagged for review", a.Total)
	}
	return fmt.Sprintf("During a %s period, %d security events were flagged for review", span, a.Total)
}

// timeSpan measures the parseable part of the timeline. It reports false when fewer than two
// entries have a parseable timestamp, and an empty span when they are under a minute apart.
func timeSpan(timeline []TimelineEntry) (string, bool) {
	first, last, n := -1, -1, 0
	for i, t := range timeline {
		if _, ok := events.ParseTimestamp(t.Timestamp); ok {
			if first < 0 {
				first = i
			}
			last = i
			n++
		}
	}
	if n < 2 {
		return "", false
	}
	start, _ := events.ParseTimestamp(timeline[first].Timestamp)
	end, _ := events.ParseTimestamp(timeline[last].Timestamp)
	mins := int(math.Round(end.Sub(start).Minutes()))
	hours, rem := mins/60, mins%60
	switch {
	case mins == 0:
		return "", true
	case mins < 60:
		return plural(mins, "minute"), true
	case rem == 0:
		return plural(hours, "hour"), true
	default:
		return plural(hours, "hour") + " and " + plural(rem, "minute"), true
	}
}

func failedLoginClause(failed []events.LogEvent) string {
	switch len(failed) {
	case 0:
		return ""
	case 1:
		e := failed[0]
		return fmt.Sprintf("including a failed authentication attempt by %s from %s", e.User, describeIP(e.IP))
	}
	ips := distinct(failed, func(e events.LogEvent) string { return e.IP })
	users := distinct(failed, func(e events.LogEvent) string { return e.User })
	source := "IPs"
	if allExternal(ips) {
		source = "external IPs"
	}
	return fmt.Sprintf("including %d failed authentication attempts against %s from %s (%s)",
		len(failed), strings.Join(users, ", "), source, strings.Join(ips, ", "))
}

func rootClause(root []events.LogEvent, afterFailed bool) string {
	if len(root) == 0 {
		return ""
	}
	lead := "including"
	if afterFailed {
		lead = "and"
	}
	if len(root) == 1 {
		e := root[0]
		return fmt.Sprintf("%s administrative root account activity (%s) %s", lead, rootLabel(e.Event), origin(e.IP))
	}
	labels := make([]string, 0, len(root))
	for _, e := range root {
		labels = append(labels, rootLabel(e.Event))
	}
	return fmt.Sprintf("%s %d administrative operations by the root account (%s)", lead, len(root), strings.Join(labels, ", "))
}

func correlationClause(a EventAnalysis) string {
	var severe []string
	for _, p := range a.SuspiciousPatterns {
		if p.Severity == events.SeverityHigh || p.Severity == events.SeverityCritical {
			severe = append(severe, strings.ToLower(p.Description))
		}
	}
	switch {
	case len(severe) > 0:
		return fmt.Sprintf(correlatedText, strings.Join(severe, ", "))
	case len(a.FailedLogins) > 0 && len(a.RootActivity) > 0:
		return notCorrelatedText
	default:
		return noCorrelationText
	}
}

func rootLabel(code string) string {
	if code == events.EventKeyCreated {
		return "KMS encryption key creation"
	}
	return strings.ReplaceAll(code, "_", " ")
}

func origin(ip string) string {
	switch {
	case enrich.IsPrivateIP(ip):
		return "from the internal network"
	case enrich.IsExternalIP(ip):
		return "from an external source"
	}
	return "from an unidentified source"
}

func describeIP(ip string) string {
	if enrich.IsExternalIP(ip) {
		return "external IP " + ip
	}
	return "IP " + ip
}

func allExternal(ips []string) bool {
	for _, ip := range ips {
		if !enrich.IsExternalIP(ip) {
			return false
		}
	}
	return len(ips) > 0
}

func distinct(evs []events.LogEvent, key func(events.LogEvent) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range evs {
		k := key(e)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
