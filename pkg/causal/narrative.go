package causal

import (
	"fmt"
	"math"
	"strings"
	"time"

	"vertex-audit/pkg/enrich"
	"vertex-audit/pkg/events"
)

// NoPatterns is the narrative for a graph without attack chains.
const NoPatterns = "No significant security patterns detected in the analyzed logs."

const escalationBanner = "**Risk Level: CRITICAL** - Root access compromised, immediate investigation required."

// GenerateNarrative describes every privilege-escalation chain, in edge order.
func (g *Graph) GenerateNarrative() string {
	parts := g.Escalations()
	if len(parts) == 0 {
		return NoPatterns
	}
	for i := range parts {
		parts[i] += " " + escalationBanner
	}
	return strings.Join(parts, " ")
}

// Escalations returns one paragraph per privilege-escalation chain, without risk banners.
func (g *Graph) Escalations() []string {
	var parts []string
	for _, c := range g.AttackChains() {
		if c.Relationship != PrivilegeEscalation {
			continue
		}
		from, ok1 := g.Node(c.From)
		to, ok2 := g.Node(c.To)
		if !ok1 || !ok2 {
			continue
		}
		parts = append(parts, g.escalationParagraph(from, to))
	}
	return parts
}

func (g *Graph) escalationParagraph(from, to Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Privilege escalation attack detected**: %s failed authentication from %s, immediately followed by root account activation from %s.",
		orDefault(from.Event.User, "External user"), orDefault(from.Event.IP, "an unknown address"), targetAddr(to.Event.IP))

	context := ipContext(from.Event.IP, to.Event.IP)
	if context == "" {
		context = "credential compromise or insider threat"
	}
	fmt.Fprintf(&b, " This pattern indicates %s.", strings.ToLower(context))

	gap := TimeGap(to.Timestamp.Sub(from.Timestamp))
	if gap == "immediately" {
		b.WriteString(" The escalation happened immediately, suggesting automated or pre-planned activity.")
	} else {
		fmt.Fprintf(&b, " The escalation happened within %s, suggesting automated or pre-planned activity.", gap)
	}

	if insight := g.subnetInsight(from); insight != "" {
		b.WriteString(" " + insight + ".")
	}
	return b.String()
}

// TimeGap renders a duration as a short phrase rounded to the minute.
func TimeGap(d time.Duration) string {
	mins := int(math.Round(d.Minutes()))
	switch {
	case mins < 1:
		return "immediately"
	case mins == 1:
		return "1 minute"
	case mins < 60:
		return fmt.Sprintf("%d minutes", mins)
	default:
		return fmt.Sprintf("%dh %dm", mins/60, mins%60)
	}
}

func ipContext(fromIP, toIP string) string {
	switch {
	case enrich.IsExternalIP(fromIP) && enrich.IsPrivateIP(toIP):
		return "External attack followed by internal privilege escalation"
	case fromIP != "" && fromIP == toIP:
		return "Same source executing coordinated actions"
	}
	return ""
}

// subnetInsight reports other events from the attacker's /24.
func (g *Graph) subnetInsight(from Node) string {
	prefix, ok := enrich.Subnet24(from.Event.IP)
	if !ok {
		return ""
	}
	for _, n := range g.nodes {
		if n.ID != from.ID && enrich.SameSubnet24(n.Event.IP, from.Event.IP) {
			return fmt.Sprintf("Network access was subsequently granted to %s.x range", prefix)
		}
	}
	return ""
}

func targetAddr(ip string) string {
	if ip == "" || ip == events.UnknownIP {
		return "internal network"
	}
	return ip
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
