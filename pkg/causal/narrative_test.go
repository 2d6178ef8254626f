package causal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vertex-audit/pkg/events"
)

func TestGenerateNarrative_NoChains(t *testing.T) {
	g := New([]events.LogEvent{
		at(0, "bob", "10.0.0.1", events.EventLoginSuccess),
		at(time.Minute, "bob", "10.0.0.1", events.EventRoleAssumed),
	})
	assert.Equal(t, "No significant security patterns detected in the analyzed logs.", g.GenerateNarrative())
}

func TestGenerateNarrative_Escalation(t *testing.T) {
	g := New([]events.LogEvent{
		at(0, "alice", "203.0.113.5", events.EventLoginFailed),
		at(5*time.Minute, "root", "", events.EventUnknown),
	})

	want := "**Privilege escalation attack detected**: alice failed authentication from 203.0.113.5, " +
		"immediately followed by root account activation from internal network. " +
		"This pattern indicates credential compromise or insider threat. " +
		"The escalation happened within 5 minutes, suggesting automated or pre-planned activity. " +
		"**Risk Level: CRITICAL** - Root access compromised, immediate investigation required."
	assert.Equal(t, want, g.GenerateNarrative())
}

func TestGenerateNarrative_ExternalToInternalWithSubnetInsight(t *testing.T) {
	g := New([]events.LogEvent{
		at(0, "alice", "203.0.113.5", events.EventLoginFailed),
		at(20*time.Second, "Root", "10.0.0.12", events.EventLoginSuccess),
		at(2*time.Hour, "mallory", "203.0.113.77", events.EventIngressAdded),
	})

	out := g.GenerateNarrative()
	assert.Contains(t, out, "root account activation from 10.0.0.12.")
	assert.Contains(t, out, "This pattern indicates external attack followed by internal privilege escalation.")
	assert.Contains(t, out, "The escalation happened immediately,")
	assert.Contains(t, out, "Network access was subsequently granted to 203.0.113.x range.")
	assert.True(t, strings.HasSuffix(out, escalationBanner))
}

func TestGenerateNarrative_SameSourceAndMultipleChains(t *testing.T) {
	g := New([]events.LogEvent{
		at(0, "eve", "198.51.100.9", events.EventLoginFailed),
		at(2*time.Minute, "root", "198.51.100.9", events.EventKeyCreated),
		at(3*time.Hour, "frank", "198.51.100.20", events.EventLoginFailed),
		at(3*time.Hour+4*time.Minute, "", "10.1.1.1", events.EventUnknown),
	})

	out := g.GenerateNarrative()
	assert.Equal(t, 2, strings.Count(out, "**Privilege escalation attack detected**"))
	assert.Contains(t, out, "same source executing coordinated actions")
	assert.Less(t, strings.Index(out, "eve failed"), strings.Index(out, "frank failed"))
}

func TestEscalations_OmitBanner(t *testing.T) {
	g := New([]events.LogEvent{
		at(0, "eve", "198.51.100.9", events.EventLoginFailed),
		at(2*time.Minute, "root", "198.51.100.9", events.EventKeyCreated),
		at(3*time.Hour, "frank", "198.51.100.20", events.EventLoginFailed),
		at(3*time.Hour+4*time.Minute, "", "10.1.1.1", events.EventUnknown),
	})

	paras := g.Escalations()
	require.Len(t, paras, 2)
	for _, p := range paras {
		assert.True(t, strings.HasPrefix(p, "**Privilege escalation attack detected**"))
		assert.NotContains(t, p, "**Risk Level:")
	}
	assert.Equal(t, 2, strings.Count(g.GenerateNarrative(), escalationBanner))

	assert.Empty(t, New(nil).Escalations())
}

func TestTimeGap(t *testing.T) {
	cases := map[time.Duration]string{
		0:                            "immediately",
		29 * time.Second:             "immediately",
		90 * time.Second:             "2 minutes",
		time.Minute:                  "1 minute",
		7 * time.Minute:              "7 minutes",
		59 * time.Minute:             "59 minutes",
		time.Hour:                    "1h 0m",
		2*time.Hour + 15*time.Minute: "2h 15m",
	}
	for d, want := range cases {
		assert.Equal(t, want, TimeGap(d), d.String())
	}
}
