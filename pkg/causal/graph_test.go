package causal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vertex-audit/pkg/events"
)

var base = time.Date(2025, 4, 14, 8, 0, 0, 0, time.UTC)

func at(offset time.Duration, user, ip, event string) events.LogEvent {
	return events.LogEvent{Timestamp: base.Add(offset).Format(time.RFC3339), User: user, IP: ip, Event: event}
}

func TestGraph_PrivilegeEscalation(t *testing.T) {
	g := New([]events.LogEvent{
		at(0, "alice", "203.0.113.5", events.EventLoginFailed),
		at(5*time.Minute, "root", "", events.EventUnknown),
	})

	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, Edge{From: "node_0", To: "node_1", Relationship: PrivilegeEscalation, Confidence: 0.95}, edges[0])
	assert.Equal(t, edges, g.AttackChains())
}

func TestGraph_ActorContinuity(t *testing.T) {
	g := New([]events.LogEvent{
		at(0, "bob", "10.0.0.1", events.EventLoginFailed),
		at(45*time.Minute, "bob", "10.0.0.1", events.EventRoleAssumed),
	})

	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, Actor, edges[0].Relationship)
	assert.Equal(t, 0.70, edges[0].Confidence)
	assert.Empty(t, g.AttackChains())
}

func TestGraph_ActorTakesPrecedenceOverEscalation(t *testing.T) {
	g := New([]events.LogEvent{
		at(0, "root", "10.0.0.1", events.EventLoginFailed),
		at(time.Minute, "root", "10.0.0.1", events.EventKeyCreated),
	})
	require.Len(t, g.Edges(), 1)
	assert.Equal(t, Actor, g.Edges()[0].Relationship)
}

func TestGraph_TemporalAndGaps(t *testing.T) {
	g := New([]events.LogEvent{
		at(0, "alice", "10.0.0.1", events.EventLoginSuccess),
		at(20*time.Minute, "carol", "10.0.0.2", events.EventBucketCreated), // temporal
		at(55*time.Minute, "dave", "10.0.0.3", events.EventFileUploaded),   // 35 min, no edge
		at(3*time.Hour, "dave", "10.0.0.3", events.EventFileUploaded),      // same actor but > 60 min
	})

	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, Edge{From: "node_0", To: "node_1", Relationship: Temporal, Confidence: 0.60}, edges[0])
}

func TestGraph_SortsByTimeKeepsNodeOrder(t *testing.T) {
	evs := []events.LogEvent{
		at(5*time.Minute, "Root", "10.0.0.12", events.EventLoginSuccess),
		{Timestamp: "not a time", User: "x", Event: "api_call"},
		at(0, "alice", "203.0.113.5", events.EventLoginFailed),
	}
	g := New(evs)

	nodes := g.Nodes()
	require.Len(t, nodes, 3)
	for i, n := range nodes {
		assert.Equal(t, NodeID(i), n.ID)
		assert.Equal(t, evs[i], n.Event)
	}
	assert.True(t, nodes[1].Timestamp.Equal(time.Unix(0, 0)))

	chains := g.AttackChains()
	require.Len(t, chains, 1)
	assert.Equal(t, "node_2", chains[0].From)
	assert.Equal(t, "node_0", chains[0].To)
}

func TestGraph_NodeLookup(t *testing.T) {
	g := New([]events.LogEvent{at(0, "a", "", "x")})
	n, ok := g.Node("node_0")
	assert.True(t, ok)
	assert.Equal(t, "a", n.Event.User)

	for _, id := range []string{"node_1", "node_-1", "0", "node_x", ""} {
		_, ok := g.Node(id)
		assert.False(t, ok, id)
	}
}

func TestGraph_Empty(t *testing.T) {
	g := New(nil)
	assert.Empty(t, g.Edges())
	assert.Empty(t, g.AttackChains())
	assert.Empty(t, g.Nodes())
	assert.Equal(t, NoPatterns, g.GenerateNarrative())
}
