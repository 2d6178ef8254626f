// Package causal links time-ordered audit events into a directed graph and extracts attack chains.
package causal

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"vertex-audit/pkg/events"
)

// Relationship is the kind of link inferred between two events.
type Relationship string

const (
	Temporal            Relationship = "temporal"
	Actor               Relationship = "actor"
	Resource            Relationship = "resource"
	PrivilegeEscalation Relationship = "privilege_escalation"
)

// Edge confidences and time windows.
const (
	ActorConfidence      = 0.70
	EscalationConfidence = 0.95
	TemporalConfidence   = 0.60
	ChainConfidence      = 0.8

	linkWindow       = 60 * time.Minute
	escalationWindow = 10 * time.Minute
	temporalWindow   = 30 * time.Minute
)

// Node wraps one event. ID is derived from the event's index in the input.
type Node struct {
	ID        string          `json:"id"`
	Event     events.LogEvent `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
}

// Edge links two nodes by ID.
type Edge struct {
	From         string       `json:"from"`
	To           string       `json:"to"`
	Relationship Relationship `json:"relationship"`
	Confidence   float64      `json:"confidence"`
}

// Graph holds nodes in input order plus the edges inferred over their time order.
// A Graph is immutable after New and safe for concurrent reads.
type Graph struct {
	nodes  []Node
	byTime []int
	edges  []Edge
}

// NodeID returns the stable ID for the event at index i.
func NodeID(i int) string {
	return "node_" + strconv.Itoa(i)
}

// New builds the graph. Unparseable timestamps sort as the Unix epoch.
func New(evs []events.LogEvent) *Graph {
	g := &Graph{
		nodes:  make([]Node, len(evs)),
		byTime: make([]int, len(evs)),
	}
	for i, e := range evs {
		g.nodes[i] = Node{ID: NodeID(i), Event: e, Timestamp: e.Time()}
		g.byTime[i] = i
	}
	sort.SliceStable(g.byTime, func(a, b int) bool {
		return g.nodes[g.byTime[a]].Timestamp.Before(g.nodes[g.byTime[b]].Timestamp)
	})
	for k := 0; k+1 < len(g.byTime); k++ {
		if edge, ok := link(&g.nodes[g.byTime[k]], &g.nodes[g.byTime[k+1]]); ok {
			g.edges = append(g.edges, edge)
		}
	}
	return g
}

// link evaluates the rules for one consecutive pair, first match wins.
func link(a, b *Node) (Edge, bool) {
	gap := b.Timestamp.Sub(a.Timestamp)
	edge := Edge{From: a.ID, To: b.ID}
	switch {
	case gap > linkWindow:
		return Edge{}, false
	case a.Event.User != "" && a.Event.User == b.Event.User:
		edge.Relationship, edge.Confidence = Actor, ActorConfidence
	case a.Event.Event == events.EventLoginFailed && escalationTarget(b.Event.User) && gap < escalationWindow:
		edge.Relationship, edge.Confidence = PrivilegeEscalation, EscalationConfidence
	case gap < temporalWindow:
		edge.Relationship, edge.Confidence = Temporal, TemporalConfidence
	default:
		return Edge{}, false
	}
	return edge, true
}

func escalationTarget(user string) bool {
	return user == "" || strings.EqualFold(user, "root")
}

// Edges returns the inferred edges in ascending time of their From node.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// AttackChains returns the privilege-escalation and high-confidence edges.
func (g *Graph) AttackChains() []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Relationship == PrivilegeEscalation || e.Confidence > ChainConfidence {
			out = append(out, e)
		}
	}
	return out
}

// Nodes returns the nodes in input order.
func (g *Graph) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

// Node looks up a node by ID.
func (g *Graph) Node(id string) (Node, bool) {
	i, err := strconv.Atoi(strings.TrimPrefix(id, "node_"))
	if err != nil || !strings.HasPrefix(id, "node_") || i < 0 || i >= len(g.nodes) {
		return Node{}, false
	}
	return g.nodes[i], true
}
