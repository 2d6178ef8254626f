// Package detection provides custom rule evaluation for normalized audit events.
package detection

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vertex-audit/pkg/events"
)

// Rule is a compiled detection rule.
type Rule struct {
	ID       string
	Name     string
	Severity events.Severity
	Cond     Condition
	Mitre    []string
}

// Condition is a tree of conditions (and/or/not with field comparisons).
type Condition struct {
	Op       string      `json:"op"` // "and", "or", "not", or a field op
	Field    string      `json:"field,omitempty"`
	Value    string      `json:"value,omitempty"`
	Children []Condition `json:"children,omitempty"`

	re     *regexp.Regexp
	prefix netip.Prefix
}

// Compile prepares regex and cidr operands. It must run before Eval is used concurrently.
func (c *Condition) Compile() error {
	switch c.Op {
	case "and", "or", "not":
		for i := range c.Children {
			if err := c.Children[i].Compile(); err != nil {
				return err
			}
		}
	case "re", "regex":
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return fmt.Errorf("field %s: %w", c.Field, err)
		}
		c.re = re
	case "cidr":
		p, err := netip.ParsePrefix(c.Value)
		if err != nil {
			return fmt.Errorf("field %s: %w", c.Field, err)
		}
		c.prefix = p
	}
	return nil
}

// Eval evaluates the condition against an event field map.
func (c *Condition) Eval(ev map[string]string) bool {
	switch c.Op {
	case "and":
		for i := range c.Children {
			if !c.Children[i].Eval(ev) {
				return false
			}
		}
		return true
	case "or":
		for i := range c.Children {
			if c.Children[i].Eval(ev) {
				return true
			}
		}
		return false
	case "not":
		return len(c.Children) == 1 && !c.Children[0].Eval(ev)
	default:
		return c.evalField(ev)
	}
}

func (c *Condition) evalField(ev map[string]string) bool {
	s, ok := ev[c.Field]
	if !ok {
		return false
	}
	switch c.Op {
	case "contains":
		return strings.Contains(strings.ToLower(s), strings.ToLower(c.Value))
	case "endswith":
		return strings.HasSuffix(s, c.Value)
	case "startswith":
		return strings.HasPrefix(s, c.Value)
	case "eq", "equals":
		return s == c.Value
	case "re", "regex":
		return c.re != nil && c.re.MatchString(s)
	case "cidr":
		addr, err := netip.ParseAddr(s)
		return err == nil && c.prefix.IsValid() && c.prefix.Contains(addr.Unmap())
	default:
		return false
	}
}

// Fields flattens an event into the map rules are evaluated against.
func Fields(e events.LogEvent) map[string]string {
	return map[string]string{
		"timestamp": e.Timestamp,
		"user":      e.User,
		"ip":        e.IP,
		"event":     e.Event,
		"detail":    e.Detail,
		"severity":  string(e.Severity),
		"category":  string(e.Category),
	}
}

// Engine evaluates rules against events. It is safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
	now   func() time.Time
}

// NewEngine creates a detection engine.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// AddRule compiles and adds a rule.
func (e *Engine) AddRule(r Rule) error {
	if err := r.Cond.Compile(); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	e.mu.Lock()
	e.rules = append(e.rules, r)
	e.mu.Unlock()
	return nil
}

// SetRules compiles and replaces all rules. On error the current set is kept.
func (e *Engine) SetRules(rules []Rule) error {
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		if err := r.Cond.Compile(); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		compiled[i] = r
	}
	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// Rules returns a copy of the loaded rules.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Eval evaluates all rules against one event. Returns matching rules.
func (e *Engine) Eval(ev events.LogEvent) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var matched []Rule
	fields := Fields(ev)
	for i := range e.rules {
		if e.rules[i].Cond.Eval(fields) {
			matched = append(matched, e.rules[i])
		}
	}
	return matched
}

// Alerts evaluates every event and returns one alert per rule match, in event order.
func (e *Engine) Alerts(evs []events.LogEvent) []events.Alert {
	out := make([]events.Alert, 0)
	for i, ev := range evs {
		for _, r := range e.Eval(ev) {
			out = append(out, events.Alert{
				ID:         uuid.NewString(),
				RuleID:     r.ID,
				RuleName:   r.Name,
				Severity:   r.Severity,
				Title:      r.Name,
				Message:    fmt.Sprintf("%s: %s by %s from %s", r.Name, ev.Event, ev.User, ev.IP),
				EventIndex: i,
				Event:      ev,
				Mitre:      r.Mitre,
				CreatedAt:  e.now().UTC(),
			})
		}
	}
	return out
}
