package events

import "time"

// Alert is a custom detection rule match against one normalized event.
type Alert struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	Severity   Severity  `json:"severity"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	EventIndex int       `json:"event_index"`
	Event      LogEvent  `json:"event"`
	Mitre      []string  `json:"mitre,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
