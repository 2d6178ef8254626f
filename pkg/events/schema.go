// Package events provides the canonical audit event schema shared by the analysis pipeline.
package events

import (
	"strings"
	"time"
)

// RawRecord is one provider-shaped audit record (CloudTrail and similar). No field is guaranteed.
type RawRecord map[string]interface{}

// Fallback values used when a record carries no usable field.
const (
	UnknownUser = "unknown"
	UnknownIP   = "0.0.0.0"
)

// Severity is the first-pass severity assigned by the normalizer.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category groups canonical events by security domain.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryDataAccess     Category = "data_access"
	CategoryInfrastructure Category = "infrastructure"
	CategoryAdministrative Category = "administrative"
)

// Canonical event codes produced by the normalizer.
const (
	EventLoginSuccess        = "login_success"
	EventLoginFailed         = "login_failed"
	EventMFAAdded            = "mfa_added"
	EventMFARemoved          = "mfa_removed"
	EventRoleAssumed         = "role_assumed"
	EventInstanceCreated     = "instance_created"
	EventBucketCreated       = "bucket_created"
	EventLogArchived         = "log_archived"
	EventFileUploaded        = "file_uploaded"
	EventKeyCreated          = "encryption_key_created"
	EventPolicyViewed        = "policy_viewed"
	EventPolicyChanged       = "policy_changed"
	EventPermissionChanged   = "permission_changed"
	EventPasswordChanged     = "password_changed"
	EventIngressAdded        = "security_group_ingress_added"
	EventComplianceRuleAdded = "compliance_rule_created"
	EventNotebookCreated     = "notebook_created"
	EventInsightDetected     = "insight_detected"
	EventNetworkActivity     = "network_activity"
	EventDataAccess          = "data_access"
	EventUnknown             = "unknown_event"
)

// LogEvent is the normalized form of one audit record. Field names are part of the JSON contract.
type LogEvent struct {
	Timestamp string   `json:"timestamp"`
	User      string   `json:"user"`
	IP        string   `json:"ip"`
	Event     string   `json:"event"`
	Detail    string   `json:"detail"`
	Severity  Severity `json:"severity"`
	Category  Category `json:"category"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the audit timestamp formats seen in practice.
// ok is false when s is empty or matches none of them.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Time returns the parsed event time. Unparseable timestamps degenerate to the Unix epoch
// so they sort before every real event.
func (e LogEvent) Time() time.Time {
	if t, ok := ParseTimestamp(e.Timestamp); ok {
		return t
	}
	return time.Unix(0, 0).UTC()
}

// IsRoot reports whether the actor is the account root user.
func (e LogEvent) IsRoot() bool {
	return strings.EqualFold(e.User, "root")
}

// IsFailedLogin reports whether the event is a failed authentication.
func (e LogEvent) IsFailedLogin() bool {
	return e.Event == EventLoginFailed
}
