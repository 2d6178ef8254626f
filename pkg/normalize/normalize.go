// Package normalize converts provider-shaped audit records into canonical LogEvents.
package normalize

import (
	"strings"

	"vertex-audit/pkg/events"
)

// Normalize converts records into exactly one LogEvent each, preserving order.
func Normalize(records []events.RawRecord) []events.LogEvent {
	out := make([]events.LogEvent, len(records))
	for i, r := range records {
		out[i] = NormalizeRecord(r)
	}
	return out
}

// NormalizeValue accepts a decoded JSON value. Arrays yield one event per element;
// any other value is treated as a one-element array. Non-object elements produce
// fallback events so indexes still line up with the input.
func NormalizeValue(v interface{}) []events.LogEvent {
	switch t := v.(type) {
	case nil:
		return []events.LogEvent{}
	case []events.RawRecord:
		return Normalize(t)
	case []map[string]interface{}:
		out := make([]events.LogEvent, len(t))
		for i, m := range t {
			out[i] = NormalizeRecord(m)
		}
		return out
	case []interface{}:
		out := make([]events.LogEvent, len(t))
		for i, el := range t {
			m, _ := el.(map[string]interface{})
			out[i] = NormalizeRecord(m)
		}
		return out
	case events.RawRecord:
		return []events.LogEvent{NormalizeRecord(t)}
	case map[string]interface{}:
		return []events.LogEvent{NormalizeRecord(t)}
	default:
		return []events.LogEvent{NormalizeRecord(nil)}
	}
}

// NormalizeRecord converts a single record. It never panics; missing fields fall back to
// "", "unknown" and "0.0.0.0".
func NormalizeRecord(r events.RawRecord) events.LogEvent {
	m := map[string]interface{}(r)
	if m == nil {
		m = map[string]interface{}{}
	}
	base := events.LogEvent{
		Timestamp: str(m, "eventTime", "timestamp"),
		User:      extractUser(m),
		IP:        or(str(m, "sourceIPAddress", "ip"), events.UnknownIP),
	}
	switch {
	case isInsight(m):
		return insightEvent(m, base)
	case isNetworkActivity(m):
		return networkEvent(m, base)
	case isDataAccess(m):
		return dataAccessEvent(m, base)
	}
	return dispatch(m, base)
}

func extractUser(m map[string]interface{}) string {
	if id := object(m, "userIdentity"); id != nil {
		if u := identityUser(id); u != "" {
			return u
		}
	}
	return or(str(m, "user"), events.UnknownUser)
}

func identityUser(id map[string]interface{}) string {
	arn := str(id, "arn")
	if strings.EqualFold(str(id, "type"), "Root") || strings.HasSuffix(arn, ":root") {
		return "Root"
	}
	if u := str(id, "userName"); u != "" {
		return u
	}
	if u := assumedRoleUser(id, arn); u != "" {
		return u
	}
	return str(id, "invokedBy")
}

// assumedRoleUser renders "arn:aws:sts::<acct>:assumed-role/<role>/<session>" as "<session> (<role>)".
func assumedRoleUser(id map[string]interface{}, arn string) string {
	if i := strings.Index(arn, ":assumed-role/"); i >= 0 {
		parts := strings.SplitN(arn[i+len(":assumed-role/"):], "/", 2)
		switch {
		case len(parts) == 2 && parts[1] != "":
			return parts[1] + " (" + parts[0] + ")"
		case parts[0] != "":
			return parts[0]
		}
	}
	if !strings.EqualFold(str(id, "type"), "AssumedRole") {
		return ""
	}
	role := str(id, "sessionContext.sessionIssuer.userName")
	if role == "" {
		return ""
	}
	principal := str(id, "principalId")
	if j := strings.LastIndexByte(principal, ':'); j >= 0 && j < len(principal)-1 {
		return principal[j+1:] + " (" + role + ")"
	}
	return role
}
