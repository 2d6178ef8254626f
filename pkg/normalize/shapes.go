package normalize

import (
	"fmt"
	"strings"

	"vertex-audit/pkg/events"
)

const (
	insightUser = "CloudTrail Insights"
	insightIP   = "AWS Internal"
)

func isInsight(m map[string]interface{}) bool {
	return str(m, "eventType") == "AwsCloudTrailInsight" || object(m, "insightDetails") != nil
}

func isNetworkActivity(m map[string]interface{}) bool {
	return str(m, "eventCategory") == "NetworkActivity"
}

func isDataAccess(m map[string]interface{}) bool {
	return str(m, "eventCategory") == "Data"
}

func insightEvent(m map[string]interface{}, ev events.LogEvent) events.LogEvent {
	ev.User = insightUser
	ev.IP = insightIP
	ev.Event = events.EventInsightDetected

	kind := or(str(m, "insightDetails.insightType"), "unusual")
	api := or(str(m, "insightDetails.eventName", "eventName"), "an API")
	state := str(m, "insightDetails.state")
	baseline := str(m, "insightDetails.insightContext.statistics.baseline.average")
	observed := str(m, "insightDetails.insightContext.statistics.insight.average")

	detail := fmt.Sprintf("CloudTrail Insights detected %s activity for %s", kind, api)
	if state != "" {
		detail += " (" + strings.ToLower(state) + ")"
	}
	if baseline != "" && observed != "" {
		detail += fmt.Sprintf(": baseline %s, observed %s", baseline, observed)
	}
	ev.Detail = detail
	return classify(ev, events.SeverityMedium, events.CategoryAdministrative)
}

func networkEvent(m map[string]interface{}, ev events.LogEvent) events.LogEvent {
	if actor := str(m, "userIdentity.type"); actor != "" {
		ev.User = actor
	}
	endpoint := str(m, "vpcEndpointId")
	if ev.IP == events.UnknownIP && endpoint != "" {
		ev.IP = endpoint
	}
	ev.Event = events.EventNetworkActivity

	detail := fmt.Sprintf("%s call to %s through VPC endpoint %s",
		or(str(m, "eventName"), "API"), or(str(m, "eventSource"), "an AWS service"), or(endpoint, "(unknown endpoint)"))
	sev := events.SeverityLow
	if code := str(m, "errorCode"); code != "" {
		detail += " was rejected: " + code
		sev = events.SeverityMedium
	}
	ev.Detail = detail
	return classify(ev, sev, events.CategoryInfrastructure)
}

func dataAccessEvent(m map[string]interface{}, ev events.LogEvent) events.LogEvent {
	ev.Event = events.EventDataAccess

	resType := strings.TrimPrefix(str(m, "resources.0.type"), "AWS::")
	detail := fmt.Sprintf("%s on %s", or(str(m, "eventName"), "Data access"), or(resType, "an unknown resource"))
	if arn := str(m, "resources.0.ARN", "resources.0.arn"); arn != "" {
		detail += " " + arn
	}
	sev := events.SeverityLow
	if code := str(m, "errorCode"); code != "" {
		detail += " was rejected: " + code
		sev = events.SeverityMedium
	}
	ev.Detail = detail
	return classify(ev, sev, events.CategoryDataAccess)
}
